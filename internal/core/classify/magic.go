package classify

import "bytes"

// HeadSize is the number of leading content bytes the classifier inspects
const HeadSize = 512

// nativeSignatures are leading byte sequences of compiled code. Any match
// makes an entry untouchable regardless of its name.
var nativeSignatures = []struct {
	name  string
	magic []byte
}{
	{"elf", []byte{0x7f, 'E', 'L', 'F'}},
	{"mach-o 32", []byte{0xfe, 0xed, 0xfa, 0xce}},
	{"mach-o 32 le", []byte{0xce, 0xfa, 0xed, 0xfe}},
	{"mach-o 64", []byte{0xfe, 0xed, 0xfa, 0xcf}},
	{"mach-o 64 le", []byte{0xcf, 0xfa, 0xed, 0xfe}},
	// also java class files; both are compiled, both stay untouched
	{"mach-o fat", []byte{0xca, 0xfe, 0xba, 0xbe}},
	{"pe", []byte{'M', 'Z'}},
	{"static archive", []byte("!<arch>\n")},
	{"wasm", []byte{0x00, 'a', 's', 'm'}},
	{"dex", []byte("dex\n")},
}

// NativeSignature returns the name of the native format head starts with
func NativeSignature(head []byte) (string, bool) {
	for _, sig := range nativeSignatures {
		if bytes.HasPrefix(head, sig.magic) {
			return sig.name, true
		}
	}
	return "", false
}

// IsBinary reports whether head looks like binary data: a NUL byte in the
// sniffed window, the same heuristic grep -I uses.
func IsBinary(head []byte) bool {
	return bytes.IndexByte(head, 0) >= 0
}

// HasShebang reports whether head starts an interpreted script
func HasShebang(head []byte) bool {
	return bytes.HasPrefix(head, []byte("#!"))
}
