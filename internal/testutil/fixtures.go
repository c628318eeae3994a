package testutil

import (
	"archive/tar"
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zip"

	"github.com/Ning0612/reprefix/internal/compress"
)

// File describes one member of a fixture archive
type File struct {
	Name string
	Body []byte
	Mode os.FileMode
	// Link makes the member a symlink to Link
	Link string
	Dir  bool
}

// Fixture identities used across package tests
const (
	OldRoot = "/data/data/com.termux"
	NewRoot = "/data/data/com.termux.kotlin"
)

var fixtureTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeELF returns an ELF-looking blob that embeds the old identity in
// its string table, like a real binary with a baked-in prefix.
func FakeELF(extra string) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 56))
	buf.WriteString(OldRoot + "/files/usr/lib\x00")
	buf.WriteString(extra)
	buf.WriteByte(0)
	return buf.Bytes()
}

func (f File) mode(def os.FileMode) os.FileMode {
	if f.Mode != 0 {
		return f.Mode
	}
	return def
}

// ZipBundle builds an in-memory zip bundle
func ZipBundle(t *testing.T, files []File) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: fixtureTime}
		switch {
		case f.Dir:
			if !strings.HasSuffix(hdr.Name, "/") {
				hdr.Name += "/"
			}
			hdr.SetMode(os.ModeDir | f.mode(0755))
		case f.Link != "":
			hdr.SetMode(os.ModeSymlink | 0777)
		default:
			hdr.SetMode(f.mode(0644))
		}

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip header %s: %v", f.Name, err)
		}
		body := f.Body
		if f.Link != "" {
			body = []byte(f.Link)
		}
		if !f.Dir {
			if _, err := w.Write(body); err != nil {
				t.Fatalf("zip write %s: %v", f.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// TarBundle builds an in-memory tar stream compressed with kind
func TarBundle(t *testing.T, files []File, kind compress.Kind) []byte {
	t.Helper()

	var buf bytes.Buffer
	cw, err := compress.NewWriter(&buf, kind)
	if err != nil {
		t.Fatalf("compress writer: %v", err)
	}
	tw := tar.NewWriter(cw)
	for _, f := range files {
		hdr := &tar.Header{Name: f.Name, ModTime: fixtureTime, Format: tar.FormatPAX}
		switch {
		case f.Dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = int64(f.mode(0755))
		case f.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = f.Link
			hdr.Mode = 0777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = int64(f.mode(0644))
			hdr.Size = int64(len(f.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", f.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write(f.Body); err != nil {
				t.Fatalf("tar write %s: %v", f.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("compress close: %v", err)
	}
	return buf.Bytes()
}

// DebPackage builds a binary package: debian-binary, control.tar.<kind>
// and data.tar.<kind> inside an ar container.
func DebPackage(t *testing.T, control, data []File, kind compress.Kind) []byte {
	t.Helper()

	members := []struct {
		name string
		body []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar" + kind.Ext(), TarBundle(t, control, kind)},
		{"data.tar" + kind.Ext(), TarBundle(t, data, kind)},
	}

	var buf bytes.Buffer
	aw := ar.NewWriter(&buf)
	if err := aw.WriteGlobalHeader(); err != nil {
		t.Fatalf("ar global header: %v", err)
	}
	for _, m := range members {
		hdr := &ar.Header{Name: m.name, ModTime: fixtureTime, Mode: 0644, Size: int64(len(m.body))}
		if err := aw.WriteHeader(hdr); err != nil {
			t.Fatalf("ar header %s: %v", m.name, err)
		}
		if _, err := aw.Write(m.body); err != nil {
			t.Fatalf("ar write %s: %v", m.name, err)
		}
	}
	return buf.Bytes()
}

// WriteDeb writes DebPackage output to dir/name
func WriteDeb(t *testing.T, dir, name string, control, data []File, kind compress.Kind) string {
	t.Helper()
	return CreateTestFile(t, dir, name, DebPackage(t, control, data, kind))
}
