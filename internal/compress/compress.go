// Package compress detects and opens the stream compressions used by
// bundles and dpkg archive members.
package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/Ning0612/reprefix/internal/domain"
)

// Kind identifies a stream compression
type Kind int

const (
	None Kind = iota
	Gzip
	Xz
	Zstd
	Lz4
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// String returns the name used in config and logs
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Xz:
		return "xz"
	case Zstd:
		return "zstd"
	case Lz4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Ext returns the file suffix for k, "" for None
func (k Kind) Ext() string {
	switch k {
	case Gzip:
		return ".gz"
	case Xz:
		return ".xz"
	case Zstd:
		return ".zst"
	case Lz4:
		return ".lz4"
	default:
		return ""
	}
}

// Parse parses a compression name
func Parse(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "xz":
		return Xz, nil
	case "zstd", "zst":
		return Zstd, nil
	case "lz4":
		return Lz4, nil
	default:
		return None, fmt.Errorf("%w: unknown compression %q", domain.ErrUnsupportedFormat, name)
	}
}

// FromName guesses the compression from a file or member name
func FromName(name string) Kind {
	switch {
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".tgz"):
		return Gzip
	case strings.HasSuffix(name, ".xz"):
		return Xz
	case strings.HasSuffix(name, ".zst"):
		return Zstd
	case strings.HasSuffix(name, ".lz4"):
		return Lz4
	default:
		return None
	}
}

// Detect identifies the compression from leading bytes
func Detect(head []byte) Kind {
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip
	case bytes.HasPrefix(head, xzMagic):
		return Xz
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd
	case bytes.HasPrefix(head, lz4Magic):
		return Lz4
	default:
		return None
	}
}

// NewReader sniffs r and returns a decompressing reader. Uncompressed
// input is passed through.
func NewReader(r io.Reader) (io.ReadCloser, Kind, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(6)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, None, err
	}

	kind := Detect(head)
	rc, err := NewKindReader(br, kind)
	return rc, kind, err
}

// NewKindReader decompresses r as kind
func NewKindReader(r io.Reader, kind Kind) (io.ReadCloser, error) {
	switch kind {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case Xz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return io.NopCloser(xr), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	case Lz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: compression %s", domain.ErrUnsupportedFormat, kind)
	}
}

// NewWriter compresses into w as kind. Close flushes the stream but does
// not close w.
func NewWriter(w io.Writer, kind Kind) (io.WriteCloser, error) {
	switch kind {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Xz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return xw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zw, nil
	case Lz4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: compression %s", domain.ErrUnsupportedFormat, kind)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
