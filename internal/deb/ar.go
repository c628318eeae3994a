// Package deb reads and writes Debian binary packages and rewrites their
// install paths from one identity to another.
package deb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/blakesmith/ar"

	"github.com/Ning0612/reprefix/internal/domain"
)

// Member names of a binary package
const (
	DebianBinary  = "debian-binary"
	ControlPrefix = "control.tar"
	DataPrefix    = "data.tar"
)

// Member is one ar member held in memory
type Member struct {
	Name    string
	ModTime time.Time
	Mode    int64
	Data    []byte
}

// Package is a binary package read fully into memory
type Package struct {
	Members []Member
}

// Member returns the first member whose name starts with prefix
func (p *Package) Member(prefix string) (*Member, bool) {
	for i := range p.Members {
		if strings.HasPrefix(p.Members[i].Name, prefix) {
			return &p.Members[i], true
		}
	}
	return nil, false
}

// Walk streams the members of the package at path to fn. The reader
// passed to fn is only valid during the call.
func Walk(path string, fn func(name string, hdr *ar.Header, r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return walk(f, fn)
}

func walk(r io.Reader, fn func(name string, hdr *ar.Header, r io.Reader) error) error {
	magic := make([]byte, 8)
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != "!<arch>\n" {
		return fmt.Errorf("%w: not an ar archive", domain.ErrUnsupportedFormat)
	}

	// ar.NewReader 會自行略過 global header，這裡補回已讀的 magic
	rd := ar.NewReader(io.MultiReader(bytes.NewReader(magic), r))
	seen := 0
	for {
		hdr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: ar: %v", domain.ErrUnsupportedFormat, err)
		}
		seen++

		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		if err := fn(name, hdr, io.LimitReader(rd, hdr.Size)); err != nil {
			return err
		}
	}
	if seen == 0 {
		return fmt.Errorf("%w: empty ar archive", domain.ErrUnsupportedFormat)
	}
	return nil
}

// ReadPackage reads every member of the package at path into memory
func ReadPackage(path string) (*Package, error) {
	pkg := &Package{}
	err := Walk(path, func(name string, hdr *ar.Header, r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		pkg.Members = append(pkg.Members, Member{Name: name, ModTime: hdr.ModTime, Mode: hdr.Mode, Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, ok := pkg.Member(DebianBinary); !ok {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrUnsupportedFormat, DebianBinary)
	}
	return pkg, nil
}

// Source is one member to write
type Source struct {
	Name    string
	ModTime time.Time
	Mode    int64
	Size    int64
	Body    io.Reader
}

// WritePackage writes members as an ar archive
func WritePackage(w io.Writer, members []Source) error {
	aw := ar.NewWriter(w)
	if err := aw.WriteGlobalHeader(); err != nil {
		return err
	}

	buf := make([]byte, 64<<10)
	for _, m := range members {
		mode := m.Mode
		if mode == 0 {
			mode = 0644
		}
		hdr := &ar.Header{Name: m.Name, ModTime: m.ModTime, Mode: mode, Size: m.Size}
		if err := aw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("ar header %s: %w", m.Name, err)
		}
		if err := copyMember(aw, m.Body, m.Size, buf); err != nil {
			return fmt.Errorf("ar member %s: %w", m.Name, err)
		}
	}
	return nil
}

// copyMember writes exactly size bytes in even-sized chunks; the ar
// writer pads after any odd-sized write, so only the last chunk may be odd.
func copyMember(w io.Writer, r io.Reader, size int64, buf []byte) error {
	remaining := size
	for remaining > 0 {
		chunk := buf
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := io.ReadFull(r, chunk)
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk[:n]); err != nil {
			return err
		}
		remaining -= int64(n)
	}
	return nil
}

// Bytes sources an in-memory member
func Bytes(name string, data []byte) Source {
	return Source{Name: name, ModTime: time.Unix(0, 0), Size: int64(len(data)), Body: bytes.NewReader(data)}
}
