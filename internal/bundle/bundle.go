// Package bundle reads bootstrap bundles as a stream of entries.
//
// A bundle is either a zip archive or a tar stream, the latter optionally
// compressed with gzip, xz, zstd or lz4. Entry paths are cleaned and
// confined: absolute paths and paths climbing out of the bundle root are
// rejected.
package bundle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/Ning0612/reprefix/internal/domain"
)

// Reader streams bundle entries
type Reader interface {
	// Next returns the next entry, or io.EOF at the end of the bundle.
	// The previous entry's Body becomes invalid.
	Next() (*domain.Entry, error)

	// Close releases the underlying archive
	Close() error
}

// Format is the container format of a bundle
type Format string

const (
	FormatZip Format = "zip"
	FormatTar Format = "tar"
)

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
)

// DetectFormat sniffs the container from leading bytes
func DetectFormat(head []byte) Format {
	if bytes.HasPrefix(head, zipMagic) || bytes.HasPrefix(head, zipEmptyMagic) {
		return FormatZip
	}
	return FormatTar
}

// Open opens the bundle file at p
func Open(p string) (Reader, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}

	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	if DetectFormat(head[:n]) == FormatZip {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		r, err := newZipReader(f, info.Size(), f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return r, nil
	}

	r, err := newTarReader(bufio.NewReader(f), f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// OpenBytes opens an in-memory bundle
func OpenBytes(data []byte) (Reader, error) {
	if DetectFormat(data) == FormatZip {
		return newZipReader(bytes.NewReader(data), int64(len(data)), nil)
	}
	return newTarReader(bytes.NewReader(data), nil)
}

// CleanName normalizes an archive member name into a bundle-relative
// slash path. It returns "" for the bundle root itself.
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", domain.ErrPathEscape, name)
	}

	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", domain.ErrPathEscape, name)
	}
	return cleaned, nil
}

// ReadAll drains a reader into memory. Bodies are copied, so the result
// outlives the reader. Intended for tests and small manifests.
func ReadAll(r Reader) ([]domain.Entry, [][]byte, error) {
	var (
		entries []domain.Entry
		bodies  [][]byte
	)
	for {
		e, err := r.Next()
		if err == io.EOF {
			return entries, bodies, nil
		}
		if err != nil {
			return nil, nil, err
		}

		var body []byte
		if e.Body != nil {
			body, err = io.ReadAll(e.Body)
			if err != nil {
				return nil, nil, err
			}
		}
		cp := *e
		cp.Body = nil
		entries = append(entries, cp)
		bodies = append(bodies, body)
	}
}
