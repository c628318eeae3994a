package bundle

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/Ning0612/reprefix/internal/domain"
)

type zipReader struct {
	zr     *zip.Reader
	closer io.Closer
	idx    int
	cur    io.ReadCloser
}

func newZipReader(ra io.ReaderAt, size int64, closer io.Closer) (*zipReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: zip: %v", domain.ErrUnsupportedFormat, err)
	}
	return &zipReader{zr: zr, closer: closer}, nil
}

func (r *zipReader) Next() (*domain.Entry, error) {
	r.closeCurrent()

	for r.idx < len(r.zr.File) {
		f := r.zr.File[r.idx]
		r.idx++

		name, err := CleanName(f.Name)
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}

		mode := f.Mode()
		entry := &domain.Entry{
			Path: name,
			Mode: mode.Perm(),
			Size: int64(f.UncompressedSize64),
		}

		if strings.HasSuffix(f.Name, "/") || mode.IsDir() {
			entry.IsDir = true
			entry.Size = 0
			if entry.Mode == 0 {
				entry.Mode = 0755
			}
			return entry, nil
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}

		// zip 內的 symlink：內容即為 target
		if mode&os.ModeSymlink != 0 {
			target, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read link %s: %w", f.Name, err)
			}
			entry.LinkTarget = string(target)
			entry.Size = 0
			return entry, nil
		}

		if entry.Mode == 0 {
			entry.Mode = 0644
		}
		r.cur = rc
		entry.Body = rc
		return entry, nil
	}

	return nil, io.EOF
}

func (r *zipReader) closeCurrent() {
	if r.cur != nil {
		r.cur.Close()
		r.cur = nil
	}
}

func (r *zipReader) Close() error {
	r.closeCurrent()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
