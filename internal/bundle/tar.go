package bundle

import (
	"archive/tar"
	"fmt"
	"io"

	"github.com/Ning0612/reprefix/internal/compress"
	"github.com/Ning0612/reprefix/internal/domain"
)

type tarReader struct {
	tr     *tar.Reader
	dec    io.ReadCloser
	closer io.Closer
	kind   compress.Kind
}

func newTarReader(r io.Reader, closer io.Closer) (*tarReader, error) {
	dec, kind, err := compress.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
	}
	return &tarReader{tr: tar.NewReader(dec), dec: dec, closer: closer, kind: kind}, nil
}

// Compression reports the stream compression of the tar bundle
func (r *tarReader) Compression() compress.Kind {
	return r.kind
}

func (r *tarReader) Next() (*domain.Entry, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tar: %v", domain.ErrUnsupportedFormat, err)
		}

		name, err := CleanName(hdr.Name)
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}

		entry := &domain.Entry{
			Path: name,
			Mode: hdr.FileInfo().Mode().Perm(),
			Size: hdr.Size,
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			entry.IsDir = true
			entry.Size = 0
			return entry, nil
		case tar.TypeReg:
			entry.Body = r.tr
			return entry, nil
		case tar.TypeSymlink:
			entry.LinkTarget = hdr.Linkname
			entry.Size = 0
			return entry, nil
		case tar.TypeLink:
			return nil, fmt.Errorf("%w: hard link %s", domain.ErrUnsupportedFormat, hdr.Name)
		default:
			// device / fifo / pax 擴充等，略過
			continue
		}
	}
}

func (r *tarReader) Close() error {
	err := r.dec.Close()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
