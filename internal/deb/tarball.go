package deb

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/Ning0612/reprefix/internal/bundle"
	"github.com/Ning0612/reprefix/internal/compress"
	"github.com/Ning0612/reprefix/internal/domain"
)

// extractTar unpacks a (compressed) tar member below dir, keeping modes.
// Every path is confined to dir.
func extractTar(r io.Reader, kind compress.Kind, dir string) error {
	dec, err := compress.NewKindReader(r, kind)
	if err != nil {
		return err
	}
	defer dec.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		name, err := bundle.CleanName(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		target, err := securejoin.SecureJoin(dir, filepath.FromSlash(name))
		if err != nil {
			return fmt.Errorf("%w: %s", domain.ErrPathEscape, hdr.Name)
		}
		mode := os.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			if err := os.Chmod(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeRegular(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			linkName, err := bundle.CleanName(hdr.Linkname)
			if err != nil {
				return err
			}
			src, err := securejoin.SecureJoin(dir, filepath.FromSlash(linkName))
			if err != nil {
				return fmt.Errorf("%w: %s", domain.ErrPathEscape, hdr.Linkname)
			}
			os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: tar entry type %q at %s", domain.ErrUnsupportedFormat, hdr.Typeflag, hdr.Name)
		}
	}
}

func writeRegular(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// umask 不影響封包內的權限
	return os.Chmod(target, mode)
}

// writeTar packs dir into w in lexical order with "./" names and root
// ownership, the layout dpkg-deb produces.
func writeTar(w io.Writer, dir string, kind compress.Kind, mtime time.Time) error {
	cw, err := compress.NewWriter(w, kind)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}

		hdr.Name = "./"
		if rel != "." {
			hdr.Name += filepath.ToSlash(rel)
		}
		if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"
		hdr.ModTime = mtime
		hdr.AccessTime, hdr.ChangeTime = time.Time{}, time.Time{}
		hdr.Format = tar.FormatGNU

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}
