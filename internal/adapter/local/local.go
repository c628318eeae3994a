package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/Ning0612/reprefix/internal/domain"
)

// Tree implements adapter.Tree on the local filesystem
type Tree struct {
	root string
}

// New creates a tree rooted at root. The directory is created when missing.
func New(root string) (*Tree, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, mapError(err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, mapError(err)
	}
	if !info.IsDir() {
		return nil, domain.ErrNotDirectory
	}

	return &Tree{root: absRoot}, nil
}

// Open returns a tree for an existing root without creating it
func Open(root string) (*Tree, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, mapError(err)
	}
	if !info.IsDir() {
		return nil, domain.ErrNotDirectory
	}
	return &Tree{root: absRoot}, nil
}

// Root returns the absolute root of this tree
func (t *Tree) Root() string {
	return t.root
}

// CleanRel normalizes a tree-relative path and rejects absolute paths
// and paths that climb out of the root.
func CleanRel(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if rel == "" || rel == "." {
		return ".", nil
	}
	if strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %s", domain.ErrPathEscape, rel)
	}

	cleaned := path.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", domain.ErrPathEscape, rel)
	}
	return cleaned, nil
}

// resolvePath maps rel to an absolute path inside root.
// Intermediate symlinks are resolved inside the root by securejoin;
// the final component is not followed so links themselves can be
// replaced or inspected.
func (t *Tree) resolvePath(rel string) (string, error) {
	cleaned, err := CleanRel(rel)
	if err != nil {
		return "", err
	}
	if cleaned == "." {
		return t.root, nil
	}

	dir, base := path.Split(cleaned)
	parent := t.root
	if dir != "" {
		parent, err = securejoin.SecureJoin(t.root, filepath.FromSlash(dir))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", domain.ErrPathEscape, rel, err)
		}
	}
	return filepath.Join(parent, base), nil
}

// Abs returns the absolute location of rel inside the tree
func (t *Tree) Abs(rel string) (string, error) {
	return t.resolvePath(rel)
}

// WriteFile creates or replaces a file atomically
func (t *Tree) WriteFile(ctx context.Context, rel string, r io.Reader, mode os.FileMode) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, mapError(err)
	}

	// 先寫暫存檔再 rename
	file, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.reprefix.tmp")
	if err != nil {
		return 0, mapError(err)
	}
	tempPath := file.Name()

	n, copyErr := io.Copy(file, r)
	if copyErr == nil {
		copyErr = file.Chmod(mode.Perm())
	}
	closeErr := file.Close()

	if copyErr != nil {
		os.Remove(tempPath)
		return n, copyErr
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return n, closeErr
	}

	if info, err := os.Lstat(fullPath); err == nil && info.IsDir() {
		os.Remove(tempPath)
		return n, domain.ErrNotFile
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return n, mapError(err)
	}

	return n, nil
}

// Open opens a regular file for reading
func (t *Tree) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	if info.IsDir() {
		return nil, domain.ErrNotFile
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	return file, nil
}

// Mkdir creates a directory and any necessary parents
func (t *Tree) Mkdir(ctx context.Context, rel string) error {
	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return mapError(err)
	}
	return nil
}

// Symlink creates link -> target, replacing whatever is at link
func (t *Tree) Symlink(ctx context.Context, target, link string) error {
	fullPath, err := t.resolvePath(link)
	if err != nil {
		return err
	}
	if fullPath == t.root {
		return fmt.Errorf("%w: cannot replace root with a link", domain.ErrPathEscape)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return mapError(err)
	}
	if err := os.RemoveAll(fullPath); err != nil {
		return mapError(err)
	}
	if err := os.Symlink(target, fullPath); err != nil {
		return mapError(err)
	}
	return nil
}

// Readlink returns the target stored in a symlink
func (t *Tree) Readlink(ctx context.Context, rel string) (string, error) {
	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return "", err
	}

	target, err := os.Readlink(fullPath)
	if err != nil {
		return "", mapError(err)
	}
	return target, nil
}

// RemoveAll removes rel recursively
func (t *Tree) RemoveAll(ctx context.Context, rel string) error {
	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return err
	}
	return mapError(os.RemoveAll(fullPath))
}

// Lstat returns metadata for rel without following a final link
func (t *Tree) Lstat(ctx context.Context, rel string) (os.FileInfo, error) {
	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	return info, nil
}

// Chmod changes the permission bits of rel
func (t *Tree) Chmod(ctx context.Context, rel string, mode os.FileMode) error {
	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return err
	}
	return mapError(os.Chmod(fullPath, mode.Perm()))
}

// Exists checks if a path exists
func (t *Tree) Exists(ctx context.Context, rel string) (bool, error) {
	fullPath, err := t.resolvePath(rel)
	if err != nil {
		return false, err
	}

	_, err = os.Lstat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapError(err)
}

// mapError converts OS errors to domain errors, keeping the original
// error in the chain
func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%w: %v", domain.ErrNotDirectory, err)
	}

	return err
}
