package adapter

import (
	"context"
	"io"
	"os"
)

// Tree is a filesystem tree confined to one root directory.
// All paths are slash separated and relative to Root. Implementations
// must reject paths that leave the root and return domain-level errors.
type Tree interface {
	// Root returns the absolute directory this tree is confined to
	Root() string

	// WriteFile creates or replaces a regular file with mode.
	// Parent directories are created automatically and the write is atomic.
	// Returns the number of bytes written.
	WriteFile(ctx context.Context, path string, r io.Reader, mode os.FileMode) (int64, error)

	// Open opens a regular file for reading
	// Returns domain.ErrNotFile if path is a directory
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Mkdir creates a directory and any necessary parents
	// No error if directory already exists
	Mkdir(ctx context.Context, path string) error

	// Symlink creates link pointing at target. target is stored verbatim.
	Symlink(ctx context.Context, target, link string) error

	// Readlink returns the stored target of a symlink
	Readlink(ctx context.Context, path string) (string, error)

	// RemoveAll removes path and anything below it
	// No error if path does not exist
	RemoveAll(ctx context.Context, path string) error

	// Lstat returns metadata without following a final symlink
	// Returns domain.ErrNotFound if path doesn't exist
	Lstat(ctx context.Context, path string) (os.FileInfo, error)

	// Chmod changes the permission bits of path
	Chmod(ctx context.Context, path string, mode os.FileMode) error

	// Exists checks if a path exists (a dangling link counts)
	Exists(ctx context.Context, path string) (bool, error)
}
