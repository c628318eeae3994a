package domain

import (
	"io"
	"os"
)

// Entry is one item read from a bundle stream
type Entry struct {
	// Path is cleaned, slash separated and relative to the bundle root
	Path string

	// IsDir marks directory entries (Body is nil)
	IsDir bool

	// Mode carries the POSIX permission bits from the archive
	Mode os.FileMode

	// Size is the declared content length, -1 when unknown
	Size int64

	// Body streams the entry content. It is only valid until the next
	// call to the reader's Next.
	Body io.Reader

	// LinkTarget is set for symlink entries found in tar bundles
	LinkTarget string
}

// IsSymlink returns true if the entry encodes a symbolic link
func (e *Entry) IsSymlink() bool {
	return e.LinkTarget != ""
}

// Directive is one line of the bundle's symlink manifest
type Directive struct {
	// Target is the text the link will point at (rewritten before use)
	Target string

	// LinkPath is where the link is created, relative to the staging root
	LinkPath string

	// Line is the literal manifest text, kept for error reports
	Line string
}

// WrappedExecutable describes a native executable replaced by a wrapper script
type WrappedExecutable struct {
	OriginalPath      string
	RealPath          string
	InjectedArguments []string
}
