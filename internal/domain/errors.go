package domain

import (
	"errors"
	"fmt"
)

// Filesystem errors - 檔案系統層錯誤
var (
	// ErrNotFound indicates the requested path does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the path already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")

	// ErrPathEscape indicates an archive or manifest path that leaves its root
	ErrPathEscape = errors.New("path escapes root")

	// ErrUnsupportedFormat indicates an archive or compression format we cannot read
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// Migration errors - 遷移流程錯誤
var (
	// ErrExtraction indicates an I/O failure while staging the bundle (fatal)
	ErrExtraction = errors.New("bundle extraction failed")

	// ErrSymlinkResolution indicates a malformed or unresolvable symlink directive (fatal)
	ErrSymlinkResolution = errors.New("symlink resolution failed")

	// ErrWrapperGeneration indicates a wrapper could not be created (non-fatal)
	ErrWrapperGeneration = errors.New("wrapper generation failed")

	// ErrArchiveTranscode indicates a package archive could not be rewritten (non-fatal)
	ErrArchiveTranscode = errors.New("package archive transcode failed")

	// ErrInvalidRule indicates a malformed path rewrite rule
	ErrInvalidRule = errors.New("invalid rewrite rule")

	// ErrInstallInProgress indicates another install holds the root
	ErrInstallInProgress = errors.New("install already in progress")

	// ErrBinaryModified indicates a native executable changed during staging
	ErrBinaryModified = errors.New("native executable modified during install")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)

// Stage identifies the install step that failed.
type Stage string

const (
	StageLock     Stage = "lock"
	StageExtract  Stage = "extract"
	StageSymlinks Stage = "symlinks"
	StageVerify   Stage = "verify"
	StagePromote  Stage = "promote"
)

// InstallError is the single structured result of a failed bundle install.
// Nothing is left at the final root when it is returned.
type InstallError struct {
	Stage Stage
	// Path is the bundle entry or filesystem path involved, if any
	Path string
	// Directive is the literal manifest line for symlink failures
	Directive string
	Err       error
}

func (e *InstallError) Error() string {
	switch {
	case e.Directive != "":
		return fmt.Sprintf("bundle install failed at %s (directive %q): %v", e.Stage, e.Directive, e.Err)
	case e.Path != "":
		return fmt.Sprintf("bundle install failed at %s (%s): %v", e.Stage, e.Path, e.Err)
	default:
		return fmt.Sprintf("bundle install failed at %s: %v", e.Stage, e.Err)
	}
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether deleting the root and retrying can succeed.
// Lock contention resolves on its own; binary modification never will.
func (e *InstallError) Retryable() bool {
	if errors.Is(e.Err, ErrBinaryModified) {
		return false
	}
	return e.Stage != StageLock
}

// AsInstallError returns the InstallError inside err, if any
func AsInstallError(err error) (*InstallError, bool) {
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
