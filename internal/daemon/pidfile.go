// Package daemon keeps a single watch process per install root.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ning0612/reprefix/internal/lock"
)

// PIDSuffix ends every watch PID file name
const PIDSuffix = ".watch.pid"

// ErrAlreadyRunning is returned by Write while another live process holds the file
var ErrAlreadyRunning = errors.New("watch is already running")

// PIDFile records the PID of the watch process for one root
type PIDFile struct {
	path string
}

// NewPIDFile manages the PID file at path
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// PathFor returns the PID file location for root inside dir. Roots get
// distinct files the same way they get distinct install locks.
func PathFor(dir, root string) string {
	name := strings.TrimSuffix(lock.FileName(root), lock.Suffix)
	return filepath.Join(dir, name+PIDSuffix)
}

// Path returns the PID file path
func (p *PIDFile) Path() string { return p.path }

// Write records the current PID. A file left by a dead process is
// replaced; one held by a live process yields ErrAlreadyRunning.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(p.path)
				return fmt.Errorf("failed to write PID file: %w", werr)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to create PID file: %w", err)
		}

		if pid, rerr := p.Read(); rerr == nil && isProcessRunning(pid) {
			return fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, pid, p.path)
		}
		// 殘留的 PID 檔
		if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	return fmt.Errorf("%w (%s)", ErrAlreadyRunning, p.path)
}

// Read returns the recorded PID
func (p *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("PID file does not exist: %s", p.path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	s := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", s)
	}
	return pid, nil
}

// Remove deletes the PID file; a missing file is not an error
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive
func (p *PIDFile) IsRunning() (bool, error) {
	pid, err := p.Read()
	if err != nil {
		return false, err
	}
	return isProcessRunning(pid), nil
}

// Kill asks the recorded process to stop
func (p *PIDFile) Kill() error {
	pid, err := p.Read()
	if err != nil {
		return err
	}
	return killProcess(pid)
}
