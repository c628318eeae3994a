package checksum

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Ledger records digests of files that must leave the pipeline unchanged
type Ledger struct {
	algo    Algorithm
	mu      sync.Mutex
	digests map[string]string
}

// NewLedger creates an empty ledger using algo
func NewLedger(algo Algorithm) *Ledger {
	return &Ledger{algo: algo, digests: make(map[string]string)}
}

// Algorithm returns the ledger's hashing algorithm
func (l *Ledger) Algorithm() Algorithm {
	return l.algo
}

// Record stores the digest for a relative path
func (l *Ledger) Record(relPath, digest string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.digests[filepath.ToSlash(relPath)] = digest
}

// Digest returns the recorded digest for relPath
func (l *Ledger) Digest(relPath string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.digests[filepath.ToSlash(relPath)]
	return d, ok
}

// Paths returns recorded paths in lexical order
func (l *Ledger) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	paths := make([]string, 0, len(l.digests))
	for p := range l.digests {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of recorded files
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.digests)
}

// MismatchError lists ledger entries whose content changed
type MismatchError struct {
	Paths []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%d file(s) changed: %v", len(e.Paths), e.Paths)
}

// Verify re-hashes every recorded file under root and reports mismatches
func (l *Ledger) Verify(ctx context.Context, root string, calc *DefaultCalculator) error {
	if calc == nil {
		calc = NewDefaultCalculator()
	}

	var changed []string
	for _, p := range l.Paths() {
		want, _ := l.Digest(p)
		got, err := calc.File(ctx, filepath.Join(root, filepath.FromSlash(p)), l.algo)
		if err != nil {
			return err
		}
		if got != want {
			changed = append(changed, p)
		}
	}

	if len(changed) > 0 {
		return &MismatchError{Paths: changed}
	}
	return nil
}
