package deb

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/reprefix/internal/bundle"
	"github.com/Ning0612/reprefix/internal/core/checksum"
)

// SumLine is one "<md5>  <path>" line of a dpkg md5sums file
type SumLine struct {
	Digest string
	Path   string
}

// ParseMD5Sums parses a md5sums file. Lines that do not parse are kept
// verbatim in the returned slice with an empty Digest.
func ParseMD5Sums(data []byte) []SumLine {
	var lines []SumLine
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		digest, p, ok := strings.Cut(line, "  ")
		if !ok || len(digest) != 32 {
			lines = append(lines, SumLine{Path: line})
			continue
		}
		lines = append(lines, SumLine{Digest: digest, Path: p})
	}
	return lines
}

// FormatMD5Sums is the inverse of ParseMD5Sums
func FormatMD5Sums(lines []SumLine) []byte {
	var b bytes.Buffer
	for _, l := range lines {
		if l.Digest == "" {
			b.WriteString(l.Path)
		} else {
			b.WriteString(l.Digest)
			b.WriteString("  ")
			b.WriteString(l.Path)
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// regenerateMD5Sums recomputes the digest of every listed file that was
// rewritten. Paths in md5sums are relative to the data root.
func regenerateMD5Sums(ctx context.Context, sumsPath, dataDir string, rewritten map[string]bool) error {
	if len(rewritten) == 0 {
		return nil
	}
	data, err := os.ReadFile(sumsPath)
	if err != nil {
		return err
	}

	calc := checksum.NewDefaultCalculator()
	lines := ParseMD5Sums(data)
	changed := false
	for i, l := range lines {
		if l.Digest == "" {
			continue
		}
		rel, err := bundle.CleanName(l.Path)
		if err != nil || !rewritten[rel] {
			continue
		}
		sum, err := calc.File(ctx, filepath.Join(dataDir, filepath.FromSlash(rel)), checksum.MD5)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		lines[i].Digest = sum
		changed = true
	}
	if !changed {
		return nil
	}

	info, err := os.Stat(sumsPath)
	if err != nil {
		return err
	}
	return os.WriteFile(sumsPath, FormatMD5Sums(lines), info.Mode().Perm())
}
