// Package rewrite implements the identity path rewrite rule.
//
// A Rule replaces every occurrence of the source identity prefix with the
// target identity prefix, except occurrences that are already part of the
// target prefix. Applying a rule twice yields the same text as applying it
// once, even when the target prefix extends the source prefix
// (/data/data/com.termux -> /data/data/com.termux.kotlin).
//
// Callers must never hand native executable content to a Rule.
package rewrite

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Ning0612/reprefix/internal/domain"
)

// Rule is an immutable source -> target prefix substitution
type Rule struct {
	source string
	target string
	// guards are the offsets at which source occurs inside target
	guards []int
}

// New builds a rule. The target must not be a substring of the source,
// and the two prefixes must not overlap at a boundary (a proper suffix of
// one being a prefix of the other): either would let a rewrite create a
// fresh occurrence of the source next to an inserted target.
func New(source, target string) (Rule, error) {
	if source == "" || target == "" {
		return Rule{}, fmt.Errorf("%w: source and target must be non-empty", domain.ErrInvalidRule)
	}
	if source == target {
		return Rule{}, fmt.Errorf("%w: source and target are identical (%s)", domain.ErrInvalidRule, source)
	}
	if strings.Contains(source, target) {
		return Rule{}, fmt.Errorf("%w: target %q is contained in source %q", domain.ErrInvalidRule, target, source)
	}
	if k := boundaryOverlap(source, target); k > 0 {
		return Rule{}, fmt.Errorf("%w: %q and %q overlap by %d bytes at a boundary", domain.ErrInvalidRule, source, target, k)
	}

	var guards []int
	for k := 0; k+len(source) <= len(target); k++ {
		if target[k:k+len(source)] == source {
			guards = append(guards, k)
		}
	}

	return Rule{source: source, target: target, guards: guards}, nil
}

// boundaryOverlap returns the length of the first overlap where a proper
// suffix of source starts target or a suffix of target shorter than
// source starts source, or 0. Target starting with all of source is the
// guarded extension case and is allowed.
func boundaryOverlap(source, target string) int {
	for k := 1; k < len(source) && k <= len(target); k++ {
		if strings.HasPrefix(target, source[len(source)-k:]) || strings.HasSuffix(target, source[:k]) {
			return k
		}
	}
	return 0
}

// MustNew is New for static rules; it panics on error
func MustNew(source, target string) Rule {
	r, err := New(source, target)
	if err != nil {
		panic(err)
	}
	return r
}

// Source returns the prefix being replaced
func (r Rule) Source() string { return r.source }

// Target returns the replacement prefix
func (r Rule) Target() string { return r.target }

// IsZero reports whether r is the zero rule, which rewrites nothing
func (r Rule) IsZero() bool { return r.source == "" }

func (r Rule) String() string {
	return r.source + " -> " + r.target
}

// Relative returns the rule with the leading slash stripped from both
// prefixes. dpkg md5sums files list paths without it.
func (r Rule) Relative() Rule {
	rel, err := New(strings.TrimPrefix(r.source, "/"), strings.TrimPrefix(r.target, "/"))
	if err != nil {
		return r
	}
	return rel
}

// guardedString reports whether the occurrence of source at i sits inside
// an occurrence of target
func (r Rule) guardedString(text string, i int) bool {
	for _, k := range r.guards {
		start := i - k
		if start >= 0 && start+len(r.target) <= len(text) && text[start:start+len(r.target)] == r.target {
			return true
		}
	}
	return false
}

func (r Rule) guardedBytes(text []byte, i int) bool {
	for _, k := range r.guards {
		start := i - k
		if start >= 0 && start+len(r.target) <= len(text) && string(text[start:start+len(r.target)]) == r.target {
			return true
		}
	}
	return false
}

// Apply rewrites text. Text without unguarded occurrences is returned as is.
func (r Rule) Apply(text string) string {
	if r.IsZero() {
		return text
	}

	var b strings.Builder
	last, i := 0, 0
	for {
		j := strings.Index(text[i:], r.source)
		if j < 0 {
			break
		}
		pos := i + j
		i = pos + len(r.source)
		if r.guardedString(text, pos) {
			continue
		}
		if b.Len() == 0 {
			b.Grow(len(text) + len(r.target) - len(r.source))
		}
		b.WriteString(text[last:pos])
		b.WriteString(r.target)
		last = i
	}

	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// ApplyBytes is Apply for byte buffers. The input is never modified; when
// nothing matches the input slice itself is returned.
func (r Rule) ApplyBytes(data []byte) []byte {
	out, _ := r.ApplyBytesCount(data)
	return out
}

// ApplyBytesCount rewrites data and reports how many occurrences were replaced
func (r Rule) ApplyBytesCount(data []byte) ([]byte, int) {
	if r.IsZero() {
		return data, 0
	}

	src := []byte(r.source)
	var out []byte
	n, last, i := 0, 0, 0
	for {
		j := bytes.Index(data[i:], src)
		if j < 0 {
			break
		}
		pos := i + j
		i = pos + len(src)
		if r.guardedBytes(data, pos) {
			continue
		}
		if out == nil {
			out = make([]byte, 0, len(data)+len(r.target)-len(r.source))
		}
		out = append(out, data[last:pos]...)
		out = append(out, r.target...)
		last = i
		n++
	}

	if n == 0 {
		return data, 0
	}
	out = append(out, data[last:]...)
	return out, n
}

// Contains reports whether data holds at least one occurrence Apply would replace
func (r Rule) Contains(data []byte) bool {
	if r.IsZero() {
		return false
	}
	src := []byte(r.source)
	i := 0
	for {
		j := bytes.Index(data[i:], src)
		if j < 0 {
			return false
		}
		pos := i + j
		if !r.guardedBytes(data, pos) {
			return true
		}
		i = pos + len(src)
	}
}

// ApplyPrefix rewrites path only when it starts with the source prefix.
// Runtime path arguments use prefix semantics, not substring semantics.
func (r Rule) ApplyPrefix(path string) (string, bool) {
	if !r.MatchPrefix(path) {
		return path, false
	}
	return r.target + path[len(r.source):], true
}

// MatchPrefix reports whether ApplyPrefix would rewrite path
func (r Rule) MatchPrefix(path string) bool {
	if r.IsZero() || !strings.HasPrefix(path, r.source) {
		return false
	}
	return !r.guardedString(path, 0)
}

// AppendPrefix writes the rewritten form of path into dst[:0] without
// allocating when dst has enough capacity. It returns dst unchanged and
// false when path does not match.
func (r Rule) AppendPrefix(dst []byte, path string) ([]byte, bool) {
	if !r.MatchPrefix(path) {
		return dst, false
	}
	dst = append(dst[:0], r.target...)
	dst = append(dst, path[len(r.source):]...)
	return dst, true
}

// RewrittenLen is the length of path after ApplyPrefix
func (r Rule) RewrittenLen(path string) int {
	return len(path) - len(r.source) + len(r.target)
}
