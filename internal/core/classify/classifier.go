// Package classify decides whether an archive entry may be text-rewritten.
//
// Rules are evaluated in order and the first match wins. The default
// table puts native magic numbers first, so a compiled executable is
// never rewritten, whatever its name or location.
package classify

import (
	"path"
	"strings"

	"github.com/Ning0612/reprefix/internal/domain"
)

// Input is what a rule can look at
type Input struct {
	// Path is slash separated and relative to the bundle or package root
	Path string
	// Head holds up to HeadSize leading content bytes
	Head []byte
}

// Rule is one (predicate, verdict) pair of the classification table
type Rule struct {
	Name    string
	Match   func(Input) bool
	Verdict domain.Verdict
}

// Options extends the default allow-list
type Options struct {
	// TextDirs are directory prefixes whose files are scripts or config ("etc/")
	TextDirs []string
	// TextNames are exact basenames or basename globs ("pkg", "termux-*")
	TextNames []string
	// TextExts are file extensions including the dot (".sh")
	TextExts []string
}

// DefaultOptions returns the allow-list for a Termux style bootstrap
func DefaultOptions() Options {
	return Options{
		TextDirs: []string{
			"etc/",
			"var/lib/dpkg/",
			"lib/pkgconfig/",
			"share/pkgconfig/",
			"libexec/termux/",
		},
		TextNames: []string{
			"pkg",
			"login",
			"chsh",
			"su",
			"am",
			"apt-key",
			"termux-*",
			"*-config",
			"conffiles",
			"md5sums",
			"postinst",
			"preinst",
			"postrm",
			"prerm",
		},
		TextExts: []string{
			".sh", ".bash", ".zsh", ".py", ".pl", ".rb", ".lua",
			".conf", ".cfg", ".ini", ".list", ".pc", ".la", ".txt",
			".json", ".properties", ".md5sums", ".conffiles", ".desktop",
		},
	}
}

// Merge returns o with the entries of other appended
func (o Options) Merge(other Options) Options {
	return Options{
		TextDirs:  append(append([]string{}, o.TextDirs...), other.TextDirs...),
		TextNames: append(append([]string{}, o.TextNames...), other.TextNames...),
		TextExts:  append(append([]string{}, o.TextExts...), other.TextExts...),
	}
}

// Classifier evaluates an ordered rule table
type Classifier struct {
	rules []Rule
}

// New builds the default table for the given allow-list
func New(opts Options) *Classifier {
	return &Classifier{rules: DefaultRules(opts)}
}

// NewDefault builds the default table with DefaultOptions
func NewDefault() *Classifier {
	return New(DefaultOptions())
}

// NewWithRules builds a classifier from an explicit table
func NewWithRules(rules ...Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// WithRules returns a classifier that evaluates extra after the native
// signature rule but before the allow-list
func (c *Classifier) WithRules(extra ...Rule) *Classifier {
	rules := make([]Rule, 0, len(c.rules)+len(extra))
	inserted := false
	for _, r := range c.rules {
		rules = append(rules, r)
		if !inserted && r.Verdict == domain.NativeExecutable {
			rules = append(rules, extra...)
			inserted = true
		}
	}
	if !inserted {
		rules = append(extra, rules...)
	}
	return &Classifier{rules: rules}
}

// Rules returns a copy of the table
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the verdict of the first matching rule. Entries no
// rule claims are OpaqueBinary: they are copied, never rewritten.
func (c *Classifier) Classify(p string, head []byte) domain.Verdict {
	v, _ := c.Explain(p, head)
	return v
}

// Explain is Classify plus the name of the deciding rule ("" for the default)
func (c *Classifier) Explain(p string, head []byte) (domain.Verdict, string) {
	if len(head) > HeadSize {
		head = head[:HeadSize]
	}
	in := Input{Path: strings.TrimPrefix(path.Clean("/"+p), "/"), Head: head}
	for _, r := range c.rules {
		if r.Match(in) {
			return r.Verdict, r.Name
		}
	}
	return domain.OpaqueBinary, ""
}

// DefaultRules returns native magic, then allow-list rules
func DefaultRules(opts Options) []Rule {
	dirs := append([]string(nil), opts.TextDirs...)
	names := append([]string(nil), opts.TextNames...)
	exts := make(map[string]bool, len(opts.TextExts))
	for _, e := range opts.TextExts {
		exts[strings.ToLower(e)] = true
	}

	textOnly := func(match func(Input) bool) func(Input) bool {
		// 允許清單命中但內容有 NUL 位元組時不視為文字
		return func(in Input) bool {
			return match(in) && !IsBinary(in.Head)
		}
	}

	return []Rule{
		{
			Name: "native-magic",
			Match: func(in Input) bool {
				_, ok := NativeSignature(in.Head)
				return ok
			},
			Verdict: domain.NativeExecutable,
		},
		{
			Name: "text-dir",
			Match: textOnly(func(in Input) bool {
				for _, d := range dirs {
					if strings.HasPrefix(in.Path, strings.TrimPrefix(d, "/")) {
						return true
					}
				}
				return false
			}),
			Verdict: domain.TextArtifact,
		},
		{
			Name: "text-name",
			Match: textOnly(func(in Input) bool {
				base := path.Base(in.Path)
				for _, n := range names {
					if ok, _ := path.Match(n, base); ok {
						return true
					}
				}
				return false
			}),
			Verdict: domain.TextArtifact,
		},
		{
			Name: "text-ext",
			Match: textOnly(func(in Input) bool {
				return exts[strings.ToLower(path.Ext(in.Path))]
			}),
			Verdict: domain.TextArtifact,
		},
		{
			Name:    "shebang",
			Match:   textOnly(func(in Input) bool { return HasShebang(in.Head) }),
			Verdict: domain.TextArtifact,
		},
	}
}
