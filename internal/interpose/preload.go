package interpose

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/domain"
)

// DefaultLibrary is the preload library's file name below <root>/lib
const DefaultLibrary = "libreprefix_preload.so"

//go:embed preload.c.tmpl
var preloadSource string

type cOp struct {
	Name   string
	Ret    string
	Params string
}

// C prototypes, in Intercepted order
var cOps = []cOp{
	{"open", "int", "const char *, int, ..."},
	{"openat", "int", "int, const char *, int, ..."},
	{"stat", "int", "const char *, struct stat *"},
	{"lstat", "int", "const char *, struct stat *"},
	{"access", "int", "const char *, int"},
	{"readlink", "ssize_t", "const char *, char *, size_t"},
	{"execve", "int", "const char *, char *const[], char *const[]"},
	{"fopen", "FILE *", "const char *, const char *"},
	{"rename", "int", "const char *, const char *"},
	{"unlink", "int", "const char *"},
	{"mkdir", "int", "const char *, mode_t"},
	{"rmdir", "int", "const char *"},
	{"chdir", "int", "const char *"},
	{"chmod", "int", "const char *, mode_t"},
	{"chown", "int", "const char *, uid_t, gid_t"},
	{"link", "int", "const char *, const char *"},
	{"symlink", "int", "const char *, const char *"},
}

var preloadTemplate = template.Must(template.New("preload.c").Funcs(template.FuncMap{
	"cstr": cString,
}).Parse(preloadSource))

// cString quotes s as a C string literal
func cString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c >= 0x7f:
			b.WriteString(fmt.Sprintf("\\%03o", c))
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// RenderPreload renders the C source of the preload library for rule
func RenderPreload(rule rewrite.Rule) ([]byte, error) {
	if rule.IsZero() {
		return nil, fmt.Errorf("%w: empty rule", domain.ErrInvalidRule)
	}
	if rule.RewrittenLen(rule.Source()) >= MaxPath {
		return nil, fmt.Errorf("%w: target prefix longer than %d bytes", domain.ErrInvalidRule, MaxPath)
	}

	data := struct {
		Source, Target      string
		EnableEnv, DebugEnv string
		MaxPath             int
		Ops                 []cOp
	}{rule.Source(), rule.Target(), EnableEnv, DebugEnv, MaxPath, cOps}

	var buf bytes.Buffer
	if err := preloadTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Build compiles the preload library for rule into out. compiler may
// carry flags ("clang --target=aarch64-linux-android24"); cc when empty.
// out is replaced atomically.
func Build(ctx context.Context, compiler string, rule rewrite.Rule, out string) error {
	src, err := RenderPreload(rule)
	if err != nil {
		return err
	}
	cc := strings.Fields(compiler)
	if len(cc) == 0 {
		cc = []string{"cc"}
	}

	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	work, err := os.MkdirTemp(dir, ".reprefix-preload-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	cfile := filepath.Join(work, "preload.c")
	if err := os.WriteFile(cfile, src, 0644); err != nil {
		return err
	}
	lib := filepath.Join(work, filepath.Base(out))

	args := append(cc[1:], "-shared", "-fPIC", "-O2", "-o", lib, cfile, "-ldl", "-pthread")
	cmd := exec.CommandContext(ctx, cc[0], args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("compile preload library: %w: %s", err, strings.TrimSpace(string(output)))
	}
	if err := os.Chmod(lib, 0755); err != nil {
		return err
	}
	return os.Rename(lib, out)
}
