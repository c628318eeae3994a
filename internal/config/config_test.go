package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/reprefix/internal/compress"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/staging"
	"github.com/Ning0612/reprefix/internal/wrapper"
)

const minimalYAML = `
identity:
  source: /data/data/com.termux
  target: /data/data/com.termux.kotlin
`

func TestLoadFromString_Defaults(t *testing.T) {
	cfg, err := LoadFromString(minimalYAML)
	if err != nil {
		t.Fatalf("LoadFromString: %v", err)
	}

	if cfg.Root != "/data/data/com.termux.kotlin/files/usr" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Staging != cfg.Root+".staging" {
		t.Errorf("Staging = %q", cfg.Staging)
	}
	if cfg.Bundle.Manifest != staging.DefaultManifest {
		t.Errorf("Manifest = %q", cfg.Bundle.Manifest)
	}
	if len(cfg.Bundle.Delimiters) != 2 {
		t.Errorf("Delimiters = %v", cfg.Bundle.Delimiters)
	}
	if len(cfg.WrapperSpecs()) != len(wrapper.DefaultSpecs()) {
		t.Errorf("WrapperSpecs = %d entries", len(cfg.WrapperSpecs()))
	}
	if cfg.Checksum.Algorithm != "blake3" {
		t.Errorf("Checksum.Algorithm = %q", cfg.Checksum.Algorithm)
	}
	if cfg.Interpose.Library != filepath.Join(cfg.Root, "lib", "libreprefix_preload.so") {
		t.Errorf("Interpose.Library = %q", cfg.Interpose.Library)
	}
	if cfg.Log.Level != "info" || cfg.Log.File.MaxSizeMB != 10 {
		t.Errorf("Log = %+v", cfg.Log)
	}

	rule, err := cfg.Rule()
	if err != nil {
		t.Fatalf("Rule: %v", err)
	}
	if got := rule.Apply("/data/data/com.termux/files/usr/bin/sh"); got != "/data/data/com.termux.kotlin/files/usr/bin/sh" {
		t.Errorf("rule.Apply = %q", got)
	}
	if c, err := cfg.TranscodeCompression(); err != nil || c != nil {
		t.Errorf("TranscodeCompression = %v, %v; want keep", c, err)
	}
	if cfg.Watch.Interval != 10*time.Minute || len(cfg.Watch.Tasks) != 1 ||
		cfg.Watch.ArchiveDir != filepath.Join(cfg.Root, "var", "cache", "apt", "archives") {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
}

func TestLoadFromString_Overrides(t *testing.T) {
	cfg, err := LoadFromString(minimalYAML + `
root: /opt/root
bundle:
  delimiters: ["=>"]
classifier:
  text_names: ["my-tool"]
wrappers:
  - name: tool
    path: bin/tool
    args: ["--root=$PREFIX"]
    env:
      TOOL_HOME: $PREFIX/etc
transcode:
  compression: zstd
watch:
  interval: 30s
  tasks: [transcode, doctor]
log:
  level: debug
  format: json
  file:
    path: /var/log/reprefix.log
`)
	if err != nil {
		t.Fatalf("LoadFromString: %v", err)
	}

	if cfg.Root != "/opt/root" || cfg.Staging != "/opt/root.staging" {
		t.Errorf("Root/Staging = %q %q", cfg.Root, cfg.Staging)
	}
	if len(cfg.Bundle.Delimiters) != 1 || cfg.Bundle.Delimiters[0] != "=>" {
		t.Errorf("Delimiters = %v", cfg.Bundle.Delimiters)
	}

	specs := cfg.WrapperSpecs()
	if len(specs) != 1 || specs[0].Name != "tool" || specs[0].Env["TOOL_HOME"] != "$PREFIX/etc" {
		t.Errorf("WrapperSpecs = %+v", specs)
	}

	opts := cfg.ClassifierOptions()
	found := false
	for _, n := range opts.TextNames {
		if n == "my-tool" {
			found = true
		}
	}
	if !found || len(opts.TextNames) < 2 {
		t.Errorf("ClassifierOptions did not merge: %v", opts.TextNames)
	}

	if c, err := cfg.TranscodeCompression(); err != nil || c == nil || *c != compress.Zstd {
		t.Errorf("TranscodeCompression = %v, %v", c, err)
	}

	if cfg.Watch.Interval != 30*time.Second || len(cfg.Watch.Tasks) != 2 {
		t.Errorf("Watch = %+v", cfg.Watch)
	}

	lc := cfg.LoggerConfig()
	if lc.Level != logger.LevelDebug || lc.Format != logger.FormatJSON {
		t.Errorf("LoggerConfig = %+v", lc)
	}
	if !lc.File.Enabled || lc.File.Path != "/var/log/reprefix.log" || len(lc.Outputs) != 2 {
		t.Errorf("LoggerConfig file = %+v", lc)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing identity", "root: /x\n"},
		{"relative source", "identity: {source: data/old, target: /data/new}\n"},
		{"target inside source", "identity: {source: /data/old/x, target: /data/old}\n"},
		{"same prefixes", "identity: {source: /a, target: /a}\n"},
		{"staging equals root", minimalYAML + "root: /r\nstaging: /r\n"},
		{"empty delimiter", minimalYAML + "bundle: {delimiters: [\"\"]}\n"},
		{"nested manifest", minimalYAML + "bundle: {manifest: a/b.txt}\n"},
		{"duplicate wrapper", minimalYAML + "wrappers: [{name: a, path: bin/a}, {name: a, path: bin/b}]\n"},
		{"absolute wrapper path", minimalYAML + "wrappers: [{name: a, path: /bin/a}]\n"},
		{"unknown compression", minimalYAML + "transcode: {compression: brotli}\n"},
		{"lz4 members", minimalYAML + "transcode: {compression: lz4}\n"},
		{"unknown watch task", minimalYAML + "watch: {tasks: [sync]}\n"},
		{"unknown checksum", minimalYAML + "checksum: {algorithm: crc32}\n"},
		{"malformed yaml", "identity: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromString(tt.yaml)
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Errorf("err = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity.Target != "/data/data/com.termux.kotlin" {
		t.Errorf("Identity = %+v", cfg.Identity)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("missing file err = %v, want ErrConfigNotFound", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REPREFIX_IDENTITY_TARGET", "/data/data/com.termux.next")
	t.Setenv("REPREFIX_LOG_LEVEL", "warn")

	cfg, err := LoadFromString(minimalYAML)
	if err != nil {
		t.Fatalf("LoadFromString: %v", err)
	}
	if cfg.Identity.Target != "/data/data/com.termux.next" {
		t.Errorf("Identity.Target = %q", cfg.Identity.Target)
	}
	if cfg.Root != "/data/data/com.termux.next/files/usr" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadOrEnv(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("REPREFIX_IDENTITY_SOURCE", "/old")
	t.Setenv("REPREFIX_IDENTITY_TARGET", "/new")

	cfg, err := LoadOrEnv("")
	if err != nil {
		t.Fatalf("LoadOrEnv: %v", err)
	}
	if cfg.Root != "/new/files/usr" {
		t.Errorf("Root = %q", cfg.Root)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("REPREFIX_TEST_DIR", "/opt/x")

	tests := map[string]string{
		"":                        "",
		"~":                       home,
		"~/a/b":                   filepath.Join(home, "a", "b"),
		"$REPREFIX_TEST_DIR/lib/": "/opt/x/lib",
		"/plain/../path":          "/path",
	}
	for in, want := range tests {
		if got := ExpandPath(in); got != want {
			t.Errorf("ExpandPath(%q) = %q, want %q", in, got, want)
		}
	}
}
