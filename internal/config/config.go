package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Ning0612/reprefix/internal/compress"
	"github.com/Ning0612/reprefix/internal/core/checksum"
	"github.com/Ning0612/reprefix/internal/core/classify"
	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/interpose"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/staging"
	"github.com/Ning0612/reprefix/internal/symlink"
	"github.com/Ning0612/reprefix/internal/wrapper"
)

// Config represents the complete configuration for reprefix
type Config struct {
	// Identity is the old -> new prefix pair every component rewrites with
	Identity IdentityConfig `mapstructure:"identity"`

	// Root is the final install root; Staging is where bundles are unpacked first
	Root    string `mapstructure:"root"`
	Staging string `mapstructure:"staging"`

	Bundle     BundleConfig     `mapstructure:"bundle"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Wrappers   []wrapper.Spec   `mapstructure:"wrappers"`
	Transcode  TranscodeConfig  `mapstructure:"transcode"`
	Checksum   ChecksumConfig   `mapstructure:"checksum"`
	Interpose  InterposeConfig  `mapstructure:"interpose"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Log        LogConfig        `mapstructure:"log"`

	LockDir  string `mapstructure:"lock_dir"`
	StateDir string `mapstructure:"state_dir"`
}

// IdentityConfig 身分前綴
type IdentityConfig struct {
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
}

// BundleConfig 描述 bootstrap 封包格式
type BundleConfig struct {
	Manifest       string   `mapstructure:"manifest"`
	Delimiters     []string `mapstructure:"delimiters"`
	ExecutableDirs []string `mapstructure:"executable_dirs"`
}

// ClassifierConfig entries are appended to the built-in allow-list
type ClassifierConfig struct {
	TextDirs  []string `mapstructure:"text_dirs"`
	TextNames []string `mapstructure:"text_names"`
	TextExts  []string `mapstructure:"text_exts"`
}

type TranscodeConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
	// Compression is keep, none, gzip, xz or zstd
	Compression string `mapstructure:"compression"`
}

type ChecksumConfig struct {
	Algorithm string `mapstructure:"algorithm"`
}

type InterposeConfig struct {
	Library  string `mapstructure:"library"`
	Compiler string `mapstructure:"compiler"`
	Debug    bool   `mapstructure:"debug"`
}

type MetricsConfig struct {
	// Textfile, when set, receives a Prometheus text dump after each operation
	Textfile string `mapstructure:"textfile"`
}

// WatchConfig drives the periodic maintenance loop
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// ArchiveDir is scanned for package archives to transcode ahead of time
	ArchiveDir string `mapstructure:"archive_dir"`
	// Tasks run on every tick: transcode, doctor
	Tasks []string `mapstructure:"tasks"`
}

// WatchTasks lists the task names the watch loop understands
var WatchTasks = []string{"transcode", "doctor"}

// LogConfig 日誌設定
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// applyDefaults fills every key whose default depends on other keys
func (c *Config) applyDefaults() {
	if c.Root == "" && c.Identity.Target != "" {
		c.Root = path.Join(c.Identity.Target, "files", "usr")
	}
	c.Root = ExpandPath(c.Root)
	if c.Staging == "" && c.Root != "" {
		c.Staging = c.Root + ".staging"
	}
	c.Staging = ExpandPath(c.Staging)

	if c.Bundle.Manifest == "" {
		c.Bundle.Manifest = staging.DefaultManifest
	}
	if len(c.Bundle.Delimiters) == 0 {
		c.Bundle.Delimiters = append([]string{}, symlink.DefaultDelimiters...)
	}
	if len(c.Bundle.ExecutableDirs) == 0 {
		c.Bundle.ExecutableDirs = append([]string{}, staging.DefaultExecDirs...)
	}
	if len(c.Wrappers) == 0 {
		c.Wrappers = wrapper.DefaultSpecs()
	}
	// viper 會把 map key 轉成小寫，環境變數名稱需還原
	for i := range c.Wrappers {
		if len(c.Wrappers[i].Env) == 0 {
			continue
		}
		env := make(map[string]string, len(c.Wrappers[i].Env))
		for k, v := range c.Wrappers[i].Env {
			env[strings.ToUpper(k)] = v
		}
		c.Wrappers[i].Env = env
	}

	if c.Transcode.CacheDir == "" && c.Root != "" {
		c.Transcode.CacheDir = filepath.Join(c.Root, "var", "cache", "reprefix")
	}
	c.Transcode.CacheDir = ExpandPath(c.Transcode.CacheDir)
	if c.Transcode.Compression == "" {
		c.Transcode.Compression = "keep"
	}
	if c.Checksum.Algorithm == "" {
		c.Checksum.Algorithm = string(checksum.BLAKE3)
	}
	if c.Interpose.Library == "" && c.Root != "" {
		c.Interpose.Library = filepath.Join(c.Root, "lib", interpose.DefaultLibrary)
	}
	c.Interpose.Library = ExpandPath(c.Interpose.Library)
	if c.Interpose.Compiler == "" {
		c.Interpose.Compiler = "cc"
	}

	if c.Watch.Interval == 0 {
		c.Watch.Interval = 10 * time.Minute
	}
	if c.Watch.ArchiveDir == "" && c.Root != "" {
		c.Watch.ArchiveDir = filepath.Join(c.Root, "var", "cache", "apt", "archives")
	}
	c.Watch.ArchiveDir = ExpandPath(c.Watch.ArchiveDir)
	if len(c.Watch.Tasks) == 0 {
		c.Watch.Tasks = []string{"transcode"}
	}

	base := defaultDataDir()
	if c.LockDir == "" {
		c.LockDir = base
	}
	if c.StateDir == "" {
		c.StateDir = base
	}
	c.LockDir, c.StateDir = ExpandPath(c.LockDir), ExpandPath(c.StateDir)
	c.Log.File.Path = ExpandPath(c.Log.File.Path)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "reprefix")
	}
	return filepath.Join(os.TempDir(), "reprefix")
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.Identity.Source == "" || c.Identity.Target == "" {
		return fmt.Errorf("%w: identity.source and identity.target are required", domain.ErrConfigInvalid)
	}
	if !path.IsAbs(c.Identity.Source) || !path.IsAbs(c.Identity.Target) {
		return fmt.Errorf("%w: identity prefixes must be absolute", domain.ErrConfigInvalid)
	}
	if _, err := c.Rule(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	if c.Root == "" {
		return fmt.Errorf("%w: root cannot be empty", domain.ErrConfigInvalid)
	}
	if filepath.Clean(c.Staging) == filepath.Clean(c.Root) {
		return fmt.Errorf("%w: staging must differ from root", domain.ErrConfigInvalid)
	}

	for _, d := range c.Bundle.Delimiters {
		if d == "" {
			return fmt.Errorf("%w: empty symlink delimiter", domain.ErrConfigInvalid)
		}
	}
	if strings.ContainsAny(c.Bundle.Manifest, "/\\") {
		return fmt.Errorf("%w: bundle.manifest must be a top-level name: %s", domain.ErrConfigInvalid, c.Bundle.Manifest)
	}

	names := make(map[string]bool)
	for _, w := range c.Wrappers {
		if w.Name == "" || w.Path == "" {
			return fmt.Errorf("%w: wrapper needs name and path", domain.ErrConfigInvalid)
		}
		if names[w.Name] {
			return fmt.Errorf("%w: duplicate wrapper name: %s", domain.ErrConfigInvalid, w.Name)
		}
		if path.IsAbs(w.Path) || strings.HasPrefix(path.Clean(w.Path), "..") {
			return fmt.Errorf("%w: wrapper %s path must be relative to root", domain.ErrConfigInvalid, w.Name)
		}
		names[w.Name] = true
	}

	if _, err := c.TranscodeCompression(); err != nil {
		return err
	}
	if c.Watch.Interval < 0 {
		return fmt.Errorf("%w: watch.interval must be positive", domain.ErrConfigInvalid)
	}
	for _, task := range c.Watch.Tasks {
		if !slices.Contains(WatchTasks, task) {
			return fmt.Errorf("%w: unknown watch task: %s", domain.ErrConfigInvalid, task)
		}
	}
	if !checksum.IsSupported(checksum.Algorithm(c.Checksum.Algorithm)) {
		return fmt.Errorf("%w: unsupported checksum algorithm: %s", domain.ErrConfigInvalid, c.Checksum.Algorithm)
	}
	return nil
}

// Rule returns the identity rewrite rule
func (c *Config) Rule() (rewrite.Rule, error) {
	return rewrite.New(c.Identity.Source, c.Identity.Target)
}

// ClassifierOptions returns the built-in allow-list extended with the configured entries
func (c *Config) ClassifierOptions() classify.Options {
	return classify.DefaultOptions().Merge(classify.Options{
		TextDirs:  c.Classifier.TextDirs,
		TextNames: c.Classifier.TextNames,
		TextExts:  c.Classifier.TextExts,
	})
}

// WrapperSpecs returns the wrappers to synthesize
func (c *Config) WrapperSpecs() []wrapper.Spec {
	return c.Wrappers
}

// TranscodeCompression returns nil for "keep", meaning each package keeps
// its own member compression
func (c *Config) TranscodeCompression() (*compress.Kind, error) {
	if c.Transcode.Compression == "" || strings.EqualFold(c.Transcode.Compression, "keep") {
		return nil, nil
	}
	k, err := compress.Parse(c.Transcode.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: transcode.compression: %w", domain.ErrConfigInvalid, err)
	}
	// dpkg-deb cannot read lz4 members
	if k == compress.Lz4 {
		return nil, fmt.Errorf("%w: transcode.compression: lz4 is not a dpkg member format", domain.ErrConfigInvalid)
	}
	return &k, nil
}

// LoggerConfig maps the log section onto the logger package
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.Config{
		Level:   logger.ParseLevel(c.Log.Level),
		Format:  logger.ParseFormat(c.Log.Format),
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr}},
	}
	if c.Log.File.Path != "" {
		cfg.Outputs = append(cfg.Outputs, logger.OutputConfig{Type: logger.OutputFile})
		cfg.File = logger.FileConfig{
			Enabled:    true,
			Path:       c.Log.File.Path,
			MaxSizeMB:  c.Log.File.MaxSizeMB,
			MaxAgeDays: c.Log.File.MaxAgeDays,
			MaxBackups: c.Log.File.MaxBackups,
			Compress:   c.Log.File.Compress,
		}
	}
	return cfg
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	// Expand ~ to home directory
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
