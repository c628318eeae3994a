package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// core 為 SlogLogger 與 childLogger 共用的寫入路徑
type core struct {
	logger    *slog.Logger
	sanitizer *Sanitizer
}

func (c core) emit(level slog.Level, msg string, args []any) {
	c.logger.Log(context.Background(), level, c.sanitizer.Sanitize(msg), c.sanitizer.SanitizeArgs(args)...)
}

func (c core) Debug(msg string, args ...any) { c.emit(slog.LevelDebug, msg, args) }
func (c core) Info(msg string, args ...any)  { c.emit(slog.LevelInfo, msg, args) }
func (c core) Warn(msg string, args ...any)  { c.emit(slog.LevelWarn, msg, args) }
func (c core) Error(msg string, args ...any) { c.emit(slog.LevelError, msg, args) }

// With 建立子 logger，子 logger 不擁有 writers，避免重複關閉
func (c core) With(args ...any) Logger {
	return &childLogger{core{
		logger:    c.logger.With(c.sanitizer.SanitizeArgs(args)...),
		sanitizer: c.sanitizer,
	}}
}

func (c core) Sync() error { return nil }

// SlogLogger slog 實作，擁有輸出的 writers
type SlogLogger struct {
	core
	writers []io.WriteCloser
}

// NewSlogLogger 建立新的 slog logger
func NewSlogLogger(config Config) (*SlogLogger, error) {
	var (
		writers   []io.Writer
		closeable []io.WriteCloser
	)

	for _, output := range config.Outputs {
		switch output.Type {
		case OutputStdout, OutputStderr:
			w := output.Writer
			if w == nil {
				w = os.Stderr
				if output.Type == OutputStdout {
					w = os.Stdout
				}
			} else if wc, ok := w.(io.WriteCloser); ok && !isStdStream(wc) {
				closeable = append(closeable, wc)
			}
			writers = append(writers, w)
		case OutputFile:
			if !config.File.Enabled {
				continue
			}
			fw, err := createFileWriter(config.File)
			if err != nil {
				return nil, fmt.Errorf("failed to create file writer: %w", err)
			}
			writers = append(writers, fw)
			closeable = append(closeable, fw)
		}
	}

	// 診斷輸出預設走 stderr，stdout 留給指令結果
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	out := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: convertLevel(config.Level)}

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &SlogLogger{
		core:    core{logger: slog.New(handler), sanitizer: NewSanitizer()},
		writers: closeable,
	}, nil
}

func isStdStream(w io.Writer) bool {
	return w == os.Stdout || w == os.Stderr || w == os.Stdin
}

// createFileWriter 建立檔案 writer（lumberjack rotation）
func createFileWriter(config FileConfig) (io.WriteCloser, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

func convertLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown 關閉所有 writers
func (l *SlogLogger) Shutdown() error {
	var lastErr error
	for _, w := range l.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

type childLogger struct {
	core
}

func (c *childLogger) Shutdown() error { return nil }
