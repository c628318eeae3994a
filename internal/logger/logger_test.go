package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_InitAndGet(t *testing.T) {
	buf := &bytes.Buffer{}
	config := Config{
		Level:  LevelInfo,
		Format: FormatText,
		Outputs: []OutputConfig{
			{Type: OutputStdout, Writer: buf},
		},
	}

	err := Init(config)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Shutdown()

	logger := Get()
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("log output missing message: %s", output)
	}
}

func TestLogger_NullLogger(t *testing.T) {
	// 測試未初始化時的行為
	Shutdown() // 確保未初始化

	logger := Get()
	// 不應該 panic
	logger.Info("should not crash")
	logger.Debug("should not crash")
	logger.Warn("should not crash")
	logger.Error("should not crash")
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	config := Config{
		Level:  LevelInfo,
		Format: FormatText,
		Outputs: []OutputConfig{
			{Type: OutputStdout, Writer: buf},
		},
	}

	Init(config)
	defer Shutdown()

	childLogger := With("component", "test")
	childLogger.Info("message")

	output := buf.String()
	if !strings.Contains(output, "component=test") {
		t.Errorf("output missing context: %s", output)
	}
}

func TestLogger_Sync(t *testing.T) {
	buf := &bytes.Buffer{}
	config := Config{
		Level:  LevelInfo,
		Format: FormatText,
		Outputs: []OutputConfig{
			{Type: OutputStdout, Writer: buf},
		},
	}

	Init(config)
	defer Shutdown()

	Get().Info("test")
	err := Sync()
	if err != nil {
		t.Errorf("Sync() error = %v", err)
	}
}

func TestLogger_Shutdown(t *testing.T) {
	buf := &bytes.Buffer{}
	config := Config{
		Level:  LevelInfo,
		Format: FormatText,
		Outputs: []OutputConfig{
			{Type: OutputStdout, Writer: buf},
		},
	}

	Init(config)
	Get().Info("before shutdown")

	err := Shutdown()
	if err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	// 再次呼叫應該不會 panic
	err = Shutdown()
	if err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestOperation_TagsStream(t *testing.T) {
	buf := &bytes.Buffer{}
	base, err := NewSlogLogger(Config{
		Level:   LevelDebug,
		Format:  FormatText,
		Outputs: []OutputConfig{{Type: OutputStdout, Writer: buf}},
	})
	if err != nil {
		t.Fatalf("NewSlogLogger() error = %v", err)
	}
	defer base.Shutdown()

	first := OperationOn(base, KindTranscode, "a.deb")
	second := OperationOn(base, KindTranscode, "b.deb")
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("operation ids not unique: %q %q", first.ID, second.ID)
	}

	first.Info("transcode outcome", "outcome", "noop")
	second.Info("transcode outcome", "outcome", "rewritten")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "op_id="+first.ID) || !strings.Contains(lines[0], "subject=a.deb") {
		t.Errorf("first line not tagged: %s", lines[0])
	}
	if !strings.Contains(lines[1], "op_id="+second.ID) || !strings.Contains(lines[1], "op=transcode") {
		t.Errorf("second line not tagged: %s", lines[1])
	}
}

func TestOperation_NilBase(t *testing.T) {
	op := OperationOn(nil, KindDoctor, "root")
	op.Info("should not crash")
	if op.Kind != KindDoctor || op.Subject != "root" {
		t.Errorf("unexpected op: %+v", op)
	}
}

func TestLegacyLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLegacyLogger()
	l.out = buf

	child := l.With("op", "install")
	child.Debug("hidden")
	child.Info("entry rewritten", "path", "etc/profile")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %s", out)
	}
	if !strings.Contains(out, "[INFO] entry rewritten op=install path=etc/profile") {
		t.Errorf("unexpected legacy output: %s", out)
	}
}
