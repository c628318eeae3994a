package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/Ning0612/reprefix/internal/daemon"
)

func TestPIDFile_WriteAndRead(t *testing.T) {
	pidFile := daemon.NewPIDFile(filepath.Join(t.TempDir(), "nested", "w.pid"))

	if err := pidFile.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	defer pidFile.Remove()

	pid, err := pidFile.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	running, err := pidFile.IsRunning()
	if err != nil || !running {
		t.Errorf("IsRunning = %v, %v", running, err)
	}
}

func TestPIDFile_WriteWhileRunning(t *testing.T) {
	pidFile := daemon.NewPIDFile(filepath.Join(t.TempDir(), "w.pid"))
	if err := pidFile.Write(); err != nil {
		t.Fatal(err)
	}
	defer pidFile.Remove()

	err := pidFile.Write()
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Errorf("second Write = %v, want ErrAlreadyRunning", err)
	}
}

func TestPIDFile_ReplacesStale(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"dead process", "2147483646\n"},
		{"garbage", "not-a-pid\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "w.pid")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			pidFile := daemon.NewPIDFile(path)
			if err := pidFile.Write(); err != nil {
				t.Fatalf("Write over stale file: %v", err)
			}
			defer pidFile.Remove()

			data, _ := os.ReadFile(path)
			if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
				t.Errorf("content = %q", data)
			}
		})
	}
}

func TestPIDFile_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.pid")
	pidFile := daemon.NewPIDFile(path)
	if err := pidFile.Write(); err != nil {
		t.Fatal(err)
	}

	if err := pidFile.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file still exists after removal")
	}
	if err := pidFile.Remove(); err != nil {
		t.Errorf("second Remove: %v", err)
	}
	if _, err := pidFile.Read(); err == nil {
		t.Error("Read of a removed file should fail")
	}
}

func TestPathFor(t *testing.T) {
	dir := t.TempDir()
	a := daemon.PathFor(dir, "/data/data/a/files/usr")
	b := daemon.PathFor(dir, "/data/data/b/files/usr")

	if a == b {
		t.Errorf("roots share a PID file: %s", a)
	}
	if filepath.Dir(a) != dir || !strings.HasSuffix(a, daemon.PIDSuffix) {
		t.Errorf("PathFor = %s", a)
	}
}
