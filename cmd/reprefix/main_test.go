package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ning0612/reprefix/internal/state"
	"github.com/Ning0612/reprefix/internal/testutil"
)

func writeConfig(t *testing.T) (cfgPath, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "usr")
	cfgPath = filepath.Join(dir, "reprefix.yaml")
	yaml := fmt.Sprintf(`
identity:
  source: %s
  target: %s
root: %s
lock_dir: %s
state_dir: %s
log:
  level: error
`, testutil.OldRoot, testutil.NewRoot, root, filepath.Join(dir, "locks"), filepath.Join(dir, "state"))
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, root
}

// execute runs one command the way main does
func execute(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	root := newRootCmd(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	a.close()
	return out.String(), err
}

func TestRewrite(t *testing.T) {
	cfg, _ := writeConfig(t)

	in := "export PREFIX=" + testutil.OldRoot + "/files/usr\n"
	out, err := execute(t, cfg, in, "rewrite")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if want := "export PREFIX=" + testutil.NewRoot + "/files/usr\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}

	out, err = execute(t, cfg, "./data/data/com.termux/files/usr/bin/ls\n", "rewrite", "--relative")
	if err != nil {
		t.Fatalf("rewrite --relative: %v", err)
	}
	if !strings.Contains(out, "data/data/com.termux.kotlin/files") {
		t.Errorf("relative rewrite missed: %q", out)
	}
}

func TestInstallAndHistory(t *testing.T) {
	cfg, root := writeConfig(t)
	bundlePath := filepath.Join(t.TempDir(), "bootstrap.zip")
	data := testutil.ZipBundle(t, []testutil.File{
		{Name: "bin/", Dir: true},
		{Name: "bin/busybox", Body: testutil.FakeELF("busybox")},
		{Name: "etc/profile", Body: []byte("export PREFIX=" + testutil.OldRoot + "/files/usr\n")},
		{Name: "SYMLINKS.txt", Body: []byte("busybox←./bin/sh\n")},
	})
	if err := os.WriteFile(bundlePath, data, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, cfg, "", "install", "-q", "--bundle", bundlePath)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !strings.Contains(out, "installed "+root) {
		t.Errorf("unexpected output %q", out)
	}
	profile := testutil.ReadFile(t, filepath.Join(root, "etc", "profile"))
	if !bytes.Contains(profile, []byte(testutil.NewRoot)) {
		t.Errorf("profile not rewritten: %q", profile)
	}

	out, err = execute(t, cfg, "", "history", "--kind", "install", "-o", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var recs []state.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(recs) != 1 || recs[0].Status != state.StatusSuccess {
		t.Errorf("history = %+v, want one successful install", recs)
	}

	// 缺少 dpkg 與 var/lib/dpkg/status，doctor 應回報錯誤
	_, err = execute(t, cfg, "", "doctor")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Errorf("doctor error = %v, want exit status 1", err)
	}
}

func TestInstall_RequiresBundle(t *testing.T) {
	cfg, _ := writeConfig(t)
	if _, err := execute(t, cfg, "", "install"); err == nil {
		t.Error("expected error without --bundle")
	}
}

func TestScan_Stray(t *testing.T) {
	cfg, _ := writeConfig(t)
	dir := t.TempDir()
	testutil.CreateTestFile(t, dir, "etc/profile", []byte("PATH="+testutil.OldRoot+"/files/usr/bin\n"))
	testutil.CreateTestFile(t, dir, "etc/motd", []byte("welcome\n"))
	testutil.CreateTestFile(t, dir, "bin/ls", testutil.FakeELF("ls"))

	out, err := execute(t, cfg, "", "scan", "--stray", "-o", "json", dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var got scanOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("scan output is not JSON: %v", err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Path != "etc/profile" {
		t.Errorf("stray entries = %+v, want only etc/profile", got.Entries)
	}
	total := 0
	for _, n := range got.Counts {
		total += n
	}
	if total != 3 {
		t.Errorf("counted %d files, want 3", total)
	}
}

func TestInterposeRender(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, err := execute(t, cfg, "", "interpose", "render")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, testutil.OldRoot) || !strings.Contains(out, testutil.NewRoot) {
		t.Error("rendered source does not carry the identity pair")
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	cfg, _ := writeConfig(t)
	if _, err := execute(t, cfg, "", "history", "-o", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
