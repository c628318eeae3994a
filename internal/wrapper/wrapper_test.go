package wrapper

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/testutil"
)

func dpkgSpec() Spec {
	return DefaultSpecs()[0]
}

func newSynth(root string) *Synthesizer {
	return &Synthesizer{
		Root:   root,
		Prefix: testutil.NewRoot + "/files/usr",
		Log:    logger.NewNullLogger(),
	}
}

func TestRender(t *testing.T) {
	s := newSynth("/unused")
	script, err := s.Render(Spec{
		Name: "tool",
		Path: "bin/tool",
		Args: []string{"--root=$PREFIX/etc", `quote"me`, "$HOME"},
		Env:  map[string]string{"B": "2", "A": "$PREFIX/a"},
		Dirs: []string{"$PREFIX/var/tool"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := "#!" + testutil.NewRoot + "/files/usr/bin/sh\n" +
		`PREFIX="` + testutil.NewRoot + `/files/usr"` + "\n" +
		`[ -d "$PREFIX/var/tool" ] || mkdir -p "$PREFIX/var/tool" 2>/dev/null` + "\n" +
		`export A="$PREFIX/a"` + "\n" +
		`export B="2"` + "\n" +
		`exec "$PREFIX/bin/tool.real" "--root=$PREFIX/etc" "quote\"me" "\$HOME" "$@"` + "\n"
	if string(script) != want {
		t.Errorf("script mismatch\n got: %s\nwant: %s", script, want)
	}
}

func TestRender_NoOutputOfItsOwn(t *testing.T) {
	script, err := newSynth("/x").Render(dpkgSpec())
	if err != nil {
		t.Fatal(err)
	}
	for _, word := range []string{"echo", "printf"} {
		if bytes.Contains(script, []byte(word)) {
			t.Errorf("wrapper writes output via %s:\n%s", word, script)
		}
	}
}

func TestApply_WrapsNative(t *testing.T) {
	root := t.TempDir()
	elf := testutil.FakeELF("dpkg")
	testutil.CreateTestFile(t, root, "bin/dpkg", elf)

	report := newSynth(root).Apply(context.Background(), []Spec{dpkgSpec()})
	if got := report.Count(OutcomeCreated); got != 1 {
		t.Fatalf("created = %d, results = %+v", got, report.Results)
	}

	real := testutil.ReadFile(t, filepath.Join(root, "bin", "dpkg.real"))
	if !bytes.Equal(real, elf) {
		t.Error("real executable modified")
	}
	script := testutil.ReadFile(t, filepath.Join(root, "bin", "dpkg"))
	if !strings.HasPrefix(string(script), "#!") || !strings.Contains(string(script), `"--admindir=$PREFIX/var/lib/dpkg"`) {
		t.Errorf("unexpected script:\n%s", script)
	}

	info, _ := os.Stat(filepath.Join(root, "bin", "dpkg"))
	if info.Mode().Perm() != 0700 {
		t.Errorf("script mode = %v", info.Mode().Perm())
	}

	w := report.Results[0].Wrapped
	if w == nil || w.InjectedArguments[0] != "--admindir="+testutil.NewRoot+"/files/usr/var/lib/dpkg" {
		t.Errorf("wrapped executable = %+v", w)
	}
}

func TestApply_Idempotent(t *testing.T) {
	root := t.TempDir()
	elf := testutil.FakeELF("dpkg")
	testutil.CreateTestFile(t, root, "bin/dpkg", elf)
	s := newSynth(root)

	s.Apply(context.Background(), []Spec{dpkgSpec()})
	report := s.Apply(context.Background(), []Spec{dpkgSpec()})

	if report.Results[0].Outcome != OutcomePresent {
		t.Fatalf("second run outcome = %v", report.Results[0].Outcome)
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "dpkg.real.real")); !os.IsNotExist(err) {
		t.Error("wrapper was wrapped")
	}
	if !bytes.Equal(testutil.ReadFile(t, filepath.Join(root, "bin", "dpkg.real")), elf) {
		t.Error("real executable replaced by script")
	}
}

func TestApply_UpgradedBinaryReplacesReal(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTestFile(t, root, "bin/dpkg.real", testutil.FakeELF("old"))
	fresh := testutil.FakeELF("new")
	testutil.CreateTestFile(t, root, "bin/dpkg", fresh)

	report := newSynth(root).Apply(context.Background(), []Spec{dpkgSpec()})
	if report.Results[0].Outcome != OutcomeCreated {
		t.Fatalf("outcome = %v", report.Results[0].Outcome)
	}
	if !bytes.Equal(testutil.ReadFile(t, filepath.Join(root, "bin", "dpkg.real")), fresh) {
		t.Error("stale .real kept")
	}
}

func TestApply_SkipsScriptsAndMissing(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTestFile(t, root, "bin/apt-key", []byte("#!/bin/sh\necho key\n"))

	specs := DefaultSpecs()
	report := newSynth(root).Apply(context.Background(), specs)

	if len(report.Results) != len(specs) {
		t.Fatalf("got %d results", len(report.Results))
	}
	if report.Count(OutcomeSkipped) != len(specs) {
		t.Errorf("skipped = %d, want all %d", report.Count(OutcomeSkipped), len(specs))
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "apt-key.real")); !os.IsNotExist(err) {
		t.Error("script was wrapped")
	}
}

func TestApply_FailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTestFile(t, root, "bin/dpkg", testutil.FakeELF("dpkg"))
	testutil.CreateTestFile(t, root, "bin/apt", testutil.FakeELF("apt"))
	// 讓 bin/dpkg.real 成為非空目錄，rename 會失敗
	testutil.CreateTestFile(t, root, "bin/dpkg.real/blocker", []byte("x"))

	report := newSynth(root).Apply(context.Background(), []Spec{dpkgSpec(), aptSpec("apt")})

	if report.Results[0].Outcome != OutcomeFailed {
		t.Errorf("dpkg outcome = %v, want failed", report.Results[0].Outcome)
	}
	if !errors.Is(report.Results[0].Err, domain.ErrWrapperGeneration) {
		t.Errorf("dpkg error = %v", report.Results[0].Err)
	}
	if report.Results[1].Outcome != OutcomeCreated {
		t.Errorf("apt outcome = %v, want created", report.Results[1].Outcome)
	}
	if len(report.Errors()) != 1 {
		t.Errorf("errors = %v", report.Errors())
	}
}

func TestInspect(t *testing.T) {
	root := t.TempDir()
	testutil.CreateTestFile(t, root, "bin/dpkg", testutil.FakeELF("dpkg"))
	testutil.CreateTestFile(t, root, "bin/apt", testutil.FakeELF("apt"))
	testutil.CreateTestFile(t, root, "bin/apt-get", testutil.FakeELF("apt-get"))
	testutil.CreateTestFile(t, root, "bin/apt-key", []byte("#!/bin/sh\nexec gpg \"$@\"\n"))

	s := newSynth(root)
	s.Apply(context.Background(), []Spec{dpkgSpec(), aptSpec("apt-get")})
	os.Remove(filepath.Join(root, "bin", "apt-get.real"))

	statuses, err := Inspect(context.Background(), root,
		[]Spec{dpkgSpec(), aptSpec("apt"), aptSpec("apt-get"), aptSpec("apt-mark"), aptSpec("apt-key")}, nil)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	want := []State{StateOK, StateUnwrapped, StateBroken, StateMissing, StateOK}
	for i, st := range statuses {
		if st.State != want[i] {
			t.Errorf("%s state = %v, want %v (%s)", st.Name, st.State, want[i], st.Message)
		}
	}
}

func TestShellWord(t *testing.T) {
	tests := map[string]string{
		"plain":      `"plain"`,
		"$PREFIX/x":  `"$PREFIX/x"`,
		"${HOME}":    `"\${HOME}"`,
		"a`b`":       "\"a\\`b\\`\"",
		`back\slash`: `"back\\slash"`,
	}
	for in, want := range tests {
		if got := shellWord(in); got != want {
			t.Errorf("shellWord(%q) = %s, want %s", in, got, want)
		}
	}
}
