package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ning0612/reprefix/internal/core/rewrite"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/testutil"
	"github.com/Ning0612/reprefix/internal/wrapper"
)

var testRule = rewrite.MustNew(testutil.OldRoot, testutil.NewRoot)

// healthyRoot builds a root that passes every check
func healthyRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range EssentialDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	for _, b := range EssentialBinaries {
		p := testutil.CreateTestFile(t, root, "bin/"+b, []byte("#!/bin/sh\nexit 0\n"))
		os.Chmod(p, 0755)
	}
	for _, lib := range EssentialLibs {
		testutil.CreateTestFile(t, root, "lib/"+lib, testutil.FakeELF(lib))
	}
	testutil.CreateTestFile(t, root, DpkgStatus, []byte("Package: bash\nStatus: install ok installed\n"))
	testutil.CreateTestFile(t, root, "etc/profile", []byte("export PREFIX="+testutil.NewRoot+"/files/usr\n"))
	return root
}

func options(root string) Options {
	return Options{
		Root: root,
		Rule: testRule,
		Log:  logger.NewNullLogger(),
	}
}

func paths(fs []Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.Path)
	}
	return out
}

func TestCheck_Healthy(t *testing.T) {
	root := healthyRoot(t)

	report, err := Check(context.Background(), options(root))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Errorf("findings on a healthy root: %+v", report.Findings)
	}
	if !report.OK() {
		t.Error("healthy root reported not OK")
	}
}

func TestCheck_MissingRoot(t *testing.T) {
	if _, err := Check(context.Background(), options(filepath.Join(t.TempDir(), "nope"))); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestCheck_Layout(t *testing.T) {
	root := healthyRoot(t)
	os.RemoveAll(filepath.Join(root, "share"))
	os.Remove(filepath.Join(root, "bin", "grep"))
	os.Remove(filepath.Join(root, "lib", "libz.so"))
	os.Remove(filepath.Join(root, filepath.FromSlash(DpkgStatus)))
	// applets 也算
	os.Rename(filepath.Join(root, "bin", "ls"), filepath.Join(root, "bin", "ls.tmp"))
	os.MkdirAll(filepath.Join(root, "bin", "applets"), 0755)
	os.Rename(filepath.Join(root, "bin", "ls.tmp"), filepath.Join(root, "bin", "applets", "ls"))
	// 版本化的 soname
	os.Rename(filepath.Join(root, "lib", "libm.so"), filepath.Join(root, "lib", "libm.so.6"))

	report, err := Check(context.Background(), options(root))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		check string
		want  []string
	}{
		{CheckDirectory, []string{"share"}},
		{CheckBinary, []string{"bin/grep"}},
		{CheckLibrary, []string{"lib/libz.so"}},
		{CheckDpkg, []string{DpkgStatus}},
	}
	for _, tt := range tests {
		got := paths(report.ByCheck(tt.check))
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("%s: got %v, want %v", tt.check, got, tt.want)
		}
	}
	if report.OK() {
		t.Error("missing directory and dpkg status should fail the report")
	}
}

func TestCheck_FindsRepairableProblems(t *testing.T) {
	root := healthyRoot(t)
	os.Chmod(filepath.Join(root, "bin", "sed"), 0644)
	os.Symlink("missing-target", filepath.Join(root, "bin", "dangling"))
	testutil.CreateTestFile(t, root, "etc/motd.conf", []byte("see "+testutil.OldRoot+"/files/home\n"))
	// 原生二進位內的舊路徑不算
	testutil.CreateTestFile(t, root, "lib/libold.so", testutil.FakeELF("x"))

	report, err := Check(context.Background(), options(root))
	if err != nil {
		t.Fatal(err)
	}

	if got := paths(report.ByCheck(CheckExecBit)); len(got) != 1 || got[0] != "bin/sed" {
		t.Errorf("exec-bit findings = %v", got)
	}
	if got := paths(report.ByCheck(CheckSymlink)); len(got) != 1 || got[0] != "bin/dangling" {
		t.Errorf("symlink findings = %v", got)
	}
	if got := paths(report.ByCheck(CheckOldPath)); len(got) != 1 || got[0] != "etc/motd.conf" {
		t.Errorf("old-identity findings = %v", got)
	}
	for _, f := range report.Findings {
		if !f.Fixable {
			t.Errorf("finding %+v should be fixable", f)
		}
	}
}

func TestCheck_Wrappers(t *testing.T) {
	root := healthyRoot(t)
	// dpkg 為原生執行檔但未包裝
	p := testutil.CreateTestFile(t, root, "bin/dpkg", testutil.FakeELF("dpkg"))
	os.Chmod(p, 0755)

	opts := options(root)
	opts.Wrappers = wrapper.DefaultSpecs()[:1]

	report, err := Check(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Wrappers) != 1 || report.Wrappers[0].State != wrapper.StateUnwrapped {
		t.Fatalf("wrapper status = %+v", report.Wrappers)
	}
	if got := report.ByCheck(CheckWrapper); len(got) != 1 || got[0].Severity != SeverityWarn {
		t.Errorf("wrapper findings = %+v", got)
	}
}

func TestCheck_Environment(t *testing.T) {
	root := healthyRoot(t)
	lib := filepath.Join(root, "lib", "libreprefix_preload.so")

	tests := []struct {
		name     string
		env      []string
		library  bool
		wantMsgs []string
	}{
		{
			name:     "prefix unset",
			env:      []string{},
			wantMsgs: []string{"interposition library not built", "PREFIX is not set"},
		},
		{
			name: "old prefix and home",
			env: []string{
				"PREFIX=" + testutil.OldRoot + "/files/usr",
				"HOME=" + testutil.OldRoot + "/files/home",
			},
			wantMsgs: []string{"interposition library not built", "PREFIX points at the old identity", "HOME points at the old identity"},
		},
		{
			name:     "prefix elsewhere",
			env:      []string{"PREFIX=/opt/other"},
			wantMsgs: []string{"interposition library not built", "PREFIX differs from the install root"},
		},
		{
			name:     "preload missing library",
			env:      []string{"PREFIX=" + root, "LD_PRELOAD=" + lib},
			wantMsgs: []string{"interposition library not built", "LD_PRELOAD names a library that does not exist"},
		},
		{
			name:     "enabled without preload",
			env:      []string{"PREFIX=" + root, "REPREFIX_INTERPOSE=1"},
			library:  true,
			wantMsgs: []string{"REPREFIX_INTERPOSE=1 but LD_PRELOAD does not load the library"},
		},
		{
			name:    "active",
			env:     []string{"PREFIX=" + root, "REPREFIX_INTERPOSE=1", "LD_PRELOAD=" + lib},
			library: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(lib)
			if tt.library {
				testutil.CreateTestFile(t, root, "lib/libreprefix_preload.so", testutil.FakeELF("shim"))
				defer os.Remove(lib)
			}

			opts := options(root)
			opts.Env = tt.env
			opts.Library = lib
			report, err := Check(context.Background(), opts)
			if err != nil {
				t.Fatal(err)
			}

			var got []string
			for _, f := range report.Findings {
				if f.Check == CheckEnv || f.Check == CheckInterpose {
					got = append(got, f.Message)
				}
			}
			if strings.Join(got, "|") != strings.Join(tt.wantMsgs, "|") {
				t.Errorf("messages = %q, want %q", got, tt.wantMsgs)
			}
		})
	}
}

func TestRepair(t *testing.T) {
	root := healthyRoot(t)
	os.Chmod(filepath.Join(root, "bin", "sed"), 0600)
	os.Symlink("missing-target", filepath.Join(root, "bin", "dangling"))
	conf := testutil.CreateTestFile(t, root, "etc/motd.conf", []byte("see "+testutil.OldRoot+"/files/home\n"))
	os.Chmod(conf, 0640)
	p := testutil.CreateTestFile(t, root, "bin/dpkg", testutil.FakeELF("dpkg"))
	os.Chmod(p, 0755)

	opts := options(root)
	opts.Wrappers = wrapper.DefaultSpecs()[:1]
	opts.Prefix = testutil.NewRoot + "/files/usr"

	res, err := Repair(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(res.Failed) != 0 {
		t.Errorf("failures: %v", res.Failed)
	}
	if len(res.RemovedLinks) != 1 || len(res.Chmodded) != 1 || len(res.Rewritten) != 1 || len(res.Wrapped) != 1 {
		t.Errorf("result = %+v", res)
	}

	if _, err := os.Lstat(filepath.Join(root, "bin", "dangling")); !os.IsNotExist(err) {
		t.Error("dangling link still present")
	}
	if info, _ := os.Stat(filepath.Join(root, "bin", "sed")); info.Mode().Perm() != 0711 {
		t.Errorf("sed mode = %v, want 0711", info.Mode().Perm())
	}
	if got := string(testutil.ReadFile(t, conf)); got != "see "+testutil.NewRoot+"/files/home\n" {
		t.Errorf("motd.conf = %q", got)
	}
	if info, _ := os.Stat(conf); info.Mode().Perm() != 0640 {
		t.Errorf("motd.conf mode = %v, want 0640", info.Mode().Perm())
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "dpkg"+wrapper.RealSuffix)); err != nil {
		t.Errorf("dpkg not wrapped: %v", err)
	}

	if res.After == nil || len(res.After.Findings) != 0 {
		t.Errorf("findings after repair: %+v", res.After)
	}
}

func TestRepair_LeavesUnfixable(t *testing.T) {
	root := healthyRoot(t)
	os.Remove(filepath.Join(root, filepath.FromSlash(DpkgStatus)))

	res, err := Repair(context.Background(), options(root), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.After.ByCheck(CheckDpkg); len(got) != 1 {
		t.Errorf("dpkg finding after repair = %+v", got)
	}
}
