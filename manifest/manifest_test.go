package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, Filename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[run]
jobs = 4
verbosity = 2

[disassemble]
parameter-registers = false
code-offsets = true
cfg-dir = "cfg"

[deodex]
classpath = ["framework", "/abs/core.dex"]
inline-table = "inline.txt"
check-package-private-access = true

[frameworks]
device = { path = "../device", dirs = ["system/framework"] }
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Run.Jobs != 4 || m.Run.Verbosity != 2 {
		t.Errorf("run = %+v", m.Run)
	}
	if m.Disassemble.ParameterRegisters {
		t.Error("parameter-registers = true, want false")
	}
	if !m.Disassemble.DebugInfo {
		t.Error("debug-info default lost")
	}
	if !m.Disassemble.CodeOffsets {
		t.Error("code-offsets = false, want true")
	}
	fw, ok := m.Frameworks["device"]
	if !ok || fw.Path != "../device" || len(fw.Dirs) != 1 {
		t.Errorf("device framework = %+v", fw)
	}

	cp := m.ClasspathPaths()
	if len(cp) != 2 || cp[0] != filepath.Join(m.Dir, "framework") || cp[1] != "/abs/core.dex" {
		t.Errorf("classpath = %v", cp)
	}
	if !m.Deodex.CheckPackagePrivate {
		t.Error("check-package-private-access = false, want true")
	}
	if got := m.InlineTablePath(); got != filepath.Join(m.Dir, "inline.txt") {
		t.Errorf("inline table = %q", got)
	}
	opts := m.DisasmOptions()
	if opts.ParameterRegisters || !opts.DebugInfo || !opts.CodeOffsets || opts.CFGDir != filepath.Join(m.Dir, "cfg") {
		t.Errorf("options = %+v", opts)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[run]
jobs = 0
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Run.Jobs != 1 {
		t.Errorf("jobs = %d, want 1", m.Run.Jobs)
	}
	if !m.Disassemble.ParameterRegisters || !m.Disassemble.DebugInfo {
		t.Errorf("disassemble defaults = %+v", m.Disassemble)
	}
	if m.InlineTablePath() != "" || m.DisasmOptions().CFGDir != "" {
		t.Error("empty paths resolved against the manifest directory")
	}
}

func TestLoadManifestParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[run]\njobs = \"many\"\n")
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted a string for jobs")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[run]\njobs = 3\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Run.Jobs != 3 {
		t.Errorf("jobs = %d, want 3", m.Run.Jobs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no dexasm.toml exists")
	}
}

func TestLockFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "lock.toml")

	lf := &LockFile{
		Deps: []LockedDep{
			{Name: "vendor", Path: "../vendor"},
			{Name: "device", Git: "https://example.com/device-framework", Commit: "abc123", Tag: "v1.2"},
		},
	}
	if err := WriteLock(lockPath, lf); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	loaded, err := ReadLock(lockPath)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}
	if len(loaded.Deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(loaded.Deps))
	}
	if loaded.Deps[0].Name != "device" || loaded.Deps[0].Commit != "abc123" {
		t.Errorf("dep[0] = %+v, want device at abc123", loaded.Deps[0])
	}

	if found := loaded.FindLockedDep("vendor"); found == nil || found.Path != "../vendor" {
		t.Errorf("FindLockedDep(vendor) = %v, want path ../vendor", found)
	}
	if notFound := loaded.FindLockedDep("nonexistent"); notFound != nil {
		t.Errorf("FindLockedDep(nonexistent) = %v, want nil", notFound)
	}
	var none *LockFile
	if none.FindLockedDep("vendor") != nil {
		t.Error("nil lock file found an entry")
	}
}

func TestReadLockNotFound(t *testing.T) {
	lf, err := ReadLock("/nonexistent/path/lock.toml")
	if err != nil {
		t.Errorf("ReadLock should return nil,nil for missing file, got err: %v", err)
	}
	if lf != nil {
		t.Errorf("ReadLock should return nil for missing file, got %v", lf)
	}
}
