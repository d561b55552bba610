package manifest

import (
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestResolveClasspath(t *testing.T) {
	root := "/fw"
	tests := []struct {
		name       string
		fw         Framework
		fwManifest *Manifest
		want       []string
		wantErr    bool
	}{
		{
			name: "consumer override wins",
			fw:   Framework{Path: "../fw", Dirs: []string{"system/framework"}},
			fwManifest: &Manifest{
				Deodex: Deodex{Classpath: []string{"other"}},
			},
			want: []string{"/fw/system/framework"},
		},
		{
			name: "producer classpath when no override",
			fw:   Framework{Path: "../fw"},
			fwManifest: &Manifest{
				Deodex: Deodex{Classpath: []string{"core", "ext"}},
			},
			want: []string{"/fw/core", "/fw/ext"},
		},
		{
			name: "root when no manifest",
			fw:   Framework{Path: "../fw"},
			want: []string{"/fw"},
		},
		{
			name:       "root when manifest has no classpath",
			fw:         Framework{Path: "../fw"},
			fwManifest: &Manifest{},
			want:       []string{"/fw"},
		},
		{
			name:    "entry escaping the framework rejected",
			fw:      Framework{Path: "../fw", Dirs: []string{"../../etc"}},
			wantErr: true,
		},
		{
			name:    "absolute entry rejected",
			fw:      Framework{Path: "../fw", Dirs: []string{"/etc"}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveClasspath("fw", root, tc.fw, tc.fwManifest)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("classpath = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolverLocalFramework(t *testing.T) {
	base := t.TempDir()
	project := filepath.Join(base, "project")
	device := filepath.Join(base, "device")
	for _, d := range []string{project, filepath.Join(device, "framework")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	writeManifest(t, device, "[deodex]\nclasspath = [\"framework\"]\n")
	writeManifest(t, project, `
[deodex]
classpath = ["local.dex"]

[frameworks]
device = { path = "../device" }
`)

	m, err := Load(project)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := NewResolver(m).Classpath()
	if err != nil {
		t.Fatalf("Classpath: %v", err)
	}
	want := []string{filepath.Join(project, "local.dex"), filepath.Join(device, "framework")}
	if !reflect.DeepEqual(cp, want) {
		t.Errorf("classpath = %v, want %v", cp, want)
	}

	lock, err := ReadLock(m.LockFilePath())
	if err != nil || lock == nil {
		t.Fatalf("ReadLock = %v, %v", lock, err)
	}
	if d := lock.FindLockedDep("device"); d == nil || d.Path != "../device" {
		t.Errorf("locked device = %+v", d)
	}
}

func TestResolverErrors(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[frameworks]
missing = { path = "does-not-exist" }
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewResolver(m).Resolve(); err == nil {
		t.Error("missing local framework resolved")
	}

	m.Frameworks = map[string]Framework{"empty": {}}
	if _, err := NewResolver(m).Resolve(); err == nil {
		t.Error("framework without git or path resolved")
	}
}

func TestResolverNoFrameworks(t *testing.T) {
	m := Default()
	m.Dir = t.TempDir()
	fws, err := NewResolver(m).Resolve()
	if err != nil || fws != nil {
		t.Errorf("Resolve = %v, %v", fws, err)
	}
	if _, err := os.Stat(m.LockFilePath()); !os.IsNotExist(err) {
		t.Error("lock file written without frameworks")
	}
}

func TestGitArgs(t *testing.T) {
	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"clone at tag", cloneArgs("https://x/fw.git", "v1", "/d"),
			[]string{"clone", "--quiet", "--depth", "1", "--no-tags", "--branch", "v1", "--", "https://x/fw.git", "/d"}},
		{"clone default branch", cloneArgs("https://x/fw.git", "", "/d"),
			[]string{"clone", "--quiet", "--depth", "1", "--no-tags", "--", "https://x/fw.git", "/d"}},
		{"fetch tag", fetchArgs("v2"),
			[]string{"fetch", "--quiet", "--depth", "1", "--no-tags", "origin", "tag", "v2"}},
		{"fetch default branch", fetchArgs(""),
			[]string{"fetch", "--quiet", "--depth", "1", "--no-tags", "origin"}},
	}
	for _, tc := range tests {
		if !reflect.DeepEqual(tc.got, tc.want) {
			t.Errorf("%s: args = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
	if got := checkoutRef("v2"); got != "refs/tags/v2" {
		t.Errorf("checkoutRef(v2) = %q", got)
	}
	if got := checkoutRef(""); got != "FETCH_HEAD" {
		t.Errorf("checkoutRef() = %q", got)
	}
}

// runGit runs git in dir with a fixed identity and returns its output.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	args = append([]string{"-c", "user.name=dexasm", "-c", "user.email=dexasm@example.com", "-c", "commit.gpgsign=false"}, args...)
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
	return strings.TrimSpace(string(out))
}

// commitTag commits a container file into repo and tags the commit.
func commitTag(t *testing.T, repo, file, tag string) string {
	t.Helper()
	path := filepath.Join(repo, "framework", file)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(tag), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, repo, "add", ".")
	runGit(t, repo, "commit", "--quiet", "-m", tag)
	runGit(t, repo, "tag", tag)
	return runGit(t, repo, "rev-parse", "HEAD")
}

func TestResolverGitFramework(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	base := t.TempDir()
	repo := filepath.Join(base, "device")
	if err := os.MkdirAll(repo, 0755); err != nil {
		t.Fatal(err)
	}
	runGit(t, repo, "init", "--quiet")
	first := commitTag(t, repo, "core.dex", "v1")
	second := commitTag(t, repo, "ext.dex", "v2")

	project := filepath.Join(base, "project")
	if err := os.MkdirAll(project, 0755); err != nil {
		t.Fatal(err)
	}
	url := "file://" + filepath.ToSlash(repo)
	resolve := func(tag string) (*Manifest, []ResolvedFramework) {
		t.Helper()
		writeManifest(t, project, "[frameworks]\ndevice = { git = \""+url+"\", tag = \""+tag+"\", dirs = [\"framework\"] }\n")
		m, err := Load(project)
		if err != nil {
			t.Fatal(err)
		}
		fws, err := NewResolver(m).Resolve()
		if err != nil {
			t.Fatalf("Resolve(%s): %v", tag, err)
		}
		return m, fws
	}

	m, fws := resolve("v1")
	root := filepath.Join(m.DepsDir(), "device")
	if len(fws) != 1 || !reflect.DeepEqual(fws[0].Classpath, []string{filepath.Join(root, "framework")}) {
		t.Fatalf("frameworks = %+v", fws)
	}
	if _, err := os.Stat(filepath.Join(root, "framework", "ext.dex")); !os.IsNotExist(err) {
		t.Error("checkout at v1 holds a file added in v2")
	}
	if n := runGit(t, root, "rev-list", "--count", "HEAD"); n != "1" {
		t.Errorf("clone has %s commits, want a shallow clone", n)
	}
	lock, err := ReadLock(m.LockFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if d := lock.FindLockedDep("device"); d == nil || d.Tag != "v1" || d.Commit != first {
		t.Errorf("locked device = %+v, want v1 at %s", d, first)
	}

	m, _ = resolve("v2")
	if _, err := os.Stat(filepath.Join(root, "framework", "ext.dex")); err != nil {
		t.Errorf("checkout not moved to v2: %v", err)
	}
	lock, err = ReadLock(m.LockFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if d := lock.FindLockedDep("device"); d == nil || d.Tag != "v2" || d.Commit != second {
		t.Errorf("locked device = %+v, want v2 at %s", d, second)
	}
}
