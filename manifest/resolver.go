package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResolvedFramework is a framework resolved to local classpath entries.
type ResolvedFramework struct {
	Name      string    // framework name
	LocalPath string    // local checkout or directory
	Classpath []string  // classpath entries inside LocalPath
	Manifest  *Manifest // the framework's own manifest (may be nil)
}

// Resolver fetches the frameworks of a manifest.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile
}

// NewResolver creates a new framework resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve resolves every framework in name order and updates the lock file.
func (r *Resolver) Resolve() ([]ResolvedFramework, error) {
	if len(r.manifest.Frameworks) == 0 {
		return nil, nil
	}

	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	if err := os.MkdirAll(r.manifest.DepsDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating frameworks dir: %w", err)
	}

	names := make([]string, 0, len(r.manifest.Frameworks))
	for name := range r.manifest.Frameworks {
		names = append(names, name)
	}
	sort.Strings(names)

	var resolved []ResolvedFramework
	for _, name := range names {
		rf, err := r.resolveOne(name, r.manifest.Frameworks[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		resolved = append(resolved, *rf)
	}

	if err := r.writeLock(resolved); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return resolved, nil
}

// Classpath resolves the frameworks and returns the manifest's classpath
// entries followed by those of every framework.
func (r *Resolver) Classpath() ([]string, error) {
	frameworks, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	entries := r.manifest.ClasspathPaths()
	for _, fw := range frameworks {
		entries = append(entries, fw.Classpath...)
	}
	return entries, nil
}

// resolveClasspath determines the classpath entries of a framework:
//  1. Consumer override (fw.Dirs)
//  2. Producer manifest ([deodex] classpath of the framework)
//  3. The framework root
//
// Entries must stay inside the framework directory.
func resolveClasspath(name, root string, fw Framework, fwManifest *Manifest) ([]string, error) {
	var dirs []string
	switch {
	case len(fw.Dirs) > 0:
		dirs = fw.Dirs
	case fwManifest != nil && len(fwManifest.Deodex.Classpath) > 0:
		dirs = fwManifest.Deodex.Classpath
	default:
		return []string{root}, nil
	}

	entries := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if filepath.IsAbs(d) {
			return nil, fmt.Errorf("framework %q: classpath entry %q must be relative", name, d)
		}
		p := filepath.Join(root, d)
		if rel, err := filepath.Rel(root, p); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("framework %q: classpath entry %q leaves the framework directory", name, d)
		}
		entries = append(entries, p)
	}
	return entries, nil
}

// resolveOne resolves a single framework.
func (r *Resolver) resolveOne(name string, fw Framework) (*ResolvedFramework, error) {
	var root string
	switch {
	case fw.Path != "":
		root = r.manifest.path(fw.Path)
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", fw.Path, err)
		}
		root = abs
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("local framework %q not found at %s: %w", name, root, err)
		}

	case fw.Git != "":
		root = filepath.Join(r.manifest.DepsDir(), name)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			log.Infof("cloning %s from %s", name, fw.Git)
			if err := cloneFramework(name, fw, root); err != nil {
				return nil, err
			}
		} else if locked := r.lock.FindLockedDep(name); locked == nil || locked.Tag != fw.Tag {
			log.Infof("updating %s to %s", name, checkoutRef(fw.Tag))
			if err := updateFramework(name, fw, root); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("framework %q has no git or path specified", name)
	}

	fwManifest, _ := Load(root)
	cp, err := resolveClasspath(name, root, fw, fwManifest)
	if err != nil {
		return nil, err
	}
	return &ResolvedFramework{
		Name:      name,
		LocalPath: root,
		Classpath: cp,
		Manifest:  fwManifest,
	}, nil
}

// writeLock writes the resolved frameworks to the lock file.
func (r *Resolver) writeLock(resolved []ResolvedFramework) error {
	lf := &LockFile{}
	for _, rf := range resolved {
		ld := LockedDep{Name: rf.Name}
		fw := r.manifest.Frameworks[rf.Name]
		if fw.Git != "" {
			ld.Git = fw.Git
			ld.Tag = fw.Tag
			if commit, err := headCommit(rf.LocalPath); err == nil {
				ld.Commit = commit
			}
			if clean, err := worktreeClean(rf.LocalPath); err == nil && !clean {
				log.Warningf("framework %s has local changes", rf.Name)
			}
		} else {
			ld.Path = fw.Path
		}
		lf.Deps = append(lf.Deps, ld)
	}

	lockDir := filepath.Dir(r.manifest.LockFilePath())
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return err
	}
	return WriteLock(r.manifest.LockFilePath(), lf)
}
