package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// LockFile records the exact revision of every resolved framework.
type LockFile struct {
	Deps []LockedDep `toml:"framework"`
}

// LockedDep is one locked framework.
type LockedDep struct {
	Name   string `toml:"name"`
	Git    string `toml:"git,omitempty"`
	Tag    string `toml:"tag,omitempty"`
	Commit string `toml:"commit,omitempty"`
	Path   string `toml:"path,omitempty"`
}

// ReadLock reads a lock file. A missing file yields nil, nil.
func ReadLock(path string) (*LockFile, error) {
	var lf LockFile
	if _, err := toml.DecodeFile(path, &lf); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &lf, nil
}

// WriteLock writes a lock file with its entries sorted by name.
func WriteLock(path string, lf *LockFile) error {
	sort.Slice(lf.Deps, func(i, j int) bool { return lf.Deps[i].Name < lf.Deps[j].Name })
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(lf); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// FindLockedDep returns the locked entry for name, or nil.
func (lf *LockFile) FindLockedDep(name string) *LockedDep {
	if lf == nil {
		return nil
	}
	for i := range lf.Deps {
		if lf.Deps[i].Name == name {
			return &lf.Deps[i]
		}
	}
	return nil
}
