package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chazu/dexasm/disasm"
	"github.com/chazu/dexasm/naming"
	"github.com/chazu/dexasm/pkg/dex"
)

// target is one class selected for a run.
type target struct {
	index int // class index in the container, -1 if not present
	desc  string
}

// selectClasses returns the requested classes, or every class when classes
// is empty. Requested descriptors missing from the container are kept with
// index -1 so their units fail.
func selectClasses(f *dex.File, classes []string) []target {
	if len(classes) == 0 {
		targets := make([]target, f.NumClasses())
		for i := range targets {
			targets[i] = target{index: i, desc: f.ClassType(i)}
		}
		return targets
	}
	index := make(map[string]int, f.NumClasses())
	for i, desc := range f.ClassTypes() {
		if desc != "" {
			index[desc] = i
		}
	}
	targets := make([]target, 0, len(classes))
	for _, desc := range classes {
		i, ok := index[desc]
		if !ok {
			i = -1
		}
		targets = append(targets, target{index: i, desc: desc})
	}
	return targets
}

func (t target) name() string {
	if t.desc == "" {
		return fmt.Sprintf("class #%d", t.index)
	}
	return t.desc
}

// class decodes the target class, logging why it cannot be.
func (t target) class(f *dex.File) (*dex.ClassDef, bool) {
	if t.index < 0 {
		log.Errorf("%s: class not found in container", t.desc)
		return nil, false
	}
	c, err := f.Class(t.index)
	if err != nil {
		log.Errorf("%s: %v", t.name(), err)
		return nil, false
	}
	return c, true
}

// Disassemble writes one assembly file per selected class below outDir.
// A class that fails leaves no file behind, and a file left by an earlier
// run for it is removed; the other classes are still written.
func Disassemble(ctx context.Context, f *dex.File, outDir string, jobs int, opts disasm.Options, classes []string) (*Report, error) {
	targets := selectClasses(f, classes)
	descs := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.desc != "" {
			descs = append(descs, t.desc)
		}
	}
	names := naming.NewResolver(outDir, descs)

	units := make([]Unit, len(targets))
	for i, t := range targets {
		units[i] = Unit{
			Name: t.name(),
			Run: func(ctx context.Context) (bool, error) {
				if t.index < 0 || t.desc == "" {
					_, ok := t.class(f)
					return ok, nil
				}
				path, err := names.Resolve(t.desc)
				if err != nil {
					log.Errorf("%s: %v", t.desc, err)
					return false, nil
				}
				if disassembleClass(f, t, path, opts) {
					return true, nil
				}
				// Output from an earlier run must not outlive a failure.
				if err := os.Remove(path); err == nil {
					log.Infof("removed stale %s", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					log.Errorf("%s: %v", t.desc, err)
				}
				return false, nil
			},
		}
	}
	log.Infof("disassembling %d classes with %d jobs", len(units), jobs)
	return RunAll(ctx, units, jobs)
}

// disassembleClass renders one class to path, logging why it cannot.
func disassembleClass(f *dex.File, t target, path string, opts disasm.Options) bool {
	c, ok := t.class(f)
	if !ok {
		return false
	}
	text, err := disasm.Render(c, opts)
	if err != nil {
		log.Errorf("%s: %v", c.Type, err)
		return false
	}
	if err := writeFile(path, text); err != nil {
		log.Errorf("%s: %v", c.Type, err)
		return false
	}
	log.Debugf("wrote %s", path)
	return true
}

// writeFile writes data to a temporary file next to path and renames it into
// place. The temporary file is removed on any failure.
func writeFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("pipeline: cannot create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("pipeline: cannot create output file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pipeline: cannot write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pipeline: cannot write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("pipeline: cannot write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("pipeline: cannot write %s: %w", path, err)
	}
	return nil
}
