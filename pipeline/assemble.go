package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/dexasm/compiler"
	"github.com/chazu/dexasm/pkg/dex"
)

// SourceExt is the extension of assembly source files.
const SourceExt = ".smali"

// CollectSources expands directories into the assembly files below them.
// Files named directly are kept whatever their extension. The result is
// sorted and free of duplicates.
func CollectSources(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if !info.IsDir() {
			add(filepath.Clean(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), SourceExt) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Assemble encodes every source file into one container. Errors are
// reported per file with their line numbers. The container is written to
// sink only when every file assembled; odexVersion marks it optimized.
func Assemble(ctx context.Context, files []string, sink Sink, jobs, odexVersion int) (*Report, error) {
	b := dex.NewBuilder()
	b.SetOdexVersion(odexVersion)

	units := make([]Unit, len(files))
	for i, path := range files {
		units[i] = Unit{
			Name: path,
			Run: func(ctx context.Context) (bool, error) {
				text, err := os.ReadFile(path)
				if err != nil {
					log.Errorf("%v", err)
					return false, nil
				}
				if errs := compiler.Assemble(string(text), b); len(errs) > 0 {
					for _, e := range errs {
						log.Errorf("%s: %s", path, e)
					}
					return false, nil
				}
				return true, nil
			},
		}
	}

	log.Infof("assembling %d files with %d jobs", len(units), jobs)
	report, err := RunAll(ctx, units, jobs)
	if err != nil {
		return report, err
	}
	if !report.OK() {
		log.Errorf("%d files failed, container not written", len(report.Failed()))
		return report, nil
	}
	data, err := b.Bytes()
	if err != nil {
		return report, fmt.Errorf("pipeline: %w", err)
	}
	if err := sink.Write(data); err != nil {
		return report, err
	}
	log.Infof("wrote container with %d classes", b.Len())
	return report, nil
}
