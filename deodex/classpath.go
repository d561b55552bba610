package deodex

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"

	"github.com/chazu/dexasm/pkg/dex"
)

var log = commonlog.GetLogger("dexasm.deodex")

// ContainerExt is the file extension of class containers on the classpath.
const ContainerExt = ".dex"

// ClassProvider supplies class definitions by descriptor. *dex.File is a
// ClassProvider.
type ClassProvider interface {
	Lookup(desc string) (*dex.ClassDef, bool, error)
}

// ClassPath resolves classes against an ordered list of providers. The
// first provider defining a class wins. Class layouts are computed once per
// descriptor; concurrent requests for the same class share one computation.
type ClassPath struct {
	// CheckPackagePrivate stops a package-private method from being
	// overridden by a method of another package when vtables are laid out,
	// as newer runtimes do. Set it before the first lookup.
	CheckPackagePrivate bool

	providers []ClassProvider

	mu     sync.Mutex
	defs   map[string]*dex.ClassDef
	protos map[string]*ClassProto
	flight singleflight.Group
}

// NewClassPath creates a classpath searching providers in order.
func NewClassPath(providers ...ClassProvider) *ClassPath {
	return &ClassPath{
		providers: providers,
		defs:      make(map[string]*dex.ClassDef),
		protos:    make(map[string]*ClassProto),
	}
}

// OpenClassPath opens classpath entries: directories (every container file
// directly inside, in name order), zip archives (every container entry) and
// container files. The extra providers are searched first.
func OpenClassPath(entries []string, extra ...ClassProvider) (*ClassPath, error) {
	providers := append([]ClassProvider(nil), extra...)
	for _, entry := range entries {
		ps, err := openEntry(entry)
		if err != nil {
			return nil, err
		}
		providers = append(providers, ps...)
	}
	return NewClassPath(providers...), nil
}

func openEntry(path string) ([]ClassProvider, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("deodex: classpath entry: %w", err)
	}
	if info.IsDir() {
		names, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("deodex: classpath entry: %w", err)
		}
		var providers []ClassProvider
		for _, e := range names {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ContainerExt) {
				continue
			}
			f, err := dex.Open(filepath.Join(path, e.Name()))
			if err != nil {
				return nil, err
			}
			providers = append(providers, f)
		}
		return providers, nil
	}
	if isArchive(path) {
		return openArchive(path)
	}
	f, err := dex.Open(path)
	if err != nil {
		return nil, err
	}
	return []ClassProvider{f}, nil
}

// isArchive reports whether path names a zip archive.
func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".apk", ".jar":
		return true
	}
	return false
}

// openArchive reads every container entry of a zip archive, in entry name
// order.
func openArchive(path string) ([]ClassProvider, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("deodex: classpath entry: %w", err)
	}
	defer zr.Close()

	files := append([]*zip.File(nil), zr.File...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var providers []ClassProvider
	for _, zf := range files {
		if !strings.HasSuffix(zf.Name, ContainerExt) {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("deodex: %s!%s: %w", path, zf.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("deodex: %s!%s: %w", path, zf.Name, err)
		}
		f, err := dex.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("deodex: %s!%s: %w", path, zf.Name, err)
		}
		providers = append(providers, f)
	}
	return providers, nil
}

// Class returns the definition of desc from the first provider defining it.
func (cp *ClassPath) Class(desc string) (*dex.ClassDef, error) {
	cp.mu.Lock()
	c, ok := cp.defs[desc]
	cp.mu.Unlock()
	if ok {
		return c, nil
	}
	for _, p := range cp.providers {
		c, found, err := p.Lookup(desc)
		if err != nil {
			return nil, err
		}
		if found {
			cp.mu.Lock()
			cp.defs[desc] = c
			cp.mu.Unlock()
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, desc)
}

// Proto returns the resolved layout of a class.
func (cp *ClassPath) Proto(desc string) (*ClassProto, error) {
	cp.mu.Lock()
	p, ok := cp.protos[desc]
	cp.mu.Unlock()
	if ok {
		return p, nil
	}

	v, err, shared := cp.flight.Do(desc, func() (any, error) {
		p, err := cp.buildProto(desc)
		if err != nil {
			return nil, err
		}
		cp.mu.Lock()
		cp.protos[desc] = p
		cp.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debugf("shared layout computation for %s", desc)
	}
	return v.(*ClassProto), nil
}

// superChain returns the superclasses of desc from the nearest up, failing
// on a missing class or a cycle.
func (cp *ClassPath) superChain(desc string) ([]string, error) {
	seen := map[string]bool{desc: true}
	var chain []string
	for cur := desc; ; {
		c, err := cp.Class(cur)
		if err != nil {
			return nil, err
		}
		if c.Super == "" {
			return chain, nil
		}
		if seen[c.Super] {
			return nil, fmt.Errorf("deodex: class %s: cyclic superclass chain through %s", desc, c.Super)
		}
		seen[c.Super] = true
		chain = append(chain, c.Super)
		cur = c.Super
	}
}

// IsSubclass reports whether sub is super or extends it.
func (cp *ClassPath) IsSubclass(sub, super string) bool {
	if sub == super {
		return true
	}
	chain, err := cp.superChain(sub)
	if err != nil {
		return false
	}
	for _, s := range chain {
		if s == super {
			return true
		}
	}
	return false
}

// CommonSuperclass returns the nearest class both a and b extend.
func (cp *ClassPath) CommonSuperclass(a, b string) (string, bool) {
	if a == b {
		return a, true
	}
	ca, err := cp.superChain(a)
	if err != nil {
		return "", false
	}
	cb, err := cp.superChain(b)
	if err != nil {
		return "", false
	}
	ancestors := map[string]bool{a: true}
	for _, s := range ca {
		ancestors[s] = true
	}
	if ancestors[b] {
		return b, true
	}
	for _, s := range cb {
		if ancestors[s] {
			return s, true
		}
	}
	return "", false
}
