// Package naming maps class descriptors to output file paths.
package naming

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/dexasm/pkg/dex"
)

// Extension is appended to every output file.
const Extension = ".smali"

// maxSegment is the longest file name most filesystems accept.
const maxSegment = 255

// Resolver assigns each class descriptor a unique path below a root
// directory. Paths that differ only by case are treated as colliding, and the
// later descriptor in sort order gets a numeric suffix on its file name.
// A Resolver is safe for concurrent use.
type Resolver struct {
	root string

	mu       sync.Mutex
	assigned map[string]string // descriptor -> relative path
	taken    map[string]string // lower-cased relative path -> descriptor
}

// NewResolver creates a resolver rooted at root. The descriptors of every
// class in the run are assigned up front in sorted order, so the result does
// not depend on which worker asks first. Malformed descriptors are skipped
// here and reported by Resolve.
func NewResolver(root string, descriptors []string) *Resolver {
	r := &Resolver{
		root:     root,
		assigned: make(map[string]string),
		taken:    make(map[string]string),
	}
	sorted := append([]string(nil), descriptors...)
	sort.Strings(sorted)
	for _, d := range sorted {
		if _, err := r.assign(d); err != nil {
			continue
		}
	}
	return r
}

// Resolve returns the output path for a descriptor. Descriptors that were not
// known at construction are assigned on first use.
func (r *Resolver) Resolve(desc string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, err := r.assign(desc)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.root, rel), nil
}

// assign must be called with r.mu held, or during construction.
func (r *Resolver) assign(desc string) (string, error) {
	if rel, ok := r.assigned[desc]; ok {
		return rel, nil
	}
	if !dex.ValidClassDescriptor(desc) {
		return "", fmt.Errorf("%w: %q", dex.ErrMalformedDescriptor, desc)
	}

	segs := strings.Split(desc[1:len(desc)-1], "/")
	for i, s := range segs[:len(segs)-1] {
		segs[i] = sanitize(s, "")
	}
	leaf := segs[len(segs)-1]
	dir := filepath.Join(segs[:len(segs)-1]...)

	for n := 0; ; n++ {
		suffix := Extension
		if n > 0 {
			suffix = fmt.Sprintf(".%d%s", n, Extension)
		}
		rel := filepath.Join(dir, sanitize(leaf, suffix))
		key := strings.ToLower(rel)
		if owner, ok := r.taken[key]; ok && owner != desc {
			continue
		}
		r.taken[key] = desc
		r.assigned[desc] = rel
		return rel, nil
	}
}

// sanitize makes a path segment safe on common filesystems and appends suffix.
func sanitize(seg, suffix string) string {
	var b strings.Builder
	for _, c := range seg {
		if c < 0x20 || strings.ContainsRune(`<>:"|?*\`, c) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(c)
	}
	name := b.String()
	if isReserved(name) {
		name += "#"
	}
	if len(name)+len(suffix) > maxSegment {
		h := fnv.New32a()
		h.Write([]byte(name))
		tag := fmt.Sprintf("#%08x", h.Sum32())
		name = truncateUTF8(name, maxSegment-len(suffix)-len(tag)) + tag
	}
	return name + suffix
}

// reservedNames cannot be used as file names on Windows, with any extension.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

func isReserved(name string) bool {
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return reservedNames[strings.ToLower(base)]
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && (s[n]&0xc0) == 0x80 {
		n--
	}
	return s[:n]
}
