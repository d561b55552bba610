package dex

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// File is a parsed class container. Class bodies are decoded on demand, so a
// malformed class only fails when it is requested.
type File struct {
	// OdexVersion is the optimized-format version, zero for portable input.
	OdexVersion int

	img   *imageFile
	pool  *poolReader
	types []string
	index map[string]int
}

// Open reads and parses a container file.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses a container held in memory.
func Parse(data []byte) (*File, error) {
	if len(data) < len(Magic) || !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return nil, ErrNotContainer
	}
	var img imageFile
	if err := cbor.Unmarshal(data[len(Magic):], &img); err != nil {
		return nil, fmt.Errorf("dex: unmarshal container: %w", err)
	}
	if len(img.ClassTypes) != len(img.Classes) {
		return nil, fmt.Errorf("dex: %d class types for %d classes", len(img.ClassTypes), len(img.Classes))
	}
	f := &File{
		OdexVersion: img.OdexVersion,
		img:         &img,
		pool:        &poolReader{img: &img},
		types:       make([]string, len(img.ClassTypes)),
		index:       make(map[string]int, len(img.ClassTypes)),
	}
	for i, t := range img.ClassTypes {
		// An unresolvable class type is reported by Class(i).
		desc, err := f.pool.typ(int64(t))
		if err != nil {
			continue
		}
		f.types[i] = desc
		f.index[desc] = i
	}
	return f, nil
}

// Optimized reports whether the container holds device-optimized code.
func (f *File) Optimized() bool {
	return f.OdexVersion != 0
}

// NumClasses returns the number of class definitions.
func (f *File) NumClasses() int {
	return len(f.types)
}

// ClassType returns the descriptor of class i, or "" if it does not resolve.
func (f *File) ClassType(i int) string {
	return f.types[i]
}

// ClassTypes returns the descriptors of all classes in container order.
func (f *File) ClassTypes() []string {
	return append([]string(nil), f.types...)
}

// Class decodes class i.
func (f *File) Class(i int) (*ClassDef, error) {
	if i < 0 || i >= len(f.img.Classes) {
		return nil, fmt.Errorf("%w: class %d", ErrIndexOutOfRange, i)
	}
	desc := f.types[i]
	if desc == "" {
		return nil, &ClassError{Class: fmt.Sprintf("#%d", i),
			Err: fmt.Errorf("%w: class type %d", ErrIndexOutOfRange, f.img.ClassTypes[i])}
	}
	var item classItem
	if err := cbor.Unmarshal(f.img.Classes[i], &item); err != nil {
		return nil, &ClassError{Class: desc, Err: fmt.Errorf("unmarshal: %w", err)}
	}
	c, err := f.pool.decodeClass(desc, &item)
	if err != nil {
		return nil, &ClassError{Class: desc, Err: err}
	}
	return c, nil
}

// Lookup decodes the class with the given descriptor.
func (f *File) Lookup(desc string) (*ClassDef, bool, error) {
	i, ok := f.index[desc]
	if !ok {
		return nil, false, nil
	}
	c, err := f.Class(i)
	return c, true, err
}
