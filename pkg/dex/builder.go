package dex

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Builder: append-only accumulator of class definitions
// ---------------------------------------------------------------------------

// Builder collects class definitions from concurrent encoders and serializes
// them into a single container. Constant pools are interned under a mutex;
// indices handed out by the Intern methods are provisional, final indices are
// assigned in sorted order by WriteTo so output does not depend on the order
// in which classes were added.
type Builder struct {
	mu          sync.Mutex
	strings     map[string]int
	types       map[string]int
	protos      map[string]int
	fields      map[FieldRef]int
	methods     map[string]int
	methodRefs  map[string]MethodRef
	classes     map[string]*ClassDef
	odexVersion int
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		strings:    make(map[string]int),
		types:      make(map[string]int),
		protos:     make(map[string]int),
		fields:     make(map[FieldRef]int),
		methods:    make(map[string]int),
		methodRefs: make(map[string]MethodRef),
		classes:    make(map[string]*ClassDef),
	}
}

// SetOdexVersion marks the output as an optimized container of the given
// version. Zero means unoptimized.
func (b *Builder) SetOdexVersion(v int) {
	b.mu.Lock()
	b.odexVersion = v
	b.mu.Unlock()
}

// InternString returns the provisional index of s, adding it if needed.
func (b *Builder) InternString(s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.internString(s)
}

// InternType returns the provisional index of a type descriptor.
func (b *Builder) InternType(desc string) (int, error) {
	if !ValidTypeDescriptor(desc) {
		return 0, fmt.Errorf("%w: type %q", ErrMalformedDescriptor, desc)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.internType(desc), nil
}

// InternField returns the provisional index of a field reference.
func (b *Builder) InternField(f FieldRef) (int, error) {
	if err := checkField(f); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.internField(f), nil
}

// InternMethod returns the provisional index of a method reference.
func (b *Builder) InternMethod(m MethodRef) (int, error) {
	if err := checkMethod(m); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.internMethod(m), nil
}

// Intern interns any symbolic reference.
func (b *Builder) Intern(ref Reference) (int, error) {
	switch r := ref.(type) {
	case StringRef:
		return b.InternString(string(r)), nil
	case TypeRef:
		return b.InternType(string(r))
	case FieldRef:
		return b.InternField(r)
	case MethodRef:
		return b.InternMethod(r)
	}
	return 0, fmt.Errorf("dex: cannot intern %T", ref)
}

func (b *Builder) internString(s string) int {
	if idx, ok := b.strings[s]; ok {
		return idx
	}
	idx := len(b.strings)
	b.strings[s] = idx
	return idx
}

func (b *Builder) internType(desc string) int {
	if idx, ok := b.types[desc]; ok {
		return idx
	}
	b.internString(desc)
	idx := len(b.types)
	b.types[desc] = idx
	return idx
}

func (b *Builder) internProto(params []string, ret string) int {
	key := protoKey(params, ret)
	if idx, ok := b.protos[key]; ok {
		return idx
	}
	b.internType(ret)
	for _, p := range params {
		b.internType(p)
	}
	idx := len(b.protos)
	b.protos[key] = idx
	return idx
}

func (b *Builder) internField(f FieldRef) int {
	if idx, ok := b.fields[f]; ok {
		return idx
	}
	b.internType(f.Class)
	b.internType(f.Type)
	b.internString(f.Name)
	idx := len(b.fields)
	b.fields[f] = idx
	return idx
}

func (b *Builder) internMethod(m MethodRef) int {
	key := m.String()
	if idx, ok := b.methods[key]; ok {
		return idx
	}
	b.internType(m.Class)
	b.internProto(m.Params, m.Return)
	b.internString(m.Name)
	idx := len(b.methods)
	b.methods[key] = idx
	b.methodRefs[key] = m
	return idx
}

func checkField(f FieldRef) error {
	if !ValidClassDescriptor(f.Class) || !validMemberName(f.Name) || f.Type == "V" || !ValidTypeDescriptor(f.Type) {
		return fmt.Errorf("%w: field %s", ErrMalformedDescriptor, f)
	}
	return nil
}

func checkMethod(m MethodRef) error {
	if !IsReference(m.Class) || !ValidTypeDescriptor(m.Class) || !validMemberName(m.Name) || !ValidTypeDescriptor(m.Return) {
		return fmt.Errorf("%w: method %s", ErrMalformedDescriptor, m)
	}
	for _, p := range m.Params {
		if p == "V" || !ValidTypeDescriptor(p) {
			return fmt.Errorf("%w: method %s", ErrMalformedDescriptor, m)
		}
	}
	return nil
}

func protoKey(params []string, ret string) string {
	key := ret + "("
	for _, p := range params {
		key += p
	}
	return key + ")"
}

// AddClass appends a class. All references in the class are validated before
// anything is interned, so a rejected class leaves the builder unchanged.
func (b *Builder) AddClass(c *ClassDef) error {
	refs, err := classReferences(c)
	if err != nil {
		return &ClassError{Class: c.Type, Err: err}
	}
	for _, r := range refs {
		if err := checkReference(r); err != nil {
			return &ClassError{Class: c.Type, Err: err}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.classes[c.Type]; dup {
		return &ClassError{Class: c.Type, Err: ErrDuplicateClass}
	}
	for _, r := range refs {
		switch r := r.(type) {
		case StringRef:
			b.internString(string(r))
		case TypeRef:
			b.internType(string(r))
		case FieldRef:
			b.internField(r)
		case MethodRef:
			b.internMethod(r)
		}
	}
	b.classes[c.Type] = c
	return nil
}

func checkReference(r Reference) error {
	switch r := r.(type) {
	case TypeRef:
		if !ValidTypeDescriptor(string(r)) {
			return fmt.Errorf("%w: type %q", ErrMalformedDescriptor, string(r))
		}
	case FieldRef:
		return checkField(r)
	case MethodRef:
		return checkMethod(r)
	}
	return nil
}

// Len returns the number of classes added so far.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.classes)
}

// HasClass reports whether a class with the descriptor was added.
func (b *Builder) HasClass(desc string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.classes[desc]
	return ok
}

// Bytes serializes the container.
func (b *Builder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo serializes the container to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	img, px := b.layoutPools()
	classes := make([]*ClassDef, 0, len(b.classes))
	for _, c := range b.classes {
		classes = append(classes, c)
	}
	b.mu.Unlock()

	sort.Slice(classes, func(i, j int) bool { return classes[i].Type < classes[j].Type })
	for _, c := range classes {
		item, err := px.encodeClass(c)
		if err != nil {
			return 0, &ClassError{Class: c.Type, Err: err}
		}
		raw, err := cborEncMode.Marshal(item)
		if err != nil {
			return 0, fmt.Errorf("dex: marshal class %s: %w", c.Type, err)
		}
		img.ClassTypes = append(img.ClassTypes, uint32(px.types[c.Type]))
		img.Classes = append(img.Classes, raw)
	}

	body, err := cborEncMode.Marshal(img)
	if err != nil {
		return 0, fmt.Errorf("dex: marshal container: %w", err)
	}
	n, err := w.Write(Magic[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(body)
	return int64(n + m), err
}

// layoutPools sorts every pool and builds the final index maps.
// Must be called with b.mu held.
func (b *Builder) layoutPools() (*imageFile, *poolIndex) {
	px := &poolIndex{
		strings: make(map[string]int, len(b.strings)),
		types:   make(map[string]int, len(b.types)),
		protos:  make(map[string]int, len(b.protos)),
		fields:  make(map[FieldRef]int, len(b.fields)),
		methods: make(map[string]int, len(b.methods)),
	}
	img := &imageFile{OdexVersion: b.odexVersion}

	img.Strings = sortedKeys(b.strings)
	for i, s := range img.Strings {
		px.strings[s] = i
	}
	for i, t := range sortedKeys(b.types) {
		px.types[t] = i
		img.Types = append(img.Types, uint32(px.strings[t]))
	}

	protoKeys := sortedKeys(b.protos)
	protoParts := make(map[string]MethodRef)
	for _, m := range b.methodRefs {
		protoParts[protoKey(m.Params, m.Return)] = m
	}
	for i, key := range protoKeys {
		px.protos[key] = i
		m := protoParts[key]
		item := protoItem{Return: uint32(px.types[m.Return])}
		for _, p := range m.Params {
			item.Params = append(item.Params, uint32(px.types[p]))
		}
		img.Protos = append(img.Protos, item)
	}

	fields := make([]FieldRef, 0, len(b.fields))
	for f := range b.fields {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].String() < fields[j].String() })
	for i, f := range fields {
		px.fields[f] = i
		img.Fields = append(img.Fields, fieldItem{
			Class: uint32(px.types[f.Class]),
			Type:  uint32(px.types[f.Type]),
			Name:  uint32(px.strings[f.Name]),
		})
	}

	for i, key := range sortedKeys(b.methods) {
		m := b.methodRefs[key]
		px.methods[key] = i
		img.Methods = append(img.Methods, methodItem{
			Class: uint32(px.types[m.Class]),
			Proto: uint32(px.protos[protoKey(m.Params, m.Return)]),
			Name:  uint32(px.strings[m.Name]),
		})
	}
	return img, px
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Reference collection
// ---------------------------------------------------------------------------

// classReferences lists every constant a class needs in the pools.
func classReferences(c *ClassDef) ([]Reference, error) {
	if !ValidClassDescriptor(c.Type) {
		return nil, fmt.Errorf("%w: class %q", ErrMalformedDescriptor, c.Type)
	}
	refs := []Reference{TypeRef(c.Type)}
	if c.Super != "" {
		refs = append(refs, TypeRef(c.Super))
	}
	for _, i := range c.Interfaces {
		refs = append(refs, TypeRef(i))
	}
	if c.SourceFile != "" {
		refs = append(refs, StringRef(c.SourceFile))
	}
	refs = annotationRefs(refs, c.Annotations)
	for _, f := range c.Fields() {
		if f.Ref.Class != c.Type {
			return nil, fmt.Errorf("dex: field %s declared in %s", f.Ref, c.Type)
		}
		refs = append(refs, f.Ref)
		if f.Initial != nil {
			refs = valueRefs(refs, *f.Initial)
		}
		refs = annotationRefs(refs, f.Annotations)
	}
	for _, m := range c.Methods() {
		if m.Ref.Class != c.Type {
			return nil, fmt.Errorf("dex: method %s declared in %s", m.Ref, c.Type)
		}
		refs = append(refs, m.Ref)
		refs = annotationRefs(refs, m.Annotations)
		for _, n := range m.ParamNames {
			if n != "" {
				refs = append(refs, StringRef(n))
			}
		}
		if m.Code == nil {
			continue
		}
		if err := CheckCode(m.Code); err != nil {
			if ie, ok := err.(*InstructionError); ok {
				ie.Method = m.Ref.String()
			}
			return nil, err
		}
		for i := range m.Code.Insns {
			if r := m.Code.Insns[i].Ref; r != nil {
				refs = append(refs, r)
			}
		}
		for _, t := range m.Code.Tries {
			for _, h := range t.Handlers {
				if h.Type != "" {
					refs = append(refs, TypeRef(h.Type))
				}
			}
		}
		for _, d := range m.Code.Debug {
			if d.Name != "" {
				refs = append(refs, StringRef(d.Name))
			}
			if d.Type != "" {
				refs = append(refs, TypeRef(d.Type))
			}
			if d.Signature != "" {
				refs = append(refs, StringRef(d.Signature))
			}
		}
	}
	return refs, nil
}

func annotationRefs(refs []Reference, anns []Annotation) []Reference {
	for _, a := range anns {
		refs = append(refs, TypeRef(a.Type))
		for _, e := range a.Elements {
			refs = append(refs, StringRef(e.Name))
			refs = valueRefs(refs, e.Value)
		}
	}
	return refs
}

func valueRefs(refs []Reference, v Value) []Reference {
	switch v.Kind {
	case ValueString, ValueType, ValueField, ValueMethod, ValueEnum:
		if v.Ref != nil {
			refs = append(refs, v.Ref)
		}
	case ValueArray:
		for _, e := range v.Elems {
			refs = valueRefs(refs, e)
		}
	case ValueAnnotation:
		if v.Annotation != nil {
			refs = annotationRefs(refs, []Annotation{*v.Annotation})
		}
	}
	return refs
}
