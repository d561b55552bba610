package dex

import (
	"fmt"
)

// poolIndex maps symbolic references to their final indices when writing.
type poolIndex struct {
	strings map[string]int
	types   map[string]int
	protos  map[string]int
	fields  map[FieldRef]int
	methods map[string]int
}

func (px *poolIndex) index(ref Reference) (int, error) {
	var (
		idx int
		ok  bool
	)
	switch r := ref.(type) {
	case StringRef:
		idx, ok = px.strings[string(r)]
	case TypeRef:
		idx, ok = px.types[string(r)]
	case FieldRef:
		idx, ok = px.fields[r]
	case MethodRef:
		idx, ok = px.methods[r.String()]
	}
	if !ok {
		return 0, fmt.Errorf("dex: %v is not interned", ref)
	}
	return idx, nil
}

func (px *poolIndex) optString(s string) int64 {
	if s == "" {
		return noIndex
	}
	return int64(px.strings[s])
}

func (px *poolIndex) optType(t string) int64 {
	if t == "" {
		return noIndex
	}
	return int64(px.types[t])
}

func (px *poolIndex) encodeClass(c *ClassDef) (classItem, error) {
	item := classItem{
		Access:      uint32(c.Access),
		Super:       px.optType(c.Super),
		Source:      px.optString(c.SourceFile),
		Annotations: px.encodeAnnotations(c.Annotations),
	}
	for _, t := range c.Interfaces {
		item.Interfaces = append(item.Interfaces, uint32(px.types[t]))
	}
	for _, f := range c.StaticFields {
		item.StaticFields = append(item.StaticFields, px.encodeField(f))
	}
	for _, f := range c.InstanceFields {
		item.InstanceFields = append(item.InstanceFields, px.encodeField(f))
	}
	for i := range c.DirectMethods {
		md, err := px.encodeMethod(&c.DirectMethods[i])
		if err != nil {
			return item, err
		}
		item.DirectMethods = append(item.DirectMethods, md)
	}
	for i := range c.VirtualMethods {
		md, err := px.encodeMethod(&c.VirtualMethods[i])
		if err != nil {
			return item, err
		}
		item.VirtualMethods = append(item.VirtualMethods, md)
	}
	return item, nil
}

func (px *poolIndex) encodeField(f Field) fieldDef {
	fd := fieldDef{
		Field:       uint32(px.fields[f.Ref]),
		Access:      uint32(f.Access),
		Annotations: px.encodeAnnotations(f.Annotations),
	}
	if f.Initial != nil {
		v := px.encodeValue(*f.Initial)
		fd.Initial = &v
	}
	return fd
}

func (px *poolIndex) encodeMethod(m *Method) (methodDef, error) {
	md := methodDef{
		Method:      uint32(px.methods[m.Ref.String()]),
		Access:      uint32(m.Access),
		Annotations: px.encodeAnnotations(m.Annotations),
	}
	for _, n := range m.ParamNames {
		md.ParamNames = append(md.ParamNames, px.optString(n))
	}
	if m.Code == nil {
		return md, nil
	}
	units, err := encodeCode(m.Code.Insns, px.index)
	if err != nil {
		if ie, ok := err.(*InstructionError); ok {
			ie.Method = m.Ref.String()
		}
		return md, err
	}
	ci := &codeItem{
		Registers: uint32(m.Code.Registers),
		Ins:       uint32(m.Code.Ins),
		Outs:      uint32(m.Code.Outs),
		Insns:     units,
	}
	for _, t := range m.Code.Tries {
		ti := tryItem{Start: uint32(t.Start), Count: uint32(t.End - t.Start)}
		for _, h := range t.Handlers {
			ti.Handlers = append(ti.Handlers, handlerItem{Type: px.optType(h.Type), Addr: uint32(h.Addr)})
		}
		ci.Tries = append(ci.Tries, ti)
	}
	for _, d := range m.Code.Debug {
		ci.Debug = append(ci.Debug, debugItem{
			Kind: uint8(d.Kind),
			Addr: uint32(d.Addr),
			Line: int64(d.Line),
			Reg:  uint32(d.Register),
			Name: px.optString(d.Name),
			Type: px.optType(d.Type),
			Sig:  px.optString(d.Signature),
		})
	}
	md.Code = ci
	return md, nil
}

func (px *poolIndex) encodeAnnotations(anns []Annotation) []annotationItem {
	var items []annotationItem
	for _, a := range anns {
		items = append(items, px.encodeAnnotation(a))
	}
	return items
}

func (px *poolIndex) encodeAnnotation(a Annotation) annotationItem {
	item := annotationItem{Visibility: uint8(a.Visibility), Type: uint32(px.types[a.Type])}
	for _, e := range a.Elements {
		item.Elements = append(item.Elements, elementItem{
			Name:  uint32(px.strings[e.Name]),
			Value: px.encodeValue(e.Value),
		})
	}
	return item
}

func (px *poolIndex) encodeValue(v Value) valueItem {
	item := valueItem{Kind: uint8(v.Kind), Bits: v.Int}
	switch v.Kind {
	case ValueString, ValueType, ValueField, ValueMethod, ValueEnum:
		idx, _ := px.index(v.Ref)
		item.Index = uint32(idx)
	case ValueArray:
		for _, e := range v.Elems {
			item.Elems = append(item.Elems, px.encodeValue(e))
		}
	case ValueAnnotation:
		if v.Annotation != nil {
			a := px.encodeAnnotation(*v.Annotation)
			item.Annotation = &a
		}
	}
	return item
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// poolReader resolves pool indices of a parsed container.
type poolReader struct {
	img *imageFile
}

func (pr *poolReader) string(idx int64) (string, error) {
	if idx < 0 || idx >= int64(len(pr.img.Strings)) {
		return "", fmt.Errorf("%w: string %d", ErrIndexOutOfRange, idx)
	}
	return pr.img.Strings[idx], nil
}

func (pr *poolReader) optString(idx int64) (string, error) {
	if idx == noIndex {
		return "", nil
	}
	return pr.string(idx)
}

func (pr *poolReader) typ(idx int64) (string, error) {
	if idx < 0 || idx >= int64(len(pr.img.Types)) {
		return "", fmt.Errorf("%w: type %d", ErrIndexOutOfRange, idx)
	}
	return pr.string(int64(pr.img.Types[idx]))
}

func (pr *poolReader) optType(idx int64) (string, error) {
	if idx == noIndex {
		return "", nil
	}
	return pr.typ(idx)
}

func (pr *poolReader) field(idx int64) (FieldRef, error) {
	if idx < 0 || idx >= int64(len(pr.img.Fields)) {
		return FieldRef{}, fmt.Errorf("%w: field %d", ErrIndexOutOfRange, idx)
	}
	item := pr.img.Fields[idx]
	var f FieldRef
	var err error
	if f.Class, err = pr.typ(int64(item.Class)); err != nil {
		return f, err
	}
	if f.Type, err = pr.typ(int64(item.Type)); err != nil {
		return f, err
	}
	f.Name, err = pr.string(int64(item.Name))
	return f, err
}

func (pr *poolReader) method(idx int64) (MethodRef, error) {
	if idx < 0 || idx >= int64(len(pr.img.Methods)) {
		return MethodRef{}, fmt.Errorf("%w: method %d", ErrIndexOutOfRange, idx)
	}
	item := pr.img.Methods[idx]
	var m MethodRef
	var err error
	if m.Class, err = pr.typ(int64(item.Class)); err != nil {
		return m, err
	}
	if m.Name, err = pr.string(int64(item.Name)); err != nil {
		return m, err
	}
	if int(item.Proto) >= len(pr.img.Protos) {
		return m, fmt.Errorf("%w: proto %d", ErrIndexOutOfRange, item.Proto)
	}
	proto := pr.img.Protos[item.Proto]
	if m.Return, err = pr.typ(int64(proto.Return)); err != nil {
		return m, err
	}
	for _, p := range proto.Params {
		t, err := pr.typ(int64(p))
		if err != nil {
			return m, err
		}
		m.Params = append(m.Params, t)
	}
	return m, nil
}

func (pr *poolReader) resolve(kind RefKind, idx int) (Reference, error) {
	switch kind {
	case RefString:
		s, err := pr.string(int64(idx))
		return StringRef(s), err
	case RefType:
		t, err := pr.typ(int64(idx))
		return TypeRef(t), err
	case RefField:
		return pr.field(int64(idx))
	case RefMethod:
		return pr.method(int64(idx))
	}
	return nil, fmt.Errorf("dex: cannot resolve reference kind %d", kind)
}

func (pr *poolReader) decodeClass(desc string, item *classItem) (*ClassDef, error) {
	c := &ClassDef{Type: desc, Access: AccessFlags(item.Access)}
	var err error
	if c.Super, err = pr.optType(item.Super); err != nil {
		return nil, err
	}
	if c.SourceFile, err = pr.optString(item.Source); err != nil {
		return nil, err
	}
	for _, i := range item.Interfaces {
		t, err := pr.typ(int64(i))
		if err != nil {
			return nil, err
		}
		c.Interfaces = append(c.Interfaces, t)
	}
	if c.Annotations, err = pr.decodeAnnotations(item.Annotations); err != nil {
		return nil, err
	}
	if c.StaticFields, err = pr.decodeFields(item.StaticFields); err != nil {
		return nil, err
	}
	if c.InstanceFields, err = pr.decodeFields(item.InstanceFields); err != nil {
		return nil, err
	}
	if c.DirectMethods, err = pr.decodeMethods(item.DirectMethods); err != nil {
		return nil, err
	}
	if c.VirtualMethods, err = pr.decodeMethods(item.VirtualMethods); err != nil {
		return nil, err
	}
	return c, nil
}

func (pr *poolReader) decodeFields(items []fieldDef) ([]Field, error) {
	var fields []Field
	for _, fd := range items {
		ref, err := pr.field(int64(fd.Field))
		if err != nil {
			return nil, err
		}
		f := Field{Ref: ref, Access: AccessFlags(fd.Access)}
		if fd.Initial != nil {
			v, err := pr.decodeValue(*fd.Initial)
			if err != nil {
				return nil, err
			}
			f.Initial = &v
		}
		if f.Annotations, err = pr.decodeAnnotations(fd.Annotations); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (pr *poolReader) decodeMethods(items []methodDef) ([]Method, error) {
	var methods []Method
	for _, md := range items {
		ref, err := pr.method(int64(md.Method))
		if err != nil {
			return nil, err
		}
		m := Method{Ref: ref, Access: AccessFlags(md.Access)}
		if m.Annotations, err = pr.decodeAnnotations(md.Annotations); err != nil {
			return nil, err
		}
		for _, n := range md.ParamNames {
			name, err := pr.optString(n)
			if err != nil {
				return nil, err
			}
			m.ParamNames = append(m.ParamNames, name)
		}
		if md.Code != nil {
			if m.Code, err = pr.decodeCode(md.Code); err == nil {
				err = CheckCode(m.Code)
			}
			if err != nil {
				if ie, ok := err.(*InstructionError); ok {
					ie.Method = ref.String()
				}
				return nil, err
			}
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func (pr *poolReader) decodeCode(ci *codeItem) (*Code, error) {
	insns, err := decodeCode(ci.Insns, pr.resolve)
	if err != nil {
		return nil, err
	}
	code := &Code{
		Registers: int(ci.Registers),
		Ins:       int(ci.Ins),
		Outs:      int(ci.Outs),
		Insns:     insns,
	}
	for _, ti := range ci.Tries {
		t := TryBlock{Start: int(ti.Start), End: int(ti.Start + ti.Count)}
		for _, h := range ti.Handlers {
			typ, err := pr.optType(h.Type)
			if err != nil {
				return nil, err
			}
			t.Handlers = append(t.Handlers, Handler{Type: typ, Addr: int(h.Addr)})
		}
		code.Tries = append(code.Tries, t)
	}
	for _, di := range ci.Debug {
		d := DebugItem{Kind: DebugKind(di.Kind), Addr: int(di.Addr), Line: int(di.Line), Register: int(di.Reg)}
		if d.Name, err = pr.optString(di.Name); err != nil {
			return nil, err
		}
		if d.Type, err = pr.optType(di.Type); err != nil {
			return nil, err
		}
		if d.Signature, err = pr.optString(di.Sig); err != nil {
			return nil, err
		}
		code.Debug = append(code.Debug, d)
	}
	return code, nil
}

func (pr *poolReader) decodeAnnotations(items []annotationItem) ([]Annotation, error) {
	var anns []Annotation
	for _, item := range items {
		a, err := pr.decodeAnnotation(item)
		if err != nil {
			return nil, err
		}
		anns = append(anns, a)
	}
	return anns, nil
}

func (pr *poolReader) decodeAnnotation(item annotationItem) (Annotation, error) {
	typ, err := pr.typ(int64(item.Type))
	if err != nil {
		return Annotation{}, err
	}
	a := Annotation{Visibility: Visibility(item.Visibility), Type: typ}
	for _, e := range item.Elements {
		name, err := pr.string(int64(e.Name))
		if err != nil {
			return a, err
		}
		v, err := pr.decodeValue(e.Value)
		if err != nil {
			return a, err
		}
		a.Elements = append(a.Elements, AnnotationElement{Name: name, Value: v})
	}
	return a, nil
}

func (pr *poolReader) decodeValue(item valueItem) (Value, error) {
	v := Value{Kind: ValueKind(item.Kind), Int: item.Bits}
	var err error
	switch v.Kind {
	case ValueString:
		v.Ref, err = pr.resolve(RefString, int(item.Index))
	case ValueType:
		v.Ref, err = pr.resolve(RefType, int(item.Index))
	case ValueField, ValueEnum:
		v.Ref, err = pr.resolve(RefField, int(item.Index))
	case ValueMethod:
		v.Ref, err = pr.resolve(RefMethod, int(item.Index))
	case ValueArray:
		for _, e := range item.Elems {
			ev, err := pr.decodeValue(e)
			if err != nil {
				return v, err
			}
			v.Elems = append(v.Elems, ev)
		}
	case ValueAnnotation:
		if item.Annotation == nil {
			return v, fmt.Errorf("dex: annotation value without annotation")
		}
		a, err := pr.decodeAnnotation(*item.Annotation)
		if err != nil {
			return v, err
		}
		v.Annotation = &a
	}
	return v, err
}
