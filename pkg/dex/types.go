package dex

import (
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Symbolic references
// ---------------------------------------------------------------------------

// Reference is a symbolic constant pool entry: StringRef, TypeRef,
// FieldRef or MethodRef.
type Reference interface {
	Kind() RefKind
	String() string
}

// StringRef is a string constant.
type StringRef string

// TypeRef is a type descriptor.
type TypeRef string

// FieldRef identifies a field by declaring class, name and type.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

// MethodRef identifies a method by declaring class, name and prototype.
type MethodRef struct {
	Class  string
	Name   string
	Params []string
	Return string
}

func (StringRef) Kind() RefKind { return RefString }
func (TypeRef) Kind() RefKind   { return RefType }
func (FieldRef) Kind() RefKind  { return RefField }
func (MethodRef) Kind() RefKind { return RefMethod }

func (s StringRef) String() string { return Quote(string(s)) }
func (t TypeRef) String() string   { return string(t) }

func (f FieldRef) String() string {
	return f.Class + "->" + f.Sig()
}

// Sig returns the member signature "name:type".
func (f FieldRef) Sig() string {
	return f.Name + ":" + f.Type
}

func (m MethodRef) String() string {
	return m.Class + "->" + m.Sig()
}

// Sig returns the member signature "name(params)ret".
func (m MethodRef) Sig() string {
	return m.Name + m.Proto()
}

// Proto returns the prototype "(params)ret".
func (m MethodRef) Proto() string {
	return "(" + strings.Join(m.Params, "") + ")" + m.Return
}

// ParamRegisters returns the number of registers needed for the arguments,
// including the receiver unless static.
func (m MethodRef) ParamRegisters(static bool) int {
	n := 0
	if !static {
		n = 1
	}
	for _, p := range m.Params {
		n += RegisterWidth(p)
	}
	return n
}

// SameSignature reports whether two methods have the same name and prototype.
func (m MethodRef) SameSignature(o MethodRef) bool {
	return m.Name == o.Name && m.Proto() == o.Proto()
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is a single decoded instruction. Which fields are meaningful
// depends on Op.Format(); consumers switch on the format.
type Instruction struct {
	Op   Opcode
	Addr int // code unit address within the method

	// Regs lists register operands in encoding order. Range formats list
	// every register of the range.
	Regs []int

	Literal int64     // 11n, 21s, 21h (already shifted), 22b, 22s, 31i, 51l
	Target  int       // absolute address of a branch target or payload
	Ref     Reference // 21c, 22c, 31c, 35c, 3rc
	Index   int       // raw inline index, vtable index or field offset

	// Payload data.
	FirstKey     int32
	Keys         []int32
	Targets      []int // absolute addresses, relative to the owning switch on disk
	ElementWidth int
	Data         []byte
}

// Units returns the encoded size of the instruction in code units.
func (in *Instruction) Units() int {
	switch in.Op.Format() {
	case FormatPackedSwitchPayload:
		return 4 + 2*len(in.Targets)
	case FormatSparseSwitchPayload:
		return 2 + 4*len(in.Targets)
	case FormatArrayPayload:
		return 4 + (len(in.Data)+1)/2
	}
	return in.Op.Format().Units()
}

// Elements returns the number of elements in an array payload.
func (in *Instruction) Elements() int {
	if in.ElementWidth == 0 {
		return 0
	}
	return len(in.Data) / in.ElementWidth
}

// Optimized reports whether the instruction is a device-optimized form.
func (in *Instruction) Optimized() bool {
	return in.Op.OdexKind() != NotOptimized
}

// MethodRef returns the instruction's method reference, if any.
func (in *Instruction) MethodRef() (MethodRef, bool) {
	m, ok := in.Ref.(MethodRef)
	return m, ok
}

// ---------------------------------------------------------------------------
// Class structure
// ---------------------------------------------------------------------------

// Handler is one catch clause of a try block. An empty Type catches all.
type Handler struct {
	Type string
	Addr int
}

// TryBlock covers the code units [Start, End).
type TryBlock struct {
	Start    int
	End      int
	Handlers []Handler
}

// DebugKind identifies a debug directive.
type DebugKind uint8

const (
	DebugLine DebugKind = iota
	DebugStartLocal
	DebugEndLocal
	DebugRestartLocal
	DebugPrologue
	DebugEpilogue
)

// DebugItem is a debug directive positioned at a code address.
type DebugItem struct {
	Kind      DebugKind
	Addr      int
	Line      int
	Register  int
	Name      string
	Type      string
	Signature string
}

// Code is a method body.
type Code struct {
	Registers int
	Ins       int
	Outs      int
	Insns     []Instruction
	Tries     []TryBlock
	Debug     []DebugItem
}

// Size returns the method's code length in code units.
func (c *Code) Size() int {
	if len(c.Insns) == 0 {
		return 0
	}
	last := &c.Insns[len(c.Insns)-1]
	return last.Addr + last.Units()
}

// InstructionAt returns the index of the instruction starting at addr.
func (c *Code) InstructionAt(addr int) (int, bool) {
	lo, hi := 0, len(c.Insns)
	for lo < hi {
		mid := (lo + hi) / 2
		switch a := c.Insns[mid].Addr; {
		case a == addr:
			return mid, true
		case a < addr:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// Visibility is an annotation retention level.
type Visibility uint8

const (
	VisibilityBuild Visibility = iota
	VisibilityRuntime
	VisibilitySystem
)

var visibilityNames = [...]string{"build", "runtime", "system"}

func (v Visibility) String() string {
	if int(v) < len(visibilityNames) {
		return visibilityNames[v]
	}
	return fmt.Sprintf("Visibility(%d)", v)
}

// ParseVisibility returns the visibility named by s.
func ParseVisibility(s string) (Visibility, bool) {
	for i, n := range visibilityNames {
		if n == s {
			return Visibility(i), true
		}
	}
	return 0, false
}

// AnnotationElement is a named annotation value.
type AnnotationElement struct {
	Name  string
	Value Value
}

// Annotation is an annotation instance.
type Annotation struct {
	Visibility Visibility
	Type       string
	Elements   []AnnotationElement
}

// Field is a field declaration.
type Field struct {
	Ref         FieldRef
	Access      AccessFlags
	Initial     *Value
	Annotations []Annotation
}

// Method is a method declaration. Code is nil for abstract and native methods.
type Method struct {
	Ref         MethodRef
	Access      AccessFlags
	Annotations []Annotation
	ParamNames  []string
	Code        *Code
}

// IsStatic reports whether the method takes no receiver.
func (m *Method) IsStatic() bool {
	return m.Access.IsStatic()
}

// ClassDef is a class definition.
type ClassDef struct {
	Type           string
	Access         AccessFlags
	Super          string
	Interfaces     []string
	SourceFile     string
	Annotations    []Annotation
	StaticFields   []Field
	InstanceFields []Field
	DirectMethods  []Method
	VirtualMethods []Method
}

// Methods returns direct methods followed by virtual methods.
func (c *ClassDef) Methods() []*Method {
	ms := make([]*Method, 0, len(c.DirectMethods)+len(c.VirtualMethods))
	for i := range c.DirectMethods {
		ms = append(ms, &c.DirectMethods[i])
	}
	for i := range c.VirtualMethods {
		ms = append(ms, &c.VirtualMethods[i])
	}
	return ms
}

// Fields returns static fields followed by instance fields.
func (c *ClassDef) Fields() []*Field {
	fs := make([]*Field, 0, len(c.StaticFields)+len(c.InstanceFields))
	for i := range c.StaticFields {
		fs = append(fs, &c.StaticFields[i])
	}
	for i := range c.InstanceFields {
		fs = append(fs, &c.InstanceFields[i])
	}
	return fs
}

// FindMethod looks up a declared method by name and prototype.
func (c *ClassDef) FindMethod(name, proto string) *Method {
	for _, m := range c.Methods() {
		if m.Ref.Name == name && m.Ref.Proto() == proto {
			return m
		}
	}
	return nil
}

// IsDirect reports whether a method belongs in the direct method list.
func IsDirect(access AccessFlags, name string) bool {
	return access&(AccStatic|AccPrivate|AccConstructor) != 0 || name == "<init>" || name == "<clinit>"
}

// ---------------------------------------------------------------------------
// Encoded values
// ---------------------------------------------------------------------------

// ValueKind identifies the type of an encoded value.
type ValueKind uint8

const (
	ValueByte ValueKind = iota
	ValueShort
	ValueChar
	ValueInt
	ValueLong
	ValueFloat
	ValueDouble
	ValueString
	ValueType
	ValueField
	ValueMethod
	ValueEnum
	ValueArray
	ValueAnnotation
	ValueNull
	ValueBoolean
)

// Value is a constant used for static field initializers and annotation
// elements. Integral kinds and booleans use Int; float kinds store their
// IEEE bits in Int.
type Value struct {
	Kind       ValueKind
	Int        int64
	Ref        Reference
	Elems      []Value
	Annotation *Annotation
}

// FloatValue returns a float value.
func FloatValue(f float32) Value {
	return Value{Kind: ValueFloat, Int: int64(math.Float32bits(f))}
}

// DoubleValue returns a double value.
func DoubleValue(d float64) Value {
	return Value{Kind: ValueDouble, Int: int64(math.Float64bits(d))}
}

func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Int)) }
func (v Value) Float64() float64 { return math.Float64frombits(uint64(v.Int)) }

// ZeroValue returns the default value for a field of type t.
func ZeroValue(t string) Value {
	switch t {
	case "Z":
		return Value{Kind: ValueBoolean}
	case "B":
		return Value{Kind: ValueByte}
	case "S":
		return Value{Kind: ValueShort}
	case "C":
		return Value{Kind: ValueChar}
	case "I":
		return Value{Kind: ValueInt}
	case "J":
		return Value{Kind: ValueLong}
	case "F":
		return Value{Kind: ValueFloat}
	case "D":
		return Value{Kind: ValueDouble}
	}
	return Value{Kind: ValueNull}
}
