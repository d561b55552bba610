package compiler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/dexasm/pkg/dex"
)

// ---------------------------------------------------------------------------
// Codegen: compile the syntax tree into a class definition
// ---------------------------------------------------------------------------

// Compiler turns a parsed class unit into a dex.ClassDef. Semantic errors
// are accumulated like parse errors; a class with errors is never handed to
// a builder.
type Compiler struct {
	class  string
	errors []string

	// Current method context
	registers int
	ins       int
	labels    map[string]int
	payloads  map[int]dex.Opcode // payload address -> payload pseudo-opcode
	size      int
}

// NewCompiler creates a new compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Errors returns accumulated compilation errors.
func (c *Compiler) Errors() []string {
	return c.errors
}

// errorf records a compilation error at pos.
func (c *Compiler) errorf(pos Position, format string, args ...any) {
	line := pos.Line
	if line < 1 {
		line = 1
	}
	c.errors = append(c.errors, fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)))
}

// Encode compiles f and appends it to b. It returns every error found; the
// class is appended only when there are none.
func Encode(f *ClassFile, b *dex.Builder) []string {
	c := NewCompiler()
	class := c.Compile(f)
	if len(c.errors) > 0 {
		return c.errors
	}
	if err := b.AddClass(class); err != nil {
		c.errorf(f.Pos, "%v", err)
	}
	return c.errors
}

// Assemble parses text and encodes it into b. Syntax errors stop before
// encoding, so no partial class reaches the builder.
func Assemble(text string, b *dex.Builder) []string {
	f, errs := Parse(text)
	if len(errs) > 0 {
		return errs
	}
	return Encode(f, b)
}

// Check reports the syntax errors of text, or its semantic errors when it
// parses cleanly.
func Check(text string) []string {
	f, errs := Parse(text)
	if len(errs) > 0 {
		return errs
	}
	c := NewCompiler()
	c.Compile(f)
	return c.Errors()
}

// Compile compiles a class unit. The result is only meaningful when Errors
// is empty afterwards.
func (c *Compiler) Compile(f *ClassFile) *dex.ClassDef {
	c.class = f.Type
	class := &dex.ClassDef{
		Type:       f.Type,
		Access:     f.Access,
		Super:      f.Super,
		Interfaces: f.Interfaces,
	}
	if f.Source != nil {
		class.SourceFile = *f.Source
	}
	class.Annotations = c.compileAnnotations(f.Annotations)

	seenFields := make(map[string]bool)
	for _, fd := range f.Fields {
		field, ok := c.compileField(fd)
		if !ok {
			continue
		}
		if seenFields[field.Ref.Sig()] {
			c.errorf(fd.Pos, "duplicate field %s", field.Ref.Sig())
			continue
		}
		seenFields[field.Ref.Sig()] = true
		if field.Access.IsStatic() {
			class.StaticFields = append(class.StaticFields, field)
		} else {
			class.InstanceFields = append(class.InstanceFields, field)
		}
	}

	seenMethods := make(map[string]bool)
	for _, md := range f.Methods {
		m, ok := c.compileMethod(md)
		if !ok {
			continue
		}
		if seenMethods[m.Ref.Sig()] {
			c.errorf(md.Pos, "duplicate method %s", m.Ref.Sig())
			continue
		}
		seenMethods[m.Ref.Sig()] = true
		if dex.IsDirect(m.Access, m.Ref.Name) {
			class.DirectMethods = append(class.DirectMethods, m)
		} else {
			class.VirtualMethods = append(class.VirtualMethods, m)
		}
	}
	return class
}

// ---------------------------------------------------------------------------
// Fields, annotations and values
// ---------------------------------------------------------------------------

func (c *Compiler) compileField(fd *FieldNode) (dex.Field, bool) {
	field := dex.Field{
		Ref:         dex.FieldRef{Class: c.class, Name: fd.Name, Type: fd.Type},
		Access:      fd.Access,
		Annotations: c.compileAnnotations(fd.Annotations),
	}
	if fd.Initial == nil {
		return field, true
	}
	if !fd.Access.IsStatic() {
		c.errorf(fd.Pos, "instance field %s cannot have an initial value", fd.Name)
		return field, false
	}
	v, ok := c.initialValue(fd.Initial, fd.Type)
	if !ok {
		return field, false
	}
	field.Initial = &v
	return field, true
}

// initialValue compiles a static field initializer. Integer and float
// literals take their width from the field type.
func (c *Compiler) initialValue(v *ValueNode, typ string) (dex.Value, bool) {
	switch {
	case v.Kind == ValInt || (v.Kind == ValChar && typ != "C"):
		var kind dex.ValueKind
		var bits int
		switch typ {
		case "B":
			kind, bits = dex.ValueByte, 8
		case "S":
			kind, bits = dex.ValueShort, 16
		case "C":
			kind, bits = dex.ValueChar, 16
		case "I":
			kind, bits = dex.ValueInt, 32
		case "J":
			kind, bits = dex.ValueLong, 64
		default:
			return c.compileValue(v)
		}
		n, ok := c.fitInt(v, bits, kind == dex.ValueChar)
		return dex.Value{Kind: kind, Int: n}, ok
	case v.Kind == ValFloat && typ == "F":
		return dex.FloatValue(float32(v.Float)), true
	case v.Kind == ValFloat && typ == "D":
		return dex.DoubleValue(v.Float), true
	}
	return c.compileValue(v)
}

// fitInt checks that v fits in bits and returns it sign-extended, or
// zero-extended for unsigned values.
func (c *Compiler) fitInt(v *ValueNode, bits int, unsigned bool) (int64, bool) {
	n := v.Int
	if bits == 64 {
		return n, true
	}
	lo, hi := -(int64(1) << (bits - 1)), int64(1)<<bits-1
	if n < lo || n > hi {
		c.errorf(v.Pos, "literal %d does not fit in %d bits", n, bits)
		return 0, false
	}
	shift := 64 - bits
	if unsigned {
		return int64(uint64(n) << shift >> shift), true
	}
	return n << shift >> shift, true
}

func (c *Compiler) compileValue(v *ValueNode) (dex.Value, bool) {
	switch v.Kind {
	case ValInt:
		switch v.Suffix {
		case 'L':
			return dex.Value{Kind: dex.ValueLong, Int: v.Int}, true
		case 't':
			n, ok := c.fitInt(v, 8, false)
			return dex.Value{Kind: dex.ValueByte, Int: n}, ok
		case 's':
			n, ok := c.fitInt(v, 16, false)
			return dex.Value{Kind: dex.ValueShort, Int: n}, ok
		}
		n, ok := c.fitInt(v, 32, false)
		return dex.Value{Kind: dex.ValueInt, Int: n}, ok
	case ValFloat:
		if v.Suffix == 'f' {
			return dex.FloatValue(float32(v.Float)), true
		}
		return dex.DoubleValue(v.Float), true
	case ValString:
		return dex.Value{Kind: dex.ValueString, Ref: dex.StringRef(v.Str)}, true
	case ValChar:
		return dex.Value{Kind: dex.ValueChar, Int: v.Int}, true
	case ValBool:
		return dex.Value{Kind: dex.ValueBoolean, Int: v.Int}, true
	case ValNull:
		return dex.Value{Kind: dex.ValueNull}, true
	case ValType:
		return dex.Value{Kind: dex.ValueType, Ref: v.Ref}, true
	case ValField:
		return dex.Value{Kind: dex.ValueField, Ref: v.Ref}, true
	case ValMethod:
		return dex.Value{Kind: dex.ValueMethod, Ref: v.Ref}, true
	case ValEnum:
		return dex.Value{Kind: dex.ValueEnum, Ref: v.Ref}, true
	case ValArray:
		out := dex.Value{Kind: dex.ValueArray}
		ok := true
		for _, e := range v.Elems {
			ev, eok := c.compileValue(e)
			ok = ok && eok
			out.Elems = append(out.Elems, ev)
		}
		return out, ok
	case ValAnnotation:
		a := c.compileAnnotation(v.Annotation)
		return dex.Value{Kind: dex.ValueAnnotation, Annotation: &a}, true
	}
	c.errorf(v.Pos, "unsupported value")
	return dex.Value{}, false
}

func (c *Compiler) compileAnnotations(nodes []*AnnotationNode) []dex.Annotation {
	var anns []dex.Annotation
	seen := make(map[string]bool)
	for _, n := range nodes {
		if seen[n.Type] {
			c.errorf(n.Pos, "duplicate annotation %s", n.Type)
			continue
		}
		seen[n.Type] = true
		anns = append(anns, c.compileAnnotation(n))
	}
	return anns
}

func (c *Compiler) compileAnnotation(n *AnnotationNode) dex.Annotation {
	a := dex.Annotation{Visibility: n.Visibility, Type: n.Type}
	for _, e := range n.Elements {
		v, ok := c.compileValue(e.Value)
		if !ok {
			continue
		}
		a.Elements = append(a.Elements, dex.AnnotationElement{Name: e.Name, Value: v})
	}
	return a
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

func (c *Compiler) compileMethod(md *MethodNode) (dex.Method, bool) {
	m := dex.Method{
		Ref:         dex.MethodRef{Class: c.class, Name: md.Name, Params: md.Params, Return: md.Return},
		Access:      md.Access,
		Annotations: c.compileAnnotations(md.Annotations),
	}
	before := len(c.errors)

	hasBody := len(md.Body) > 0 || md.Registers >= 0
	if !hasBody {
		if len(md.ParamDecls) > 0 {
			// Parameter names need register numbers, which need a body.
			c.errorf(md.Pos, "method %s declares parameters without .registers", md.Name)
		}
		return m, len(c.errors) == before
	}
	if md.Access&(dex.AccAbstract|dex.AccNative) != 0 {
		c.errorf(md.Pos, "abstract or native method %s cannot have code", md.Name)
		return m, false
	}
	if md.Registers < 0 {
		c.errorf(md.Pos, "method %s has code but no .registers or .locals", md.Name)
		return m, false
	}

	c.ins = m.Ref.ParamRegisters(m.Access.IsStatic())
	c.registers = md.Registers
	if md.Locals {
		c.registers += c.ins
	}
	if c.registers < c.ins {
		c.errorf(md.Pos, "method %s declares %d registers but its parameters need %d", md.Name, c.registers, c.ins)
		return m, false
	}
	if c.registers > math.MaxUint16 {
		c.errorf(md.Pos, "method %s declares too many registers (%d)", md.Name, c.registers)
		return m, false
	}

	m.ParamNames = c.paramNames(md, m.Access.IsStatic())
	m.Code = c.compileCode(md)
	return m, len(c.errors) == before
}

// reg maps a vN or pN register to its frame index.
func (c *Compiler) reg(pos Position, r Register) (int, bool) {
	if r.Param {
		if r.Num >= c.ins {
			c.errorf(pos, "parameter register %s out of range (method has %d parameter registers)", r, c.ins)
			return 0, false
		}
		return c.registers - c.ins + r.Num, true
	}
	if r.Num >= c.registers {
		c.errorf(pos, "register %s out of range (method has %d registers)", r, c.registers)
		return 0, false
	}
	return r.Num, true
}

// paramNames maps .param directives to parameter indices.
func (c *Compiler) paramNames(md *MethodNode, static bool) []string {
	if len(md.ParamDecls) == 0 {
		return nil
	}
	// Frame index of each parameter's first register.
	starts := make(map[int]int)
	next := c.registers - c.ins
	if !static {
		next++
	}
	for i, p := range md.Params {
		starts[next] = i
		next += dex.RegisterWidth(p)
	}

	var names []string
	for _, pd := range md.ParamDecls {
		r, ok := c.reg(pd.Pos, pd.Reg)
		if !ok {
			continue
		}
		idx, ok := starts[r]
		if !ok {
			c.errorf(pd.Pos, ".param %s does not name a parameter", pd.Reg)
			continue
		}
		for len(names) <= idx {
			names = append(names, "")
		}
		if pd.Name != nil {
			names[idx] = *pd.Name
		}
	}
	return names
}

// compileCode lays out the body in two passes: addresses and labels first,
// then instructions with resolved targets.
func (c *Compiler) compileCode(md *MethodNode) *dex.Code {
	code := &dex.Code{Registers: c.registers, Ins: c.ins}
	c.labels = make(map[string]int)
	c.payloads = make(map[int]dex.Opcode)

	// Pass 1: addresses.
	addrs := make([]int, len(md.Body))
	pads := make(map[int]bool)
	var pending []string // labels defined since the last sized statement
	addr := 0
	for i, st := range md.Body {
		units := 0
		switch s := st.(type) {
		case *LabelStmt:
			if _, dup := c.labels[s.Name]; dup {
				c.errorf(s.Pos, "duplicate label :%s", s.Name)
				continue
			}
			c.labels[s.Name] = addr
			pending = append(pending, s.Name)
		case *InstructionStmt:
			op, ok := dex.LookupMnemonic(s.Mnemonic)
			if !ok {
				c.errorf(s.Pos, "unknown instruction %s", s.Mnemonic)
				continue
			}
			if op.OdexKind() != dex.NotOptimized {
				c.errorf(s.Pos, "optimized instruction %s cannot be assembled", s.Mnemonic)
				continue
			}
			if op.Format().IsPayload() {
				c.errorf(s.Pos, "%s is written as a payload directive", s.Mnemonic)
				continue
			}
			units = op.Format().Units()
		case *PackedSwitchStmt, *SparseSwitchStmt, *ArrayDataStmt:
			if addr%2 != 0 {
				pads[i] = true
				addr++
				for _, l := range pending {
					c.labels[l] = addr
				}
			}
			op, n := payloadSize(st)
			c.payloads[addr] = op
			units = n
		}
		addrs[i] = addr
		if units > 0 {
			addr += units
			pending = pending[:0]
		}
	}
	c.size = addr

	// Pass 2: instructions.
	type tryKey struct{ start, end int }
	var tryOrder []tryKey
	tries := make(map[tryKey]*dex.TryBlock)
	for i, st := range md.Body {
		addr := addrs[i]
		switch s := st.(type) {
		case *InstructionStmt:
			op, ok := dex.LookupMnemonic(s.Mnemonic)
			if !ok || op.OdexKind() != dex.NotOptimized || op.Format().IsPayload() {
				continue
			}
			in, ok := c.instruction(s, op, addr)
			if !ok {
				continue
			}
			if err := dex.Validate(&in); err != nil {
				c.errorf(s.Pos, "%s", stripSentinel(err))
				continue
			}
			if op.Has(dex.FlagInvoke) && len(in.Regs) > code.Outs {
				code.Outs = len(in.Regs)
			}
			code.Insns = append(code.Insns, in)
		case *PackedSwitchStmt, *SparseSwitchStmt, *ArrayDataStmt:
			if pads[i] {
				code.Insns = append(code.Insns, dex.Instruction{Op: dex.OpNop, Addr: addr - 1})
			}
			in, ok := c.payload(st, addr)
			if !ok {
				continue
			}
			if err := dex.Validate(&in); err != nil {
				c.errorf(st.Position(), "%s", stripSentinel(err))
				continue
			}
			code.Insns = append(code.Insns, in)
		case *CatchStmt:
			start, ok1 := c.label(s.Pos, s.Start)
			end, ok2 := c.label(s.Pos, s.End)
			handler, ok3 := c.label(s.Pos, s.Handler)
			if !ok1 || !ok2 || !ok3 {
				continue
			}
			if end <= start {
				c.errorf(s.Pos, "empty try range :%s .. :%s", s.Start, s.End)
				continue
			}
			if handler >= c.size || c.payloads[handler] != 0 {
				c.errorf(s.Pos, "handler :%s is not an instruction", s.Handler)
				continue
			}
			key := tryKey{start, end}
			t, ok := tries[key]
			if !ok {
				t = &dex.TryBlock{Start: start, End: end}
				tries[key] = t
				tryOrder = append(tryOrder, key)
			}
			for _, h := range t.Handlers {
				if h.Type == s.Type {
					c.errorf(s.Pos, "duplicate handler for %s", catchName(s.Type))
				}
			}
			t.Handlers = append(t.Handlers, dex.Handler{Type: s.Type, Addr: handler})
		case *DebugStmt:
			d := dex.DebugItem{Kind: s.Kind, Addr: addr}
			switch s.Kind {
			case dex.DebugLine:
				d.Line = s.Line
			case dex.DebugStartLocal:
				d.Name, d.Type, d.Signature = s.Name, s.Type, s.Signature
				fallthrough
			case dex.DebugEndLocal, dex.DebugRestartLocal:
				r, ok := c.reg(s.Pos, s.Reg)
				if !ok {
					continue
				}
				d.Register = r
			}
			code.Debug = append(code.Debug, d)
		}
	}
	if len(md.Body) > 0 {
		// Debug items after the last instruction belong to the end address.
		for i := range code.Debug {
			if code.Debug[i].Addr > c.size {
				code.Debug[i].Addr = c.size
			}
		}
	}

	sort.SliceStable(tryOrder, func(i, j int) bool { return tryOrder[i].start < tryOrder[j].start })
	for i, k := range tryOrder {
		if i > 0 && k.start < tryOrder[i-1].end {
			c.errorf(md.Pos, "overlapping try ranges at %#x", k.start)
		}
		code.Tries = append(code.Tries, *tries[k])
	}
	return code
}

func catchName(t string) string {
	if t == "" {
		return "catchall"
	}
	return t
}

// payloadSize returns the pseudo-opcode and code units of a payload block.
func payloadSize(st Statement) (dex.Opcode, int) {
	switch s := st.(type) {
	case *PackedSwitchStmt:
		return dex.OpPackedSwitchPayload, 4 + 2*len(s.Targets)
	case *SparseSwitchStmt:
		return dex.OpSparseSwitchPayload, 2 + 4*len(s.Targets)
	case *ArrayDataStmt:
		return dex.OpArrayPayload, 4 + (len(s.Elements)*s.Width+1)/2
	}
	return 0, 0
}

func (c *Compiler) label(pos Position, name string) (int, bool) {
	addr, ok := c.labels[name]
	if !ok {
		c.errorf(pos, "undefined label :%s", name)
	}
	return addr, ok
}

func (c *Compiler) payload(st Statement, addr int) (dex.Instruction, bool) {
	switch s := st.(type) {
	case *PackedSwitchStmt:
		in := dex.Instruction{Op: dex.OpPackedSwitchPayload, Addr: addr, FirstKey: s.FirstKey}
		targets, ok := c.branchTargets(s.Pos, s.Targets)
		in.Targets = targets
		return in, ok
	case *SparseSwitchStmt:
		in := dex.Instruction{Op: dex.OpSparseSwitchPayload, Addr: addr, Keys: s.Keys}
		targets, ok := c.branchTargets(s.Pos, s.Targets)
		in.Targets = targets
		return in, ok
	case *ArrayDataStmt:
		in := dex.Instruction{Op: dex.OpArrayPayload, Addr: addr, ElementWidth: s.Width}
		switch s.Width {
		case 1, 2, 4, 8:
		default:
			c.errorf(s.Pos, "invalid array element width %d", s.Width)
			return in, false
		}
		in.Data = make([]byte, 0, len(s.Elements)*s.Width)
		for _, e := range s.Elements {
			bits := 8 * s.Width
			if bits < 64 && (e < -(int64(1)<<(bits-1)) || e > int64(1)<<bits-1) {
				c.errorf(s.Pos, "array element %d does not fit in %d bytes", e, s.Width)
				return in, false
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(e))
			in.Data = append(in.Data, buf[:s.Width]...)
		}
		return in, true
	}
	return dex.Instruction{}, false
}

func (c *Compiler) branchTargets(pos Position, names []string) ([]int, bool) {
	targets := make([]int, len(names))
	ok := true
	for i, n := range names {
		t, found := c.branchTarget(pos, n)
		targets[i] = t
		ok = ok && found
	}
	return targets, ok
}

// branchTarget resolves a label that control can transfer to.
func (c *Compiler) branchTarget(pos Position, name string) (int, bool) {
	addr, ok := c.label(pos, name)
	if !ok {
		return 0, false
	}
	if addr >= c.size {
		c.errorf(pos, "branch target :%s is outside the method", name)
		return 0, false
	}
	if c.payloads[addr] != 0 {
		c.errorf(pos, "branch target :%s is a data payload", name)
		return 0, false
	}
	return addr, true
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// operandShapes gives the operand list of each format: r register, l label,
// p payload label, i literal, x constant pool reference, L register list,
// R register range.
var operandShapes = map[dex.Format]string{
	dex.Format10x: "",
	dex.Format12x: "rr",
	dex.Format11n: "ri",
	dex.Format11x: "r",
	dex.Format10t: "l",
	dex.Format20t: "l",
	dex.Format22x: "rr",
	dex.Format21t: "rl",
	dex.Format21s: "ri",
	dex.Format21h: "ri",
	dex.Format21c: "rx",
	dex.Format23x: "rrr",
	dex.Format22b: "rri",
	dex.Format22t: "rrl",
	dex.Format22s: "rri",
	dex.Format22c: "rrx",
	dex.Format30t: "l",
	dex.Format32x: "rr",
	dex.Format31i: "ri",
	dex.Format31t: "rp",
	dex.Format31c: "rx",
	dex.Format35c: "Lx",
	dex.Format3rc: "Rx",
	dex.Format51l: "ri",
}

var refOperand = map[dex.RefKind]OperandKind{
	dex.RefString: OpndString,
	dex.RefType:   OpndType,
	dex.RefField:  OpndField,
	dex.RefMethod: OpndMethod,
}

func (c *Compiler) instruction(s *InstructionStmt, op dex.Opcode, addr int) (dex.Instruction, bool) {
	in := dex.Instruction{Op: op, Addr: addr}
	shape, ok := operandShapes[op.Format()]
	if !ok {
		c.errorf(s.Pos, "%s cannot be assembled", s.Mnemonic)
		return in, false
	}
	if len(s.Operands) != len(shape) {
		c.errorf(s.Pos, "%s takes %d operands, got %d", s.Mnemonic, len(shape), len(s.Operands))
		return in, false
	}

	for i, want := range shape {
		o := &s.Operands[i]
		bad := func(what string) (dex.Instruction, bool) {
			c.errorf(o.Pos, "%s operand %d: expected %s, got %s", s.Mnemonic, i+1, what, o.Kind)
			return in, false
		}
		switch want {
		case 'r':
			if o.Kind != OpndRegister {
				return bad("register")
			}
			r, ok := c.reg(o.Pos, o.Regs[0])
			if !ok {
				return in, false
			}
			in.Regs = append(in.Regs, r)
		case 'L', 'R':
			regs, ok := c.registerList(s, o, want == 'R')
			if !ok {
				return in, false
			}
			in.Regs = regs
		case 'l':
			if o.Kind != OpndLabel {
				return bad("label")
			}
			t, ok := c.branchTarget(o.Pos, o.Label)
			if !ok {
				return in, false
			}
			in.Target = t
		case 'p':
			if o.Kind != OpndLabel {
				return bad("label")
			}
			t, ok := c.label(o.Pos, o.Label)
			if !ok {
				return in, false
			}
			want := dex.OpArrayPayload
			switch op {
			case dex.OpPackedSwitch:
				want = dex.OpPackedSwitchPayload
			case dex.OpSparseSwitch:
				want = dex.OpSparseSwitchPayload
			}
			if c.payloads[t] != want {
				c.errorf(o.Pos, "%s needs a %s at :%s", s.Mnemonic, want, o.Label)
				return in, false
			}
			in.Target = t
		case 'i':
			if o.Kind != OpndInt {
				return bad("literal")
			}
			in.Literal = o.Int
		case 'x':
			kind := refOperand[op.Ref()]
			if o.Kind != kind {
				return bad(kind.String())
			}
			if kind == OpndString {
				in.Ref = dex.StringRef(o.Str)
			} else {
				in.Ref = o.Ref
			}
		}
	}
	return in, true
}

// registerList expands {vA, vB} or {vA .. vB} into frame indices.
func (c *Compiler) registerList(s *InstructionStmt, o *Operand, rangeForm bool) ([]int, bool) {
	switch o.Kind {
	case OpndRegisterList:
	case OpndRegisterRange:
		if !rangeForm {
			c.errorf(o.Pos, "%s takes a register list, not a range", s.Mnemonic)
			return nil, false
		}
		first, ok1 := c.reg(o.Pos, o.Regs[0])
		last, ok2 := c.reg(o.Pos, o.Regs[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		if last < first {
			c.errorf(o.Pos, "register range %s .. %s is reversed", o.Regs[0], o.Regs[1])
			return nil, false
		}
		regs := make([]int, 0, last-first+1)
		for r := first; r <= last; r++ {
			regs = append(regs, r)
		}
		return regs, true
	default:
		c.errorf(o.Pos, "%s: expected register list, got %s", s.Mnemonic, o.Kind)
		return nil, false
	}
	var regs []int
	for _, r := range o.Regs {
		n, ok := c.reg(o.Pos, r)
		if !ok {
			return nil, false
		}
		regs = append(regs, n)
	}
	return regs, true
}

// stripSentinel drops the package sentinel prefix from a validation error.
func stripSentinel(err error) string {
	msg := err.Error()
	if prefix := dex.ErrBadInstruction.Error() + ": "; errors.Is(err, dex.ErrBadInstruction) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
