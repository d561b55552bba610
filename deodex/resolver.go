package deodex

import (
	"errors"
	"fmt"

	"github.com/chazu/dexasm/pkg/dex"
)

// Resolver rewrites the optimized instructions of methods. Inline is
// required only for containers with inline invokes; ClassPath for quick
// field accesses and quick invokes.
type Resolver struct {
	Inline    *InlineTable
	ClassPath *ClassPath
}

// failure is a resolution failure before it is tied to a method.
type failure struct {
	reason string
	err    error
}

func (f *failure) Error() string {
	if f.err != nil {
		return f.reason + ": " + f.err.Error()
	}
	return f.reason
}

func fail(err error, format string, args ...any) *failure {
	return &failure{reason: fmt.Sprintf(format, args...), err: err}
}

// receiver returns the class whose layout governs an access through reg.
func (r *Resolver) receiver(st TypeState, reg int) (string, error) {
	t := st.get(reg)
	switch t.Kind {
	case Ref:
		if isArray(t.Desc) {
			return objectType, nil
		}
		return t.Desc, nil
	case Null:
		return "", fail(nil, "receiver v%d is always null", reg)
	case Conflict:
		return "", fail(nil, "receiver v%d has conflicting types", reg)
	}
	return "", fail(nil, "receiver v%d has unknown type", reg)
}

func (r *Resolver) proto(desc string) (*ClassProto, error) {
	if r.ClassPath == nil {
		return nil, fail(ErrClassNotFound, "no classpath to resolve %s", desc)
	}
	p, err := r.ClassPath.Proto(desc)
	if err != nil {
		return nil, fail(err, "cannot lay out %s", desc)
	}
	return p, nil
}

// quickField resolves the field accessed by a quick field instruction.
func (r *Resolver) quickField(in *dex.Instruction, st TypeState) (dex.FieldRef, error) {
	desc, err := r.receiver(st, in.Regs[1])
	if err != nil {
		return dex.FieldRef{}, err
	}
	p, err := r.proto(desc)
	if err != nil {
		return dex.FieldRef{}, err
	}
	if p.IsInterface() {
		return dex.FieldRef{}, fail(nil, "receiver %s is an interface", desc)
	}
	f, ok := p.FieldAt(in.Index)
	if !ok {
		return dex.FieldRef{}, fail(ErrMemberNotFound, "no field of %s at offset %d", desc, in.Index)
	}
	return f, nil
}

// quickMethod resolves the method called by an inline or quick invoke.
func (r *Resolver) quickMethod(class *dex.ClassDef, in *dex.Instruction, st TypeState) (dex.MethodRef, error) {
	if in.Op.OdexKind() == dex.InlineInvoke {
		if r.Inline == nil {
			return dex.MethodRef{}, fail(ErrNoInlineTable, "inline index %d", in.Index)
		}
		im, ok := r.Inline.Lookup(in.Index)
		if !ok {
			return dex.MethodRef{}, fail(nil, "inline index %d out of range [0, %d)", in.Index, r.Inline.Len())
		}
		return im.Method, nil
	}
	if m, ok := in.MethodRef(); ok {
		return m, nil
	}

	var desc string
	if in.Op.IsSuperQuick() {
		if class.Super == "" {
			return dex.MethodRef{}, fail(nil, "%s has no superclass", class.Type)
		}
		desc = class.Super
	} else {
		if len(in.Regs) == 0 {
			return dex.MethodRef{}, fail(nil, "quick invoke without a receiver")
		}
		var err error
		if desc, err = r.receiver(st, in.Regs[0]); err != nil {
			return dex.MethodRef{}, err
		}
	}
	p, err := r.proto(desc)
	if err != nil {
		return dex.MethodRef{}, err
	}
	if p.IsInterface() {
		return dex.MethodRef{}, fail(nil, "receiver %s is an interface", desc)
	}
	m, ok := p.VTableMethod(in.Index)
	if !ok {
		return dex.MethodRef{}, fail(nil, "vtable index %d out of range for %s (%d slots)", in.Index, desc, len(p.VTable))
	}
	return m, nil
}

// fieldOp returns the iget or iput variant for a field type.
func fieldOp(write bool, typ string) dex.Opcode {
	base := dex.OpIget
	if write {
		base = dex.OpIput
	}
	switch typ {
	case "J", "D":
		return base + 1
	case "Z":
		return base + 3
	case "B":
		return base + 4
	case "C":
		return base + 5
	case "S":
		return base + 6
	}
	if dex.IsReference(typ) {
		return base + 2
	}
	return base
}

// Resolve returns the portable form of an optimized instruction, given the
// register types before it. Other instructions are returned unchanged.
func (r *Resolver) Resolve(class *dex.ClassDef, in dex.Instruction, st TypeState) (dex.Instruction, error) {
	out := in
	out.Index = 0
	isRange := in.Op.Format().IsRange()

	switch in.Op.OdexKind() {
	case dex.NotOptimized:
		return in, nil

	case dex.ReturnVoidBarrier:
		out.Op = dex.OpReturnVoid

	case dex.DirectEmptyInvoke:
		out.Op = dex.OpInvokeDirect

	case dex.ObjectInitInvoke:
		out.Op = dex.OpInvokeDirectRange

	case dex.InlineInvoke:
		if r.Inline == nil {
			return in, fail(ErrNoInlineTable, "inline index %d", in.Index)
		}
		im, ok := r.Inline.Lookup(in.Index)
		if !ok {
			return in, fail(nil, "inline index %d out of range [0, %d)", in.Index, r.Inline.Len())
		}
		plain, rng := im.Kind.opcodes()
		out.Op = plain
		if isRange {
			out.Op = rng
		}
		out.Ref = im.Method
		if err := checkArgs(im.Method, im.Kind == InvokeStatic, in.Regs); err != nil {
			return in, err
		}

	case dex.QuickFieldAccess:
		if st == nil {
			return in, fail(nil, "unreachable instruction")
		}
		f, err := r.quickField(&in, st)
		if err != nil {
			return in, err
		}
		wide := in.Op == dex.OpIgetWideQuick || in.Op == dex.OpIputWideQuick
		object := in.Op == dex.OpIgetObjectQuick || in.Op == dex.OpIputObjectQuick
		if wide != dex.IsWide(f.Type) || object != dex.IsReference(f.Type) {
			return in, fail(nil, "field %s does not match %s", f, in.Op)
		}
		out.Op = fieldOp(in.Op.IsQuickWrite(), f.Type)
		out.Ref = f

	case dex.QuickVirtualInvoke:
		if st == nil {
			return in, fail(nil, "unreachable instruction")
		}
		m, err := r.quickMethod(class, &in, st)
		if err != nil {
			return in, err
		}
		switch {
		case in.Op.IsSuperQuick() && isRange:
			out.Op = dex.OpInvokeSuperRange
		case in.Op.IsSuperQuick():
			out.Op = dex.OpInvokeSuper
		case isRange:
			out.Op = dex.OpInvokeVirtualRange
		default:
			out.Op = dex.OpInvokeVirtual
		}
		out.Ref = m
		if err := checkArgs(m, false, in.Regs); err != nil {
			return in, err
		}
	}

	if err := dex.Validate(&out); err != nil {
		return in, fail(err, "rewritten instruction is invalid")
	}
	return out, nil
}

// checkArgs verifies that an invoke passes as many registers as m takes.
func checkArgs(m dex.MethodRef, static bool, regs []int) error {
	if n := m.ParamRegisters(static); n != len(regs) {
		return fail(nil, "%s takes %d registers, invoke passes %d", m, n, len(regs))
	}
	return nil
}

// DeodexMethod returns a copy of m's code with every optimized instruction
// rewritten. The first instruction that cannot be resolved is reported as an
// *UnresolvedError.
func (r *Resolver) DeodexMethod(class *dex.ClassDef, m *dex.Method) (*dex.Code, error) {
	if m.Code == nil {
		return nil, nil
	}
	code := *m.Code
	code.Insns = append([]dex.Instruction(nil), m.Code.Insns...)

	optimized := false
	for i := range code.Insns {
		if code.Insns[i].Optimized() {
			optimized = true
			break
		}
	}
	if !optimized {
		return &code, nil
	}

	unresolved := func(in *dex.Instruction, err error) error {
		ue := &UnresolvedError{
			Class:  class.Type,
			Method: m.Ref.Sig(),
			Offset: in.Addr,
			Kind:   in.Op.OdexKind(),
			Reason: err.Error(),
		}
		var f *failure
		if errors.As(err, &f) {
			ue.Reason, ue.Err = f.reason, f.err
		}
		return ue
	}

	tf := &typeFlow{r: r, class: class, method: m, code: m.Code, cfg: BuildCFG(m.Code)}
	if err := tf.solve(); err != nil {
		return nil, unresolved(&code.Insns[0], err)
	}
	states := tf.states()

	for i := range code.Insns {
		in := &code.Insns[i]
		if !in.Optimized() {
			continue
		}
		out, err := r.Resolve(class, *in, states[i])
		if err != nil {
			return nil, unresolved(in, err)
		}
		log.Debugf("%s->%s @%#x: %s -> %s", class.Type, m.Ref.Sig(), in.Addr, in.Op, out.Op)
		code.Insns[i] = out
	}
	return &code, nil
}

// DeodexClass returns a copy of c with every method body deodexed.
func (r *Resolver) DeodexClass(c *dex.ClassDef) (*dex.ClassDef, error) {
	out := *c
	out.DirectMethods = append([]dex.Method(nil), c.DirectMethods...)
	out.VirtualMethods = append([]dex.Method(nil), c.VirtualMethods...)
	for _, ms := range [][]dex.Method{out.DirectMethods, out.VirtualMethods} {
		for i := range ms {
			code, err := r.DeodexMethod(c, &ms[i])
			if err != nil {
				return nil, err
			}
			ms[i].Code = code
		}
	}
	return &out, nil
}
