package deodex

import (
	"errors"
	"testing"

	"github.com/chazu/dexasm/pkg/dex"
)

const clientDesc = "Lcom/example/Client;"

func newResolver(t *testing.T) *Resolver {
	return &Resolver{
		Inline:    BuiltinInlineTable(35),
		ClassPath: NewClassPath(testClasses(t)),
	}
}

func staticMethod(t *testing.T, sig string, code *dex.Code) *dex.Method {
	m := mustMethod(t, clientDesc, sig, dex.AccPublic|dex.AccStatic)
	m.Code = code
	return &m
}

var clientClass = &dex.ClassDef{Type: clientDesc, Access: dex.AccPublic, Super: objectDesc}

func TestDeodexMethod(t *testing.T) {
	r := newResolver(t)
	// use(Derived)I with the receiver in p0 = v2.
	m := staticMethod(t, "use(Lcom/example/Derived;)I", &dex.Code{
		Registers: 3,
		Ins:       1,
		Outs:      1,
		Insns: []dex.Instruction{
			{Op: dex.OpIgetQuick, Addr: 0, Regs: []int{0, 2}, Index: 8},
			{Op: dex.OpInvokeVirtualQuick, Addr: 2, Regs: []int{2}, Index: 3},
			{Op: dex.OpInvokeVirtualQuick, Addr: 5, Regs: []int{2}, Index: 4},
			{Op: dex.OpMoveResult, Addr: 8, Regs: []int{1}},
			{Op: dex.OpIgetObjectQuick, Addr: 9, Regs: []int{1, 2}, Index: 24},
			{Op: dex.OpExecuteInline, Addr: 11, Regs: []int{1}, Index: 4},
			{Op: dex.OpReturn, Addr: 14, Regs: []int{0}},
		},
	})

	code, err := r.DeodexMethod(clientClass, m)
	if err != nil {
		t.Fatalf("DeodexMethod: %v", err)
	}
	want := []struct {
		op  dex.Opcode
		ref string
	}{
		{dex.OpIget, "Lcom/example/Base;->count:I"},
		{dex.OpInvokeVirtual, "Lcom/example/Derived;->run()V"},
		{dex.OpInvokeVirtual, "Lcom/example/Derived;->extra()I"},
		{dex.OpMoveResult, ""},
		{dex.OpIgetObject, "Lcom/example/Base;->name:Ljava/lang/String;"},
		{dex.OpInvokeVirtual, "Ljava/lang/String;->length()I"},
		{dex.OpReturn, ""},
	}
	for i, w := range want {
		in := code.Insns[i]
		ref := ""
		if in.Ref != nil {
			ref = in.Ref.String()
		}
		if in.Op != w.op || ref != w.ref {
			t.Errorf("insn %d = %s %s, want %s %s", i, in.Op, ref, w.op, w.ref)
		}
		if in.Optimized() || in.Index != 0 {
			t.Errorf("insn %d still carries optimized state: %+v", i, in)
		}
	}
	if !m.Code.Insns[0].Optimized() {
		t.Error("DeodexMethod modified the input code")
	}
}

func TestDeodexJoinedReceiver(t *testing.T) {
	r := newResolver(t)
	m := staticMethod(t, "pick(Lcom/example/Derived;Lcom/example/Base;Z)V", branchyCode())

	code, err := r.DeodexMethod(clientClass, m)
	if err != nil {
		t.Fatalf("DeodexMethod: %v", err)
	}
	call := code.Insns[4]
	if call.Op != dex.OpInvokeVirtual || call.Ref.String() != "Lcom/example/Base;->run()V" {
		t.Errorf("call = %s %v, want invoke-virtual through the common superclass", call.Op, call.Ref)
	}
	if code.Insns[5].Op != dex.OpReturnVoid {
		t.Errorf("barrier = %s, want return-void", code.Insns[5].Op)
	}
}

func TestDeodexSuperAndDirect(t *testing.T) {
	r := newResolver(t)
	derived, _, _ := testClasses(t).Lookup(derivedDesc)
	m := mustMethod(t, derivedDesc, "run()V", dex.AccPublic)
	m.Code = &dex.Code{
		Registers: 1,
		Ins:       1,
		Outs:      1,
		Insns: []dex.Instruction{
			{Op: dex.OpInvokeSuperQuick, Addr: 0, Regs: []int{0}, Index: 3},
			{Op: dex.OpInvokeDirectEmpty, Addr: 3, Regs: []int{0},
				Ref: dex.MethodRef{Class: objectDesc, Name: "<init>", Return: "V"}},
			{Op: dex.OpInvokeObjectInitRange, Addr: 6, Regs: []int{0},
				Ref: dex.MethodRef{Class: objectDesc, Name: "<init>", Return: "V"}},
			{Op: dex.OpReturnVoidBarrier, Addr: 9},
		},
	}
	code, err := r.DeodexMethod(derived, &m)
	if err != nil {
		t.Fatalf("DeodexMethod: %v", err)
	}
	want := []dex.Opcode{dex.OpInvokeSuper, dex.OpInvokeDirect, dex.OpInvokeDirectRange, dex.OpReturnVoid}
	for i, op := range want {
		if code.Insns[i].Op != op {
			t.Errorf("insn %d = %s, want %s", i, code.Insns[i].Op, op)
		}
	}
	if got := code.Insns[0].Ref.String(); got != "Lcom/example/Base;->run()V" {
		t.Errorf("super call = %s, want Base.run", got)
	}
}

func TestDeodexFailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		sig    string
		insns  []dex.Instruction
		inline *InlineTable
		kind   dex.OdexKind
		offset int
		is     error
	}{
		{
			name: "vtable index out of range",
			sig:  "f(Lcom/example/Derived;)V",
			insns: []dex.Instruction{
				{Op: dex.OpInvokeVirtualQuick, Addr: 0, Regs: []int{1}, Index: 99},
				{Op: dex.OpReturnVoid, Addr: 3},
			},
			kind: dex.QuickVirtualInvoke,
		},
		{
			name: "null receiver",
			sig:  "f(Lcom/example/Derived;)V",
			insns: []dex.Instruction{
				{Op: dex.OpConst4, Addr: 0, Regs: []int{0}, Literal: 0},
				{Op: dex.OpIgetQuick, Addr: 1, Regs: []int{0, 0}, Index: 8},
				{Op: dex.OpReturnVoid, Addr: 3},
			},
			kind:   dex.QuickFieldAccess,
			offset: 1,
		},
		{
			name: "no field at offset",
			sig:  "f(Lcom/example/Derived;)V",
			insns: []dex.Instruction{
				{Op: dex.OpIgetQuick, Addr: 0, Regs: []int{0, 1}, Index: 12},
				{Op: dex.OpReturnVoid, Addr: 2},
			},
			kind: dex.QuickFieldAccess,
			is:   ErrMemberNotFound,
		},
		{
			name: "field width mismatch",
			sig:  "f(Lcom/example/Derived;)V",
			insns: []dex.Instruction{
				{Op: dex.OpIgetQuick, Addr: 0, Regs: []int{0, 1}, Index: 16},
				{Op: dex.OpReturnVoid, Addr: 2},
			},
			kind: dex.QuickFieldAccess,
		},
		{
			name: "interface receiver",
			sig:  "f(Lcom/example/Shape;)V",
			insns: []dex.Instruction{
				{Op: dex.OpInvokeVirtualQuick, Addr: 0, Regs: []int{1}, Index: 0},
				{Op: dex.OpReturnVoid, Addr: 3},
			},
			kind: dex.QuickVirtualInvoke,
		},
		{
			name: "unknown class",
			sig:  "f(Lcom/example/Missing;)V",
			insns: []dex.Instruction{
				{Op: dex.OpInvokeVirtualQuick, Addr: 0, Regs: []int{1}, Index: 0},
				{Op: dex.OpReturnVoid, Addr: 3},
			},
			kind: dex.QuickVirtualInvoke,
			is:   ErrClassNotFound,
		},
		{
			name: "inline index out of range",
			sig:  "f(Lcom/example/Derived;)V",
			insns: []dex.Instruction{
				{Op: dex.OpExecuteInline, Addr: 0, Regs: []int{}, Index: 40},
				{Op: dex.OpReturnVoid, Addr: 3},
			},
			inline: BuiltinInlineTable(35),
			kind:   dex.InlineInvoke,
		},
		{
			name: "no inline table",
			sig:  "f(Lcom/example/Derived;)V",
			insns: []dex.Instruction{
				{Op: dex.OpExecuteInline, Addr: 0, Regs: []int{}, Index: 0},
				{Op: dex.OpReturnVoid, Addr: 3},
			},
			kind: dex.InlineInvoke,
			is:   ErrNoInlineTable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Resolver{Inline: tt.inline, ClassPath: NewClassPath(testClasses(t))}
			m := staticMethod(t, tt.sig, &dex.Code{Registers: 2, Ins: 1, Insns: tt.insns})
			code, err := r.DeodexMethod(clientClass, m)
			if err == nil {
				t.Fatalf("DeodexMethod succeeded: %+v", code.Insns)
			}
			var ue *UnresolvedError
			if !errors.As(err, &ue) {
				t.Fatalf("err = %v, want *UnresolvedError", err)
			}
			if ue.Kind != tt.kind || ue.Offset != tt.offset || ue.Class != clientDesc {
				t.Errorf("err = %+v, want kind %s at %#x", ue, tt.kind, tt.offset)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want wrapping %v", err, tt.is)
			}
		})
	}
}

func TestDeodexMethodWithoutOptimizedCode(t *testing.T) {
	r := &Resolver{}
	m := staticMethod(t, "f()V", &dex.Code{
		Registers: 0,
		Insns:     []dex.Instruction{{Op: dex.OpReturnVoid}},
	})
	code, err := r.DeodexMethod(clientClass, m)
	if err != nil {
		t.Fatalf("DeodexMethod: %v", err)
	}
	if len(code.Insns) != 1 || code.Insns[0].Op != dex.OpReturnVoid {
		t.Errorf("code = %+v", code.Insns)
	}

	abstract := mustMethod(t, clientDesc, "g()V", dex.AccPublic|dex.AccAbstract)
	if code, err := r.DeodexMethod(clientClass, &abstract); code != nil || err != nil {
		t.Errorf("abstract method: %v, %v", code, err)
	}
}

func TestDeodexClass(t *testing.T) {
	r := newResolver(t)
	run := mustMethod(t, clientDesc, "run()V", dex.AccPublic)
	run.Code = &dex.Code{Registers: 1, Ins: 1, Insns: []dex.Instruction{{Op: dex.OpReturnVoidBarrier}}}
	c := &dex.ClassDef{
		Type:           clientDesc,
		Super:          objectDesc,
		VirtualMethods: []dex.Method{run},
	}
	out, err := r.DeodexClass(c)
	if err != nil {
		t.Fatalf("DeodexClass: %v", err)
	}
	if out.VirtualMethods[0].Code.Insns[0].Op != dex.OpReturnVoid {
		t.Error("barrier not rewritten")
	}
	if c.VirtualMethods[0].Code.Insns[0].Op != dex.OpReturnVoidBarrier {
		t.Error("DeodexClass modified its input")
	}
}

func TestJoin(t *testing.T) {
	cp := NewClassPath(testClasses(t))
	tests := []struct {
		a, b, want RegType
	}{
		{unknownType, primType, primType},
		{nullType, refType(baseDesc), refType(baseDesc)},
		{nullType, primType, primType},
		{primType, refType(baseDesc), conflictType},
		{refType(derivedDesc), refType(otherDesc), refType(objectDesc)},
		{refType("[I"), refType(baseDesc), refType(objectDesc)},
		{refType(derivedDesc), refType("Lcom/example/Missing;"), conflictType},
		{conflictType, nullType, conflictType},
	}
	for _, tt := range tests {
		if got := cp.join(tt.a, tt.b); got != tt.want {
			t.Errorf("join(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}
