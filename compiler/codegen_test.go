package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/dexasm/pkg/dex"
)

func compileSource(t *testing.T, src string) (*dex.ClassDef, []string) {
	t.Helper()
	f, errs := Parse(src)
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	c := NewCompiler()
	class := c.Compile(f)
	return class, c.Errors()
}

func TestCompileSample(t *testing.T) {
	class, errs := compileSource(t, sampleSource)
	if len(errs) > 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	if class.SourceFile != "Sample.java" || class.Super != "Ljava/lang/Object;" {
		t.Errorf("class header = %q %q", class.SourceFile, class.Super)
	}
	if len(class.StaticFields) != 2 || len(class.InstanceFields) != 1 {
		t.Fatalf("fields = %d static, %d instance", len(class.StaticFields), len(class.InstanceFields))
	}
	if v := class.StaticFields[0].Initial; v == nil || v.Kind != dex.ValueInt || v.Int != 16 {
		t.Errorf("MAX initial = %+v", v)
	}
	if v := class.StaticFields[1].Initial; v == nil || v.Kind != dex.ValueFloat || v.Float32() != 1.5 {
		t.Errorf("RATIO initial = %+v", v)
	}
	if len(class.DirectMethods) != 2 || len(class.VirtualMethods) != 1 {
		t.Fatalf("methods = %d direct, %d virtual", len(class.DirectMethods), len(class.VirtualMethods))
	}

	init := class.DirectMethods[0]
	if init.Code.Registers != 1 || init.Code.Ins != 1 || init.Code.Outs != 1 {
		t.Errorf("<init> frame = %d/%d/%d", init.Code.Registers, init.Code.Ins, init.Code.Outs)
	}
	if got := init.Code.Insns[0].Regs; len(got) != 1 || got[0] != 0 {
		t.Errorf("invoke-direct regs = %v", got)
	}

	run := class.VirtualMethods[0]
	if run.Code.Registers != 1 || run.Code.Ins != 1 {
		t.Errorf("run frame = %d/%d", run.Code.Registers, run.Code.Ins)
	}
}

func TestCompileLayout(t *testing.T) {
	class, errs := compileSource(t, sampleSource)
	if len(errs) > 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	pick := class.FindMethod("pick", "(I)I")
	if pick == nil {
		t.Fatal("pick not found")
	}
	code := pick.Code
	if code.Registers != 3 || code.Ins != 1 {
		t.Errorf("frame = %d/%d", code.Registers, code.Ins)
	}
	if code.Size() != 20 {
		t.Errorf("code size = %d, want 20", code.Size())
	}

	sw := code.Insns[0]
	if sw.Op != dex.OpPackedSwitch || sw.Regs[0] != 2 || sw.Target != 12 {
		t.Errorf("packed-switch = %+v", sw)
	}
	pad := code.Insns[len(code.Insns)-2]
	if pad.Op != dex.OpNop || pad.Addr != 11 {
		t.Errorf("padding = %+v, want nop at 11", pad)
	}
	payload := code.Insns[len(code.Insns)-1]
	if payload.Addr != 12 || payload.FirstKey != 0 || len(payload.Targets) != 2 ||
		payload.Targets[0] != 5 || payload.Targets[1] != 7 {
		t.Errorf("payload = %+v", payload)
	}

	if len(code.Tries) != 1 {
		t.Fatalf("got %d tries, want 1", len(code.Tries))
	}
	try := code.Tries[0]
	if try.Start != 0 || try.End != 3 || len(try.Handlers) != 1 ||
		try.Handlers[0].Type != "Ljava/lang/Exception;" || try.Handlers[0].Addr != 9 {
		t.Errorf("try = %+v", try)
	}
	if len(code.Debug) != 1 || code.Debug[0].Kind != dex.DebugLine || code.Debug[0].Line != 10 {
		t.Errorf("debug = %+v", code.Debug)
	}
	if len(pick.ParamNames) != 1 || pick.ParamNames[0] != "which" {
		t.Errorf("param names = %v", pick.ParamNames)
	}
}

func TestAssembleIntoBuilder(t *testing.T) {
	b := dex.NewBuilder()
	if errs := Assemble(sampleSource, b); len(errs) > 0 {
		t.Fatalf("Assemble: %v", errs)
	}
	if !b.HasClass("Lcom/example/Sample;") {
		t.Fatal("class not added")
	}
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	file, err := dex.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	class, ok, err := file.Lookup("Lcom/example/Sample;")
	if err != nil || !ok {
		t.Fatalf("Lookup: %v %v", ok, err)
	}
	if m := class.FindMethod("pick", "(I)I"); m == nil || m.Code.Size() != 20 {
		t.Errorf("pick after round trip = %+v", m)
	}

	// A second copy is rejected without disturbing the first.
	errs := Assemble(sampleSource, b)
	if len(errs) != 1 || !strings.Contains(errs[0], dex.ErrDuplicateClass.Error()) {
		t.Errorf("duplicate Assemble = %v", errs)
	}
	if b.Len() != 1 {
		t.Errorf("builder has %d classes, want 1", b.Len())
	}
}

func TestAssembleSyntaxErrorsSkipBuilder(t *testing.T) {
	b := dex.NewBuilder()
	src := ".class LA;\n.super Ljava/lang/Object;\n.field x\n.field y\n"
	errs := Assemble(src, b)
	if len(errs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(errs), errs)
	}
	if b.Len() != 0 {
		t.Errorf("builder has %d classes after failed assembly", b.Len())
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"optimized opcode", "return-void-barrier", "optimized instruction"},
		{"register out of range", "const/4 v2, 0x0\nreturn-void", "register v2 out of range"},
		{"param out of range", "move v0, p1\nreturn-void", "parameter register p1 out of range"},
		{"undefined label", "goto :nowhere", "undefined label :nowhere"},
		{"duplicate label", ":a\n:a\nreturn-void", "duplicate label :a"},
		{"wrong operand", "const/4 v0, v1\nreturn-void", "expected literal"},
		{"operand count", "return-void v0", "takes 0 operands"},
		{"literal range", "const/4 v0, 0x8\nreturn-void", "const/4"},
		{"branch past end", "goto :end\nreturn-void\n:end", "outside the method"},
		{"payload kind", "packed-switch v0, :data\nreturn-void\n:data\n.array-data 4\n    0x1\n.end array-data",
			"needs a packed-switch-payload"},
		{"branch to payload", "goto :data\n:data\n.array-data 1\n    0x1\n.end array-data", "data payload"},
		{"range form", "invoke-static {v0 .. v1}, LA;->f(II)V\nreturn-void", "not a range"},
		{"empty try", ":a\n.catchall {:a .. :a} :a\nreturn-void", "empty try range"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := ".class LA;\n.super Ljava/lang/Object;\n.method static m(I)V\n.registers 2\n" + tc.body + "\n.end method\n"
			_, errs := compileSource(t, src)
			if len(errs) == 0 {
				t.Fatalf("expected an error containing %q", tc.want)
			}
			if !strings.Contains(strings.Join(errs, "\n"), tc.want) {
				t.Errorf("errors = %v, want one containing %q", errs, tc.want)
			}
		})
	}
}

func TestCompileMethodErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no registers", ".method static m()V\nreturn-void\n.end method", "no .registers"},
		{"too few registers", ".method static m(JJ)V\n.registers 2\nreturn-void\n.end method", "parameters need 4"},
		{"abstract with code", ".method public abstract m()V\n.registers 1\nreturn-void\n.end method", "cannot have code"},
		{"duplicate method", ".method static m()V\n.end method\n.method static m()V\n.end method", "duplicate method m()V"},
		{"duplicate field", ".field x:I\n.field x:I", "duplicate field x:I"},
		{"instance initializer", ".field x:I = 0x1", "cannot have an initial value"},
		{"byte overflow", ".field static b:B = 0x100", "does not fit in 8 bits"},
		{"param not a parameter", ".method m(J)V\n.registers 3\n.param p2, \"x\"\nreturn-void\n.end method", "does not name a parameter"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := ".class LA;\n.super Ljava/lang/Object;\n" + tc.src + "\n"
			_, errs := compileSource(t, src)
			if !strings.Contains(strings.Join(errs, "\n"), tc.want) {
				t.Errorf("errors = %v, want one containing %q", errs, tc.want)
			}
		})
	}
}

func TestCompileFieldInitializers(t *testing.T) {
	src := `.class LA;
.super Ljava/lang/Object;
.field static b:B = -0x80
.field static c:C = 'a'
.field static z:Z = true
.field static j:J = 0x1
.field static d:D = 2.5
.field static s:Ljava/lang/String; = "x"
.field static n:Ljava/lang/Object; = null
.field static big:C = 0xffff
`
	class, errs := compileSource(t, src)
	if len(errs) > 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	want := []struct {
		kind dex.ValueKind
		n    int64
	}{
		{dex.ValueByte, -128},
		{dex.ValueChar, 'a'},
		{dex.ValueBoolean, 1},
		{dex.ValueLong, 1},
		{dex.ValueDouble, 0},
		{dex.ValueString, 0},
		{dex.ValueNull, 0},
		{dex.ValueChar, 0xffff},
	}
	for i, w := range want {
		v := class.StaticFields[i].Initial
		if v == nil || v.Kind != w.kind {
			t.Errorf("field %s initial = %+v, want kind %v", class.StaticFields[i].Ref.Name, v, w.kind)
			continue
		}
		if w.kind != dex.ValueDouble && w.kind != dex.ValueString && v.Int != w.n {
			t.Errorf("field %s = %d, want %d", class.StaticFields[i].Ref.Name, v.Int, w.n)
		}
	}
	if d := class.StaticFields[4].Initial.Float64(); d != 2.5 {
		t.Errorf("d = %v", d)
	}
}

func TestCompileLocalsAndParams(t *testing.T) {
	src := `.class LA;
.super Ljava/lang/Object;
.method public m(JI)V
    .locals 1
    .param p1, "wide"
    .param p3, "narrow"
    .local v0, "t":I
    move v0, p3
    .end local v0
    return-void
.end method
`
	class, errs := compileSource(t, src)
	if len(errs) > 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	m := class.VirtualMethods[0]
	if m.Code.Registers != 5 || m.Code.Ins != 4 {
		t.Errorf("frame = %d/%d, want 5/4", m.Code.Registers, m.Code.Ins)
	}
	if got := m.Code.Insns[0].Regs; got[0] != 0 || got[1] != 4 {
		t.Errorf("move regs = %v, want [0 4]", got)
	}
	if len(m.ParamNames) != 2 || m.ParamNames[0] != "wide" || m.ParamNames[1] != "narrow" {
		t.Errorf("param names = %v", m.ParamNames)
	}
	if len(m.Code.Debug) != 2 || m.Code.Debug[0].Type != "I" || m.Code.Debug[1].Addr != 1 {
		t.Errorf("debug = %+v", m.Code.Debug)
	}
}

func TestCheck(t *testing.T) {
	if errs := Check(sampleSource); len(errs) != 0 {
		t.Errorf("Check(sample) = %v", errs)
	}
	errs := Check(".class LA;\n.method static m()V\n.registers 1\ngoto :x\n.end method\n")
	if len(errs) != 1 || !strings.HasPrefix(errs[0], "line 4:") {
		t.Errorf("Check = %v", errs)
	}
}

func TestStripSentinel(t *testing.T) {
	in := dex.Instruction{Op: dex.OpConst4, Regs: []int{0}, Literal: 100}
	err := dex.Validate(&in)
	if !errors.Is(err, dex.ErrBadInstruction) {
		t.Fatalf("Validate = %v", err)
	}
	if msg := stripSentinel(err); strings.HasPrefix(msg, "dex:") {
		t.Errorf("stripSentinel = %q", msg)
	}
}
