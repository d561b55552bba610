package compiler

import (
	"math"
	"strings"
	"testing"

	"github.com/chazu/dexasm/pkg/dex"
)

const sampleSource = `.class public Lcom/example/Sample;
.super Ljava/lang/Object;
.source "Sample.java"
.implements Ljava/lang/Runnable;

.annotation runtime Lcom/example/Marker;
    value = "hi"
    count = 0x3
    tags = {
        "a",
        "b"
    }
    kind = .enum Lcom/example/Kind;->FAST:Lcom/example/Kind;
    nested = .subannotation Lcom/example/Inner;
        flag = true
    .end subannotation
.end annotation

.field public static final MAX:I = 0x10
.field public static final RATIO:F = 1.5f
.field private name:Ljava/lang/String;
    .annotation build Lcom/example/Nullable;
    .end annotation
.end field

.method public constructor <init>()V
    .registers 1
    .prologue
    invoke-direct {p0}, Ljava/lang/Object;-><init>()V
    return-void
.end method

.method public run()V
    .locals 0
    return-void
.end method

.method public static pick(I)I
    .registers 3
    .param p0, "which"
    .line 10
    :try_start
    packed-switch p0, :table
    :try_end
    const/4 v0, -0x1
    return v0
    :case_zero
    const/4 v0, 0x0
    return v0
    :case_one
    const/4 v0, 0x1
    return v0
    :handler
    move-exception v1
    throw v1
    :table
    .packed-switch 0x0
        :case_zero
        :case_one
    .end packed-switch
    .catch Ljava/lang/Exception; {:try_start .. :try_end} :handler
.end method
`

func parseSample(t *testing.T) *ClassFile {
	t.Helper()
	f, errs := Parse(sampleSource)
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	return f
}

func TestParseClassHeader(t *testing.T) {
	f := parseSample(t)
	if f.Type != "Lcom/example/Sample;" {
		t.Errorf("Type = %q", f.Type)
	}
	if f.Access != dex.AccPublic {
		t.Errorf("Access = %#x, want public", f.Access)
	}
	if f.Super != "Ljava/lang/Object;" {
		t.Errorf("Super = %q", f.Super)
	}
	if f.Source == nil || *f.Source != "Sample.java" {
		t.Errorf("Source = %v", f.Source)
	}
	if len(f.Interfaces) != 1 || f.Interfaces[0] != "Ljava/lang/Runnable;" {
		t.Errorf("Interfaces = %v", f.Interfaces)
	}
}

func TestParseAnnotation(t *testing.T) {
	f := parseSample(t)
	if len(f.Annotations) != 1 {
		t.Fatalf("got %d annotations, want 1", len(f.Annotations))
	}
	a := f.Annotations[0]
	if a.Visibility != dex.VisibilityRuntime || a.Type != "Lcom/example/Marker;" {
		t.Errorf("annotation = %v %s", a.Visibility, a.Type)
	}
	wantKinds := []ValueKind{ValString, ValInt, ValArray, ValEnum, ValAnnotation}
	if len(a.Elements) != len(wantKinds) {
		t.Fatalf("got %d elements, want %d", len(a.Elements), len(wantKinds))
	}
	for i, k := range wantKinds {
		if a.Elements[i].Value.Kind != k {
			t.Errorf("element %s kind = %v, want %v", a.Elements[i].Name, a.Elements[i].Value.Kind, k)
		}
	}
	if n := len(a.Elements[2].Value.Elems); n != 2 {
		t.Errorf("array has %d elements, want 2", n)
	}
	inner := a.Elements[4].Value.Annotation
	if inner.Type != "Lcom/example/Inner;" || len(inner.Elements) != 1 || inner.Elements[0].Value.Kind != ValBool {
		t.Errorf("subannotation = %+v", inner)
	}
}

func TestParseFields(t *testing.T) {
	f := parseSample(t)
	if len(f.Fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(f.Fields))
	}
	max := f.Fields[0]
	if max.Name != "MAX" || max.Type != "I" || max.Initial == nil || max.Initial.Int != 16 {
		t.Errorf("MAX = %+v", max)
	}
	if want := dex.AccPublic | dex.AccStatic | dex.AccFinal; max.Access != want {
		t.Errorf("MAX access = %#x, want %#x", max.Access, want)
	}
	ratio := f.Fields[1]
	if ratio.Initial == nil || ratio.Initial.Kind != ValFloat || ratio.Initial.Suffix != 'f' {
		t.Errorf("RATIO initial = %+v", ratio.Initial)
	}
	name := f.Fields[2]
	if len(name.Annotations) != 1 || name.Annotations[0].Visibility != dex.VisibilityBuild {
		t.Errorf("name annotations = %+v", name.Annotations)
	}
}

func TestParseMethodBody(t *testing.T) {
	f := parseSample(t)
	if len(f.Methods) != 3 {
		t.Fatalf("got %d methods, want 3", len(f.Methods))
	}
	run := f.Methods[1]
	if run.Registers != 0 || !run.Locals {
		t.Errorf("run registers = %d locals = %v", run.Registers, run.Locals)
	}

	pick := f.Methods[2]
	if pick.Name != "pick" || len(pick.Params) != 1 || pick.Params[0] != "I" || pick.Return != "I" {
		t.Errorf("pick header = %s %v %s", pick.Name, pick.Params, pick.Return)
	}
	if len(pick.ParamDecls) != 1 || *pick.ParamDecls[0].Name != "which" {
		t.Errorf("param decls = %+v", pick.ParamDecls)
	}

	var labels, insns, payloads, catches, debug int
	for _, st := range pick.Body {
		switch st.(type) {
		case *LabelStmt:
			labels++
		case *InstructionStmt:
			insns++
		case *PackedSwitchStmt:
			payloads++
		case *CatchStmt:
			catches++
		case *DebugStmt:
			debug++
		}
	}
	if labels != 6 || insns != 9 || payloads != 1 || catches != 1 || debug != 1 {
		t.Errorf("labels=%d insns=%d payloads=%d catches=%d debug=%d", labels, insns, payloads, catches, debug)
	}
}

func TestParseOperands(t *testing.T) {
	src := `.class LA;
.method static m()V
    .registers 4
    invoke-static {v0, v1}, LA;->f(II)V
    invoke-static/range {v0 .. v3}, LA;->g(IIII)V
    const-string v0, "s"
    const-class v0, [LA;
    sget v0, LA;->x:I
    const v0, 1.0f
    const/16 v0, 'a'
    return-void
.end method
`
	f, errs := Parse(src)
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	body := f.Methods[0].Body
	want := [][]OperandKind{
		{OpndRegisterList, OpndMethod},
		{OpndRegisterRange, OpndMethod},
		{OpndRegister, OpndString},
		{OpndRegister, OpndType},
		{OpndRegister, OpndField},
		{OpndRegister, OpndInt},
		{OpndRegister, OpndInt},
		{},
	}
	if len(body) != len(want) {
		t.Fatalf("got %d statements, want %d", len(body), len(want))
	}
	for i, kinds := range want {
		s := body[i].(*InstructionStmt)
		if len(s.Operands) != len(kinds) {
			t.Errorf("%s: got %d operands, want %d", s.Mnemonic, len(s.Operands), len(kinds))
			continue
		}
		for j, k := range kinds {
			if s.Operands[j].Kind != k {
				t.Errorf("%s operand %d = %v, want %v", s.Mnemonic, j, s.Operands[j].Kind, k)
			}
		}
	}
	if got := body[5].(*InstructionStmt).Operands[1].Int; got != int64(math.Float32bits(1.0)) {
		t.Errorf("const 1.0f = %#x", got)
	}
	if got := body[6].(*InstructionStmt).Operands[1].Int; got != 'a' {
		t.Errorf("const/16 'a' = %d", got)
	}
}

func TestParsePayloads(t *testing.T) {
	src := `.class LA;
.method static m(I)V
    .registers 2
    :a
    return-void
    :b
    return-void
    .packed-switch -0x1
        :a
        :b
    .end packed-switch
    .sparse-switch
        -0x5 -> :a
        0x10 -> :b
    .end sparse-switch
    .array-data 2
        0x1s
        -0x2s
    .end array-data
.end method
`
	f, errs := Parse(src)
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	var packed *PackedSwitchStmt
	var sparse *SparseSwitchStmt
	var array *ArrayDataStmt
	for _, st := range f.Methods[0].Body {
		switch st := st.(type) {
		case *PackedSwitchStmt:
			packed = st
		case *SparseSwitchStmt:
			sparse = st
		case *ArrayDataStmt:
			array = st
		}
	}
	if packed == nil || packed.FirstKey != -1 || strings.Join(packed.Targets, ",") != "a,b" {
		t.Errorf("packed-switch = %+v", packed)
	}
	if sparse == nil || len(sparse.Keys) != 2 || sparse.Keys[0] != -5 || sparse.Keys[1] != 0x10 ||
		strings.Join(sparse.Targets, ",") != "a,b" {
		t.Errorf("sparse-switch = %+v", sparse)
	}
	if array == nil || len(array.Elements) != 2 || array.Elements[1] != -2 {
		t.Errorf("array-data = %+v", array)
	}
}

func TestParsePayloadErrorsCountPerLine(t *testing.T) {
	src := `.class LA;
.method static m(I)V
    .registers 2
    :a
    return-void
    .packed-switch 0x0
        :a :a
    .end packed-switch
    .sparse-switch
        0x1 :a
    .end sparse-switch
.end method
`
	_, errs := Parse(src)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if !strings.HasPrefix(errs[0], "line 7:") || !strings.HasPrefix(errs[1], "line 10:") {
		t.Errorf("errors = %v", errs)
	}
}

func TestParseErrorsCountPerLine(t *testing.T) {
	src := `.class LA;
.super Ljava/lang/Object;
.method static m()V
    .registers 1
    const/4 v0 0x1
    .line abc
    return-void
.end method
`
	_, errs := Parse(src)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if !strings.HasPrefix(errs[0], "line 5:") || !strings.HasPrefix(errs[1], "line 6:") {
		t.Errorf("errors = %v", errs)
	}
}

func TestParseUnknownInstruction(t *testing.T) {
	src := `.class LA;
.super Ljava/lang/Object;
.method static m()V
    .registers 1
    frobnicate v0, v0
    const/4 v0,
    return-void
.end method
`
	_, errs := Parse(src)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if errs[0] != "line 5: unknown instruction frobnicate" || !strings.HasPrefix(errs[1], "line 6:") {
		t.Errorf("errors = %v", errs)
	}
}

func TestParseMissingClass(t *testing.T) {
	_, errs := Parse(".super Ljava/lang/Object;\n")
	if len(errs) != 1 || errs[0] != "line 1: missing .class directive" {
		t.Errorf("errors = %v", errs)
	}
}

func TestParseMissingEndMethod(t *testing.T) {
	src := ".class LA;\n.method static m()V\n    .registers 0\n    return-void\n"
	_, errs := Parse(src)
	if len(errs) != 1 || !strings.Contains(errs[0], "missing .end method") {
		t.Errorf("errors = %v", errs)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		lit    string
		want   int64
		suffix byte
		err    bool
	}{
		{"0", 0, 0, false},
		{"42", 42, 0, false},
		{"-0x1", -1, 0, false},
		{"0x7fffffff", math.MaxInt32, 0, false},
		{"0xffffffffffffffffL", -1, 'L', false},
		{"-0x8000000000000000L", math.MinInt64, 'L', false},
		{"0x7ft", 0x7f, 't', false},
		{"-0x1s", -1, 's', false},
		{"9223372036854775808", 0, 0, true},
		{"0xg", 0, 0, true},
	}
	for _, tc := range tests {
		got, suffix, err := parseInt(tc.lit)
		if tc.err {
			if err == nil {
				t.Errorf("parseInt(%q) = %d, want error", tc.lit, got)
			}
			continue
		}
		if err != nil || got != tc.want || suffix != tc.suffix {
			t.Errorf("parseInt(%q) = %d %q %v, want %d %q", tc.lit, got, suffix, err, tc.want, tc.suffix)
		}
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		lit    string
		want   float64
		single bool
	}{
		{"1.5f", 1.5, true},
		{"2.0", 2.0, false},
		{"-3e2", -300, false},
		{"Infinity", math.Inf(1), false},
		{"-Infinityf", math.Inf(-1), true},
	}
	for _, tc := range tests {
		got, single, err := parseFloat(tc.lit)
		if err != nil || got != tc.want || single != tc.single {
			t.Errorf("parseFloat(%q) = %v %v %v, want %v %v", tc.lit, got, single, err, tc.want, tc.single)
		}
	}
	if f, _, err := parseFloat("NaNf"); err != nil || !math.IsNaN(f) {
		t.Errorf("parseFloat(NaNf) = %v %v", f, err)
	}
}
