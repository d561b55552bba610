package disasm

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/dexasm/compiler"
	"github.com/chazu/dexasm/deodex"
	"github.com/chazu/dexasm/pkg/dex"
)

const sampleSource = `.class public final Lcom/example/Counter;
.super Ljava/lang/Object;
.source "Counter.java"
.implements Ljava/lang/Runnable;

.annotation runtime Lcom/example/Tagged;
    names = {
        "a",
        "b"
    }
    level = .enum Lcom/example/Level;->HIGH:Lcom/example/Level;
.end annotation

.field public static final LIMIT:J = 0x100L
.field public static final SCALE:D = 0.5
.field private count:I
    .annotation build Lcom/example/Guarded;
    .end annotation
.end field

.method public constructor <init>()V
    .registers 1
    .prologue
    invoke-direct {p0}, Ljava/lang/Object;-><init>()V
    return-void
.end method

.method public static pick(I)I
    .registers 3
    .param p0, "which"
    .line 7
    :start
    packed-switch p0, :table
    :end
    const/4 v0, -0x1
    return v0
    :zero
    const/16 v0, 0x64
    return v0
    :one
    const-wide/high16 v0, 0x4000000000000000L
    long-to-int v0, v0
    return v0
    :handler
    move-exception v1
    throw v1
    :table
    .packed-switch 0x0
        :zero
        :one
    .end packed-switch
    .catch Ljava/lang/Exception; {:start .. :end} :handler
.end method

.method public run()V
    .locals 2
    .local v0, "n":I
    iget v0, p0, Lcom/example/Counter;->count:I
    if-lez v0, :done
    add-int/lit8 v0, v0, -0x1
    iput v0, p0, Lcom/example/Counter;->count:I
    goto :done
    :done
    .end local v0
    fill-array-data v1, :data
    return-void
    :data
    .array-data 2
        0x1s
        -0x2s
    .end array-data
.end method
`

func compileText(t *testing.T, text string) *dex.ClassDef {
	t.Helper()
	f, errs := compiler.Parse(text)
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v\n%s", errs, text)
	}
	c := compiler.NewCompiler()
	class := c.Compile(f)
	if errs := c.Errors(); len(errs) > 0 {
		t.Fatalf("compile errors: %v\n%s", errs, text)
	}
	return class
}

func renderText(t *testing.T, c *dex.ClassDef, opts Options) string {
	t.Helper()
	out, err := Render(c, opts)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return string(out)
}

func TestRoundTrip(t *testing.T) {
	for _, opts := range []Options{
		DefaultOptions(),
		{},
		{ParameterRegisters: true, DebugInfo: true, CodeOffsets: true},
	} {
		class := compileText(t, sampleSource)
		first := renderText(t, class, opts)
		again := compileText(t, first)
		second := renderText(t, again, opts)
		if first != second {
			t.Errorf("options %+v: render is not a fixpoint\nfirst:\n%s\nsecond:\n%s", opts, first, second)
		}
		if got, want := again.FindMethod("pick", "(I)I").Code.Size(), class.FindMethod("pick", "(I)I").Code.Size(); got != want {
			t.Errorf("options %+v: pick size %d, want %d", opts, got, want)
		}
	}
}

func TestRenderBody(t *testing.T) {
	text := renderText(t, compileText(t, sampleSource), DefaultOptions())
	for _, want := range []string{
		".class public final Lcom/example/Counter;",
		".field public static final LIMIT:J = 0x100L",
		".field public static final SCALE:D = 0.5",
		"    .locals 2\n",
		`    .param p0, "which"`,
		"    packed-switch p0, :pswitch_data_",
		"    :try_end_3\n    .catch Ljava/lang/Exception; {:try_start_0 .. :try_end_3} :catch_",
		"    const/4 v0, -0x1",
		"    const-wide/high16 v0, 0x4000000000000000L",
		"    .packed-switch 0x0\n        :pswitch_",
		"    if-lez v0, :cond_",
		"    goto :goto_",
		`    .local v0, "n":I`,
		"    .end local v0",
		"    .array-data 2\n        0x1s\n        -0x2s\n    .end array-data",
		"    names = {\n        \"a\",\n        \"b\"\n    }",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "    nop\n") {
		t.Errorf("alignment padding rendered:\n%s", text)
	}
}

func TestRenderRegisters(t *testing.T) {
	text := renderText(t, compileText(t, sampleSource), Options{})
	if !strings.Contains(text, "    .registers 3\n") || !strings.Contains(text, "packed-switch v2, ") {
		t.Errorf("raw register naming not used:\n%s", text)
	}
	if strings.Contains(text, ".param") || strings.Contains(text, ".line") {
		t.Errorf("debug info rendered with DebugInfo off:\n%s", text)
	}
}

func TestRenderCodeOffsets(t *testing.T) {
	text := renderText(t, compileText(t, sampleSource), Options{CodeOffsets: true})
	if !strings.Contains(text, "    # 0x0000\n    packed-switch") {
		t.Errorf("offset comment missing:\n%s", text)
	}
}

func barrierClass() *dex.ClassDef {
	return &dex.ClassDef{
		Type:  "Lcom/example/Quick;",
		Super: "Ljava/lang/Object;",
		VirtualMethods: []dex.Method{{
			Ref:    dex.MethodRef{Class: "Lcom/example/Quick;", Name: "run", Return: "V"},
			Access: dex.AccPublic,
			Code: &dex.Code{
				Registers: 1,
				Ins:       1,
				Insns:     []dex.Instruction{{Op: dex.OpReturnVoidBarrier}},
			},
		}},
	}
}

func TestRenderOptimizedWithoutDeodexer(t *testing.T) {
	var buf strings.Builder
	_, err := WriteTo(&buf, barrierClass(), DefaultOptions())
	var ue *deodex.UnresolvedError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *deodex.UnresolvedError", err)
	}
	if ue.Class != "Lcom/example/Quick;" || ue.Method != "run()V" || ue.Offset != 0 {
		t.Errorf("err = %+v", ue)
	}
	if buf.Len() != 0 {
		t.Errorf("partial output written: %q", buf.String())
	}
}

func TestRenderDeodexed(t *testing.T) {
	opts := DefaultOptions()
	opts.Deodexer = &deodex.Resolver{}
	text := renderText(t, barrierClass(), opts)
	if !strings.Contains(text, "    return-void\n") {
		t.Errorf("barrier not rewritten:\n%s", text)
	}
}

func TestRenderRejectsMalformedCode(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*dex.Code)
	}{
		{"try past end", func(c *dex.Code) {
			c.Tries = []dex.TryBlock{{Start: 0, End: 9, Handlers: []dex.Handler{{Addr: 0}}}}
		}},
		{"register past frame", func(c *dex.Code) {
			c.Insns = []dex.Instruction{
				{Op: dex.OpConst4, Regs: []int{5}, Literal: 1},
				{Op: dex.OpReturnVoid, Addr: 1},
			}
		}},
		{"goto past end", func(c *dex.Code) {
			c.Insns = []dex.Instruction{{Op: dex.OpGoto, Target: 0x28}, {Op: dex.OpReturnVoid, Addr: 1}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := barrierClass()
			c.VirtualMethods[0].Code.Insns = []dex.Instruction{{Op: dex.OpReturnVoid}}
			tt.mutate(c.VirtualMethods[0].Code)
			var buf strings.Builder
			_, err := WriteTo(&buf, c, DefaultOptions())
			var ce *dex.ClassError
			if !errors.As(err, &ce) || !errors.Is(err, dex.ErrBadInstruction) {
				t.Fatalf("err = %v, want ClassError wrapping ErrBadInstruction", err)
			}
			if buf.Len() != 0 {
				t.Errorf("partial output written: %q", buf.String())
			}
		})
	}
}

func TestValues(t *testing.T) {
	w := &writer{}
	tests := []struct {
		v    dex.Value
		want string
	}{
		{dex.Value{Kind: dex.ValueByte, Int: -1}, "-0x1t"},
		{dex.Value{Kind: dex.ValueShort, Int: 0x7f}, "0x7fs"},
		{dex.Value{Kind: dex.ValueChar, Int: 'a'}, "'a'"},
		{dex.Value{Kind: dex.ValueInt, Int: 255}, "0xff"},
		{dex.Value{Kind: dex.ValueLong, Int: math.MinInt64 + 1}, "-0x7fffffffffffffffL"},
		{dex.FloatValue(2), "2.0f"},
		{dex.FloatValue(float32(math.Inf(-1))), "-Infinityf"},
		{dex.DoubleValue(1e300), "1e+300"},
		{dex.DoubleValue(math.NaN()), "NaN"},
		{dex.Value{Kind: dex.ValueString, Ref: dex.StringRef("x\n")}, `"x\n"`},
		{dex.Value{Kind: dex.ValueType, Ref: dex.TypeRef("[I")}, "[I"},
		{dex.Value{Kind: dex.ValueNull}, "null"},
		{dex.Value{Kind: dex.ValueBoolean, Int: 1}, "true"},
		{dex.Value{Kind: dex.ValueArray}, "{}"},
	}
	for _, tt := range tests {
		if got := w.value(tt.v); got != tt.want {
			t.Errorf("value(%+v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestArrayElement(t *testing.T) {
	tests := []struct {
		b     []byte
		width int
		want  string
	}{
		{[]byte{0xff}, 1, "-0x1t"},
		{[]byte{0x00, 0x80}, 2, "-0x8000s"},
		{[]byte{0x10, 0, 0, 0}, 4, "0x10"},
		{[]byte{1, 0, 0, 0, 0, 0, 0, 0}, 8, "0x1L"},
	}
	for _, tt := range tests {
		if got := arrayElement(tt.b, tt.width); got != tt.want {
			t.Errorf("arrayElement(%v, %d) = %q, want %q", tt.b, tt.width, got, tt.want)
		}
	}
}

func TestWriteCFGs(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CFGDir = dir
	renderText(t, compileText(t, sampleSource), opts)

	for _, sig := range []string{"_init_()V", "pick(I)I", "run()V"} {
		path := filepath.Join(dir, "com_example_Counter", sig+".dot")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("read %s: %v", sig, err)
			continue
		}
		if !strings.Contains(string(data), "digraph") {
			t.Errorf("%s is not a DOT graph:\n%s", sig, data)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename(`a/b:c*d?"e"<f>|g h;`); got != "a_b_c_d__e__f__g_h_" {
		t.Errorf("sanitizeFilename = %q", got)
	}
	if got := sanitizeFilename(strings.Repeat("x", 300)); len(got) != 200 {
		t.Errorf("long name kept %d bytes", len(got))
	}
}
