package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const lspSource = `.class public LA;
.super Ljava/lang/Object;

.method public static m(I)I
    .registers 2
    if-eqz p0, :zero
    goto :done
    :zero
    const/4 v0, 0x1
    :done
    return p0
.end method

.method public static n()V
    .registers 1
    :zero
    nop
    goto :zero
.end method
`

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"mnemonic", "    invoke-vir", protocol.Position{Line: 0, Character: 14}, "invoke-vir"},
		{"directive", "    .regi", protocol.Position{Line: 0, Character: 9}, ".regi"},
		{"label", "    goto :do", protocol.Position{Line: 0, Character: 12}, ":do"},
		{"multi line", "first\n  const/", protocol.Position{Line: 1, Character: 8}, "const/"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"at beginning", "nop", protocol.Position{Line: 0, Character: 0}, ""},
		{"after space", "nop ", protocol.Position{Line: 0, Character: 4}, ""},
		{"beyond document", "nop", protocol.Position{Line: 5, Character: 0}, ""},
		{"column clamped", "nop", protocol.Position{Line: 0, Character: 40}, "nop"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractPrefix(tc.text, tc.pos); got != tc.want {
				t.Errorf("extractPrefix = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"mnemonic middle", "    move-result-wide v0", protocol.Position{Line: 0, Character: 8}, "move-result-wide"},
		{"mnemonic end", "return-void", protocol.Position{Line: 0, Character: 11}, "return-void"},
		{"label body", "goto :try_start_0", protocol.Position{Line: 0, Character: 10}, ":try_start_0"},
		{"on colon", "goto :done", protocol.Position{Line: 0, Character: 5}, ":done"},
		{"label definition", "    :zero", protocol.Position{Line: 0, Character: 4}, ":zero"},
		{"slash", "const/16 v0, 0x10", protocol.Position{Line: 0, Character: 3}, "const/16"},
		{"at space", "a  b", protocol.Position{Line: 0, Character: 2}, ""},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"second line", "nop\ngoto :x", protocol.Position{Line: 1, Character: 1}, "goto"},
		{"beyond document", "nop", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractWord(tc.text, tc.pos); got != tc.want {
				t.Errorf("extractWord = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	if p := boolPtr(true); p == nil || !*p {
		t.Error("boolPtr(true) did not point at true")
	}
	if p := boolPtr(false); p == nil || *p {
		t.Error("boolPtr(false) did not point at false")
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		msg       string
		line, col int
		text      string
	}{
		{"line 4: undefined label :x", 3, 0, "undefined label :x"},
		{"warning: line 5, column 3: label :a is never used", 4, 2, "label :a is never used"},
		{"no position here", 0, 0, "no position here"},
		{"line zero: bad", 0, 0, "line zero: bad"},
	}
	for _, tc := range tests {
		line, col, text := splitMessage(tc.msg)
		if line != tc.line || col != tc.col || text != tc.text {
			t.Errorf("splitMessage(%q) = %d, %d, %q", tc.msg, line, col, text)
		}
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnoseClean(t *testing.T) {
	if d := diagnose(lspSource); len(d) != 0 {
		t.Errorf("diagnostics = %+v", d)
	}
}

func TestDiagnoseErrors(t *testing.T) {
	d := diagnose(".class LA;\n.method static m()V\n.registers 1\ngoto :x\n.end method\n")
	if len(d) != 1 {
		t.Fatalf("diagnostics = %+v", d)
	}
	if d[0].Range.Start.Line != 3 {
		t.Errorf("line = %d, want 3", d[0].Range.Start.Line)
	}
	if d[0].Severity == nil || *d[0].Severity != protocol.DiagnosticSeverityError {
		t.Error("compile error not reported as an error")
	}
	if !strings.Contains(d[0].Message, ":x") {
		t.Errorf("message = %q", d[0].Message)
	}
}

func TestDiagnoseWarnings(t *testing.T) {
	d := diagnose(".class LA;\n.method static m()V\n.registers 1\n:unused\nreturn-void\n.end method\n")
	if len(d) != 1 {
		t.Fatalf("diagnostics = %+v", d)
	}
	if d[0].Severity == nil || *d[0].Severity != protocol.DiagnosticSeverityWarning {
		t.Error("analyzer finding not reported as a warning")
	}
	if d[0].Range.Start.Line != 3 {
		t.Errorf("line = %d, want 3", d[0].Range.Start.Line)
	}
}

func TestDiagnoseThroughWorker(t *testing.T) {
	w := NewWorker()
	defer w.Stop()

	result, err := w.Do(func() any { return diagnose(lspSource) })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if d := result.([]protocol.Diagnostic); len(d) != 0 {
		t.Errorf("diagnostics = %+v", d)
	}
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

func completionLabels(items []protocol.CompletionItem) []string {
	var labels []string
	for _, item := range items {
		labels = append(labels, item.Label)
	}
	return labels
}

func TestCompleteMnemonics(t *testing.T) {
	labels := completionLabels(complete(lspSource, protocol.Position{}, "invoke-st"))
	want := map[string]bool{"invoke-static": true, "invoke-static/range": true}
	if len(labels) != len(want) {
		t.Fatalf("completions = %v", labels)
	}
	for _, l := range labels {
		if !want[l] {
			t.Errorf("unexpected completion %q", l)
		}
	}

	for _, l := range completionLabels(complete(lspSource, protocol.Position{}, "iget")) {
		if strings.Contains(l, "quick") {
			t.Errorf("optimized opcode %q offered", l)
		}
	}
}

func TestCompleteDirectives(t *testing.T) {
	labels := completionLabels(complete(lspSource, protocol.Position{}, ".end "))
	if len(labels) < 4 {
		t.Fatalf("completions = %v", labels)
	}
	for _, l := range labels {
		if !strings.HasPrefix(l, ".end ") {
			t.Errorf("completion %q does not match the prefix", l)
		}
	}
}

func TestCompleteLabelsScopedToMethod(t *testing.T) {
	labels := completionLabels(complete(lspSource, protocol.Position{Line: 6}, ":"))
	if strings.Join(labels, ",") != ":zero,:done" {
		t.Errorf("labels in m = %v", labels)
	}
	labels = completionLabels(complete(lspSource, protocol.Position{Line: 16}, ":"))
	if strings.Join(labels, ",") != ":zero" {
		t.Errorf("labels in n = %v", labels)
	}
}

func TestHover(t *testing.T) {
	h := hover("invoke-virtual")
	if h == nil {
		t.Fatal("no hover for invoke-virtual")
	}
	mc, ok := h.Contents.(protocol.MarkupContent)
	if !ok {
		t.Fatal("hover contents should be MarkupContent")
	}
	if mc.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("markup kind = %q", mc.Kind)
	}
	if !strings.Contains(mc.Value, "35c") || !strings.Contains(mc.Value, "method reference") {
		t.Errorf("hover = %q", mc.Value)
	}

	mc = hover("iget-quick").Contents.(protocol.MarkupContent)
	if !strings.Contains(mc.Value, "cannot be assembled") {
		t.Errorf("optimized hover = %q", mc.Value)
	}

	if hover("no-such-op") != nil {
		t.Error("hover for unknown word should be nil")
	}
}

func TestLabelSites(t *testing.T) {
	defs, refs := labelSites(lspSource, 5, ":zero")
	if len(defs) != 1 || defs[0].line != 7 || defs[0].start != 4 || defs[0].end != 9 {
		t.Errorf("defs = %+v", defs)
	}
	if len(refs) != 1 || refs[0].line != 5 {
		t.Errorf("refs = %+v", refs)
	}

	defs, refs = labelSites(lspSource, 16, ":zero")
	if len(defs) != 1 || defs[0].line != 15 {
		t.Errorf("defs in n = %+v", defs)
	}
	if len(refs) != 1 || refs[0].line != 17 {
		t.Errorf("refs in n = %+v", refs)
	}
}

func TestScanLabelsSkipsStringsAndComments(t *testing.T) {
	text := "const-string v0, \"a :b\"\n# goto :c\ngoto :d # :e\n"
	sites := scanLabels(text, 0, 3)
	if len(sites) != 1 || sites[0].name != ":d" || sites[0].def {
		t.Errorf("sites = %+v", sites)
	}
}

func TestLocations(t *testing.T) {
	uri := protocol.DocumentUri("file:///A.smali")
	defs, _ := labelSites(lspSource, 6, ":done")
	locs := locations(uri, defs)
	if len(locs) != 1 || locs[0].URI != uri || locs[0].Range.Start.Line != 9 {
		t.Errorf("locations = %+v", locs)
	}
}

// ---------------------------------------------------------------------------
// Document synchronization state
// ---------------------------------------------------------------------------

func TestLSP_DocumentStore(t *testing.T) {
	lsp := &LspServer{docs: make(map[string]string)}

	lsp.mu.Lock()
	lsp.docs["file:///A.smali"] = lspSource
	lsp.mu.Unlock()

	text, ok := lsp.document("file:///A.smali")
	if !ok || text != lspSource {
		t.Error("document should be stored after open")
	}

	lsp.mu.Lock()
	delete(lsp.docs, "file:///A.smali")
	lsp.mu.Unlock()

	if _, ok := lsp.document("file:///A.smali"); ok {
		t.Error("document should be removed after close")
	}
}

func TestWorkerStopped(t *testing.T) {
	w := NewWorker()
	w.Stop()
	if _, err := w.Do(func() any { return nil }); err == nil {
		t.Error("Do succeeded on a stopped worker")
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := NewWorker()
	defer w.Stop()
	if _, err := w.Do(func() any { panic("boom") }); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v", err)
	}
	if v, err := w.Do(func() any { return 7 }); err != nil || v.(int) != 7 {
		t.Errorf("Do after panic = %v, %v", v, err)
	}
}
