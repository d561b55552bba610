package compiler

import (
	"strings"
	"testing"
)

func analyzeSource(t *testing.T, body string) []string {
	t.Helper()
	src := ".class LA;\n.super Ljava/lang/Object;\n.method static m(I)V\n.registers 2\n" + body + "\n.end method\n"
	f, errs := Parse(src)
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	return Analyze(f)
}

func TestSemanticAnalyzer_UnusedLabel(t *testing.T) {
	warnings := analyzeSource(t, ":unused\nreturn-void")
	if len(warnings) != 1 || !strings.Contains(warnings[0], "label :unused is never used") {
		t.Errorf("warnings = %v", warnings)
	}
	if !strings.HasPrefix(warnings[0], "warning: line 5, column 1:") {
		t.Errorf("warning position = %q", warnings[0])
	}
}

func TestSemanticAnalyzer_UnreachableCode(t *testing.T) {
	warnings := analyzeSource(t, "return-void\nconst/4 v0, 0x1\nreturn-void")
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "unreachable instruction const/4") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unreachable warning, got: %v", warnings)
	}
}

func TestSemanticAnalyzer_LabelRevivesCode(t *testing.T) {
	body := "if-eqz p0, :skip\ngoto :done\n:skip\nconst/4 v0, 0x1\n:done\nreturn-void"
	if warnings := analyzeSource(t, body); len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestSemanticAnalyzer_PayloadAfterReturn(t *testing.T) {
	body := "fill-array-data v0, :arr\nreturn-void\n:arr\n.array-data 1\n    0x1\n.end array-data"
	if warnings := analyzeSource(t, body); len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestSemanticAnalyzer_DuplicateParam(t *testing.T) {
	warnings := analyzeSource(t, ".param p0, \"a\"\n.param p0, \"b\"\nreturn-void")
	if len(warnings) != 1 || !strings.Contains(warnings[0], "parameter p0 declared more than once") {
		t.Errorf("warnings = %v", warnings)
	}
}
