package deodex

import (
	"errors"
	"strings"
	"testing"
)

func TestBuiltinInlineTable(t *testing.T) {
	tests := []struct {
		version int
		index   int
		want    string
		kind    InvokeKind
	}{
		{35, 4, "Ljava/lang/String;->length()I", InvokeVirtual},
		{35, 9, "Ljava/lang/Math;->min(II)I", InvokeStatic},
		{36, 4, "Ljava/lang/String;->fastIndexOf(II)I", InvokeDirect},
		{36, 6, "Ljava/lang/String;->length()I", InvokeVirtual},
	}
	for _, tt := range tests {
		table := BuiltinInlineTable(tt.version)
		m, ok := table.Lookup(tt.index)
		if !ok {
			t.Errorf("v%d[%d]: not found", tt.version, tt.index)
			continue
		}
		if m.Method.String() != tt.want || m.Kind != tt.kind {
			t.Errorf("v%d[%d] = %s %s, want %s %s", tt.version, tt.index, m.Kind, m.Method, tt.kind, tt.want)
		}
	}
	if BuiltinInlineTable(34) != nil {
		t.Error("BuiltinInlineTable(34) != nil")
	}
	if _, ok := BuiltinInlineTable(35).Lookup(14); ok {
		t.Error("Lookup past the end succeeded")
	}
	var none *InlineTable
	if _, ok := none.Lookup(0); ok {
		t.Error("Lookup on a nil table succeeded")
	}
}

func TestParseInlineTable(t *testing.T) {
	cp := NewClassPath(testClasses(t))
	src := `# custom table
static Ljava/lang/Math;->abs(I)I

Ljava/lang/String;->length()I
Ljava/lang/String;->fastIndexOf(II)I
Ljava/lang/String;->valueOf(I)Ljava/lang/String;
`
	table, err := ParseInlineTable(strings.NewReader(src), cp)
	if err != nil {
		t.Fatalf("ParseInlineTable: %v", err)
	}
	want := []InvokeKind{InvokeStatic, InvokeVirtual, InvokeDirect, InvokeStatic}
	if table.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", table.Len(), len(want))
	}
	for i, k := range want {
		m, _ := table.Lookup(i)
		if m.Kind != k {
			t.Errorf("entry %d: kind = %s, want %s", i, m.Kind, k)
		}
	}
}

func TestParseInlineTableErrors(t *testing.T) {
	cp := NewClassPath(testClasses(t))
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"bad kind", "super Ljava/lang/String;->length()I", "line 1: unknown invoke kind"},
		{"bad ref", "static Ljava/lang/String;length()I", "line 1:"},
		{"too many words", "static virtual Ljava/lang/String;->length()I", "line 1: expected"},
		{"missing method", "\nLjava/lang/String;->trim()Ljava/lang/String;", "line 2:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInlineTable(strings.NewReader(tt.src), cp)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}

	_, err := ParseInlineTable(strings.NewReader("Ljava/lang/String;->trim()Ljava/lang/String;"), cp)
	if !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("err = %v, want ErrMemberNotFound", err)
	}
	if _, err := ParseInlineTable(strings.NewReader("Ljava/lang/String;->length()I"), nil); err == nil {
		t.Error("implicit kind without a classpath succeeded")
	}
}
