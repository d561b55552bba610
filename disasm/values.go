package disasm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/dexasm/pkg/dex"
)

func (w *writer) annotations(anns []dex.Annotation) {
	for i := range anns {
		a := &anns[i]
		w.line(".annotation %s %s", a.Visibility, a.Type)
		w.elements(a.Elements)
		w.line(".end annotation")
	}
}

func (w *writer) elements(elems []dex.AnnotationElement) {
	w.indent++
	for _, e := range elems {
		w.line("%s = %s", e.Name, w.value(e.Value))
	}
	w.indent--
}

// value renders an encoded value. Arrays and subannotations span several
// lines, indented one level past the current line.
func (w *writer) value(v dex.Value) string {
	switch v.Kind {
	case dex.ValueByte:
		return hex(v.Int) + "t"
	case dex.ValueShort:
		return hex(v.Int) + "s"
	case dex.ValueChar:
		return dex.QuoteChar(uint16(v.Int))
	case dex.ValueInt:
		return hex(v.Int)
	case dex.ValueLong:
		return hex(v.Int) + "L"
	case dex.ValueFloat:
		return formatFloat(float64(v.Float32()), 32) + "f"
	case dex.ValueDouble:
		return formatFloat(v.Float64(), 64)
	case dex.ValueString, dex.ValueType, dex.ValueField, dex.ValueMethod:
		return v.Ref.String()
	case dex.ValueEnum:
		return ".enum " + v.Ref.String()
	case dex.ValueNull:
		return "null"
	case dex.ValueBoolean:
		return strconv.FormatBool(v.Int != 0)
	case dex.ValueArray:
		return w.array(v.Elems)
	case dex.ValueAnnotation:
		return w.subannotation(v.Annotation)
	}
	return fmt.Sprintf("# unknown value kind %d", v.Kind)
}

func (w *writer) array(elems []dex.Value) string {
	if len(elems) == 0 {
		return "{}"
	}
	pad := strings.Repeat("    ", w.indent)
	var sb strings.Builder
	sb.WriteString("{\n")
	w.indent++
	for i, e := range elems {
		sb.WriteString(pad + "    " + w.value(e))
		if i < len(elems)-1 {
			sb.WriteByte(',')
		}
		sb.WriteByte('\n')
	}
	w.indent--
	sb.WriteString(pad + "}")
	return sb.String()
}

func (w *writer) subannotation(a *dex.Annotation) string {
	pad := strings.Repeat("    ", w.indent)
	var sb strings.Builder
	sb.WriteString(".subannotation " + a.Type + "\n")
	w.indent++
	for _, e := range a.Elements {
		fmt.Fprintf(&sb, "%s    %s = %s\n", pad, e.Name, w.value(e.Value))
	}
	w.indent--
	sb.WriteString(pad + ".end subannotation")
	return sb.String()
}

// hex renders an integer in signed hexadecimal.
func hex(n int64) string {
	if n < 0 {
		return "-0x" + strconv.FormatUint(uint64(-n), 16)
	}
	return "0x" + strconv.FormatUint(uint64(n), 16)
}

// formatFloat renders f so the lexer reads it back as a float literal.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
