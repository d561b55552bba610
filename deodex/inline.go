package deodex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/dexasm/pkg/dex"
)

// InvokeKind is the dispatch kind an inline method is rewritten to.
type InvokeKind uint8

const (
	InvokeStatic InvokeKind = iota
	InvokeDirect
	InvokeVirtual
)

var invokeKindNames = [...]string{"static", "direct", "virtual"}

func (k InvokeKind) String() string {
	if int(k) < len(invokeKindNames) {
		return invokeKindNames[k]
	}
	return fmt.Sprintf("InvokeKind(%d)", k)
}

func parseInvokeKind(s string) (InvokeKind, bool) {
	for i, n := range invokeKindNames {
		if n == s {
			return InvokeKind(i), true
		}
	}
	return 0, false
}

// opcodes returns the plain and range invoke opcodes for k.
func (k InvokeKind) opcodes() (dex.Opcode, dex.Opcode) {
	switch k {
	case InvokeStatic:
		return dex.OpInvokeStatic, dex.OpInvokeStaticRange
	case InvokeDirect:
		return dex.OpInvokeDirect, dex.OpInvokeDirectRange
	}
	return dex.OpInvokeVirtual, dex.OpInvokeVirtualRange
}

// InlineMethod is one entry of an inline method table.
type InlineMethod struct {
	Kind   InvokeKind
	Method dex.MethodRef
}

// InlineTable maps execute-inline indices to methods.
type InlineTable struct {
	methods []InlineMethod
}

// Len returns the number of entries.
func (t *InlineTable) Len() int {
	return len(t.methods)
}

// Lookup returns the method at index.
func (t *InlineTable) Lookup(index int) (InlineMethod, bool) {
	if t == nil || index < 0 || index >= len(t.methods) {
		return InlineMethod{}, false
	}
	return t.methods[index], true
}

func inline(kind InvokeKind, ref string) InlineMethod {
	m, err := dex.ParseMethodRef(ref)
	if err != nil {
		panic(fmt.Sprintf("deodex: bad built-in inline method %q: %v", ref, err))
	}
	return InlineMethod{Kind: kind, Method: m}
}

var (
	inlineTable35 = []InlineMethod{
		inline(InvokeStatic, "Lorg/apache/harmony/dalvik/NativeTestTarget;->emptyInlineMethod()V"),
		inline(InvokeVirtual, "Ljava/lang/String;->charAt(I)C"),
		inline(InvokeVirtual, "Ljava/lang/String;->compareTo(Ljava/lang/String;)I"),
		inline(InvokeVirtual, "Ljava/lang/String;->equals(Ljava/lang/Object;)Z"),
		inline(InvokeVirtual, "Ljava/lang/String;->length()I"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(I)I"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(J)J"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(F)F"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(D)D"),
		inline(InvokeStatic, "Ljava/lang/Math;->min(II)I"),
		inline(InvokeStatic, "Ljava/lang/Math;->max(II)I"),
		inline(InvokeStatic, "Ljava/lang/Math;->sqrt(D)D"),
		inline(InvokeStatic, "Ljava/lang/Math;->cos(D)D"),
		inline(InvokeStatic, "Ljava/lang/Math;->sin(D)D"),
	}

	inlineTable36 = []InlineMethod{
		inline(InvokeStatic, "Lorg/apache/harmony/dalvik/NativeTestTarget;->emptyInlineMethod()V"),
		inline(InvokeVirtual, "Ljava/lang/String;->charAt(I)C"),
		inline(InvokeVirtual, "Ljava/lang/String;->compareTo(Ljava/lang/String;)I"),
		inline(InvokeVirtual, "Ljava/lang/String;->equals(Ljava/lang/Object;)Z"),
		inline(InvokeDirect, "Ljava/lang/String;->fastIndexOf(II)I"),
		inline(InvokeVirtual, "Ljava/lang/String;->isEmpty()Z"),
		inline(InvokeVirtual, "Ljava/lang/String;->length()I"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(I)I"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(J)J"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(F)F"),
		inline(InvokeStatic, "Ljava/lang/Math;->abs(D)D"),
		inline(InvokeStatic, "Ljava/lang/Math;->min(II)I"),
		inline(InvokeStatic, "Ljava/lang/Math;->max(II)I"),
		inline(InvokeStatic, "Ljava/lang/Math;->sqrt(D)D"),
		inline(InvokeStatic, "Ljava/lang/Math;->cos(D)D"),
		inline(InvokeStatic, "Ljava/lang/Math;->sin(D)D"),
		inline(InvokeStatic, "Ljava/lang/Float;->floatToIntBits(F)I"),
		inline(InvokeStatic, "Ljava/lang/Float;->floatToRawIntBits(F)I"),
		inline(InvokeStatic, "Ljava/lang/Float;->intBitsToFloat(I)F"),
		inline(InvokeStatic, "Ljava/lang/Double;->doubleToLongBits(D)J"),
		inline(InvokeStatic, "Ljava/lang/Double;->doubleToRawLongBits(D)J"),
		inline(InvokeStatic, "Ljava/lang/Double;->longBitsToDouble(J)D"),
		inline(InvokeStatic, "Ljava/lang/StrictMath;->abs(I)I"),
		inline(InvokeStatic, "Ljava/lang/StrictMath;->abs(J)J"),
		inline(InvokeStatic, "Ljava/lang/StrictMath;->abs(F)F"),
		inline(InvokeStatic, "Ljava/lang/StrictMath;->abs(D)D"),
		inline(InvokeStatic, "Ljava/lang/StrictMath;->min(II)I"),
		inline(InvokeStatic, "Ljava/lang/StrictMath;->max(II)I"),
		inline(InvokeStatic, "Ljava/lang/StrictMath;->sqrt(D)D"),
	}
)

// BuiltinInlineTable returns the table for an odex version, or nil if the
// version has no built-in table.
func BuiltinInlineTable(version int) *InlineTable {
	switch version {
	case 35:
		return &InlineTable{methods: inlineTable35}
	case 36:
		return &InlineTable{methods: inlineTable36}
	}
	return nil
}

// LoadInlineTable reads a custom inline table file.
func LoadInlineTable(path string, cp *ClassPath) (*InlineTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("deodex: cannot read inline table: %w", err)
	}
	defer f.Close()
	t, err := ParseInlineTable(f, cp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseInlineTable reads one inline method per line:
//
//	[static|direct|virtual] Lcls;->name(params)ret
//
// Blank lines and lines starting with # are skipped. When the kind is
// omitted it is taken from the method's declaration on the classpath.
func ParseInlineTable(r io.Reader, cp *ClassPath) (*InlineTable, error) {
	t := &InlineTable{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		var (
			kind     InvokeKind
			haveKind bool
			ref      string
		)
		switch len(fields) {
		case 1:
			ref = fields[0]
		case 2:
			var ok bool
			if kind, ok = parseInvokeKind(fields[0]); !ok {
				return nil, fmt.Errorf("line %d: unknown invoke kind %q", line, fields[0])
			}
			haveKind, ref = true, fields[1]
		default:
			return nil, fmt.Errorf("line %d: expected [kind] method reference", line)
		}
		m, err := dex.ParseMethodRef(ref)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !haveKind {
			if kind, err = declaredKind(cp, m); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		t.methods = append(t.methods, InlineMethod{Kind: kind, Method: m})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// declaredKind looks up how m is declared on its class.
func declaredKind(cp *ClassPath, m dex.MethodRef) (InvokeKind, error) {
	if cp == nil {
		return 0, fmt.Errorf("cannot look up %s without a classpath", m)
	}
	class, err := cp.Class(m.Class)
	if err != nil {
		return 0, err
	}
	decl := class.FindMethod(m.Name, m.Proto())
	if decl == nil {
		return 0, fmt.Errorf("%w: %s", ErrMemberNotFound, m)
	}
	switch {
	case decl.Access.IsStatic():
		return InvokeStatic, nil
	case dex.IsDirect(decl.Access, decl.Ref.Name):
		return InvokeDirect, nil
	}
	return InvokeVirtual, nil
}
