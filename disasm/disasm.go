// Package disasm renders class definitions as assembly text that the
// compiler package reads back into the same definitions.
package disasm

import (
	"fmt"
	"io"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/dexasm/deodex"
	"github.com/chazu/dexasm/pkg/dex"
)

var log = commonlog.GetLogger("dexasm.disasm")

// Deodexer rewrites the optimized instructions of a method body.
// *deodex.Resolver is a Deodexer.
type Deodexer interface {
	DeodexMethod(class *dex.ClassDef, m *dex.Method) (*dex.Code, error)
}

// Options control the rendered text.
type Options struct {
	// ParameterRegisters names parameter registers pN and declares
	// .locals instead of .registers.
	ParameterRegisters bool

	// DebugInfo emits .param, .line, .local and related directives.
	DebugInfo bool

	// CodeOffsets adds a "# 0x0004" comment before every instruction.
	CodeOffsets bool

	// CFGDir, when set, receives one DOT control-flow graph per method.
	CFGDir string

	// Deodexer resolves optimized instructions. Without one, a class
	// containing optimized instructions fails to render.
	Deodexer Deodexer
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{ParameterRegisters: true, DebugInfo: true}
}

// Render returns the assembly text of c.
func Render(c *dex.ClassDef, opts Options) ([]byte, error) {
	w := &writer{opts: opts}
	if err := w.class(c); err != nil {
		return nil, err
	}
	if opts.CFGDir != "" {
		if err := writeCFGs(opts.CFGDir, c, w.bodies); err != nil {
			return nil, err
		}
	}
	return []byte(w.sb.String()), nil
}

// WriteTo renders c and writes it to out. Nothing is written if rendering
// fails.
func WriteTo(out io.Writer, c *dex.ClassDef, opts Options) (int64, error) {
	text, err := Render(c, opts)
	if err != nil {
		return 0, err
	}
	n, err := out.Write(text)
	return int64(n), err
}

// writer accumulates the text of one class.
type writer struct {
	opts   Options
	sb     strings.Builder
	indent int
	bodies []methodBody // rendered method bodies, for CFG export
}

type methodBody struct {
	method *dex.Method
	code   *dex.Code
}

func (w *writer) line(format string, args ...any) {
	w.sb.WriteString(strings.Repeat("    ", w.indent))
	fmt.Fprintf(&w.sb, format, args...)
	w.sb.WriteByte('\n')
}

func (w *writer) blank() {
	w.sb.WriteByte('\n')
}

// header joins a directive, its access keywords and its operand.
func header(directive string, access dex.AccessFlags, kind dex.MemberKind, rest string) string {
	if flags := access.Format(kind); flags != "" {
		return directive + " " + flags + " " + rest
	}
	return directive + " " + rest
}

func (w *writer) class(c *dex.ClassDef) error {
	w.line("%s", header(".class", c.Access, dex.ClassMember, c.Type))
	if c.Super != "" {
		w.line(".super %s", c.Super)
	}
	if c.SourceFile != "" {
		w.line(".source %s", dex.Quote(c.SourceFile))
	}

	if len(c.Interfaces) > 0 {
		w.blank()
		w.line("# interfaces")
		for _, iface := range c.Interfaces {
			w.line(".implements %s", iface)
		}
	}

	if len(c.Annotations) > 0 {
		w.blank()
		w.line("# annotations")
		w.annotations(c.Annotations)
	}

	w.fields("# static fields", c.StaticFields)
	w.fields("# instance fields", c.InstanceFields)

	if err := w.methods(c, "# direct methods", c.DirectMethods); err != nil {
		return err
	}
	return w.methods(c, "# virtual methods", c.VirtualMethods)
}

func (w *writer) fields(title string, fields []dex.Field) {
	if len(fields) == 0 {
		return
	}
	w.blank()
	w.line("%s", title)
	for i := range fields {
		f := &fields[i]
		decl := header(".field", f.Access, dex.FieldMember, f.Ref.Sig())
		if f.Initial != nil {
			decl += " = " + w.value(*f.Initial)
		}
		w.line("%s", decl)
		if len(f.Annotations) > 0 {
			w.indent++
			w.annotations(f.Annotations)
			w.indent--
			w.line(".end field")
		}
		w.blank()
	}
}

func (w *writer) methods(c *dex.ClassDef, title string, methods []dex.Method) error {
	if len(methods) == 0 {
		return nil
	}
	w.blank()
	w.line("%s", title)
	for i := range methods {
		if err := w.method(c, &methods[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) method(c *dex.ClassDef, m *dex.Method) error {
	code, err := w.deodex(c, m)
	if err != nil {
		return err
	}

	w.line("%s", header(".method", m.Access, dex.MethodMember, m.Ref.Sig()))
	w.indent++
	if code != nil {
		if w.opts.ParameterRegisters {
			w.line(".locals %d", code.Registers-code.Ins)
		} else {
			w.line(".registers %d", code.Registers)
		}
		if w.opts.DebugInfo {
			w.params(m, code)
		}
	}
	if len(m.Annotations) > 0 {
		w.annotations(m.Annotations)
	}
	if code != nil {
		w.blank()
		w.body(code)
		w.bodies = append(w.bodies, methodBody{method: m, code: code})
	}
	w.indent--
	w.line(".end method")
	w.blank()
	return nil
}

// deodex returns the body to render, with optimized instructions resolved.
func (w *writer) deodex(c *dex.ClassDef, m *dex.Method) (*dex.Code, error) {
	if m.Code == nil {
		return nil, nil
	}
	if err := dex.CheckCode(m.Code); err != nil {
		return nil, &dex.ClassError{Class: c.Type, Err: fmt.Errorf("%s: %w", m.Ref.Sig(), err)}
	}
	for i := range m.Code.Insns {
		in := &m.Code.Insns[i]
		if !in.Optimized() {
			continue
		}
		if w.opts.Deodexer == nil {
			return nil, &deodex.UnresolvedError{
				Class:  c.Type,
				Method: m.Ref.Sig(),
				Offset: in.Addr,
				Kind:   in.Op.OdexKind(),
				Reason: "deodexing is disabled",
			}
		}
		code, err := w.opts.Deodexer.DeodexMethod(c, m)
		if err != nil {
			return nil, err
		}
		log.Debugf("deodexed %s->%s", c.Type, m.Ref.Sig())
		return code, nil
	}
	return m.Code, nil
}

// params writes a .param line for every named parameter.
func (w *writer) params(m *dex.Method, code *dex.Code) {
	reg := code.Registers - code.Ins
	if !m.IsStatic() {
		reg++
	}
	for i, p := range m.Ref.Params {
		if i < len(m.ParamNames) && m.ParamNames[i] != "" {
			w.line(".param %s, %s", regName(code, reg, w.opts.ParameterRegisters), dex.Quote(m.ParamNames[i]))
		}
		reg += dex.RegisterWidth(p)
	}
}
