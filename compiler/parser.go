package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/dexasm/pkg/dex"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent parser for assembly text
// ---------------------------------------------------------------------------

// Parser parses one class unit. It does not stop at the first error: each
// failing statement is recorded and the parser resumes on the next line.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []string

	prevLine int // line of the last consumed token
	stmtLine int // line the current statement started on
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a class unit and returns its syntax tree and every error
// found. The tree is incomplete when errors are returned.
func Parse(text string) (*ClassFile, []string) {
	p := NewParser(text)
	f := p.ParseClassFile()
	return f, p.Errors()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.prevLine = p.curToken.Pos.Line
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// curDirective reports whether the current token is the given directive.
func (p *Parser) curDirective(name string) bool {
	return p.curToken.Type == TokenDirective && p.curToken.Literal == name
}

// curEnd reports whether the current tokens are ".end <what>".
func (p *Parser) curEnd(what string) bool {
	return p.curDirective(".end") && p.peekToken.Type == TokenWord && p.peekToken.Literal == what &&
		p.peekToken.Pos.Line == p.curToken.Pos.Line
}

// onLine reports whether the current token continues the statement line.
func (p *Parser) onLine() bool {
	return p.curToken.Type != TokenEOF && p.curToken.Pos.Line == p.prevLine
}

// begin marks the start of a statement.
func (p *Parser) begin() Token {
	p.stmtLine = p.curToken.Pos.Line
	return p.curToken
}

// errorf records a parse error. Errors for a missing token at the end of a
// line are reported against that line, not the next one.
func (p *Parser) errorf(format string, args ...any) {
	line := p.curToken.Pos.Line
	if p.curToken.Type == TokenEOF || (line > p.prevLine && p.prevLine >= p.stmtLine) {
		line = p.prevLine
	}
	if line < 1 {
		line = 1
	}
	msg := fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

// unexpected records an error for the current token.
func (p *Parser) unexpected(context string) {
	switch {
	case p.curTokenIs(TokenError):
		p.errorf("%s", p.curToken.Literal)
	case !p.onLine() && p.prevLine >= p.stmtLine:
		p.errorf("unexpected end of line, expected %s", context)
	default:
		p.errorf("unexpected %s, expected %s", p.curToken, context)
	}
}

// recover skips to the first token after the line the failed statement
// started on, or after the line the error was found on.
func (p *Parser) recover(start Token) {
	line := p.prevLine
	if p.curToken.Pos.Offset == start.Pos.Offset || p.onLine() {
		line = p.curToken.Pos.Line
	}
	if line < start.Pos.Line {
		line = start.Pos.Line
	}
	for !p.curTokenIs(TokenEOF) && p.curToken.Pos.Line <= line {
		p.nextToken()
	}
}

// endLine checks that nothing follows the statement on its line.
func (p *Parser) endLine() bool {
	if p.onLine() {
		p.errorf("unexpected %s at end of statement", p.curToken)
		return false
	}
	return true
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseClassFile parses a complete class unit.
func (p *Parser) ParseClassFile() *ClassFile {
	f := &ClassFile{Pos: p.curToken.Pos}
	sawClass := false

	for !p.curTokenIs(TokenEOF) {
		start := p.begin()
		ok := true
		switch {
		case p.curDirective(".class"):
			if sawClass {
				p.errorf("duplicate .class directive")
				ok = false
				break
			}
			sawClass = true
			ok = p.parseClassHeader(f)
		case p.curDirective(".super"):
			ok = p.parseTypeDirective(&f.Super)
		case p.curDirective(".implements"):
			var iface string
			if ok = p.parseTypeDirective(&iface); ok {
				f.Interfaces = append(f.Interfaces, iface)
			}
		case p.curDirective(".source"):
			ok = p.parseSource(f)
		case p.curDirective(".annotation"):
			if a := p.parseAnnotation(); a != nil {
				f.Annotations = append(f.Annotations, a)
			}
		case p.curDirective(".field"):
			if fd := p.parseField(); fd != nil {
				f.Fields = append(f.Fields, fd)
			}
		case p.curDirective(".method"):
			if m := p.parseMethod(); m != nil {
				f.Methods = append(f.Methods, m)
			}
		default:
			p.unexpected("a class-level directive")
			ok = false
		}
		if !ok {
			p.recover(start)
		}
	}

	if !sawClass {
		p.errors = append(p.errors, "line 1: missing .class directive")
	}
	return f
}

// parseAccess consumes access flag words on the current line, stopping at
// the first word that is not a flag.
func (p *Parser) parseAccess() dex.AccessFlags {
	var flags dex.AccessFlags
	for p.onLine() && p.curTokenIs(TokenWord) {
		flag, ok := dex.ParseAccessFlag(p.curToken.Literal)
		if !ok {
			break
		}
		flags |= flag
		p.nextToken()
	}
	return flags
}

func (p *Parser) parseClassHeader(f *ClassFile) bool {
	f.Pos = p.curToken.Pos
	p.nextToken() // .class
	f.Access = p.parseAccess()
	if !p.onLine() || !p.curTokenIs(TokenWord) {
		p.unexpected("class descriptor")
		return false
	}
	if !dex.ValidClassDescriptor(p.curToken.Literal) {
		p.errorf("malformed class descriptor %q", p.curToken.Literal)
		return false
	}
	f.Type = p.curToken.Literal
	p.nextToken()
	return p.endLine()
}

func (p *Parser) parseTypeDirective(dst *string) bool {
	name := p.curToken.Literal
	p.nextToken()
	if !p.onLine() || !p.curTokenIs(TokenWord) {
		p.unexpected("class descriptor after " + name)
		return false
	}
	if !dex.ValidClassDescriptor(p.curToken.Literal) {
		p.errorf("malformed class descriptor %q", p.curToken.Literal)
		return false
	}
	*dst = p.curToken.Literal
	p.nextToken()
	return p.endLine()
}

func (p *Parser) parseSource(f *ClassFile) bool {
	p.nextToken() // .source
	if !p.onLine() || !p.curTokenIs(TokenString) {
		p.unexpected("source file name")
		return false
	}
	s := p.curToken.Literal
	f.Source = &s
	p.nextToken()
	return p.endLine()
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// parseField parses a .field line and its optional annotation block.
func (p *Parser) parseField() *FieldNode {
	start := p.curToken
	fd := &FieldNode{Pos: start.Pos}
	ok := p.parseFieldHeader(fd)
	if !ok {
		p.recover(start)
	}

	if p.curDirective(".annotation") {
		for !p.curTokenIs(TokenEOF) {
			st := p.begin()
			switch {
			case p.curEnd("field"):
				p.nextToken()
				p.nextToken()
				if !p.endLine() {
					p.recover(st)
				}
				if !ok {
					return nil
				}
				return fd
			case p.curDirective(".annotation"):
				if a := p.parseAnnotation(); a != nil {
					fd.Annotations = append(fd.Annotations, a)
				}
			case p.curDirective(".method"), p.curDirective(".field"):
				p.errorf("missing .end field")
				return nil
			default:
				p.unexpected(".annotation or .end field")
				p.recover(st)
			}
		}
		p.errorf("missing .end field")
		return nil
	}
	if !ok {
		return nil
	}
	return fd
}

func (p *Parser) parseFieldHeader(fd *FieldNode) bool {
	p.nextToken() // .field
	fd.Access = p.parseAccess()
	if !p.onLine() || !p.curTokenIs(TokenWord) {
		p.unexpected("field name and type")
		return false
	}
	ref, err := dex.ParseFieldSig("", p.curToken.Literal)
	if err != nil {
		p.errorf("malformed field %q", p.curToken.Literal)
		return false
	}
	fd.Name, fd.Type = ref.Name, ref.Type
	p.nextToken()
	if p.onLine() && p.curTokenIs(TokenEquals) {
		p.nextToken()
		v := p.parseValue()
		if v == nil {
			return false
		}
		fd.Initial = v
	}
	return p.endLine()
}

// ---------------------------------------------------------------------------
// Annotations and encoded values
// ---------------------------------------------------------------------------

// parseAnnotation parses an .annotation block. It returns nil if the block
// had errors; the errors are recorded and the block is skipped.
func (p *Parser) parseAnnotation() *AnnotationNode {
	start := p.curToken
	a := &AnnotationNode{Pos: start.Pos}
	ok := true
	p.nextToken() // .annotation
	if !p.onLine() || !p.curTokenIs(TokenWord) {
		p.unexpected("annotation visibility")
		ok = false
	} else if vis, known := dex.ParseVisibility(p.curToken.Literal); !known {
		p.errorf("unknown annotation visibility %q", p.curToken.Literal)
		ok = false
	} else {
		a.Visibility = vis
		p.nextToken()
		ok = p.parseAnnotationType(a)
	}
	if !ok {
		p.recover(start)
	}
	if !p.parseElements(a, "annotation") {
		ok = false
	}
	if !ok {
		return nil
	}
	return a
}

func (p *Parser) parseAnnotationType(a *AnnotationNode) bool {
	if !p.onLine() || !p.curTokenIs(TokenWord) {
		p.unexpected("annotation type")
		return false
	}
	if !dex.ValidClassDescriptor(p.curToken.Literal) {
		p.errorf("malformed annotation type %q", p.curToken.Literal)
		return false
	}
	a.Type = p.curToken.Literal
	p.nextToken()
	return p.endLine()
}

// parseElements parses name = value lines up to ".end <what>".
func (p *Parser) parseElements(a *AnnotationNode, what string) bool {
	ok := true
	for !p.curTokenIs(TokenEOF) {
		st := p.begin()
		switch {
		case p.curEnd(what):
			p.nextToken()
			p.nextToken()
			if !p.endLine() {
				p.recover(st)
				return false
			}
			return ok
		case p.curDirective(".method"), p.curDirective(".field"), p.curDirective(".class"):
			p.errorf("missing .end %s", what)
			return false
		case p.curTokenIs(TokenWord) && p.peekToken.Type == TokenEquals:
			e := &ElementNode{Pos: p.curToken.Pos, Name: p.curToken.Literal}
			p.nextToken()
			p.nextToken()
			e.Value = p.parseValue()
			if e.Value == nil || !p.endLine() {
				p.recover(st)
				ok = false
				continue
			}
			a.Elements = append(a.Elements, e)
		default:
			p.unexpected("annotation element")
			p.recover(st)
			ok = false
		}
	}
	p.errorf("missing .end %s", what)
	return false
}

// parseValue parses an encoded value. Array values may span lines.
func (p *Parser) parseValue() *ValueNode {
	tok := p.curToken
	v := &ValueNode{Pos: tok.Pos}
	switch tok.Type {
	case TokenInteger:
		n, suffix, err := parseInt(tok.Literal)
		if err != nil {
			p.errorf("%v", err)
			return nil
		}
		v.Kind, v.Int, v.Suffix = ValInt, n, suffix
		p.nextToken()
	case TokenFloat:
		f, single, err := parseFloat(tok.Literal)
		if err != nil {
			p.errorf("%v", err)
			return nil
		}
		v.Kind, v.Float = ValFloat, f
		if single {
			v.Suffix = 'f'
		}
		p.nextToken()
	case TokenString:
		v.Kind, v.Str = ValString, tok.Literal
		p.nextToken()
	case TokenChar:
		n, _ := strconv.Atoi(tok.Literal)
		v.Kind, v.Int = ValChar, int64(n)
		p.nextToken()
	case TokenWord:
		switch w := tok.Literal; {
		case w == "true" || w == "false":
			v.Kind = ValBool
			if w == "true" {
				v.Int = 1
			}
		case w == "null":
			v.Kind = ValNull
		case strings.Contains(w, "->"):
			ref, err := parseMemberRef(w)
			if err != nil {
				p.errorf("%v", err)
				return nil
			}
			v.Ref = ref
			v.Kind = ValField
			if ref.Kind() == dex.RefMethod {
				v.Kind = ValMethod
			}
		case dex.ValidTypeDescriptor(w):
			v.Kind, v.Ref = ValType, dex.TypeRef(w)
		default:
			p.errorf("unexpected %s, expected a value", tok)
			return nil
		}
		p.nextToken()
	case TokenDirective:
		switch tok.Literal {
		case ".enum":
			p.nextToken()
			if !p.curTokenIs(TokenWord) {
				p.unexpected("enum field reference")
				return nil
			}
			ref, err := dex.ParseFieldRef(p.curToken.Literal)
			if err != nil {
				p.errorf("%v", err)
				return nil
			}
			v.Kind, v.Ref = ValEnum, ref
			p.nextToken()
		case ".subannotation":
			p.nextToken()
			a := &AnnotationNode{Pos: tok.Pos}
			if !p.parseAnnotationType(a) {
				return nil
			}
			if !p.parseElements(a, "subannotation") {
				return nil
			}
			v.Kind, v.Annotation = ValAnnotation, a
		default:
			p.errorf("unexpected %s, expected a value", tok)
			return nil
		}
	case TokenLBrace:
		p.nextToken()
		v.Kind = ValArray
		for !p.curTokenIs(TokenRBrace) {
			elem := p.parseValue()
			if elem == nil {
				return nil
			}
			v.Elems = append(v.Elems, elem)
			if p.curTokenIs(TokenComma) {
				p.nextToken()
				continue
			}
			if !p.curTokenIs(TokenRBrace) {
				p.unexpected("',' or '}'")
				return nil
			}
		}
		p.nextToken()
	default:
		p.unexpected("a value")
		return nil
	}
	return v
}

// parseMemberRef parses a field or method reference word.
func parseMemberRef(w string) (dex.Reference, error) {
	if strings.Contains(w, "(") {
		return dex.ParseMethodRef(w)
	}
	return dex.ParseFieldRef(w)
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// parseMethod parses a .method block up to .end method. It returns nil if
// the header could not be parsed; body errors are recorded and the body is
// still returned so the encoder can report semantic errors too.
func (p *Parser) parseMethod() *MethodNode {
	start := p.curToken
	m := &MethodNode{Pos: start.Pos, Registers: -1}
	ok := p.parseMethodHeader(m)
	if !ok {
		p.recover(start)
	}

	for !p.curTokenIs(TokenEOF) {
		st := p.begin()
		if p.curEnd("method") {
			p.nextToken()
			p.nextToken()
			if !p.endLine() {
				p.recover(st)
			}
			if !ok {
				return nil
			}
			return m
		}
		if p.curDirective(".method") || p.curDirective(".field") || p.curDirective(".class") {
			break
		}
		if !p.parseMethodStatement(m) {
			p.recover(st)
		}
	}
	p.errorf("missing .end method")
	return nil
}

func (p *Parser) parseMethodHeader(m *MethodNode) bool {
	p.nextToken() // .method
	m.Access = p.parseAccess()
	if !p.onLine() || !p.curTokenIs(TokenWord) {
		p.unexpected("method name and prototype")
		return false
	}
	ref, err := dex.ParseMethodSig("", p.curToken.Literal)
	if err != nil {
		p.errorf("malformed method %q", p.curToken.Literal)
		return false
	}
	m.Name, m.Params, m.Return = ref.Name, ref.Params, ref.Return
	p.nextToken()
	return p.endLine()
}

// parseMethodStatement parses one statement of a method body.
func (p *Parser) parseMethodStatement(m *MethodNode) bool {
	tok := p.curToken
	switch tok.Type {
	case TokenLabel:
		m.Body = append(m.Body, &LabelStmt{Pos: tok.Pos, Name: tok.Literal[1:]})
		p.nextToken()
		return p.endLine()
	case TokenWord:
		s := p.parseInstruction()
		if s == nil {
			return false
		}
		m.Body = append(m.Body, s)
		return true
	case TokenDirective:
	default:
		p.unexpected("an instruction or directive")
		return false
	}

	switch tok.Literal {
	case ".registers", ".locals":
		p.nextToken()
		n, ok := p.parseCount("register count")
		if !ok {
			return false
		}
		if m.Registers >= 0 {
			p.errorf("register count declared twice")
			return false
		}
		m.Registers, m.Locals = n, tok.Literal == ".locals"
		return p.endLine()
	case ".param":
		return p.parseParam(m)
	case ".annotation":
		if a := p.parseAnnotation(); a != nil {
			m.Annotations = append(m.Annotations, a)
			return true
		}
		// parseAnnotation has already recovered.
		return true
	case ".catch", ".catchall":
		s := p.parseCatch()
		if s == nil {
			return false
		}
		m.Body = append(m.Body, s)
		return true
	case ".line", ".local", ".end", ".restart", ".prologue", ".epilogue":
		s := p.parseDebug()
		if s == nil {
			return false
		}
		m.Body = append(m.Body, s)
		return true
	case ".packed-switch":
		s := p.parsePackedSwitch()
		if s == nil {
			return true
		}
		m.Body = append(m.Body, s)
		return true
	case ".sparse-switch":
		s := p.parseSparseSwitch()
		if s == nil {
			return true
		}
		m.Body = append(m.Body, s)
		return true
	case ".array-data":
		s := p.parseArrayData()
		if s == nil {
			return true
		}
		m.Body = append(m.Body, s)
		return true
	}
	p.errorf("unknown directive %s", tok.Literal)
	return false
}

// parseCount parses a non-negative decimal or hex count on the current line.
func (p *Parser) parseCount(what string) (int, bool) {
	if !p.onLine() || !p.curTokenIs(TokenInteger) {
		p.unexpected(what)
		return 0, false
	}
	n, suffix, err := parseInt(p.curToken.Literal)
	if err != nil || suffix != 0 || n < 0 || n > math.MaxInt32 {
		p.errorf("invalid %s %s", what, p.curToken.Literal)
		return 0, false
	}
	p.nextToken()
	return int(n), true
}

func (p *Parser) parseRegister() (Register, bool) {
	if !p.onLine() || !p.curTokenIs(TokenRegister) {
		p.unexpected("register")
		return Register{}, false
	}
	n, err := strconv.Atoi(p.curToken.Literal[1:])
	if err != nil || n > math.MaxUint16 {
		p.errorf("register %s out of range", p.curToken.Literal)
		return Register{}, false
	}
	r := Register{Param: p.curToken.Literal[0] == 'p', Num: n}
	p.nextToken()
	return r, true
}

func (p *Parser) parseParam(m *MethodNode) bool {
	pn := &ParamNode{Pos: p.curToken.Pos}
	p.nextToken() // .param
	r, ok := p.parseRegister()
	if !ok {
		return false
	}
	pn.Reg = r
	if p.onLine() && p.curTokenIs(TokenComma) {
		p.nextToken()
		if !p.onLine() || !p.curTokenIs(TokenString) {
			p.unexpected("parameter name")
			return false
		}
		name := p.curToken.Literal
		pn.Name = &name
		p.nextToken()
	}
	if !p.endLine() {
		return false
	}
	m.ParamDecls = append(m.ParamDecls, pn)
	return true
}

// parseLabelRef parses a label operand and returns its name without the colon.
func (p *Parser) parseLabelRef() (string, bool) {
	if !p.onLine() || !p.curTokenIs(TokenLabel) {
		p.unexpected("label")
		return "", false
	}
	name := p.curToken.Literal[1:]
	p.nextToken()
	return name, true
}

func (p *Parser) expectOnLine(t TokenType) bool {
	if p.onLine() && p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.unexpected(t.String())
	return false
}

func (p *Parser) parseCatch() *CatchStmt {
	s := &CatchStmt{Pos: p.curToken.Pos}
	all := p.curToken.Literal == ".catchall"
	p.nextToken()
	if !all {
		if !p.onLine() || !p.curTokenIs(TokenWord) || !dex.ValidClassDescriptor(p.curToken.Literal) {
			p.unexpected("exception type")
			return nil
		}
		s.Type = p.curToken.Literal
		p.nextToken()
	}
	var ok bool
	if !p.expectOnLine(TokenLBrace) {
		return nil
	}
	if s.Start, ok = p.parseLabelRef(); !ok {
		return nil
	}
	if !p.expectOnLine(TokenDotDot) {
		return nil
	}
	if s.End, ok = p.parseLabelRef(); !ok {
		return nil
	}
	if !p.expectOnLine(TokenRBrace) {
		return nil
	}
	if s.Handler, ok = p.parseLabelRef(); !ok {
		return nil
	}
	if !p.endLine() {
		return nil
	}
	return s
}

// ---------------------------------------------------------------------------
// Debug directives
// ---------------------------------------------------------------------------

func (p *Parser) parseDebug() *DebugStmt {
	s := &DebugStmt{Pos: p.curToken.Pos}
	dir := p.curToken.Literal
	p.nextToken()

	var ok bool
	switch dir {
	case ".prologue":
		s.Kind = dex.DebugPrologue
	case ".epilogue":
		s.Kind = dex.DebugEpilogue
	case ".line":
		s.Kind = dex.DebugLine
		if !p.onLine() || !p.curTokenIs(TokenInteger) {
			p.unexpected("line number")
			return nil
		}
		n, suffix, err := parseInt(p.curToken.Literal)
		if err != nil || suffix != 0 || n < 0 || n > math.MaxUint32 {
			p.errorf("invalid line number %s", p.curToken.Literal)
			return nil
		}
		s.Line = int(n)
		p.nextToken()
	case ".end", ".restart":
		if !p.onLine() || !p.curTokenIs(TokenWord) || p.curToken.Literal != "local" {
			p.unexpected("'local'")
			return nil
		}
		p.nextToken()
		s.Kind = dex.DebugEndLocal
		if dir == ".restart" {
			s.Kind = dex.DebugRestartLocal
		}
		if s.Reg, ok = p.parseRegister(); !ok {
			return nil
		}
	case ".local":
		s.Kind = dex.DebugStartLocal
		if s.Reg, ok = p.parseRegister(); !ok {
			return nil
		}
		if p.onLine() && p.curTokenIs(TokenComma) {
			p.nextToken()
			if !p.onLine() || !p.curTokenIs(TokenString) {
				p.unexpected("local name")
				return nil
			}
			s.Name = p.curToken.Literal
			p.nextToken()
			if !p.expectOnLine(TokenColon) {
				return nil
			}
			if !p.onLine() || !p.curTokenIs(TokenWord) || !dex.ValidTypeDescriptor(p.curToken.Literal) {
				p.unexpected("local type")
				return nil
			}
			s.Type = p.curToken.Literal
			p.nextToken()
			if p.onLine() && p.curTokenIs(TokenComma) {
				p.nextToken()
				if !p.onLine() || !p.curTokenIs(TokenString) {
					p.unexpected("local signature")
					return nil
				}
				s.Signature = p.curToken.Literal
				p.nextToken()
			}
		}
	}
	if !p.endLine() {
		return nil
	}
	return s
}

// ---------------------------------------------------------------------------
// Payload blocks
// ---------------------------------------------------------------------------

// parsePayloadLines calls line for each statement until ".end <what>". It
// returns false if any line failed; the failing lines have been skipped.
func (p *Parser) parsePayloadLines(what string, line func() bool) bool {
	ok := true
	for !p.curTokenIs(TokenEOF) {
		st := p.begin()
		if p.curEnd(what) {
			p.nextToken()
			p.nextToken()
			if !p.endLine() {
				p.recover(st)
				return false
			}
			return ok
		}
		if p.curTokenIs(TokenDirective) {
			break
		}
		// The first token of a payload line starts the statement.
		p.prevLine = p.curToken.Pos.Line
		if !line() || !p.endLine() {
			p.recover(st)
			ok = false
		}
	}
	p.errorf("missing .end %s", what)
	return false
}

func (p *Parser) parsePackedSwitch() *PackedSwitchStmt {
	start := p.curToken
	s := &PackedSwitchStmt{Pos: start.Pos}
	p.nextToken()
	key, ok := p.parseInt32("first key")
	if ok {
		s.FirstKey = key
		ok = p.endLine()
	}
	if !ok {
		p.recover(start)
	}
	if !p.parsePayloadLines("packed-switch", func() bool {
		target, ok := p.parseLabelRef()
		s.Targets = append(s.Targets, target)
		return ok
	}) || !ok {
		return nil
	}
	return s
}

func (p *Parser) parseSparseSwitch() *SparseSwitchStmt {
	start := p.curToken
	s := &SparseSwitchStmt{Pos: start.Pos}
	p.nextToken()
	if !p.endLine() {
		p.recover(start)
	}
	if !p.parsePayloadLines("sparse-switch", func() bool {
		key, ok := p.parseInt32("switch key")
		if !ok || !p.expectOnLine(TokenArrow) {
			return false
		}
		target, ok := p.parseLabelRef()
		if !ok {
			return false
		}
		s.Keys = append(s.Keys, key)
		s.Targets = append(s.Targets, target)
		return true
	}) {
		return nil
	}
	return s
}

func (p *Parser) parseArrayData() *ArrayDataStmt {
	start := p.curToken
	s := &ArrayDataStmt{Pos: start.Pos}
	p.nextToken()
	width, ok := p.parseCount("element width")
	if ok {
		s.Width = width
		ok = p.endLine()
	}
	if !ok {
		p.recover(start)
	}
	if !p.parsePayloadLines("array-data", func() bool {
		n, ok := p.parseArrayElement(s.Width)
		s.Elements = append(s.Elements, n)
		return ok
	}) || !ok {
		return nil
	}
	return s
}

// parseArrayElement parses one array-data element as raw bits.
func (p *Parser) parseArrayElement(width int) (int64, bool) {
	tok := p.curToken
	switch tok.Type {
	case TokenInteger:
		n, _, err := parseInt(tok.Literal)
		if err != nil {
			p.errorf("%v", err)
			return 0, false
		}
		p.nextToken()
		return n, true
	case TokenChar:
		n, _ := strconv.Atoi(tok.Literal)
		p.nextToken()
		return int64(n), true
	case TokenFloat:
		f, _, err := parseFloat(tok.Literal)
		if err != nil {
			p.errorf("%v", err)
			return 0, false
		}
		p.nextToken()
		if width == 4 {
			return int64(math.Float32bits(float32(f))), true
		}
		return int64(math.Float64bits(f)), true
	}
	p.unexpected("array element")
	return 0, false
}

func (p *Parser) parseInt32(what string) (int32, bool) {
	if !p.onLine() || !p.curTokenIs(TokenInteger) {
		p.unexpected(what)
		return 0, false
	}
	n, _, err := parseInt(p.curToken.Literal)
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		p.errorf("%s %s does not fit in 32 bits", what, p.curToken.Literal)
		return 0, false
	}
	p.nextToken()
	return int32(n), true
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (p *Parser) parseInstruction() *InstructionStmt {
	s := &InstructionStmt{Pos: p.curToken.Pos, Mnemonic: p.curToken.Literal}
	if _, ok := dex.LookupMnemonic(s.Mnemonic); !ok {
		p.errorf("unknown instruction %s", s.Mnemonic)
		return nil
	}
	p.nextToken()
	if !p.onLine() {
		return s
	}
	for {
		op, ok := p.parseOperand()
		if !ok {
			return nil
		}
		s.Operands = append(s.Operands, op)
		if !p.onLine() {
			return s
		}
		if !p.curTokenIs(TokenComma) {
			p.unexpected("','")
			return nil
		}
		p.nextToken()
	}
}

func (p *Parser) parseOperand() (Operand, bool) {
	tok := p.curToken
	op := Operand{Pos: tok.Pos}
	if !p.onLine() {
		p.unexpected("operand")
		return op, false
	}
	switch tok.Type {
	case TokenRegister:
		r, ok := p.parseRegister()
		op.Kind, op.Regs = OpndRegister, []Register{r}
		return op, ok
	case TokenLBrace:
		return p.parseRegisterList()
	case TokenLabel:
		op.Kind, op.Label = OpndLabel, tok.Literal[1:]
	case TokenInteger:
		n, _, err := parseInt(tok.Literal)
		if err != nil {
			p.errorf("%v", err)
			return op, false
		}
		op.Kind, op.Int = OpndInt, n
	case TokenFloat:
		f, single, err := parseFloat(tok.Literal)
		if err != nil {
			p.errorf("%v", err)
			return op, false
		}
		op.Kind = OpndInt
		if single {
			op.Int = int64(math.Float32bits(float32(f)))
		} else {
			op.Int = int64(math.Float64bits(f))
		}
	case TokenChar:
		n, _ := strconv.Atoi(tok.Literal)
		op.Kind, op.Int = OpndInt, int64(n)
	case TokenString:
		op.Kind, op.Str = OpndString, tok.Literal
	case TokenWord:
		w := tok.Literal
		switch {
		case strings.Contains(w, "->"):
			ref, err := parseMemberRef(w)
			if err != nil {
				p.errorf("%v", err)
				return op, false
			}
			op.Ref = ref
			op.Kind = OpndField
			if ref.Kind() == dex.RefMethod {
				op.Kind = OpndMethod
			}
		case dex.ValidTypeDescriptor(w):
			op.Kind, op.Ref = OpndType, dex.TypeRef(w)
		default:
			op.Kind, op.Str = OpndWord, w
		}
	default:
		p.unexpected("operand")
		return op, false
	}
	p.nextToken()
	return op, true
}

// parseRegisterList parses {vA, vB} or {vA .. vB}.
func (p *Parser) parseRegisterList() (Operand, bool) {
	op := Operand{Pos: p.curToken.Pos, Kind: OpndRegisterList}
	p.nextToken() // {
	if p.onLine() && p.curTokenIs(TokenRBrace) {
		p.nextToken()
		return op, true
	}
	first, ok := p.parseRegister()
	if !ok {
		return op, false
	}
	op.Regs = append(op.Regs, first)
	if p.onLine() && p.curTokenIs(TokenDotDot) {
		p.nextToken()
		last, ok := p.parseRegister()
		if !ok {
			return op, false
		}
		op.Kind = OpndRegisterRange
		op.Regs = append(op.Regs, last)
		return op, p.expectOnLine(TokenRBrace)
	}
	for p.onLine() && p.curTokenIs(TokenComma) {
		p.nextToken()
		r, ok := p.parseRegister()
		if !ok {
			return op, false
		}
		op.Regs = append(op.Regs, r)
	}
	return op, p.expectOnLine(TokenRBrace)
}

// ---------------------------------------------------------------------------
// Literal parsing
// ---------------------------------------------------------------------------

// parseInt parses an integer literal with an optional sign, 0x prefix and
// width suffix (L, t for byte, s for short). Hex literals may use the full
// unsigned range of 64 bits.
func parseInt(lit string) (int64, byte, error) {
	s := lit
	var suffix byte
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'L', 'l':
			suffix = 'L'
		case 't', 'T':
			suffix = 't'
		case 's', 'S':
			suffix = 's'
		}
		if suffix != 0 {
			s = s[:n-1]
		}
	}
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, s = 16, s[2:]
	}
	u, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid integer %s", lit)
	}
	if base == 10 && u > math.MaxInt64 && !(neg && u == 1<<63) {
		return 0, 0, fmt.Errorf("integer %s out of range", lit)
	}
	if neg {
		return -int64(u), suffix, nil
	}
	return int64(u), suffix, nil
}

// parseFloat parses a float literal. The result reports whether the literal
// had an f suffix.
func parseFloat(lit string) (float64, bool, error) {
	s := lit
	single := false
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'f', 'F':
			single, s = true, s[:n-1]
		case 'd', 'D':
			s = s[:n-1]
		}
	}
	switch strings.TrimLeft(s, "+-") {
	case "NaN":
		return math.NaN(), single, nil
	case "Infinity":
		if strings.HasPrefix(s, "-") {
			return math.Inf(-1), single, nil
		}
		return math.Inf(1), single, nil
	}
	bits := 64
	if single {
		bits = 32
	}
	f, err := strconv.ParseFloat(s, bits)
	if err != nil {
		return 0, false, fmt.Errorf("invalid float %s", lit)
	}
	return f, single, nil
}
