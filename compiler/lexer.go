package compiler

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for assembly text
// ---------------------------------------------------------------------------

// Lexer tokenizes assembly source text. Newlines are not tokens; the parser
// uses token positions to find statement boundaries.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // current line (1-based)
	col       int  // current column (1-based)
	stringEnd int  // offset just past the last string literal, or -1
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:     input,
		line:      1,
		stringEnd: -1,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) atEOF() bool {
	return l.ch == 0 && l.pos >= len(l.input)
}

// Tokenize returns every token of the input, ending with TokenEOF.
func (l *Lexer) Tokenize() []Token {
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if l.ch == ':' && l.pos == l.stringEnd {
		pos := l.position()
		l.readChar()
		return Token{Type: TokenColon, Literal: ":", Pos: pos}
	}
	l.skipWhitespaceAndComments()

	pos := l.position()

	switch {
	case l.atEOF():
		return Token{Type: TokenEOF, Pos: pos}

	case l.ch == '{':
		l.readChar()
		return Token{Type: TokenLBrace, Literal: "{", Pos: pos}

	case l.ch == '}':
		l.readChar()
		return Token{Type: TokenRBrace, Literal: "}", Pos: pos}

	case l.ch == ',':
		l.readChar()
		return Token{Type: TokenComma, Literal: ",", Pos: pos}

	case l.ch == '=':
		l.readChar()
		return Token{Type: TokenEquals, Literal: "=", Pos: pos}

	case l.ch == '"':
		return l.readString(pos)

	case l.ch == '\'':
		return l.readChar16(pos)
	}

	start := l.pos
	for !l.atEOF() && !unicode.IsSpace(l.ch) && !strings.ContainsRune(`{},="'#`, l.ch) {
		l.readChar()
	}
	word := l.input[start:l.pos]
	if word == "" {
		l.readChar()
		return Token{Type: TokenError, Literal: "unexpected character", Pos: pos}
	}
	return Token{Type: classifyWord(word), Literal: word, Pos: pos}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch {
		case unicode.IsSpace(l.ch):
			l.readChar()
		case l.ch == '#':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

// classifyWord decides what kind of token a run of word characters is.
func classifyWord(w string) TokenType {
	switch {
	case w == "..":
		return TokenDotDot
	case w == "->":
		return TokenArrow
	case len(w) > 1 && w[0] == '.' && isLetter(w[1]):
		return TokenDirective
	case len(w) > 1 && w[0] == ':':
		return TokenLabel
	case isRegister(w):
		return TokenRegister
	}
	return numberKind(w)
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isRegister(w string) bool {
	if len(w) < 2 || (w[0] != 'v' && w[0] != 'p') {
		return false
	}
	for i := 1; i < len(w); i++ {
		if w[i] < '0' || w[i] > '9' {
			return false
		}
	}
	return true
}

// numberKind returns TokenInteger or TokenFloat for numeric words and
// TokenWord for everything else.
func numberKind(w string) TokenType {
	body := strings.TrimLeft(w, "+-")
	if len(w)-len(body) > 1 {
		return TokenWord
	}
	switch strings.TrimRight(body, "fF") {
	case "NaN", "Infinity":
		return TokenFloat
	}
	if body == "" || body[0] < '0' || body[0] > '9' {
		if !(len(body) > 1 && body[0] == '.' && body[1] >= '0' && body[1] <= '9') {
			return TokenWord
		}
	}
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		return TokenInteger
	}
	if strings.ContainsAny(body, ".eE") || strings.ContainsAny(body[len(body)-1:], "fFdD") {
		return TokenFloat
	}
	return TokenInteger
}

// readString reads a double-quoted string literal. The token literal holds
// the decoded value.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // opening quote
	var units []uint16
	for {
		switch {
		case l.atEOF() || l.ch == '\n':
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case l.ch == '"':
			l.readChar()
			l.stringEnd = l.pos
			// Strings are stored as UTF-8, which has no encoding for half a
			// surrogate pair.
			if u, ok := unpairedSurrogate(units); ok {
				l.skipToLineEnd()
				return Token{Type: TokenError, Literal: "unpaired surrogate \\u" + strconv.FormatUint(uint64(u), 16) + " in string", Pos: pos}
			}
			return Token{Type: TokenString, Literal: decodeUnits(units), Pos: pos}
		case l.ch == '\\':
			u, msg := l.readEscape()
			if msg != "" {
				l.skipToLineEnd()
				return Token{Type: TokenError, Literal: msg, Pos: pos}
			}
			units = append(units, u)
		default:
			units = utf16.AppendRune(units, l.ch)
			l.readChar()
		}
	}
}

// readChar16 reads a single-quoted character literal. The token literal
// holds the decimal UTF-16 code unit.
func (l *Lexer) readChar16(pos Position) Token {
	l.readChar() // opening quote
	var u uint16
	switch {
	case l.atEOF() || l.ch == '\n' || l.ch == '\'':
		return Token{Type: TokenError, Literal: "empty character literal", Pos: pos}
	case l.ch == '\\':
		var msg string
		if u, msg = l.readEscape(); msg != "" {
			l.skipToLineEnd()
			return Token{Type: TokenError, Literal: msg, Pos: pos}
		}
	default:
		if l.ch > 0xffff {
			l.skipToLineEnd()
			return Token{Type: TokenError, Literal: "character does not fit in 16 bits", Pos: pos}
		}
		u = uint16(l.ch)
		l.readChar()
	}
	if l.ch != '\'' {
		l.skipToLineEnd()
		return Token{Type: TokenError, Literal: "unterminated character literal", Pos: pos}
	}
	l.readChar()
	return Token{Type: TokenChar, Literal: strconv.Itoa(int(u)), Pos: pos}
}

// readEscape consumes a backslash escape and returns its code unit, or an
// error message.
func (l *Lexer) readEscape() (uint16, string) {
	l.readChar() // backslash
	c := l.ch
	l.readChar()
	switch c {
	case 'n':
		return '\n', ""
	case 't':
		return '\t', ""
	case 'r':
		return '\r', ""
	case 'b':
		return '\b', ""
	case 'f':
		return '\f', ""
	case '"', '\'', '\\':
		return uint16(c), ""
	case 'u':
		if l.readPos+3 > len(l.input) {
			return 0, "truncated \\u escape"
		}
		hex := l.input[l.pos : l.pos+4]
		v, err := strconv.ParseUint(hex, 16, 16)
		if err != nil {
			return 0, "invalid \\u escape " + strconv.Quote(hex)
		}
		for i := 0; i < 4; i++ {
			l.readChar()
		}
		return uint16(v), ""
	}
	return 0, "invalid escape \\" + string(c)
}

func (l *Lexer) skipToLineEnd() {
	for !l.atEOF() && l.ch != '\n' {
		l.readChar()
	}
}

// unpairedSurrogate returns the first surrogate code unit in units that is
// not part of a high-low pair.
func unpairedSurrogate(units []uint16) (uint16, bool) {
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u < 0xd800 || u > 0xdfff:
		case u < 0xdc00 && i+1 < len(units) && units[i+1] >= 0xdc00 && units[i+1] <= 0xdfff:
			i++
		default:
			return u, true
		}
	}
	return 0, false
}

func decodeUnits(units []uint16) string {
	return string(utf16.Decode(units))
}
