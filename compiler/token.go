package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the assembly lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger // 42, 0x2a, -0x1L, 0x7ft, 0x10s
	TokenFloat   // 1.5f, 2.0, NaN, -Infinityf
	TokenString  // "hello"
	TokenChar    // 'a', 'é'

	// Words
	TokenDirective // .class, .method, .end
	TokenLabel     // :goto_4
	TokenRegister  // v0, p1
	TokenWord      // mnemonics, access flags, descriptors, member references

	// Punctuation
	TokenLBrace // {
	TokenRBrace // }
	TokenComma  // ,
	TokenEquals // =
	TokenColon  // : directly after a string, as in .local v0, "name":I
	TokenArrow  // ->
	TokenDotDot // ..
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenError:     "ERROR",
	TokenInteger:   "INTEGER",
	TokenFloat:     "FLOAT",
	TokenString:    "STRING",
	TokenChar:      "CHAR",
	TokenDirective: "DIRECTIVE",
	TokenLabel:     "LABEL",
	TokenRegister:  "REGISTER",
	TokenWord:      "WORD",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenComma:     ",",
	TokenEquals:    "=",
	TokenColon:     ":",
	TokenArrow:     "->",
	TokenDotDot:    "..",
}

// String returns the name of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// Position is a location in the source text.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based
	Column int // 1-based
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string // raw text, or the decoded value for strings and chars, or the message for errors
	Pos     Position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "end of file"
	case TokenString:
		return fmt.Sprintf("string %q", t.Literal)
	case TokenError:
		return "error: " + t.Literal
	}
	return fmt.Sprintf("%q", t.Literal)
}
