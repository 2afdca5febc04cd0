// Package parser provides CQL parsing for the user type statement layer.
package parser

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenQuotedIdent
	TokenNumber
	TokenString
	TokenUUID
	TokenBlob

	// Keywords
	TokenSelect
	TokenFrom
	TokenWhere
	TokenInsert
	TokenInto
	TokenValues
	TokenUpdate
	TokenSet
	TokenCreate
	TokenDrop
	TokenAlter
	TokenType_
	TokenTable
	TokenKeyspace
	TokenUse
	TokenIf
	TokenNot
	TokenExists
	TokenAdd
	TokenRename
	TokenTo
	TokenPrimary
	TokenKey
	TokenWith
	TokenAnd
	TokenNull
	TokenTrue
	TokenFalse

	// Operators and punctuation
	TokenEq        // =
	TokenLt        // <
	TokenGt        // >
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenComma     // ,
	TokenColon     // :
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenDot       // .
	TokenSemicolon // ;
)

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int // Position in input
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type.String(), t.Literal, t.Pos)
}

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenError:       "ERROR",
	TokenIdent:       "IDENT",
	TokenQuotedIdent: "QUOTED IDENT",
	TokenNumber:      "NUMBER",
	TokenString:      "STRING",
	TokenUUID:        "UUID",
	TokenBlob:        "BLOB",
	TokenEq:          "=",
	TokenLt:          "<",
	TokenGt:          ">",
	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenStar:        "*",
	TokenComma:       ",",
	TokenColon:       ":",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenLBrace:      "{",
	TokenRBrace:      "}",
	TokenLBracket:    "[",
	TokenRBracket:    "]",
	TokenDot:         ".",
	TokenSemicolon:   ";",
}

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	for word, tt := range keywords {
		if tt == t {
			return word
		}
	}
	return "UNKNOWN"
}

// keywords maps CQL keywords to their token types.
var keywords = map[string]TokenType{
	"SELECT":   TokenSelect,
	"FROM":     TokenFrom,
	"WHERE":    TokenWhere,
	"INSERT":   TokenInsert,
	"INTO":     TokenInto,
	"VALUES":   TokenValues,
	"UPDATE":   TokenUpdate,
	"SET":      TokenSet,
	"CREATE":   TokenCreate,
	"DROP":     TokenDrop,
	"ALTER":    TokenAlter,
	"TYPE":     TokenType_,
	"TABLE":    TokenTable,
	"KEYSPACE": TokenKeyspace,
	"USE":      TokenUse,
	"IF":       TokenIf,
	"NOT":      TokenNot,
	"EXISTS":   TokenExists,
	"ADD":      TokenAdd,
	"RENAME":   TokenRename,
	"TO":       TokenTo,
	"PRIMARY":  TokenPrimary,
	"KEY":      TokenKey,
	"WITH":     TokenWith,
	"AND":      TokenAnd,
	"NULL":     TokenNull,
	"TRUE":     TokenTrue,
	"FALSE":    TokenFalse,
}

// unreserved keywords may also be used as identifiers.
var unreserved = map[TokenType]bool{
	TokenType_:    true,
	TokenKey:      true,
	TokenExists:   true,
	TokenKeyspace: true,
}

// Lexer tokenizes CQL input.
type Lexer struct {
	input   string
	pos     int  // Current position in input
	readPos int  // Reading position (after current char)
	ch      byte // Current character
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// readChar reads the next character and advances the position.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// skipWhitespace skips whitespace and comments.
func (l *Lexer) skipWhitespace() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case (l.ch == '-' && l.peekChar() == '-') || (l.ch == '/' && l.peekChar() == '/'):
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for l.ch != 0 && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
		default:
			return
		}
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	startPos := l.pos
	var tok Token

	switch l.ch {
	case '=':
		tok = Token{Type: TokenEq, Literal: "=", Pos: startPos}
	case '<':
		tok = Token{Type: TokenLt, Literal: "<", Pos: startPos}
	case '>':
		tok = Token{Type: TokenGt, Literal: ">", Pos: startPos}
	case '+':
		tok = Token{Type: TokenPlus, Literal: "+", Pos: startPos}
	case '-':
		tok = Token{Type: TokenMinus, Literal: "-", Pos: startPos}
	case '*':
		tok = Token{Type: TokenStar, Literal: "*", Pos: startPos}
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Pos: startPos}
	case ':':
		tok = Token{Type: TokenColon, Literal: ":", Pos: startPos}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "(", Pos: startPos}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")", Pos: startPos}
	case '{':
		tok = Token{Type: TokenLBrace, Literal: "{", Pos: startPos}
	case '}':
		tok = Token{Type: TokenRBrace, Literal: "}", Pos: startPos}
	case '[':
		tok = Token{Type: TokenLBracket, Literal: "[", Pos: startPos}
	case ']':
		tok = Token{Type: TokenRBracket, Literal: "]", Pos: startPos}
	case '.':
		tok = Token{Type: TokenDot, Literal: ".", Pos: startPos}
	case ';':
		tok = Token{Type: TokenSemicolon, Literal: ";", Pos: startPos}
	case '\'':
		return l.readQuoted('\'', TokenString)
	case '"':
		return l.readQuoted('"', TokenQuotedIdent)
	case 0:
		tok = Token{Type: TokenEOF, Literal: "", Pos: startPos}
	default:
		if n := uuidLength(l.input[l.pos:]); n > 0 {
			return l.readFixed(n, TokenUUID)
		}
		if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
			return l.readBlob()
		}
		if isLetter(l.ch) || l.ch == '_' {
			return l.readIdentifier()
		}
		if isDigit(l.ch) {
			return l.readNumber()
		}
		tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
	}

	l.readChar()
	return tok
}

// readIdentifier reads an identifier or keyword. Unquoted identifiers are
// case-insensitive and normalized to lower case.
func (l *Lexer) readIdentifier() Token {
	startPos := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[startPos:l.pos]
	upper := strings.ToUpper(literal)

	if tokType, ok := keywords[upper]; ok {
		return Token{Type: tokType, Literal: upper, Pos: startPos}
	}
	return Token{Type: TokenIdent, Literal: strings.ToLower(literal), Pos: startPos}
}

// readNumber reads an integer or a decimal with an optional exponent.
func (l *Lexer) readNumber() Token {
	startPos := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			if !isDigit(l.ch) {
				return Token{Type: TokenError, Literal: "malformed exponent", Pos: startPos}
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[startPos:l.pos], Pos: startPos}
}

// readQuoted reads a string or quoted identifier. A doubled quote character
// inside stands for one quote.
func (l *Lexer) readQuoted(quote byte, typ TokenType) Token {
	startPos := l.pos
	l.readChar() // Skip opening quote

	var sb strings.Builder
	for {
		if l.ch == 0 && l.pos >= len(l.input) {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: startPos}
		}
		if l.ch == quote {
			if l.peekChar() != quote {
				break
			}
			l.readChar()
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	l.readChar() // Skip closing quote
	return Token{Type: typ, Literal: sb.String(), Pos: startPos}
}

// readBlob reads a 0x-prefixed hex literal.
func (l *Lexer) readBlob() Token {
	startPos := l.pos
	l.readChar()
	l.readChar()
	for isHex(l.ch) {
		l.readChar()
	}
	if isLetter(l.ch) || l.ch == '_' {
		return Token{Type: TokenError, Literal: "malformed blob literal", Pos: startPos}
	}
	return Token{Type: TokenBlob, Literal: l.input[startPos:l.pos], Pos: startPos}
}

func (l *Lexer) readFixed(n int, typ TokenType) Token {
	startPos := l.pos
	for i := 0; i < n; i++ {
		l.readChar()
	}
	return Token{Type: typ, Literal: strings.ToLower(l.input[startPos:l.pos]), Pos: startPos}
}

// uuidLength returns 36 when s starts with a canonical 8-4-4-4-12 hex UUID
// that is not followed by another identifier character, and 0 otherwise.
func uuidLength(s string) int {
	const n = 36
	if len(s) < n {
		return 0
	}
	for i := 0; i < n; i++ {
		switch i {
		case 8, 13, 18, 23:
			if s[i] != '-' {
				return 0
			}
		default:
			if !isHex(s[i]) {
				return 0
			}
		}
	}
	if len(s) > n && (isLetter(s[n]) || isDigit(s[n]) || s[n] == '_') {
		return 0
	}
	return n
}

// Tokenize returns all tokens from the input.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

// isLetter returns true if the character is a letter.
func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

// isDigit returns true if the character is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHex(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}
