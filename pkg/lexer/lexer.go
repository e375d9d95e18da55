package lexer

import (
	"fmt"

	"github.com/feral-lang/feral/pkg/source"
)

// ----------------------------------------------------------------------------
// Lexer

// Finite scanner over a UTF-8-clean buffer, turning it into an ordered Token stream
// (§4.1). Operators are recognized by matching the remaining input against
// operatorRules by prefix (up to three bytes), longest rule first.
type Lexer struct {
	unit *source.Unit

	pos   int // Byte offset of the next unconsumed byte
	start int // Byte offset where the token currently being scanned began
}

func New(unit *source.Unit) *Lexer {
	return &Lexer{unit: unit}
}

// A lex-time failure: malformed token, unmatched quote, illegal digit, stray block
// comment terminator (§7 kind 1).
type Error struct {
	Loc     source.Location
	Message string
}

func (e *Error) Error() string { return e.Message }

// Scans the whole buffer and returns every token, terminated by a single EOF token.
// Total and covering: every non-whitespace, non-comment byte belongs to exactly one
// token (§8 testable property).
func (l *Lexer) Lex() ([]Token, error) {
	tokens := []Token{}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) loc(start, end int) source.Location {
	return source.Location{SourceID: l.unit.ID, OffsetStart: start, OffsetEnd: end}
}

func (l *Lexer) fail(start int, format string, args ...any) error {
	return &Error{Loc: l.loc(start, l.pos), Message: fmt.Sprintf(format, args...)}
}

func (l *Lexer) eof() bool { return l.pos >= len(l.unit.Bytes) }

func (l *Lexer) peek() byte {
	if l.eof() {
		return 0
	}
	return l.unit.Bytes[l.pos]
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.unit.Bytes) {
		return 0
	}
	return l.unit.Bytes[l.pos+offset]
}

func (l *Lexer) advance() byte {
	b := l.unit.Bytes[l.pos]
	l.pos++
	return b
}

// Scans and returns the next token, skipping whitespace and comments first.
func (l *Lexer) next() (Token, error) {
	if err := l.skipTrivia(); err != nil {
		return Token{}, err
	}

	l.start = l.pos
	if l.eof() {
		return Token{Kind: EOF, Loc: l.loc(l.pos, l.pos)}, nil
	}

	c := l.peek()
	switch {
	case isDigit(c):
		return l.lexNumber()
	case c == '"' || c == '\'' || c == '`':
		return l.lexString(c)
	case isIdentStart(c):
		return l.lexIdentOrKeyword()
	default:
		return l.lexOperator()
	}
}

// Skips whitespace, '#...EOL' line comments and '/*...*/' block comments (no
// nesting). A stray "*/" with no matching opener fails at its own location.
func (l *Lexer) skipTrivia() error {
	for !l.eof() {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '#':
			for !l.eof() && l.peek() != '\n' {
				l.advance()
			}
		case c == '/' && l.peekAt(1) == '*':
			start := l.pos
			l.advance()
			l.advance()
			closed := false
			for !l.eof() {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return l.fail(start, "unterminated block comment")
			}
		case c == '*' && l.peekAt(1) == '/':
			start := l.pos
			l.advance()
			l.advance()
			return l.fail(start, "stray block comment terminator '*/' with no matching '/*'")
		default:
			return nil
		}
	}
	return nil
}

func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isHexDigit(c byte) bool { return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentCont(c byte) bool { return isIdentStart(c) || isDigit(c) }

// ----------------------------------------------------------------------------
// Identifiers, keywords, magic identifiers

func (l *Lexer) lexIdentOrKeyword() (Token, error) {
	start := l.pos
	for !l.eof() && isIdentCont(l.peek()) {
		l.advance()
	}
	// Trailing '?' is part of the identifier grammar (e.g. 'empty?').
	if !l.eof() && l.peek() == '?' {
		l.advance()
	}

	text := string(l.unit.Bytes[start:l.pos])
	loc := l.loc(start, l.pos)

	// __SRC_DIR__ / __SRC_PATH__ are replaced at lex time by the current source's
	// directory/path, emitted as string tokens (§4.1).
	switch text {
	case "__SRC_DIR__":
		return Token{Kind: Str, Loc: loc, StrVal: l.unit.Dir}, nil
	case "__SRC_PATH__":
		return Token{Kind: Str, Loc: loc, StrVal: l.unit.Path}, nil
	}

	if kw, found := Keywords[text]; found {
		return Token{Kind: kw, Loc: loc, StrVal: text}, nil
	}
	return Token{Kind: Ident, Loc: loc, StrVal: text}, nil
}

// ----------------------------------------------------------------------------
// Numbers

func (l *Lexer) lexNumber() (Token, error) {
	start := l.pos

	if l.peek() == '0' && (l.peekAt(1) == 'x' || l.peekAt(1) == 'X') {
		l.advance()
		l.advance()
		digitsStart := l.pos
		for !l.eof() && isHexDigit(l.peek()) {
			l.advance()
		}
		if l.pos == digitsStart {
			return Token{}, l.fail(start, "malformed hexadecimal literal")
		}
		if !l.eof() && (l.peek() == '.') {
			return Token{}, l.fail(start, "floating literal must be base 10")
		}
		val, err := parseIntBase(string(l.unit.Bytes[digitsStart:l.pos]), 16)
		if err != nil {
			return Token{}, l.fail(start, "illegal digit in hexadecimal literal")
		}
		return Token{Kind: Int, Loc: l.loc(start, l.pos), IntVal: val}, nil
	}

	if l.peek() == '0' && (l.peekAt(1) == 'b' || l.peekAt(1) == 'B') {
		l.advance()
		l.advance()
		digitsStart := l.pos
		for !l.eof() && (l.peek() == '0' || l.peek() == '1') {
			l.advance()
		}
		if l.pos == digitsStart {
			return Token{}, l.fail(start, "malformed binary literal")
		}
		if !l.eof() && l.peek() == '.' {
			return Token{}, l.fail(start, "floating literal must be base 10")
		}
		val, err := parseIntBase(string(l.unit.Bytes[digitsStart:l.pos]), 2)
		if err != nil {
			return Token{}, l.fail(start, "illegal digit in binary literal")
		}
		return Token{Kind: Int, Loc: l.loc(start, l.pos), IntVal: val}, nil
	}

	// Leading-zero octal (e.g. '0755'), or a plain decimal integer/float.
	leadingZero := l.peek() == '0'
	for !l.eof() && isDigit(l.peek()) {
		l.advance()
	}

	if !l.eof() && l.peek() == '.' && isDigit(l.peekAt(1)) {
		l.advance()
		for !l.eof() && isDigit(l.peek()) {
			l.advance()
		}
		val, err := parseFloat(string(l.unit.Bytes[start:l.pos]))
		if err != nil {
			return Token{}, l.fail(start, "malformed floating literal")
		}
		return Token{Kind: Flt, Loc: l.loc(start, l.pos), FltVal: val}, nil
	}

	text := string(l.unit.Bytes[start:l.pos])
	base := 10
	if leadingZero && len(text) > 1 {
		base = 8
	}
	val, err := parseIntBase(text, base)
	if err != nil {
		return Token{}, l.fail(start, "illegal digit in integer literal")
	}
	return Token{Kind: Int, Loc: l.loc(start, l.pos), IntVal: val}, nil
}

// ----------------------------------------------------------------------------
// Strings

// Decodes escapes at lex time: '\a \b \f \n \r \t \v' become their control bytes;
// any other '\x' passes 'x' through literally (§4.1). An unmatched quote fails at
// the location of the opening quote.
func (l *Lexer) lexString(quote byte) (Token, error) {
	openStart := l.pos
	l.advance() // consume opening quote

	var out []byte
	for {
		if l.eof() {
			return Token{}, l.fail(openStart, "unterminated string literal")
		}
		c := l.peek()
		if c == quote {
			l.advance()
			break
		}
		if c == '\\' {
			l.advance()
			if l.eof() {
				return Token{}, l.fail(openStart, "unterminated string literal")
			}
			esc := l.advance()
			out = append(out, decodeEscape(esc))
			continue
		}
		out = append(out, l.advance())
	}

	return Token{Kind: Str, Loc: l.loc(openStart, l.pos), StrVal: string(out)}, nil
}

func decodeEscape(c byte) byte {
	switch c {
	case 'a':
		return '\a'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'v':
		return '\v'
	default:
		return c
	}
}

// ----------------------------------------------------------------------------
// Operators and punctuation

type opRule struct {
	text string
	kind Kind
}

// Checked longest-match-first so that e.g. '<<=' is recognized before '<<' before '<'.
var operatorRules = []opRule{
	{"<<=", ShlAssign}, {">>=", ShrAssign},
	{"**", Pow}, {"//", IntDiv}, {"<<", Shl}, {">>", Shr},
	{"<=", Le}, {">=", Ge}, {"==", Eq}, {"!=", Ne},
	{"&&", And}, {"||", Or}, {"++", Incr}, {"--", Decr}, {"...", Ellipsis},
	{"+=", PlusAssign}, {"-=", MinusAssign}, {"*=", StarAssign}, {"/=", SlashAssign},
	{"%=", PercentAssign}, {"&=", AndAssign}, {"|=", OrAssign}, {"^=", XorAssign}, {"~=", NotAssign},
	{"(", LParen}, {")", RParen}, {"{", LBrace}, {"}", RBrace},
	{"[", LBracket}, {"]", RBracket}, {",", Comma}, {";", Semi},
	{".", Dot}, {":", Colon}, {"?", Question},
	{"=", Assign}, {"+", Plus}, {"-", Minus}, {"*", Star}, {"/", Slash}, {"%", Percent},
	{"<", Lt}, {">", Gt}, {"&", BitAnd}, {"^", BitXor}, {"|", BitOr}, {"~", BitNot}, {"!", Not},
}

func (l *Lexer) lexOperator() (Token, error) {
	start := l.pos
	remaining := l.unit.Bytes[l.pos:]

	for _, rule := range operatorRules {
		if len(remaining) >= len(rule.text) && string(remaining[:len(rule.text)]) == rule.text {
			l.pos += len(rule.text)
			return Token{Kind: rule.kind, Loc: l.loc(start, l.pos)}, nil
		}
	}

	l.advance()
	return Token{}, l.fail(start, "unexpected character %q", remaining[0])
}

func parseIntBase(text string, base int) (int64, error) {
	var val int64
	if text == "" {
		return 0, fmt.Errorf("empty literal")
	}
	for _, c := range []byte(text) {
		digit, err := digitValue(c)
		if err != nil || digit >= base {
			return 0, fmt.Errorf("illegal digit %q for base %d", c, base)
		}
		val = val*int64(base) + int64(digit)
	}
	return val, nil
}

func digitValue(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, nil
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, nil
	default:
		return 0, fmt.Errorf("not a digit")
	}
}

func parseFloat(text string) (float64, error) {
	var whole, frac int64
	var fracDigits int
	i := 0
	for ; i < len(text) && text[i] != '.'; i++ {
		whole = whole*10 + int64(text[i]-'0')
	}
	i++ // skip '.'
	for ; i < len(text); i++ {
		frac = frac*10 + int64(text[i]-'0')
		fracDigits++
	}

	result := float64(whole)
	if fracDigits > 0 {
		div := 1.0
		for j := 0; j < fracDigits; j++ {
			div *= 10
		}
		result += float64(frac) / div
	}
	return result, nil
}
