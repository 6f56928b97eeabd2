package expr

import (
	"fmt"
	"strings"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral // #REF!, #N/A ...
	TokenCell
	TokenRange
	TokenFunction
	TokenIdentifier
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenColon
	TokenLeftParen
	TokenRightParen
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
)

// Token represents a lexical token with position information. Sheet and
// EndSheet carry the sheet prefix of references and qualified names; for a
// cell or identifier EndSheet is always empty.
type Token struct {
	Type     TokenType
	Value    string
	Pos      int // rune position in input
	Sheet    string
	EndSheet string
}

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	input      string
	runes      []rune // UTF-8 aware representation
	pos        int
	parenDepth int
	tokens     []Token
}

// NewLexer creates a new lexer for the given formula body. a leading '='
// must already be stripped.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		runes:  []rune(input),
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input. the returned slice always ends with
// a TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.runes) {
			break
		}
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
	}

	if l.parenDepth > 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses: missing closing parenthesis", ErrSyntax)
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos})
	return l.tokens, nil
}

func (l *Lexer) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, pos, fmt.Sprintf(format, args...))
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() (Token, error) {
	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if ch == charHash {
		return l.scanErrorLiteral()
	}

	if isDigit(ch) || (ch == charPeriod && isDigit(l.peek(1))) {
		return l.scanNumber(), nil
	}

	if isLetter(ch) || ch == charUnderscore || ch == charDollar || ch == charApostrophe {
		return l.scanReferenceOrIdentifier()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}, nil
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{}, l.errorf(startPos, "unexpected closing parenthesis")
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}, nil
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}, nil
	case charColon:
		l.pos++
		return Token{Type: TokenColon, Value: ":", Pos: startPos}, nil
	case charPlus, charMinus:
		l.pos++
		if l.isUnaryContext() {
			return Token{Type: TokenUnaryPrefixOp, Value: string(ch), Pos: startPos}, nil
		}
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}, nil
	case charPercent:
		l.pos++
		return Token{Type: TokenUnaryPostfixOp, Value: "%", Pos: startPos}, nil
	case charAsterisk, charSlash, charCaret, charAmpersand, charEqual:
		l.pos++
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}, nil
	case charLess:
		l.pos++
		switch l.current() {
		case charEqual:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<=", Pos: startPos}, nil
		case charGreater:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<>", Pos: startPos}, nil
		}
		return Token{Type: TokenBinaryOp, Value: "<", Pos: startPos}, nil
	case charGreater:
		l.pos++
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: ">=", Pos: startPos}, nil
		}
		return Token{Type: TokenBinaryOp, Value: ">", Pos: startPos}, nil
	}

	return Token{}, l.errorf(startPos, "unexpected character: %s", string(ch))
}

// isUnaryContext checks whether a +/- at this point is a prefix operator:
// at the start, or after an operator, a left paren or a comma
func (l *Lexer) isUnaryContext() bool {
	if len(l.tokens) == 0 {
		return true
	}
	switch l.tokens[len(l.tokens)-1].Type {
	case TokenBinaryOp, TokenUnaryPrefixOp, TokenLeftParen, TokenComma, TokenColon:
		return true
	}
	return false
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod {
		l.pos++
		for isDigit(l.current()) {
			l.pos++
		}
	}

	// scientific notation needs at least one exponent digit
	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !isDigit(l.current()) {
			l.pos = savedPos
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return Token{Type: TokenNumber, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() (Token, error) {
	startPos := l.pos
	l.pos++ // opening quote

	var result []rune
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch != charQuote {
			result = append(result, ch)
			l.pos++
			continue
		}
		if l.peek(1) == charQuote {
			result = append(result, charQuote)
			l.pos += 2
			continue
		}
		l.pos++
		return Token{Type: TokenString, Value: string(result), Pos: startPos}, nil
	}
	return Token{}, l.errorf(startPos, "unclosed string literal")
}

// scanErrorLiteral scans #REF!, #DIV/0!, #N/A, #NAME? and friends
func (l *Lexer) scanErrorLiteral() (Token, error) {
	startPos := l.pos
	l.pos++
	for l.pos < len(l.runes) {
		ch := l.current()
		if isLetter(ch) || isDigit(ch) || ch == charSlash {
			l.pos++
			continue
		}
		if ch == charExclaim || ch == '?' {
			l.pos++
		}
		break
	}
	text := l.substring(startPos, l.pos)
	return Token{Type: TokenErrorLiteral, Value: strings.ToUpper(text), Pos: startPos}, nil
}

// scanReferenceOrIdentifier scans cells, ranges, names, functions and
// booleans, each with an optional sheet prefix
func (l *Lexer) scanReferenceOrIdentifier() (Token, error) {
	startPos := l.pos

	sheet, endSheet, ok, err := l.scanSheetPrefix()
	if err != nil {
		return Token{}, err
	}

	wordStart := l.pos
	first := l.scanCellWord()
	if isCellWord(first) && l.current() != charLParen {
		// a range needs a second cell right after the colon
		if l.current() == charColon {
			savedPos := l.pos
			l.pos++
			second := l.scanCellWord()
			if isCellWord(second) {
				return Token{Type: TokenRange, Value: first + ":" + second, Pos: startPos,
					Sheet: sheet, EndSheet: endSheet}, nil
			}
			l.pos = savedPos
		}
		if endSheet != "" {
			return Token{Type: TokenRange, Value: first + ":" + first, Pos: startPos,
				Sheet: sheet, EndSheet: endSheet}, nil
		}
		return Token{Type: TokenCell, Value: first, Pos: startPos, Sheet: sheet}, nil
	}

	// not a cell: rescan as an identifier
	l.pos = wordStart
	for isIdentChar(l.current()) {
		l.pos++
	}
	word := l.substring(wordStart, l.pos)
	if word == "" {
		return Token{}, l.errorf(wordStart, "expected a reference after sheet prefix")
	}
	if ok {
		if endSheet != "" {
			return Token{}, l.errorf(startPos, "a name cannot span sheets")
		}
		return Token{Type: TokenIdentifier, Value: word, Pos: startPos, Sheet: sheet}, nil
	}

	upper := strings.ToUpper(word)
	if l.current() == charLParen {
		return Token{Type: TokenFunction, Value: upper, Pos: startPos}, nil
	}
	if upper == "TRUE" || upper == "FALSE" {
		return Token{Type: TokenBoolean, Value: upper, Pos: startPos}, nil
	}
	return Token{Type: TokenIdentifier, Value: word, Pos: startPos}, nil
}

// scanSheetPrefix consumes "Sheet!", "'My Sheet'!" or "Sheet1:Sheet3!" and
// restores the position when the input does not start with one
func (l *Lexer) scanSheetPrefix() (sheet, endSheet string, ok bool, err error) {
	savedPos := l.pos

	sheet, quoted, err := l.scanSheetName()
	if err != nil {
		return "", "", false, err
	}
	if sheet != "" && l.current() == charColon {
		l.pos++
		endSheet, _, err = l.scanSheetName()
		if err != nil {
			return "", "", false, err
		}
	}
	if sheet != "" && l.current() == charExclaim {
		l.pos++
		return sheet, endSheet, true, nil
	}
	if quoted {
		return "", "", false, l.errorf(savedPos, "quoted sheet name must be followed by '!'")
	}
	l.pos = savedPos
	return "", "", false, nil
}

func (l *Lexer) scanSheetName() (name string, quoted bool, err error) {
	if l.current() == charApostrophe {
		startPos := l.pos
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.runes) {
			ch := l.current()
			if ch == charApostrophe {
				if l.peek(1) == charApostrophe {
					sb.WriteRune(ch)
					l.pos += 2
					continue
				}
				l.pos++
				return sb.String(), true, nil
			}
			sb.WriteRune(ch)
			l.pos++
		}
		return "", true, l.errorf(startPos, "unclosed sheet name")
	}
	startPos := l.pos
	for isIdentChar(l.current()) {
		l.pos++
	}
	return l.substring(startPos, l.pos), false, nil
}

// scanCellWord consumes $?letters$?digits without validating it
func (l *Lexer) scanCellWord() string {
	startPos := l.pos
	if l.current() == charDollar {
		l.pos++
	}
	for isLetter(l.current()) {
		l.pos++
	}
	if l.current() == charDollar {
		l.pos++
	}
	for isDigit(l.current()) {
		l.pos++
	}
	// "A1B" or "A1_" is an identifier, not a cell
	if isIdentChar(l.current()) {
		for isIdentChar(l.current()) {
			l.pos++
		}
	}
	return l.substring(startPos, l.pos)
}

// isCellWord checks for $?[A-Z]{1,3}$?[0-9]+
func isCellWord(s string) bool {
	i := 0
	if i < len(s) && s[i] == charDollar {
		i++
	}
	letters := 0
	for i < len(s) && isLetter(rune(s[i])) {
		i++
		letters++
	}
	if letters == 0 || letters > 3 {
		return false
	}
	if i < len(s) && s[i] == charDollar {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(rune(s[i])) {
		i++
		digits++
	}
	return digits > 0 && i == len(s)
}

func isIdentChar(ch rune) bool {
	return isLetter(ch) || isDigit(ch) || ch == charUnderscore || ch == charPeriod
}

// helper methods for character navigation

func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		switch l.current() {
		case charSpace, charTab, charNewline, charReturn:
			l.pos++
		default:
			return
		}
	}
}
