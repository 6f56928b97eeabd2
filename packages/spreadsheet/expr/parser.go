package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet/value"
)

// ErrSyntax is wrapped by every lexer and parser failure
var ErrSyntax = errors.New("syntax error")

// ErrUnknownSheet is wrapped when a formula names a sheet the resolver does
// not know
var ErrUnknownSheet = errors.New("unknown sheet")

// ParseContext provides context for parsing relative references
type ParseContext struct {
	// Pos is the cell the formula is entered in. relative references are
	// stored as offsets from it.
	Pos Pos
	// ResolveSheet maps a sheet name used in the formula to a sheet
	ResolveSheet func(name string) (Sheet, bool)
	// ResolveName maps an identifier to a named expression. scope is the
	// sheet qualifier, or nil. may return nil to leave the name unbound.
	ResolveName func(name string, scope Sheet) NamedExpr
}

// Parser parses tokens into an AST
type Parser struct {
	tokens  []Token
	pos     int
	context *ParseContext
}

// Parse parses formula text into an expression. a leading '=' is optional.
func Parse(text string, ctx *ParseContext) (*Expr, error) {
	root, err := ParseNode(text, ctx)
	if err != nil {
		return nil, err
	}
	return New(root), nil
}

// ParseNode parses formula text into a bare tree
func ParseNode(text string, ctx *ParseContext) (Node, error) {
	if ctx == nil {
		ctx = &ParseContext{}
	}
	body := strings.TrimPrefix(strings.TrimSpace(text), "=")
	tokens, err := NewLexer(body).Tokenize()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}
	p := NewParser(tokens, ctx)
	node, err := p.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}
	return node, nil
}

func NewParser(tokens []Token, context *ParseContext) *Parser {
	return &Parser{
		tokens:  tokens,
		context: context,
	}
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (Node, error) {
	if len(p.tokens) == 0 || p.tokens[0].Type == TokenEOF {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if p.peek().Type != TokenEOF {
		return nil, p.unexpected()
	}
	return node, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) unexpected() error {
	tok := p.peek()
	if tok.Type == TokenEOF {
		return fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	return fmt.Errorf("%w at %d: unexpected token: %s", ErrSyntax, tok.Pos, tok.Value)
}

// parseBinaryLevel parses one left-associative precedence level
func (p *Parser) parseBinaryLevel(next func() (Node, error), ops map[string]BinaryOp) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		op, ok := ops[tok.Value]
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{Op: op, Left: left, Right: right}
	}
}

var (
	comparisonOps = map[string]BinaryOp{
		"=": BinOpEqual, "<>": BinOpNotEqual, "<": BinOpLess,
		"<=": BinOpLessEqual, ">": BinOpGreater, ">=": BinOpGreaterEqual,
	}
	concatOps         = map[string]BinaryOp{"&": BinOpConcat}
	additionOps       = map[string]BinaryOp{"+": BinOpAdd, "-": BinOpSubtract}
	multiplicationOps = map[string]BinaryOp{"*": BinOpMultiply, "/": BinOpDivide}
)

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (Node, error) {
	return p.parseBinaryLevel(p.parseConcatenation, comparisonOps)
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (Node, error) {
	return p.parseBinaryLevel(p.parseAddition, concatOps)
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (Node, error) {
	return p.parseBinaryLevel(p.parseMultiplication, additionOps)
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (Node, error) {
	return p.parseBinaryLevel(p.parsePower, multiplicationOps)
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if tok := p.peek(); tok.Type == TokenBinaryOp && tok.Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &BinaryOpNode{Op: BinOpPower, Left: left, Right: right}, nil
	}
	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}
	p.pos++
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}
	return &UnaryOpNode{Op: op, Operand: operand}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parseRangeOp()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenUnaryPostfixOp {
		p.pos++
		node = &UnaryOpNode{Op: UnaryOpPercent, Operand: node}
	}
	return node, nil
}

// parseRangeOp handles the ':' range constructor between two arbitrary
// reference expressions. literal A1:B2 ranges never get here, the lexer
// folds them into one token.
func (p *Parser) parseRangeOp() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenColon {
		p.pos++
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{Op: BinOpRange, Left: left, Right: right}
	}
	return left, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w at %d: invalid number: %s", ErrSyntax, tok.Pos, tok.Value)
		}
		return &ConstantNode{Value: val}, nil

	case TokenString:
		p.pos++
		return &ConstantNode{Value: tok.Value}, nil

	case TokenBoolean:
		p.pos++
		return &ConstantNode{Value: tok.Value == "TRUE"}, nil

	case TokenErrorLiteral:
		p.pos++
		e, ok := value.ParseError(tok.Value)
		if !ok {
			return nil, fmt.Errorf("%w at %d: unknown error literal: %s", ErrSyntax, tok.Pos, tok.Value)
		}
		return &ConstantNode{Value: e}, nil

	case TokenCell:
		p.pos++
		return p.parseCellReference(tok)

	case TokenRange:
		p.pos++
		return p.parseRange(tok)

	case TokenIdentifier:
		p.pos++
		return p.parseName(tok)

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().Type == TokenComma {
			items := []Node{node}
			for p.peek().Type == TokenComma {
				p.pos++
				item, err := p.parseComparison()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			node = &SetNode{Items: items}
		}
		if p.peek().Type != TokenRightParen {
			return nil, fmt.Errorf("%w: expected closing parenthesis", ErrSyntax)
		}
		p.pos++
		return node, nil

	default:
		return nil, p.unexpected()
	}
}

// parseFunctionCall parses a function call. zero arguments are allowed.
func (p *Parser) parseFunctionCall() (Node, error) {
	funcTok := p.peek()
	p.pos++

	if p.peek().Type != TokenLeftParen {
		return nil, fmt.Errorf("%w at %d: expected '(' after function name", ErrSyntax, funcTok.Pos)
	}
	p.pos++

	args := []Node{}
	if p.peek().Type == TokenRightParen {
		p.pos++
		return &FunctionCallNode{Name: funcTok.Value, Args: args}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		switch p.peek().Type {
		case TokenRightParen:
			p.pos++
			return &FunctionCallNode{Name: funcTok.Value, Args: args}, nil
		case TokenComma:
			p.pos++
		default:
			return nil, fmt.Errorf("%w: expected ',' or ')' in arguments of %s", ErrSyntax, funcTok.Value)
		}
	}
}

func (p *Parser) resolveSheet(name string) (Sheet, error) {
	if name == "" {
		return nil, nil
	}
	if p.context.ResolveSheet == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSheet, name)
	}
	sheet, ok := p.context.ResolveSheet(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSheet, name)
	}
	return sheet, nil
}

// parseCellAddress parses "$A$1" into a reference relative to the parse
// position
func (p *Parser) parseCellAddress(cell string, sheet Sheet) (CellRef, error) {
	colAbs := strings.HasPrefix(cell, "$")
	rest := strings.TrimPrefix(cell, "$")
	letterEnd := 0
	for letterEnd < len(rest) && isLetter(rune(rest[letterEnd])) {
		letterEnd++
	}
	rowAbs := letterEnd < len(rest) && rest[letterEnd] == charDollar

	pos, err := ParsePos(rest)
	if err != nil {
		return CellRef{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	ref := CellRef{Sheet: sheet, ColRelative: !colAbs, RowRelative: !rowAbs}
	return ref.Encode(pos, p.context.Pos), nil
}

// parseCellReference parses a cell reference token into a CellRefNode
func (p *Parser) parseCellReference(tok Token) (Node, error) {
	sheet, err := p.resolveSheet(tok.Sheet)
	if err != nil {
		return nil, err
	}
	ref, err := p.parseCellAddress(tok.Value, sheet)
	if err != nil {
		return nil, err
	}
	return &CellRefNode{Ref: ref}, nil
}

// parseRange parses a range token into a RangeNode
func (p *Parser) parseRange(tok Token) (Node, error) {
	sheet, err := p.resolveSheet(tok.Sheet)
	if err != nil {
		return nil, err
	}
	endSheet := sheet
	if tok.EndSheet != "" {
		if endSheet, err = p.resolveSheet(tok.EndSheet); err != nil {
			return nil, err
		}
	}

	first, second, _ := strings.Cut(tok.Value, ":")
	start, err := p.parseCellAddress(first, sheet)
	if err != nil {
		return nil, err
	}
	end, err := p.parseCellAddress(second, endSheet)
	if err != nil {
		return nil, err
	}
	return &RangeNode{Start: start, End: end}, nil
}

func (p *Parser) parseName(tok Token) (Node, error) {
	scope, err := p.resolveSheet(tok.Sheet)
	if err != nil {
		return nil, err
	}
	node := &NameNode{Name: tok.Value, Scope: scope}
	if p.context.ResolveName != nil {
		node.Target = p.context.ResolveName(tok.Value, scope)
	}
	return node, nil
}
