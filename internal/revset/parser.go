package revset

import (
	"fmt"
	"time"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// Expr is a parsed revset expression node.
type Expr interface {
	pos() int
}

// BinaryExpr is a set operation: union '|', intersection '&' or
// difference '~'.
type BinaryExpr struct {
	Op   byte // '|', '&', '~'
	L, R Expr
	Pos  int
}

// NotExpr is the unary complement '~x' (all() minus x).
type NotExpr struct {
	X   Expr
	Pos int
}

// StepExpr is the parent '-' / child '+' shorthand, repeatable.
type StepExpr struct {
	Op  byte // '-' or '+'
	X   Expr
	Pos int
}

// WorkingCopyExpr is the '@' atom.
type WorkingCopyExpr struct {
	Pos int
}

// SymbolExpr is a bare identifier: a change-ID prefix or bookmark name.
type SymbolExpr struct {
	Name string
	Pos  int
}

// FuncExpr is a function call.
type FuncExpr struct {
	Name string
	Args []Expr
	Pos  int
}

// LiteralExpr is a string, number or duration argument.
type LiteralExpr struct {
	Str    string
	Num    int64
	Dur    time.Duration
	IsStr  bool
	IsNum  bool
	IsDur  bool
	Pos    int
}

func (e *BinaryExpr) pos() int      { return e.Pos }
func (e *NotExpr) pos() int         { return e.Pos }
func (e *StepExpr) pos() int        { return e.Pos }
func (e *WorkingCopyExpr) pos() int { return e.Pos }
func (e *SymbolExpr) pos() int      { return e.Pos }
func (e *FuncExpr) pos() int        { return e.Pos }
func (e *LiteralExpr) pos() int     { return e.Pos }

// Parse compiles a revset source string into an expression tree.
func Parse(src string) (Expr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf(p.peek().pos, "unexpected trailing input")
	}
	return expr, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(pos int, format string, args ...any) error {
	return jjerr.Newf(jjerr.ParseError, format, args...).
		With("position", fmt.Sprintf("%d", pos))
}

func (p *parser) parseUnion() (Expr, error) {
	left, err := p.parseInter()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPipe {
		op := p.next()
		right, err := p.parseInter()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: '|', L: left, R: right, Pos: op.pos}
	}
	return left, nil
}

func (p *parser) parseInter() (Expr, error) {
	left, err := p.parseDiff()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAmp {
		op := p.next()
		right, err := p.parseDiff()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: '&', L: left, R: right, Pos: op.pos}
	}
	return left, nil
}

func (p *parser) parseDiff() (Expr, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokTilde {
		op := p.next()
		right, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: '~', L: left, R: right, Pos: op.pos}
	}
	return left, nil
}

func (p *parser) parsePrefix() (Expr, error) {
	if p.peek().kind == tokTilde {
		op := p.next()
		x, err := p.parsePrefix()
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x, Pos: op.pos}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	x, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokMinus:
			op := p.next()
			x = &StepExpr{Op: '-', X: x, Pos: op.pos}
		case tokPlus:
			op := p.next()
			x = &StepExpr{Op: '+', X: x, Pos: op.pos}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseAtom() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokAt:
		p.next()
		return &WorkingCopyExpr{Pos: t.pos}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf(p.peek().pos, "expected ')'")
		}
		p.next()
		return inner, nil
	case tokIdent:
		p.next()
		if p.peek().kind == tokLParen {
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			if p.peek().kind != tokRParen {
				return nil, p.errorf(p.peek().pos, "expected ')' after arguments of %s", t.text)
			}
			p.next()
			return &FuncExpr{Name: t.text, Args: args, Pos: t.pos}, nil
		}
		return &SymbolExpr{Name: t.text, Pos: t.pos}, nil
	case tokString:
		p.next()
		return &LiteralExpr{Str: t.text, IsStr: true, Pos: t.pos}, nil
	case tokNumber:
		p.next()
		return &LiteralExpr{Num: t.num, IsNum: true, Pos: t.pos}, nil
	case tokDuration:
		p.next()
		return &LiteralExpr{Dur: t.dur, IsDur: true, Pos: t.pos}, nil
	default:
		return nil, p.errorf(t.pos, "unexpected token at position %d", t.pos)
	}
}

func (p *parser) parseArgs() ([]Expr, error) {
	if p.peek().kind == tokRParen {
		return nil, nil
	}
	var args []Expr
	for {
		arg, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind != tokComma {
			return args, nil
		}
		p.next()
	}
}
