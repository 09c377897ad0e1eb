package verify

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"mistakepatch/api/internal/grading"
)

const eps = 1e-9

// Linear is the normal form a·x + b.
type Linear struct {
	A, B float64
}

func (l Linear) constant() bool { return math.Abs(l.A) <= eps }

// Equation is (lhs - rhs) in normal form, read as A·x + B = 0.
type Equation struct {
	A, B float64
	Raw  string
}

type Class int

const (
	Single Class = iota
	Identity
	Inconsistent
)

// Solve classifies the equation; root is meaningful only for Single.
func (e Equation) Solve() (Class, float64) {
	if math.Abs(e.A) <= eps {
		if math.Abs(e.B) <= eps {
			return Identity, 0
		}
		return Inconsistent, 0
	}
	return Single, -e.B / e.A
}

// Root returns the single solution, if there is one.
func (e Equation) Root() (float64, bool) {
	c, v := e.Solve()
	return v, c == Single
}

// SolutionText renders "x=3", "항상 참" or "모순".
func (e Equation) SolutionText() string {
	switch c, v := e.Solve(); c {
	case Single:
		return "x=" + grading.FormatNumber(v)
	case Identity:
		return "항상 참"
	}
	return "모순"
}

// Equivalent compares classification and, for single roots, the roots within 0.05.
func Equivalent(a, b Equation) bool {
	ca, va := a.Solve()
	cb, vb := b.Solve()
	if ca != cb {
		return false
	}
	if ca == Single {
		return math.Abs(va-vb) <= 0.05
	}
	return true
}

// ParseEquation splits on the first '=' and parses both sides.
func ParseEquation(text string) (Equation, bool) {
	lhs, rhs, ok := strings.Cut(text, "=")
	if !ok {
		return Equation{}, false
	}
	l, err := ParseExpression(lhs)
	if err != nil {
		return Equation{}, false
	}
	r, err := ParseExpression(rhs)
	if err != nil {
		return Equation{}, false
	}
	return Equation{A: l.A - r.A, B: l.B - r.B, Raw: text}, true
}

var (
	exprChars      = regexp.MustCompile(`^[0-9xX+\-*/().\s]+$`)
	digitBeforeX   = regexp.MustCompile(`(\d)(x)`)
	parenBeforeArg = regexp.MustCompile(`(\))(\d|x)`)
	argBeforeParen = regexp.MustCompile(`(\d|\))\(`)
	xBeforeParen   = regexp.MustCompile(`x\(`)
)

var (
	errSyntax    = errors.New("syntax error")
	errNonLinear = errors.New("non-linear term")
	errDivision  = errors.New("invalid division")
)

// ParseExpression accepts digits, x, + - * / ( ) and . with implicit
// multiplication (2x, 2(x+1), (x+1)3). Products of two x terms and division
// by x or by ~0 are rejected.
func ParseExpression(text string) (Linear, error) {
	s := canonical(text)
	s = digitBeforeX.ReplaceAllString(s, "${1}*x")
	s = parenBeforeArg.ReplaceAllString(s, "${1}*${2}")
	s = argBeforeParen.ReplaceAllString(s, "${1}*(")
	s = xBeforeParen.ReplaceAllString(s, "x*(")
	if s == "" || !exprChars.MatchString(s) {
		return Linear{}, errSyntax
	}
	return parse(s)
}

func parse(s string) (Linear, error) {
	p := &parser{src: s}
	v, err := p.expr()
	if err != nil {
		return Linear{}, err
	}
	if p.pos != len(p.src) {
		return Linear{}, errSyntax
	}
	return v, nil
}

// parser is a plain recursive descent over
//
//	expr  = term { ("+" | "-") term }
//	term  = unary { ("*" | "/") unary }
//	unary = ("+" | "-") unary | atom
//	atom  = number | "x" | "(" expr ")"
type parser struct {
	src string
	pos int
}

func (p *parser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) expr() (Linear, error) {
	left, err := p.term()
	if err != nil {
		return Linear{}, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return Linear{}, err
		}
		if op == '+' {
			left = Linear{A: left.A + right.A, B: left.B + right.B}
		} else {
			left = Linear{A: left.A - right.A, B: left.B - right.B}
		}
	}
}

func (p *parser) term() (Linear, error) {
	left, err := p.unary()
	if err != nil {
		return Linear{}, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return Linear{}, err
		}
		if op == '*' {
			left, err = mul(left, right)
		} else {
			left, err = div(left, right)
		}
		if err != nil {
			return Linear{}, err
		}
	}
}

func mul(l, r Linear) (Linear, error) {
	switch {
	case l.constant() && r.constant():
		return Linear{B: l.B * r.B}, nil
	case l.constant():
		return Linear{A: r.A * l.B, B: r.B * l.B}, nil
	case r.constant():
		return Linear{A: l.A * r.B, B: l.B * r.B}, nil
	}
	return Linear{}, errNonLinear
}

func div(l, r Linear) (Linear, error) {
	if math.Abs(r.A) > eps || math.Abs(r.B) <= eps {
		return Linear{}, errDivision
	}
	return Linear{A: l.A / r.B, B: l.B / r.B}, nil
}

func (p *parser) unary() (Linear, error) {
	switch p.peek() {
	case '+':
		p.pos++
		return p.unary()
	case '-':
		p.pos++
		v, err := p.unary()
		if err != nil {
			return Linear{}, err
		}
		return Linear{A: -v.A, B: -v.B}, nil
	}
	return p.atom()
}

func (p *parser) atom() (Linear, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return Linear{}, err
		}
		if p.peek() != ')' {
			return Linear{}, errSyntax
		}
		p.pos++
		return v, nil
	case c == 'x' || c == 'X':
		p.pos++
		// "x2" or "xx" is an identifier, not the variable
		if n := p.peek(); n == 'x' || n == 'X' || isDigit(n) {
			return Linear{}, errSyntax
		}
		return Linear{A: 1}, nil
	case isDigit(c) || c == '.':
		start := p.pos
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos++
		}
		f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return Linear{}, errSyntax
		}
		return Linear{B: f}, nil
	}
	return Linear{}, errSyntax
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
