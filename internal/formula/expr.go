package formula

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind  tokenKind
	text  string
	value float64
	pos   int
}

// lexArithmetic splits fully substituted text into numbers, operators and
// parentheses. Names that survive substitution are rejected here.
func lexArithmetic(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		ch := src[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch >= '0' && ch <= '9' || ch == '.':
			end := scanNumber(src, i)
			f, err := strconv.ParseFloat(src[i:end], 64)
			if err != nil {
				return nil, syntaxError("malformed number %q", src[i:end])
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:end], value: f, pos: i})
			i = end
		case ch == '*' && i+1 < len(src) && src[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "^", pos: i})
			i += 2
		case strings.IndexByte("+-*/^%", ch) >= 0:
			toks = append(toks, token{kind: tokOp, text: string(ch), pos: i})
			i++
		case ch == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case ch == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			r, size := utf8.DecodeRuneInString(src[i:])
			if unicode.IsLetter(r) || r == '_' {
				end := i + size
				for end < len(src) {
					r2, s2 := utf8.DecodeRuneInString(src[end:])
					if !isNameRune(r2) {
						break
					}
					end += s2
				}
				name := src[i:end]
				if isAggregate(name) {
					return nil, unsupported("%s call could not be expanded", strings.ToUpper(name))
				}
				return nil, unsupported("unknown name %q", name)
			}
			return nil, syntaxError("unexpected %q at position %d", string(r), i+1)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// scanNumber returns the end of the numeric literal starting at i:
// digits with an optional fraction and an optional exponent.
func scanNumber(src string, i int) int {
	for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
		i++
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && src[j] >= '0' && src[j] <= '9' {
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			return j
		}
	}
	return i
}

// arith is a recursive-descent evaluator over numbers, + - * / ^, postfix %
// and parentheses. Precedence, lowest first: additive, multiplicative, unary
// sign, exponent, percent. Exponent is right-associative and binds tighter
// than a sign on its left, so -2^2 is -4 and 2^-1 is 0.5. Percent applies to
// the number or parenthesized group before it, so (-5)% is -0.05.
type arith struct {
	toks []token
	pos  int
}

// evalArithmetic evaluates a substituted expression.
func evalArithmetic(src string) (float64, error) {
	toks, err := lexArithmetic(src)
	if err != nil {
		return 0, err
	}
	if len(toks) == 1 {
		return 0, syntaxError("empty expression")
	}
	p := &arith{toks: toks}
	v, err := p.parseAdditive()
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return 0, syntaxError("unexpected %q at position %d", tok.text, tok.pos+1)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, unsupported("result is not a finite number")
	}
	return v, nil
}

func (p *arith) peek() token {
	return p.toks[p.pos]
}

func (p *arith) isOp(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *arith) parseAdditive() (float64, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.isOp("+", "-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseMultiplicative()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *arith) parseMultiplicative() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.isOp("*", "/")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "*" {
			left *= right
			continue
		}
		if right == 0 {
			return 0, divisionByZero()
		}
		left /= right
	}
}

func (p *arith) parseUnary() (float64, error) {
	if op, ok := p.isOp("+", "-"); ok {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.parsePower()
}

func (p *arith) parsePower() (float64, error) {
	base, err := p.parsePercent()
	if err != nil {
		return 0, err
	}
	if _, ok := p.isOp("^"); !ok {
		return base, nil
	}
	p.pos++
	// the exponent may carry its own sign: 2^-1
	exp, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if base == 0 && exp < 0 {
		return 0, divisionByZero()
	}
	v := math.Pow(base, exp)
	if math.IsNaN(v) {
		return 0, unsupported("%s^%s is not a real number", FormatNumber(base), FormatNumber(exp))
	}
	return v, nil
}

func (p *arith) parsePercent() (float64, error) {
	v, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	for {
		if _, ok := p.isOp("%"); !ok {
			return v, nil
		}
		p.pos++
		v /= 100
	}
}

func (p *arith) parsePrimary() (float64, error) {
	tok := p.peek()
	switch tok.kind {
	case tokNumber:
		p.pos++
		return tok.value, nil
	case tokLParen:
		p.pos++
		v, err := p.parseAdditive()
		if err != nil {
			return 0, err
		}
		if p.peek().kind != tokRParen {
			return 0, syntaxError("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case tokEOF:
		return 0, syntaxError("unexpected end of expression")
	default:
		return 0, syntaxError("unexpected %q at position %d", tok.text, tok.pos+1)
	}
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '$'
}
