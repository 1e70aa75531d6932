package assertion

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Placeholders usable in custom expressions.
const (
	PlaceholderResponseTime = "responseTime"
	PlaceholderSuccessRate  = "successRate"
	PlaceholderThroughput   = "throughput"
	PlaceholderErrorRate    = "errorRate"
)

var placeholders = map[string]bool{
	PlaceholderResponseTime: true,
	PlaceholderSuccessRate:  true,
	PlaceholderThroughput:   true,
	PlaceholderErrorRate:    true,
}

// Value is the result of evaluating an expression: a number or a boolean.
type Value struct {
	Num    float64
	Bool   bool
	IsBool bool
}

func (v Value) String() string {
	if v.IsBool {
		return strconv.FormatBool(v.Bool)
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

func (v Value) truthy() bool {
	if v.IsBool {
		return v.Bool
	}
	return v.Num != 0
}

// Expression is a parsed custom assertion expression.
//
// The grammar is limited to number literals, the four placeholders,
// true/false, parentheses, arithmetic (+ - * /), comparisons
// (< <= > >= == !=) and logic (&& || !). Nothing else is accepted.
type Expression struct {
	src  string
	root node
}

// ParseExpression parses src.
func ParseExpression(src string) (*Expression, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.peek().text, p.peek().pos)
	}
	return &Expression{src: src, root: root}, nil
}

// String returns the source text.
func (e *Expression) String() string { return e.src }

// Eval evaluates the expression with the given placeholder values.
func (e *Expression) Eval(vars map[string]float64) (Value, error) {
	return e.root.eval(vars)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokVar
	tokBool
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++

		case c == '{':
			end := strings.Index(src[i:], "}}")
			if !strings.HasPrefix(src[i:], "{{") || end < 0 {
				return nil, fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			name := strings.TrimSpace(src[i+2 : i+end])
			if !placeholders[name] {
				return nil, fmt.Errorf("unknown placeholder {{%s}}", name)
			}
			toks = append(toks, token{kind: tokVar, text: name, pos: i})
			i += end + 2

		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at offset %d", src[start:i], start)
			}
			toks = append(toks, token{kind: tokNum, text: src[start:i], num: n, pos: start})

		case unicode.IsLetter(c):
			start := i
			for i < len(src) && unicode.IsLetter(rune(src[i])) {
				i++
			}
			word := src[start:i]
			if word != "true" && word != "false" {
				return nil, fmt.Errorf("unexpected identifier %q at offset %d", word, start)
			}
			toks = append(toks, token{kind: tokBool, text: word, pos: start})

		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++

		default:
			op := ""
			for _, candidate := range []string{"<=", ">=", "==", "!=", "&&", "||", "<", ">", "+", "-", "*", "/", "!"} {
				if strings.HasPrefix(src[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binary{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("<=", ">=", "==", "!=", "<", ">")
	if !ok {
		return left, nil
	}
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return binary{op: op, left: left, right: right}, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
}

func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.acceptOp("-", "!"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return literal{Value{Num: t.num}}, nil
	case tokBool:
		return literal{Value{Bool: t.text == "true", IsBool: true}}, nil
	case tokVar:
		return variable(t.text), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing ')' for '(' at offset %d", t.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
}

type node interface {
	eval(vars map[string]float64) (Value, error)
}

type literal struct{ v Value }

func (l literal) eval(map[string]float64) (Value, error) { return l.v, nil }

type variable string

func (v variable) eval(vars map[string]float64) (Value, error) {
	n, ok := vars[string(v)]
	if !ok {
		return Value{}, fmt.Errorf("no value for {{%s}}", string(v))
	}
	return Value{Num: n}, nil
}

type unary struct {
	op      string
	operand node
}

func (u unary) eval(vars map[string]float64) (Value, error) {
	v, err := u.operand.eval(vars)
	if err != nil {
		return Value{}, err
	}
	if u.op == "!" {
		return Value{Bool: !v.truthy(), IsBool: true}, nil
	}
	if v.IsBool {
		return Value{}, fmt.Errorf("cannot negate a boolean")
	}
	return Value{Num: -v.Num}, nil
}

type binary struct {
	op          string
	left, right node
}

func (b binary) eval(vars map[string]float64) (Value, error) {
	l, err := b.left.eval(vars)
	if err != nil {
		return Value{}, err
	}

	// && and || short-circuit
	switch b.op {
	case "&&":
		if !l.truthy() {
			return Value{IsBool: true}, nil
		}
		r, err := b.right.eval(vars)
		if err != nil {
			return Value{}, err
		}
		return Value{Bool: r.truthy(), IsBool: true}, nil
	case "||":
		if l.truthy() {
			return Value{Bool: true, IsBool: true}, nil
		}
		r, err := b.right.eval(vars)
		if err != nil {
			return Value{}, err
		}
		return Value{Bool: r.truthy(), IsBool: true}, nil
	}

	r, err := b.right.eval(vars)
	if err != nil {
		return Value{}, err
	}

	switch b.op {
	case "==":
		if l.IsBool || r.IsBool {
			return Value{Bool: l.truthy() == r.truthy(), IsBool: true}, nil
		}
		return Value{Bool: l.Num == r.Num, IsBool: true}, nil
	case "!=":
		if l.IsBool || r.IsBool {
			return Value{Bool: l.truthy() != r.truthy(), IsBool: true}, nil
		}
		return Value{Bool: l.Num != r.Num, IsBool: true}, nil
	}

	if l.IsBool || r.IsBool {
		return Value{}, fmt.Errorf("operator %s needs numbers", b.op)
	}

	switch b.op {
	case "+":
		return Value{Num: l.Num + r.Num}, nil
	case "-":
		return Value{Num: l.Num - r.Num}, nil
	case "*":
		return Value{Num: l.Num * r.Num}, nil
	case "/":
		if r.Num == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		return Value{Num: l.Num / r.Num}, nil
	case "<":
		return Value{Bool: l.Num < r.Num, IsBool: true}, nil
	case "<=":
		return Value{Bool: l.Num <= r.Num, IsBool: true}, nil
	case ">":
		return Value{Bool: l.Num > r.Num, IsBool: true}, nil
	case ">=":
		return Value{Bool: l.Num >= r.Num, IsBool: true}, nil
	}
	return Value{}, fmt.Errorf("unknown operator %s", b.op)
}
