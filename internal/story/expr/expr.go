// Package expr implements the restricted expression grammar used by story
// conditions and enter/exit scripts.
//
// The grammar covers comparisons (==, !=, <, <=, >, >=, contains), boolean
// combinators (&&, ||, !), additive and multiplicative arithmetic, literals
// (numbers, quoted strings, true, false, null) and dotted-path lookups into
// the game state. Scripts are sequences of `path = expression` assignments
// separated by semicolons or newlines. Authored expressions may prefix paths
// with `state.`; the prefix is stripped.
//
// Evaluation never executes author-provided code; a story can only read and
// write the game-state mapping.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a compiled boolean/value expression.
type Expr struct {
	src  string
	root node
}

// Script is a compiled sequence of state assignments.
type Script struct {
	src   string
	stmts []assignStmt
}

type assignStmt struct {
	path []string
	expr node
}

// Compile parses an expression. An empty source compiles to an expression
// that always evaluates to true.
func Compile(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return &Expr{src: src, root: litNode{val: true}}, nil
	}
	p, err := newParser(trimmed)
	if err != nil {
		return nil, err
	}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected %q at end of expression", p.peek().text)
	}
	return &Expr{src: src, root: root}, nil
}

// CompileScript parses a script of assignments. An empty source compiles to
// a script with no statements.
func CompileScript(src string) (*Script, error) {
	s := &Script{src: src}
	for _, line := range splitStatements(src) {
		p, err := newParser(line)
		if err != nil {
			return nil, err
		}
		path, err := p.parseAssignTarget()
		if err != nil {
			return nil, err
		}
		rhs, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !p.atEnd() {
			return nil, fmt.Errorf("unexpected %q after assignment", p.peek().text)
		}
		s.stmts = append(s.stmts, assignStmt{path: path, expr: rhs})
	}
	return s, nil
}

// splitStatements splits a script on semicolons and newlines, dropping blanks.
func splitStatements(src string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(src, func(r rune) bool {
		return r == ';' || r == '\n'
	}) {
		if strings.TrimSpace(part) != "" {
			out = append(out, strings.TrimSpace(part))
		}
	}
	return out
}

// Eval evaluates the expression against the state and coerces the result to
// a boolean: booleans evaluate to themselves, null to false, numbers to
// non-zero, strings to non-empty.
func (e *Expr) Eval(state map[string]any) (bool, error) {
	v, err := e.root.eval(state)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", e.src, err)
	}
	return truthy(v), nil
}

// EvalValue evaluates the expression and returns the raw value.
func (e *Expr) EvalValue(state map[string]any) (any, error) {
	v, err := e.root.eval(state)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", e.src, err)
	}
	return v, nil
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

// Run executes the script's assignments against the state in order. The
// first failing statement aborts the remainder.
func (s *Script) Run(state map[string]any) error {
	for _, st := range s.stmts {
		v, err := st.expr.eval(state)
		if err != nil {
			return fmt.Errorf("script %q: %w", s.src, err)
		}
		if err := setPath(state, st.path, v); err != nil {
			return fmt.Errorf("script %q: %w", s.src, err)
		}
	}
	return nil
}

// Empty reports whether the script has no statements.
func (s *Script) Empty() bool { return len(s.stmts) == 0 }

// Lookup resolves a dotted path against a state mapping. Missing segments
// resolve to nil, never an error.
func Lookup(state map[string]any, path string) any {
	segs := strings.Split(strings.TrimPrefix(path, "state."), ".")
	return lookupSegments(state, segs)
}

func lookupSegments(state map[string]any, segs []string) any {
	var cur any = state
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// Set assigns a value at a dotted path, creating intermediate mappings as
// needed. A leading `state.` prefix is stripped.
func Set(state map[string]any, path string, v any) error {
	segs := strings.Split(strings.TrimPrefix(path, "state."), ".")
	return setPath(state, segs, v)
}

func setPath(state map[string]any, path []string, v any) error {
	cur := state
	for i, seg := range path[:len(path)-1] {
		next, ok := cur[seg]
		if !ok {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot assign through non-mapping %q", strings.Join(path[:i+1], "."))
		}
		cur = child
	}
	cur[path[len(path)-1]] = v
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// ---- AST ----

type node interface {
	eval(state map[string]any) (any, error)
}

type litNode struct{ val any }

func (n litNode) eval(map[string]any) (any, error) { return n.val, nil }

type pathNode struct{ segs []string }

func (n pathNode) eval(state map[string]any) (any, error) {
	return lookupSegments(state, n.segs), nil
}

type notNode struct{ arg node }

func (n notNode) eval(state map[string]any) (any, error) {
	v, err := n.arg.eval(state)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type boolNode struct {
	op    string // "&&" or "||"
	left  node
	right node
}

func (n boolNode) eval(state map[string]any) (any, error) {
	l, err := n.left.eval(state)
	if err != nil {
		return nil, err
	}
	if n.op == "&&" && !truthy(l) {
		return false, nil
	}
	if n.op == "||" && truthy(l) {
		return true, nil
	}
	r, err := n.right.eval(state)
	if err != nil {
		return nil, err
	}
	return truthy(r), nil
}

type cmpNode struct {
	op    string
	left  node
	right node
}

func (n cmpNode) eval(state map[string]any) (any, error) {
	l, err := n.left.eval(state)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(state)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "contains":
		return evalContains(l, r)
	}
	lf, lok := asNumber(l)
	rf, rok := asNumber(r)
	if lok && rok {
		switch n.op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		switch n.op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot order %T %s %T", l, n.op, r)
}

type arithNode struct {
	op    string
	left  node
	right node
}

func (n arithNode) eval(state map[string]any) (any, error) {
	l, err := n.left.eval(state)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(state)
	if err != nil {
		return nil, err
	}
	// "+" concatenates when either side is a string.
	if n.op == "+" {
		if ls, ok := l.(string); ok {
			return ls + stringify(r), nil
		}
		if rs, ok := r.(string); ok {
			return stringify(l) + rs, nil
		}
	}
	lf, lok := asNumber(l)
	rf, rok := asNumber(r)
	if !lok || !rok {
		return nil, fmt.Errorf("cannot apply %q to %T and %T", n.op, l, r)
	}
	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func looseEqual(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if lf, ok := asNumber(l); ok {
		if rf, ok := asNumber(r); ok {
			return lf == rf
		}
		return false
	}
	return l == r
}

func evalContains(l, r any) (any, error) {
	switch x := l.(type) {
	case string:
		return strings.Contains(x, stringify(r)), nil
	case []any:
		for _, item := range x {
			if looseEqual(item, r) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, ok := x[stringify(r)]
		return ok, nil
	case nil:
		return false, nil
	}
	return nil, fmt.Errorf("contains not supported on %T", l)
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprintf("%v", v)
}

// ---- lexer / parser ----

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

type parser struct {
	toks []token
	pos  int
}

func newParser(src string) (*parser, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			var sb strings.Builder
			for j < len(runes) && runes[j] != quote {
				if runes[j] == '\\' && j+1 < len(runes) {
					j++
				}
				sb.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && startsValue(toks)):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, string(runes[i:j])})
			i = j
		default:
			two := ""
			if i+1 < len(runes) {
				two = string(runes[i : i+2])
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, token{tokOp, two})
				i += 2
				continue
			}
			switch r {
			case '<', '>', '!', '(', ')', '+', '-', '*', '/', '=':
				toks = append(toks, token{tokOp, string(r)})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q", string(r))
			}
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

// startsValue reports whether a '-' at the current point begins a negative
// number rather than a subtraction.
func startsValue(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	last := toks[len(toks)-1]
	return last.kind == tokOp && last.text != ")"
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) acceptOp(text string) bool {
	if p.peek().kind == tokOp && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

// parseAssignTarget consumes `path =` and returns the path segments.
func (p *parser) parseAssignTarget() ([]string, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected assignment target, got %q", t.text)
	}
	if !p.acceptOp("=") {
		return nil, fmt.Errorf("expected '=' after %q", t.text)
	}
	path := strings.TrimPrefix(t.text, "state.")
	return strings.Split(path, "."), nil
}

func (p *parser) parseExpr() (node, error) { return p.parseOr() }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = boolNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = boolNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	isCmp := (t.kind == tokOp && (t.text == "==" || t.text == "!=" || t.text == "<" ||
		t.text == "<=" || t.text == ">" || t.text == ">=")) ||
		(t.kind == tokIdent && t.text == "contains")
	if !isCmp {
		return left, nil
	}
	p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return cmpNode{op: t.text, left: left, right: right}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("+"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = arithNode{op: "+", left: left, right: right}
		case p.acceptOp("-"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = arithNode{op: "-", left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp("*"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = arithNode{op: "*", left: left, right: right}
		case p.acceptOp("/"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = arithNode{op: "/", left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.acceptOp("!") {
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{arg: arg}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return litNode{val: f}, nil
	case tokString:
		return litNode{val: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return litNode{val: true}, nil
		case "false":
			return litNode{val: false}, nil
		case "null", "nil":
			return litNode{val: nil}, nil
		}
		path := strings.TrimPrefix(t.text, "state.")
		return pathNode{segs: strings.Split(path, ".")}, nil
	case tokOp:
		if t.text == "(" {
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp(")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return inner, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}
