package cypher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hivellm/nexus/internal/nerrors"
)

// Parse lexes and parses query text into a Query AST. The parser is a
// black box to the rest of the engine: the executor only needs the AST
// shape it produces, not its grammar internals.
func Parse(src string) (*Query, error) {
	toks, err := newLexer(src).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF, "") {
		return nil, p.errf("unexpected token %q", p.cur().text)
	}
	return q, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) errf(format string, args ...any) error {
	return &nerrors.SyntaxError{Pos: p.cur().pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// at reports whether the current token matches kind, and (if text != "")
// case-insensitively matches text.
func (p *parser) at(kind tokenKind, text string) bool {
	t := p.cur()
	if t.kind != kind {
		return false
	}
	if text == "" {
		return true
	}
	return strings.EqualFold(t.text, text)
}

func (p *parser) atKeyword(kw string) bool { return p.at(tokIdent, kw) }

func (p *parser) atPunct(s string) bool { return p.at(tokPunct, s) }

func (p *parser) expectPunct(s string) error {
	if !p.atPunct(s) {
		return p.errf("expected %q, got %q", s, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return p.errf("expected keyword %s, got %q", kw, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{}
	for !p.at(tokEOF, "") && !p.atKeyword("UNION") {
		clause, terminal, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		q.Clauses = append(q.Clauses, clause)
		if terminal {
			break
		}
	}
	if p.atKeyword("UNION") {
		p.advance()
		all := false
		if p.atKeyword("ALL") {
			all = true
			p.advance()
		}
		right, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		q.Union = &UnionClause{All: all, Right: right}
	}
	return q, nil
}

// parseClause parses one clause, returning terminal=true for RETURN since
// nothing may follow it within a single query arm.
func (p *parser) parseClause() (Clause, bool, error) {
	switch {
	case p.atKeyword("MATCH"):
		c, err := p.parseMatch()
		return c, false, err
	case p.atKeyword("CREATE"):
		c, err := p.parseCreate()
		return c, false, err
	case p.atKeyword("DELETE"), p.atKeyword("DETACH"):
		c, err := p.parseDelete()
		return c, false, err
	case p.atKeyword("SET"):
		c, err := p.parseSet()
		return c, false, err
	case p.atKeyword("MERGE"):
		c, err := p.parseMerge()
		return c, false, err
	case p.atKeyword("WITH"):
		c, err := p.parseWith()
		return c, false, err
	case p.atKeyword("FOREACH"):
		c, err := p.parseForeach()
		return c, false, err
	case p.atKeyword("RETURN"):
		c, err := p.parseReturn()
		return c, true, err
	default:
		return nil, false, p.errf("unexpected clause start %q", p.cur().text)
	}
}

func (p *parser) parseMatch() (Clause, error) {
	p.advance() // MATCH
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	mc := MatchClause{Patterns: patterns}
	if p.atKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		mc.Where = where
	}
	return mc, nil
}

func (p *parser) parseCreate() (Clause, error) {
	p.advance()
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	return CreateClause{Patterns: patterns}, nil
}

func (p *parser) parseMerge() (Clause, error) {
	p.advance()
	pat, err := p.parsePatternPart()
	if err != nil {
		return nil, err
	}
	mc := MergeClause{Pattern: pat}
	for p.atKeyword("ON") {
		p.advance()
		if p.atKeyword("CREATE") {
			p.advance()
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			mc.OnCreate = items
		} else if p.atKeyword("MATCH") {
			p.advance()
			if err := p.expectKeyword("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			mc.OnMatch = items
		} else {
			return nil, p.errf("expected CREATE or MATCH after ON")
		}
	}
	return mc, nil
}

func (p *parser) parseDelete() (Clause, error) {
	detach := false
	if p.atKeyword("DETACH") {
		detach = true
		p.advance()
	}
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	var vars []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		vars = append(vars, e)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return DeleteClause{Detach: detach, Vars: vars}, nil
}

func (p *parser) parseSet() (Clause, error) {
	p.advance()
	items, err := p.parseSetItems()
	if err != nil {
		return nil, err
	}
	return SetClause{Assignments: items}, nil
}

func (p *parser) parseSetItems() ([]SetItem, error) {
	var items []SetItem
	for {
		target, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, SetItem{Target: target, Value: value})
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *parser) parseWith() (Clause, error) {
	p.advance()
	wc := WithClause{}
	if p.atKeyword("DISTINCT") {
		wc.Distinct = true
		p.advance()
	}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	wc.Items = items
	if p.atKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		wc.Where = where
	}
	orderBy, skip, limit, err := p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	wc.OrderBy, wc.Skip, wc.Limit = orderBy, skip, limit
	return wc, nil
}

func (p *parser) parseForeach() (Clause, error) {
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	if p.cur().kind != tokIdent {
		return nil, p.errf("expected variable in FOREACH")
	}
	varName := p.advance().text
	if err := p.expectKeyword("IN"); err != nil {
		return nil, err
	}
	list, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("|"); err != nil {
		return nil, err
	}
	var inner []Clause
	for !p.atPunct(")") {
		c, _, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		inner = append(inner, c)
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return ForeachClause{Variable: varName, List: list, Inner: inner}, nil
}

func (p *parser) parseReturn() (Clause, error) {
	p.advance()
	rc := ReturnClause{}
	if p.atKeyword("DISTINCT") {
		rc.Distinct = true
		p.advance()
	}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	rc.Items = items
	orderBy, skip, limit, err := p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	rc.OrderBy, rc.Skip, rc.Limit = orderBy, skip, limit
	return rc, nil
}

func (p *parser) parseOrderSkipLimit() ([]OrderItem, Expr, Expr, error) {
	var orderBy []OrderItem
	var skip, limit Expr
	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, nil, nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, nil, nil, err
			}
			desc := false
			if p.atKeyword("DESC") {
				desc = true
				p.advance()
			} else if p.atKeyword("ASC") {
				p.advance()
			}
			orderBy = append(orderBy, OrderItem{Expr: e, Desc: desc})
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if p.atKeyword("SKIP") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		skip = e
	}
	if p.atKeyword("LIMIT") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		limit = e
	}
	return orderBy, skip, limit, nil
}

func (p *parser) parseReturnItems() ([]ReturnItem, error) {
	var items []ReturnItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		alias := ""
		if p.atKeyword("AS") {
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, p.errf("expected alias identifier after AS")
			}
			alias = p.advance().text
		}
		items = append(items, ReturnItem{Expr: e, Alias: alias})
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

// --- Patterns ---

func (p *parser) parsePatternList() ([]PatternPart, error) {
	var parts []PatternPart
	for {
		part, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return parts, nil
}

func (p *parser) parsePatternPart() (PatternPart, error) {
	var part PatternPart
	if p.cur().kind == tokIdent && !keywords[strings.ToUpper(p.cur().text)] {
		if p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokPunct && p.toks[p.pos+1].text == "=" {
			part.Variable = p.advance().text
			p.advance() // '='
		}
	}
	start, err := p.parseNodePattern()
	if err != nil {
		return part, err
	}
	part.Start = start
	for p.atPunct("-") || p.atPunct("<-") {
		step, err := p.parsePatternStep()
		if err != nil {
			return part, err
		}
		part.Steps = append(part.Steps, step)
	}
	return part, nil
}

func (p *parser) parseNodePattern() (NodePattern, error) {
	var np NodePattern
	if err := p.expectPunct("("); err != nil {
		return np, err
	}
	if p.cur().kind == tokIdent && !keywords[strings.ToUpper(p.cur().text)] {
		np.Variable = p.advance().text
	}
	for p.atPunct(":") {
		p.advance()
		if p.cur().kind != tokIdent {
			return np, p.errf("expected label after ':'")
		}
		np.Labels = append(np.Labels, p.advance().text)
	}
	if p.atPunct("{") {
		props, err := p.parseMapBody()
		if err != nil {
			return np, err
		}
		np.Properties = props
	}
	if err := p.expectPunct(")"); err != nil {
		return np, err
	}
	return np, nil
}

func (p *parser) parsePatternStep() (PatternStep, error) {
	var step PatternStep
	leftArrow := false
	if p.atPunct("<-") {
		leftArrow = true
		p.advance()
	} else {
		if err := p.expectPunct("-"); err != nil {
			return step, err
		}
	}

	rp := RelPattern{MinHops: -1, MaxHops: -1}
	if p.atPunct("[") {
		p.advance()
		if p.cur().kind == tokIdent && !keywords[strings.ToUpper(p.cur().text)] {
			rp.Variable = p.advance().text
		}
		if p.atPunct(":") {
			p.advance()
			for {
				if p.cur().kind != tokIdent {
					return step, p.errf("expected relationship type")
				}
				rp.Types = append(rp.Types, p.advance().text)
				if p.atPunct("|") {
					p.advance()
					continue
				}
				break
			}
		}
		if p.atPunct("*") {
			p.advance()
			rp.MinHops, rp.MaxHops = 1, -1
			if p.at(tokInt, "") {
				n, _ := strconv.Atoi(p.advance().text)
				rp.MinHops = n
				rp.MaxHops = n
			}
			if p.atPunct("..") {
				p.advance()
				rp.MaxHops = -1
				if p.at(tokInt, "") {
					n, _ := strconv.Atoi(p.advance().text)
					rp.MaxHops = n
				}
			}
		}
		if p.atPunct("{") {
			props, err := p.parseMapBody()
			if err != nil {
				return step, err
			}
			rp.Properties = props
		}
		if err := p.expectPunct("]"); err != nil {
			return step, err
		}
	}

	rightArrow := false
	if p.atPunct("->") {
		rightArrow = true
		p.advance()
	} else {
		if err := p.expectPunct("-"); err != nil {
			return step, err
		}
	}

	switch {
	case leftArrow && !rightArrow:
		rp.Direction = DirIn
	case rightArrow && !leftArrow:
		rp.Direction = DirOut
	default:
		rp.Direction = DirEither
	}
	step.Rel = rp

	node, err := p.parseNodePattern()
	if err != nil {
		return step, err
	}
	step.Node = node
	return step, nil
}

func (p *parser) parseMapBody() (map[string]Expr, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	m := make(map[string]Expr)
	for !p.atPunct("}") {
		if p.cur().kind != tokIdent && p.cur().kind != tokString {
			return nil, p.errf("expected property key")
		}
		key := p.advance().text
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		m[key] = val
		if p.atPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Expressions (precedence climbing) ---

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.atKeyword("NOT") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokPunct && comparisonOps[p.cur().text] {
		op := p.advance().text
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	if p.atKeyword("IN") {
		p.advance()
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: "IN", Left: left, Right: right}, nil
	}
	if p.atKeyword("IS") {
		p.advance()
		negate := false
		if p.atKeyword("NOT") {
			negate = true
			p.advance()
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return IsNullExpr{Operand: left, Negate: negate}, nil
	}
	return left, nil
}

func (p *parser) parseAdd() (Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.atPunct("+") || p.atPunct("-") {
		op := p.advance().text
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMul() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atPunct("*") || p.atPunct("/") || p.atPunct("%") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.atPunct("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		if p.atPunct(".") {
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, p.errf("expected property name after '.'")
			}
			e = PropertyAccess{Target: e, Key: p.advance().text}
			continue
		}
		if p.atPunct("[") {
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			e = IndexAccess{Target: e, Index: idx}
			continue
		}
		break
	}
	return e, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch {
	case t.kind == tokInt:
		p.advance()
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errf("invalid integer literal %q", t.text)
		}
		return Literal{Value: n}, nil
	case t.kind == tokFloat:
		p.advance()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errf("invalid float literal %q", t.text)
		}
		return Literal{Value: f}, nil
	case t.kind == tokString:
		p.advance()
		return Literal{Value: t.text}, nil
	case t.kind == tokParam:
		p.advance()
		return Parameter{Name: t.text}, nil
	case p.atKeyword("TRUE"):
		p.advance()
		return Literal{Value: true}, nil
	case p.atKeyword("FALSE"):
		p.advance()
		return Literal{Value: false}, nil
	case p.atKeyword("NULL"):
		p.advance()
		return Literal{Value: nil}, nil
	case p.atKeyword("EXISTS"):
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		pat, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return ExistsExpr{Pattern: pat}, nil
	case p.atPunct("("):
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.atPunct("["):
		p.advance()
		var items []Expr
		for !p.atPunct("]") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, e)
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
		if err := p.expectPunct("]"); err != nil {
			return nil, err
		}
		return ListLiteral{Items: items}, nil
	case p.atPunct("{"):
		m, err := p.parseMapBody()
		if err != nil {
			return nil, err
		}
		return MapLiteral{Entries: m}, nil
	case t.kind == tokIdent:
		name := p.advance().text
		if p.atPunct("(") {
			return p.parseFunctionCallRest(name)
		}
		return Variable{Name: name}, nil
	default:
		return nil, p.errf("unexpected token %q", t.text)
	}
}

func (p *parser) parseFunctionCallRest(name string) (Expr, error) {
	p.advance() // '('
	fc := FunctionCall{Name: strings.ToLower(name)}
	if p.atKeyword("DISTINCT") {
		fc.Distinct = true
		p.advance()
	}
	if p.atPunct("*") {
		p.advance()
		fc.Args = []Expr{Variable{Name: "*"}}
	} else {
		for !p.atPunct(")") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			fc.Args = append(fc.Args, e)
			if p.atPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return fc, nil
}
