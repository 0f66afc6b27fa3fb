package parser

import (
	"strings"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
)

func boolTerm(text string) *rdf.Literal { return rdf.NewBooleanLiteral(text == "TRUE") }

func rdfNewNamedNodeTerm(iri string) *rdf.NamedNode { return rdf.NewNamedNode(iri) }

// parseExpression implements the standard SPARQL expression grammar via
// precedence-climbing: ConditionalOr > ConditionalAnd > RelationalExpr >
// AdditiveExpr > MultiplicativeExpr > UnaryExpr > PrimaryExpr.
func (p *Parser) parseExpression() (algebra.Expression, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (algebra.Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekIs(tokPunct, "||") {
		p.lex.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = algebra.BinaryExpr{Op: algebra.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (algebra.Expression, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.peekIs(tokPunct, "&&") {
		p.lex.next()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = algebra.BinaryExpr{Op: algebra.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseRelational() (algebra.Expression, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	var op algebra.BinaryOp
	matched := true
	switch {
	case t.kind == tokPunct && t.text == "=":
		op = algebra.OpEq
	case t.kind == tokPunct && t.text == "!=":
		op = algebra.OpNeq
	case t.kind == tokPunct && t.text == "<":
		op = algebra.OpLt
	case t.kind == tokPunct && t.text == "<=":
		op = algebra.OpLe
	case t.kind == tokPunct && t.text == ">":
		op = algebra.OpGt
	case t.kind == tokPunct && t.text == ">=":
		op = algebra.OpGe
	case t.kind == tokKeyword && t.text == "IN":
		p.lex.next()
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		return algebra.InExpr{Expr: left, List: list}, nil
	case t.kind == tokKeyword && t.text == "NOT":
		p.lex.next()
		if err := p.expectKeyword("IN"); err != nil {
			return nil, err
		}
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		return algebra.InExpr{Expr: left, List: list, Negate: true}, nil
	default:
		matched = false
	}
	if !matched {
		return left, nil
	}
	p.lex.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return algebra.BinaryExpr{Op: op, Left: left, Right: right}, nil
}

func (p *Parser) parseExprList() ([]algebra.Expression, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var list []algebra.Expression
	for !p.peekIs(tokPunct, ")") {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.peekIs(tokPunct, ",") {
			p.lex.next()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) parseAdditive() (algebra.Expression, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		var op algebra.BinaryOp
		switch {
		case t.kind == tokPunct && t.text == "+":
			op = algebra.OpAdd
		case t.kind == tokPunct && t.text == "-":
			op = algebra.OpSub
		default:
			return left, nil
		}
		p.lex.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = algebra.BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseMultiplicative() (algebra.Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		var op algebra.BinaryOp
		switch {
		case t.kind == tokPunct && t.text == "*":
			op = algebra.OpMul
		case t.kind == tokPunct && t.text == "/":
			op = algebra.OpDiv
		default:
			return left, nil
		}
		p.lex.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = algebra.BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (algebra.Expression, error) {
	t, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case t.kind == tokKeyword && t.text == "NOT":
		p.lex.next()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return algebra.UnaryExpr{Op: algebra.OpNot, Expr: e}, nil
	case t.kind == tokPunct && t.text == "!":
		p.lex.next()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return algebra.UnaryExpr{Op: algebra.OpNot, Expr: e}, nil
	case t.kind == tokPunct && t.text == "-":
		p.lex.next()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return algebra.UnaryExpr{Op: algebra.OpNeg, Expr: e}, nil
	case t.kind == tokPunct && t.text == "+":
		p.lex.next()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return algebra.UnaryExpr{Op: algebra.OpPlus, Expr: e}, nil
	default:
		return p.parsePrimary()
	}
}

func (p *Parser) parsePrimary() (algebra.Expression, error) {
	t, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case t.kind == tokPunct && t.text == "(":
		p.lex.next()
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case t.kind == tokVar:
		p.lex.next()
		return algebra.VarExpr{Var: algebra.Var(t.text)}, nil
	case t.kind == tokKeyword && t.text == "BOUND":
		p.lex.next()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		v, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return algebra.BoundExpr{Var: algebra.Var(v.text)}, nil
	case t.kind == tokKeyword && t.text == "IF":
		p.lex.next()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		cond, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		then, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(","); err != nil {
			return nil, err
		}
		els, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return algebra.IfExpr{Cond: cond, Then: then, Else: els}, nil
	case t.kind == tokKeyword && (t.text == "EXISTS" || t.text == "NOT"):
		return p.parseExistsExpr()
	case t.kind == tokKeyword && isAggKeyword(t.text):
		return p.parseAggregateExpr()
	case t.kind == tokKeyword:
		return p.parseBuiltinCall()
	case t.kind == tokPrefixedName, t.kind == tokIRI:
		return p.parseFunctionCallOrLiteral()
	case t.kind == tokBool:
		p.lex.next()
		return algebra.LiteralExpr{Term: boolTerm(t.text)}, nil
	case t.kind == tokNumber:
		p.lex.next()
		return algebra.LiteralExpr{Term: numberLiteral(t.text)}, nil
	case t.kind == tokString:
		p.lex.next()
		return algebra.LiteralExpr{Term: p.literalFromToken(t)}, nil
	default:
		return nil, p.errf(t.line, t.col, "expected expression, got %q", t.text)
	}
}

func isAggKeyword(kw string) bool {
	switch kw {
	case "COUNT", "SUM", "AVG", "MIN", "MAX", "SAMPLE", "GROUP_CONCAT":
		return true
	}
	return false
}

func (p *Parser) parseAggregateExpr() (algebra.Expression, error) {
	kwTok, _ := p.lex.next()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	distinct := false
	if p.peekIs(tokKeyword, "DISTINCT") {
		p.lex.next()
		distinct = true
	}
	wildcard := false
	var expr algebra.Expression
	if p.peekIs(tokPunct, "*") {
		p.lex.next()
		wildcard = true
	} else {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		expr = e
	}
	var separator algebra.Expression
	if p.peekIs(tokPunct, ";") {
		p.lex.next()
		if err := p.expectKeyword("SEPARATOR"); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		sepTok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if sepTok.kind != tokString {
			return nil, p.errf(sepTok.line, sepTok.col, "SEPARATOR requires a string literal")
		}
		separator = algebra.LiteralExpr{Term: p.literalFromToken(sepTok)}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return algebra.CallExpr{Func: "AGG:" + kwTok.text, Args: aggArgs(expr, distinct, wildcard, separator)}, nil
}

// aggArgs packs an aggregate's operand into the generic CallExpr shape so
// the algebra tree doesn't need a parallel expression node; exec unpacks
// this by recognizing the "AGG:" function-name prefix at GROUP BY planning
// time and rebuilding an algebra.Aggregate, not at plain-expression
// evaluation time.
func aggArgs(expr algebra.Expression, distinct, wildcard bool, separator algebra.Expression) []algebra.Expression {
	if expr == nil {
		expr = algebra.LiteralExpr{}
	}
	args := []algebra.Expression{expr}
	if distinct {
		args = append(args, algebra.VarExpr{Var: "__distinct"})
	}
	if wildcard {
		args = append(args, algebra.VarExpr{Var: "__wildcard"})
	}
	if separator != nil {
		args = append(args, separator)
	}
	return args
}

func (p *Parser) parseExistsExpr() (algebra.Expression, error) {
	negate := false
	if p.peekIs(tokKeyword, "NOT") {
		p.lex.next()
		negate = true
	}
	if err := p.expectKeyword("EXISTS"); err != nil {
		return nil, err
	}
	pat, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	return algebra.ExistsExpr{Pattern: pat, Negate: negate}, nil
}

func (p *Parser) parseBuiltinCall() (algebra.Expression, error) {
	kwTok, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	if !p.peekIs(tokPunct, "(") {
		return nil, p.errf(kwTok.line, kwTok.col, "unexpected keyword %q in expression", kwTok.text)
	}
	p.lex.next()
	var args []algebra.Expression
	for !p.peekIs(tokPunct, ")") {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.peekIs(tokPunct, ",") {
			p.lex.next()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return algebra.CallExpr{Func: strings.ToUpper(kwTok.text), Args: args}, nil
}

func (p *Parser) parseFunctionCallOrLiteral() (algebra.Expression, error) {
	iri, err := p.parseIRIRefOrPrefixed()
	if err != nil {
		return nil, err
	}
	if p.peekIs(tokPunct, "(") {
		p.lex.next()
		var args []algebra.Expression
		for !p.peekIs(tokPunct, ")") {
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
			if p.peekIs(tokPunct, ",") {
				p.lex.next()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return algebra.CallExpr{Func: "IRI:" + iri, Args: args}, nil
	}
	return algebra.LiteralExpr{Term: rdfNewNamedNodeTerm(iri)}, nil
}
