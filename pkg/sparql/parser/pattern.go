package parser

import (
	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
)

// parseGroupGraphPattern parses "{ ... }", producing a single Pattern that
// joins its basic graph patterns and folds in OPTIONAL/UNION/MINUS/GRAPH/
// BIND/VALUES/FILTER/SERVICE group-graph-pattern-sub elements left to
// right, same shape as the teacher's GraphPattern tree but generalized
// past Basic/Union/Optional/Graph/Minus to the full operator set.
func (p *Parser) parseGroupGraphPattern() (algebra.Pattern, error) {
	p.depth++
	if p.depth > MaxPatternDepth {
		return nil, p.errf(0, 0, "group graph pattern nesting too deep")
	}
	defer func() { p.depth-- }()

	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var result algebra.Pattern
	var filters []algebra.Expression
	join := func(next algebra.Pattern) {
		if result == nil {
			result = next
		} else {
			result = algebra.Join{Left: result, Right: next}
		}
	}

	for {
		t, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if t.kind == tokPunct && t.text == "}" {
			p.lex.next()
			break
		}
		switch {
		case t.kind == tokKeyword && t.text == "OPTIONAL":
			p.lex.next()
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			lj := algebra.LeftJoin{Left: result, Right: inner}
			result = lj
		case t.kind == tokKeyword && t.text == "MINUS":
			p.lex.next()
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			result = algebra.Minus{Left: result, Right: inner}
		case t.kind == tokKeyword && t.text == "GRAPH":
			p.lex.next()
			gt, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			join(algebra.GraphPattern{Graph: gt, Inner: inner})
		case t.kind == tokKeyword && t.text == "SERVICE":
			p.lex.next()
			silent := false
			if p.peekIs(tokKeyword, "SILENT") {
				p.lex.next()
				silent = true
			}
			ep, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			join(algebra.ServicePattern{Endpoint: ep, Inner: inner, Silent: silent})
		case t.kind == tokKeyword && t.text == "FILTER":
			p.lex.next()
			e, err := p.parseBracketedExpr()
			if err != nil {
				return nil, err
			}
			filters = append(filters, e)
		case t.kind == tokKeyword && t.text == "BIND":
			p.lex.next()
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			e, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			v, err := p.lex.next()
			if err != nil {
				return nil, err
			}
			if v.kind != tokVar {
				return nil, p.errf(v.line, v.col, "expected variable after AS")
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			join(algebra.Extend{Var: algebra.Var(v.text), Expr: e})
		case t.kind == tokKeyword && t.text == "VALUES":
			p.lex.next()
			vp, err := p.parseValuesClause()
			if err != nil {
				return nil, err
			}
			join(vp)
		case t.kind == tokPunct && t.text == "{":
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			if p.peekIs(tokKeyword, "UNION") {
				left := inner
				for p.peekIs(tokKeyword, "UNION") {
					p.lex.next()
					right, err := p.parseGroupGraphPattern()
					if err != nil {
						return nil, err
					}
					left = algebra.Union{Left: left, Right: right}
				}
				join(left)
			} else {
				join(inner)
			}
		default:
			bgp, err := p.parseTriplesBlock()
			if err != nil {
				return nil, err
			}
			if len(bgp.Triples) > 0 {
				join(algebra.Pattern(bgp))
			}
		}
	}

	if result == nil {
		result = algebra.BGP{}
	}
	for _, f := range filters {
		result = algebra.FilterPattern{Inner: result, Expr: f}
	}
	return result, nil
}

func (p *Parser) parseValuesClause() (algebra.Pattern, error) {
	var vars []algebra.Var
	if p.peekIs(tokPunct, "(") {
		p.lex.next()
		for !p.peekIs(tokPunct, ")") {
			v, err := p.lex.next()
			if err != nil {
				return nil, err
			}
			vars = append(vars, algebra.Var(v.text))
		}
		p.lex.next() // ")"
	} else {
		v, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		vars = append(vars, algebra.Var(v.text))
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var rows []algebra.Row
	for !p.peekIs(tokPunct, "}") {
		row := algebra.Row{}
		if len(vars) == 1 && !p.peekIs(tokPunct, "(") {
			term, undef, err := p.parseValuesTerm()
			if err != nil {
				return nil, err
			}
			if !undef {
				row[vars[0]] = term
			}
		} else {
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			for i := 0; !p.peekIs(tokPunct, ")"); i++ {
				term, undef, err := p.parseValuesTerm()
				if err != nil {
					return nil, err
				}
				if !undef && i < len(vars) {
					row[vars[i]] = term
				}
			}
			p.lex.next() // ")"
		}
		rows = append(rows, row)
	}
	p.lex.next() // "}"
	return algebra.ValuesPattern{Vars: vars, Rows: rows}, nil
}

func (p *Parser) parseValuesTerm() (rdf.Term, bool, error) {
	if p.peekIs(tokKeyword, "UNDEF") {
		p.lex.next()
		return nil, true, nil
	}
	t, err := p.parseVarOrTerm()
	if err != nil {
		return nil, false, err
	}
	return t.Bound, false, nil
}

// parseTriplesTemplate parses a CONSTRUCT { ... } template: no OPTIONAL/
// FILTER/etc, only triples, blank node property lists, and collections.
func (p *Parser) parseTriplesTemplate() ([]algebra.TriplePattern, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var triples []algebra.TriplePattern
	for !p.peekIs(tokPunct, "}") {
		ts, err := p.parseTriplesSameSubject()
		if err != nil {
			return nil, err
		}
		triples = append(triples, ts...)
		if p.peekIs(tokPunct, ".") {
			p.lex.next()
		}
	}
	p.lex.next() // "}"
	return triples, nil
}

func (p *Parser) parseTriplesBlock() (algebra.BGP, error) {
	var triples []algebra.TriplePattern
	for {
		t, err := p.lex.peek()
		if err != nil {
			return algebra.BGP{}, err
		}
		if t.kind == tokPunct && (t.text == "}" || t.text == ".") {
			if t.text == "." {
				p.lex.next()
				continue
			}
			break
		}
		if t.kind == tokKeyword && (t.text == "OPTIONAL" || t.text == "MINUS" || t.text == "GRAPH" ||
			t.text == "SERVICE" || t.text == "FILTER" || t.text == "BIND" || t.text == "VALUES" || t.text == "UNION") {
			break
		}
		if t.kind == tokPunct && t.text == "{" {
			break
		}
		ts, err := p.parseTriplesSameSubject()
		if err != nil {
			return algebra.BGP{}, err
		}
		triples = append(triples, ts...)
		if p.peekIs(tokPunct, ".") {
			p.lex.next()
		} else {
			break
		}
	}
	return algebra.BGP{Triples: triples}, nil
}

func (p *Parser) parseTriplesSameSubject() ([]algebra.TriplePattern, error) {
	var out []algebra.TriplePattern
	subj, extra, err := p.parseTriplesNode(&out)
	if err != nil {
		return nil, err
	}
	_ = extra
	more, err := p.parsePredicateObjectList(subj, &out)
	if err != nil {
		return nil, err
	}
	return append(out, more...), nil
}

// parseTriplesNode parses a VarOrTerm, a collection "(...)", or a blank
// node property list "[...]", appending any triples it generates
// (collection rdf:first/rest links, property-list triples) into out.
func (p *Parser) parseTriplesNode(out *[]algebra.TriplePattern) (algebra.Term, bool, error) {
	t, err := p.lex.peek()
	if err != nil {
		return algebra.Term{}, false, err
	}
	switch {
	case t.kind == tokPunct && t.text == "(":
		return p.parseCollection(out)
	case t.kind == tokPunct && t.text == "[":
		return p.parseBlankNodePropertyList(out)
	default:
		term, err := p.parseVarOrTerm()
		return term, false, err
	}
}

func (p *Parser) parseCollection(out *[]algebra.TriplePattern) (algebra.Term, bool, error) {
	p.lex.next() // "("
	var items []algebra.Term
	for !p.peekIs(tokPunct, ")") {
		item, _, err := p.parseTriplesNode(out)
		if err != nil {
			return algebra.Term{}, false, err
		}
		items = append(items, item)
	}
	p.lex.next() // ")"
	if len(items) == 0 {
		return algebra.Bound(rdfNil), false, nil
	}
	head := algebra.Bound(p.newBlankNode())
	cur := head
	for i, item := range items {
		*out = append(*out, algebra.TriplePattern{Subject: cur, Predicate: algebra.Bound(rdf.RDFFirst), Object: item})
		var rest algebra.Term
		if i == len(items)-1 {
			rest = algebra.Bound(rdfNil)
		} else {
			rest = algebra.Bound(p.newBlankNode())
		}
		*out = append(*out, algebra.TriplePattern{Subject: cur, Predicate: algebra.Bound(rdf.RDFRest), Object: rest})
		cur = rest
	}
	return head, false, nil
}

var rdfNil = rdf.RDFNil

func (p *Parser) parseBlankNodePropertyList(out *[]algebra.TriplePattern) (algebra.Term, bool, error) {
	p.lex.next() // "["
	subj := algebra.Bound(p.newBlankNode())
	if !p.peekIs(tokPunct, "]") {
		more, err := p.parsePredicateObjectList(subj, out)
		if err != nil {
			return algebra.Term{}, false, err
		}
		*out = append(*out, more...)
	}
	if err := p.expectPunct("]"); err != nil {
		return algebra.Term{}, false, err
	}
	return subj, false, nil
}

func (p *Parser) parsePredicateObjectList(subj algebra.Term, out *[]algebra.TriplePattern) ([]algebra.TriplePattern, error) {
	var triples []algebra.TriplePattern
	for {
		pred, path, err := p.parseVerb()
		if err != nil {
			return nil, err
		}
		for {
			obj, _, err := p.parseTriplesNode(out)
			if err != nil {
				return nil, err
			}
			if p.peekIs(tokPunct, "<<") {
				// RDF-star annotation not chased further here
			}
			triples = append(triples, algebra.TriplePattern{Subject: subj, Path: path, Predicate: pred, Object: obj})
			if p.peekIs(tokPunct, ",") {
				p.lex.next()
				continue
			}
			break
		}
		if p.peekIs(tokPunct, ";") {
			p.lex.next()
			t, err := p.lex.peek()
			if err != nil {
				return nil, err
			}
			if t.kind == tokPunct && (t.text == "." || t.text == "}" || t.text == "]") {
				break
			}
			continue
		}
		break
	}
	return triples, nil
}

// parseVerb parses a predicate position: "a", a plain IRI/var, or a
// property path expression (pipes/slashes/inverse/quantifiers).
func (p *Parser) parseVerb() (algebra.Term, algebra.Path, error) {
	t, err := p.lex.peek()
	if err != nil {
		return algebra.Term{}, nil, err
	}
	if t.kind == tokKeyword && t.text == "A" {
		p.lex.next()
		return algebra.Bound(rdf.RDFType), nil, nil
	}
	if t.kind == tokVar {
		p.lex.next()
		return algebra.Variable(algebra.Var(t.text)), nil, nil
	}
	path, err := p.parsePathAlternative()
	if err != nil {
		return algebra.Term{}, nil, err
	}
	if iri, ok := path.(algebra.PathIRI); ok {
		return algebra.Bound(rdf.NewNamedNode(iri.IRI)), nil, nil
	}
	return algebra.Term{}, path, nil
}

func (p *Parser) parsePathAlternative() (algebra.Path, error) {
	left, err := p.parsePathSequence()
	if err != nil {
		return nil, err
	}
	for p.peekIs(tokPunct, "|") {
		p.lex.next()
		right, err := p.parsePathSequence()
		if err != nil {
			return nil, err
		}
		left = algebra.PathAlt{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePathSequence() (algebra.Path, error) {
	left, err := p.parsePathElt()
	if err != nil {
		return nil, err
	}
	for p.peekIs(tokPunct, "/") {
		p.lex.next()
		right, err := p.parsePathElt()
		if err != nil {
			return nil, err
		}
		left = algebra.PathSeq{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePathElt() (algebra.Path, error) {
	inverse := false
	if p.peekIs(tokPunct, "^") {
		p.lex.next()
		inverse = true
	}
	var base algebra.Path
	if p.peekIs(tokPunct, "(") {
		p.lex.next()
		inner, err := p.parsePathAlternative()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		base = inner
	} else if p.peekIs(tokPunct, "!") {
		p.lex.next()
		iris, err := p.parseNegatedPathSet()
		if err != nil {
			return nil, err
		}
		base = algebra.PathNegated{IRIs: iris}
	} else {
		iri, err := p.parseIRIRefOrPrefixed()
		if err != nil {
			return nil, err
		}
		base = algebra.PathIRI{IRI: iri}
	}
	if inverse {
		base = algebra.PathInverse{Path: base}
	}
	for {
		switch {
		case p.peekIs(tokPunct, "*"):
			p.lex.next()
			base = algebra.PathZeroOrMore{Path: base}
		case p.peekIs(tokPunct, "+"):
			p.lex.next()
			base = algebra.PathOneOrMore{Path: base}
		case p.peekIs(tokPunct, "?"):
			p.lex.next()
			base = algebra.PathZeroOrOne{Path: base}
		default:
			return base, nil
		}
	}
}

func (p *Parser) parseNegatedPathSet() ([]string, error) {
	var iris []string
	grouped := false
	if p.peekIs(tokPunct, "(") {
		p.lex.next()
		grouped = true
	}
	for {
		inv := false
		if p.peekIs(tokPunct, "^") {
			p.lex.next()
			inv = true
		}
		iri, err := p.parseIRIRefOrPrefixed()
		if err != nil {
			return nil, err
		}
		if inv {
			iri = "^" + iri
		}
		iris = append(iris, iri)
		if grouped && p.peekIs(tokPunct, "|") {
			p.lex.next()
			continue
		}
		break
	}
	if grouped {
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}
	return iris, nil
}

// parseVarOrTerm parses a single term position: variable, IRI, prefixed
// name, blank node, literal, RDF-star quoted triple, or the "a" keyword.
func (p *Parser) parseVarOrTerm() (algebra.Term, error) {
	t, err := p.lex.peek()
	if err != nil {
		return algebra.Term{}, err
	}
	switch t.kind {
	case tokVar:
		p.lex.next()
		return algebra.Variable(algebra.Var(t.text)), nil
	case tokIRI:
		p.lex.next()
		return algebra.Bound(rdf.NewNamedNode(p.resolveIRI(t.text))), nil
	case tokPrefixedName:
		p.lex.next()
		iri, err := p.resolvePrefixedName(t.text)
		if err != nil {
			return algebra.Term{}, err
		}
		return algebra.Bound(rdf.NewNamedNode(iri)), nil
	case tokBlankNode:
		p.lex.next()
		return algebra.Bound(rdf.NewBlankNode(t.text)), nil
	case tokBool:
		p.lex.next()
		return algebra.Bound(rdf.NewBooleanLiteral(t.text == "TRUE")), nil
	case tokNumber:
		p.lex.next()
		return algebra.Bound(numberLiteral(t.text)), nil
	case tokString:
		p.lex.next()
		return algebra.Bound(p.literalFromToken(t)), nil
	case tokPunct:
		if t.text == "(" {
			p.lex.next()
			if err := p.expectPunct(")"); err != nil {
				return algebra.Term{}, err
			}
			return algebra.Bound(rdfNil), nil
		}
		if t.text == "<<" {
			return p.parseQuotedTripleTerm()
		}
	}
	return algebra.Term{}, p.errf(t.line, t.col, "expected term, got %q", t.text)
}

func (p *Parser) literalFromToken(t token) *rdf.Literal {
	if t.lang != "" {
		return rdf.NewLiteralWithLanguage(t.text, t.lang)
	}
	if t.datatype != "" {
		dt := t.datatype
		if resolved, err := p.resolvePrefixedName(dt); err == nil {
			dt = resolved
		} else {
			dt = p.resolveIRI(dt)
		}
		return rdf.NewLiteralWithDatatype(t.text, rdf.NewNamedNode(dt))
	}
	return rdf.NewLiteral(t.text)
}

func numberLiteral(lex string) *rdf.Literal {
	switch {
	case containsAny(lex, "eE"):
		return rdf.NewLiteralWithDatatype(lex, rdf.XSDDouble)
	case containsAny(lex, "."):
		return rdf.NewLiteralWithDatatype(lex, rdf.XSDDecimal)
	default:
		return rdf.NewLiteralWithDatatype(lex, rdf.XSDInteger)
	}
}

func containsAny(s, chars string) bool {
	for _, c := range chars {
		for _, r := range s {
			if r == c {
				return true
			}
		}
	}
	return false
}

func (p *Parser) parseQuotedTripleTerm() (algebra.Term, error) {
	p.lex.next() // "<<"
	s, err := p.parseVarOrTerm()
	if err != nil {
		return algebra.Term{}, err
	}
	pr, err := p.parseVarOrTerm()
	if err != nil {
		return algebra.Term{}, err
	}
	o, err := p.parseVarOrTerm()
	if err != nil {
		return algebra.Term{}, err
	}
	if err := p.expectPunct(">>"); err != nil {
		return algebra.Term{}, err
	}
	if s.IsVar() || pr.IsVar() || o.IsVar() {
		return algebra.Term{}, p.errf(0, 0, "quoted triple terms with variables are not supported as bound terms")
	}
	qt, err := rdf.NewQuotedTriple(s.Bound, pr.Bound, o.Bound)
	if err != nil {
		return algebra.Term{}, qdberr.Valuef("%s", err.Error())
	}
	return algebra.Bound(qt), nil
}
