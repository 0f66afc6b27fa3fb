package parser

import (
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
)

// parseUpdateOp parses one SPARQL 1.1 Update operation, grounded on
// spec.md's update-operation list (INSERT DATA, DELETE DATA, DELETE/INSERT
// ... WHERE, LOAD, CLEAR, CREATE, DROP, COPY, MOVE, ADD) since the teacher
// repo's parser never implemented SPARQL Update.
func (p *Parser) parseUpdateOp() (*Update, error) {
	t, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	if t.kind != tokKeyword {
		return nil, p.errf(t.line, t.col, "expected update operation keyword, got %q", t.text)
	}
	switch t.text {
	case "INSERT":
		p.lex.next()
		if p.peekIs(tokKeyword, "DATA") {
			return p.parseInsertData()
		}
		if p.peekIs(tokPunct, "{") {
			tmpl, err := p.parseTriplesTemplate()
			if err != nil {
				return nil, err
			}
			u, err := p.parseModify(nil)
			if err != nil {
				return nil, err
			}
			u.Insert = tmpl
			return u, nil
		}
		return p.parseModify(nil)
	case "DELETE":
		p.lex.next()
		if p.peekIs(tokKeyword, "DATA") {
			return p.parseDeleteData()
		}
		if p.peekIs(tokPunct, "{") {
			tmpl, err := p.parseTriplesTemplate()
			if err != nil {
				return nil, err
			}
			return p.parseModify(tmpl)
		}
		return p.parseModify(nil)
	case "WITH":
		p.lex.next()
		g, err := p.parseIRIRefOrPrefixed()
		if err != nil {
			return nil, err
		}
		u, err := p.parseUpdateOp()
		if err != nil {
			return nil, err
		}
		u.Graph = algebra.Bound(rdf.NewNamedNode(g))
		return u, nil
	case "LOAD":
		return p.parseLoad()
	case "CLEAR":
		return p.parseClearOrDrop(UpdateClear)
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseClearOrDrop(UpdateDrop)
	case "COPY":
		return p.parseGraphToGraph(UpdateCopy)
	case "MOVE":
		return p.parseGraphToGraph(UpdateMove)
	case "ADD":
		return p.parseGraphToGraph(UpdateAdd)
	default:
		return nil, p.errf(t.line, t.col, "unsupported update operation %q", t.text)
	}
}

func (p *Parser) parseInsertData() (*Update, error) {
	p.lex.next() // DATA
	quads, err := p.parseQuadData()
	if err != nil {
		return nil, err
	}
	return &Update{Kind: UpdateInsertData, InsertData: quads}, nil
}

func (p *Parser) parseDeleteData() (*Update, error) {
	p.lex.next() // DATA
	quads, err := p.parseQuadData()
	if err != nil {
		return nil, err
	}
	return &Update{Kind: UpdateDeleteData, DeleteData: quads}, nil
}

// parseQuadData parses "{ triples | GRAPH g { triples } ... }" ground
// quad data for INSERT DATA/DELETE DATA (no variables permitted).
func (p *Parser) parseQuadData() ([]QuadTemplate, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var quads []QuadTemplate
	graph := rdf.Term(rdf.NewDefaultGraph())
	for !p.peekIs(tokPunct, "}") {
		if p.peekIs(tokKeyword, "GRAPH") {
			p.lex.next()
			g, err := p.parseIRIRefOrPrefixed()
			if err != nil {
				return nil, err
			}
			graph = rdf.NewNamedNode(g)
			if err := p.expectPunct("{"); err != nil {
				return nil, err
			}
			inner, err := p.parseGroundTriplesUntilBrace()
			if err != nil {
				return nil, err
			}
			for _, tr := range inner {
				quads = append(quads, QuadTemplate{Subject: tr.Subject, Predicate: tr.Predicate, Object: tr.Object, Graph: graph})
			}
			if err := p.expectPunct("}"); err != nil {
				return nil, err
			}
			graph = rdf.NewDefaultGraph()
			continue
		}
		tr, err := p.parseGroundTriple()
		if err != nil {
			return nil, err
		}
		quads = append(quads, QuadTemplate{Subject: tr.Subject, Predicate: tr.Predicate, Object: tr.Object, Graph: graph})
	}
	p.lex.next() // "}"
	return quads, nil
}

func (p *Parser) parseGroundTriplesUntilBrace() ([]*rdf.Triple, error) {
	var out []*rdf.Triple
	for !p.peekIs(tokPunct, "}") {
		tr, err := p.parseGroundTriple()
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (p *Parser) parseGroundTriple() (*rdf.Triple, error) {
	s, err := p.parseVarOrTerm()
	if err != nil {
		return nil, err
	}
	pr, _, err := p.parseVerb()
	if err != nil {
		return nil, err
	}
	o, err := p.parseVarOrTerm()
	if err != nil {
		return nil, err
	}
	if p.peekIs(tokPunct, ".") {
		p.lex.next()
	}
	if s.IsVar() || pr.IsVar() || o.IsVar() {
		return nil, p.errf(0, 0, "variables are not permitted in INSERT/DELETE DATA")
	}
	return rdf.NewTriple(s.Bound, pr.Bound, o.Bound), nil
}

// parseModify parses the remainder of INSERT/DELETE ... WHERE, deleteTmpl
// already consumed if this is a DELETE{tmpl}INSERT{tmpl}WHERE form.
func (p *Parser) parseModify(deleteTmpl []algebra.TriplePattern) (*Update, error) {
	u := &Update{Kind: UpdateDeleteInsert, Delete: deleteTmpl}
	if p.peekIs(tokKeyword, "INSERT") {
		p.lex.next()
		tmpl, err := p.parseTriplesTemplate()
		if err != nil {
			return nil, err
		}
		u.Insert = tmpl
	}
	for p.peekIs(tokKeyword, "USING") {
		p.lex.next()
		if p.peekIs(tokKeyword, "NAMED") {
			p.lex.next()
		}
		if _, err := p.parseIRIRefOrPrefixed(); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	pat, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	u.Where = pat
	return u, nil
}

func (p *Parser) parseLoad() (*Update, error) {
	p.lex.next() // LOAD
	silent := false
	if p.peekIs(tokKeyword, "SILENT") {
		p.lex.next()
		silent = true
	}
	src, err := p.parseIRIRefOrPrefixed()
	if err != nil {
		return nil, err
	}
	u := &Update{Kind: UpdateLoad, Source: src, Silent: silent}
	if p.peekIs(tokKeyword, "INTO") {
		p.lex.next()
		if err := p.expectKeyword("GRAPH"); err != nil {
			return nil, err
		}
		g, err := p.parseIRIRefOrPrefixed()
		if err != nil {
			return nil, err
		}
		u.Into = algebra.Bound(rdf.NewNamedNode(g))
	}
	return u, nil
}

func (p *Parser) parseClearOrDrop(kind UpdateKind) (*Update, error) {
	p.lex.next() // CLEAR/DROP
	silent := false
	if p.peekIs(tokKeyword, "SILENT") {
		p.lex.next()
		silent = true
	}
	u := &Update{Kind: kind, Silent: silent}
	switch {
	case p.peekIs(tokKeyword, "ALL"):
		p.lex.next()
		u.All = true
	case p.peekIs(tokKeyword, "DEFAULT"):
		p.lex.next()
		u.Default = true
	case p.peekIs(tokKeyword, "NAMED"):
		p.lex.next()
		u.Named = true
	case p.peekIs(tokKeyword, "GRAPH"):
		p.lex.next()
		g, err := p.parseIRIRefOrPrefixed()
		if err != nil {
			return nil, err
		}
		u.Graph = algebra.Bound(rdf.NewNamedNode(g))
	default:
		g, err := p.parseIRIRefOrPrefixed()
		if err != nil {
			return nil, err
		}
		u.Graph = algebra.Bound(rdf.NewNamedNode(g))
	}
	return u, nil
}

func (p *Parser) parseCreate() (*Update, error) {
	p.lex.next() // CREATE
	silent := false
	if p.peekIs(tokKeyword, "SILENT") {
		p.lex.next()
		silent = true
	}
	if err := p.expectKeyword("GRAPH"); err != nil {
		return nil, err
	}
	g, err := p.parseIRIRefOrPrefixed()
	if err != nil {
		return nil, err
	}
	return &Update{Kind: UpdateCreate, Silent: silent, Graph: algebra.Bound(rdf.NewNamedNode(g))}, nil
}

func (p *Parser) parseGraphToGraph(kind UpdateKind) (*Update, error) {
	p.lex.next() // COPY/MOVE/ADD
	silent := false
	if p.peekIs(tokKeyword, "SILENT") {
		p.lex.next()
		silent = true
	}
	from, err := p.parseGraphRefOrDefault()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	to, err := p.parseGraphRefOrDefault()
	if err != nil {
		return nil, err
	}
	return &Update{Kind: kind, Silent: silent, From: from, To: to}, nil
}

func (p *Parser) parseGraphRefOrDefault() (algebra.Term, error) {
	if p.peekIs(tokKeyword, "DEFAULT") {
		p.lex.next()
		return algebra.Bound(rdf.NewDefaultGraph()), nil
	}
	if p.peekIs(tokKeyword, "GRAPH") {
		p.lex.next()
	}
	g, err := p.parseIRIRefOrPrefixed()
	if err != nil {
		return algebra.Term{}, err
	}
	return algebra.Bound(rdf.NewNamedNode(g)), nil
}
