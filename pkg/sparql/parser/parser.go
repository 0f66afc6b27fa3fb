package parser

import (
	"strconv"
	"strings"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
)

// MaxPatternDepth bounds nested {} / (()) / <<>> recursion against
// adversarial input, mirroring rdfio.Options.MaxNestingDepth.
const MaxPatternDepth = 128

// Parser turns SPARQL query/update text into an algebra.Query/[]Update.
// Grounded on the teacher's internal/sparql/parser package shape (a single
// whole-input parser struct walking a token stream into an AST); this
// parser builds the algebra tree directly instead of an intermediate AST
// since the executor here walks algebra nodes, not parser AST nodes.
type Parser struct {
	lex      *lexer
	prefixes map[string]string
	base     string
	bnodeSeq int
	depth    int
}

func New(input string) *Parser {
	return &Parser{lex: newLexer(input), prefixes: map[string]string{}}
}

func ParseQuery(input string) (*algebra.Query, error) {
	p := New(input)
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}
	return p.parseQueryBody()
}

// Update is one parsed update operation (spec.md update-operation forms).
type Update struct {
	Kind       UpdateKind
	Graph      algebra.Term // target graph for LOAD/CLEAR/CREATE/DROP, or zero for default
	Source     string       // LOAD source IRI
	Into       algebra.Term // LOAD INTO GRAPH
	Silent     bool
	All        bool         // CLEAR/DROP ALL
	Default    bool         // CLEAR/DROP DEFAULT
	Named      bool         // CLEAR/DROP NAMED
	From, To   algebra.Term // COPY/MOVE/ADD
	Insert     []algebra.TriplePattern
	Delete     []algebra.TriplePattern
	Where      algebra.Pattern // for DELETE/INSERT ... WHERE
	InsertData []QuadTemplate
	DeleteData []QuadTemplate
}

// QuadTemplate is a ground (INSERT DATA/DELETE DATA) quad, graph possibly
// the default graph sentinel.
type QuadTemplate struct {
	Subject, Predicate, Object, Graph rdf.Term
}

type UpdateKind int

const (
	UpdateInsertData UpdateKind = iota
	UpdateDeleteData
	UpdateDeleteInsert
	UpdateLoad
	UpdateClear
	UpdateCreate
	UpdateDrop
	UpdateCopy
	UpdateMove
	UpdateAdd
)

func ParseUpdate(input string) ([]*Update, error) {
	p := New(input)
	var updates []*Update
	for {
		if err := p.parsePrologue(); err != nil {
			return nil, err
		}
		t, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if t.kind == tokEOF {
			break
		}
		u, err := p.parseUpdateOp()
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
		t, err = p.lex.peek()
		if err != nil {
			return nil, err
		}
		if t.kind == tokPunct && t.text == ";" {
			p.lex.next()
			continue
		}
		break
	}
	return updates, nil
}

func (p *Parser) errf(line, col int, format string, args ...interface{}) error {
	return qdberr.Syntaxf(line, col, format, args...)
}

func (p *Parser) expectKeyword(kw string) error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	if t.kind != tokKeyword || t.text != kw {
		return p.errf(t.line, t.col, "expected %q, got %q", kw, t.text)
	}
	return nil
}

func (p *Parser) expectPunct(s string) error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	if t.kind != tokPunct || t.text != s {
		return p.errf(t.line, t.col, "expected %q, got %q", s, t.text)
	}
	return nil
}

func (p *Parser) peekIs(kind tokenKind, text string) bool {
	t, err := p.lex.peek()
	if err != nil {
		return false
	}
	return t.kind == kind && (text == "" || t.text == text)
}

func (p *Parser) newBlankNode() *rdf.BlankNode {
	p.bnodeSeq++
	return rdf.NewBlankNode("sq" + strconv.Itoa(p.bnodeSeq))
}

// ---- prologue ----

func (p *Parser) parsePrologue() error {
	for {
		t, err := p.lex.peek()
		if err != nil {
			return err
		}
		if t.kind != tokKeyword || (t.text != "PREFIX" && t.text != "BASE") {
			return nil
		}
		p.lex.next()
		if t.text == "BASE" {
			iri, err := p.lex.next()
			if err != nil {
				return err
			}
			if iri.kind != tokIRI {
				return p.errf(iri.line, iri.col, "expected IRI after BASE")
			}
			p.base = iri.text
			continue
		}
		name, err := p.lex.next()
		if err != nil {
			return err
		}
		iri, err := p.lex.next()
		if err != nil {
			return err
		}
		if iri.kind != tokIRI {
			return p.errf(iri.line, iri.col, "expected IRI after PREFIX %s", name.text)
		}
		ns := strings.TrimSuffix(name.text, ":")
		p.prefixes[ns] = iri.text
	}
}

func (p *Parser) resolveIRI(raw string) string {
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "urn:") || raw == "" {
		return raw
	}
	if strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "/") {
		return p.base + raw
	}
	return raw
}

func (p *Parser) resolvePrefixedName(text string) (string, error) {
	i := strings.IndexByte(text, ':')
	if i < 0 {
		return "", qdberr.Syntaxf(0, 0, "malformed prefixed name %q", text)
	}
	prefix, local := text[:i], text[i+1:]
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", qdberr.Syntaxf(0, 0, "undefined prefix %q", prefix)
	}
	return ns + local, nil
}

// ---- query forms ----

func (p *Parser) parseQueryBody() (*algebra.Query, error) {
	t, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	q := &algebra.Query{Prefixes: p.prefixes, BaseIRI: p.base}
	switch {
	case t.kind == tokKeyword && t.text == "SELECT":
		return p.parseSelect(q)
	case t.kind == tokKeyword && t.text == "CONSTRUCT":
		return p.parseConstruct(q)
	case t.kind == tokKeyword && t.text == "ASK":
		return p.parseAsk(q)
	case t.kind == tokKeyword && t.text == "DESCRIBE":
		return p.parseDescribe(q)
	default:
		return nil, p.errf(t.line, t.col, "expected SELECT/CONSTRUCT/ASK/DESCRIBE, got %q", t.text)
	}
}

func (p *Parser) skipDatasetClauses() error {
	for {
		t, err := p.lex.peek()
		if err != nil {
			return err
		}
		if t.kind != tokKeyword || t.text != "FROM" {
			return nil
		}
		p.lex.next()
		if p.peekIs(tokKeyword, "NAMED") {
			p.lex.next()
		}
		if _, err := p.parseIRIRefOrPrefixed(); err != nil {
			return err
		}
	}
}

func (p *Parser) parseSelect(q *algebra.Query) (*algebra.Query, error) {
	q.Form = algebra.FormSelect
	p.lex.next() // SELECT
	distinct, reduced := false, false
	if p.peekIs(tokKeyword, "DISTINCT") {
		p.lex.next()
		distinct = true
	} else if p.peekIs(tokKeyword, "REDUCED") {
		p.lex.next()
		reduced = true
	}
	var vars []algebra.Var
	star := false
	var extends []algebra.Extend
	if p.peekIs(tokPunct, "*") {
		p.lex.next()
		star = true
	} else {
		for {
			t, err := p.lex.peek()
			if err != nil {
				return nil, err
			}
			if t.kind == tokVar {
				p.lex.next()
				vars = append(vars, algebra.Var(t.text))
				continue
			}
			if t.kind == tokPunct && t.text == "(" {
				p.lex.next()
				expr, err := p.parseExpression()
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
				vv := algebra.Var(v.text)
				vars = append(vars, vv)
				extends = append(extends, algebra.Extend{Var: vv, Expr: expr})
				continue
			}
			break
		}
	}
	if err := p.skipDatasetClauses(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	pat, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	for _, e := range extends {
		pat = algebra.Extend{Inner: pat, Var: e.Var, Expr: e.Expr}
	}
	pat, limit, offset, err := p.parseSolutionModifiers(pat)
	if err != nil {
		return nil, err
	}
	if !star {
		pat = algebra.ProjectPattern{Inner: pat, Vars: vars}
	}
	if distinct {
		pat = algebra.DistinctPattern{Inner: pat}
	} else if reduced {
		pat = algebra.ReducedPattern{Inner: pat}
	}
	q.Pattern = applySlice(pat, limit, offset)
	return q, nil
}

func (p *Parser) parseConstruct(q *algebra.Query) (*algebra.Query, error) {
	q.Form = algebra.FormConstruct
	p.lex.next() // CONSTRUCT
	var template []algebra.TriplePattern
	if p.peekIs(tokPunct, "{") {
		var err error
		template, err = p.parseTriplesTemplate()
		if err != nil {
			return nil, err
		}
	}
	if err := p.skipDatasetClauses(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	pat, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	pat, limit, offset, err := p.parseSolutionModifiers(pat)
	if err != nil {
		return nil, err
	}
	q.Pattern = applySlice(pat, limit, offset)
	q.Template = template
	return q, nil
}

func (p *Parser) parseAsk(q *algebra.Query) (*algebra.Query, error) {
	q.Form = algebra.FormAsk
	p.lex.next() // ASK
	if err := p.skipDatasetClauses(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	pat, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	q.Pattern = pat
	return q, nil
}

func (p *Parser) parseDescribe(q *algebra.Query) (*algebra.Query, error) {
	q.Form = algebra.FormDescribe
	p.lex.next() // DESCRIBE
	if p.peekIs(tokPunct, "*") {
		p.lex.next()
	} else {
		for {
			t, err := p.lex.peek()
			if err != nil {
				return nil, err
			}
			if t.kind == tokVar {
				p.lex.next()
				q.Describe = append(q.Describe, algebra.Variable(algebra.Var(t.text)))
				continue
			}
			if t.kind == tokIRI || t.kind == tokPrefixedName {
				iri, err := p.parseIRIRefOrPrefixed()
				if err != nil {
					return nil, err
				}
				q.Describe = append(q.Describe, algebra.Bound(rdf.NewNamedNode(iri)))
				continue
			}
			break
		}
	}
	if err := p.skipDatasetClauses(); err != nil {
		return nil, err
	}
	if p.peekIs(tokKeyword, "WHERE") {
		p.lex.next()
		pat, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		pat, limit, offset, err := p.parseSolutionModifiers(pat)
		if err != nil {
			return nil, err
		}
		q.Pattern = applySlice(pat, limit, offset)
	}
	return q, nil
}

func (p *Parser) parseIRIRefOrPrefixed() (string, error) {
	t, err := p.lex.next()
	if err != nil {
		return "", err
	}
	switch t.kind {
	case tokIRI:
		return p.resolveIRI(t.text), nil
	case tokPrefixedName:
		return p.resolvePrefixedName(t.text)
	default:
		return "", p.errf(t.line, t.col, "expected IRI, got %q", t.text)
	}
}

// ---- solution modifiers ----

// parseSolutionModifiers parses GROUP BY/HAVING/ORDER BY wrapping onto pat,
// and LIMIT/OFFSET as a separate (limit, offset) pair for the caller to
// apply with applySlice after projection (limit -1 means none given).
func (p *Parser) parseSolutionModifiers(pat algebra.Pattern) (algebra.Pattern, int, int, error) {
	if p.peekIs(tokKeyword, "GROUP") {
		var err error
		pat, err = p.parseGroupBy(pat)
		if err != nil {
			return nil, 0, 0, err
		}
	}
	if p.peekIs(tokKeyword, "ORDER") {
		p.lex.next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, 0, 0, err
		}
		var conds []algebra.OrderCondition
		for {
			desc := false
			if p.peekIs(tokKeyword, "ASC") {
				p.lex.next()
			} else if p.peekIs(tokKeyword, "DESC") {
				p.lex.next()
				desc = true
			}
			t, err := p.lex.peek()
			if err != nil {
				return nil, 0, 0, err
			}
			if t.kind == tokVar && !p.peekIs(tokPunct, "(") {
				// bare variable order condition
			}
			expr, err := p.parsePrimaryOrderExpr()
			if err != nil {
				return nil, 0, 0, err
			}
			conds = append(conds, algebra.OrderCondition{Expr: expr, Descending: desc})
			nt, err := p.lex.peek()
			if err != nil {
				return nil, 0, 0, err
			}
			if nt.kind == tokVar || (nt.kind == tokKeyword && (nt.text == "ASC" || nt.text == "DESC")) || nt.kind == tokPunct && nt.text == "(" {
				continue
			}
			break
		}
		pat = algebra.OrderByPattern{Inner: pat, Conditions: conds}
	}
	limit, offset := -1, 0
	for p.peekIs(tokKeyword, "LIMIT") || p.peekIs(tokKeyword, "OFFSET") {
		t, _ := p.lex.next()
		n, err := p.lex.next()
		if err != nil {
			return nil, 0, 0, err
		}
		v, convErr := strconv.Atoi(n.text)
		if convErr != nil {
			return nil, 0, 0, p.errf(n.line, n.col, "expected integer after %s", t.text)
		}
		if t.text == "LIMIT" {
			limit = v
		} else {
			offset = v
		}
	}
	return pat, limit, offset, nil
}

// applySlice wraps pat in a SlicePattern when a LIMIT or OFFSET was given.
// Callers apply it outside projection and DISTINCT/REDUCED, since OFFSET
// and LIMIT come last in SPARQL's solution-modifier pipeline.
func applySlice(pat algebra.Pattern, limit, offset int) algebra.Pattern {
	if limit < 0 && offset == 0 {
		return pat
	}
	return algebra.SlicePattern{Inner: pat, Offset: offset, Limit: limit}
}

func (p *Parser) parsePrimaryOrderExpr() (algebra.Expression, error) {
	t, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	if t.kind == tokVar {
		p.lex.next()
		return algebra.VarExpr{Var: algebra.Var(t.text)}, nil
	}
	return p.parseExpression()
}

func (p *Parser) parseGroupBy(pat algebra.Pattern) (algebra.Pattern, error) {
	p.lex.next() // GROUP
	if err := p.expectKeyword("BY"); err != nil {
		return nil, err
	}
	g := algebra.GroupPattern{Inner: pat}
	for {
		t, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if t.kind == tokVar {
			p.lex.next()
			v := algebra.Var(t.text)
			g.ByVars = append(g.ByVars, v)
			// By and ByVars are kept parallel (same length, same order) so
			// exec can recover each key's defining expression positionally;
			// a bare "GROUP BY ?x" key's expression is just ?x itself.
			g.By = append(g.By, algebra.VarExpr{Var: v})
			continue
		}
		if t.kind == tokPunct && t.text == "(" {
			p.lex.next()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			v := algebra.Var("")
			if p.peekIs(tokKeyword, "AS") {
				p.lex.next()
				vt, err := p.lex.next()
				if err != nil {
					return nil, err
				}
				v = algebra.Var(vt.text)
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			g.ByVars = append(g.ByVars, v)
			g.By = append(g.By, expr)
			continue
		}
		break
	}
	if p.peekIs(tokKeyword, "HAVING") {
		p.lex.next()
		for {
			e, err := p.parseBracketedExpr()
			if err != nil {
				return nil, err
			}
			g.Having = append(g.Having, e)
			if !p.peekIs(tokPunct, "(") && !p.peekIs(tokVar, "") {
				break
			}
		}
	}
	return g, nil
}

func (p *Parser) parseBracketedExpr() (algebra.Expression, error) {
	if p.peekIs(tokPunct, "(") {
		p.lex.next()
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return p.parseExpression()
}
