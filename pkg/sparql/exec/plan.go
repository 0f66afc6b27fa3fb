package exec

import (
	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
)

// Vars is the ordered projection of a SELECT result, in the order the
// query named them (insertion order matters for tabular results formats).
type Vars = algebra.Vars

// Results is the outcome of running one Query: exactly one of Rows (SELECT),
// Boolean (ASK), or Triples (CONSTRUCT/DESCRIBE) is populated, selected by
// Form.
type Results struct {
	Form    algebra.QueryForm
	Vars    Vars
	Rows    []Binding
	Boolean bool
	Triples []*rdf.Triple
}

// BuildWithGraph compiles pattern into a pull iterator scoped to graph,
// exported for pkg/update's DELETE/INSERT ... WHERE (a WITH <g> clause
// scopes the WHERE pattern and both templates to one graph, not the
// default graph Build always uses).
func BuildWithGraph(pattern algebra.Pattern, txn *quadstore.Transaction, limits *Limits, graph rdf.Term) (Iterator, error) {
	return buildWithGraph(pattern, txn, limits, graph)
}

// Run executes a parsed query against txn's snapshot. The WHERE pattern is
// normalized (peeling the parser's nested aggregate-Extend shape apart, see
// normalizeAggregates) and then optimized (algebra.Optimize: constant
// folding, filter pushdown, BGP reordering by estimated selectivity, common
// subtree extraction under UNION, spec.md §4.5) before being compiled to an
// iterator tree. Optimization runs after normalization so it never sees
// (and can't disturb) the parser's raw nested-Extend aggregate shape.
func Run(q *algebra.Query, txn *quadstore.Transaction, limits *Limits) (*Results, error) {
	if limits == nil {
		limits = DefaultLimits()
	}
	pat := algebra.Optimize(normalizeAggregates(q.Pattern))
	it, err := Build(pat, txn, limits)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	switch q.Form {
	case algebra.FormAsk:
		found := it.Next()
		if err := iterErr(it); err != nil {
			return nil, err
		}
		return &Results{Form: q.Form, Boolean: found}, nil
	case algebra.FormSelect:
		var rows []Binding
		for it.Next() {
			rows = append(rows, it.Binding())
		}
		if err := iterErr(it); err != nil {
			return nil, err
		}
		return &Results{Form: q.Form, Vars: selectVars(pat), Rows: rows}, nil
	case algebra.FormConstruct:
		triples, err := constructTriples(it, q.Template)
		if err != nil {
			return nil, err
		}
		return &Results{Form: q.Form, Triples: triples}, nil
	case algebra.FormDescribe:
		triples, err := describeTriples(it, q.Describe, txn)
		if err != nil {
			return nil, err
		}
		return &Results{Form: q.Form, Triples: triples}, nil
	default:
		return nil, qdberr.Evalf("unsupported query form")
	}
}

// selectVars recovers the SELECT projection list by unwrapping down to the
// ProjectPattern node the parser wraps a SELECT's WHERE in. "SELECT *" has
// no ProjectPattern, so it yields nil and the result formatters derive the
// variables from the rows.
func selectVars(pat algebra.Pattern) Vars {
	cur := pat
	for {
		switch p := cur.(type) {
		case algebra.SlicePattern:
			cur = p.Inner
		case algebra.DistinctPattern:
			cur = p.Inner
		case algebra.ReducedPattern:
			cur = p.Inner
		case algebra.OrderByPattern:
			cur = p.Inner
		case algebra.ProjectPattern:
			return p.Vars
		default:
			return nil
		}
	}
}

func constructTriples(it Iterator, template []algebra.TriplePattern) ([]*rdf.Triple, error) {
	seen := map[string]bool{}
	var out []*rdf.Triple
	for it.Next() {
		b := it.Binding()
		for _, tp := range template {
			s, err := materializeTerm(tp.Subject, b)
			if err != nil {
				continue
			}
			p, err := materializeTerm(tp.Predicate, b)
			if err != nil {
				continue
			}
			o, err := materializeTerm(tp.Object, b)
			if err != nil {
				continue
			}
			tr := rdf.NewTriple(s, p, o)
			key := tr.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tr)
		}
	}
	if err := iterErr(it); err != nil {
		return nil, err
	}
	return out, nil
}

func materializeTerm(t algebra.Term, b Binding) (rdf.Term, error) {
	if !t.IsVar() {
		return t.Bound, nil
	}
	v, ok := b[t.Var]
	if !ok {
		return nil, qdberr.Evalf("CONSTRUCT template references unbound variable ?%s", t.Var)
	}
	return v, nil
}

// describeTriples gathers the description (every quad the resource appears
// in subject position of) for each resolved DESCRIBE resource, either a
// literal IRI or a variable resolved against every solution row.
func describeTriples(it Iterator, resources []algebra.Term, txn *quadstore.Transaction) ([]*rdf.Triple, error) {
	var nodes []rdf.Term
	hasVar := false
	for _, r := range resources {
		if r.IsVar() {
			hasVar = true
		} else {
			nodes = append(nodes, r.Bound)
		}
	}
	if hasVar {
		for it.Next() {
			b := it.Binding()
			for _, r := range resources {
				if r.IsVar() {
					if v, ok := b[r.Var]; ok {
						nodes = append(nodes, v)
					}
				}
			}
		}
		if err := iterErr(it); err != nil {
			return nil, err
		}
	}
	seen := map[string]bool{}
	var out []*rdf.Triple
	for _, n := range nodes {
		key := n.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := describeNode(n, txn, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func describeNode(n rdf.Term, txn *quadstore.Transaction, out *[]*rdf.Triple) error {
	asSubj, err := txn.QuadsForPattern(&quadstore.Pattern{Subject: n})
	if err != nil {
		return err
	}
	defer asSubj.Close()
	for asSubj.Next() {
		q, err := asSubj.Quad()
		if err != nil {
			return err
		}
		*out = append(*out, rdf.NewTriple(q.Subject, q.Predicate, q.Object))
	}
	return asSubj.Err()
}
