package exec

import (
	"strings"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
)

// pathWalker evaluates SPARQL 1.1 property paths by breadth-first expansion
// bounded by a per-start visited-node cap, spec.md §4.8's adversarial-input
// limit on path evaluation. Grounded on the teacher's index-driven
// QuadsForPattern scan (pkg/store/query.go), generalized from plain
// predicate equality to the full path algebra.
type pathWalker struct {
	txn    *quadstore.Transaction
	graph  rdf.Term // nil = any graph, per the enclosing BGP's graph context
	limits *Limits
}

func termKey(t rdf.Term) string { return t.String() }

// reachable computes every node one full application of path connects node
// to, in the given direction; closure operators (*, +, ?) get their own BFS
// here, everything else is a single non-closure expansion.
func (w *pathWalker) reachable(node rdf.Term, path algebra.Path, inverse bool) (map[string]rdf.Term, error) {
	switch p := path.(type) {
	case algebra.PathZeroOrMore:
		return w.bfs(node, p.Path, inverse, true)
	case algebra.PathOneOrMore:
		return w.bfs(node, p.Path, inverse, false)
	case algebra.PathZeroOrOne:
		out, err := w.reachable(node, p.Path, inverse)
		if err != nil {
			return nil, err
		}
		out[termKey(node)] = node
		return out, nil
	default:
		return w.step1(node, path, inverse)
	}
}

func (w *pathWalker) bfs(start rdf.Term, inner algebra.Path, inverse, includeStart bool) (map[string]rdf.Term, error) {
	visited := map[string]rdf.Term{}
	if includeStart {
		visited[termKey(start)] = start
	}
	frontier := []rdf.Term{start}
	visits := 0
	for len(frontier) > 0 {
		var next []rdf.Term
		for _, n := range frontier {
			visits++
			if visits > w.limits.MaxPathDepth {
				return nil, qdberr.Limitf("property path exceeded %d visited nodes", w.limits.MaxPathDepth)
			}
			nbrs, err := w.reachable(n, inner, inverse)
			if err != nil {
				return nil, err
			}
			for k, v := range nbrs {
				if _, seen := visited[k]; !seen {
					visited[k] = v
					next = append(next, v)
				}
			}
		}
		frontier = next
	}
	return visited, nil
}

func (w *pathWalker) step1(node rdf.Term, path algebra.Path, inverse bool) (map[string]rdf.Term, error) {
	switch p := path.(type) {
	case algebra.PathIRI:
		return w.hop(node, p.IRI, inverse)
	case algebra.PathInverse:
		return w.reachable(node, p.Path, !inverse)
	case algebra.PathSeq:
		first, second := p.Left, p.Right
		if inverse {
			first, second = p.Right, p.Left
		}
		mids, err := w.reachable(node, first, inverse)
		if err != nil {
			return nil, err
		}
		result := map[string]rdf.Term{}
		for _, mid := range mids {
			ends, err := w.reachable(mid, second, inverse)
			if err != nil {
				return nil, err
			}
			for k, v := range ends {
				result[k] = v
			}
		}
		return result, nil
	case algebra.PathAlt:
		l, err := w.reachable(node, p.Left, inverse)
		if err != nil {
			return nil, err
		}
		r, err := w.reachable(node, p.Right, inverse)
		if err != nil {
			return nil, err
		}
		for k, v := range r {
			l[k] = v
		}
		return l, nil
	case algebra.PathNegated:
		return w.hopNegated(node, p.IRIs, inverse)
	default:
		return nil, qdberr.Evalf("unsupported property path node %T", path)
	}
}

func (w *pathWalker) hop(node rdf.Term, iri string, inverse bool) (map[string]rdf.Term, error) {
	pattern := &quadstore.Pattern{Predicate: rdf.NewNamedNode(iri), Graph: w.graph}
	if inverse {
		pattern.Object = node
	} else {
		pattern.Subject = node
	}
	it, err := w.txn.QuadsForPattern(pattern)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	out := map[string]rdf.Term{}
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			return nil, err
		}
		var end rdf.Term
		if inverse {
			end = q.Subject
		} else {
			end = q.Object
		}
		out[termKey(end)] = end
	}
	return out, it.Err()
}

func (w *pathWalker) hopNegated(node rdf.Term, iris []string, inverse bool) (map[string]rdf.Term, error) {
	excluded := map[string]bool{}
	for _, raw := range iris {
		if strings.HasPrefix(raw, "^") {
			if inverse {
				excluded[strings.TrimPrefix(raw, "^")] = true
			}
		} else if !inverse {
			excluded[raw] = true
		}
	}
	pattern := &quadstore.Pattern{Graph: w.graph}
	if inverse {
		pattern.Object = node
	} else {
		pattern.Subject = node
	}
	it, err := w.txn.QuadsForPattern(pattern)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	out := map[string]rdf.Term{}
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			return nil, err
		}
		pred, ok := q.Predicate.(*rdf.NamedNode)
		if !ok || excluded[pred.IRI] {
			continue
		}
		var end rdf.Term
		if inverse {
			end = q.Subject
		} else {
			end = q.Object
		}
		out[termKey(end)] = end
	}
	return out, it.Err()
}

// pathSeedPredicates collects every plain IRI mentioned anywhere in path,
// used to bound the both-ends-unbound case: instead of scanning the whole
// store for candidate start nodes, only nodes participating in one of the
// path's literal predicates are considered. This is a documented
// simplification for disjunctive/negated paths whose match set could in
// principle include nodes connected only through other predicates chained
// via a nested path; plain and alternated IRI paths are unaffected.
func pathSeedPredicates(path algebra.Path) []string {
	switch p := path.(type) {
	case algebra.PathIRI:
		return []string{p.IRI}
	case algebra.PathInverse:
		return pathSeedPredicates(p.Path)
	case algebra.PathSeq:
		return append(pathSeedPredicates(p.Left), pathSeedPredicates(p.Right)...)
	case algebra.PathAlt:
		return append(pathSeedPredicates(p.Left), pathSeedPredicates(p.Right)...)
	case algebra.PathZeroOrMore:
		return pathSeedPredicates(p.Path)
	case algebra.PathOneOrMore:
		return pathSeedPredicates(p.Path)
	case algebra.PathZeroOrOne:
		return pathSeedPredicates(p.Path)
	case algebra.PathNegated:
		return nil
	default:
		return nil
	}
}
