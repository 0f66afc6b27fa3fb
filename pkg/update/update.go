// Package update bridges the SPARQL execution engine and the quad store to
// implement the SPARQL 1.1 Update operations (spec.md §4.4/§6.1): INSERT
// DATA, DELETE DATA, DELETE/INSERT ... WHERE, LOAD, CLEAR, CREATE, DROP,
// COPY, MOVE, ADD. Has no direct teacher analogue (the teacher's parser
// never implemented SPARQL Update); grounded on the teacher's
// internal/sparql/executor package's plan-then-run shape, generalized from
// read-only query execution to the write path, and on the update-operation
// semantics in original_source/lib/src/sparql/update.rs (what each
// operation's WHERE/template interaction means) since spec.md names the
// operations without detailing them.
package update

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/rdfio"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
	"github.com/relique/qdb/pkg/sparql/parser"
)

// Executor runs parsed SPARQL Update operations against a store, one write
// transaction per Execute call (spec.md §4.2: "Writers serialize against
// each other; a single write lock is acceptable").
type Executor struct {
	store      *quadstore.Store
	limits     *exec.Limits
	httpClient *http.Client
}

// New builds an Executor. A nil limits uses exec.DefaultLimits().
func New(store *quadstore.Store, limits *exec.Limits) *Executor {
	if limits == nil {
		limits = exec.DefaultLimits()
	}
	return &Executor{store: store, limits: limits, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Execute runs every update operation in updates inside one write
// transaction, committing only if all succeed (a non-SILENT failure rolls
// back the whole batch — the usual behavior for a SPARQL Update request
// containing multiple ';'-separated operations).
func (e *Executor) Execute(ctx context.Context, updates []*parser.Update) error {
	txn, err := e.store.StartTransaction(true)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = txn.Rollback()
		}
	}()

	for _, u := range updates {
		if err := e.executeOne(ctx, txn, u); err != nil {
			if u.Silent {
				continue
			}
			return err
		}
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (e *Executor) executeOne(ctx context.Context, txn *quadstore.Transaction, u *parser.Update) error {
	switch u.Kind {
	case parser.UpdateInsertData:
		return applyQuadTemplates(txn, u.InsertData, txn.Insert)
	case parser.UpdateDeleteData:
		return applyQuadTemplates(txn, u.DeleteData, txn.Remove)
	case parser.UpdateDeleteInsert:
		return e.executeDeleteInsert(txn, u)
	case parser.UpdateLoad:
		return e.executeLoad(ctx, txn, u)
	case parser.UpdateClear:
		return e.executeClearOrDrop(txn, u, true)
	case parser.UpdateDrop:
		return e.executeClearOrDrop(txn, u, false)
	case parser.UpdateCreate:
		return e.executeCreate(txn, u)
	case parser.UpdateCopy:
		return e.executeCopy(txn, u)
	case parser.UpdateMove:
		return e.executeMove(txn, u)
	case parser.UpdateAdd:
		return e.executeAdd(txn, u)
	default:
		return qdberr.Evalf("update: unsupported operation kind %d", u.Kind)
	}
}

func applyQuadTemplates(txn *quadstore.Transaction, quads []parser.QuadTemplate, apply func(*rdf.Quad) (bool, error)) error {
	for _, q := range quads {
		graph := q.Graph
		if graph == nil {
			graph = rdf.NewDefaultGraph()
		}
		if _, err := apply(rdf.NewQuad(q.Subject, q.Predicate, q.Object, graph)); err != nil {
			return err
		}
	}
	return nil
}

// executeDeleteInsert runs u.Where against the target graph (u.Graph from a
// WITH clause, else the default graph), and for every solution materializes
// u.Delete then u.Insert, skipping any template triple that references a
// variable unbound in that solution (SPARQL 1.1 Update §3.1.3: such
// triples are simply not produced, not an error).
func (e *Executor) executeDeleteInsert(txn *quadstore.Transaction, u *parser.Update) error {
	graph := rdf.Term(rdf.NewDefaultGraph())
	if u.Graph.Bound != nil {
		graph = u.Graph.Bound
	}

	it, err := exec.BuildWithGraph(algebra.Optimize(u.Where), txn, e.limits, graph)
	if err != nil {
		return err
	}
	defer it.Close()

	var deletes, inserts []*rdf.Quad
	for it.Next() {
		b := it.Binding()
		deletes = append(deletes, materializeTemplates(u.Delete, b, graph)...)
		inserts = append(inserts, materializeTemplates(u.Insert, b, graph)...)
	}
	if err := exec.IterErr(it); err != nil {
		return err
	}

	// Deletes apply before inserts so that DELETE{p}INSERT{p}WHERE{...}
	// (a common idiom to "touch" a value) cannot have the insert clobbered
	// by a later delete of the same pattern.
	for _, q := range deletes {
		if _, err := txn.Remove(q); err != nil {
			return err
		}
	}
	for _, q := range inserts {
		if _, err := txn.Insert(q); err != nil {
			return err
		}
	}
	return nil
}

func materializeTemplates(tmpl []algebra.TriplePattern, b exec.Binding, graph rdf.Term) []*rdf.Quad {
	var out []*rdf.Quad
	for _, tp := range tmpl {
		s, ok := resolve(tp.Subject, b)
		if !ok {
			continue
		}
		p, ok := resolve(tp.Predicate, b)
		if !ok {
			continue
		}
		o, ok := resolve(tp.Object, b)
		if !ok {
			continue
		}
		out = append(out, rdf.NewQuad(s, p, o, graph))
	}
	return out
}

func resolve(t algebra.Term, b exec.Binding) (rdf.Term, bool) {
	if !t.IsVar() {
		return t.Bound, true
	}
	v, ok := b[t.Var]
	return v, ok
}

func (e *Executor) executeLoad(ctx context.Context, txn *quadstore.Transaction, u *parser.Update) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Source, nil)
	if err != nil {
		return qdberr.Wrap(qdberr.Io, err, "LOAD "+u.Source)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return qdberr.Wrap(qdberr.Io, err, "LOAD "+u.Source)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return qdberr.Wrap(qdberr.Io, io.EOF, "LOAD "+u.Source+": non-200 response")
	}

	format, ok := rdfio.FormatFromContentType(resp.Header.Get("Content-Type"))
	if !ok {
		// Format autodetection from file extension is an external-
		// collaborator concern (spec.md §1); LOAD without a recognized
		// Content-Type cannot proceed here.
		return qdberr.Valuef("LOAD %s: could not determine RDF format from Content-Type %q", u.Source, resp.Header.Get("Content-Type"))
	}

	targetGraph := rdf.Term(rdf.NewDefaultGraph())
	if u.Into.Bound != nil {
		targetGraph = u.Into.Bound
		if err := txn.InsertNamedGraph(targetGraph); err != nil {
			return err
		}
	}

	return rdfio.ParseReader(format, resp.Body, rdfio.Options{}, func(q *rdf.Quad) error {
		if _, isDefault := q.Graph.(*rdf.DefaultGraph); isDefault {
			q.Graph = targetGraph
		}
		_, err := txn.Insert(q)
		return err
	})
}

func (e *Executor) executeClearOrDrop(txn *quadstore.Transaction, u *parser.Update, clearOnly bool) error {
	switch {
	case u.All:
		return txn.ClearAll()
	case u.Default:
		return txn.ClearGraph(rdf.NewDefaultGraph())
	case u.Named:
		graphs, err := txn.NamedGraphs()
		if err != nil {
			return err
		}
		for _, g := range graphs {
			if clearOnly {
				if err := txn.ClearGraph(g); err != nil {
					return err
				}
			} else if err := txn.RemoveNamedGraph(g); err != nil {
				return err
			}
		}
		return nil
	default:
		if u.Graph.Bound == nil {
			return qdberr.Evalf("update: CLEAR/DROP missing target graph")
		}
		if clearOnly {
			return txn.ClearGraph(u.Graph.Bound)
		}
		return txn.RemoveNamedGraph(u.Graph.Bound)
	}
}

func (e *Executor) executeCreate(txn *quadstore.Transaction, u *parser.Update) error {
	return txn.InsertNamedGraph(u.Graph.Bound)
}

// executeCopy replaces the destination graph's content with the source's.
func (e *Executor) executeCopy(txn *quadstore.Transaction, u *parser.Update) error {
	if err := clearTarget(txn, u.To.Bound); err != nil {
		return err
	}
	return copyGraph(txn, u.From.Bound, u.To.Bound)
}

// executeMove is executeCopy followed by clearing the source.
func (e *Executor) executeMove(txn *quadstore.Transaction, u *parser.Update) error {
	if err := e.executeCopy(txn, u); err != nil {
		return err
	}
	return clearTarget(txn, u.From.Bound)
}

// executeAdd copies without first clearing the destination.
func (e *Executor) executeAdd(txn *quadstore.Transaction, u *parser.Update) error {
	return copyGraph(txn, u.From.Bound, u.To.Bound)
}

func clearTarget(txn *quadstore.Transaction, g rdf.Term) error {
	if _, isDefault := g.(*rdf.DefaultGraph); isDefault {
		return txn.ClearGraph(g)
	}
	return txn.RemoveNamedGraph(g)
}

func copyGraph(txn *quadstore.Transaction, from, to rdf.Term) error {
	if from.Equals(to) {
		return nil
	}
	if _, isDefault := to.(*rdf.DefaultGraph); !isDefault {
		if err := txn.InsertNamedGraph(to); err != nil {
			return err
		}
	}
	it, err := txn.QuadsForPattern(&quadstore.Pattern{Graph: from})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			return err
		}
		if _, err := txn.Insert(rdf.NewQuad(q.Subject, q.Predicate, q.Object, to)); err != nil {
			return err
		}
	}
	return it.Err()
}
