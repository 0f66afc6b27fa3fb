package update

import (
	"context"
	"testing"

	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/parser"
	"github.com/relique/qdb/pkg/storage/memory"
)

func newStore(t *testing.T) *quadstore.Store {
	t.Helper()
	return quadstore.New(memory.New())
}

func countInDefaultGraph(t *testing.T, store *quadstore.Store) int {
	t.Helper()
	txn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()
	it, err := txn.QuadsForPattern(&quadstore.Pattern{Graph: rdf.NewDefaultGraph()})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	return n
}

func mustParseUpdate(t *testing.T, src string) []*parser.Update {
	t.Helper()
	updates, err := parser.ParseUpdate(src)
	if err != nil {
		t.Fatalf("ParseUpdate(%q): %v", src, err)
	}
	return updates
}

func TestExecute_InsertData(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	updates := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)
	if err := ex.Execute(context.Background(), updates); err != nil {
		t.Fatal(err)
	}
	if got := countInDefaultGraph(t, store); got != 1 {
		t.Errorf("got %d quads in the default graph, want 1", got)
	}
}

func TestExecute_DeleteData(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	if err := ex.Execute(context.Background(), mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)); err != nil {
		t.Fatal(err)
	}
	if err := ex.Execute(context.Background(), mustParseUpdate(t, `DELETE DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)); err != nil {
		t.Fatal(err)
	}
	if got := countInDefaultGraph(t, store); got != 0 {
		t.Errorf("got %d quads after DELETE DATA, want 0", got)
	}
}

func TestExecute_DeleteInsertWhere(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	seed := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/age> "30" . <http://ex/b> <http://ex/age> "25" }`)
	if err := ex.Execute(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	op := mustParseUpdate(t, `DELETE { ?s <http://ex/age> ?old } INSERT { ?s <http://ex/age> "31" } WHERE { ?s <http://ex/age> ?old . FILTER(?s = <http://ex/a>) }`)
	if err := ex.Execute(context.Background(), op); err != nil {
		t.Fatal(err)
	}

	txn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()
	it, err := txn.QuadsForPattern(&quadstore.Pattern{
		Subject:   rdf.NewNamedNode("http://ex/a"),
		Predicate: rdf.NewNamedNode("http://ex/age"),
		Graph:     rdf.NewDefaultGraph(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if !it.Next() {
		t.Fatal("expected a.age to still be present after DELETE/INSERT/WHERE")
	}
	q, err := it.Quad()
	if err != nil {
		t.Fatal(err)
	}
	if q.Object.(*rdf.Literal).Value != "31" {
		t.Errorf("a.age = %s, want 31", q.Object)
	}
	if it.Next() {
		t.Error("expected exactly one a.age triple, the old value must have been deleted")
	}
}

func TestExecute_ClearDefault(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	if err := ex.Execute(context.Background(), mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)); err != nil {
		t.Fatal(err)
	}
	if err := ex.Execute(context.Background(), mustParseUpdate(t, `CLEAR DEFAULT`)); err != nil {
		t.Fatal(err)
	}
	if got := countInDefaultGraph(t, store); got != 0 {
		t.Errorf("got %d quads after CLEAR DEFAULT, want 0", got)
	}
}

func TestExecute_CreateThenDropGraph(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	if err := ex.Execute(context.Background(), mustParseUpdate(t, `CREATE GRAPH <http://ex/g>`)); err != nil {
		t.Fatal(err)
	}

	txn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	graphs, err := txn.NamedGraphs()
	txn.Rollback()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range graphs {
		if g.(*rdf.NamedNode).IRI == "http://ex/g" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected CREATE GRAPH to register the named graph")
	}

	if err := ex.Execute(context.Background(), mustParseUpdate(t, `DROP GRAPH <http://ex/g>`)); err != nil {
		t.Fatal(err)
	}
	txn2, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Rollback()
	graphs2, err := txn2.NamedGraphs()
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range graphs2 {
		if g.(*rdf.NamedNode).IRI == "http://ex/g" {
			t.Error("expected DROP GRAPH to remove the named graph declaration")
		}
	}
}

func TestExecute_CopyGraphToGraph(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	seed := mustParseUpdate(t, `INSERT DATA { GRAPH <http://ex/src> { <http://ex/a> <http://ex/p> <http://ex/b> } }`)
	if err := ex.Execute(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	if err := ex.Execute(context.Background(), mustParseUpdate(t, `COPY <http://ex/src> TO <http://ex/dst>`)); err != nil {
		t.Fatal(err)
	}

	txn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()
	it, err := txn.QuadsForPattern(&quadstore.Pattern{Graph: rdf.NewNamedNode("http://ex/dst")})
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if !it.Next() {
		t.Fatal("expected COPY to have placed a quad in the destination graph")
	}
}

func TestExecute_SilentSuppressesErrorOnFailingLoad(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	updates := mustParseUpdate(t, `LOAD SILENT <http://qdb-update-test.invalid/data.ttl>`)
	if err := ex.Execute(context.Background(), updates); err != nil {
		t.Fatalf("SILENT must suppress an error from an unreachable LOAD source, got: %v", err)
	}
}

func TestExecute_NonSilentFailureRollsBackWholeBatch(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	ex := New(store, nil)
	updates := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> } ; LOAD <http://qdb-update-test.invalid/data.ttl>`)
	if err := ex.Execute(context.Background(), updates); err == nil {
		t.Fatal("expected the batch to fail on the non-SILENT LOAD of an unreachable source")
	}
	if got := countInDefaultGraph(t, store); got != 0 {
		t.Errorf("a failing batch must not commit any of its operations, got %d quads", got)
	}
}
