package quadstore

import (
	"testing"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/storage/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(memory.New())
}

func quad(s, p, o string) *rdf.Quad {
	return rdf.NewQuad(rdf.NewNamedNode(s), rdf.NewNamedNode(p), rdf.NewNamedNode(o), rdf.NewDefaultGraph())
}

func namedQuad(s, p, o, g string) *rdf.Quad {
	return rdf.NewQuad(rdf.NewNamedNode(s), rdf.NewNamedNode(p), rdf.NewNamedNode(o), rdf.NewNamedNode(g))
}

func TestInsert_ReturnsTrueOnlyWhenNew(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	q := quad("http://ex/s", "http://ex/p", "http://ex/o")
	added, err := txn.Insert(q)
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("first insert must report added=true")
	}
	added, err = txn.Insert(q)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("inserting a duplicate quad must report added=false")
	}
}

func TestRemove_ReturnsTrueOnlyWhenPresent(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	q := quad("http://ex/s", "http://ex/p", "http://ex/o")
	removed, err := txn.Remove(q)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("removing an absent quad must report removed=false")
	}

	if _, err := txn.Insert(q); err != nil {
		t.Fatal(err)
	}
	removed, err = txn.Remove(q)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("removing a present quad must report removed=true")
	}

	has, err := txn.Contains(q)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("quad must not be present after Remove")
	}
}

func TestContains(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	q := quad("http://ex/s", "http://ex/p", "http://ex/o")
	if has, err := txn.Contains(q); err != nil || has {
		t.Errorf("Contains() before insert = (%v, %v), want (false, nil)", has, err)
	}
	if _, err := txn.Insert(q); err != nil {
		t.Fatal(err)
	}
	if has, err := txn.Contains(q); err != nil || !has {
		t.Errorf("Contains() after insert = (%v, %v), want (true, nil)", has, err)
	}
}

// collectQuads drains a QuadIterator into a slice.
func collectQuads(t *testing.T, it *QuadIterator) []*rdf.Quad {
	t.Helper()
	defer it.Close()
	var out []*rdf.Quad
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, q)
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

// TestQuadsForPattern_ConsistentAcrossBoundPositions inserts a small default
// graph dataset and checks that every combination of bound/unbound S, P, O
// returns the same logical answer regardless of which physical index
// selectIndex ends up choosing — spec.md's invariant that every index must
// agree.
func TestQuadsForPattern_ConsistentAcrossBoundPositions(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	data := []*rdf.Quad{
		quad("http://ex/a", "http://ex/knows", "http://ex/b"),
		quad("http://ex/a", "http://ex/knows", "http://ex/c"),
		quad("http://ex/b", "http://ex/knows", "http://ex/c"),
		quad("http://ex/a", "http://ex/likes", "http://ex/c"),
	}
	for _, q := range data {
		if _, err := txn.Insert(q); err != nil {
			t.Fatal(err)
		}
	}

	patterns := []*Pattern{
		{},
		{Subject: rdf.NewNamedNode("http://ex/a")},
		{Predicate: rdf.NewNamedNode("http://ex/knows")},
		{Object: rdf.NewNamedNode("http://ex/c")},
		{Subject: rdf.NewNamedNode("http://ex/a"), Predicate: rdf.NewNamedNode("http://ex/knows")},
		{Predicate: rdf.NewNamedNode("http://ex/knows"), Object: rdf.NewNamedNode("http://ex/c")},
		{Subject: rdf.NewNamedNode("http://ex/a"), Object: rdf.NewNamedNode("http://ex/c")},
	}

	for _, p := range patterns {
		it, err := txn.QuadsForPattern(p)
		if err != nil {
			t.Fatal(err)
		}
		got := collectQuads(t, it)
		want := 0
		for _, q := range data {
			if matches(q, p) {
				want++
			}
		}
		if len(got) != want {
			t.Errorf("pattern %+v: got %d quads, want %d", p, len(got), want)
		}
	}
}

func TestQuadsForPattern_NamedGraphIsolatedFromDefault(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	if _, err := txn.Insert(quad("http://ex/a", "http://ex/p", "http://ex/b")); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Insert(namedQuad("http://ex/a", "http://ex/p", "http://ex/b", "http://ex/g")); err != nil {
		t.Fatal(err)
	}

	it, err := txn.QuadsForPattern(&Pattern{Graph: rdf.NewDefaultGraph()})
	if err != nil {
		t.Fatal(err)
	}
	got := collectQuads(t, it)
	if len(got) != 1 {
		t.Fatalf("default-graph-only pattern returned %d quads, want 1", len(got))
	}
	if _, isDefault := got[0].Graph.(*rdf.DefaultGraph); !isDefault {
		t.Errorf("expected the returned quad's graph to be the default graph, got %s", got[0].Graph)
	}

	it2, err := txn.QuadsForPattern(&Pattern{Graph: rdf.NewNamedNode("http://ex/g")})
	if err != nil {
		t.Fatal(err)
	}
	got2 := collectQuads(t, it2)
	if len(got2) != 1 {
		t.Fatalf("named-graph pattern returned %d quads, want 1", len(got2))
	}
}

func TestQuadsForPattern_NilGraphScansBothDefaultAndNamed(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	if _, err := txn.Insert(quad("http://ex/a", "http://ex/p", "http://ex/b")); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Insert(namedQuad("http://ex/a", "http://ex/p", "http://ex/b", "http://ex/g")); err != nil {
		t.Fatal(err)
	}

	it, err := txn.QuadsForPattern(&Pattern{Subject: rdf.NewNamedNode("http://ex/a")})
	if err != nil {
		t.Fatal(err)
	}
	got := collectQuads(t, it)
	if len(got) != 2 {
		t.Fatalf("got %d quads across default+named graphs, want 2", len(got))
	}
}

func TestNamedGraphLifecycle(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	g := rdf.NewNamedNode("http://ex/g")
	if err := txn.InsertNamedGraph(g); err != nil {
		t.Fatal(err)
	}
	graphs, err := txn.NamedGraphs()
	if err != nil {
		t.Fatal(err)
	}
	if len(graphs) != 1 || !graphs[0].Equals(g) {
		t.Fatalf("NamedGraphs() = %v, want [%s]", graphs, g)
	}

	if _, err := txn.Insert(namedQuad("http://ex/a", "http://ex/p", "http://ex/b", "http://ex/g")); err != nil {
		t.Fatal(err)
	}

	if err := txn.RemoveNamedGraph(g); err != nil {
		t.Fatal(err)
	}
	graphs, err = txn.NamedGraphs()
	if err != nil {
		t.Fatal(err)
	}
	if len(graphs) != 0 {
		t.Errorf("NamedGraphs() after RemoveNamedGraph = %v, want empty", graphs)
	}

	it, err := txn.QuadsForPattern(&Pattern{Graph: g})
	if err != nil {
		t.Fatal(err)
	}
	if got := collectQuads(t, it); len(got) != 0 {
		t.Errorf("removed graph must have no remaining quads, got %d", len(got))
	}
}

func TestClearGraph_KeepsDeclaration(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	g := rdf.NewNamedNode("http://ex/g")
	if err := txn.InsertNamedGraph(g); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Insert(namedQuad("http://ex/a", "http://ex/p", "http://ex/b", "http://ex/g")); err != nil {
		t.Fatal(err)
	}
	if err := txn.ClearGraph(g); err != nil {
		t.Fatal(err)
	}

	it, err := txn.QuadsForPattern(&Pattern{Graph: g})
	if err != nil {
		t.Fatal(err)
	}
	if got := collectQuads(t, it); len(got) != 0 {
		t.Errorf("ClearGraph must remove all quads, got %d remaining", len(got))
	}
	graphs, err := txn.NamedGraphs()
	if err != nil {
		t.Fatal(err)
	}
	if len(graphs) != 1 {
		t.Errorf("ClearGraph must keep the graph's declaration, NamedGraphs() = %v", graphs)
	}
}

func TestClearAll(t *testing.T) {
	store := newTestStore(t)
	txn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	if _, err := txn.Insert(quad("http://ex/a", "http://ex/p", "http://ex/b")); err != nil {
		t.Fatal(err)
	}
	if _, err := txn.Insert(namedQuad("http://ex/a", "http://ex/p", "http://ex/b", "http://ex/g")); err != nil {
		t.Fatal(err)
	}

	if err := txn.ClearAll(); err != nil {
		t.Fatal(err)
	}

	it, err := txn.QuadsForPattern(&Pattern{})
	if err != nil {
		t.Fatal(err)
	}
	if got := collectQuads(t, it); len(got) != 0 {
		t.Errorf("ClearAll must leave no quads, got %d", len(got))
	}
	graphs, err := txn.NamedGraphs()
	if err != nil {
		t.Fatal(err)
	}
	if len(graphs) != 0 {
		t.Errorf("ClearAll must remove named graph declarations, got %v", graphs)
	}
}

func TestBulkLoader_CommitsAcrossBatchesAndCountsInserted(t *testing.T) {
	store := newTestStore(t)
	loader := NewBulkLoader(store, 2)

	ch := make(chan *rdf.Quad, 4)
	ch <- quad("http://ex/a", "http://ex/p", "http://ex/b")
	ch <- quad("http://ex/b", "http://ex/p", "http://ex/c")
	ch <- quad("http://ex/c", "http://ex/p", "http://ex/d")
	close(ch)

	if err := loader.Load(ch); err != nil {
		t.Fatal(err)
	}
	if loader.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", loader.Inserted)
	}
	if loader.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", loader.Skipped)
	}

	txn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()
	it, err := txn.QuadsForPattern(&Pattern{})
	if err != nil {
		t.Fatal(err)
	}
	if got := collectQuads(t, it); len(got) != 3 {
		t.Errorf("store has %d quads after bulk load, want 3", len(got))
	}
}

func TestBulkLoader_ExplicitCommitCheckpoints(t *testing.T) {
	store := newTestStore(t)
	loader := NewBulkLoader(store, 1000)

	if err := loader.Add(quad("http://ex/a", "http://ex/p", "http://ex/b")); err != nil {
		t.Fatal(err)
	}
	if err := loader.Commit(); err != nil {
		t.Fatal(err)
	}

	// The checkpointed quad is visible to a reader even though the batch
	// was nowhere near full.
	txn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()
	ok, err := txn.Contains(quad("http://ex/a", "http://ex/p", "http://ex/b"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("a quad added before an explicit Commit checkpoint must be durable")
	}

	if err := loader.Commit(); err != nil {
		t.Errorf("Commit with nothing pending must be a no-op, got %v", err)
	}
}

func TestCommitPersistsAcrossTransactions(t *testing.T) {
	store := newTestStore(t)
	q := quad("http://ex/a", "http://ex/p", "http://ex/b")

	txn1, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := txn1.Insert(q); err != nil {
		t.Fatal(err)
	}
	if err := txn1.Commit(); err != nil {
		t.Fatal(err)
	}

	txn2, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Rollback()
	has, err := txn2.Contains(q)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("a committed insert must be visible to a later transaction")
	}
}

func TestRollbackDiscardsInserts(t *testing.T) {
	store := newTestStore(t)
	q := quad("http://ex/a", "http://ex/p", "http://ex/b")

	txn1, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := txn1.Insert(q); err != nil {
		t.Fatal(err)
	}
	if err := txn1.Rollback(); err != nil {
		t.Fatal(err)
	}

	txn2, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn2.Rollback()
	has, err := txn2.Contains(q)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("a rolled-back insert must not be visible")
	}
}
