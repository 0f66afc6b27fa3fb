package exec

import (
	"fmt"
	"strings"
	"testing"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/parser"
	"github.com/relique/qdb/pkg/storage/memory"
)

// chainStore seeds a store with <http://ex/n0> <http://ex/next> <http://ex/n1>
// ... <http://ex/n{n}> and returns a read transaction over it.
func chainStore(t *testing.T, n int) (*quadstore.Store, *quadstore.Transaction) {
	t.Helper()
	store := quadstore.New(memory.New())
	wtxn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	next := rdf.NewNamedNode("http://ex/next")
	for i := 0; i < n; i++ {
		q := rdf.NewQuad(
			rdf.NewNamedNode(fmt.Sprintf("http://ex/n%d", i)),
			next,
			rdf.NewNamedNode(fmt.Sprintf("http://ex/n%d", i+1)),
			rdf.NewDefaultGraph(),
		)
		if _, err := wtxn.Insert(q); err != nil {
			t.Fatal(err)
		}
	}
	if err := wtxn.Commit(); err != nil {
		t.Fatal(err)
	}
	rtxn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	return store, rtxn
}

func TestPathDepthLimitAbortsQuery(t *testing.T) {
	store, txn := chainStore(t, 10)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?e WHERE { <http://ex/n0> <http://ex/next>* ?e }`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Run(q, txn, &Limits{MaxPathDepth: 3})
	if err == nil {
		t.Fatal("a path walk over 11 nodes must abort with MaxPathDepth 3")
	}
	if !qdberr.Is(err, qdberr.ResourceLimit) {
		t.Errorf("error kind = %v, want ResourceLimit", err)
	}
}

func TestPathDepthLimitDefaultAllowsSmallChain(t *testing.T) {
	store, txn := chainStore(t, 10)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?e WHERE { <http://ex/n0> <http://ex/next>* ?e }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 11 {
		t.Errorf("got %d reachable nodes, want 11 (n0 through n10)", len(res.Rows))
	}
}

func TestRegexPatternLengthLimitAbortsQuery(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	pattern := strings.Repeat("a", MaxRegexPatternLen+1)
	q, err := parser.ParseQuery(
		`SELECT ?s WHERE { ?s <http://ex/age> ?age . FILTER(REGEX(STR(?age), "` + pattern + `")) }`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Run(q, txn, nil)
	if err == nil {
		t.Fatal("an oversized REGEX pattern must abort the query, not filter to empty")
	}
	if !qdberr.Is(err, qdberr.ResourceLimit) {
		t.Errorf("error kind = %v, want ResourceLimit", err)
	}
}

func TestOrderByMaterializeLimitAbortsQuery(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?s WHERE { ?s <http://ex/age> ?age } ORDER BY ?age`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Run(q, txn, &Limits{MaxOrderByMaterialize: 2})
	if err == nil {
		t.Fatal("materializing 3 solutions under a 2-row ORDER BY cap must abort")
	}
	if !qdberr.Is(err, qdberr.ResourceLimit) {
		t.Errorf("error kind = %v, want ResourceLimit", err)
	}
}

func TestOrderByUnderLimitSucceeds(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?s WHERE { ?s <http://ex/age> ?age } ORDER BY ?age`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, &Limits{MaxOrderByMaterialize: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 3 {
		t.Errorf("got %d rows, want 3", len(res.Rows))
	}
}
