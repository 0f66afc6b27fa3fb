package exec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/parser"
	"github.com/relique/qdb/pkg/storage/memory"
)

func TestCollationKey_NumericOrderingMatchesValueOrder(t *testing.T) {
	lits := []*rdf.Literal{
		rdf.NewIntegerLiteral(-5),
		rdf.NewIntegerLiteral(0),
		rdf.NewIntegerLiteral(5),
		rdf.NewIntegerLiteral(100),
	}
	var keys [][]byte
	for _, l := range lits {
		keys = append(keys, collationKey(l))
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			t.Errorf("collation key for %s must sort before %s", lits[i-1], lits[i])
		}
	}
}

func TestCollationKey_KindsAreOrderedBlankThenIRIThenLiteral(t *testing.T) {
	bn := collationKey(rdf.NewBlankNode("x"))
	iri := collationKey(rdf.NewNamedNode("http://ex/x"))
	lit := collationKey(rdf.NewLiteral("x"))
	if bytes.Compare(bn, iri) >= 0 {
		t.Error("a blank node must sort before a named node")
	}
	if bytes.Compare(iri, lit) >= 0 {
		t.Error("a named node must sort before a plain literal")
	}
}

func TestCollationKey_EmbeddedNulByteDoesNotCorruptOrdering(t *testing.T) {
	a := rdf.NewLiteral("abc")
	b := rdf.NewLiteral("abc\x00z")
	ka, kb := collationKey(a), collationKey(b)
	if bytes.Compare(ka, kb) >= 0 {
		t.Error("a length-prefixed string without a trailing byte must sort before one with an embedded NUL and more data")
	}
	if bytes.Equal(ka, kb) {
		t.Error("distinct lexical forms must not collide under length-prefixed collation")
	}
}

func TestCollationKey_DeterministicAndSelfEqual(t *testing.T) {
	a := collationKey(rdf.NewLiteralWithLanguage("chat", "fr"))
	b := collationKey(rdf.NewLiteralWithLanguage("chat", "fr"))
	if !bytes.Equal(a, b) {
		t.Error("collationKey must be deterministic for equal terms")
	}
}

// setupStore builds an in-memory store seeded with a small social-graph dataset
// and returns a read-only transaction over it.
func setupStore(t *testing.T) (*quadstore.Store, *quadstore.Transaction) {
	t.Helper()
	store := quadstore.New(memory.New())
	wtxn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	data := []*rdf.Quad{
		rdf.NewQuad(rdf.NewNamedNode("http://ex/alice"), rdf.NewNamedNode("http://ex/knows"), rdf.NewNamedNode("http://ex/bob"), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/bob"), rdf.NewNamedNode("http://ex/knows"), rdf.NewNamedNode("http://ex/carol"), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/alice"), rdf.NewNamedNode("http://ex/age"), rdf.NewIntegerLiteral(30), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/bob"), rdf.NewNamedNode("http://ex/age"), rdf.NewIntegerLiteral(25), rdf.NewDefaultGraph()),
		rdf.NewQuad(rdf.NewNamedNode("http://ex/carol"), rdf.NewNamedNode("http://ex/age"), rdf.NewIntegerLiteral(40), rdf.NewDefaultGraph()),
	}
	for _, q := range data {
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

func TestRun_SelectWithOrderBy(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?s ?age WHERE { ?s <http://ex/age> ?age } ORDER BY ?age`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(res.Rows))
	}
	var ages []string
	for _, row := range res.Rows {
		ages = append(ages, row["age"].(*rdf.Literal).Value)
	}
	want := []string{"25", "30", "40"}
	for i := range want {
		if ages[i] != want[i] {
			t.Errorf("row %d age = %s, want %s (ORDER BY ?age order)", i, ages[i], want[i])
		}
	}
}

func TestRun_Ask(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`ASK WHERE { <http://ex/alice> <http://ex/knows> <http://ex/bob> }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Boolean {
		t.Error("expected ASK to report true for a present triple")
	}

	q2, err := parser.ParseQuery(`ASK WHERE { <http://ex/alice> <http://ex/knows> <http://ex/carol> }`)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := Run(q2, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Boolean {
		t.Error("expected ASK to report false for an absent triple")
	}
}

func TestRun_OptionalLeavesUnmatchedVarUnbound(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?s ?friend WHERE { ?s <http://ex/age> ?age . OPTIONAL { ?s <http://ex/knows> ?friend } }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("got %d rows, want 3 (one per person)", len(res.Rows))
	}
	foundUnbound := false
	for _, row := range res.Rows {
		if _, ok := row["friend"]; !ok {
			foundUnbound = true
		}
	}
	if !foundUnbound {
		t.Error("carol has no outgoing knows edge, so one row must leave ?friend unbound")
	}
}

func TestRun_PropertyPathTransitiveClosure(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?x WHERE { <http://ex/alice> <http://ex/knows>+ ?x }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2 (bob directly, carol transitively)", len(res.Rows))
	}
}

func TestRun_GroupByCountAggregate(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT (COUNT(?s) AS ?n) WHERE { ?s <http://ex/age> ?age }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	n := res.Rows[0]["n"].(*rdf.Literal)
	if n.Value != "3" {
		t.Errorf("COUNT(?s) = %s, want 3", n.Value)
	}
}

func TestRun_FilterExcludesNonMatching(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?s WHERE { ?s <http://ex/age> ?age . FILTER(?age > 28) }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2 (alice 30, carol 40)", len(res.Rows))
	}
}

func TestRun_SumOfIntegersStaysInteger(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT (SUM(?age) AS ?total) WHERE { ?s <http://ex/age> ?age }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	total := res.Rows[0]["total"].(*rdf.Literal)
	if total.Datatype.IRI != rdf.XSDInteger.IRI {
		t.Errorf("SUM of xsd:integer operands datatype = %s, want xsd:integer", total.Datatype.IRI)
	}
	if total.Value != "95" {
		t.Errorf("SUM(?age) = %s, want 95 (30+25+40)", total.Value)
	}
}

func TestRun_AvgOfIntegersYieldsDecimal(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT (AVG(?age) AS ?mean) WHERE { ?s <http://ex/age> ?age }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	mean := res.Rows[0]["mean"].(*rdf.Literal)
	if mean.Datatype.IRI != rdf.XSDDecimal.IRI {
		t.Errorf("AVG of xsd:integer operands datatype = %s, want xsd:decimal (op:numeric-divide always promotes)", mean.Datatype.IRI)
	}
}

func TestRun_ConstructBuildsNewTriples(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`CONSTRUCT { ?s <http://ex/hasAge> ?age } WHERE { ?s <http://ex/age> ?age }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Triples) != 3 {
		t.Fatalf("got %d triples, want 3", len(res.Triples))
	}
	for _, tr := range res.Triples {
		if tr.Predicate.(*rdf.NamedNode).IRI != "http://ex/hasAge" {
			t.Errorf("predicate = %s, want http://ex/hasAge", tr.Predicate)
		}
	}
}

func TestRun_GroupByHavingFiltersGroups(t *testing.T) {
	store := quadstore.New(memory.New())
	defer store.Close()
	wtxn, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	author := rdf.NewNamedNode("http://ex/author")
	pages := rdf.NewNamedNode("http://ex/pages")
	books := []struct {
		book  string
		who   string
		pages int64
	}{
		{"http://ex/b1", "http://ex/alice", 100},
		{"http://ex/b2", "http://ex/alice", 200},
		{"http://ex/b3", "http://ex/bob", 50},
	}
	for _, b := range books {
		if _, err := wtxn.Insert(rdf.NewQuad(rdf.NewNamedNode(b.book), author, rdf.NewNamedNode(b.who), rdf.NewDefaultGraph())); err != nil {
			t.Fatal(err)
		}
		if _, err := wtxn.Insert(rdf.NewQuad(rdf.NewNamedNode(b.book), pages, rdf.NewIntegerLiteral(b.pages), rdf.NewDefaultGraph())); err != nil {
			t.Fatal(err)
		}
	}
	if err := wtxn.Commit(); err != nil {
		t.Fatal(err)
	}
	txn, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT ?a (AVG(?p) AS ?avg) WHERE { ?b <http://ex/author> ?a . ?b <http://ex/pages> ?p } GROUP BY ?a HAVING (COUNT(?b) > 1)`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1 (only alice has more than one book)", len(res.Rows))
	}
	row := res.Rows[0]
	if a, ok := row["a"].(*rdf.NamedNode); !ok || a.IRI != "http://ex/alice" {
		t.Errorf("?a = %v, want <http://ex/alice>", row["a"])
	}
	avg, ok := row["avg"].(*rdf.Literal)
	if !ok {
		t.Fatalf("?avg = %v, want a literal", row["avg"])
	}
	if avg.Datatype.IRI != rdf.XSDDecimal.IRI {
		t.Errorf("?avg datatype = %s, want xsd:decimal", avg.Datatype.IRI)
	}
	if avg.Value != "150.0" {
		t.Errorf("?avg = %s, want 150.0 (mean of 100 and 200)", avg.Value)
	}
	if _, leaked := row["__having0"]; leaked {
		t.Error("a synthesized HAVING aggregate variable must not survive projection")
	}
}

func TestRun_GroupConcatHonorsSeparator(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	q, err := parser.ParseQuery(`SELECT (GROUP_CONCAT(STR(?age); SEPARATOR=",") AS ?ages) WHERE { ?s <http://ex/age> ?age }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	ages := res.Rows[0]["ages"].(*rdf.Literal).Value
	if !strings.Contains(ages, ",") || strings.Contains(ages, " ") {
		t.Errorf("GROUP_CONCAT = %q, want comma-separated values with no default-space separator", ages)
	}
}

func TestRun_ReducedCollapsesAdjacentDuplicates(t *testing.T) {
	store, txn := setupStore(t)
	defer store.Close()
	defer txn.Rollback()

	// Every person contributes the same constant binding; REDUCED over the
	// unsorted stream must collapse the adjacent duplicates to one row.
	q, err := parser.ParseQuery(`SELECT REDUCED ?p WHERE { ?s <http://ex/age> ?age . BIND(<http://ex/person> AS ?p) }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, txn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Errorf("got %d rows, want 1 (three identical adjacent solutions reduced)", len(res.Rows))
	}
}

func TestRun_ReaderSnapshotIsolation(t *testing.T) {
	store := quadstore.New(memory.New())
	defer store.Close()

	setup, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := setup.Insert(rdf.NewQuad(rdf.NewNamedNode("http://ex/a"), rdf.NewNamedNode("http://ex/p"), rdf.NewNamedNode("http://ex/b"), rdf.NewDefaultGraph())); err != nil {
		t.Fatal(err)
	}
	if err := setup.Commit(); err != nil {
		t.Fatal(err)
	}

	reader, err := store.StartTransaction(false)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Rollback()

	writer, err := store.StartTransaction(true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Insert(rdf.NewQuad(rdf.NewNamedNode("http://ex/c"), rdf.NewNamedNode("http://ex/p"), rdf.NewNamedNode("http://ex/d"), rdf.NewDefaultGraph())); err != nil {
		t.Fatal(err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatal(err)
	}

	q, err := parser.ParseQuery(`SELECT ?s WHERE { ?s <http://ex/p> ?o }`)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(q, reader, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 {
		t.Errorf("reader's snapshot must not see the writer's post-snapshot commit, got %d rows", len(res.Rows))
	}
}
