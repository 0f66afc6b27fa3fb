package algebra

import (
	"testing"

	"github.com/relique/qdb/pkg/rdf"
)

func iri(s string) Term  { return Bound(rdf.NewNamedNode(s)) }
func v(name string) Term { return Variable(Var(name)) }

func TestReorderBySelectivity_BoundSubjectFirst(t *testing.T) {
	triples := []TriplePattern{
		{Subject: v("s"), Predicate: iri("http://ex/p"), Object: v("o")},
		{Subject: iri("http://ex/a"), Predicate: v("p"), Object: v("o")},
	}
	ordered := reorderBySelectivity(triples)
	if !ordered[0].Subject.Bound.Equals(rdf.NewNamedNode("http://ex/a")) {
		t.Fatalf("expected the bound-subject pattern first, got %+v", ordered[0])
	}
}

func TestOptimize_BGPReorderedInsideJoin(t *testing.T) {
	pat := BGP{Triples: []TriplePattern{
		{Subject: v("s"), Predicate: v("p"), Object: v("o")},
		{Subject: iri("http://ex/a"), Predicate: iri("http://ex/p"), Object: v("o")},
	}}
	opt := Optimize(pat).(BGP)
	if !opt.Triples[0].Subject.Bound.Equals(rdf.NewNamedNode("http://ex/a")) {
		t.Fatalf("expected most selective triple first, got %+v", opt.Triples[0])
	}
}

func TestOptimize_ConstantFoldsArithmetic(t *testing.T) {
	expr := BinaryExpr{
		Op:    OpAdd,
		Left:  LiteralExpr{Term: rdf.NewIntegerLiteral(2)},
		Right: LiteralExpr{Term: rdf.NewIntegerLiteral(3)},
	}
	pat := FilterPattern{Inner: BGP{}, Expr: expr}
	opt := Optimize(pat).(FilterPattern)
	lit, ok := opt.Expr.(LiteralExpr)
	if !ok {
		t.Fatalf("expected folded literal, got %T", opt.Expr)
	}
	l, ok := lit.Term.(*rdf.Literal)
	if !ok || l.Value != "5" || l.Datatype.IRI != rdf.XSDInteger.IRI {
		t.Fatalf("expected xsd:integer 5, got %+v", lit.Term)
	}
}

func TestOptimize_ShortCircuitsFalseAnd(t *testing.T) {
	expr := BinaryExpr{
		Op:    OpAnd,
		Left:  LiteralExpr{Term: rdf.NewBooleanLiteral(false)},
		Right: CallExpr{Func: "UNBOUND_FUNC", Args: nil}, // would error if evaluated
	}
	folded := foldConstants(expr)
	lit, ok := folded.(LiteralExpr)
	if !ok {
		t.Fatalf("expected short-circuit fold, got %T", folded)
	}
	l := lit.Term.(*rdf.Literal)
	if l.Value != "false" {
		t.Fatalf("expected false, got %v", l.Value)
	}
}

func TestOptimize_DecomposesAndPushesFilterIntoJoinSide(t *testing.T) {
	left := BGP{Triples: []TriplePattern{{Subject: v("s"), Predicate: iri("http://ex/name"), Object: v("n")}}}
	right := BGP{Triples: []TriplePattern{{Subject: v("s"), Predicate: iri("http://ex/age"), Object: v("a")}}}
	join := Join{Left: left, Right: right}

	filterExpr := BinaryExpr{
		Op:    OpAnd,
		Left:  BinaryExpr{Op: OpGt, Left: VarExpr{Var: "n"}, Right: LiteralExpr{Term: rdf.NewIntegerLiteral(0)}},
		Right: BinaryExpr{Op: OpGt, Left: VarExpr{Var: "a"}, Right: LiteralExpr{Term: rdf.NewIntegerLiteral(18)}},
	}
	pat := FilterPattern{Inner: join, Expr: filterExpr}
	opt := Optimize(pat)

	optJoin, ok := opt.(Join)
	if !ok {
		t.Fatalf("expected both conjuncts pushed down leaving a bare Join, got %T", opt)
	}
	if _, ok := optJoin.Left.(FilterPattern); !ok {
		t.Errorf("expected left side wrapped in a pushed-down filter, got %T", optJoin.Left)
	}
	if _, ok := optJoin.Right.(FilterPattern); !ok {
		t.Errorf("expected right side wrapped in a pushed-down filter, got %T", optJoin.Right)
	}
}

func TestOptimize_DoesNotPushFilterIntoOptionalSide(t *testing.T) {
	left := BGP{Triples: []TriplePattern{{Subject: v("s"), Predicate: iri("http://ex/name"), Object: v("n")}}}
	right := BGP{Triples: []TriplePattern{{Subject: v("s"), Predicate: iri("http://ex/age"), Object: v("a")}}}
	lj := LeftJoin{Left: left, Right: right}

	filterExpr := BinaryExpr{Op: OpGt, Left: VarExpr{Var: "a"}, Right: LiteralExpr{Term: rdf.NewIntegerLiteral(18)}}
	pat := FilterPattern{Inner: lj, Expr: filterExpr}
	opt := Optimize(pat)

	if _, ok := opt.(FilterPattern); !ok {
		t.Fatalf("filter referencing the OPTIONAL-only variable must stay outside the LeftJoin, got %T", opt)
	}
}

func TestOptimize_ExtractsCommonSubtreeUnderUnion(t *testing.T) {
	shared := BGP{Triples: []TriplePattern{{Subject: v("s"), Predicate: iri("http://ex/type"), Object: v("t")}}}
	a := BGP{Triples: []TriplePattern{{Subject: v("s"), Predicate: iri("http://ex/a"), Object: v("x")}}}
	b := BGP{Triples: []TriplePattern{{Subject: v("s"), Predicate: iri("http://ex/b"), Object: v("x")}}}
	u := Union{Left: Join{Left: shared, Right: a}, Right: Join{Left: shared, Right: b}}

	opt := Optimize(u)
	j, ok := opt.(Join)
	if !ok {
		t.Fatalf("expected the shared BGP lifted out of the union into a Join, got %T", opt)
	}
	if _, ok := j.Left.(BGP); !ok {
		t.Errorf("expected shared subtree on the left, got %T", j.Left)
	}
	if _, ok := j.Right.(Union); !ok {
		t.Errorf("expected the differing arms left under a Union, got %T", j.Right)
	}
}
