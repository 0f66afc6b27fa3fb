package algebra

import (
	"reflect"

	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/xsd"
)

// Optimize rewrites a parsed WHERE-clause pattern into an equivalent but
// cheaper-to-evaluate one. Grounded on the teacher's
// internal/sparql/optimizer/optimizer.go (reorderBySelectivity/
// estimateSelectivity heuristic, filter-pushdown-during-plan-build shape),
// generalized from the teacher's plan-node tree (which builds a brand-new
// QueryPlan type) into a rewrite over this package's own Pattern tree so
// the executor's Build keeps walking the same node types it already knows.
// Every pass here is semantics-preserving per spec.md §4.5: it never
// changes visible variable bindings, ORDER BY semantics, or the
// DISTINCT/REDUCED distinction.
func Optimize(p Pattern) Pattern {
	return optimizePattern(p)
}

func optimizePattern(p Pattern) Pattern {
	switch n := p.(type) {
	case BGP:
		return BGP{Triples: reorderBySelectivity(n.Triples)}
	case Join:
		return Join{Left: optimizePattern(n.Left), Right: optimizePattern(n.Right)}
	case LeftJoin:
		return LeftJoin{
			Left:   optimizePattern(n.Left),
			Right:  optimizePattern(n.Right),
			Filter: foldConstants(n.Filter),
		}
	case Union:
		return extractCommonSubtree(Union{Left: optimizePattern(n.Left), Right: optimizePattern(n.Right)})
	case Minus:
		return Minus{Left: optimizePattern(n.Left), Right: optimizePattern(n.Right)}
	case GraphPattern:
		return GraphPattern{Graph: n.Graph, Inner: optimizePattern(n.Inner)}
	case FilterPattern:
		return pushDownFilters(optimizePattern(n.Inner), foldConstants(n.Expr))
	case Extend:
		return Extend{Inner: optimizePattern(n.Inner), Var: n.Var, Expr: foldConstants(n.Expr)}
	case ValuesPattern:
		return n
	case ServicePattern:
		return ServicePattern{Endpoint: n.Endpoint, Inner: optimizePattern(n.Inner), Silent: n.Silent}
	case GroupPattern:
		aggs := make([]AggBinding, len(n.Aggs))
		for i, a := range n.Aggs {
			aggs[i] = AggBinding{Var: a.Var, Agg: Aggregate{Kind: a.Agg.Kind, Expr: foldConstants(a.Agg.Expr), Distinct: a.Agg.Distinct, Wildcard: a.Agg.Wildcard, Separator: a.Agg.Separator}}
		}
		by := make([]Expression, len(n.By))
		for i, e := range n.By {
			by[i] = foldConstants(e)
		}
		having := make([]Expression, len(n.Having))
		for i, e := range n.Having {
			having[i] = foldConstants(e)
		}
		return GroupPattern{Inner: optimizePattern(n.Inner), By: by, ByVars: n.ByVars, Aggs: aggs, Having: having}
	case OrderByPattern:
		conds := make([]OrderCondition, len(n.Conditions))
		for i, c := range n.Conditions {
			conds[i] = OrderCondition{Expr: foldConstants(c.Expr), Descending: c.Descending}
		}
		return OrderByPattern{Inner: optimizePattern(n.Inner), Conditions: conds}
	case ProjectPattern:
		return ProjectPattern{Inner: optimizePattern(n.Inner), Vars: n.Vars}
	case DistinctPattern:
		return DistinctPattern{Inner: optimizePattern(n.Inner)}
	case ReducedPattern:
		return ReducedPattern{Inner: optimizePattern(n.Inner)}
	case SlicePattern:
		return SlicePattern{Inner: optimizePattern(n.Inner), Offset: n.Offset, Limit: n.Limit}
	default:
		return p
	}
}

// reorderBySelectivity sorts a BGP's triple patterns so the most selective
// ones (more bound positions) run first, the same greedy heuristic as the
// teacher's Optimizer.reorderBySelectivity/estimateSelectivity: a bound
// subject is the strongest signal, predicate and object each weaker but
// still selective, and named-graph-scoped patterns (handled one BGP at a
// time by the caller) aren't distinguished further here. Reordering a BGP's
// triple list changes only nested-loop evaluation order, never the
// solution set, since join order within one conjunctive BGP is commutative.
func reorderBySelectivity(triples []TriplePattern) []TriplePattern {
	if len(triples) < 2 {
		return triples
	}
	ordered := append([]TriplePattern(nil), triples...)
	for i := 0; i < len(ordered); i++ {
		best := i
		for j := i + 1; j < len(ordered); j++ {
			if estimateSelectivity(ordered[j]) < estimateSelectivity(ordered[best]) {
				best = j
			}
		}
		ordered[i], ordered[best] = ordered[best], ordered[i]
	}
	return ordered
}

// estimateSelectivity scores a triple pattern; lower means fewer expected
// matches, i.e. evaluate it earlier. Mirrors the teacher's weights exactly
// (subject 0.01, predicate/object 0.1 each).
func estimateSelectivity(tp TriplePattern) float64 {
	selectivity := 1.0
	if !tp.Subject.IsVar() {
		selectivity *= 0.01
	}
	if tp.Path == nil && !tp.Predicate.IsVar() {
		selectivity *= 0.1
	} else if tp.Path != nil {
		// A fixed path is still more selective than an unconstrained
		// predicate variable, but BFS expansion costs more than an index
		// hit on a literal predicate.
		selectivity *= 0.5
	}
	if !tp.Object.IsVar() {
		selectivity *= 0.1
	}
	return selectivity
}

// pushDownFilters decomposes a conjunctive (&&) filter expression into its
// conjuncts per spec.md §4.5 ("decomposition of && into separate filters
// before pushdown") and pushes each conjunct as far down inner as it can
// go without crossing a boundary that would change its meaning.
func pushDownFilters(inner Pattern, expr Expression) Pattern {
	result := inner
	for _, conjunct := range splitConjunction(expr) {
		result = pushFilter(result, conjunct)
	}
	return result
}

// splitConjunction flattens nested && into a flat conjunct list; anything
// that isn't itself a top-level && is returned as a single-element list.
func splitConjunction(expr Expression) []Expression {
	if expr == nil {
		return nil
	}
	if b, ok := expr.(BinaryExpr); ok && b.Op == OpAnd {
		return append(splitConjunction(b.Left), splitConjunction(b.Right)...)
	}
	return []Expression{expr}
}

// pushFilter attaches expr as low in pattern as is safe: into whichever
// side of a Join is self-sufficient for expr's variables, into the
// guaranteed-bound left side of a LeftJoin (never the optional right side,
// which would change OPTIONAL semantics), and straight through a GRAPH
// wrapper (it doesn't change variable scope). Anything else gets expr
// re-wrapped as a FilterPattern at that node, same as not pushing at all.
func pushFilter(pattern Pattern, expr Expression) Pattern {
	need := exprVars(expr)
	switch p := pattern.(type) {
	case Join:
		lv := requiredVars(p.Left)
		if subsetOf(need, lv) {
			return Join{Left: pushFilter(p.Left, expr), Right: p.Right}
		}
		rv := requiredVars(p.Right)
		if subsetOf(need, rv) {
			return Join{Left: p.Left, Right: pushFilter(p.Right, expr)}
		}
		return FilterPattern{Inner: p, Expr: expr}
	case LeftJoin:
		lv := requiredVars(p.Left)
		if subsetOf(need, lv) {
			return LeftJoin{Left: pushFilter(p.Left, expr), Right: p.Right, Filter: p.Filter}
		}
		return FilterPattern{Inner: p, Expr: expr}
	case GraphPattern:
		return GraphPattern{Graph: p.Graph, Inner: pushFilter(p.Inner, expr)}
	default:
		return FilterPattern{Inner: pattern, Expr: expr}
	}
}

func subsetOf(need, have map[Var]bool) bool {
	for v := range need {
		if !have[v] {
			return false
		}
	}
	return true
}

// requiredVars returns a conservative (possibly incomplete, never
// excessive) set of variables guaranteed bound whenever pattern matches.
// Under-approximating only forgoes some pushdown opportunities; over-
// approximating would risk pushing a filter into a branch where its
// variable is actually unbound, silently dropping valid solutions.
func requiredVars(pattern Pattern) map[Var]bool {
	out := map[Var]bool{}
	switch p := pattern.(type) {
	case BGP:
		for _, tp := range p.Triples {
			addTermVar(out, tp.Subject)
			if tp.Path == nil {
				addTermVar(out, tp.Predicate)
			}
			addTermVar(out, tp.Object)
		}
	case Join:
		for v := range requiredVars(p.Left) {
			out[v] = true
		}
		for v := range requiredVars(p.Right) {
			out[v] = true
		}
	case LeftJoin:
		out = requiredVars(p.Left)
	case Union:
		l, r := requiredVars(p.Left), requiredVars(p.Right)
		for v := range l {
			if r[v] {
				out[v] = true
			}
		}
	case Minus:
		out = requiredVars(p.Left)
	case GraphPattern:
		out = requiredVars(p.Inner)
		addTermVar(out, p.Graph)
	case FilterPattern:
		out = requiredVars(p.Inner)
	case Extend:
		out = requiredVars(p.Inner)
		out[p.Var] = true
	case ValuesPattern:
		for _, v := range p.Vars {
			out[v] = true
		}
	case ServicePattern:
		out = requiredVars(p.Inner)
	case GroupPattern:
		for _, v := range p.ByVars {
			out[v] = true
		}
		for _, a := range p.Aggs {
			out[a.Var] = true
		}
	case OrderByPattern:
		out = requiredVars(p.Inner)
	case ProjectPattern:
		out = requiredVars(p.Inner)
	case DistinctPattern:
		out = requiredVars(p.Inner)
	case ReducedPattern:
		out = requiredVars(p.Inner)
	case SlicePattern:
		out = requiredVars(p.Inner)
	}
	return out
}

func addTermVar(out map[Var]bool, t Term) {
	if t.IsVar() {
		out[t.Var] = true
	}
}

// exprVars collects every variable an expression reads.
func exprVars(expr Expression) map[Var]bool {
	out := map[Var]bool{}
	collectExprVars(expr, out)
	return out
}

func collectExprVars(expr Expression, out map[Var]bool) {
	switch e := expr.(type) {
	case nil:
	case VarExpr:
		out[e.Var] = true
	case BoundExpr:
		out[e.Var] = true
	case LiteralExpr:
	case UnaryExpr:
		collectExprVars(e.Expr, out)
	case BinaryExpr:
		collectExprVars(e.Left, out)
		collectExprVars(e.Right, out)
	case CallExpr:
		for _, a := range e.Args {
			collectExprVars(a, out)
		}
	case ExistsExpr:
		for v := range requiredVars(e.Pattern) {
			out[v] = true
		}
	case IfExpr:
		collectExprVars(e.Cond, out)
		collectExprVars(e.Then, out)
		collectExprVars(e.Else, out)
	case InExpr:
		collectExprVars(e.Expr, out)
		for _, a := range e.List {
			collectExprVars(a, out)
		}
	}
}

// extractCommonSubtree lifts a Join operand shared by both sides of a
// UNION out of the union, per spec.md §4.5 ("extraction of common
// subtrees under UNION when safe"): Union{Join{X,A}, Join{X,B}} becomes
// Join{X, Union{A,B}}, saving one evaluation of X. Only applied when X is
// byte-for-byte the same pattern on both sides (reflect.DeepEqual over the
// plain-value algebra tree), which is the "safe" condition: anything less
// than structural identity could change which bindings of X pair with
// which side.
func extractCommonSubtree(u Union) Pattern {
	lj, lok := u.Left.(Join)
	rj, rok := u.Right.(Join)
	if !lok || !rok {
		return u
	}
	if reflect.DeepEqual(lj.Left, rj.Left) {
		return Join{Left: lj.Left, Right: Union{Left: lj.Right, Right: rj.Right}}
	}
	if reflect.DeepEqual(lj.Right, rj.Right) {
		return Join{Left: Union{Left: lj.Left, Right: rj.Left}, Right: lj.Right}
	}
	return u
}

// foldConstants evaluates the parts of an expression tree that don't
// depend on any variable or store lookup: literal arithmetic, literal
// comparisons, and the SPARQL three-valued-logic short circuits for &&/||
// (a false/true literal operand determines the result regardless of
// whether the other operand would itself error, per the SPARQL Filter
// Evaluation EBV rules — this is why "false && anything" folds even when
// "anything" isn't itself a literal). Anything it can't evaluate purely is
// returned unchanged.
func foldConstants(expr Expression) Expression {
	switch e := expr.(type) {
	case nil:
		return nil
	case UnaryExpr:
		inner := foldConstants(e.Expr)
		if lit, ok := literalOf(inner); ok {
			if folded, ok := foldUnary(e.Op, lit); ok {
				return LiteralExpr{Term: folded}
			}
		}
		return UnaryExpr{Op: e.Op, Expr: inner}
	case BinaryExpr:
		left := foldConstants(e.Left)
		right := foldConstants(e.Right)
		if e.Op == OpAnd || e.Op == OpOr {
			if lit, ok := literalOf(left); ok {
				if b, ok := lit.(*rdf.Literal); ok && b.Datatype != nil && b.Datatype.IRI == rdf.XSDBoolean.IRI {
					if (e.Op == OpAnd && b.Value == "false") || (e.Op == OpOr && b.Value == "true") {
						return LiteralExpr{Term: b}
					}
				}
			}
			if lit, ok := literalOf(right); ok {
				if b, ok := lit.(*rdf.Literal); ok && b.Datatype != nil && b.Datatype.IRI == rdf.XSDBoolean.IRI {
					if (e.Op == OpAnd && b.Value == "false") || (e.Op == OpOr && b.Value == "true") {
						return LiteralExpr{Term: b}
					}
				}
			}
		}
		ll, lok := literalOf(left)
		rl, rok := literalOf(right)
		if lok && rok {
			if folded, ok := foldBinary(e.Op, ll, rl); ok {
				return LiteralExpr{Term: folded}
			}
		}
		return BinaryExpr{Op: e.Op, Left: left, Right: right}
	case CallExpr:
		args := make([]Expression, len(e.Args))
		for i, a := range e.Args {
			args[i] = foldConstants(a)
		}
		return CallExpr{Func: e.Func, Args: args}
	case ExistsExpr:
		return ExistsExpr{Pattern: optimizePattern(e.Pattern), Negate: e.Negate}
	case IfExpr:
		return IfExpr{Cond: foldConstants(e.Cond), Then: foldConstants(e.Then), Else: foldConstants(e.Else)}
	case InExpr:
		list := make([]Expression, len(e.List))
		for i, a := range e.List {
			list[i] = foldConstants(a)
		}
		return InExpr{Expr: foldConstants(e.Expr), List: list, Negate: e.Negate}
	default:
		return expr
	}
}

func literalOf(expr Expression) (rdf.Term, bool) {
	if l, ok := expr.(LiteralExpr); ok {
		return l.Term, true
	}
	return nil, false
}

func foldUnary(op UnaryOp, v rdf.Term) (rdf.Term, bool) {
	lit, ok := v.(*rdf.Literal)
	if !ok || lit.Datatype == nil {
		return nil, false
	}
	switch op {
	case OpNot:
		if lit.Datatype.IRI != rdf.XSDBoolean.IRI {
			return nil, false
		}
		b, err := xsd.ParseBoolean(lit.Value)
		if err != nil {
			return nil, false
		}
		return rdf.NewBooleanLiteral(!b), true
	case OpNeg, OpPlus:
		f, kind, ok := numericFloat(lit)
		if !ok {
			return nil, false
		}
		if op == OpPlus {
			return v, true
		}
		return numericLiteral(-f, kind), true
	}
	return nil, false
}

func foldBinary(op BinaryOp, a, b rdf.Term) (rdf.Term, bool) {
	switch op {
	case OpAnd, OpOr:
		al, aok := a.(*rdf.Literal)
		bl, bok := b.(*rdf.Literal)
		if !aok || !bok || al.Datatype == nil || bl.Datatype == nil ||
			al.Datatype.IRI != rdf.XSDBoolean.IRI || bl.Datatype.IRI != rdf.XSDBoolean.IRI {
			return nil, false
		}
		av, err1 := xsd.ParseBoolean(al.Value)
		bv, err2 := xsd.ParseBoolean(bl.Value)
		if err1 != nil || err2 != nil {
			return nil, false
		}
		if op == OpAnd {
			return rdf.NewBooleanLiteral(av && bv), true
		}
		return rdf.NewBooleanLiteral(av || bv), true
	case OpEq, OpNeq:
		al, aok := a.(*rdf.Literal)
		bl, bok := b.(*rdf.Literal)
		if aok && bok {
			if fa, _, ok1 := numericFloat(al); ok1 {
				if fb, _, ok2 := numericFloat(bl); ok2 {
					eq := fa == fb
					if op == OpNeq {
						eq = !eq
					}
					return rdf.NewBooleanLiteral(eq), true
				}
			}
		}
		eq := a.Equals(b)
		if op == OpNeq {
			eq = !eq
		}
		return rdf.NewBooleanLiteral(eq), true
	case OpLt, OpLe, OpGt, OpGe:
		al, aok := a.(*rdf.Literal)
		bl, bok := b.(*rdf.Literal)
		if !aok || !bok {
			return nil, false
		}
		fa, _, ok1 := numericFloat(al)
		fb, _, ok2 := numericFloat(bl)
		if !ok1 || !ok2 {
			return nil, false
		}
		var r bool
		switch op {
		case OpLt:
			r = fa < fb
		case OpLe:
			r = fa <= fb
		case OpGt:
			r = fa > fb
		case OpGe:
			r = fa >= fb
		}
		return rdf.NewBooleanLiteral(r), true
	case OpAdd, OpSub, OpMul, OpDiv:
		al, aok := a.(*rdf.Literal)
		bl, bok := b.(*rdf.Literal)
		if !aok || !bok {
			return nil, false
		}
		fa, ka, ok1 := numericFloat(al)
		fb, kb, ok2 := numericFloat(bl)
		if !ok1 || !ok2 {
			return nil, false
		}
		var result float64
		switch op {
		case OpAdd:
			result = fa + fb
		case OpSub:
			result = fa - fb
		case OpMul:
			result = fa * fb
		case OpDiv:
			if fb == 0 {
				return nil, false
			}
			if ka == xsd.KindInteger && kb == xsd.KindInteger {
				q, err := xsd.DecimalFromInt64(int64(fa)).Div(xsd.DecimalFromInt64(int64(fb)))
				if err != nil {
					return nil, false
				}
				return rdf.NewLiteralWithDatatype(q.String(), rdf.XSDDecimal), true
			}
			result = fa / fb
		}
		kind := ka
		if kb > kind {
			kind = kb
		}
		return numericLiteral(result, kind), true
	}
	return nil, false
}

// numericFloat extracts a literal's value as float64 plus its numeric
// kind, for the limited set of datatypes constant folding understands
// (integer and double; decimal/float literals are left unfolded since
// folding them to the wrong scale would be a correctness regression, not
// an optimization).
func numericFloat(lit *rdf.Literal) (float64, xsd.NumericKind, bool) {
	if lit.Datatype == nil {
		return 0, 0, false
	}
	switch lit.Datatype.IRI {
	case rdf.XSDInteger.IRI:
		v, err := xsd.ParseInteger(lit.Value)
		if err != nil {
			return 0, 0, false
		}
		return float64(v), xsd.KindInteger, true
	case rdf.XSDDouble.IRI:
		v, err := xsd.ParseDouble(lit.Value)
		if err != nil {
			return 0, 0, false
		}
		return v, xsd.KindDouble, true
	}
	return 0, 0, false
}

func numericLiteral(f float64, kind xsd.NumericKind) rdf.Term {
	if kind == xsd.KindInteger && f == float64(int64(f)) {
		return rdf.NewIntegerLiteral(int64(f))
	}
	return rdf.NewDoubleLiteral(xsd.CanonicalDouble(f))
}
