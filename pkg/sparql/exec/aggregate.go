package exec

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/xsd"
)

// normalizeAggregates recovers correct GROUP BY/aggregate structure from the
// parser's output. The parser wraps each "(agg(...) AS ?v)" select-list
// entry as an Extend over the WHERE pattern before any GROUP BY wrapping is
// applied, so when an explicit GROUP BY is present the whole Extend chain
// ends up nested inside GroupPattern.Inner instead of sitting alongside it,
// and GroupPattern.Aggs is never populated. When GROUP BY is absent but the
// select list still aggregates, there is no GroupPattern node at all. This
// pass peels aggregate-bearing Extend nodes off the pattern spine, converts
// them into AggBinding entries, and synthesizes an implicit whole-result
// GroupPattern for the no-GROUP-BY case.
// NormalizeAggregates is the exported entry point for callers outside this
// package (cmd/qdb's --explain) that need to render the same pattern shape
// Run compiles, ahead of algebra.Optimize.
func NormalizeAggregates(pat algebra.Pattern) algebra.Pattern { return normalizeAggregates(pat) }

func normalizeAggregates(pat algebra.Pattern) algebra.Pattern {
	switch p := pat.(type) {
	case algebra.DistinctPattern:
		return algebra.DistinctPattern{Inner: normalizeAggregates(p.Inner)}
	case algebra.ReducedPattern:
		return algebra.ReducedPattern{Inner: normalizeAggregates(p.Inner)}
	case algebra.ProjectPattern:
		return algebra.ProjectPattern{Inner: normalizeAggregates(p.Inner), Vars: p.Vars}
	case algebra.SlicePattern:
		return algebra.SlicePattern{Inner: normalizeAggregates(p.Inner), Offset: p.Offset, Limit: p.Limit}
	case algebra.OrderByPattern:
		return algebra.OrderByPattern{Inner: normalizeAggregates(p.Inner), Conditions: p.Conditions}
	case algebra.GroupPattern:
		inner, aggs, nonAgg := peelAggregateExtends(p.Inner)
		allAggs := append(append([]algebra.AggBinding{}, p.Aggs...), aggs...)
		having := make([]algebra.Expression, len(p.Having))
		seq := 0
		for i, h := range p.Having {
			having[i] = hoistHavingAggregates(h, &allAggs, &seq)
		}
		return algebra.GroupPattern{
			Inner:  rewrapExtends(inner, nonAgg),
			By:     p.By,
			ByVars: p.ByVars,
			Aggs:   allAggs,
			Having: having,
		}
	case algebra.Extend:
		if isAggCall(p.Expr) {
			inner, aggs, nonAgg := peelAggregateExtends(p)
			return algebra.GroupPattern{Inner: rewrapExtends(inner, nonAgg), Aggs: aggs}
		}
		return algebra.Extend{Inner: normalizeAggregates(p.Inner), Var: p.Var, Expr: p.Expr}
	default:
		return pat
	}
}

func isAggCall(e algebra.Expression) bool {
	call, ok := e.(algebra.CallExpr)
	return ok && strings.HasPrefix(call.Func, "AGG:")
}

// hoistHavingAggregates rewrites a HAVING expression so it can be evaluated
// against a folded group row: every aggregate call inside it is hoisted into
// its own hidden AggBinding (a synthesized variable invisible to the
// projection) and replaced by a VarExpr referencing that binding — the same
// rewrite SELECT-list aggregates get above. Without this, HAVING
// (COUNT(?b) > 1) would reach the plain expression evaluator, which rejects
// aggregate calls outside a fold.
func hoistHavingAggregates(expr algebra.Expression, aggs *[]algebra.AggBinding, seq *int) algebra.Expression {
	switch e := expr.(type) {
	case algebra.UnaryExpr:
		return algebra.UnaryExpr{Op: e.Op, Expr: hoistHavingAggregates(e.Expr, aggs, seq)}
	case algebra.BinaryExpr:
		return algebra.BinaryExpr{
			Op:    e.Op,
			Left:  hoistHavingAggregates(e.Left, aggs, seq),
			Right: hoistHavingAggregates(e.Right, aggs, seq),
		}
	case algebra.IfExpr:
		return algebra.IfExpr{
			Cond: hoistHavingAggregates(e.Cond, aggs, seq),
			Then: hoistHavingAggregates(e.Then, aggs, seq),
			Else: hoistHavingAggregates(e.Else, aggs, seq),
		}
	case algebra.InExpr:
		list := make([]algebra.Expression, len(e.List))
		for i, c := range e.List {
			list[i] = hoistHavingAggregates(c, aggs, seq)
		}
		return algebra.InExpr{Expr: hoistHavingAggregates(e.Expr, aggs, seq), List: list, Negate: e.Negate}
	case algebra.CallExpr:
		if isAggCall(e) {
			v := algebra.Var(fmt.Sprintf("__having%d", *seq))
			*seq++
			*aggs = append(*aggs, algebra.AggBinding{Var: v, Agg: parseAggCall(e)})
			return algebra.VarExpr{Var: v}
		}
		args := make([]algebra.Expression, len(e.Args))
		for i, a := range e.Args {
			args[i] = hoistHavingAggregates(a, aggs, seq)
		}
		return algebra.CallExpr{Func: e.Func, Args: args}
	default:
		return expr
	}
}

// peelAggregateExtends walks down a chain of Extend nodes, splitting
// aggregate-bearing ones into AggBinding entries and keeping the rest to be
// rewrapped around whatever true pattern the chain bottoms out at.
func peelAggregateExtends(pat algebra.Pattern) (inner algebra.Pattern, aggs []algebra.AggBinding, nonAgg []algebra.Extend) {
	for {
		ext, ok := pat.(algebra.Extend)
		if !ok {
			return pat, aggs, nonAgg
		}
		if isAggCall(ext.Expr) {
			aggs = append(aggs, algebra.AggBinding{Var: ext.Var, Agg: parseAggCall(ext.Expr.(algebra.CallExpr))})
			pat = ext.Inner
			continue
		}
		nonAgg = append(nonAgg, ext)
		pat = ext.Inner
	}
}

// rewrapExtends re-applies non-aggregate Extend (BIND) nodes around inner,
// restoring their original relative order (they were peeled outermost
// first, so rewrapping must proceed innermost first).
func rewrapExtends(inner algebra.Pattern, nonAgg []algebra.Extend) algebra.Pattern {
	result := inner
	for i := len(nonAgg) - 1; i >= 0; i-- {
		e := nonAgg[i]
		result = algebra.Extend{Inner: result, Var: e.Var, Expr: e.Expr}
	}
	return result
}

// parseAggCall unpacks the generic CallExpr{Func:"AGG:<kind>", Args:[...]}
// shape the parser produces (see parser/expr.go's aggArgs) back into a
// proper algebra.Aggregate.
func parseAggCall(call algebra.CallExpr) algebra.Aggregate {
	kind := map[string]algebra.AggKind{
		"AGG:COUNT": algebra.AggCount, "AGG:SUM": algebra.AggSum, "AGG:AVG": algebra.AggAvg,
		"AGG:MIN": algebra.AggMin, "AGG:MAX": algebra.AggMax, "AGG:SAMPLE": algebra.AggSample,
		"AGG:GROUP_CONCAT": algebra.AggGroupConcat,
	}[call.Func]
	agg := algebra.Aggregate{Kind: kind}
	if len(call.Args) > 0 {
		if lit, ok := call.Args[0].(algebra.LiteralExpr); !ok || lit.Term != nil {
			agg.Expr = call.Args[0]
		}
	}
	for _, a := range call.Args[1:] {
		switch v := a.(type) {
		case algebra.VarExpr:
			switch v.Var {
			case "__distinct":
				agg.Distinct = true
			case "__wildcard":
				agg.Wildcard = true
			}
		case algebra.LiteralExpr:
			// GROUP_CONCAT's SEPARATOR string rides along as a trailing
			// literal argument (see parser/expr.go's aggArgs).
			if l, ok := v.Term.(*rdf.Literal); ok {
				agg.Separator = l.Value
			}
		}
	}
	return agg
}

// groupKeyOf evaluates a GroupPattern's key expressions for one row,
// returning both the byte key used to bucket rows and the term values to
// expose under ByVars in the group's representative binding.
func groupKeyOf(ev *Evaluator, by []algebra.Expression, b Binding) (string, []rdf.Term) {
	var key strings.Builder
	vals := make([]rdf.Term, len(by))
	for i, e := range by {
		v, err := ev.Eval(e, b)
		if err != nil {
			v = nil
		}
		vals[i] = v
		key.Write(collationKey(v))
	}
	return key.String(), vals
}

// foldGroup computes every aggregate in aggs over rows, returning the
// bindings to merge into the group's representative output row.
func foldGroup(ev *Evaluator, aggs []algebra.AggBinding, rows []Binding) (Binding, error) {
	out := NewBinding()
	for _, ab := range aggs {
		v, err := foldOne(ev, ab.Agg, rows)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[ab.Var] = v
		}
	}
	return out, nil
}

func foldOne(ev *Evaluator, agg algebra.Aggregate, rows []Binding) (rdf.Term, error) {
	switch agg.Kind {
	case algebra.AggCount:
		return foldCount(ev, agg, rows)
	case algebra.AggSum:
		return foldSum(ev, agg, rows)
	case algebra.AggAvg:
		return foldAvg(ev, agg, rows)
	case algebra.AggMin:
		return foldMinMax(ev, agg, rows, true)
	case algebra.AggMax:
		return foldMinMax(ev, agg, rows, false)
	case algebra.AggSample:
		return foldSample(ev, agg, rows)
	case algebra.AggGroupConcat:
		return foldGroupConcat(ev, agg, rows)
	default:
		return nil, qdberr.Evalf("unsupported aggregate kind")
	}
}

func aggValues(ev *Evaluator, agg algebra.Aggregate, rows []Binding) []rdf.Term {
	var vals []rdf.Term
	seen := map[string]bool{}
	for _, r := range rows {
		v, err := ev.Eval(agg.Expr, r)
		if err != nil {
			continue
		}
		if agg.Distinct {
			k := collationKey(v)
			if seen[string(k)] {
				continue
			}
			seen[string(k)] = true
		}
		vals = append(vals, v)
	}
	return vals
}

func foldCount(ev *Evaluator, agg algebra.Aggregate, rows []Binding) (rdf.Term, error) {
	if agg.Wildcard {
		return rdf.NewIntegerLiteral(int64(len(rows))), nil
	}
	return rdf.NewIntegerLiteral(int64(len(aggValues(ev, agg, rows)))), nil
}

// foldSum sums the aggregate's numeric operands, preserving xsd:integer
// when every operand is itself xsd:integer (SPARQL 1.1 op:numeric-add
// keeps the narrowest common type; it does not widen integers to double
// the way the old implementation unconditionally did) and otherwise
// falling back to xsd:double.
func foldSum(ev *Evaluator, agg algebra.Aggregate, rows []Binding) (rdf.Term, error) {
	vals := aggValues(ev, agg, rows)
	if allInteger(vals) {
		var sum int64
		for _, v := range vals {
			n, _ := asFloat64(v)
			sum += int64(n)
		}
		return rdf.NewIntegerLiteral(sum), nil
	}
	var sum float64
	for _, v := range vals {
		if f, err := asFloat64(v); err == nil {
			sum += f
		}
	}
	return rdf.NewDoubleLiteral(formatAggDouble(sum)), nil
}

// foldAvg averages the aggregate's numeric operands. Per SPARQL 1.1's
// op:numeric-divide promotion rules, dividing two xsd:integer values
// always yields xsd:decimal (never xsd:integer, since the mean of whole
// numbers is rarely whole); mixed or floating operands still widen to
// xsd:double as before.
func foldAvg(ev *Evaluator, agg algebra.Aggregate, rows []Binding) (rdf.Term, error) {
	vals := aggValues(ev, agg, rows)
	if len(vals) == 0 {
		return rdf.NewIntegerLiteral(0), nil
	}
	if allInteger(vals) {
		sum := xsd.DecimalFromInt64(0)
		for _, v := range vals {
			n, _ := asFloat64(v)
			sum = sum.Add(xsd.DecimalFromInt64(int64(n)))
		}
		avg, err := sum.Div(xsd.DecimalFromInt64(int64(len(vals))))
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(avg.String(), rdf.XSDDecimal), nil
	}
	floats := make([]float64, 0, len(vals))
	for _, v := range vals {
		if f, err := asFloat64(v); err == nil {
			floats = append(floats, f)
		}
	}
	if len(floats) == 0 {
		return rdf.NewIntegerLiteral(0), nil
	}
	return rdf.NewDoubleLiteral(formatAggDouble(stat.Mean(floats, nil))), nil
}

// allInteger reports whether every value is a non-empty xsd:integer
// literal, the condition under which SUM/AVG keep an integer-derived type
// instead of widening to double.
func allInteger(vals []rdf.Term) bool {
	if len(vals) == 0 {
		return false
	}
	for _, v := range vals {
		l, ok := v.(*rdf.Literal)
		if !ok || l.Datatype == nil || l.Datatype.IRI != rdf.XSDInteger.IRI {
			return false
		}
	}
	return true
}

func foldMinMax(ev *Evaluator, agg algebra.Aggregate, rows []Binding, wantMin bool) (rdf.Term, error) {
	vals := aggValues(ev, agg, rows)
	if len(vals) == 0 {
		return nil, nil
	}
	best := vals[0]
	for _, v := range vals[1:] {
		c, err := compareValues(v, best)
		if err != nil {
			continue
		}
		if (wantMin && c < 0) || (!wantMin && c > 0) {
			best = v
		}
	}
	return best, nil
}

func foldSample(ev *Evaluator, agg algebra.Aggregate, rows []Binding) (rdf.Term, error) {
	for _, r := range rows {
		if v, err := ev.Eval(agg.Expr, r); err == nil {
			return v, nil
		}
	}
	return nil, nil
}

func foldGroupConcat(ev *Evaluator, agg algebra.Aggregate, rows []Binding) (rdf.Term, error) {
	vals := aggValues(ev, agg, rows)
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = stringValue(v)
	}
	sep := agg.Separator
	if sep == "" {
		sep = " "
	}
	return rdf.NewLiteral(strings.Join(parts, sep)), nil
}

func formatAggDouble(f float64) string {
	return xsd.CanonicalDouble(f)
}

// sortGroupKeys returns group keys in a stable order so repeated runs over
// the same data produce repeatable output ordering ahead of any explicit
// ORDER BY.
func sortGroupKeys(keys []string) []string {
	out := append([]string{}, keys...)
	sort.Strings(out)
	return out
}
