package main

import (
	"fmt"
	"strings"

	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/sparql/algebra"
	"github.com/relique/qdb/pkg/sparql/exec"
)

// explainPlan renders the optimized algebra pattern tree for --explain: the
// same algebra.Optimize(normalizeAggregates(...)) pass Run applies, so this
// is exactly what Run will execute, post filter-pushdown/BGP-reordering/
// constant-folding/common-subtree-extraction, not the raw parse tree.
// --stats additionally runs each leaf BGP/path pattern against txn to
// report its live cardinality.
func explainPlan(q *algebra.Query, stats bool, txn *quadstore.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Form: %s\n", formName(q.Form))
	pat := algebra.Optimize(exec.NormalizeAggregates(q.Pattern))
	dumpPattern(&b, pat, 0, stats, txn)
	return b.String()
}

func formName(f algebra.QueryForm) string {
	switch f {
	case algebra.FormSelect:
		return "SELECT"
	case algebra.FormConstruct:
		return "CONSTRUCT"
	case algebra.FormAsk:
		return "ASK"
	case algebra.FormDescribe:
		return "DESCRIBE"
	default:
		return "?"
	}
}

func indent(b *strings.Builder, depth int, line string) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(line)
	b.WriteByte('\n')
}

func dumpPattern(b *strings.Builder, p algebra.Pattern, depth int, stats bool, txn *quadstore.Transaction) {
	switch n := p.(type) {
	case algebra.BGP:
		indent(b, depth, fmt.Sprintf("BGP (%d triples)%s", len(n.Triples), cardinality(stats, n, txn)))
		for _, tp := range n.Triples {
			indent(b, depth+1, describeTriple(tp))
		}
	case algebra.Join:
		indent(b, depth, "Join")
		dumpPattern(b, n.Left, depth+1, stats, txn)
		dumpPattern(b, n.Right, depth+1, stats, txn)
	case algebra.LeftJoin:
		indent(b, depth, "LeftJoin (OPTIONAL)")
		dumpPattern(b, n.Left, depth+1, stats, txn)
		dumpPattern(b, n.Right, depth+1, stats, txn)
	case algebra.Union:
		indent(b, depth, "Union")
		dumpPattern(b, n.Left, depth+1, stats, txn)
		dumpPattern(b, n.Right, depth+1, stats, txn)
	case algebra.Minus:
		indent(b, depth, "Minus")
		dumpPattern(b, n.Left, depth+1, stats, txn)
		dumpPattern(b, n.Right, depth+1, stats, txn)
	case algebra.GraphPattern:
		indent(b, depth, fmt.Sprintf("Graph %s", describeTerm(n.Graph)))
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.FilterPattern:
		indent(b, depth, "Filter")
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.Extend:
		indent(b, depth, fmt.Sprintf("Extend ?%s", n.Var))
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.ValuesPattern:
		indent(b, depth, fmt.Sprintf("Values (%d rows)", len(n.Rows)))
	case algebra.ServicePattern:
		indent(b, depth, fmt.Sprintf("Service %s", describeTerm(n.Endpoint)))
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.GroupPattern:
		indent(b, depth, fmt.Sprintf("Group (%d aggregates)", len(n.Aggs)))
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.OrderByPattern:
		indent(b, depth, fmt.Sprintf("OrderBy (%d conditions)", len(n.Conditions)))
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.ProjectPattern:
		indent(b, depth, fmt.Sprintf("Project %v", n.Vars))
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.DistinctPattern:
		indent(b, depth, "Distinct")
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.ReducedPattern:
		indent(b, depth, "Reduced")
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	case algebra.SlicePattern:
		indent(b, depth, fmt.Sprintf("Slice offset=%d limit=%d", n.Offset, n.Limit))
		dumpPattern(b, n.Inner, depth+1, stats, txn)
	default:
		indent(b, depth, fmt.Sprintf("%T", n))
	}
}

func describeTriple(tp algebra.TriplePattern) string {
	pred := "?"
	if tp.Path != nil {
		pred = "<path>"
	} else {
		pred = describeTerm(tp.Predicate)
	}
	return fmt.Sprintf("%s %s %s", describeTerm(tp.Subject), pred, describeTerm(tp.Object))
}

func describeTerm(t algebra.Term) string {
	if t.IsVar() {
		return "?" + string(t.Var)
	}
	return t.Bound.String()
}

// cardinality runs the single BGP's iterator against txn to count its live
// solutions, used only under --stats since it costs a full scan.
func cardinality(stats bool, n algebra.BGP, txn *quadstore.Transaction) string {
	if !stats {
		return ""
	}
	it, err := exec.Build(n, txn, exec.DefaultLimits())
	if err != nil {
		return fmt.Sprintf(" [stats error: %v]", err)
	}
	defer it.Close()
	count := 0
	for it.Next() {
		count++
	}
	return fmt.Sprintf(" -> %d rows", count)
}
