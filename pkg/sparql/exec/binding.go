// Package exec walks the algebra tree the parser builds into a Volcano-style
// pull-iterator pipeline over a quadstore.Transaction snapshot. Grounded on
// the teacher's internal/sparql/executor package (plan-to-iterator factory,
// Next()/Binding()/Close() protocol), generalized to the larger algebra set
// (paths, aggregates, VALUES, MINUS, SERVICE) spec.md's §4.5 names.
package exec

import "github.com/relique/qdb/pkg/sparql/algebra"
import "github.com/relique/qdb/pkg/rdf"

// Binding is one solution mapping, variable name to bound term. Unbound
// variables are simply absent, never a nil map entry.
type Binding map[algebra.Var]rdf.Term

func NewBinding() Binding { return make(Binding) }

func (b Binding) Clone() Binding {
	c := make(Binding, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// Compatible reports whether b and o agree on every variable they share,
// the SPARQL join-compatibility test (spec.md §4.5).
func (b Binding) Compatible(o Binding) bool {
	for k, v := range b {
		if ov, ok := o[k]; ok && !v.Equals(ov) {
			return false
		}
	}
	return true
}

// Merge returns the union of b and o, assuming Compatible(o) already holds.
func (b Binding) Merge(o Binding) Binding {
	m := make(Binding, len(b)+len(o))
	for k, v := range b {
		m[k] = v
	}
	for k, v := range o {
		m[k] = v
	}
	return m
}
