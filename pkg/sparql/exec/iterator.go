package exec

import (
	"sort"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/sparql/algebra"
)

// Iterator is the pull protocol every plan node implements, grounded on the
// teacher's store.BindingIterator (Next/Binding/Close) Volcano model.
type Iterator interface {
	Next() bool
	Binding() Binding
	Close() error
}

// IterErr surfaces a deferred failure from an iterator that exhausted early
// because of one, for callers (pkg/update) that drain an iterator obtained
// from BuildWithGraph themselves instead of going through Run.
func IterErr(it Iterator) error { return iterErr(it) }

// iterErr surfaces a deferred failure from an iterator that exhausted early
// because of one. Operators that can fail mid-stream record the error and
// expose it through an Err method; Run checks the root after draining.
func iterErr(it Iterator) error {
	if it == nil {
		return nil
	}
	if e, ok := it.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

// abortsQuery reports whether an expression-evaluation error must abort the
// whole query instead of being absorbed as false-in-FILTER / UNDEF-in-BIND:
// resource limits, I/O, and corruption always propagate (spec.md §7).
func abortsQuery(err error) bool {
	return qdberr.Is(err, qdberr.ResourceLimit) ||
		qdberr.Is(err, qdberr.Io) ||
		qdberr.Is(err, qdberr.Corruption)
}

// ---- leaf: triple pattern / BGP ----

// rowSource yields, one at a time, the incremental variable bindings one
// triple pattern contributes given the bindings already accumulated from
// earlier patterns in the same BGP.
type rowSource interface {
	Next() bool
	Row() Binding
	Err() error
	Close() error
}

func resolveTerm(t algebra.Term, acc Binding) (rdf.Term, algebra.Var) {
	if !t.IsVar() {
		return t.Bound, ""
	}
	if v, ok := acc[t.Var]; ok {
		return v, ""
	}
	return nil, t.Var
}

type quadRowSource struct {
	it                       *quadstore.QuadIterator
	subjVar, predVar, objVar algebra.Var
	row                      Binding
	err                      error
}

func (r *quadRowSource) Next() bool {
	for r.it.Next() {
		q, err := r.it.Quad()
		if err != nil {
			r.err = err
			return false
		}
		row := NewBinding()
		if r.subjVar != "" {
			row[r.subjVar] = q.Subject
		}
		if r.predVar != "" {
			row[r.predVar] = q.Predicate
		}
		if r.objVar != "" {
			row[r.objVar] = q.Object
		}
		r.row = row
		return true
	}
	return false
}
func (r *quadRowSource) Row() Binding { return r.row }
func (r *quadRowSource) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.it.Err()
}
func (r *quadRowSource) Close() error { return r.it.Close() }

type staticRowSource struct {
	rows []Binding
	i    int
}

func (s *staticRowSource) Next() bool {
	if s.i >= len(s.rows) {
		return false
	}
	s.i++
	return true
}
func (s *staticRowSource) Row() Binding { return s.rows[s.i-1] }
func (s *staticRowSource) Err() error   { return nil }
func (s *staticRowSource) Close() error { return nil }

func openTriple(txn *quadstore.Transaction, graph rdf.Term, tp algebra.TriplePattern, acc Binding, limits *Limits) (rowSource, error) {
	objTerm, objVar := resolveTerm(tp.Object, acc)
	subjTerm, subjVar := resolveTerm(tp.Subject, acc)

	if tp.Path == nil {
		predTerm, predVar := resolveTerm(tp.Predicate, acc)
		pattern := &quadstore.Pattern{Subject: subjTerm, Predicate: predTerm, Object: objTerm, Graph: graph}
		it, err := txn.QuadsForPattern(pattern)
		if err != nil {
			return nil, err
		}
		return &quadRowSource{it: it, subjVar: subjVar, predVar: predVar, objVar: objVar}, nil
	}

	w := &pathWalker{txn: txn, graph: graph, limits: limits}
	var rows []Binding
	switch {
	case subjTerm != nil:
		ends, err := w.reachable(subjTerm, tp.Path, false)
		if err != nil {
			return nil, err
		}
		for _, end := range ends {
			if objTerm != nil && !objTerm.Equals(end) {
				continue
			}
			row := NewBinding()
			if objVar != "" {
				row[objVar] = end
			}
			rows = append(rows, row)
		}
	case objTerm != nil:
		starts, err := w.reachable(objTerm, tp.Path, true)
		if err != nil {
			return nil, err
		}
		for _, start := range starts {
			row := NewBinding()
			if subjVar != "" {
				row[subjVar] = start
			}
			rows = append(rows, row)
		}
	default:
		seeds, err := pathSeedNodes(txn, graph, tp.Path)
		if err != nil {
			return nil, err
		}
		for _, seed := range seeds {
			ends, err := w.reachable(seed, tp.Path, false)
			if err != nil {
				return nil, err
			}
			for _, end := range ends {
				row := NewBinding()
				if subjVar != "" {
					row[subjVar] = seed
				}
				if objVar != "" {
					row[objVar] = end
				}
				rows = append(rows, row)
			}
		}
	}
	return &staticRowSource{rows: rows}, nil
}

// pathSeedNodes gathers candidate start nodes for a path pattern whose
// subject and object are both unbound, from every quad using one of the
// path's literal predicates as subject or object.
func pathSeedNodes(txn *quadstore.Transaction, graph rdf.Term, path algebra.Path) ([]rdf.Term, error) {
	seen := map[string]rdf.Term{}
	for _, iri := range pathSeedPredicates(path) {
		it, err := txn.QuadsForPattern(&quadstore.Pattern{Predicate: rdf.NewNamedNode(iri), Graph: graph})
		if err != nil {
			return nil, err
		}
		for it.Next() {
			q, err := it.Quad()
			if err != nil {
				it.Close()
				return nil, err
			}
			seen[termKey(q.Subject)] = q.Subject
			seen[termKey(q.Object)] = q.Object
		}
		if err := it.Err(); err != nil {
			it.Close()
			return nil, err
		}
		it.Close()
	}
	out := make([]rdf.Term, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out, nil
}

// bgpIterator evaluates a basic graph pattern as an index-nested-loop join:
// each triple pattern's scan is opened against the bindings already
// established by earlier patterns, backtracking when a frame is exhausted.
// Grounded on the teacher's nestedLoopJoinIterator shape in
// internal/sparql/executor/executor.go, generalized to N patterns via an
// explicit frame stack instead of one fixed left/right pair.
type bgpIterator struct {
	txn     *quadstore.Transaction
	graph   rdf.Term
	triples []algebra.TriplePattern
	limits  *Limits
	seed    Binding
	frames  []frame
	result  Binding
	err     error
}

type frame struct {
	src rowSource
	acc Binding // accumulated binding BEFORE this frame's row is merged in
}

func newBGPIterator(txn *quadstore.Transaction, graph rdf.Term, triples []algebra.TriplePattern, limits *Limits, seed Binding) *bgpIterator {
	if seed == nil {
		seed = NewBinding()
	}
	return &bgpIterator{txn: txn, graph: graph, triples: triples, limits: limits, seed: seed}
}

func (b *bgpIterator) Next() bool {
	if len(b.triples) == 0 {
		if b.frames == nil {
			b.frames = []frame{{}}
			b.result = b.seed
			return true
		}
		return false
	}
	if b.frames == nil {
		acc := b.seed
		src, err := openTriple(b.txn, b.graph, b.triples[0], acc, b.limits)
		if err != nil {
			b.err = err
			return false
		}
		b.frames = []frame{{src: src, acc: acc}}
	}
	for len(b.frames) > 0 {
		top := &b.frames[len(b.frames)-1]
		if !top.src.Next() {
			if err := top.src.Err(); err != nil {
				b.err = err
				return false
			}
			top.src.Close()
			b.frames = b.frames[:len(b.frames)-1]
			continue
		}
		acc := top.acc.Merge(top.src.Row())
		depth := len(b.frames)
		if depth == len(b.triples) {
			b.result = acc
			return true
		}
		src, err := openTriple(b.txn, b.graph, b.triples[depth], acc, b.limits)
		if err != nil {
			b.err = err
			return false
		}
		b.frames = append(b.frames, frame{src: src, acc: acc})
	}
	return false
}

func (b *bgpIterator) Binding() Binding { return b.result }
func (b *bgpIterator) Err() error       { return b.err }
func (b *bgpIterator) Close() error {
	for _, f := range b.frames {
		if f.src != nil {
			f.src.Close()
		}
	}
	return nil
}

// seedIterator joins inner against one fixed outer binding, used to
// evaluate EXISTS/SERVICE sub-patterns against the binding context they
// were reached under.
type seedIterator struct {
	inner Iterator
	seed  Binding
	cur   Binding
}

func (s *seedIterator) Next() bool {
	for s.inner.Next() {
		b := s.inner.Binding()
		if b.Compatible(s.seed) {
			s.cur = b.Merge(s.seed)
			return true
		}
	}
	return false
}
func (s *seedIterator) Binding() Binding { return s.cur }
func (s *seedIterator) Err() error       { return iterErr(s.inner) }
func (s *seedIterator) Close() error     { return s.inner.Close() }

// ---- combinators ----

type joinIterator struct {
	txn         *quadstore.Transaction
	limits      *Limits
	left, right Iterator
	rightRows   []Binding
	rightIdx    int
	leftBinding Binding
	started     bool
	cur         Binding
	err         error
}

func newJoinIterator(left, right Iterator) *joinIterator {
	return &joinIterator{left: left, right: right}
}

func (j *joinIterator) Next() bool {
	if !j.started {
		j.started = true
		for j.right.Next() {
			j.rightRows = append(j.rightRows, j.right.Binding().Clone())
		}
		j.err = iterErr(j.right)
		j.right.Close()
		if j.err != nil {
			return false
		}
	}
	for {
		if j.leftBinding == nil {
			if !j.left.Next() {
				return false
			}
			j.leftBinding = j.left.Binding()
			j.rightIdx = 0
		}
		for j.rightIdx < len(j.rightRows) {
			rb := j.rightRows[j.rightIdx]
			j.rightIdx++
			if j.leftBinding.Compatible(rb) {
				j.cur = j.leftBinding.Merge(rb)
				return true
			}
		}
		j.leftBinding = nil
	}
}
func (j *joinIterator) Binding() Binding { return j.cur }
func (j *joinIterator) Err() error {
	if j.err != nil {
		return j.err
	}
	return iterErr(j.left)
}
func (j *joinIterator) Close() error { return j.left.Close() }

type leftJoinIterator struct {
	ev          *Evaluator
	left, right Iterator
	filter      algebra.Expression
	rightRows   []Binding
	leftBinding Binding
	rightIdx    int
	matchedAny  bool
	cur         Binding
	err         error
}

func newLeftJoinIterator(ev *Evaluator, left, right Iterator, filter algebra.Expression) *leftJoinIterator {
	return &leftJoinIterator{ev: ev, left: left, right: right, filter: filter}
}

func (lj *leftJoinIterator) Next() bool {
	if lj.rightRows == nil && lj.right != nil {
		for lj.right.Next() {
			lj.rightRows = append(lj.rightRows, lj.right.Binding().Clone())
		}
		lj.err = iterErr(lj.right)
		lj.right.Close()
		if lj.err != nil {
			return false
		}
	}
	for {
		if lj.leftBinding == nil {
			if !lj.left.Next() {
				return false
			}
			lj.leftBinding = lj.left.Binding()
			lj.rightIdx = 0
			lj.matchedAny = false
		}
		for lj.rightIdx < len(lj.rightRows) {
			rb := lj.rightRows[lj.rightIdx]
			lj.rightIdx++
			if !lj.leftBinding.Compatible(rb) {
				continue
			}
			merged := lj.leftBinding.Merge(rb)
			if lj.filter != nil {
				v, err := lj.ev.Eval(lj.filter, merged)
				if err != nil {
					if abortsQuery(err) {
						lj.err = err
						return false
					}
					continue
				}
				ok, err := ebv(v)
				if err != nil || !ok {
					continue
				}
			}
			lj.matchedAny = true
			lj.cur = merged
			return true
		}
		lb := lj.leftBinding
		lj.leftBinding = nil
		if !lj.matchedAny {
			lj.cur = lb
			return true
		}
	}
}
func (lj *leftJoinIterator) Binding() Binding { return lj.cur }
func (lj *leftJoinIterator) Err() error {
	if lj.err != nil {
		return lj.err
	}
	return iterErr(lj.left)
}
func (lj *leftJoinIterator) Close() error { return lj.left.Close() }

type unionIterator struct {
	left, right Iterator
	onRight     bool
	cur         Binding
}

func (u *unionIterator) Next() bool {
	if !u.onRight {
		if u.left.Next() {
			u.cur = u.left.Binding()
			return true
		}
		u.left.Close()
		u.onRight = true
	}
	if u.right.Next() {
		u.cur = u.right.Binding()
		return true
	}
	return false
}
func (u *unionIterator) Binding() Binding { return u.cur }
func (u *unionIterator) Err() error {
	if err := iterErr(u.left); err != nil {
		return err
	}
	return iterErr(u.right)
}
func (u *unionIterator) Close() error {
	if !u.onRight {
		u.left.Close()
	}
	return u.right.Close()
}

type minusIterator struct {
	left, right Iterator
	rightRows   []Binding
	started     bool
	cur         Binding
	err         error
}

func (m *minusIterator) Next() bool {
	if !m.started {
		m.started = true
		for m.right.Next() {
			m.rightRows = append(m.rightRows, m.right.Binding().Clone())
		}
		m.err = iterErr(m.right)
		m.right.Close()
		if m.err != nil {
			return false
		}
	}
	for m.left.Next() {
		b := m.left.Binding()
		excluded := false
		for _, rb := range m.rightRows {
			if sharesVar(b, rb) && b.Compatible(rb) {
				excluded = true
				break
			}
		}
		if !excluded {
			m.cur = b
			return true
		}
	}
	return false
}
func (m *minusIterator) Binding() Binding { return m.cur }
func (m *minusIterator) Err() error {
	if m.err != nil {
		return m.err
	}
	return iterErr(m.left)
}
func (m *minusIterator) Close() error { return m.left.Close() }

func sharesVar(a, b Binding) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

type filterIterator struct {
	ev    *Evaluator
	inner Iterator
	expr  algebra.Expression
	cur   Binding
	err   error
}

func (f *filterIterator) Next() bool {
	for f.inner.Next() {
		b := f.inner.Binding()
		v, err := f.ev.Eval(f.expr, b)
		if err != nil {
			if abortsQuery(err) {
				f.err = err
				return false
			}
			continue
		}
		ok, err := ebv(v)
		if err != nil || !ok {
			continue
		}
		f.cur = b
		return true
	}
	return false
}
func (f *filterIterator) Binding() Binding { return f.cur }
func (f *filterIterator) Err() error {
	if f.err != nil {
		return f.err
	}
	return iterErr(f.inner)
}
func (f *filterIterator) Close() error { return f.inner.Close() }

type extendIterator struct {
	ev    *Evaluator
	inner Iterator
	v     algebra.Var
	expr  algebra.Expression
	cur   Binding
	err   error
}

func (e *extendIterator) Next() bool {
	if !e.inner.Next() {
		return false
	}
	b := e.inner.Binding().Clone()
	val, err := e.ev.Eval(e.expr, b)
	if err == nil {
		b[e.v] = val
	} else if abortsQuery(err) {
		e.err = err
		return false
	}
	e.cur = b
	return true
}
func (e *extendIterator) Binding() Binding { return e.cur }
func (e *extendIterator) Err() error {
	if e.err != nil {
		return e.err
	}
	return iterErr(e.inner)
}
func (e *extendIterator) Close() error { return e.inner.Close() }

type valuesIterator struct {
	rows []Binding
	i    int
}

func (v *valuesIterator) Next() bool {
	if v.i >= len(v.rows) {
		return false
	}
	v.i++
	return true
}
func (v *valuesIterator) Binding() Binding { return v.rows[v.i-1] }
func (v *valuesIterator) Close() error     { return nil }

func newValuesIterator(vp algebra.ValuesPattern) *valuesIterator {
	rows := make([]Binding, len(vp.Rows))
	for i, r := range vp.Rows {
		b := NewBinding()
		for k, v := range r {
			b[k] = v
		}
		rows[i] = b
	}
	return &valuesIterator{rows: rows}
}

type sliceIterator struct {
	inner         Iterator
	offset, limit int
	seen          int
}

func (s *sliceIterator) Next() bool {
	for s.seen < s.offset {
		if !s.inner.Next() {
			return false
		}
		s.seen++
	}
	if s.limit >= 0 && s.seen >= s.offset+s.limit {
		return false
	}
	if !s.inner.Next() {
		return false
	}
	s.seen++
	return true
}
func (s *sliceIterator) Binding() Binding { return s.inner.Binding() }
func (s *sliceIterator) Err() error       { return iterErr(s.inner) }
func (s *sliceIterator) Close() error     { return s.inner.Close() }

type distinctIterator struct {
	inner Iterator
	vars  []algebra.Var
	seen  map[string]bool
	cur   Binding
}

func newDistinctIterator(inner Iterator, vars []algebra.Var) *distinctIterator {
	return &distinctIterator{inner: inner, vars: vars, seen: map[string]bool{}}
}

func (d *distinctIterator) Next() bool {
	for d.inner.Next() {
		b := d.inner.Binding()
		sig := bindingSignature(b, d.vars)
		if d.seen[sig] {
			continue
		}
		d.seen[sig] = true
		d.cur = b
		return true
	}
	return false
}
func (d *distinctIterator) Binding() Binding { return d.cur }
func (d *distinctIterator) Err() error       { return iterErr(d.inner) }
func (d *distinctIterator) Close() error     { return d.inner.Close() }

// reducedIterator implements REDUCED's opportunistic dedup: only adjacent
// duplicate solutions are dropped, with no hash table, so memory stays
// constant while still collapsing the duplicate runs REDUCED is typically
// applied over (sorted or union-of-identical-branch results).
type reducedIterator struct {
	inner   Iterator
	lastSig string
	started bool
	cur     Binding
}

func (r *reducedIterator) Next() bool {
	for r.inner.Next() {
		b := r.inner.Binding()
		sig := bindingSignature(b, nil)
		if r.started && sig == r.lastSig {
			continue
		}
		r.started = true
		r.lastSig = sig
		r.cur = b
		return true
	}
	return false
}
func (r *reducedIterator) Binding() Binding { return r.cur }
func (r *reducedIterator) Err() error       { return iterErr(r.inner) }
func (r *reducedIterator) Close() error     { return r.inner.Close() }

func bindingSignature(b Binding, vars []algebra.Var) string {
	keys := vars
	if keys == nil {
		keys = make([]algebra.Var, 0, len(b))
		for k := range b {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	}
	var out []byte
	for _, k := range keys {
		out = append(out, []byte(k)...)
		out = append(out, 0)
		out = append(out, collationKey(b[k])...)
	}
	return string(out)
}

type projectIterator struct {
	inner Iterator
	vars  []algebra.Var
	cur   Binding
}

func (p *projectIterator) Next() bool {
	if !p.inner.Next() {
		return false
	}
	b := p.inner.Binding()
	out := NewBinding()
	for _, v := range p.vars {
		if val, ok := b[v]; ok {
			out[v] = val
		}
	}
	p.cur = out
	return true
}
func (p *projectIterator) Binding() Binding { return p.cur }
func (p *projectIterator) Err() error       { return iterErr(p.inner) }
func (p *projectIterator) Close() error     { return p.inner.Close() }

// ---- ORDER BY, materializing ----

type orderByIterator struct {
	ev    *Evaluator
	rows  []Binding
	i     int
	built bool
	build func() ([]Binding, error)
	err   error
}

func newOrderByIterator(ev *Evaluator, inner Iterator, conds []algebra.OrderCondition, limits *Limits) *orderByIterator {
	return &orderByIterator{
		ev: ev,
		build: func() ([]Binding, error) {
			var rows []Binding
			for inner.Next() {
				if limits != nil && limits.MaxOrderByMaterialize > 0 && len(rows) >= limits.MaxOrderByMaterialize {
					inner.Close()
					return nil, qdberr.Limitf("ORDER BY materialized more than %d solutions", limits.MaxOrderByMaterialize)
				}
				rows = append(rows, inner.Binding().Clone())
			}
			if err := iterErr(inner); err != nil {
				inner.Close()
				return nil, err
			}
			inner.Close()
			keys := make([][]byte, len(rows))
			for i, r := range rows {
				var k []byte
				for _, c := range conds {
					v, err := ev.Eval(c.Expr, r)
					ck := collationKey(v)
					if err != nil {
						ck = []byte{collUnset}
					}
					if c.Descending {
						ck = invertBytes(ck)
					}
					k = append(k, ck...)
				}
				keys[i] = k
			}
			idx := make([]int, len(rows))
			for i := range idx {
				idx[i] = i
			}
			sort.SliceStable(idx, func(i, j int) bool {
				return compareBytes(keys[idx[i]], keys[idx[j]]) < 0
			})
			out := make([]Binding, len(rows))
			for i, ix := range idx {
				out[i] = rows[ix]
			}
			return out, nil
		},
	}
}

func invertBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	return out
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func (o *orderByIterator) Next() bool {
	if !o.built {
		o.rows, o.err = o.build()
		o.built = true
	}
	if o.i >= len(o.rows) {
		return false
	}
	o.i++
	return true
}
func (o *orderByIterator) Binding() Binding { return o.rows[o.i-1] }
func (o *orderByIterator) Err() error       { return o.err }
func (o *orderByIterator) Close() error     { return o.err }

// ---- GROUP BY / aggregation ----

type groupIterator struct {
	ev    *Evaluator
	rows  []Binding
	i     int
	built bool
	g     algebra.GroupPattern
	inner Iterator
	err   error
}

func newGroupIterator(ev *Evaluator, inner Iterator, g algebra.GroupPattern) *groupIterator {
	return &groupIterator{ev: ev, inner: inner, g: g}
}

func (g *groupIterator) Next() bool {
	if !g.built {
		g.build()
		g.built = true
	}
	if g.i >= len(g.rows) {
		return false
	}
	g.i++
	return true
}
func (g *groupIterator) Binding() Binding { return g.rows[g.i-1] }
func (g *groupIterator) Err() error       { return g.err }
func (g *groupIterator) Close() error     { return nil }

func (g *groupIterator) build() {
	buckets := map[string][]Binding{}
	keyVals := map[string][]rdf.Term{}
	var order []string
	for g.inner.Next() {
		b := g.inner.Binding().Clone()
		key, vals := groupKeyOf(g.ev, g.g.By, b)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
			keyVals[key] = vals
		}
		buckets[key] = append(buckets[key], b)
	}
	g.err = iterErr(g.inner)
	g.inner.Close()
	if g.err != nil {
		return
	}
	if len(order) == 0 && len(g.g.Aggs) > 0 {
		// SPARQL's "implicit single group" case: zero input rows still
		// yields one aggregate row (COUNT(*) = 0 etc.)
		order = []string{""}
		buckets[""] = nil
		keyVals[""] = nil
	}
	sort.Strings(order)
	for _, key := range order {
		rows := buckets[key]
		out := NewBinding()
		for i, v := range keyVals[key] {
			if i < len(g.g.ByVars) && g.g.ByVars[i] != "" && v != nil {
				out[g.g.ByVars[i]] = v
			}
		}
		aggVals, err := foldGroup(g.ev, g.g.Aggs, rows)
		if err != nil {
			continue
		}
		out = out.Merge(aggVals)
		if len(g.g.Having) > 0 {
			keep := true
			for _, h := range g.g.Having {
				v, err := g.ev.Eval(h, out)
				if err != nil {
					keep = false
					break
				}
				ok, err := ebv(v)
				if err != nil || !ok {
					keep = false
					break
				}
			}
			if !keep {
				continue
			}
		}
		g.rows = append(g.rows, out)
	}
}

// graphIterator implements the GRAPH clause: Graph bound to an IRI scopes
// Inner to that one named graph; Graph unbound ranges over every named graph
// in turn, binding the variable to each as Inner is re-evaluated.
type graphIterator struct {
	txn    *quadstore.Transaction
	limits *Limits
	term   algebra.Term
	build  func(graph rdf.Term) (Iterator, error)
	graphs []rdf.Term
	gi     int
	cur    Iterator
	curG   rdf.Term
	result Binding
	err    error
}

func (g *graphIterator) Next() bool {
	for {
		if g.cur == nil {
			if g.gi >= len(g.graphs) {
				return false
			}
			g.curG = g.graphs[g.gi]
			g.gi++
			it, err := g.build(g.curG)
			if err != nil {
				g.err = err
				return false
			}
			g.cur = it
		}
		if g.cur.Next() {
			b := g.cur.Binding().Clone()
			if g.term.IsVar() {
				b[g.term.Var] = g.curG
			}
			g.result = b
			return true
		}
		if err := iterErr(g.cur); err != nil {
			g.err = err
			g.cur.Close()
			g.cur = nil
			return false
		}
		g.cur.Close()
		g.cur = nil
	}
}
func (g *graphIterator) Binding() Binding { return g.result }
func (g *graphIterator) Err() error       { return g.err }
func (g *graphIterator) Close() error {
	if g.cur != nil {
		return g.cur.Close()
	}
	return nil
}

func newGraphIterator(txn *quadstore.Transaction, limits *Limits, term algebra.Term, inner algebra.Pattern) (*graphIterator, error) {
	build := func(graph rdf.Term) (Iterator, error) {
		return buildWithGraph(inner, txn, limits, graph)
	}
	g := &graphIterator{txn: txn, limits: limits, term: term, build: build}
	if !term.IsVar() {
		g.graphs = []rdf.Term{term.Bound}
		return g, nil
	}
	named, err := txn.NamedGraphs()
	if err != nil {
		return nil, err
	}
	g.graphs = named
	return g, nil
}

// Build compiles pattern into a pull iterator over the default graph.
func Build(pattern algebra.Pattern, txn *quadstore.Transaction, limits *Limits) (Iterator, error) {
	return buildWithGraph(pattern, txn, limits, rdf.NewDefaultGraph())
}

// buildWithGraph compiles pattern the same way Build does, but scopes every
// triple pattern reached before the next nested GraphPattern to graph
// instead of the default graph. Queries outside any GRAPH{} clause run
// against the default graph only; GRAPH switches the active graph for its
// subtree, spec.md's Open-Question resolution documented in DESIGN.md.
func buildWithGraph(pattern algebra.Pattern, txn *quadstore.Transaction, limits *Limits, graph rdf.Term) (Iterator, error) {
	ev := NewEvaluator(txn, limits)
	switch p := pattern.(type) {
	case algebra.BGP:
		return newBGPIterator(txn, graph, p.Triples, limits, nil), nil
	case algebra.Join:
		if ext, ok := p.Right.(algebra.Extend); ok && ext.Inner == nil {
			return buildWithGraph(algebra.Extend{Inner: p.Left, Var: ext.Var, Expr: ext.Expr}, txn, limits, graph)
		}
		l, err := buildWithGraph(p.Left, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		r, err := buildWithGraph(p.Right, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return newJoinIterator(l, r), nil
	case algebra.LeftJoin:
		l, err := buildWithGraph(p.Left, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		r, err := buildWithGraph(p.Right, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return newLeftJoinIterator(ev, l, r, p.Filter), nil
	case algebra.Union:
		l, err := buildWithGraph(p.Left, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		r, err := buildWithGraph(p.Right, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return &unionIterator{left: l, right: r}, nil
	case algebra.Minus:
		l, err := buildWithGraph(p.Left, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		r, err := buildWithGraph(p.Right, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return &minusIterator{left: l, right: r}, nil
	case algebra.GraphPattern:
		return newGraphIterator(txn, limits, p.Graph, p.Inner)
	case algebra.FilterPattern:
		inner, err := buildWithGraph(p.Inner, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return &filterIterator{ev: ev, inner: inner, expr: p.Expr}, nil
	case algebra.Extend:
		var inner Iterator
		if p.Inner == nil {
			inner = newBGPIterator(txn, graph, nil, limits, nil)
		} else {
			var err error
			inner, err = buildWithGraph(p.Inner, txn, limits, graph)
			if err != nil {
				return nil, err
			}
		}
		return &extendIterator{ev: ev, inner: inner, v: p.Var, expr: p.Expr}, nil
	case algebra.ValuesPattern:
		return newValuesIterator(p), nil
	case algebra.ServicePattern:
		return buildService(p, ev, txn, limits)
	case algebra.GroupPattern:
		inner, err := buildWithGraph(p.Inner, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return newGroupIterator(ev, inner, p), nil
	case algebra.OrderByPattern:
		inner, err := buildWithGraph(p.Inner, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return newOrderByIterator(ev, inner, p.Conditions, limits), nil
	case algebra.ProjectPattern:
		inner, err := buildWithGraph(p.Inner, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return &projectIterator{inner: inner, vars: p.Vars}, nil
	case algebra.DistinctPattern:
		inner, err := buildWithGraph(p.Inner, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return newDistinctIterator(inner, nil), nil
	case algebra.ReducedPattern:
		inner, err := buildWithGraph(p.Inner, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return &reducedIterator{inner: inner}, nil
	case algebra.SlicePattern:
		inner, err := buildWithGraph(p.Inner, txn, limits, graph)
		if err != nil {
			return nil, err
		}
		return &sliceIterator{inner: inner, offset: p.Offset, limit: p.Limit}, nil
	default:
		return nil, qdberr.Evalf("unsupported pattern node %T", pattern)
	}
}
