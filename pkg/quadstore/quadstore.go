// Package quadstore implements the transactional RDF quad store: pattern
// matching across the six canonical named-graph orderings plus three
// default-graph fast paths, named-graph lifecycle management, a relaxed
// bulk loader, and backup. Grounded on the teacher's pkg/store/{query,
// storage,encoding}.go, generalized from the teacher's triple-only default
// graph fast path to carry RDF-star quoted-triple terms and the full xsd
// inline-type list pkg/enc supports.
package quadstore

import (
	"fmt"
	"sort"

	"github.com/relique/qdb/pkg/enc"
	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/storage"
)

// Store is a quad store backed by a storage.Storage key-value substrate.
type Store struct {
	backend storage.Storage
}

func New(backend storage.Storage) *Store {
	return &Store{backend: backend}
}

func (s *Store) Close() error { return s.backend.Close() }

// Sync flushes durable writes to stable storage, used by the CLI's
// optimize subcommand to force a checkpoint.
func (s *Store) Sync() error { return s.backend.Sync() }

// StartTransaction begins a quad-store transaction. Callers must Commit or
// Rollback exactly once.
func (s *Store) StartTransaction(writable bool) (*Transaction, error) {
	txn, err := s.backend.Begin(writable)
	if err != nil {
		return nil, err
	}
	d := &txnDict{txn: txn}
	return &Transaction{
		txn:     txn,
		dict:    d,
		encoder: enc.NewEncoder(),
		decoder: enc.NewDecoder(d),
	}, nil
}

// Pattern is a quad pattern. A nil field matches any term in that
// position. A nil Graph matches quads in any graph, default or named; to
// restrict to the default graph only, set Graph to rdf.NewDefaultGraph().
type Pattern struct {
	Subject   rdf.Term
	Predicate rdf.Term
	Object    rdf.Term
	Graph     rdf.Term
}

// Transaction is a single quad-store transaction: a snapshot-isolated view
// of the backend plus, if writable, buffered mutations applied at Commit.
type Transaction struct {
	txn     storage.Transaction
	dict    *txnDict
	encoder *enc.Encoder
	decoder *enc.Decoder
}

func (t *Transaction) Commit() error   { return t.txn.Commit() }
func (t *Transaction) Rollback() error { return t.txn.Rollback() }

func (t *Transaction) encode(term rdf.Term) (enc.EncodedTerm, error) {
	encoded, str, err := t.encoder.Encode(term)
	if err != nil {
		return encoded, qdberr.Valuef("encoding term %s: %v", term, err)
	}
	if str != nil {
		h := encoded.Ref()
		if err := t.dict.Insert(h, *str); err != nil {
			return encoded, err
		}
	}
	return encoded, nil
}

func (t *Transaction) decode(e enc.EncodedTerm) (rdf.Term, error) {
	return t.decoder.Decode(e)
}

// Insert adds a quad. Returns true if it was not already present.
func (t *Transaction) Insert(q *rdf.Quad) (bool, error) {
	s, err := t.encode(q.Subject)
	if err != nil {
		return false, err
	}
	p, err := t.encode(q.Predicate)
	if err != nil {
		return false, err
	}
	o, err := t.encode(q.Object)
	if err != nil {
		return false, err
	}

	if _, isDefault := q.Graph.(*rdf.DefaultGraph); isDefault {
		return t.insertDefaultGraph(s, p, o)
	}

	g, err := t.encode(q.Graph)
	if err != nil {
		return false, err
	}
	if err := t.registerGraph(g); err != nil {
		return false, err
	}
	return t.insertNamedGraph(s, p, o, g)
}

func (t *Transaction) insertDefaultGraph(s, p, o enc.EncodedTerm) (bool, error) {
	key := enc.EncodeQuadKey(s, p, o)
	_, err := t.txn.Get(storage.TableSPO, key)
	if err != nil && err != storage.ErrNotFound {
		return false, err
	}
	already := err == nil
	for _, idx := range defaultGraphIndexes {
		if err := t.txn.Set(idx.table, idx.keyFor(s, p, o), nil); err != nil {
			return false, err
		}
	}
	return !already, nil
}

func (t *Transaction) insertNamedGraph(s, p, o, g enc.EncodedTerm) (bool, error) {
	key := enc.EncodeQuadKey(s, p, o, g)
	_, err := t.txn.Get(storage.TableSPOG, key)
	if err != nil && err != storage.ErrNotFound {
		return false, err
	}
	already := err == nil
	for _, idx := range namedGraphIndexes {
		if err := t.txn.Set(idx.table, idx.keyFor(s, p, o, g), nil); err != nil {
			return false, err
		}
	}
	return !already, nil
}

func (t *Transaction) registerGraph(g enc.EncodedTerm) error {
	return t.txn.Set(storage.TableGraphs, g[:], nil)
}

// Remove deletes a quad. Returns true if it was present.
func (t *Transaction) Remove(q *rdf.Quad) (bool, error) {
	s, err := t.encode(q.Subject)
	if err != nil {
		return false, err
	}
	p, err := t.encode(q.Predicate)
	if err != nil {
		return false, err
	}
	o, err := t.encode(q.Object)
	if err != nil {
		return false, err
	}

	if _, isDefault := q.Graph.(*rdf.DefaultGraph); isDefault {
		key := enc.EncodeQuadKey(s, p, o)
		if _, err := t.txn.Get(storage.TableSPO, key); err != nil {
			if err == storage.ErrNotFound {
				return false, nil
			}
			return false, err
		}
		for _, idx := range defaultGraphIndexes {
			if err := t.txn.Delete(idx.table, idx.keyFor(s, p, o)); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	g, err := t.encode(q.Graph)
	if err != nil {
		return false, err
	}
	key := enc.EncodeQuadKey(s, p, o, g)
	if _, err := t.txn.Get(storage.TableSPOG, key); err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	for _, idx := range namedGraphIndexes {
		if err := t.txn.Delete(idx.table, idx.keyFor(s, p, o, g)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Contains reports whether q is present. It is a read-only lookup: terms
// are encoded without interning them into the dictionary.
func (t *Transaction) Contains(q *rdf.Quad) (bool, error) {
	s, err := t.encodeForPrefix(q.Subject)
	if err != nil {
		return false, err
	}
	p, err := t.encodeForPrefix(q.Predicate)
	if err != nil {
		return false, err
	}
	o, err := t.encodeForPrefix(q.Object)
	if err != nil {
		return false, err
	}
	if _, isDefault := q.Graph.(*rdf.DefaultGraph); isDefault {
		_, err := t.txn.Get(storage.TableSPO, enc.EncodeQuadKey(s, p, o))
		if err == storage.ErrNotFound {
			return false, nil
		}
		return err == nil, err
	}
	g, err := t.encodeForPrefix(q.Graph)
	if err != nil {
		return false, err
	}
	_, err = t.txn.Get(storage.TableSPOG, enc.EncodeQuadKey(s, p, o, g))
	if err == storage.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// InsertNamedGraph declares graph as existing even if it holds no quads.
func (t *Transaction) InsertNamedGraph(graph rdf.Term) error {
	g, err := t.encode(graph)
	if err != nil {
		return err
	}
	return t.registerGraph(g)
}

// RemoveNamedGraph deletes graph's declaration and every quad in it.
func (t *Transaction) RemoveNamedGraph(graph rdf.Term) error {
	if err := t.ClearGraph(graph); err != nil {
		return err
	}
	g, err := t.encode(graph)
	if err != nil {
		return err
	}
	return t.txn.Delete(storage.TableGraphs, g[:])
}

// ClearGraph removes every quad in graph, keeping its declaration (if any).
// A DefaultGraph argument clears the default graph.
func (t *Transaction) ClearGraph(graph rdf.Term) error {
	it, err := t.QuadsForPattern(&Pattern{Graph: graph})
	if err != nil {
		return err
	}
	defer it.Close()
	var batch []*rdf.Quad
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			return err
		}
		batch = append(batch, q)
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, q := range batch {
		if _, err := t.Remove(q); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes every quad from every graph, default and named, and
// every named-graph declaration.
func (t *Transaction) ClearAll() error {
	if err := t.ClearGraph(rdf.NewDefaultGraph()); err != nil {
		return err
	}
	graphs, err := t.NamedGraphs()
	if err != nil {
		return err
	}
	for _, g := range graphs {
		if err := t.RemoveNamedGraph(g); err != nil {
			return err
		}
	}
	return nil
}

// NamedGraphs lists every declared named graph.
func (t *Transaction) NamedGraphs() ([]rdf.Term, error) {
	it, err := t.txn.Scan(storage.TableGraphs, nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []rdf.Term
	for it.Next() {
		var e enc.EncodedTerm
		copy(e[:], it.Key())
		term, err := t.decode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, term)
	}
	return sortedGraphs(out), nil
}

// indexSpec describes one physical index: its table and the function that
// lays encoded S/P/O(/G) terms out in that table's key order.
type indexSpec struct {
	name   string
	table  storage.Table
	keyFor func(terms ...enc.EncodedTerm) []byte
	// order gives, for position i in the physical key, which of S=0,P=1,
	// O=2,G=3 it holds.
	order []int
}

func spec(name string, table storage.Table, order ...int) indexSpec {
	ord := order
	return indexSpec{
		name:  name,
		table: table,
		order: ord,
		keyFor: func(terms ...enc.EncodedTerm) []byte {
			permuted := make([]enc.EncodedTerm, len(ord))
			for i, pos := range ord {
				permuted[i] = terms[pos]
			}
			return enc.EncodeQuadKey(permuted...)
		},
	}
}

var (
	defaultGraphIndexes = []indexSpec{
		spec("spo", storage.TableSPO, 0, 1, 2),
		spec("pos", storage.TablePOS, 1, 2, 0),
		spec("osp", storage.TableOSP, 2, 0, 1),
	}
	namedGraphIndexes = []indexSpec{
		spec("spog", storage.TableSPOG, 0, 1, 2, 3),
		spec("posg", storage.TablePOSG, 1, 2, 3, 0),
		spec("ospg", storage.TableOSPG, 2, 0, 3, 1),
		spec("gspo", storage.TableGSPO, 3, 0, 1, 2),
		spec("gpos", storage.TableGPOS, 3, 1, 2, 0),
		spec("gosp", storage.TableGOSP, 3, 2, 0, 1),
	}
)

// selectIndex picks the index whose key prefix the pattern's bound
// positions fill most, so the scan narrows as tightly as possible. Mirrors
// the teacher's pkg/store/query.go selectIndex, generalized to a
// table-driven form covering both the 3 default-graph and 6 named-graph
// indexes uniformly.
func selectIndex(p *Pattern) indexSpec {
	sBound := p.Subject != nil
	pBound := p.Predicate != nil
	oBound := p.Object != nil
	_, gIsDefault := p.Graph.(*rdf.DefaultGraph)
	_, gIsWildcard := p.Graph.(graphWildcardSentinel)
	gBound := p.Graph != nil && !gIsDefault && !gIsWildcard

	if p.Graph == nil || gIsDefault {
		switch {
		case sBound && pBound, sBound && !oBound:
			return defaultGraphIndexes[0] // spo
		case pBound && oBound, pBound:
			return defaultGraphIndexes[1] // pos
		case oBound && sBound, oBound:
			return defaultGraphIndexes[2] // osp
		default:
			return defaultGraphIndexes[0]
		}
	}

	switch {
	case gBound && sBound && oBound && !pBound:
		return namedGraphIndexes[5] // gosp
	case gBound && sBound:
		return namedGraphIndexes[3] // gspo
	case gBound && pBound:
		return namedGraphIndexes[4] // gpos
	case gBound && oBound:
		return namedGraphIndexes[5] // gosp
	case gBound:
		return namedGraphIndexes[3] // gspo
	case sBound && pBound, sBound && !oBound:
		return namedGraphIndexes[0] // spog
	case pBound && oBound, pBound:
		return namedGraphIndexes[1] // posg
	case oBound && sBound, oBound:
		return namedGraphIndexes[2] // ospg
	default:
		return namedGraphIndexes[0]
	}
}

// QuadsForPattern returns an iterator over every quad matching p. When
// p.Graph is nil, both the default graph's fast-path indexes and every
// named graph's indexes are scanned (in that order).
func (t *Transaction) QuadsForPattern(p *Pattern) (*QuadIterator, error) {
	_, gIsDefault := p.Graph.(*rdf.DefaultGraph)
	scanDefault := p.Graph == nil || gIsDefault
	scanNamed := p.Graph == nil || !gIsDefault

	var iters []*singleIndexIterator
	if scanDefault {
		it, err := t.scanOneIndex(p, true)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	if scanNamed {
		it, err := t.scanOneIndex(p, false)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	return &QuadIterator{t: t, subIters: iters}, nil
}

func (t *Transaction) scanOneIndex(p *Pattern, defaultGraph bool) (*singleIndexIterator, error) {
	var idx indexSpec
	if defaultGraph {
		idx = selectIndex(&Pattern{Subject: p.Subject, Predicate: p.Predicate, Object: p.Object, Graph: rdf.NewDefaultGraph()})
	} else {
		g := p.Graph
		if g == nil {
			g = graphWildcardSentinel{}
		}
		idx = selectIndex(&Pattern{Subject: p.Subject, Predicate: p.Predicate, Object: p.Object, Graph: g})
	}

	prefix, err := t.buildPrefix(p, idx, defaultGraph)
	if err != nil {
		return nil, err
	}
	it, err := t.txn.Scan(idx.table, prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	return &singleIndexIterator{txn: t, it: it, idx: idx, defaultGraph: defaultGraph, pattern: p}, nil
}

// graphWildcardSentinel stands in for "any named graph" when selectIndex
// needs to distinguish it from an explicitly bound graph term.
type graphWildcardSentinel struct{}

func (graphWildcardSentinel) Type() rdf.TermType         { return 0 }
func (graphWildcardSentinel) String() string             { return "" }
func (graphWildcardSentinel) Equals(other rdf.Term) bool { return false }

func (t *Transaction) buildPrefix(p *Pattern, idx indexSpec, defaultGraph bool) ([]byte, error) {
	width := 3
	if !defaultGraph {
		width = 4
	}
	positions := make([]rdf.Term, 4)
	positions[0], positions[1], positions[2] = p.Subject, p.Predicate, p.Object
	if defaultGraph {
		positions[3] = rdf.NewDefaultGraph()
	} else if p.Graph != nil {
		if _, ok := p.Graph.(graphWildcardSentinel); !ok {
			positions[3] = p.Graph
		}
	}

	var prefix []byte
	for i := 0; i < width; i++ {
		pos := idx.order[i]
		term := positions[pos]
		if term == nil {
			break
		}
		encoded, err := t.encodeForPrefix(term)
		if err != nil {
			return nil, err
		}
		prefix = append(prefix, encoded[:]...)
	}
	return prefix, nil
}

// encodeForPrefix encodes a term for use in a scan prefix without
// interning it into the dictionary — prefix terms are read-only lookups.
func (t *Transaction) encodeForPrefix(term rdf.Term) (enc.EncodedTerm, error) {
	encoded, _, err := t.encoder.Encode(term)
	if err != nil {
		return encoded, qdberr.Valuef("encoding term %s: %v", term, err)
	}
	return encoded, nil
}

func prefixEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xFF, scan to the end of the table
}

// singleIndexIterator walks one physical index's key range and decodes
// each matching key back into a quad, filtering out any non-prefix
// positions the scan prefix didn't narrow away (e.g. an object bound
// while only subject was usable as prefix under the chosen index).
type singleIndexIterator struct {
	txn          *Transaction
	it           storage.Iterator
	idx          indexSpec
	defaultGraph bool
	pattern      *Pattern
	err          error
}

func (i *singleIndexIterator) next() (*rdf.Quad, bool) {
	for i.it.Next() {
		key := i.it.Key()
		width := 3
		if !i.defaultGraph {
			width = 4
		}
		if len(key) < width*enc.EncodedTermSize {
			i.err = qdberr.Corruptf("quadstore: short index key in %s (%d bytes)", i.idx.name, len(key))
			return nil, false
		}
		terms := make([]enc.EncodedTerm, width)
		for k := 0; k < width; k++ {
			copy(terms[k][:], key[k*enc.EncodedTermSize:(k+1)*enc.EncodedTermSize])
		}
		positions := make([]enc.EncodedTerm, 4)
		for k, pos := range i.idx.order {
			positions[pos] = terms[k]
		}

		s, err := i.txn.decode(positions[0])
		if err != nil {
			i.err = err
			return nil, false
		}
		p, err := i.txn.decode(positions[1])
		if err != nil {
			i.err = err
			return nil, false
		}
		o, err := i.txn.decode(positions[2])
		if err != nil {
			i.err = err
			return nil, false
		}
		var g rdf.Term = rdf.NewDefaultGraph()
		if !i.defaultGraph {
			g, err = i.txn.decode(positions[3])
			if err != nil {
				i.err = err
				return nil, false
			}
		}
		q := rdf.NewQuad(s, p, o, g)
		if matches(q, i.pattern) {
			return q, true
		}
	}
	return nil, false
}

func matches(q *rdf.Quad, p *Pattern) bool {
	if p.Subject != nil && !q.Subject.Equals(p.Subject) {
		return false
	}
	if p.Predicate != nil && !q.Predicate.Equals(p.Predicate) {
		return false
	}
	if p.Object != nil && !q.Object.Equals(p.Object) {
		return false
	}
	if p.Graph != nil {
		if _, wild := p.Graph.(graphWildcardSentinel); !wild && !q.Graph.Equals(p.Graph) {
			return false
		}
	}
	return true
}

// QuadIterator merges the sub-scans (default graph, named graphs) that
// QuadsForPattern may have started.
type QuadIterator struct {
	t        *Transaction
	subIters []*singleIndexIterator
	cur      int
	current  *rdf.Quad
	err      error
}

func (q *QuadIterator) Next() bool {
	for q.cur < len(q.subIters) {
		quad, ok := q.subIters[q.cur].next()
		if ok {
			q.current = quad
			return true
		}
		if err := q.subIters[q.cur].err; err != nil {
			q.err = err
			return false
		}
		q.cur++
	}
	return false
}

func (q *QuadIterator) Quad() (*rdf.Quad, error) {
	if q.current == nil {
		return nil, fmt.Errorf("quadstore: no current quad")
	}
	return q.current, nil
}

func (q *QuadIterator) Err() error { return q.err }

func (q *QuadIterator) Close() error {
	for _, it := range q.subIters {
		_ = it.it.Close()
	}
	return nil
}

// sortedGraphs is a small helper NamedGraphs uses to present named graphs
// in a deterministic order.
func sortedGraphs(graphs []rdf.Term) []rdf.Term {
	out := append([]rdf.Term{}, graphs...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
