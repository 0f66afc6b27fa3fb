// Package memory implements storage.Storage entirely in process memory, for
// tests and ephemeral stores. Badger gives the durable backend MVCC for
// free; here that has to be built explicitly. Design resolves spec.md §9's
// open question on in-memory isolation: each table is a version list keyed
// by user key, append-only per key, with commit assigning a monotonic
// version number and GC reclaiming versions older than the oldest snapshot
// still referenced by a live transaction. Grounded in shape on the
// teacher's pkg/store/storage.go interfaces; the MVCC scheme itself has no
// teacher analogue (the teacher only shipped the badger backend) and is
// modeled after badger's own version-stamped keys and snapshot-pinning
// (badger.Txn's readTs), the closest pack example of "versions + a
// low-water mark" retained across live readers.
package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/relique/qdb/pkg/storage"
)

type versionedValue struct {
	version uint64
	value   []byte // nil means tombstone
}

type keyHistory struct {
	versions []versionedValue // ascending by version
}

func (h *keyHistory) valueAt(snapshot uint64) ([]byte, bool) {
	// versions is ascending; find the last entry with version <= snapshot.
	i := sort.Search(len(h.versions), func(i int) bool {
		return h.versions[i].version > snapshot
	})
	if i == 0 {
		return nil, false
	}
	v := h.versions[i-1]
	if v.value == nil {
		return nil, false
	}
	return v.value, true
}

// Storage is an in-memory MVCC key-value store.
type Storage struct {
	mu       sync.Mutex
	tables   [storage.TableCount]map[string]*keyHistory
	version  uint64         // last committed version
	liveSnap map[uint64]int // snapshot version -> count of live readers holding it
	closed   bool
}

func New() *Storage {
	s := &Storage{liveSnap: make(map[uint64]int)}
	for i := range s.tables {
		s.tables[i] = make(map[string]*keyHistory)
	}
	return s
}

func (s *Storage) Begin(writable bool) (storage.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	snap := s.version
	s.liveSnap[snap]++
	return &Transaction{
		store:    s,
		snapshot: snap,
		writable: writable,
		writes:   make(map[tableKey][]byte),
		deletes:  make(map[tableKey]bool),
	}, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Storage) Sync() error { return nil }

func (s *Storage) releaseSnapshot(snap uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveSnap[snap]--
	if s.liveSnap[snap] <= 0 {
		delete(s.liveSnap, snap)
		s.gcLocked()
	}
}

// gcLocked drops history entries older than the oldest live snapshot,
// keeping at most one (the newest qualifying) version per key so every
// remaining live snapshot can still be served.
func (s *Storage) gcLocked() {
	oldest := s.version
	for snap := range s.liveSnap {
		if snap < oldest {
			oldest = snap
		}
	}
	for _, table := range s.tables {
		for key, h := range table {
			i := sort.Search(len(h.versions), func(i int) bool {
				return h.versions[i].version > oldest
			})
			if i > 1 {
				h.versions = h.versions[i-1:]
			}
			if len(h.versions) == 1 && h.versions[0].value == nil {
				delete(table, key)
			}
		}
	}
}

type tableKey struct {
	table storage.Table
	key   string
}

// Transaction is a snapshot-isolated read view plus a buffered write set
// applied atomically at Commit.
type Transaction struct {
	store    *Storage
	snapshot uint64
	writable bool
	writes   map[tableKey][]byte
	deletes  map[tableKey]bool
	done     bool
}

func (t *Transaction) Get(table storage.Table, key []byte) ([]byte, error) {
	tk := tableKey{table, string(key)}
	if t.deletes[tk] {
		return nil, storage.ErrNotFound
	}
	if v, ok := t.writes[tk]; ok {
		return v, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	h, ok := t.store.tables[table][string(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v, ok := h.valueAt(t.snapshot)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (t *Transaction) Set(table storage.Table, key, value []byte) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	tk := tableKey{table, string(key)}
	delete(t.deletes, tk)
	t.writes[tk] = append([]byte{}, value...)
	return nil
}

func (t *Transaction) Delete(table storage.Table, key []byte) error {
	if !t.writable {
		return storage.ErrReadOnly
	}
	tk := tableKey{table, string(key)}
	delete(t.writes, tk)
	t.deletes[tk] = true
	return nil
}

func (t *Transaction) Scan(table storage.Table, start, end []byte) (storage.Iterator, error) {
	t.store.mu.Lock()
	keys := make([]string, 0, len(t.store.tables[table]))
	values := make(map[string][]byte, len(t.store.tables[table]))
	for k, h := range t.store.tables[table] {
		if v, ok := h.valueAt(t.snapshot); ok {
			keys = append(keys, k)
			values[k] = v
		}
	}
	t.store.mu.Unlock()

	for tk, v := range t.writes {
		if tk.table != table {
			continue
		}
		if _, existed := values[tk.key]; !existed {
			keys = append(keys, tk.key)
		}
		values[tk.key] = v
	}
	for tk := range t.deletes {
		if tk.table != table {
			continue
		}
		delete(values, tk.key)
	}

	sort.Strings(keys)
	out := make([]kv, 0, len(keys))
	for _, k := range keys {
		v, ok := values[k]
		if !ok {
			continue
		}
		if start != nil && bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if end != nil && bytes.Compare([]byte(k), end) >= 0 {
			continue
		}
		out = append(out, kv{key: []byte(k), value: v})
	}
	return &Iterator{items: out, idx: -1}, nil
}

func (t *Transaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.releaseSnapshot(t.snapshot)
	if !t.writable || (len(t.writes) == 0 && len(t.deletes) == 0) {
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.version++
	ver := t.store.version
	for tk, v := range t.writes {
		h := t.store.tables[tk.table][tk.key]
		if h == nil {
			h = &keyHistory{}
			t.store.tables[tk.table][tk.key] = h
		}
		h.versions = append(h.versions, versionedValue{version: ver, value: v})
	}
	for tk := range t.deletes {
		h := t.store.tables[tk.table][tk.key]
		if h == nil {
			continue
		}
		h.versions = append(h.versions, versionedValue{version: ver, value: nil})
	}
	return nil
}

func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.releaseSnapshot(t.snapshot)
	return nil
}

type kv struct {
	key   []byte
	value []byte
}

// Iterator walks a Scan's already-materialized, snapshot-consistent result.
// Materializing eagerly (rather than iterating the live map) keeps the
// snapshot's view stable even if the underlying table mutates mid-scan.
type Iterator struct {
	items []kv
	idx   int
}

func (i *Iterator) Next() bool {
	i.idx++
	return i.idx < len(i.items)
}

func (i *Iterator) Key() []byte {
	if i.idx < 0 || i.idx >= len(i.items) {
		return nil
	}
	return i.items[i.idx].key
}

func (i *Iterator) Value() ([]byte, error) {
	if i.idx < 0 || i.idx >= len(i.items) {
		return nil, storage.ErrNotFound
	}
	return i.items[i.idx].value, nil
}

func (i *Iterator) Close() error { return nil }
