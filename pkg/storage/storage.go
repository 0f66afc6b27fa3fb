// Package storage defines the key-value substrate the quad store is built
// on: a table-namespaced, MVCC-isolated Storage/Transaction/Iterator
// interface, implemented by pkg/storage/badger (durable) and
// pkg/storage/memory (in-process). Grounded on the teacher's
// pkg/store/storage.go.
package storage

import "errors"

var (
	ErrNotFound = errors.New("qdb/storage: key not found")
	ErrReadOnly = errors.New("qdb/storage: transaction is read-only")
	ErrClosed   = errors.New("qdb/storage: storage is closed")
	ErrConflict = errors.New("qdb/storage: write-write conflict, retry transaction")
)

// Storage is the key-value substrate a quad store is built on.
type Storage interface {
	// Begin starts a new transaction. A writable transaction observes a
	// consistent snapshot and is isolated from concurrent writers until
	// Commit (snapshot isolation, spec.md §5.1).
	Begin(writable bool) (Transaction, error)

	// Close releases all resources. Further use is undefined.
	Close() error

	// Sync flushes durable writes to stable storage. A no-op for
	// in-memory backends.
	Sync() error
}

// Transaction is a single snapshot-isolated view plus, if writable, a set
// of pending mutations applied atomically at Commit.
type Transaction interface {
	Get(table Table, key []byte) ([]byte, error)
	Set(table Table, key, value []byte) error
	Delete(table Table, key []byte) error

	// Scan iterates [start, end) in key order. A nil start begins at the
	// first key of the table; a nil end runs to the last.
	Scan(table Table, start, end []byte) (Iterator, error)

	// Commit applies pending writes atomically. Returns ErrConflict if a
	// concurrent writable transaction committed a conflicting key first.
	Commit() error

	// Rollback discards pending writes. Always safe to call; a second
	// call after Commit or Rollback is a no-op.
	Rollback() error
}

// Iterator walks a Scan's key range. Callers must call Close.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Close() error
}

// Table namespaces keys within a Storage the way a column family would.
// The eleven tables implement the six named-graph quad orderings spec.md
// §3.3 names (SPOG/POSG/OSPG/GSPO/GPOS/GOSP) plus three default-graph-only
// fast paths (SPO/POS/OSP) that skip the graph column entirely — avoiding a
// four-way composite key scan for the common case of default-graph-only
// data — plus the string dictionary and named-graph registry. This mirrors
// both the teacher's pkg/store/storage.go Table enum and Oxigraph's own
// storage layout in original_source/lib/src/storage/mod.rs.
type Table byte

const (
	TableID2Str Table = iota

	TableSPO
	TablePOS
	TableOSP

	TableSPOG
	TablePOSG
	TableOSPG
	TableGSPO
	TableGPOS
	TableGOSP

	TableGraphs

	TableCount
)

func (t Table) String() string {
	switch t {
	case TableID2Str:
		return "id2str"
	case TableSPO:
		return "spo"
	case TablePOS:
		return "pos"
	case TableOSP:
		return "osp"
	case TableSPOG:
		return "spog"
	case TablePOSG:
		return "posg"
	case TableOSPG:
		return "ospg"
	case TableGSPO:
		return "gspo"
	case TableGPOS:
		return "gpos"
	case TableGOSP:
		return "gosp"
	case TableGraphs:
		return "graphs"
	default:
		return "unknown"
	}
}

// PrefixKey namespaces key under table, for backends (badger) that share a
// single flat keyspace across tables.
func PrefixKey(table Table, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(table)
	copy(out[1:], key)
	return out
}
