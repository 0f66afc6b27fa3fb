// Package dict implements the content-addressed string dictionary: UTF-8
// strings keyed by a 128-bit xxh3 hash, with collision detection. Grounded
// on the teacher's internal/encoding.TermEncoder.Hash128 (xxh3.Hash128) and
// generalized into its own package so both the encoder (pkg/enc) and the
// storage layer (pkg/storage) share one hashing + collision policy.
package dict

import (
	"encoding/binary"

	"github.com/relique/qdb/pkg/qdberr"
	"github.com/zeebo/xxh3"
)

// Hash is the 128-bit content address of a string.
type Hash [16]byte

// Hash128 computes the 128-bit xxh3 hash of s, big-endian encoded so the
// bytes sort consistently with the encoded-term keys that embed them.
func Hash128(s string) Hash {
	h := xxh3.Hash128([]byte(s))
	var out Hash
	binary.BigEndian.PutUint64(out[0:8], h.Hi)
	binary.BigEndian.PutUint64(out[8:16], h.Lo)
	return out
}

// Store resolves hashes to strings. It is backed by a quadstore.Transaction
// table (TableID2Str) in production; this in-process type is the shape
// both the badger and memory storage backends implement against.
type Store interface {
	// Lookup returns the string for hash, or ok=false if absent.
	Lookup(hash Hash) (value string, ok bool, err error)
	// Insert stores value under its hash if absent. Returns a
	// *qdberr.Error with Kind=Corruption if an existing entry at the same
	// hash holds a different string — a cryptographic hash collision,
	// treated as impossible and thus as corruption (spec.md §3.2).
	Insert(hash Hash, value string) error
}

// VerifyNoCollision is the shared check every Store.Insert must run before
// accepting a write: if hash is already bound to a different string, that
// is corruption, not an ordinary "already exists".
func VerifyNoCollision(existing, incoming string, hash Hash) error {
	if existing != incoming {
		return qdberr.Corruptf("string dictionary hash collision at %x: %q vs %q", hash[:], existing, incoming)
	}
	return nil
}
