// Package enc implements the bijection between rdf.Term and a fixed-width
// internal id (spec.md §3.2, §4.1). Grounded on the teacher's
// internal/encoding/{encoder,decoder}.go, generalized to cover the full
// inline-type list the spec enumerates (decimal as 128-bit fixed point,
// date/time family, duration, u128 blank-node ids) instead of the
// teacher's float64-only numeric inlining.
package enc

import (
	"github.com/relique/qdb/pkg/dict"
	"github.com/relique/qdb/pkg/rdf"
)

// TermKind tags the 17-byte encoded form. Its values are numbered
// independently of rdf.TermType; they are the encoder-private
// inline/reference variants from spec.md §3.2's list.
type TermKind byte

const (
	KindNamedNodeRef TermKind = iota + 1
	KindBlankNodeInline
	KindBlankNodeRef
	KindDefaultGraph
	KindQuotedTripleRef

	KindStringInline
	KindStringRef
	KindLangStringRef
	KindTypedLiteralRef // arbitrary datatype, value+datatype hashed together

	KindBoolean
	KindInteger
	KindFloat
	KindDouble
	KindDecimal

	KindDateTime
	KindDate
	KindTime
	KindGYear

	KindDuration
)

// EncodedTermSize is an on-disk format invariant (spec.md §4.1): changing
// it is a format break. 1 tag byte + 16 payload bytes accommodates every
// inline variant, including the 128-bit decimal and u128 blank-node id.
const EncodedTermSize = 17

// EncodedTerm is the fixed-width tagged union backing an internal id.
type EncodedTerm [EncodedTermSize]byte

func (e EncodedTerm) Kind() TermKind { return TermKind(e[0]) }

// Ref returns the 128-bit dictionary hash carried by reference-kind terms.
// Only meaningful when Kind() is one of the *Ref kinds.
func (e EncodedTerm) Ref() dict.Hash {
	var h dict.Hash
	copy(h[:], e[1:17])
	return h
}

// QuotedTripleBox holds the three components of a quoted triple. The
// Encoder and Decoder do not use it: a KindQuotedTripleRef term's hash
// references only the triple's canonical string form.
type QuotedTripleBox struct {
	Subject   rdf.Term
	Predicate rdf.Term
	Object    rdf.Term
}
