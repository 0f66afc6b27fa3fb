package exec

// Limits bounds query execution against adversarial or runaway input,
// spec.md §4.8. Every bound has a documented default and can be tightened
// by a caller (the HTTP server applies stricter limits to untrusted
// SPARQL Protocol requests than the CLI applies to local queries).
type Limits struct {
	// MaxPathDepth caps the number of nodes a single property-path BFS
	// visits starting from one node, default 65536.
	MaxPathDepth int

	// MaxOrderByMaterialize caps how many solutions ORDER BY will buffer
	// before erroring, whether or not the query has a LIMIT, since the sort
	// materializes the entire result set.
	MaxOrderByMaterialize int

	// MaxParseDepth caps nested {}/(())/<<>> recursion; enforced by the
	// parser (parser.MaxPatternDepth), restated here so callers can see
	// the whole adversarial-input budget in one struct.
	MaxParseDepth int
}

// DefaultLimits returns the limits spec.md §4.8 names as defaults.
func DefaultLimits() *Limits {
	return &Limits{
		MaxPathDepth:          65536,
		MaxOrderByMaterialize: 1_000_000,
		MaxParseDepth:         128,
	}
}
