package domain

// BlockRange is a contiguous span of block heights, Min <= Max. It represents
// either the queue's current sliding window or a resolved calendar range.
type BlockRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Valid reports whether the range is usable: both ends >= 1 and Min <= Max.
func (r BlockRange) Valid() bool {
	return r.Min >= 1 && r.Min <= r.Max
}

// Span returns the number of blocks covered, inclusive.
func (r BlockRange) Span() int64 {
	return r.Max - r.Min + 1
}

// Contains reports whether the height falls inside the range.
func (r BlockRange) Contains(height int64) bool {
	return height >= r.Min && height <= r.Max
}
