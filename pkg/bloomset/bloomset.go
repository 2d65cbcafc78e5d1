// Package bloomset is a thin wrapper around bits-and-blooms/bloom/v3
// documenting the negative-lookup contract the context cache (C8)
// relies on: a Set sized for an expected cardinality and false-positive
// rate at construction, with Add/Test for the insert/check pair and a
// full Clear that rebuilds the filter rather than attempting to
// remove individual entries (standard bloom filters cannot un-insert
// without a counting variant, which this system doesn't need).
package bloomset

import "github.com/bits-and-blooms/bloom/v3"

// Set is a sized negative-lookup filter: Test reports "possibly
// present" (false positives allowed, false negatives never) or
// "definitely absent".
type Set struct {
	cardinality uint
	fpr         float64
	filter      *bloom.BloomFilter
}

// New sizes a Set for the given expected cardinality and target
// false-positive rate.
func New(cardinality uint, fpr float64) *Set {
	return &Set{
		cardinality: cardinality,
		fpr:         fpr,
		filter:      bloom.NewWithEstimates(cardinality, fpr),
	}
}

// Add records key as seen.
func (s *Set) Add(key string) {
	s.filter.AddString(key)
}

// Test reports whether key has possibly been added. A false result is
// a hard guarantee of absence; a true result may be a false positive.
func (s *Set) Test(key string) bool {
	return s.filter.TestString(key)
}

// Clear discards all recorded keys by rebuilding the filter at the
// same sizing parameters used at construction.
func (s *Set) Clear() {
	s.filter = bloom.NewWithEstimates(s.cardinality, s.fpr)
}
