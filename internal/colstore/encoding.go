// Package colstore implements the Column Store of spec.md §4.7: one
// header DBFile plus one data DBFile per column, each column's values
// packed into RLE, uncompressed, or dictionary-coded blocks chosen by a
// single-pass analyzer.
package colstore

import "fmt"

// Encoding selects how a column's values are packed into blocks.
type Encoding uint32

const (
	RLE Encoding = iota + 1
	Uncompressed
	Dictionary
)

func (e Encoding) String() string {
	switch e {
	case RLE:
		return "rle"
	case Uncompressed:
		return "uncompressed"
	case Dictionary:
		return "dictionary"
	default:
		return "unknown"
	}
}

// Stats summarizes a single-pass scan of a column's values, enough to
// pick an encoding per spec.md §4.7.
type Stats struct {
	Count         int
	Distinct      int
	RunCount      int // number of maximal runs of equal consecutive values
	MaxRunLength  int
	Monotonic     bool // values never decrease
}

// Locality is the fraction of values equal to their predecessor:
// `1 - runCount/count`, per spec.md §4.7's "locality > 0.75" threshold.
func (s Stats) Locality() float64 {
	if s.Count == 0 {
		return 0
	}
	return 1 - float64(s.RunCount)/float64(s.Count)
}

// DistinctRatio is distinct/count.
func (s Stats) DistinctRatio() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Distinct) / float64(s.Count)
}

// Analyze makes a single pass over values (in row order) computing Stats.
// equal reports whether two values are identical for run-length purposes;
// distinct values are counted by their fmt "%v" rendering.
func Analyze(values []interface{}, equal func(a, b interface{}) bool, less func(a, b interface{}) bool) Stats {
	var s Stats
	s.Count = len(values)
	if len(values) == 0 {
		return s
	}

	seen := map[string]bool{}
	s.Monotonic = true
	runLen := 1
	for i, v := range values {
		seen[sprintValue(v)] = true
		if i > 0 {
			if !equal(values[i-1], v) {
				s.RunCount++
				if runLen > s.MaxRunLength {
					s.MaxRunLength = runLen
				}
				runLen = 1
			} else {
				runLen++
			}
			if less != nil && less(v, values[i-1]) {
				s.Monotonic = false
			}
		}
	}
	s.RunCount++
	if runLen > s.MaxRunLength {
		s.MaxRunLength = runLen
	}
	s.Distinct = len(seen)
	return s
}

func sprintValue(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// ChooseEncoding applies spec.md §4.7's decision rule.
func ChooseEncoding(s Stats) Encoding {
	if s.Monotonic && s.Locality() > 0.75 {
		return RLE
	}
	if s.DistinctRatio() < 0.75 {
		return Dictionary
	}
	return Uncompressed
}
