// Package reconcile computes the reconciled loop length for a RiffSet: the
// smallest positive integer number of beats in which every participating
// riff completes a whole number of repeats (spec §4.1). This is the
// direct descendant of the teacher's internal/ticks "sum child lengths"
// walk, generalized from summation to the divisor-enumeration algorithm
// the spec calls for.
package reconcile

import (
	"sort"

	"github.com/schollz/riffengine/internal/model"
)

// Length computes the reconciled length for a RiffSet: given the song
// that owns it (for track/riff resolution), form the product of the
// distinct positive riff lengths referenced by the set, enumerate that
// product's divisors in ascending order, and return the smallest divisor
// that every distinct length evenly divides. Invalid riff-reference slots
// (dangling track or riff id) are skipped, matching spec §7's "invalid
// references are skipped during compilation, not fatal". An empty set (no
// resolvable riff references) reconciles to 0.
func Length(song *model.Song, set *model.RiffSet) int {
	idx := model.BuildIndex(song)
	return LengthWithIndex(idx, set)
}

// LengthWithIndex is Length with a pre-built Index, for callers (the
// transport, the compiler) that already have one and want to avoid
// rebuilding it per riff set.
func LengthWithIndex(idx *model.Index, set *model.RiffSet) int {
	lengths := DistinctRiffLengths(idx, set)
	return LCF(lengths)
}

// DistinctRiffLengths resolves every track's riff reference in the set to
// a positive integer beat length, deduplicated. The order follows the
// iteration of the set's Refs map and is not defined.
func DistinctRiffLengths(idx *model.Index, set *model.RiffSet) []int {
	seen := make(map[int]bool)
	var lengths []int
	for trackID, ref := range set.Refs {
		if idx.Track(trackID) == nil {
			continue
		}
		riff := idx.Riff(ref.RiffID)
		if riff == nil || riff.LengthBeats <= 0 {
			continue
		}
		l := int(riff.LengthBeats)
		if !seen[l] {
			seen[l] = true
			lengths = append(lengths, l)
		}
	}
	return lengths
}

// LCF returns the lowest common factor (LCM) of a list of positive
// integers per spec §4.1's divisor-enumeration definition:
//  1. P = product of the distinct lengths.
//  2. Enumerate divisors of P.
//  3. Keep each divisor d, ascending, iff every length divides d.
//  4. Return the smallest such d.
//
// LCF({}) = 0. LCF({n}) = n. The result is idempotent and symmetric in
// input order, and equals the maximum element when every other length
// divides it (e.g. LCF({2, 4, 8}) = 8, but LCF({2, 4, 6}) = 12).
func LCF(lengths []int) int {
	if len(lengths) == 0 {
		return 0
	}

	distinct := dedupe(lengths)
	if len(distinct) == 1 {
		return distinct[0]
	}

	product := 1
	for _, l := range distinct {
		product *= l
	}

	divisors := divisorsOf(product)
	sort.Ints(divisors)

	for _, d := range divisors {
		if divisibleByAll(d, distinct) {
			return d
		}
	}
	// Unreachable: product itself always divides by every length that
	// was multiplied into it.
	return product
}

func dedupe(lengths []int) []int {
	seen := make(map[int]bool, len(lengths))
	out := make([]int, 0, len(lengths))
	for _, l := range lengths {
		if l <= 0 || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func divisorsOf(n int) []int {
	var divs []int
	for i := 1; i*i <= n; i++ {
		if n%i == 0 {
			divs = append(divs, i)
			if j := n / i; j != i {
				divs = append(divs, j)
			}
		}
	}
	return divs
}

func divisibleByAll(d int, lengths []int) bool {
	for _, l := range lengths {
		if d%l != 0 {
			return false
		}
	}
	return true
}
