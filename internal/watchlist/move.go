package watchlist

import "slices"

// MoveElement returns a copy of seq with the element at from relocated to
// index to. Every other element keeps its relative order. Out-of-range
// indexes return an unchanged copy.
func MoveElement[T any](seq []T, from, to int) []T {
	out := slices.Clone(seq)
	if from == to || from < 0 || from >= len(seq) || to < 0 || to >= len(seq) {
		return out
	}
	item := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, item)
}

// isPermutation reports whether got holds exactly the elements of want, each
// once, in any order.
func isPermutation[T comparable](want, got []T) bool {
	if len(want) != len(got) {
		return false
	}
	counts := make(map[T]int, len(want))
	for _, v := range want {
		counts[v]++
	}
	for _, v := range got {
		if counts[v] == 0 {
			return false
		}
		counts[v]--
	}
	return true
}
