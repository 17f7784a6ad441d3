package watchlist

import (
	"slices"
	"testing"
)

func TestMoveElement(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		want     []string
	}{
		{"forward", 0, 2, []string{"B", "C", "A", "D"}},
		{"backward", 3, 1, []string{"A", "D", "B", "C"}},
		{"same index", 2, 2, []string{"A", "B", "C", "D"}},
		{"out of range", 5, 0, []string{"A", "B", "C", "D"}},
		{"negative", -1, 0, []string{"A", "B", "C", "D"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []string{"A", "B", "C", "D"}
			got := MoveElement(in, tt.from, tt.to)
			if !slices.Equal(got, tt.want) {
				t.Errorf("MoveElement(%d, %d) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
			if !slices.Equal(in, []string{"A", "B", "C", "D"}) {
				t.Errorf("input was modified: %v", in)
			}
		})
	}
}

func TestMoveElementInverse(t *testing.T) {
	in := []int{1, 2, 3, 4, 5}
	for from := range in {
		for to := range in {
			moved := MoveElement(in, from, to)
			if back := MoveElement(moved, to, from); !slices.Equal(back, in) {
				t.Errorf("move(%d,%d) then back = %v, want %v", from, to, back, in)
			}
		}
	}
}

func TestIsPermutation(t *testing.T) {
	if !isPermutation([]int{1, 2, 3}, []int{3, 1, 2}) {
		t.Error("expected [3 1 2] to be a permutation of [1 2 3]")
	}
	if isPermutation([]int{1, 2, 3}, []int{1, 1, 2}) {
		t.Error("repeats must not count as a permutation")
	}
	if isPermutation([]int{1, 2, 3}, []int{1, 2}) {
		t.Error("short order must not count as a permutation")
	}
	if !isPermutation([]string{}, nil) {
		t.Error("empty orders should match")
	}
}
