package core

import "fmt"

// MaxElements bounds the element count of a single group.
const MaxElements = 1 << 30

// maxArenaLen bounds the total number of float64 slots a group may hold
// across all of its variables.
const maxArenaLen = 1 << 30

// arena is the single backing buffer of a group. Each variable is a
// capacity-capped window of n consecutive slots, so appending to one
// variable's slice can never spill into its neighbour.
type arena struct {
	buf    []float64
	n      int
	arrays map[string][]float64
}

func newArena(n int, names []string) (a *arena, err error) {
	if n > MaxElements {
		return nil, fmt.Errorf("%w: %d elements exceeds limit of %d", ErrAllocationFailure, n, MaxElements)
	}
	total := n * len(names)
	if len(names) != 0 && (total/len(names) != n || total > maxArenaLen) {
		return nil, fmt.Errorf("%w: %d variables of %d elements exceeds arena limit", ErrAllocationFailure, len(names), n)
	}

	defer func() {
		if r := recover(); r != nil {
			a, err = nil, fmt.Errorf("%w: %v", ErrAllocationFailure, r)
		}
	}()
	buf := make([]float64, total)

	arrays := make(map[string][]float64, len(names))
	for k, name := range names {
		lo, hi := k*n, (k+1)*n
		arrays[name] = buf[lo:hi:hi]
	}
	return &arena{buf: buf, n: n, arrays: arrays}, nil
}

func (a *arena) zero() {
	clear(a.buf)
}

func (a *arena) fill(name string, v float64) {
	arr := a.arrays[name]
	for i := range arr {
		arr[i] = v
	}
}
