// Package ipalloc allocates integer offsets from a bounded range,
// tracking the free pool as a set of disjoint closed intervals. The
// network manager maps offsets onto guest IP addresses.
package ipalloc

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrOutOfRange is returned when freeing an offset outside the
	// allocator's configured range.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrNotAllocated is returned when freeing an offset that is already
	// in the free pool. Double frees indicate a lease accounting bug in
	// the caller and are never silently absorbed.
	ErrNotAllocated = errors.New("offset not allocated")
)

// interval is a closed range [start, end] of free offsets.
type interval struct {
	start, end int
}

// Allocator hands out the numerically smallest free offset in [1, max].
// The free pool is kept as disjoint intervals sorted by end, so Allocate
// is a pop from the front and Free is an insert followed by one
// coalescing pass.
//
// Allocator is not safe for concurrent use; callers serialize access
// (the network manager holds its own lock around allocate/free).
type Allocator struct {
	max  int
	free []interval // disjoint, sorted ascending by end
}

// New creates an allocator over the offsets 1..max inclusive.
func New(max int) *Allocator {
	return &Allocator{
		max:  max,
		free: []interval{{start: 1, end: max}},
	}
}

// Allocate returns the smallest free offset, or false if the range is
// exhausted. Exhaustion is an expected condition, not an error.
func (a *Allocator) Allocate() (int, bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	// The interval with the smallest end also holds the smallest start,
	// since intervals are disjoint.
	iv := a.free[0]
	if iv.start == iv.end {
		a.free = a.free[1:]
	} else {
		a.free[0].start++
	}
	return iv.start, true
}

// Free returns an offset to the pool. Freeing an offset outside the range
// or one that is already free is a usage error.
func (a *Allocator) Free(offset int) error {
	if offset < 1 || offset > a.max {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrOutOfRange, offset, a.max)
	}
	idx := sort.Search(len(a.free), func(i int) bool { return a.free[i].end >= offset })
	if idx < len(a.free) && a.free[idx].start <= offset {
		return fmt.Errorf("%w: %d", ErrNotAllocated, offset)
	}

	a.free = append(a.free, interval{})
	copy(a.free[idx+1:], a.free[idx:])
	a.free[idx] = interval{start: offset, end: offset}
	a.coalesce()
	return nil
}

// coalesce merges adjacent intervals in a single left-to-right pass.
// Chains of any length collapse because the merged interval keeps
// absorbing its right neighbor.
func (a *Allocator) coalesce() {
	if len(a.free) <= 1 {
		return
	}
	out := a.free[:1]
	for _, iv := range a.free[1:] {
		last := &out[len(out)-1]
		if last.end+1 == iv.start {
			last.end = iv.end
		} else {
			out = append(out, iv)
		}
	}
	a.free = out
}

// FreeCount reports how many offsets are currently free.
func (a *Allocator) FreeCount() int {
	n := 0
	for _, iv := range a.free {
		n += iv.end - iv.start + 1
	}
	return n
}

// intervals exposes the internal free set for tests.
func (a *Allocator) intervals() []interval {
	return a.free
}
