package taskpool

import "golang.org/x/exp/constraints"

// ring is an append-at-tail, trim-at-head circular buffer, backing a
// [Group]'s recorded invocation-start timestamps: a monotonically
// non-decreasing sequence, purged lazily before each readiness query.
// Appends are always at the current maximum ([Clock.Now] is non-decreasing
// and starts are recorded in the order invocations begin), so no sorted
// insert or search is needed.
type ring[E constraints.Ordered] struct {
	s    []E
	r, w uint
}

func (x *ring[E]) mask(v uint) uint {
	return v & (uint(len(x.s)) - 1)
}

// Len returns the number of elements currently buffered.
func (x *ring[E]) Len() int {
	return int(x.w - x.r)
}

// Get returns the i'th oldest element (0 is the oldest).
func (x *ring[E]) Get(i int) E {
	if i < 0 || i >= x.Len() {
		panic(`taskpool: ring: get: index out of range`)
	}
	return x.s[x.mask(x.r+uint(i))]
}

// Append adds a new, newest element.
func (x *ring[E]) Append(v E) {
	if x.Len() == len(x.s) {
		x.grow()
	}
	x.s[x.mask(x.w)] = v
	x.w++
}

// RemoveBefore discards the first n (oldest) elements.
func (x *ring[E]) RemoveBefore(n int) {
	if n < 0 || n > x.Len() {
		panic(`taskpool: ring: remove before: index out of range`)
	}
	x.r += uint(n)
	if x.r == x.w {
		// reset offsets once empty, so a long-lived idle group doesn't keep
		// wrapping around an arbitrarily large backing array
		x.r, x.w = 0, 0
	}
}

func (x *ring[E]) grow() {
	newCap := len(x.s) * 2
	if newCap == 0 {
		newCap = 8
	}
	l := x.Len()
	ns := make([]E, newCap)
	for i := 0; i < l; i++ {
		ns[i] = x.Get(i)
	}
	x.s = ns
	x.r = 0
	x.w = uint(l)
}
