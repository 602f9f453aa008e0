// Package mzround computes the per-level dispatch geometry of a Merkle tree build.
//
// Node offsets are heap indices: slot 1 is the root,
// the children of slot j are slots 2j and 2j+1,
// and the level directly above N leaves occupies slots [N/2, N).
package mzround

import (
	"fmt"
	"math/bits"
)

// RootIndex is the node slot holding the root.
const RootIndex = 1

// Plan describes the dispatches needed to reduce Leaves leaves to a root.
type Plan struct {
	Leaves    int
	GroupSize int
}

// NewPlan returns a Plan for the given leaf count and work group size.
// It panics if leaves is not a power of two of at least 2,
// or if groupSize is not a power of two dividing leaves/2.
// Callers validate user input before calling NewPlan.
func NewPlan(leaves, groupSize int) Plan {
	if leaves < 2 || !IsPowerOfTwo(leaves) {
		panic(fmt.Errorf("BUG: leaf count must be a power of two >= 2 (got %d)", leaves))
	}
	if groupSize <= 0 || !IsPowerOfTwo(groupSize) || groupSize > leaves/2 {
		panic(fmt.Errorf(
			"BUG: group size must be a power of two in [1, %d] (got %d)", leaves/2, groupSize,
		))
	}

	return Plan{Leaves: leaves, GroupSize: groupSize}
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Rounds is the number of dispatches after the leaf round,
// i.e. log2(Leaves/2).
func (p Plan) Rounds() int {
	return bits.TrailingZeros(uint(p.Leaves)) - 1
}

// Leaf returns the descriptor of round 0,
// which reads the leaf buffer and fills the level above the leaves.
func (p Plan) Leaf() Descriptor {
	half := p.Leaves / 2
	return Descriptor{
		Round:       0,
		ReadOffset:  0,
		WriteOffset: half,
		Items:       half,
		GroupSize:   p.GroupSize,
	}
}

// Round returns the descriptor of round r, for r in [1, Rounds()].
// Rounds read from and write to the same intermediate buffer.
func (p Plan) Round(r int) Descriptor {
	if r < 1 || r > p.Rounds() {
		panic(fmt.Errorf("BUG: round %d outside [1, %d]", r, p.Rounds()))
	}

	half := p.Leaves / 2
	items := half >> r
	return Descriptor{
		Round:       r,
		ReadOffset:  half >> (r - 1),
		WriteOffset: items,
		Items:       items,
		GroupSize:   min(p.GroupSize, items),
	}
}

// Descriptor is the geometry of one dispatch, in node units.
// Work item i combines nodes ReadOffset+2i and ReadOffset+2i+1
// into node WriteOffset+i.
type Descriptor struct {
	Round       int
	ReadOffset  int
	WriteOffset int
	Items       int
	GroupSize   int
}

// ReadRegion is the span of nodes the dispatch reads.
func (d Descriptor) ReadRegion() Region {
	return Region{Start: d.ReadOffset, Len: 2 * d.Items}
}

// WriteRegion is the span of nodes the dispatch writes.
func (d Descriptor) WriteRegion() Region {
	return Region{Start: d.WriteOffset, Len: d.Items}
}

// Groups is the number of work groups in the dispatch.
func (d Descriptor) Groups() int {
	return d.Items / d.GroupSize
}

// MustNotOverlap panics if the dispatch would read nodes it also writes.
// Only meaningful for rounds that share one buffer for input and output.
func (d Descriptor) MustNotOverlap() {
	if r, w := d.ReadRegion(), d.WriteRegion(); r.Overlaps(w) {
		panic(fmt.Errorf(
			"BUG: round %d read region %s overlaps write region %s", d.Round, r, w,
		))
	}
}

// Region is a half-open span of node slots [Start, Start+Len).
type Region struct {
	Start, Len int
}

func (r Region) End() int {
	return r.Start + r.Len
}

// Overlaps reports whether r and o share at least one slot.
func (r Region) Overlaps(o Region) bool {
	if r.Len == 0 || o.Len == 0 {
		return false
	}
	return r.Start < o.End() && o.Start < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End())
}
