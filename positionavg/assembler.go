package positionavg

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/travisdriver/gosfm/viewgraph"
)

// linearIndex locates a view inside the reduced linear system. The pinned
// view is excluded from the matrix entirely (its position is the origin), so
// it carries no numeric index at all rather than a -1 sentinel.
type linearIndex struct {
	pinned bool
	index  int
}

// offset returns the view's first scalar row/column in the reduced system.
// Only valid for mapped views.
func (li linearIndex) offset() int {
	return 3 * li.index
}

// assignLinearIndex gives the view a slot in the linear system on first
// sight. The very first view is pinned at the origin, removing the global
// translation ambiguity.
func (e *Estimator) assignLinearIndex(vID viewgraph.ViewID) {
	if _, ok := e.linearIndex[vID]; ok {
		return
	}
	if len(e.linearIndex) == 0 {
		e.linearIndex[vID] = linearIndex{pinned: true}
		return
	}
	e.linearIndex[vID] = linearIndex{index: len(e.linearIndex) - 1}
}

// createLinearSystem accumulates every triplet's Row^t*Row contribution into
// the symmetric matrix A^t*A of size 3*(N-1). With the triplet row written as
// the block matrix Row = [C|B|D] over the (left, middle, right) column
// offsets, the contribution decomposes into 3x3 blocks
// constraints[i]^t*constraints[j]; only the upper triangle (by view offset)
// is accumulated, and blocks touching the pinned view are dropped.
func (e *Estimator) createLinearSystem() (*mat.SymDense, error) {
	numViews := len(e.linearIndex)
	if numViews < 2 {
		return nil, errors.Errorf("only %d views received triplet constraints", numViews)
	}

	entries := make(map[[2]int]float64, 27*numViews)
	for _, con := range e.constraints {
		indices := [3]linearIndex{
			e.linearIndex[con.triplet.BaseLeft],
			e.linearIndex[con.triplet.Middle],
			e.linearIndex[con.triplet.BaseRight],
		}
		coeffs := [3]*mat.Dense{con.blocks.c, con.blocks.b, con.blocks.d}
		addTripletToSymmetricEntries(coeffs, indices, entries)
	}

	size := 3 * (numViews - 1)
	system := mat.NewSymDense(size, nil)
	for key, val := range entries {
		row, col := key[0], key[1]
		if row <= col {
			system.SetSym(row, col, val)
		}
	}
	return system, nil
}

// addTripletToSymmetricEntries adds one triplet's block outer product to the
// accumulator. Purely additive: assembly never subtracts or overwrites.
func addTripletToSymmetricEntries(
	coeffs [3]*mat.Dense,
	indices [3]linearIndex,
	entries map[[2]int]float64,
) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if indices[i].pinned || indices[j].pinned {
				continue
			}
			// The lower triangular blocks are implied by symmetry.
			if indices[i].offset() > indices[j].offset() {
				continue
			}
			var block mat.Dense
			block.Mul(coeffs[i].T(), coeffs[j])
			for r := 0; r < 3; r++ {
				for c := 0; c < 3; c++ {
					key := [2]int{indices[i].offset() + r, indices[j].offset() + c}
					entries[key] += block.At(r, c)
				}
			}
		}
	}
}
