// Package rotationavg implements global rotation averaging: pairwise relative
// rotations are fused into one world-to-camera rotation per view through the
// Lagrange-dual semidefinite relaxation of rotation synchronization.
package rotationavg

import (
	"sort"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/travisdriver/gosfm/sdp"
	"github.com/travisdriver/gosfm/viewgraph"
)

const dim = 3

// Estimator fuses pairwise relative rotations into global per-view rotations.
// It holds per-run bookkeeping only; a fresh run resets it.
type Estimator struct {
	opts          sdp.Options
	viewIDToIndex map[viewgraph.ViewID]int
	summary       sdp.Summary
	errorBound    float64
}

// NewEstimator returns an estimator using the given SDP solver options.
func NewEstimator(opts sdp.Options) *Estimator {
	return &Estimator{opts: opts}
}

// SetViewIDToIndex overrides the view-to-block-index mapping. When unset, an
// ascending-ID mapping is derived from the input orientations.
func (e *Estimator) SetViewIDToIndex(viewIDToIndex map[viewgraph.ViewID]int) {
	e.viewIDToIndex = viewIDToIndex
}

// Summary reports the last solve's iteration count and wall time.
func (e *Estimator) Summary() sdp.Summary {
	return e.summary
}

// EstimateRotations solves for a globally consistent rotation per view and
// writes the results into orientations in place. On error the input map is
// left untouched.
func (e *Estimator) EstimateRotations(
	pairs map[viewgraph.PairKey]viewgraph.ViewPair,
	orientations map[viewgraph.ViewID]r3.Vector,
	logger golog.Logger,
) error {
	if len(pairs) == 0 {
		return errors.New("no view pairs to average")
	}
	if len(orientations) == 0 {
		return errors.New("no views to average")
	}
	for key := range pairs {
		if _, ok := orientations[key.First]; !ok {
			return errors.Errorf("view pair (%d, %d) references unknown view %d", key.First, key.Second, key.First)
		}
		if _, ok := orientations[key.Second]; !ok {
			return errors.Errorf("view pair (%d, %d) references unknown view %d", key.First, key.Second, key.Second)
		}
	}
	if err := checkConnected(pairs, orientations); err != nil {
		return err
	}

	if len(e.viewIDToIndex) == 0 {
		e.viewIDToIndex = viewIDToAscendingIndex(orientations)
	}
	n := len(orientations)

	relGraph, adjEdges := fillRelativeGraph(pairs, e.viewIDToIndex, n)

	solver, err := sdp.NewSolver(n, dim, e.opts)
	if err != nil {
		return err
	}
	// The solver minimizes tr(Q*X); the synchronization objective maximizes
	// agreement with the relative rotations, hence the negation.
	var covariance mat.Dense
	covariance.Scale(-1, relGraph)
	solver.SetCovariance(&covariance)
	solver.SetAdjacentEdges(adjEdges)

	summary, err := solver.Solve(logger)
	e.summary = summary
	if err != nil {
		return errors.Wrap(err, "rotation averaging failed")
	}

	retrieveRotations(solver.Solution(), e.viewIDToIndex, orientations)

	logger.Infof("rotation averaging converged in %d iterations (%.2f ms)",
		summary.TotalIterations, summary.TotalTime())
	return nil
}

// fillRelativeGraph builds the block-sparse 3N x 3N matrix whose (i, j) block
// is R_ij^t and whose (j, i) block is R_ij, plus the adjacency lists keyed by
// block index. Diagonal blocks stay empty.
func fillRelativeGraph(
	pairs map[viewgraph.PairKey]viewgraph.ViewPair,
	viewIDToIndex map[viewgraph.ViewID]int,
	n int,
) (*mat.Dense, map[int][]int) {
	relGraph := mat.NewDense(dim*n, dim*n, nil)
	adjEdges := map[int][]int{}
	for key, pair := range pairs {
		i := viewIDToIndex[key.First]
		j := viewIDToIndex[key.Second]
		rij := viewgraph.AngleAxisToMatrix(pair.Rotation)
		for l := 0; l < dim; l++ {
			for r := 0; r < dim; r++ {
				relGraph.Set(dim*i+l, dim*j+r, rij.At(r, l))
				relGraph.Set(dim*j+l, dim*i+r, rij.At(l, r))
			}
		}
		adjEdges[i] = append(adjEdges[i], j)
		adjEdges[j] = append(adjEdges[j], i)
	}
	return relGraph, adjEdges
}

// retrieveRotations extracts each view's rotation from the solution block row:
// the transpose of its 3x3 block, sign-flipped into a proper rotation when the
// determinant is negative.
func retrieveRotations(
	solution *mat.Dense,
	viewIDToIndex map[viewgraph.ViewID]int,
	orientations map[viewgraph.ViewID]r3.Vector,
) {
	for viewID := range orientations {
		i := viewIDToIndex[viewID]
		rot := mat.NewDense(dim, dim, nil)
		rot.Copy(solution.Slice(0, dim, dim*i, dim*(i+1)).T())
		if mat.Det(rot) < 0 {
			rot.Scale(-1, rot)
		}
		orientations[viewID] = viewgraph.MatrixToAngleAxis(rot)
	}
}

// viewIDToAscendingIndex maps view ids to consecutive block indices in
// ascending id order.
func viewIDToAscendingIndex(orientations map[viewgraph.ViewID]r3.Vector) map[viewgraph.ViewID]int {
	ids := make([]viewgraph.ViewID, 0, len(orientations))
	for id := range orientations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make(map[viewgraph.ViewID]int, len(ids))
	for i, id := range ids {
		out[id] = i
	}
	return out
}
