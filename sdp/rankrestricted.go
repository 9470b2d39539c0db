package sdp

import (
	"math/rand"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RankRestrictedSolver is the low-rank block-coordinate solver. Instead of the
// full primal X it factors X = Y^t*Y with Y of shape (rank x dim*n), every
// block Y_i having orthonormal columns, and updates one block at a time by
// projecting the block gradient back onto the Stiefel manifold.
type RankRestrictedSolver struct {
	n, dim, rank int
	opts         Options
	q            *mat.Dense
	adj          map[int][]int
	y            *mat.Dense
}

// NewRankRestrictedSolver returns a rank-restricted solver for n blocks of
// size dim, at the rank given in opts (dim+1 when unset).
func NewRankRestrictedSolver(n, dim int, opts Options) *RankRestrictedSolver {
	rank := opts.Rank
	if rank < dim {
		rank = dim + 1
	}
	s := &RankRestrictedSolver{n: n, dim: dim, rank: rank, opts: opts}
	s.y = randomStiefelBlocks(rank, n, dim)
	return s
}

// SetCovariance provides the cost matrix.
func (s *RankRestrictedSolver) SetCovariance(q *mat.Dense) { s.q = q }

// SetAdjacentEdges provides the graph adjacency lists.
func (s *RankRestrictedSolver) SetAdjacentEdges(adj map[int][]int) { s.adj = adj }

// NumUnknowns returns the block count.
func (s *RankRestrictedSolver) NumUnknowns() int { return s.n }

// Rank returns the current factor rank.
func (s *RankRestrictedSolver) Rank() int { return s.rank }

// Solution anchors the factor at the first block: block i of the returned
// (dim x dim*n) matrix is Y_0^t * Y_i.
func (s *RankRestrictedSolver) Solution() *mat.Dense {
	anchor := s.y.Slice(0, s.rank, 0, s.dim)
	sol := mat.NewDense(s.dim, s.dim*s.n, nil)
	sol.Mul(anchor.T(), s.y)
	return sol
}

// augmentRank lifts the factor into one more dimension, keeping the current
// iterate as a warm start. Used by the Riemannian staircase.
func (s *RankRestrictedSolver) augmentRank() {
	lifted := mat.NewDense(s.rank+1, s.dim*s.n, nil)
	lifted.Slice(0, s.rank, 0, s.dim*s.n).(*mat.Dense).Copy(s.y)
	s.rank++
	s.y = lifted
}

// Solve runs block-coordinate sweeps until the objective stops moving.
func (s *RankRestrictedSolver) Solve(logger golog.Logger) (Summary, error) {
	summary := Summary{Begin: time.Now()}
	if s.q == nil {
		return summary, errors.New("covariance not set")
	}
	curVal := s.funcVal()
	for iter := 0; iter < s.opts.MaxIterations; iter++ {
		for k := 0; k < s.n; k++ {
			s.updateBlock(k)
		}
		prevVal := curVal
		curVal = s.funcVal()
		summary.TotalIterations = iter + 1
		if sweepConverged(prevVal, curVal, s.opts.Tolerance) {
			summary.End = time.Now()
			logger.Debugf("rank-restricted solver converged after %d sweeps at rank %d, objective %v",
				summary.TotalIterations, s.rank, curVal)
			return summary, nil
		}
	}
	summary.End = time.Now()
	return summary, errors.Wrapf(ErrNotConverged, "rank-restricted solver used all %d sweeps", s.opts.MaxIterations)
}

// funcVal evaluates tr(Q * Y^t * Y) without forming Y^t * Y.
func (s *RankRestrictedSolver) funcVal() float64 {
	var yq mat.Dense
	yq.Mul(s.y, s.q)
	return frobInner(&yq, s.y)
}

// updateBlock minimizes the objective over Y_k alone. The block's linear term
// is W = sum_j Y_j * Q_{jk}; the Stiefel-constrained minimizer of
// 2*tr(Y_k^t W) is -U*V^t from the thin SVD of W.
func (s *RankRestrictedSolver) updateBlock(k int) {
	d := s.dim
	// The covariance has empty diagonal blocks, so Y * Q's k-th block column
	// has no Y_k term.
	qk := s.q.Slice(0, d*s.n, k*d, (k+1)*d)
	var w mat.Dense
	w.Mul(s.y, qk)

	var svd mat.SVD
	if !svd.Factorize(&w, mat.SVDThin) {
		return
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var yk mat.Dense
	yk.Mul(&u, v.T())
	yk.Scale(-1, &yk)
	s.y.Slice(0, s.rank, k*d, (k+1)*d).(*mat.Dense).Copy(&yk)
}

// randomStiefelBlocks builds a (rank x dim*n) factor whose blocks are random
// orthonormal frames. A fixed seed keeps runs reproducible.
func randomStiefelBlocks(rank, n, dim int) *mat.Dense {
	//nolint:gosec
	rnd := rand.New(rand.NewSource(42))
	y := mat.NewDense(rank, dim*n, nil)
	for k := 0; k < n; k++ {
		block := mat.NewDense(rank, dim, nil)
		for i := 0; i < rank; i++ {
			for j := 0; j < dim; j++ {
				block.Set(i, j, rnd.NormFloat64())
			}
		}
		var svd mat.SVD
		// A Gaussian block is almost surely full rank, so the thin SVD exists.
		svd.Factorize(block, mat.SVDThin)
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		var frame mat.Dense
		frame.Mul(&u, v.T())
		y.Slice(0, rank, k*dim, (k+1)*dim).(*mat.Dense).Copy(&frame)
	}
	return y
}
