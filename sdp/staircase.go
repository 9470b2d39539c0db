package sdp

import (
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RiemannianStaircase escalates the rank of a RankRestrictedSolver until the
// low-rank iterate certifies as a global optimum of the full SDP. At each
// rung it checks the dual certificate S = Q - Lambda, whose smallest
// eigenvalue must be (numerically) nonnegative for the relaxation to be
// tight.
type RiemannianStaircase struct {
	n, dim int
	opts   Options
	q      *mat.Dense
	adj    map[int][]int
	inner  *RankRestrictedSolver
}

// NewRiemannianStaircase returns a staircase solver for n blocks of size dim.
func NewRiemannianStaircase(n, dim int, opts Options) *RiemannianStaircase {
	return &RiemannianStaircase{n: n, dim: dim, opts: opts}
}

// SetCovariance provides the cost matrix.
func (s *RiemannianStaircase) SetCovariance(q *mat.Dense) { s.q = q }

// SetAdjacentEdges provides the graph adjacency lists.
func (s *RiemannianStaircase) SetAdjacentEdges(adj map[int][]int) { s.adj = adj }

// NumUnknowns returns the block count.
func (s *RiemannianStaircase) NumUnknowns() int { return s.n }

// Solution returns the last rung's anchored solution.
func (s *RiemannianStaircase) Solution() *mat.Dense {
	return s.inner.Solution()
}

// Solve climbs the staircase: solve at the current rank, certify, and lift the
// iterate one rank higher if the certificate fails.
func (s *RiemannianStaircase) Solve(logger golog.Logger) (Summary, error) {
	summary := Summary{Begin: time.Now()}
	if s.q == nil {
		return summary, errors.New("covariance not set")
	}
	maxRank := s.opts.MaxRank
	if maxRank <= s.dim {
		maxRank = s.dim + 3
	}

	s.inner = NewRankRestrictedSolver(s.n, s.dim, s.opts)
	s.inner.SetCovariance(s.q)
	s.inner.SetAdjacentEdges(s.adj)
	for {
		innerSummary, err := s.inner.Solve(logger)
		summary.TotalIterations += innerSummary.TotalIterations
		if err != nil {
			summary.End = time.Now()
			return summary, errors.Wrapf(err, "staircase rung at rank %d", s.inner.Rank())
		}

		minEig, err := s.certificateMinEigenvalue()
		if err != nil {
			summary.End = time.Now()
			return summary, err
		}
		if minEig >= -s.opts.EigenTolerance {
			summary.End = time.Now()
			logger.Debugf("staircase certified at rank %d, certificate eigenvalue %v", s.inner.Rank(), minEig)
			return summary, nil
		}
		if s.inner.Rank() >= maxRank {
			summary.End = time.Now()
			return summary, errors.Wrapf(ErrNotConverged,
				"staircase reached max rank %d with certificate eigenvalue %v", maxRank, minEig)
		}
		logger.Debugf("certificate eigenvalue %v at rank %d, escalating", minEig, s.inner.Rank())
		s.inner.augmentRank()
	}
}

// certificateMinEigenvalue forms S = Q - blockdiag(Lambda) with
// Lambda_k = sym((Q*X)_kk) for X = Y^t*Y and returns its smallest eigenvalue.
func (s *RiemannianStaircase) certificateMinEigenvalue() (float64, error) {
	d := s.dim
	size := d * s.n
	var x mat.Dense
	x.Mul(s.inner.y.T(), s.inner.y)
	var qx mat.Dense
	qx.Mul(s.q, &x)

	cert := mat.NewSymDense(size, nil)
	for i := 0; i < size; i++ {
		for j := i; j < size; j++ {
			cert.SetSym(i, j, 0.5*(s.q.At(i, j)+s.q.At(j, i)))
		}
	}
	for k := 0; k < s.n; k++ {
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				lam := 0.5 * (qx.At(k*d+i, k*d+j) + qx.At(k*d+j, k*d+i))
				cert.SetSym(k*d+i, k*d+j, cert.At(k*d+i, k*d+j)-lam)
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cert, false) {
		return 0, errors.New("certificate eigendecomposition failed")
	}
	vals := eig.Values(nil)
	// gonum returns eigenvalues in ascending order.
	return vals[0], nil
}
