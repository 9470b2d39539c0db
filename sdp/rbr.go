package sdp

import (
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RBRSolver is the row-by-row block-coordinate-minimization solver. It keeps
// the full primal matrix X (dim*n x dim*n) and, one block row at a time,
// replaces the off-diagonal entries with the closed-form minimizer that keeps
// X positive semidefinite with identity diagonal blocks.
type RBRSolver struct {
	n, dim int
	opts   Options
	q      *mat.Dense
	adj    map[int][]int
	x      *mat.Dense
}

// NewRBRSolver returns an RBR solver for n blocks of size dim.
func NewRBRSolver(n, dim int, opts Options) *RBRSolver {
	s := &RBRSolver{n: n, dim: dim, opts: opts}
	s.x = identityBlocks(n, dim)
	return s
}

// SetCovariance provides the cost matrix.
func (s *RBRSolver) SetCovariance(q *mat.Dense) { s.q = q }

// SetAdjacentEdges provides the graph adjacency lists.
func (s *RBRSolver) SetAdjacentEdges(adj map[int][]int) { s.adj = adj }

// NumUnknowns returns the block count.
func (s *RBRSolver) NumUnknowns() int { return s.n }

// Solution returns the first block row of X.
func (s *RBRSolver) Solution() *mat.Dense {
	sol := mat.NewDense(s.dim, s.dim*s.n, nil)
	sol.Copy(s.x.Slice(0, s.dim, 0, s.dim*s.n))
	return sol
}

// Solve runs block-coordinate sweeps until the objective stops moving.
func (s *RBRSolver) Solve(logger golog.Logger) (Summary, error) {
	summary := Summary{Begin: time.Now()}
	if s.q == nil {
		return summary, errors.New("covariance not set")
	}
	curVal := frobInner(s.q, s.x)
	for iter := 0; iter < s.opts.MaxIterations; iter++ {
		for k := 0; k < s.n; k++ {
			s.updateBlockRow(k)
		}
		prevVal := curVal
		curVal = frobInner(s.q, s.x)
		summary.TotalIterations = iter + 1
		if sweepConverged(prevVal, curVal, s.opts.Tolerance) {
			summary.End = time.Now()
			logger.Debugf("RBR converged after %d sweeps, objective %v", summary.TotalIterations, curVal)
			return summary, nil
		}
	}
	summary.End = time.Now()
	return summary, errors.Wrapf(ErrNotConverged, "RBR used all %d sweeps", s.opts.MaxIterations)
}

// updateBlockRow solves the RBR subproblem for block k: with
// B = X_{-k,-k} and c = Q_{-k,k}, the minimizer is
// X_{-k,k} = -B*c*(c^t*B*c)^{-1/2}, which saturates the Schur complement and
// is therefore the largest feasible step.
func (s *RBRSolver) updateBlockRow(k int) {
	d := s.dim
	m := d * (s.n - 1)
	rows := complementIndices(s.n, d, k)

	b := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			b.Set(i, j, s.x.At(rows[i], rows[j]))
		}
	}
	c := mat.NewDense(m, d, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < d; j++ {
			c.Set(i, j, s.q.At(rows[i], k*d+j))
		}
	}

	var bc mat.Dense
	bc.Mul(b, c)
	var gram mat.Dense
	gram.Mul(c.T(), &bc)

	inv, ok := invSqrtSym(&gram)
	var step *mat.Dense
	if !ok {
		// Degenerate subproblem; the only feasible stationary choice is zero.
		step = mat.NewDense(m, d, nil)
	} else {
		step = mat.NewDense(m, d, nil)
		step.Mul(&bc, inv)
		step.Scale(-1, step)
	}

	for i := 0; i < m; i++ {
		for j := 0; j < d; j++ {
			s.x.Set(rows[i], k*d+j, step.At(i, j))
			s.x.Set(k*d+j, rows[i], step.At(i, j))
		}
	}
}

// identityBlocks returns a dim*n square matrix with identity diagonal blocks.
func identityBlocks(n, dim int) *mat.Dense {
	x := mat.NewDense(dim*n, dim*n, nil)
	for i := 0; i < dim*n; i++ {
		x.Set(i, i, 1)
	}
	return x
}

// complementIndices lists the scalar indices of every block except k.
func complementIndices(n, dim, k int) []int {
	idx := make([]int, 0, dim*(n-1))
	for i := 0; i < n; i++ {
		if i == k {
			continue
		}
		for j := 0; j < dim; j++ {
			idx = append(idx, i*dim+j)
		}
	}
	return idx
}

// invSqrtSym returns the pseudo inverse square root of a small symmetric PSD
// matrix, and false if the matrix is numerically zero.
func invSqrtSym(g *mat.Dense) (*mat.Dense, bool) {
	d, _ := g.Dims()
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sym.SetSym(i, j, 0.5*(g.At(i, j)+g.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, false
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	const eps = 1e-14
	anyPositive := false
	scaled := mat.NewDense(d, d, nil)
	for j := 0; j < d; j++ {
		w := 0.0
		if vals[j] > eps {
			w = 1 / math.Sqrt(vals[j])
			anyPositive = true
		}
		for i := 0; i < d; i++ {
			scaled.Set(i, j, vecs.At(i, j)*w)
		}
	}
	if !anyPositive {
		return nil, false
	}
	out := mat.NewDense(d, d, nil)
	out.Mul(scaled, vecs.T())
	return out, true
}
