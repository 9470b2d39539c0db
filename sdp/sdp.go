// Package sdp implements the family of semidefinite-program solvers used for
// rotation synchronization. All solvers minimize tr(Q*X) over block-diagonal-
// identity positive-semidefinite X, differing only in how they search: full
// block-coordinate descent, a rank-restricted variant, or a rank-escalating
// Riemannian staircase.
package sdp

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// SolverKind selects a concrete solver strategy.
type SolverKind string

// The supported solver strategies.
const (
	KindRBR                 = SolverKind("rbr")
	KindRankRestricted      = SolverKind("rank-restricted")
	KindRiemannianStaircase = SolverKind("riemannian-staircase")
)

// ErrNotConverged is wrapped by solvers that run out of iterations before
// meeting their tolerance.
var ErrNotConverged = errors.New("solver did not converge")

// Options configures a solver.
type Options struct {
	Kind          SolverKind `json:"solver"`
	MaxIterations int        `json:"max_iterations"`
	// Tolerance is the relative function-value decrease below which a
	// block-coordinate sweep is considered converged.
	Tolerance float64 `json:"tolerance"`
	// Rank is the starting factor rank of the rank-restricted solver. Zero
	// means dim+1.
	Rank int `json:"rank"`
	// MaxRank caps the Riemannian staircase's rank escalation.
	MaxRank int `json:"max_rank"`
	// EigenTolerance decides when the staircase's certificate eigenvalue is
	// close enough to zero for the relaxation to be declared tight.
	EigenTolerance float64 `json:"eigen_tolerance"`
}

// DefaultOptions returns the options used when the caller has no opinion.
func DefaultOptions() Options {
	return Options{
		Kind:           KindRBR,
		MaxIterations:  500,
		Tolerance:      1e-8,
		MaxRank:        10,
		EigenTolerance: 1e-6,
	}
}

// LoadOptions reads solver options from a json file, filling unset fields
// with defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	//nolint:gosec
	optsFile, err := os.Open(path)
	if err != nil {
		return opts, err
	}
	defer utils.UncheckedErrorFunc(optsFile.Close)
	if err := json.NewDecoder(optsFile).Decode(&opts); err != nil {
		return opts, errors.Wrap(err, "error parsing solver options")
	}
	return opts, nil
}

// Summary reports how a solve went.
type Summary struct {
	TotalIterations int
	Begin           time.Time
	End             time.Time
}

// TotalTime returns the wall-clock solve duration in milliseconds.
func (s Summary) TotalTime() float64 {
	return float64(s.End.Sub(s.Begin)) / float64(time.Millisecond)
}

// Solver is the strategy interface shared by all SDP solvers.
type Solver interface {
	// SetCovariance provides the (dim*n x dim*n) cost matrix Q.
	SetCovariance(q *mat.Dense)
	// SetAdjacentEdges provides the adjacency lists of the underlying graph,
	// keyed by matrix block index.
	SetAdjacentEdges(adj map[int][]int)
	// Solve runs the strategy to convergence.
	Solve(logger golog.Logger) (Summary, error)
	// Solution returns the (dim x dim*n) block row of the solution matrix
	// anchored at the first block; block i holds the i-th frame.
	Solution() *mat.Dense
	// NumUnknowns returns the number of dim x dim blocks being solved for.
	NumUnknowns() int
}

// NewSolver builds the solver selected by opts.Kind. Unknown kinds are a
// configuration error, not a fallback.
func NewSolver(n, dim int, opts Options) (Solver, error) {
	if n <= 0 || dim <= 0 {
		return nil, errors.Errorf("solver needs positive dimensions, got n=%d dim=%d", n, dim)
	}
	switch opts.Kind {
	case KindRBR:
		return NewRBRSolver(n, dim, opts), nil
	case KindRankRestricted:
		return NewRankRestrictedSolver(n, dim, opts), nil
	case KindRiemannianStaircase:
		return NewRiemannianStaircase(n, dim, opts), nil
	default:
		return nil, errors.Errorf("unsupported SDP solver kind %q", opts.Kind)
	}
}

// frobInner returns <a, b> = tr(a^t * b).
func frobInner(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += a.At(i, j) * b.At(i, j)
		}
	}
	return sum
}

// sweepConverged implements the shared stopping rule: relative change of the
// objective between sweeps.
func sweepConverged(prev, cur, tol float64) bool {
	return math.Abs(cur-prev)/math.Max(math.Abs(prev), 1.0) <= tol
}
