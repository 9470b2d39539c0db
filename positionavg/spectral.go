package positionavg

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrEigenNotConverged is wrapped when the shift-invert iteration runs out of
// iterations.
var ErrEigenNotConverged = errors.New("shift-invert eigensolve did not converge")

// smallestEigenvector finds the eigenvector of the smallest-magnitude
// eigenvalue of the symmetric positive-semidefinite system by shift-invert
// power iteration around zero: factor the (possibly jittered) matrix once,
// then iterate solves, which converges to the dominant eigenpair of the
// inverse, i.e. the near-null direction of the original. Avoids a dense
// eigendecomposition of a matrix whose size grows with the camera count.
func smallestEigenvector(system *mat.SymDense, maxIterations int, tolerance float64) (*mat.VecDense, error) {
	size := system.SymmetricDim()

	chol, err := factorizeWithJitter(system)
	if err != nil {
		return nil, err
	}

	// A random start vector is almost surely not orthogonal to the target
	// eigenvector; the fixed seed keeps runs reproducible.
	//nolint:gosec
	rnd := rand.New(rand.NewSource(7))
	x := mat.NewVecDense(size, nil)
	for i := 0; i < size; i++ {
		x.SetVec(i, rnd.NormFloat64())
	}
	x.ScaleVec(1/mat.Norm(x, 2), x)

	y := mat.NewVecDense(size, nil)
	for iter := 0; iter < maxIterations; iter++ {
		if err := chol.SolveVecTo(y, x); err != nil {
			return nil, errors.Wrap(err, "shift-invert solve failed")
		}
		norm := mat.Norm(y, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, errors.New("shift-invert iteration produced a degenerate vector")
		}
		y.ScaleVec(1/norm, y)
		// The iterate direction stabilizes (up to sign) once converged.
		if 1-math.Abs(mat.Dot(x, y)) < tolerance {
			return y, nil
		}
		x.CopyVec(y)
	}
	return nil, errors.Wrapf(ErrEigenNotConverged, "after %d iterations", maxIterations)
}

// factorizeWithJitter computes a Cholesky factorization of the shifted
// system. The shift starts at zero; if the matrix is numerically singular
// (its smallest eigenvalue is the one we are after), a tiny diagonal jitter
// is escalated until the factorization holds.
func factorizeWithJitter(system *mat.SymDense) (*mat.Cholesky, error) {
	size := system.SymmetricDim()
	meanDiag := 0.0
	for i := 0; i < size; i++ {
		meanDiag += system.At(i, i)
	}
	meanDiag /= float64(size)
	if meanDiag <= 0 {
		meanDiag = 1
	}

	var chol mat.Cholesky
	if chol.Factorize(system) {
		return &chol, nil
	}
	jitter := 1e-14 * meanDiag
	for attempt := 0; attempt < 6; attempt++ {
		shifted := mat.NewSymDense(size, nil)
		shifted.CopySym(system)
		for i := 0; i < size; i++ {
			shifted.SetSym(i, i, shifted.At(i, i)+jitter)
		}
		if chol.Factorize(shifted) {
			return &chol, nil
		}
		jitter *= 100
	}
	return nil, errors.New("shifted system is singular beyond tolerance")
}
