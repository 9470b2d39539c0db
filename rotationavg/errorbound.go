package rotationavg

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/travisdriver/gosfm/viewgraph"
)

// ComputeErrorBound returns a theoretical bound on the angular estimation
// error from the algebraic connectivity (second-smallest Laplacian
// eigenvalue) of the view-pair graph and its maximum vertex degree:
//
//	alpha_max = 2 * asin(sqrt(1/4 + lambda_2 / (2 * d_max)) - 1/2)
//
// It is a diagnostic; estimation does not depend on it.
func (e *Estimator) ComputeErrorBound(pairs map[viewgraph.PairKey]viewgraph.ViewPair) (float64, error) {
	if len(pairs) == 0 {
		return 0, errors.New("no view pairs")
	}
	viewIDToIndex := e.viewIDToIndex
	if len(viewIDToIndex) == 0 {
		return 0, errors.New("no view index mapping; run EstimateRotations first")
	}
	n := len(viewIDToIndex)

	degrees := make([]float64, n)
	for key := range pairs {
		degrees[viewIDToIndex[key.First]]++
		degrees[viewIDToIndex[key.Second]]++
	}
	maxDegree := 0.0
	for _, d := range degrees {
		maxDegree = math.Max(maxDegree, d)
	}

	laplacian := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		laplacian.SetSym(i, i, degrees[i])
	}
	for key := range pairs {
		i := viewIDToIndex[key.First]
		j := viewIDToIndex[key.Second]
		laplacian.SetSym(i, j, -1)
	}

	var eig mat.EigenSym
	if !eig.Factorize(laplacian, false) {
		return 0, errors.New("Laplacian eigendecomposition failed")
	}
	vals := eig.Values(nil)
	// Eigenvalues come back ascending; vals[1] is the algebraic connectivity.
	lambda2 := vals[1]

	arg := math.Sqrt(0.25+lambda2/(2*maxDegree)) - 0.5
	if arg > 1 {
		arg = 1
	}
	e.errorBound = 2 * math.Asin(arg)
	return e.errorBound, nil
}

// ErrorBound returns the bound from the last ComputeErrorBound call.
func (e *Estimator) ErrorBound() float64 {
	return e.errorBound
}
