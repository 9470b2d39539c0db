package positionavg

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/travisdriver/gosfm/viewgraph"
)

// constraintBlocks are the three 3x3 coefficient matrices of one triplet
// constraint on camera positions:
//
//	B*pos(middle) + C*pos(baseLeft) + D*pos(baseRight) = 0
//
// in the noiseless case. D = -(B + C) by construction, which makes the
// constraint invariant to global translation.
type constraintBlocks struct {
	b, c, d *mat.Dense
}

// calculateBCD ports the LiGT triplet coefficients (eq. 18 of the LiGT
// paper). fLeft/fMid/fRight are the track's normalized z=1 rays in the three
// views; rLeft/rMid/rRight the views' world-to-camera rotation matrices.
func calculateBCD(
	fLeft, fMid, fRight r3.Vector,
	rLeft, rMid, rRight *mat.Dense,
) constraintBlocks {
	// R_ij = R_j * R_i^t rotates frame i into frame j.
	r31 := viewgraph.RelativeRotation(rRight, rLeft)
	r32 := viewgraph.RelativeRotation(rRight, rMid)

	// a32 = (skew(R32*f3)*f2)^t * skew(f2), written with cross products.
	rotRight := viewgraph.MulVec(r32, fRight)
	a32 := rotRight.Cross(fMid).Cross(fMid)

	// theta^2 = |skew(f2)*R32*f3|^2, the squared epipolar residual of the
	// base pair seen from the middle view.
	thetaSq := fMid.Cross(rotRight).Norm2()

	// B = skew(f1)*R31*f3 * a32^t * R2, a rank-1 outer product.
	lhs := fLeft.Cross(viewgraph.MulVec(r31, fRight))
	rhs := mulTransposedVec(rMid, a32)
	b := mat.NewDense(3, 3, []float64{
		lhs.X * rhs.X, lhs.X * rhs.Y, lhs.X * rhs.Z,
		lhs.Y * rhs.X, lhs.Y * rhs.Y, lhs.Y * rhs.Z,
		lhs.Z * rhs.X, lhs.Z * rhs.Y, lhs.Z * rhs.Z,
	})

	// C = theta^2 * skew(f1) * R1.
	c := mat.NewDense(3, 3, nil)
	c.Mul(viewgraph.Skew(fLeft), rLeft)
	c.Scale(thetaSq, c)

	// The zero-sum invariant forces the base-right coefficient.
	d := mat.NewDense(3, 3, nil)
	d.Add(b, c)
	d.Scale(-1, d)

	return constraintBlocks{b: b, c: c, d: d}
}

// tripletParallaxScore is the base-pair selection criterion: the squared norm
// of fJ x (R_ij * fI). Near-collinear pairs score near zero and would yield
// degenerate constraints.
func tripletParallaxScore(fI, fJ r3.Vector, rij *mat.Dense) float64 {
	return fJ.Cross(viewgraph.MulVec(rij, fI)).Norm2()
}

// mulTransposedVec returns m^t * v.
func mulTransposedVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(1, 0)*v.Y + m.At(2, 0)*v.Z,
		Y: m.At(0, 1)*v.X + m.At(1, 1)*v.Y + m.At(2, 1)*v.Z,
		Z: m.At(0, 2)*v.X + m.At(1, 2)*v.Y + m.At(2, 2)*v.Z,
	}
}
