package viewgraph

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Rotations are passed between estimators in R3 axis-angle form: the vector's
// direction is the rotation axis and its norm is the angle in radians.
// Conversions run through unit quaternions.

// AngleAxisToQuat converts an R3 axis angle to a unit quaternion.
func AngleAxisToQuat(aa r3.Vector) quat.Number {
	theta := aa.Norm()
	if theta < 1e-12 {
		return quat.Number{Real: 1}
	}
	axis := aa.Mul(1 / theta)
	sinA := math.Sin(theta / 2)
	return quat.Number{
		Real: math.Cos(theta / 2),
		Imag: axis.X * sinA,
		Jmag: axis.Y * sinA,
		Kmag: axis.Z * sinA,
	}
}

// QuatToAngleAxis converts a unit quaternion to an R3 axis angle, the same way
// the C++ Eigen library does.
func QuatToAngleAxis(q quat.Number) r3.Vector {
	denom := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	angle := 2 * math.Atan2(denom, math.Abs(q.Real))
	if q.Real < 0 {
		angle *= -1
	}
	if denom < 1e-12 {
		return r3.Vector{}
	}
	return r3.Vector{
		X: angle * q.Imag / denom,
		Y: angle * q.Jmag / denom,
		Z: angle * q.Kmag / denom,
	}
}

// AngleAxisToMatrix converts an R3 axis angle to a 3x3 rotation matrix.
func AngleAxisToMatrix(aa r3.Vector) *mat.Dense {
	q := AngleAxisToQuat(aa)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// MatrixToAngleAxis converts a proper 3x3 rotation matrix to an R3 axis angle.
func MatrixToAngleAxis(m *mat.Dense) r3.Vector {
	// Shepperd's method: pick the largest of the four quaternion components
	// to avoid the numerical trap near trace = -1.
	t := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	var q quat.Number
	switch {
	case t > 0:
		s := 2 * math.Sqrt(1+t)
		q = quat.Number{
			Real: s / 4,
			Imag: (m.At(2, 1) - m.At(1, 2)) / s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) / s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) / s,
		}
	case m.At(0, 0) >= m.At(1, 1) && m.At(0, 0) >= m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(0, 0)-m.At(1, 1)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: s / 4,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m.At(1, 1) >= m.At(2, 2):
		s := 2 * math.Sqrt(1+m.At(1, 1)-m.At(0, 0)-m.At(2, 2))
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m.At(2, 2)-m.At(0, 0)-m.At(1, 1))
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: s / 4,
		}
	}
	return QuatToAngleAxis(q)
}

// Skew returns the skew-symmetric cross-product matrix of v, so that
// Skew(v)*w = v x w.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// RelativeRotation returns R_ij = R_j * R_i^t, the rotation taking frame i
// into frame j.
func RelativeRotation(ri, rj *mat.Dense) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	out.Mul(rj, ri.T())
	return out
}

// RotateVector applies the rotation given in axis-angle form to v.
func RotateVector(aa, v r3.Vector) r3.Vector {
	q := AngleAxisToQuat(aa)
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	res := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: res.Imag, Y: res.Jmag, Z: res.Kmag}
}

// MulVec multiplies a 3x3 matrix by an r3 vector.
func MulVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}
