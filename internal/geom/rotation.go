package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// OrthonormalTolerance bounds |RᵀR - I| entries and |det R - 1| for a matrix
// to be accepted as a rotation.
const OrthonormalTolerance = 1e-6

// Rotation is a 3x3 matrix stored row-major: element (r, c) is at r*3+c.
type Rotation [9]float64

// Identity returns the identity rotation.
func Identity() Rotation {
	return Rotation{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// At returns element (r, c).
func (m Rotation) At(r, c int) float64 { return m[r*3+c] }

// Apply returns m·v.
func (m Rotation) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// Transpose returns mᵀ, which is the inverse for a proper rotation.
func (m Rotation) Transpose() Rotation {
	return Rotation{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// Mul returns m·n.
func (m Rotation) Mul(n Rotation) Rotation {
	var out Rotation
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = m[r*3]*n[c] + m[r*3+1]*n[3+c] + m[r*3+2]*n[6+c]
		}
	}
	return out
}

// Det returns the determinant of m.
func (m Rotation) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Column returns column c as a vector.
func (m Rotation) Column(c int) r3.Vec {
	return r3.Vec{X: m[c], Y: m[3+c], Z: m[6+c]}
}

// Dense returns m as a new 3x3 gonum matrix.
func (m Rotation) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, m[:])
	return mat.NewDense(3, 3, data)
}

// RotationFromDense copies a 3x3 matrix into a Rotation. It panics if d is
// not 3x3.
func RotationFromDense(d mat.Matrix) Rotation {
	r, c := d.Dims()
	if r != 3 || c != 3 {
		panic("geom: rotation must be 3x3")
	}
	var m Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i*3+j] = d.At(i, j)
		}
	}
	return m
}

// IsOrthonormal reports whether m is a proper rotation within tol: RᵀR = I
// entrywise and det R = +1. Non-finite entries are rejected.
func (m Rotation) IsOrthonormal(tol float64) bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	p := m.Transpose().Mul(m)
	id := Identity()
	for i := range p {
		if math.Abs(p[i]-id[i]) > tol {
			return false
		}
	}
	return math.Abs(m.Det()-1) <= tol
}

// Angle returns the rotation angle of m in radians, in [0, π].
// Atan2 of (sinθ, cosθ) stays well conditioned near 0 and π.
func (m Rotation) Angle() float64 {
	vee := r3.Vec{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}
	c := (m[0] + m[4] + m[8] - 1) / 2
	return math.Atan2(r3.Norm(vee)/2, clamp(c, -1, 1))
}

// RotationFromRodrigues converts an axis-angle vector (direction is the axis,
// norm the angle in radians) to a rotation matrix.
func RotationFromRodrigues(w r3.Vec) Rotation {
	theta := r3.Norm(w)
	if theta < 1e-12 {
		// First-order: R ≈ I + [w]x
		return Rotation{
			1, -w.Z, w.Y,
			w.Z, 1, -w.X,
			-w.Y, w.X, 1,
		}
	}
	k := r3.Scale(1/theta, w)
	s, c := math.Sincos(theta)
	v := 1 - c
	return Rotation{
		c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s,
		k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s,
		k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v,
	}
}

// Rodrigues returns the axis-angle vector of m. The angle lies in [0, π].
func (m Rotation) Rodrigues() r3.Vec {
	theta := m.Angle()
	vee := r3.Vec{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}
	switch {
	case theta < 1e-9:
		return r3.Scale(0.5, vee)
	case math.Pi-theta < 1e-6:
		// sinθ ≈ 0: recover the axis from the symmetric part (R+I)/2 = kkᵀ.
		xx := (m[0] + 1) / 2
		yy := (m[4] + 1) / 2
		zz := (m[8] + 1) / 2
		var k r3.Vec
		switch {
		case xx >= yy && xx >= zz:
			k.X = math.Sqrt(math.Max(xx, 0))
			k.Y = (m[1] + m[3]) / (4 * k.X)
			k.Z = (m[2] + m[6]) / (4 * k.X)
		case yy >= zz:
			k.Y = math.Sqrt(math.Max(yy, 0))
			k.X = (m[1] + m[3]) / (4 * k.Y)
			k.Z = (m[5] + m[7]) / (4 * k.Y)
		default:
			k.Z = math.Sqrt(math.Max(zz, 0))
			k.X = (m[2] + m[6]) / (4 * k.Z)
			k.Y = (m[5] + m[7]) / (4 * k.Z)
		}
		// Pick the sign that agrees with the antisymmetric residue, if any.
		if r3.Dot(k, vee) < 0 {
			k = r3.Scale(-1, k)
		}
		return r3.Scale(theta/r3.Norm(k), k)
	default:
		return r3.Scale(theta/(2*math.Sin(theta)), vee)
	}
}

// Euler holds bank (about x), attitude (about z) and heading (about y)
// angles in radians. The matrix is R = Ry(heading)·Rz(attitude)·Rx(bank).
type Euler struct {
	Bank     float64
	Attitude float64
	Heading  float64
}

// EulerFromRotation decomposes m into bank/attitude/heading angles.
// The decomposition is singular at attitude = ±π/2 and no special case is
// taken there.
func EulerFromRotation(m Rotation) Euler {
	return Euler{
		Bank:     math.Atan2(-m[5], m[4]),
		Attitude: math.Asin(clamp(m[3], -1, 1)),
		Heading:  math.Atan2(-m[6], m[0]),
	}
}

// RotationFromEuler composes a rotation from bank/attitude/heading angles.
func RotationFromEuler(e Euler) Rotation {
	sb, cb := math.Sincos(e.Bank)
	sa, ca := math.Sincos(e.Attitude)
	sh, ch := math.Sincos(e.Heading)
	return Rotation{
		ch * ca, sh*sb - ch*sa*cb, ch*sa*sb + sh*cb,
		sa, ca * cb, -ca * sb,
		-sh * ca, sh*sa*cb + ch*sb, -sh*sa*sb + ch*cb,
	}
}

// AngleBetween returns the angle in radians between u and v. It returns 0
// when either vector is zero.
func AngleBetween(u, v r3.Vec) float64 {
	nu, nv := r3.Norm(u), r3.Norm(v)
	if nu == 0 || nv == 0 {
		return 0
	}
	return math.Acos(clamp(r3.Dot(u, v)/(nu*nv), -1, 1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
