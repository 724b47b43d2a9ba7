package pnp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// dltRankTolerance is the smallest accepted ratio of the second-smallest to
// the largest singular value of the DLT system. Below it the null space is
// not one-dimensional (coplanar or otherwise degenerate points).
const dltRankTolerance = 1e-8

// solveDLT solves x̃ ~ [R|t]·X linearly in normalised image coordinates and
// projects the 3x3 block onto the nearest rotation.
func solveDLT(intr camera.Intrinsics, corrs []geom.Correspondence) (camera.Pose, error) {
	n := len(corrs)
	if n < 6 {
		return camera.Pose{}, fmt.Errorf("%w: dlt needs 6, got %d", ErrInsufficientCorrespondences, n)
	}

	// Condition the model points: centroid at the origin, mean distance √3.
	var centroid r3.Vec
	for _, c := range corrs {
		centroid = r3.Add(centroid, c.World)
	}
	centroid = r3.Scale(1/float64(n), centroid)
	var meanDist float64
	for _, c := range corrs {
		meanDist += r3.Norm(r3.Sub(c.World, centroid))
	}
	meanDist /= float64(n)
	if meanDist == 0 {
		return camera.Pose{}, fmt.Errorf("%w: coincident model points", ErrPoseUnsolvable)
	}
	s := math.Sqrt(3) / meanDist

	a := mat.NewDense(2*n, 12, nil)
	for i, c := range corrs {
		x, y := intr.Normalize(c.Image)
		w := r3.Scale(s, r3.Sub(c.World, centroid))
		X := [4]float64{w.X, w.Y, w.Z, 1}
		for k := 0; k < 4; k++ {
			a.Set(2*i, k, X[k])
			a.Set(2*i, 8+k, -x*X[k])
			a.Set(2*i+1, 4+k, X[k])
			a.Set(2*i+1, 8+k, -y*X[k])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return camera.Pose{}, fmt.Errorf("%w: dlt factorisation failed", ErrPoseUnsolvable)
	}
	sv := svd.Values(nil)
	if sv[0] == 0 || sv[10] < dltRankTolerance*sv[0] {
		return camera.Pose{}, fmt.Errorf("%w: dlt system is rank deficient (coplanar points?)", ErrPoseUnsolvable)
	}
	var v mat.Dense
	svd.VTo(&v)

	// m is the 3x4 solution for the conditioned points; undo the conditioning
	// so that m acts on raw model coordinates.
	var m [3][4]float64
	for r := 0; r < 3; r++ {
		for k := 0; k < 4; k++ {
			m[r][k] = v.At(4*r+k, 11)
		}
	}
	for r := 0; r < 3; r++ {
		m[r][3] -= s * (m[r][0]*centroid.X + m[r][1]*centroid.Y + m[r][2]*centroid.Z)
		for k := 0; k < 3; k++ {
			m[r][k] *= s
		}
	}

	block := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	if mat.Det(block) < 0 {
		block.Scale(-1, block)
		for r := 0; r < 3; r++ {
			m[r][3] = -m[r][3]
		}
	}

	var bsvd mat.SVD
	if !bsvd.Factorize(block, mat.SVDFull) {
		return camera.Pose{}, fmt.Errorf("%w: rotation block factorisation failed", ErrPoseUnsolvable)
	}
	bv := bsvd.Values(nil)
	scale := (bv[0] + bv[1] + bv[2]) / 3
	if scale == 0 {
		return camera.Pose{}, fmt.Errorf("%w: zero-scale dlt solution", ErrPoseUnsolvable)
	}
	var bu, bvt mat.Dense
	bsvd.UTo(&bu)
	bsvd.VTo(&bvt)
	var r mat.Dense
	r.Mul(&bu, bvt.T())

	pose := camera.Pose{
		Rotation:    geom.RotationFromDense(&r),
		Translation: r3.Vec{X: m[0][3] / scale, Y: m[1][3] / scale, Z: m[2][3] / scale},
	}
	return pose, nil
}
