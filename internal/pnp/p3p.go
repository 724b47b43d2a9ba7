package pnp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// solveP3P picks a well-spread triplet, solves it in closed form and keeps
// the candidate with the lowest reprojection error over all points.
func solveP3P(intr camera.Intrinsics, corrs []geom.Correspondence) (camera.Pose, error) {
	var (
		best     camera.Pose
		bestCost = math.Inf(1)
	)
	for _, tri := range candidateTriplets(corrs) {
		for _, pose := range p3pCandidates(intr, corrs[tri[0]], corrs[tri[1]], corrs[tri[2]]) {
			cost := sumSquaredError(camera.NewProjectionMatrix(intr, pose), corrs)
			if cost < bestCost {
				best, bestCost = pose, cost
			}
		}
		if !math.IsInf(bestCost, 1) {
			return best, nil
		}
	}
	return camera.Pose{}, fmt.Errorf("%w: no real P3P solution", ErrPoseUnsolvable)
}

// candidateTriplets lists triplets to try, best spread first: point 0, the
// point farthest from it, and the point maximising the triangle area. The
// consecutive triplets follow as fallbacks.
func candidateTriplets(corrs []geom.Correspondence) [][3]int {
	n := len(corrs)
	var out [][3]int

	far, farDist := -1, 0.0
	for i := 1; i < n; i++ {
		if d := r3.Norm(r3.Sub(corrs[i].World, corrs[0].World)); d > farDist {
			far, farDist = i, d
		}
	}
	if far > 0 {
		e := r3.Sub(corrs[far].World, corrs[0].World)
		third, area := -1, 0.0
		for i := 1; i < n; i++ {
			if i == far {
				continue
			}
			if a := r3.Norm(r3.Cross(e, r3.Sub(corrs[i].World, corrs[0].World))); a > area {
				third, area = i, a
			}
		}
		if third > 0 {
			out = append(out, [3]int{0, far, third})
		}
	}
	for i := 0; i+2 < n && i < 8; i++ {
		out = append(out, [3]int{i, i + 1, i + 2})
	}
	return out
}

// p3pCandidates returns every physically valid pose (positive depths) for
// three correspondences, following Grunert's reduction to a quartic in the
// depth ratio v = s3/s1.
func p3pCandidates(intr camera.Intrinsics, c1, c2, c3 geom.Correspondence) []camera.Pose {
	j1 := bearing(intr, c1.Image)
	j2 := bearing(intr, c2.Image)
	j3 := bearing(intr, c3.Image)

	a := r3.Norm(r3.Sub(c2.World, c3.World))
	b := r3.Norm(r3.Sub(c1.World, c3.World))
	c := r3.Norm(r3.Sub(c1.World, c2.World))
	if a == 0 || b == 0 || c == 0 {
		return nil
	}

	cosA := r3.Dot(j2, j3)
	cosB := r3.Dot(j1, j3)
	cosG := r3.Dot(j1, j2)

	a2, b2, c2v := a*a, b*b, c*c
	amc := (a2 - c2v) / b2
	apc := (a2 + c2v) / b2
	cosA2, cosB2, cosG2 := cosA*cosA, cosB*cosB, cosG*cosG

	coeffs := [5]float64{
		(amc-1)*(amc-1) - 4*c2v/b2*cosA2,
		4 * (amc*(1-amc)*cosB - (1-apc)*cosA*cosG + 2*c2v/b2*cosA2*cosB),
		2 * (amc*amc - 1 + 2*amc*amc*cosB2 + 2*(b2-c2v)/b2*cosA2 - 4*apc*cosA*cosB*cosG + 2*(b2-a2)/b2*cosG2),
		4 * (-amc*(1+amc)*cosB + 2*a2/b2*cosG2*cosB - (1-apc)*cosA*cosG),
		(1+amc)*(1+amc) - 4*a2/b2*cosG2,
	}

	var poses []camera.Pose
	for _, v := range realQuarticRoots(coeffs) {
		if v <= 0 {
			continue
		}
		den := 2 * (cosG - v*cosA)
		if math.Abs(den) < 1e-12 {
			continue
		}
		u := ((-1+amc)*v*v - 2*amc*cosB*v + 1 + amc) / den
		if u <= 0 {
			continue
		}
		q := 1 + u*u - 2*u*cosG
		if q <= 0 {
			continue
		}
		s1 := math.Sqrt(c2v / q)
		s2 := u * s1
		s3 := v * s1

		world := []r3.Vec{c1.World, c2.World, c3.World}
		cam := []r3.Vec{r3.Scale(s1, j1), r3.Scale(s2, j2), r3.Scale(s3, j3)}
		pose, ok := alignPoints(world, cam)
		if !ok || !pose.Rotation.IsOrthonormal(1e-6) {
			continue
		}
		poses = append(poses, pose)
	}
	return poses
}

// bearing returns the unit camera-space direction through an image point.
func bearing(intr camera.Intrinsics, p geom.Point2) r3.Vec {
	x, y := intr.Normalize(p)
	return r3.Unit(r3.Vec{X: x, Y: y, Z: 1})
}

// realQuarticRoots returns the real roots of c[0]x⁴ + c[1]x³ + c[2]x² +
// c[3]x + c[4] from the eigenvalues of its companion matrix, each polished
// with a few Newton steps.
func realQuarticRoots(c [5]float64) []float64 {
	lead := c[0]
	scale := 0.0
	for _, v := range c {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 || math.Abs(lead) < 1e-14*scale {
		return nil
	}
	comp := mat.NewDense(4, 4, []float64{
		-c[1] / lead, -c[2] / lead, -c[3] / lead, -c[4] / lead,
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	var eig mat.Eigen
	if !eig.Factorize(comp, mat.EigenNone) {
		return nil
	}
	var roots []float64
	for _, z := range eig.Values(nil) {
		if math.Abs(imag(z)) > 1e-6*math.Max(1, cmplx.Abs(z)) {
			continue
		}
		roots = append(roots, polishRoot(c, real(z)))
	}
	return roots
}

func polishRoot(c [5]float64, x float64) float64 {
	for i := 0; i < 5; i++ {
		f := (((c[0]*x+c[1])*x+c[2])*x+c[3])*x + c[4]
		df := ((4*c[0]*x+3*c[1])*x+2*c[2])*x + c[3]
		if df == 0 {
			break
		}
		step := f / df
		x -= step
		if math.Abs(step) < 1e-15*math.Max(1, math.Abs(x)) {
			break
		}
	}
	return x
}
