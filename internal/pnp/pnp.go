// Package pnp recovers a camera pose from 2D-3D correspondences.
//
// Three solvers are provided. MethodP3P is the closed-form three-point
// solution disambiguated by the remaining points. MethodDLT is the linear
// 6-point solution for non-coplanar objects. MethodIterative seeds from
// either of those and polishes the pose with Levenberg–Marquardt on the
// reprojection error. SolvePnPRANSAC wraps any of them in a RANSAC loop.
//
// All solvers return rotations as orthonormal matrices.
package pnp

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

var (
	// ErrInsufficientCorrespondences is returned when fewer points are given
	// than the method needs, including the empty set.
	ErrInsufficientCorrespondences = errors.New("pnp: insufficient correspondences")
	// ErrPoseUnsolvable is returned for numerically degenerate configurations
	// such as collinear model points.
	ErrPoseUnsolvable = errors.New("pnp: pose unsolvable")
)

// Method selects the PnP algorithm.
type Method int

const (
	// MethodIterative initialises linearly (or from P3P) and refines with
	// Levenberg–Marquardt.
	MethodIterative Method = iota
	// MethodP3P is the minimal closed-form solver.
	MethodP3P
	// MethodDLT is the direct linear transform; it needs six non-coplanar points.
	MethodDLT
)

func (m Method) String() string {
	switch m {
	case MethodIterative:
		return "iterative"
	case MethodP3P:
		return "p3p"
	case MethodDLT:
		return "dlt"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps a method name (case-insensitive) to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iterative", "":
		return MethodIterative, nil
	case "p3p":
		return MethodP3P, nil
	case "dlt":
		return MethodDLT, nil
	}
	return 0, fmt.Errorf("pnp: unknown method %q", s)
}

// MinPoints is the number of correspondences a direct solve needs.
func (m Method) MinPoints() int {
	if m == MethodDLT {
		return 6
	}
	return 4
}

// SolvePnP estimates the pose that maps the model points of corrs onto their
// image points.
func SolvePnP(intr camera.Intrinsics, corrs []geom.Correspondence, method Method) (camera.Pose, error) {
	if len(corrs) < method.MinPoints() {
		return camera.Pose{}, fmt.Errorf("%w: %s needs %d, got %d",
			ErrInsufficientCorrespondences, method, method.MinPoints(), len(corrs))
	}
	if err := checkSpread(corrs); err != nil {
		return camera.Pose{}, err
	}

	var (
		pose camera.Pose
		err  error
	)
	switch method {
	case MethodP3P:
		pose, err = solveP3P(intr, corrs)
	case MethodDLT:
		pose, err = solveDLT(intr, corrs)
	case MethodIterative:
		pose, err = initialPose(intr, corrs)
		if err == nil {
			pose = refine(intr, corrs, pose)
		}
	default:
		return camera.Pose{}, fmt.Errorf("pnp: unsupported method %s", method)
	}
	if err != nil {
		return camera.Pose{}, err
	}
	if err := pose.Validate(); err != nil {
		return camera.Pose{}, fmt.Errorf("%w: %v", ErrPoseUnsolvable, err)
	}
	return pose, nil
}

// initialPose prefers the linear solution when the points are spread in
// depth and falls back to P3P for planar or small sets.
func initialPose(intr camera.Intrinsics, corrs []geom.Correspondence) (camera.Pose, error) {
	if len(corrs) >= 6 {
		if pose, err := solveDLT(intr, corrs); err == nil {
			return pose, nil
		}
	}
	return solveP3P(intr, corrs)
}

// ReprojectionErrors returns, per correspondence, the pixel distance between
// the observed image point and the projection of its model point. Points
// that project degenerately get +Inf.
func ReprojectionErrors(intr camera.Intrinsics, pose camera.Pose, corrs []geom.Correspondence) []float64 {
	pm := camera.NewProjectionMatrix(intr, pose)
	out := make([]float64, len(corrs))
	for i, c := range corrs {
		out[i] = reprojectionError(pm, c)
	}
	return out
}

func reprojectionError(pm camera.ProjectionMatrix, c geom.Correspondence) float64 {
	p, err := camera.Project(pm, c.World)
	if err != nil {
		return math.Inf(1)
	}
	return p.Distance(c.Image)
}

func sumSquaredError(pm camera.ProjectionMatrix, corrs []geom.Correspondence) float64 {
	var sum float64
	for _, c := range corrs {
		e := reprojectionError(pm, c)
		sum += e * e
	}
	return sum
}

// spreadTolerance is the smallest ratio of the second to the first principal
// extent of the model points; below it the points are treated as collinear.
const spreadTolerance = 1e-9

// checkSpread rejects model point sets that are coincident or collinear.
func checkSpread(corrs []geom.Correspondence) error {
	s := principalExtents(corrs)
	if s[0] == 0 || s[1] <= spreadTolerance*s[0] {
		return fmt.Errorf("%w: model points are collinear", ErrPoseUnsolvable)
	}
	return nil
}

// principalExtents returns the singular values of the centred model points,
// largest first.
func principalExtents(corrs []geom.Correspondence) [3]float64 {
	n := len(corrs)
	var cx, cy, cz float64
	for _, c := range corrs {
		cx += c.World.X
		cy += c.World.Y
		cz += c.World.Z
	}
	cx, cy, cz = cx/float64(n), cy/float64(n), cz/float64(n)

	a := mat.NewDense(max(n, 3), 3, nil)
	for i, c := range corrs {
		a.Set(i, 0, c.World.X-cx)
		a.Set(i, 1, c.World.Y-cy)
		a.Set(i, 2, c.World.Z-cz)
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return [3]float64{}
	}
	v := svd.Values(nil)
	return [3]float64{v[0], v[1], v[2]}
}
