// Package camera implements the pinhole camera model: fixed intrinsics, a
// mutable extrinsic pose, 3D to 2D projection, and 2D to 3D back-projection.
package camera

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/config"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/mesh"
)

var (
	// ErrDegenerateProjection is returned when the homogeneous depth of a
	// projected point is effectively zero.
	ErrDegenerateProjection = errors.New("camera: degenerate projection (zero depth)")
	// ErrInvalidRotation is returned by SetPose for a non-orthonormal rotation.
	ErrInvalidRotation = errors.New("camera: rotation is not orthonormal")
	// ErrInvalidIntrinsics is returned for non-positive or non-finite focal lengths.
	ErrInvalidIntrinsics = errors.New("camera: invalid intrinsics")
)

// depthEpsilon bounds |w| below which a projection is treated as degenerate.
const depthEpsilon = 1e-12

// Intrinsics is the pinhole calibration. Distortion is assumed zero.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// IntrinsicsFromTuning builds Intrinsics from the tuning configuration.
func IntrinsicsFromTuning(cfg *config.TuningConfig) Intrinsics {
	return Intrinsics{
		Fx: cfg.GetFx(),
		Fy: cfg.GetFy(),
		Cx: cfg.GetCx(),
		Cy: cfg.GetCy(),
	}
}

// Validate checks that both focal lengths are positive and every value finite.
func (k Intrinsics) Validate() error {
	for _, v := range []float64{k.Fx, k.Fy, k.Cx, k.Cy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidIntrinsics)
		}
	}
	if k.Fx <= 0 || k.Fy <= 0 {
		return fmt.Errorf("%w: focal lengths must be positive, got fx=%g fy=%g", ErrInvalidIntrinsics, k.Fx, k.Fy)
	}
	return nil
}

// Matrix returns the 3x3 calibration matrix K.
func (k Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		k.Fx, 0, k.Cx,
		0, k.Fy, k.Cy,
		0, 0, 1,
	})
}

// Normalize maps a pixel to normalised image coordinates, K⁻¹·(u, v, 1).
func (k Intrinsics) Normalize(p geom.Point2) (x, y float64) {
	return (p.X - k.Cx) / k.Fx, (p.Y - k.Cy) / k.Fy
}

// Pixel maps normalised image coordinates back to pixels.
func (k Intrinsics) Pixel(x, y float64) geom.Point2 {
	return geom.Point2{X: k.Fx*x + k.Cx, Y: k.Fy*y + k.Cy}
}

// Pose is the world-to-camera transform: p_cam = Rotation·p_world + Translation.
type Pose struct {
	Rotation    geom.Rotation
	Translation r3.Vec
}

// IdentityPose places the camera at the world origin looking down +z.
func IdentityPose() Pose {
	return Pose{Rotation: geom.Identity()}
}

// Validate checks the rotation is orthonormal with det = +1 and the
// translation finite.
func (p Pose) Validate() error {
	if !p.Rotation.IsOrthonormal(geom.OrthonormalTolerance) {
		return ErrInvalidRotation
	}
	if !geom.IsFinite(p.Translation) {
		return fmt.Errorf("camera: non-finite translation %v", p.Translation)
	}
	return nil
}

// ToCamera maps a world point into camera coordinates.
func (p Pose) ToCamera(world r3.Vec) r3.Vec {
	return r3.Add(p.Rotation.Apply(world), p.Translation)
}

// ToWorld maps a camera-space point back to world coordinates.
func (p Pose) ToWorld(cam r3.Vec) r3.Vec {
	return p.Rotation.Transpose().Apply(r3.Sub(cam, p.Translation))
}

// Center returns the camera centre in world coordinates, -Rᵀ·t.
func (p Pose) Center() r3.Vec {
	return r3.Scale(-1, p.Rotation.Transpose().Apply(p.Translation))
}

// ProjectionMatrix is the 3x4 matrix K·[R|t], stored row-major.
type ProjectionMatrix [12]float64

// NewProjectionMatrix composes K·[R|t].
func NewProjectionMatrix(k Intrinsics, p Pose) ProjectionMatrix {
	rt := [12]float64{
		p.Rotation[0], p.Rotation[1], p.Rotation[2], p.Translation.X,
		p.Rotation[3], p.Rotation[4], p.Rotation[5], p.Translation.Y,
		p.Rotation[6], p.Rotation[7], p.Rotation[8], p.Translation.Z,
	}
	var pm ProjectionMatrix
	for c := 0; c < 4; c++ {
		pm[c] = k.Fx*rt[c] + k.Cx*rt[8+c]
		pm[4+c] = k.Fy*rt[4+c] + k.Cy*rt[8+c]
		pm[8+c] = rt[8+c]
	}
	return pm
}

// Apply returns the homogeneous image coordinates of world point x.
func (pm ProjectionMatrix) Apply(x r3.Vec) (u, v, w float64) {
	u = pm[0]*x.X + pm[1]*x.Y + pm[2]*x.Z + pm[3]
	v = pm[4]*x.X + pm[5]*x.Y + pm[6]*x.Z + pm[7]
	w = pm[8]*x.X + pm[9]*x.Y + pm[10]*x.Z + pm[11]
	return u, v, w
}

// Dense returns the matrix as a new 3x4 gonum matrix.
func (pm ProjectionMatrix) Dense() *mat.Dense {
	data := make([]float64, 12)
	copy(data, pm[:])
	return mat.NewDense(3, 4, data)
}

// Camera owns one intrinsic calibration and the current extrinsic pose.
// Reads and SetPose are safe for concurrent use; a reader never observes a
// rotation from one pose paired with the translation of another.
type Camera struct {
	intr Intrinsics

	mu   sync.RWMutex
	pose Pose
	proj ProjectionMatrix
}

// New returns a camera with the given intrinsics and the identity pose.
func New(intr Intrinsics) (*Camera, error) {
	if err := intr.Validate(); err != nil {
		return nil, err
	}
	c := &Camera{intr: intr}
	c.pose = IdentityPose()
	c.proj = NewProjectionMatrix(intr, c.pose)
	return c, nil
}

// Intrinsics returns the immutable calibration.
func (c *Camera) Intrinsics() Intrinsics { return c.intr }

// Pose returns the current extrinsic pose.
func (c *Camera) Pose() Pose {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pose
}

// ProjectionMatrix returns the current K·[R|t].
func (c *Camera) ProjectionMatrix() ProjectionMatrix {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proj
}

// State returns the pose and projection matrix as one consistent pair.
func (c *Camera) State() (Pose, ProjectionMatrix) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pose, c.proj
}

// SetPose replaces rotation and translation together and recomputes the
// projection matrix. An invalid pose leaves the camera unchanged.
func (c *Camera) SetPose(p Pose) error {
	if err := p.Validate(); err != nil {
		return err
	}
	proj := NewProjectionMatrix(c.intr, p)
	c.mu.Lock()
	c.pose = p
	c.proj = proj
	c.mu.Unlock()
	return nil
}

// Project maps a world point to pixels through the current pose.
func (c *Camera) Project(world r3.Vec) (geom.Point2, error) {
	return Project(c.ProjectionMatrix(), world)
}

// Project maps a world point to pixels through pm, dividing by the
// homogeneous depth.
func Project(pm ProjectionMatrix, world r3.Vec) (geom.Point2, error) {
	u, v, w := pm.Apply(world)
	if math.Abs(w) < depthEpsilon {
		return geom.Point2{}, ErrDegenerateProjection
	}
	return geom.Point2{X: u / w, Y: v / w}, nil
}

// BackprojectRay returns the world-space ray from the camera centre through
// pixel p.
func (c *Camera) BackprojectRay(p geom.Point2) geom.Ray {
	pose := c.Pose()
	x, y := c.intr.Normalize(p)
	// Any positive depth gives the same direction.
	const depth = 1.0
	camPoint := r3.Vec{X: x * depth, Y: y * depth, Z: depth}
	origin := pose.Center()
	through := pose.ToWorld(camPoint)
	ray, _ := geom.NewRay(origin, through) // camPoint has z = 1, never coincident
	return ray
}

// Backproject lifts pixel p onto the nearest surface of m hit by its ray.
func (c *Camera) Backproject(p geom.Point2, m *mesh.Mesh, in mesh.Intersector) (r3.Vec, error) {
	hit, err := in.Nearest(c.BackprojectRay(p), m)
	if err != nil {
		return r3.Vec{}, err
	}
	return hit.Point, nil
}

// VerifyPoints projects every vertex of m through the current pose.
// Vertices with a degenerate projection are omitted.
func (c *Camera) VerifyPoints(m *mesh.Mesh) []geom.Point2 {
	pm := c.ProjectionMatrix()
	out := make([]geom.Point2, 0, len(m.Vertices))
	for _, v := range m.Vertices {
		p, err := Project(pm, v.Point)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
