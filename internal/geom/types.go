package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point2 is a 2D image-plane point in pixels.
type Point2 struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between p and q.
func (p Point2) Distance(q Point2) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Ray is a half-line with an origin and a unit direction.
type Ray struct {
	Origin    r3.Vec
	Direction r3.Vec
}

// NewRay builds a ray from origin towards through, normalising the direction.
// The boolean result is false when the two points coincide.
func NewRay(origin, through r3.Vec) (Ray, bool) {
	d := r3.Sub(through, origin)
	n := r3.Norm(d)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Ray{Origin: origin}, false
	}
	return Ray{Origin: origin, Direction: r3.Scale(1/n, d)}, true
}

// At returns the point origin + t*direction.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Direction))
}

// Correspondence pairs an observed image point with a model surface point.
type Correspondence struct {
	Image Point2
	World r3.Vec
}

// SplitCorrespondences returns the image and world halves of corrs as
// parallel slices.
func SplitCorrespondences(corrs []Correspondence) ([]Point2, []r3.Vec) {
	img := make([]Point2, len(corrs))
	world := make([]r3.Vec, len(corrs))
	for i, c := range corrs {
		img[i] = c.Image
		world[i] = c.World
	}
	return img, world
}

// Subset returns the correspondences at the given indices, in index order.
func Subset(corrs []Correspondence, idx []int) []Correspondence {
	out := make([]Correspondence, len(idx))
	for i, k := range idx {
		out[i] = corrs[k]
	}
	return out
}

// IsFinite reports whether every component of v is finite.
func IsFinite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
