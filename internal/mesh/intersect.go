package mesh

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// Epsilon is the Möller–Trumbore tolerance for both the parallel test on the
// determinant and the minimum accepted ray parameter.
const Epsilon = 1e-6

// Outcome classifies a single ray/triangle test.
type Outcome int

const (
	// OutcomeHit means the ray crosses the triangle strictly ahead of its origin.
	OutcomeHit Outcome = iota
	// OutcomeParallel means |det| < Epsilon: the ray lies parallel to the plane.
	OutcomeParallel
	// OutcomeOutside means the plane crossing falls outside the barycentric region.
	OutcomeOutside
	// OutcomeBehind means the crossing is inside the triangle but t <= Epsilon.
	OutcomeBehind
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeParallel:
		return "parallel"
	case OutcomeOutside:
		return "outside"
	case OutcomeBehind:
		return "behind"
	default:
		return "unknown"
	}
}

// TriangleHit carries the ray parameter and barycentric coordinates of a
// plane crossing. U and V are meaningful for Hit, Behind and (partially)
// Outside outcomes.
type TriangleHit struct {
	T float64
	U float64
	V float64
}

// TestTriangle runs the Möller–Trumbore test of ray against (v0, v1, v2).
// Back faces are not culled.
func TestTriangle(ray geom.Ray, v0, v1, v2 r3.Vec) (TriangleHit, Outcome) {
	e1 := r3.Sub(v1, v0)
	e2 := r3.Sub(v2, v0)
	p := r3.Cross(ray.Direction, e2)
	det := r3.Dot(e1, p)
	if math.Abs(det) < Epsilon {
		return TriangleHit{}, OutcomeParallel
	}
	inv := 1 / det

	tv := r3.Sub(ray.Origin, v0)
	var h TriangleHit
	h.U = r3.Dot(tv, p) * inv
	if h.U < 0 || h.U > 1 {
		return h, OutcomeOutside
	}

	q := r3.Cross(tv, e1)
	h.V = r3.Dot(ray.Direction, q) * inv
	if h.V < 0 || h.U+h.V > 1 {
		return h, OutcomeOutside
	}

	h.T = r3.Dot(e2, q) * inv
	if h.T <= Epsilon {
		return h, OutcomeBehind
	}
	return h, OutcomeHit
}

// Intersection is the nearest accepted hit of a ray on a mesh.
type Intersection struct {
	Point    r3.Vec
	Distance float64
	Triangle int
	Hit      TriangleHit
}

// Intersector answers nearest-hit queries. The zero value tests triangles
// serially.
type Intersector struct {
	// Parallel splits the triangle list into batches tested concurrently.
	Parallel bool
	// BatchSize is the number of triangles per batch; <= 0 picks one batch
	// per CPU.
	BatchSize int
}

// Nearest returns the hit closest to the ray origin. Among hits at equal
// distance the lowest triangle index wins, in both serial and parallel mode.
func (in Intersector) Nearest(ray geom.Ray, m *Mesh) (Intersection, error) {
	n := r3.Norm(ray.Direction)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Intersection{}, ErrDegenerateRay
	}
	if m == nil || len(m.Triangles) == 0 {
		return Intersection{}, ErrNoSurfaceIntersection
	}

	var best Intersection
	var found bool
	if in.Parallel && len(m.Triangles) > 1 {
		best, found = in.nearestParallel(ray, m)
	} else {
		best, found = nearestRange(ray, m, 0, len(m.Triangles))
	}
	if !found {
		return Intersection{}, ErrNoSurfaceIntersection
	}
	return best, nil
}

func nearestRange(ray geom.Ray, m *Mesh, lo, hi int) (Intersection, bool) {
	var best Intersection
	found := false
	for i := lo; i < hi; i++ {
		v0, v1, v2 := m.Corners(i)
		h, outcome := TestTriangle(ray, v0, v1, v2)
		if outcome != OutcomeHit {
			continue
		}
		pt := ray.At(h.T)
		d := r3.Norm(r3.Sub(pt, ray.Origin))
		if !found || d < best.Distance {
			best = Intersection{Point: pt, Distance: d, Triangle: m.Triangles[i].ID, Hit: h}
			found = true
		}
	}
	return best, found
}

func (in Intersector) nearestParallel(ray geom.Ray, m *Mesh) (Intersection, bool) {
	total := len(m.Triangles)
	size := in.BatchSize
	if size <= 0 {
		size = (total + runtime.NumCPU() - 1) / runtime.NumCPU()
	}
	batches := (total + size - 1) / size

	type partial struct {
		hit   Intersection
		found bool
	}
	results := make([]partial, batches)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for b := 0; b < batches; b++ {
		lo := b * size
		hi := min(lo+size, total)
		g.Go(func() error {
			hit, ok := nearestRange(ray, m, lo, hi)
			results[b] = partial{hit: hit, found: ok}
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	var best Intersection
	found := false
	for _, r := range results {
		if r.found && (!found || r.hit.Distance < best.Distance) {
			best = r.hit
			found = true
		}
	}
	return best, found
}
