package mesh

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/geom"
)

func TestUnitCube_Shape(t *testing.T) {
	t.Parallel()
	c := UnitCube()
	assert.Len(t, c.Vertices, 8)
	assert.Len(t, c.Triangles, 12)
	for i, v := range c.Vertices {
		assert.Equal(t, i, v.Index)
	}
}

func TestNew_RejectsBadIndex(t *testing.T) {
	t.Parallel()
	_, err := New([]r3.Vec{{}, {X: 1}, {Y: 1}}, [][3]int{{0, 1, 3}})
	assert.Error(t, err)
}

func TestNearest_CubeFrontFace(t *testing.T) {
	t.Parallel()
	ray := geom.Ray{Origin: r3.Vec{Z: -5}, Direction: r3.Vec{Z: 1}}
	for _, in := range []Intersector{{}, {Parallel: true, BatchSize: 2}} {
		hit, err := in.Nearest(ray, UnitCube())
		require.NoError(t, err)
		assert.InDelta(t, 0.0, hit.Point.X, 1e-12)
		assert.InDelta(t, 0.0, hit.Point.Y, 1e-12)
		assert.InDelta(t, -0.5, hit.Point.Z, 1e-12)
		assert.InDelta(t, 4.5, hit.Distance, 1e-12)
	}
}

func TestNearest_Miss(t *testing.T) {
	t.Parallel()
	ray := geom.Ray{Origin: r3.Vec{X: 3, Z: -5}, Direction: r3.Vec{Z: 1}}
	_, err := Intersector{}.Nearest(ray, UnitCube())
	assert.True(t, errors.Is(err, ErrNoSurfaceIntersection))
}

func TestNearest_PointingAway(t *testing.T) {
	t.Parallel()
	ray := geom.Ray{Origin: r3.Vec{Z: -5}, Direction: r3.Vec{Z: -1}}
	_, err := Intersector{}.Nearest(ray, UnitCube())
	assert.ErrorIs(t, err, ErrNoSurfaceIntersection)
}

func TestNearest_FromInside(t *testing.T) {
	t.Parallel()
	// Origin inside the cube: only the far face ahead of the ray counts.
	ray := geom.Ray{Origin: r3.Vec{X: 0.1, Y: 0.2}, Direction: r3.Vec{X: 1}}
	hit, err := Intersector{}.Nearest(ray, UnitCube())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, hit.Point.X, 1e-12)
	assert.InDelta(t, 0.4, hit.Distance, 1e-12)
}

func TestNearest_DegenerateRay(t *testing.T) {
	t.Parallel()
	_, err := Intersector{}.Nearest(geom.Ray{}, UnitCube())
	assert.ErrorIs(t, err, ErrDegenerateRay)
}

func TestNearest_EmptyMesh(t *testing.T) {
	t.Parallel()
	ray := geom.Ray{Direction: r3.Vec{Z: 1}}
	_, err := Intersector{}.Nearest(ray, &Mesh{})
	assert.ErrorIs(t, err, ErrNoSurfaceIntersection)
}

func TestNearest_NilMesh(t *testing.T) {
	t.Parallel()
	ray := geom.Ray{Direction: r3.Vec{Z: 1}}
	for _, in := range []Intersector{{}, {Parallel: true}} {
		_, err := in.Nearest(ray, nil)
		assert.ErrorIs(t, err, ErrNoSurfaceIntersection)
	}
}

var (
	tv0 = r3.Vec{}
	tv1 = r3.Vec{X: 1}
	tv2 = r3.Vec{Y: 1}
)

// rayAt shoots straight up the z axis through (u, v) of the reference
// triangle, whose barycentric coordinates are then exactly (u, v).
func rayAt(u, v float64) geom.Ray {
	return geom.Ray{Origin: r3.Vec{X: u, Y: v, Z: -1}, Direction: r3.Vec{Z: 1}}
}

func TestTestTriangle_Outcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ray  geom.Ray
		want Outcome
	}{
		{"inside", rayAt(0.25, 0.25), OutcomeHit},
		{"u negative", rayAt(-0.01, 0.5), OutcomeOutside},
		{"u above one", rayAt(1.01, 0), OutcomeOutside},
		{"v negative", rayAt(0.5, -0.01), OutcomeOutside},
		{"u plus v above one", rayAt(0.6, 0.6), OutcomeOutside},
		{"parallel", geom.Ray{Origin: r3.Vec{Z: -1}, Direction: r3.Vec{X: 1}}, OutcomeParallel},
		{"behind", geom.Ray{Origin: r3.Vec{X: 0.2, Y: 0.2, Z: 1}, Direction: r3.Vec{Z: 1}}, OutcomeBehind},
		{"back face not culled", geom.Ray{Origin: r3.Vec{X: 0.2, Y: 0.2, Z: 1}, Direction: r3.Vec{Z: -1}}, OutcomeHit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, got := TestTriangle(tt.ray, tv0, tv1, tv2)
			assert.Equal(t, tt.want, got, "outcome %s", got)
		})
	}
}

func TestTestTriangle_BarycentricConsistency(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(3, 5))
	const delta = 1e-3
	for i := 0; i < 500; i++ {
		u := delta + rng.Float64()*(1-3*delta)
		v := delta + rng.Float64()*(1-2*delta-u)
		h, outcome := TestTriangle(rayAt(u, v), tv0, tv1, tv2)
		require.Equal(t, OutcomeHit, outcome, "u=%f v=%f", u, v)
		assert.InDelta(t, u, h.U, 1e-12)
		assert.InDelta(t, v, h.V, 1e-12)
		assert.InDelta(t, 1.0, h.T, 1e-12)

		// Pushing the point just outside each edge flips the classification.
		_, outcome = TestTriangle(rayAt(-delta, v), tv0, tv1, tv2)
		assert.Equal(t, OutcomeOutside, outcome)
		_, outcome = TestTriangle(rayAt(u, -delta), tv0, tv1, tv2)
		assert.Equal(t, OutcomeOutside, outcome)
		s := u + v
		_, outcome = TestTriangle(rayAt(u*(1+delta)/s, v*(1+delta)/s), tv0, tv1, tv2)
		assert.Equal(t, OutcomeOutside, outcome)
	}
}

func TestNearest_ParallelMatchesSerial(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(9, 9))
	cube := UnitCube()
	serial := Intersector{}
	parallel := Intersector{Parallel: true, BatchSize: 3}
	auto := Intersector{Parallel: true}
	for i := 0; i < 300; i++ {
		origin := r3.Scale(4, r3.Unit(r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}))
		target := r3.Vec{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: rng.Float64() - 0.5}
		ray, ok := geom.NewRay(origin, r3.Scale(1.3, target))
		require.True(t, ok)

		want, wantErr := serial.Nearest(ray, cube)
		for _, in := range []Intersector{parallel, auto} {
			got, err := in.Nearest(ray, cube)
			assert.Equal(t, wantErr, err)
			assert.Equal(t, want, got)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "hit", OutcomeHit.String())
	assert.Equal(t, "parallel", OutcomeParallel.String())
	assert.Equal(t, "outside", OutcomeOutside.String())
	assert.Equal(t, "behind", OutcomeBehind.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
