package pnp

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// contaminate replaces the image point of every index not in keep with one
// displaced 60-200px from its true projection.
func contaminate(rng *rand.Rand, corrs []geom.Correspondence, keep map[int]bool) {
	for i := range corrs {
		if keep[i] {
			continue
		}
		angle := rng.Float64() * 2 * math.Pi
		r := 60 + rng.Float64()*140
		corrs[i].Image.X += r * math.Cos(angle)
		corrs[i].Image.Y += r * math.Sin(angle)
	}
}

func TestSolvePnPRANSAC_EightyPercentOutliers(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(2024, 1))
	truth := camera.Pose{
		Rotation:    geom.RotationFromRodrigues(r3.Vec{X: 0.1, Y: -0.2, Z: 0.05}),
		Translation: r3.Vec{X: 0.2, Y: -0.1, Z: 8},
	}
	const n, nIn = 50, 10
	corrs := synthesize(t, truth, randomPoints(rng, n), nil, 0)

	keep := map[int]bool{}
	for _, i := range rng.Perm(n)[:nIn] {
		keep[i] = true
	}
	contaminate(rng, corrs, keep)

	var want []int
	for i := range keep {
		want = append(want, i)
	}
	sort.Ints(want)

	// An all-inlier 4-point draw has probability 0.2^4, so this needs far
	// more iterations and a higher confidence than the defaults to be exact
	// for a fixed seed.
	for _, m := range []Method{MethodIterative, MethodP3P} {
		t.Run(m.String(), func(t *testing.T) {
			t.Parallel()
			res, err := SolvePnPRANSAC(testIntrinsics, corrs, RANSACParams{
				Method:            m,
				Iterations:        20000,
				ReprojectionError: 2,
				Confidence:        0.99,
				Refine:            true,
				Seed:              42,
			})
			require.NoError(t, err)
			assert.Equal(t, want, res.Inliers)
			assertPoseNear(t, truth, res.Pose, 1e-6)
			assert.Less(t, res.Iterations, 20000)
		})
	}
}

func TestSolvePnPRANSAC_EightyPercentOutliersDefaults(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(2024, 1))
	truth := camera.Pose{
		Rotation:    geom.RotationFromRodrigues(r3.Vec{X: 0.1, Y: -0.2, Z: 0.05}),
		Translation: r3.Vec{X: 0.2, Y: -0.1, Z: 8},
	}
	const n, nIn = 50, 10
	corrs := synthesize(t, truth, randomPoints(rng, n), nil, 0)
	keep := map[int]bool{}
	for _, i := range rng.Perm(n)[:nIn] {
		keep[i] = true
	}
	contaminate(rng, corrs, keep)
	var want []int
	for i := range keep {
		want = append(want, i)
	}
	sort.Ints(want)

	// With the default 500 iterations the exact inlier set is found on most
	// seeds, not all of them.
	const runs = 40
	recovered := 0
	for seed := uint64(1); seed <= runs; seed++ {
		p := DefaultRANSACParams()
		p.Seed = seed
		res, err := SolvePnPRANSAC(testIntrinsics, corrs, p)
		if err == nil && assert.ObjectsAreEqual(want, res.Inliers) {
			recovered++
		}
	}
	assert.GreaterOrEqual(t, recovered, 28, "recovered %d of %d", recovered, runs)
}

func TestSolvePnPRANSAC_DLT(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(8, 8))
	truth := randomPose(rng)
	const n = 40
	corrs := synthesize(t, truth, randomPoints(rng, n), nil, 0)
	keep := map[int]bool{}
	for i := 0; i < 32; i++ {
		keep[i] = true
	}
	contaminate(rng, corrs, keep)

	res, err := SolvePnPRANSAC(testIntrinsics, corrs, RANSACParams{
		Method:            MethodDLT,
		Iterations:        2000,
		ReprojectionError: 2,
		Confidence:        0.999,
		Refine:            true,
		Seed:              3,
	})
	require.NoError(t, err)
	require.Len(t, res.Inliers, 32)
	for i, idx := range res.Inliers {
		assert.Equal(t, i, idx)
	}
	assertPoseNear(t, truth, res.Pose, 1e-6)
}

func TestSolvePnPRANSAC_InlierCountMonotoneInThreshold(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(71, 72))
	truth := randomPose(rng)
	corrs := synthesize(t, truth, randomPoints(rng, 40), rng, 1.5)
	keep := map[int]bool{}
	for i := 0; i < 25; i++ {
		keep[i] = true
	}
	contaminate(rng, corrs, keep)

	prev := -1
	for _, thr := range []float64{0.5, 1, 2, 4, 8, 16, 64} {
		res, err := SolvePnPRANSAC(testIntrinsics, corrs, RANSACParams{
			Method:            MethodP3P,
			Iterations:        150,
			ReprojectionError: thr,
			Confidence:        1, // no early exit: every threshold scores the same hypotheses
			Refine:            false,
			Seed:              7,
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(res.Inliers), prev, "threshold %.1f", thr)
		assert.Equal(t, 150, res.Iterations)
		prev = len(res.Inliers)
	}
}

func TestSolvePnPRANSAC_SeedReproducible(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(12, 13))
	truth := randomPose(rng)
	corrs := synthesize(t, truth, randomPoints(rng, 30), rng, 1.0)
	keep := map[int]bool{}
	for i := 0; i < 20; i++ {
		keep[i] = true
	}
	contaminate(rng, corrs, keep)

	params := RANSACParams{Method: MethodIterative, Iterations: 300, ReprojectionError: 3, Confidence: 0.99, Refine: true, Seed: 99}
	a, err := SolvePnPRANSAC(testIntrinsics, corrs, params)
	require.NoError(t, err)
	b, err := SolvePnPRANSAC(testIntrinsics, corrs, params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSolvePnPRANSAC_Errors(t *testing.T) {
	t.Parallel()
	_, err := SolvePnPRANSAC(testIntrinsics, nil, DefaultRANSACParams())
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)

	three := make([]geom.Correspondence, 3)
	_, err = SolvePnPRANSAC(testIntrinsics, three, DefaultRANSACParams())
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)

	five := make([]geom.Correspondence, 5)
	_, err = SolvePnPRANSAC(testIntrinsics, five, RANSACParams{Method: MethodDLT, Iterations: 10, ReprojectionError: 2})
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)

	// Every sample is degenerate: all model points coincide.
	same := make([]geom.Correspondence, 8)
	_, err = SolvePnPRANSAC(testIntrinsics, same, RANSACParams{Method: MethodP3P, Iterations: 20, ReprojectionError: 2, Seed: 1})
	assert.ErrorIs(t, err, ErrPoseUnsolvable)

	_, err = SolvePnPRANSAC(testIntrinsics, same, RANSACParams{Method: MethodP3P, Iterations: 0})
	assert.Error(t, err)
}

func TestRequiredIterations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		confidence float64
		w          float64
		k          int
		want       int
	}{
		{"all inliers", 0.95, 1, 4, 0},
		{"no inliers", 0.95, 0, 4, math.MaxInt},
		{"confidence one disables bound", 1, 0.5, 4, math.MaxInt},
		// log(0.05)/log(1-0.5^4) = 46.4
		{"half inliers", 0.95, 0.5, 4, 47},
		// log(0.01)/log(1-0.2^4) = 2875.9
		{"twenty percent", 0.99, 0.2, 4, 2876},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, requiredIterations(tt.confidence, tt.w, tt.k))
		})
	}
}
