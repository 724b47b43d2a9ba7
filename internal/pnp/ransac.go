package pnp

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/config"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// RANSACParams configures SolvePnPRANSAC.
type RANSACParams struct {
	Method Method
	// Iterations caps the number of hypotheses drawn.
	Iterations int
	// ReprojectionError is the inlier threshold in pixels.
	ReprojectionError float64
	// Confidence is the target probability of having drawn at least one
	// all-inlier sample. A value >= 1 disables early termination.
	Confidence float64
	// Refine re-fits the best hypothesis on all its inliers.
	Refine bool
	// Seed makes sampling reproducible. 0 seeds from the clock.
	Seed uint64
}

// DefaultRANSACParams returns the tracking defaults: iterative method, 500
// iterations, 2px threshold, 0.95 confidence, refinement on.
func DefaultRANSACParams() RANSACParams {
	return RANSACParams{
		Method:            MethodIterative,
		Iterations:        500,
		ReprojectionError: 2.0,
		Confidence:        0.95,
		Refine:            true,
	}
}

// RANSACParamsFromTuning builds RANSACParams from the tuning configuration.
// An unparseable method name falls back to MethodIterative; LoadTuningConfig
// already rejects unknown names.
func RANSACParamsFromTuning(cfg *config.TuningConfig) RANSACParams {
	method, err := ParseMethod(cfg.GetPnPMethod())
	if err != nil {
		method = MethodIterative
	}
	return RANSACParams{
		Method:            method,
		Iterations:        cfg.GetRANSACIterations(),
		ReprojectionError: cfg.GetReprojectionError(),
		Confidence:        cfg.GetConfidence(),
		Refine:            cfg.GetRANSACRefine(),
		Seed:              cfg.GetRANSACSeed(),
	}
}

// RANSACResult is the best-supported pose and the indices of its inliers
// into the input slice, in ascending order.
type RANSACResult struct {
	Pose       camera.Pose
	Inliers    []int
	Iterations int
}

// sampleSize is the number of correspondences per hypothesis.
func sampleSize(m Method) int {
	if m == MethodDLT {
		return 6
	}
	// Three points for P3P plus one to choose among its solutions.
	return 4
}

// SolvePnPRANSAC robustly estimates a pose from correspondences that may
// contain outliers.
func SolvePnPRANSAC(intr camera.Intrinsics, corrs []geom.Correspondence, p RANSACParams) (RANSACResult, error) {
	k := sampleSize(p.Method)
	if len(corrs) == 0 || len(corrs) < k {
		return RANSACResult{}, fmt.Errorf("%w: ransac with %s needs %d, got %d",
			ErrInsufficientCorrespondences, p.Method, k, len(corrs))
	}
	if p.Iterations < 1 {
		return RANSACResult{}, fmt.Errorf("pnp: ransac iterations must be positive, got %d", p.Iterations)
	}

	seed := p.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	n := len(corrs)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sample := make([]geom.Correspondence, k)

	var (
		best      camera.Pose
		bestCount int
		found     bool
	)
	maxIter := p.Iterations
	iter := 0
	for ; iter < maxIter; iter++ {
		// Partial Fisher–Yates: perm[:k] becomes a uniform k-subset.
		for i := 0; i < k; i++ {
			j := i + rng.IntN(n-i)
			perm[i], perm[j] = perm[j], perm[i]
			sample[i] = corrs[perm[i]]
		}

		pose, err := fitMinimal(intr, sample, p.Method)
		if err != nil {
			continue
		}
		count := countInliers(intr, pose, corrs, p.ReprojectionError)
		if !found || count > bestCount {
			best, bestCount, found = pose, count, true
			if need := requiredIterations(p.Confidence, float64(count)/float64(n), k); need < maxIter {
				maxIter = max(need, iter+1)
			}
		}
	}
	if !found {
		return RANSACResult{Iterations: iter}, fmt.Errorf("%w: no hypothesis in %d iterations", ErrPoseUnsolvable, iter)
	}

	inliers := inlierIndices(intr, best, corrs, p.ReprojectionError)
	if p.Refine && len(inliers) >= MethodIterative.MinPoints() {
		refined := refine(intr, geom.Subset(corrs, inliers), best)
		if refinedInliers := inlierIndices(intr, refined, corrs, p.ReprojectionError); len(refinedInliers) >= len(inliers) {
			best, inliers = refined, refinedInliers
		}
	}
	return RANSACResult{Pose: best, Inliers: inliers, Iterations: iter}, nil
}

// fitMinimal solves one hypothesis from a minimal sample without the spread
// checks of SolvePnP; degenerate samples simply fail.
func fitMinimal(intr camera.Intrinsics, sample []geom.Correspondence, m Method) (camera.Pose, error) {
	var (
		pose camera.Pose
		err  error
	)
	if m == MethodDLT {
		pose, err = solveDLT(intr, sample)
	} else {
		pose, err = solveP3P(intr, sample)
	}
	if err != nil {
		return camera.Pose{}, err
	}
	if err := pose.Validate(); err != nil {
		return camera.Pose{}, err
	}
	return pose, nil
}

func countInliers(intr camera.Intrinsics, pose camera.Pose, corrs []geom.Correspondence, threshold float64) int {
	pm := camera.NewProjectionMatrix(intr, pose)
	count := 0
	for _, c := range corrs {
		if reprojectionError(pm, c) < threshold {
			count++
		}
	}
	return count
}

func inlierIndices(intr camera.Intrinsics, pose camera.Pose, corrs []geom.Correspondence, threshold float64) []int {
	pm := camera.NewProjectionMatrix(intr, pose)
	out := make([]int, 0, len(corrs))
	for i, c := range corrs {
		if reprojectionError(pm, c) < threshold {
			out = append(out, i)
		}
	}
	return out
}

// requiredIterations returns the number of draws needed so that, with inlier
// ratio w and sample size k, at least one all-inlier sample is drawn with
// probability confidence. It returns math.MaxInt when the bound does not
// apply.
func requiredIterations(confidence, w float64, k int) int {
	if confidence >= 1 || confidence <= 0 || w <= 0 {
		return math.MaxInt
	}
	if w >= 1 {
		return 0
	}
	denom := math.Log(1 - math.Pow(w, float64(k)))
	if denom >= 0 {
		return math.MaxInt
	}
	need := math.Ceil(math.Log(1-confidence) / denom)
	if need > float64(math.MaxInt32) {
		return math.MaxInt
	}
	return int(need)
}
