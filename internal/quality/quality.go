// Package quality scores estimated poses against ground truth and
// summarises per-session error series.
package quality

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// TranslationError returns |truth - est| / |est|. An estimate at the origin
// yields +Inf, or 0 when the truth is also at the origin.
func TranslationError(truth, est r3.Vec) float64 {
	d := r3.Norm(r3.Sub(truth, est))
	n := r3.Norm(est)
	if n == 0 {
		if d == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return d / n
}

// RotationError returns the largest angle, in degrees, between
// corresponding columns of truth and est.
func RotationError(truth, est geom.Rotation) float64 {
	var worst float64
	for c := 0; c < 3; c++ {
		worst = math.Max(worst, geom.AngleBetween(truth.Column(c), est.Column(c)))
	}
	return worst * 180 / math.Pi
}

// PoseError holds both error measures for one pose.
type PoseError struct {
	Translation float64
	Rotation    float64 // degrees
}

// Compare scores est against truth.
func Compare(truth, est camera.Pose) PoseError {
	return PoseError{
		Translation: TranslationError(truth.Translation, est.Translation),
		Rotation:    RotationError(truth.Rotation, est.Rotation),
	}
}

// Summary describes a series of non-negative error values.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	Max    float64
	RMS    float64
}

// Summarize computes a Summary over the finite values of xs.
func Summarize(xs []float64) Summary {
	vals := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			vals = append(vals, x)
		}
	}
	s := Summary{Count: len(vals)}
	if len(vals) == 0 {
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	if len(vals) == 1 {
		s.StdDev = 0
	}
	s.Max = floats.Max(vals)
	s.RMS = math.Sqrt(floats.Dot(vals, vals) / float64(len(vals)))
	sorted := append([]float64(nil), vals...)
	floats.Argsort(sorted, make([]int, len(sorted)))
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}
