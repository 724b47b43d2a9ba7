// Package pipeline runs the frame-synchronous tracking loop: each frame's
// correspondences are solved robustly, gated on inlier count, smoothed by
// the motion filter and published to the estimated camera before the next
// frame is read.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/config"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/monitoring"
	"github.com/MilonLemon/pnp-demo/internal/pnp"
	"github.com/MilonLemon/pnp-demo/internal/quality"
	"github.com/MilonLemon/pnp-demo/internal/timeutil"
	"github.com/MilonLemon/pnp-demo/internal/tracking"
)

// Frame is one frame's worth of input.
type Frame struct {
	Timestamp       time.Time // zero means stamp on arrival
	Correspondences []geom.Correspondence
	// Truth is the ground-truth pose when the source knows it.
	Truth *camera.Pose
}

// FrameSource yields frames until it returns io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Recorder persists frame results.
type Recorder interface {
	RecordFrame(ctx context.Context, r FrameResult) error
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Frame     int
	Timestamp time.Time
	Matches   int
	// RawPose is the RANSAC pose, nil when the solve was skipped or failed.
	RawPose     *camera.Pose
	Inliers     int
	Iterations  int
	InlierRatio float64 // percent of matches
	Estimate    tracking.Estimate
	Err         error

	Truth         *camera.Pose
	RawError      *quality.PoseError
	EstimateError *quality.PoseError
}

// Config is the pipeline tuning.
type Config struct {
	RANSAC        pnp.RANSACParams
	Filter        tracking.FilterConfig
	FrameInterval time.Duration // zero processes frames as fast as they arrive
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		RANSAC:        pnp.RANSACParamsFromTuning(cfg),
		Filter:        tracking.FilterConfigFromTuning(cfg),
		FrameInterval: cfg.GetFrameInterval(),
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRecorder stores every frame result in r.
func WithRecorder(r Recorder) Option { return func(t *Tracker) { t.recorder = r } }

// WithClock replaces the wall clock used for stamping and pacing.
func WithClock(c timeutil.Clock) Option { return func(t *Tracker) { t.clock = c } }

// Tracker owns the measured and estimated cameras of one tracked object.
// It is not safe for concurrent use; frames are processed strictly in
// order.
type Tracker struct {
	cfg       Config
	solver    *pnp.Solver
	estimated *camera.Camera
	filter    *tracking.MotionFilter
	recorder  Recorder
	clock     timeutil.Clock
	frame     int
}

// NewTracker returns a Tracker whose cameras share intr.
func NewTracker(intr camera.Intrinsics, cfg Config, opts ...Option) (*Tracker, error) {
	measured, err := camera.New(intr)
	if err != nil {
		return nil, err
	}
	estimated, err := camera.New(intr)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		cfg:       cfg,
		solver:    pnp.NewSolver(measured),
		estimated: estimated,
		filter:    tracking.NewMotionFilter(cfg.Filter),
		clock:     timeutil.RealClock{},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Measured returns the camera holding the latest raw solve.
func (t *Tracker) Measured() *camera.Camera { return t.solver.Camera() }

// Estimated returns the camera holding the latest filtered pose.
func (t *Tracker) Estimated() *camera.Camera { return t.estimated }

// Filter returns the motion filter.
func (t *Tracker) Filter() *tracking.MotionFilter { return t.filter }

// ProcessFrame runs one frame through solve, gate and filter. A frame with
// no correspondences skips the solve and only advances the filter.
func (t *Tracker) ProcessFrame(f Frame) FrameResult {
	res := FrameResult{
		Frame:     t.frame,
		Timestamp: f.Timestamp,
		Matches:   len(f.Correspondences),
		Truth:     f.Truth,
	}
	t.frame++
	if res.Timestamp.IsZero() {
		res.Timestamp = t.clock.Now()
	}

	var measured *camera.Pose
	if res.Matches > 0 {
		r, err := t.solver.EstimatePoseRANSAC(f.Correspondences, t.cfg.RANSAC)
		switch {
		case err == nil:
			pose := r.Pose
			measured = &pose
			res.RawPose = &pose
			res.Inliers = len(r.Inliers)
			res.Iterations = r.Iterations
			res.InlierRatio = 100 * float64(res.Inliers) / float64(res.Matches)
		case errors.Is(err, pnp.ErrInsufficientCorrespondences):
			res.Err = err
			monitoring.Tracef("frame %d: %v", res.Frame, err)
		default:
			res.Err = err
			monitoring.Opsf("frame %d: pose solve failed: %v", res.Frame, err)
		}
	}

	res.Estimate = t.filter.Step(measured, res.Inliers)
	if err := t.estimated.SetPose(res.Estimate.Pose); err != nil {
		monitoring.Opsf("frame %d: filtered pose rejected: %v", res.Frame, err)
	}

	if f.Truth != nil {
		est := quality.Compare(*f.Truth, res.Estimate.Pose)
		res.EstimateError = &est
		if res.RawPose != nil {
			raw := quality.Compare(*f.Truth, *res.RawPose)
			res.RawError = &raw
		}
	}

	monitoring.Tracef("frame %d: found %d of %d matches (%.1f%% inliers), iterations=%d measured=%t",
		res.Frame, res.Inliers, res.Matches, res.InlierRatio, res.Iterations, res.Estimate.Measured)
	return res
}

// RunStats counts frame outcomes over a Run.
type RunStats struct {
	Frames    int
	Solved    int // RANSAC produced a pose
	Corrected int // the pose passed the inlier gate
	Skipped   int // no correspondences
	Failed    int // the solve returned an error
}

func (s *RunStats) add(r FrameResult) {
	s.Frames++
	switch {
	case r.Matches == 0:
		s.Skipped++
	case r.Err != nil:
		s.Failed++
	case r.RawPose != nil:
		s.Solved++
	}
	if r.Estimate.Measured {
		s.Corrected++
	}
}

// Run processes frames from src until it returns io.EOF or ctx is done.
// With a FrameInterval configured, frames are paced by the clock.
func (t *Tracker) Run(ctx context.Context, src FrameSource) (RunStats, error) {
	var stats RunStats
	var ticks <-chan time.Time
	if t.cfg.FrameInterval > 0 {
		ticker := t.clock.NewTicker(t.cfg.FrameInterval)
		defer ticker.Stop()
		ticks = ticker.C()
	}

	monitoring.Diagf("pipeline: start method=%s iterations=%d reprojection=%.2f gate=%d",
		t.cfg.RANSAC.Method, t.cfg.RANSAC.Iterations, t.cfg.RANSAC.ReprojectionError, t.cfg.Filter.MinInliers)
	defer func() {
		monitoring.Diagf("pipeline: stop frames=%d solved=%d corrected=%d skipped=%d failed=%d",
			stats.Frames, stats.Solved, stats.Corrected, stats.Skipped, stats.Failed)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("pipeline: read frame: %w", err)
		}

		res := t.ProcessFrame(f)
		stats.add(res)
		if t.recorder != nil {
			if err := t.recorder.RecordFrame(ctx, res); err != nil {
				monitoring.Opsf("frame %d: record failed: %v", res.Frame, err)
			}
		}

		if ticks != nil {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-ticks:
			}
		}
	}
}
