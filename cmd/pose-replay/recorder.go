package main

import (
	"context"
	"errors"
	"sync"

	"github.com/MilonLemon/pnp-demo/internal/db"
	"github.com/MilonLemon/pnp-demo/internal/monitor"
	"github.com/MilonLemon/pnp-demo/internal/pipeline"
)

// multiRecorder fans a frame result out to every recorder.
type multiRecorder []pipeline.Recorder

func (m multiRecorder) RecordFrame(ctx context.Context, r pipeline.FrameResult) error {
	var errs []error
	for _, rec := range m {
		if err := rec.RecordFrame(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// storeRecorder writes frames to a session in the pose store.
type storeRecorder struct {
	store     *db.PoseStore
	sessionID string
}

func frameRecord(sessionID string, r pipeline.FrameResult) db.FrameRecord {
	rec := db.FrameRecord{
		SessionID:     sessionID,
		Frame:         r.Frame,
		Timestamp:     r.Timestamp,
		Matches:       r.Matches,
		Inliers:       r.Inliers,
		Iterations:    r.Iterations,
		InlierRatio:   r.InlierRatio,
		Measured:      r.Estimate.Measured,
		RawPose:       r.RawPose,
		EstimatedPose: r.Estimate.Pose,
		RawError:      r.RawError,
		EstimateError: r.EstimateError,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

func (s *storeRecorder) RecordFrame(ctx context.Context, r pipeline.FrameResult) error {
	return s.store.RecordFrame(ctx, frameRecord(s.sessionID, r))
}

// plotRecorder feeds the pose plotter.
type plotRecorder struct {
	plotter *monitor.PosePlotter
}

func (p plotRecorder) RecordFrame(_ context.Context, r pipeline.FrameResult) error {
	p.plotter.Sample(r)
	return nil
}

// errorCollector keeps the per-frame errors for the run summary.
type errorCollector struct {
	mu               sync.Mutex
	rawTrans, rawRot []float64
	estTrans, estRot []float64
}

func (c *errorCollector) RecordFrame(_ context.Context, r pipeline.FrameResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.RawError != nil {
		c.rawTrans = append(c.rawTrans, r.RawError.Translation)
		c.rawRot = append(c.rawRot, r.RawError.Rotation)
	}
	if r.EstimateError != nil {
		c.estTrans = append(c.estTrans, r.EstimateError.Translation)
		c.estRot = append(c.estRot, r.EstimateError.Rotation)
	}
	return nil
}
