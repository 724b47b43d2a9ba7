package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/features"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/mesh"
	"github.com/MilonLemon/pnp-demo/internal/monitoring"
	"github.com/MilonLemon/pnp-demo/internal/pipeline"
	"github.com/MilonLemon/pnp-demo/internal/pnp"
	"github.com/MilonLemon/pnp-demo/internal/registration"
)

const (
	descriptorBytes = 32
	imageWidth      = 640
	imageHeight     = 480
)

// sceneConfig drives the synthetic replay.
type sceneConfig struct {
	Frames      int
	ModelPoints int     // textured surface points sampled for the model
	Clutter     int     // random background keypoints per frame
	Outliers    float64 // fraction of matched keypoints moved to a random pixel
	Noise       float64 // pixel noise sigma
	BitFlips    int     // descriptor bits flipped per observation
	Dropout     float64 // probability that a frame has no detections
	FastMatch   bool    // one-way ratio matching instead of the symmetric test
	Seed        uint64
	Interval    time.Duration
}

// scene is a textured unit cube moving in front of a fixed camera. It
// implements pipeline.FrameSource.
type scene struct {
	cfg      sceneConfig
	rng      *rand.Rand
	intr     camera.Intrinsics
	mesh     *mesh.Mesh
	in       mesh.Intersector
	matcher  *features.RobustMatcher
	model    *registration.Model
	observer *camera.Camera
	start    time.Time
	frame    int
}

func newScene(cfg sceneConfig, intr camera.Intrinsics, in mesh.Intersector, matcher *features.RobustMatcher) (*scene, error) {
	observer, err := camera.New(intr)
	if err != nil {
		return nil, err
	}
	s := &scene{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		intr:     intr,
		mesh:     mesh.UnitCube(),
		in:       in,
		matcher:  matcher,
		observer: observer,
		start:    time.Unix(0, 0).UTC(),
	}
	if err := s.buildModel(); err != nil {
		return nil, err
	}
	return s, nil
}

// trajectory returns the object-to-camera pose at frame i.
func trajectory(i int) camera.Pose {
	t := float64(i) * 2 * math.Pi / 240
	return camera.Pose{
		Rotation: geom.RotationFromRodrigues(r3.Vec{
			X: 0.35 + 0.15*math.Sin(t),
			Y: 0.6 * math.Sin(0.5*t),
			Z: 0.1 * math.Cos(t),
		}),
		Translation: r3.Vec{X: 0.3 * math.Sin(t), Y: 0.2 * math.Cos(1.5*t), Z: 6 + 0.5*math.Sin(t)},
	}
}

// buildModel registers the cube corners at the first pose, then lifts
// described keypoints onto the surface to form the tracking model.
func (s *scene) buildModel() error {
	pose0 := trajectory(0)
	pm := camera.NewProjectionMatrix(s.intr, pose0)

	reg := registration.NewRegistration(len(s.mesh.Vertices))
	for _, v := range s.mesh.Vertices {
		p, err := camera.Project(pm, v.Point)
		if err != nil {
			return fmt.Errorf("register vertex %d: %w", v.Index, err)
		}
		if err := reg.Register(p, v.Point); err != nil {
			return err
		}
	}
	regCam, err := camera.New(s.intr)
	if err != nil {
		return err
	}
	if _, err := reg.SolvePose(pnp.NewSolver(regCam), pnp.MethodIterative); err != nil {
		return err
	}

	var kps []features.Keypoint
	var descs []features.Descriptor
	for len(kps) < s.cfg.ModelPoints {
		w := s.surfacePoint()
		p, err := camera.Project(pm, w)
		if err != nil || !inImage(p) {
			continue
		}
		kps = append(kps, features.Keypoint{Point: p, Size: 7, Response: s.rng.Float64()})
		descs = append(descs, s.randomDescriptor())
	}
	for i := 0; i < s.cfg.Clutter; i++ {
		kps = append(kps, features.Keypoint{Point: s.randomPixel(), Size: 7})
		descs = append(descs, s.randomDescriptor())
	}

	model, err := registration.BuildModel(regCam, s.mesh, s.in, kps, descs)
	if err != nil {
		return err
	}
	s.model = model
	monitoring.Diagf("scene: model built from %d registered corners: %d surface points, %d outliers",
		reg.Count(), model.NumPoints(), len(model.Outliers))
	return nil
}

// surfacePoint samples a point uniformly on a random cube triangle.
func (s *scene) surfacePoint() r3.Vec {
	a, b, c := s.mesh.Corners(s.rng.IntN(len(s.mesh.Triangles)))
	u, v := s.rng.Float64(), s.rng.Float64()
	if u+v > 1 {
		u, v = 1-u, 1-v
	}
	return r3.Add(a, r3.Add(r3.Scale(u, r3.Sub(b, a)), r3.Scale(v, r3.Sub(c, a))))
}

func (s *scene) randomPixel() geom.Point2 {
	return geom.Point2{X: s.rng.Float64() * imageWidth, Y: s.rng.Float64() * imageHeight}
}

func (s *scene) randomDescriptor() features.Descriptor {
	d := make(features.Descriptor, descriptorBytes)
	for i := range d {
		d[i] = byte(s.rng.UintN(256))
	}
	return d
}

func (s *scene) perturb(d features.Descriptor) features.Descriptor {
	out := append(features.Descriptor(nil), d...)
	for i := 0; i < s.cfg.BitFlips; i++ {
		bit := s.rng.IntN(len(out) * 8)
		out[bit/8] ^= 1 << (bit % 8)
	}
	return out
}

func inImage(p geom.Point2) bool {
	return p.X >= 0 && p.X < imageWidth && p.Y >= 0 && p.Y < imageHeight
}

// visible reports whether w is the first surface hit along its line of sight.
func (s *scene) visible(p geom.Point2, w r3.Vec) bool {
	hit, err := s.observer.Backproject(p, s.mesh, s.in)
	if err != nil {
		return false
	}
	return r3.Norm(r3.Sub(hit, w)) < 1e-6
}

// Next implements pipeline.FrameSource.
func (s *scene) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	if s.frame >= s.cfg.Frames {
		return pipeline.Frame{}, io.EOF
	}
	truth := trajectory(s.frame)
	f := pipeline.Frame{
		Timestamp: s.start.Add(time.Duration(s.frame) * s.cfg.Interval),
		Truth:     &truth,
	}
	s.frame++

	if s.rng.Float64() < s.cfg.Dropout {
		return f, nil
	}
	if err := s.observer.SetPose(truth); err != nil {
		return pipeline.Frame{}, err
	}
	pm := s.observer.ProjectionMatrix()

	var kps []features.Keypoint
	var descs []features.Descriptor
	for j, w := range s.model.Points3D {
		p, err := camera.Project(pm, w)
		if err != nil || !inImage(p) || !s.visible(p, w) {
			continue
		}
		if s.rng.Float64() < s.cfg.Outliers {
			p = s.randomPixel()
		} else {
			p.X += s.rng.NormFloat64() * s.cfg.Noise
			p.Y += s.rng.NormFloat64() * s.cfg.Noise
		}
		kps = append(kps, features.Keypoint{Point: p, Size: 7})
		descs = append(descs, s.perturb(s.model.Descriptors[j]))
	}
	for i := 0; i < s.cfg.Clutter; i++ {
		kps = append(kps, features.Keypoint{Point: s.randomPixel(), Size: 7})
		descs = append(descs, s.randomDescriptor())
	}

	var matches []features.Match
	var err error
	if s.cfg.FastMatch {
		matches, err = s.matcher.FastMatch(descs, s.model.Descriptors)
	} else {
		matches, err = s.matcher.Match(descs, s.model.Descriptors)
	}
	if err != nil {
		return pipeline.Frame{}, err
	}
	f.Correspondences = s.model.Correspondences(matches, kps)
	return f, nil
}
