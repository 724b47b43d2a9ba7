package registration

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/features"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/mesh"
	"github.com/MilonLemon/pnp-demo/internal/monitoring"
)

// Model is the textured object model: keypoints that lie on the mesh with
// their 3D positions and descriptors, plus the keypoints that missed it.
//
// Points2D, Points3D and Descriptors are parallel: descriptor i describes
// the keypoint at Points2D[i], which sits on the surface at Points3D[i].
type Model struct {
	Points2D    []geom.Point2
	Points3D    []r3.Vec
	Descriptors []features.Descriptor
	Keypoints   []features.Keypoint
	Outliers    []geom.Point2
}

// AddCorrespondence appends a surface point.
func (m *Model) AddCorrespondence(p geom.Point2, w r3.Vec) {
	m.Points2D = append(m.Points2D, p)
	m.Points3D = append(m.Points3D, w)
}

// AddOutlier records an image point that is not on the object.
func (m *Model) AddOutlier(p geom.Point2) { m.Outliers = append(m.Outliers, p) }

// AddDescriptor appends the descriptor of the most recent correspondence.
func (m *Model) AddDescriptor(d features.Descriptor) { m.Descriptors = append(m.Descriptors, d) }

// AddKeypoint appends a keypoint.
func (m *Model) AddKeypoint(k features.Keypoint) { m.Keypoints = append(m.Keypoints, k) }

// NumPoints returns the number of surface points.
func (m *Model) NumPoints() int { return len(m.Points3D) }

// Correspondences pairs frame keypoints with model surface points. Each
// match's Query indexes frameKps and its Train indexes the model
// descriptors. Matches with out-of-range indices are skipped.
func (m *Model) Correspondences(matches []features.Match, frameKps []features.Keypoint) []geom.Correspondence {
	out := make([]geom.Correspondence, 0, len(matches))
	for _, mt := range matches {
		if mt.Query < 0 || mt.Query >= len(frameKps) || mt.Train < 0 || mt.Train >= len(m.Points3D) {
			continue
		}
		out = append(out, geom.Correspondence{Image: frameKps[mt.Query].Point, World: m.Points3D[mt.Train]})
	}
	return out
}

// LiftPoint back-projects image point p from cam onto the nearest surface
// of msh.
func LiftPoint(cam *camera.Camera, msh *mesh.Mesh, in mesh.Intersector, p geom.Point2) (r3.Vec, error) {
	return cam.Backproject(p, msh, in)
}

// BuildModel lifts each keypoint onto msh through cam's current pose.
// Keypoints whose ray hits the surface become correspondences carrying
// their descriptor; the rest are recorded as outliers.
func BuildModel(cam *camera.Camera, msh *mesh.Mesh, in mesh.Intersector, kps []features.Keypoint, descs []features.Descriptor) (*Model, error) {
	if len(kps) != len(descs) {
		return nil, fmt.Errorf("registration: %d keypoints but %d descriptors", len(kps), len(descs))
	}
	m := &Model{}
	for i, kp := range kps {
		w, err := LiftPoint(cam, msh, in, kp.Point)
		switch {
		case err == nil:
			m.AddCorrespondence(kp.Point, w)
			m.AddDescriptor(descs[i])
			m.AddKeypoint(kp)
		case errors.Is(err, mesh.ErrNoSurfaceIntersection):
			m.AddOutlier(kp.Point)
		default:
			return nil, fmt.Errorf("registration: keypoint %d: %w", i, err)
		}
	}
	monitoring.Diagf("registration: model has %d surface points, %d outliers", m.NumPoints(), len(m.Outliers))
	return m, nil
}
