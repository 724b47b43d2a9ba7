// Package registration builds the 2D/3D object model used for tracking: a
// bounded manual registration step that pins image points to known mesh
// vertices, and a model builder that lifts described keypoints onto the
// mesh surface.
package registration

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/monitoring"
	"github.com/MilonLemon/pnp-demo/internal/pnp"
)

// ErrRegistrationFull is returned by Register once the maximum number of
// points has been registered.
var ErrRegistrationFull = errors.New("registration: all points registered")

// Registration collects up to a fixed number of image/world pairs.
type Registration struct {
	max   int
	corrs []geom.Correspondence
}

// NewRegistration returns a Registration accepting max points.
func NewRegistration(max int) *Registration {
	if max < 0 {
		max = 0
	}
	return &Registration{max: max, corrs: make([]geom.Correspondence, 0, max)}
}

// Register records that image point p shows world point w.
func (r *Registration) Register(p geom.Point2, w r3.Vec) error {
	if r.Done() {
		return ErrRegistrationFull
	}
	r.corrs = append(r.corrs, geom.Correspondence{Image: p, World: w})
	return nil
}

// Done reports whether every point has been registered.
func (r *Registration) Done() bool { return len(r.corrs) >= r.max }

// Count returns the number of registered points.
func (r *Registration) Count() int { return len(r.corrs) }

// Max returns the number of points the registration accepts.
func (r *Registration) Max() int { return r.max }

// Correspondences returns a copy of the registered pairs.
func (r *Registration) Correspondences() []geom.Correspondence {
	return append([]geom.Correspondence(nil), r.corrs...)
}

// SolvePose estimates the registration pose with method and stores it in
// the solver's camera.
func (r *Registration) SolvePose(s *pnp.Solver, method pnp.Method) (camera.Pose, error) {
	pose, err := s.EstimatePose(r.corrs, method)
	if err != nil {
		return camera.Pose{}, fmt.Errorf("registration: %w", err)
	}
	monitoring.Diagf("registration: pose from %d points with %s", len(r.corrs), method)
	return pose, nil
}
