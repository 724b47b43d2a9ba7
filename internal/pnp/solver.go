package pnp

import (
	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// Solver runs pose estimation against one camera and stores each successful
// result as that camera's pose. A failed solve leaves the camera untouched.
type Solver struct {
	cam *camera.Camera
}

// NewSolver returns a Solver that writes into cam.
func NewSolver(cam *camera.Camera) *Solver {
	return &Solver{cam: cam}
}

// Camera returns the camera the solver writes into.
func (s *Solver) Camera() *camera.Camera { return s.cam }

// EstimatePose runs a direct solve and updates the camera on success.
func (s *Solver) EstimatePose(corrs []geom.Correspondence, method Method) (camera.Pose, error) {
	pose, err := SolvePnP(s.cam.Intrinsics(), corrs, method)
	if err != nil {
		return camera.Pose{}, err
	}
	if err := s.cam.SetPose(pose); err != nil {
		return camera.Pose{}, err
	}
	return pose, nil
}

// EstimatePoseRANSAC runs a robust solve and updates the camera on success.
func (s *Solver) EstimatePoseRANSAC(corrs []geom.Correspondence, params RANSACParams) (RANSACResult, error) {
	res, err := SolvePnPRANSAC(s.cam.Intrinsics(), corrs, params)
	if err != nil {
		return res, err
	}
	if err := s.cam.SetPose(res.Pose); err != nil {
		return RANSACResult{}, err
	}
	return res, nil
}
