package tracking

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/config"
	"github.com/MilonLemon/pnp-demo/internal/geom"
	"github.com/MilonLemon/pnp-demo/internal/monitoring"
)

const (
	// StateSize is the length of the filter state vector.
	StateSize = 18
	// MeasurementSize is the length of a pose measurement.
	MeasurementSize = 6

	// orientation block offset within the state
	angleBase = 9
	// pinvTolerance drops singular values below this fraction of the largest
	// when the innovation covariance has to be pseudo-inverted.
	pinvTolerance = 1e-12
)

// ErrMeasurementDimension is returned by Correct for a measurement that is
// not MeasurementSize long.
var ErrMeasurementDimension = errors.New("tracking: measurement must have 6 components")

// measuredIndices are the state components observed by a measurement, in
// measurement order.
var measuredIndices = [MeasurementSize]int{0, 1, 2, angleBase, angleBase + 1, angleBase + 2}

// FilterConfig holds the Kalman filter tuning.
type FilterConfig struct {
	Dt               float64 // seconds between frames
	ProcessNoise     float64 // diagonal of Q
	MeasurementNoise float64 // diagonal of R
	ErrorCovInit     float64 // diagonal of the initial P
	MinInliers       int     // inlier count at or above which a measurement is applied
}

// DefaultFilterConfig returns the filter configuration loaded from the
// canonical tuning defaults file. Panics if the file cannot be found.
func DefaultFilterConfig() FilterConfig {
	return FilterConfigFromTuning(config.MustLoadDefaultConfig())
}

// FilterConfigFromTuning builds a FilterConfig from a loaded TuningConfig.
func FilterConfigFromTuning(cfg *config.TuningConfig) FilterConfig {
	return FilterConfig{
		Dt:               cfg.GetKalmanDt(),
		ProcessNoise:     cfg.GetProcessNoise(),
		MeasurementNoise: cfg.GetMeasurementNoise(),
		ErrorCovInit:     cfg.GetErrorCovInit(),
		MinInliers:       cfg.GetMinInliersKalman(),
	}
}

// Measurement is an observed pose: [x, y, z, roll, pitch, yaw].
type Measurement [MeasurementSize]float64

// MeasurementFromPose converts a pose to a measurement. The rotation is
// decomposed into Euler angles.
func MeasurementFromPose(p camera.Pose) Measurement {
	e := geom.EulerFromRotation(p.Rotation)
	return Measurement{
		p.Translation.X, p.Translation.Y, p.Translation.Z,
		e.Bank, e.Attitude, e.Heading,
	}
}

// Pose converts a measurement back to a pose with a matrix rotation.
func (m Measurement) Pose() camera.Pose {
	return camera.Pose{
		Rotation:    geom.RotationFromEuler(geom.Euler{Bank: m[3], Attitude: m[4], Heading: m[5]}),
		Translation: r3.Vec{X: m[0], Y: m[1], Z: m[2]},
	}
}

// Estimate is the filter output for one frame.
type Estimate struct {
	Pose camera.Pose
	// Measured is true when the frame's measurement passed the inlier gate
	// and was applied; false means the pose is prediction only.
	Measured bool
	// Observation is H·x, the filtered [x, y, z, roll, pitch, yaw].
	Observation Measurement
}

// MotionFilter is an 18-state constant-acceleration Kalman filter over pose.
// The predict/correct recurrence is serialised by an internal mutex.
type MotionFilter struct {
	mu  sync.Mutex
	cfg FilterConfig

	f *mat.Dense // transition
	h *mat.Dense // measurement selection
	q *mat.Dense // process noise
	r *mat.Dense // measurement noise

	x *mat.VecDense // state
	p *mat.Dense    // error covariance
}

// NewMotionFilter returns a filter in its initial state: zero state vector
// and P = ErrorCovInit·I.
func NewMotionFilter(cfg FilterConfig) *MotionFilter {
	mf := &MotionFilter{
		cfg: cfg,
		f:   transitionMatrix(cfg.Dt),
		h:   measurementMatrix(),
		q:   scaledIdentity(StateSize, cfg.ProcessNoise),
		r:   scaledIdentity(MeasurementSize, cfg.MeasurementNoise),
	}
	mf.resetLocked()
	return mf
}

// Config returns the filter configuration.
func (mf *MotionFilter) Config() FilterConfig { return mf.cfg }

// transitionMatrix builds F: for the translation block and the orientation
// block alike, p' = p + v·dt + a·dt²/2 and v' = v + a·dt.
func transitionMatrix(dt float64) *mat.Dense {
	f := scaledIdentity(StateSize, 1)
	for _, b := range []int{0, angleBase} {
		for i := 0; i < 3; i++ {
			f.Set(b+i, b+3+i, dt)
			f.Set(b+3+i, b+6+i, dt)
			f.Set(b+i, b+6+i, 0.5*dt*dt)
		}
	}
	return f
}

func measurementMatrix() *mat.Dense {
	h := mat.NewDense(MeasurementSize, StateSize, nil)
	for row, col := range measuredIndices {
		h.Set(row, col, 1)
	}
	return h
}

func scaledIdentity(n int, s float64) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, s)
	}
	return d
}

// Reset returns the filter to its initial state.
func (mf *MotionFilter) Reset() {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.resetLocked()
}

func (mf *MotionFilter) resetLocked() {
	mf.x = mat.NewVecDense(StateSize, nil)
	mf.p = scaledIdentity(StateSize, mf.cfg.ErrorCovInit)
}

// State returns a copy of the state vector.
func (mf *MotionFilter) State() []float64 {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	out := make([]float64, StateSize)
	copy(out, mf.x.RawVector().Data)
	return out
}

// Covariance returns a copy of the error covariance.
func (mf *MotionFilter) Covariance() *mat.Dense {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return mat.DenseCopyOf(mf.p)
}

// Predict advances the state one time step and returns the predicted
// observation.
func (mf *MotionFilter) Predict() Measurement {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.predictLocked()
	return mf.observationLocked()
}

func (mf *MotionFilter) predictLocked() {
	var x mat.VecDense
	x.MulVec(mf.f, mf.x)
	mf.x = &x

	// P = F·P·Fᵀ + Q
	var fp, p mat.Dense
	fp.Mul(mf.f, mf.p)
	p.Mul(&fp, mf.f.T())
	p.Add(&p, mf.q)
	mf.p = &p
	mf.guardLocked("predict")
}

// Correct applies measurement z (length MeasurementSize) to the current
// prediction and returns the corrected observation.
func (mf *MotionFilter) Correct(z []float64) (Measurement, error) {
	if len(z) != MeasurementSize {
		return Measurement{}, fmt.Errorf("%w: got %d", ErrMeasurementDimension, len(z))
	}
	mf.mu.Lock()
	defer mf.mu.Unlock()
	mf.correctLocked(z)
	return mf.observationLocked(), nil
}

func (mf *MotionFilter) correctLocked(z []float64) {
	// Innovation y = z - H·x
	var hx mat.VecDense
	hx.MulVec(mf.h, mf.x)
	y := mat.NewVecDense(MeasurementSize, nil)
	y.SubVec(mat.NewVecDense(MeasurementSize, append([]float64(nil), z...)), &hx)

	// S = H·P·Hᵀ + R
	var ph, s mat.Dense
	ph.Mul(mf.p, mf.h.T())
	s.Mul(mf.h, &ph)
	s.Add(&s, mf.r)

	sInv, ok := invertSPD(&s)
	if !ok {
		monitoring.Opsf("tracking: innovation covariance not positive definite, using pseudo-inverse")
		sInv = pseudoInverse(&s)
	}

	// K = P·Hᵀ·S⁻¹
	var k mat.Dense
	k.Mul(&ph, sInv)

	var ky mat.VecDense
	ky.MulVec(&k, y)
	mf.x.AddVec(mf.x, &ky)

	// P = (I - K·H)·P, symmetrised
	var kh, ikh, p mat.Dense
	kh.Mul(&k, mf.h)
	ikh.Sub(scaledIdentity(StateSize, 1), &kh)
	p.Mul(&ikh, mf.p)
	var pt mat.Dense
	pt.CloneFrom(p.T())
	p.Add(&p, &pt)
	p.Scale(0.5, &p)
	mf.p = &p
	mf.guardLocked("correct")
}

func (mf *MotionFilter) observationLocked() Measurement {
	var m Measurement
	for i, idx := range measuredIndices {
		m[i] = mf.x.AtVec(idx)
	}
	return m
}

// guardLocked resets the filter if an update produced NaN or Inf.
func (mf *MotionFilter) guardLocked(stage string) {
	for i := 0; i < StateSize; i++ {
		if !finite(mf.x.AtVec(i)) || !finite(mf.p.At(i, i)) {
			monitoring.Opsf("tracking: non-finite state after %s, resetting filter", stage)
			mf.resetLocked()
			return
		}
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Step runs one frame: predict, then correct with measured when it is
// non-nil and inliers >= MinInliers.
func (mf *MotionFilter) Step(measured *camera.Pose, inliers int) Estimate {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	mf.predictLocked()
	applied := false
	if measured != nil && inliers >= mf.cfg.MinInliers {
		z := MeasurementFromPose(*measured)
		mf.correctLocked(z[:])
		applied = true
	}
	obs := mf.observationLocked()
	return Estimate{Pose: obs.Pose(), Measured: applied, Observation: obs}
}

// invertSPD inverts a symmetric positive-definite matrix via Cholesky.
func invertSPD(a *mat.Dense) (*mat.Dense, bool) {
	n, _ := a.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, false
	}
	return mat.DenseCopyOf(&inv), true
}

// pseudoInverse returns the Moore–Penrose inverse of a via SVD.
func pseudoInverse(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return mat.NewDense(c, r, nil)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)
	k := len(vals)
	sInv := mat.NewDense(k, k, nil)
	for i, s := range vals {
		if s > pinvTolerance*vals[0] {
			sInv.Set(i, i, 1/s)
		}
	}
	var vs, out mat.Dense
	vs.Mul(&v, sInv)
	out.Mul(&vs, u.T())
	return &out
}
