package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Webcam defaults: 55mm lens on a 22.3x14.9mm sensor imaged at 640x480.
const (
	defaultFx = 640 * 55.0 / 22.3
	defaultFy = 480 * 55.0 / 14.9
	defaultCx = 320.0
	defaultCy = 240.0
)

// TuningConfig is the root configuration for the tracking pipeline. Every
// field is optional; the Get* methods supply defaults for omitted values so
// partial files are safe.
type TuningConfig struct {
	// Camera intrinsics (pixels)
	Fx *float64 `json:"fx,omitempty"`
	Fy *float64 `json:"fy,omitempty"`
	Cx *float64 `json:"cx,omitempty"`
	Cy *float64 `json:"cy,omitempty"`

	// Pose solver params
	PnPMethod         *string  `json:"pnp_method,omitempty"` // "iterative", "p3p" or "dlt"
	RANSACIterations  *int     `json:"ransac_iterations,omitempty"`
	ReprojectionError *float64 `json:"reprojection_error,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	RANSACRefine      *bool    `json:"ransac_refine,omitempty"`
	RANSACSeed        *uint64  `json:"ransac_seed,omitempty"` // 0 seeds from the clock

	// Kalman filter params
	MinInliersKalman *int     `json:"min_inliers_kalman,omitempty"`
	KalmanDt         *float64 `json:"kalman_dt,omitempty"`
	ProcessNoise     *float64 `json:"process_noise,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`
	ErrorCovInit     *float64 `json:"error_cov_init,omitempty"`

	// Matching and intersection
	RatioTest            *float64 `json:"ratio_test,omitempty"`
	ParallelIntersection *bool    `json:"parallel_intersection,omitempty"`

	// Replay pacing
	FrameInterval *string `json:"frame_interval,omitempty"` // duration string like "125ms"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{"fx": c.Fx, "fy": c.Fy} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.PnPMethod != nil {
		switch strings.ToLower(*c.PnPMethod) {
		case "iterative", "p3p", "dlt":
		default:
			return fmt.Errorf("unknown pnp_method %q", *c.PnPMethod)
		}
	}

	if c.RANSACIterations != nil && *c.RANSACIterations < 1 {
		return fmt.Errorf("ransac_iterations must be at least 1, got %d", *c.RANSACIterations)
	}
	if c.ReprojectionError != nil && *c.ReprojectionError <= 0 {
		return fmt.Errorf("reprojection_error must be positive, got %f", *c.ReprojectionError)
	}
	if c.Confidence != nil && (*c.Confidence <= 0 || *c.Confidence > 1) {
		return fmt.Errorf("confidence must be in (0, 1], got %f", *c.Confidence)
	}

	if c.MinInliersKalman != nil && *c.MinInliersKalman < 0 {
		return fmt.Errorf("min_inliers_kalman must be non-negative, got %d", *c.MinInliersKalman)
	}
	if c.KalmanDt != nil && *c.KalmanDt <= 0 {
		return fmt.Errorf("kalman_dt must be positive, got %f", *c.KalmanDt)
	}
	if c.ProcessNoise != nil && *c.ProcessNoise < 0 {
		return fmt.Errorf("process_noise must be non-negative, got %f", *c.ProcessNoise)
	}
	if c.MeasurementNoise != nil && *c.MeasurementNoise < 0 {
		return fmt.Errorf("measurement_noise must be non-negative, got %f", *c.MeasurementNoise)
	}
	if c.ErrorCovInit != nil && *c.ErrorCovInit <= 0 {
		return fmt.Errorf("error_cov_init must be positive, got %f", *c.ErrorCovInit)
	}

	if c.RatioTest != nil && (*c.RatioTest <= 0 || *c.RatioTest > 1) {
		return fmt.Errorf("ratio_test must be in (0, 1], got %f", *c.RatioTest)
	}

	if c.FrameInterval != nil && *c.FrameInterval != "" {
		if _, err := time.ParseDuration(*c.FrameInterval); err != nil {
			return fmt.Errorf("invalid frame_interval '%s': %w", *c.FrameInterval, err)
		}
	}

	return nil
}

// GetFx returns the fx value or the webcam default.
func (c *TuningConfig) GetFx() float64 {
	if c.Fx == nil {
		return defaultFx
	}
	return *c.Fx
}

// GetFy returns the fy value or the webcam default.
func (c *TuningConfig) GetFy() float64 {
	if c.Fy == nil {
		return defaultFy
	}
	return *c.Fy
}

// GetCx returns the cx value or the default.
func (c *TuningConfig) GetCx() float64 {
	if c.Cx == nil {
		return defaultCx
	}
	return *c.Cx
}

// GetCy returns the cy value or the default.
func (c *TuningConfig) GetCy() float64 {
	if c.Cy == nil {
		return defaultCy
	}
	return *c.Cy
}

// GetPnPMethod returns the lower-cased pnp_method or "iterative".
func (c *TuningConfig) GetPnPMethod() string {
	if c.PnPMethod == nil || *c.PnPMethod == "" {
		return "iterative"
	}
	return strings.ToLower(*c.PnPMethod)
}

// GetRANSACIterations returns the ransac_iterations value or the default.
func (c *TuningConfig) GetRANSACIterations() int {
	if c.RANSACIterations == nil {
		return 500
	}
	return *c.RANSACIterations
}

// GetReprojectionError returns the reprojection_error value or the default.
func (c *TuningConfig) GetReprojectionError() float64 {
	if c.ReprojectionError == nil {
		return 2.0
	}
	return *c.ReprojectionError
}

// GetConfidence returns the confidence value or the default.
func (c *TuningConfig) GetConfidence() float64 {
	if c.Confidence == nil {
		return 0.95
	}
	return *c.Confidence
}

// GetRANSACRefine returns the ransac_refine value or the default.
func (c *TuningConfig) GetRANSACRefine() bool {
	if c.RANSACRefine == nil {
		return true
	}
	return *c.RANSACRefine
}

// GetRANSACSeed returns the ransac_seed value; 0 means seed from the clock.
func (c *TuningConfig) GetRANSACSeed() uint64 {
	if c.RANSACSeed == nil {
		return 0
	}
	return *c.RANSACSeed
}

// GetMinInliersKalman returns the min_inliers_kalman value or the default.
func (c *TuningConfig) GetMinInliersKalman() int {
	if c.MinInliersKalman == nil {
		return 30
	}
	return *c.MinInliersKalman
}

// GetKalmanDt returns the kalman_dt value or the default.
func (c *TuningConfig) GetKalmanDt() float64 {
	if c.KalmanDt == nil {
		return 0.125
	}
	return *c.KalmanDt
}

// GetProcessNoise returns the process_noise value or the default.
func (c *TuningConfig) GetProcessNoise() float64 {
	if c.ProcessNoise == nil {
		return 1e-5
	}
	return *c.ProcessNoise
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 1e-2
	}
	return *c.MeasurementNoise
}

// GetErrorCovInit returns the error_cov_init value or the default.
func (c *TuningConfig) GetErrorCovInit() float64 {
	if c.ErrorCovInit == nil {
		return 1
	}
	return *c.ErrorCovInit
}

// GetRatioTest returns the ratio_test value or the default.
func (c *TuningConfig) GetRatioTest() float64 {
	if c.RatioTest == nil {
		return 0.70
	}
	return *c.RatioTest
}

// GetParallelIntersection returns the parallel_intersection value or the default.
func (c *TuningConfig) GetParallelIntersection() bool {
	if c.ParallelIntersection == nil {
		return false
	}
	return *c.ParallelIntersection
}

// GetFrameInterval parses and returns the FrameInterval as a time.Duration.
// Zero means frames are replayed without pacing.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil {
		return 0
	}
	return d
}
