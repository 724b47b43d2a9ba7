// Package monitor renders per-session tracking charts.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/MilonLemon/pnp-demo/internal/pipeline"
)

// PoseSample is one frame's plotted values. Errors are NaN when the frame
// had no ground truth or no raw pose.
type PoseSample struct {
	Frame       int
	Inliers     int
	Matches     int
	Measured    bool
	Raw         [3]float64 // translation, NaN when the solve failed
	Estimate    [3]float64
	RawError    float64
	EstError    float64
	RawRotError float64
	EstRotError float64
}

// PosePlotter records frame results during a run and writes PNG charts
// afterwards.
type PosePlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	gate      int
	samples   []PoseSample
}

// NewPosePlotter returns a plotter that draws gate as the inlier threshold.
func NewPosePlotter(gate int) *PosePlotter {
	return &PosePlotter{gate: gate}
}

// Start initializes the plotter for a new run writing into outputDir.
func (pp *PosePlotter) Start(outputDir string) error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	pp.outputDir = outputDir
	pp.enabled = true
	pp.samples = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce output files.
func (pp *PosePlotter) Stop() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.enabled = false
}

// IsEnabled reports whether the plotter is recording.
func (pp *PosePlotter) IsEnabled() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.enabled
}

// Sample records one frame result.
func (pp *PosePlotter) Sample(r pipeline.FrameResult) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if !pp.enabled {
		return
	}

	nan := math.NaN()
	s := PoseSample{
		Frame:       r.Frame,
		Inliers:     r.Inliers,
		Matches:     r.Matches,
		Measured:    r.Estimate.Measured,
		Raw:         [3]float64{nan, nan, nan},
		RawError:    nan,
		EstError:    nan,
		RawRotError: nan,
		EstRotError: nan,
	}
	t := r.Estimate.Pose.Translation
	s.Estimate = [3]float64{t.X, t.Y, t.Z}
	if r.RawPose != nil {
		t := r.RawPose.Translation
		s.Raw = [3]float64{t.X, t.Y, t.Z}
	}
	if r.RawError != nil {
		s.RawError, s.RawRotError = r.RawError.Translation, r.RawError.Rotation
	}
	if r.EstimateError != nil {
		s.EstError, s.EstRotError = r.EstimateError.Translation, r.EstimateError.Rotation
	}
	pp.samples = append(pp.samples, s)
}

// SampleCount returns the number of recorded frames.
func (pp *PosePlotter) SampleCount() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.samples)
}

// Samples returns a copy of the recorded frames.
func (pp *PosePlotter) Samples() []PoseSample {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return append([]PoseSample(nil), pp.samples...)
}

// OutputDir returns the current output directory for plots.
func (pp *PosePlotter) OutputDir() string {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.outputDir
}

type series struct {
	label string
	pts   plotter.XYs
	dash  bool
}

// GeneratePlots writes the translation, error and inlier charts. Returns
// the number of files written.
func (pp *PosePlotter) GeneratePlots() (int, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if pp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(pp.samples) == 0 {
		return 0, nil
	}

	axes := [3]string{"x", "y", "z"}
	var trans []series
	for i, name := range axes {
		trans = append(trans,
			series{label: "raw " + name, pts: pp.collect(func(s PoseSample) float64 { return s.Raw[i] }), dash: true},
			series{label: "filtered " + name, pts: pp.collect(func(s PoseSample) float64 { return s.Estimate[i] })},
		)
	}

	charts := []struct {
		file, title, ylabel string
		lines               []series
	}{
		{"pose_translation.png", "Translation", "Position (model units)", trans},
		{"pose_translation_error.png", "Relative translation error", "|t_true - t| / |t|", []series{
			{label: "raw", pts: pp.collect(func(s PoseSample) float64 { return s.RawError }), dash: true},
			{label: "filtered", pts: pp.collect(func(s PoseSample) float64 { return s.EstError })},
		}},
		{"pose_rotation_error.png", "Rotation error", "Degrees", []series{
			{label: "raw", pts: pp.collect(func(s PoseSample) float64 { return s.RawRotError }), dash: true},
			{label: "filtered", pts: pp.collect(func(s PoseSample) float64 { return s.EstRotError })},
		}},
		{"pose_inliers.png", "RANSAC inliers", "Count", []series{
			{label: "matches", pts: pp.collect(func(s PoseSample) float64 { return float64(s.Matches) }), dash: true},
			{label: "inliers", pts: pp.collect(func(s PoseSample) float64 { return float64(s.Inliers) })},
			{label: "gate", pts: pp.collect(func(PoseSample) float64 { return float64(pp.gate) }), dash: true},
		}},
	}

	count := 0
	for _, c := range charts {
		if err := pp.savePlot(c.file, c.title, c.ylabel, c.lines); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// collect builds a line from the non-NaN values of f.
func (pp *PosePlotter) collect(f func(PoseSample) float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(pp.samples))
	for _, s := range pp.samples {
		v := f(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(s.Frame), Y: v})
	}
	return pts
}

func (pp *PosePlotter) savePlot(file, title, ylabel string, lines []series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = ylabel

	colors := generateColors(len(lines))
	for i, l := range lines {
		if len(l.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(l.pts)
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		if l.dash {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(l.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	path := filepath.Join(pp.outputDir, file)
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", file, err)
	}
	return nil
}

// generateColors returns n evenly spaced hues.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// MakePlotOutputDir returns baseDir/<name>/<timestamp>.
func MakePlotOutputDir(baseDir, name string, now time.Time) string {
	return filepath.Join(baseDir, name, now.Format("20060102_150405"))
}
