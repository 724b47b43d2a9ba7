package monitor

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/pipeline"
	"github.com/MilonLemon/pnp-demo/internal/quality"
	"github.com/MilonLemon/pnp-demo/internal/tracking"
)

func frameResult(i int, solved bool) pipeline.FrameResult {
	est := camera.IdentityPose()
	est.Translation = r3.Vec{Z: float64(i)}
	r := pipeline.FrameResult{
		Frame:         i,
		Matches:       40,
		Estimate:      tracking.Estimate{Pose: est, Measured: solved},
		EstimateError: &quality.PoseError{Translation: 0.1, Rotation: 2},
	}
	if solved {
		raw := est
		r.RawPose = &raw
		r.Inliers = 35
		r.RawError = &quality.PoseError{Translation: 0.05, Rotation: 1}
	}
	return r
}

func TestPosePlotter_StartStop(t *testing.T) {
	pp := NewPosePlotter(30)
	if pp.IsEnabled() {
		t.Error("expected plotter to be disabled initially")
	}

	dir := filepath.Join(t.TempDir(), "nested", "plots")
	if err := pp.Start(dir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !pp.IsEnabled() {
		t.Error("expected plotter to be enabled after Start")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("output dir not created: %v", err)
	}
	if pp.OutputDir() != dir {
		t.Errorf("OutputDir() = %q, want %q", pp.OutputDir(), dir)
	}

	pp.Stop()
	if pp.IsEnabled() {
		t.Error("expected plotter to be disabled after Stop")
	}
	pp.Sample(frameResult(0, true))
	if pp.SampleCount() != 0 {
		t.Error("stopped plotter recorded a sample")
	}
}

func TestPosePlotter_Sample(t *testing.T) {
	pp := NewPosePlotter(30)
	if err := pp.Start(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	pp.Sample(frameResult(0, true))
	pp.Sample(frameResult(1, false))

	got := pp.Samples()
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Raw[2] != 0 || got[0].RawError != 0.05 || got[0].Inliers != 35 {
		t.Errorf("unexpected first sample: %+v", got[0])
	}
	if !math.IsNaN(got[1].Raw[0]) || !math.IsNaN(got[1].RawError) {
		t.Errorf("expected NaN raw values for an unsolved frame: %+v", got[1])
	}
	if got[1].Estimate[2] != 1 || got[1].EstRotError != 2 {
		t.Errorf("unexpected estimate values: %+v", got[1])
	}
}

func TestPosePlotter_GeneratePlots(t *testing.T) {
	pp := NewPosePlotter(30)
	if _, err := pp.GeneratePlots(); err == nil {
		t.Error("expected error without an output directory")
	}

	dir := t.TempDir()
	if err := pp.Start(dir); err != nil {
		t.Fatal(err)
	}
	if n, err := pp.GeneratePlots(); err != nil || n != 0 {
		t.Errorf("GeneratePlots() with no samples = %d, %v", n, err)
	}

	for i := 0; i < 10; i++ {
		pp.Sample(frameResult(i, i%3 != 0))
	}
	n, err := pp.GeneratePlots()
	if err != nil {
		t.Fatalf("GeneratePlots failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 plots, got %d", n)
	}
	for _, f := range []string{"pose_translation.png", "pose_translation_error.png", "pose_rotation_error.png", "pose_inliers.png"} {
		info, err := os.Stat(filepath.Join(dir, f))
		if err != nil {
			t.Errorf("missing %s: %v", f, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", f)
		}
	}
}

func TestGenerateColors(t *testing.T) {
	if generateColors(0) != nil {
		t.Error("expected nil for n=0")
	}
	colors := generateColors(3)
	if len(colors) != 3 {
		t.Fatalf("expected 3 colors, got %d", len(colors))
	}
	if colors[0] == colors[1] {
		t.Error("expected distinct colors")
	}
	if c, ok := colors[0].(color.RGBA); !ok || c.A != 255 {
		t.Errorf("expected opaque RGBA, got %#v", colors[0])
	}
}

func TestHSLToRGB_Grey(t *testing.T) {
	r, g, b := hslToRGB(0.3, 0, 0.5)
	if r != g || g != b || r != 127 {
		t.Errorf("hslToRGB grey = %d,%d,%d", r, g, b)
	}
}

func TestMakePlotOutputDir(t *testing.T) {
	ts := time.Date(2026, 1, 7, 17, 31, 29, 0, time.UTC)
	got := MakePlotOutputDir("plots", "replay", ts)
	want := filepath.Join("plots", "replay", "20260107_173129")
	if got != want {
		t.Errorf("MakePlotOutputDir = %q, want %q", got, want)
	}
}
