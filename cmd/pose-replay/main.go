// Command pose-replay tracks a synthetic textured cube through the PnP and
// Kalman pipeline, optionally storing every frame in SQLite and charting the
// run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MilonLemon/pnp-demo/internal/camera"
	"github.com/MilonLemon/pnp-demo/internal/config"
	"github.com/MilonLemon/pnp-demo/internal/db"
	"github.com/MilonLemon/pnp-demo/internal/features"
	"github.com/MilonLemon/pnp-demo/internal/mesh"
	"github.com/MilonLemon/pnp-demo/internal/monitor"
	"github.com/MilonLemon/pnp-demo/internal/monitoring"
	"github.com/MilonLemon/pnp-demo/internal/pipeline"
	"github.com/MilonLemon/pnp-demo/internal/quality"
	"github.com/MilonLemon/pnp-demo/internal/version"
)

var (
	configPath  = flag.String("config", "", "Tuning config JSON (defaults apply when empty)")
	dbPath      = flag.String("db", "", "SQLite file to store the session in (disabled when empty)")
	frames      = flag.Int("frames", 120, "Number of frames to replay")
	modelPoints = flag.Int("model-points", 200, "Textured surface points in the model")
	outliers    = flag.Float64("outliers", 0.2, "Fraction of observations moved to a random pixel")
	clutter     = flag.Int("clutter", 40, "Background keypoints per frame")
	noise       = flag.Float64("noise", 0.5, "Pixel noise sigma")
	bitFlips    = flag.Int("bit-flips", 8, "Descriptor bits flipped per observation")
	dropout     = flag.Float64("dropout", 0.05, "Probability that a frame has no detections")
	seed        = flag.Uint64("seed", 1, "Scene random seed")
	plotDir     = flag.String("plot", "", "Directory for PNG charts (disabled when empty)")
	fastMatch   = flag.Bool("fast-match", false, "Use one-way ratio matching")
	trace       = flag.Bool("trace", false, "Log per-frame trace output")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	writers := monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr}
	if *trace {
		writers.Trace = os.Stderr
	}
	monitoring.SetLogWriters(writers)

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("pose-replay: %v", err)
	}
}

func run(ctx context.Context, cfg *config.TuningConfig) error {
	intr := camera.IntrinsicsFromTuning(cfg)
	pcfg := pipeline.ConfigFromTuning(cfg)

	matcher := features.NewRobustMatcher(nil, nil, features.HammingMatcher{})
	matcher.Ratio = cfg.GetRatioTest()

	sc, err := newScene(sceneConfig{
		Frames:      *frames,
		ModelPoints: *modelPoints,
		Clutter:     *clutter,
		Outliers:    *outliers,
		Noise:       *noise,
		BitFlips:    *bitFlips,
		Dropout:     *dropout,
		FastMatch:   *fastMatch,
		Seed:        *seed,
		Interval:    time.Duration(pcfg.Filter.Dt * float64(time.Second)),
	}, intr, mesh.Intersector{Parallel: cfg.GetParallelIntersection()}, matcher)
	if err != nil {
		return fmt.Errorf("build scene: %w", err)
	}

	collector := &errorCollector{}
	recorders := multiRecorder{collector}

	var (
		store   *db.PoseStore
		session db.Session
	)
	if *dbPath != "" {
		database, err := db.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		store = db.NewPoseStore(database)
		session, err = store.CreateSession(ctx, "pose-replay", pcfg.RANSAC.Method.String(), cfg)
		if err != nil {
			return err
		}
		monitoring.Diagf("session %s stored in %s", session.ID, *dbPath)
		recorders = append(recorders, &storeRecorder{store: store, sessionID: session.ID})
	}

	var plotter *monitor.PosePlotter
	if *plotDir != "" {
		plotter = monitor.NewPosePlotter(pcfg.Filter.MinInliers)
		if err := plotter.Start(monitor.MakePlotOutputDir(*plotDir, "pose-replay", time.Now())); err != nil {
			return err
		}
		recorders = append(recorders, plotRecorder{plotter: plotter})
	}

	tracker, err := pipeline.NewTracker(intr, pcfg, pipeline.WithRecorder(recorders))
	if err != nil {
		return err
	}
	stats, err := tracker.Run(ctx, sc)
	if err != nil {
		return err
	}

	fmt.Printf("frames=%d solved=%d corrected=%d skipped=%d failed=%d\n",
		stats.Frames, stats.Solved, stats.Corrected, stats.Skipped, stats.Failed)
	printSummary("raw translation error", quality.Summarize(collector.rawTrans))
	printSummary("raw rotation error (deg)", quality.Summarize(collector.rawRot))
	printSummary("filtered translation error", quality.Summarize(collector.estTrans))
	printSummary("filtered rotation error (deg)", quality.Summarize(collector.estRot))

	if store != nil {
		st, err := store.SessionStats(ctx, session.ID)
		if err != nil {
			return err
		}
		fmt.Printf("session %s: frames=%d solved=%d measured=%d mean inliers=%.1f (%.1f%%)\n",
			session.ID, st.Frames, st.Solved, st.Measured, st.MeanInliers, st.MeanInlierRatio)
	}

	if plotter != nil {
		plotter.Stop()
		n, err := plotter.GeneratePlots()
		if err != nil {
			return fmt.Errorf("generate plots: %w", err)
		}
		fmt.Printf("wrote %d plots to %s\n", n, plotter.OutputDir())
	}
	return nil
}

func printSummary(label string, s quality.Summary) {
	if s.Count == 0 {
		fmt.Printf("%-30s n/a\n", label)
		return
	}
	fmt.Printf("%-30s n=%d mean=%.4f median=%.4f std=%.4f max=%.4f rms=%.4f\n",
		label, s.Count, s.Mean, s.Median, s.StdDev, s.Max, s.RMS)
}
