package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/wavefield/config"
	"github.com/pthm-cable/wavefield/driver"
	"github.com/pthm-cable/wavefield/field"
	"github.com/pthm-cable/wavefield/gpu"
	"github.com/pthm-cable/wavefield/observer"
	"github.com/pthm-cable/wavefield/renderer"
	"github.com/pthm-cable/wavefield/session"
	"github.com/pthm-cable/wavefield/telemetry"
	"github.com/pthm-cable/wavefield/ui"
)

type runOptions struct {
	maxTicks    int
	outputDir   string
	metricsAddr string
	logStats    bool
}

func main() {
	// A missing .env is fine; it only supplies defaults such as WAVEFIELD_CONFIG.
	_ = godotenv.Load()

	// CLI flags
	configPath := flag.String("config", os.Getenv("WAVEFIELD_CONFIG"), "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without a window")
	backend := flag.String("backend", "", "Evaluator backend: cpu or gpu (empty = use config)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *backend != "" {
		cfg.Render.Backend = *backend
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid backend", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		maxTicks:    *maxTicks,
		outputDir:   *outputDir,
		metricsAddr: *metricsAddr,
		logStats:    *logStats,
	}

	var err error
	if *headless {
		err = runHeadless(ctx, cfg, opts)
	} else {
		err = runWindowed(ctx, cfg, opts)
	}
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

// runHeadless steps a session at the configured dt on an in-memory surface.
func runHeadless(ctx context.Context, cfg *config.Config, opts runOptions) error {
	s, err := session.New(cfg, session.Options{
		OutputDir: opts.outputDir,
		LogStats:  opts.logStats,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		g.Go(func() error {
			return telemetry.Serve(gctx, opts.metricsAddr, s.Metrics().Handler())
		})
	}
	g.Go(func() error {
		// The metrics server stops with the run.
		defer cancel()
		return s.Run(gctx, opts.maxTicks)
	})
	return g.Wait()
}

// runWindowed drives a session from the raylib frame loop. raylib owns the
// main thread, so only the metrics server runs in the errgroup.
func runWindowed(ctx context.Context, cfg *config.Config, opts runOptions) error {
	w, h := cfg.Screen.Width, cfg.Screen.Height

	rl.SetConfigFlags(rl.FlagWindowResizable)
	rl.InitWindow(int32(w), int32(h), "Wavefield")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	surface := gpu.NewWindowSurface(w, h)
	defer surface.Close()

	sopts := session.Options{
		Surface:   surface,
		OutputDir: opts.outputDir,
		LogStats:  opts.logStats,
	}
	if cfg.Render.Backend == "gpu" {
		eval, err := gpu.NewShaderEvaluator(gpu.Options{
			Layout:   field.Layout{Stride: cfg.Field.LandmarkStride},
			Capacity: min(cfg.Field.MaxLandmarks, gpu.MaxLandmarks),
			Palette:  renderer.NewPalette(cfg.Palette.HueLow, cfg.Palette.HueHigh, cfg.Palette.Saturation),
		})
		if err != nil {
			return err
		}
		sopts.Evaluator = eval
	}
	var live *observer.Live
	if cfg.Trajectory.Kind == "live" {
		live = &observer.Live{}
		sopts.Source = live
	}

	s, err := session.New(cfg, sopts)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		g.Go(func() error {
			return telemetry.Serve(gctx, opts.metricsAddr, s.Metrics().Handler())
		})
	}

	hud := ui.NewHUD()
	perfPanel := ui.NewPerfPanel(0, 0)
	controls := ui.NewControlPanel(10, 120, 220)
	osc := s.Driver().Oscillation()
	ctl := ui.Controls{PhaseAmplitude: osc.Amplitude, PhaseRate: float32(osc.Rate)}
	var act ui.ControlAction

	surface.SetOverlay(func() {
		sw, sh := int32(rl.GetScreenWidth()), int32(rl.GetScreenHeight())
		camX, camY := s.Driver().Camera()
		hud.Draw(ui.HUDData{
			Title:     "Wavefield",
			Session:   s.ID().String(),
			Backend:   cfg.Render.Backend,
			Frame:     s.Loop().Frame(),
			SimTime:   s.Driver().Elapsed(),
			FPS:       rl.GetFPS(),
			CameraX:   camX,
			CameraY:   camY,
			Landmarks: s.Store().Len(),
			Capacity:  s.Store().Capacity(),
			Paused:    s.Paused(),
		})
		y := hud.DrawStats(sw-230, 10, 220, s.LastStats())
		perfPanel.SetPosition(sw-230, y+20)
		perfPanel.Draw(s.Perf().Stats())

		ctl.Paused = s.Paused()
		act = controls.Draw(&ctl)
		hud.DrawControls(sh, "[Space] Pause  [Right click] Add landmark  [Esc] Quit")
	})

	slog.Info("starting windowed session",
		"backend", cfg.Render.Backend,
		"width", w,
		"height", h,
		"max_ticks", opts.maxTicks,
	)

	for !rl.WindowShouldClose() && gctx.Err() == nil {
		if rl.IsKeyPressed(rl.KeySpace) || act.TogglePause {
			s.TogglePause()
		}
		if act.LandmarkAtCamera {
			x, y := s.Driver().Camera()
			addLandmark(s, x, y)
		}
		if act.PhaseChanged {
			s.Driver().SetOscillation(driver.Oscillation{Amplitude: ctl.PhaseAmplitude, Rate: float64(ctl.PhaseRate)})
		}
		act = ui.ControlAction{}

		if x, y, ok := worldUnderMouse(surface); ok {
			if live != nil {
				live.Set(x, y)
			}
			if rl.IsMouseButtonPressed(rl.MouseButtonRight) {
				addLandmark(s, x, y)
			}
		}

		dt := time.Duration(float64(rl.GetFrameTime()) * float64(time.Second))
		res, err := s.Step(gctx, dt)
		if err != nil && !errors.Is(err, context.Canceled) {
			cancel()
			g.Wait()
			return err
		}
		if !res.Presented {
			surface.Idle()
		}

		if opts.maxTicks > 0 && res.Frame >= uint64(opts.maxTicks) {
			slog.Info("max ticks reached", "frame", res.Frame)
			break
		}
	}

	cancel()
	return g.Wait()
}

// worldUnderMouse maps the cursor to field coordinates when it is over the
// field.
func worldUnderMouse(surface *gpu.WindowSurface) (x, y float32, ok bool) {
	m := rl.GetMousePosition()
	dest := surface.Dest()
	if !rl.CheckCollisionPointRec(m, dest) {
		return 0, 0, false
	}
	w, h := surface.Size()
	px := int((m.X - dest.X) / dest.Width * float32(w))
	py := int((m.Y - dest.Y) / dest.Height * float32(h))
	x, y = field.PixelToWorld([2]float32{float32(w), float32(h)}, px, py)
	return x, y, true
}

func addLandmark(s *session.Session, x, y float32) {
	idx, err := s.AddLandmark(x, y)
	if err != nil {
		s.Logger().Warn("landmark rejected", "x", x, "y", y, "error", err)
		return
	}
	s.Logger().Info("landmark added", "index", idx, "x", x, "y", y)
}
