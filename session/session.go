// Package session wires one landmark store, frame driver, render loop and
// telemetry set into an isolated simulation session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pthm-cable/wavefield/config"
	"github.com/pthm-cable/wavefield/driver"
	"github.com/pthm-cable/wavefield/field"
	"github.com/pthm-cable/wavefield/observer"
	"github.com/pthm-cable/wavefield/renderer"
	"github.com/pthm-cable/wavefield/telemetry"
)

// Options supplies the pieces a session does not build from config.
type Options struct {
	Evaluator renderer.Evaluator // nil = CPU evaluator; required for the gpu backend
	Surface   renderer.Surface   // nil = in-memory surface at the configured screen size
	Source    observer.Source    // nil = built from the trajectory config
	Logger    *slog.Logger       // nil = slog.Default()
	OutputDir string             // empty = no CSV output
	LogStats  bool               // log stats and perf at every window
}

// Session owns everything one simulation mutates. Sessions share no state.
type Session struct {
	id     uuid.UUID
	cfg    *config.Config
	logger *slog.Logger

	store  *field.Store
	driver *driver.Driver
	loop   *renderer.Loop

	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	probe     *telemetry.Probe
	output    *telemetry.OutputManager
	metrics   *telemetry.Metrics
	lastStats telemetry.WindowStats
	logStats  bool

	paused bool
}

// New builds a session from cfg.
func New(cfg *config.Config, opts Options) (*Session, error) {
	id := uuid.New()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", id.String())

	source := opts.Source
	if source == nil {
		var err error
		if source, err = NewSource(cfg.Trajectory); err != nil {
			return nil, err
		}
	}

	eval := opts.Evaluator
	if eval == nil {
		if cfg.Render.Backend != "cpu" {
			return nil, fmt.Errorf("backend %q needs an evaluator", cfg.Render.Backend)
		}
		cpu, err := renderer.NewCPUEvaluator(renderer.CPUOptions{
			Workers:  cfg.Render.Workers,
			Layout:   field.Layout{Stride: cfg.Field.LandmarkStride},
			Capacity: cfg.Field.MaxLandmarks,
			Palette:  renderer.NewPalette(cfg.Palette.HueLow, cfg.Palette.HueHigh, cfg.Palette.Saturation),
		})
		if err != nil {
			return nil, fmt.Errorf("creating cpu evaluator: %w", err)
		}
		eval = cpu
	}

	// The kernel buffer bounds the store, so appends fail before a render can.
	store := field.NewStore(min(cfg.Field.MaxLandmarks, eval.Capacity()))
	for i, lm := range cfg.Landmarks {
		if _, err := store.Add(lm.X, lm.Y); err != nil {
			eval.Close()
			return nil, fmt.Errorf("adding configured landmark %d: %w", i, err)
		}
	}

	surface := opts.Surface
	if surface == nil {
		mem := renderer.NewMemorySurface(cfg.Screen.Width, cfg.Screen.Height)
		if cfg.Render.FrameDir != "" {
			mem.DumpPNG(cfg.Render.FrameDir, cfg.Render.FrameEvery)
		}
		surface = mem
	}

	policy := renderer.ReacquirePolicy{
		Attempts: cfg.Device.ReacquireAttempts,
		Backoff:  cfg.Derived.ReacquireBackoff,
	}
	loop, err := renderer.NewLoop(eval, surface, policy, logger)
	if err != nil {
		eval.Close()
		return nil, err
	}

	w, h := surface.Size()
	drv := driver.New(store, source,
		[2]float32{float32(w), float32(h)},
		driver.Constants{
			WaveNumber:       float32(cfg.Field.WaveNumber),
			DecayFactor:      float32(cfg.Field.DecayFactor),
			FeedbackStrength: float32(cfg.Field.FeedbackStrength),
		},
		driver.Oscillation{
			Amplitude: float32(cfg.Phase.Amplitude),
			Rate:      cfg.Phase.Rate,
		},
	)

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		loop.Close()
		return nil, err
	}
	if err := output.WriteConfig(cfg); err != nil {
		output.Close()
		loop.Close()
		return nil, fmt.Errorf("writing config snapshot: %w", err)
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger,
		store:     store,
		driver:    drv,
		loop:      loop,
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		probe:     telemetry.NewProbe(cfg.Telemetry.ProbeSize),
		output:    output,
		metrics:   telemetry.NewMetrics(id.String()),
		logStats:  opts.LogStats,
	}
	s.metrics.Landmarks.Set(float64(store.Len()))

	logger.Info("session created",
		"backend", cfg.Render.Backend,
		"width", w,
		"height", h,
		"landmarks", store.Len(),
		"capacity", store.Capacity(),
		"trajectory", cfg.Trajectory.Kind,
	)
	return s, nil
}

// Step runs one tick: driver, then the render loop, then telemetry. A paused
// session returns immediately without advancing the clock.
func (s *Session) Step(ctx context.Context, dt time.Duration) (renderer.Result, error) {
	if s.paused {
		return renderer.Result{Frame: s.loop.Frame()}, nil
	}

	start := time.Now()
	params := s.driver.Tick(dt)
	driverDur := time.Since(start)

	res, err := s.loop.Render(ctx, params, s.store.View())

	start = time.Now()
	s.collector.Record(res)
	s.metrics.Observe(res, driverDur)
	timing := telemetry.NewTickTiming(driverDur, res)
	timing.Telemetry = time.Since(start)
	s.perf.Record(timing)

	if err == nil && s.collector.ShouldFlush(res.Frame) {
		err = s.flush(res.Frame)
	}
	return res, err
}

func (s *Session) flush(frame uint64) error {
	camX, camY := s.driver.Camera()
	probe := s.probe.Sample(s.store.View(), s.cfg.Field.WaveNumber, s.cfg.Field.DecayFactor, camX, camY)
	stats := s.collector.Flush(frame, s.driver.Elapsed(), camX, camY, s.store.Len(), probe)
	perf := s.perf.Stats()
	s.lastStats = stats

	s.metrics.ProbePeak.Set(probe.Peak)
	s.metrics.Landmarks.Set(float64(s.store.Len()))

	if s.logStats {
		stats.LogStats(s.logger)
		perf.LogStats(s.logger)
	}
	if err := s.output.WriteStats(stats); err != nil {
		return err
	}
	return s.output.WritePerf(perf, frame)
}

// Run steps at the configured dt until maxTicks ticks have run (0 = no
// limit) or ctx is cancelled. Cancellation is a clean stop.
func (s *Session) Run(ctx context.Context, maxTicks int) error {
	s.logger.Info("session started", "max_ticks", maxTicks, "dt", s.cfg.Derived.DT)
	for n := 0; maxTicks <= 0 || n < maxTicks; n++ {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Step(ctx, s.cfg.Derived.DT); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return err
		}
	}
	s.logger.Info("session stopped", "frames", s.loop.Frame(), "sim_time", s.driver.Elapsed())
	return nil
}

// AddLandmark appends a landmark to the running session.
func (s *Session) AddLandmark(x, y float32) (int, error) {
	idx, err := s.store.Add(x, y)
	if err != nil {
		return idx, err
	}
	s.metrics.Landmarks.Set(float64(s.store.Len()))
	return idx, nil
}

func (s *Session) Pause() { s.paused = true }
func (s *Session) Resume() { s.paused = false }
func (s *Session) Paused() bool { return s.paused }

// TogglePause flips the paused state.
func (s *Session) TogglePause() { s.paused = !s.paused }

func (s *Session) ID() uuid.UUID { return s.id }
func (s *Session) Store() *field.Store { return s.store }
func (s *Session) Driver() *driver.Driver { return s.driver }
func (s *Session) Loop() *renderer.Loop { return s.loop }
func (s *Session) Metrics() *telemetry.Metrics { return s.metrics }
func (s *Session) Perf() *telemetry.PerfCollector { return s.perf }
func (s *Session) LastStats() telemetry.WindowStats { return s.lastStats }
func (s *Session) Logger() *slog.Logger { return s.logger }

// Close releases the evaluator and flushes output files.
func (s *Session) Close() error {
	return errors.Join(s.loop.Close(), s.output.Close())
}
