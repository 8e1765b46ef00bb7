package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pthm-cable/wavefield/config"
	"github.com/pthm-cable/wavefield/field"
	"github.com/pthm-cable/wavefield/renderer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Screen.Width = 48
	cfg.Screen.Height = 32
	cfg.Render.Workers = 2
	cfg.Telemetry.StatsWindow = 5
	cfg.Telemetry.ProbeSize = 9
	return cfg
}

func newTestSession(t *testing.T, cfg *config.Config, opts Options) *Session {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s, err := New(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_Step(t *testing.T) {
	cfg := testConfig(t)
	surface := renderer.NewMemorySurface(48, 32)
	s := newTestSession(t, cfg, Options{Surface: surface})

	if s.Store().Len() != 3 {
		t.Fatalf("store has %d landmarks, want the 3 configured", s.Store().Len())
	}

	for i := 1; i <= 3; i++ {
		res, err := s.Step(context.Background(), cfg.Derived.DT)
		if err != nil {
			t.Fatal(err)
		}
		if res.Frame != uint64(i) || !res.Presented {
			t.Errorf("step %d: frame=%d presented=%v", i, res.Frame, res.Presented)
		}
	}
	if surface.Presented() != 3 {
		t.Errorf("presented %d, want 3", surface.Presented())
	}
	if got, want := s.Driver().Elapsed(), 3*cfg.Derived.DT.Seconds(); got-want > 1e-9 || want-got > 1e-9 {
		t.Errorf("elapsed = %v, want %v", got, want)
	}
}

func TestSession_Pause(t *testing.T) {
	s := newTestSession(t, testConfig(t), Options{})
	ctx := context.Background()

	if _, err := s.Step(ctx, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	s.Pause()
	res, err := s.Step(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if res.Frame != 1 || s.Driver().Elapsed() != 0.01 {
		t.Errorf("paused step advanced: frame=%d elapsed=%v", res.Frame, s.Driver().Elapsed())
	}

	s.TogglePause()
	if s.Paused() {
		t.Fatal("still paused after toggle")
	}
	if res, _ := s.Step(ctx, 10*time.Millisecond); res.Frame != 2 {
		t.Errorf("frame after resume = %d, want 2", res.Frame)
	}
}

func TestSession_RunWritesOutput(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	s := newTestSession(t, testConfig(t), Options{OutputDir: dir, LogStats: true, Logger: logger})

	if err := s.Run(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if s.Loop().Frame() != 10 {
		t.Errorf("frames = %d, want 10", s.Loop().Frame())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	frames, err := os.ReadFile(filepath.Join(dir, "frames.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(frames)), "\n")); n != 3 {
		t.Errorf("frames.csv has %d lines, want header + 2 windows", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("config snapshot: %v", err)
	}

	stats := s.LastStats()
	if stats.WindowEndFrame != 10 || stats.Presented != 5 {
		t.Errorf("last stats = %+v", stats)
	}
	if !strings.Contains(logs.String(), `"session":"`+s.ID().String()+`"`) {
		t.Error("logs do not carry the session id")
	}
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	s := newTestSession(t, testConfig(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, 0); err != nil {
		t.Fatalf("cancelled run returned %v", err)
	}
	if s.Loop().Frame() != 0 {
		t.Errorf("frames = %d after cancelled run", s.Loop().Frame())
	}
}

func TestSession_Isolated(t *testing.T) {
	cfg := testConfig(t)
	sa := renderer.NewMemorySurface(48, 32)
	sb := renderer.NewMemorySurface(48, 32)
	a := newTestSession(t, cfg, Options{Surface: sa})
	b := newTestSession(t, cfg, Options{Surface: sb})

	if a.ID() == b.ID() {
		t.Fatal("sessions share an id")
	}
	if _, err := a.AddLandmark(0.2, 0.2); err != nil {
		t.Fatal(err)
	}
	if b.Store().Len() != 3 {
		t.Errorf("landmark added to a appeared in b")
	}

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := a.Step(ctx, cfg.Derived.DT); err != nil {
			t.Fatal(err)
		}
	}
	if b.Loop().Frame() != 0 {
		t.Errorf("stepping a advanced b to frame %d", b.Loop().Frame())
	}
}

func TestSession_Deterministic(t *testing.T) {
	cfg := testConfig(t)
	run := func() []byte {
		surface := renderer.NewMemorySurface(48, 32)
		s := newTestSession(t, cfg, Options{Surface: surface})
		for i := 0; i < 6; i++ {
			if _, err := s.Step(context.Background(), cfg.Derived.DT); err != nil {
				t.Fatal(err)
			}
		}
		return append([]byte(nil), surface.Image().Pix...)
	}

	if !bytes.Equal(run(), run()) {
		t.Error("identical sessions rendered different frames")
	}
}

func TestSession_Capacity(t *testing.T) {
	cfg := testConfig(t)
	cfg.Field.MaxLandmarks = 3
	s := newTestSession(t, cfg, Options{})

	if _, err := s.AddLandmark(0, 0); !errors.Is(err, field.ErrCapacityExceeded) {
		t.Errorf("got %v, want ErrCapacityExceeded", err)
	}
	if s.Store().Len() != 3 {
		t.Errorf("store changed on rejected add: %d", s.Store().Len())
	}
}

func TestSession_CapacityFromEvaluator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Field.MaxLandmarks = 150
	eval, err := renderer.NewCPUEvaluator(renderer.CPUOptions{
		Workers:  1,
		Layout:   field.Layout{Stride: cfg.Field.LandmarkStride},
		Capacity: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestSession(t, cfg, Options{Evaluator: eval})

	if got := s.Store().Capacity(); got != 3 {
		t.Errorf("store capacity = %d, want the evaluator's 3", got)
	}
	if _, err := s.AddLandmark(0, 0); !errors.Is(err, field.ErrCapacityExceeded) {
		t.Errorf("got %v, want ErrCapacityExceeded", err)
	}
	if _, err := s.Step(context.Background(), cfg.Derived.DT); err != nil {
		t.Errorf("step after rejected add: %v", err)
	}
}

func TestSession_ConfiguredLandmarksExceedEvaluator(t *testing.T) {
	cfg := testConfig(t)
	eval, err := renderer.NewCPUEvaluator(renderer.CPUOptions{
		Workers:  1,
		Layout:   field.Layout{Stride: cfg.Field.LandmarkStride},
		Capacity: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(cfg, Options{Evaluator: eval, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if !errors.Is(err, field.ErrCapacityExceeded) {
		t.Errorf("got %v, want ErrCapacityExceeded for 3 landmarks in a 2-slot kernel", err)
	}
}

func TestSession_GPUBackendNeedsEvaluator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Render.Backend = "gpu"
	if _, err := New(cfg, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}); err == nil {
		t.Error("gpu backend without an evaluator succeeded")
	}
}

func TestNewSource(t *testing.T) {
	track := filepath.Join(t.TempDir(), "track.csv")
	if err := os.WriteFile(track, []byte("t,x,y\n0,0,0\n2,0.4,-0.2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		cfg   config.TrajectoryConfig
		t     float64
		x, y  float32
		fails bool
	}{
		{name: "scripted", cfg: config.TrajectoryConfig{Kind: "scripted", Amplitude: 0.5, RateX: 0.5, RateY: 0.3}, t: 0, x: 0, y: 0.5},
		{name: "replay", cfg: config.TrajectoryConfig{Kind: "replay", TrackPath: track}, t: 1, x: 0.2, y: -0.1},
		{name: "live", cfg: config.TrajectoryConfig{Kind: "live"}, t: 5, x: 0, y: 0},
		{name: "missing track", cfg: config.TrajectoryConfig{Kind: "replay", TrackPath: filepath.Join(t.TempDir(), "none.csv")}, fails: true},
		{name: "unknown", cfg: config.TrajectoryConfig{Kind: "orbit"}, fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewSource(tt.cfg)
			if tt.fails {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			x, y := src.Position(tt.t)
			if d := x - tt.x; d > 1e-6 || d < -1e-6 {
				t.Errorf("x = %v, want %v", x, tt.x)
			}
			if d := y - tt.y; d > 1e-6 || d < -1e-6 {
				t.Errorf("y = %v, want %v", y, tt.y)
			}
		})
	}

	if _, err := NewSource(config.TrajectoryConfig{Kind: "wander", Amplitude: 0.5, WanderSeed: 1, WanderSpeed: 0.2}); err != nil {
		t.Errorf("wander: %v", err)
	}
}
