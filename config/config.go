// Package config provides configuration loading and access for the field renderer.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all session configuration parameters.
type Config struct {
	Screen     ScreenConfig     `yaml:"screen"`
	Field      FieldConfig      `yaml:"field"`
	Landmarks  []LandmarkConfig `yaml:"landmarks"`
	Trajectory TrajectoryConfig `yaml:"trajectory"`
	Phase      PhaseConfig      `yaml:"phase"`
	Render     RenderConfig     `yaml:"render"`
	Device     DeviceConfig     `yaml:"device"`
	Palette    PaletteConfig    `yaml:"palette"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ScreenConfig holds output surface settings.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// FieldConfig holds the constants packed into every parameter block.
type FieldConfig struct {
	WaveNumber       float64 `yaml:"wave_number"`       // fringe density
	DecayFactor      float64 `yaml:"decay_factor"`      // divides fresh probability before blending
	FeedbackStrength float64 `yaml:"feedback_strength"` // weight of the previous frame, [0, 1]
	MaxLandmarks     int     `yaml:"max_landmarks"`     // landmark buffer capacity
	LandmarkStride   int     `yaml:"landmark_stride"`   // bytes per landmark record in the kernel buffer
}

// LandmarkConfig places one landmark at session start.
type LandmarkConfig struct {
	X float32 `yaml:"x"`
	Y float32 `yaml:"y"`
}

// TrajectoryConfig selects the observer position source.
type TrajectoryConfig struct {
	Kind        string  `yaml:"kind"`         // scripted, wander, replay or live
	Amplitude   float64 `yaml:"amplitude"`    // scripted and wander extent
	RateX       float64 `yaml:"rate_x"`       // scripted x angular rate
	RateY       float64 `yaml:"rate_y"`       // scripted y angular rate
	WanderSeed  int64   `yaml:"wander_seed"`  // noise seed for wander
	WanderSpeed float64 `yaml:"wander_speed"` // noise units per second
	TrackPath   string  `yaml:"track_path"`   // CSV track for replay
}

// PhaseConfig holds the cosmetic phase oscillation applied to all landmarks.
type PhaseConfig struct {
	Amplitude float64 `yaml:"amplitude"`
	Rate      float64 `yaml:"rate"`
}

// RenderConfig holds render loop settings.
type RenderConfig struct {
	Backend    string  `yaml:"backend"`     // cpu or gpu
	Workers    int     `yaml:"workers"`     // CPU evaluator workers (0 = GOMAXPROCS)
	DT         float64 `yaml:"dt"`          // seconds per tick in headless mode
	FrameDir   string  `yaml:"frame_dir"`   // headless PNG dump directory (empty = off)
	FrameEvery int     `yaml:"frame_every"` // dump every N presented frames
}

// DeviceConfig holds evaluator reacquisition policy after device loss.
type DeviceConfig struct {
	ReacquireAttempts  int `yaml:"reacquire_attempts"`
	ReacquireBackoffMS int `yaml:"reacquire_backoff_ms"`
}

// PaletteConfig holds colour mapping parameters.
type PaletteConfig struct {
	HueLow     float64 `yaml:"hue_low"`    // hue at zero intensity
	HueHigh    float64 `yaml:"hue_high"`   // hue at full intensity
	Saturation float64 `yaml:"saturation"` // HSLuv saturation, 0-100
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"`          // ticks between stats records
	PerfCollectorWindow int `yaml:"perf_collector_window"` // ticks averaged by the perf collector
	ProbeSize           int `yaml:"probe_size"`            // probe grid side length
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Resolution       [2]float32    // Screen size as float32
	DT               time.Duration // Render.DT as a duration
	ReacquireBackoff time.Duration // Device.ReacquireBackoffMS as a duration
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Validate checks values the render loop cannot recover from at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		errs = append(errs, fmt.Errorf("screen size %dx%d must be positive", c.Screen.Width, c.Screen.Height))
	}
	if c.Field.DecayFactor <= 0 {
		errs = append(errs, fmt.Errorf("field.decay_factor %g must be positive", c.Field.DecayFactor))
	}
	if c.Field.FeedbackStrength < 0 || c.Field.FeedbackStrength > 1 {
		errs = append(errs, fmt.Errorf("field.feedback_strength %g outside [0, 1]", c.Field.FeedbackStrength))
	}
	if c.Field.MaxLandmarks <= 0 {
		errs = append(errs, fmt.Errorf("field.max_landmarks %d must be positive", c.Field.MaxLandmarks))
	}
	if c.Field.LandmarkStride < 20 || c.Field.LandmarkStride%4 != 0 {
		errs = append(errs, fmt.Errorf("field.landmark_stride %d must be a multiple of 4 and at least 20", c.Field.LandmarkStride))
	}
	if len(c.Landmarks) > c.Field.MaxLandmarks {
		errs = append(errs, fmt.Errorf("%d landmarks exceed field.max_landmarks %d", len(c.Landmarks), c.Field.MaxLandmarks))
	}
	switch c.Trajectory.Kind {
	case "scripted", "wander", "live":
	case "replay":
		if c.Trajectory.TrackPath == "" {
			errs = append(errs, errors.New("trajectory.track_path is required for replay"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown trajectory.kind %q", c.Trajectory.Kind))
	}
	switch c.Render.Backend {
	case "cpu", "gpu":
	default:
		errs = append(errs, fmt.Errorf("unknown render.backend %q", c.Render.Backend))
	}
	if c.Render.DT <= 0 {
		errs = append(errs, fmt.Errorf("render.dt %g must be positive", c.Render.DT))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Resolution = [2]float32{float32(c.Screen.Width), float32(c.Screen.Height)}
	c.Derived.DT = time.Duration(c.Render.DT * float64(time.Second))
	c.Derived.ReacquireBackoff = time.Duration(c.Device.ReacquireBackoffMS) * time.Millisecond

	if c.Render.FrameEvery < 1 {
		c.Render.FrameEvery = 1
	}
	if c.Telemetry.StatsWindow < 1 {
		c.Telemetry.StatsWindow = 60
	}
	if c.Telemetry.ProbeSize < 2 {
		c.Telemetry.ProbeSize = 2
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
