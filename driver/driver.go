// Package driver advances the virtual clock and brings the landmark store in
// line with the observer before each frame, producing the frame's parameter
// block.
package driver

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/pthm-cable/wavefield/field"
	"github.com/pthm-cable/wavefield/observer"
)

// Clock is a monotonic virtual clock measuring seconds since session start.
type Clock struct {
	elapsed time.Duration
}

// Advance moves the clock forward by dt. Non-positive steps are ignored.
func (c *Clock) Advance(dt time.Duration) {
	if dt > 0 {
		c.elapsed += dt
	}
}

// Seconds returns the elapsed time in seconds.
func (c *Clock) Seconds() float64 { return c.elapsed.Seconds() }

// Elapsed returns the elapsed time.
func (c *Clock) Elapsed() time.Duration { return c.elapsed }

// Constants are the fixed per-session values packed into every block.
type Constants struct {
	WaveNumber       float32
	DecayFactor      float32
	FeedbackStrength float32
}

// DefaultConstants are the values the field kernel was tuned for.
func DefaultConstants() Constants {
	return Constants{WaveNumber: 80.0, DecayFactor: 5.0, FeedbackStrength: 0.90}
}

// Oscillation drives the cosmetic per-landmark phase offset:
// offset = sin(Rate*t) * Amplitude.
type Oscillation struct {
	Amplitude float32
	Rate      float64
}

// DefaultOscillation returns sin(2t) * 0.5.
func DefaultOscillation() Oscillation {
	return Oscillation{Amplitude: 0.5, Rate: 2.0}
}

// Driver produces one parameter block per tick.
type Driver struct {
	store      *field.Store
	source     observer.Source
	resolution [2]float32
	consts     Constants
	phase      Oscillation

	clock  Clock
	camera [2]float32
}

// New creates a driver mutating store and rendering at resolution.
func New(store *field.Store, source observer.Source, resolution [2]float32, consts Constants, phase Oscillation) *Driver {
	return &Driver{
		store:      store,
		source:     source,
		resolution: resolution,
		consts:     consts,
		phase:      phase,
	}
}

// Tick advances the clock by dt, moves the camera, re-observes every
// landmark, updates phase offsets and returns the frame's parameter block.
func (d *Driver) Tick(dt time.Duration) field.Params {
	d.clock.Advance(dt)
	t := d.clock.Seconds()

	x, y := d.source.Position(t)
	d.camera = [2]float32{x, y}
	d.store.Observe(x, y)

	// Single precision throughout, matching the kernel's clock.
	d.store.SetPhaseOffset(math32.Sin(float32(t)*float32(d.phase.Rate)) * d.phase.Amplitude)

	return field.Params{
		Resolution:       d.resolution,
		Time:             float32(t),
		WaveNumber:       d.consts.WaveNumber,
		DecayFactor:      d.consts.DecayFactor,
		FeedbackStrength: d.consts.FeedbackStrength,
		NumLandmarks:     uint32(d.store.Len()),
		CameraPos:        d.camera,
	}
}

// Camera returns the camera position computed by the last Tick.
func (d *Driver) Camera() (x, y float32) { return d.camera[0], d.camera[1] }

// Elapsed returns seconds since session start.
func (d *Driver) Elapsed() float64 { return d.clock.Seconds() }

// Reset rewinds the clock to zero. Landmarks keep their state until the next Tick.
func (d *Driver) Reset() {
	d.clock = Clock{}
}

// Oscillation returns the phase oscillation in use.
func (d *Driver) Oscillation() Oscillation { return d.phase }

// SetOscillation replaces the phase oscillation from the next Tick on.
func (d *Driver) SetOscillation(o Oscillation) { d.phase = o }
