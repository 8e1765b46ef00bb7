// Package observer provides observer position sources. The frame driver asks a
// Source where the camera is at each tick, so scripted demo motion and real
// telemetry are interchangeable.
package observer

import (
	"math"
	"sync"

	"github.com/ojrac/opensimplex-go"
)

// Source reports the observer position at t seconds since session start.
type Source interface {
	Position(t float64) (x, y float32)
}

// Scripted is the demonstration trajectory: two independent sinusoids,
// sine on x and cosine on y.
type Scripted struct {
	Amplitude float64
	RateX     float64 // angular rate of the x sinusoid, rad/s
	RateY     float64 // angular rate of the y sinusoid, rad/s
}

// DefaultScripted returns the trajectory with amplitude 0.5 and rates 0.5 and 0.3.
func DefaultScripted() Scripted {
	return Scripted{Amplitude: 0.5, RateX: 0.5, RateY: 0.3}
}

// Position implements Source.
func (s Scripted) Position(t float64) (x, y float32) {
	a := float32(s.Amplitude)
	x = float32(math.Sin(t*s.RateX)) * a
	y = float32(math.Cos(t*s.RateY)) * a
	return x, y
}

// Wander drifts the observer along a smooth, seeded noise path.
// The same seed always produces the same path.
type Wander struct {
	noise     opensimplex.Noise
	amplitude float64
	speed     float64
}

// NewWander creates a noise path bounded by amplitude, advancing speed noise
// units per second.
func NewWander(seed int64, amplitude, speed float64) *Wander {
	return &Wander{
		noise:     opensimplex.New(seed),
		amplitude: amplitude,
		speed:     speed,
	}
}

// Position implements Source.
func (w *Wander) Position(t float64) (x, y float32) {
	s := t * w.speed
	// Two decorrelated rows of the same noise field.
	nx := w.noise.Eval2(s, 0)
	ny := w.noise.Eval2(s, 17.3)
	return float32(clamp(nx, -1, 1) * w.amplitude), float32(clamp(ny, -1, 1) * w.amplitude)
}

// Live holds a position pushed by an external producer, such as a telemetry
// reader on another goroutine.
type Live struct {
	mu   sync.Mutex
	x, y float32
}

// Set records the latest observer position.
func (l *Live) Set(x, y float32) {
	l.mu.Lock()
	l.x, l.y = x, y
	l.mu.Unlock()
}

// Position implements Source. Time is ignored; the last Set wins.
func (l *Live) Position(float64) (x, y float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.x, l.y
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
