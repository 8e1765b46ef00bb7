package telemetry

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/wavefield/field"
)

// Probe samples the reference field on a coarse square grid over [-1, 1]²
// to track where the field peaks relative to the camera.
type Probe struct {
	size   int
	coords []float32
	raw    []float64
	scaled []float64
}

// ProbeResult is one probe sample.
type ProbeResult struct {
	Peak       float64 // highest raw probability on the grid
	PeakX      float32 // world position of the peak
	PeakY      float32
	CameraDist float64   // distance from peak to camera
	Intensity  []float64 // min(1, P/decay) per grid point, reused across samples
}

// NewProbe creates a size x size probe. Sizes below 2 are raised to 2.
func NewProbe(size int) *Probe {
	size = max(size, 2)
	coords := make([]float32, size)
	for i := range coords {
		coords[i] = float32(-1 + 2*(float64(i)+0.5)/float64(size))
	}
	return &Probe{
		size:   size,
		coords: coords,
		raw:    make([]float64, size*size),
		scaled: make([]float64, size*size),
	}
}

// Sample evaluates the field at every grid point.
func (p *Probe) Sample(landmarks []field.Landmark, waveNumber, decay float64, camX, camY float32) ProbeResult {
	for j, y := range p.coords {
		for i, x := range p.coords {
			p.raw[j*p.size+i] = field.ProbabilityAt(landmarks, waveNumber, x, y)
		}
	}

	copy(p.scaled, p.raw)
	if decay > 0 {
		floats.Scale(1/decay, p.scaled)
	}
	for i, v := range p.scaled {
		p.scaled[i] = math.Min(v, 1)
	}

	idx := floats.MaxIdx(p.raw)
	px, py := p.coords[idx%p.size], p.coords[idx/p.size]
	return ProbeResult{
		Peak:       p.raw[idx],
		PeakX:      px,
		PeakY:      py,
		CameraDist: math.Hypot(float64(px-camX), float64(py-camY)),
		Intensity:  p.scaled,
	}
}

// Size returns the grid side length.
func (p *Probe) Size() int { return p.size }
