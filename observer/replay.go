package observer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/interp"
)

// Sample is one recorded observer position.
type Sample struct {
	T float64 `csv:"t"`
	X float64 `csv:"x"`
	Y float64 `csv:"y"`
}

// Replay plays back a recorded track, interpolating linearly between samples
// and holding the first/last position outside the recording.
type Replay struct {
	fx, fy interp.PiecewiseLinear
	start  float64
	end    float64
}

// NewReplay builds a replay source from samples. Samples are sorted by time;
// at least two samples with distinct times are required.
func NewReplay(samples []Sample) (*Replay, error) {
	if len(samples) < 2 {
		return nil, errors.New("replay needs at least two samples")
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	ts := make([]float64, 0, len(sorted))
	xs := make([]float64, 0, len(sorted))
	ys := make([]float64, 0, len(sorted))
	for i, s := range sorted {
		if i > 0 && s.T == sorted[i-1].T {
			return nil, fmt.Errorf("duplicate sample time %g", s.T)
		}
		ts = append(ts, s.T)
		xs = append(xs, s.X)
		ys = append(ys, s.Y)
	}

	r := &Replay{start: ts[0], end: ts[len(ts)-1]}
	if err := r.fx.Fit(ts, xs); err != nil {
		return nil, fmt.Errorf("fitting x track: %w", err)
	}
	if err := r.fy.Fit(ts, ys); err != nil {
		return nil, fmt.Errorf("fitting y track: %w", err)
	}
	return r, nil
}

// ReadTrack parses a CSV track with t,x,y columns.
func ReadTrack(r io.Reader) ([]Sample, error) {
	var samples []Sample
	if err := gocsv.Unmarshal(r, &samples); err != nil {
		return nil, fmt.Errorf("parsing track: %w", err)
	}
	return samples, nil
}

// LoadReplay reads a CSV track from path and builds a Replay.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening track: %w", err)
	}
	defer f.Close()

	samples, err := ReadTrack(f)
	if err != nil {
		return nil, err
	}
	return NewReplay(samples)
}

// Duration returns the span of the recording in seconds.
func (r *Replay) Duration() float64 { return r.end - r.start }

// Position implements Source.
func (r *Replay) Position(t float64) (x, y float32) {
	if t < r.start {
		t = r.start
	} else if t > r.end {
		t = r.end
	}
	return float32(r.fx.Predict(t)), float32(r.fy.Predict(t))
}
