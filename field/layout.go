package field

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Byte sizes of the records shared with accelerated evaluators.
const (
	ParamsSize   = 40 // Params, including the 4-byte pad before CameraPos
	LandmarkSize = 20 // one Landmark record without trailing padding
)

// ErrLayout is returned when a byte buffer does not match the declared layout.
var ErrLayout = errors.New("layout mismatch")

// Params is the per-frame parameter block consumed by the field kernel.
//
// The byte layout is part of the kernel contract: fields are written in
// declaration order, little-endian, with a zero u32 at offset 28 so that
// CameraPos starts on an 8-byte boundary.
type Params struct {
	Resolution       [2]float32
	Time             float32
	WaveNumber       float32
	DecayFactor      float32
	FeedbackStrength float32
	NumLandmarks     uint32
	CameraPos        [2]float32
}

// AppendBinary appends the 40-byte encoding of p to dst.
func (p Params) AppendBinary(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, math.Float32bits(p.Resolution[0]))
	dst = le.AppendUint32(dst, math.Float32bits(p.Resolution[1]))
	dst = le.AppendUint32(dst, math.Float32bits(p.Time))
	dst = le.AppendUint32(dst, math.Float32bits(p.WaveNumber))
	dst = le.AppendUint32(dst, math.Float32bits(p.DecayFactor))
	dst = le.AppendUint32(dst, math.Float32bits(p.FeedbackStrength))
	dst = le.AppendUint32(dst, p.NumLandmarks)
	dst = le.AppendUint32(dst, 0) // pad
	dst = le.AppendUint32(dst, math.Float32bits(p.CameraPos[0]))
	dst = le.AppendUint32(dst, math.Float32bits(p.CameraPos[1]))
	return dst
}

// ParseParams decodes a parameter block written by AppendBinary.
func ParseParams(b []byte) (Params, error) {
	if len(b) < ParamsSize {
		return Params{}, fmt.Errorf("parsing params: %d bytes, want %d: %w", len(b), ParamsSize, ErrLayout)
	}
	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }
	return Params{
		Resolution:       [2]float32{f(0), f(4)},
		Time:             f(8),
		WaveNumber:       f(12),
		DecayFactor:      f(16),
		FeedbackStrength: f(20),
		NumLandmarks:     le.Uint32(b[24:]),
		CameraPos:        [2]float32{f(32), f(36)},
	}, nil
}

// Layout describes how a kernel expects landmark records to be strided.
type Layout struct {
	Stride int // bytes per record, at least LandmarkSize
}

// DefaultLayout is the tightly packed 20-byte landmark layout.
var DefaultLayout = Layout{Stride: LandmarkSize}

// Validate reports whether the stride can hold a landmark record.
func (l Layout) Validate() error {
	if l.Stride < LandmarkSize || l.Stride%4 != 0 {
		return fmt.Errorf("landmark stride %d (min %d, multiple of 4): %w", l.Stride, LandmarkSize, ErrLayout)
	}
	return nil
}

// PackLandmarks appends landmarks to dst using the layout's stride.
// Bytes between the record and the stride are zero.
func (l Layout) PackLandmarks(dst []byte, landmarks []Landmark) []byte {
	le := binary.LittleEndian
	for i := range landmarks {
		lm := &landmarks[i]
		dst = le.AppendUint32(dst, math.Float32bits(lm.Position[0]))
		dst = le.AppendUint32(dst, math.Float32bits(lm.Position[1]))
		dst = le.AppendUint32(dst, math.Float32bits(lm.ObservedDist))
		dst = le.AppendUint32(dst, math.Float32bits(lm.Confidence))
		dst = le.AppendUint32(dst, math.Float32bits(lm.PhaseOffset))
		for pad := LandmarkSize; pad < l.Stride; pad += 4 {
			dst = le.AppendUint32(dst, 0)
		}
	}
	return dst
}

// UnpackLandmarks decodes n records from b into dst, reusing its storage.
func (l Layout) UnpackLandmarks(dst []Landmark, b []byte, n int) ([]Landmark, error) {
	if need := n * l.Stride; len(b) < need {
		return dst[:0], fmt.Errorf("unpacking %d landmarks: %d bytes, want %d: %w", n, len(b), need, ErrLayout)
	}
	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(b[off:])) }

	dst = dst[:0]
	for i := 0; i < n; i++ {
		off := i * l.Stride
		dst = append(dst, Landmark{
			Position:     [2]float32{f(off), f(off + 4)},
			ObservedDist: f(off + 8),
			Confidence:   f(off + 12),
			PhaseOffset:  f(off + 16),
		})
	}
	return dst, nil
}
