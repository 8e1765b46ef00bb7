package field

import "github.com/chewxy/math32"

// envelopeRate is the exponential fall-off of a landmark's amplitude per unit
// of residual.
const envelopeRate = 2.0

// Contribution returns the complex amplitude one landmark adds at (x, y)
// for wave number k.
func Contribution(lm Landmark, k, x, y float32) (re, im float32) {
	dx := x - lm.Position[0]
	dy := y - lm.Position[1]
	hypo := math32.Sqrt(dx*dx + dy*dy)

	residual := hypo - lm.ObservedDist
	phase := k * residual
	amp := lm.Confidence * math32.Exp(-envelopeRate*math32.Abs(residual))

	return amp * math32.Cos(phase), amp * math32.Sin(phase)
}

// ProbabilityAt returns the squared magnitude of the summed landmark waves at
// (x, y). The value is unnormalised and never negative. PhaseOffset is not
// part of the reference evaluation.
//
// Sums are kept in single precision so every host reproduces the same bits.
func ProbabilityAt(landmarks []Landmark, waveNumber float64, x, y float32) float64 {
	k := float32(waveNumber)

	var reSum, imSum float32
	for i := range landmarks {
		re, im := Contribution(landmarks[i], k, x, y)
		reSum += re
		imSum += im
	}
	return float64(reSum*reSum + imSum*imSum)
}

// Observe sets each landmark's observed distance to its true distance from
// the observer at (x, y).
func Observe(landmarks []Landmark, x, y float32) {
	for i := range landmarks {
		lm := &landmarks[i]
		dx := lm.Position[0] - x
		dy := lm.Position[1] - y
		lm.ObservedDist = math32.Sqrt(dx*dx + dy*dy)
	}
}
