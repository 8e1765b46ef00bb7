package telemetry

import (
	"log/slog"
	"sort"
)

// WindowStats holds aggregated statistics for a window of render ticks.
type WindowStats struct {
	WindowStartFrame uint64  `csv:"-"`
	WindowEndFrame   uint64  `csv:"window_end"`
	SimTimeSec       float64 `csv:"sim_time"`

	// Observer and scene at window end
	CameraX   float32 `csv:"camera_x"`
	CameraY   float32 `csv:"camera_y"`
	Landmarks int     `csv:"landmarks"`

	// Loop outcomes during window
	Presented    int `csv:"presented"`
	SurfaceLost  int `csv:"surface_lost"`
	DeviceAborts int `csv:"device_aborts"`
	Reacquires   int `csv:"reacquires"`

	// Fresh field intensity on the probe grid, min(1, P/decay)
	IntensityMean float64 `csv:"intensity_mean"`
	IntensityP10  float64 `csv:"intensity_p10"`
	IntensityP50  float64 `csv:"intensity_p50"`
	IntensityP90  float64 `csv:"intensity_p90"`

	// Probe peak of the reference field
	PeakProbability float64 `csv:"peak_probability"`
	PeakX           float32 `csv:"peak_x"`
	PeakY           float32 `csv:"peak_y"`
	PeakCameraDist  float64 `csv:"peak_camera_dist"` // distance from peak to camera
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeIntensityStats calculates mean and percentiles of intensity values.
func ComputeIntensityStats(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	// Sort for percentiles
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("window_start", s.WindowStartFrame),
		slog.Uint64("window_end", s.WindowEndFrame),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Float64("camera_x", float64(s.CameraX)),
		slog.Float64("camera_y", float64(s.CameraY)),
		slog.Int("landmarks", s.Landmarks),
		slog.Int("presented", s.Presented),
		slog.Int("surface_lost", s.SurfaceLost),
		slog.Int("device_aborts", s.DeviceAborts),
		slog.Int("reacquires", s.Reacquires),
		slog.Float64("intensity_mean", s.IntensityMean),
		slog.Float64("intensity_p50", s.IntensityP50),
		slog.Float64("intensity_p90", s.IntensityP90),
		slog.Float64("peak_probability", s.PeakProbability),
		slog.Float64("peak_camera_dist", s.PeakCameraDist),
	)
}

// LogStats logs the window stats.
func (s WindowStats) LogStats(logger *slog.Logger) {
	logger.Info("stats",
		"window_end", s.WindowEndFrame,
		"sim_time", s.SimTimeSec,
		"camera_x", s.CameraX,
		"camera_y", s.CameraY,
		"landmarks", s.Landmarks,
		"presented", s.Presented,
		"surface_lost", s.SurfaceLost,
		"device_aborts", s.DeviceAborts,
		"reacquires", s.Reacquires,
		"intensity_mean", s.IntensityMean,
		"intensity_p10", s.IntensityP10,
		"intensity_p50", s.IntensityP50,
		"intensity_p90", s.IntensityP90,
		"peak_probability", s.PeakProbability,
		"peak_x", s.PeakX,
		"peak_y", s.PeakY,
		"peak_camera_dist", s.PeakCameraDist,
	)
}
