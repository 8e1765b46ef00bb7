package telemetry

import "github.com/pthm-cable/wavefield/renderer"

// Collector accumulates loop outcomes within frame windows and produces
// WindowStats.
type Collector struct {
	windowFrames uint64

	// Current window tracking
	windowStart uint64

	// Outcome counters for current window
	presented    int
	surfaceLost  int
	deviceAborts int
	reacquires   int
}

// NewCollector creates a collector flushing every windowFrames ticks.
func NewCollector(windowFrames int) *Collector {
	if windowFrames < 1 {
		windowFrames = 1
	}
	return &Collector{windowFrames: uint64(windowFrames)}
}

// Record counts the outcome of one Render call.
func (c *Collector) Record(res renderer.Result) {
	if res.Presented {
		c.presented++
	}
	if res.SurfaceLost {
		c.surfaceLost++
	}
	if res.Aborted {
		c.deviceAborts++
	}
	c.reacquires += res.Reacquires
}

// ShouldFlush returns true if enough frames have completed to flush the window.
func (c *Collector) ShouldFlush(frame uint64) bool {
	return frame-c.windowStart >= c.windowFrames
}

// Flush produces a WindowStats and resets counters for the next window.
// The caller provides the frame, the session clock, the camera, the landmark
// count and a probe sample taken at window end.
func (c *Collector) Flush(frame uint64, simTime float64, camX, camY float32, landmarks int, probe ProbeResult) WindowStats {
	mean, p10, p50, p90 := ComputeIntensityStats(probe.Intensity)

	stats := WindowStats{
		WindowStartFrame: c.windowStart,
		WindowEndFrame:   frame,
		SimTimeSec:       simTime,

		CameraX:   camX,
		CameraY:   camY,
		Landmarks: landmarks,

		Presented:    c.presented,
		SurfaceLost:  c.surfaceLost,
		DeviceAborts: c.deviceAborts,
		Reacquires:   c.reacquires,

		IntensityMean: mean,
		IntensityP10:  p10,
		IntensityP50:  p50,
		IntensityP90:  p90,

		PeakProbability: probe.Peak,
		PeakX:           probe.PeakX,
		PeakY:           probe.PeakY,
		PeakCameraDist:  probe.CameraDist,
	}

	// Reset for next window
	c.windowStart = frame
	c.presented = 0
	c.surfaceLost = 0
	c.deviceAborts = 0
	c.reacquires = 0

	return stats
}

// WindowFrames returns the number of frames per window.
func (c *Collector) WindowFrames() uint64 {
	return c.windowFrames
}
