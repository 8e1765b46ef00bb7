package telemetry

import (
	"log/slog"
	"time"

	"github.com/pthm-cable/wavefield/renderer"
)

// Phase names for one render tick.
const (
	PhaseDriver    = "driver"
	PhaseUpload    = "upload"
	PhaseDispatch  = "dispatch"
	PhasePresent   = "present"
	PhaseTelemetry = "telemetry"
)

// phases lists the phases in tick order.
var phases = []string{PhaseDriver, PhaseUpload, PhaseDispatch, PhasePresent, PhaseTelemetry}

// Phases returns the phase names in tick order.
func Phases() []string { return append([]string(nil), phases...) }

// TickTiming is where one session tick spent its time. The render phases are
// the loop's own measurements; driver and telemetry are timed by the caller.
type TickTiming struct {
	Driver     time.Duration
	Upload     time.Duration
	Dispatch   time.Duration
	Present    time.Duration
	Telemetry  time.Duration
	Dispatched bool
}

// NewTickTiming takes the render phases from res.
func NewTickTiming(driver time.Duration, res renderer.Result) TickTiming {
	return TickTiming{
		Driver:     driver,
		Upload:     res.Upload,
		Dispatch:   res.Dispatch,
		Present:    res.Present,
		Dispatched: res.Dispatched,
	}
}

// durations returns the phase durations in the order of phases.
func (t TickTiming) durations() [5]time.Duration {
	return [5]time.Duration{t.Driver, t.Upload, t.Dispatch, t.Present, t.Telemetry}
}

// Total is the sum of all phases.
func (t TickTiming) Total() time.Duration {
	var total time.Duration
	for _, d := range t.durations() {
		total += d
	}
	return total
}

// PerfCollector keeps the most recent window of tick timings.
type PerfCollector struct {
	ticks []TickTiming
	next  int
	count int
}

// NewPerfCollector keeps the last window ticks; 60 when window < 1.
func NewPerfCollector(window int) *PerfCollector {
	if window < 1 {
		window = 60
	}
	return &PerfCollector{ticks: make([]TickTiming, window)}
}

// Record adds one tick, replacing the oldest once the window is full.
func (p *PerfCollector) Record(t TickTiming) {
	p.ticks[p.next] = t
	p.next = (p.next + 1) % len(p.ticks)
	p.count = min(p.count+1, len(p.ticks))
}

// PerfStats aggregates the collector window.
type PerfStats struct {
	Ticks   int // ticks in the window
	Stalled int // ticks whose render never dispatched

	AvgTickDuration time.Duration
	MaxTickDuration time.Duration
	MaxDispatch     time.Duration

	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64 // share of the average tick

	TicksPerSecond float64
}

// Stats aggregates the current window. Phase averages are over every tick,
// including stalled ones, so they add up to the average tick.
func (p *PerfCollector) Stats() PerfStats {
	stats := PerfStats{
		Ticks:    p.count,
		PhaseAvg: make(map[string]time.Duration, len(phases)),
		PhasePct: make(map[string]float64, len(phases)),
	}
	if p.count == 0 {
		return stats
	}

	var sums [5]time.Duration
	var total time.Duration
	for _, t := range p.ticks[:p.count] {
		if !t.Dispatched {
			stats.Stalled++
		}
		tick := t.Total()
		total += tick
		stats.MaxTickDuration = max(stats.MaxTickDuration, tick)
		stats.MaxDispatch = max(stats.MaxDispatch, t.Dispatch)
		for i, d := range t.durations() {
			sums[i] += d
		}
	}

	n := time.Duration(p.count)
	stats.AvgTickDuration = total / n
	for i, name := range phases {
		avg := sums[i] / n
		stats.PhaseAvg[name] = avg
		if stats.AvgTickDuration > 0 {
			stats.PhasePct[name] = float64(avg) / float64(stats.AvgTickDuration) * 100
		}
	}
	if stats.AvgTickDuration > 0 {
		stats.TicksPerSecond = float64(time.Second) / float64(stats.AvgTickDuration)
	}
	return stats
}

// LogStats logs the window at Info.
func (s PerfStats) LogStats(logger *slog.Logger) {
	logger.Info("perf", "window", s)
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("ticks", s.Ticks),
		slog.Int("stalled", s.Stalled),
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Int64("max_dispatch_us", s.MaxDispatch.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
	}
	for _, name := range phases {
		attrs = append(attrs, slog.Int64(name+"_us", s.PhaseAvg[name].Microseconds()))
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one perf.csv row.
type PerfStatsCSV struct {
	WindowEnd     uint64  `csv:"window_end"`
	Ticks         int     `csv:"ticks"`
	Stalled       int     `csv:"stalled"`
	AvgTickUS     int64   `csv:"avg_tick_us"`
	MaxTickUS     int64   `csv:"max_tick_us"`
	MaxDispatchUS int64   `csv:"max_dispatch_us"`
	TicksPerSec   float64 `csv:"ticks_per_sec"`
	DriverUS      int64   `csv:"driver_us"`
	UploadUS      int64   `csv:"upload_us"`
	DispatchUS    int64   `csv:"dispatch_us"`
	PresentUS     int64   `csv:"present_us"`
	TelemetryUS   int64   `csv:"telemetry_us"`
	DispatchPct   float64 `csv:"dispatch_pct"`
}

// ToCSV flattens the stats for the window ending at windowEnd.
func (s PerfStats) ToCSV(windowEnd uint64) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:     windowEnd,
		Ticks:         s.Ticks,
		Stalled:       s.Stalled,
		AvgTickUS:     s.AvgTickDuration.Microseconds(),
		MaxTickUS:     s.MaxTickDuration.Microseconds(),
		MaxDispatchUS: s.MaxDispatch.Microseconds(),
		TicksPerSec:   s.TicksPerSecond,
		DriverUS:      s.PhaseAvg[PhaseDriver].Microseconds(),
		UploadUS:      s.PhaseAvg[PhaseUpload].Microseconds(),
		DispatchUS:    s.PhaseAvg[PhaseDispatch].Microseconds(),
		PresentUS:     s.PhaseAvg[PhasePresent].Microseconds(),
		TelemetryUS:   s.PhaseAvg[PhaseTelemetry].Microseconds(),
		DispatchPct:   s.PhasePct[PhaseDispatch],
	}
}
