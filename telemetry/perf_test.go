package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pthm-cable/wavefield/renderer"
)

func renderResult(upload, dispatch, present time.Duration) renderer.Result {
	return renderer.Result{Dispatched: true, Upload: upload, Dispatch: dispatch, Present: present}
}

func TestNewTickTiming(t *testing.T) {
	tt := NewTickTiming(time.Millisecond, renderResult(2*time.Millisecond, 5*time.Millisecond, 3*time.Millisecond))
	tt.Telemetry = time.Millisecond

	if tt.Upload != 2*time.Millisecond || tt.Dispatch != 5*time.Millisecond || tt.Present != 3*time.Millisecond {
		t.Errorf("render phases not taken from result: %+v", tt)
	}
	if !tt.Dispatched {
		t.Error("dispatched flag lost")
	}
	if got := tt.Total(); got != 12*time.Millisecond {
		t.Errorf("total = %v, want 12ms", got)
	}
}

func TestPerfCollector_RenderPhases(t *testing.T) {
	pc := NewPerfCollector(4)
	for i := 0; i < 4; i++ {
		tt := NewTickTiming(time.Millisecond, renderResult(time.Millisecond, 6*time.Millisecond, 2*time.Millisecond))
		pc.Record(tt)
	}

	stats := pc.Stats()
	if stats.Ticks != 4 || stats.Stalled != 0 {
		t.Errorf("ticks=%d stalled=%d", stats.Ticks, stats.Stalled)
	}
	if stats.AvgTickDuration != 10*time.Millisecond {
		t.Errorf("avg tick = %v, want 10ms", stats.AvgTickDuration)
	}
	if got := stats.PhaseAvg[PhaseDispatch]; got != 6*time.Millisecond {
		t.Errorf("dispatch avg = %v, want 6ms", got)
	}
	if got := stats.PhasePct[PhaseDispatch]; got < 59.999 || got > 60.001 {
		t.Errorf("dispatch share = %v%%, want 60", got)
	}
	if stats.TicksPerSecond != 100 {
		t.Errorf("ticks/s = %v, want 100", stats.TicksPerSecond)
	}

	var sum float64
	for _, name := range Phases() {
		sum += stats.PhasePct[name]
	}
	if sum < 99.999 || sum > 100.001 {
		t.Errorf("phase shares sum to %v%%", sum)
	}
}

func TestPerfCollector_StalledTicks(t *testing.T) {
	pc := NewPerfCollector(10)
	pc.Record(NewTickTiming(time.Millisecond, renderResult(time.Millisecond, 8*time.Millisecond, 0)))
	// Device lost during dispatch: no render phases were measured.
	pc.Record(NewTickTiming(time.Millisecond, renderer.Result{Aborted: true}))

	stats := pc.Stats()
	if stats.Stalled != 1 {
		t.Errorf("stalled = %d, want 1", stats.Stalled)
	}
	if stats.MaxDispatch != 8*time.Millisecond || stats.MaxTickDuration != 10*time.Millisecond {
		t.Errorf("max dispatch=%v max tick=%v", stats.MaxDispatch, stats.MaxTickDuration)
	}
	if got := stats.PhaseAvg[PhaseDispatch]; got != 4*time.Millisecond {
		t.Errorf("dispatch avg = %v, want 4ms over both ticks", got)
	}
}

func TestPerfCollector_WindowEvictsOldest(t *testing.T) {
	pc := NewPerfCollector(3)
	pc.Record(NewTickTiming(0, renderResult(0, 100*time.Millisecond, 0)))
	for i := 0; i < 3; i++ {
		pc.Record(NewTickTiming(0, renderResult(0, time.Millisecond, 0)))
	}

	stats := pc.Stats()
	if stats.Ticks != 3 {
		t.Errorf("ticks = %d, want window of 3", stats.Ticks)
	}
	if stats.MaxDispatch != time.Millisecond {
		t.Errorf("max dispatch = %v, oldest tick not evicted", stats.MaxDispatch)
	}
}

func TestPerfCollector_Empty(t *testing.T) {
	stats := NewPerfCollector(0).Stats()
	if stats.Ticks != 0 || stats.AvgTickDuration != 0 || stats.TicksPerSecond != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("empty stats have nil phase maps")
	}
}

func TestPerfStats_Export(t *testing.T) {
	pc := NewPerfCollector(2)
	tt := NewTickTiming(time.Millisecond, renderResult(2*time.Millisecond, 3*time.Millisecond, 4*time.Millisecond))
	tt.Telemetry = 500 * time.Microsecond
	pc.Record(tt)
	stats := pc.Stats()

	row := stats.ToCSV(120)
	if row.WindowEnd != 120 || row.DispatchUS != 3000 || row.PresentUS != 4000 || row.TelemetryUS != 500 {
		t.Errorf("csv row = %+v", row)
	}

	var buf bytes.Buffer
	stats.LogStats(slog.New(slog.NewJSONHandler(&buf, nil)))
	for _, want := range []string{`"dispatch_us":3000`, `"avg_tick_us":10500`, `"stalled":0`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log line missing %s: %s", want, buf.String())
		}
	}
}
