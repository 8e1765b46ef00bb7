package ui

import (
	"fmt"
	"time"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/wavefield/telemetry"
)

// HUDData holds all the data needed to render the main HUD.
type HUDData struct {
	Title     string
	Session   string
	Backend   string
	Frame     uint64
	SimTime   float64
	FPS       int32
	CameraX   float32
	CameraY   float32
	Landmarks int
	Capacity  int
	Paused    bool
}

// HUD renders the main heads-up display.
type HUD struct {
	renderer *Renderer
}

// NewHUD creates a new HUD renderer.
func NewHUD() *HUD {
	return &HUD{renderer: NewRenderer()}
}

// Draw renders the HUD.
func (h *HUD) Draw(data HUDData) {
	rl.DrawText(data.Title, 10, 10, 20, rl.White)

	rl.DrawText(
		fmt.Sprintf("Frame: %d | t: %.2fs | FPS: %d | %s", data.Frame, data.SimTime, data.FPS, data.Backend),
		10, 35, 16, rl.LightGray,
	)
	rl.DrawText(
		fmt.Sprintf("Camera: (%+.3f, %+.3f) | Landmarks: %d/%d", data.CameraX, data.CameraY, data.Landmarks, data.Capacity),
		10, 55, 16, rl.LightGray,
	)

	statusText := "Running"
	if data.Paused {
		statusText = "PAUSED"
	}
	rl.DrawText(statusText, 10, 75, 16, rl.Yellow)
	rl.DrawText(data.Session, 10, 95, 10, rl.Gray)
}

// DrawStats renders the last telemetry window in a panel at (x, y).
func (h *HUD) DrawStats(x, y, width int32, s telemetry.WindowStats) int32 {
	r := h.renderer
	pad := r.Theme.Padding
	height := r.Theme.LineHeight*9 + pad*2
	r.DrawPanel(x, y, width, height)

	cy := r.DrawSectionHeader(x+pad, y+pad, "Field")
	inner := width - 2*pad
	cy = r.DrawBar(x+pad, cy, "mean", float32(s.IntensityMean), 0.5, inner)
	cy = r.DrawBar(x+pad, cy, "p90", float32(s.IntensityP90), 0.5, inner)
	cy = r.DrawLabelValue(x+pad, cy, "peak P", fmt.Sprintf("%.3f", s.PeakProbability))
	cy = r.DrawLabelValue(x+pad, cy, "peak at", fmt.Sprintf("(%+.2f, %+.2f)", s.PeakX, s.PeakY))
	cy = r.DrawLabelValue(x+pad, cy, "to camera", fmt.Sprintf("%.3f", s.PeakCameraDist))
	cy = r.DrawLabelValue(x+pad, cy, "lost/abort", fmt.Sprintf("%d / %d", s.SurfaceLost, s.DeviceAborts))
	return cy
}

// DrawControls renders the control legend at the bottom of the screen.
func (h *HUD) DrawControls(screenHeight int32, controls string) {
	rl.DrawText(controls, 10, screenHeight-25, 14, rl.Gray)
}

// PerfPanel renders the tick phase breakdown.
type PerfPanel struct {
	renderer *Renderer
	x, y     int32
}

// NewPerfPanel creates a new performance panel.
func NewPerfPanel(x, y int32) *PerfPanel {
	return &PerfPanel{
		renderer: NewRenderer(),
		x:        x,
		y:        y,
	}
}

// SetPosition updates the panel position.
func (p *PerfPanel) SetPosition(x, y int32) {
	p.x = x
	p.y = y
}

// Draw renders the performance panel.
func (p *PerfPanel) Draw(stats telemetry.PerfStats) {
	x := p.x
	y := p.y

	rl.DrawText("Tick Performance", x, y, 16, rl.White)
	y += 20

	rl.DrawText(fmt.Sprintf("Avg: %s (%.0f ticks/s)", stats.AvgTickDuration.Round(time.Microsecond), stats.TicksPerSecond), x, y, 14, rl.Yellow)
	y += 16

	for _, name := range telemetry.Phases() {
		avg := stats.PhaseAvg[name]
		pct := stats.PhasePct[name]

		color := rl.LightGray
		if pct > 50 {
			color = rl.Red
		} else if pct > 25 {
			color = rl.Orange
		}
		rl.DrawText(
			fmt.Sprintf("%-10s %8s %5.1f%%", name, avg.Round(time.Microsecond), pct),
			x, y, 12, color,
		)
		y += 14
	}
}

// Controls holds the values the control panel edits.
type Controls struct {
	Paused         bool
	PhaseAmplitude float32
	PhaseRate      float32
}

// ControlAction reports what the user did in the panel this frame.
type ControlAction struct {
	TogglePause      bool
	LandmarkAtCamera bool
	PhaseChanged     bool
}

// ControlPanel holds raygui widgets for live tuning.
type ControlPanel struct {
	renderer *Renderer
	x, y     int32
	width    int32
}

// NewControlPanel creates a control panel at (x, y).
func NewControlPanel(x, y, width int32) *ControlPanel {
	return &ControlPanel{renderer: NewRenderer(), x: x, y: y, width: width}
}

// SetPosition updates the panel position.
func (c *ControlPanel) SetPosition(x, y int32) {
	c.x = x
	c.y = y
}

// Draw renders the panel, writing slider changes back into ctl.
func (c *ControlPanel) Draw(ctl *Controls) ControlAction {
	r := c.renderer
	pad := r.Theme.Padding
	r.DrawPanel(c.x, c.y, c.width, 190)

	var act ControlAction
	px := float32(c.x + pad)
	py := float32(r.DrawSectionHeader(c.x+pad, c.y+pad, "Controls"))
	inner := float32(c.width - 2*pad)

	label := "Pause"
	if ctl.Paused {
		label = "Resume"
	}
	if gui.Button(rl.Rectangle{X: px, Y: py, Width: inner/2 - 4, Height: 24}, label) {
		act.TogglePause = true
	}
	if gui.Button(rl.Rectangle{X: px + inner/2 + 4, Y: py, Width: inner/2 - 4, Height: 24}, "Landmark") {
		act.LandmarkAtCamera = true
	}
	py += 36

	rl.DrawText("Phase amplitude", int32(px), int32(py), r.Theme.FontSize, r.Theme.LabelColor)
	py += 16
	amp := gui.SliderBar(rl.Rectangle{X: px + 24, Y: py, Width: inner - 72, Height: 16}, "0", "2", ctl.PhaseAmplitude, 0, 2)
	rl.DrawText(fmt.Sprintf("%.2f", ctl.PhaseAmplitude), int32(px+inner-40), int32(py+2), r.Theme.FontSize, r.Theme.ValueColor)
	py += 28

	rl.DrawText("Phase rate", int32(px), int32(py), r.Theme.FontSize, r.Theme.LabelColor)
	py += 16
	rate := gui.SliderBar(rl.Rectangle{X: px + 24, Y: py, Width: inner - 72, Height: 16}, "0", "8", ctl.PhaseRate, 0, 8)
	rl.DrawText(fmt.Sprintf("%.2f", ctl.PhaseRate), int32(px+inner-40), int32(py+2), r.Theme.FontSize, r.Theme.ValueColor)

	if amp != ctl.PhaseAmplitude || rate != ctl.PhaseRate {
		ctl.PhaseAmplitude = amp
		ctl.PhaseRate = rate
		act.PhaseChanged = true
	}
	return act
}
