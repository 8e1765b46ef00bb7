// Field preview tool - renders the reference field to a PNG without a window.
//
// With -ticks 0 the instantaneous field seen from (-cam-x, -cam-y) is
// rendered. With -ticks N a full session runs N ticks through the feedback
// loop on the CPU evaluator and the last presented frame is written.
//
// Usage: go run ./cmd/fieldpreview -out field.png -cam-x 0.2 -cam-y -0.1
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/pthm-cable/wavefield/config"
	"github.com/pthm-cable/wavefield/field"
	"github.com/pthm-cable/wavefield/renderer"
	"github.com/pthm-cable/wavefield/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outPath := flag.String("out", "field.png", "Output PNG path")
	width := flag.Int("width", 0, "Render width (0 = use config)")
	height := flag.Int("height", 0, "Render height (0 = use config)")
	camX := flag.Float64("cam-x", 0, "Camera x for the instantaneous field")
	camY := flag.Float64("cam-y", 0, "Camera y for the instantaneous field")
	ticks := flag.Int("ticks", 0, "Run N feedback ticks instead of one instantaneous evaluation")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *width > 0 {
		cfg.Screen.Width = *width
	}
	if *height > 0 {
		cfg.Screen.Height = *height
	}
	cfg.Render.Backend = "cpu"

	var img *image.RGBA
	if *ticks > 0 {
		img, err = runSession(cfg, *ticks)
	} else {
		img, err = instantaneous(cfg, float32(*camX), float32(*camY))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render field: %v\n", err)
		os.Exit(1)
	}

	if err := renderer.WritePNG(*outPath, img); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to export image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Field rendered to: %s (%dx%d)\n", *outPath, cfg.Screen.Width, cfg.Screen.Height)
}

// instantaneous evaluates min(1, P/decay) once per pixel, with no feedback.
func instantaneous(cfg *config.Config, camX, camY float32) (*image.RGBA, error) {
	m := field.NewModel(cfg.Field.WaveNumber)
	for _, lm := range cfg.Landmarks {
		if err := m.AddLandmark(lm.X, lm.Y); err != nil {
			return nil, err
		}
	}
	m.UpdateObservation(camX, camY)

	w, h := cfg.Screen.Width, cfg.Screen.Height
	res := [2]float32{float32(w), float32(h)}
	values := make([]float32, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			x, y := field.PixelToWorld(res, px, py)
			values[py*w+px] = float32(min(1, m.Probability(x, y)/cfg.Field.DecayFactor))
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	palette := renderer.NewPalette(cfg.Palette.HueLow, cfg.Palette.HueHigh, cfg.Palette.Saturation)
	palette.Colorize(img, values, w, h)
	return img, nil
}

func runSession(cfg *config.Config, ticks int) (*image.RGBA, error) {
	surface := renderer.NewMemorySurface(cfg.Screen.Width, cfg.Screen.Height)
	s, err := session.New(cfg, session.Options{
		Surface: surface,
		Logger:  slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Run(context.Background(), ticks); err != nil {
		return nil, err
	}
	return surface.Image(), nil
}
