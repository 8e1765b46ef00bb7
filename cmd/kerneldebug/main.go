// Kernel debug tool - runs the shader kernel and the CPU reference side by
// side through a hidden window and reports how far apart they are.
//
// Phase oscillation is disabled unless -phase is set, since only the shader
// applies it.
//
// Usage: go run ./cmd/kerneldebug -ticks 60 -out kernel.png
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/wavefield/config"
	"github.com/pthm-cable/wavefield/field"
	"github.com/pthm-cable/wavefield/gpu"
	"github.com/pthm-cable/wavefield/renderer"
	"github.com/pthm-cable/wavefield/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outPath := flag.String("out", "kernel.png", "Output PNG path for the shader frame")
	width := flag.Int("width", 256, "Render width")
	height := flag.Int("height", 256, "Render height")
	ticks := flag.Int("ticks", 60, "Ticks to run")
	phase := flag.Bool("phase", false, "Keep the phase oscillation")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Screen.Width, cfg.Screen.Height = *width, *height
	if !*phase {
		cfg.Phase.Amplitude = 0
	}

	// Initialize raylib with hidden window
	rl.SetConfigFlags(rl.FlagWindowHidden)
	rl.InitWindow(int32(*width), int32(*height), "Kernel Debug")
	defer rl.CloseWindow()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	palette := renderer.NewPalette(cfg.Palette.HueLow, cfg.Palette.HueHigh, cfg.Palette.Saturation)

	shader, err := gpu.NewShaderEvaluator(gpu.Options{
		Layout:   field.Layout{Stride: cfg.Field.LandmarkStride},
		Capacity: min(cfg.Field.MaxLandmarks, gpu.MaxLandmarks),
		Palette:  palette,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load kernel: %v\n", err)
		os.Exit(1)
	}
	cpu, err := renderer.NewCPUEvaluator(renderer.CPUOptions{
		Workers:  cfg.Render.Workers,
		Layout:   field.Layout{Stride: cfg.Field.LandmarkStride},
		Capacity: min(cfg.Field.MaxLandmarks, gpu.MaxLandmarks),
		Palette:  palette,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create CPU evaluator: %v\n", err)
		os.Exit(1)
	}

	gpuSurface := renderer.NewMemorySurface(*width, *height)
	cpuSurface := renderer.NewMemorySurface(*width, *height)
	gs, err := session.New(cfg, session.Options{Evaluator: shader, Surface: gpuSurface, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create shader session: %v\n", err)
		os.Exit(1)
	}
	defer gs.Close()
	cs, err := session.New(cfg, session.Options{Evaluator: cpu, Surface: cpuSurface, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create CPU session: %v\n", err)
		os.Exit(1)
	}
	defer cs.Close()

	ctx := context.Background()
	for _, s := range []*session.Session{gs, cs} {
		if err := s.Run(ctx, *ticks); err != nil {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
			os.Exit(1)
		}
	}

	slot, ok := gs.Loop().Latest()
	if !ok {
		fmt.Fprintln(os.Stderr, "No frames rendered")
		os.Exit(1)
	}
	got := shader.Buffer(slot)
	want := cpu.Buffer(slot)

	var maxDiff, sumDiff float64
	for i := range got {
		d := math.Abs(float64(got[i] - want[i]))
		sumDiff += d
		maxDiff = max(maxDiff, d)
	}

	if err := renderer.WritePNG(*outPath, gpuSurface.Image()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to export image: %v\n", err)
		os.Exit(1)
	}
	refPath := strings.TrimSuffix(*outPath, ".png") + "_cpu.png"
	if err := renderer.WritePNG(refPath, cpuSurface.Image()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to export image: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Kernel rendered to: %s (%dx%d, %d ticks)\n", *outPath, *width, *height, *ticks)
	fmt.Printf("Reference rendered to: %s\n", refPath)
	fmt.Printf("Max diff: %.6f  Mean diff: %.6f\n", maxDiff, sumDiff/float64(len(got)))
}
