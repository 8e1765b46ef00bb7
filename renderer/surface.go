package renderer

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// MemorySurface is an offscreen surface backed by an RGBA image. It serves
// headless runs and tests: presented frames can be dumped as PNGs and surface
// loss can be injected.
type MemorySurface struct {
	back  *image.RGBA
	front *image.RGBA

	presented    int
	reconfigures int
	lose         int

	dumpDir   string
	dumpEvery int
}

// NewMemorySurface creates a width x height surface.
func NewMemorySurface(width, height int) *MemorySurface {
	r := image.Rect(0, 0, width, height)
	return &MemorySurface{back: image.NewRGBA(r), front: image.NewRGBA(r)}
}

// DumpPNG writes every Nth presented frame to dir as frame_<n>.png.
func (s *MemorySurface) DumpPNG(dir string, every int) {
	s.dumpDir = dir
	s.dumpEvery = max(every, 1)
}

// InjectLoss makes the next n Acquire calls report ErrSurfaceLost.
func (s *MemorySurface) InjectLoss(n int) { s.lose = n }

func (s *MemorySurface) Size() (width, height int) {
	b := s.back.Bounds()
	return b.Dx(), b.Dy()
}

// Acquire returns the back buffer.
func (s *MemorySurface) Acquire() (Frame, error) {
	if s.lose > 0 {
		s.lose--
		return nil, ErrSurfaceLost
	}
	return &memoryFrame{s: s}, nil
}

// Reconfigure counts the call; a memory surface never stays lost.
func (s *MemorySurface) Reconfigure() error {
	s.reconfigures++
	return nil
}

// Image returns the last presented frame.
func (s *MemorySurface) Image() *image.RGBA { return s.front }

// Presented returns the number of frames presented.
func (s *MemorySurface) Presented() int { return s.presented }

// Reconfigures returns the number of Reconfigure calls.
func (s *MemorySurface) Reconfigures() int { return s.reconfigures }

func (s *MemorySurface) present() error {
	copy(s.front.Pix, s.back.Pix)
	s.presented++
	if s.dumpDir == "" || s.presented%s.dumpEvery != 0 {
		return nil
	}
	return WritePNG(filepath.Join(s.dumpDir, fmt.Sprintf("frame_%06d.png", s.presented)), s.front)
}

type memoryFrame struct {
	s *MemorySurface
}

func (f *memoryFrame) Pixels() *image.RGBA { return f.s.back }

func (f *memoryFrame) Present() error { return f.s.present() }

// WritePNG encodes img to path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating frame dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating frame: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding frame: %w", err)
	}
	return f.Close()
}
