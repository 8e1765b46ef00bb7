package gpu

import (
	"image"
	"image/color"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/wavefield/renderer"
)

// Background fills the letterbox around the field.
var Background = color.RGBA{R: 8, G: 8, B: 12, A: 255}

// WindowSurface presents field frames to the raylib window. The field keeps
// the resolution it was allocated at and is letterboxed into the window.
//
// Frames also accept CPU pixels, which are streamed into a texture at
// Present, so the CPU evaluator can drive a window too.
type WindowSurface struct {
	width, height int
	dest          rl.Rectangle
	overlay       func()
	lastW, lastH  int
	last          func()

	pix     *image.RGBA
	staging []color.RGBA
	tex     rl.Texture2D
}

// NewWindowSurface creates a surface for a width x height field. The window
// must already be open.
func NewWindowSurface(width, height int) *WindowSurface {
	s := &WindowSurface{width: width, height: height}
	s.Reconfigure()
	return s
}

// SetOverlay installs a hook drawn above the field on every frame, such as
// the HUD.
func (s *WindowSurface) SetOverlay(draw func()) { s.overlay = draw }

func (s *WindowSurface) Size() (width, height int) { return s.width, s.height }

// Acquire reports a lost surface while the window is minimised or after it
// was resized.
func (s *WindowSurface) Acquire() (renderer.Frame, error) {
	if rl.IsWindowMinimized() {
		return nil, renderer.ErrSurfaceLost
	}
	if rl.GetScreenWidth() != s.lastW || rl.GetScreenHeight() != s.lastH {
		return nil, renderer.ErrSurfaceLost
	}
	return &WindowFrame{s: s}, nil
}

// Reconfigure fits the field into the current window size, keeping its
// aspect ratio.
func (s *WindowSurface) Reconfigure() error {
	sw, sh := rl.GetScreenWidth(), rl.GetScreenHeight()
	s.lastW, s.lastH = sw, sh

	scale := min(float32(sw)/float32(s.width), float32(sh)/float32(s.height))
	w := float32(s.width) * scale
	h := float32(s.height) * scale
	s.dest = rl.Rectangle{
		X:      (float32(sw) - w) / 2,
		Y:      (float32(sh) - h) / 2,
		Width:  w,
		Height: h,
	}
	return nil
}

// Dest returns the window rectangle the field is drawn into.
func (s *WindowSurface) Dest() rl.Rectangle { return s.dest }

// Idle redraws the last presented field under the overlay. Call it on ticks
// that did not present so the window keeps processing input.
func (s *WindowSurface) Idle() {
	rl.BeginDrawing()
	rl.ClearBackground(Background)
	if s.last != nil {
		s.last()
	}
	if s.overlay != nil {
		s.overlay()
	}
	rl.EndDrawing()
}

// Close releases the pixel streaming texture.
func (s *WindowSurface) Close() {
	if s.pix != nil {
		rl.UnloadTexture(s.tex)
		s.pix = nil
	}
}

func (s *WindowSurface) pixels() *image.RGBA {
	if s.pix == nil {
		s.pix = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
		s.staging = make([]color.RGBA, s.width*s.height)
		img := rl.GenImageColor(s.width, s.height, rl.Black)
		s.tex = rl.LoadTextureFromImage(img)
		rl.UnloadImage(img)
	}
	return s.pix
}

func (s *WindowSurface) uploadPixels() {
	for i := range s.staging {
		p := s.pix.Pix[4*i : 4*i+4 : 4*i+4]
		s.staging[i] = color.RGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
	}
	rl.UpdateTexture(s.tex, s.staging)
}

func (s *WindowSurface) drawPixels() {
	src := rl.Rectangle{X: 0, Y: 0, Width: float32(s.width), Height: float32(s.height)}
	rl.DrawTexturePro(s.tex, src, s.dest, rl.Vector2{}, 0, rl.White)
}

// WindowFrame is one window frame. The shader evaluator installs a draw call
// at Copy; other evaluators write Pixels. Present issues either between
// BeginDrawing and EndDrawing.
type WindowFrame struct {
	s         *WindowSurface
	draw      func(dest rl.Rectangle)
	hasPixels bool
}

// Pixels returns the CPU image streamed to the window at Present.
func (f *WindowFrame) Pixels() *image.RGBA {
	f.hasPixels = true
	return f.s.pixels()
}

func (f *WindowFrame) Present() error {
	rl.BeginDrawing()
	rl.ClearBackground(Background)
	switch {
	case f.draw != nil:
		f.s.last = func() { f.draw(f.s.dest) }
	case f.hasPixels:
		f.s.uploadPixels()
		f.s.last = f.s.drawPixels
	}
	if f.s.last != nil {
		f.s.last()
	}
	if f.s.overlay != nil {
		f.s.overlay()
	}
	rl.EndDrawing()
	return nil
}
