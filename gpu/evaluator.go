// Package gpu runs the field kernel as a raylib fragment shader and presents
// it to a raylib window. Everything here must be called from the goroutine
// that opened the window.
package gpu

import (
	"context"
	_ "embed"
	"fmt"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/wavefield/field"
	"github.com/pthm-cable/wavefield/renderer"
)

var (
	//go:embed shaders/base.vs
	baseVS string
	//go:embed shaders/field.fs
	fieldFS string
	//go:embed shaders/palette.fs
	paletteFS string
)

// MaxLandmarks is the size of the kernel's landmark uniform arrays.
const MaxLandmarks = 100

// Options configures a ShaderEvaluator.
type Options struct {
	Layout   field.Layout      // landmark record layout accepted by Upload
	Capacity int               // at most MaxLandmarks; 0 = MaxLandmarks
	Palette  *renderer.Palette // nil = renderer.DefaultPalette
}

type fieldLocs struct {
	prevField        int32
	resolution       int32
	waveNumber       int32
	decayFactor      int32
	feedbackStrength int32
	numLandmarks     int32
	landmarkGeom     int32
	landmarkPhase    int32
}

// ShaderEvaluator evaluates the field into two RGBA8 render textures, each
// pixel holding the field value as 16-bit fixed point in R and G.
type ShaderEvaluator struct {
	layout   field.Layout
	capacity int
	palette  *renderer.Palette

	width, height int
	targets       [2]rl.RenderTexture2D
	allocated     bool

	kernel  rl.Shader
	locs    fieldLocs
	present rl.Shader
	lutLoc  int32
	lut     rl.Texture2D
	loaded  bool

	params    field.Params
	landmarks []field.Landmark
	geom      []float32
	phase     []float32
	uploaded  bool
}

// NewShaderEvaluator compiles the kernel and palette shaders. The raylib
// window must already be open.
func NewShaderEvaluator(opts Options) (*ShaderEvaluator, error) {
	if opts.Layout.Stride == 0 {
		opts.Layout = field.DefaultLayout
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.Capacity <= 0 {
		opts.Capacity = MaxLandmarks
	}
	if opts.Capacity > MaxLandmarks {
		return nil, fmt.Errorf("shader capacity %d exceeds %d: %w", opts.Capacity, MaxLandmarks, field.ErrCapacityExceeded)
	}
	if opts.Palette == nil {
		opts.Palette = renderer.DefaultPalette()
	}

	e := &ShaderEvaluator{
		layout:    opts.Layout,
		capacity:  opts.Capacity,
		palette:   opts.Palette,
		landmarks: make([]field.Landmark, 0, opts.Capacity),
		geom:      make([]float32, 4*MaxLandmarks),
		phase:     make([]float32, MaxLandmarks),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *ShaderEvaluator) load() error {
	if !rl.IsWindowReady() {
		return renderer.ErrDeviceLost
	}

	e.kernel = rl.LoadShaderFromMemory(baseVS, fieldFS)
	e.locs = fieldLocs{
		prevField:        rl.GetShaderLocation(e.kernel, "prevField"),
		resolution:       rl.GetShaderLocation(e.kernel, "resolution"),
		waveNumber:       rl.GetShaderLocation(e.kernel, "waveNumber"),
		decayFactor:      rl.GetShaderLocation(e.kernel, "decayFactor"),
		feedbackStrength: rl.GetShaderLocation(e.kernel, "feedbackStrength"),
		numLandmarks:     rl.GetShaderLocation(e.kernel, "numLandmarks"),
		landmarkGeom:     rl.GetShaderLocation(e.kernel, "landmarkGeom"),
		landmarkPhase:    rl.GetShaderLocation(e.kernel, "landmarkPhase"),
	}
	// A shader that fails to compile falls back to raylib's default, which
	// has none of the kernel uniforms.
	if e.kernel.ID == 0 || e.locs.waveNumber < 0 || e.locs.prevField < 0 {
		rl.UnloadShader(e.kernel)
		return fmt.Errorf("compiling field kernel: %w", renderer.ErrKernel)
	}

	e.present = rl.LoadShaderFromMemory(baseVS, paletteFS)
	e.lutLoc = rl.GetShaderLocation(e.present, "paletteLut")
	if e.present.ID == 0 || e.lutLoc < 0 {
		rl.UnloadShader(e.kernel)
		rl.UnloadShader(e.present)
		return fmt.Errorf("compiling palette shader: %w", renderer.ErrKernel)
	}

	img := rl.GenImageColor(256, 1, rl.Black)
	e.lut = rl.LoadTextureFromImage(img)
	rl.UnloadImage(img)
	rl.SetTextureFilter(e.lut, rl.FilterPoint)
	rl.UpdateTexture(e.lut, e.palette.LUT())

	e.loaded = true
	return nil
}

func (e *ShaderEvaluator) unload() {
	if e.allocated {
		rl.UnloadRenderTexture(e.targets[0])
		rl.UnloadRenderTexture(e.targets[1])
		e.allocated = false
	}
	if e.loaded {
		rl.UnloadShader(e.kernel)
		rl.UnloadShader(e.present)
		rl.UnloadTexture(e.lut)
		e.loaded = false
	}
}

// Allocate creates both render textures cleared to zero.
func (e *ShaderEvaluator) Allocate(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("allocating %dx%d field textures: invalid size", width, height)
	}
	if !rl.IsWindowReady() {
		return renderer.ErrDeviceLost
	}
	if e.allocated {
		rl.UnloadRenderTexture(e.targets[0])
		rl.UnloadRenderTexture(e.targets[1])
	}
	e.width, e.height = width, height
	for i := range e.targets {
		e.targets[i] = rl.LoadRenderTexture(int32(width), int32(height))
		rl.SetTextureFilter(e.targets[i].Texture, rl.FilterPoint)
		rl.BeginTextureMode(e.targets[i])
		rl.ClearBackground(rl.Blank)
		rl.EndTextureMode()
	}
	e.allocated = true
	return nil
}

func (e *ShaderEvaluator) Layout() field.Layout { return e.layout }

func (e *ShaderEvaluator) Capacity() int { return e.capacity }

// Upload decodes the parameter block and landmark records into the uniform
// arrays applied at the next Dispatch.
func (e *ShaderEvaluator) Upload(params, landmarks []byte) error {
	if !rl.IsWindowReady() {
		return renderer.ErrDeviceLost
	}
	p, err := field.ParseParams(params)
	if err != nil {
		return err
	}
	n := int(p.NumLandmarks)
	if n > e.capacity {
		return fmt.Errorf("uploading %d landmarks (capacity %d): %w", n, e.capacity, field.ErrCapacityExceeded)
	}
	lms, err := e.layout.UnpackLandmarks(e.landmarks, landmarks, n)
	if err != nil {
		return err
	}
	e.params = p
	e.landmarks = lms

	clear(e.geom)
	clear(e.phase)
	for i, lm := range lms {
		e.geom[4*i+0] = lm.Position[0]
		e.geom[4*i+1] = lm.Position[1]
		e.geom[4*i+2] = lm.ObservedDist
		e.geom[4*i+3] = lm.Confidence
		e.phase[i] = lm.PhaseOffset
	}
	e.uploaded = true
	return nil
}

// Dispatch draws the kernel over the out target, sampling in. The fragment
// pass covers every tile of grid; grid only has to match the allocation.
// Ending texture mode flushes the batch, so later reads of out observe it.
func (e *ShaderEvaluator) Dispatch(ctx context.Context, grid renderer.Grid, in, out renderer.Slot) error {
	if !rl.IsWindowReady() {
		return renderer.ErrDeviceLost
	}
	if !e.allocated || !e.loaded {
		return fmt.Errorf("dispatch before allocate")
	}
	if !e.uploaded {
		return fmt.Errorf("dispatch before upload")
	}
	if in == out {
		return fmt.Errorf("dispatch reads and writes slot %v", in)
	}
	if grid.Width != e.width || grid.Height != e.height {
		return fmt.Errorf("grid %dx%d does not match textures %dx%d", grid.Width, grid.Height, e.width, e.height)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := e.kernel
	rl.SetShaderValue(s, e.locs.resolution, []float32{float32(e.width), float32(e.height)}, rl.ShaderUniformVec2)
	rl.SetShaderValue(s, e.locs.waveNumber, []float32{e.params.WaveNumber}, rl.ShaderUniformFloat)
	rl.SetShaderValue(s, e.locs.decayFactor, []float32{e.params.DecayFactor}, rl.ShaderUniformFloat)
	rl.SetShaderValue(s, e.locs.feedbackStrength, []float32{e.params.FeedbackStrength}, rl.ShaderUniformFloat)
	rl.SetShaderValue(s, e.locs.numLandmarks, []float32{float32(len(e.landmarks))}, rl.ShaderUniformFloat)
	rl.SetShaderValueV(s, e.locs.landmarkGeom, e.geom, rl.ShaderUniformVec4, MaxLandmarks)
	rl.SetShaderValueV(s, e.locs.landmarkPhase, e.phase, rl.ShaderUniformVec4, MaxLandmarks/4)

	rl.BeginTextureMode(e.targets[out])
	rl.BeginShaderMode(s)
	rl.SetShaderValueTexture(s, e.locs.prevField, e.targets[in].Texture)
	rl.DrawRectangle(0, 0, int32(e.width), int32(e.height), rl.White)
	rl.EndShaderMode()
	rl.EndTextureMode()
	return nil
}

// Copy presents out. A WindowFrame draws the texture through the palette
// shader; any other PixelFrame receives a colourised readback.
func (e *ShaderEvaluator) Copy(out renderer.Slot, dst renderer.Frame) error {
	if !e.allocated {
		return fmt.Errorf("copy before allocate")
	}
	switch f := dst.(type) {
	case *WindowFrame:
		tex := e.targets[out].Texture
		f.draw = func(dest rl.Rectangle) {
			// Render textures are stored bottom-up; a negative source height flips them.
			src := rl.Rectangle{X: 0, Y: 0, Width: float32(e.width), Height: -float32(e.height)}
			rl.BeginShaderMode(e.present)
			rl.SetShaderValueTexture(e.present, e.lutLoc, e.lut)
			rl.DrawTexturePro(tex, src, dest, rl.Vector2{}, 0, rl.White)
			rl.EndShaderMode()
		}
		return nil
	case renderer.PixelFrame:
		e.palette.Colorize(f.Pixels(), e.Buffer(out), e.width, e.height)
		return nil
	default:
		return fmt.Errorf("shader evaluator cannot copy into %T", dst)
	}
}

// Buffer reads slot back into a row-major, top-down slice of field values.
func (e *ShaderEvaluator) Buffer(slot renderer.Slot) []float32 {
	img := rl.LoadImageFromTexture(e.targets[slot].Texture)
	defer rl.UnloadImage(img)
	colors := rl.LoadImageColors(img)
	defer rl.UnloadImageColors(colors)

	out := make([]float32, e.width*e.height)
	for y := 0; y < e.height; y++ {
		// Texture row 0 is the bottom of the image.
		src := colors[(e.height-1-y)*e.width : (e.height-y)*e.width]
		dst := out[y*e.width : (y+1)*e.width]
		for x, c := range src {
			dst[x] = Decode(c.R, c.G)
		}
	}
	return out
}

// Size returns the allocated resolution.
func (e *ShaderEvaluator) Size() (width, height int) { return e.width, e.height }

// Reacquire reloads every shader and texture. Field contents are lost and
// restart from zero.
func (e *ShaderEvaluator) Reacquire() error {
	if !rl.IsWindowReady() {
		return renderer.ErrDeviceLost
	}
	e.unload()
	if err := e.load(); err != nil {
		return err
	}
	if e.width > 0 {
		return e.Allocate(e.width, e.height)
	}
	return nil
}

// Close releases GPU resources.
func (e *ShaderEvaluator) Close() error {
	if rl.IsWindowReady() {
		e.unload()
	}
	return nil
}

// Decode converts the R/G fixed-point pair written by the kernel to [0, 1].
func Decode(hi, lo uint8) float32 {
	return float32(uint16(hi)<<8|uint16(lo)) / 65535
}

// Encode is the inverse of Decode, clamping v to [0, 1].
func Encode(v float32) (hi, lo uint8) {
	if !(v > 0) {
		return 0, 0
	}
	if v >= 1 {
		return 0xff, 0xff
	}
	q := uint16(v*65535 + 0.5)
	return uint8(q >> 8), uint8(q)
}
