package renderer

import (
	"image"
	"image/color"

	"github.com/hsluv/hsluv-go"
)

// Palette maps field intensities in [0, 1] to colours through a 256-entry
// lookup table built in HSLuv, so equal intensity steps look equally bright.
type Palette struct {
	lut [256]color.RGBA
}

// NewPalette sweeps hue from hueLow at zero intensity to hueHigh at full
// intensity, with lightness rising from black at zero.
func NewPalette(hueLow, hueHigh, saturation float64) *Palette {
	p := &Palette{}
	for i := range p.lut {
		t := float64(i) / 255
		h := hueLow + (hueHigh-hueLow)*t
		if h < 0 {
			h += 360
		}
		l := 85 * t
		r, g, b := hsluv.HsluvToRGB(h, saturation, l)
		p.lut[i] = color.RGBA{R: unit8(r), G: unit8(g), B: unit8(b), A: 255}
	}
	return p
}

// DefaultPalette runs from black through deep blue to warm red.
func DefaultPalette() *Palette {
	return NewPalette(265, 12, 90)
}

// Color returns the colour for intensity v, clamped to [0, 1].
func (p *Palette) Color(v float32) color.RGBA {
	return p.lut[index(v)]
}

// LUT returns a copy of the lookup table, lowest intensity first.
func (p *Palette) LUT() []color.RGBA {
	return append([]color.RGBA(nil), p.lut[:]...)
}

// Colorize writes the colours of a row-major width x height buffer into dst.
// Pixels outside dst's bounds are skipped.
func (p *Palette) Colorize(dst *image.RGBA, src []float32, width, height int) {
	b := dst.Bounds()
	h := min(height, b.Dy())
	w := min(width, b.Dx())
	for y := 0; y < h; y++ {
		row := src[y*width : y*width+w]
		off := dst.PixOffset(b.Min.X, b.Min.Y+y)
		for _, v := range row {
			c := p.lut[index(v)]
			dst.Pix[off+0] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = c.A
			off += 4
		}
	}
}

func index(v float32) int {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return int(v*255 + 0.5)
}

func unit8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
