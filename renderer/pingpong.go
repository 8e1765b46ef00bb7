// Package renderer runs the feedback render loop: each tick an evaluator reads
// the previous field buffer and writes a new one, which is then presented and
// becomes the next tick's input.
package renderer

import "image"

// Slot names one of the two field buffers.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) String() string {
	if s == SlotA {
		return "A"
	}
	return "B"
}

// Other returns the opposite slot.
func (s Slot) Other() Slot { return 1 - s }

// PingPong tracks which slot is input and which is output. Roles are a pure
// function of the frame counter; swapping never copies data.
type PingPong struct {
	frame uint64
}

// Frame returns the number of completed ticks.
func (p *PingPong) Frame() uint64 { return p.frame }

// Roles returns the slots for the current tick: A in, B out on even frames,
// B in, A out on odd frames.
func (p *PingPong) Roles() (in, out Slot) {
	if p.frame%2 == 0 {
		return SlotA, SlotB
	}
	return SlotB, SlotA
}

// Advance completes the current tick. It must run exactly once per tick whose
// output was written.
func (p *PingPong) Advance() { p.frame++ }

// Latest returns the slot holding the most recent output: B after an odd
// number of ticks, A after an even non-zero number. ok is false before the
// first tick.
func (p *PingPong) Latest() (slot Slot, ok bool) {
	if p.frame == 0 {
		return SlotA, false
	}
	if p.frame%2 == 1 {
		return SlotB, true
	}
	return SlotA, true
}

// TileSize is the edge length of one dispatch block in pixels.
const TileSize = 16

// Grid covers an output image with TileSize blocks. The tile count rounds up,
// so the last row and column may be partial.
type Grid struct {
	Width, Height  int
	TilesX, TilesY int
}

// NewGrid returns the grid for a width x height image.
func NewGrid(width, height int) Grid {
	return Grid{
		Width:  width,
		Height: height,
		TilesX: (width + TileSize - 1) / TileSize,
		TilesY: (height + TileSize - 1) / TileSize,
	}
}

// NumTiles returns the number of tiles dispatched.
func (g Grid) NumTiles() int { return g.TilesX * g.TilesY }

// Tile returns the pixel rectangle of tile i in row-major order, clamped to
// the image bounds.
func (g Grid) Tile(i int) image.Rectangle {
	tx, ty := i%g.TilesX, i/g.TilesX
	x0, y0 := tx*TileSize, ty*TileSize
	return image.Rect(x0, y0, x0+TileSize, y0+TileSize).Intersect(g.Bounds())
}

// Bounds returns the image rectangle.
func (g Grid) Bounds() image.Rectangle { return image.Rect(0, 0, g.Width, g.Height) }
