package renderer

import (
	"context"
	"errors"
	"image"

	"github.com/pthm-cable/wavefield/field"
)

var (
	// ErrSurfaceLost reports a surface that must be reconfigured before it
	// can present again. Presentation is skipped for the tick.
	ErrSurfaceLost = errors.New("surface lost")

	// ErrDeviceLost reports an evaluator that can no longer run. The tick is
	// aborted and the evaluator reacquired.
	ErrDeviceLost = errors.New("device lost")

	// ErrKernel reports a kernel that failed to build or run. It is not retried.
	ErrKernel = errors.New("kernel failure")
)

// Evaluator runs the field kernel over a pair of buffers it allocates and the
// render loop drives. Buffers are addressed by Slot only.
type Evaluator interface {
	// Allocate creates both field buffers at a fixed resolution.
	Allocate(width, height int) error

	// Layout is the landmark record layout the kernel declares.
	Layout() field.Layout

	// Capacity is the number of landmark records the kernel buffer holds.
	Capacity() int

	// Upload replaces the parameter block (field.ParamsSize bytes) and the
	// landmark buffer (NumLandmarks records at Layout().Stride).
	Upload(params, landmarks []byte) error

	// Dispatch runs the kernel over grid, reading in and writing out. It
	// returns only once every write to out is visible.
	Dispatch(ctx context.Context, grid Grid, in, out Slot) error

	// Copy writes the colourised contents of out into a presentable frame.
	Copy(out Slot, dst Frame) error

	// Reacquire rebuilds the evaluator after ErrDeviceLost. Buffer contents
	// may be lost; slot roles are unaffected.
	Reacquire() error

	Close() error
}

// Surface is the presentable target.
type Surface interface {
	// Size is the surface resolution reported at session start.
	Size() (width, height int)

	// Acquire returns the frame to draw into, or ErrSurfaceLost.
	Acquire() (Frame, error)

	// Reconfigure restores a lost surface.
	Reconfigure() error
}

// Frame is one acquired surface image.
type Frame interface {
	Present() error
}

// PixelFrame is a Frame backed by CPU-addressable pixels.
type PixelFrame interface {
	Frame
	Pixels() *image.RGBA
}
