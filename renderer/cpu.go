package renderer

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/pthm-cable/wavefield/field"
)

// CPUOptions configures a CPUEvaluator.
type CPUOptions struct {
	Workers  int          // 0 = GOMAXPROCS
	Layout   field.Layout // landmark record layout accepted by Upload
	Capacity int          // landmark buffer capacity
	Palette  *Palette     // nil = DefaultPalette
}

// CPUEvaluator runs the field kernel on a worker pool over float32 buffers.
// It is the reference backend: every pixel holds exactly the value the blend
// law produces, without quantisation.
type CPUEvaluator struct {
	layout   field.Layout
	capacity int
	palette  *Palette
	workers  int

	width, height int
	bufs          [2][]float32
	fresh         []float32

	params    field.Params
	landmarks []field.Landmark
	uploaded  bool

	// grid is only written between dispatches.
	grid Grid
	pool *tilePool
}

// NewCPUEvaluator creates an evaluator. Buffers are created by Allocate.
func NewCPUEvaluator(opts CPUOptions) (*CPUEvaluator, error) {
	if opts.Layout.Stride == 0 {
		opts.Layout = field.DefaultLayout
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.Capacity <= 0 {
		opts.Capacity = field.DefaultCapacity
	}
	if opts.Palette == nil {
		opts.Palette = DefaultPalette()
	}
	e := &CPUEvaluator{
		layout:    opts.Layout,
		capacity:  opts.Capacity,
		palette:   opts.Palette,
		workers:   opts.Workers,
		landmarks: make([]field.Landmark, 0, opts.Capacity),
	}
	e.pool = newTilePool(e.workers, e.shadeTiles)
	return e, nil
}

// Allocate creates both buffers zeroed at width x height.
func (e *CPUEvaluator) Allocate(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("allocating %dx%d field buffers: invalid size", width, height)
	}
	n := width * height
	e.width, e.height = width, height
	e.bufs = [2][]float32{make([]float32, n), make([]float32, n)}
	e.fresh = make([]float32, n)
	return nil
}

func (e *CPUEvaluator) Layout() field.Layout { return e.layout }

func (e *CPUEvaluator) Capacity() int { return e.capacity }

// Upload decodes the parameter block and landmark records.
func (e *CPUEvaluator) Upload(params, landmarks []byte) error {
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
	e.uploaded = true
	return nil
}

// Dispatch evaluates the fresh field over every tile, then blends it with in
// and writes the result to out:
//
//	out = FeedbackStrength*in + (1-FeedbackStrength)*min(1, P/DecayFactor)
func (e *CPUEvaluator) Dispatch(ctx context.Context, grid Grid, in, out Slot) error {
	if e.bufs[0] == nil {
		return errors.New("dispatch before allocate")
	}
	if !e.uploaded {
		return errors.New("dispatch before upload")
	}
	if in == out {
		return fmt.Errorf("dispatch reads and writes slot %v", in)
	}
	if grid.Width != e.width || grid.Height != e.height {
		return fmt.Errorf("dispatch grid %dx%d, buffers %dx%d", grid.Width, grid.Height, e.width, e.height)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.grid = grid
	e.pool.run(grid.NumTiles())

	fb := e.params.FeedbackStrength
	n := len(e.fresh)
	dst := blas32.Vector{N: n, Inc: 1, Data: e.bufs[out]}
	blas32.Copy(blas32.Vector{N: n, Inc: 1, Data: e.bufs[in]}, dst)
	blas32.Scal(fb, dst)
	blas32.Axpy(1-fb, blas32.Vector{N: n, Inc: 1, Data: e.fresh}, dst)
	return nil
}

// shadeTiles writes min(1, P/DecayFactor) for every pixel of tiles [start, end).
func (e *CPUEvaluator) shadeTiles(start, end int) {
	res := e.params.Resolution
	k := float64(e.params.WaveNumber)
	decay := e.params.DecayFactor
	for i := start; i < end; i++ {
		r := e.grid.Tile(i)
		for py := r.Min.Y; py < r.Max.Y; py++ {
			row := e.fresh[py*e.width:]
			for px := r.Min.X; px < r.Max.X; px++ {
				x, y := field.PixelToWorld(res, px, py)
				v := float32(field.ProbabilityAt(e.landmarks, k, x, y)) / decay
				if v > 1 {
					v = 1
				}
				row[px] = v
			}
		}
	}
}

// Copy colourises out into a PixelFrame.
func (e *CPUEvaluator) Copy(out Slot, dst Frame) error {
	pf, ok := dst.(PixelFrame)
	if !ok {
		return fmt.Errorf("cpu evaluator cannot write to %T", dst)
	}
	e.palette.Colorize(pf.Pixels(), e.bufs[out], e.width, e.height)
	return nil
}

// Buffer returns the raw field values of a slot. The slice aliases the
// evaluator's storage and is only stable between dispatches.
func (e *CPUEvaluator) Buffer(s Slot) []float32 { return e.bufs[s] }

// Size returns the allocated resolution.
func (e *CPUEvaluator) Size() (width, height int) { return e.width, e.height }

// Reacquire restarts the worker pool. Buffer contents survive.
func (e *CPUEvaluator) Reacquire() error {
	e.pool.stopWorkers()
	e.pool = newTilePool(e.workers, e.shadeTiles)
	return nil
}

// Close stops the worker pool.
func (e *CPUEvaluator) Close() error {
	e.pool.stopWorkers()
	return nil
}
