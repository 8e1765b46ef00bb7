package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pthm-cable/wavefield/field"
)

// ReacquirePolicy bounds evaluator reacquisition after device loss.
type ReacquirePolicy struct {
	Attempts int           // retries after the first attempt
	Backoff  time.Duration // initial interval, doubled per retry
}

// DefaultReacquirePolicy retries three times starting at 50ms.
func DefaultReacquirePolicy() ReacquirePolicy {
	return ReacquirePolicy{Attempts: 3, Backoff: 50 * time.Millisecond}
}

// Result describes one Render call.
type Result struct {
	Frame       uint64 // completed ticks after this call
	Output      Slot   // slot written this tick (meaningless unless Dispatched)
	Dispatched  bool   // the kernel ran and parity advanced
	Presented   bool   // a frame reached the surface
	SurfaceLost bool   // the surface was reconfigured instead of presenting
	Aborted     bool   // device lost; no write landed and parity did not move
	Reacquires  int    // reacquisition attempts made

	Upload   time.Duration
	Dispatch time.Duration
	Present  time.Duration
}

// Loop is the feedback render loop for one session. Its methods are not safe
// for concurrent use.
type Loop struct {
	eval    Evaluator
	surface Surface
	grid    Grid
	layout  field.Layout
	policy  ReacquirePolicy
	logger  *slog.Logger

	pp PingPong

	paramBuf    []byte
	landmarkBuf []byte
}

// NewLoop allocates the evaluator's buffers at the surface resolution.
func NewLoop(eval Evaluator, surface Surface, policy ReacquirePolicy, logger *slog.Logger) (*Loop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	layout := eval.Layout()
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("evaluator layout: %w", err)
	}
	w, h := surface.Size()
	if err := eval.Allocate(w, h); err != nil {
		return nil, fmt.Errorf("allocating field buffers: %w", err)
	}
	return &Loop{
		eval:        eval,
		surface:     surface,
		grid:        NewGrid(w, h),
		layout:      layout,
		policy:      policy,
		logger:      logger,
		paramBuf:    make([]byte, 0, field.ParamsSize),
		landmarkBuf: make([]byte, 0, eval.Capacity()*layout.Stride),
	}, nil
}

// Render runs one tick: upload, dispatch, present, advance parity.
//
// A device loss aborts the tick without advancing parity and reacquires the
// evaluator; the returned error is nil if reacquisition succeeded. A lost
// surface is reconfigured and the tick completes without presenting.
func (l *Loop) Render(ctx context.Context, params field.Params, landmarks []field.Landmark) (Result, error) {
	res := Result{Frame: l.pp.Frame()}

	if n := len(landmarks); n > l.eval.Capacity() {
		return res, fmt.Errorf("rendering %d landmarks (capacity %d): %w", n, l.eval.Capacity(), field.ErrCapacityExceeded)
	}
	params.NumLandmarks = uint32(len(landmarks))

	start := time.Now()
	l.paramBuf = params.AppendBinary(l.paramBuf[:0])
	l.landmarkBuf = l.layout.PackLandmarks(l.landmarkBuf[:0], landmarks)
	if err := l.eval.Upload(l.paramBuf, l.landmarkBuf); err != nil {
		return l.fail(ctx, res, "upload", err)
	}
	res.Upload = time.Since(start)

	in, out := l.pp.Roles()
	start = time.Now()
	if err := l.eval.Dispatch(ctx, l.grid, in, out); err != nil {
		return l.fail(ctx, res, "dispatch", err)
	}
	res.Dispatch = time.Since(start)
	res.Output = out
	res.Dispatched = true

	start = time.Now()
	err := l.present(out, &res)
	res.Present = time.Since(start)

	// The write landed, so parity moves even if presentation failed.
	l.pp.Advance()
	res.Frame = l.pp.Frame()
	return res, err
}

func (l *Loop) present(out Slot, res *Result) error {
	frame, err := l.surface.Acquire()
	if err != nil {
		if !errors.Is(err, ErrSurfaceLost) {
			l.logger.Warn("surface acquire failed", "frame", l.pp.Frame(), "error", err)
			return nil
		}
		res.SurfaceLost = true
		l.logger.Warn("surface lost, reconfiguring", "frame", l.pp.Frame())
		if err := l.surface.Reconfigure(); err != nil {
			return fmt.Errorf("reconfiguring surface: %w", err)
		}
		return nil
	}

	if err := l.eval.Copy(out, frame); err != nil {
		return fmt.Errorf("copying slot %v to surface: %w", out, err)
	}
	if err := frame.Present(); err != nil {
		if errors.Is(err, ErrSurfaceLost) {
			res.SurfaceLost = true
			return l.surface.Reconfigure()
		}
		return fmt.Errorf("presenting: %w", err)
	}
	res.Presented = true
	return nil
}

// fail handles an upload or dispatch error. Nothing was written, so parity
// is left alone.
func (l *Loop) fail(ctx context.Context, res Result, stage string, err error) (Result, error) {
	if !errors.Is(err, ErrDeviceLost) {
		return res, fmt.Errorf("%s: %w", stage, err)
	}
	res.Aborted = true
	l.logger.Warn("device lost, reacquiring", "stage", stage, "frame", l.pp.Frame(), "error", err)

	attempts, rerr := l.reacquire(ctx)
	res.Reacquires = attempts
	if rerr != nil {
		return res, fmt.Errorf("reacquiring evaluator after %d attempts: %w", attempts, rerr)
	}
	l.logger.Info("evaluator reacquired", "attempts", attempts)
	return res, nil
}

func (l *Loop) reacquire(ctx context.Context) (int, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = l.policy.Backoff
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(max(l.policy.Attempts, 0)))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := l.eval.Reacquire()
		if errors.Is(err, ErrKernel) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return attempts, err
}

// Frame returns the number of completed ticks.
func (l *Loop) Frame() uint64 { return l.pp.Frame() }

// Latest returns the slot holding the newest output.
func (l *Loop) Latest() (Slot, bool) { return l.pp.Latest() }

// Grid returns the dispatch grid.
func (l *Loop) Grid() Grid { return l.grid }

// Close releases the evaluator.
func (l *Loop) Close() error { return l.eval.Close() }
