package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pthm-cable/wavefield/field"
)

// flakyEvaluator wraps the CPU evaluator with injectable device failures.
type flakyEvaluator struct {
	*CPUEvaluator

	loseUpload    int   // upcoming uploads reporting device lost
	loseDispatch  int   // upcoming dispatches reporting device lost
	failReacquire int   // upcoming reacquisitions that fail
	dispatchErr   error // returned by every dispatch when set

	uploads    int
	reacquires int
}

func (f *flakyEvaluator) Upload(params, landmarks []byte) error {
	if f.loseUpload > 0 {
		f.loseUpload--
		return fmt.Errorf("writing params: %w", ErrDeviceLost)
	}
	f.uploads++
	return f.CPUEvaluator.Upload(params, landmarks)
}

func (f *flakyEvaluator) Dispatch(ctx context.Context, g Grid, in, out Slot) error {
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	if f.loseDispatch > 0 {
		f.loseDispatch--
		return fmt.Errorf("submitting dispatch: %w", ErrDeviceLost)
	}
	return f.CPUEvaluator.Dispatch(ctx, g, in, out)
}

func (f *flakyEvaluator) Reacquire() error {
	f.reacquires++
	if f.failReacquire > 0 {
		f.failReacquire--
		return ErrDeviceLost
	}
	return f.CPUEvaluator.Reacquire()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLoop(t *testing.T, w, h int) (*Loop, *flakyEvaluator, *MemorySurface) {
	t.Helper()
	cpu, err := NewCPUEvaluator(CPUOptions{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	eval := &flakyEvaluator{CPUEvaluator: cpu}
	surface := NewMemorySurface(w, h)
	policy := ReacquirePolicy{Attempts: 2, Backoff: time.Millisecond}
	loop, err := NewLoop(eval, surface, policy, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { loop.Close() })
	return loop, eval, surface
}

func isZero(buf []float32) bool {
	for _, v := range buf {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestLoop_ParityAndPresent(t *testing.T) {
	loop, _, surface := newTestLoop(t, 32, 24)
	ctx := context.Background()
	lms := testLandmarks()

	for n := 1; n <= 5; n++ {
		res, err := loop.Render(ctx, testParams(32, 24), lms)
		if err != nil {
			t.Fatalf("tick %d: %v", n, err)
		}
		want := SlotA
		if n%2 == 1 {
			want = SlotB
		}
		if res.Output != want {
			t.Errorf("tick %d wrote %v, want %v", n, res.Output, want)
		}
		if !res.Dispatched || !res.Presented || res.Frame != uint64(n) {
			t.Errorf("tick %d: dispatched=%v presented=%v frame=%d", n, res.Dispatched, res.Presented, res.Frame)
		}
	}

	if latest, _ := loop.Latest(); latest != SlotB {
		t.Errorf("latest after 5 ticks = %v, want B", latest)
	}
	if surface.Presented() != 5 {
		t.Errorf("presented %d frames, want 5", surface.Presented())
	}
}

func TestLoop_PresentsPaletteOfLatest(t *testing.T) {
	loop, eval, surface := newTestLoop(t, 20, 20)
	if _, err := loop.Render(context.Background(), testParams(20, 20), testLandmarks()); err != nil {
		t.Fatal(err)
	}

	buf := eval.Buffer(SlotB)
	img := surface.Image()
	pal := DefaultPalette()
	for _, px := range [][2]int{{0, 0}, {10, 10}, {19, 3}} {
		want := pal.Color(buf[px[1]*20+px[0]])
		if got := img.RGBAAt(px[0], px[1]); got != want {
			t.Errorf("pixel %v = %v, want %v", px, got, want)
		}
	}
}

func TestLoop_SurfaceLost(t *testing.T) {
	loop, eval, surface := newTestLoop(t, 16, 16)
	ctx := context.Background()
	surface.InjectLoss(1)

	res, err := loop.Render(ctx, testParams(16, 16), testLandmarks())
	if err != nil {
		t.Fatal(err)
	}
	if !res.SurfaceLost || res.Presented {
		t.Errorf("lost tick: surfaceLost=%v presented=%v", res.SurfaceLost, res.Presented)
	}
	if res.Frame != 1 {
		t.Errorf("frame after lost surface = %d, want 1", res.Frame)
	}
	if surface.Reconfigures() != 1 || surface.Presented() != 0 {
		t.Errorf("reconfigures=%d presented=%d", surface.Reconfigures(), surface.Presented())
	}
	if isZero(eval.Buffer(SlotB)) {
		t.Error("dispatch output missing on lost-surface tick")
	}

	res, err = loop.Render(ctx, testParams(16, 16), testLandmarks())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Presented || res.Output != SlotA {
		t.Errorf("recovered tick: presented=%v output=%v", res.Presented, res.Output)
	}
}

func TestLoop_DeviceLostDoesNotAdvance(t *testing.T) {
	for _, stage := range []string{"upload", "dispatch"} {
		t.Run(stage, func(t *testing.T) {
			loop, eval, surface := newTestLoop(t, 16, 16)
			if stage == "upload" {
				eval.loseUpload = 1
			} else {
				eval.loseDispatch = 1
			}

			res, err := loop.Render(context.Background(), testParams(16, 16), testLandmarks())
			if err != nil {
				t.Fatalf("recoverable device loss returned %v", err)
			}
			if !res.Aborted || res.Dispatched || res.Frame != 0 || loop.Frame() != 0 {
				t.Errorf("aborted=%v dispatched=%v frame=%d", res.Aborted, res.Dispatched, loop.Frame())
			}
			if res.Reacquires != 1 || eval.reacquires != 1 {
				t.Errorf("reacquires = %d/%d, want 1", res.Reacquires, eval.reacquires)
			}
			if !isZero(eval.Buffer(SlotA)) || !isZero(eval.Buffer(SlotB)) {
				t.Error("aborted tick wrote a buffer")
			}
			if surface.Presented() != 0 {
				t.Error("aborted tick presented")
			}

			res, err = loop.Render(context.Background(), testParams(16, 16), testLandmarks())
			if err != nil {
				t.Fatal(err)
			}
			if res.Output != SlotB || res.Frame != 1 {
				t.Errorf("next tick wrote %v at frame %d, want B at 1", res.Output, res.Frame)
			}
		})
	}
}

func TestLoop_ReacquireExhausted(t *testing.T) {
	loop, eval, _ := newTestLoop(t, 16, 16)
	eval.loseDispatch = 1
	eval.failReacquire = 10

	res, err := loop.Render(context.Background(), testParams(16, 16), testLandmarks())
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("got %v, want ErrDeviceLost", err)
	}
	// First attempt plus two retries.
	if eval.reacquires != 3 || res.Reacquires != 3 {
		t.Errorf("reacquires = %d, want 3", eval.reacquires)
	}
	if loop.Frame() != 0 {
		t.Errorf("frame = %d after failed reacquire", loop.Frame())
	}
}

func TestLoop_KernelFailureNotRetried(t *testing.T) {
	loop, eval, _ := newTestLoop(t, 16, 16)
	eval.dispatchErr = fmt.Errorf("compiling: %w", ErrKernel)

	res, err := loop.Render(context.Background(), testParams(16, 16), testLandmarks())
	if !errors.Is(err, ErrKernel) {
		t.Fatalf("got %v, want ErrKernel", err)
	}
	if res.Aborted || res.Dispatched || eval.reacquires != 0 || loop.Frame() != 0 {
		t.Errorf("aborted=%v dispatched=%v reacquires=%d frame=%d", res.Aborted, res.Dispatched, eval.reacquires, loop.Frame())
	}
}

func TestLoop_CapacityRejectedBeforeUpload(t *testing.T) {
	cpu, err := NewCPUEvaluator(CPUOptions{Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	eval := &flakyEvaluator{CPUEvaluator: cpu}
	loop, err := NewLoop(eval, NewMemorySurface(8, 8), DefaultReacquirePolicy(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	res, err := loop.Render(context.Background(), testParams(8, 8), testLandmarks())
	if !errors.Is(err, field.ErrCapacityExceeded) {
		t.Fatalf("got %v, want ErrCapacityExceeded", err)
	}
	if res.Dispatched {
		t.Error("rejected tick reported a dispatch")
	}
	if eval.uploads != 0 || loop.Frame() != 0 {
		t.Errorf("uploads=%d frame=%d after rejection", eval.uploads, loop.Frame())
	}
}

func TestMemorySurface_DumpPNG(t *testing.T) {
	dir := t.TempDir()
	loop, _, surface := newTestLoop(t, 16, 16)
	surface.DumpPNG(dir, 2)

	for i := 0; i < 4; i++ {
		if _, err := loop.Render(context.Background(), testParams(16, 16), testLandmarks()); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("dumped %d frames, want 2: %v", len(matches), matches)
	}
}
