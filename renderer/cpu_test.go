package renderer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/wavefield/field"
)

// testLandmarks returns the demo scene observed from the origin.
func testLandmarks() []field.Landmark {
	lms := []field.Landmark{
		field.NewLandmark(0, 0.5),
		field.NewLandmark(0.5, -0.5),
		field.NewLandmark(-0.5, -0.5),
	}
	field.Observe(lms, 0, 0)
	return lms
}

func testParams(w, h int) field.Params {
	return field.Params{
		Resolution:       [2]float32{float32(w), float32(h)},
		Time:             1,
		WaveNumber:       80,
		DecayFactor:      5,
		FeedbackStrength: 0.9,
	}
}

func newTestCPU(t *testing.T, workers, w, h int) *CPUEvaluator {
	t.Helper()
	e, err := NewCPUEvaluator(CPUOptions{Workers: workers})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Allocate(w, h); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func upload(t *testing.T, e Evaluator, p field.Params, lms []field.Landmark) {
	t.Helper()
	p.NumLandmarks = uint32(len(lms))
	if err := e.Upload(p.AppendBinary(nil), e.Layout().PackLandmarks(nil, lms)); err != nil {
		t.Fatal(err)
	}
}

// freshValue is min(1, P/decay) from the reference model.
func freshValue(p field.Params, lms []field.Landmark, px, py int) float32 {
	x, y := field.PixelToWorld(p.Resolution, px, py)
	v := float32(field.ProbabilityAt(lms, float64(p.WaveNumber), x, y)) / p.DecayFactor
	return min(v, 1)
}

func TestCPUEvaluator_FirstTickMatchesReference(t *testing.T) {
	const w, h = 40, 30
	e := newTestCPU(t, 1, w, h)
	p := testParams(w, h)
	lms := testLandmarks()
	upload(t, e, p, lms)

	if err := e.Dispatch(context.Background(), NewGrid(w, h), SlotA, SlotB); err != nil {
		t.Fatal(err)
	}

	out := e.Buffer(SlotB)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			want := 0.1 * freshValue(p, lms, px, py)
			if got := out[py*w+px]; math.Abs(float64(got-want)) > 1e-6 {
				t.Fatalf("pixel (%d, %d) = %v, want %v", px, py, got, want)
			}
		}
	}
	for i, v := range e.Buffer(SlotA) {
		if v != 0 {
			t.Fatalf("input slot modified at %d: %v", i, v)
		}
	}
}

func TestCPUEvaluator_WorkersDeterministic(t *testing.T) {
	const w, h = 100, 70
	p := testParams(w, h)
	lms := testLandmarks()

	var results [][]float32
	for _, workers := range []int{1, 4} {
		e := newTestCPU(t, workers, w, h)
		upload(t, e, p, lms)
		if err := e.Dispatch(context.Background(), NewGrid(w, h), SlotA, SlotB); err != nil {
			t.Fatal(err)
		}
		results = append(results, append([]float32(nil), e.Buffer(SlotB)...))
	}

	for i := range results[0] {
		if results[0][i] != results[1][i] {
			t.Fatalf("pixel %d differs between worker counts: %v vs %v", i, results[0][i], results[1][i])
		}
	}
}

func TestCPUEvaluator_FeedbackConverges(t *testing.T) {
	const w, h = 24, 20
	e := newTestCPU(t, 0, w, h)
	p := testParams(w, h)
	lms := testLandmarks()
	upload(t, e, p, lms)

	var pp PingPong
	for i := 0; i < 200; i++ {
		in, out := pp.Roles()
		if err := e.Dispatch(context.Background(), NewGrid(w, h), in, out); err != nil {
			t.Fatal(err)
		}
		pp.Advance()
	}

	latest, _ := pp.Latest()
	buf := e.Buffer(latest)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			got := buf[py*w+px]
			want := freshValue(p, lms, px, py)
			if math.Abs(float64(got-want)) > 1e-4 {
				t.Fatalf("pixel (%d, %d) = %v, want steady state %v", px, py, got, want)
			}
			if got < 0 || got > 1 {
				t.Fatalf("pixel (%d, %d) = %v outside [0, 1]", px, py, got)
			}
		}
	}
}

func TestCPUEvaluator_UploadErrors(t *testing.T) {
	e, err := NewCPUEvaluator(CPUOptions{Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	p := testParams(8, 8)
	p.NumLandmarks = 3
	lms := field.DefaultLayout.PackLandmarks(nil, testLandmarks())
	if err := e.Upload(p.AppendBinary(nil), lms); !errors.Is(err, field.ErrCapacityExceeded) {
		t.Errorf("over capacity: got %v, want ErrCapacityExceeded", err)
	}

	p.NumLandmarks = 2
	if err := e.Upload(p.AppendBinary(nil), lms[:field.LandmarkSize]); !errors.Is(err, field.ErrLayout) {
		t.Errorf("short landmark buffer: got %v, want ErrLayout", err)
	}
	if err := e.Upload(p.AppendBinary(nil)[:20], lms); !errors.Is(err, field.ErrLayout) {
		t.Errorf("short params: got %v, want ErrLayout", err)
	}
}

func TestCPUEvaluator_DispatchGuards(t *testing.T) {
	e := newTestCPU(t, 1, 8, 8)
	ctx := context.Background()

	if err := e.Dispatch(ctx, NewGrid(8, 8), SlotA, SlotB); err == nil {
		t.Error("dispatch before upload succeeded")
	}
	upload(t, e, testParams(8, 8), testLandmarks())

	if err := e.Dispatch(ctx, NewGrid(8, 8), SlotA, SlotA); err == nil {
		t.Error("dispatch with in == out succeeded")
	}
	if err := e.Dispatch(ctx, NewGrid(16, 8), SlotA, SlotB); err == nil {
		t.Error("dispatch with mismatched grid succeeded")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := e.Dispatch(cancelled, NewGrid(8, 8), SlotA, SlotB); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled dispatch: got %v", err)
	}
}

func TestCPUEvaluator_LayoutStride24(t *testing.T) {
	const w, h = 16, 16
	e, err := NewCPUEvaluator(CPUOptions{Layout: field.Layout{Stride: 24}, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if err := e.Allocate(w, h); err != nil {
		t.Fatal(err)
	}

	p := testParams(w, h)
	lms := testLandmarks()
	upload(t, e, p, lms)
	if err := e.Dispatch(context.Background(), NewGrid(w, h), SlotA, SlotB); err != nil {
		t.Fatal(err)
	}

	want := 0.1 * freshValue(p, lms, 3, 5)
	if got := e.Buffer(SlotB)[5*w+3]; math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("stride 24 pixel = %v, want %v", got, want)
	}
}
