package render

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSignal struct {
	done bool
}

func (s *fakeSignal) Done() bool { return s.done }

type acquireResult struct {
	image      int
	suboptimal bool
	err        error
}

// fakeBackend records every call and checks the surface/pipeline extent
// invariant at the moments the engine would dereference them.
type fakeBackend struct {
	t *testing.T

	extent Extent // what SurfaceExtent reports

	surfaceExtent  *Extent // extent of the currently built surface
	pipelineExtent *Extent // extent the pipeline was built for

	surfaceRebuilds  int
	pipelineRebuilds int
	surfaceErrs      []error

	acquires       int
	acquireResults []acquireResult

	frames     []Frame
	submitErrs []error
	signals    []*fakeSignal

	closed bool
}

func newFakeBackend(t *testing.T, extent Extent) *fakeBackend {
	e := extent
	return &fakeBackend{t: t, extent: extent, surfaceExtent: &e, pipelineExtent: &e}
}

func (b *fakeBackend) SurfaceExtent() Extent { return b.extent }

func (b *fakeBackend) RebuildSurface(e Extent) error {
	if len(b.surfaceErrs) > 0 {
		err := b.surfaceErrs[0]
		b.surfaceErrs = b.surfaceErrs[1:]
		if err != nil {
			return err
		}
	}
	if e.Degenerate() {
		b.t.Errorf("RebuildSurface called with degenerate extent %v", e)
	}
	b.surfaceRebuilds++
	c := e
	b.surfaceExtent = &c
	return nil
}

func (b *fakeBackend) RebuildPipeline(e Extent) error {
	if b.surfaceExtent == nil || *b.surfaceExtent != e {
		b.t.Errorf("RebuildPipeline(%v) does not match current surface extent %v", e, b.surfaceExtent)
	}
	b.pipelineRebuilds++
	c := e
	b.pipelineExtent = &c
	return nil
}

func (b *fakeBackend) AcquireImage() (int, bool, error) {
	if b.surfaceExtent == nil || b.pipelineExtent == nil || *b.surfaceExtent != *b.pipelineExtent {
		b.t.Errorf("acquire with mismatched surface %v and pipeline %v", b.surfaceExtent, b.pipelineExtent)
	}
	b.acquires++
	if len(b.acquireResults) > 0 {
		r := b.acquireResults[0]
		b.acquireResults = b.acquireResults[1:]
		return r.image, r.suboptimal, r.err
	}
	return 0, false, nil
}

func (b *fakeBackend) SubmitFrame(f Frame) (Signal, error) {
	b.frames = append(b.frames, f)
	if len(b.submitErrs) > 0 {
		err := b.submitErrs[0]
		b.submitErrs = b.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeSignal{}
	b.signals = append(b.signals, s)
	return s, nil
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func newTestEngine(t *testing.T, backend *fakeBackend, opts ...Option) *Engine {
	t.Helper()
	return New(backend, zap.NewNop(), opts...)
}

func frozenClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRenderFrameHappyPath(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)

	outcome, err := e.RenderFrame()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if outcome != OutcomeRendered {
		t.Fatalf("outcome = %v, want rendered", outcome)
	}
	if len(backend.frames) != 1 {
		t.Fatalf("expected one submitted frame, got %d", len(backend.frames))
	}
	if backend.surfaceRebuilds != 0 || backend.pipelineRebuilds != 0 {
		t.Errorf("no rebuild expected on a fresh surface, got %d/%d", backend.surfaceRebuilds, backend.pipelineRebuilds)
	}
}

func TestZeroExtentNeverRebuilds(t *testing.T) {
	backend := newFakeBackend(t, Extent{0, 0})
	e := newTestEngine(t, backend)
	e.NotifyResized()

	for i := 0; i < 3; i++ {
		outcome, err := e.RenderFrame()
		if err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
		if outcome != OutcomeSkipped {
			t.Fatalf("render %d: outcome = %v, want skipped", i, outcome)
		}
	}
	if backend.surfaceRebuilds != 0 || backend.pipelineRebuilds != 0 {
		t.Errorf("degenerate extent triggered rebuilds: %d/%d", backend.surfaceRebuilds, backend.pipelineRebuilds)
	}
	if backend.acquires != 0 || len(backend.frames) != 0 {
		t.Errorf("degenerate extent reached the GPU: %d acquires, %d frames", backend.acquires, len(backend.frames))
	}

	// The stale flag must have survived: restoring the window rebuilds once.
	backend.extent = Extent{640, 480}
	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render after restore: %v", err)
	}
	if backend.surfaceRebuilds != 1 || backend.pipelineRebuilds != 1 {
		t.Errorf("expected exactly one rebuild after restore, got %d/%d", backend.surfaceRebuilds, backend.pipelineRebuilds)
	}
}

func TestResizeSequencesKeepExtentsMatched(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)

	sizes := []Extent{{1024, 768}, {0, 0}, {1024, 768}, {320, 200}, {320, 200}, {1920, 1080}}
	for _, size := range sizes {
		backend.extent = size
		e.NotifyResized()
		// Interleave a couple of frames per resize; the fake fails the test
		// if the engine ever acquires with mismatched surface/pipeline.
		for i := 0; i < 2; i++ {
			if _, err := e.RenderFrame(); err != nil {
				t.Fatalf("render at %v: %v", size, err)
			}
		}
		if !size.Degenerate() && e.Extent() != size {
			t.Errorf("engine extent %v, want %v", e.Extent(), size)
		}
	}
}

func TestOutOfDateAcquireRebuildsOnceBeforeRetry(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)
	backend.acquireResults = []acquireResult{{err: ErrOutOfDate}}

	outcome, err := e.RenderFrame()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %v, want skipped after out-of-date", outcome)
	}
	if len(backend.frames) != 0 {
		t.Fatal("no frame may be submitted after a failed acquire")
	}

	acquiresBefore := backend.acquires
	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render: %v", err)
	}
	if backend.surfaceRebuilds != 1 || backend.pipelineRebuilds != 1 {
		t.Errorf("expected exactly one rebuild before the retry, got %d/%d", backend.surfaceRebuilds, backend.pipelineRebuilds)
	}
	if backend.acquires != acquiresBefore+1 {
		t.Errorf("expected one more acquire, got %d", backend.acquires-acquiresBefore)
	}
}

func TestSuboptimalRendersThenRebuilds(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)
	backend.acquireResults = []acquireResult{{suboptimal: true}}

	outcome, err := e.RenderFrame()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if outcome != OutcomeRendered {
		t.Fatalf("suboptimal frame should still render, got %v", outcome)
	}

	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render: %v", err)
	}
	if backend.surfaceRebuilds != 1 {
		t.Errorf("expected rebuild before the frame after a suboptimal one, got %d", backend.surfaceRebuilds)
	}
}

func TestFatalAcquireErrorPropagates(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)
	backend.acquireResults = []acquireResult{{err: errors.New("device lost")}}

	if _, err := e.RenderFrame(); err == nil {
		t.Fatal("expected fatal acquire error to propagate")
	}
}

func TestSubmissionFailuresDoNotKillTheEngine(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)
	backend.submitErrs = []error{errors.New("flush failed"), errors.New("flush failed"), nil}

	for i := 0; i < 2; i++ {
		outcome, err := e.RenderFrame()
		if err != nil {
			t.Fatalf("render %d: submission failure must be absorbed: %v", i, err)
		}
		if outcome != OutcomeSkipped {
			t.Errorf("render %d: outcome = %v, want skipped", i, outcome)
		}
	}

	outcome, err := e.RenderFrame()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if outcome != OutcomeRendered {
		t.Fatalf("third frame should render normally, got %v", outcome)
	}
	// After a written-off frame the replacement in-flight signal must be
	// already complete so the next submission is not chained to a doomed one.
	last := backend.frames[len(backend.frames)-1]
	if !last.After.Done() {
		t.Error("frame after a failure chained to an incomplete signal")
	}
}

func TestPresentOutOfDateFlagsSurfaceStale(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)
	backend.submitErrs = []error{ErrOutOfDate}

	outcome, err := e.RenderFrame()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("outcome = %v, want skipped", outcome)
	}

	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render: %v", err)
	}
	if backend.surfaceRebuilds != 1 {
		t.Errorf("expected rebuild after out-of-date present, got %d", backend.surfaceRebuilds)
	}
}

func TestWorldMatrixDeterministicUnderFrozenClock(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend, WithClock(frozenClock(time.Unix(1000, 0))))

	for i := 0; i < 2; i++ {
		if _, err := e.RenderFrame(); err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
	}
	if backend.frames[0].Uniforms.World != backend.frames[1].Uniforms.World {
		t.Error("world matrices differ between frames with no elapsed time")
	}
}

func TestProjectionUsesCurrentExtent(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	at := time.Unix(1000, 0)
	e := newTestEngine(t, backend, WithClock(frozenClock(at)))

	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render: %v", err)
	}

	backend.extent = Extent{1920, 1080}
	e.NotifyResized()
	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render: %v", err)
	}

	want := ComputeUniforms(0, Extent{1920, 1080}, [2]float32{})
	got := backend.frames[1].Uniforms
	if got.Proj != want.Proj {
		t.Error("projection not recomputed from the rebuilt extent")
	}
	if got.Proj == backend.frames[0].Uniforms.Proj {
		t.Error("projection unchanged after aspect ratio changed")
	}
}

func TestPanShiftsViewNotWorld(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	e := newTestEngine(t, backend, WithClock(clock))

	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render: %v", err)
	}

	e.SetPan(PanState{Right: true})
	now = now.Add(500 * time.Millisecond)
	if _, err := e.RenderFrame(); err != nil {
		t.Fatalf("render: %v", err)
	}

	first, second := backend.frames[0].Uniforms, backend.frames[1].Uniforms
	if first.View == second.View {
		t.Error("pan had no effect on the view matrix")
	}
	if first.Proj != second.Proj {
		t.Error("pan must not change the projection")
	}
}

func TestFastPanDoublesStep(t *testing.T) {
	// The pan translation lands in the view matrix's last column, so the
	// x shift between consecutive frames is the integrated pan step.
	shift := func(fast bool) float32 {
		backend := newFakeBackend(t, Extent{800, 600})
		now := time.Unix(1000, 0)
		clock := func() time.Time { return now }
		e := newTestEngine(t, backend, WithClock(clock))
		if _, err := e.RenderFrame(); err != nil {
			t.Fatalf("render: %v", err)
		}
		e.SetPan(PanState{Right: true, Fast: fast})
		now = now.Add(500 * time.Millisecond)
		if _, err := e.RenderFrame(); err != nil {
			t.Fatalf("render: %v", err)
		}
		return backend.frames[1].Uniforms.View[12] - backend.frames[0].Uniforms.View[12]
	}

	base := shift(false)
	if base == 0 {
		t.Fatal("pan had no effect on the view matrix")
	}
	if fast := shift(true); fast != 2*base {
		t.Errorf("fast pan shift %v, want double the base shift %v", fast, base)
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	backend := newFakeBackend(t, Extent{800, 600})
	e := newTestEngine(t, backend)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !backend.closed {
		t.Error("backend not closed")
	}
}
