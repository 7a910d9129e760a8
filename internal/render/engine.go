package render

import (
	"errors"
	"fmt"
	"time"

	mgl32 "github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// Outcome reports what one RenderFrame call did.
type Outcome int

const (
	// OutcomeSkipped means the frame was dropped: degenerate extent, stale
	// surface deferred to the next call, or a recoverable failure.
	OutcomeSkipped Outcome = iota
	// OutcomeRendered means work was submitted and presented.
	OutcomeRendered
)

func (o Outcome) String() string {
	if o == OutcomeRendered {
		return "rendered"
	}
	return "skipped"
}

// PanState carries the directional pan flags held down right now.
type PanState struct {
	Up, Down, Left, Right bool
	// Fast pans at double the base speed while held.
	Fast bool
}

// Pan speed in view units per second.
const panSpeed = 0.5

// Engine owns the GPU resources behind a Backend and renders one frame per
// RenderFrame call. It is not safe for concurrent use: the event loop must
// drive it from a single goroutine, which is also the only place the
// surface-stale flag and the pan flags may change.
type Engine struct {
	backend Backend
	log     *zap.Logger
	now     func() time.Time

	start     time.Time
	lastFrame time.Time
	extent    Extent

	surfaceStale bool
	inFlight     Signal

	pan       PanState
	panOffset mgl32.Vec2
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires an engine to its backend. The backend must already hold a valid
// surface and pipeline for its current extent.
func New(backend Backend, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		log:      log,
		now:      time.Now,
		inFlight: Completed(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.start = e.now()
	e.lastFrame = e.start
	e.extent = backend.SurfaceExtent()
	return e
}

// NotifyResized marks the presentation surface stale. Safe to call from
// window callbacks running on the event-loop goroutine.
func (e *Engine) NotifyResized() {
	e.surfaceStale = true
}

// SetPan replaces the held pan flags.
func (e *Engine) SetPan(p PanState) {
	e.pan = p
}

// Extent returns the extent of the most recently built surface.
func (e *Engine) Extent() Extent {
	return e.extent
}

// RenderFrame renders and presents one frame. Surface invalidation and
// transient submission failures are absorbed and reported as OutcomeSkipped;
// the returned error is non-nil only for failures the engine cannot outlive,
// and the caller is expected to terminate on it.
func (e *Engine) RenderFrame() (Outcome, error) {
	// Reclaim: fold a completed in-flight frame back into the trivial
	// signal so nothing keeps polling a finished fence.
	if e.inFlight.Done() {
		e.inFlight = Completed()
	}

	if e.surfaceStale {
		extent := e.backend.SurfaceExtent()
		if extent.Degenerate() {
			// Minimized window. Skip without clearing the flag so the
			// rebuild happens once a real size comes back.
			return OutcomeSkipped, nil
		}
		if err := e.backend.RebuildSurface(extent); err != nil {
			if errors.Is(err, ErrExtentUnsupported) {
				e.log.Debug("surface rejected extent, retrying next frame",
					zap.Stringer("extent", extent))
				return OutcomeSkipped, nil
			}
			return OutcomeSkipped, fmt.Errorf("rebuild surface: %w", err)
		}
		if err := e.backend.RebuildPipeline(extent); err != nil {
			return OutcomeSkipped, fmt.Errorf("rebuild pipeline: %w", err)
		}
		e.extent = extent
		e.surfaceStale = false
		e.log.Debug("presentation surface rebuilt", zap.Stringer("extent", extent))
	}

	image, suboptimal, err := e.backend.AcquireImage()
	if errors.Is(err, ErrOutOfDate) {
		e.surfaceStale = true
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("acquire image: %w", err)
	}
	if suboptimal {
		// Usable this frame; rebuild before the next one.
		e.surfaceStale = true
	}

	now := e.now()
	e.advancePan(now.Sub(e.lastFrame))
	e.lastFrame = now
	uniforms := ComputeUniforms(now.Sub(e.start), e.extent, e.panOffset)

	sig, err := e.backend.SubmitFrame(Frame{Image: image, Uniforms: uniforms, After: e.inFlight})
	if err != nil {
		// Whatever happened, the submitted frame must not block the next
		// one: substitute an already-complete signal.
		e.inFlight = Completed()
		if errors.Is(err, ErrOutOfDate) {
			e.surfaceStale = true
			return OutcomeSkipped, nil
		}
		e.log.Warn("frame submission failed", zap.Error(err))
		return OutcomeSkipped, nil
	}
	e.inFlight = sig
	return OutcomeRendered, nil
}

// Close waits for in-flight work and releases the backend.
func (e *Engine) Close() error {
	return e.backend.Close()
}

func (e *Engine) advancePan(dt time.Duration) {
	if dt <= 0 {
		return
	}
	step := panSpeed * float32(dt.Seconds())
	if e.pan.Fast {
		step *= 2
	}
	if e.pan.Up {
		e.panOffset[1] -= step
	}
	if e.pan.Down {
		e.panOffset[1] += step
	}
	if e.pan.Left {
		e.panOffset[0] -= step
	}
	if e.pan.Right {
		e.panOffset[0] += step
	}
}
