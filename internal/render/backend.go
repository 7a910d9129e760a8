// Package render drives one frame of GPU work per call: acquire a
// presentable image, compute the per-frame transforms, submit the recorded
// work and present it, while absorbing surface invalidation and transient
// presentation failures. The GPU itself sits behind the Backend interface;
// the Vulkan implementation lives in render/vk.
package render

import (
	"errors"
	"fmt"
)

// Extent is a presentation surface size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// Degenerate reports whether either dimension is zero, as happens while the
// window is minimized. A degenerate extent must never reach a rebuild.
func (e Extent) Degenerate() bool {
	return e.Width == 0 || e.Height == 0
}

// AspectRatio returns width over height.
func (e Extent) AspectRatio() float32 {
	return float32(e.Width) / float32(e.Height)
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

var (
	// ErrOutOfDate signals that the presentation surface no longer matches
	// the window and must be rebuilt before the next frame.
	ErrOutOfDate = errors.New("presentation surface out of date")

	// ErrExtentUnsupported signals that the backend rejected the requested
	// surface size; the rebuild should be retried on a later frame.
	ErrExtentUnsupported = errors.New("surface extent not supported")

	// ErrNoFreeSlot signals that every uniform slot is still claimed by an
	// unfinished frame.
	ErrNoFreeSlot = errors.New("no uniform slot free")
)

// Frame is one frame's worth of recorded work handed to the backend.
type Frame struct {
	// Image is the presentable image index returned by AcquireImage.
	Image int
	// Uniforms is the transform record for this frame.
	Uniforms FrameUniforms
	// After is the previous frame's completion signal; submitted work must
	// order after it. A backend whose submission path already serializes
	// frames, such as one pacing on a fence ring, satisfies the ordering
	// internally and need not read it.
	After Signal
}

// Backend is the GPU side of the engine: surface management, pipeline
// construction and work submission. Calls arrive strictly sequentially from
// a single goroutine.
type Backend interface {
	// SurfaceExtent reports the current window framebuffer size.
	SurfaceExtent() Extent

	// RebuildSurface tears down and reconstructs the swapchain, its depth
	// attachment and one framebuffer per swapchain image at the given
	// extent. Returns ErrExtentUnsupported when the size is rejected.
	RebuildSurface(Extent) error

	// RebuildPipeline rebuilds the graphics pipeline with its viewport fixed
	// to the given extent. Must be called with the extent of the surface
	// most recently built.
	RebuildPipeline(Extent) error

	// AcquireImage blocks until the backend hands out the next presentable
	// image index. The bool reports a suboptimal-but-usable surface.
	// Returns ErrOutOfDate when the surface has been invalidated.
	AcquireImage() (int, bool, error)

	// SubmitFrame records, submits and presents one frame and returns its
	// completion signal. Returns ErrOutOfDate when presentation reported the
	// surface invalid.
	SubmitFrame(Frame) (Signal, error)

	// Close waits for outstanding work and releases all GPU resources.
	Close() error
}
