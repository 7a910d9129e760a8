package vk

import (
	"errors"
	"fmt"

	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"
	"go.uber.org/zap"

	"github.com/mohe2015/blockfield/internal/assets"
	"github.com/mohe2015/blockfield/internal/config"
	"github.com/mohe2015/blockfield/internal/geometry"
	"github.com/mohe2015/blockfield/internal/render"
)

const maxFramesInFlight = 2

// One spare uniform slot beyond the frames that can be in flight, so a slot
// is always reclaimable by the time it is needed again.
const uniformSlots = maxFramesInFlight + 1

// Backend is the Vulkan implementation of render.Backend. All methods must
// be called from the event-loop goroutine that owns the GLFW window.
type Backend struct {
	ctx *Context
	log *zap.Logger

	vertPath string
	fragPath string
	vsync    bool

	res        *resourceSet
	uniforms   *render.UniformPool
	surf       *surface
	renderPass vulkan.RenderPass
	pipe       *pipeline

	commandBuffers []vulkan.CommandBuffer
	imageAvailable []vulkan.Semaphore
	renderFinished []vulkan.Semaphore
	inFlightFences []vulkan.Fence
	imagesInFlight []vulkan.Fence

	// pending marks frame slots whose fence has a submission behind it.
	// An unsignaled fence that was never submitted must not be waited on.
	pending [maxFramesInFlight]bool
	gens    [maxFramesInFlight]uint64

	current int
}

// New bootstraps Vulkan, uploads the world's static resources and builds the
// initial surface and pipeline for the window's current framebuffer size.
func New(window *glfw.Window, cfg *config.Config, log *zap.Logger) (*Backend, error) {
	ctx, err := NewContext(window, cfg.Graphics.Validation, log)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		ctx:      ctx,
		log:      log,
		vertPath: cfg.Shaders.Vertex,
		fragPath: cfg.Shaders.Fragment,
		vsync:    cfg.Graphics.VSync,
		uniforms: render.NewUniformPool(uniformSlots),
	}

	tex := loadTexture(cfg.World.Texture, log)
	mesh := geometry.Cube()
	instances := geometry.Grid(cfg.World.GridX, cfg.World.GridY, cfg.World.GridZ, cfg.World.Spacing)

	b.res, err = newResourceSet(ctx, mesh, instances, tex, uniformSlots)
	if err != nil {
		b.Close()
		return nil, err
	}
	if err := b.createSyncObjects(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.allocateCommandBuffers(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.RebuildSurface(b.SurfaceExtent()); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.RebuildPipeline(b.SurfaceExtent()); err != nil {
		b.Close()
		return nil, err
	}

	log.Info("vulkan backend ready",
		zap.Uint32("instances", b.res.instanceCount),
		zap.Stringer("extent", b.SurfaceExtent()))
	return b, nil
}

// loadTexture falls back to the built-in checker when the configured file is
// absent or unreadable, so a missing asset never aborts startup.
func loadTexture(path string, log *zap.Logger) *assets.Texture {
	if path == "" {
		return assets.Checker()
	}
	tex, err := assets.Load(path)
	if err != nil {
		log.Warn("texture load failed, using fallback checker",
			zap.String("path", path), zap.Error(err))
		return assets.Checker()
	}
	return tex
}

func (b *Backend) createSyncObjects() error {
	b.imageAvailable = make([]vulkan.Semaphore, maxFramesInFlight)
	b.renderFinished = make([]vulkan.Semaphore, maxFramesInFlight)
	b.inFlightFences = make([]vulkan.Fence, maxFramesInFlight)

	semInfo := vulkan.SemaphoreCreateInfo{
		SType: vulkan.StructureTypeSemaphoreCreateInfo,
	}
	fenceInfo := vulkan.FenceCreateInfo{
		SType: vulkan.StructureTypeFenceCreateInfo,
		Flags: vulkan.FenceCreateFlags(vulkan.FenceCreateSignaledBit),
	}
	for i := 0; i < maxFramesInFlight; i++ {
		if res := vulkan.CreateSemaphore(b.ctx.device, &semInfo, nil, &b.imageAvailable[i]); res != vulkan.Success {
			return fmt.Errorf("create imageAvailable semaphore %d: %w", i, vulkan.Error(res))
		}
		if res := vulkan.CreateSemaphore(b.ctx.device, &semInfo, nil, &b.renderFinished[i]); res != vulkan.Success {
			return fmt.Errorf("create renderFinished semaphore %d: %w", i, vulkan.Error(res))
		}
		if res := vulkan.CreateFence(b.ctx.device, &fenceInfo, nil, &b.inFlightFences[i]); res != vulkan.Success {
			return fmt.Errorf("create fence %d: %w", i, vulkan.Error(res))
		}
	}
	return nil
}

func (b *Backend) allocateCommandBuffers() error {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.ctx.commandPool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: maxFramesInFlight,
	}
	b.commandBuffers = make([]vulkan.CommandBuffer, maxFramesInFlight)
	if res := vulkan.AllocateCommandBuffers(b.ctx.device, &allocInfo, b.commandBuffers); res != vulkan.Success {
		return fmt.Errorf("allocate command buffers: %w", vulkan.Error(res))
	}
	return nil
}

// SurfaceExtent reports the window's framebuffer size in pixels.
func (b *Backend) SurfaceExtent() render.Extent {
	w, h := b.ctx.window.GetFramebufferSize()
	return render.Extent{Width: uint32(w), Height: uint32(h)}
}

// RebuildSurface replaces the swapchain, depth attachment and framebuffers.
// The render pass is created on the first build and reused after that since
// the surface and depth formats never change.
func (b *Backend) RebuildSurface(extent render.Extent) error {
	vulkan.DeviceWaitIdle(b.ctx.device)
	if b.surf != nil {
		b.surf.destroy(b.ctx.device)
		b.surf = nil
	}

	surf, err := newSurface(b.ctx, extent, b.vsync)
	if err != nil {
		return err
	}
	if b.renderPass == vulkan.RenderPass(vulkan.NullHandle) {
		b.renderPass, err = b.ctx.createRenderPass(surf.format, surf.depthFormat)
		if err != nil {
			surf.destroy(b.ctx.device)
			return err
		}
	}
	if err := surf.createFramebuffers(b.ctx, b.renderPass); err != nil {
		surf.destroy(b.ctx.device)
		return err
	}
	b.surf = surf
	b.imagesInFlight = make([]vulkan.Fence, len(surf.images))
	return nil
}

// RebuildPipeline replaces the graphics pipeline with one whose viewport is
// fixed to the current surface extent.
func (b *Backend) RebuildPipeline(render.Extent) error {
	if b.surf == nil {
		return errors.New("rebuild pipeline without a surface")
	}
	if b.pipe != nil {
		b.pipe.destroy(b.ctx.device)
		b.pipe = nil
	}
	setLayouts := []vulkan.DescriptorSetLayout{b.res.uniformLayout, b.res.samplerLayout}
	pipe, err := newPipeline(b.ctx, b.vertPath, b.fragPath, b.surf.extent, b.renderPass, setLayouts)
	if err != nil {
		return err
	}
	b.pipe = pipe
	return nil
}

// AcquireImage blocks on the current frame slot's fence and acquires the
// next presentable swapchain image.
func (b *Backend) AcquireImage() (int, bool, error) {
	frame := b.current
	if b.pending[frame] {
		vulkan.WaitForFences(b.ctx.device, 1, []vulkan.Fence{b.inFlightFences[frame]}, vulkan.True, vulkan.MaxUint64)
		b.pending[frame] = false
	}

	var imageIndex uint32
	res := vulkan.AcquireNextImage(b.ctx.device, b.surf.swapchain, vulkan.MaxUint64, b.imageAvailable[frame], vulkan.Fence(vulkan.NullHandle), &imageIndex)
	switch res {
	case vulkan.Success:
		return int(imageIndex), false, nil
	case vulkan.Suboptimal:
		return int(imageIndex), true, nil
	case vulkan.ErrorOutOfDate:
		return 0, false, render.ErrOutOfDate
	default:
		return 0, false, vulkan.Error(res)
	}
}

// SubmitFrame writes the frame's uniforms into a free slot, records the draw
// into the frame slot's command buffer, submits it behind the acquired-image
// semaphore and presents. The returned signal tracks the submission fence.
func (b *Backend) SubmitFrame(frame render.Frame) (render.Signal, error) {
	f := b.current

	// A failure before QueueSubmit leaves the acquire semaphore with a
	// pending signal nothing will ever wait on. It must be drained before
	// the slot's next acquire can reuse it.
	submitted := false
	defer func() {
		if !submitted {
			b.drainAcquireSemaphore(f)
		}
	}()

	slot, err := b.uniforms.Acquire()
	if err != nil {
		return nil, err
	}
	if err := b.res.writeUniforms(b.ctx, slot, frame.Uniforms); err != nil {
		return nil, err
	}

	if fence := b.imageFence(frame.Image); fence != vulkan.Fence(vulkan.NullHandle) {
		vulkan.WaitForFences(b.ctx.device, 1, []vulkan.Fence{fence}, vulkan.True, vulkan.MaxUint64)
	}

	cb := b.commandBuffers[f]
	vulkan.ResetCommandBuffer(cb, 0)
	if err := b.recordCommandBuffer(cb, frame.Image, slot); err != nil {
		return nil, err
	}

	vulkan.ResetFences(b.ctx.device, 1, []vulkan.Fence{b.inFlightFences[f]})
	b.gens[f]++

	waitStages := []vulkan.PipelineStageFlags{vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit)}
	submitInfo := vulkan.SubmitInfo{
		SType:                vulkan.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vulkan.Semaphore{b.imageAvailable[f]},
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vulkan.CommandBuffer{cb},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vulkan.Semaphore{b.renderFinished[f]},
	}
	if res := vulkan.QueueSubmit(b.ctx.graphicsQueue, 1, []vulkan.SubmitInfo{submitInfo}, b.inFlightFences[f]); res != vulkan.Success {
		return nil, fmt.Errorf("queue submit: %w", vulkan.Error(res))
	}
	submitted = true
	b.pending[f] = true
	sig := &fenceSignal{backend: b, slot: f, gen: b.gens[f]}
	b.uniforms.Bind(slot, sig)
	b.setImageFence(frame.Image, b.inFlightFences[f])
	b.current = (b.current + 1) % maxFramesInFlight

	presentInfo := vulkan.PresentInfo{
		SType:              vulkan.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{b.renderFinished[f]},
		SwapchainCount:     1,
		PSwapchains:        []vulkan.Swapchain{b.surf.swapchain},
		PImageIndices:      []uint32{uint32(frame.Image)},
	}
	res := vulkan.QueuePresent(b.ctx.presentQueue, &presentInfo)
	if res == vulkan.ErrorOutOfDate || res == vulkan.Suboptimal {
		return sig, render.ErrOutOfDate
	}
	if res != vulkan.Success {
		return sig, fmt.Errorf("queue present: %w", vulkan.Error(res))
	}
	return sig, nil
}

// drainAcquireSemaphore consumes a pending acquire signal whose frame never
// reached QueueSubmit, through an empty submission that waits on it. The
// semaphore must be unsignaled again before the slot's next acquire.
func (b *Backend) drainAcquireSemaphore(f int) {
	waitStages := []vulkan.PipelineStageFlags{vulkan.PipelineStageFlags(vulkan.PipelineStageTopOfPipeBit)}
	submitInfo := vulkan.SubmitInfo{
		SType:              vulkan.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{b.imageAvailable[f]},
		PWaitDstStageMask:  waitStages,
	}
	if res := vulkan.QueueSubmit(b.ctx.graphicsQueue, 1, []vulkan.SubmitInfo{submitInfo}, vulkan.Fence(vulkan.NullHandle)); res != vulkan.Success {
		b.log.Warn("drain acquire semaphore", zap.Error(vulkan.Error(res)))
		return
	}
	vulkan.QueueWaitIdle(b.ctx.graphicsQueue)
}

func (b *Backend) imageFence(image int) vulkan.Fence {
	if image < 0 || image >= len(b.imagesInFlight) {
		return vulkan.Fence(vulkan.NullHandle)
	}
	return b.imagesInFlight[image]
}

func (b *Backend) setImageFence(image int, fence vulkan.Fence) {
	if image >= 0 && image < len(b.imagesInFlight) {
		b.imagesInFlight[image] = fence
	}
}

func (b *Backend) recordCommandBuffer(cb vulkan.CommandBuffer, image, slot int) error {
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
	}
	if res := vulkan.BeginCommandBuffer(cb, &beginInfo); res != vulkan.Success {
		return fmt.Errorf("begin command buffer: %w", vulkan.Error(res))
	}

	clearColor := vulkan.NewClearValue([]float32{0.0, 0.0, 1.0, 1.0})
	clearDepth := vulkan.NewClearDepthStencil(1.0, 0)
	clearValues := []vulkan.ClearValue{clearColor, clearDepth}

	renderPassInfo := vulkan.RenderPassBeginInfo{
		SType:       vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:  b.renderPass,
		Framebuffer: b.surf.framebuffers[image],
		RenderArea: vulkan.Rect2D{
			Offset: vulkan.Offset2D{X: 0, Y: 0},
			Extent: b.surf.extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vulkan.CmdBeginRenderPass(cb, &renderPassInfo, vulkan.SubpassContentsInline)
	vulkan.CmdBindPipeline(cb, vulkan.PipelineBindPointGraphics, b.pipe.pipeline)

	vertexBuffers := []vulkan.Buffer{b.res.vertexBuffer, b.res.normalBuffer, b.res.texCoordBuffer, b.res.instanceBuffer}
	offsets := []vulkan.DeviceSize{0, 0, 0, 0}
	vulkan.CmdBindVertexBuffers(cb, 0, uint32(len(vertexBuffers)), vertexBuffers, offsets)
	vulkan.CmdBindIndexBuffer(cb, b.res.indexBuffer, 0, vulkan.IndexTypeUint16)
	sets := []vulkan.DescriptorSet{b.res.uniformSets[slot], b.res.samplerSet}
	vulkan.CmdBindDescriptorSets(cb, vulkan.PipelineBindPointGraphics, b.pipe.layout, 0, uint32(len(sets)), sets, 0, nil)
	vulkan.CmdDrawIndexed(cb, b.res.indexCount, b.res.instanceCount, 0, 0, 0)

	vulkan.CmdEndRenderPass(cb)
	if res := vulkan.EndCommandBuffer(cb); res != vulkan.Success {
		return fmt.Errorf("end command buffer: %w", vulkan.Error(res))
	}
	return nil
}

// Close waits for the device to go idle and releases everything.
func (b *Backend) Close() error {
	if b.ctx == nil {
		return nil
	}
	vulkan.DeviceWaitIdle(b.ctx.device)

	if b.pipe != nil {
		b.pipe.destroy(b.ctx.device)
		b.pipe = nil
	}
	if b.renderPass != vulkan.RenderPass(vulkan.NullHandle) {
		vulkan.DestroyRenderPass(b.ctx.device, b.renderPass, nil)
		b.renderPass = vulkan.RenderPass(vulkan.NullHandle)
	}
	if b.surf != nil {
		b.surf.destroy(b.ctx.device)
		b.surf = nil
	}
	for _, sem := range b.renderFinished {
		vulkan.DestroySemaphore(b.ctx.device, sem, nil)
	}
	b.renderFinished = nil
	for _, sem := range b.imageAvailable {
		vulkan.DestroySemaphore(b.ctx.device, sem, nil)
	}
	b.imageAvailable = nil
	for _, fence := range b.inFlightFences {
		vulkan.DestroyFence(b.ctx.device, fence, nil)
	}
	b.inFlightFences = nil
	if len(b.commandBuffers) > 0 {
		vulkan.FreeCommandBuffers(b.ctx.device, b.ctx.commandPool, uint32(len(b.commandBuffers)), b.commandBuffers)
		b.commandBuffers = nil
	}
	if b.res != nil {
		b.res.destroy(b.ctx.device)
		b.res = nil
	}
	b.ctx.destroy()
	b.ctx = nil
	return nil
}

// fenceSignal tracks one submission through its frame slot's fence. The
// generation guards against slot reuse: once the slot has been waited and
// resubmitted, the original work is necessarily complete.
type fenceSignal struct {
	backend *Backend
	slot    int
	gen     uint64
}

func (s *fenceSignal) Done() bool {
	b := s.backend
	if b.ctx == nil || b.gens[s.slot] != s.gen {
		return true
	}
	return vulkan.GetFenceStatus(b.ctx.device, b.inFlightFences[s.slot]) == vulkan.Success
}
