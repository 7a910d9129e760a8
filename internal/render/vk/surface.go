package vk

import (
	"errors"
	"fmt"
	"math"

	"github.com/vulkan-go/vulkan"

	"github.com/mohe2015/blockfield/internal/render"
)

// surface is everything torn down and rebuilt when the window changes size:
// the swapchain with its image views, the depth attachment and one
// framebuffer per swapchain image.
type surface struct {
	swapchain vulkan.Swapchain
	images    []vulkan.Image
	views     []vulkan.ImageView
	format    vulkan.Format
	extent    vulkan.Extent2D

	depthFormat vulkan.Format
	depthImage  vulkan.Image
	depthMemory vulkan.DeviceMemory
	depthView   vulkan.ImageView

	framebuffers []vulkan.Framebuffer
}

func chooseSwapSurfaceFormat(available []vulkan.SurfaceFormat) vulkan.SurfaceFormat {
	for _, f := range available {
		if f.Format == vulkan.FormatB8g8r8a8Srgb && f.ColorSpace == vulkan.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return available[0]
}

// chooseSwapPresentMode prefers mailbox unless vsync asks for the blocking
// fifo mode, which every implementation is required to support.
func chooseSwapPresentMode(available []vulkan.PresentMode, vsync bool) vulkan.PresentMode {
	if vsync {
		return vulkan.PresentModeFifo
	}
	for _, m := range available {
		if m == vulkan.PresentModeMailbox {
			return m
		}
	}
	return vulkan.PresentModeFifo
}

// chooseSwapExtent resolves the extent the swapchain will actually use.
// Returns render.ErrExtentUnsupported when the requested size falls outside
// the range the surface reports, so the caller can retry on a later frame.
func chooseSwapExtent(caps vulkan.SurfaceCapabilities, want render.Extent) (vulkan.Extent2D, error) {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent, nil
	}
	min, max := caps.MinImageExtent, caps.MaxImageExtent
	if want.Width < min.Width || want.Height < min.Height ||
		(max.Width > 0 && want.Width > max.Width) ||
		(max.Height > 0 && want.Height > max.Height) {
		return vulkan.Extent2D{}, fmt.Errorf("%dx%d outside [%dx%d, %dx%d]: %w",
			want.Width, want.Height, min.Width, min.Height, max.Width, max.Height,
			render.ErrExtentUnsupported)
	}
	return vulkan.Extent2D{Width: want.Width, Height: want.Height}, nil
}

// newSurface builds the swapchain, its views and the depth attachment. The
// framebuffers are attached separately once a render pass exists.
func newSurface(c *Context, want render.Extent, vsync bool) (*surface, error) {
	support := c.querySurfaceSupport(c.physicalDevice)
	if len(support.formats) == 0 || len(support.presentModes) == 0 {
		return nil, errors.New("surface reports no formats or present modes")
	}

	surfaceFormat := chooseSwapSurfaceFormat(support.formats)
	presentMode := chooseSwapPresentMode(support.presentModes, vsync)
	extent, err := chooseSwapExtent(support.capabilities, want)
	if err != nil {
		return nil, err
	}

	imageCount := support.capabilities.MinImageCount + 1
	if support.capabilities.MaxImageCount > 0 && imageCount > support.capabilities.MaxImageCount {
		imageCount = support.capabilities.MaxImageCount
	}

	createInfo := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          c.surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		PreTransform:     support.capabilities.CurrentTransform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vulkan.True,
		OldSwapchain:     vulkan.Swapchain(vulkan.NullHandle),
	}
	if c.families.graphics != c.families.present {
		indices := []uint32{c.families.graphics, c.families.present}
		createInfo.ImageSharingMode = vulkan.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = uint32(len(indices))
		createInfo.PQueueFamilyIndices = indices
	} else {
		createInfo.ImageSharingMode = vulkan.SharingModeExclusive
	}

	s := &surface{format: surfaceFormat.Format, extent: extent}
	if res := vulkan.CreateSwapchain(c.device, &createInfo, nil, &s.swapchain); res != vulkan.Success {
		return nil, fmt.Errorf("create swapchain: %w", vulkan.Error(res))
	}

	var count uint32
	vulkan.GetSwapchainImages(c.device, s.swapchain, &count, nil)
	s.images = make([]vulkan.Image, count)
	vulkan.GetSwapchainImages(c.device, s.swapchain, &count, s.images)

	s.views = make([]vulkan.ImageView, len(s.images))
	for i, img := range s.images {
		view, err := c.createImageView(img, s.format, vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit))
		if err != nil {
			s.destroy(c.device)
			return nil, fmt.Errorf("create swapchain view %d: %w", i, err)
		}
		s.views[i] = view
	}

	if err := s.createDepthResources(c); err != nil {
		s.destroy(c.device)
		return nil, err
	}
	return s, nil
}

func (s *surface) createDepthResources(c *Context) error {
	depthFormat, err := c.findDepthFormat()
	if err != nil {
		return err
	}
	s.depthFormat = depthFormat
	image, memory, err := c.createImage(s.extent.Width, s.extent.Height, depthFormat, vulkan.ImageTilingOptimal, vulkan.ImageUsageFlags(vulkan.ImageUsageDepthStencilAttachmentBit), vulkan.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return fmt.Errorf("create depth image: %w", err)
	}
	view, err := c.createImageView(image, depthFormat, vulkan.ImageAspectFlags(vulkan.ImageAspectDepthBit))
	if err != nil {
		vulkan.DestroyImage(c.device, image, nil)
		vulkan.FreeMemory(c.device, memory, nil)
		return fmt.Errorf("create depth image view: %w", err)
	}
	s.depthImage = image
	s.depthMemory = memory
	s.depthView = view
	return nil
}

func (c *Context) findDepthFormat() (vulkan.Format, error) {
	candidates := []vulkan.Format{
		vulkan.FormatD32Sfloat,
		vulkan.FormatD32SfloatS8Uint,
		vulkan.FormatD24UnormS8Uint,
	}
	for _, format := range candidates {
		var props vulkan.FormatProperties
		vulkan.GetPhysicalDeviceFormatProperties(c.physicalDevice, format, &props)
		props.Deref()
		if props.OptimalTilingFeatures&vulkan.FormatFeatureFlags(vulkan.FormatFeatureDepthStencilAttachmentBit) != 0 {
			return format, nil
		}
	}
	return 0, errors.New("no supported depth format")
}

func (s *surface) createFramebuffers(c *Context, renderPass vulkan.RenderPass) error {
	s.framebuffers = make([]vulkan.Framebuffer, len(s.views))
	for i := range s.views {
		attachments := []vulkan.ImageView{s.views[i], s.depthView}
		createInfo := vulkan.FramebufferCreateInfo{
			SType:           vulkan.StructureTypeFramebufferCreateInfo,
			RenderPass:      renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}
		if res := vulkan.CreateFramebuffer(c.device, &createInfo, nil, &s.framebuffers[i]); res != vulkan.Success {
			return fmt.Errorf("create framebuffer %d: %w", i, vulkan.Error(res))
		}
	}
	return nil
}

func (s *surface) destroy(device vulkan.Device) {
	for _, fb := range s.framebuffers {
		vulkan.DestroyFramebuffer(device, fb, nil)
	}
	s.framebuffers = nil
	if s.depthView != vulkan.ImageView(vulkan.NullHandle) {
		vulkan.DestroyImageView(device, s.depthView, nil)
		s.depthView = vulkan.ImageView(vulkan.NullHandle)
	}
	if s.depthImage != vulkan.Image(vulkan.NullHandle) {
		vulkan.DestroyImage(device, s.depthImage, nil)
		s.depthImage = vulkan.Image(vulkan.NullHandle)
	}
	if s.depthMemory != vulkan.DeviceMemory(vulkan.NullHandle) {
		vulkan.FreeMemory(device, s.depthMemory, nil)
		s.depthMemory = vulkan.DeviceMemory(vulkan.NullHandle)
	}
	for _, view := range s.views {
		vulkan.DestroyImageView(device, view, nil)
	}
	s.views = nil
	if s.swapchain != vulkan.Swapchain(vulkan.NullHandle) {
		vulkan.DestroySwapchain(device, s.swapchain, nil)
		s.swapchain = vulkan.Swapchain(vulkan.NullHandle)
	}
}

// createRenderPass builds the single color+depth pass. Formats are stable
// across surface rebuilds, so the pass is built once and reused.
func (c *Context) createRenderPass(colorFormat, depthFormat vulkan.Format) (vulkan.RenderPass, error) {
	colorAttachment := vulkan.AttachmentDescription{
		Format:         colorFormat,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpStore,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutPresentSrc,
	}
	depthAttachment := vulkan.AttachmentDescription{
		Format:         depthFormat,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpDontCare,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutDepthStencilAttachmentOptimal,
	}

	colorRef := vulkan.AttachmentReference{
		Attachment: 0,
		Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
	}
	depthRef := vulkan.AttachmentReference{
		Attachment: 1,
		Layout:     vulkan.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:       vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vulkan.AttachmentReference{colorRef},
		PDepthStencilAttachment: &depthRef,
	}
	dependency := vulkan.SubpassDependency{
		SrcSubpass:    vulkan.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit | vulkan.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit | vulkan.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit | vulkan.AccessDepthStencilAttachmentWriteBit),
	}

	attachments := []vulkan.AttachmentDescription{colorAttachment, depthAttachment}
	createInfo := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vulkan.SubpassDependency{dependency},
	}

	var renderPass vulkan.RenderPass
	if res := vulkan.CreateRenderPass(c.device, &createInfo, nil, &renderPass); res != vulkan.Success {
		return vulkan.RenderPass(vulkan.NullHandle), fmt.Errorf("create render pass: %w", vulkan.Error(res))
	}
	return renderPass, nil
}
