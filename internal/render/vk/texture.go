package vk

/*
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/mohe2015/blockfield/internal/assets"
)

// texture holds a sampled image uploaded to device-local memory.
type texture struct {
	image   vulkan.Image
	memory  vulkan.DeviceMemory
	view    vulkan.ImageView
	sampler vulkan.Sampler
}

// createTexture stages the pixel data through a host-visible buffer and
// transitions the device-local image into shader-read layout.
func (c *Context) createTexture(tex *assets.Texture) (*texture, error) {
	if err := tex.Validate(); err != nil {
		return nil, err
	}

	imageSize := vulkan.DeviceSize(len(tex.Pixels))
	stageBuf, stageMem, err := c.createBuffer(imageSize, vulkan.BufferUsageFlags(vulkan.BufferUsageTransferSrcBit), vulkan.MemoryPropertyHostVisibleBit|vulkan.MemoryPropertyHostCoherentBit)
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer vulkan.DestroyBuffer(c.device, stageBuf, nil)
	defer vulkan.FreeMemory(c.device, stageMem, nil)

	if err := c.writeMemory(stageMem, tex.Pixels); err != nil {
		return nil, fmt.Errorf("stage texture pixels: %w", err)
	}

	image, memory, err := c.createImage(tex.Width, tex.Height, vulkan.FormatR8g8b8a8Srgb, vulkan.ImageTilingOptimal, vulkan.ImageUsageFlags(vulkan.ImageUsageTransferDstBit|vulkan.ImageUsageSampledBit), vulkan.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return nil, fmt.Errorf("create texture image: %w", err)
	}

	t := &texture{image: image, memory: memory}
	if err := c.transitionImageLayout(image, vulkan.ImageLayoutUndefined, vulkan.ImageLayoutTransferDstOptimal); err != nil {
		t.destroy(c.device)
		return nil, err
	}
	if err := c.copyBufferToImage(stageBuf, image, tex.Width, tex.Height); err != nil {
		t.destroy(c.device)
		return nil, err
	}
	if err := c.transitionImageLayout(image, vulkan.ImageLayoutTransferDstOptimal, vulkan.ImageLayoutShaderReadOnlyOptimal); err != nil {
		t.destroy(c.device)
		return nil, err
	}

	t.view, err = c.createImageView(image, vulkan.FormatR8g8b8a8Srgb, vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit))
	if err != nil {
		t.destroy(c.device)
		return nil, err
	}
	t.sampler, err = c.createSampler()
	if err != nil {
		t.destroy(c.device)
		return nil, err
	}
	return t, nil
}

func (c *Context) createSampler() (vulkan.Sampler, error) {
	samplerInfo := vulkan.SamplerCreateInfo{
		SType:                   vulkan.StructureTypeSamplerCreateInfo,
		MagFilter:               vulkan.FilterLinear,
		MinFilter:               vulkan.FilterLinear,
		AddressModeU:            vulkan.SamplerAddressModeRepeat,
		AddressModeV:            vulkan.SamplerAddressModeRepeat,
		AddressModeW:            vulkan.SamplerAddressModeRepeat,
		AnisotropyEnable:        vulkan.False,
		MaxAnisotropy:           1.0,
		BorderColor:             vulkan.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vulkan.False,
		CompareEnable:           vulkan.False,
		CompareOp:               vulkan.CompareOpAlways,
		MipmapMode:              vulkan.SamplerMipmapModeLinear,
		MipLodBias:              0,
		MinLod:                  0,
		MaxLod:                  0,
	}
	// CreateSampler writes through the out pointer from C; the handle has to
	// live in C memory or the cgo pointer check trips.
	var zero vulkan.Sampler
	samplerOut := (*vulkan.Sampler)(C.malloc(C.size_t(unsafe.Sizeof(zero))))
	if samplerOut == nil {
		return vulkan.Sampler(vulkan.NullHandle), errors.New("allocate sampler handle")
	}
	defer C.free(unsafe.Pointer(samplerOut))

	if res := vulkan.CreateSampler(c.device, &samplerInfo, nil, samplerOut); res != vulkan.Success {
		return vulkan.Sampler(vulkan.NullHandle), fmt.Errorf("create sampler: %w", vulkan.Error(res))
	}
	return *samplerOut, nil
}

func (t *texture) destroy(device vulkan.Device) {
	if t.sampler != vulkan.Sampler(vulkan.NullHandle) {
		vulkan.DestroySampler(device, t.sampler, nil)
	}
	if t.view != vulkan.ImageView(vulkan.NullHandle) {
		vulkan.DestroyImageView(device, t.view, nil)
	}
	if t.image != vulkan.Image(vulkan.NullHandle) {
		vulkan.DestroyImage(device, t.image, nil)
	}
	if t.memory != vulkan.DeviceMemory(vulkan.NullHandle) {
		vulkan.FreeMemory(device, t.memory, nil)
	}
}

func (c *Context) transitionImageLayout(image vulkan.Image, oldLayout, newLayout vulkan.ImageLayout) error {
	barrier := vulkan.ImageMemoryBarrier{
		SType:               vulkan.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		DstQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask:     vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var srcStage, dstStage vulkan.PipelineStageFlags
	switch {
	case oldLayout == vulkan.ImageLayoutUndefined && newLayout == vulkan.ImageLayoutTransferDstOptimal:
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vulkan.AccessFlags(vulkan.AccessTransferWriteBit)
		srcStage = vulkan.PipelineStageFlags(vulkan.PipelineStageTopOfPipeBit)
		dstStage = vulkan.PipelineStageFlags(vulkan.PipelineStageTransferBit)
	case oldLayout == vulkan.ImageLayoutTransferDstOptimal && newLayout == vulkan.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vulkan.AccessFlags(vulkan.AccessTransferWriteBit)
		barrier.DstAccessMask = vulkan.AccessFlags(vulkan.AccessShaderReadBit)
		srcStage = vulkan.PipelineStageFlags(vulkan.PipelineStageTransferBit)
		dstStage = vulkan.PipelineStageFlags(vulkan.PipelineStageFragmentShaderBit)
	default:
		return fmt.Errorf("unsupported layout transition %d -> %d", oldLayout, newLayout)
	}

	return c.withSingleTimeCommands(func(cmd vulkan.CommandBuffer) {
		vulkan.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vulkan.ImageMemoryBarrier{barrier})
	})
}

func (c *Context) copyBufferToImage(buffer vulkan.Buffer, image vulkan.Image, width, height uint32) error {
	region := vulkan.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vulkan.ImageSubresourceLayers{
			AspectMask:     vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vulkan.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vulkan.Extent3D{Width: width, Height: height, Depth: 1},
	}
	return c.withSingleTimeCommands(func(cmd vulkan.CommandBuffer) {
		vulkan.CmdCopyBufferToImage(cmd, buffer, image, vulkan.ImageLayoutTransferDstOptimal, 1, []vulkan.BufferImageCopy{region})
	})
}

// withSingleTimeCommands records fn into a throwaway command buffer and blocks
// until the queue has drained it.
func (c *Context) withSingleTimeCommands(fn func(vulkan.CommandBuffer)) error {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandPool:        c.commandPool,
		CommandBufferCount: 1,
	}
	cmdBufs := make([]vulkan.CommandBuffer, 1)
	if res := vulkan.AllocateCommandBuffers(c.device, &allocInfo, cmdBufs); res != vulkan.Success {
		return fmt.Errorf("allocate single-time command buffer: %w", vulkan.Error(res))
	}
	defer vulkan.FreeCommandBuffers(c.device, c.commandPool, 1, cmdBufs)

	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vulkan.BeginCommandBuffer(cmdBufs[0], &beginInfo); res != vulkan.Success {
		return fmt.Errorf("begin single-time command buffer: %w", vulkan.Error(res))
	}
	fn(cmdBufs[0])
	if res := vulkan.EndCommandBuffer(cmdBufs[0]); res != vulkan.Success {
		return fmt.Errorf("end single-time command buffer: %w", vulkan.Error(res))
	}

	submitInfo := []vulkan.SubmitInfo{{
		SType:              vulkan.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cmdBufs,
	}}
	if res := vulkan.QueueSubmit(c.graphicsQueue, 1, submitInfo, vulkan.Fence(vulkan.NullHandle)); res != vulkan.Success {
		return fmt.Errorf("submit single-time command buffer: %w", vulkan.Error(res))
	}
	if res := vulkan.QueueWaitIdle(c.graphicsQueue); res != vulkan.Success {
		return fmt.Errorf("wait single-time command buffer: %w", vulkan.Error(res))
	}
	return nil
}
