package vk

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/mohe2015/blockfield/internal/geometry"
)

// pipeline is the graphics pipeline with its viewport fixed to one extent.
// It is rebuilt together with the surface.
type pipeline struct {
	layout   vulkan.PipelineLayout
	pipeline vulkan.Pipeline
}

// newPipeline loads the SPIR-V modules from disk and builds the instanced
// cube pipeline against the given render pass and descriptor set layouts.
func newPipeline(c *Context, vertPath, fragPath string, extent vulkan.Extent2D, renderPass vulkan.RenderPass, setLayouts []vulkan.DescriptorSetLayout) (*pipeline, error) {
	vertCode, err := os.ReadFile(vertPath)
	if err != nil {
		return nil, fmt.Errorf("read vertex shader: %w", err)
	}
	fragCode, err := os.ReadFile(fragPath)
	if err != nil {
		return nil, fmt.Errorf("read fragment shader: %w", err)
	}

	vertModule, err := c.createShaderModule(vertCode)
	if err != nil {
		return nil, err
	}
	defer vulkan.DestroyShaderModule(c.device, vertModule, nil)
	fragModule, err := c.createShaderModule(fragCode)
	if err != nil {
		return nil, err
	}
	defer vulkan.DestroyShaderModule(c.device, fragModule, nil)

	mainName := "main\x00"
	shaderStages := []vulkan.PipelineShaderStageCreateInfo{
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageVertexBit,
			Module: vertModule,
			PName:  mainName,
		},
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  mainName,
		},
	}

	// Bindings 0-2 step per vertex, binding 3 steps per instance.
	bindingDescriptions := []vulkan.VertexInputBindingDescription{
		{Binding: 0, Stride: uint32(unsafe.Sizeof(geometry.Vertex{})), InputRate: vulkan.VertexInputRateVertex},
		{Binding: 1, Stride: uint32(unsafe.Sizeof(geometry.Normal{})), InputRate: vulkan.VertexInputRateVertex},
		{Binding: 2, Stride: uint32(unsafe.Sizeof(geometry.TexCoord{})), InputRate: vulkan.VertexInputRateVertex},
		{Binding: 3, Stride: uint32(unsafe.Sizeof(geometry.InstanceOffset{})), InputRate: vulkan.VertexInputRateInstance},
	}
	attributeDescriptions := []vulkan.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vulkan.FormatR32g32b32Sfloat, Offset: 0},
		{Location: 1, Binding: 1, Format: vulkan.FormatR32g32b32Sfloat, Offset: 0},
		{Location: 2, Binding: 2, Format: vulkan.FormatR32g32Sfloat, Offset: 0},
		{Location: 3, Binding: 3, Format: vulkan.FormatR32g32b32Sfloat, Offset: 0},
	}

	vertexInput := vulkan.PipelineVertexInputStateCreateInfo{
		SType:                           vulkan.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindingDescriptions)),
		PVertexBindingDescriptions:      bindingDescriptions,
		VertexAttributeDescriptionCount: uint32(len(attributeDescriptions)),
		PVertexAttributeDescriptions:    attributeDescriptions,
	}

	inputAssembly := vulkan.PipelineInputAssemblyStateCreateInfo{
		SType:                  vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vulkan.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vulkan.False,
	}

	viewport := vulkan.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vulkan.Rect2D{
		Offset: vulkan.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}
	viewportState := vulkan.PipelineViewportStateCreateInfo{
		SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vulkan.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vulkan.Rect2D{scissor},
	}

	// The mesh winds counter-clockwise seen from outside, and the projection
	// follows GL clip conventions whose y flip reverses winding in the Vulkan
	// framebuffer: outward-facing triangles arrive clockwise.
	rasterizer := vulkan.PipelineRasterizationStateCreateInfo{
		SType:                   vulkan.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vulkan.False,
		RasterizerDiscardEnable: vulkan.False,
		PolygonMode:             vulkan.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vulkan.CullModeFlags(vulkan.CullModeBackBit),
		FrontFace:               vulkan.FrontFaceClockwise,
		DepthBiasEnable:         vulkan.False,
	}

	multisampling := vulkan.PipelineMultisampleStateCreateInfo{
		SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vulkan.SampleCount1Bit,
	}

	depthStencil := vulkan.PipelineDepthStencilStateCreateInfo{
		SType:                 vulkan.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vulkan.True,
		DepthWriteEnable:      vulkan.True,
		DepthCompareOp:        vulkan.CompareOpLess,
		DepthBoundsTestEnable: vulkan.False,
		StencilTestEnable:     vulkan.False,
	}

	colorBlendAttachment := vulkan.PipelineColorBlendAttachmentState{
		ColorWriteMask: vulkan.ColorComponentFlags(vulkan.ColorComponentRBit | vulkan.ColorComponentGBit | vulkan.ColorComponentBBit | vulkan.ColorComponentABit),
		BlendEnable:    vulkan.False,
	}
	colorBlending := vulkan.PipelineColorBlendStateCreateInfo{
		SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	p := &pipeline{}
	pipelineLayoutInfo := vulkan.PipelineLayoutCreateInfo{
		SType:                  vulkan.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: 0,
	}
	if res := vulkan.CreatePipelineLayout(c.device, &pipelineLayoutInfo, nil, &p.layout); res != vulkan.Success {
		return nil, fmt.Errorf("create pipeline layout: %w", vulkan.Error(res))
	}

	pipelineInfo := vulkan.GraphicsPipelineCreateInfo{
		SType:               vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlending,
		Layout:              p.layout,
		RenderPass:          renderPass,
		Subpass:             0,
	}

	pipelines := make([]vulkan.Pipeline, 1)
	if res := vulkan.CreateGraphicsPipelines(c.device, vulkan.PipelineCache(vulkan.NullHandle), 1, []vulkan.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vulkan.Success {
		vulkan.DestroyPipelineLayout(c.device, p.layout, nil)
		return nil, fmt.Errorf("create graphics pipeline: %w", vulkan.Error(res))
	}
	p.pipeline = pipelines[0]
	return p, nil
}

func (p *pipeline) destroy(device vulkan.Device) {
	if p.pipeline != vulkan.Pipeline(vulkan.NullHandle) {
		vulkan.DestroyPipeline(device, p.pipeline, nil)
		p.pipeline = vulkan.Pipeline(vulkan.NullHandle)
	}
	if p.layout != vulkan.PipelineLayout(vulkan.NullHandle) {
		vulkan.DestroyPipelineLayout(device, p.layout, nil)
		p.layout = vulkan.PipelineLayout(vulkan.NullHandle)
	}
}

func (c *Context) createShaderModule(code []byte) (vulkan.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return vulkan.ShaderModule(vulkan.NullHandle), fmt.Errorf("shader code length %d is not a multiple of 4", len(code))
	}
	codeAligned := unsafe.Slice((*uint32)(unsafe.Pointer(&code[0])), len(code)/4)
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    codeAligned,
	}
	var module vulkan.ShaderModule
	if res := vulkan.CreateShaderModule(c.device, &createInfo, nil, &module); res != vulkan.Success {
		return vulkan.ShaderModule(vulkan.NullHandle), fmt.Errorf("create shader module: %w", vulkan.Error(res))
	}
	return module, nil
}
