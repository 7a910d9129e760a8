package vk

import (
	"fmt"
	"unsafe"

	"github.com/vulkan-go/vulkan"

	"github.com/mohe2015/blockfield/internal/assets"
	"github.com/mohe2015/blockfield/internal/geometry"
	"github.com/mohe2015/blockfield/internal/render"
)

// resourceSet is everything GPU-resident that survives surface rebuilds: the
// mesh streams, the instance offsets, the sampled texture, the uniform slot
// ring and the descriptor machinery tying them to the shaders.
type resourceSet struct {
	vertexBuffer   vulkan.Buffer
	vertexMemory   vulkan.DeviceMemory
	normalBuffer   vulkan.Buffer
	normalMemory   vulkan.DeviceMemory
	texCoordBuffer vulkan.Buffer
	texCoordMemory vulkan.DeviceMemory
	instanceBuffer vulkan.Buffer
	instanceMemory vulkan.DeviceMemory
	indexBuffer    vulkan.Buffer
	indexMemory    vulkan.DeviceMemory

	indexCount    uint32
	instanceCount uint32

	tex *texture

	uniformLayout  vulkan.DescriptorSetLayout
	samplerLayout  vulkan.DescriptorSetLayout
	descriptorPool vulkan.DescriptorPool

	uniformBuffers []vulkan.Buffer
	uniformMemory  []vulkan.DeviceMemory
	uniformSets    []vulkan.DescriptorSet
	samplerSet     vulkan.DescriptorSet
}

func newResourceSet(c *Context, mesh geometry.Mesh, instances []geometry.InstanceOffset, tex *assets.Texture, uniformSlots int) (*resourceSet, error) {
	r := &resourceSet{
		indexCount:    uint32(len(mesh.Indices)),
		instanceCount: uint32(len(instances)),
	}

	var err error
	if r.vertexBuffer, r.vertexMemory, err = c.uploadBuffer(asBytes(mesh.Vertices), vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit)); err != nil {
		r.destroy(c.device)
		return nil, fmt.Errorf("create vertex buffer: %w", err)
	}
	if r.normalBuffer, r.normalMemory, err = c.uploadBuffer(asBytes(mesh.Normals), vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit)); err != nil {
		r.destroy(c.device)
		return nil, fmt.Errorf("create normal buffer: %w", err)
	}
	if r.texCoordBuffer, r.texCoordMemory, err = c.uploadBuffer(asBytes(mesh.TexCoords), vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit)); err != nil {
		r.destroy(c.device)
		return nil, fmt.Errorf("create texcoord buffer: %w", err)
	}
	if r.instanceBuffer, r.instanceMemory, err = c.uploadBuffer(asBytes(instances), vulkan.BufferUsageFlags(vulkan.BufferUsageVertexBufferBit)); err != nil {
		r.destroy(c.device)
		return nil, fmt.Errorf("create instance buffer: %w", err)
	}
	if r.indexBuffer, r.indexMemory, err = c.uploadBuffer(asBytes(mesh.Indices), vulkan.BufferUsageFlags(vulkan.BufferUsageIndexBufferBit)); err != nil {
		r.destroy(c.device)
		return nil, fmt.Errorf("create index buffer: %w", err)
	}

	if r.tex, err = c.createTexture(tex); err != nil {
		r.destroy(c.device)
		return nil, err
	}

	if err := r.createDescriptorSetLayouts(c); err != nil {
		r.destroy(c.device)
		return nil, err
	}
	if err := r.createUniformSlots(c, uniformSlots); err != nil {
		r.destroy(c.device)
		return nil, err
	}
	if err := r.createDescriptorSets(c, uniformSlots); err != nil {
		r.destroy(c.device)
		return nil, err
	}
	return r, nil
}

func (r *resourceSet) createDescriptorSetLayouts(c *Context) error {
	uniformBinding := vulkan.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vulkan.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageVertexBit),
	}
	uniformInfo := vulkan.DescriptorSetLayoutCreateInfo{
		SType:        vulkan.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vulkan.DescriptorSetLayoutBinding{uniformBinding},
	}
	if res := vulkan.CreateDescriptorSetLayout(c.device, &uniformInfo, nil, &r.uniformLayout); res != vulkan.Success {
		return fmt.Errorf("create uniform descriptor set layout: %w", vulkan.Error(res))
	}

	samplerBinding := vulkan.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageFragmentBit),
	}
	samplerInfo := vulkan.DescriptorSetLayoutCreateInfo{
		SType:        vulkan.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vulkan.DescriptorSetLayoutBinding{samplerBinding},
	}
	if res := vulkan.CreateDescriptorSetLayout(c.device, &samplerInfo, nil, &r.samplerLayout); res != vulkan.Success {
		return fmt.Errorf("create sampler descriptor set layout: %w", vulkan.Error(res))
	}
	return nil
}

func (r *resourceSet) createUniformSlots(c *Context, slots int) error {
	bufferSize := vulkan.DeviceSize(unsafe.Sizeof(render.FrameUniforms{}))
	r.uniformBuffers = make([]vulkan.Buffer, slots)
	r.uniformMemory = make([]vulkan.DeviceMemory, slots)
	for i := 0; i < slots; i++ {
		buf, mem, err := c.createBuffer(bufferSize, vulkan.BufferUsageFlags(vulkan.BufferUsageUniformBufferBit), vulkan.MemoryPropertyHostVisibleBit|vulkan.MemoryPropertyHostCoherentBit)
		if err != nil {
			return fmt.Errorf("create uniform buffer %d: %w", i, err)
		}
		r.uniformBuffers[i] = buf
		r.uniformMemory[i] = mem
	}
	return nil
}

func (r *resourceSet) createDescriptorSets(c *Context, slots int) error {
	poolSizes := []vulkan.DescriptorPoolSize{
		{Type: vulkan.DescriptorTypeUniformBuffer, DescriptorCount: uint32(slots)},
		{Type: vulkan.DescriptorTypeCombinedImageSampler, DescriptorCount: 1},
	}
	poolInfo := vulkan.DescriptorPoolCreateInfo{
		SType:         vulkan.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(slots) + 1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vulkan.CreateDescriptorPool(c.device, &poolInfo, nil, &r.descriptorPool); res != vulkan.Success {
		return fmt.Errorf("create descriptor pool: %w", vulkan.Error(res))
	}

	layouts := make([]vulkan.DescriptorSetLayout, slots)
	for i := range layouts {
		layouts[i] = r.uniformLayout
	}
	allocInfo := vulkan.DescriptorSetAllocateInfo{
		SType:              vulkan.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     r.descriptorPool,
		DescriptorSetCount: uint32(slots),
		PSetLayouts:        layouts,
	}
	r.uniformSets = make([]vulkan.DescriptorSet, slots)
	if res := vulkan.AllocateDescriptorSets(c.device, &allocInfo, &r.uniformSets[0]); res != vulkan.Success {
		return fmt.Errorf("allocate uniform descriptor sets: %w", vulkan.Error(res))
	}

	for i := range r.uniformSets {
		bufferInfo := vulkan.DescriptorBufferInfo{
			Buffer: r.uniformBuffers[i],
			Offset: 0,
			Range:  vulkan.DeviceSize(unsafe.Sizeof(render.FrameUniforms{})),
		}
		write := vulkan.WriteDescriptorSet{
			SType:           vulkan.StructureTypeWriteDescriptorSet,
			DstSet:          r.uniformSets[i],
			DstBinding:      0,
			DstArrayElement: 0,
			DescriptorType:  vulkan.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			PBufferInfo:     []vulkan.DescriptorBufferInfo{bufferInfo},
		}
		vulkan.UpdateDescriptorSets(c.device, 1, []vulkan.WriteDescriptorSet{write}, 0, nil)
	}

	samplerAlloc := vulkan.DescriptorSetAllocateInfo{
		SType:              vulkan.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     r.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vulkan.DescriptorSetLayout{r.samplerLayout},
	}
	if res := vulkan.AllocateDescriptorSets(c.device, &samplerAlloc, &r.samplerSet); res != vulkan.Success {
		return fmt.Errorf("allocate sampler descriptor set: %w", vulkan.Error(res))
	}
	imageInfo := vulkan.DescriptorImageInfo{
		Sampler:     r.tex.sampler,
		ImageView:   r.tex.view,
		ImageLayout: vulkan.ImageLayoutShaderReadOnlyOptimal,
	}
	samplerWrite := vulkan.WriteDescriptorSet{
		SType:           vulkan.StructureTypeWriteDescriptorSet,
		DstSet:          r.samplerSet,
		DstBinding:      0,
		DstArrayElement: 0,
		DescriptorType:  vulkan.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo:      []vulkan.DescriptorImageInfo{imageInfo},
	}
	vulkan.UpdateDescriptorSets(c.device, 1, []vulkan.WriteDescriptorSet{samplerWrite}, 0, nil)
	return nil
}

// writeUniforms copies one transform record into the slot's host-visible
// buffer. The caller guarantees the slot is not in flight.
func (r *resourceSet) writeUniforms(c *Context, slot int, u render.FrameUniforms) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(&u)), unsafe.Sizeof(u))
	if err := c.writeMemory(r.uniformMemory[slot], data); err != nil {
		return fmt.Errorf("write uniform slot %d: %w", slot, err)
	}
	return nil
}

func (r *resourceSet) destroy(device vulkan.Device) {
	if r.descriptorPool != vulkan.DescriptorPool(vulkan.NullHandle) {
		vulkan.DestroyDescriptorPool(device, r.descriptorPool, nil)
	}
	if r.samplerLayout != vulkan.DescriptorSetLayout(vulkan.NullHandle) {
		vulkan.DestroyDescriptorSetLayout(device, r.samplerLayout, nil)
	}
	if r.uniformLayout != vulkan.DescriptorSetLayout(vulkan.NullHandle) {
		vulkan.DestroyDescriptorSetLayout(device, r.uniformLayout, nil)
	}
	for i := range r.uniformBuffers {
		if r.uniformBuffers[i] != vulkan.Buffer(vulkan.NullHandle) {
			vulkan.DestroyBuffer(device, r.uniformBuffers[i], nil)
		}
		if r.uniformMemory[i] != vulkan.DeviceMemory(vulkan.NullHandle) {
			vulkan.FreeMemory(device, r.uniformMemory[i], nil)
		}
	}
	if r.tex != nil {
		r.tex.destroy(device)
	}
	buffers := []vulkan.Buffer{r.vertexBuffer, r.normalBuffer, r.texCoordBuffer, r.instanceBuffer, r.indexBuffer}
	memories := []vulkan.DeviceMemory{r.vertexMemory, r.normalMemory, r.texCoordMemory, r.instanceMemory, r.indexMemory}
	for i := range buffers {
		if buffers[i] != vulkan.Buffer(vulkan.NullHandle) {
			vulkan.DestroyBuffer(device, buffers[i], nil)
		}
		if memories[i] != vulkan.DeviceMemory(vulkan.NullHandle) {
			vulkan.FreeMemory(device, memories[i], nil)
		}
	}
}
