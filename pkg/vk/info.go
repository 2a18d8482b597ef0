package vk

// CommandBufferAllocateInfo carries the pool command buffers are allocated from
type CommandBufferAllocateInfo struct {
	CommandPool        Handle
	Level              uint32
	CommandBufferCount uint32
}

// ImageViewCreateInfo names the image a view is created on
type ImageViewCreateInfo struct {
	Image    Handle
	ViewType uint32
	Format   uint32
}

// PipelineShaderStageCreateInfo names the shader module of one pipeline stage
type PipelineShaderStageCreateInfo struct {
	Stage  uint32
	Module Handle
	Name   string
}

// GraphicsPipelineCreateInfo describes one pipeline of a CreateGraphicsPipelines batch
type GraphicsPipelineCreateInfo struct {
	Stages     []PipelineShaderStageCreateInfo
	Layout     Handle
	RenderPass Handle
	Subpass    uint32
}

// GraphicsPipelinesCreateInfo is the batch passed to CreateGraphicsPipelines,
// one entry per created pipeline
type GraphicsPipelinesCreateInfo struct {
	PipelineCache Handle
	CreateInfos   []GraphicsPipelineCreateInfo
}

// FramebufferCreateInfo names the render pass and attachments of a framebuffer
type FramebufferCreateInfo struct {
	RenderPass  Handle
	Attachments []Handle
	Width       uint32
	Height      uint32
	Layers      uint32
}
