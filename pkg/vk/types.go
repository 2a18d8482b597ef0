package vk

import "fmt"

// Handle is an opaque, process-unique identifier for a live API object
type Handle uint64

// NullHandle is the value a failed creation leaves in its output slot
const NullHandle Handle = 0

// String returns the handle in the hex form drivers print
func (h Handle) String() string {
	return fmt.Sprintf("0x%x", uint64(h))
}

// IsNull reports whether the handle is the null handle
func (h Handle) IsNull() bool {
	return h == NullHandle
}

// ObjectType tags the kind of object a handle names
type ObjectType uint32

const (
	UnknownType ObjectType = iota
	Instance
	PhysicalDevice
	Device
	Queue
	CommandPool
	CommandBuffer
	DeviceMemory
	Buffer
	BufferView
	Image
	ImageView
	ShaderModule
	PipelineCache
	PipelineLayout
	Pipeline
	RenderPass
	Framebuffer
	DescriptorSetLayout
	DescriptorPool
	DescriptorSet
	Sampler
	Fence
	Semaphore
	Event
	QueryPool
	SurfaceKHR
	SwapchainKHR

	objectTypeCount
)

var objectTypeNames = [...]string{
	UnknownType:         "Unknown",
	Instance:            "VkInstance",
	PhysicalDevice:      "VkPhysicalDevice",
	Device:              "VkDevice",
	Queue:               "VkQueue",
	CommandPool:         "VkCommandPool",
	CommandBuffer:       "VkCommandBuffer",
	DeviceMemory:        "VkDeviceMemory",
	Buffer:              "VkBuffer",
	BufferView:          "VkBufferView",
	Image:               "VkImage",
	ImageView:           "VkImageView",
	ShaderModule:        "VkShaderModule",
	PipelineCache:       "VkPipelineCache",
	PipelineLayout:      "VkPipelineLayout",
	Pipeline:            "VkPipeline",
	RenderPass:          "VkRenderPass",
	Framebuffer:         "VkFramebuffer",
	DescriptorSetLayout: "VkDescriptorSetLayout",
	DescriptorPool:      "VkDescriptorPool",
	DescriptorSet:       "VkDescriptorSet",
	Sampler:             "VkSampler",
	Fence:               "VkFence",
	Semaphore:           "VkSemaphore",
	Event:               "VkEvent",
	QueryPool:           "VkQueryPool",
	SurfaceKHR:          "VkSurfaceKHR",
	SwapchainKHR:        "VkSwapchainKHR",
}

// String returns the API name of the object type
func (t ObjectType) String() string {
	if t < objectTypeCount {
		return objectTypeNames[t]
	}
	return fmt.Sprintf("ObjectType(%d)", uint32(t))
}

// Valid reports whether t is a known object type
func (t ObjectType) Valid() bool {
	return t > UnknownType && t < objectTypeCount
}

// Dispatchable reports whether objects of this type carry a dispatch table
func (t ObjectType) Dispatchable() bool {
	switch t {
	case Instance, PhysicalDevice, Device, Queue, CommandBuffer:
		return true
	default:
		return false
	}
}

// ObjectTypes returns every known object type in declaration order
func ObjectTypes() []ObjectType {
	types := make([]ObjectType, 0, objectTypeCount-1)
	for t := Instance; t < objectTypeCount; t++ {
		types = append(types, t)
	}
	return types
}
