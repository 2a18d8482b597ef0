package vk

import "fmt"

// Opcode identifies an API entry point in the command stream so a captured
// payload can be re-decoded generically
type Opcode uint32

// Opcodes of the entry points the snapshot layer knows about. Values follow
// the command stream numbering and must stay stable across releases because
// they are persisted in snapshots.
const (
	OpCreateInstance                  Opcode = 20000
	OpDestroyInstance                 Opcode = 20001
	OpEnumeratePhysicalDevices        Opcode = 20002
	OpCreateDevice                    Opcode = 20008
	OpDestroyDevice                   Opcode = 20009
	OpGetDeviceQueue                  Opcode = 20014
	OpAllocateMemory                  Opcode = 20018
	OpFreeMemory                      Opcode = 20019
	OpBindBufferMemory                Opcode = 20025
	OpBindImageMemory                 Opcode = 20026
	OpCreateFence                     Opcode = 20031
	OpDestroyFence                    Opcode = 20032
	OpCreateSemaphore                 Opcode = 20036
	OpDestroySemaphore                Opcode = 20037
	OpCreateBuffer                    Opcode = 20045
	OpDestroyBuffer                   Opcode = 20046
	OpCreateImage                     Opcode = 20049
	OpDestroyImage                    Opcode = 20050
	OpCreateImageView                 Opcode = 20052
	OpDestroyImageView                Opcode = 20053
	OpCreateShaderModule              Opcode = 20054
	OpDestroyShaderModule             Opcode = 20055
	OpCreateGraphicsPipelines         Opcode = 20060
	OpDestroyPipeline                 Opcode = 20062
	OpCreatePipelineLayout            Opcode = 20063
	OpDestroyPipelineLayout           Opcode = 20064
	OpCreateSampler                   Opcode = 20065
	OpDestroySampler                  Opcode = 20066
	OpCreateFramebuffer               Opcode = 20075
	OpDestroyFramebuffer              Opcode = 20076
	OpCreateRenderPass                Opcode = 20077
	OpDestroyRenderPass               Opcode = 20078
	OpCreateCommandPool               Opcode = 20080
	OpDestroyCommandPool              Opcode = 20081
	OpAllocateCommandBuffers          Opcode = 20083
	OpFreeCommandBuffers              Opcode = 20084
	OpMapMemoryIntoAddressSpaceGOOGLE Opcode = 20317
	OpGetBlobGOOGLE                   Opcode = 20341
)

var opcodeNames = map[Opcode]string{
	OpCreateInstance:                  "vkCreateInstance",
	OpDestroyInstance:                 "vkDestroyInstance",
	OpEnumeratePhysicalDevices:        "vkEnumeratePhysicalDevices",
	OpCreateDevice:                    "vkCreateDevice",
	OpDestroyDevice:                   "vkDestroyDevice",
	OpGetDeviceQueue:                  "vkGetDeviceQueue",
	OpAllocateMemory:                  "vkAllocateMemory",
	OpFreeMemory:                      "vkFreeMemory",
	OpBindBufferMemory:                "vkBindBufferMemory",
	OpBindImageMemory:                 "vkBindImageMemory",
	OpCreateFence:                     "vkCreateFence",
	OpDestroyFence:                    "vkDestroyFence",
	OpCreateSemaphore:                 "vkCreateSemaphore",
	OpDestroySemaphore:                "vkDestroySemaphore",
	OpCreateBuffer:                    "vkCreateBuffer",
	OpDestroyBuffer:                   "vkDestroyBuffer",
	OpCreateImage:                     "vkCreateImage",
	OpDestroyImage:                    "vkDestroyImage",
	OpCreateImageView:                 "vkCreateImageView",
	OpDestroyImageView:                "vkDestroyImageView",
	OpCreateShaderModule:              "vkCreateShaderModule",
	OpDestroyShaderModule:             "vkDestroyShaderModule",
	OpCreateGraphicsPipelines:         "vkCreateGraphicsPipelines",
	OpDestroyPipeline:                 "vkDestroyPipeline",
	OpCreatePipelineLayout:            "vkCreatePipelineLayout",
	OpDestroyPipelineLayout:           "vkDestroyPipelineLayout",
	OpCreateSampler:                   "vkCreateSampler",
	OpDestroySampler:                  "vkDestroySampler",
	OpCreateFramebuffer:               "vkCreateFramebuffer",
	OpDestroyFramebuffer:              "vkDestroyFramebuffer",
	OpCreateRenderPass:                "vkCreateRenderPass",
	OpDestroyRenderPass:               "vkDestroyRenderPass",
	OpCreateCommandPool:               "vkCreateCommandPool",
	OpDestroyCommandPool:              "vkDestroyCommandPool",
	OpAllocateCommandBuffers:          "vkAllocateCommandBuffers",
	OpFreeCommandBuffers:              "vkFreeCommandBuffers",
	OpMapMemoryIntoAddressSpaceGOOGLE: "vkMapMemoryIntoAddressSpaceGOOGLE",
	OpGetBlobGOOGLE:                   "vkGetBlobGOOGLE",
}

// String returns the entry point name, or the numeric value for opcodes
// this build does not know
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OP_%d", uint32(op))
}

// Known reports whether the opcode names an entry point of this build
func (op Opcode) Known() bool {
	_, ok := opcodeNames[op]
	return ok
}
