package snapshot

import "github.com/willibrandon/vksnap/pkg/vk"

// parentType is the kind every object of a type depends on when the creating
// call has a parameter of that kind
func parentType(t vk.ObjectType) (vk.ObjectType, bool) {
	switch t {
	case vk.CommandBuffer:
		return vk.CommandPool, true
	case vk.CommandPool, vk.Queue:
		return vk.Device, true
	case vk.Device:
		return vk.PhysicalDevice, true
	case vk.PhysicalDevice:
		return vk.Instance, true
	case vk.Instance, vk.UnknownType:
		return vk.UnknownType, false
	}
	if t.Valid() && !t.Dispatchable() {
		return vk.Device, true
	}
	return vk.UnknownType, false
}

// initializes names, per opcode, the parameter an Initialize call completes
var initializes = map[vk.Opcode]string{
	vk.OpBindImageMemory:  "image",
	vk.OpBindBufferMemory: "buffer",
}

// modifies names, per opcode, the parameter a Modify call mutates
var modifies = map[vk.Opcode]string{
	vk.OpMapMemoryIntoAddressSpaceGOOGLE: "memory",
	vk.OpGetBlobGOOGLE:                   "memory",
}

func targets(table map[vk.Opcode]string, op vk.Opcode, param string) bool {
	name, ok := table[op]
	return ok && name == param
}

// edge asks for every handle in handles to depend on dep
type edge struct {
	handles []vk.Handle
	dep     vk.Handle
}

// extract returns the dependencies buried in the nested parameters of a
// call. target holds the handles the call creates or initializes, in
// parameter order and possibly with null entries.
func extract(call vk.Call, target []vk.Handle) []edge {
	edges := extractAll(call, target)
	out := edges[:0]
	for _, ed := range edges {
		if hs := nonNull(ed.handles); len(hs) > 0 && !ed.dep.IsNull() {
			out = append(out, edge{hs, ed.dep})
		}
	}
	return out
}

func nonNull(hs []vk.Handle) []vk.Handle {
	out := make([]vk.Handle, 0, len(hs))
	for _, h := range hs {
		if !h.IsNull() {
			out = append(out, h)
		}
	}
	return out
}

func extractAll(call vk.Call, target []vk.Handle) []edge {
	switch call.Opcode {
	case vk.OpAllocateCommandBuffers:
		if info, ok := call.Info.(*vk.CommandBufferAllocateInfo); ok && info != nil {
			return []edge{{target, info.CommandPool}}
		}
	case vk.OpCreateImageView:
		if info, ok := call.Info.(*vk.ImageViewCreateInfo); ok && info != nil {
			return []edge{{target, info.Image}}
		}
	case vk.OpCreateGraphicsPipelines:
		if info, ok := call.Info.(*vk.GraphicsPipelinesCreateInfo); ok && info != nil {
			return pipelineEdges(info, target)
		}
	case vk.OpCreateFramebuffer:
		if info, ok := call.Info.(*vk.FramebufferCreateInfo); ok && info != nil {
			edges := []edge{{target, info.RenderPass}}
			for _, a := range info.Attachments {
				edges = append(edges, edge{target, a})
			}
			return edges
		}
	case vk.OpBindImageMemory, vk.OpBindBufferMemory:
		if mem, ok := call.Param("memory"); ok {
			return []edge{{target, mem.First()}}
		}
	}
	return nil
}

// pipelineEdges pairs pipeline i with the i-th create info: its shader
// modules, layout and render pass. A null pipeline i takes no edges.
func pipelineEdges(info *vk.GraphicsPipelinesCreateInfo, pipelines []vk.Handle) []edge {
	var edges []edge
	for i, ci := range info.CreateInfos {
		if i >= len(pipelines) {
			break
		}
		if pipelines[i].IsNull() {
			continue
		}
		p := pipelines[i : i+1]
		for _, stage := range ci.Stages {
			edges = append(edges, edge{p, stage.Module})
		}
		edges = append(edges, edge{p, ci.Layout}, edge{p, ci.RenderPass})
	}
	return edges
}
