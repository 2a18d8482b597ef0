// Package vk models the slice of a Vulkan-style object model the snapshot
// layer needs: handles, object type tags, entry point opcodes and the
// description of an intercepted call.
package vk
