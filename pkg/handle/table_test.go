package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/vksnap/pkg/vk"
)

func TestAddSkipsNullHandles(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{vk.NullHandle, 3, 4}, vk.CommandBuffer)

	assert.Equal(t, 2, tbl.Len())
	assert.False(t, tbl.Contains(vk.NullHandle))

	rec, ok := tbl.Get(3)
	require.True(t, ok)
	assert.Equal(t, vk.CommandBuffer, rec.Type)
	assert.Equal(t, Live, rec.Status)
}

func TestRemoveEvictsAndFlipsStatus(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{1, 2}, vk.Fence)

	removed := tbl.Remove([]vk.Handle{2, 99})
	require.Len(t, removed, 1)
	assert.Equal(t, Destroyed, removed[0].Status)
	assert.False(t, tbl.Contains(2))
	assert.True(t, tbl.Contains(1))
}

func TestReAddResetsRecord(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{1}, vk.Image)
	tbl.SetCreation(1, 7)
	tbl.AddModify(1, 8)

	tbl.Add([]vk.Handle{1}, vk.Buffer)
	rec, _ := tbl.Get(1)
	assert.Equal(t, vk.Buffer, rec.Type)
	assert.Zero(t, rec.Creation)
	assert.Empty(t, rec.Modifies)
}

func TestTraceSlots(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{10}, vk.Image)

	assert.True(t, tbl.SetCreation(10, 1))
	assert.False(t, tbl.SetCreation(10, 2), "creation slot is set once")
	assert.True(t, tbl.AddInit(10, 3))
	assert.True(t, tbl.AddModify(10, 4))
	assert.True(t, tbl.AddModify(10, 5))
	assert.False(t, tbl.AddModify(11, 6))

	rec, _ := tbl.Get(10)
	assert.Equal(t, []uint64{1, 3, 4, 5}, refsAsUint(rec.TraceRefs()))
	assert.True(t, tbl.References(4))
	assert.False(t, tbl.References(6))
	assert.Len(t, tbl.ReferencedTraces(), 4)
}

func TestRecordsSortedByHandle(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{30, 10, 20}, vk.Sampler)

	recs := tbl.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, vk.Handle(10), recs[0].Handle)
	assert.Equal(t, vk.Handle(20), recs[1].Handle)
	assert.Equal(t, vk.Handle(30), recs[2].Handle)
}

func TestDependencyEdges(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{1}, vk.Instance)
	tbl.Add([]vk.Handle{2}, vk.PhysicalDevice)
	tbl.Add([]vk.Handle{3}, vk.Device)

	assert.Equal(t, 1, tbl.AddDependency([]vk.Handle{2}, 1))
	assert.Equal(t, 0, tbl.AddDependency([]vk.Handle{2}, 1), "duplicate edge")
	assert.Equal(t, 0, tbl.AddDependency([]vk.Handle{3}, vk.NullHandle))
	assert.Equal(t, 0, tbl.AddDependency([]vk.Handle{99}, 1), "unknown dependent")
	assert.Equal(t, 0, tbl.AddDependency([]vk.Handle{3}, 3), "self edge")
	tbl.AddDependency([]vk.Handle{3}, 2)

	assert.Equal(t, []vk.Handle{2}, tbl.Dependents(1))
	assert.Equal(t, []vk.Handle{2, 3}, tbl.Cascade([]vk.Handle{1}))
	assert.Empty(t, tbl.Cascade([]vk.Handle{3}))
}

func TestMultipleDependencies(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{1}, vk.Device)
	tbl.Add([]vk.Handle{2}, vk.RenderPass)
	tbl.Add([]vk.Handle{3}, vk.Framebuffer)

	tbl.AddDependency([]vk.Handle{3}, 1)
	tbl.AddDependency([]vk.Handle{3}, 2)

	rec, _ := tbl.Get(3)
	assert.Equal(t, []vk.Handle{1, 2}, rec.DependsOn)
}

func TestDanglingDependencies(t *testing.T) {
	tbl := NewTable()
	tbl.Add([]vk.Handle{1}, vk.Device)
	tbl.Add([]vk.Handle{2}, vk.Buffer)
	tbl.AddDependency([]vk.Handle{2}, 1)

	assert.Empty(t, tbl.Dangling())

	tbl.Remove([]vk.Handle{1})
	assert.Equal(t, map[vk.Handle][]vk.Handle{2: {1}}, tbl.Dangling())
}

func refsAsUint[T ~uint64](refs []T) []uint64 {
	out := make([]uint64, len(refs))
	for i, r := range refs {
		out[i] = uint64(r)
	}
	return out
}
