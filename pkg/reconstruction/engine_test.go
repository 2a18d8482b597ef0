package reconstruction

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/vksnap/pkg/codec"
	"github.com/willibrandon/vksnap/pkg/decoder"
	"github.com/willibrandon/vksnap/pkg/monitor"
	"github.com/willibrandon/vksnap/pkg/replay"
	"github.com/willibrandon/vksnap/pkg/trace"
	"github.com/willibrandon/vksnap/pkg/vk"
)

// create records a Create-shaped call the way interception code does
func create(t *testing.T, e *Engine, op vk.Opcode, typ vk.ObjectType, deps []vk.Handle, hs ...vk.Handle) trace.Ref {
	t.Helper()
	e.AddHandles(hs, typ)
	for _, d := range deps {
		require.NoError(t, e.AddHandleDependency(hs, d))
	}
	ref := e.CreateApiInfo()
	e.SetApiTrace(ref, op, []byte(op.String()))
	e.ForEachHandleAddApi(hs, ref)
	e.SetCreatedHandlesForApi(ref, hs)
	return ref
}

func initialize(t *testing.T, e *Engine, op vk.Opcode, h, dep vk.Handle) trace.Ref {
	t.Helper()
	require.NoError(t, e.AddHandleDependency([]vk.Handle{h}, dep))
	ref := e.CreateApiInfo()
	e.SetApiTrace(ref, op, []byte(op.String()))
	e.ForEachHandleAddApi([]vk.Handle{h}, ref)
	return ref
}

func modify(e *Engine, op vk.Opcode, h vk.Handle, payload string) trace.Ref {
	ref := e.CreateApiInfo()
	e.SetApiTrace(ref, op, []byte(payload))
	e.ForEachHandleAddModifyApi([]vk.Handle{h}, ref)
	return ref
}

func saveAndLoad(t *testing.T, e *Engine, dec decoder.Decoder) *replay.Result {
	t.Helper()
	var buf bytes.Buffer
	_, err := e.Save(&buf)
	require.NoError(t, err)
	res, err := e.Load(context.Background(), &buf, dec, nil, nil)
	require.NoError(t, err)
	return res
}

func opcodes(calls []decoder.Call) []vk.Opcode {
	out := make([]vk.Opcode, len(calls))
	for i, c := range calls {
		out[i] = c.Opcode
	}
	return out
}

func recordChain(t *testing.T, e *Engine) {
	create(t, e, vk.OpCreateInstance, vk.Instance, nil, 1)
	create(t, e, vk.OpEnumeratePhysicalDevices, vk.PhysicalDevice, []vk.Handle{1}, 2)
	create(t, e, vk.OpCreateDevice, vk.Device, []vk.Handle{2}, 3)
	create(t, e, vk.OpCreateCommandPool, vk.CommandPool, []vk.Handle{3}, 4)
	create(t, e, vk.OpAllocateCommandBuffers, vk.CommandBuffer, []vk.Handle{4}, 5)
}

func TestChainScenarioReplaysInOrder(t *testing.T) {
	e := New()
	recordChain(t, e)

	dec := decoder.NewSimulated()
	res := saveAndLoad(t, e, dec)

	assert.Equal(t, []vk.Handle{1, 2, 3, 4, 5}, res.Order)
	assert.Equal(t, []vk.Opcode{
		vk.OpCreateInstance,
		vk.OpEnumeratePhysicalDevices,
		vk.OpCreateDevice,
		vk.OpCreateCommandPool,
		vk.OpAllocateCommandBuffers,
	}, opcodes(dec.Calls()))
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Inconsistencies)
}

func TestRoundTripPreservesGraphUnderMapping(t *testing.T) {
	e := New()
	recordChain(t, e)
	create(t, e, vk.OpAllocateMemory, vk.DeviceMemory, []vk.Handle{3}, 6)
	modify(e, vk.OpMapMemoryIntoAddressSpaceGOOGLE, 6, "map-1")
	modify(e, vk.OpGetBlobGOOGLE, 6, "blob")
	modify(e, vk.OpMapMemoryIntoAddressSpaceGOOGLE, 6, "map-2")
	create(t, e, vk.OpCreateBuffer, vk.Buffer, []vk.Handle{3}, 7)
	e.RemoveHandles([]vk.Handle{7})

	before := e.Handles()
	res := saveAndLoad(t, e, decoder.NewSimulated())

	require.Len(t, res.Mapping, len(before))
	for _, old := range before {
		nh, ok := res.Mapping[old.Handle]
		require.True(t, ok, "no mapping for %s", old.Handle)
		rec, ok := e.Handle(nh)
		require.True(t, ok)

		assert.Equal(t, old.Type, rec.Type)
		var wantDeps []vk.Handle
		for _, d := range old.DependsOn {
			wantDeps = append(wantDeps, res.Mapping[d])
		}
		assert.Equal(t, wantDeps, rec.DependsOn)
		assert.Equal(t, old.Modifies, rec.Modifies)
	}
	_, ok := res.Mapping[7]
	assert.False(t, ok, "destroyed handle must not be replayed")
}

func TestModifiesReplayInCallOrder(t *testing.T) {
	e := New()
	create(t, e, vk.OpAllocateMemory, vk.DeviceMemory, nil, 6)
	modify(e, vk.OpMapMemoryIntoAddressSpaceGOOGLE, 6, "m1")
	create(t, e, vk.OpAllocateMemory, vk.DeviceMemory, nil, 8)
	modify(e, vk.OpMapMemoryIntoAddressSpaceGOOGLE, 8, "other")
	modify(e, vk.OpGetBlobGOOGLE, 6, "m2")

	dec := decoder.NewSimulated()
	saveAndLoad(t, e, dec)

	var payloads []string
	for _, c := range dec.Calls() {
		if c.Kind == trace.Modify {
			payloads = append(payloads, string(c.Payload))
		}
	}
	assert.Equal(t, []string{"m1", "other", "m2"}, payloads)
}

func TestBindIsReplayedRightAfterCreation(t *testing.T) {
	e := New()
	create(t, e, vk.OpCreateImage, vk.Image, nil, 10)
	create(t, e, vk.OpAllocateMemory, vk.DeviceMemory, nil, 11)
	modify(e, vk.OpMapMemoryIntoAddressSpaceGOOGLE, 11, "map")
	bind := initialize(t, e, vk.OpBindImageMemory, 10, 11)
	create(t, e, vk.OpCreateBuffer, vk.Buffer, nil, 12)

	rec := e.GetApiInfo(bind)
	assert.Equal(t, trace.Initialize, rec.Kind)
	assert.Equal(t, []vk.Handle{10}, rec.Touched)

	dec := decoder.NewSimulated()
	saveAndLoad(t, e, dec)

	assert.Equal(t, []vk.Opcode{
		vk.OpAllocateMemory,
		vk.OpCreateImage,
		vk.OpBindImageMemory,
		vk.OpCreateBuffer,
		vk.OpMapMemoryIntoAddressSpaceGOOGLE,
	}, opcodes(dec.Calls()))
}

func TestExtraHandlesGoToNextCall(t *testing.T) {
	e := New()
	c1 := create(t, e, vk.OpCreateDevice, vk.Device, nil, 3)

	e.AddHandles([]vk.Handle{0x50}, vk.Queue)
	e.CreateExtraHandlesForNextApi([]vk.Handle{0x50})
	c2 := create(t, e, vk.OpCreateCommandPool, vk.CommandPool, []vk.Handle{3}, 4)

	assert.Empty(t, e.GetApiInfo(c1).Extra)
	assert.Equal(t, []vk.Handle{0x50}, e.GetApiInfo(c2).Extra)
	q, ok := e.Handle(0x50)
	require.True(t, ok)
	assert.Equal(t, c2, q.Creation)

	res := saveAndLoad(t, e, decoder.NewSimulated())
	assert.Contains(t, res.Mapping, vk.Handle(0x50))
	assert.Equal(t, []vk.Handle{3, 4, 0x50}, res.Order)
}

func TestPendingExtrasSurviveLoad(t *testing.T) {
	e := New()
	create(t, e, vk.OpCreateDevice, vk.Device, nil, 3)
	e.CreateExtraHandlesForNextApi([]vk.Handle{0x60})

	saveAndLoad(t, e, decoder.NewSimulated())
	assert.Equal(t, 1, e.Stats().PendingExtras)

	ref := e.CreateApiInfo()
	assert.Equal(t, []vk.Handle{0x60}, e.GetApiInfo(ref).Extra)
	assert.Equal(t, -1, e.Stats().PendingExtras)
}

func TestNullHandlesAreNeverRegistered(t *testing.T) {
	e := New()
	e.AddHandles([]vk.Handle{vk.NullHandle}, vk.Image)
	assert.Zero(t, e.Stats().LiveHandles)
	assert.NoError(t, e.AddHandleDependency([]vk.Handle{1}, vk.NullHandle))
}

func TestDestroyKeepsTracesUntilPrune(t *testing.T) {
	e := New()
	create(t, e, vk.OpCreateDevice, vk.Device, nil, 3)
	create(t, e, vk.OpCreateSampler, vk.Sampler, []vk.Handle{3}, 9)

	removed := e.RemoveHandles([]vk.Handle{9})
	assert.Equal(t, []vk.Handle{9}, removed)
	assert.Equal(t, 2, e.Stats().Traces)

	assert.Equal(t, 1, e.Prune())
	assert.Equal(t, 1, e.Stats().Traces)
}

func TestPruneOnSave(t *testing.T) {
	opts := DefaultOptions()
	opts.PruneOnSave = true
	e := NewWithOptions(opts)
	create(t, e, vk.OpCreateDevice, vk.Device, nil, 3)
	create(t, e, vk.OpCreateSampler, vk.Sampler, []vk.Handle{3}, 9)
	e.RemoveHandles([]vk.Handle{9})

	var buf bytes.Buffer
	_, err := e.Save(&buf)
	require.NoError(t, err)

	s, err := codec.Decode(&buf)
	require.NoError(t, err)
	assert.Len(t, s.Traces, 1)
}

func TestRemoveWithoutCascadeLeavesDangling(t *testing.T) {
	e := New()
	recordChain(t, e)

	e.RemoveHandles([]vk.Handle{3})
	assert.Equal(t, 4, e.Stats().LiveHandles)
	assert.Equal(t, 1, e.Stats().Dangling)

	res := saveAndLoad(t, e, decoder.NewSimulated())
	require.Len(t, res.Inconsistencies, 1)
	assert.Equal(t, replay.DanglingDependency, res.Inconsistencies[0].Kind)
}

func TestCascadeDestroy(t *testing.T) {
	opts := DefaultOptions()
	opts.CascadeDestroy = true
	e := NewWithOptions(opts)
	recordChain(t, e)

	removed := e.RemoveHandles([]vk.Handle{3})
	assert.ElementsMatch(t, []vk.Handle{3, 4, 5}, removed)
	assert.Equal(t, 2, e.Stats().LiveHandles)
	assert.Zero(t, e.Stats().Dangling)
}

func TestValidateDependencies(t *testing.T) {
	opts := DefaultOptions()
	opts.ValidateDependencies = true
	e := NewWithOptions(opts)
	e.AddHandles([]vk.Handle{5}, vk.CommandBuffer)

	err := e.AddHandleDependency([]vk.Handle{5}, 4)
	assert.ErrorIs(t, err, ErrUnknownDependency)

	e.AddHandles([]vk.Handle{4}, vk.CommandPool)
	assert.NoError(t, e.AddHandleDependency([]vk.Handle{5}, 4))
}

func TestStrictLoadRejectsInconsistencies(t *testing.T) {
	opts := DefaultOptions()
	opts.StrictLoad = true
	e := NewWithOptions(opts)
	recordChain(t, e)
	e.RemoveHandles([]vk.Handle{3})

	var buf bytes.Buffer
	_, err := e.Save(&buf)
	require.NoError(t, err)

	_, err = e.Load(context.Background(), &buf, decoder.NewSimulated(), nil, nil)
	var ierr *replay.InconsistencyError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 4, e.Stats().LiveHandles)
}

func TestFailedLoadKeepsState(t *testing.T) {
	e := New()
	recordChain(t, e)

	var buf bytes.Buffer
	_, err := e.Save(&buf)
	require.NoError(t, err)

	cause := errors.New("driver lost")
	dec := decoder.NewSimulatedWithOptions(decoder.SimulatedOptions{
		FailOn: map[vk.Opcode]error{vk.OpCreateDevice: cause},
	})
	res, err := e.Load(context.Background(), &buf, dec, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var rerr *replay.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, vk.OpCreateDevice, rerr.Opcode)
	assert.Equal(t, []vk.Handle{3}, rerr.Handles)
	require.NotNil(t, res)
	assert.Equal(t, []vk.Handle{1, 2}, res.Order)

	_, ok := e.Handle(5)
	assert.True(t, ok, "engine state must survive a failed load")
}

func TestLoadRejectsGarbage(t *testing.T) {
	e := New()
	res, err := e.Load(context.Background(), bytes.NewReader([]byte("garbage")), decoder.NewSimulated(), nil, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, codec.ErrBadMagic)
}

func TestLoadRejectsOversizedStream(t *testing.T) {
	src := New()
	recordChain(t, src)
	var buf bytes.Buffer
	n, err := src.Save(&buf)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MaxStreamSize = n - 1
	e := NewWithOptions(opts)
	create(t, e, vk.OpCreateInstance, vk.Instance, nil, 0x99)

	res, err := e.Load(context.Background(), bytes.NewReader(buf.Bytes()), decoder.NewSimulated(), nil, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, codec.ErrTooLarge)
	_, ok := e.Handle(0x99)
	assert.True(t, ok, "engine state must survive a rejected load")

	opts.MaxStreamSize = n
	e = NewWithOptions(opts)
	_, err = e.Load(context.Background(), bytes.NewReader(buf.Bytes()), decoder.NewSimulated(), nil, nil)
	assert.NoError(t, err)
}

func TestLiveHandleGauge(t *testing.T) {
	opts := DefaultOptions()
	opts.Metrics = monitor.NewMetrics(nil)
	e := NewWithOptions(opts)
	recordChain(t, e)
	assert.Equal(t, 5.0, testutil.ToFloat64(opts.Metrics.LiveHandles))

	e.RemoveHandles([]vk.Handle{5})
	assert.Equal(t, 4.0, testutil.ToFloat64(opts.Metrics.LiveHandles))

	e.Reset()
	assert.Zero(t, testutil.ToFloat64(opts.Metrics.LiveHandles))
	assert.Zero(t, e.Stats().Traces)
}
