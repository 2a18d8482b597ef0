package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/vksnap/pkg/decoder"
	"github.com/willibrandon/vksnap/pkg/reconstruction"
	"github.com/willibrandon/vksnap/pkg/vk"
)

func recordDevice(e *reconstruction.Engine) {
	ops := []vk.Opcode{vk.OpCreateInstance, vk.OpEnumeratePhysicalDevices, vk.OpCreateDevice}
	var prev vk.Handle
	for i, typ := range []vk.ObjectType{vk.Instance, vk.PhysicalDevice, vk.Device} {
		h := vk.Handle(i + 1)
		e.AddHandles([]vk.Handle{h}, typ)
		_ = e.AddHandleDependency([]vk.Handle{h}, prev)
		ref := e.CreateApiInfo()
		e.SetApiTrace(ref, ops[i], nil)
		e.ForEachHandleAddApi([]vk.Handle{h}, ref)
		e.SetCreatedHandlesForApi(ref, []vk.Handle{h})
		prev = h
	}
}

func TestCheckpointSaveRestore(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	cps := NewCheckpoints(fs)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cps.now = func() time.Time { return base }

	e := reconstruction.New()
	recordDevice(e)

	ctx := context.Background()
	cp, err := cps.Save(ctx, e)
	require.NoError(t, err)
	_, err = uuid.Parse(cp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Handles)
	assert.Equal(t, 3, cp.Traces)
	assert.Positive(t, cp.Bytes)
	assert.Equal(t, base, cp.Timestamp)

	cps.now = func() time.Time { return base.Add(time.Minute) }
	second, err := cps.Save(ctx, e)
	require.NoError(t, err)

	list, err := cps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, cp.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	restored := reconstruction.New()
	res, err := cps.Restore(ctx, cp.ID, restored, decoder.NewSimulated(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []vk.Handle{1, 2, 3}, res.Order)
	assert.Equal(t, 3, restored.Stats().LiveHandles)

	require.NoError(t, cps.Delete(ctx, cp.ID))
	_, err = cps.Get(ctx, cp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	list, err = cps.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCheckpointOverSealedCachedStore(t *testing.T) {
	sealed, err := NewSealedStore(newMemStore(), WithEncryption(testEncryptionKey), WithIntegrityCheck(testIntegrityKey))
	require.NoError(t, err)
	cached, err := NewCachedStore(sealed, 4)
	require.NoError(t, err)
	cps := NewCheckpoints(cached)

	e := reconstruction.New()
	recordDevice(e)
	ctx := context.Background()
	cp, err := cps.Save(ctx, e)
	require.NoError(t, err)

	restored := reconstruction.New()
	_, err = cps.Restore(ctx, cp.ID, restored, decoder.NewSimulated(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Stats().LiveHandles)
}
