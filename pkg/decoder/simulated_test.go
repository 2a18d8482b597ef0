package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/vksnap/pkg/vk"
)

func TestSimulatedAllocatesFreshHandles(t *testing.T) {
	dec := NewSimulatedWithOptions(SimulatedOptions{FirstHandle: 100})

	eff, err := dec.Decode(context.Background(), Call{
		Opcode:  vk.OpAllocateCommandBuffers,
		Created: []vk.Handle{1, 2, 3},
		Extra:   []vk.Handle{9},
	})
	require.NoError(t, err)
	assert.Equal(t, []vk.Handle{100, 101, 102}, eff.Created)
	assert.Equal(t, []vk.Handle{103}, eff.Extra)
	assert.Nil(t, eff.Payload)

	eff, err = dec.Decode(context.Background(), Call{Opcode: vk.OpBindImageMemory})
	require.NoError(t, err)
	assert.Empty(t, eff.Created)
	assert.Len(t, dec.Calls(), 2)
}

func TestSimulatedFailures(t *testing.T) {
	boom := errors.New("boom")
	dec := NewSimulatedWithOptions(SimulatedOptions{
		FailOn: map[vk.Opcode]error{vk.OpCreateImage: boom, vk.OpCreateBuffer: nil},
	})

	_, err := dec.Decode(context.Background(), Call{Opcode: vk.OpCreateImage, Created: []vk.Handle{1}})
	assert.ErrorIs(t, err, boom)

	_, err = dec.Decode(context.Background(), Call{Opcode: vk.OpCreateBuffer, Created: []vk.Handle{1}})
	assert.ErrorContains(t, err, "vkCreateBuffer")
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulated().Decode(ctx, Call{Opcode: vk.OpCreateInstance})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFuncAdapter(t *testing.T) {
	var seen vk.Opcode
	dec := Func(func(_ context.Context, c Call) (Effect, error) {
		seen = c.Opcode
		return Effect{}, nil
	})
	_, err := dec.Decode(context.Background(), Call{Opcode: vk.OpCreateFence})
	require.NoError(t, err)
	assert.Equal(t, vk.OpCreateFence, seen)
}
