package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/vksnap/pkg/vk"
)

func TestCreateAssignsMonotonicSequence(t *testing.T) {
	l := NewLog()

	a := l.Create()
	b := l.Create()
	c := l.Create()

	assert.NotEqual(t, Ref(0), a)
	assert.Less(t, l.Get(a).Seq, l.Get(b).Seq)
	assert.Less(t, l.Get(b).Seq, l.Get(c).Seq)
	assert.Equal(t, 3, l.Len())
}

func TestSetTraceCopiesPayload(t *testing.T) {
	l := NewLog()
	ref := l.Create()

	payload := []byte{1, 2, 3}
	l.SetTrace(ref, vk.OpCreateImage, payload)
	payload[0] = 9

	rec := l.Get(ref)
	assert.Equal(t, vk.OpCreateImage, rec.Opcode)
	assert.Equal(t, []byte{1, 2, 3}, rec.Payload)
}

func TestGetUnknownRefPanics(t *testing.T) {
	l := NewLog()
	assert.Panics(t, func() { l.Get(42) })

	_, ok := l.Lookup(42)
	assert.False(t, ok)
}

func TestStagedExtrasGoToNextRecordOnly(t *testing.T) {
	l := NewLog()
	first := l.Create()

	replaced := l.StageExtra([]vk.Handle{100, 101})
	assert.False(t, replaced)

	second := l.Create()
	third := l.Create()

	assert.Empty(t, l.Get(first).Extra)
	assert.Equal(t, []vk.Handle{100, 101}, l.Get(second).Extra)
	assert.Empty(t, l.Get(third).Extra)

	_, pending := l.Pending()
	assert.False(t, pending)
}

func TestStageExtraReportsOverwrite(t *testing.T) {
	l := NewLog()
	l.StageExtra([]vk.Handle{1})
	assert.True(t, l.StageExtra([]vk.Handle{2}))

	ref := l.Create()
	assert.Equal(t, []vk.Handle{2}, l.Get(ref).Extra)
}

func TestKindsAndTouchedHandles(t *testing.T) {
	l := NewLog()

	create := l.Create()
	l.SetCreated(create, []vk.Handle{5, 6})
	assert.Equal(t, Create, l.Get(create).Kind)

	modify := l.Create()
	l.MarkTouched(modify, Modify, []vk.Handle{5, 5, 6})
	rec := l.Get(modify)
	assert.Equal(t, Modify, rec.Kind)
	assert.Equal(t, []vk.Handle{5, 6}, rec.Touched)
	assert.Equal(t, []vk.Handle{5, 6}, rec.Handles())
}

func TestRecordsSortedBySequence(t *testing.T) {
	l := NewLog()
	for i := 0; i < 10; i++ {
		l.Create()
	}

	recs := l.Records()
	require.Len(t, recs, 10)
	for i := 1; i < len(recs); i++ {
		assert.Less(t, recs[i-1].Seq, recs[i].Seq)
	}
}

func TestPruneAndRestore(t *testing.T) {
	l := NewLog()
	keep := l.Create()
	drop := l.Create()
	l.SetCreated(keep, []vk.Handle{1})

	dropped := l.Prune(func(r *Record) bool { return r.Kind != Unknown })
	assert.Equal(t, 1, dropped)
	_, ok := l.Lookup(drop)
	assert.False(t, ok)

	restored := NewLog()
	restored.Restore(l.Records(), 0, 0, []vk.Handle{7}, true)
	nextRef, nextSeq := restored.Counters()
	assert.Greater(t, nextRef, keep)
	assert.Equal(t, uint64(1), nextSeq)

	ref := restored.Create()
	assert.Equal(t, []vk.Handle{7}, restored.Get(ref).Extra)
	assert.Greater(t, restored.Get(ref).Seq, restored.Get(keep).Seq)
}
