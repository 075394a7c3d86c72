package worldsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/state"
)

func TestBuffer_MergeMatrix(t *testing.T) {
	tests := []struct {
		name        string
		first, last state.Effect
		want        state.Effect
		wantChange  bool
	}{
		{"added then modified", state.EffectComponentAdded, state.EffectComponentModified, state.EffectComponentAdded, true},
		{"added then deleted", state.EffectComponentAdded, state.EffectComponentDeleted, state.EffectNoChanges, false},
		{"modified then deleted", state.EffectComponentModified, state.EffectComponentDeleted, state.EffectComponentDeleted, true},
		{"deleted then added", state.EffectComponentDeleted, state.EffectComponentAdded, state.EffectComponentModified, true},
		{"deleted then deleted", state.EffectComponentDeleted, state.EffectComponentDeleted, state.EffectComponentDeleted, true},
		{"modified twice", state.EffectComponentModified, state.EffectComponentModified, state.EffectComponentModified, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New()
			_, err := b.Sync(crdt.NewPut(1, 2, 1, []byte("first")), tt.first)
			require.NoError(t, err)
			_, err = b.Sync(crdt.NewPut(1, 2, 2, []byte("last")), tt.last)
			require.NoError(t, err)

			batch, err := b.Finalize()
			require.NoError(t, err)

			if !tt.wantChange {
				assert.Empty(t, batch.Changes)
				return
			}
			require.Len(t, batch.Changes, 1)
			assert.Equal(t, tt.want, batch.Changes[0].Effect)
			assert.Equal(t, uint32(2), batch.Changes[0].Timestamp)
			if tt.want == state.EffectComponentDeleted {
				assert.Nil(t, batch.Changes[0].Data)
			} else {
				assert.Equal(t, []byte("last"), batch.Changes[0].Data)
			}
		})
	}
}

func TestBuffer_EntityDeletionDropsPending(t *testing.T) {
	b := New()
	_, _ = b.Sync(crdt.NewPut(1, 1, 1, []byte("a")), state.EffectComponentAdded)
	_, _ = b.Sync(crdt.NewPut(2, 1, 1, []byte("b")), state.EffectComponentAdded)
	_, _ = b.Sync(crdt.NewDeleteEntity(1), state.EffectEntityDeleted)
	_, _ = b.Sync(crdt.NewDeleteEntity(1), state.EffectEntityDeleted)

	assert.Equal(t, 1, b.Pending())

	batch, err := b.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []crdt.EntityID{1}, batch.DeletedEntities)
	require.Len(t, batch.Changes, 1)
	assert.Equal(t, crdt.EntityID(2), batch.Changes[0].Entity)
}

func TestBuffer_KeepsFirstTouchOrder(t *testing.T) {
	b := New()
	_, _ = b.Sync(crdt.NewPut(9, 1, 1, nil), state.EffectComponentAdded)
	_, _ = b.Sync(crdt.NewPut(3, 1, 1, nil), state.EffectComponentAdded)
	_, _ = b.Sync(crdt.NewPut(9, 1, 2, nil), state.EffectComponentModified)
	_, _ = b.Sync(crdt.NewPut(5, 4, 1, nil), state.EffectComponentAdded)

	batch, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, batch.Changes, 3)
	assert.Equal(t, crdt.EntityID(9), batch.Changes[0].Entity)
	assert.Equal(t, crdt.EntityID(3), batch.Changes[1].Entity)
	assert.Equal(t, crdt.EntityID(5), batch.Changes[2].Entity)
}

func TestBuffer_ComponentFilterAndNoChanges(t *testing.T) {
	b := New(WithComponentFilter(func(c crdt.ComponentID) bool { return c == 1 }))

	effect, err := b.Sync(crdt.NewPut(1, 2, 1, nil), state.EffectComponentAdded)
	require.NoError(t, err)
	assert.Equal(t, state.EffectNoChanges, effect)

	effect, _ = b.Sync(crdt.NewPut(1, 1, 1, nil), state.EffectNoChanges)
	assert.Equal(t, state.EffectNoChanges, effect)
	assert.Equal(t, 0, b.Pending())
}

func TestBuffer_FinalizeLocksUntilReset(t *testing.T) {
	b := New()
	_, _ = b.Sync(crdt.NewPut(1, 1, 1, nil), state.EffectComponentAdded)

	_, err := b.Finalize()
	require.NoError(t, err)

	_, err = b.Sync(crdt.NewPut(1, 1, 2, nil), state.EffectComponentModified)
	assert.ErrorIs(t, err, ErrFinalized)
	_, err = b.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)

	b.Reset()
	assert.Equal(t, 0, b.Pending())
	batch, err := b.Finalize()
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestBuffer_FinalizeCopiesPayloads(t *testing.T) {
	payload := []byte("aaaa")
	b := New()
	_, err := b.Sync(crdt.NewPut(1, 1, 1, payload), state.EffectComponentAdded)
	require.NoError(t, err)

	batch, err := b.Finalize()
	require.NoError(t, err)
	copy(payload, "zzzz")

	require.Len(t, batch.Changes, 1)
	assert.Equal(t, []byte("aaaa"), batch.Changes[0].Data)
}
