package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
)

func TestMessageType_Headers(t *testing.T) {
	assert.Equal(t, 24, MessageTypePutComponent.HeaderSize())
	assert.Equal(t, 24, MessageTypeAppendComponent.HeaderSize())
	assert.Equal(t, 20, MessageTypeDeleteComponent.HeaderSize())
	assert.Equal(t, 12, MessageTypeDeleteEntity.HeaderSize())
	assert.Equal(t, 0, MessageType(9).HeaderSize())
	assert.False(t, MessageType(0).Valid())
	assert.Equal(t, "UNKNOWN", MessageType(9).String())
}

func TestMessage_EncodedLen(t *testing.T) {
	assert.Equal(t, 64, NewPut(666, 1, 7666, make([]byte, 40)).EncodedLen())
	assert.Equal(t, 24, NewAppend(1, 1, 1, nil).EncodedLen())
	assert.Equal(t, 20, NewDeleteComponent(1, 1, 1).EncodedLen())
	assert.Equal(t, 12, NewDeleteEntity(1).EncodedLen())
}

func TestMessage_EqualIgnoresOwnership(t *testing.T) {
	arena := pool.NewArena(pool.DefaultConfig())
	buf := arena.Rent(3)
	copy(buf.Bytes(), "abc")

	pooled := NewPooled(MessageTypePutComponent, 1, 2, 3, buf)
	plain := NewPut(1, 2, 3, []byte("abc"))

	assert.True(t, pooled.Equal(plain))
	assert.True(t, pooled.Pooled())
	assert.False(t, plain.Pooled())
	assert.False(t, plain.Equal(NewAppend(1, 2, 3, []byte("abc"))))
	assert.False(t, NewPut(1, 2, 3, nil).Equal(NewDeleteComponent(1, 2, 3)))
}

func TestMessage_ReleaseReturnsBufferOnce(t *testing.T) {
	arena := pool.NewArena(pool.DefaultConfig())
	m := NewPooled(MessageTypeAppendComponent, 1, 2, 3, arena.Rent(8))

	m.Release(arena)
	m.Release(arena)

	assert.Nil(t, m.Data)
	assert.EqualValues(t, 1, arena.Stats().Returns)
}
