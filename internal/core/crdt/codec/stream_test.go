package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
)

func sampleBatch(t *testing.T) ([]crdt.Message, []byte) {
	t.Helper()
	msgs := []crdt.Message{
		crdt.NewPut(666, 1, 7666, floatPayload(1.25, 10)),
		crdt.NewAppend(666, 1100, 1, []byte("click")),
		crdt.NewDeleteComponent(12, 1, 8),
		crdt.NewPut(13, 2, 0, nil),
		crdt.NewDeleteEntity(666),
	}
	batch, err := EncodeBatch(msgs)
	require.NoError(t, err)
	return msgs, batch
}

func TestStream_ArbitraryChunkSizes(t *testing.T) {
	want, batch := sampleBatch(t)

	for _, zeroCopy := range []bool{false, true} {
		for chunk := 1; chunk <= len(batch); chunk += 3 {
			var dec *Decoder
			if zeroCopy {
				dec = NewDecoder(nil)
			} else {
				dec = NewDecoder(pool.NewArena(pool.DefaultConfig()))
			}
			s := NewStream(dec, 0)

			var got []crdt.Message
			for off := 0; off < len(batch); off += chunk {
				end := min(off+chunk, len(batch))
				var err error
				got, err = s.FeedInto(got, batch[off:end])
				require.NoError(t, err)
			}

			requireMessages(t, want, got)
			assert.Equal(t, 0, s.Pending(), "chunk %d", chunk)
		}
	}
}

func TestStream_KeepsPartialTail(t *testing.T) {
	_, batch := sampleBatch(t)
	s := NewStream(NewDecoder(pool.NewArena(pool.DefaultConfig())), 0)

	msgs, err := s.Feed(batch[:30])
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, 30, s.Pending())
}

func TestStream_RejectsCorruptedFrame(t *testing.T) {
	s := NewStream(NewDecoder(nil), 0)

	_, err := s.Feed([]byte{2, 0, 0, 0, 1, 0, 0, 0})
	assert.ErrorIs(t, err, crdt.ErrMalformed)
	assert.Equal(t, 0, s.Pending())
}

func TestStream_RejectsOversizedDeclaration(t *testing.T) {
	s := NewStream(NewDecoder(nil), 1024)

	_, err := s.Feed([]byte{0, 0, 1, 0})
	assert.ErrorIs(t, err, crdt.ErrMalformed)
	assert.Equal(t, 0, s.Pending())
}
