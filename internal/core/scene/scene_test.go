package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/codec"
	"github.com/zeusync/crdtsync/internal/core/crdt/state"
)

func batchOf(t *testing.T, msgs ...crdt.Message) []byte {
	t.Helper()
	out, err := codec.EncodeBatch(msgs)
	require.NoError(t, err)
	return out
}

func TestScene_ReceiveReconcilesInOrder(t *testing.T) {
	s := New("s1", DefaultConfig(), nil)
	defer s.Close()

	fresh := crdt.NewPut(1, 1, 10, []byte("new"))
	stale := crdt.NewPut(1, 1, 5, []byte("old"))
	appended := crdt.NewAppend(2, 1100, 1, []byte("evt"))

	report, err := s.Receive(batchOf(t, fresh, stale, appended))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, batchOf(t, fresh, appended), report.Forward)

	require.Len(t, report.Sync.Changes, 2)
	assert.Equal(t, state.EffectComponentAdded, report.Sync.Changes[0].Effect)
	assert.Equal(t, []byte("new"), report.Sync.Changes[0].Data)

	got, ok := s.Get(1, 1)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got.Data)
	assert.Len(t, s.GetLog(2, 1100), 1)
}

func TestScene_ReceiveLeavesPartialTail(t *testing.T) {
	s := New("s1", DefaultConfig(), nil)
	defer s.Close()

	full := batchOf(t, crdt.NewPut(1, 1, 1, []byte("a")), crdt.NewPut(2, 1, 1, []byte("b")))
	report, err := s.Receive(full[:len(full)-1])
	require.NoError(t, err)

	assert.Equal(t, crdt.ComponentHeaderSize+1, report.Consumed)
	assert.Equal(t, 1, report.Applied)
}

func TestScene_FeedMatchesReceive(t *testing.T) {
	batch := batchOf(t,
		crdt.NewPut(1, 1, 3, []byte("position")),
		crdt.NewAppend(1, 2, 4, []byte("click")),
		crdt.NewDeleteComponent(1, 1, 3),
		crdt.NewPut(3, 5, 1, nil),
	)

	whole := New("whole", DefaultConfig(), nil)
	_, err := whole.Receive(batch)
	require.NoError(t, err)

	chunked := New("chunked", DefaultConfig(), nil)
	for off := 0; off < len(batch); off += 7 {
		_, err := chunked.Feed(batch[off:min(off+7, len(batch))])
		require.NoError(t, err)
	}

	want, err := whole.Digest()
	require.NoError(t, err)
	got, err := chunked.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScene_StateRestoresIntoFreshScene(t *testing.T) {
	src := New("src", DefaultConfig(), nil)
	_, err := src.Receive(batchOf(t,
		crdt.NewPut(10, 1, 7, []byte("x")),
		crdt.NewAppend(10, 2, 1, []byte("y")),
		crdt.NewPut(11, 1, 2, []byte("z")),
	))
	require.NoError(t, err)

	snapshot, err := src.State()
	require.NoError(t, err)

	dst := New("dst", DefaultConfig(), nil)
	require.NoError(t, dst.Restore(snapshot))

	want, _ := src.Digest()
	got, _ := dst.Digest()
	assert.Equal(t, want, got)
	assert.Equal(t, src.Stats().Messages, dst.Stats().Messages)

	err = New("broken", DefaultConfig(), nil).Restore(snapshot[:len(snapshot)-2])
	assert.ErrorIs(t, err, ErrSnapshotTruncated)
}

func TestScene_ChangesSince(t *testing.T) {
	s := New("s", DefaultConfig(), nil)
	_, err := s.Receive(batchOf(t, crdt.NewPut(1, 1, 1, []byte("a")), crdt.NewPut(1, 2, 9, []byte("b"))))
	require.NoError(t, err)

	out, err := s.ChangesSince(5)
	require.NoError(t, err)
	assert.Equal(t, batchOf(t, crdt.NewPut(1, 2, 9, []byte("b"))), out)
}

func TestScene_KnownComponentsFilterSync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KnownComponents = []crdt.ComponentID{1}
	s := New("s", cfg, nil)

	report, err := s.Receive(batchOf(t, crdt.NewPut(1, 1, 1, nil), crdt.NewPut(1, 2, 1, nil)))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Applied)
	require.Len(t, report.Sync.Changes, 1)
	assert.Equal(t, crdt.ComponentID(1), report.Sync.Changes[0].Component)
}

func TestScene_CloseReleasesBuffers(t *testing.T) {
	s := New("s", DefaultConfig(), nil)
	_, err := s.Receive(batchOf(t, crdt.NewPut(1, 1, 1, []byte("a")), crdt.NewAppend(1, 2, 1, []byte("b"))))
	require.NoError(t, err)

	s.Close()
	stats := s.Stats()
	assert.Equal(t, stats.Pool.Rents, stats.Pool.Returns)

	_, err = s.Receive(nil)
	assert.ErrorIs(t, err, ErrSceneClosed)
	_, err = s.State()
	assert.ErrorIs(t, err, ErrSceneClosed)
}

func TestScene_StreamsBufferIndependently(t *testing.T) {
	s := New("s", DefaultConfig(), nil)
	a, b := s.NewStream(), s.NewStream()

	first := batchOf(t, crdt.NewPut(1, 1, 1, []byte("from-a")))
	second := batchOf(t, crdt.NewPut(2, 1, 1, []byte("from-b")))

	_, err := a.Write(first[:5])
	require.NoError(t, err)
	_, err = b.Write(second[:9])
	require.NoError(t, err)
	assert.Equal(t, 5, a.Pending())

	report, err := a.Write(first[5:])
	require.NoError(t, err)
	assert.Equal(t, first, report.Forward)

	report, err = b.Write(second[9:])
	require.NoError(t, err)
	assert.Equal(t, second, report.Forward)
	assert.Equal(t, 2, s.Stats().Entities)
}

func TestScene_SyncPayloadsOutliveLaterBatches(t *testing.T) {
	s := New("s", DefaultConfig(), nil)
	defer s.Close()

	first, err := s.Receive(batchOf(t, crdt.NewPut(1, 1, 1, []byte("aaaa"))))
	require.NoError(t, err)
	require.Len(t, first.Sync.Changes, 1)
	held := first.Sync.Changes[0].Data

	_, err = s.Receive(batchOf(t, crdt.NewPut(1, 1, 2, []byte("bbbb"))))
	require.NoError(t, err)
	_, err = s.Receive(batchOf(t, crdt.NewPut(2, 1, 1, []byte("cccc"))))
	require.NoError(t, err)

	assert.Equal(t, []byte("aaaa"), held)
}

func TestScene_CloseWithState(t *testing.T) {
	s := New("s", DefaultConfig(), nil)
	batch := batchOf(t, crdt.NewPut(3, 1, 1, []byte("final")))
	_, err := s.Receive(batch)
	require.NoError(t, err)

	data, err := s.CloseWithState()
	require.NoError(t, err)
	assert.Equal(t, batch, data)

	_, err = s.Receive(batch)
	assert.ErrorIs(t, err, ErrSceneClosed)
	_, err = s.CloseWithState()
	assert.ErrorIs(t, err, ErrSceneClosed)

	stats := s.Stats()
	assert.Equal(t, stats.Pool.Rents, stats.Pool.Returns)
}
