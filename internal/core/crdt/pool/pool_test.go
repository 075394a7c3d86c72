package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

func TestArena_RentReturnsExactLength(t *testing.T) {
	a := NewArena(Config{MinClassSize: 16, MaxClassSize: 256})

	for _, n := range []int{0, 1, 15, 16, 17, 100, 256} {
		buf := a.Rent(n)
		require.Equal(t, n, buf.Len(), "length %d", n)
		assert.GreaterOrEqual(t, buf.Cap(), n)
		a.Return(buf)
	}
}

func TestArena_ReusesReturnedBuffers(t *testing.T) {
	a := NewArena(Config{MinClassSize: 16, MaxClassSize: 256})

	first := a.Rent(40)
	a.Return(first)

	second := a.Rent(60) // same 64-byte class
	assert.Same(t, first, second)
	assert.Equal(t, 60, second.Len())

	stats := a.Stats()
	assert.EqualValues(t, 2, stats.Rents)
	assert.EqualValues(t, 1, stats.Returns)
	assert.EqualValues(t, 1, stats.Overflows)
	assert.Equal(t, 0, stats.Free)
}

func TestArena_PrewarmAvoidsOverflow(t *testing.T) {
	a := NewArena(Config{MinClassSize: 64, MaxClassSize: 128, Prewarm: 2})
	require.Equal(t, 4, a.Stats().Free)

	a.Rent(10)
	a.Rent(10)
	assert.EqualValues(t, 0, a.Stats().Overflows)

	a.Rent(10)
	assert.EqualValues(t, 1, a.Stats().Overflows)
}

func TestArena_OversizedIsNotPooled(t *testing.T) {
	a := NewArena(Config{MinClassSize: 16, MaxClassSize: 64})

	big := a.Rent(1000)
	require.Equal(t, 1000, big.Len())
	a.Return(big)

	stats := a.Stats()
	assert.EqualValues(t, 1, stats.Oversized)
	assert.Equal(t, 0, stats.Free)
}

func TestArena_FreeListIsBounded(t *testing.T) {
	a := NewArena(Config{MinClassSize: 16, MaxClassSize: 16, MaxFreePerClass: 2})

	bufs := []*Buffer{a.Rent(8), a.Rent(8), a.Rent(8)}
	for _, b := range bufs {
		a.Return(b)
	}
	assert.Equal(t, 2, a.Stats().Free)

	a.Return(nil)
	assert.EqualValues(t, 3, a.Stats().Returns)
}

func TestArena_OverflowIsLoggedAsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := NewArena(Config{MinClassSize: 16, MaxClassSize: 16}, WithLogger(log.FromZap(zap.New(core))))

	for i := 0; i < 3; i++ {
		a.Rent(4)
	}

	// overflow counter 1 and 2 are powers of two, 3 is not
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "buffer_pool", logs.All()[0].ContextMap()["component"])
}

func TestLocked_ConcurrentRentReturn(t *testing.T) {
	l := NewLocked(NewArena(DefaultConfig()))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				buf := l.Rent(i%300 + g)
				buf.Bytes()[0] = byte(g)
				l.Return(buf)
			}
		}(g + 1)
	}
	wg.Wait()

	stats := l.Stats()
	assert.Equal(t, stats.Rents, stats.Returns)
	assert.EqualValues(t, 8*500, stats.Rents)
}
