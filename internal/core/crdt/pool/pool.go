// Package pool provides the byte buffers that hold decoded CRDT payloads.
//
// Ownership is transferred on Rent and handed back on Return; a buffer must not be
// touched after it has been returned. The Arena is single-threaded, Locked wraps it
// for decoders running on several goroutines.
package pool

import (
	"math/bits"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

const (
	DefaultMinClassSize    = 64
	DefaultMaxClassSize    = 64 * 1024
	DefaultMaxFreePerClass = 256
)

// Allocator rents and reclaims payload buffers.
type Allocator interface {
	Rent(length int) *Buffer
	Return(buf *Buffer)
}

// Buffer is a rented byte span. Bytes has exactly the requested length.
type Buffer struct {
	data  []byte
	class int // -1 for oversized buffers that are never pooled
}

// Bytes returns the writable span.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return cap(b.data)
}

// Config sizes the arena.
type Config struct {
	MinClassSize    int
	MaxClassSize    int
	MaxFreePerClass int
	// Prewarm buffers allocated up front for every class.
	Prewarm int
}

// DefaultConfig returns the sizes used by scenes unless overridden.
func DefaultConfig() Config {
	return Config{
		MinClassSize:    DefaultMinClassSize,
		MaxClassSize:    DefaultMaxClassSize,
		MaxFreePerClass: DefaultMaxFreePerClass,
		Prewarm:         0,
	}
}

// Stats is a point-in-time view of the arena counters.
type Stats struct {
	Rents     uint64
	Returns   uint64
	Overflows uint64
	Oversized uint64
	Free      int
}

// Arena is a free-list pool with power-of-two size classes.
type Arena struct {
	minShift  int
	classes   [][]*Buffer
	classSize []int
	maxFree   int
	stats     Stats
	logger    log.Log
}

var _ Allocator = (*Arena)(nil)

// Option customises an Arena.
type Option func(*Arena)

// WithLogger reports overflow allocations as soft warnings.
func WithLogger(logger log.Log) Option {
	return func(a *Arena) {
		a.logger = logger.With(log.String("component", "buffer_pool"))
	}
}

// NewArena creates an arena. Zero fields of cfg fall back to defaults.
func NewArena(cfg Config, opts ...Option) *Arena {
	def := DefaultConfig()
	if cfg.MinClassSize <= 0 {
		cfg.MinClassSize = def.MinClassSize
	}
	if cfg.MaxClassSize < cfg.MinClassSize {
		cfg.MaxClassSize = max(def.MaxClassSize, cfg.MinClassSize)
	}
	if cfg.MaxFreePerClass <= 0 {
		cfg.MaxFreePerClass = def.MaxFreePerClass
	}

	minShift := ceilLog2(cfg.MinClassSize)
	maxShift := ceilLog2(cfg.MaxClassSize)

	a := &Arena{
		minShift:  minShift,
		classes:   make([][]*Buffer, maxShift-minShift+1),
		classSize: make([]int, maxShift-minShift+1),
		maxFree:   cfg.MaxFreePerClass,
	}
	for i := range a.classes {
		a.classSize[i] = 1 << (minShift + i)
		warm := min(cfg.Prewarm, cfg.MaxFreePerClass)
		a.classes[i] = make([]*Buffer, 0, warm)
		for j := 0; j < warm; j++ {
			a.classes[i] = append(a.classes[i], a.allocate(i))
		}
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Rent returns a buffer of exactly length bytes. It never fails: an empty class
// allocates a fresh buffer and counts an overflow.
func (a *Arena) Rent(length int) *Buffer {
	if length < 0 {
		length = 0
	}
	a.stats.Rents++

	class := a.classFor(length)
	if class < 0 {
		a.stats.Oversized++
		return &Buffer{data: make([]byte, length), class: -1}
	}

	free := a.classes[class]
	if n := len(free); n > 0 {
		buf := free[n-1]
		free[n-1] = nil
		a.classes[class] = free[:n-1]
		buf.data = buf.data[:length]
		return buf
	}

	a.stats.Overflows++
	if a.logger != nil && isPowerOfTwo(a.stats.Overflows) {
		a.logger.Warn("buffer pool class exhausted, allocating",
			log.Int("class_size", a.classSize[class]),
			log.Uint64("overflows", a.stats.Overflows),
		)
	}

	buf := a.allocate(class)
	buf.data = buf.data[:length]
	return buf
}

// Return hands buf back to the arena. Nil and oversized buffers are dropped.
func (a *Arena) Return(buf *Buffer) {
	if buf == nil {
		return
	}
	a.stats.Returns++
	if buf.class < 0 || buf.class >= len(a.classes) {
		buf.data = nil
		return
	}
	if len(a.classes[buf.class]) >= a.maxFree {
		buf.data = nil
		return
	}
	buf.data = buf.data[:0]
	a.classes[buf.class] = append(a.classes[buf.class], buf)
}

// Stats returns the arena counters.
func (a *Arena) Stats() Stats {
	s := a.stats
	for _, free := range a.classes {
		s.Free += len(free)
	}
	return s
}

func (a *Arena) allocate(class int) *Buffer {
	return &Buffer{data: make([]byte, 0, a.classSize[class]), class: class}
}

func (a *Arena) classFor(length int) int {
	if length > a.classSize[len(a.classSize)-1] {
		return -1
	}
	shift := ceilLog2(length)
	if shift <= a.minShift {
		return 0
	}
	return shift - a.minShift
}

func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func isPowerOfTwo(n uint64) bool {
	return n&(n-1) == 0
}
