package pool

import "sync"

// Locked guards an Arena with a mutex so decoders on different goroutines can
// share one free list.
type Locked struct {
	mx    sync.Mutex
	arena *Arena
}

var _ Allocator = (*Locked)(nil)

func NewLocked(arena *Arena) *Locked {
	return &Locked{arena: arena}
}

func (l *Locked) Rent(length int) *Buffer {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.arena.Rent(length)
}

func (l *Locked) Return(buf *Buffer) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.arena.Return(buf)
}

func (l *Locked) Stats() Stats {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.arena.Stats()
}
