package generic

import "sync"

// Pool is a typed sync.Pool. Values are passed through reset before being put back.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) T
}

// NewResetPool creates a pool whose values are cleaned by reset on Put.
func NewResetPool[T any](generate func() T, reset func(T) T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

// NewHotPool is NewResetPool with hotSize values created up front.
func NewHotPool[T any](generate func() T, reset func(T) T, hotSize int) *Pool[T] {
	p := NewResetPool(generate, reset)
	for i := 0; i < hotSize; i++ {
		p.pool.Put(generate())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		value = p.reset(value)
	}
	p.pool.Put(value)
}
