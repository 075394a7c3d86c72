package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResetPool_ClearsOnPut(t *testing.T) {
	p := NewResetPool(
		func() *[]int { s := make([]int, 0, 8); return &s },
		func(s *[]int) *[]int { *s = (*s)[:0]; return s },
	)

	s := p.Get()
	*s = append(*s, 1, 2, 3)
	p.Put(s)

	got := p.Get()
	assert.Empty(t, *got)
}

func TestHotPool_Get(t *testing.T) {
	calls := 0
	p := NewHotPool(func() int { calls++; return 7 }, nil, 3)

	assert.Equal(t, 7, p.Get())
	assert.GreaterOrEqual(t, calls, 3)
}
