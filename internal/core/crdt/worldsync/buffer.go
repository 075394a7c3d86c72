// Package worldsync folds the reconciliation effects of one batch into a single
// final change per (entity, component), so the rendering side deserialises each
// component at most once per batch.
package worldsync

import (
	"errors"
	"slices"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/state"
)

var ErrFinalized = errors.New("world sync buffer is already finalized")

type effectPair struct {
	first, last state.Effect
}

// mergeMatrix resolves the first and last effect seen in a batch.
var mergeMatrix = map[effectPair]state.Effect{
	{state.EffectComponentAdded, state.EffectComponentAdded}:    state.EffectComponentAdded,
	{state.EffectComponentAdded, state.EffectComponentModified}: state.EffectComponentAdded,
	{state.EffectComponentAdded, state.EffectComponentDeleted}:  state.EffectNoChanges,

	{state.EffectComponentModified, state.EffectComponentAdded}:    state.EffectComponentModified,
	{state.EffectComponentModified, state.EffectComponentModified}: state.EffectComponentModified,
	{state.EffectComponentModified, state.EffectComponentDeleted}:  state.EffectComponentDeleted,

	{state.EffectComponentDeleted, state.EffectComponentAdded}:    state.EffectComponentModified,
	{state.EffectComponentDeleted, state.EffectComponentModified}: state.EffectComponentModified,
	{state.EffectComponentDeleted, state.EffectComponentDeleted}:  state.EffectComponentDeleted,
}

// Change is the resolved outcome for one component.
type Change struct {
	Entity    crdt.EntityID
	Component crdt.ComponentID
	Effect    state.Effect
	Timestamp uint32
	// Data is the payload of the last message; nil for deletions.
	Data []byte
}

// Batch is what Finalize hands to the world: entity deletions first, then changes
// in the order their components were first touched.
type Batch struct {
	DeletedEntities []crdt.EntityID
	Changes         []Change
}

func (b Batch) Empty() bool {
	return len(b.DeletedEntities) == 0 && len(b.Changes) == 0
}

type pending struct {
	seq     int
	effects effectPair
	last    crdt.Message
}

// Buffer accumulates effects. Not safe for concurrent use.
type Buffer struct {
	entries   map[crdt.EntityID]map[crdt.ComponentID]*pending
	deleted   []crdt.EntityID
	known     func(crdt.ComponentID) bool
	seq       int
	finalized bool
}

type Option func(*Buffer)

// WithComponentFilter ignores components the renderer has no bridge for.
func WithComponentFilter(known func(crdt.ComponentID) bool) Option {
	return func(b *Buffer) {
		b.known = known
	}
}

func New(opts ...Option) *Buffer {
	b := &Buffer{entries: make(map[crdt.EntityID]map[crdt.ComponentID]*pending)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sync records the effect reconciliation reported for m. Messages must be passed
// in the order they were applied. It returns the effect as recorded.
func (b *Buffer) Sync(m crdt.Message, effect state.Effect) (state.Effect, error) {
	if b.finalized {
		return state.EffectNoChanges, ErrFinalized
	}

	switch effect {
	case state.EffectEntityDeleted:
		if !slices.Contains(b.deleted, m.Entity) {
			b.deleted = append(b.deleted, m.Entity)
		}
		delete(b.entries, m.Entity)
		return effect, nil

	case state.EffectComponentAdded, state.EffectComponentModified, state.EffectComponentDeleted:
		if b.known != nil && !b.known(m.Component) {
			return state.EffectNoChanges, nil
		}

		components, ok := b.entries[m.Entity]
		if !ok {
			components = make(map[crdt.ComponentID]*pending)
			b.entries[m.Entity] = components
		}
		if p, ok := components[m.Component]; ok {
			p.effects.last = effect
			p.last = m
			return effect, nil
		}

		b.seq++
		components[m.Component] = &pending{
			seq:     b.seq,
			effects: effectPair{first: effect, last: effect},
			last:    m,
		}
		return effect, nil
	}

	return effect, nil
}

// Finalize resolves every pending component and locks the buffer.
func (b *Buffer) Finalize() (Batch, error) {
	if b.finalized {
		return Batch{}, ErrFinalized
	}
	b.finalized = true

	var all []*pending
	for _, components := range b.entries {
		for _, p := range components {
			all = append(all, p)
		}
	}
	slices.SortFunc(all, func(x, y *pending) int { return x.seq - y.seq })

	out := Batch{DeletedEntities: slices.Clone(b.deleted)}
	for _, p := range all {
		final, ok := mergeMatrix[p.effects]
		if !ok || final == state.EffectNoChanges {
			continue
		}
		change := Change{
			Entity:    p.last.Entity,
			Component: p.last.Component,
			Effect:    final,
			Timestamp: p.last.Timestamp,
		}
		if final != state.EffectComponentDeleted {
			change.Data = append([]byte{}, p.last.Data...)
		}
		out.Changes = append(out.Changes, change)
	}
	return out, nil
}

// Pending is the number of components with recorded effects.
func (b *Buffer) Pending() int {
	n := 0
	for _, components := range b.entries {
		n += len(components)
	}
	return n
}

// Reset empties the buffer for the next batch.
func (b *Buffer) Reset() {
	clear(b.entries)
	b.deleted = b.deleted[:0]
	b.seq = 0
	b.finalized = false
}
