// Package state holds the authoritative CRDT state of one world and merges incoming
// messages into it with last-write-wins semantics.
//
// A Store has a single writer. Apply must only ever be called from the goroutine
// that owns the world; nothing here takes a lock.
package state

import (
	"bytes"
	"slices"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

// DefaultMaxAppendEntries bounds each append log. A full log is cleared before the
// next entry is added.
const DefaultMaxAppendEntries = 100

// Entry is one stored value.
type Entry struct {
	Timestamp uint32
	Data      []byte
}

type entityState struct {
	lww  map[crdt.ComponentID]crdt.Message
	logs map[crdt.ComponentID][]crdt.Message
}

func (es *entityState) empty() bool {
	return len(es.lww) == 0 && len(es.logs) == 0
}

// Store maps (entity, component) onto the latest accepted value or append log.
type Store struct {
	alloc     pool.Allocator
	entities  map[crdt.EntityID]*entityState
	maxAppend int
	messages  int
	logger    log.Log
}

type Option func(*Store)

// WithMaxAppendEntries sets the append log bound; 0 means unbounded.
func WithMaxAppendEntries(n int) Option {
	return func(s *Store) {
		s.maxAppend = max(n, 0)
	}
}

func WithLogger(logger log.Log) Option {
	return func(s *Store) {
		s.logger = logger.With(log.String("component", "crdt_state"))
	}
}

// New creates an empty store. Payloads are released to alloc when superseded.
func New(alloc pool.Allocator, opts ...Option) *Store {
	s := &Store{
		alloc:     alloc,
		entities:  make(map[crdt.EntityID]*entityState),
		maxAppend: DefaultMaxAppendEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply merges m into the store and takes ownership of its payload: the caller
// must not use m.Data afterwards.
func (s *Store) Apply(m crdt.Message) Result {
	var res Result
	switch m.Type {
	case crdt.MessageTypePutComponent:
		res = s.applyPut(m)
	case crdt.MessageTypeDeleteComponent:
		res = s.applyDeleteComponent(m)
	case crdt.MessageTypeAppendComponent:
		res = s.applyAppend(m)
	case crdt.MessageTypeDeleteEntity:
		res = s.deleteEntity(m.Entity)
	default:
		m.Release(s.alloc)
		return Result{}
	}

	if s.logger != nil {
		s.logger.Debug("reconciled",
			log.String("type", m.Type.String()),
			log.Uint32("entity", uint32(m.Entity)),
			log.Uint32("component", uint32(m.Component)),
			log.Uint32("timestamp", m.Timestamp),
			log.String("result", res.State.String()),
		)
	}
	return res
}

func (s *Store) applyPut(m crdt.Message) Result {
	es := s.entity(m.Entity)
	stored, exists := es.lww[m.Component]

	switch {
	case !exists:
		es.lww[m.Component] = s.own(m)
		s.messages++
		return Result{State: StateUpdatedTimestamp, Effect: EffectComponentAdded}
	case m.Timestamp > stored.Timestamp:
		stored.Release(s.alloc)
		es.lww[m.Component] = s.own(m)
		return Result{State: StateUpdatedTimestamp, Effect: EffectComponentModified}
	case m.Timestamp < stored.Timestamp:
		m.Release(s.alloc)
		return Result{State: StateOutdatedTimestamp, Effect: EffectNoChanges}
	case bytes.Equal(stored.Data, m.Data):
		m.Release(s.alloc)
		return Result{State: NoChanges, Effect: EffectNoChanges}
	default:
		// equal timestamps, different payload: the incoming message wins
		stored.Release(s.alloc)
		es.lww[m.Component] = s.own(m)
		return Result{State: StateUpdatedData, Effect: EffectComponentModified}
	}
}

func (s *Store) applyDeleteComponent(m crdt.Message) Result {
	es, ok := s.entities[m.Entity]
	if !ok {
		return Result{}
	}
	stored, exists := es.lww[m.Component]
	if !exists {
		return Result{}
	}
	if m.Timestamp < stored.Timestamp {
		return Result{State: StateOutdatedTimestamp, Effect: EffectNoChanges}
	}

	stored.Release(s.alloc)
	delete(es.lww, m.Component)
	s.messages--
	s.dropIfEmpty(m.Entity, es)
	return Result{State: ComponentDeleted, Effect: EffectComponentDeleted}
}

func (s *Store) applyAppend(m crdt.Message) Result {
	es := s.entity(m.Entity)
	entries := es.logs[m.Component]

	if s.maxAppend > 0 && len(entries) >= s.maxAppend {
		for i := range entries {
			entries[i].Release(s.alloc)
		}
		s.messages -= len(entries)
		clear(entries)
		entries = entries[:0]
	}

	es.logs[m.Component] = append(entries, s.own(m))
	s.messages++
	return Result{State: StateAppendedData, Effect: EffectComponentAdded}
}

func (s *Store) deleteEntity(entity crdt.EntityID) Result {
	if es, ok := s.entities[entity]; ok {
		s.releaseEntity(es)
		delete(s.entities, entity)
	}
	return Result{State: EntityDeleted, Effect: EffectEntityDeleted}
}

func (s *Store) releaseEntity(es *entityState) {
	for _, stored := range es.lww {
		stored.Release(s.alloc)
		s.messages--
	}
	for _, entries := range es.logs {
		for i := range entries {
			entries[i].Release(s.alloc)
		}
		s.messages -= len(entries)
	}
}

// own makes sure the stored payload belongs to the store and not to a caller's
// input buffer.
func (s *Store) own(m crdt.Message) crdt.Message {
	if m.Pooled() || !m.Type.HasPayload() {
		return m
	}
	if s.alloc == nil {
		m.Data = append([]byte{}, m.Data...)
		return m
	}
	buf := s.alloc.Rent(len(m.Data))
	copy(buf.Bytes(), m.Data)
	return crdt.NewPooled(m.Type, m.Entity, m.Component, m.Timestamp, buf)
}

func (s *Store) entity(id crdt.EntityID) *entityState {
	es, ok := s.entities[id]
	if !ok {
		es = &entityState{
			lww:  make(map[crdt.ComponentID]crdt.Message),
			logs: make(map[crdt.ComponentID][]crdt.Message),
		}
		s.entities[id] = es
	}
	return es
}

func (s *Store) dropIfEmpty(id crdt.EntityID, es *entityState) {
	if es.empty() {
		delete(s.entities, id)
	}
}

// Get returns the PUT-managed value at (entity, component).
func (s *Store) Get(entity crdt.EntityID, component crdt.ComponentID) (Entry, bool) {
	es, ok := s.entities[entity]
	if !ok {
		return Entry{}, false
	}
	stored, ok := es.lww[component]
	if !ok {
		return Entry{}, false
	}
	return Entry{Timestamp: stored.Timestamp, Data: stored.Data}, true
}

// GetLog returns the APPEND-managed entries at (entity, component) in arrival order.
func (s *Store) GetLog(entity crdt.EntityID, component crdt.ComponentID) []Entry {
	es, ok := s.entities[entity]
	if !ok {
		return nil
	}
	entries := es.logs[component]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, m := range entries {
		out[i] = Entry{Timestamp: m.Timestamp, Data: m.Data}
	}
	return out
}

// Entities lists the entities holding any state, ascending.
func (s *Store) Entities() []crdt.EntityID {
	ids := make([]crdt.EntityID, 0, len(s.entities))
	for id, es := range s.entities {
		if !es.empty() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Components lists every component set on entity, PUT and APPEND alike, ascending.
func (s *Store) Components(entity crdt.EntityID) []crdt.ComponentID {
	es, ok := s.entities[entity]
	if !ok {
		return nil
	}
	ids := make([]crdt.ComponentID, 0, len(es.lww)+len(es.logs))
	for id := range es.lww {
		ids = append(ids, id)
	}
	for id, entries := range es.logs {
		if len(entries) > 0 && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// MessagesCount is the number of messages needed to describe the current state.
func (s *Store) MessagesCount() int {
	return s.messages
}

// Release returns every stored payload to the allocator and empties the store.
func (s *Store) Release() {
	for id, es := range s.entities {
		s.releaseEntity(es)
		delete(s.entities, id)
	}
	s.messages = 0
}
