package state

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/codec"
)

// CurrentState lists the messages that rebuild this store from scratch, ordered by
// entity, then PUT components, then append logs. The messages borrow the store's
// payloads and must not be released or kept across the next Apply.
func (s *Store) CurrentState() []crdt.Message {
	return s.collect(func(crdt.Message) bool { return true })
}

// ChangesSince is CurrentState restricted to entries with a timestamp after since.
func (s *Store) ChangesSince(since uint32) []crdt.Message {
	return s.collect(func(m crdt.Message) bool { return m.Timestamp > since })
}

func (s *Store) collect(keep func(crdt.Message) bool) []crdt.Message {
	out := make([]crdt.Message, 0, s.messages)
	for _, id := range s.Entities() {
		es := s.entities[id]

		components := make([]crdt.ComponentID, 0, len(es.lww))
		for c := range es.lww {
			components = append(components, c)
		}
		slices.Sort(components)
		for _, c := range components {
			if m := borrowed(es.lww[c]); keep(m) {
				out = append(out, m)
			}
		}

		components = components[:0]
		for c := range es.logs {
			components = append(components, c)
		}
		slices.Sort(components)
		for _, c := range components {
			for _, entry := range es.logs[c] {
				if m := borrowed(entry); keep(m) {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// borrowed strips ownership so a caller releasing the copy cannot free stored data.
func borrowed(m crdt.Message) crdt.Message {
	return crdt.Message{
		Type:      m.Type,
		Entity:    m.Entity,
		Component: m.Component,
		Timestamp: m.Timestamp,
		Data:      m.Data,
	}
}

// StateSize is the number of bytes AppendState will write.
func (s *Store) StateSize() int {
	size := 0
	for _, m := range s.CurrentState() {
		size += m.EncodedLen()
	}
	return size
}

// AppendState encodes the current state onto dst.
func (s *Store) AppendState(dst []byte) ([]byte, error) {
	msgs := s.CurrentState()

	size := 0
	for i := range msgs {
		size += msgs[i].EncodedLen()
	}
	dst = slices.Grow(dst, size)

	var err error
	for i := range msgs {
		if dst, err = codec.Append(dst, msgs[i]); err != nil {
			return dst, fmt.Errorf("encode state: %w", err)
		}
	}
	return dst, nil
}

// EncodeState returns the full state as one batch.
func (s *Store) EncodeState() ([]byte, error) {
	return s.AppendState(nil)
}

// Digest hashes the encoded current state. Two stores that converged to the same
// state have the same digest.
func (s *Store) Digest() uint64 {
	d := xxhash.New()
	var scratch []byte
	for _, m := range s.CurrentState() {
		scratch = scratch[:0]
		scratch, _ = codec.Append(scratch, m)
		_, _ = d.Write(scratch)
	}
	return d.Sum64()
}
