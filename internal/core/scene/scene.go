// Package scene binds the codec, the buffer pool and the state store into one
// replicated world, and keeps a registry of worlds.
package scene

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/codec"
	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
	"github.com/zeusync/crdtsync/internal/core/crdt/state"
	"github.com/zeusync/crdtsync/internal/core/crdt/worldsync"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/pkg/generic"
)

// ID identifies a scene.
type ID string

// NewID generates a random scene ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// Config holds per-scene tuning.
type Config struct {
	Pool             pool.Config
	MaxAppendEntries int
	// MaxMessageSize bounds a single streamed message, 0 disables the bound.
	MaxMessageSize int
	// KnownComponents restricts the world sync output; empty means all.
	KnownComponents []crdt.ComponentID
	// Allocator, when set, is shared with other scenes instead of a per-scene
	// arena. It must be safe for concurrent use.
	Allocator Allocator
}

// Allocator is a buffer source that also reports its counters.
type Allocator interface {
	pool.Allocator
	Stats() pool.Stats
}

// DefaultConfig returns the defaults used by the hub.
func DefaultConfig() Config {
	return Config{
		Pool:             pool.DefaultConfig(),
		MaxAppendEntries: state.DefaultMaxAppendEntries,
		MaxMessageSize:   1024 * 1024,
	}
}

// Report summarises one reconciliation pass.
type Report struct {
	Consumed int
	Applied  int
	Dropped  int
	// Sync holds copies of the changed payloads.
	Sync worldsync.Batch
	// Forward holds the re-encoded messages that changed state, in receipt order.
	Forward []byte
}

// Stats is a snapshot of the scene counters.
type Stats struct {
	Messages  int
	Entities  int
	Pool      pool.Stats
	Skipped   uint64
	Corrupted uint64
}

var messageSlices = generic.NewHotPool(
	func() *[]crdt.Message {
		s := make([]crdt.Message, 0, 64)
		return &s
	},
	func(s *[]crdt.Message) *[]crdt.Message {
		clear(*s)
		*s = (*s)[:0]
		return s
	},
	8,
)

// Scene is a single world. Calls are serialised by an internal mutex so the
// store underneath keeps exactly one writer.
type Scene struct {
	id ID

	mx      sync.Mutex
	arena   Allocator
	decoder *codec.Decoder
	feed    *Stream
	store   *state.Store
	sync    *worldsync.Buffer
	logger  log.Log
	closed  bool

	maxMessageSize int
}

// New creates an empty scene.
func New(id ID, cfg Config, logger log.Log) *Scene {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With(log.String("scene", string(id)))

	var arena Allocator = cfg.Allocator
	if arena == nil {
		arena = pool.NewArena(cfg.Pool, pool.WithLogger(logger))
	}
	decoder := codec.NewDecoder(arena, codec.WithDecoderLogger(logger))

	var syncOpts []worldsync.Option
	if len(cfg.KnownComponents) > 0 {
		known := make(map[crdt.ComponentID]struct{}, len(cfg.KnownComponents))
		for _, c := range cfg.KnownComponents {
			known[c] = struct{}{}
		}
		syncOpts = append(syncOpts, worldsync.WithComponentFilter(func(c crdt.ComponentID) bool {
			_, ok := known[c]
			return ok
		}))
	}

	s := &Scene{
		id:             id,
		arena:          arena,
		decoder:        decoder,
		store:          state.New(arena, state.WithMaxAppendEntries(cfg.MaxAppendEntries)),
		sync:           worldsync.New(syncOpts...),
		logger:         logger,
		maxMessageSize: cfg.MaxMessageSize,
	}
	s.feed = s.NewStream()
	return s
}

func (s *Scene) ID() ID {
	return s.id
}

// Receive decodes a complete batch and applies it in receipt order. A trailing
// partial message is not consumed; Report.Consumed says how far decoding got.
func (s *Scene) Receive(batch []byte) (Report, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return Report{}, ErrSceneClosed
	}

	msgs := messageSlices.Get()
	defer messageSlices.Put(msgs)

	var consumed int
	*msgs, consumed = s.decoder.DecodeInto(*msgs, batch)

	report, err := s.apply(*msgs)
	report.Consumed = consumed
	return report, err
}

// Feed accepts an arbitrary chunk of a byte stream, buffering partial messages
// between calls. Every independent source should use its own Stream instead.
func (s *Scene) Feed(chunk []byte) (Report, error) {
	return s.feed.Write(chunk)
}

// Stream is one byte stream into a scene. Partial messages are buffered per
// stream, so concurrent sources do not interleave.
type Stream struct {
	scene  *Scene
	stream *codec.Stream
}

// NewStream opens a stream into the scene.
func (s *Scene) NewStream() *Stream {
	return &Stream{
		scene:  s,
		stream: codec.NewStream(s.decoder, s.maxMessageSize),
	}
}

// Write feeds a chunk and applies every message it completes.
func (st *Stream) Write(chunk []byte) (Report, error) {
	s := st.scene
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return Report{}, ErrSceneClosed
	}

	msgs := messageSlices.Get()
	defer messageSlices.Put(msgs)

	var feedErr error
	*msgs, feedErr = st.stream.FeedInto(*msgs, chunk)
	if feedErr != nil {
		s.logger.Warn("dropping corrupted stream data", log.Err(feedErr))
	}

	report, err := s.apply(*msgs)
	report.Consumed = len(chunk)
	if feedErr != nil {
		return report, feedErr
	}
	return report, err
}

// Pending is the number of buffered bytes of an incomplete message.
func (st *Stream) Pending() int {
	st.scene.mx.Lock()
	defer st.scene.mx.Unlock()
	return st.stream.Pending()
}

// Close drops any buffered partial message.
func (st *Stream) Close() {
	st.scene.mx.Lock()
	defer st.scene.mx.Unlock()
	st.stream.Reset()
}

func (s *Scene) apply(msgs []crdt.Message) (Report, error) {
	var report Report
	s.sync.Reset()

	for i := range msgs {
		m := msgs[i]

		mark := len(report.Forward)
		forward, err := codec.Append(report.Forward, m)
		if err != nil {
			for j := i; j < len(msgs); j++ {
				msgs[j].Release(s.arena)
			}
			return report, fmt.Errorf("forward message %d: %w", i, err)
		}

		res := s.store.Apply(m)
		if !res.Changed() {
			report.Forward = forward[:mark]
			report.Dropped++
			continue
		}
		report.Forward = forward
		report.Applied++

		if _, err := s.sync.Sync(m, res.Effect); err != nil {
			return report, fmt.Errorf("world sync: %w", err)
		}
	}

	batch, err := s.sync.Finalize()
	if err != nil {
		return report, fmt.Errorf("world sync: %w", err)
	}
	report.Sync = batch

	if len(msgs) > 0 {
		s.logger.Debug("batch reconciled",
			log.Int("messages", len(msgs)),
			log.Int("applied", report.Applied),
			log.Int("dropped", report.Dropped),
		)
	}
	return report, nil
}

// State encodes the full current state as one batch.
func (s *Scene) State() ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return nil, ErrSceneClosed
	}
	return s.store.EncodeState()
}

// ChangesSince encodes the entries stamped after since.
func (s *Scene) ChangesSince(since uint32) ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return nil, ErrSceneClosed
	}
	return codec.EncodeBatch(s.store.ChangesSince(since))
}

// Digest fingerprints the current state.
func (s *Scene) Digest() (uint64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return 0, ErrSceneClosed
	}
	return s.store.Digest(), nil
}

// Get reads a PUT-managed component.
func (s *Scene) Get(entity crdt.EntityID, component crdt.ComponentID) (state.Entry, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	entry, ok := s.store.Get(entity, component)
	if ok {
		entry.Data = append([]byte{}, entry.Data...)
	}
	return entry, ok
}

// GetLog reads an APPEND-managed component.
func (s *Scene) GetLog(entity crdt.EntityID, component crdt.ComponentID) []state.Entry {
	s.mx.Lock()
	defer s.mx.Unlock()

	entries := s.store.GetLog(entity, component)
	for i := range entries {
		entries[i].Data = append([]byte{}, entries[i].Data...)
	}
	return entries
}

// Restore applies a snapshot produced by State.
func (s *Scene) Restore(snapshot []byte) error {
	report, err := s.Receive(snapshot)
	if err != nil {
		return err
	}
	if report.Consumed != len(snapshot) {
		return fmt.Errorf("%w: %d of %d bytes", ErrSnapshotTruncated, report.Consumed, len(snapshot))
	}
	return nil
}

func (s *Scene) Stats() Stats {
	s.mx.Lock()
	defer s.mx.Unlock()

	return Stats{
		Messages:  s.store.MessagesCount(),
		Entities:  len(s.store.Entities()),
		Pool:      s.arena.Stats(),
		Skipped:   s.decoder.Skipped(),
		Corrupted: s.decoder.Corrupted(),
	}
}

// CloseWithState encodes the final state and closes the scene under one lock,
// so no write can land between the two.
func (s *Scene) CloseWithState() ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return nil, ErrSceneClosed
	}
	data, err := s.store.EncodeState()
	s.closeLocked()
	return data, err
}

// Close releases every pooled buffer. Further calls return ErrSceneClosed.
func (s *Scene) Close() {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return
	}
	s.closeLocked()
}

func (s *Scene) closeLocked() {
	s.closed = true
	s.store.Release()
	s.feed.stream.Reset()
}
