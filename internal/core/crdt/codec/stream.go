package codec

import (
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/crdt"
)

// Stream frames messages out of chunks of arbitrary size, holding back the tail
// of a message that has not fully arrived yet.
type Stream struct {
	dec        *Decoder
	pending    []byte
	maxPending int
}

// NewStream wraps dec. maxMessageSize bounds a single declared message; 0 disables
// the bound.
func NewStream(dec *Decoder, maxMessageSize int) *Stream {
	return &Stream{dec: dec, maxPending: maxMessageSize}
}

// Feed appends chunk and returns the messages it completed. On a framing error the
// buffered bytes are discarded.
func (s *Stream) Feed(chunk []byte) ([]crdt.Message, error) {
	return s.FeedInto(nil, chunk)
}

func (s *Stream) FeedInto(dst []crdt.Message, chunk []byte) ([]crdt.Message, error) {
	s.pending = append(s.pending, chunk...)

	dst, n := s.dec.DecodeInto(dst, s.pending)
	rest := s.pending[n:]

	if length, state := peekFrame(rest); state == frameCorrupted {
		s.Reset()
		return dst, fmt.Errorf("%w: length %d below prefix size", crdt.ErrMalformed, length)
	} else if s.maxPending > 0 && len(rest) >= 4 && uint64(length) > uint64(s.maxPending) {
		s.Reset()
		return dst, fmt.Errorf("%w: declared length %d exceeds %d", crdt.ErrMalformed, length, s.maxPending)
	}

	if s.dec.ZeroCopy() {
		// decoded payloads alias pending, so the remainder must move elsewhere
		s.pending = append([]byte(nil), rest...)
	} else {
		s.pending = s.pending[:copy(s.pending, rest)]
	}
	return dst, nil
}

// Pending is the number of buffered bytes awaiting the rest of their message.
func (s *Stream) Pending() int {
	return len(s.pending)
}

// Reset drops buffered bytes.
func (s *Stream) Reset() {
	if s.dec.ZeroCopy() {
		s.pending = nil
		return
	}
	s.pending = s.pending[:0]
}
