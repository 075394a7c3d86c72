// Package codec reads and writes the CRDT wire format.
//
// Every message starts with a little-endian u32 length (the whole message, prefix
// included) and a u32 type. Batches are plain concatenations.
package codec

import (
	"encoding/binary"

	"github.com/zeusync/crdtsync/internal/core/crdt"
	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

var le = binary.LittleEndian

// Decoder turns byte batches into messages. It keeps counters only and is otherwise
// stateless; payloads are copied into buffers rented from its allocator.
type Decoder struct {
	alloc    pool.Allocator
	zeroCopy bool
	logger   log.Log

	skipped   uint64
	corrupted uint64
}

type DecoderOption func(*Decoder)

func WithDecoderLogger(logger log.Log) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger.With(log.String("component", "crdt_decoder"))
	}
}

// NewDecoder creates a decoder renting from alloc. With a nil alloc decoded
// payloads alias the input buffer instead, and the caller must keep the input
// alive and unmodified while the messages are in use.
func NewDecoder(alloc pool.Allocator, opts ...DecoderOption) *Decoder {
	d := &Decoder{alloc: alloc, zeroCopy: alloc == nil}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode parses every complete message in buf and reports how many bytes were
// consumed. A trailing partial message is left unconsumed.
func (d *Decoder) Decode(buf []byte) ([]crdt.Message, int) {
	return d.DecodeInto(nil, buf)
}

// DecodeInto appends the decoded messages to dst.
func (d *Decoder) DecodeInto(dst []crdt.Message, buf []byte) ([]crdt.Message, int) {
	offset := 0
	for {
		length, state := peekFrame(buf[offset:])
		if state == frameIncomplete {
			break
		}
		if state == frameCorrupted {
			d.corrupted++
			if d.logger != nil {
				d.logger.Warn("unframeable message length, stopping batch",
					log.Uint32("length", length),
					log.Int("offset", offset),
				)
			}
			break
		}

		frame := buf[offset : offset+int(length)]
		if msg, ok := d.parse(frame); ok {
			dst = append(dst, msg)
		} else {
			d.skipped++
			if d.logger != nil {
				d.logger.Debug("skipping message",
					log.Uint32("type", le.Uint32(frame[4:])),
					log.Uint32("length", length),
				)
			}
		}
		offset += int(length)
	}
	return dst, offset
}

// Skipped counts frames that were stepped over: unknown types and malformed headers.
func (d *Decoder) Skipped() uint64 {
	return d.skipped
}

// Corrupted counts batches cut short by a length field smaller than the prefix.
func (d *Decoder) Corrupted() uint64 {
	return d.corrupted
}

// ZeroCopy reports whether payloads alias the input.
func (d *Decoder) ZeroCopy() bool {
	return d.zeroCopy
}

func (d *Decoder) parse(frame []byte) (crdt.Message, bool) {
	t := crdt.MessageType(le.Uint32(frame[4:]))
	headerSize := t.HeaderSize()
	if headerSize == 0 || len(frame) < headerSize {
		return crdt.Message{}, false
	}

	entity := crdt.EntityID(le.Uint32(frame[8:]))
	if t == crdt.MessageTypeDeleteEntity {
		return crdt.NewDeleteEntity(entity), true
	}

	component := crdt.ComponentID(le.Uint32(frame[12:]))
	timestamp := le.Uint32(frame[16:])
	if t == crdt.MessageTypeDeleteComponent {
		return crdt.NewDeleteComponent(entity, component, timestamp), true
	}

	dataLength := le.Uint32(frame[20:])
	if uint64(dataLength) > uint64(len(frame)-crdt.ComponentHeaderSize) {
		return crdt.Message{}, false
	}
	payload := frame[crdt.ComponentHeaderSize : crdt.ComponentHeaderSize+int(dataLength)]

	if d.zeroCopy {
		return crdt.Message{
			Type:      t,
			Entity:    entity,
			Component: component,
			Timestamp: timestamp,
			Data:      payload[:len(payload):len(payload)],
		}, true
	}

	buf := d.alloc.Rent(len(payload))
	copy(buf.Bytes(), payload)
	return crdt.NewPooled(t, entity, component, timestamp, buf), true
}

type frameState uint8

const (
	frameComplete frameState = iota
	frameIncomplete
	frameCorrupted
)

// peekFrame inspects the length prefix at the start of buf.
func peekFrame(buf []byte) (uint32, frameState) {
	if len(buf) < 4 {
		return 0, frameIncomplete
	}
	length := le.Uint32(buf)
	if uint64(length) > uint64(len(buf)) {
		return length, frameIncomplete
	}
	if length < crdt.PrefixSize {
		return length, frameCorrupted
	}
	return length, frameComplete
}
