package crdt

import (
	"bytes"
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/crdt/pool"
)

// Message is the unit of replication. Data is immutable once constructed; when it
// was rented from a pool the message owns that buffer until Release.
type Message struct {
	Type      MessageType
	Entity    EntityID
	Component ComponentID
	Timestamp uint32
	Data      []byte

	buf *pool.Buffer
}

func NewPut(entity EntityID, component ComponentID, timestamp uint32, data []byte) Message {
	return Message{Type: MessageTypePutComponent, Entity: entity, Component: component, Timestamp: timestamp, Data: nonNil(data)}
}

func NewAppend(entity EntityID, component ComponentID, timestamp uint32, data []byte) Message {
	return Message{Type: MessageTypeAppendComponent, Entity: entity, Component: component, Timestamp: timestamp, Data: nonNil(data)}
}

func NewDeleteComponent(entity EntityID, component ComponentID, timestamp uint32) Message {
	return Message{Type: MessageTypeDeleteComponent, Entity: entity, Component: component, Timestamp: timestamp}
}

func NewDeleteEntity(entity EntityID) Message {
	return Message{Type: MessageTypeDeleteEntity, Entity: entity}
}

// NewPooled builds a PUT or APPEND message whose payload lives in buf.
func NewPooled(t MessageType, entity EntityID, component ComponentID, timestamp uint32, buf *pool.Buffer) Message {
	return Message{
		Type:      t,
		Entity:    entity,
		Component: component,
		Timestamp: timestamp,
		Data:      nonNil(buf.Bytes()),
		buf:       buf,
	}
}

// EncodedLen is the value of the length field: header plus payload.
func (m Message) EncodedLen() int {
	if m.Type.HasPayload() {
		return ComponentHeaderSize + len(m.Data)
	}
	return m.Type.HeaderSize()
}

// Pooled reports whether the payload is owned by a pool buffer.
func (m Message) Pooled() bool {
	return m.buf != nil
}

// Equal compares type, ids, timestamp and payload bytes. Ownership is ignored.
func (m Message) Equal(other Message) bool {
	return m.Type == other.Type &&
		m.Entity == other.Entity &&
		m.Component == other.Component &&
		m.Timestamp == other.Timestamp &&
		bytes.Equal(m.Data, other.Data) &&
		(m.Data == nil) == (other.Data == nil)
}

// Release returns the owned buffer to alloc and clears the payload. Messages that
// borrow their data are left untouched apart from the cleared slice.
func (m *Message) Release(alloc pool.Allocator) {
	if m.buf != nil && alloc != nil {
		alloc.Return(m.buf)
	}
	m.buf = nil
	m.Data = nil
}

func (m Message) String() string {
	switch m.Type {
	case MessageTypeDeleteEntity:
		return fmt.Sprintf("%s{e=%d}", m.Type, m.Entity)
	case MessageTypeDeleteComponent:
		return fmt.Sprintf("%s{e=%d c=%d t=%d}", m.Type, m.Entity, m.Component, m.Timestamp)
	default:
		return fmt.Sprintf("%s{e=%d c=%d t=%d len=%d}", m.Type, m.Entity, m.Component, m.Timestamp, len(m.Data))
	}
}

func nonNil(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}
