// Package crdt defines the replicated messages exchanged between a scene runtime and
// the authoritative world state.
package crdt

// EntityID identifies a replicated object. IDs may be reused once an entity is deleted.
type EntityID uint32

// ComponentID names a component type (schema ID).
type ComponentID uint32

// MessageType is the closed set of wire tags.
type MessageType uint32

const (
	MessageTypePutComponent    MessageType = 1
	MessageTypeDeleteComponent MessageType = 2
	MessageTypeDeleteEntity    MessageType = 3
	MessageTypeAppendComponent MessageType = 4
)

// Header sizes in bytes, each including the length and type prefix.
const (
	PrefixSize                = 8
	DeleteEntityHeaderSize    = 12
	DeleteComponentHeaderSize = 20
	ComponentHeaderSize       = 24
)

func (t MessageType) String() string {
	switch t {
	case MessageTypePutComponent:
		return "PUT_COMPONENT"
	case MessageTypeDeleteComponent:
		return "DELETE_COMPONENT"
	case MessageTypeDeleteEntity:
		return "DELETE_ENTITY"
	case MessageTypeAppendComponent:
		return "APPEND_COMPONENT"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is one of the four known tags.
func (t MessageType) Valid() bool {
	return t >= MessageTypePutComponent && t <= MessageTypeAppendComponent
}

// HeaderSize returns the fixed header length of t, or 0 for unknown tags.
func (t MessageType) HeaderSize() int {
	switch t {
	case MessageTypePutComponent, MessageTypeAppendComponent:
		return ComponentHeaderSize
	case MessageTypeDeleteComponent:
		return DeleteComponentHeaderSize
	case MessageTypeDeleteEntity:
		return DeleteEntityHeaderSize
	default:
		return 0
	}
}

// HasPayload reports whether messages of type t carry data.
func (t MessageType) HasPayload() bool {
	return t == MessageTypePutComponent || t == MessageTypeAppendComponent
}
