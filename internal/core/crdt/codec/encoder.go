package codec

import (
	"fmt"

	"github.com/zeusync/crdtsync/internal/core/crdt"
)

// Encode writes m into dst, which must be exactly m.EncodedLen() bytes long.
func Encode(dst []byte, m crdt.Message) error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %d", crdt.ErrUnknownType, uint32(m.Type))
	}
	length := m.EncodedLen()
	if len(dst) != length {
		return fmt.Errorf("%w: have %d, need %d", crdt.ErrDestinationSize, len(dst), length)
	}

	le.PutUint32(dst[0:], uint32(length))
	le.PutUint32(dst[4:], uint32(m.Type))
	le.PutUint32(dst[8:], uint32(m.Entity))
	if m.Type == crdt.MessageTypeDeleteEntity {
		return nil
	}

	le.PutUint32(dst[12:], uint32(m.Component))
	le.PutUint32(dst[16:], m.Timestamp)
	if m.Type == crdt.MessageTypeDeleteComponent {
		return nil
	}

	le.PutUint32(dst[20:], uint32(len(m.Data)))
	copy(dst[crdt.ComponentHeaderSize:], m.Data)
	return nil
}

// Append encodes m at the end of dst, growing it as needed.
func Append(dst []byte, m crdt.Message) ([]byte, error) {
	if !m.Type.Valid() {
		return dst, fmt.Errorf("%w: %d", crdt.ErrUnknownType, uint32(m.Type))
	}
	start := len(dst)
	dst = grow(dst, m.EncodedLen())
	if err := Encode(dst[start:], m); err != nil {
		return dst[:start], err
	}
	return dst, nil
}

// EncodeBatch concatenates msgs into one exactly sized buffer.
func EncodeBatch(msgs []crdt.Message) ([]byte, error) {
	size := 0
	for i := range msgs {
		size += msgs[i].EncodedLen()
	}

	out := make([]byte, 0, size)
	var err error
	for i := range msgs {
		if out, err = Append(out, msgs[i]); err != nil {
			return nil, fmt.Errorf("encode message %d: %w", i, err)
		}
	}
	return out, nil
}

func grow(dst []byte, n int) []byte {
	if cap(dst)-len(dst) >= n {
		return dst[:len(dst)+n]
	}
	next := make([]byte, len(dst)+n, max(2*cap(dst), len(dst)+n))
	copy(next, dst)
	return next
}
