package crdt

import "errors"

var (
	ErrDestinationSize = errors.New("destination size does not match encoded message length")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMalformed       = errors.New("malformed message")
)
