//go:build linux

package covert

import "errors"

var (
	// ErrReadCancelled is returned by Receive when the blocked read was
	// unblocked by cancellation (the socket's read half was shut down).
	ErrReadCancelled = errors.New("read cancelled")

	// ErrShortSend is returned by Send when the emitter wrote fewer bytes
	// than the packet length.
	ErrShortSend = errors.New("insufficient bytes size")

	// ErrBufferTooSmall is returned by Receive in protocol-delimited mode
	// when payload packets keep arriving after the caller's buffer is full.
	ErrBufferTooSmall = errors.New("insufficient buffer size")
)
