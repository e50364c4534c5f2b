package msock

import "github.com/pkg/errors"

// Errors returned by registry and socket operations.
var (
	// ErrNotSupported is returned when a handle does not expose the
	// requested capability.
	ErrNotSupported = errors.New("capability not supported")
	// ErrBadHandle is returned when a handle is invalid or already closed.
	ErrBadHandle = errors.New("bad handle")
	// ErrNoHandles is returned when the registry's handle limit is reached.
	ErrNoHandles = errors.New("handle table full")
)

// Errors reported by message socket I/O. Transport-level failures are
// propagated unchanged; these cover the protocol's own conditions.
var (
	// ErrBrokenPipe signals a graceful end of messages: the direction was
	// terminated by a close signal, local or the peer's. It is a normal
	// control-flow condition, not an I/O failure.
	ErrBrokenPipe = errors.New("message pipe terminated")
	// ErrConnReset is returned when a previous failure has permanently
	// poisoned the direction. The transport is not touched again.
	ErrConnReset = errors.New("connection reset by prior failure")
	// ErrMessageTooLarge is returned when an incoming frame announces more
	// bytes than the receive buffer can hold. The payload is left unread,
	// so the stream is desynchronized and the socket must be abandoned.
	ErrMessageTooLarge = errors.New("message larger than receive buffer")
)
