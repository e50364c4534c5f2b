// Package msock turns a reliable ordered byte stream into a transport for
// discrete messages. Every message travels as a length-prefixed frame, and
// a reserved termination frame lets both peers agree, through the Stop
// handshake, that no further messages will arrive.
//
// Sockets live behind opaque handles in a Registry. Start consumes a
// bytestream handle and produces a message-socket handle; Stop performs
// the terminal handshake and hands the bytestream handle back, so the
// underlying connection can be reused for another protocol.
package msock

import (
	"errors"
	"net"
	"time"
)

// Messager is the message capability: send and receive of discrete
// messages, bounded by absolute deadlines.
//
// A message socket performs no internal locking. Callers must serialize
// access per direction: one goroutine may own sends while another owns
// receives, but never two concurrent sends or two concurrent receives.
type Messager interface {
	// Send transmits the concatenation of bufs as one message.
	Send(bufs net.Buffers, deadline time.Time) error
	// Recv receives one message into buf and returns its length.
	// It fails with ErrBrokenPipe once the peer has signaled termination.
	Recv(buf []byte, deadline time.Time) (int, error)
}

// dirState tracks one direction of a socket. Done and Errored are both
// terminal; a direction never reopens.
type dirState uint8

const (
	dirOpen dirState = iota
	dirDone
	dirErrored
)

// capSocket is the identity capability Stop uses to recover the concrete
// socket from a handle.
var capSocket = NewCapability("msock.socket")

// socket implements the length-prefixed message protocol over a single,
// exclusively owned bytestream handle.
type socket struct {
	reg       *Registry
	transport Handle
	stream    Bytestream
	input     dirState
	output    dirState
	logger    Logger
}

// Start wraps the bytestream handle h in a message socket and returns the
// socket's handle. Ownership of the transport transfers to the socket: h
// is duplicated internally and the caller's handle is closed, so h is
// invalid after a successful Start.
//
// Start fails with ErrNotSupported when h does not expose the bytestream
// capability, and releases any partially created handle on failure.
func Start(reg *Registry, h Handle, opt ...Option) (Handle, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	v, err := reg.Resolve(h, CapBytestream)
	if err != nil {
		return InvalidHandle, err
	}

	s := &socket{
		reg:       reg,
		transport: InvalidHandle,
		stream:    v.(Bytestream),
		logger:    opts.logger,
	}
	sh, err := reg.create(s)
	if err != nil {
		return InvalidHandle, err
	}

	// Take a private reference to the transport, then release the
	// caller's handle.
	s.transport, err = reg.Dup(h)
	if err != nil {
		_ = reg.Close(sh)
		return InvalidHandle, err
	}
	_ = reg.Close(h)

	s.logger.Debug("message socket started",
		"handle", sh, "transport", s.transport)

	return sh, nil
}

// Stop performs the terminal handshake on the message socket h: it sends
// the termination frame if one has not been sent yet, then discards
// incoming messages until the peer's termination frame is observed. On
// success the socket is released and the underlying bytestream handle is
// returned to the caller; h is invalid afterwards.
//
// Once either direction has failed, a clean handshake is impossible: Stop
// fails with ErrConnReset. Every failure path abandons the transport by
// closing h abruptly before the error is returned.
func Stop(reg *Registry, h Handle, deadline time.Time) (Handle, error) {
	v, err := reg.Resolve(h, capSocket)
	if err != nil {
		return InvalidHandle, err
	}
	s := v.(*socket)

	if s.input == dirErrored || s.output == dirErrored {
		_ = reg.Close(h)
		return InvalidHandle, ErrConnReset
	}

	if s.output != dirDone {
		if err := s.done(); err != nil {
			_ = reg.Close(h)
			return InvalidHandle, err
		}
	}

	// Drain incoming messages until the peer's termination frame.
	for {
		err := s.discard(deadline)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrBrokenPipe) {
			break
		}
		_ = reg.Close(h)
		return InvalidHandle, err
	}

	// Detach the transport before releasing the socket, so the socket's
	// close leaves the connection alone.
	transport := s.transport
	s.transport = InvalidHandle
	_ = reg.Close(h)

	s.logger.Debug("message socket stopped", "transport", transport)

	return transport, nil
}

func (s *socket) query(c *Capability) any {
	switch c {
	case CapMessage:
		return Messager(s)
	case capSocket:
		return s
	}
	return nil
}

// close abandons the socket without a handshake, closing the owned
// transport handle if the socket still holds one.
func (s *socket) close() {
	if s.transport != InvalidHandle {
		_ = s.reg.Close(s.transport)
		s.transport = InvalidHandle
	}
}

// done writes the termination frame: a single synchronous attempt with no
// deadline. The stop sequence relies on the frame being fully on the wire
// before the drain begins, so an asynchronous variant (queue the frame,
// surface failures later) would change observable behavior and is left as
// a documented caveat.
func (s *socket) done() error {
	switch s.output {
	case dirDone:
		return ErrBrokenPipe
	case dirErrored:
		return ErrConnReset
	}

	var hdr [HeaderSize]byte
	encodeHeader(hdr[:], sentinelLength)
	if err := s.stream.Send(net.Buffers{hdr[:]}, time.Time{}); err != nil {
		s.output = dirErrored
		return err
	}
	s.output = dirDone

	s.logger.Debug("termination frame sent")

	return nil
}

func (s *socket) Send(bufs net.Buffers, deadline time.Time) error {
	switch s.output {
	case dirDone:
		return ErrBrokenPipe
	case dirErrored:
		return ErrConnReset
	}

	var hdr [HeaderSize]byte
	encodeHeader(hdr[:], buffersLength(bufs))

	// Header and payload go out as one gathered write.
	vec := make(net.Buffers, 0, len(bufs)+1)
	vec = append(vec, hdr[:])
	vec = append(vec, bufs...)

	if err := s.stream.Send(vec, deadline); err != nil {
		s.output = dirErrored
		return err
	}

	return nil
}

func (s *socket) Recv(buf []byte, deadline time.Time) (int, error) {
	length, err := s.recvHeader(deadline)
	if err != nil {
		return 0, err
	}

	if uint64(len(buf)) < length {
		// The announced payload is still in the stream; the frame
		// boundary is lost and the socket cannot recover.
		s.input = dirErrored
		return 0, ErrMessageTooLarge
	}

	if length > 0 {
		if err := s.stream.Recv(buf[:length], deadline); err != nil {
			s.input = dirErrored
			return 0, err
		}
	}

	return int(length), nil
}

// recvHeader reads one frame header and returns the announced payload
// length, applying the sticky per-direction state on both ends.
func (s *socket) recvHeader(deadline time.Time) (uint64, error) {
	switch s.input {
	case dirDone:
		return 0, ErrBrokenPipe
	case dirErrored:
		return 0, ErrConnReset
	}

	var hdr [HeaderSize]byte
	if err := s.stream.Recv(hdr[:], deadline); err != nil {
		s.input = dirErrored
		return 0, err
	}

	length := decodeHeader(hdr[:])
	if length == sentinelLength {
		// Peer is terminating.
		s.input = dirDone
		s.logger.Debug("termination frame received")
		return 0, ErrBrokenPipe
	}

	return length, nil
}

// discard receives one frame and drops its payload. Used by the drain in
// Stop to advance past pending messages without a destination buffer.
func (s *socket) discard(deadline time.Time) error {
	length, err := s.recvHeader(deadline)
	if err != nil {
		return err
	}

	var scratch [4096]byte
	for length > 0 {
		n := uint64(len(scratch))
		if length < n {
			n = length
		}
		if err := s.stream.Recv(scratch[:n], deadline); err != nil {
			s.input = dirErrored
			return err
		}
		length -= n
	}

	return nil
}

// buffersLength returns the total size of a buffer list.
func buffersLength(bufs net.Buffers) uint64 {
	var total uint64
	for _, b := range bufs {
		total += uint64(len(b))
	}
	return total
}

// SendMessage resolves the message capability on h and sends p as one
// message.
func SendMessage(reg *Registry, h Handle, p []byte, deadline time.Time) error {
	v, err := reg.Resolve(h, CapMessage)
	if err != nil {
		return err
	}

	return v.(Messager).Send(net.Buffers{p}, deadline)
}

// RecvMessage resolves the message capability on h and receives one
// message into buf, returning its length.
func RecvMessage(reg *Registry, h Handle, buf []byte, deadline time.Time) (int, error) {
	v, err := reg.Resolve(h, CapMessage)
	if err != nil {
		return 0, err
	}

	return v.(Messager).Recv(buf, deadline)
}
