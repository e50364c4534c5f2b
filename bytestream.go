package msock

import (
	"io"
	"net"
	"time"
)

// Bytestream is a reliable ordered byte stream with blocking,
// deadline-bounded operations. A zero deadline means block indefinitely.
// Partial I/O is reported as a hard error: after a failed Send or Recv the
// stream's position is unspecified and no frame recovery is possible.
type Bytestream interface {
	// Send writes every byte of bufs, in order, as one logical write.
	Send(bufs net.Buffers, deadline time.Time) error
	// Recv fills buf completely.
	Recv(buf []byte, deadline time.Time) error
}

// connStream adapts a net.Conn to the Bytestream interface.
type connStream struct {
	conn net.Conn
}

// NewConnStream returns a Bytestream backed by conn. Deadlines map onto
// the connection's read and write deadlines, so a zero deadline blocks
// until the operation completes or the connection fails.
func NewConnStream(conn net.Conn) Bytestream {
	return &connStream{conn: conn}
}

func (s *connStream) Send(bufs net.Buffers, deadline time.Time) error {
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err := bufs.WriteTo(s.conn)
	return err
}

func (s *connStream) Recv(buf []byte, deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	_, err := io.ReadFull(s.conn, buf)
	return err
}

// Close closes the underlying connection.
func (s *connStream) Close() error {
	return s.conn.Close()
}

// streamObject exposes a Bytestream through the registry.
type streamObject struct {
	stream Bytestream
}

func (o *streamObject) query(c *Capability) any {
	if c == CapBytestream {
		return o.stream
	}
	return nil
}

// done is unsupported: a raw byte stream has no close signal.
func (o *streamObject) done() error {
	return ErrNotSupported
}

func (o *streamObject) close() {
	if c, ok := o.stream.(io.Closer); ok {
		_ = c.Close()
	}
}

// RegisterBytestream places stream in the registry and returns a handle
// exposing the bytestream capability. Closing the last handle closes the
// stream as well, if it implements io.Closer.
func RegisterBytestream(reg *Registry, stream Bytestream) (Handle, error) {
	return reg.create(&streamObject{stream: stream})
}
