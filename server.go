package msock

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one accepted message socket.
type Handler interface {
	// Handle is called on its own goroutine for each accepted socket and
	// owns the handle: it must release it with Stop or Registry.Close
	// before returning. Errors are reported when Serve shuts down.
	Handle(reg *Registry, h Handle) error
}

// Server accepts TCP connections and upgrades each one to a message
// socket before passing it to a Handler.
type Server struct {
	listener *net.TCPListener
	reg      *Registry
	logger   Logger

	mu       sync.Mutex
	shutdown bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server bound to the specified address. Accepted
// connections are registered in reg as bytestream handles and upgraded
// with Start.
func NewServer(addr *net.TCPAddr, reg *Registry, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		reg:      reg,
		logger:   defaultLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and dispatches message sockets to the handler
// until the context is canceled. It returns only after every handler
// goroutine has finished, so handlers should bound their own I/O with
// deadlines; the first handler error, if any, is returned then.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept.
		_ = s.listener.SetDeadline(time.Now())
	}()

	var group errgroup.Group
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				err := group.Wait()
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				if err != nil {
					return err
				}
				return ctx.Err()
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			_ = group.Wait()
			return err
		}

		_ = conn.SetNoDelay(true)

		th, err := RegisterBytestream(s.reg, NewConnStream(conn))
		if err != nil {
			s.logger.Error("register stream", "error", err)
			_ = conn.Close()
			continue
		}
		sh, err := Start(s.reg, th, LoggerOption(s.logger))
		if err != nil {
			s.logger.Error("start message socket", "error", err)
			_ = s.reg.Close(th)
			continue
		}

		s.logger.Debug("accepted connection",
			"remote_addr", conn.RemoteAddr(), "handle", sh)
		group.Go(func() error {
			return handler.Handle(s.reg, sh)
		})
	}
}

// Close stops the server by closing the underlying listener.
// Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
