package msock

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// echoHandler echoes messages until the peer terminates, then completes
// the handshake and closes the connection.
type echoHandler struct{}

func (echoHandler) Handle(reg *Registry, h Handle) error {
	buf := make([]byte, 1024)

	for {
		deadline := time.Now().Add(5 * time.Second)

		n, err := RecvMessage(reg, h, buf, deadline)
		if errors.Is(err, ErrBrokenPipe) {
			th, err := Stop(reg, h, deadline)
			if err != nil {
				return err
			}
			return reg.Close(th)
		}
		if err != nil {
			_ = reg.Close(h)
			return err
		}

		if err := SendMessage(reg, h, buf[:n], deadline); err != nil {
			_ = reg.Close(h)
			return err
		}
	}
}

func startTestServer(t *testing.T, handler Handler) (*Server, context.CancelFunc, chan error) {
	t.Helper()

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := NewServer(addr, NewRegistry())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	return server, cancel, done
}

func TestNewServer_InvalidAddr(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server1, err := NewServer(addr, NewRegistry())
	if err != nil {
		t.Fatalf("first NewServer failed: %v", err)
	}
	defer server1.Close()

	// The port is taken.
	occupiedAddr := server1.Addr().(*net.TCPAddr)
	_, err = NewServer(occupiedAddr, NewRegistry())
	if err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestServer_EchoRoundTrip(t *testing.T) {
	server, cancel, done := startTestServer(t, echoHandler{})
	defer cancel()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	reg := NewRegistry()
	h := startTCPSocket(t, reg, conn)
	deadline := time.Now().Add(5 * time.Second)

	buf := make([]byte, 64)
	for _, text := range []string{"one", "two", "three"} {
		if err := SendMessage(reg, h, []byte(text), deadline); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
		n, err := RecvMessage(reg, h, buf, deadline)
		if err != nil {
			t.Fatalf("RecvMessage failed: %v", err)
		}
		if string(buf[:n]) != text {
			t.Errorf("echo = %q, want %q", buf[:n], text)
		}
	}

	// Full handshake: our sentinel goes out, the server answers with its
	// own, and the raw connection comes back.
	th, err := Stop(reg, h, deadline)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := reg.Close(th); err != nil {
		t.Fatalf("Close transport failed: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_Close(t *testing.T) {
	server, cancel, done := startTestServer(t, echoHandler{})
	defer cancel()

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
