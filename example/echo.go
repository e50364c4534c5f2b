package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mframe/msock"
)

// echoHandler sends every received message back to the peer. When the
// peer signals termination it completes the handshake with Stop and
// closes the connection.
type echoHandler struct{}

func (echoHandler) Handle(reg *msock.Registry, h msock.Handle) error {
	buf := make([]byte, 64*1024)

	for {
		deadline := time.Now().Add(time.Minute)

		n, err := msock.RecvMessage(reg, h, buf, deadline)
		if errors.Is(err, msock.ErrBrokenPipe) {
			// Peer is done sending; finish the handshake and close
			// the connection we get back.
			th, err := msock.Stop(reg, h, deadline)
			if err != nil {
				slog.Error("stop failed", "error", err)
				return nil
			}
			return reg.Close(th)
		}
		if err != nil {
			slog.Error("recv failed", "error", err)
			return reg.Close(h)
		}

		if err := msock.SendMessage(reg, h, buf[:n], deadline); err != nil {
			slog.Error("send failed", "error", err)
			return reg.Close(h)
		}
	}
}

// runClient sends a few messages, reads the echoes back and performs the
// terminal handshake.
func runClient(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}

	reg := msock.NewRegistry()
	th, err := msock.RegisterBytestream(reg, msock.NewConnStream(conn))
	if err != nil {
		return err
	}
	h, err := msock.Start(reg, th)
	if err != nil {
		return err
	}

	buf := make([]byte, 1024)
	for _, text := range []string{"one", "two", "three"} {
		deadline := time.Now().Add(5 * time.Second)

		if err := msock.SendMessage(reg, h, []byte(text), deadline); err != nil {
			return err
		}
		n, err := msock.RecvMessage(reg, h, buf, deadline)
		if err != nil {
			return err
		}
		slog.Info("echo", "sent", text, "received", string(buf[:n]))
	}

	th, err = msock.Stop(reg, h, time.Now().Add(5*time.Second))
	if err != nil {
		return err
	}
	return reg.Close(th)
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "client" {
		if err := runClient("127.0.0.1:12345"); err != nil {
			slog.Error("client error", "error", err)
			os.Exit(1)
		}
		return
	}

	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:12345")
	if err != nil {
		panic(err)
	}

	reg := msock.NewRegistry()
	server, err := msock.NewServer(addr, reg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		cancel()
	}()

	slog.Info("server start", "addr", addr.String())
	if err := server.Serve(ctx, echoHandler{}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
	}
}
