package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jpillora/backoff"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/sshpool"
)

// runLocalForward binds the tunnel's local address and relays every accepted
// connection through the session to the fixed remote endpoint.
//
// One bad channel-open does not kill the tunnel; the failure is logged and
// the loop keeps accepting. Cancellation closes the listener (freeing the
// local port) and returns nil; connections already being pumped finish on
// their own when either side hits end-of-stream.
func runLocalForward(ctx context.Context, cfg model.TunnelConfig, sess sshpool.Session) error {
	ln, err := net.Listen("tcp", cfg.LocalAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.LocalAddr(), err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	slog.Info("local forward listening", "tunnel", cfg.ID, "bind", cfg.LocalAddr(), "target", cfg.RemoteAddr())

	return acceptLoop(ctx, ln, func(conn net.Conn) {
		remote, err := sess.Dial("tcp", cfg.RemoteAddr())
		if err != nil {
			slog.Warn("channel open failed", "tunnel", cfg.ID, "target", cfg.RemoteAddr(), "origin", conn.RemoteAddr(), "error", err)
			conn.Close()
			return
		}
		go proxyConns(conn, remote)
	})
}

// acceptLoop races accepting against cancellation: closing the listener from
// the ctx watcher wakes a blocked Accept. Transient accept errors back off
// instead of spinning.
func acceptLoop(ctx context.Context, ln net.Listener, handle func(net.Conn)) error {
	b := &backoff.Backoff{Min: 10 * time.Millisecond, Max: time.Second}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}
			d := b.Duration()
			slog.Warn("accept failed", "error", err, "retry_in", d)
			select {
			case <-time.After(d):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		b.Reset()
		handle(conn)
	}
}
