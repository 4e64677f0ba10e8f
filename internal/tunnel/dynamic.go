package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/sshpool"
)

// runDynamicForward binds the tunnel's local address as a SOCKS5 proxy. Each
// accepted connection negotiates its own target, which is then reached
// through a forwarded channel on the shared session.
func runDynamicForward(ctx context.Context, cfg model.TunnelConfig, sess sshpool.Session) error {
	ln, err := net.Listen("tcp", cfg.LocalAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.LocalAddr(), err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	slog.Info("socks5 proxy listening", "tunnel", cfg.ID, "bind", cfg.LocalAddr())

	return acceptLoop(ctx, ln, func(conn net.Conn) {
		go serveSocks5(cfg.ID, conn, sess)
	})
}

// serveSocks5 handles one SOCKS5 client connection end to end.
//
// Protocol errors are scoped to this connection: it is dropped without a
// reply and the tunnel keeps serving. A target the session cannot reach gets
// a "connection refused" reply before the drop.
func serveSocks5(tunnelID string, conn net.Conn, sess sshpool.Session) {
	target, err := negotiateSocks5(conn)
	if err != nil {
		slog.Debug("socks5 negotiation failed", "tunnel", tunnelID, "origin", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	remote, err := sess.Dial("tcp", target.Addr())
	if err != nil {
		slog.Warn("channel open failed", "tunnel", tunnelID, "target", target.Addr(), "error", err)
		_ = writeSocksReply(conn, socksReplyRefused)
		conn.Close()
		return
	}
	if err := writeSocksReply(conn, socksReplyOK); err != nil {
		remote.Close()
		conn.Close()
		return
	}
	proxyConns(conn, remote)
}
