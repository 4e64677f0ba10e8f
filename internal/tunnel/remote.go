package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/sshpool"
	"github.com/klpod221/kerminal-sub000/internal/util"
)

const (
	// remoteTickInterval paces the remote engine's supervision loop; a short
	// tick keeps cancellation prompt even though probes are rare.
	remoteTickInterval = time.Second
	// remoteProbeEvery is how many ticks pass between health probes.
	remoteProbeEvery = 1800 // 30 minutes at one tick per second
)

// remoteForward asks the server to listen on its side and relays every
// connection it pushes back to the tunnel's local endpoint. There is no local
// listener; the engine's own loop exists to notice cancellation quickly and
// to probe session health at a coarse interval.
type remoteForward struct {
	cfg     model.TunnelConfig
	sess    sshpool.Session
	onBound func(port int)

	tick         time.Duration
	probeEvery   int
	probeTimeout time.Duration
}

func newRemoteForward(cfg model.TunnelConfig, sess sshpool.Session, onBound func(int)) *remoteForward {
	return &remoteForward{
		cfg:          cfg,
		sess:         sess,
		onBound:      onBound,
		tick:         remoteTickInterval,
		probeEvery:   remoteProbeEvery,
		probeTimeout: util.HealthProbeTimeout,
	}
}

// run issues the remote-forward request and supervises it until cancellation
// or a failed health probe. A remote port of 0 requests server-assigned
// allocation; the granted port is reported through onBound.
//
// Probe failure or timeout is fatal to this tunnel only: the error return
// becomes Error status, while other tunnels sharing the session are left
// alone. On cancellation the remote listener is closed, which cancels the
// forward registration on the server, and the engine returns nil.
func (r *remoteForward) run(ctx context.Context) error {
	ln, err := r.sess.Listen("tcp", r.cfg.RemoteAddr())
	if err != nil {
		return fmt.Errorf("remote listen %s: %w", r.cfg.RemoteAddr(), err)
	}
	defer ln.Close()

	if addr, ok := ln.Addr().(*net.TCPAddr); ok && r.onBound != nil {
		r.onBound(addr.Port)
	}
	local := r.cfg.LocalAddr()
	slog.Info("remote forward established", "tunnel", r.cfg.ID, "bind", ln.Addr().String(), "target", local)

	// Server-pushed channels arrive here; relay each to the local endpoint.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(remote net.Conn) {
				localConn, err := net.Dial("tcp", local)
				if err != nil {
					slog.Warn("local dial failed", "tunnel", r.cfg.ID, "target", local, "error", err)
					remote.Close()
					return
				}
				proxyConns(localConn, remote)
			}(conn)
		}
	}()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ticks++
			if ticks%r.probeEvery != 0 {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
			err := r.sess.Probe(probeCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("session health probe: %w", err)
			}
		}
	}
}
