package tunnel

import (
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/jpillora/sizestr"
)

// closeWriter is satisfied by *net.TCPConn and by ssh forwarded channels;
// it signals end-of-stream to the peer without tearing the stream down.
type closeWriter interface {
	CloseWrite() error
}

func signalEOF(c net.Conn) {
	if cw, ok := c.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

// proxyConns pumps bytes in both directions between a local stream and a
// forwarded channel until one side reaches end-of-stream or errors. Each
// direction drains independently; when a copy finishes it half-closes the
// other side so the peer sees EOF, and once both directions are done both
// streams are closed for good.
//
// There is no retry at this level — a failed connection is simply torn down,
// only whole tunnels restart.
func proxyConns(local, remote net.Conn) {
	var sent, received int64
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, _ := io.Copy(remote, local)
		sent = n
		signalEOF(remote)
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(local, remote)
		received = n
		signalEOF(local)
	}()
	wg.Wait()

	_ = remote.Close()
	_ = local.Close()
	slog.Debug("connection closed",
		"local", local.RemoteAddr(),
		"sent", sizestr.ToString(sent),
		"received", sizestr.ToString(received),
	)
}
