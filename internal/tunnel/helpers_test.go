package tunnel

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/klpod221/kerminal-sub000/internal/model"
)

// startEcho runs a TCP echo server for the duration of the test and returns
// its address. It stands in for whatever remote endpoint a forwarded channel
// would reach.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				_, _ = io.Copy(c, c)
				c.Close()
			}(c)
		}
	}()
	return ln.Addr().String()
}

// freePort grabs an ephemeral port and releases it for the test to bind.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// fakeSession satisfies sshpool.Session. Forwarded channels are plain TCP
// connections to a test echo server; remote forwards bind a real loopback
// listener so Addr() carries a granted port.
type fakeSession struct {
	mu       sync.Mutex
	echoAddr string
	dialErr  error
	probeErr error
	dialed   []string
	closed   bool
}

func (f *fakeSession) Dial(network, addr string) (net.Conn, error) {
	f.mu.Lock()
	f.dialed = append(f.dialed, addr)
	err := f.dialErr
	target := f.echoAddr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return net.Dial("tcp", target)
}

func (f *fakeSession) Listen(network, addr string) (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func (f *fakeSession) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) dialedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.dialed))
	copy(out, f.dialed)
	return out
}

func waitStatus(t *testing.T, svc *Service, id string, want model.Status) model.TunnelStatus {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last model.TunnelStatus
	for time.Now().Before(deadline) {
		last = svc.Status(id)
		if last.Status == want {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tunnel %s never reached %s, last state %+v", id, want, last)
	return last
}
