package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/util"
)

func remoteCfg(localPort int) model.TunnelConfig {
	return model.TunnelConfig{
		ID:         "rem",
		Name:       "callback",
		Profile:    "prod",
		Type:       model.TunnelRemote,
		LocalHost:  "127.0.0.1",
		LocalPort:  localPort,
		RemoteHost: "127.0.0.1",
		RemotePort: 0, // server-assigned
	}
}

func addrPort(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestRemoteForwardReportsGrantedPortAndRelays(t *testing.T) {
	// The local endpoint the remote side relays back to.
	echoPort := addrPort(t, startEcho(t))

	sess := &fakeSession{}
	cfg := remoteCfg(echoPort)

	var granted atomic.Int32
	rf := newRemoteForward(cfg, sess, func(port int) { granted.Store(int32(port)) })
	rf.tick = 10 * time.Millisecond
	rf.probeEvery = 1 << 30 // never probe in this test

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rf.run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for granted.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	port := int(granted.Load())
	if port == 0 {
		t.Fatal("granted port never reported")
	}

	// A connection pushed from the "remote" side reaches the local endpoint.
	conn := dialSoon(t, util.HostPort("127.0.0.1", port))
	defer conn.Close()
	if _, err := conn.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hi" {
		t.Fatalf("relayed %q", buf)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("engine returned %v on cancellation", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not observe cancellation")
	}
}

func TestRemoteForwardHealthProbeFailureIsFatal(t *testing.T) {
	sess := &fakeSession{probeErr: errors.New("channel open timeout")}
	rf := newRemoteForward(remoteCfg(freePort(t)), sess, nil)
	rf.tick = 10 * time.Millisecond
	rf.probeEvery = 1

	done := make(chan error, 1)
	go func() { done <- rf.run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "health probe") {
			t.Fatalf("expected health probe error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("probe failure did not terminate the engine")
	}
}

func TestRemoteForwardListenFailure(t *testing.T) {
	rf := newRemoteForward(remoteCfg(freePort(t)), failingListenSession{}, nil)
	if err := rf.run(context.Background()); err == nil {
		t.Fatal("expected remote listen failure")
	}
}

// failingListenSession rejects the tcpip-forward request.
type failingListenSession struct{}

func (failingListenSession) Dial(network, addr string) (net.Conn, error) {
	return nil, errors.New("unreachable")
}

func (failingListenSession) Listen(network, addr string) (net.Listener, error) {
	return nil, errors.New("administratively prohibited")
}

func (failingListenSession) Probe(ctx context.Context) error { return nil }
func (failingListenSession) Close() error                    { return nil }
