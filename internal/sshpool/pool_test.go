package sshpool

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/klpod221/kerminal-sub000/internal/model"
)

// fakeSession satisfies Session without touching the network.
type fakeSession struct {
	closed atomic.Bool
}

func (f *fakeSession) Dial(network, addr string) (net.Conn, error)       { return nil, errors.New("no") }
func (f *fakeSession) Listen(network, addr string) (net.Listener, error) { return nil, errors.New("no") }
func (f *fakeSession) Probe(ctx context.Context) error                   { return nil }
func (f *fakeSession) Close() error                                      { f.closed.Store(true); return nil }

func passwordCred(host string) model.Credential {
	return model.Credential{
		Profile:    "p",
		Username:   "deploy",
		Host:       host,
		Port:       22,
		AuthMethod: model.AuthPassword,
		Secret:     "s",
	}
}

func TestAcquireSharesSessionPerKey(t *testing.T) {
	var dials atomic.Int32
	pool := New(func(cred model.Credential) (Session, error) {
		dials.Add(1)
		return &fakeSession{}, nil
	})

	a, err := pool.Acquire(passwordCred("bastion"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := pool.Acquire(passwordCred("bastion"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the same shared handle for one key")
	}
	if got := dials.Load(); got != 1 {
		t.Fatalf("expected exactly one connect, got %d", got)
	}

	if _, err := pool.Acquire(passwordCred("other-host")); err != nil {
		t.Fatal(err)
	}
	if got := dials.Load(); got != 2 {
		t.Fatalf("expected second connect for new key, got %d", got)
	}
	if pool.Len() != 2 {
		t.Fatalf("expected 2 pooled sessions, got %d", pool.Len())
	}
}

func TestAcquireRejectsNonPasswordAuth(t *testing.T) {
	pool := New(func(cred model.Credential) (Session, error) {
		t.Fatal("dial must not be reached for unsupported auth")
		return nil, nil
	})

	cred := passwordCred("bastion")
	cred.AuthMethod = model.AuthKey
	_, err := pool.Acquire(cred)
	if !errors.Is(err, ErrUnsupportedAuth) {
		t.Fatalf("expected ErrUnsupportedAuth, got %v", err)
	}
}

func TestAcquirePropagatesConnectError(t *testing.T) {
	want := errors.New("authentication failed for deploy@bastion:22")
	pool := New(func(cred model.Credential) (Session, error) { return nil, want })

	_, err := pool.Acquire(passwordCred("bastion"))
	if !errors.Is(err, want) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if pool.Len() != 0 {
		t.Fatal("failed connect must not be pooled")
	}
}

func TestCloseAllClosesAndClears(t *testing.T) {
	fakes := map[string]*fakeSession{}
	pool := New(func(cred model.Credential) (Session, error) {
		f := &fakeSession{}
		fakes[cred.Host] = f
		return f, nil
	})

	if _, err := pool.Acquire(passwordCred("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Acquire(passwordCred("b")); err != nil {
		t.Fatal(err)
	}

	pool.CloseAll()
	if pool.Len() != 0 {
		t.Fatalf("expected empty pool, got %d", pool.Len())
	}
	for host, f := range fakes {
		if !f.closed.Load() {
			t.Fatalf("session for %s not closed", host)
		}
	}
}
