// Package sshpool caches authenticated SSH sessions so that every tunnel
// targeting the same (username, host, port) shares one underlying connection.
//
// The pool hands out shared handles: all holders see the same session, and
// the session multiplexes their forwarded channels. The pool never evicts a
// session on its own — a session lives until process shutdown or an explicit
// CloseAll.
package sshpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/util"
)

// ErrUnsupportedAuth is returned for credential profiles this subsystem
// cannot authenticate with. Only password auth is handled here; key and
// certificate profiles belong to the interactive client.
var ErrUnsupportedAuth = errors.New("unsupported auth method for tunneling")

// Key identifies one shared session.
type Key struct {
	User string
	Host string
	Port int
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// KeyFor derives the session key from a credential profile.
func KeyFor(cred model.Credential) Key {
	port := cred.Port
	if port == 0 {
		port = 22
	}
	return Key{User: cred.Username, Host: cred.Host, Port: port}
}

// Session is the slice of the secure-session library the tunnel engine needs.
// Production code wraps *ssh.Client; tests substitute fakes.
type Session interface {
	// Dial opens a forwarded channel (direct-tcpip) to addr through the session.
	Dial(network, addr string) (net.Conn, error)
	// Listen requests a remote forward (tcpip-forward) bound to addr on the
	// server. Closing the returned listener cancels the forward.
	Listen(network, addr string) (net.Listener, error)
	// Probe performs a bounded round trip against the session by opening and
	// immediately closing a throwaway session channel.
	Probe(ctx context.Context) error
	Close() error
}

// SharedSession is the handle the pool hands out. Every tunnel using the same
// key holds the same *SharedSession.
type SharedSession struct {
	Session
	Key         Key
	ConnectedAt time.Time
}

// DialFunc performs the authenticated connect for a credential profile.
type DialFunc func(cred model.Credential) (Session, error)

// Pool caches one session per key.
type Pool struct {
	dial DialFunc

	mu       sync.Mutex
	sessions map[Key]*SharedSession
}

// New creates a pool. A nil dial falls back to DialSSH.
func New(dial DialFunc) *Pool {
	if dial == nil {
		dial = DialSSH
	}
	return &Pool{dial: dial, sessions: make(map[Key]*SharedSession)}
}

// Acquire returns the shared session for the credential's key, connecting and
// authenticating first if none exists yet.
//
// The connect happens outside the pool lock, so two concurrent first-time
// requests for the same key may each open a session; the later insert wins
// the map slot while the earlier handle keeps serving its holder. In practice
// sessions are created from one Start call at a time, so the window is
// accepted rather than closed.
func (p *Pool) Acquire(cred model.Credential) (*SharedSession, error) {
	if cred.AuthMethod != model.AuthPassword {
		return nil, fmt.Errorf("profile %s uses %s: %w", cred.Profile, cred.AuthMethod, ErrUnsupportedAuth)
	}

	key := KeyFor(cred)
	p.mu.Lock()
	if s, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	sess, err := p.dial(cred)
	if err != nil {
		return nil, err
	}
	shared := &SharedSession{Session: sess, Key: key, ConnectedAt: time.Now()}

	p.mu.Lock()
	p.sessions[key] = shared
	p.mu.Unlock()
	slog.Info("session established", "key", key.String())
	return shared, nil
}

// Len reports how many sessions the pool currently holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// CloseAll tears down every pooled session. Intended for process shutdown;
// tunnels still running on a closed session will fail and surface errors.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[Key]*SharedSession)
	p.mu.Unlock()

	for key, s := range sessions {
		if err := s.Close(); err != nil {
			slog.Warn("session close failed", "key", key.String(), "error", err)
		}
	}
}

// DialSSH is the production DialFunc: TCP connect plus SSH handshake with
// password authentication.
func DialSSH(cred model.Credential) (Session, error) {
	cfg := &ssh.ClientConfig{
		User: cred.Username,
		Auth: []ssh.AuthMethod{ssh.Password(cred.Secret)},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			slog.Debug("ssh host key", "host", hostname, "type", key.Type())
			return nil
		},
		Timeout: util.SessionConnectTimeout,
	}
	addr := cred.Addr()
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("authentication failed for %s@%s: %w", cred.Username, addr, err)
		}
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &sshSession{client: client}, nil
}

// sshSession adapts *ssh.Client to the Session interface. Global requests
// (remote forwards, probe channels) are issued one at a time under reqMu;
// already-open channels multiplex freely.
type sshSession struct {
	client *ssh.Client
	reqMu  sync.Mutex
}

func (s *sshSession) Dial(network, addr string) (net.Conn, error) {
	return s.client.Dial(network, addr)
}

func (s *sshSession) Listen(network, addr string) (net.Listener, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	return s.client.Listen(network, addr)
}

func (s *sshSession) Probe(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		s.reqMu.Lock()
		defer s.reqMu.Unlock()
		sess, err := s.client.NewSession()
		if err == nil {
			sess.Close()
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
