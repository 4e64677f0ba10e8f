// Package tunnel is the tunnel supervision and proxying engine: it reuses
// authenticated sessions from the pool, runs one supervisor per started
// tunnel, and relays TCP traffic through forwarded channels using one of
// three strategies (local, remote, dynamic/SOCKS5).
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klpod221/kerminal-sub000/internal/events"
	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/sshpool"
)

// Usage errors, returned synchronously with no state change.
var (
	ErrAlreadyRunning = errors.New("tunnel already running")
	ErrNotRunning     = errors.New("tunnel not running")
)

// Store is the slice of the configuration/credential store the engine
// consumes. Definitions are read-only here; their lifecycle lives elsewhere.
type Store interface {
	Tunnel(id string) (model.TunnelConfig, error)
	Tunnels() []model.TunnelConfig
	Credential(profile string) (model.Credential, error)
	AutoStartTunnels() ([]model.TunnelConfig, error)
}

// Service is the process-wide facade over running tunnels: the registry of
// supervisors plus the public start/stop/status operations. Engines never
// reach into the registry directly; every mutation goes through Service.
type Service struct {
	store   Store
	pool    *sshpool.Pool
	journal *events.Store // optional

	mu      sync.RWMutex
	running map[string]*supervisor
}

// NewService builds the facade. journal may be nil to disable the event log.
func NewService(store Store, pool *sshpool.Pool, journal *events.Store) *Service {
	return &Service{
		store:   store,
		pool:    pool,
		journal: journal,
		running: make(map[string]*supervisor),
	}
}

// Start validates the tunnel definition, resolves its credential profile and
// spawns a supervisor for it. Connect and engine failures surface later as
// Error status; only config, credential-lookup and duplicate-start problems
// are returned synchronously.
func (s *Service) Start(id string) error {
	cfg, err := s.store.Tunnel(id)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cred, err := s.store.Credential(cfg.Profile)
	if err != nil {
		return fmt.Errorf("tunnel %s: %w", id, err)
	}

	s.mu.Lock()
	if sup, ok := s.running[id]; ok {
		if sup.status == model.StatusStarting || sup.status == model.StatusRunning {
			s.mu.Unlock()
			return fmt.Errorf("tunnel %s: %w", id, ErrAlreadyRunning)
		}
		// Restart over a failed entry: release the old instance's signal.
		sup.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sup := &supervisor{
		id:        id,
		cfg:       cfg,
		cancel:    cancel,
		status:    model.StatusStarting,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.running[id] = sup
	s.mu.Unlock()

	s.emit(id, model.StatusStarting, "", 0)
	go s.supervise(ctx, sup, cred)
	return nil
}

// Stop signals the tunnel's cancellation and removes it from the registry.
// It does not wait for in-flight connections; the engine stops accepting new
// work and open byte pumps finish on end-of-stream.
func (s *Service) Stop(id string) error {
	s.mu.Lock()
	sup, ok := s.running[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("tunnel %s: %w", id, ErrNotRunning)
	}
	delete(s.running, id)
	sup.status = model.StatusStopped
	s.mu.Unlock()

	sup.cancel()
	s.emit(id, model.StatusStopped, "", 0)
	slog.Info("tunnel stopped", "tunnel", id)
	return nil
}

// Status reports the tunnel's current runtime state. Tunnels with no registry
// entry are simply Stopped.
func (s *Service) Status(id string) model.TunnelStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sup, ok := s.running[id]; ok {
		return sup.snapshot()
	}
	return model.TunnelStatus{ID: id, Status: model.StatusStopped}
}

// TunnelWithStatus pairs a definition with its runtime state.
type TunnelWithStatus struct {
	Config model.TunnelConfig `json:"config"`
	State  model.TunnelStatus `json:"state"`
}

// ListWithStatus returns every stored definition with its current status.
func (s *Service) ListWithStatus() []TunnelWithStatus {
	defs := s.store.Tunnels()
	out := make([]TunnelWithStatus, 0, len(defs))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range defs {
		st := model.TunnelStatus{ID: cfg.ID, Status: model.StatusStopped}
		if sup, ok := s.running[cfg.ID]; ok {
			st = sup.snapshot()
		}
		out = append(out, TunnelWithStatus{Config: cfg, State: st})
	}
	return out
}

// AutoStartSweep starts every definition flagged auto-start. Individual
// failures are logged, not propagated; one broken tunnel must not block the
// rest of the sweep. Run once at process init.
func (s *Service) AutoStartSweep() {
	defs, err := s.store.AutoStartTunnels()
	if err != nil {
		slog.Warn("auto-start sweep: listing failed", "error", err)
		return
	}
	for _, cfg := range defs {
		if err := s.Start(cfg.ID); err != nil {
			slog.Warn("auto-start failed", "tunnel", cfg.ID, "error", err)
		}
	}
}

// DisconnectAll stops every running tunnel and closes every pooled session.
// Process teardown only.
func (s *Service) DisconnectAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Stop(id)
	}
	s.pool.CloseAll()
}

func (s *Service) emit(id string, status model.Status, message string, boundPort int) {
	if s.journal == nil {
		return
	}
	evt := events.Event{
		TunnelID:  id,
		Status:    status,
		Message:   message,
		BoundPort: boundPort,
	}
	if err := s.journal.Append(evt); err != nil {
		slog.Warn("event journal append failed", "tunnel", id, "error", err)
	}
}
