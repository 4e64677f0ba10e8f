package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/util"
)

// supervisor owns one tunnel's cancellation signal, status and last error.
// Its fields are guarded by the Service mutex; the run loop lives in
// Service.supervise.
//
// Status transitions: Stopped/Error → Starting → Running → Stopped | Error.
// A clean engine return deregisters the tunnel after a short grace delay; a
// failed one keeps the entry, Error and message visible, until an explicit
// stop or restart.
type supervisor struct {
	id     string
	cfg    model.TunnelConfig
	cancel context.CancelFunc

	status    model.Status
	lastErr   string
	boundPort int
	startedAt time.Time
	done      chan struct{}
}

// snapshot must be called with the Service mutex held.
func (sup *supervisor) snapshot() model.TunnelStatus {
	return model.TunnelStatus{
		ID:        sup.id,
		Status:    sup.status,
		LastError: sup.lastErr,
		BoundPort: sup.boundPort,
		StartedAt: sup.startedAt,
	}
}

// supervise is the tunnel's lifecycle task: acquire the shared session,
// mark Running, dispatch to the engine matching the tunnel type, and turn
// the engine's outcome into a status transition.
func (s *Service) supervise(ctx context.Context, sup *supervisor, cred model.Credential) {
	defer close(sup.done)

	sess, err := s.pool.Acquire(cred)
	if err != nil {
		s.fail(sup, err)
		return
	}
	s.transition(sup, model.StatusRunning, "")
	slog.Info("tunnel running", "tunnel", sup.id, "type", sup.cfg.Type, "session", sess.Key.String())

	var runErr error
	switch sup.cfg.Type {
	case model.TunnelLocal:
		runErr = runLocalForward(ctx, sup.cfg, sess)
	case model.TunnelRemote:
		rf := newRemoteForward(sup.cfg, sess, func(port int) { s.setBoundPort(sup, port) })
		runErr = rf.run(ctx)
	case model.TunnelDynamic:
		runErr = runDynamicForward(ctx, sup.cfg, sess)
	default:
		// Validate rejects unknown types before Start; this is a guard
		// against a registry entry created from an unvalidated config.
		runErr = fmt.Errorf("unknown tunnel type %q", sup.cfg.Type)
	}

	if runErr != nil {
		s.fail(sup, runErr)
		return
	}

	// Clean return: leave the terminal state visible long enough for
	// concurrent status reads, then drop the entry.
	s.transition(sup, model.StatusStopped, "")
	time.Sleep(util.StopGraceDelay)
	s.removeIfCurrent(sup)
}

// transition updates the supervisor's state if it still owns its registry
// slot. A tunnel removed by Stop keeps its final Stopped state untouched.
func (s *Service) transition(sup *supervisor, status model.Status, message string) {
	s.mu.Lock()
	current, ok := s.running[sup.id]
	if !ok || current != sup {
		s.mu.Unlock()
		return
	}
	sup.status = status
	sup.lastErr = message
	port := sup.boundPort
	s.mu.Unlock()
	s.emit(sup.id, status, message, port)
}

// fail marks the tunnel Error and keeps the entry for inspection; resources
// are already released by the engine at this point.
func (s *Service) fail(sup *supervisor, err error) {
	slog.Error("tunnel failed", "tunnel", sup.id, "error", err)
	s.transition(sup, model.StatusError, err.Error())
}

func (s *Service) setBoundPort(sup *supervisor, port int) {
	s.mu.Lock()
	sup.boundPort = port
	s.mu.Unlock()
}

// removeIfCurrent deregisters the supervisor unless a restart has already
// claimed the id with a newer instance.
func (s *Service) removeIfCurrent(sup *supervisor) {
	s.mu.Lock()
	if current, ok := s.running[sup.id]; ok && current == sup {
		delete(s.running, sup.id)
	}
	s.mu.Unlock()
}
