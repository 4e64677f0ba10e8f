// Package util provides common utility functions and constants used across the
// kerminal-tunnel application. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "time"

const (
	// SessionConnectTimeout bounds the TCP dial plus SSH handshake for one
	// session connect attempt. A session that cannot be established within
	// this window is reported as a connection failure rather than left
	// hanging; the tunnel stays registered with its error so the user can
	// inspect it and retry.
	// Used by: internal/sshpool (DialSSH).
	SessionConnectTimeout = 15 * time.Second

	// HealthProbeTimeout is the maximum time allowed for one round-trip
	// health probe against a shared session (open then close a throwaway
	// session channel). Exceeding it is treated as probe failure, not as
	// "unknown" — a session that cannot answer within this window cannot
	// serve forwarded connections either.
	// Used by: internal/tunnel (remote forward health loop).
	HealthProbeTimeout = 10 * time.Second

	// StopGraceDelay is how long a cleanly stopped tunnel's terminal state
	// stays visible in the registry before the entry is removed, so that
	// concurrent status reads can observe the transition.
	// Used by: internal/tunnel (supervisor teardown).
	StopGraceDelay = 500 * time.Millisecond
)
