// Package util provides common utility functions and constants used across the
// kerminal-tunnel application. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "strings"

// NormalizeAddr returns the provided address if it is non-empty (after trimming
// whitespace), or the fallback value if the address is empty or whitespace-only.
//
// Bind and destination addresses in a tunnel definition are optional — when
// omitted, they default to "127.0.0.1" (local bind side) or "localhost"
// (remote destination side), mirroring OpenSSH's LocalForward defaults.
//
// Centralizing this defaulting keeps address handling consistent across:
//   - Tunnel validation and display (internal/model)
//   - Listener binds and forwarded-channel targets (internal/tunnel)
//
// Examples:
//
//	NormalizeAddr("",          "127.0.0.1") → "127.0.0.1"  // empty → fallback
//	NormalizeAddr("  ",        "127.0.0.1") → "127.0.0.1"  // whitespace → fallback
//	NormalizeAddr("0.0.0.0",   "127.0.0.1") → "0.0.0.0"   // explicit → kept
//	NormalizeAddr("10.0.0.1",  "localhost")  → "10.0.0.1"  // explicit → kept
func NormalizeAddr(addr, fallback string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fallback
	}
	return addr
}
