// Package model defines the tunnel and credential data types shared across
// the application, plus the validation applied before a start attempt.
package model

import (
	"fmt"
	"time"

	"github.com/klpod221/kerminal-sub000/internal/util"
)

// TunnelType selects the forwarding strategy for a tunnel. The set is closed:
// the supervisor dispatches on it exhaustively, so adding a type is a
// compile-time-checked, one-place change.
type TunnelType string

const (
	TunnelLocal   TunnelType = "local"
	TunnelRemote  TunnelType = "remote"
	TunnelDynamic TunnelType = "dynamic"
)

// AuthMethod identifies how a credential profile authenticates.
type AuthMethod string

const (
	AuthPassword    AuthMethod = "password"
	AuthKey         AuthMethod = "key"
	AuthCertificate AuthMethod = "certificate"
)

// TunnelConfig is one tunnel definition as stored in tunnels.yaml. The engine
// consumes it read-only; create/update/delete of definitions lives outside
// this subsystem.
type TunnelConfig struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Profile     string     `yaml:"profile" json:"profile"`
	Type        TunnelType `yaml:"type" json:"type"`
	LocalHost   string     `yaml:"local_host,omitempty" json:"local_host,omitempty"`
	LocalPort   int        `yaml:"local_port" json:"local_port"`
	RemoteHost  string     `yaml:"remote_host,omitempty" json:"remote_host,omitempty"`
	RemotePort  int        `yaml:"remote_port,omitempty" json:"remote_port,omitempty"`
	AutoStart   bool       `yaml:"auto_start,omitempty" json:"auto_start,omitempty"`
}

// LocalAddr returns the bind address for the tunnel's local side.
func (c TunnelConfig) LocalAddr() string {
	return util.HostPort(util.NormalizeAddr(c.LocalHost, "127.0.0.1"), c.LocalPort)
}

// RemoteAddr returns the remote endpoint address. For local tunnels this is
// the forwarding destination; for remote tunnels it is the bind requested on
// the server side.
func (c TunnelConfig) RemoteAddr() string {
	return util.HostPort(util.NormalizeAddr(c.RemoteHost, "localhost"), c.RemotePort)
}

// Validate checks the config shape before any resource is touched.
//
// Local and remote tunnels need a remote endpoint; dynamic tunnels decide the
// target per connection, so the remote fields are unused. A remote tunnel may
// ask for port 0, which requests a server-assigned port.
func (c TunnelConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("tunnel %s: name must not be empty", c.ID)
	}
	if err := util.ValidatePort(c.LocalPort); err != nil {
		return fmt.Errorf("tunnel %s: invalid local port: %w", c.ID, err)
	}
	switch c.Type {
	case TunnelLocal:
		if c.RemoteHost == "" {
			return fmt.Errorf("tunnel %s: remote host is required for local forwarding", c.ID)
		}
		if c.RemotePort == 0 {
			return fmt.Errorf("tunnel %s: remote port is required for local forwarding", c.ID)
		}
		if err := util.ValidatePort(c.RemotePort); err != nil {
			return fmt.Errorf("tunnel %s: invalid remote port: %w", c.ID, err)
		}
	case TunnelRemote:
		if c.RemoteHost == "" {
			return fmt.Errorf("tunnel %s: remote host is required for remote forwarding", c.ID)
		}
		// Port 0 requests server-assigned allocation.
		if c.RemotePort != 0 {
			if err := util.ValidatePort(c.RemotePort); err != nil {
				return fmt.Errorf("tunnel %s: invalid remote port: %w", c.ID, err)
			}
		}
	case TunnelDynamic:
		// Remote endpoint is negotiated per connection.
	default:
		return fmt.Errorf("tunnel %s: unknown tunnel type %q", c.ID, c.Type)
	}
	return nil
}

// Credential is one connection profile from the credential store: who to
// authenticate as, where, and with what secret.
type Credential struct {
	Profile    string     `yaml:"profile" json:"profile"`
	Username   string     `yaml:"username" json:"username"`
	Host       string     `yaml:"host" json:"host"`
	Port       int        `yaml:"port" json:"port"`
	AuthMethod AuthMethod `yaml:"auth_method" json:"auth_method"`
	Secret     string     `yaml:"secret" json:"-"`
}

// Addr returns the dialable host:port of the credential's target.
func (c Credential) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return util.HostPort(c.Host, port)
}

// Status is a tunnel's lifecycle state. Stopped and Error are the only states
// a tunnel can rest in; Starting and Running always move on.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// TunnelStatus is a point-in-time view of one tunnel's runtime state.
type TunnelStatus struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	BoundPort int       `json:"bound_port,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}
