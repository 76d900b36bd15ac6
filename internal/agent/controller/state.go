// Package controller implements the agent lifecycle controller (§4.5): an
// explicit, atomically-published state handle — never a package-level
// singleton — that owns the anti-tamper submodule, the offline cache, and
// the heartbeat loop.
package controller

import "github.com/haideralmesaody/license-fabric/internal/token"

// Status is one of the three observable agent states.
type Status int

const (
	Invalid Status = iota
	ValidOnline
	ValidDegraded
)

func (s Status) String() string {
	switch s {
	case ValidOnline:
		return "VALID_ONLINE"
	case ValidDegraded:
		return "VALID_DEGRADED"
	default:
		return "INVALID"
	}
}

// Snapshot is the immutable agent-state value published on every
// transition. Consumers (the request middleware, admin tooling) read a
// Snapshot without ever taking a lock.
type Snapshot struct {
	Status  Status
	Payload *token.Payload
	NodeID  string
	Message string
}
