// Package authority holds the value types of the issuing and node-registrar
// side of the licensing fabric, shared by its state store (package store,
// §4.3) and protocol engine (package engine, §4.4).
package authority

import (
	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
	"github.com/haideralmesaody/license-fabric/internal/token"
)

// LicenseRecord is the authority-side record of a minted token.
type LicenseRecord struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	LicenseCode  string        `json:"licenseCode"`
	Payload      token.Payload `json:"payload"`
	CreateTimeMs int64         `json:"createTimeMs"`
}

// NodeInfo is one registered instance of a licensed application.
type NodeInfo struct {
	NodeID              string                  `json:"nodeId"`
	LicenseCode         string                  `json:"licenseCode"`
	MachineInfo         fingerprint.MachineInfo `json:"machineInfo"`
	RegisterTimeMs      int64                   `json:"registerTimeMs"`
	LastHeartbeatTimeMs int64                   `json:"lastHeartbeatTimeMs"`
}

// Stats is the snapshot returned by GET /api/node/stats.
type Stats struct {
	OnlineNodeCount     int   `json:"onlineNodeCount"`
	RegisterCount       int64 `json:"registerCount"`
	HeartbeatCount      int64 `json:"heartbeatCount"`
	UnregisterCount     int64 `json:"unregisterCount"`
	SweepCount          int64 `json:"sweepCount"`
	LicenseCount        int   `json:"licenseCount"`
}

// ActivationEvent is one line of the append-only audit log.
type ActivationEvent struct {
	TimestampMs int64  `json:"timestampMs"`
	Kind        string `json:"kind"`
	NodeID      string `json:"nodeId,omitempty"`
	LicenseCode string `json:"licenseCode,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

const (
	EventRegister      = "register"
	EventHeartbeatFail = "heartbeat_fail"
	EventUnregister    = "unregister"
	EventSweep         = "sweep"
)
