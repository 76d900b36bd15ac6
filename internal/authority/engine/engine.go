// Package engine implements the authority's protocol operations: register,
// heartbeat, unregister and sweep, plus stats. Every state-mutating
// operation runs under the node store's writer lock, held for the whole
// operation including persistence.
package engine

import (
	"crypto/rsa"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haideralmesaody/license-fabric/internal/authority"
	"github.com/haideralmesaody/license-fabric/internal/authority/store"
	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
	"github.com/haideralmesaody/license-fabric/internal/licenseerr"
	"github.com/haideralmesaody/license-fabric/internal/token"
)

// Clock abstracts wall-clock time so tests can control it precisely.
type Clock func() time.Time

// Engine implements register/heartbeat/unregister/sweep over a NodeStore,
// verifying tokens against a fixed public key.
type Engine struct {
	nodes         *store.NodeStore
	publicKey     *rsa.PublicKey
	nodeTimeoutMs int64
	clock         Clock
	logger        *slog.Logger
	audit         *store.AuditLog

	registerCount   atomic.Int64
	heartbeatCount  atomic.Int64
	unregisterCount atomic.Int64
	sweepCount      atomic.Int64
}

// New builds an Engine. nodeTimeoutSeconds bounds both sweep eligibility and
// the boundary check in TestableProperties §8.
func New(nodes *store.NodeStore, publicKey *rsa.PublicKey, nodeTimeoutSeconds int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	nodesOnline.Set(float64(nodes.OnlineCount()))
	return &Engine{
		nodes:         nodes,
		publicKey:     publicKey,
		nodeTimeoutMs: int64(nodeTimeoutSeconds) * 1000,
		clock:         time.Now,
		logger:        logger.With(slog.String("component", "protocol_engine")),
	}
}

// WithClock overrides the wall clock; test-only.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// WithAuditLog attaches the append-only activation-event log; register,
// failed heartbeats, unregister and sweep all write one event through it. A
// nil audit log (the default) makes every call a no-op.
func (e *Engine) WithAuditLog(a *store.AuditLog) *Engine {
	e.audit = a
	return e
}

func (e *Engine) recordEvent(kind, nodeID, licenseCode, detail string) {
	if e.audit == nil {
		return
	}
	e.audit.Append(authority.ActivationEvent{
		TimestampMs: e.nowMs(),
		Kind:        kind,
		NodeID:      nodeID,
		LicenseCode: licenseCode,
		Detail:      detail,
	})
}

func (e *Engine) nowMs() int64 {
	return e.clock().UnixMilli()
}

// Register implements §4.4 register(licenseCode, machineInfo) → nodeId.
func (e *Engine) Register(licenseCode string, machineInfo fingerprint.MachineInfo) (string, error) {
	payload, err := token.Verify(licenseCode, e.publicKey)
	if err != nil {
		return "", licenseerr.Wrap(licenseerr.Unauthorized, "token verification failed", err)
	}

	now := e.nowMs()
	if payload.ExpiryTime != 0 && now > payload.ExpiryTime {
		return "", licenseerr.New(licenseerr.Expired, "license token has expired")
	}
	if payload.IssuedTime != nil && now < *payload.IssuedTime {
		return "", licenseerr.New(licenseerr.NotYetValid, "license token is not yet valid")
	}

	var (
		resultID  string
		resultErr error
	)
	e.nodes.WithLock(func(s *store.NodeStore) {
		existing := s.NodesForLicenseLocked(licenseCode)
		for _, n := range existing {
			if n.MachineInfo.Equal(machineInfo) {
				n.LastHeartbeatTimeMs = now
				s.UpsertLocked(n)
				resultID = n.NodeID
				return
			}
		}

		if len(existing) >= payload.MaxMachineCount {
			resultErr = licenseerr.New(licenseerr.Capacity,
				capacityMessage(payload.MaxMachineCount, len(existing)))
			return
		}

		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		node := authority.NodeInfo{
			NodeID:              id,
			LicenseCode:         licenseCode,
			MachineInfo:         machineInfo,
			RegisterTimeMs:      now,
			LastHeartbeatTimeMs: now,
		}
		s.UpsertLocked(node)
		resultID = id
	})

	if resultErr != nil {
		return "", resultErr
	}
	e.registerCount.Add(1)
	registrationsTotal.Inc()
	nodesOnline.Set(float64(e.nodes.OnlineCount()))
	e.recordEvent(authority.EventRegister, resultID, licenseCode, "")
	e.logger.Info("node registered", slog.String("nodeId", resultID), slog.String("licenseCode", maskCode(licenseCode)))
	return resultID, nil
}

func capacityMessage(max, current int) string {
	return "maxMachineCount reached: max=" + itoa(max) + " current=" + itoa(current)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Heartbeat implements §4.4 heartbeat(nodeId) → bool. Never persists.
func (e *Engine) Heartbeat(nodeID string) bool {
	ok := e.nodes.TouchHeartbeat(nodeID, e.nowMs())
	if ok {
		e.heartbeatCount.Add(1)
		heartbeatsTotal.Inc()
		return true
	}
	e.recordEvent(authority.EventHeartbeatFail, nodeID, "", "unknown node")
	return false
}

// Unregister implements §4.4 unregister(nodeId); idempotent.
func (e *Engine) Unregister(nodeID string) {
	if e.nodes.Remove(nodeID) {
		e.unregisterCount.Add(1)
		unregistrationsTotal.Inc()
		nodesOnline.Set(float64(e.nodes.OnlineCount()))
		e.recordEvent(authority.EventUnregister, nodeID, "", "")
		e.logger.Info("node unregistered", slog.String("nodeId", nodeID))
	}
}

// Sweep implements §4.4 sweep(): collects every stale nodeId and removes
// them all inside one writer-lock critical section, then logs a single
// summary line, matching Register's atomic read-then-write pattern.
func (e *Engine) Sweep() int {
	now := e.nowMs()
	var removed []string
	e.nodes.WithLock(func(s *store.NodeStore) {
		for _, id := range s.StaleNodeIDsLocked(e.nodeTimeoutMs, now) {
			s.RemoveLocked(id)
			removed = append(removed, id)
		}
	})

	if len(removed) > 0 {
		e.sweepCount.Add(1)
		sweepsTotal.Inc()
		nodesOnline.Set(float64(e.nodes.OnlineCount()))
		e.recordEvent(authority.EventSweep, "", "", "removed "+itoa(len(removed))+" stale nodes")
		e.logger.Info("sweep removed stale nodes", slog.Int("count", len(removed)))
	}
	return len(removed)
}

// Stats implements §4.4 stats().
func (e *Engine) Stats() authority.Stats {
	return authority.Stats{
		OnlineNodeCount: e.nodes.OnlineCount(),
		RegisterCount:   e.registerCount.Load(),
		HeartbeatCount:  e.heartbeatCount.Load(),
		UnregisterCount: e.unregisterCount.Load(),
		SweepCount:      e.sweepCount.Load(),
		LicenseCount:    e.nodes.LicenseCount(),
	}
}

func maskCode(code string) string {
	if len(code) <= 12 {
		return "***"
	}
	return code[:12] + "..."
}
