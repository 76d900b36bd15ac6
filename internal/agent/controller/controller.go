package controller

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/haideralmesaody/license-fabric/internal/agent/antitamper"
	"github.com/haideralmesaody/license-fabric/internal/agent/cache"
	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
	"github.com/haideralmesaody/license-fabric/internal/token"
)

const maxHeartbeatFailuresBeforeDegrade = 3

// Config configures a Controller.
type Config struct {
	Code                     string
	ServerURL                string
	PublicKey                *rsa.PublicKey
	PublicKeyPEM             string // used as the cache encryption key material, per §4.2
	HeartbeatInterval        time.Duration
	GracePeriodHours         int
	CachePath                string
	MachineInfo              fingerprint.MachineInfo
}

// Controller is the explicit agent-state handle described in §9's redesign
// note: every field a consumer needs is reached through Snapshot(), and
// every transition publishes a fresh, immutable Snapshot atomically.
type Controller struct {
	cfg       Config
	logger    *slog.Logger
	transport transport
	tamper    *antitamper.Checker
	cacheMgr  *cache.Manager

	snapshot atomic.Pointer[Snapshot]

	heartbeatFailCount int
	done               chan struct{}
	stopped            chan struct{}
}

// New builds a Controller. It does not contact the network or start the
// heartbeat loop — call Start for that.
func New(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "agent_controller"))
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 120 * time.Second
	}

	c := &Controller{
		cfg:       cfg,
		logger:    logger,
		transport: newHTTPTransport(cfg.ServerURL),
		tamper:    antitamper.New(cfg.GracePeriodHours, logger),
		cacheMgr:  cache.New(cfg.CachePath, cfg.PublicKeyPEM),
	}
	c.publish(Invalid, nil, "", "not started")
	return c
}

// WithTransport overrides the RPC transport; test-only.
func (c *Controller) WithTransport(t transport) *Controller {
	c.transport = t
	return c
}

// Snapshot returns the current state without locking.
func (c *Controller) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// Status is a convenience accessor used by the request middleware's hot path.
func (c *Controller) Status() Status {
	return c.snapshot.Load().Status
}

func (c *Controller) publish(status Status, payload *token.Payload, nodeID, message string) {
	c.snapshot.Store(&Snapshot{Status: status, Payload: payload, NodeID: nodeID, Message: message})
	statusGauge.Set(statusMetricValue(status))
}

// Start implements §4.5's start algorithm.
func (c *Controller) Start(ctx context.Context) {
	if c.cfg.Code == "" {
		c.publish(Invalid, nil, "", "missing license code")
		return
	}

	payload, err := token.Verify(c.cfg.Code, c.cfg.PublicKey)
	if err != nil {
		c.publish(Invalid, nil, "", "bad signature: "+err.Error())
		return
	}

	before := c.snapshot.Load()
	if c.tryRegister(ctx) {
		c.startHeartbeatLoop()
		return
	}
	// tryRegister publishes a new snapshot only when the authority answered
	// and rejected the registration; a transport error leaves state untouched.
	rejected := c.snapshot.Load() != before

	degraded, hadCache := c.tryDegradeFromCache()
	if degraded {
		c.startHeartbeatLoop()
		return
	}
	if hadCache || rejected {
		// Either a cache existed and tryDegradeFromCache already published
		// Invalid for it (expired payload or grace exceeded), or the authority
		// rejected the registration and tryRegister published Invalid with its
		// message; that state must stand, not be clobbered by the
		// first-time-offline fallback below.
		return
	}

	// First-time offline start: the token itself verified syntactically
	// above, so it's allowed to bind an initial degraded session even
	// without ever having reached the authority. Deliberate convenience,
	// carried over unchanged from the algorithm this controller implements.
	p := payload
	c.tamper.RecordOnlineVerify()
	c.tamper.MarkOffline()
	c.publish(ValidDegraded, &p, "", fmt.Sprintf("grace remaining %.1f hours (first-time offline start)", c.tamper.RemainingGraceHours()))
	if err := c.cacheMgr.Save(cache.Record{Payload: p, LastVerifyMs: c.tamper.LastVerifyWallMs(), LicenseCode: c.cfg.Code}); err != nil {
		c.logger.Warn("failed to write initial offline cache", slog.String("error", err.Error()))
	}
	c.startHeartbeatLoop()
}

// tryRegister implements §4.5's tryRegister(code).
func (c *Controller) tryRegister(ctx context.Context) bool {
	env, err := c.transport.Register(ctx, c.cfg.Code, c.cfg.MachineInfo)
	if err != nil {
		c.logger.Warn("register transport error", slog.String("error", err.Error()))
		return false
	}
	if env.Code != http.StatusOK {
		c.publish(Invalid, nil, "", env.Message)
		return false
	}

	var nodeID string
	if err := json.Unmarshal(env.Data, &nodeID); err != nil {
		c.logger.Warn("register response missing nodeId", slog.String("error", err.Error()))
		return false
	}

	payload, err := token.Verify(c.cfg.Code, c.cfg.PublicKey)
	if err != nil {
		c.publish(Invalid, nil, "", "bad signature: "+err.Error())
		return false
	}

	c.tamper.RecordOnlineVerify()
	c.publish(ValidOnline, &payload, nodeID, "online")
	c.heartbeatFailCount = 0
	if err := c.cacheMgr.Save(cache.Record{Payload: payload, NodeID: nodeID, LastVerifyMs: c.tamper.LastVerifyWallMs(), LicenseCode: c.cfg.Code}); err != nil {
		c.logger.Warn("failed to write cache after register", slog.String("error", err.Error()))
	}
	return true
}

// tryDegradeFromCache implements §4.5's tryDegradeFromCache. The second
// return value tells Start whether a cache file was actually present, so it
// can distinguish "no cache" (fall through to first-time-offline-start) from
// "cache present but rejected" (an Invalid snapshot was already published
// and must be left alone).
func (c *Controller) tryDegradeFromCache() (degraded bool, hadCache bool) {
	record, err := c.cacheMgr.Load()
	if err != nil || record == nil {
		return false, false
	}

	nowMs := time.Now().UnixMilli()
	if record.Payload.ExpiryTime < nowMs {
		c.publish(Invalid, nil, "", "cached license has expired")
		return false, true
	}

	c.tamper.AdoptLastVerifyWall(record.LastVerifyMs)
	c.tamper.MarkOffline()
	if !c.tamper.IsDegradationValid() {
		c.publish(Invalid, nil, "", "offline grace period exceeded")
		return false, true
	}

	payload := record.Payload
	c.publish(ValidDegraded, &payload, record.NodeID,
		fmt.Sprintf("grace remaining %.1f hours", c.tamper.RemainingGraceHours()))
	return true, true
}

// startHeartbeatLoop starts the background goroutine implementing §4.5's
// heartbeat loop and §5's "one outstanding HTTP call at a time" rule.
func (c *Controller) startHeartbeatLoop() {
	c.done = make(chan struct{})
	c.stopped = make(chan struct{})

	go func() {
		defer close(c.stopped)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.doHeartbeat(context.Background())
			case <-c.done:
				return
			}
		}
	}()
}

// doHeartbeat implements §4.5's heartbeat-loop body for a single tick.
func (c *Controller) doHeartbeat(ctx context.Context) {
	snap := c.Snapshot()

	if snap.NodeID == "" {
		c.tryRegister(ctx)
		return
	}

	env, err := c.transport.Heartbeat(ctx, snap.NodeID)
	switch {
	case err != nil:
		heartbeatFailureTotal.Inc()
		c.onHeartbeatFailure()
	case env.Code == http.StatusOK:
		heartbeatSuccessTotal.Inc()
		c.tamper.RecordOnlineVerify()
		c.heartbeatFailCount = 0
		if snap.Status == ValidDegraded {
			c.publish(ValidOnline, snap.Payload, snap.NodeID, "reconnected")
			if snap.Payload != nil {
				if err := c.cacheMgr.Save(cache.Record{Payload: *snap.Payload, NodeID: snap.NodeID, LastVerifyMs: c.tamper.LastVerifyWallMs(), LicenseCode: c.cfg.Code}); err != nil {
					c.logger.Warn("failed to rewrite cache after reconnect", slog.String("error", err.Error()))
				}
			}
		}
	case env.Code == http.StatusNotFound:
		c.tryRegister(ctx)
	default:
		heartbeatFailureTotal.Inc()
		c.onHeartbeatFailure()
	}
}

func (c *Controller) onHeartbeatFailure() {
	c.heartbeatFailCount++
	if c.heartbeatFailCount < maxHeartbeatFailuresBeforeDegrade {
		return
	}

	c.tamper.MarkOffline()
	snap := c.Snapshot()
	if c.tamper.IsDegradationValid() {
		c.publish(ValidDegraded, snap.Payload, snap.NodeID,
			fmt.Sprintf("grace remaining %.1f hours", c.tamper.RemainingGraceHours()))
	} else {
		c.publish(Invalid, nil, "", "degradation grace period expired")
	}
}

// Shutdown implements §4.5's shutdown: stop the heartbeat loop, then
// best-effort unregister with a short-lived context.
func (c *Controller) Shutdown(ctx context.Context) {
	if c.done != nil {
		close(c.done)
		<-c.stopped
	}

	snap := c.Snapshot()
	if snap.NodeID == "" {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.transport.Unregister(shutdownCtx, snap.NodeID); err != nil {
		c.logger.Warn("best-effort unregister on shutdown failed", slog.String("error", err.Error()))
	}
}
