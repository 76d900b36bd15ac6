package controller

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haideralmesaody/license-fabric/internal/agent/cache"
	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
	"github.com/haideralmesaody/license-fabric/internal/token"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport lets tests script the authority's responses without a real
// HTTP server.
type fakeTransport struct {
	mu               sync.Mutex
	registerEnvelope envelope
	registerErr      error
	heartbeatEnvelope envelope
	heartbeatErr     error
	unregisterCalls  int
}

func (f *fakeTransport) Register(ctx context.Context, licenseCode string, machineInfo fingerprint.MachineInfo) (envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerEnvelope, f.registerErr
}

func (f *fakeTransport) Heartbeat(ctx context.Context, nodeID string) (envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeatEnvelope, f.heartbeatErr
}

func (f *fakeTransport) Unregister(ctx context.Context, nodeID string) (envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisterCalls++
	return envelope{Code: http.StatusOK}, nil
}

func nodeIDEnvelope(id string) envelope {
	data, _ := json.Marshal(id)
	return envelope{Code: http.StatusOK, Message: "ok", Data: data}
}

func testKeyAndToken(t *testing.T, expiry int64) (*rsa.PrivateKey, *rsa.PublicKey, string, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub := &priv.PublicKey
	pemText, err := token.EncodePublicKeyPEM(pub)
	require.NoError(t, err)
	code, err := token.Mint(token.Payload{Subject: "Acme", ExpiryTime: expiry, MaxMachineCount: 1}, priv)
	require.NoError(t, err)
	return priv, pub, pemText, code
}

func baseConfig(t *testing.T, pub *rsa.PublicKey, pemText, code string) Config {
	return Config{
		Code:              code,
		ServerURL:         "http://unused.invalid",
		PublicKey:         pub,
		PublicKeyPEM:      pemText,
		HeartbeatInterval: time.Hour, // long enough that tests control ticks manually via doHeartbeat
		GracePeriodHours:  1,
		CachePath:         filepath.Join(t.TempDir(), "cache.dat"),
	}
}

func TestStartMissingCodeIsInvalid(t *testing.T) {
	_, pub, pemText, _ := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, "")
	c := New(cfg, nil).WithTransport(&fakeTransport{})
	c.Start(context.Background())
	assert.Equal(t, Invalid, c.Status())
}

func TestStartSuccessfulRegisterIsOnline(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerEnvelope: nodeIDEnvelope("node-1")}
	c := New(cfg, nil).WithTransport(ft)

	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	snap := c.Snapshot()
	assert.Equal(t, ValidOnline, snap.Status)
	assert.Equal(t, "node-1", snap.NodeID)
}

func TestStartRegisterFailsFallsBackToDegradedFirstTime(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerErr: errors.New("connection refused")}
	c := New(cfg, nil).WithTransport(ft)

	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	assert.Equal(t, ValidDegraded, c.Status())
}

func TestStartRegisterRejectedByServerIsInvalid(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerEnvelope: envelope{Code: http.StatusForbidden, Message: "capacity reached"}}
	c := New(cfg, nil).WithTransport(ft)

	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	snap := c.Snapshot()
	assert.Equal(t, Invalid, snap.Status)
	assert.Contains(t, snap.Message, "capacity reached")
}

func TestHeartbeat404TriggersReregister(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerEnvelope: nodeIDEnvelope("node-1")}
	c := New(cfg, nil).WithTransport(ft)
	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	ft.heartbeatEnvelope = envelope{Code: http.StatusNotFound}
	ft.registerEnvelope = nodeIDEnvelope("node-2")
	c.doHeartbeat(context.Background())

	assert.Equal(t, "node-2", c.Snapshot().NodeID)
	assert.Equal(t, ValidOnline, c.Snapshot().Status)
}

func TestThreeHeartbeatFailuresDegradeThenExpireInvalid(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	cfg.GracePeriodHours = 1
	ft := &fakeTransport{registerEnvelope: nodeIDEnvelope("node-1")}
	c := New(cfg, nil).WithTransport(ft)
	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	ft.heartbeatEnvelope = envelope{Code: http.StatusInternalServerError}
	c.doHeartbeat(context.Background())
	c.doHeartbeat(context.Background())
	assert.Equal(t, ValidOnline, c.Snapshot().Status, "fewer than 3 failures must not degrade yet")

	c.doHeartbeat(context.Background())
	assert.Equal(t, ValidDegraded, c.Snapshot().Status)

	// two hours later (monotonic reading preserved) the 1-hour grace is spent
	c.tamper.WithNowFunc(func() time.Time { return time.Now().Add(2 * time.Hour) })
	c.doHeartbeat(context.Background())
	assert.Equal(t, Invalid, c.Snapshot().Status, "a further failure past the grace window must invalidate")
}

func TestHeartbeatSuccessAfterDegradeReconnects(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerEnvelope: nodeIDEnvelope("node-1")}
	c := New(cfg, nil).WithTransport(ft)
	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	ft.heartbeatEnvelope = envelope{Code: http.StatusInternalServerError}
	c.doHeartbeat(context.Background())
	c.doHeartbeat(context.Background())
	c.doHeartbeat(context.Background())
	require.Equal(t, ValidDegraded, c.Snapshot().Status)

	ft.heartbeatEnvelope = envelope{Code: http.StatusOK}
	c.doHeartbeat(context.Background())
	assert.Equal(t, ValidOnline, c.Snapshot().Status)
}

func TestTryDegradeFromCacheRejectsExpiredPayload(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(-time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	c := New(cfg, nil).WithTransport(&fakeTransport{})

	// seed the cache directly with an expired payload
	require.NoError(t, c.cacheMgr.Save(cache.Record{
		Payload:     token.Payload{Subject: "Acme", ExpiryTime: time.Now().Add(-time.Hour).UnixMilli(), MaxMachineCount: 1},
		LicenseCode: code,
	}))

	degraded, hadCache := c.tryDegradeFromCache()
	assert.False(t, degraded)
	assert.True(t, hadCache, "an expired cache record is still a cache that was present")
}

func TestStartWithExpiredCacheAndUnreachableAuthorityIsInvalid(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	c := New(cfg, nil).WithTransport(&fakeTransport{registerErr: errors.New("connection refused")})

	// seed the cache with an expired payload so tryDegradeFromCache rejects it
	require.NoError(t, c.cacheMgr.Save(cache.Record{
		Payload:     token.Payload{Subject: "Acme", ExpiryTime: time.Now().Add(-time.Hour).UnixMilli(), MaxMachineCount: 1},
		LicenseCode: code,
	}))

	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	snap := c.Snapshot()
	assert.Equal(t, Invalid, snap.Status, "an expired cache must not be clobbered by the first-time-offline fallback")
	assert.Contains(t, snap.Message, "expired")
}

func TestShutdownUnregistersWhenNodeIDPresent(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerEnvelope: nodeIDEnvelope("node-1")}
	c := New(cfg, nil).WithTransport(ft)
	c.Start(context.Background())

	c.Shutdown(context.Background())
	assert.Equal(t, 1, ft.unregisterCalls)
}

func TestStatusGaugeTracksLifecycleTransitions(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerEnvelope: nodeIDEnvelope("node-1")}
	c := New(cfg, nil).WithTransport(ft)
	c.Start(context.Background())
	defer c.Shutdown(context.Background())
	assert.Equal(t, float64(2), testutil.ToFloat64(statusGauge), "VALID_ONLINE must report 2")

	ft.heartbeatEnvelope = envelope{Code: http.StatusInternalServerError}
	c.doHeartbeat(context.Background())
	c.doHeartbeat(context.Background())
	c.doHeartbeat(context.Background())
	require.Equal(t, ValidDegraded, c.Snapshot().Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(statusGauge), "VALID_DEGRADED must report 1")
}

func TestHeartbeatCountersIncrementOnSuccessAndFailure(t *testing.T) {
	_, pub, pemText, code := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, code)
	ft := &fakeTransport{registerEnvelope: nodeIDEnvelope("node-1")}
	c := New(cfg, nil).WithTransport(ft)
	c.Start(context.Background())
	defer c.Shutdown(context.Background())

	successBefore := testutil.ToFloat64(heartbeatSuccessTotal)
	failureBefore := testutil.ToFloat64(heartbeatFailureTotal)

	ft.heartbeatEnvelope = envelope{Code: http.StatusOK}
	c.doHeartbeat(context.Background())
	assert.Equal(t, successBefore+1, testutil.ToFloat64(heartbeatSuccessTotal))

	ft.heartbeatEnvelope = envelope{Code: http.StatusInternalServerError}
	c.doHeartbeat(context.Background())
	assert.Equal(t, failureBefore+1, testutil.ToFloat64(heartbeatFailureTotal))
}

func TestShutdownWithoutNodeIDDoesNotCallUnregister(t *testing.T) {
	_, pub, pemText, _ := testKeyAndToken(t, time.Now().Add(time.Hour).UnixMilli())
	cfg := baseConfig(t, pub, pemText, "")
	ft := &fakeTransport{}
	c := New(cfg, nil).WithTransport(ft)
	c.Start(context.Background())

	c.Shutdown(context.Background())
	assert.Equal(t, 0, ft.unregisterCalls)
}
