package httpapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/haideralmesaody/license-fabric/internal/authority/engine"
	"github.com/haideralmesaody/license-fabric/internal/authority/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func newTestRouter(t *testing.T, adminToken string) (http.Handler, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	licenseStore, err := store.NewLicenseStore(filepath.Join(dir, "licenses.json"), nil)
	require.NoError(t, err)
	nodeStore, err := store.NewNodeStore(filepath.Join(dir, "nodes.json"), 300_000, 0, nil)
	require.NoError(t, err)

	eng := engine.New(nodeStore, &priv.PublicKey, 300, nil)
	licenseHandlers, err := NewLicenseHandlers(licenseStore, nodeStore, priv, &priv.PublicKey, nil)
	require.NoError(t, err)
	nodeHandlers := NewNodeHandlers(eng, nil)

	return NewRouter(licenseHandlers, nodeHandlers, adminToken, otel.Tracer("test"), nil), priv
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminEndpointsRequireBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, "s3cret")

	rec := doJSON(t, router, http.MethodGet, "/api/license/list", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/license/list", nil, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicKeyEndpointIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, "s3cret")
	rec := doJSON(t, router, http.MethodGet, "/api/license/publicKey", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PUBLIC KEY")
}

func TestGenerateRegisterCapacityFlow(t *testing.T) {
	router, _ := newTestRouter(t, "")

	genReq := generateRequest{Subject: "X", ExpiryTime: time.Now().Add(time.Hour).UnixMilli(), MaxMachineCount: 2}
	rec := doJSON(t, router, http.MethodPost, "/api/license/generate", genReq, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var genResp struct {
		Data struct {
			LicenseCode string `json:"licenseCode"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &genResp))
	code := genResp.Data.LicenseCode
	require.NotEmpty(t, code)

	registerAndExpect := func(mac string, expectStatus int) {
		body := map[string]interface{}{
			"licenseCode": code,
			"machineInfo": map[string]interface{}{"macAddress": []string{mac}},
		}
		rec := doJSON(t, router, http.MethodPost, "/api/node/register", body, nil)
		assert.Equal(t, expectStatus, rec.Code, rec.Body.String())
	}

	registerAndExpect("aa:aa:aa:aa:aa:aa", http.StatusOK)
	registerAndExpect("bb:bb:bb:bb:bb:bb", http.StatusOK)
	registerAndExpect("cc:cc:cc:cc:cc:cc", http.StatusForbidden)
}

func TestHeartbeatUnknownNodeReturns404(t *testing.T) {
	router, _ := newTestRouter(t, "")
	rec := doJSON(t, router, http.MethodPost, "/api/node/heartbeat", map[string]string{"nodeId": "unknown"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnregisterAlwaysReturns200(t *testing.T) {
	router, _ := newTestRouter(t, "")
	rec := doJSON(t, router, http.MethodPost, "/api/node/unregister", map[string]string{"nodeId": "unknown"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLicenseBackupRequiresAdminAndWritesFile(t *testing.T) {
	router, _ := newTestRouter(t, "s3cret")

	rec := doJSON(t, router, http.MethodPost, "/api/license/backup", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/license/backup", nil, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "backupPath")
}

func TestHealthzAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, "")
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
