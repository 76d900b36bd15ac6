package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
)

// transport is the agent's RPC client to the authority, isolated behind an
// interface so tests can substitute a fake without a real HTTP server.
type transport interface {
	Register(ctx context.Context, licenseCode string, machineInfo fingerprint.MachineInfo) (envelope, error)
	Heartbeat(ctx context.Context, nodeID string) (envelope, error)
	Unregister(ctx context.Context, nodeID string) (envelope, error)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// httpTransport implements transport over the authority's real HTTP API.
type httpTransport struct {
	baseURL string
	client  *http.Client
}

func newHTTPTransport(baseURL string) *httpTransport {
	return &httpTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *httpTransport) post(ctx context.Context, path string, body interface{}) (envelope, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return envelope{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, &buf)
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		env.Code = resp.StatusCode
	}
	return env, nil
}

func (t *httpTransport) Register(ctx context.Context, licenseCode string, machineInfo fingerprint.MachineInfo) (envelope, error) {
	return t.post(ctx, "/api/node/register", map[string]interface{}{
		"licenseCode": licenseCode,
		"machineInfo": machineInfo,
	})
}

func (t *httpTransport) Heartbeat(ctx context.Context, nodeID string) (envelope, error) {
	return t.post(ctx, "/api/node/heartbeat", map[string]string{"nodeId": nodeID})
}

func (t *httpTransport) Unregister(ctx context.Context, nodeID string) (envelope, error) {
	return t.post(ctx, "/api/node/unregister", map[string]string{"nodeId": nodeID})
}
