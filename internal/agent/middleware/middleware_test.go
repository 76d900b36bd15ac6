package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haideralmesaody/license-fabric/internal/agent/controller"
	"github.com/stretchr/testify/assert"
)

type stubSource struct {
	snap controller.Snapshot
}

func (s stubSource) Snapshot() controller.Snapshot { return s.snap }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestInvalidStatusBlocksRequest(t *testing.T) {
	g := New(stubSource{snap: controller.Snapshot{Status: controller.Invalid, Message: "expired"}}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)

	g.Handler(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestOnlineStatusAdmitsRequest(t *testing.T) {
	g := New(stubSource{snap: controller.Snapshot{Status: controller.ValidOnline}}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)

	g.Handler(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDegradedStatusAdmitsRequest(t *testing.T) {
	g := New(stubSource{snap: controller.Snapshot{Status: controller.ValidDegraded}}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)

	g.Handler(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExactExcludedPathBypassesGate(t *testing.T) {
	g := New(stubSource{snap: controller.Snapshot{Status: controller.Invalid}}, nil, "/healthz")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	g.Handler(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWildcardExcludedPrefixBypassesGate(t *testing.T) {
	g := New(stubSource{snap: controller.Snapshot{Status: controller.Invalid}}, nil, "/static/**")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/static/app.css", nil)

	g.Handler(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNonMatchingPathUnderWildcardIsNotExcluded(t *testing.T) {
	g := New(stubSource{snap: controller.Snapshot{Status: controller.Invalid}}, nil, "/static/**")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/thing", nil)

	g.Handler(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
