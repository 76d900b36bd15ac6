// Package httpapi routes the authority's HTTP surface (§6): chi-mounted
// handlers, an admin bearer-token middleware, and the {code, message, data}
// response envelope.
package httpapi

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/haideralmesaody/license-fabric/internal/licenseerr"
)

// Envelope is the normative response shape for every endpoint in §6.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Render implements render.Renderer.
func (e *Envelope) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Code)
	return nil
}

// OK builds a 200 envelope.
func OK(data interface{}) *Envelope {
	return &Envelope{Code: http.StatusOK, Message: "ok", Data: data}
}

// codeToStatus maps the internal error taxonomy (§7) to an HTTP status code.
func codeToStatus(code licenseerr.Code) int {
	switch code {
	case licenseerr.Format, licenseerr.Config:
		return http.StatusBadRequest
	case licenseerr.Unauthorized:
		return http.StatusUnauthorized
	case licenseerr.Tampered, licenseerr.Expired, licenseerr.NotYetValid, licenseerr.Capacity:
		return http.StatusForbidden
	case licenseerr.NotFound:
		return http.StatusNotFound
	case licenseerr.Transport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError builds an envelope + renderer for err, using its licenseerr.Code
// to pick the HTTP status the way the taxonomy in §7 prescribes.
func FromError(err error) *Envelope {
	status := codeToStatus(licenseerr.CodeOf(err))
	return &Envelope{Code: status, Message: err.Error()}
}
