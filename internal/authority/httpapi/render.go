package httpapi

import (
	"net/http"

	"github.com/go-chi/render"
)

// writeEnvelope writes env to the response using chi/render, matching the
// rest of this fabric's response-rendering idiom.
func writeEnvelope(w http.ResponseWriter, r *http.Request, env *Envelope) {
	_ = render.Render(w, r, env)
}
