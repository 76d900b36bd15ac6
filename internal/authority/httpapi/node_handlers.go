package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/haideralmesaody/license-fabric/internal/authority/engine"
	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
	"github.com/haideralmesaody/license-fabric/internal/licenseerr"
)

// NodeHandlers implements the /api/node/* endpoint group (§6).
type NodeHandlers struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewNodeHandlers wires the handlers against the protocol engine.
func NewNodeHandlers(eng *engine.Engine, logger *slog.Logger) *NodeHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeHandlers{engine: eng, logger: logger.With(slog.String("component", "node_handlers"))}
}

// Routes mounts this handler group's chi routes.
func (h *NodeHandlers) Routes(admin func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.register)
	r.Post("/heartbeat", h.heartbeat)
	r.Post("/unregister", h.unregister)
	r.With(admin).Get("/stats", h.stats)
	return r
}

type registerRequest struct {
	LicenseCode string                  `json:"licenseCode"`
	MachineInfo fingerprint.MachineInfo `json:"machineInfo"`
}

func (h *NodeHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, &Envelope{Code: http.StatusBadRequest, Message: "invalid request body"})
		return
	}

	nodeID, err := h.engine.Register(req.LicenseCode, req.MachineInfo)
	if err != nil {
		h.logger.Warn("register failed", slog.String("error", err.Error()), slog.String("code", string(licenseerr.CodeOf(err))))
		writeEnvelope(w, r, FromError(err))
		return
	}
	writeEnvelope(w, r, OK(nodeID))
}

type nodeIDRequest struct {
	NodeID string `json:"nodeId"`
}

func (h *NodeHandlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req nodeIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, &Envelope{Code: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	if !h.engine.Heartbeat(req.NodeID) {
		writeEnvelope(w, r, &Envelope{Code: http.StatusNotFound, Message: "node not found; re-register"})
		return
	}
	writeEnvelope(w, r, OK(true))
}

func (h *NodeHandlers) unregister(w http.ResponseWriter, r *http.Request) {
	var req nodeIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		h.engine.Unregister(req.NodeID)
	}
	writeEnvelope(w, r, OK(nil))
}

func (h *NodeHandlers) stats(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, r, OK(h.engine.Stats()))
}
