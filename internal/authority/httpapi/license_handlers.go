package httpapi

import (
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/haideralmesaody/license-fabric/internal/authority"
	"github.com/haideralmesaody/license-fabric/internal/authority/store"
	"github.com/haideralmesaody/license-fabric/internal/token"
)

// LicenseHandlers implements the /api/license/* endpoint group (§6).
type LicenseHandlers struct {
	records    *store.LicenseStore
	nodes      *store.NodeStore
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	publicPEM  string
	logger     *slog.Logger
}

// NewLicenseHandlers wires the handlers against the license record store,
// the node store (for listing online nodes), and the authority keypair.
func NewLicenseHandlers(records *store.LicenseStore, nodes *store.NodeStore, privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, logger *slog.Logger) (*LicenseHandlers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pem, err := token.EncodePublicKeyPEM(publicKey)
	if err != nil {
		return nil, err
	}
	return &LicenseHandlers{
		records:    records,
		nodes:      nodes,
		privateKey: privateKey,
		publicKey:  publicKey,
		publicPEM:  pem,
		logger:     logger.With(slog.String("component", "license_handlers")),
	}, nil
}

// Routes mounts this handler group's chi routes.
func (h *LicenseHandlers) Routes(admin func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.With(admin).Post("/generate", h.generate)
	r.With(admin).Get("/list", h.list)
	r.With(admin).Delete("/{id}", h.delete)
	r.Get("/publicKey", h.publicKeyHandler)
	r.With(admin).Get("/nodes", h.listNodes)
	r.With(admin).Post("/backup", h.backup)
	return r
}

type generateRequest struct {
	Subject         string   `json:"subject"`
	IssuedTime      *int64   `json:"issuedTime,omitempty"`
	ExpiryTime      int64    `json:"expiryTime"`
	MaxMachineCount int      `json:"maxMachineCount"`
	Modules         []string `json:"modules,omitempty"`
	Description     string   `json:"description,omitempty"`
}

func (h *LicenseHandlers) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, &Envelope{Code: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		writeEnvelope(w, r, &Envelope{Code: http.StatusBadRequest, Message: "subject must not be empty"})
		return
	}
	if req.MaxMachineCount <= 0 {
		writeEnvelope(w, r, &Envelope{Code: http.StatusBadRequest, Message: "maxMachineCount must be positive"})
		return
	}
	if req.ExpiryTime == 0 {
		writeEnvelope(w, r, &Envelope{Code: http.StatusBadRequest, Message: "expiryTime is required"})
		return
	}

	issued := req.IssuedTime
	if issued == nil {
		now := time.Now().UnixMilli()
		issued = &now
	}

	payload := token.Payload{
		Subject:         req.Subject,
		IssuedTime:      issued,
		ExpiryTime:      req.ExpiryTime,
		MaxMachineCount: req.MaxMachineCount,
		Modules:         req.Modules,
		Description:     req.Description,
	}

	code, err := token.Mint(payload, h.privateKey)
	if err != nil {
		writeEnvelope(w, r, FromError(err))
		return
	}

	record := authority.LicenseRecord{
		ID:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		Subject:      req.Subject,
		LicenseCode:  code,
		Payload:      payload,
		CreateTimeMs: time.Now().UnixMilli(),
	}
	h.records.Create(record)
	h.logger.Info("license generated", slog.String("id", record.ID), slog.String("subject", record.Subject))

	writeEnvelope(w, r, OK(record))
}

func (h *LicenseHandlers) list(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, r, OK(h.records.List()))
}

func (h *LicenseHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.records.Delete(id) {
		writeEnvelope(w, r, &Envelope{Code: http.StatusNotFound, Message: "license record not found"})
		return
	}
	writeEnvelope(w, r, OK(nil))
}

func (h *LicenseHandlers) publicKeyHandler(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, h.publicPEM)
}

func (h *LicenseHandlers) listNodes(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, r, OK(h.nodes.All()))
}

func (h *LicenseHandlers) backup(w http.ResponseWriter, r *http.Request) {
	path, err := h.records.Backup()
	if err != nil {
		h.logger.Error("license backup failed", slog.String("error", err.Error()))
		writeEnvelope(w, r, &Envelope{Code: http.StatusInternalServerError, Message: "backup failed"})
		return
	}
	h.logger.Info("license backup requested", slog.String("backupPath", path))
	writeEnvelope(w, r, OK(map[string]string{"backupPath": path}))
}
