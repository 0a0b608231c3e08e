package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmaloy/keydeck/internal/adapter/driven/mcp"
	"github.com/dmaloy/keydeck/internal/application"
	"github.com/dmaloy/keydeck/internal/domain/model"
	"github.com/dmaloy/keydeck/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	keys      *application.KeyService
	scheduler *application.RotationScheduler
	mcpEditor *mcp.Editor
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	keys *application.KeyService,
	scheduler *application.RotationScheduler,
	mcpEditor *mcp.Editor,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		keys:      keys,
		scheduler: scheduler,
		mcpEditor: mcpEditor,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/keys", h.ListKeys)
	mux.HandleFunc("POST /api/v1/keys", h.AddKey)
	mux.HandleFunc("POST /api/v1/keys/batch", h.BatchAddKeys)
	mux.HandleFunc("POST /api/v1/keys/refresh", h.RefreshAll)
	mux.HandleFunc("POST /api/v1/keys/{id}/refresh", h.RefreshKey)
	mux.HandleFunc("POST /api/v1/keys/{id}/activate", h.ActivateKey)
	mux.HandleFunc("POST /api/v1/keys/{id}/sold", h.ToggleSold)
	mux.HandleFunc("DELETE /api/v1/keys/{id}", h.DeleteKey)
	mux.HandleFunc("GET /api/v1/keys/{id}/card", h.KeyCard)
	mux.HandleFunc("GET /api/v1/rotation", h.GetRotation)
	mux.HandleFunc("PUT /api/v1/rotation", h.SetRotation)
	mux.HandleFunc("GET /api/v1/mcp", h.GetMCPConfig)
	mux.HandleFunc("PUT /api/v1/mcp", h.SaveMCPConfig)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListKeys returns the full collection with aggregate stats, sorted by the
// optional "sort" query parameter.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	order := model.ParseSortOrder(r.URL.Query().Get("sort"))
	snap := h.keys.Snapshot(order)
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap, order))
}

// AddKey validates a single credential against the quota service and commits
// it on success.
func (h *Handler) AddKey(w http.ResponseWriter, r *http.Request) {
	var req AddKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	result, err := h.keys.Add(r.Context(), req.Name, req.APIKey)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "key already exists")
		case errors.Is(err, driven.ErrInvalidCredential):
			writeError(w, http.StatusBadRequest, "credential rejected by quota service")
		case errors.Is(err, driven.ErrForbidden):
			writeError(w, http.StatusBadRequest, "credential lacks access to quota service")
		default:
			h.logger.Error("add key failed", "suffix", model.CredentialSuffix(req.APIKey), "error", err)
			writeError(w, http.StatusBadGateway, "quota service unavailable")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toKeyResponse(result.Key, nil))
}

// BatchAddKeys parses free-form text for credentials and commits every one
// that validates. Per-credential failures are reported, not fatal.
func (h *Handler) BatchAddKeys(w http.ResponseWriter, r *http.Request) {
	var req BatchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.keys.BatchAdd(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, model.ErrParseEmpty) {
			writeError(w, http.StatusBadRequest, "no credentials found in input")
			return
		}
		h.logger.Error("batch add failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, BatchAddResponse{
		Added:            len(result.Added),
		Failed:           emptyIfNil(result.Failed),
		SkippedExisting:  emptyIfNil(result.SkippedExisting),
		SkippedDuplicate: emptyIfNil(result.SkippedDuplicate),
	})
}

// RefreshAll re-fetches quota for every key concurrently and reports a summary.
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	summary := h.keys.RefreshAll(r.Context())
	writeJSON(w, http.StatusOK, RefreshAllResponse{
		Refreshed:   summary.Refreshed,
		FailedCount: summary.FailedCount,
		Failed:      emptyIfNil(summary.Failed),
	})
}

// RefreshKey re-fetches quota for a single key.
func (h *Handler) RefreshKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.keys.Refresh(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusNotFound, "key not found")
		case errors.Is(err, driven.ErrInvalidCredential), errors.Is(err, driven.ErrForbidden):
			writeError(w, http.StatusBadGateway, "credential rejected by quota service")
		default:
			h.logger.Error("refresh failed", "id", id, "error", err)
			writeError(w, http.StatusBadGateway, "quota service unavailable")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ActivateKey publishes the key's credential to the environment and marks it
// as the single active key.
func (h *Handler) ActivateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.keys.SwitchActive(r.Context(), id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("activate failed", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to publish credential")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ToggleSold flips the sold flag on a key.
func (h *Handler) ToggleSold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sold, err := h.keys.ToggleSold(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("toggle sold failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, SoldResponse{ID: id, IsSold: sold})
}

// DeleteKey removes a key from the collection. Deleting the active key leaves
// no key active.
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.keys.Delete(r.Context(), id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("delete failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// KeyCard returns the shareable card text for a key. This is the only
// endpoint that exposes the full credential.
func (h *Handler) KeyCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	content, err := h.keys.Card(id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		h.logger.Error("card failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, CardResponse{Content: content})
}

// GetRotation returns the configured rotation interval.
func (h *Handler) GetRotation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RotationResponse{Interval: h.scheduler.Interval()})
}

// SetRotation updates the rotation interval. Unparseable values fall back to
// the default interval rather than failing.
func (h *Handler) SetRotation(w http.ResponseWriter, r *http.Request) {
	var req RotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.scheduler.SetInterval(req.Interval)
	writeJSON(w, http.StatusOK, RotationResponse{Interval: h.scheduler.Interval()})
}

// GetMCPConfig returns the content of the MCP config file.
func (h *Handler) GetMCPConfig(w http.ResponseWriter, _ *http.Request) {
	content, err := h.mcpEditor.Read()
	if err != nil {
		h.logger.Error("read mcp config failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MCPConfigResponse{Content: content})
}

// SaveMCPConfig validates and writes the MCP config file.
func (h *Handler) SaveMCPConfig(w http.ResponseWriter, r *http.Request) {
	var req MCPConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.mcpEditor.Save(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// pathID parses the {id} path segment, writing a 400 response on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return 0, false
	}
	return id, true
}
