package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/imei-registry/internal/session"
	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

// Lookups is what the handlers need from the session manager
type Lookups interface {
	Start(ctx context.Context, imei string) (*models.StartResponse, error)
	Solve(ctx context.Context, id, captchaText string) (*models.LookupResult, error)
	Active() int
	Mode() models.SessionMode
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	lookups Lookups
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(lookups Lookups, logger *zap.Logger) *Handler {
	return &Handler{
		lookups: lookups,
		logger:  logger,
	}
}

// StartLookup handles GET /start/{imei}
func (h *Handler) StartLookup(w http.ResponseWriter, r *http.Request) {
	imei := mux.Vars(r)["imei"]

	resp, err := h.lookups.Start(r.Context(), imei)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// SolveCaptcha handles POST /solve
func (h *Handler) SolveCaptcha(w http.ResponseWriter, r *http.Request) {
	var req models.SolveRequest

	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Detail: "invalid request body"})
		return
	}

	result, err := h.lookups.Solve(r.Context(), req.SessionID, req.CaptchaText)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"mode":            h.lookups.Mode(),
		"active_sessions": h.lookups.Active(),
		"time":            time.Now().UTC(),
	})
}

// writeError maps session errors to status codes. Only fixed, user-safe
// messages leave the process; browser errors are logged by the manager.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, detail := http.StatusInternalServerError, "internal error"

	switch {
	case errors.Is(err, session.ErrInvalidInput):
		status, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrSessionExpired):
		status, detail = http.StatusBadRequest, "session expired or unknown, start a new lookup"
	case errors.Is(err, session.ErrCapacity):
		status, detail = http.StatusServiceUnavailable, "too many lookups in progress, try again shortly"
	case errors.Is(err, session.ErrUpstreamUnavailable):
		status, detail = http.StatusInternalServerError, "could not reach the registry site, please try again"
	case errors.Is(err, session.ErrLookupFailed):
		status, detail = http.StatusInternalServerError, "lookup failed, please try again"
	default:
		h.logger.Error("Unexpected error", zap.Error(err))
	}

	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
