// Package api exposes the plan widget over HTTP: sessions, metered AI
// operations, wishlist notes, contact capture and the style presets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"example.com/planwidget/internal/capture"
	"example.com/planwidget/internal/gateway"
	"example.com/planwidget/internal/ledger"
)

const maxBodyBytes = 64 << 10

type SessionCreator interface {
	CreateSession(ctx context.Context, in ledger.NewSession) (ledger.Session, error)
}

type Operations interface {
	PerformOperation(ctx context.Context, sessionID string, req gateway.OperationRequest) (gateway.OperationResult, error)
	AddWishlistItem(ctx context.Context, sessionID, note string) (ledger.Modification, error)
	Status(ctx context.Context, sessionID string) (gateway.Status, error)
}

type Capturer interface {
	Capture(ctx context.Context, sessionID string, info capture.ContactInfo) (capture.Result, error)
}

// Server wires the HTTP surface to the session store, the operation gateway
// and the capture coordinator.
type Server struct {
	sessions       SessionCreator
	operations     Operations
	capture        Capturer
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewServer(sessions SessionCreator, operations Operations, capturer Capturer, requestTimeout time.Duration, logger *slog.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 90 * time.Second
	}
	return &Server{
		sessions:       sessions,
		operations:     operations,
		capture:        capturer,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

// Router configures all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(TimeoutMiddleware(s.requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "planwidget")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/presets", s.handleListPresets)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/operations", s.handlePerformOperation)
			r.Post("/wishlist", s.handleAddWishlistItem)
			r.Post("/capture", s.handleCapture)
		})
	})

	return r
}

// Error codes returned in the "error" field.
const (
	codeInvalidRequest   = "invalidRequest"
	codeValidation       = "validation"
	codeSessionNotFound  = "sessionNotFound"
	codeNeedsCapture     = "needsCapture"
	codeLimitReached     = "limitReached"
	codeGenerationFailed = "generationFailed"
	codeInternal         = "internal"
)

type errorResponse struct {
	Success       bool              `json:"success"`
	Error         string            `json:"error"`
	Message       string            `json:"message"`
	Fields        map[string]string `json:"fields,omitempty"`
	RemainingFree *int              `json:"remainingFree,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, format string, args ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	AddLogField(r.Context(), "error", msg)
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// writeDomainError maps service errors onto status codes and error codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *capture.ValidationError
	switch {
	case errors.As(err, &verr):
		AddLogField(r.Context(), "error", verr.Error())
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   codeValidation,
			Message: "please correct the highlighted fields",
			Fields:  verr.Fields,
		})
	case errors.Is(err, ledger.ErrSessionNotFound):
		writeError(w, r, http.StatusNotFound, codeSessionNotFound, "session not found; start a new session")
	case errors.Is(err, gateway.ErrInvalidOperation):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "%v", err)
	case errors.Is(err, gateway.ErrCaptureRequired):
		AddLogField(r.Context(), "error", err.Error())
		writeJSON(w, http.StatusForbidden, meteredError(codeNeedsCapture, "share your contact details to unlock more designs"))
	case errors.Is(err, gateway.ErrLimitReached):
		AddLogField(r.Context(), "error", err.Error())
		writeJSON(w, http.StatusTooManyRequests, meteredError(codeLimitReached, "you have used all available designs; book a consultation to continue"))
	case errors.Is(err, gateway.ErrGenerationFailed):
		AddLogField(r.Context(), "error", err.Error())
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:   codeGenerationFailed,
			Message: "the design could not be generated; please try again",
		})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func meteredError(code, msg string) errorResponse {
	zero := 0
	return errorResponse{Error: code, Message: msg, RemainingFree: &zero}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}
