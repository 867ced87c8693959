package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/planwidget/internal/capture"
	"example.com/planwidget/internal/gateway"
	"example.com/planwidget/internal/generator"
	"example.com/planwidget/internal/ledger"
)

type presetView struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type modificationView struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Prompt      string    `json:"prompt,omitempty"`
	StylePreset string    `json:"stylePreset,omitempty"`
	ResultURL   string    `json:"resultUrl,omitempty"`
	OriginalURL string    `json:"originalUrl,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type sessionView struct {
	SessionID        string             `json:"sessionId"`
	AnonymousID      string             `json:"anonymousId"`
	BuilderSlug      string             `json:"builderSlug"`
	PlanID           string             `json:"planId"`
	InteractionCount int                `json:"interactionCount"`
	AggregateCount   int                `json:"aggregateCount"`
	RemainingFree    int                `json:"remainingFree"`
	Decision         string             `json:"decision"`
	IsCaptured       bool               `json:"isCaptured"`
	CapturedAt       *time.Time         `json:"capturedAt,omitempty"`
	Modifications    []modificationView `json:"modifications"`
}

func toModificationView(m ledger.Modification) modificationView {
	return modificationView{
		ID:          m.ID,
		Type:        string(m.Type),
		Prompt:      m.Prompt,
		StylePreset: m.StylePreset,
		ResultURL:   m.ResultURL,
		OriginalURL: m.OriginalURL,
		Timestamp:   m.Timestamp,
	}
}

func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	presets := generator.Presets()
	out := make([]presetView, 0, len(presets))
	for _, p := range presets {
		out = append(out, presetView{Key: p.Key, Label: p.Label, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": out})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PlanID      string `json:"planId"`
		BuilderSlug string `json:"builderSlug"`
		AnonymousID string `json:"anonymousId"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "invalid json: %v", err)
		return
	}
	in := ledger.NewSession{
		PlanID:      strings.TrimSpace(payload.PlanID),
		BuilderSlug: strings.TrimSpace(payload.BuilderSlug),
		AnonymousID: strings.TrimSpace(payload.AnonymousID),
	}
	if in.PlanID == "" || in.BuilderSlug == "" || in.AnonymousID == "" {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "planId, builderSlug, and anonymousId are required")
		return
	}

	session, err := s.sessions.CreateSession(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	AddLogField(r.Context(), "session_id", session.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "sessionId": session.ID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	st, err := s.operations.Status(r.Context(), sessionID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	mods := make([]modificationView, 0, len(st.Session.Modifications))
	for _, m := range st.Session.Modifications {
		mods = append(mods, toModificationView(m))
	}
	writeJSON(w, http.StatusOK, sessionView{
		SessionID:        st.Session.ID,
		AnonymousID:      st.Session.AnonymousID,
		BuilderSlug:      st.Session.BuilderSlug,
		PlanID:           st.Session.PlanID,
		InteractionCount: st.Session.InteractionCount,
		AggregateCount:   st.AggregateCount,
		RemainingFree:    st.RemainingFree,
		Decision:         st.Decision.String(),
		IsCaptured:       st.Session.IsCaptured,
		CapturedAt:       st.Session.CapturedAt,
		Modifications:    mods,
	})
}

func (s *Server) handlePerformOperation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		OperationKind  string `json:"operationKind"`
		Target         string `json:"target"`
		Preset         string `json:"preset"`
		Prompt         string `json:"prompt"`
		SourceImageURL string `json:"sourceImageUrl"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "invalid json: %v", err)
		return
	}
	AddLogField(r.Context(), "session_id", sessionID)
	AddLogField(r.Context(), "operation_kind", payload.OperationKind)

	res, err := s.operations.PerformOperation(r.Context(), sessionID, gateway.OperationRequest{
		Kind:           payload.OperationKind,
		Target:         payload.Target,
		Preset:         payload.Preset,
		Prompt:         payload.Prompt,
		SourceImageURL: payload.SourceImageURL,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"resultUrl":      res.Modification.ResultURL,
		"remainingFree":  res.RemainingFree,
		"aggregateCount": res.AggregateCount,
		"isCaptured":     res.Session.IsCaptured,
		"modification":   toModificationView(res.Modification),
	})
}

func (s *Server) handleAddWishlistItem(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "invalid json: %v", err)
		return
	}
	mod, err := s.operations.AddWishlistItem(r.Context(), sessionID, payload.Prompt)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"modification": toModificationView(mod),
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var info capture.ContactInfo
	if err := decodeBody(w, r, &info); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "invalid json: %v", err)
		return
	}
	AddLogField(r.Context(), "session_id", sessionID)

	res, err := s.capture.Capture(r.Context(), sessionID, info)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"alreadyCaptured": res.AlreadyCaptured,
		"capturedAt":      res.CapturedAt,
	})
}
