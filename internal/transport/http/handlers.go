package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/snehjoshi/aochat/internal/engine"
	"github.com/snehjoshi/aochat/internal/session"
	"github.com/snehjoshi/aochat/internal/types"
)

// Engine is the subset of *engine.Engine the handlers use.
type Engine interface {
	Send(ctx context.Context, content, username string) (*types.Message, error)
	Messages() []*types.Message
	Refresh(ctx context.Context) error
	Stats() engine.Stats
}

// SessionReader loads the persisted session for a process.
type SessionReader interface {
	Load(processID string) (session.State, error)
}

// Handler groups all HTTP request handlers around an Engine.
type Handler struct {
	eng       Engine
	sessions  SessionReader // may be nil
	processID string
	started   time.Time
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type sendReq struct {
	Content  string `json:"content"`
	Username string `json:"username"`
}

type messagesResp struct {
	Messages []*types.Message `json:"messages"`
}

type errorResp struct {
	Error   string         `json:"error"`
	Reason  string         `json:"reason,omitempty"`
	Message *types.Message `json:"message,omitempty"`
}

type healthResp struct {
	Status    string `json:"status"`
	ProcessID string `json:"process_id"`
	SessionID string `json:"session_id,omitempty"`
	Uptime    string `json:"uptime"`
	UptimeMs  int64  `json:"uptime_ms"`
	Version   string `json:"version"`
}

// Version is reported by /health.
const Version = "1.0.0"

// ─── Health ───────────────────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(h.started)
	resp := healthResp{
		Status:    "ok",
		ProcessID: h.processID,
		Uptime:    elapsed.Round(time.Second).String(),
		UptimeMs:  elapsed.Milliseconds(),
		Version:   Version,
	}
	if h.sessions != nil {
		if st, err := h.sessions.Load(h.processID); err == nil {
			resp.SessionID = st.SessionID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messagesResp{Messages: h.eng.Messages()})
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendReq
	if !decodeJSON(w, r, &req) {
		return
	}

	// The push must complete even if the browser gives up on the request.
	msg, err := h.eng.Send(context.WithoutCancel(r.Context()), req.Content, req.Username)

	var ve *engine.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, msg)
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: ve.Error(), Reason: ve.Reason.Error()})
	case errors.Is(err, engine.ErrDestroyed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeJSON(w, http.StatusBadGateway, errorResp{Error: err.Error(), Message: msg})
	}
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	err := h.eng.Refresh(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, engine.ErrDestroyed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

// ─── Introspection ────────────────────────────────────────────────────────────

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Stats())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "session persistence disabled"})
		return
	}
	st, err := h.sessions.Load(h.processID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResp{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}
