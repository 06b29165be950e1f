package playback

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the playback admin HTTP endpoints using go-chi.
type Handler struct {
	eng *Engine
	log *slog.Logger
}

// NewHandler returns a Handler over eng.
func NewHandler(eng *Engine, log *slog.Logger) *Handler {
	return &Handler{eng: eng, log: log}
}

type countResponse struct {
	Owner OwnerID `json:"owner"`
	Count int     `json:"count"`
}

// Routes mounts the admin endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/{session_id}", h.GetSession)
	})
	r.Route("/clients/{owner_id}", func(r chi.Router) {
		r.Delete("/sessions", h.RemoveClientSessions)
		r.Delete("/cameras/{camera}/sessions", h.RemoveClientCameraSessions)
		r.Post("/pause", h.PauseClientSessions)
		r.Post("/resume", h.ResumeClientSessions)
	})
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.eng.Sessions())
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "session_id"), 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	info, err := h.eng.Session(SessionID(raw))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// RemoveClientSessions handles DELETE /clients/{owner_id}/sessions, called
// when a client logs out.
func (h *Handler) RemoveClientSessions(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(chi.URLParam(r, "owner_id"))
	if owner == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n := h.eng.RemoveAllForClientSession(owner)
	h.log.Info("client sessions removed", slog.Int("count", n))
	h.writeJSON(w, http.StatusOK, countResponse{Owner: owner, Count: n})
}

// RemoveClientCameraSessions handles
// DELETE /clients/{owner_id}/cameras/{camera}/sessions, called when a
// client loses playback rights on a camera.
func (h *Handler) RemoveClientCameraSessions(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(chi.URLParam(r, "owner_id"))
	camera, err := strconv.Atoi(chi.URLParam(r, "camera"))
	if owner == "" || err != nil || camera < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n := h.eng.RemoveAllForCameraAndClientSession(owner, camera)
	h.log.Info("client camera sessions removed", slog.Int("camera", camera), slog.Int("count", n))
	h.writeJSON(w, http.StatusOK, countResponse{Owner: owner, Count: n})
}

// PauseClientSessions handles POST /clients/{owner_id}/pause.
func (h *Handler) PauseClientSessions(w http.ResponseWriter, r *http.Request) {
	h.pauseOrResume(w, r, true)
}

// ResumeClientSessions handles POST /clients/{owner_id}/resume.
func (h *Handler) ResumeClientSessions(w http.ResponseWriter, r *http.Request) {
	h.pauseOrResume(w, r, false)
}

func (h *Handler) pauseOrResume(w http.ResponseWriter, r *http.Request, pause bool) {
	owner := OwnerID(chi.URLParam(r, "owner_id"))
	if owner == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n := h.eng.PauseOrResumeAllForClientSession(owner, pause)
	h.log.Debug("client sessions paused or resumed", slog.Bool("pause", pause), slog.Int("count", n))
	h.writeJSON(w, http.StatusOK, countResponse{Owner: owner, Count: n})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}
