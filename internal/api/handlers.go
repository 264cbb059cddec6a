package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"chatroom/internal/room"
)

const maxBodyBytes = 16 * 1024

type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Storage   map[string]string `json:"storage"`
	Online    int               `json:"online"`
}

type announceRequest struct {
	Message string `json:"message"`
}

type warnRequest struct {
	WalletAddress string `json:"walletAddress"`
	Message       string `json:"message"`
}

type displayNameRequest struct {
	WalletAddress string `json:"walletAddress"`
	DisplayName   string `json:"displayName"`
}

type deletionRequest struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
}

type editRequest struct {
	Content string `json:"content"`
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Success: true, Data: data}); err != nil {
		s.logger.Debug().Err(err).Msg("response write failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Error: &apiError{Code: code, Message: message}})
}

// sendRoomError maps coordinator errors onto HTTP statuses.
func (s *Server) sendRoomError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, room.ErrValidation), errors.Is(err, room.ErrMissingIdentity):
		s.sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, room.ErrNotRunning), errors.Is(err, context.Canceled):
		s.sendError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.sendError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// GET /health - storage tier pings plus the online roster size. A failing
// primary makes the instance unhealthy; a failing secondary only degrades it.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Storage:   map[string]string{},
		Online:    s.room.Stats().Online,
	}
	status := http.StatusOK
	if s.storage != nil {
		for tier, err := range s.storage.Ping(ctx) {
			if err == nil {
				resp.Storage[tier] = "ok"
				continue
			}
			resp.Storage[tier] = err.Error()
			if strings.HasPrefix(tier, "primary:") {
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
			} else if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}
	s.sendJSON(w, status, resp)
}

// GET /api/history?after=
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid_request", "after must be a unix millisecond timestamp")
			return
		}
		after = v
	}
	messages, err := s.room.History(r.Context(), after)
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// GET /api/thread/{id}
func (s *Server) thread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	replies, err := s.room.Thread(r.Context(), id)
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"parentId": id, "replies": replies})
}

// POST /api/announce
func (s *Server) announce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.room.Announce(r.Context(), req.Message)
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

// POST /api/warn
func (s *Server) warn(w http.ResponseWriter, r *http.Request) {
	var req warnRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.room.Warn(r.Context(), req.WalletAddress, req.Message)
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

// POST /api/displayname
func (s *Server) displayName(w http.ResponseWriter, r *http.Request) {
	var req displayNameRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.room.PropagateDisplayName(r.Context(), req.WalletAddress, req.DisplayName)
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// POST /api/deletion
func (s *Server) deletion(w http.ResponseWriter, r *http.Request) {
	var req deletionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.room.PropagateDeletion(r.Context(), req.ID, req.ParentID); err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"id": req.ID})
}

// GET /api/admin/messages
func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	threads, err := s.room.AdminAudit(r.Context())
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"threads": threads, "count": len(threads)})
}

// DELETE /api/admin/messages/{id}
func (s *Server) adminDeleteMessage(w http.ResponseWriter, r *http.Request) {
	view, err := s.room.AdminDeleteMessage(r.Context(), chi.URLParam(r, "id"), adminActor(r))
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, view)
}

// DELETE /api/admin/replies/{id}
func (s *Server) adminDeleteReply(w http.ResponseWriter, r *http.Request) {
	reply, err := s.room.AdminDeleteReply(r.Context(), chi.URLParam(r, "id"), adminActor(r))
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, reply)
}

// PUT /api/admin/messages/{id}
func (s *Server) adminEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.room.AdminEdit(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		s.sendRoomError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, m)
}

// adminActor names the moderator for deletedBy; the gateway forwards it.
func adminActor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Admin-Identity"))
}
