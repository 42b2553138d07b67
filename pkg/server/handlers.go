package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlaspay/concierge/pkg/assistant"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "concierge",
		"components": map[string]string{
			"database":  "healthy",
			"knowledge": "healthy",
			"agents":    "healthy",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}
	if req.UserID == "" || req.TenantID == "" {
		writeError(w, http.StatusUnprocessableEntity, "user_id and filiale_id are required")
		return
	}

	resp, err := s.pipeline.Chat(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req assistant.EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusUnprocessableEntity, "conversation_id is required")
		return
	}

	resp, err := s.pipeline.Escalate(r.Context(), req)
	if err != nil {
		if err == assistant.ErrSessionNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := s.pipeline.History(r.Context(), sessionID, limit)
	if err != nil {
		if err == assistant.ErrSessionNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": sessionID,
		"messages":        messages,
		"count":           len(messages),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("filiale_id")
	if tenantID == "" {
		writeError(w, http.StatusUnprocessableEntity, "filiale_id is required")
		return
	}

	stats, err := s.pipeline.DailyStats(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

var agentStatuses = map[string]bool{
	"available": true,
	"busy":      true,
	"offline":   true,
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if !agentStatuses[body.Status] {
		writeError(w, http.StatusUnprocessableEntity, "invalid status")
		return
	}

	if err := s.agents.SetStatus(r.Context(), agentID, body.Status); err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	s.refreshBusyGauge(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "status": body.Status})
}

func (s *Server) handleAgentRelease(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	if err := s.agents.Release(r.Context(), agentID); err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	s.refreshBusyGauge(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "status": "released"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
