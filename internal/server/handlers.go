package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

type aiChatRequest struct {
	Message string `json:"message"`
	History []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history"`
}

type aiChatResponse struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// authenticate resolves the request identity or writes a 401.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (identity, bool) {
	who, err := parseIdentity(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return identity{}, false
	}
	return who, true
}

// handleOwnThread serves GET /chat/thread, the caller's own message log.
func (s *Server) handleOwnThread(w http.ResponseWriter, r *http.Request) {
	who, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if who.admin {
		http.Error(w, "operators read threads by user id", http.StatusForbidden)
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), who.id)
	if err != nil {
		s.logger.Error("list messages", "user", who.id, "error", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleThreadByUser serves GET /chat/thread/{userId} for operators.
func (s *Server) handleThreadByUser(w http.ResponseWriter, r *http.Request) {
	who, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !who.admin {
		http.Error(w, "operator only", http.StatusForbidden)
		return
	}

	userID := mux.Vars(r)["userId"]
	msgs, err := s.store.ListMessages(r.Context(), userID)
	if err != nil {
		s.logger.Error("list messages", "user", userID, "error", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleThreads serves GET /chat/threads, the operator thread list.
func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	who, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !who.admin {
		http.Error(w, "operator only", http.StatusForbidden)
		return
	}

	threads, err := s.store.ListThreads(r.Context())
	if err != nil {
		s.logger.Error("list threads", "error", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// handleAIChat serves POST /ai/chat. Completion failures come back with
// success=false so clients can surface the error inline.
func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req aiChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	history := make([]Turn, 0, len(req.History))
	for _, t := range req.History {
		history = append(history, Turn{Role: t.Role, Content: t.Content})
	}

	reply, err := s.responder.Respond(r.Context(), req.Message, history)
	if err != nil {
		s.logger.Error("assistant completion failed", "error", err)
		writeJSON(w, http.StatusOK, aiChatResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, aiChatResponse{Success: true, Reply: reply})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
