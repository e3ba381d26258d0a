package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/oklog/ulid/v2"

	"easyagent/internal/domain"
	"easyagent/internal/usecase"
)

const maxRequestBody = 1 << 20 // 1 MB

// chatRequest is the body of POST /chat, /chat/resume and /chat/stream.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
	Resume    bool   `json:"resume,omitempty"` // stream only
}

// chatResponse is the body of a synchronous chat reply.
type chatResponse struct {
	SessionID string              `json:"session_id"`
	Status    string              `json:"status"`
	Answer    string              `json:"answer,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Trace     []domain.TraceEntry `json:"trace"`
}

// agentSummary is one row of GET /agents.
type agentSummary struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Handles        []string `json:"handles,omitempty"`
	Version        string   `json:"version,omitempty"`
	Active         bool     `json:"active"`
	InactiveReason string   `json:"inactive_reason,omitempty"`
}

// agentDetail is the body of GET /agents/{name}.
type agentDetail struct {
	agentSummary
	Parameters map[string]string `json:"parameters,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Run(r.Context(), req.SessionID, req.Input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(req.SessionID, result))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	snap, ok := s.loadSnapshot(w, r, req.SessionID)
	if !ok {
		return
	}

	result, err := s.engine.Resume(r.Context(), req.SessionID, *snap, req.Input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(req.SessionID, result))
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	var events <-chan domain.StreamEvent
	if req.Resume {
		snap, ok := s.loadSnapshot(w, r, req.SessionID)
		if !ok {
			return
		}
		events = s.engine.ResumeStream(r.Context(), req.SessionID, *snap, req.Input)
	} else {
		events = s.engine.RunStream(r.Context(), req.SessionID, req.Input)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("stream event marshal failed", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	caps := s.registry.All()
	agents := make([]agentSummary, 0, len(caps))
	for _, c := range caps {
		agents = append(agents, summarize(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, domain.ErrCapabilityNotFound) {
			writeError(w, http.StatusNotFound, "unknown agent")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agentDetail{
		agentSummary: summarize(c),
		Parameters:   c.Parameters,
	})
}

const maxBlobBody = 32 << 20 // 32 MB

func (s *Server) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, http.StatusNotImplemented, "blob storage disabled")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "blob too large")
		return
	}
	id, err := s.blobs.Put(r.Context(), r.URL.Query().Get("name"), data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleBlobDownload(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, http.StatusNotImplemented, "blob storage disabled")
		return
	}
	data, err := s.blobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, "unknown blob")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) handleBlobDelete(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, http.StatusNotImplemented, "blob storage disabled")
		return
	}
	if err := s.blobs.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			writeError(w, http.StatusNotFound, "unknown blob")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": s.registry.ActiveNames(),
	})
}

// decodeChat parses and validates a chat body, assigning a fresh session id
// when the caller omits one.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return req, false
	}
	if req.SessionID == "" {
		req.SessionID = ulid.Make().String()
	}
	return req, true
}

// loadSnapshot fetches the pause snapshot a resume request refers to.
func (s *Server) loadSnapshot(w http.ResponseWriter, r *http.Request, sessionID string) (*domain.PauseSnapshot, bool) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "persistence disabled, resume unavailable")
		return nil, false
	}
	snap, err := s.store.GetPauseSnapshot(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			writeError(w, http.StatusNotFound, "no paused run for session")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return snap, true
}

func toChatResponse(sessionID string, result *usecase.RunResult) chatResponse {
	return chatResponse{
		SessionID: sessionID,
		Status:    string(result.State),
		Answer:    result.Answer,
		Reason:    result.Reason,
		Trace:     result.Trace,
	}
}

func summarize(c *domain.Capability) agentSummary {
	return agentSummary{
		Name:           c.Name,
		Description:    c.Description,
		Handles:        c.Handles,
		Version:        c.Version,
		Active:         c.Active,
		InactiveReason: c.InactiveReason,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
