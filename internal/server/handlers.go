package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clusterchat/clusterchat/internal/orchestrator"
	"github.com/clusterchat/clusterchat/pkg/observability"
	"github.com/clusterchat/clusterchat/pkg/session"
)

const maxRequestBody = 1 << 20

type startSessionRequest struct {
	ClientIdentity string `json:"client_identity"`
}

type startSessionResponse struct {
	SessionID  string    `json:"session_id"`
	Credential string    `json:"credential"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if !s.limiter.Allow(req.ClientIdentity) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	started, err := s.sessions.Create(r.Context(), req.ClientIdentity)
	if err != nil {
		if errors.Is(err, session.ErrInvalidIdentity) {
			writeError(w, http.StatusBadRequest, "invalid_identity", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "could not create session")
		return
	}

	writeJSON(w, http.StatusOK, startSessionResponse{
		SessionID:  started.Meta.ID,
		Credential: started.Credential,
		ExpiresAt:  started.Meta.ExpiresAt,
	})
}

type chatRequest struct {
	Credential string `json:"credential"`
	Message    string `json:"message"`
	Stream     *bool  `json:"stream"`
}

type chatResponse struct {
	Response string `json:"response"`
	// Events is the buffered event sequence, identical in order to what a
	// streaming client would have received.
	Events []orchestrator.Event `json:"events,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	// Credential rejection happens before anything touches the session or
	// the interaction log.
	sessionID, err := s.sessions.Validate(req.Credential)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrCredentialExpired):
			writeError(w, http.StatusUnauthorized, "credential_expired", "credential has expired")
		default:
			writeError(w, http.StatusUnauthorized, "credential_invalid", "credential is invalid")
		}
		return
	}

	if !s.limiter.Allow(sessionID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
		return
	}

	handle, err := s.sessions.Acquire(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session_not_found", "session does not exist")
		case errors.Is(err, session.ErrSessionBusy):
			writeError(w, http.StatusConflict, "session_busy", "another turn is in progress")
		default:
			writeError(w, http.StatusInternalServerError, "internal", "could not acquire session")
		}
		return
	}
	defer handle.Release()

	streaming := s.cfg.StreamDefault
	if req.Stream != nil {
		streaming = *req.Stream
	}

	if streaming {
		s.chatStreaming(w, r, handle, req.Message)
	} else {
		s.chatBuffered(w, r, handle, req.Message)
	}
}

// chatStreaming runs the turn while relaying events as server-sent events.
// Once streaming has begun, failures surface as a terminal error event
// rather than an HTTP status.
func (s *Server) chatStreaming(w http.ResponseWriter, r *http.Request, handle *session.Handle, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observability.StreamOpened()
	defer observability.StreamClosed()

	stream := orchestrator.NewStream(s.cfg.StreamBuffer)
	go func() {
		_ = s.orch.RunTurn(r.Context(), handle, message, stream)
	}()

	for ev := range stream.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; the turn finishes on its own and the
			// remaining events are discarded.
			return
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// chatBuffered runs the turn to completion and returns the final answer in
// one JSON body.
func (s *Server) chatBuffered(w http.ResponseWriter, r *http.Request, handle *session.Handle, message string) {
	stream := orchestrator.NewStream(s.cfg.StreamBuffer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.orch.RunTurn(r.Context(), handle, message, stream)
	}()

	events := orchestrator.Collect(stream)
	err := <-errCh

	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrModelUnavailable):
			writeError(w, http.StatusBadGateway, "model_unavailable", "model backend is unavailable")
		case errors.Is(err, orchestrator.ErrMalformedToolCall):
			writeError(w, http.StatusBadGateway, "malformed_tool_call", "model emitted an unparseable tool call")
		default:
			writeError(w, http.StatusInternalServerError, "internal", "chat turn failed")
		}
		return
	}

	for _, ev := range events {
		if ev.Type == orchestrator.EventDone {
			writeJSON(w, http.StatusOK, chatResponse{Response: ev.Response, Events: events})
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal", "turn produced no answer")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
