package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/completion"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type completeRequest struct {
	ConversationID string           `json:"conversation_id"`
	SystemPrompt   string           `json:"system_prompt,omitempty"`
	Prompt         string           `json:"prompt"`
	Model          models.ModelSpec `json:"model"`
	BillTo         string           `json:"bill_to,omitempty"`
}

type startEvent struct {
	RequestID string `json:"request_id"`
}

type chunkEvent struct {
	Chunk string `json:"chunk"`
}

type statusEvent struct {
	Status         string `json:"status"`
	FinalMessageID string `json:"final_message_id,omitempty"`
	TokensCharged  int    `json:"tokens_charged"`
	Error          string `json:"error,omitempty"`
}

// sseSink writes completion output as server-sent events. Nothing is
// written before Open, so errors raised earlier can still become a plain
// JSON response with a proper status code.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func (s *sseSink) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Open(ctx context.Context, requestID string) error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(common.RequestIDHeaderName, requestID)
	s.w.WriteHeader(http.StatusOK)
	s.opened = true
	return s.event("start", startEvent{RequestID: requestID})
}

func (s *sseSink) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.event("chunk", chunkEvent{Chunk: text})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("%w: streaming unsupported", common.ErrorInternal))
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %w", common.ErrValidation, err))
		return
	}

	id := identity(r)
	scope, err := id.Scope(req.BillTo)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.services.Limiter.Allow(id.UserID); err != nil {
		writeError(w, err)
		return
	}

	sink := &sseSink{w: w, flusher: flusher}
	out := s.services.Completions.Run(r.Context(), completion.Request{
		RequestID:      r.Header.Get(common.RequestIDHeaderName),
		UserID:         id.UserID,
		ConversationID: req.ConversationID,
		SystemPrompt:   req.SystemPrompt,
		Prompt:         req.Prompt,
		Model:          req.Model,
		Scope:          scope,
	}, sink)

	if !sink.opened {
		if out.Err == nil {
			out.Err = fmt.Errorf("%w: request ended with status %s", common.ErrorInternal, out.Status)
		}
		writeError(w, out.Err)
		return
	}

	ev := statusEvent{Status: string(out.Status), FinalMessageID: out.FinalMessageID, TokensCharged: out.TokensCharged}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	if err := sink.event("status", ev); err != nil {
		s.logger.Debug(r.Context(), "status event not delivered", "request_id", out.RequestID, "error", err)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Completions.Cancel(r.PathValue("id"), identity(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
