package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/server"
	"github.com/quietriver/assistant/internal/validate"
)

type chatRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chatId"`
}

type toolResult struct {
	Tool   string `json:"tool"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// chat runs one conversation turn: persist the user message, give the
// model one round of tool calling, then stream the answer as plain text.
// The request context is shared with the model call, so a client
// disconnect cancels the inference in flight.
func (h *Handlers) chat(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user := server.UserFrom(ctx)

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if err := validate.String("message", req.Message, 1, maxMessageLen); err != nil {
		return err
	}

	chat, err := h.resolveChat(r, user.ID, req)
	if err != nil {
		return err
	}
	server.AddLogField(ctx, "chat_id", chat.ID)
	// Lets the client learn the id of a freshly created chat before the
	// body starts streaming.
	w.Header().Set("X-Chat-Id", chat.ID)

	userMsg := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      domain.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMessage(ctx, userMsg); err != nil {
		return err
	}

	history, err := h.store.ListMessages(ctx, chat.ID)
	if err != nil {
		return err
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = h.budgeter.Trim(msgs)

	first, err := h.llm.Complete(ctx, msgs, h.tools.Definitions())
	if err != nil {
		return err
	}

	var results []toolResult
	var content string

	if len(first.ToolCalls) == 0 {
		content = first.Content
		if err := h.streamText(w, content); err != nil {
			return err
		}
	} else {
		msgs = append(msgs, *first)
		for _, tc := range first.ToolCalls {
			res, err := h.runTool(ctx, user.ID, tc)
			if err != nil {
				return err
			}
			results = append(results, res)
			body := res.Result
			if res.Error != "" {
				body = `{"error":` + jsonString(res.Error) + `}`
			}
			msgs = append(msgs, llm.Message{
				Role:       "tool",
				Content:    body,
				Name:       tc.Function.Name,
				ToolCallID: tc.ID,
			})
		}

		content, err = h.streamCompletion(ctx, w, msgs)
		if err != nil {
			return err
		}
	}

	assistantMsg := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      domain.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if len(results) > 0 {
		encoded, err := json.Marshal(results)
		if err == nil {
			assistantMsg.ToolResults = string(encoded)
		}
	}
	if err := h.store.CreateMessage(ctx, assistantMsg); err != nil {
		// The response already streamed; surface in logs only.
		h.logger.ErrorContext(ctx, "failed to persist assistant message",
			"chat_id", chat.ID, "error", err)
		return nil
	}
	if err := h.store.TouchChat(ctx, chat.ID); err != nil {
		h.logger.ErrorContext(ctx, "failed to touch chat", "chat_id", chat.ID, "error", err)
	}
	return nil
}

// resolveChat loads the referenced chat or creates a fresh one titled
// after the opening message.
func (h *Handlers) resolveChat(r *http.Request, userID string, req chatRequest) (*domain.Chat, error) {
	ctx := r.Context()

	if req.ChatID != "" {
		if err := validate.UUID("chatId", req.ChatID); err != nil {
			return nil, err
		}
		return h.store.GetChat(ctx, req.ChatID, userID)
	}

	now := time.Now().UTC()
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		Title:     deriveTitle(req.Message),
		OwnerID:   userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// runTool checks the per-user tools budget, then dispatches the call.
// Tool failures are fed back to the model instead of aborting the turn.
func (h *Handlers) runTool(ctx context.Context, userID string, tc llm.ToolCall) (toolResult, error) {
	if h.limiters.Tools != nil {
		decision := h.limiters.Tools.Check(userID)
		if !decision.Allowed {
			return toolResult{}, domain.ErrRateLimited("tool budget exhausted, try again later").
				WithDetail("retryAfterSeconds", int(decision.RetryAfter.Seconds()))
		}
	}

	out, err := h.tools.Invoke(ctx, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
	if err != nil {
		h.logger.WarnContext(ctx, "tool invocation failed",
			"tool", tc.Function.Name, "error", err)
		return toolResult{Tool: tc.Function.Name, Error: domain.Classify(err).Message}, nil
	}
	return toolResult{Tool: tc.Function.Name, Result: out}, nil
}

// streamCompletion requests a streaming completion and relays the deltas
// as a plain-text body, returning the accumulated content.
func (h *Handlers) streamCompletion(ctx context.Context, w http.ResponseWriter, msgs []llm.Message) (string, error) {
	stream, err := h.llm.Stream(ctx, msgs)
	if err != nil {
		return "", err
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	var b strings.Builder
	wrote := false
	for chunk := range stream {
		if chunk.Err != nil {
			if !wrote {
				return "", chunk.Err
			}
			// Headers are gone; all we can do is stop and log.
			h.logger.ErrorContext(ctx, "stream interrupted", "error", chunk.Err)
			break
		}
		if chunk.Content == "" {
			continue
		}
		if _, err := w.Write([]byte(chunk.Content)); err != nil {
			break
		}
		wrote = true
		b.WriteString(chunk.Content)
		if flusher != nil {
			flusher.Flush()
		}
	}
	return b.String(), nil
}

// streamText writes already-complete content with streaming headers so
// both response shapes look identical to the client.
func (h *Handlers) streamText(w http.ResponseWriter, content string) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write([]byte(content)); err != nil {
		return nil
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

const titleLimit = 50

func deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	if runes := []rune(title); len(runes) > titleLimit {
		title = strings.TrimSpace(string(runes[:titleLimit])) + "…"
	}
	return title
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
