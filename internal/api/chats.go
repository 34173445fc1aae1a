package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/server"
	"github.com/quietriver/assistant/internal/validate"
)

const (
	maxTitleLen   = 100
	maxMessageLen = 4000
)

func (h *Handlers) listChats(w http.ResponseWriter, r *http.Request) error {
	user := server.UserFrom(r.Context())

	chats, err := h.store.ListChats(r.Context(), user.ID)
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	domain.WriteJSON(w, http.StatusOK, chats)
	return nil
}

type createChatRequest struct {
	Title string `json:"title"`
}

func (h *Handlers) createChat(w http.ResponseWriter, r *http.Request) error {
	user := server.UserFrom(r.Context())

	var req createChatRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if err := validate.String("title", req.Title, 1, maxTitleLen); err != nil {
		return err
	}

	now := time.Now().UTC()
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		Title:     req.Title,
		OwnerID:   user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateChat(r.Context(), chat); err != nil {
		return err
	}

	domain.WriteJSON(w, http.StatusOK, chat)
	return nil
}

type chatDetailResponse struct {
	Chat     *domain.Chat     `json:"chat"`
	Messages []domain.Message `json:"messages"`
}

func (h *Handlers) getChat(w http.ResponseWriter, r *http.Request) error {
	user := server.UserFrom(r.Context())

	chatID := chi.URLParam(r, "chatId")
	if err := validate.UUID("chatId", chatID); err != nil {
		return err
	}

	chat, err := h.store.GetChat(r.Context(), chatID, user.ID)
	if err != nil {
		return err
	}
	messages, err := h.store.ListMessages(r.Context(), chatID)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	domain.WriteJSON(w, http.StatusOK, chatDetailResponse{Chat: chat, Messages: messages})
	return nil
}

func (h *Handlers) deleteChat(w http.ResponseWriter, r *http.Request) error {
	user := server.UserFrom(r.Context())

	chatID := chi.URLParam(r, "chatId")
	if err := validate.UUID("chatId", chatID); err != nil {
		return err
	}

	if err := h.store.DeleteChat(r.Context(), chatID, user.ID); err != nil {
		return err
	}

	domain.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": chatID})
	return nil
}

type createMessageRequest struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ToolResults string `json:"toolResults"`
}

func (h *Handlers) createMessage(w http.ResponseWriter, r *http.Request) error {
	user := server.UserFrom(r.Context())

	chatID := chi.URLParam(r, "chatId")
	if err := validate.UUID("chatId", chatID); err != nil {
		return err
	}

	var req createMessageRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	role := domain.Role(req.Role)
	if !role.Valid() {
		return domain.Errorf(domain.KindInvalidInput, "role must be %q or %q",
			domain.RoleUser, domain.RoleAssistant).WithDetail("role", req.Role)
	}
	if err := validate.String("content", req.Content, 1, maxMessageLen); err != nil {
		return err
	}

	// Ownership gate; a foreign chat reads as absent.
	if _, err := h.store.GetChat(r.Context(), chatID, user.ID); err != nil {
		return err
	}

	msg := &domain.Message{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		Role:        role,
		Content:     req.Content,
		ToolResults: req.ToolResults,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateMessage(r.Context(), msg); err != nil {
		return err
	}
	if err := h.store.TouchChat(r.Context(), chatID); err != nil {
		return err
	}

	domain.WriteJSON(w, http.StatusOK, msg)
	return nil
}

// decodeBody parses a JSON request body, rejecting unknown garbage with
// an INVALID_INPUT rather than a blank 500.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return domain.NewError(domain.KindInvalidInput, "malformed JSON body").WithCause(err)
	}
	return nil
}
