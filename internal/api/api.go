// Package api is the HTTP surface: chat streaming, chat and message
// CRUD, health probes, and logout.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/ratelimit"
	"github.com/quietriver/assistant/internal/server"
	"github.com/quietriver/assistant/internal/session"
	"github.com/quietriver/assistant/internal/storage"
	"github.com/quietriver/assistant/internal/tokens"
	"github.com/quietriver/assistant/internal/tools"
)

const systemPrompt = "You are a helpful assistant. Use the available tools " +
	"when the user asks about weather, motorsport standings, or stock quotes."

// Limiters holds the per-route budgets. Tools is keyed by user id and
// consulted at tool-execution time rather than as a route stage.
type Limiters struct {
	API   ratelimit.Limiter
	Chat  ratelimit.Limiter
	Auth  ratelimit.Limiter
	Tools ratelimit.Limiter
}

// Handlers carries the collaborators the route handlers need.
type Handlers struct {
	store    storage.Store
	llm      *llm.Client
	tools    *tools.Registry
	budgeter *tokens.Budgeter
	resolver *session.Resolver
	limiters Limiters
	logger   *slog.Logger
}

func NewHandlers(store storage.Store, client *llm.Client, registry *tools.Registry,
	budgeter *tokens.Budgeter, resolver *session.Resolver, limiters Limiters,
	logger *slog.Logger) *Handlers {
	return &Handlers{
		store:    store,
		llm:      client,
		tools:    registry,
		budgeter: budgeter,
		resolver: resolver,
		limiters: limiters,
		logger:   logger,
	}
}

// Mount registers all routes on the router through the wrapper.
func (h *Handlers) Mount(r chi.Router, wr *server.Wrapper) {
	authed := func(methods []string, limiter ratelimit.Limiter, fn server.HandlerFunc) http.HandlerFunc {
		return wr.Wrap(server.EndpointConfig{
			Methods:     methods,
			Limiter:     limiter,
			RequireAuth: true,
		}, fn)
	}
	open := func(methods []string, fn server.HandlerFunc) http.HandlerFunc {
		return wr.Wrap(server.EndpointConfig{Methods: methods}, fn)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		domain.WriteError(w, h.logger, domain.ErrNotFound("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		domain.WriteError(w, h.logger,
			domain.Errorf(domain.KindMethodNotAllowed, "method %s not allowed", req.Method))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", open([]string{http.MethodGet}, h.health))
		r.Get("/check-db", open([]string{http.MethodGet}, h.checkDB))

		r.Post("/auth/logout", authed([]string{http.MethodPost}, h.limiters.Auth, h.logout))

		r.Post("/chat", authed([]string{http.MethodPost}, h.limiters.Chat, h.chat))

		r.Get("/chats", authed([]string{http.MethodGet}, h.limiters.API, h.listChats))
		r.Post("/chats", authed([]string{http.MethodPost}, h.limiters.API, h.createChat))
		r.Get("/chats/{chatId}", authed([]string{http.MethodGet}, h.limiters.API, h.getChat))
		r.Delete("/chats/{chatId}", authed([]string{http.MethodDelete}, h.limiters.API, h.deleteChat))
		r.Post("/chats/{chatId}/messages", authed([]string{http.MethodPost}, h.limiters.API, h.createMessage))
	})
}
