package api

import (
	"net/http"
	"time"

	"github.com/quietriver/assistant/internal/domain"
)

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) error {
	domain.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (h *Handlers) checkDB(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.Ping(r.Context()); err != nil {
		return domain.ErrDatabase("database unreachable", err)
	}

	missing, err := h.store.MissingTables(r.Context())
	if err != nil {
		return domain.ErrDatabase("schema probe failed", err)
	}
	if missing == nil {
		missing = []string{}
	}

	status := "ok"
	if len(missing) > 0 {
		status = "degraded"
	}
	domain.WriteJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"connected":     true,
		"missingTables": missing,
	})
	return nil
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) error {
	if err := h.resolver.Revoke(r.Context(), w, r); err != nil {
		return err
	}
	domain.WriteJSON(w, http.StatusOK, map[string]any{"loggedOut": true})
	return nil
}
