// Package session resolves the calling user from the session cookie.
// Sessions themselves are minted by the external OAuth login flow and
// stored alongside the rest of the data; this package only reads and
// revokes them.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/storage"
)

// DefaultCookieName is the session cookie used when none is configured.
const DefaultCookieName = "assistant_session"

// Resolver maps a request's session cookie to a user.
type Resolver struct {
	store  storage.Store
	cookie string
	now    func() time.Time
}

// NewResolver creates a resolver reading the named cookie.
func NewResolver(store storage.Store, cookieName string) *Resolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Resolver{store: store, cookie: cookieName, now: time.Now}
}

// CookieName returns the configured cookie name.
func (r *Resolver) CookieName() string { return r.cookie }

// Resolve returns the authenticated user for the request, or (nil, nil)
// when no session cookie is present. Expired sessions are revoked and
// surface SESSION_EXPIRED; unknown tokens surface UNAUTHORIZED.
func (r *Resolver) Resolve(req *http.Request) (*domain.User, error) {
	cookie, err := req.Cookie(r.cookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	ctx := req.Context()
	sess, err := r.store.GetSession(ctx, cookie.Value)
	if err != nil {
		if appErr := domain.Classify(err); appErr.Kind == domain.KindRecordNotFound {
			return nil, domain.ErrUnauthorized("invalid session")
		}
		return nil, err
	}

	if sess.Expired(r.now()) {
		// Best effort; an expired row left behind is swept by the next
		// login, and the client is told to re-authenticate either way.
		_ = r.store.DeleteSession(ctx, sess.Token)
		return nil, domain.ErrSessionExpired("session expired, please sign in again")
	}

	user, err := r.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if appErr := domain.Classify(err); appErr.Kind == domain.KindRecordNotFound {
			return nil, domain.ErrUnauthorized("invalid session")
		}
		return nil, err
	}
	return user, nil
}

// Revoke deletes the request's session, if any, and expires the cookie.
func (r *Resolver) Revoke(ctx context.Context, w http.ResponseWriter, req *http.Request) error {
	if cookie, err := req.Cookie(r.cookie); err == nil && cookie.Value != "" {
		if err := r.store.DeleteSession(ctx, cookie.Value); err != nil {
			return err
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
