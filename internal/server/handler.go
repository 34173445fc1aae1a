package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/ratelimit"
	"github.com/quietriver/assistant/internal/session"
)

// HandlerFunc is a domain handler. A returned error is translated to the
// uniform error envelope; a returned *Response (via AsResponse) is an
// escape hatch written verbatim.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// EndpointConfig selects the cross-cutting stages applied to a handler.
type EndpointConfig struct {
	// Methods restricts the allowed HTTP methods; empty means any.
	Methods []string
	// Limiter, when set, gates the endpoint with a rate-limit check.
	Limiter ratelimit.Limiter
	// RequireAuth rejects anonymous requests with 401.
	RequireAuth bool
}

// Response is an intentional early-return response, written verbatim.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Error implements error so a Response can travel the handler error path.
func (r *Response) Error() string {
	return fmt.Sprintf("response escape hatch (status %d)", r.Status)
}

// AsResponse wraps a Response for returning from a HandlerFunc.
func AsResponse(status int, header http.Header, body []byte) error {
	return &Response{Status: status, Header: header, Body: body}
}

// Wrapper builds wrapped handlers. Stages run in a fixed order: method
// check, rate limit, auth resolution, then the domain handler; errors
// from any stage are translated by the error responder.
type Wrapper struct {
	logger   *slog.Logger
	resolver *session.Resolver
}

// NewWrapper creates a Wrapper using the given logger and session
// resolver.
func NewWrapper(logger *slog.Logger, resolver *session.Resolver) *Wrapper {
	return &Wrapper{logger: logger, resolver: resolver}
}

// stage inspects the request and either passes it on (possibly enriched)
// or short-circuits with an error for the responder.
type stage func(w http.ResponseWriter, r *http.Request) (*http.Request, error)

// Wrap composes the configured stages around h.
func (wr *Wrapper) Wrap(cfg EndpointConfig, h HandlerFunc) http.HandlerFunc {
	var stages []stage

	if len(cfg.Methods) > 0 {
		stages = append(stages, methodStage(cfg.Methods))
	}
	if cfg.Limiter != nil {
		stages = append(stages, limitStage(cfg.Limiter))
	}
	stages = append(stages, wr.authStage(cfg.RequireAuth))

	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		// Admissions are released after the response status is known when
		// the limiter is configured to skip successful or failed
		// requests. The limit key is captured at admission so the
		// post-hoc release targets the same key.
		admittedKey := ""
		defer func() {
			if rec := recover(); rec != nil {
				wr.respond(sw, r, domain.Errorf(domain.KindInternal, "panic: %v", rec))
			}
			if cfg.Limiter != nil && admittedKey != "" {
				releaseIfSkipped(cfg.Limiter, admittedKey, sw.status)
			}
		}()

		for _, st := range stages {
			next, err := st(sw, r)
			if err != nil {
				wr.respond(sw, r, err)
				return
			}
			r = next
			if key := admissionFrom(r.Context()); key != "" {
				admittedKey = key
			}
		}

		if err := h(sw, r); err != nil {
			wr.respond(sw, r, err)
		}
	}
}

// admissionKey carries the rate-limit key of an admitted request.
type admissionKey struct{}

func admissionFrom(ctx context.Context) string {
	if key, ok := ctx.Value(admissionKey{}).(string); ok {
		return key
	}
	return ""
}

func methodStage(methods []string) stage {
	allowed := make(map[string]bool, len(methods))
	for _, m := range methods {
		allowed[strings.ToUpper(m)] = true
	}
	allowHeader := strings.Join(methods, ", ")

	return func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		if allowed[r.Method] {
			return r, nil
		}
		w.Header().Set("Allow", allowHeader)
		return nil, domain.Errorf(domain.KindMethodNotAllowed, "method %s not allowed", r.Method).
			WithDetail("allowedMethods", methods)
	}
}

func limitStage(limiter ratelimit.Limiter) stage {
	cfg := limiter.Config()

	return func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		key := cfg.KeyFunc(r)
		decision := limiter.Check(key)
		writeRateLimitHeaders(w, cfg, decision)

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return nil, domain.ErrRateLimited(cfg.Message).
				WithDetail("limit", decision.Limit).
				WithDetail("windowMs", cfg.Window.Milliseconds()).
				WithDetail("retryAfterSeconds", retryAfter)
		}
		return r.WithContext(context.WithValue(r.Context(), admissionKey{}, key)), nil
	}
}

func (wr *Wrapper) authStage(required bool) stage {
	return func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		user, err := wr.resolver.Resolve(r)
		if err != nil {
			// An open endpoint stays open to callers holding a stale or
			// bogus session cookie; they just proceed anonymously.
			if !required {
				kind := domain.Classify(err).Kind
				if kind == domain.KindUnauthorized || kind == domain.KindSessionExpired {
					return r, nil
				}
			}
			return nil, err
		}
		if user == nil {
			if required {
				return nil, domain.ErrUnauthorized("authentication required")
			}
			return r, nil
		}
		AddLogField(r.Context(), "user_id", user.ID)
		return r.WithContext(WithUser(r.Context(), user)), nil
	}
}

// releaseIfSkipped undoes the admission when the limiter is configured
// to not count successful or failed requests. The post-hoc decrement is
// approximate under concurrency; see ratelimit.Limiter.Release.
func releaseIfSkipped(limiter ratelimit.Limiter, key string, status int) {
	cfg := limiter.Config()
	succeeded := status < http.StatusBadRequest
	if (cfg.SkipSuccessful && succeeded) || (cfg.SkipFailed && !succeeded) {
		limiter.Release(key)
	}
}

// respond translates a stage or handler error into the wire response.
func (wr *Wrapper) respond(w http.ResponseWriter, r *http.Request, err error) {
	var resp *Response
	if errors.As(err, &resp) {
		for k, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
		return
	}

	appErr := domain.Classify(err)
	if appErr.RequestID == "" {
		appErr = appErr.WithRequestID(RequestIDFrom(r.Context()))
	}
	if user := UserFrom(r.Context()); user != nil && appErr.UserID == "" {
		appErr = appErr.WithUserID(user.ID)
	}
	AddLogField(r.Context(), "error", appErr.Error())
	domain.WriteError(w, wr.logger, appErr)
}

func writeRateLimitHeaders(w http.ResponseWriter, cfg ratelimit.Config, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
	h.Set("X-RateLimit-Window", strconv.FormatInt(cfg.Window.Milliseconds(), 10))
}
