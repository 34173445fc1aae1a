package domain

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// errorEnvelope is the uniform wire shape for all error responses.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      ErrorKind      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WriteError logs err with full context and writes the uniform error
// envelope. Untyped errors are classified first (see Classify). Internal
// diagnostic detail stays in logs; the response body only carries the
// kind, message, details, and timestamp.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	appErr := Classify(err)

	attrs := []slog.Attr{
		slog.String("kind", string(appErr.Kind)),
		slog.String("message", appErr.Message),
		slog.Time("timestamp", appErr.Timestamp),
	}
	if appErr.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", appErr.RequestID))
	}
	if appErr.UserID != "" {
		attrs = append(attrs, slog.String("user_id", appErr.UserID))
	}
	if appErr.Details != nil {
		attrs = append(attrs, slog.Any("details", appErr.Details))
	}
	if cause := appErr.Unwrap(); cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	logger.LogAttrs(context.Background(), slog.LevelError, "request failed", attrs...)

	body := errorBody{
		Code:      appErr.Kind,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Timestamp: appErr.Timestamp,
	}
	if appErr.RequestID != "" {
		if body.Details == nil {
			body.Details = make(map[string]any)
		}
		body.Details["requestId"] = appErr.RequestID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: body})
}

// WriteJSON writes a success payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
