// Package audit emits append-only records of authentication and session
// events. Entries go to the structured log; persisted copies are the
// caller's concern.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatekit.org/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actorKey     ctxKey = "audit_actor_id"
)

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActor records the authenticated account id acting in this request.
func WithActor(ctx context.Context, accountID string) context.Context {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, accountID)
}

// ActorFromContext extracts the acting account id from context if present.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor
// context. Failure reasons that are collapsed at the HTTP boundary are
// preserved here.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	entry := obs.Logger().Info().
		Str("type", "audit").
		Str("event", event).
		Str("ts", time.Now().UTC().Format(time.RFC3339Nano))
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if actor := ActorFromContext(ctx); actor != "" {
		entry = entry.Str("actor_id", actor)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	entry.Fields(map[string]any{"fields": fields}).Send()
	return nil
}
