package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSession is the owner token of the file session that emitted the record.
	FieldSession = "session"
	// FieldResource is the resource identifier a lock or file operation refers to.
	FieldResource = "resource"
	// FieldPeer is the host:port of a sibling daemon.
	FieldPeer = "peer"
	// FieldRemote is the client address of an accepted connection.
	FieldRemote = "remote"
	// FieldCommand is the protocol keyword being processed.
	FieldCommand = "command"
	// FieldSignal is the OS signal name handled by the coordinator.
	FieldSignal = "signal"
	// FieldRunID identifies one daemon process lifetime.
	FieldRunID = "run_id"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey int

const (
	sessionKey contextKey = iota
	peerKey
)

// WithSession tags ctx with a session owner token.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// WithPeer tags ctx with the peer a forwarded session arrived from.
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey, peer)
}

// SessionFromContext returns the session token stored by WithSession.
func SessionFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(sessionKey).(string)
	return v, ok && v != ""
}

// PeerFromContext returns the peer stored by WithPeer.
func PeerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(peerKey).(string)
	return v, ok && v != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	fields := make([]slog.Attr, 0, 2)
	if id, ok := SessionFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSession, id))
	}
	if peer, ok := PeerFromContext(ctx); ok {
		fields = append(fields, Peer(peer))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return slog.New(logger.Handler().WithAttrs(fields))
}
