package appctx

import "context"

// SessionContext identifies the sync session a request or run belongs to.
type SessionContext struct {
	SessionID string
	// Subject is the authenticated caller, empty when the access guard is off.
	Subject string
}

type sessionKey struct{}

// WithSession adds session context to context.
func WithSession(ctx context.Context, s *SessionContext) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// GetSession returns session context or nil.
func GetSession(ctx context.Context) *SessionContext {
	if s, ok := ctx.Value(sessionKey{}).(*SessionContext); ok {
		return s
	}
	return nil
}

// GetSessionID returns the session id or empty string.
func GetSessionID(ctx context.Context) string {
	if s := GetSession(ctx); s != nil {
		return s.SessionID
	}
	return ""
}
