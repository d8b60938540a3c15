package session

import "context"

type ctxKey struct{}

// WithSession returns a context carrying s. Handlers reach their session
// through FromContext to report progress or offload work.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session processing the current request.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}
