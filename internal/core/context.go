package core

import "context"

type contextKey string

const ctxKeyRequestMeta contextKey = "audit_request_meta"

// RequestMeta is caller information attached to audit events.
type RequestMeta struct {
	ActorID   string
	IPAddress string
	UserAgent string
}

// WithRequestMeta adds caller information to ctx for audit logging.
func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, ctxKeyRequestMeta, m)
}

// RequestMetaFrom extracts caller information, or the zero value.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	if m, ok := ctx.Value(ctxKeyRequestMeta).(RequestMeta); ok {
		return m
	}
	return RequestMeta{}
}

// ActorFromContext returns the actor id carried by ctx.
func ActorFromContext(ctx context.Context) string {
	return RequestMetaFrom(ctx).ActorID
}
