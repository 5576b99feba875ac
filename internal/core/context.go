package core

import "context"

type contextKey string

const ctxKeyRequestMeta contextKey = "request_meta"

// RequestMeta is the caller information attached to audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta stores caller information for audit logging.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, ctxKeyRequestMeta, meta)
}

// RequestMetaFrom returns the caller information stored in ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	if v, ok := ctx.Value(ctxKeyRequestMeta).(RequestMeta); ok {
		return v
	}
	return RequestMeta{}
}
