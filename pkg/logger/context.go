package logger

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

// WithRequestID stores the correlation id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the correlation id stored on ctx, or "".
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

// WithIdentity stores the resolved caller identity on ctx.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Identity returns the caller identity stored on ctx, or "".
func Identity(ctx context.Context) string {
	s, _ := ctx.Value(identityKey).(string)
	return s
}
