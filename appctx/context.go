package appctx

import "context"

// ContextKey types every request-scoped value set by the middlewares.
type ContextKey string

func (c ContextKey) String() string { return "songcast." + string(c) }

const (
	// ContextKeyToken holds the raw session token from the Authorization header.
	ContextKeyToken ContextKey = "Token"
	// ContextKeyFid holds the Farcaster fid the session resolved to.
	ContextKeyFid           ContextKey = "Fid"
	ContextKeyCorrelationId ContextKey = "CorrelationId"
	// ContextKeyIsAdmin is true for fids listed in ADMIN_FIDS.
	ContextKeyIsAdmin ContextKey = "IsAdmin"
)

// Value returns the value stored under key when it has type T.
func Value[T any](ctx context.Context, key ContextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func With[T any](ctx context.Context, key ContextKey, value T) context.Context {
	return context.WithValue(ctx, key, value)
}
