package utils

import (
	"context"

	"github.com/songcast/songcast_backend/appctx"
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.Value[string](ctx, appctx.ContextKeyToken)
}

func GetFidFromContext(ctx context.Context) (int64, bool) {
	return appctx.Value[int64](ctx, appctx.ContextKeyFid)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.Value[string](ctx, appctx.ContextKeyCorrelationId)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.Value[bool](ctx, appctx.ContextKeyIsAdmin)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.With(ctx, appctx.ContextKeyToken, token)
}

func SetFidInContext(ctx context.Context, fid int64) context.Context {
	return appctx.With(ctx, appctx.ContextKeyFid, fid)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.With(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.With(ctx, appctx.ContextKeyIsAdmin, isAdmin)
}
