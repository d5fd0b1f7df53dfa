package middlewares

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/songcast/songcast_backend/config"
	"github.com/songcast/songcast_backend/utils"
)

// SessionLookup resolves a session token to the fid it was issued for.
type SessionLookup func(ctx context.Context, token string) (fid int64, ok bool, err error)

// RedisSessions reads "Token:<token>" keys written by the sign-in flow.
func RedisSessions(ctx context.Context, token string) (int64, bool, error) {
	value, exists, err := config.GetRedisValue(ctx, "Token:"+token)
	if err != nil || !exists {
		return 0, false, err
	}
	fid, err := strconv.ParseInt(value, 10, 64)
	if err != nil || fid <= 0 {
		return 0, false, nil
	}
	return fid, true, nil
}

// SessionMiddleware attaches the caller's fid when a valid "token" header is present.
// Requests without a token pass through anonymous.
func SessionMiddleware(lookup SessionLookup, admins map[int64]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		fid, ok, err := lookup(c.Request.Context(), token)
		if err != nil || !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetFidInContext(ctx, fid)
		ctx = utils.SetIsAdminInContext(ctx, admins[fid])
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetFidFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetFidFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
