package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/wowcoin/internal/observability/context"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderInternalToken = "X-Internal-Token"
	contextUserIDKey    = "user_id"
	maxUserIDLength     = 128
)

// UserIdentity trusts the gateway-provided user header and rejects requests without it.
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" || len(userID) > maxUserIDLength {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// InternalOnly guards service-to-service routes with the shared token. With no token
// configured the routes answer 404.
func InternalOnly(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			AbortWithError(c, ErrNotFound)
			return
		}
		presented := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
