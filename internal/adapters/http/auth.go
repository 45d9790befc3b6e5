package http

import (
	"net/http"
	"strings"

	"github.com/dkeye/parlor/internal/auth"
	"github.com/dkeye/parlor/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	userContextKey     = "user"
	sessionUserIDKey   = "user_id"
	sessionUsernameKey = "username"
)

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// Browsers cannot set headers on a websocket upgrade.
	return c.Query("token")
}

// AuthMiddleware resolves the caller from a bearer token, or from the cookie
// session a previous token request established.
func AuthMiddleware(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)

		if token := bearerToken(c); token != "" {
			user, err := v.Verify(token)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("rejected token")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			sess.Set(sessionUserIDKey, int64(user.ID))
			sess.Set(sessionUsernameKey, user.Username)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
			c.Set(userContextKey, user)
			c.Next()
			return
		}

		id, ok := sess.Get(sessionUserIDKey).(int64)
		name, _ := sess.Get(sessionUsernameKey).(string)
		if !ok || name == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(userContextKey, &domain.User{ID: domain.UserID(id), Username: name})
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	u, _ := c.MustGet(userContextKey).(*domain.User)
	return u
}
