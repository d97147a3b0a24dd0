package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"filechat/internal/models"
)

const sessionContextKey = "filechat_session"

// RequireSession rejects requests while nobody is signed in and stores the
// session in the gin context otherwise.
func (g *Guard) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, ok := g.sessions.Current()
		if !ok || sc.AuthToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
			return
		}
		c.Set(sessionContextKey, sc)
		c.Next()
	}
}

// SessionFromContext retrieves the session captured by RequireSession.
func SessionFromContext(c *gin.Context) (models.SessionContext, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return models.SessionContext{}, false
	}
	sc, ok := val.(models.SessionContext)
	return sc, ok
}
