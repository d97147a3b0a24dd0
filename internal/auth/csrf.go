package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IssueCSRFToken sets a fresh CSRF cookie and returns its value, which the UI
// echoes back in the CSRF header.
func (g *Guard) IssueCSRFToken(c *gin.Context) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(g.csrfCookieName, token, 0, "/", "", false, false)
	return token, nil
}

// CSRFMiddleware enforces double-submit CSRF protection on state-changing requests.
func (g *Guard) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		headerToken := c.GetHeader(g.csrfHeaderName)
		cookieToken, err := c.Cookie(g.csrfCookieName)
		if err != nil || headerToken == "" || cookieToken == "" || headerToken != cookieToken {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
