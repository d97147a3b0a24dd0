// Package auth guards the local gateway: it requires a signed-in session and
// double-submit CSRF tokens on state-changing requests.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"filechat/internal/models"
)

// SessionSource reports the active session.
type SessionSource interface {
	Current() (models.SessionContext, bool)
}

type Guard struct {
	sessions       SessionSource
	csrfCookieName string
	csrfHeaderName string
}

func NewGuard(sessions SessionSource) *Guard {
	return &Guard{
		sessions:       sessions,
		csrfCookieName: "filechat_csrf",
		csrfHeaderName: "X-CSRF-Token",
	}
}

func (g *Guard) CSRFHeaderName() string { return g.csrfHeaderName }
func (g *Guard) CSRFCookieName() string { return g.csrfCookieName }

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
