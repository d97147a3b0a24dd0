// Package session keeps the signed-in user's token and profile across restarts.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filechat/internal/log"
	"filechat/internal/models"
)

// ErrNoSession is returned when nothing is signed in.
var ErrNoSession = errors.New("not signed in")

// Store persists one session per slot; the slot is the remote service URL, so
// switching servers does not reuse a token.
type Store struct {
	db     *sql.DB
	slot   string
	cipher *tokenCipher
}

func NewStore(db *sql.DB, slot string) *Store {
	c, err := newTokenCipherFromEnv()
	if err != nil {
		log.Warnf("session: %v; tokens are stored in plaintext", err)
		c = nil
	}
	return &Store{db: db, slot: slot, cipher: c}
}

func (s *Store) Save(ctx context.Context, sc models.SessionContext) error {
	token, err := s.cipher.seal(sc.AuthToken)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`REPLACE INTO client_sessions (slot, token, user_id, username, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.slot, token, sc.CurrentUser.ID, sc.CurrentUser.Username, sc.CurrentUser.Email, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (models.SessionContext, error) {
	var (
		sc    models.SessionContext
		token string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, username, email FROM client_sessions WHERE slot = ?`,
		s.slot,
	).Scan(&token, &sc.CurrentUser.ID, &sc.CurrentUser.Username, &sc.CurrentUser.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SessionContext{}, ErrNoSession
		}
		return models.SessionContext{}, fmt.Errorf("load session: %w", err)
	}
	sc.AuthToken = s.cipher.open(token)
	return sc, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_sessions WHERE slot = ?`, s.slot); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
