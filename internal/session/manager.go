package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"filechat/internal/log"
	"filechat/internal/models"
	"filechat/internal/remote"
)

const (
	RegisteredText = "Registration successful! Please log in."
	GenericErrText = "An error occurred."
)

// Remote is the part of the remote client used for authentication.
type Remote interface {
	Register(ctx context.Context, username, password, email string) (string, error)
	Login(ctx context.Context, username, password string) (*remote.LoginResult, error)
}

// Manager tracks the current session and mirrors it into the store.
type Manager struct {
	remote Remote
	store  *Store

	mu       sync.RWMutex
	current  *models.SessionContext
	onLogout []func()
}

func NewManager(r Remote, store *Store) *Manager {
	return &Manager{remote: r, store: store}
}

// OnLogout registers fn to run after the session is dropped.
func (m *Manager) OnLogout(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.onLogout = append(m.onLogout, fn)
	m.mu.Unlock()
}

func (m *Manager) Register(ctx context.Context, username, password, email string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	msg, err := m.remote.Register(ctx, username, password, strings.TrimSpace(email))
	if err != nil {
		return err
	}
	log.Infof("session: registered %s: %s", username, msg)
	return nil
}

func (m *Manager) Login(ctx context.Context, username, password string) (models.SessionContext, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.SessionContext{}, errors.New("username and password are required")
	}
	res, err := m.remote.Login(ctx, username, password)
	if err != nil {
		return models.SessionContext{}, err
	}
	sc := models.SessionContext{AuthToken: res.AccessToken, CurrentUser: res.User}
	if err := m.store.Save(ctx, sc); err != nil {
		// The session still works for this run.
		log.Errorf("session: persist login for %s: %v", username, err)
	}
	m.set(&sc)
	return sc, nil
}

// Restore loads the saved session, if any, and makes it current.
func (m *Manager) Restore(ctx context.Context) (models.SessionContext, error) {
	sc, err := m.store.Load(ctx)
	if err != nil {
		return models.SessionContext{}, err
	}
	m.set(&sc)
	return sc, nil
}

func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	hooks := make([]func(), len(m.onLogout))
	copy(hooks, m.onLogout)
	m.mu.Unlock()

	err := m.store.Clear(ctx)
	for _, fn := range hooks {
		fn()
	}
	return err
}

// Current returns the active session and whether there is one.
func (m *Manager) Current() (models.SessionContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return models.SessionContext{}, false
	}
	return *m.current, true
}

func (m *Manager) set(sc *models.SessionContext) {
	m.mu.Lock()
	m.current = sc
	m.mu.Unlock()
}

// FailureText is the message to show for a failed register or login: the
// server's own message when it sent one, a generic text otherwise.
func FailureText(err error) string {
	var se *remote.StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return GenericErrText
}
