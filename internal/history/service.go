package history

import (
	"context"
	"sync"

	"filechat/internal/log"
	"filechat/internal/models"
)

const (
	LoadErrorText  = "Failed to load chat history"
	ClearErrorText = "Failed to clear history"
)

// Remote is the part of the remote client the history view needs.
type Remote interface {
	History(ctx context.Context, token string) ([]models.HistoryRecord, error)
	ClearHistory(ctx context.Context, token string) error
}

// View is what a history screen renders: the filtered records plus the banner.
type View struct {
	Records  []models.HistoryRecord `json:"records"`
	Total    int                    `json:"total"`
	Query    string                 `json:"query"`
	Category Category               `json:"category"`
	Loaded   bool                   `json:"loaded"`
	Stale    bool                   `json:"stale"`
	Error    string                 `json:"error,omitempty"`
}

// Service owns the locally loaded copy of the history. Failures never clear what
// is already loaded; they only set the banner.
type Service struct {
	remote Remote
	cache  *Cache

	mu         sync.RWMutex
	userID     int64
	records    []models.HistoryRecord
	loaded     bool
	stale      bool
	banner     string
	clearHooks []func()
}

func NewService(remote Remote, cache *Cache) *Service {
	return &Service{remote: remote, cache: cache}
}

// OnClear registers fn to run after a successful clear.
func (s *Service) OnClear(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.clearHooks = append(s.clearHooks, fn)
	s.mu.Unlock()
}

// Load fetches the history for the session's user. On failure the banner is set
// and the last cached copy is used when there is one.
func (s *Service) Load(ctx context.Context, sc models.SessionContext) error {
	userID := sc.CurrentUser.ID
	records, err := s.remote.History(ctx, sc.AuthToken)
	if err != nil {
		log.Errorf("history: load for user %d failed: %v", userID, err)
		cached, ok := s.cache.Load(ctx, userID)

		s.mu.Lock()
		if s.userID != userID {
			s.userID, s.records, s.loaded = userID, nil, false
		}
		if ok {
			s.records, s.loaded, s.stale = cached, true, true
		}
		s.banner = LoadErrorText
		s.mu.Unlock()
		return err
	}

	s.cache.Store(ctx, userID, records)
	s.mu.Lock()
	s.userID = userID
	s.records = records
	s.loaded, s.stale = true, false
	s.banner = ""
	s.mu.Unlock()
	return nil
}

// Clear asks the service to delete the user's history. On success the local copy
// and cache are emptied and the clear hooks run.
func (s *Service) Clear(ctx context.Context, sc models.SessionContext) error {
	if err := s.remote.ClearHistory(ctx, sc.AuthToken); err != nil {
		log.Errorf("history: clear for user %d failed: %v", sc.CurrentUser.ID, err)
		s.mu.Lock()
		s.banner = ClearErrorText
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.userID = sc.CurrentUser.ID
	s.records = []models.HistoryRecord{}
	s.loaded, s.stale = true, false
	s.banner = ""
	hooks := make([]func(), len(s.clearHooks))
	copy(hooks, s.clearHooks)
	s.mu.Unlock()

	s.cache.Invalidate(ctx, sc.CurrentUser.ID)
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// View applies the filter to the loaded records.
func (s *Service) View(query string, category Category) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Records:  Filter(s.records, query, category),
		Total:    len(s.records),
		Query:    query,
		Category: category,
		Loaded:   s.loaded,
		Stale:    s.stale,
		Error:    s.banner,
	}
}

// Reset forgets everything, used on logout.
func (s *Service) Reset() {
	s.mu.Lock()
	s.userID = 0
	s.records = nil
	s.loaded, s.stale = false, false
	s.banner = ""
	s.mu.Unlock()
}

// Watch empties the local copy when another process clears the same user's history.
func (s *Service) Watch(ctx context.Context) error {
	return s.cache.Listen(ctx, func(userID int64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if userID != s.userID {
			return
		}
		s.records = []models.HistoryRecord{}
		s.stale = false
	})
}
