package attachment

import (
	"errors"
	"fmt"
	"sync"

	"filechat/internal/models"
)

// ErrIndexOutOfRange is returned by RemoveAt for an index outside the stage.
var ErrIndexOutOfRange = errors.New("attachment index out of range")

// Stage is the ordered list of files waiting for the next submission.
// Duplicate names are allowed; entries are identified by position only.
type Stage struct {
	mu        sync.Mutex
	validator *Validator
	files     []models.Attachment
	held      bool
}

func NewStage(validator *Validator) *Stage {
	if validator == nil {
		validator = NewValidator()
	}
	return &Stage{validator: validator}
}

func (s *Stage) Validator() *Validator { return s.validator }

// Add validates files against the current stage and appends the accepted ones in
// input order. Rejections are returned so the caller can warn the user. While the
// stage is held every file is rejected with ReasonSending.
func (s *Stage) Add(files []models.Attachment) []Rejection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		rejected := make([]Rejection, 0, len(files))
		for _, f := range files {
			rejected = append(rejected, Rejection{Name: f.Name, Reason: ReasonSending})
		}
		return rejected
	}
	res := s.validator.ValidateBatch(len(s.files), files)
	s.files = append(s.files, res.Accepted...)
	return res.Rejected
}

func (s *Stage) RemoveAt(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.files) {
		return fmt.Errorf("%w: %d (stage holds %d)", ErrIndexOutOfRange, index, len(s.files))
	}
	s.files = append(s.files[:index], s.files[index+1:]...)
	return nil
}

func (s *Stage) Clear() {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
}

// Snapshot returns a copy of the staged files; the stage is not modified.
func (s *Stage) Snapshot() []models.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Attachment, len(s.files))
	copy(out, s.files)
	return out
}

// Hold stops Add from accepting files and returns the staged files at that
// instant. It reports false, with no snapshot, when the stage is already held.
func (s *Stage) Hold() ([]models.Attachment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return nil, false
	}
	s.held = true
	out := make([]models.Attachment, len(s.files))
	copy(out, s.files)
	return out, true
}

// Release lets Add accept files again. When clear is set the stage is emptied
// in the same step, so nothing added later is lost.
func (s *Stage) Release(clear bool) {
	s.mu.Lock()
	if clear {
		s.files = nil
	}
	s.held = false
	s.mu.Unlock()
}

func (s *Stage) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *Stage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
