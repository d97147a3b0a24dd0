// Package transcript holds the live, append-only conversation shown to the user.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"filechat/internal/models"
)

const WelcomeText = "Hello! I'm your AI assistant. I can chat with you, analyze images, and process PDF documents. How can I help you today?"

// Observer is notified after every append, in append order.
type Observer func(models.Message)

// Transcript is safe for concurrent readers while the pipeline appends.
type Transcript struct {
	mu        sync.RWMutex
	messages  []models.Message
	observers []Observer
	now       func() time.Time
}

type Option func(*Transcript)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Transcript) { t.now = now }
}

func New(opts ...Option) *Transcript {
	t := &Transcript{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewWithWelcome returns a transcript seeded with the welcome message.
func NewWithWelcome(opts ...Option) *Transcript {
	t := New(opts...)
	t.Welcome()
	return t
}

// Subscribe registers an observer. It is called outside the transcript lock.
func (t *Transcript) Subscribe(o Observer) {
	if o == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

// Append stores msg, filling ID and Timestamp when missing, and returns the stored copy.
func (t *Transcript) Append(msg models.Message) models.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = t.now().UTC()
	}
	if msg.Kind == "" {
		msg.Kind = models.KindNormal
	}
	if msg.Attachments == nil {
		msg.Attachments = []models.AttachmentSummary{}
	}
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	observers := t.observers
	t.mu.Unlock()

	for _, o := range observers {
		o(msg)
	}
	return msg
}

// Welcome appends the synthetic greeting.
func (t *Transcript) Welcome() models.Message {
	return t.Append(models.Message{Sender: models.SenderBot, Text: WelcomeText, Kind: models.KindWelcome})
}

// Clear drops every entry.
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}

// Reset clears the transcript and seeds a fresh welcome message.
func (t *Transcript) Reset() models.Message {
	t.Clear()
	return t.Welcome()
}

func (t *Transcript) Snapshot() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
