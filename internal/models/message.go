package models

import "time"

// Sender identifies who authored a transcript entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Kind separates regular replies from the synthetic welcome and error entries.
type Kind string

const (
	KindNormal  Kind = "normal"
	KindWelcome Kind = "welcome"
	KindError   Kind = "error"
)

// Message is one entry of the live transcript. It is never mutated once appended.
type Message struct {
	ID                  string              `json:"id"`
	Sender              Sender              `json:"sender"`
	Text                string              `json:"text"`
	Attachments         []AttachmentSummary `json:"attachments"`
	Timestamp           time.Time           `json:"timestamp"`
	Kind                Kind                `json:"kind"`
	FilesProcessedCount int                 `json:"files_processed_count"`
}
