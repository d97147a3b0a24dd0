package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FileInfo describes a file that was part of a persisted conversation turn.
type FileInfo struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

// HistoryRecord is a server-owned conversation turn as returned by GET /history.
// Missing or null text fields decode to the empty string.
type HistoryRecord struct {
	ID          int64      `json:"id"`
	UserMessage string     `json:"user_message"`
	BotResponse string     `json:"bot_response"`
	FilesInfo   []FileInfo `json:"files_info"`
	CreatedAt   Instant    `json:"created_at"`
}

// HasFiles reports whether the turn carried at least one file.
func (r HistoryRecord) HasFiles() bool {
	return len(r.FilesInfo) > 0
}

// Instant is a timestamp that also accepts ISO-8601 values without a zone, which
// the history service emits. Zone-less values are read as UTC.
type Instant struct {
	time.Time
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		i.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("instant: %w", err)
	}
	if raw == "" {
		i.Time = time.Time{}
		return nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			i.Time = t
			return nil
		}
	}
	return fmt.Errorf("instant: unsupported time format %q", raw)
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if i.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(i.Time.Format(time.RFC3339Nano))
}
