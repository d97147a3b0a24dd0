// Package history loads, caches, filters and clears the server-held conversation history.
package history

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"filechat/internal/models"
)

// Category narrows records by whether they carried files.
type Category string

const (
	CategoryAll       Category = "all"
	CategoryWithFiles Category = "withFiles"
	CategoryTextOnly  Category = "textOnly"
)

// ParseCategory accepts the canonical names plus the short aliases "files" and "text".
// The empty string means all.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return CategoryAll, nil
	case "withfiles", "with_files", "files":
		return CategoryWithFiles, nil
	case "textonly", "text_only", "text":
		return CategoryTextOnly, nil
	default:
		return "", fmt.Errorf("unknown history category %q", s)
	}
}

func (c Category) matches(r models.HistoryRecord) bool {
	switch c {
	case CategoryWithFiles:
		return r.HasFiles()
	case CategoryTextOnly:
		return !r.HasFiles()
	default:
		return true
	}
}

// Filter returns the records whose user message or bot response contains query
// (Unicode case-insensitive) and that belong to category. Order is preserved and
// records is not modified.
func Filter(records []models.HistoryRecord, query string, category Category) []models.HistoryRecord {
	fold := cases.Fold()
	needle := fold.String(query)
	out := make([]models.HistoryRecord, 0, len(records))
	for _, r := range records {
		if !category.matches(r) {
			continue
		}
		if needle != "" &&
			!strings.Contains(fold.String(r.UserMessage), needle) &&
			!strings.Contains(fold.String(r.BotResponse), needle) {
			continue
		}
		out = append(out, r)
	}
	return out
}
