// Package render formats transcript and history entries for display: markdown
// to HTML for the browser, short labels for both the browser and the terminal.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	gmext "github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"filechat/internal/models"
)

var md = goldmark.New(
	goldmark.WithExtensions(gmext.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Markdown renders message text as HTML. Raw HTML in the source is escaped.
func Markdown(text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

func FileIcon(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "🖼️"
	case mimeType == "application/pdf":
		return "📄"
	case strings.HasPrefix(mimeType, "text/"):
		return "📝"
	default:
		return "📎"
	}
}

// FileSize renders bytes as kilobytes with one decimal.
func FileSize(n int64) string {
	return fmt.Sprintf("%.1fKB", float64(n)/1024)
}

// ProcessedNote is empty when no file was processed.
func ProcessedNote(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return "✅ Processed 1 file"
	default:
		return fmt.Sprintf("✅ Processed %d files", n)
	}
}

func Clock(t time.Time) string {
	return t.Local().Format("15:04")
}

// When is the history timestamp: the clock within a day, "Yesterday" within
// two, the full date otherwise.
func When(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	age := now.Sub(t)
	switch {
	case age < 24*time.Hour:
		return t.Format("15:04")
	case age < 48*time.Hour:
		return "Yesterday " + t.Format("15:04")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

type messageView struct {
	Sender string
	Kind   string
	Body   template.HTML
	Files  []fileView
	Note   string
	Time   string
}

type fileView struct {
	Icon string
	Name string
	Size string
}

var transcriptTmpl = template.Must(template.New("transcript").Parse(
	`{{range .}}<div class="message {{.Sender}} {{.Kind}}">
<div class="message-text">{{.Body}}</div>
{{- if .Files}}
<div class="message-files">{{range .Files}}<span class="file-preview">{{.Icon}} {{.Name}} <small>{{.Size}}</small></span>{{end}}</div>
{{- end}}
{{- if .Note}}
<div class="files-processed">{{.Note}}</div>
{{- end}}
<div class="message-time">{{.Time}}</div>
</div>
{{end}}`))

// Transcript writes the messages as an HTML fragment.
func Transcript(w io.Writer, messages []models.Message) error {
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		body, err := Markdown(m.Text)
		if err != nil {
			return err
		}
		v := messageView{
			Sender: string(m.Sender),
			Kind:   string(m.Kind),
			Body:   body,
			Note:   ProcessedNote(m.FilesProcessedCount),
			Time:   Clock(m.Timestamp),
		}
		for _, f := range m.Attachments {
			v.Files = append(v.Files, fileView{Icon: FileIcon(f.MimeType), Name: f.Name, Size: FileSize(f.SizeBytes)})
		}
		views = append(views, v)
	}
	return transcriptTmpl.Execute(w, views)
}

// Line is the one-message terminal rendering used by the chat command.
func Line(m models.Message) string {
	var b strings.Builder
	who := "you"
	if m.Sender == models.SenderBot {
		who = "assistant"
	}
	fmt.Fprintf(&b, "[%s] %s: %s", Clock(m.Timestamp), who, m.Text)
	for _, f := range m.Attachments {
		fmt.Fprintf(&b, "\n    %s %s (%s)", FileIcon(f.MimeType), f.Name, FileSize(f.SizeBytes))
	}
	if note := ProcessedNote(m.FilesProcessedCount); note != "" {
		b.WriteString("\n    " + note)
	}
	return b.String()
}
