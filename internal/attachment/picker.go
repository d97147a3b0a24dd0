package attachment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/viant/afs"

	"filechat/internal/log"
	"filechat/internal/models"
)

// Picker is the file-picker entry point: it resolves paths, globs and afs URLs
// into attachments and feeds them to Stage.Add.
type Picker struct {
	fs    afs.Service
	stage *Stage
}

func NewPicker(stage *Stage) *Picker {
	return &Picker{fs: afs.New(), stage: stage}
}

// Pick loads every file matched by patterns and adds them to the stage in one call,
// so the count ceiling applies to the whole selection.
func (p *Picker) Pick(ctx context.Context, patterns ...string) ([]Rejection, error) {
	files, err := p.Load(ctx, patterns...)
	if err != nil {
		return nil, err
	}
	rejected := p.stage.Add(files)
	if len(rejected) > 0 {
		log.Warnf("picker: %d of %d files rejected", len(rejected), len(files))
	}
	return rejected, nil
}

// Load resolves patterns into attachments without touching the stage.
func (p *Picker) Load(ctx context.Context, patterns ...string) ([]models.Attachment, error) {
	var out []models.Attachment
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		locations, err := expand(pattern)
		if err != nil {
			return nil, err
		}
		for _, location := range locations {
			file, err := p.load(ctx, location)
			if err != nil {
				return nil, err
			}
			out = append(out, file)
		}
	}
	return out, nil
}

func (p *Picker) load(ctx context.Context, location string) (models.Attachment, error) {
	obj, err := p.fs.Object(ctx, location)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("stat %s: %w", location, err)
	}
	if obj.IsDir() {
		return models.Attachment{}, fmt.Errorf("%s is a directory", location)
	}
	file := models.Attachment{Name: obj.Name(), SizeBytes: obj.Size()}

	// Oversized files are only sniffed; the validator rejects them on size anyway.
	if file.SizeBytes > p.stage.Validator().MaxSizeBytes() {
		reader, err := p.fs.OpenURL(ctx, location)
		if err != nil {
			return models.Attachment{}, fmt.Errorf("open %s: %w", location, err)
		}
		defer reader.Close()
		mt, err := mimetype.DetectReader(reader)
		if err != nil {
			return models.Attachment{}, fmt.Errorf("detect type of %s: %w", location, err)
		}
		file.MimeType = normalizeType(mt.String())
		return file, nil
	}

	data, err := p.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read %s: %w", location, err)
	}
	file.Payload = data
	file.SizeBytes = int64(len(data))
	file.MimeType = normalizeType(mimetype.Detect(data).String())
	return file, nil
}

// expand turns a local glob into absolute paths. URLs and plain paths pass through.
func expand(pattern string) ([]string, error) {
	if strings.Contains(pattern, "://") {
		return []string{pattern}, nil
	}
	if !hasMeta(pattern) {
		abs, err := filepath.Abs(pattern)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", pattern, err)
		}
		return []string{abs}, nil
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no files match %q", pattern)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", m, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
