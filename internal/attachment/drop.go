package attachment

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"filechat/internal/log"
	"filechat/internal/models"
)

// AddDropped is the drag-and-drop entry point: files arrive as multipart parts
// carrying the browser-reported Content-Type, and go through the same Stage.Add.
func AddDropped(stage *Stage, headers []*multipart.FileHeader) ([]Rejection, error) {
	files := make([]models.Attachment, 0, len(headers))
	for _, fh := range headers {
		file, err := fromFileHeader(fh, stage.Validator().MaxSizeBytes())
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	rejected := stage.Add(files)
	if len(rejected) > 0 {
		log.Warnf("drop: %d of %d files rejected", len(rejected), len(files))
	}
	return rejected, nil
}

func fromFileHeader(fh *multipart.FileHeader, maxPayload int64) (models.Attachment, error) {
	file := models.Attachment{
		Name:      filepath.Base(fh.Filename),
		MimeType:  normalizeType(fh.Header.Get("Content-Type")),
		SizeBytes: fh.Size,
	}
	if file.SizeBytes > maxPayload && file.MimeType != "" {
		return file, nil
	}
	f, err := fh.Open()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	if file.SizeBytes > maxPayload {
		mt, err := mimetype.DetectReader(f)
		if err != nil {
			return models.Attachment{}, fmt.Errorf("detect type of %s: %w", fh.Filename, err)
		}
		file.MimeType = normalizeType(mt.String())
		return file, nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	file.Payload = data
	if file.MimeType == "" || file.MimeType == "application/octet-stream" {
		file.MimeType = normalizeType(mimetype.Detect(data).String())
	}
	return file, nil
}
