package attachment

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dropPart struct {
	name        string
	contentType string
	data        []byte
}

func dropHeaders(t *testing.T, parts ...dropPart) []*multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, "/", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["files"]
}

func TestAddDroppedUsesReportedType(t *testing.T) {
	stage := NewStage(nil)
	rejected, err := AddDropped(stage, dropHeaders(t,
		dropPart{name: "photo.jpg", contentType: "image/jpeg", data: []byte("not really a jpeg")},
		dropPart{name: "page.html", contentType: "text/html", data: []byte("<p>hi</p>")},
	))
	require.NoError(t, err)
	assert.Equal(t, []Rejection{{Name: "page.html", Reason: ReasonUnsupportedType}}, rejected)

	snap := stage.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "photo.jpg", snap[0].Name)
	assert.Equal(t, "image/jpeg", snap[0].MimeType)
	assert.Equal(t, []byte("not really a jpeg"), snap[0].Payload)
}

func TestAddDroppedSniffsGenericType(t *testing.T) {
	stage := NewStage(nil)
	rejected, err := AddDropped(stage, dropHeaders(t,
		dropPart{name: "scan", contentType: "application/octet-stream", data: pngHeader},
	))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, "image/png", stage.Snapshot()[0].MimeType)
}
