package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filechat/internal/app"
	"filechat/internal/config"
	"filechat/internal/models"
	"filechat/internal/remote/remotetest"
	"filechat/internal/session"
)

type gateway struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
	token   string
	app     *app.App
	remote  *remotetest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv(session.KeyEnv, "")
	srv := remotetest.NewServer(t)
	cfg := config.Default()
	cfg.BasicConfig.ServerURL = srv.URL
	cfg.Databases["sqlite3"] = config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "gateway.db")}
	a, err := app.New(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	g := &gateway{t: t, handler: a.Gateway(ctx), app: a, remote: srv}

	rec := g.do(http.MethodGet, "/api/csrf", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	g.cookie = cookies[0]
	g.token = body.Token
	return g
}

func (g *gateway) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	g.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if g.cookie != nil {
		req.AddCookie(g.cookie)
		req.Header.Set("X-CSRF-Token", g.token)
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func (g *gateway) doJSON(method, path string, payload interface{}) *httptest.ResponseRecorder {
	g.t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(g.t, err)
	}
	return g.do(method, path, body, "application/json")
}

func (g *gateway) login(username string) {
	g.t.Helper()
	g.remote.AddUser(username, "secret1")
	rec := g.doJSON(http.MethodPost, "/api/session/login", map[string]string{"username": username, "password": "secret1"})
	require.Equal(g.t, http.StatusOK, rec.Code, rec.Body.String())
}

type uploadPart struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, parts ...uploadPart) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			events = append(events, ev)
		}
	}
	return events
}

type stageBody struct {
	Files    []models.AttachmentSummary `json:"files"`
	Rejected []struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	} `json:"rejected"`
	MaxCount int `json:"max_count"`
}

type transcriptBody struct {
	Messages []models.Message `json:"messages"`
}

func TestGatewayEndToEndFlow(t *testing.T) {
	g := newGateway(t)

	// Register, then sign in.
	rec := g.doJSON(http.MethodPost, "/api/session/register", map[string]string{"username": "ivy", "password": "secret1", "email": "ivy@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), session.RegisteredText)

	rec = g.doJSON(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = g.doJSON(http.MethodPost, "/api/session/login", map[string]string{"username": "ivy", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = g.doJSON(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ivy")

	// Welcome message is there.
	rec = g.doJSON(http.MethodGet, "/api/transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tb transcriptBody
	decodeJSON(t, rec.Body.Bytes(), &tb)
	require.Len(t, tb.Messages, 1)
	assert.Equal(t, models.KindWelcome, tb.Messages[0].Kind)

	// Drop one good and one unsupported file.
	body, ct := multipartBody(t,
		uploadPart{name: "notes.txt", contentType: "text/plain", data: []byte("some notes")},
		uploadPart{name: "setup.exe", contentType: "application/x-msdownload", data: []byte("MZ")},
	)
	rec = g.do(http.MethodPost, "/api/attachments", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sb stageBody
	decodeJSON(t, rec.Body.Bytes(), &sb)
	require.Len(t, sb.Files, 1)
	assert.Equal(t, "notes.txt", sb.Files[0].Name)
	require.Len(t, sb.Rejected, 1)
	assert.Equal(t, "setup.exe", sb.Rejected[0].Name)
	assert.Equal(t, "unsupported type", sb.Rejected[0].Reason)

	// Draft then submit.
	rec = g.doJSON(http.MethodPut, "/api/input", map[string]string{"text": "Summarize"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = g.do(http.MethodPost, "/api/messages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := parseSSE(rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "ack", events[0].name)
	assert.Contains(t, events[0].data, "notes.txt")
	assert.Equal(t, "done", events[1].name)
	assert.Contains(t, events[1].data, "echo: Summarize")

	calls := g.remote.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Files, 1)
	assert.Equal(t, "text/plain", calls[0].Files[0].ContentType)

	// Stage and draft are cleared.
	rec = g.doJSON(http.MethodGet, "/api/attachments", nil)
	decodeJSON(t, rec.Body.Bytes(), &sb)
	assert.Empty(t, sb.Files)
	assert.Equal(t, "", g.app.Pipeline.Input())

	rec = g.doJSON(http.MethodGet, "/api/transcript", nil)
	decodeJSON(t, rec.Body.Bytes(), &tb)
	require.Len(t, tb.Messages, 3)
	assert.Equal(t, 1, tb.Messages[2].FilesProcessedCount)

	rec = g.doJSON(http.MethodGet, "/api/transcript?format=html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echo: Summarize")

	// Logout drops the session.
	rec = g.doJSON(http.MethodPost, "/api/session/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = g.doJSON(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayRejectsMissingCSRF(t *testing.T) {
	g := newGateway(t)
	g.cookie = nil
	rec := g.doJSON(http.MethodPost, "/api/session/login", map[string]string{"username": "x", "password": "y"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGatewayLoginFailureUsesServerMessage(t *testing.T) {
	g := newGateway(t)
	rec := g.doJSON(http.MethodPost, "/api/session/login", map[string]string{"username": "nobody", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials")
}

func TestGatewaySubmitValidation(t *testing.T) {
	g := newGateway(t)
	g.login("jack")

	rec := g.doJSON(http.MethodPost, "/api/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, g.app.Transcript.Len())
	assert.Empty(t, g.remote.Calls())
}

func TestGatewaySubmitFailureStreamsError(t *testing.T) {
	g := newGateway(t)
	g.login("kate")
	g.remote.FailChat(http.StatusInternalServerError)

	rec := g.doJSON(http.MethodPost, "/api/messages", map[string]string{"text": "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1].name)
	assert.Contains(t, events[1].data, "Sorry, I encountered an error")
}

func TestGatewaySingleFlight(t *testing.T) {
	g := newGateway(t)
	g.login("liam")
	release := g.remote.Hold()
	defer release()

	var wg sync.WaitGroup
	wg.Add(1)
	var first *httptest.ResponseRecorder
	go func() {
		defer wg.Done()
		first = g.doJSON(http.MethodPost, "/api/messages", map[string]string{"text": "first"})
	}()
	g.remote.WaitChatStarted(t)

	rec := g.doJSON(http.MethodPost, "/api/messages", map[string]string{"text": "second"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = g.doJSON(http.MethodPut, "/api/input", map[string]string{"text": "typing"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body, ct := multipartBody(t, uploadPart{name: "late.txt", contentType: "text/plain", data: []byte("late")})
	rec = g.do(http.MethodPost, "/api/attachments", body, ct)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = g.doJSON(http.MethodPost, "/api/attachments/paths", map[string][]string{"paths": {"late.txt"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 2, g.app.Transcript.Len())

	release()
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 3, g.app.Transcript.Len())
	assert.Len(t, g.remote.Calls(), 1)
	assert.Empty(t, g.remote.Calls()[0].Files)

	rec = g.do(http.MethodPost, "/api/attachments", body, ct)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, g.app.Stage.Len())
}

func TestGatewayAttachmentRemoval(t *testing.T) {
	g := newGateway(t)
	g.login("mia")

	body, ct := multipartBody(t,
		uploadPart{name: "a.txt", contentType: "text/plain", data: []byte("a")},
		uploadPart{name: "b.txt", contentType: "text/plain", data: []byte("b")},
	)
	rec := g.do(http.MethodPost, "/api/attachments", body, ct)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = g.doJSON(http.MethodDelete, "/api/attachments/5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = g.doJSON(http.MethodDelete, "/api/attachments/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sb stageBody
	decodeJSON(t, rec.Body.Bytes(), &sb)
	require.Len(t, sb.Files, 1)
	assert.Equal(t, "b.txt", sb.Files[0].Name)

	rec = g.doJSON(http.MethodDelete, "/api/attachments", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, g.app.Stage.Len())
}

func TestGatewayHistory(t *testing.T) {
	g := newGateway(t)
	g.login("noah")
	g.remote.SetHistory([]models.HistoryRecord{
		{ID: 1, UserMessage: "hello", BotResponse: "hi"},
		{ID: 2, UserMessage: "look", BotResponse: "A Cat", FilesInfo: []models.FileInfo{{Filename: "cat.png", Type: "image/png"}}},
	})

	rec := g.doJSON(http.MethodGet, "/api/history?q=cat&category=files", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view struct {
		Records []models.HistoryRecord `json:"records"`
		Total   int                    `json:"total"`
		Error   string                 `json:"error"`
	}
	decodeJSON(t, rec.Body.Bytes(), &view)
	require.Len(t, view.Records, 1)
	assert.Equal(t, int64(2), view.Records[0].ID)
	assert.Equal(t, 2, view.Total)

	rec = g.doJSON(http.MethodGet, "/api/history?category=pictures", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	g.remote.FailHistory(http.StatusInternalServerError)
	rec = g.doJSON(http.MethodPost, "/api/history/reload", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	decodeJSON(t, rec.Body.Bytes(), &view)
	assert.Equal(t, "Failed to load chat history", view.Error)
	assert.Len(t, view.Records, 2)

	g.app.Transcript.Append(models.Message{Sender: models.SenderUser, Text: "live"})
	rec = g.doJSON(http.MethodDelete, "/api/history", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, g.app.Transcript.Len())

	g.remote.FailClear(http.StatusInternalServerError)
	rec = g.doJSON(http.MethodDelete, "/api/history", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to clear history")
}
