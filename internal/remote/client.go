// Package remote talks to the assistant service: auth, chat and history endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"filechat/internal/models"
)

const maxErrorBody = 4 << 10

// Client is a thin JSON/multipart client for the assistant service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client; timeout bounds every round trip (0 means none).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the underlying http.Client, used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type ChatReply struct {
	Reply          string `json:"reply"`
	FilesProcessed int    `json:"files_processed"`
}

type LoginResult struct {
	AccessToken string      `json:"access_token"`
	User        models.User `json:"user"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// Register creates an account and returns the server's confirmation text.
func (c *Client) Register(ctx context.Context, username, password, email string) (string, error) {
	var out struct {
		Msg string `json:"msg"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/register", "", credentials{username, password, email}, &out); err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	return out.Msg, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/login", "", credentials{Username: username, Password: password}, &out); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if out.AccessToken == "" {
		return nil, errors.New("login: response carried no access token")
	}
	return &out, nil
}

// Chat sends one message. The text field is only included when it is not blank;
// every attachment becomes a "files" part with its own content type.
func (c *Client) Chat(ctx context.Context, token, text string, files []models.Attachment) (*ChatReply, error) {
	body, contentType, err := encodeChat(text, files)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", body)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	var out ChatReply
	if err := c.do(req, token, &out); err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return &out, nil
}

// History returns the persisted turns in the order the service sends them.
func (c *Client) History(ctx context.Context, token string) ([]models.HistoryRecord, error) {
	var out struct {
		Messages []models.HistoryRecord `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/history", token, nil, &out); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if out.Messages == nil {
		out.Messages = []models.HistoryRecord{}
	}
	return out.Messages, nil
}

func (c *Client) ClearHistory(ctx context.Context, token string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/clear-history", token, nil, nil); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func encodeChat(text string, files []models.Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if strings.TrimSpace(text) != "" {
		if err := mw.WriteField("message", text); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(f.Name)))
		ct := f.MimeType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Payload); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, token, out)
}

func (c *Client) do(req *http.Request, token string, out any) error {
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string `json:"error"`
		Msg   string `json:"msg"`
	}
	msg := ""
	if err := json.Unmarshal(raw, &body); err == nil {
		msg = body.Error
		if msg == "" {
			msg = body.Msg
		}
	} else {
		msg = strings.TrimSpace(string(raw))
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
