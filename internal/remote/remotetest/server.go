// Package remotetest runs an in-process stand-in for the assistant service.
package remotetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"filechat/internal/models"
)

// ReceivedFile is one "files" part seen by /chat.
type ReceivedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// ChatCall records one /chat request.
type ChatCall struct {
	Message    string
	HasMessage bool
	Files      []ReceivedFile
	Auth       string
}

type account struct {
	password string
	user     models.User
}

// Server is an httptest server speaking the assistant service protocol.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	token         string
	accounts      map[string]account
	history       []models.HistoryRecord
	reply         string
	chatStatus    int
	historyStatus int
	clearStatus   int
	gate          chan struct{}
	calls         []ChatCall
	started       chan struct{}
}

// NewServer starts the stand-in and closes it when the test ends.
func NewServer(t testing.TB) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		token:    "test-token",
		accounts: make(map[string]account),
		started:  make(chan struct{}, 16),
	}
	router := gin.New()
	router.POST("/register", s.register)
	router.POST("/login", s.login)
	router.POST("/chat", s.requireToken, s.chat)
	router.GET("/history", s.requireToken, s.listHistory)
	router.DELETE("/clear-history", s.requireToken, s.clearHistory)
	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// AddUser registers an account directly.
func (s *Server) AddUser(username, password string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: int64(len(s.accounts) + 1), Username: username}
	s.accounts[username] = account{password: password, user: u}
	return u
}

func (s *Server) SetHistory(records []models.HistoryRecord) {
	s.mu.Lock()
	s.history = records
	s.mu.Unlock()
}

func (s *Server) SetReply(reply string) {
	s.mu.Lock()
	s.reply = reply
	s.mu.Unlock()
}

// FailChat makes /chat answer with status until reset with 0.
func (s *Server) FailChat(status int) {
	s.mu.Lock()
	s.chatStatus = status
	s.mu.Unlock()
}

func (s *Server) FailHistory(status int) {
	s.mu.Lock()
	s.historyStatus = status
	s.mu.Unlock()
}

func (s *Server) FailClear(status int) {
	s.mu.Lock()
	s.clearStatus = status
	s.mu.Unlock()
}

// Hold makes /chat block until the returned release func is called.
func (s *Server) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// WaitChatStarted blocks until a /chat request reached the handler.
func (s *Server) WaitChatStarted(t testing.TB) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("chat request never reached the server")
	}
}

func (s *Server) Calls() []ChatCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) requireToken(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
		return
	}
	if strings.TrimPrefix(auth, "Bearer ") != s.Token() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	c.Next()
}

func (s *Server) register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Username and password required"})
		return
	}
	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Password must be at least 6 characters"})
		return
	}
	s.mu.Lock()
	if _, exists := s.accounts[req.Username]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"msg": "Username already exists"})
		return
	}
	s.accounts[req.Username] = account{
		password: req.Password,
		user:     models.User{ID: int64(len(s.accounts) + 1), Username: req.Username, Email: req.Email},
	}
	s.mu.Unlock()
	c.JSON(http.StatusCreated, gin.H{"msg": "User created successfully"})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Username and password required"})
		return
	}
	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	token := s.token
	s.mu.Unlock()
	if !ok || acc.password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "Invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "user": acc.user})
}

func (s *Server) chat(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(64 << 20); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	call := ChatCall{Auth: c.GetHeader("Authorization")}
	if values, ok := c.Request.MultipartForm.Value["message"]; ok && len(values) > 0 {
		call.Message = values[0]
		call.HasMessage = true
	}
	for _, fh := range c.Request.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "open part failed"})
			return
		}
		data, _ := io.ReadAll(f)
		f.Close()
		call.Files = append(call.Files, ReceivedFile{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data})
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	gate := s.gate
	s.mu.Unlock()
	select {
	case s.started <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	status, reply := s.chatStatus, s.reply
	s.mu.Unlock()
	if status != 0 {
		c.JSON(status, gin.H{"error": "Failed to process request"})
		return
	}
	if reply == "" {
		reply = "echo: " + call.Message
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply, "files_processed": len(call.Files)})
}

func (s *Server) listHistory(c *gin.Context) {
	s.mu.Lock()
	status := s.historyStatus
	records := make([]models.HistoryRecord, len(s.history))
	copy(records, s.history)
	s.mu.Unlock()
	if status != 0 {
		c.JSON(status, gin.H{"error": "Failed to get history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": records})
}

func (s *Server) clearHistory(c *gin.Context) {
	s.mu.Lock()
	status := s.clearStatus
	if status == 0 {
		s.history = nil
	}
	s.mu.Unlock()
	if status != 0 {
		c.JSON(status, gin.H{"error": "Failed to clear history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "History cleared successfully"})
}
