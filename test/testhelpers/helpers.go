// Package testhelpers provides common utilities and helper functions for testing the chatgate server.
//
// It assembles a complete server on a temporary SQLite database with an
// in-memory session store, and offers helpers for HTTP and WebSocket clients
// so integration tests stay short.
package testhelpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatgate/internal/auth"
	"github.com/Tyrowin/chatgate/internal/chat"
	"github.com/Tyrowin/chatgate/internal/config"
	"github.com/Tyrowin/chatgate/internal/database"
	"github.com/Tyrowin/chatgate/internal/hub"
	"github.com/Tyrowin/chatgate/internal/message"
	"github.com/Tyrowin/chatgate/internal/server"
	"github.com/Tyrowin/chatgate/internal/session"
	"github.com/Tyrowin/chatgate/internal/user"
)

// TestOrigin is the origin every test client presents.
const TestOrigin = "http://localhost:8080"

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SwitchableLog wraps a message log and can simulate a storage outage.
type SwitchableLog struct {
	message.Log
	down atomic.Bool
}

// SetDown toggles the simulated outage.
func (l *SwitchableLog) SetDown(down bool) { l.down.Store(down) }

// Append implements message.Log.
func (l *SwitchableLog) Append(ctx context.Context, m message.Message) (message.Persisted, error) {
	if l.down.Load() {
		return message.Persisted{}, message.ErrPersistenceUnavailable
	}
	return l.Log.Append(ctx, m)
}

// Options customise the assembled application.
type Options struct {
	RequireAuth bool
	SessionTTL  time.Duration
	Users       map[string]string
	Customize   func(cfg *config.Config)
}

// App is a running server with handles to its internals.
type App struct {
	Server   *httptest.Server
	Config   *config.Config
	Hub      *hub.Hub
	Sessions *session.MemoryStore
	Messages *SwitchableLog
	Clock    *Clock
}

// NewApp assembles and starts a server. Everything is torn down with t.
func NewApp(t *testing.T, opts Options) *App {
	t.Helper()

	cfg := config.Default()
	cfg.Database.FilePath = filepath.Join(t.TempDir(), "chatgate.db")
	cfg.Chat.RequireAuth = opts.RequireAuth
	cfg.WebSocket.AllowedOrigins = []string{TestOrigin}
	cfg.RateLimit.Burst = 100
	if opts.SessionTTL > 0 {
		cfg.Session.TTL = opts.SessionTTL
	}
	if opts.Customize != nil {
		opts.Customize(cfg)
	}
	config.Sanitize(cfg)

	db, err := database.New(cfg.Database)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if err := database.AutoMigrate(db, &message.Record{}, &user.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := user.NewRepository(db).WithCost(bcrypt.MinCost)
	creds := opts.Users
	if creds == nil {
		creds = map[string]string{"alice": "password123"}
	}
	for name, password := range creds {
		if _, err := users.Ensure(context.Background(), name, password); err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
	}

	clock := NewClock()
	sessions := session.NewMemoryStore(cfg.Session.TTL, session.WithClock(clock.Now))
	messages := &SwitchableLog{Log: message.NewGormLog(db)}
	h := hub.New()
	gate := auth.NewGate(sessions)
	var pipelineOpts []chat.Option
	if cfg.Chat.RequireAuth {
		pipelineOpts = append(pipelineOpts, chat.WithGate(gate))
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := server.New(ctx, server.Deps{
		Config:   cfg,
		Auth:     auth.NewAuthenticator(users, sessions),
		Gate:     gate,
		Messages: messages,
		Hub:      h,
		Pipeline: chat.NewPipeline(messages, h, pipelineOpts...),
	})

	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(func() {
		ts.Close()
		_ = h.ShutdownTimeout(2 * time.Second)
		cancel()
	})

	return &App{
		Server:   ts,
		Config:   cfg,
		Hub:      h,
		Sessions: sessions,
		Messages: messages,
		Clock:    clock,
	}
}

// URL joins path onto the server address.
func (a *App) URL(path string) string {
	return a.Server.URL + path
}

// WebSocketURL returns the ws:// address of the chat endpoint.
func (a *App) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(a.Server.URL, "http") + "/ws"
}

// NewHTTPClient returns a client with a cookie jar that does not follow redirects.
func NewHTTPClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Login posts credentials as JSON and returns the response.
func (a *App) Login(t *testing.T, client *http.Client, username, password string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := client.Post(a.URL("/login"), "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	return resp
}

// SessionCookie returns the session cookie the client holds for the app, if any.
func (a *App) SessionCookie(client *http.Client) *http.Cookie {
	u, _ := url.Parse(a.Server.URL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == a.Config.Session.CookieName {
			return c
		}
	}
	return nil
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, client *http.Client, method, url string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// DecodeJSON decodes the response body into v and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ConnectWebSocket dials the chat endpoint with the test origin and, when
// client is non-nil, its cookies.
func (a *App) ConnectWebSocket(client *http.Client) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	if client != nil {
		dialer.Jar = client.Jar
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	return dialer.Dial(a.WebSocketURL(), headers)
}

// MustConnect is ConnectWebSocket that fails the test on error and waits
// until the hub has registered the connection.
func (a *App) MustConnect(t *testing.T, client *http.Client) *websocket.Conn {
	t.Helper()
	before := a.Hub.Count()
	conn, resp, err := a.ConnectWebSocket(client)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for a.Hub.Count() <= before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

// SendNewMessage emits a newMessage event.
func SendNewMessage(conn *websocket.Conn, author, body string) error {
	return conn.WriteJSON(map[string]any{
		"event": chat.EventNewMessage,
		"data":  chat.NewMessageData{Author: author, Body: body},
	})
}

// ReceiveEnvelope reads one event, failing the test after timeout.
func ReceiveEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) chat.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var env chat.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return env
}

// ExpectNoEvent asserts nothing arrives within timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no event, got %s", data)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
