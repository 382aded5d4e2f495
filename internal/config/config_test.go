package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != ":8080" {
		t.Errorf("expected default port :8080, got %q", cfg.Server.Port)
	}
	if cfg.Session.TTL != 60*time.Second {
		t.Errorf("expected default session ttl 60s, got %v", cfg.Session.TTL)
	}
	if cfg.Session.Store != "memory" {
		t.Errorf("expected memory session store, got %q", cfg.Session.Store)
	}
	if cfg.Chat.RequireAuth {
		t.Error("expected chat to be open by default")
	}
	if len(cfg.WebSocket.AllowedOrigins) != 1 || cfg.WebSocket.AllowedOrigins[0] != "http://localhost:8080" {
		t.Errorf("unexpected default origins: %v", cfg.WebSocket.AllowedOrigins)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("CHAT_REQUIRE_AUTH", "true")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != ":9090" {
		t.Errorf("expected port :9090, got %q", cfg.Server.Port)
	}
	if len(cfg.WebSocket.AllowedOrigins) != 2 {
		t.Errorf("expected two origins, got %v", cfg.WebSocket.AllowedOrigins)
	}
	if cfg.WebSocket.MaxMessageSize != 2048 {
		t.Errorf("expected max message size 2048, got %d", cfg.WebSocket.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 10 {
		t.Errorf("expected burst 10, got %d", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval != 3*time.Second {
		t.Errorf("expected refill interval 3s, got %v", cfg.RateLimit.RefillInterval)
	}
	if cfg.Session.TTL != 90*time.Second {
		t.Errorf("expected ttl 90s, got %v", cfg.Session.TTL)
	}
	if cfg.Session.Store != "redis" {
		t.Errorf("expected redis store, got %q", cfg.Session.Store)
	}
	if !cfg.Chat.RequireAuth {
		t.Error("expected chat.require_auth to be true")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: ":7070"
session:
  ttl: 5m
  cookie_name: sid
database:
  driver: sqlite
  path: /tmp/chat.db
users:
  - username: alice
    password: secret
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != ":7070" {
		t.Errorf("expected port :7070, got %q", cfg.Server.Port)
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Errorf("expected ttl 5m, got %v", cfg.Session.TTL)
	}
	if cfg.Session.CookieName != "sid" {
		t.Errorf("expected cookie name sid, got %q", cfg.Session.CookieName)
	}
	if cfg.Database.FilePath != "/tmp/chat.db" {
		t.Errorf("expected database path, got %q", cfg.Database.FilePath)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Username != "alice" || cfg.Users[0].Password != "secret" {
		t.Errorf("unexpected users: %+v", cfg.Users)
	}
}

func TestSanitize(t *testing.T) {
	cfg := Sanitize(&Config{
		WebSocket: WebSocketConfig{MaxMessageSize: -1, PongWait: 10 * time.Second, PingInterval: 20 * time.Second},
		RateLimit: RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
		Session:   SessionConfig{Store: "etcd", TTL: 0},
	})

	if cfg.Server.Port != ":8080" {
		t.Errorf("expected port default, got %q", cfg.Server.Port)
	}
	if cfg.WebSocket.MaxMessageSize != defaultMaxMessageSize {
		t.Errorf("expected max message size default, got %d", cfg.WebSocket.MaxMessageSize)
	}
	if cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		t.Errorf("ping interval %v must be shorter than pong wait %v", cfg.WebSocket.PingInterval, cfg.WebSocket.PongWait)
	}
	if cfg.RateLimit.Burst != defaultBurst || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if cfg.Session.Store != "memory" {
		t.Errorf("expected unknown store to fall back to memory, got %q", cfg.Session.Store)
	}
	if cfg.Session.TTL != defaultSessionTTL {
		t.Errorf("expected default ttl, got %v", cfg.Session.TTL)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.FilePath == "" {
		t.Errorf("unexpected database defaults: %+v", cfg.Database)
	}
}
