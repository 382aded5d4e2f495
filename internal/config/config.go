// Package config loads runtime settings from an optional YAML file and the
// environment, applies defaults, and sanitises values the service cannot run with.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/chatgate/internal/log"
)

// Config holds the server configuration settings including security controls.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       log.Config      `mapstructure:"log"`
	Users     []UserSeed      `mapstructure:"users"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig controls the real-time transport.
type WebSocketConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// SessionConfig controls the session store and the session cookie.
type SessionConfig struct {
	Store         string        `mapstructure:"store"` // memory, redis
	TTL           time.Duration `mapstructure:"ttl"`
	CookieName    string        `mapstructure:"cookie_name"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
	LoginRedirect string        `mapstructure:"login_redirect"`
}

// ChatConfig controls who may use the real-time channel.
type ChatConfig struct {
	RequireAuth bool `mapstructure:"require_auth"`
	HistoryMax  int  `mapstructure:"history_max"`
}

// DatabaseConfig selects the message log and user backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	FilePath        string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig locates the redis session backend.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// UserSeed is a credential created at startup if absent.
type UserSeed struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 512
	defaultBurst          = 5
	defaultSendBuffer     = 256
	defaultSessionTTL     = 60 * time.Second
	defaultCookieName     = "chatgate_session"
	defaultHistoryMax     = 500
)

var durationKeys = []string{
	"server.read_timeout",
	"server.write_timeout",
	"server.idle_timeout",
	"server.shutdown_timeout",
	"websocket.ping_interval",
	"websocket.pong_wait",
	"websocket.write_wait",
	"rate_limit.refill_interval",
	"session.ttl",
	"database.conn_max_lifetime",
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            defaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			MaxMessageSize: defaultMaxMessageSize,
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			SendBuffer:     defaultSendBuffer,
		},
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: time.Second,
		},
		Session: SessionConfig{
			Store:         "memory",
			TTL:           defaultSessionTTL,
			CookieName:    defaultCookieName,
			LoginRedirect: "/private",
		},
		Chat: ChatConfig{
			HistoryMax: defaultHistoryMax,
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			FilePath: "chatgate.db",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "chatgate:session",
		},
		Log: log.Config{
			Level:       "info",
			ServiceName: "chatgate",
		},
	}
}

// Load reads configuration from file and environment variables.
// configPath is the directory containing config.yaml; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, Default())
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Bare integers are seconds.
	for _, key := range durationKeys {
		if secs, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
			v.Set(key, time.Duration(secs)*time.Second)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.WebSocket.AllowedOrigins = splitList(cfg.WebSocket.AllowedOrigins)
	return Sanitize(&cfg), nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout.String())
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout.String())
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval.String())
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait.String())
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait.String())
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval.String())
	v.SetDefault("session.store", d.Session.Store)
	v.SetDefault("session.ttl", d.Session.TTL.String())
	v.SetDefault("session.cookie_name", d.Session.CookieName)
	v.SetDefault("session.cookie_secure", d.Session.CookieSecure)
	v.SetDefault("session.login_redirect", d.Session.LoginRedirect)
	v.SetDefault("chat.require_auth", d.Chat.RequireAuth)
	v.SetDefault("chat.history_max", d.Chat.HistoryMax)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.FilePath)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "0s")
	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("websocket.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("websocket.max_message_size", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")
	_ = v.BindEnv("rate_limit.refill_interval", "RATE_LIMIT_REFILL_INTERVAL")
	_ = v.BindEnv("session.store", "SESSION_STORE")
	_ = v.BindEnv("session.ttl", "SESSION_TTL")
	_ = v.BindEnv("chat.require_auth", "CHAT_REQUIRE_AUTH")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// Sanitize replaces values the service cannot run with by their defaults.
func Sanitize(cfg *Config) *Config {
	d := Default()

	if cfg.Server.Port == "" {
		cfg.Server.Port = d.Server.Port
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if cfg.WebSocket.PongWait <= 0 {
		cfg.WebSocket.PongWait = d.WebSocket.PongWait
	}
	if cfg.WebSocket.PingInterval <= 0 || cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		cfg.WebSocket.PingInterval = cfg.WebSocket.PongWait * 9 / 10
	}
	if cfg.WebSocket.WriteWait <= 0 {
		cfg.WebSocket.WriteWait = d.WebSocket.WriteWait
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = d.WebSocket.SendBuffer
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}

	switch strings.ToLower(cfg.Session.Store) {
	case "memory", "redis":
		cfg.Session.Store = strings.ToLower(cfg.Session.Store)
	default:
		cfg.Session.Store = d.Session.Store
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = d.Session.TTL
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = d.Session.CookieName
	}
	if cfg.Session.LoginRedirect == "" {
		cfg.Session.LoginRedirect = d.Session.LoginRedirect
	}

	if cfg.Chat.HistoryMax <= 0 {
		cfg.Chat.HistoryMax = d.Chat.HistoryMax
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = d.Database.Driver
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.FilePath == "" {
		cfg.Database.FilePath = d.Database.FilePath
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = d.Redis.KeyPrefix
	}

	return cfg
}

// splitList flattens comma separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
