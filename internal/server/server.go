package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatgate/internal/auth"
	"github.com/Tyrowin/chatgate/internal/chat"
	"github.com/Tyrowin/chatgate/internal/config"
	"github.com/Tyrowin/chatgate/internal/hub"
	"github.com/Tyrowin/chatgate/internal/log"
	"github.com/Tyrowin/chatgate/internal/message"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Config   *config.Config
	Auth     *auth.Authenticator
	Gate     *auth.Gate
	Messages message.Log
	Hub      *hub.Hub
	Pipeline *chat.Pipeline
}

// Server holds the handlers and their shared state.
type Server struct {
	cfg      *config.Config
	auth     *auth.Authenticator
	gate     *auth.Gate
	messages message.Log
	hub      *hub.Hub
	pipeline *chat.Pipeline
	cookie   auth.Cookie
	origins  *OriginPolicy
	upgrader websocket.Upgrader

	// baseCtx outlives individual requests; inbound WebSocket frames run under it.
	baseCtx context.Context
}

// New creates a Server. ctx bounds the lifetime of WebSocket frame handling.
func New(ctx context.Context, deps Deps) *Server {
	cfg := deps.Config
	s := &Server{
		cfg:      cfg,
		auth:     deps.Auth,
		gate:     deps.Gate,
		messages: deps.Messages,
		hub:      deps.Hub,
		pipeline: deps.Pipeline,
		cookie: auth.Cookie{
			Name:   cfg.Session.CookieName,
			TTL:    cfg.Session.TTL,
			Secure: cfg.Session.CookieSecure,
		},
		origins: NewOriginPolicy(cfg.WebSocket.AllowedOrigins),
		baseCtx: ctx,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.Check,
	}
	return s
}

// CreateServer creates and configures the HTTP server with security settings.
func CreateServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// StartServer starts the HTTP server and blocks until it exits. A server
// closed by Shutdown returns nil.
func StartServer(srv *http.Server) error {
	l := log.L()
	l.Info().Str(log.FieldAddr, srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting requests, then closes every WebSocket
// connection through the hub. Both steps share ctx's deadline.
func ShutdownServer(ctx context.Context, srv *http.Server, h *hub.Hub) error {
	l := log.L()
	l.Info().Msg("shutting down http server")

	httpErr := srv.Shutdown(ctx)
	if httpErr != nil {
		l.Error().Err(httpErr).Msg("http server shutdown")
	}
	hubErr := h.Shutdown(ctx)
	return errors.Join(httpErr, hubErr)
}
