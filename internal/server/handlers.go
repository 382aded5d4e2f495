package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/chatgate/internal/auth"
	"github.com/Tyrowin/chatgate/internal/hub"
	"github.com/Tyrowin/chatgate/internal/log"
	"github.com/Tyrowin/chatgate/internal/message"
	"github.com/Tyrowin/chatgate/internal/response"
)

const defaultHistoryLimit = 50

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "chatgate server is running!")
}

// LoginHandler exchanges credentials for a session cookie and redirects to
// the configured landing page. Unknown users and wrong passwords get the same
// answer.
func (s *Server) LoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, "username and password are required")
		return
	}

	token, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			response.LoginFailed(c)
			return
		}
		response.InternalError(c, "login is temporarily unavailable")
		return
	}

	s.cookie.Set(c.Writer, token)
	c.Set(log.FieldUsername, req.Username)
	c.Redirect(http.StatusFound, s.cfg.Session.LoginRedirect)
}

// LogoutHandler destroys the caller's session, if any, and clears the cookie.
func (s *Server) LogoutHandler(c *gin.Context) {
	username, err := s.auth.Logout(c.Request.Context(), s.cookie.Token(c.Request))
	s.cookie.Clear(c.Writer)
	if err != nil {
		response.InternalError(c, "logout is temporarily unavailable")
		return
	}
	if username != "" {
		c.Set(log.FieldUsername, username)
	}
	c.JSON(http.StatusOK, gin.H{"username": username})
}

// PrivateHandler is the protected landing page.
func (s *Server) PrivateHandler(c *gin.Context) {
	rec, ok := auth.FromContext(c.Request.Context())
	if !ok {
		response.Unauthorized(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "you are logged in!",
		"username": rec.Username,
	})
}

// MessagesHandler lists the newest messages, oldest first.
func (s *Server) MessagesHandler(c *gin.Context) {
	limit := defaultHistoryLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if maxLimit := s.cfg.Chat.HistoryMax; maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}

	messages, err := s.messages.Recent(c.Request.Context(), limit)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("failed to list messages")
		response.InternalError(c, "message history is unavailable")
		return
	}
	if messages == nil {
		messages = []message.Persisted{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// WebSocketHandler upgrades the connection and hands it to the hub. When the
// route is gated the connection carries the admitted session, which the
// pipeline re-checks for every inbound frame.
func (s *Server) WebSocketHandler(c *gin.Context) {
	var identity hub.Identity
	if rec, ok := auth.FromContext(c.Request.Context()); ok {
		identity = hub.Identity{Username: rec.Username, Token: rec.Token}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ws := s.cfg.WebSocket
	client := hub.NewClient(conn, s.hub, c.Request.RemoteAddr, identity, hub.ClientConfig{
		MaxMessageSize: ws.MaxMessageSize,
		PingInterval:   ws.PingInterval,
		PongWait:       ws.PongWait,
		WriteWait:      ws.WriteWait,
		SendBuffer:     ws.SendBuffer,
		Burst:          s.cfg.RateLimit.Burst,
		RefillInterval: s.cfg.RateLimit.RefillInterval,
	}, s.pipeline.Handler(s.baseCtx))

	s.hub.Serve(client)
}

// NotFoundHandler answers unmatched routes and methods.
func NotFoundHandler(c *gin.Context) {
	response.RouteNotFound(c)
}
