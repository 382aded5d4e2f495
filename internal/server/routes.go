package server

import (
	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/chatgate/internal/log"
)

// SetupRoutes configures and returns a Gin engine with all application routes.
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(log.GinMiddleware(log.L()))

	protected := s.gate.RequireSession(s.cookie)

	router.GET("/health", HealthHandler)
	router.POST("/login", s.LoginHandler)
	router.POST("/logout", s.LogoutHandler)
	router.GET("/private", protected, s.PrivateHandler)

	api := router.Group("/api", protected)
	{
		api.GET("/messages", s.MessagesHandler)
	}

	if s.cfg.Chat.RequireAuth {
		router.GET("/ws", protected, s.WebSocketHandler)
	} else {
		router.GET("/ws", s.WebSocketHandler)
	}

	router.NoRoute(NotFoundHandler)
	router.NoMethod(NotFoundHandler)
	return router
}
