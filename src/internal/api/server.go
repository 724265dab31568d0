package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"prometeo/src/internal/gateway"
)

type Server struct {
	Gateway *gateway.Gateway
	Hub     *Hub
	Engine  *gin.Engine
}

func NewServer(gw *gateway.Gateway, hub *Hub) *Server {
	e := gin.Default()
	s := &Server{
		Gateway: gw,
		Hub:     hub,
		Engine:  e,
	}
	s.Engine.Use(s.corsMiddleware())
	s.Engine.Use(s.authMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Engine.GET("/ws", s.handleWebsocket)

	v1 := s.Engine.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.POST("/tick", s.handleTick)

		v1.POST("/tenants/:tenant/tasks", s.handleCreateTask)
		v1.GET("/tenants/:tenant/tasks", s.handleListTasks)
		v1.GET("/tenants/:tenant/tasks/:id", s.handleGetTask)
		v1.PUT("/tenants/:tenant/tasks/:id", s.handleUpdateTask)
		v1.DELETE("/tenants/:tenant/tasks/:id", s.handleDeleteTask)
		v1.POST("/tenants/:tenant/tasks/:id/run", s.handleRunTask)

		v1.GET("/tenants/:tenant/notifications", s.handleListNotifications)

		v1.GET("/channels/whatsapp/status", s.handleWhatsappStatus)
		v1.POST("/channels/whatsapp/enroll", s.handleWhatsappEnroll)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Server-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip auth for OPTIONS requests (CORS preflight)
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		key := s.Gateway.Config.Server.Key
		if key == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Server-Key")

		// Websocket clients cannot set custom headers; accept a token query
		// parameter on upgrade requests instead.
		if provided == "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			provided = c.Query("token")
		}

		if provided != key {
			slog.Warn("unauthorized request", "path", c.Request.URL.Path, "remote", c.ClientIP(), "provided", provided != "")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing server key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) Run(addr string) error {
	return s.Engine.Run(addr)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 60 * time.Second,
		ReadTimeout:       600 * time.Second,
		WriteTimeout:      600 * time.Second,
		IdleTimeout:       1200 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed && err != nil {
			slog.Error("server ListenAndServe error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	ctxShut, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server graceful shutdown error", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
