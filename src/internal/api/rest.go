package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"prometeo/src/internal/gateway"
	"prometeo/src/internal/schedule"
	"prometeo/src/internal/store"
	"prometeo/src/internal/tasks"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "tenants": len(s.Gateway.Config.Tenants)})
}

// writeError maps engine errors onto HTTP statuses: bad configuration is the
// caller's fault, unknown tenants/tasks are 404, everything else is 500.
func writeError(c *gin.Context, err error) {
	var vErr *tasks.ValidationError
	var schedErr *schedule.InvalidScheduleError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "field": vErr.Field})
	case errors.As(err, &schedErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": schedErr.Error()})
	case errors.Is(err, store.ErrTenantNotFound), errors.Is(err, store.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var spec tasks.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := s.Gateway.CreateTask(c.Request.Context(), c.Param("tenant"), &spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleListTasks(c *gin.Context) {
	list, err := s.Gateway.ListTasks(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.Gateway.GetTask(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var upd gateway.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := s.Gateway.UpdateTask(c.Request.Context(), c.Param("tenant"), c.Param("id"), &upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.Gateway.DeleteTask(c.Request.Context(), c.Param("tenant"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleRunTask(c *gin.Context) {
	result, err := s.Gateway.RunTaskNow(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTick(c *gin.Context) {
	summary, err := s.Gateway.Tick(c.Request.Context(), c.Query("tenant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleListNotifications(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	list, err := s.Gateway.ListNotifications(c.Request.Context(), c.Param("tenant"), recipient, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []*store.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (s *Server) handleWhatsappStatus(c *gin.Context) {
	if s.Gateway.Whatsapp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "whatsapp transport not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.Gateway.Whatsapp.Status())
}

func (s *Server) handleWhatsappEnroll(c *gin.Context) {
	if s.Gateway.Whatsapp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "whatsapp transport not enabled"})
		return
	}
	if err := s.Gateway.Whatsapp.Enroll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enrollment started, QR printed to server stdout"})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.Hub.add(recipient, conn)
	slog.Info("push client connected", "recipient", recipient)

	// Reads are only used to detect the close.
	go func() {
		defer func() {
			s.Hub.remove(recipient, conn)
			conn.Close()
			slog.Info("push client disconnected", "recipient", recipient)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
