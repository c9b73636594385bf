// Package v1 provides the HTTP handlers of the analysis API.
package v1

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/dataquery/internal/domain"
	"github.com/xiaot623/dataquery/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewHandler creates a new handler. allowedOrigin restricts websocket upgrades.
func NewHandler(service *service.Service, allowedOrigin string) *Handler {
	return &Handler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/analyze", h.Analyze)
	e.POST("/api/start-analysis", h.StartAnalysis)
	e.POST("/api/query", h.Query)

	e.GET("/api/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/api/sessions/:session_id/ws", h.QueryStream)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func errorStatus(err error) int {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, status int, detail string) error {
	return c.JSON(status, domain.ErrorResponse{Detail: detail})
}
