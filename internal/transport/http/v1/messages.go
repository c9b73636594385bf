package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// GetSessionMessages retrieves the conversation log of a session.
// GET /api/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	before := c.QueryParam("before")

	ctx := c.Request().Context()

	messages, err := h.service.GetMessages(ctx, sessionID, limit, before)
	if err != nil {
		return errorJSON(c, errorStatus(err), err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": limit > 0 && len(messages) == limit, // Approximate
	})
}
