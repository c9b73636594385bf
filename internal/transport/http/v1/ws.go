package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/domain"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 * 1024
)

// wsConn is one websocket client bound to a session.
type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// discard closes the socket, which unblocks the reader, then drops pending
// replies until the reader closes send.
func (c *wsConn) discard() {
	c.conn.Close()
	for range c.send {
	}
}

func (c *wsConn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("session_id", c.sessionID).Msg("failed to encode websocket reply")
		return
	}
	c.send <- data
}

// QueryStream upgrades to a websocket on which each {"query": ...} frame is
// answered with one result frame, in order.
// GET /api/sessions/:session_id/ws
func (h *Handler) QueryStream(c echo.Context) error {
	sessionID := c.Param("session_id")
	if !h.service.Sessions().Exists(sessionID) {
		return errorJSON(c, http.StatusNotFound, domain.ErrSessionNotFound.Error())
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to upgrade websocket")
		return nil
	}
	ws.SetReadLimit(wsMaxMessageSize)

	conn := &wsConn{conn: ws, sessionID: sessionID, send: make(chan []byte, 16)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.readPump(ctx, conn)

	conn.close()
	<-done
	return nil
}

// readPump reads queries until the peer goes away.
func (h *Handler) readPump(ctx context.Context, conn *wsConn) {
	conn.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("session_id", conn.sessionID).Msg("websocket read failed")
			}
			return
		}

		h.handleQuery(ctx, conn, message)
		conn.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

// writePump drains the send channel and keeps the connection alive.
func (h *Handler) writePump(conn *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("session_id", conn.sessionID).Msg("websocket write failed")
				conn.discard()
				return
			}

		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.discard()
				return
			}
		}
	}
}

func (h *Handler) handleQuery(ctx context.Context, conn *wsConn, data []byte) {
	var msg domain.QueryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		conn.sendJSON(domain.ErrorResponse{Detail: "invalid JSON message", Status: http.StatusBadRequest})
		return
	}
	query := strings.TrimSpace(msg.Query)
	if query == "" {
		conn.sendJSON(domain.ErrorResponse{Detail: "query is required", Status: http.StatusBadRequest})
		return
	}

	result, err := h.service.Query(ctx, conn.sessionID, query)
	if err != nil {
		conn.sendJSON(domain.ErrorResponse{Detail: err.Error(), Status: errorStatus(err)})
		return
	}
	conn.sendJSON(result)
}
