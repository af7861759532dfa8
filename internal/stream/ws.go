package stream

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arbiter/pkg/utils/logger"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// WSHandler upgrades result-stream requests to websockets and pipes hub
// messages to the client.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewWSHandler creates a websocket handler bound to the hub.
func NewWSHandler(hub *Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the stream endpoint.
func (h *WSHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/submissions/:id/stream", h.Stream)
}

// Stream serves one subscriber connection. The connection closes after the
// verdict is delivered or the client goes away.
func (h *WSHandler) Stream(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed",
			zap.String("submission_id", submissionID),
			zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(submissionID)
	defer h.hub.Unsubscribe(submissionID, sub)

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces close frames and pong responses.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.hub.KeepaliveInterval())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case payload := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
