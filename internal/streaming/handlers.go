package streaming

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler wires a Hub to gin's router.
type Handler struct {
	hub *Hub
	log *logger.Logger
}

// NewHandler builds a streaming Handler over hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, log: log}
}

// StreamEvents upgrades the request to a WebSocket and streams every event
// (optionally scoped to ?projectId=) until the client disconnects.
// GET /ws/events
func (h *Handler) StreamEvents(c *gin.Context) {
	projectID := c.Query("projectId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("failed to upgrade ws connection", zap.Error(err))
		}
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, projectID, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// SetupRoutes registers the streaming endpoint on router.
func SetupRoutes(router gin.IRouter, handler *Handler) {
	router.GET("/ws/events", handler.StreamEvents)
}
