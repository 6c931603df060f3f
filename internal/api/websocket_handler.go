package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	ws "monitorrunner/internal/websocket"
)

type WebSocketHandler struct {
	hub    *ws.Hub
	logger *logrus.Logger
}

func NewWebSocketHandler(hub *ws.Hub, logger *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *WebSocketHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("failed to upgrade websocket connection")
		return
	}

	username, _ := c.Get("username")
	role, _ := c.Get("role")

	client := h.hub.NewClient(conn, stringOr(username), stringOr(role))
	client.Start()

	h.logger.WithField("client_id", client.GetInfo()["id"]).Info("dashboard client connected")
}

func stringOr(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
