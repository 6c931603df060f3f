// Package websocket fans out live monitor-run results to admin
// dashboard clients. Adapted from the notification hub pattern: a
// single Hub goroutine owns the client set and a buffered broadcast
// channel, clients get their own read/write pumps over gorilla's
// connection.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"monitorrunner/internal/models"
)

// Hub maintains the set of active clients and broadcasts messages to the clients.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	logger *logrus.Logger
	mutex  sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// Message is the envelope written over the wire.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client represents one connected dashboard session.
type Client struct {
	conn *websocket.Conn
	send chan *Message
	hub  *Hub

	id       string
	username string
	role     string

	filters map[string]interface{}

	lastActivity time.Time

	logger *logrus.Entry
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *Hub) NewClient(conn *websocket.Conn, username, role string) *Client {
	return newClient(h, conn, username, role)
}

// Run drives registration, unregistration, broadcast and keepalive
// until the hub's context is cancelled by Shutdown.
func (h *Hub) Run() {
	defer h.cancel()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub shutting down")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ticker.C:
			h.pingClients()
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true

	h.logger.WithFields(logrus.Fields{
		"client_id": client.id,
		"username":  client.username,
	}).Info("dashboard client connected")

	welcome := &Message{
		Type: "welcome",
		Data: map[string]interface{}{
			"client_id":   client.id,
			"server_time": time.Now(),
		},
		Timestamp: time.Now(),
	}

	select {
	case client.send <- welcome:
	default:
		h.closeClient(client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		h.logger.WithFields(logrus.Fields{
			"client_id": client.id,
			"username":  client.username,
		}).Info("dashboard client disconnected")
	}
}

func (h *Hub) broadcastMessage(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if h.shouldSendToClient(client, message) {
			select {
			case client.send <- message:
			default:
				h.closeClient(client)
			}
		}
	}
}

// shouldSendToClient applies a client's subscription filters to
// monitor_run and alert_state messages: "monitor" restricts to a
// monitor name on monitor_run and to a monitor ID on alert_state,
// "state" restricts to an alert state.
func (h *Hub) shouldSendToClient(client *Client, message *Message) bool {
	if len(client.filters) == 0 {
		return true
	}

	switch message.Type {
	case "monitor_run":
		if monitorFilter, ok := client.filters["monitor"].(string); ok {
			if data, ok := message.Data.(map[string]interface{}); ok {
				if name, ok := data["monitor_name"].(string); ok && monitorFilter != name {
					return false
				}
			}
		}
	case "alert_state":
		if monitorFilter, ok := client.filters["monitor"].(string); ok {
			if data, ok := message.Data.(map[string]interface{}); ok {
				if id, ok := data["monitor_id"].(string); ok && monitorFilter != id {
					return false
				}
			}
		}
		if stateFilter, ok := client.filters["state"].(string); ok {
			if data, ok := message.Data.(map[string]interface{}); ok {
				if state, ok := data["state"].(string); ok && stateFilter != state {
					return false
				}
			}
		}
	}

	return true
}

func (h *Hub) closeClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		client.conn.Close()
	}
}

func (h *Hub) pingClients() {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	now := time.Now()
	for client := range h.clients {
		if now.Sub(client.lastActivity) > pongWait {
			h.logger.WithField("client_id", client.id).Debug("client timed out")
			h.closeClient(client)
			continue
		}

		client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			h.logger.WithError(err).WithField("client_id", client.id).Debug("failed to send ping")
			h.closeClient(client)
		}
	}
}

// BroadcastRunResult publishes a completed runMonitor invocation to
// every subscribed dashboard client.
func (h *Hub) BroadcastRunResult(result models.MonitorRunResult) {
	triggered := 0
	for _, tr := range result.TriggerResults {
		if tr.Triggered {
			triggered++
		}
	}

	message := &Message{
		Type: "monitor_run",
		Data: map[string]interface{}{
			"monitor_name":    result.MonitorName,
			"period_start":    result.PeriodStart,
			"period_end":      result.PeriodEnd,
			"triggered_count": triggered,
			"has_error":       result.Error != nil,
			"trigger_results": result.TriggerResults,
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping monitor_run message")
	}
}

// BroadcastAlertState publishes an alert's state transition, as
// composed by internal/compose, to every subscribed dashboard client.
func (h *Hub) BroadcastAlertState(alert *models.Alert) {
	if alert == nil {
		return
	}
	message := &Message{
		Type: "alert_state",
		Data: map[string]interface{}{
			"alert_id":   alert.ID,
			"monitor_id": alert.MonitorID,
			"trigger_id": alert.TriggerID,
			"state":      string(alert.State),
			"start_time": alert.StartTime,
			"end_time":   alert.EndTime,
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping alert_state message")
	}
}

// BroadcastSystemMessage publishes an operational event (startup,
// config reload, shutdown) unrelated to a specific run.
func (h *Hub) BroadcastSystemMessage(messageType string, data interface{}) {
	message := &Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping system message")
	}
}

func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetClients() []map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]map[string]interface{}, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, map[string]interface{}{
			"id":            client.id,
			"username":      client.username,
			"role":          client.role,
			"last_activity": client.lastActivity,
			"filters":       client.filters,
		})
	}
	return clients
}

func (h *Hub) Shutdown() {
	h.logger.Info("shutting down websocket hub")
	h.cancel()

	h.mutex.Lock()
	for client := range h.clients {
		client.conn.Close()
	}
	h.mutex.Unlock()
}
