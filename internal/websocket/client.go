package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func newClient(hub *Hub, conn *websocket.Conn, username, role string) *Client {
	id := uuid.New().String()

	return &Client{
		conn:         conn,
		send:         make(chan *Message, 256),
		hub:          hub,
		id:           id,
		username:     username,
		role:         role,
		filters:      make(map[string]interface{}),
		lastActivity: time.Now(),
		logger: hub.logger.WithFields(logrus.Fields{
			"client_id": id,
			"username":  username,
		}),
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastActivity = time.Now()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("websocket connection closed unexpectedly")
			}
			break
		}

		c.lastActivity = time.Now()
		c.handleMessage(messageBytes)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.WithError(err).Error("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(messageBytes []byte) {
	var message map[string]interface{}
	if err := json.Unmarshal(messageBytes, &message); err != nil {
		c.logger.WithError(err).Error("failed to unmarshal client message")
		return
	}

	messageType, ok := message["type"].(string)
	if !ok {
		c.logger.Error("message missing type field")
		return
	}

	c.logger.WithField("message_type", messageType).Debug("received client message")

	switch messageType {
	case "subscribe":
		c.handleSubscribe(message)
	case "unsubscribe":
		c.handleUnsubscribe(message)
	case "ping":
		c.handlePing()
	case "get_filters":
		c.handleGetFilters()
	default:
		c.logger.WithField("message_type", messageType).Warn("unknown message type")
	}
}

// handleSubscribe accepts "monitor" and "state" filter keys, scoping
// the client's feed to one monitor and/or one alert state.
func (c *Client) handleSubscribe(message map[string]interface{}) {
	filters, ok := message["filters"].(map[string]interface{})
	if !ok {
		c.logger.Error("subscribe message missing or invalid filters")
		return
	}

	for key, value := range filters {
		c.filters[key] = value
	}

	c.logger.WithField("filters", c.filters).Debug("client subscription updated")

	response := &Message{
		Type: "subscription_updated",
		Data: map[string]interface{}{
			"filters": c.filters,
		},
		Timestamp: time.Now(),
	}

	select {
	case c.send <- response:
	default:
		c.logger.Warn("failed to send subscription confirmation")
	}
}

func (c *Client) handleUnsubscribe(message map[string]interface{}) {
	filterKeys, ok := message["filter_keys"].([]interface{})
	if !ok {
		c.filters = make(map[string]interface{})
	} else {
		for _, keyInterface := range filterKeys {
			if key, ok := keyInterface.(string); ok {
				delete(c.filters, key)
			}
		}
	}

	c.logger.WithField("filters", c.filters).Debug("client unsubscribed from filters")

	response := &Message{
		Type: "unsubscription_confirmed",
		Data: map[string]interface{}{
			"filters": c.filters,
		},
		Timestamp: time.Now(),
	}

	select {
	case c.send <- response:
	default:
		c.logger.Warn("failed to send unsubscription confirmation")
	}
}

func (c *Client) handlePing() {
	response := &Message{
		Type: "pong",
		Data: map[string]interface{}{
			"server_time": time.Now(),
		},
		Timestamp: time.Now(),
	}

	select {
	case c.send <- response:
	default:
		c.logger.Warn("failed to send pong response")
	}
}

func (c *Client) handleGetFilters() {
	response := &Message{
		Type: "current_filters",
		Data: map[string]interface{}{
			"filters": c.filters,
		},
		Timestamp: time.Now(),
	}

	select {
	case c.send <- response:
	default:
		c.logger.Warn("failed to send current filters")
	}
}

// Start registers the client with its hub and spins up its read/write pumps.
func (c *Client) Start() {
	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}

// SendMessage delivers a message directly to this client only.
func (c *Client) SendMessage(messageType string, data interface{}) error {
	message := &Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case c.send <- message:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}

func (c *Client) GetInfo() map[string]interface{} {
	return map[string]interface{}{
		"id":            c.id,
		"username":      c.username,
		"role":          c.role,
		"filters":       c.filters,
		"last_activity": c.lastActivity,
	}
}
