package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorrunner/internal/models"
)

func testClient(filters map[string]interface{}) *Client {
	return &Client{
		id:           "c1",
		send:         make(chan *Message, 4),
		filters:      filters,
		lastActivity: time.Now(),
	}
}

func TestShouldSendToClientNoFilters(t *testing.T) {
	h := NewHub(nil)
	c := testClient(nil)
	msg := &Message{Type: "monitor_run", Data: map[string]interface{}{"monitor_name": "cpu"}}
	assert.True(t, h.shouldSendToClient(c, msg))
}

func TestShouldSendToClientMonitorFilterExcludes(t *testing.T) {
	h := NewHub(nil)
	c := testClient(map[string]interface{}{"monitor": "mem"})
	msg := &Message{Type: "monitor_run", Data: map[string]interface{}{"monitor_name": "cpu"}}
	assert.False(t, h.shouldSendToClient(c, msg))
}

func TestShouldSendToClientStateFilter(t *testing.T) {
	h := NewHub(nil)
	c := testClient(map[string]interface{}{"state": "ERROR"})

	active := &Message{Type: "alert_state", Data: map[string]interface{}{"state": "ACTIVE"}}
	assert.False(t, h.shouldSendToClient(c, active))

	errored := &Message{Type: "alert_state", Data: map[string]interface{}{"state": "ERROR"}}
	assert.True(t, h.shouldSendToClient(c, errored))
}

func TestBroadcastRunResultQueuesMessage(t *testing.T) {
	h := NewHub(nil)
	result := models.MonitorRunResult{
		MonitorName: "cpu-high",
		TriggerResults: map[string]models.TriggerRunResult{
			"t1": {TriggerName: "cpu", Triggered: true},
		},
	}

	h.BroadcastRunResult(result)

	select {
	case msg := <-h.broadcast:
		assert.Equal(t, "monitor_run", msg.Type)
		data := msg.Data.(map[string]interface{})
		assert.Equal(t, "cpu-high", data["monitor_name"])
		assert.Equal(t, 1, data["triggered_count"])
	default:
		t.Fatal("expected a queued broadcast message")
	}
}

func TestBroadcastAlertStateNilAlertNoop(t *testing.T) {
	h := NewHub(nil)
	h.BroadcastAlertState(nil)

	select {
	case <-h.broadcast:
		t.Fatal("expected no broadcast for a nil alert")
	default:
	}
}

func TestBroadcastAlertStateQueuesMessage(t *testing.T) {
	h := NewHub(nil)
	alert := &models.Alert{ID: "al1", MonitorID: "mon1", TriggerID: "t1", State: models.AlertStateActive}

	h.BroadcastAlertState(alert)

	select {
	case msg := <-h.broadcast:
		assert.Equal(t, "alert_state", msg.Type)
		data := msg.Data.(map[string]interface{})
		assert.Equal(t, "ACTIVE", data["state"])
	default:
		t.Fatal("expected a queued broadcast message")
	}
}

func TestRegisterAndUnregisterClient(t *testing.T) {
	h := NewHub(nil)
	c := testClient(nil)
	c.hub = h

	h.registerClient(c)
	require.Equal(t, 1, h.GetClientCount())

	select {
	case msg := <-c.send:
		assert.Equal(t, "welcome", msg.Type)
	default:
		t.Fatal("expected a welcome message")
	}

	h.unregisterClient(c)
	assert.Equal(t, 0, h.GetClientCount())
}
