package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorrunner/internal/cache"
	"monitorrunner/internal/models"
	"monitorrunner/internal/recovery"
)

func newTestDispatcher(t *testing.T, resolve DestinationResolver) *Dispatcher {
	t.Helper()
	factory := func(cfg *DestinationConfig, logger *logrus.Logger) (Destination, error) {
		return nil, nil
	}
	return New(resolve, factory, cache.New(time.Minute, time.Minute), Options{
		ActionExecutors:    4,
		RateLimitPerSecond: 100,
		RateLimitBurst:     10,
		PublishRetry:       recovery.NewLiveRetryConfig("publish", recovery.NewConstantPolicy(1, time.Millisecond, nil)),
	}, nil)
}

func TestIsActionActionableNoThrottle(t *testing.T) {
	action := models.Action{ID: "a1"}
	assert.True(t, IsActionActionable(action, &models.Alert{}, time.Now()))
}

func TestIsActionActionableThrottleWindow(t *testing.T) {
	now := time.Now()
	action := models.Action{ID: "a1", Throttle: &models.Throttle{Value: 10, Unit: time.Minute, Enabled: true}}
	prior := &models.Alert{
		ActionExecutionResults: []models.ActionExecutionResult{
			{ActionID: "a1", LastExecutionTime: now.Add(-5 * time.Minute)},
		},
	}
	assert.False(t, IsActionActionable(action, prior, now))

	prior.ActionExecutionResults[0].LastExecutionTime = now.Add(-11 * time.Minute)
	assert.True(t, IsActionActionable(action, prior, now))
}

func TestIsTriggerActionableSuppressesAcknowledged(t *testing.T) {
	triggerResult := models.TriggerRunResult{Triggered: true}
	prior := &models.Alert{State: models.AlertStateAcknowledged}
	assert.False(t, IsTriggerActionable(triggerResult, prior, nil))

	triggerResult.Error = assertError{}
	assert.True(t, IsTriggerActionable(triggerResult, prior, nil))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestRunActionThrottledDoesNotCountAsError(t *testing.T) {
	d := newTestDispatcher(t, nil)
	action := models.Action{ID: "a1", Throttle: &models.Throttle{Value: 10, Unit: time.Minute, Enabled: true}, MessageTemplate: "hi"}
	prior := &models.Alert{
		ActionExecutionResults: []models.ActionExecutionResult{
			{ActionID: "a1", LastExecutionTime: time.Now()},
		},
	}

	results := d.RunActions(context.Background(), []models.Action{action}, prior, TemplateParams{}, false, time.Now())
	require.Len(t, results, 1)
	assert.True(t, results[0].Throttled)
	assert.NoError(t, results[0].Error)
}

func TestRunActionMissingMessageErrors(t *testing.T) {
	d := newTestDispatcher(t, nil)
	action := models.Action{ID: "a1", MessageTemplate: "   "}

	results := d.RunActions(context.Background(), []models.Action{action}, nil, TemplateParams{}, false, time.Now())
	require.Len(t, results, 1)
	assert.Error(t, results[0].Error)
}

func TestRunActionDryrunDoesNotPublish(t *testing.T) {
	d := newTestDispatcher(t, nil)
	action := models.Action{ID: "a1", SubjectTemplate: "s", MessageTemplate: "hi {{.ctx.monitor}}"}

	results := d.RunActions(context.Background(), []models.Action{action}, nil, TemplateParams{Ctx: map[string]interface{}{"monitor": "m1"}}, true, time.Now())
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Error)
	assert.Equal(t, "hi m1", results[0].Output["message"])
}

func TestCustomWebhookPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"abc123"}`))
	}))
	defer server.Close()

	dest := NewCustomWebhook(map[string]string{"webhook_url": server.URL}, nil)
	id, err := dest.Publish(context.Background(), "subject", "message", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestCustomWebhookPublishRejectsDeniedHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should have been rejected before reaching the server")
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	dest := NewCustomWebhook(map[string]string{"webhook_url": server.URL}, nil)
	_, err = dest.Publish(context.Background(), "subject", "message", nil, []string{u.Hostname()})
	assert.Error(t, err)
}

func TestRunActionRejectsDeniedHostEvenWhenTypeAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should have been rejected before reaching the server")
	}))
	defer server.Close()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	destCfg := &DestinationConfig{ID: "d1", Type: "custom_webhook", Config: map[string]string{"webhook_url": server.URL}}
	resolve := func(id string) (*DestinationConfig, error) { return destCfg, nil }
	factory := func(cfg *DestinationConfig, logger *logrus.Logger) (Destination, error) {
		return NewCustomWebhook(cfg.Config, logger), nil
	}

	d := New(resolve, factory, cache.New(time.Minute, time.Minute), Options{
		AllowedDestinations: []string{"custom_webhook"},
		HostDenyList:        []string{u.Hostname()},
		ActionExecutors:     4,
		RateLimitPerSecond:  100,
		RateLimitBurst:      10,
		PublishRetry:        recovery.NewLiveRetryConfig("publish", recovery.NewConstantPolicy(1, time.Millisecond, nil)),
	}, nil)

	action := models.Action{ID: "a1", DestinationID: "d1", MessageTemplate: "hi"}
	results := d.RunActions(context.Background(), []models.Action{action}, nil, TemplateParams{}, false, time.Now())
	require.Len(t, results, 1)
	assert.Error(t, results[0].Error)
}

func TestParseThrottleUnit(t *testing.T) {
	d, err := ParseThrottleUnit("m")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseThrottleUnit("bogus")
	assert.Error(t, err)
}
