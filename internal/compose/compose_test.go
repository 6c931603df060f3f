package compose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorrunner/internal/models"
)

var now = time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

func TestComposeFirstFiring(t *testing.T) {
	alert, ok := Compose(context.Background(), Input{
		Alert:     nil,
		Triggered: true,
		MonitorID: "m1",
		TriggerID: "t1",
		ActionResults: []models.ActionRunResult{
			{ActionID: "a1", ExecutionTime: now, Throttled: false},
		},
		Now: now,
	})
	require.True(t, ok)
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertStateActive, alert.State)
	assert.Equal(t, now, alert.StartTime)
	assert.Equal(t, now, *alert.LastNotificationTime)
	require.Len(t, alert.ActionExecutionResults, 1)
	assert.Equal(t, 0, alert.ActionExecutionResults[0].ThrottledCount)
}

func TestComposeNotTriggeredNoPriorDrops(t *testing.T) {
	alert, ok := Compose(context.Background(), Input{Alert: nil, Triggered: false, Now: now})
	assert.False(t, ok)
	assert.Nil(t, alert)
}

func TestComposeNotTriggeredCompletesPrior(t *testing.T) {
	prior := &models.Alert{ID: "al1", State: models.AlertStateActive, StartTime: now.Add(-time.Hour)}
	alert, ok := Compose(context.Background(), Input{Alert: prior, Triggered: false, Now: now})
	require.True(t, ok)
	assert.Equal(t, models.AlertStateCompleted, alert.State)
	assert.Equal(t, now, *alert.EndTime)
	assert.Nil(t, alert.ErrorMessage)
}

func TestComposeAcknowledgedSuppressedWithoutError(t *testing.T) {
	prior := &models.Alert{ID: "al2", State: models.AlertStateAcknowledged}
	alert, ok := Compose(context.Background(), Input{Alert: prior, Triggered: true, Now: now})
	assert.False(t, ok)
	assert.Nil(t, alert)

	alert, ok = Compose(context.Background(), Input{Alert: prior, Triggered: false, Now: now})
	assert.False(t, ok)
	assert.Nil(t, alert)
}

func TestComposeErrorOverridesAcknowledgedSuppression(t *testing.T) {
	prior := &models.Alert{ID: "al3", State: models.AlertStateAcknowledged}
	alert, ok := Compose(context.Background(), Input{
		Alert:      prior,
		Triggered:  true,
		AlertError: errors.New("script failure"),
		Now:        now,
	})
	require.True(t, ok)
	assert.Equal(t, models.AlertStateError, alert.State)
	assert.Equal(t, "script failure", *alert.ErrorMessage)
}

func TestComposeRecoveryResetsErrorMessage(t *testing.T) {
	msg := "previous failure"
	prior := &models.Alert{ID: "al4", State: models.AlertStateError, ErrorMessage: &msg}
	alert, ok := Compose(context.Background(), Input{Alert: prior, Triggered: true, Now: now})
	require.True(t, ok)
	assert.Equal(t, models.AlertStateActive, alert.State)
	assert.Nil(t, alert.ErrorMessage)
}

func TestComposeErrorHistoryCapsAtTen(t *testing.T) {
	var history []models.AlertError
	for i := 0; i < 10; i++ {
		history = append(history, models.AlertError{Message: "old", Time: now.Add(-time.Duration(i) * time.Minute)})
	}
	prior := &models.Alert{ID: "al5", State: models.AlertStateError, ErrorHistory: history}

	alert, ok := Compose(context.Background(), Input{
		Alert:      prior,
		Triggered:  true,
		AlertError: errors.New("new failure"),
		Now:        now,
	})
	require.True(t, ok)
	require.Len(t, alert.ErrorHistory, 10)
	assert.Equal(t, "new failure", alert.ErrorHistory[0].Message)
}

func TestComposeActionResultMergeKeepsUnseenIncrementsThrottledAppendsNew(t *testing.T) {
	prior := &models.Alert{
		ID:    "al6",
		State: models.AlertStateActive,
		ActionExecutionResults: []models.ActionExecutionResult{
			{ActionID: "kept", LastExecutionTime: now.Add(-time.Hour), ThrottledCount: 0},
			{ActionID: "throttled", LastExecutionTime: now.Add(-time.Hour), ThrottledCount: 2},
		},
	}

	alert, ok := Compose(context.Background(), Input{
		Alert:     prior,
		Triggered: true,
		Now:       now,
		ActionResults: []models.ActionRunResult{
			{ActionID: "throttled", ExecutionTime: now, Throttled: true},
			{ActionID: "new-action", ExecutionTime: now, Throttled: false},
		},
	})
	require.True(t, ok)

	byID := make(map[string]models.ActionExecutionResult)
	for _, r := range alert.ActionExecutionResults {
		byID[r.ActionID] = r
	}
	require.Contains(t, byID, "kept")
	assert.Equal(t, now.Add(-time.Hour), byID["kept"].LastExecutionTime)

	require.Contains(t, byID, "throttled")
	assert.Equal(t, 3, byID["throttled"].ThrottledCount)

	require.Contains(t, byID, "new-action")
	assert.Equal(t, 0, byID["new-action"].ThrottledCount)
}

func TestComposeNewErrorNoPriorAlert(t *testing.T) {
	alert, ok := Compose(context.Background(), Input{
		Alert:      nil,
		Triggered:  false,
		AlertError: errors.New("input search failed"),
		MonitorID:  "m2",
		TriggerID:  "t2",
		Now:        now,
	})
	require.True(t, ok)
	assert.Equal(t, models.AlertStateError, alert.State)
	require.Len(t, alert.ErrorHistory, 1)
}
