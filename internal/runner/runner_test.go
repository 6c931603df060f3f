package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorrunner/internal/dispatch"
	"monitorrunner/internal/models"
	"monitorrunner/internal/scripteval"
)

type fakeStore struct {
	alerts  map[string]*models.Alert // keyed by triggerID
	saved   []*models.Alert
	loadErr error
	saveErr error
}

func (f *fakeStore) LoadCurrentAlerts(ctx context.Context, monitorID string, triggers []models.Trigger) (map[string]*models.Alert, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.alerts == nil {
		return map[string]*models.Alert{}, nil
	}
	return f.alerts, nil
}

func (f *fakeStore) Save(ctx context.Context, alerts []*models.Alert) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, alerts...)
	return nil
}

func (f *fakeStore) MoveAlerts(ctx context.Context, monitorID string, newMonitor *models.Monitor) error {
	return nil
}

type fakeCollector struct {
	results []models.InputRunResult
}

func (f *fakeCollector) Collect(ctx context.Context, monitor *models.Monitor, periodStart, periodEnd time.Time, legacyAdminRoles []string) []models.InputRunResult {
	return f.results
}

type fakeEvaluator struct {
	triggered bool
	err       error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, trigger models.Trigger, execCtx scripteval.ExecutionContext) models.TriggerRunResult {
	return models.TriggerRunResult{TriggerName: trigger.Name, Triggered: f.triggered, Error: f.err}
}

type fakeDispatcher struct {
	publishCount int
	throttle     bool
}

func (f *fakeDispatcher) RunActions(ctx context.Context, actions []models.Action, prior *models.Alert, params dispatch.TemplateParams, dryrun bool, now time.Time) []models.ActionRunResult {
	results := make([]models.ActionRunResult, 0, len(actions))
	for _, a := range actions {
		if f.throttle {
			results = append(results, models.ActionRunResult{ActionID: a.ID, Throttled: true})
			continue
		}
		f.publishCount++
		results = append(results, models.ActionRunResult{ActionID: a.ID, ExecutionTime: now})
	}
	return results
}

func testMonitor() *models.Monitor {
	return &models.Monitor{
		ID:   "mon1",
		Name: "cpu-high",
		Triggers: []models.Trigger{
			{ID: "t1", Name: "cpu-trigger", Actions: []models.Action{{ID: "a1", Name: "page"}}},
		},
	}
}

// Scenario 1: first firing.
func TestRunMonitorFirstFiring(t *testing.T) {
	store := &fakeStore{}
	disp := &fakeDispatcher{}
	r := NewMonitorRunner(store, &fakeCollector{results: []models.InputRunResult{{Results: []map[string]interface{}{{"count": 1}}}}},
		&fakeEvaluator{triggered: true}, disp, nil, nil, nil)

	result := r.RunMonitor(context.Background(), testMonitor(), time.Now(), time.Now(), false)
	require.NoError(t, result.Error)
	require.Len(t, store.saved, 1)
	assert.Equal(t, models.AlertStateActive, store.saved[0].State)
	assert.Equal(t, 1, disp.publishCount)
	require.Len(t, store.saved[0].ActionExecutionResults, 1)
	assert.Equal(t, 0, store.saved[0].ActionExecutionResults[0].ThrottledCount)
}

// Scenario 2: throttled resend.
func TestRunMonitorThrottledResend(t *testing.T) {
	prior := &models.Alert{ID: "al1", State: models.AlertStateActive, TriggerID: "t1"}
	store := &fakeStore{alerts: map[string]*models.Alert{"t1": prior}}
	disp := &fakeDispatcher{throttle: true}
	r := NewMonitorRunner(store, &fakeCollector{}, &fakeEvaluator{triggered: true}, disp, nil, nil, nil)

	result := r.RunMonitor(context.Background(), testMonitor(), time.Now(), time.Now(), false)
	require.NoError(t, result.Error)
	require.Len(t, store.saved, 1)
	assert.Equal(t, models.AlertStateActive, store.saved[0].State)
	assert.Equal(t, 0, disp.publishCount)
	require.Len(t, store.saved[0].ActionExecutionResults, 1)
	assert.Equal(t, 1, store.saved[0].ActionExecutionResults[0].ThrottledCount)
}

// Scenario 3: recovery to COMPLETED.
func TestRunMonitorRecoveryCompletesAlert(t *testing.T) {
	prior := &models.Alert{ID: "al1", State: models.AlertStateActive, TriggerID: "t1"}
	store := &fakeStore{alerts: map[string]*models.Alert{"t1": prior}}
	r := NewMonitorRunner(store, &fakeCollector{}, &fakeEvaluator{triggered: false}, &fakeDispatcher{}, nil, nil, nil)

	result := r.RunMonitor(context.Background(), testMonitor(), time.Now(), time.Now(), false)
	require.NoError(t, result.Error)
	require.Len(t, store.saved, 1)
	assert.Equal(t, models.AlertStateCompleted, store.saved[0].State)
	assert.NotNil(t, store.saved[0].EndTime)
}

// Scenario 4: script failure forces an ERROR alert.
func TestRunMonitorScriptFailureForcesErrorAlert(t *testing.T) {
	store := &fakeStore{}
	r := NewMonitorRunner(store, &fakeCollector{}, &fakeEvaluator{triggered: true, err: errors.New("script blew up")}, &fakeDispatcher{}, nil, nil, nil)

	result := r.RunMonitor(context.Background(), testMonitor(), time.Now(), time.Now(), false)
	require.NoError(t, result.Error)
	require.Len(t, store.saved, 1)
	assert.Equal(t, models.AlertStateError, store.saved[0].State)
	require.NotNil(t, store.saved[0].ErrorMessage)
	require.Len(t, store.saved[0].ErrorHistory, 1)

	triggerResult := result.TriggerResults["t1"]
	assert.True(t, triggerResult.Triggered)
	assert.Error(t, triggerResult.Error)
}

// Scenario 6: acknowledged suppression.
func TestRunMonitorAcknowledgedSuppression(t *testing.T) {
	prior := &models.Alert{ID: "al1", State: models.AlertStateAcknowledged, TriggerID: "t1"}
	store := &fakeStore{alerts: map[string]*models.Alert{"t1": prior}}
	disp := &fakeDispatcher{}
	r := NewMonitorRunner(store, &fakeCollector{}, &fakeEvaluator{triggered: true}, disp, nil, nil, nil)

	result := r.RunMonitor(context.Background(), testMonitor(), time.Now(), time.Now(), false)
	require.NoError(t, result.Error)
	assert.Len(t, store.saved, 0)
	assert.Equal(t, 0, disp.publishCount)
}

func TestRunMonitorLoadFailureReturnsMonitorError(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("index unavailable")}
	r := NewMonitorRunner(store, &fakeCollector{}, &fakeEvaluator{triggered: true}, &fakeDispatcher{}, nil, nil, nil)

	result := r.RunMonitor(context.Background(), testMonitor(), time.Now(), time.Now(), false)
	require.Error(t, result.Error)
	assert.Len(t, store.saved, 0)
}

func TestRunMonitorDryrunNeverSaves(t *testing.T) {
	store := &fakeStore{}
	disp := &fakeDispatcher{}
	r := NewMonitorRunner(store, &fakeCollector{}, &fakeEvaluator{triggered: true}, disp, nil, nil, nil)

	result := r.RunMonitor(context.Background(), testMonitor(), time.Now(), time.Now(), true)
	require.NoError(t, result.Error)
	assert.Len(t, store.saved, 0)
}

func TestRunMonitorNoIDNeverSaves(t *testing.T) {
	store := &fakeStore{}
	disp := &fakeDispatcher{}
	r := NewMonitorRunner(store, &fakeCollector{}, &fakeEvaluator{triggered: true}, disp, nil, nil, nil)

	monitor := testMonitor()
	monitor.ID = models.NoID
	result := r.RunMonitor(context.Background(), monitor, time.Now(), time.Now(), false)
	require.NoError(t, result.Error)
	assert.Len(t, store.saved, 0)
}

func TestRunJobRejectsNilMonitor(t *testing.T) {
	r := NewMonitorRunner(&fakeStore{}, &fakeCollector{}, &fakeEvaluator{}, &fakeDispatcher{}, nil, nil, nil)
	_, err := r.RunJob(context.Background(), nil, time.Now(), time.Now())
	assert.Error(t, err)
}
