package runner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"monitorrunner/internal/compose"
	"monitorrunner/internal/dispatch"
	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/models"
	"monitorrunner/internal/scripteval"
)

// Store is the subset of internal/store.AlertStore the runner needs,
// narrowed to an interface so the orchestration logic below is
// testable against a fake.
type Store interface {
	LoadCurrentAlerts(ctx context.Context, monitorID string, triggers []models.Trigger) (map[string]*models.Alert, error)
	Save(ctx context.Context, alerts []*models.Alert) error
	MoveAlerts(ctx context.Context, monitorID string, newMonitor *models.Monitor) error
}

// Collector is the subset of internal/collector.Collector the runner needs.
type Collector interface {
	Collect(ctx context.Context, monitor *models.Monitor, periodStart, periodEnd time.Time, legacyAdminRoles []string) []models.InputRunResult
}

// Evaluator is the subset of internal/scripteval.Evaluator the runner needs.
type Evaluator interface {
	Evaluate(ctx context.Context, trigger models.Trigger, execCtx scripteval.ExecutionContext) models.TriggerRunResult
}

// Dispatcher is the subset of internal/dispatch.Dispatcher the runner needs.
type Dispatcher interface {
	RunActions(ctx context.Context, actions []models.Action, prior *models.Alert, params dispatch.TemplateParams, dryrun bool, now time.Time) []models.ActionRunResult
}

// NowFunc is overridable in tests so composed timestamps are deterministic.
type NowFunc func() time.Time

// LegacyAdminRoles resolves the role set used for monitors with no owner.
type LegacyAdminRoles func() []string

// MonitorRunner executes runMonitor per spec.md §4.7.
type MonitorRunner struct {
	store            Store
	collector        Collector
	evaluator        Evaluator
	dispatcher       Dispatcher
	now              NowFunc
	legacyAdminRoles LegacyAdminRoles
	logger           *logrus.Logger
}

func NewMonitorRunner(store Store, col Collector, eval Evaluator, dispatcher Dispatcher, now NowFunc, legacyAdminRoles LegacyAdminRoles, logger *logrus.Logger) *MonitorRunner {
	if now == nil {
		now = time.Now
	}
	if legacyAdminRoles == nil {
		legacyAdminRoles = func() []string { return nil }
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &MonitorRunner{
		store:            store,
		collector:        col,
		evaluator:        eval,
		dispatcher:       dispatcher,
		now:              now,
		legacyAdminRoles: legacyAdminRoles,
		logger:           logger,
	}
}

// RunMonitor implements spec.md §4.7 steps 1-7.
func (r *MonitorRunner) RunMonitor(ctx context.Context, monitor *models.Monitor, periodStart, periodEnd time.Time, dryrun bool) models.MonitorRunResult {
	result := models.MonitorRunResult{
		MonitorName:    monitor.Name,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		TriggerResults: make(map[string]models.TriggerRunResult),
	}

	if periodStart.Equal(periodEnd) {
		r.logger.WithField("monitor", monitor.Name).Warn("periodStart equals periodEnd, likely a one-shot execution")
	}

	currentAlerts, err := r.store.LoadCurrentAlerts(ctx, monitor.ID, monitor.Triggers)
	if err != nil {
		result.Error = apperrors.NewMonitorIndexError(err)
		return result
	}

	inputResults := r.collector.Collect(ctx, monitor, periodStart, periodEnd, r.legacyAdminRoles())
	result.InputResults = inputResults

	now := r.now()
	var updatedAlerts []*models.Alert

	for _, trigger := range monitor.Triggers {
		triggerResult := r.evaluateTrigger(ctx, monitor.Name, trigger, inputResults, periodStart, periodEnd)

		prior := currentAlerts[trigger.ID]
		var monitorErr error
		for _, ir := range inputResults {
			if ir.Error != nil {
				monitorErr = ir.Error
				break
			}
		}

		actionable := dispatch.IsTriggerActionable(triggerResult, prior, monitorErr)
		if actionable && r.dispatcher != nil {
			params := dispatch.TemplateParams{Ctx: map[string]interface{}{
				"monitor": monitor.Name,
				"trigger": trigger.Name,
			}}
			actionResults := r.dispatcher.RunActions(ctx, trigger.Actions, prior, params, dryrun, now)
			triggerResult.ActionResults = actionResultsByID(actionResults)

			alertError := firstError(monitorErr, triggerResult.Error)
			next, ok := compose.Compose(ctx, compose.Input{
				Alert:         prior,
				Triggered:     triggerResult.Triggered,
				AlertError:    alertError,
				MonitorID:     monitor.ID,
				TriggerID:     trigger.ID,
				ActionResults: actionResults,
				Now:           now,
			})
			if ok {
				updatedAlerts = append(updatedAlerts, next)
			}
		} else {
			alertError := firstError(monitorErr, triggerResult.Error)
			next, ok := compose.Compose(ctx, compose.Input{
				Alert:      prior,
				Triggered:  triggerResult.Triggered,
				AlertError: alertError,
				MonitorID:  monitor.ID,
				TriggerID:  trigger.ID,
				Now:        now,
			})
			if ok {
				updatedAlerts = append(updatedAlerts, next)
			}
		}

		result.TriggerResults[trigger.ID] = triggerResult
	}

	if !dryrun && monitor.ID != models.NoID && len(updatedAlerts) > 0 {
		if err := r.store.Save(ctx, updatedAlerts); err != nil {
			result.Error = err
		}
	}

	return result
}

func (r *MonitorRunner) evaluateTrigger(ctx context.Context, monitorName string, trigger models.Trigger, inputResults []models.InputRunResult, periodStart, periodEnd time.Time) models.TriggerRunResult {
	execCtx := scripteval.ExecutionContext{
		Inputs:      inputResults,
		MonitorName: monitorName,
		TriggerName: trigger.Name,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	return r.evaluator.Evaluate(ctx, trigger, execCtx)
}

func actionResultsByID(results []models.ActionRunResult) map[string]models.ActionRunResult {
	m := make(map[string]models.ActionRunResult, len(results))
	for _, r := range results {
		m[r.ActionID] = r
	}
	return m
}

func firstError(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// RunJob is the entry point the upstream scheduler invokes per
// spec.md §6; only Monitor jobs are accepted.
func (r *MonitorRunner) RunJob(ctx context.Context, monitor *models.Monitor, periodStart, periodEnd time.Time) (models.MonitorRunResult, error) {
	if monitor == nil {
		return models.MonitorRunResult{}, apperrors.NewFatalInvalidJob("job is not a monitor")
	}
	return r.RunMonitor(ctx, monitor, periodStart, periodEnd, false), nil
}

// PostIndex moves a monitor's alerts to its new definition (or leaves
// them if newMonitor == monitor) under exponential backoff. Errors are
// logged, never propagated, per spec.md §6.
func (r *MonitorRunner) PostIndex(ctx context.Context, monitorID string, newMonitor *models.Monitor) {
	if err := r.store.MoveAlerts(ctx, monitorID, newMonitor); err != nil {
		r.logger.WithError(err).WithField("monitor_id", monitorID).Error("post-index alert move failed")
	}
}

// PostDelete removes a monitor's live alerts once the monitor itself
// is deleted.
func (r *MonitorRunner) PostDelete(ctx context.Context, monitorID string) {
	if err := r.store.MoveAlerts(ctx, monitorID, nil); err != nil {
		r.logger.WithError(err).WithField("monitor_id", monitorID).Error("post-delete alert move failed")
	}
}
