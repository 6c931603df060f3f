// Package compose decides the next alert state for a trigger from its
// evaluation result and the alert's prior state — a pure decision
// function, grounded on the teacher's service-layer style of keeping
// business rules free of I/O (internal/service) so the state machine
// can be tested without a database or network.
package compose

import (
	"context"
	"time"

	"monitorrunner/internal/models"
)

// Input bundles compose's arguments. Alert is the previous alert for
// this trigger, or nil if none is live.
type Input struct {
	Alert         *models.Alert
	Triggered     bool
	AlertError    error
	MonitorID     string
	TriggerID     string
	ActionResults []models.ActionRunResult
	Now           time.Time
}

// Compose returns the alert that should replace Input.Alert, and
// whether it should be written out at all (false means "drop": either
// no prior alert existed and nothing happened worth recording, or the
// prior alert is ACKNOWLEDGED and there is no error to report).
func Compose(ctx context.Context, in Input) (*models.Alert, bool) {
	_ = ctx // reserved for future cancellation-aware composition steps

	prior := in.Alert
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	if in.AlertError == nil && prior != nil && prior.State == models.AlertStateAcknowledged {
		return nil, false
	}

	switch {
	case in.AlertError == nil && !in.Triggered && prior == nil:
		return nil, false

	case in.AlertError == nil && !in.Triggered:
		next := prior.Clone()
		next.State = models.AlertStateCompleted
		next.EndTime = timePtr(now)
		next.ErrorMessage = nil
		applyMergedResults(next, prior, in, now)
		return next, true

	case in.AlertError == nil && prior == nil:
		next := newAlert(in, now)
		next.State = models.AlertStateActive
		next.LastNotificationTime = timePtr(now)
		applyMergedResults(next, nil, in, now)
		return next, true

	case in.AlertError == nil:
		next := prior.Clone()
		next.State = models.AlertStateActive
		next.LastNotificationTime = timePtr(now)
		next.ErrorMessage = nil
		applyMergedResults(next, prior, in, now)
		return next, true

	case prior == nil:
		next := newAlert(in, now)
		next.State = models.AlertStateError
		next.LastNotificationTime = timePtr(now)
		msg := in.AlertError.Error()
		next.ErrorMessage = &msg
		applyMergedResults(next, nil, in, now)
		next.ErrorHistory = mergeErrorHistory(nil, in.AlertError, now)
		return next, true

	default:
		next := prior.Clone()
		next.State = models.AlertStateError
		next.LastNotificationTime = timePtr(now)
		msg := in.AlertError.Error()
		next.ErrorMessage = &msg
		applyMergedResults(next, prior, in, now)
		next.ErrorHistory = mergeErrorHistory(prior.ErrorHistory, in.AlertError, now)
		return next, true
	}
}

func newAlert(in Input, now time.Time) *models.Alert {
	return &models.Alert{
		MonitorID:     in.MonitorID,
		TriggerID:     in.TriggerID,
		StartTime:     now,
		SchemaVersion: models.SchemaVersion,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// applyMergedResults sets the action-execution-results list (per
// spec's merge rules), stamps the schema version and carries the prior
// alert's error history over unchanged; only the error paths replace
// that history afterwards with a merged one.
func applyMergedResults(next *models.Alert, prior *models.Alert, in Input, now time.Time) {
	next.ActionExecutionResults = mergeActionResults(prior, in.ActionResults, now)
	next.SchemaVersion = models.SchemaVersion
	if prior != nil {
		next.ErrorHistory = prior.ErrorHistory
	}
}

// mergeActionResults implements spec's ordered merge rule: existing
// entries are kept/updated, new actions are appended.
func mergeActionResults(prior *models.Alert, thisRun []models.ActionRunResult, now time.Time) []models.ActionExecutionResult {
	byAction := make(map[string]models.ActionRunResult, len(thisRun))
	for _, r := range thisRun {
		byAction[r.ActionID] = r
	}

	var merged []models.ActionExecutionResult
	seen := make(map[string]bool)

	if prior != nil {
		for _, existing := range prior.ActionExecutionResults {
			seen[existing.ActionID] = true
			r, ran := byAction[existing.ActionID]
			if !ran {
				merged = append(merged, existing)
				continue
			}
			updated := existing
			if r.Throttled {
				updated.ThrottledCount++
			} else {
				updated.LastExecutionTime = r.ExecutionTime
			}
			merged = append(merged, updated)
		}
	}

	for _, r := range thisRun {
		if seen[r.ActionID] {
			continue
		}
		count := 0
		if r.Throttled {
			count = 1
		}
		merged = append(merged, models.ActionExecutionResult{
			ActionID:          r.ActionID,
			LastExecutionTime: r.ExecutionTime,
			ThrottledCount:    count,
		})
	}

	return merged
}

// mergeErrorHistory implements spec's newest-first, cap-10 rule.
func mergeErrorHistory(prior []models.AlertError, newErr error, now time.Time) []models.AlertError {
	if newErr == nil {
		return prior
	}
	entry := models.AlertError{Message: newErr.Error(), Time: now}
	merged := append([]models.AlertError{entry}, prior...)
	if len(merged) > models.MaxErrorHistory {
		merged = merged[:models.MaxErrorHistory]
	}
	return merged
}
