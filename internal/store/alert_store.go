package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/models"
	"monitorrunner/internal/recovery"
)

// AlertRow is the gorm mapping for the live "alerts" table — the
// relational stand-in for ALERT_INDEX.
type AlertRow struct {
	ID                     string    `gorm:"primaryKey;size:64"`
	MonitorID              string    `gorm:"size:64;not null;index"`
	TriggerID              string    `gorm:"size:64;not null"`
	StartTime              time.Time `gorm:"not null"`
	LastNotificationTime   *time.Time
	EndTime                *time.Time
	State                  string `gorm:"size:20;not null;index"`
	ErrorMessage           *string
	ErrorHistory           models.JSONB `gorm:"type:jsonb"`
	ActionExecutionResults models.JSONB `gorm:"type:jsonb"`
	SchemaVersion          int          `gorm:"not null"`
}

func (AlertRow) TableName() string { return "alerts" }

// AlertHistoryRow is the gorm mapping for "alert_history_index" — the
// relational stand-in for HISTORY_WRITE_INDEX. Write-only from the
// runner's perspective, same shape as AlertRow.
type AlertHistoryRow struct {
	ID                     string    `gorm:"primaryKey;size:64"`
	MonitorID              string    `gorm:"size:64;not null;index"`
	TriggerID              string    `gorm:"size:64;not null"`
	StartTime              time.Time `gorm:"not null"`
	LastNotificationTime   *time.Time
	EndTime                *time.Time
	State                  string `gorm:"size:20;not null"`
	ErrorMessage           *string
	ErrorHistory           models.JSONB `gorm:"type:jsonb"`
	ActionExecutionResults models.JSONB `gorm:"type:jsonb"`
	SchemaVersion          int          `gorm:"not null"`
}

func (AlertHistoryRow) TableName() string { return "alert_history_index" }

// AlertStore is the read/write gateway to the two logical alert
// indices, grounded on the teacher's alertRepository + DatabaseUtils.
type AlertStore struct {
	db             *gorm.DB
	saveRetry      *recovery.LiveRetryConfig
	moveRetry      *recovery.LiveRetryConfig
	historyEnabled bool
	logger         *logrus.Logger
}

// New builds an AlertStore. saveRetry should be a constant policy
// (spec.md §4.2 bulk-save semantics), moveRetry an exponential one.
func New(db *gorm.DB, saveRetry, moveRetry *recovery.LiveRetryConfig, historyEnabled bool, logger *logrus.Logger) *AlertStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &AlertStore{db: db, saveRetry: saveRetry, moveRetry: moveRetry, historyEnabled: historyEnabled, logger: logger}
}

// LoadCurrentAlerts reads the live, non-terminal alerts for a monitor,
// keyed by trigger id. Routing by monitorId has no separate mechanism
// in a relational store, so the WHERE predicate on monitor_id is the
// routing equivalent spec.md §4.2 describes.
func (s *AlertStore) LoadCurrentAlerts(ctx context.Context, monitorID string, triggers []models.Trigger) (map[string]*models.Alert, error) {
	limit := 2 * len(triggers)
	if limit <= 0 {
		limit = 2
	}

	var rows []AlertRow
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND state IN ?", monitorID, []string{string(models.AlertStateActive), string(models.AlertStateAcknowledged), string(models.AlertStateError)}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewMonitorIndexError(HandleGormError(err))
	}

	byTrigger := make(map[string]*models.Alert, len(rows))
	seen := make(map[string]int)
	for _, row := range rows {
		seen[row.TriggerID]++
		if seen[row.TriggerID] > 1 {
			s.logger.WithFields(logrus.Fields{
				"monitor_id": monitorID,
				"trigger_id": row.TriggerID,
			}).Warn("more than one live alert found for trigger, keeping the first")
			continue
		}
		byTrigger[row.TriggerID] = rowToAlert(row)
	}
	return byTrigger, nil
}

// Save writes a batch of alerts per their state, per spec.md §4.2:
// ACTIVE/ERROR upsert into the live table; COMPLETED deletes from the
// live table and, if history is enabled, inserts into the history
// table; ACKNOWLEDGED/DELETED are a programmer error. The whole batch
// runs inside one transaction under the constant retry policy; only
// rows whose failure classifies transient are retried.
func (s *AlertStore) Save(ctx context.Context, alerts []*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	for _, a := range alerts {
		if a.State == models.AlertStateAcknowledged || a.State == models.AlertStateDeleted {
			return apperrors.NewFatalInvalidAlertState(a.State)
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
	}

	pending := alerts
	retryCfg := s.saveRetry.Get()
	return recovery.Retry(ctx, retryCfg, func(ctx context.Context) error {
		failed, err := s.saveBatch(ctx, pending)
		pending = failed
		return err
	})
}

func (s *AlertStore) saveBatch(ctx context.Context, alerts []*models.Alert) ([]*models.Alert, error) {
	var firstTransientErr error
	var failed []*models.Alert

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range alerts {
			var err error
			switch a.State {
			case models.AlertStateActive, models.AlertStateError:
				err = upsertAlertRow(tx, a)
			case models.AlertStateCompleted:
				err = tx.Where("id = ?", a.ID).Delete(&AlertRow{}).Error
				if err == nil && s.historyEnabled {
					err = tx.Create(alertToHistoryRow(a)).Error
				}
			}
			if err != nil {
				classified := HandleGormError(err)
				if apperrors.IsTransient(classified) {
					if firstTransientErr == nil {
						firstTransientErr = classified
					}
					failed = append(failed, a)
					continue
				}
				return classified
			}
		}
		return nil
	})

	if txErr != nil {
		return alerts, txErr
	}
	if len(failed) > 0 {
		return failed, firstTransientErr
	}
	return nil, nil
}

func upsertAlertRow(tx *gorm.DB, a *models.Alert) error {
	row := alertToRow(a)
	return tx.Save(&row).Error
}

// MoveAlerts re-points alerts owned by a stale monitor definition,
// deleting them outright if newMonitor is nil. Runs under the
// exponential policy per spec.md §4.2.
func (s *AlertStore) MoveAlerts(ctx context.Context, monitorID string, newMonitor *models.Monitor) error {
	retryCfg := s.moveRetry.Get()
	return recovery.Retry(ctx, retryCfg, func(ctx context.Context) error {
		if newMonitor == nil {
			err := s.db.WithContext(ctx).Where("monitor_id = ?", monitorID).Delete(&AlertRow{}).Error
			return HandleGormError(err)
		}
		err := s.db.WithContext(ctx).Model(&AlertRow{}).
			Where("monitor_id = ?", monitorID).
			Update("monitor_id", newMonitor.ID).Error
		return HandleGormError(err)
	})
}

func rowToAlert(row AlertRow) *models.Alert {
	a := &models.Alert{
		ID:                   row.ID,
		MonitorID:            row.MonitorID,
		TriggerID:            row.TriggerID,
		StartTime:            row.StartTime,
		LastNotificationTime: row.LastNotificationTime,
		EndTime:              row.EndTime,
		State:                models.AlertState(row.State),
		ErrorMessage:         row.ErrorMessage,
		SchemaVersion:        row.SchemaVersion,
	}
	a.ErrorHistory = jsonbToErrorHistory(row.ErrorHistory)
	a.ActionExecutionResults = jsonbToActionResults(row.ActionExecutionResults)
	return a
}

func alertToRow(a *models.Alert) AlertRow {
	return AlertRow{
		ID:                     a.ID,
		MonitorID:              a.MonitorID,
		TriggerID:              a.TriggerID,
		StartTime:              a.StartTime,
		LastNotificationTime:   a.LastNotificationTime,
		EndTime:                a.EndTime,
		State:                  string(a.State),
		ErrorMessage:           a.ErrorMessage,
		ErrorHistory:           errorHistoryToJSONB(a.ErrorHistory),
		ActionExecutionResults: actionResultsToJSONB(a.ActionExecutionResults),
		SchemaVersion:          a.SchemaVersion,
	}
}

func alertToHistoryRow(a *models.Alert) *AlertHistoryRow {
	return &AlertHistoryRow{
		ID:                     a.ID,
		MonitorID:              a.MonitorID,
		TriggerID:              a.TriggerID,
		StartTime:              a.StartTime,
		LastNotificationTime:   a.LastNotificationTime,
		EndTime:                a.EndTime,
		State:                  string(a.State),
		ErrorMessage:           a.ErrorMessage,
		ErrorHistory:           errorHistoryToJSONB(a.ErrorHistory),
		ActionExecutionResults: actionResultsToJSONB(a.ActionExecutionResults),
		SchemaVersion:          a.SchemaVersion,
	}
}

func errorHistoryToJSONB(h []models.AlertError) models.JSONB {
	entries := make([]interface{}, 0, len(h))
	for _, e := range h {
		entries = append(entries, map[string]interface{}{"message": e.Message, "time": e.Time})
	}
	return models.JSONB{"entries": entries}
}

func jsonbToErrorHistory(j models.JSONB) []models.AlertError {
	if j == nil {
		return nil
	}
	raw, ok := j["entries"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.AlertError, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		msg, _ := m["message"].(string)
		var t time.Time
		switch v := m["time"].(type) {
		case time.Time:
			t = v
		case string:
			parsed, err := time.Parse(time.RFC3339, v)
			if err == nil {
				t = parsed
			}
		}
		out = append(out, models.AlertError{Message: msg, Time: t})
	}
	return out
}

func actionResultsToJSONB(results []models.ActionExecutionResult) models.JSONB {
	entries := make([]interface{}, 0, len(results))
	for _, r := range results {
		entries = append(entries, map[string]interface{}{
			"action_id":           r.ActionID,
			"last_execution_time": r.LastExecutionTime,
			"throttled_count":     r.ThrottledCount,
		})
	}
	return models.JSONB{"entries": entries}
}

func jsonbToActionResults(j models.JSONB) []models.ActionExecutionResult {
	if j == nil {
		return nil
	}
	raw, ok := j["entries"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.ActionExecutionResult, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := m["action_id"].(string)
		var t time.Time
		switch v := m["last_execution_time"].(type) {
		case time.Time:
			t = v
		case string:
			parsed, err := time.Parse(time.RFC3339, v)
			if err == nil {
				t = parsed
			}
		}
		count := 0
		switch v := m["throttled_count"].(type) {
		case int:
			count = v
		case float64:
			count = int(v)
		}
		out = append(out, models.ActionExecutionResult{ActionID: id, LastExecutionTime: t, ThrottledCount: count})
	}
	return out
}
