package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/models"
	"monitorrunner/internal/recovery"
)

func newRetryConfig(name string) *recovery.LiveRetryConfig {
	return recovery.NewLiveRetryConfig(name, recovery.NewConstantPolicy(3, time.Millisecond, nil))
}

// newSQLiteStore opens an in-memory SQLite database migrated with the
// same AlertRow/AlertHistoryRow schema the production Postgres tables
// use, for tests that exercise real read/write round trips rather than
// the retry plumbing around them.
func newSQLiteStore(t *testing.T) *AlertStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return New(db, newRetryConfig("test-save"), newRetryConfig("test-move"), true, nil)
}

func TestSaveActiveAlertThenCompleteRoundTripsIntoHistory(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	active := &models.Alert{
		ID:        "alert-1",
		MonitorID: "monitor-1",
		TriggerID: "trigger-1",
		StartTime: time.Now(),
		State:     models.AlertStateActive,
	}
	require.NoError(t, s.Save(ctx, []*models.Alert{active}))

	current, err := s.LoadCurrentAlerts(ctx, "monitor-1", []models.Trigger{{ID: "trigger-1"}})
	require.NoError(t, err)
	require.Contains(t, current, "trigger-1")
	assert.Equal(t, models.AlertStateActive, current["trigger-1"].State)

	completed := active.Clone()
	completed.State = models.AlertStateCompleted
	now := time.Now()
	completed.EndTime = &now
	require.NoError(t, s.Save(ctx, []*models.Alert{completed}))

	current, err = s.LoadCurrentAlerts(ctx, "monitor-1", []models.Trigger{{ID: "trigger-1"}})
	require.NoError(t, err)
	assert.NotContains(t, current, "trigger-1", "completed alert must be removed from the live table")

	var historyRows []AlertHistoryRow
	require.NoError(t, s.db.WithContext(ctx).Where("id = ?", "alert-1").Find(&historyRows).Error)
	require.Len(t, historyRows, 1, "completed alert must be written into the history table")
	assert.Equal(t, string(models.AlertStateCompleted), historyRows[0].State)
}

func TestSaveRejectsAcknowledgedState(t *testing.T) {
	s := newSQLiteStore(t)
	alert := &models.Alert{ID: "alert-2", MonitorID: "m", TriggerID: "t", State: models.AlertStateAcknowledged}

	err := s.Save(context.Background(), []*models.Alert{alert})
	assert.Error(t, err)
}

// newMockStore wires an AlertStore to a sqlmock-backed connection so a
// per-item failure can be injected deterministically without a real
// database rejecting or accepting a write on its own schedule.
func newMockStore(t *testing.T) (*AlertStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return New(gdb, newRetryConfig("mock-save"), newRetryConfig("mock-move"), true, nil), mock
}

// TestSaveRetriesOnlyTheBackpressuredItem exercises the per-item
// backpressure path: one alert in the batch fails with a
// connection-shaped error the same way a search engine's 429
// TOO_MANY_REQUESTS would, and only that alert is retried — the alert
// that already succeeded is not resent.
func TestSaveRetriesOnlyTheBackpressuredItem(t *testing.T) {
	s, mock := newMockStore(t)

	alertA := &models.Alert{ID: "a", MonitorID: "m", TriggerID: "t1", State: models.AlertStateCompleted, StartTime: time.Now()}
	alertB := &models.Alert{ID: "b", MonitorID: "m", TriggerID: "t2", State: models.AlertStateCompleted, StartTime: time.Now()}

	// Attempt 1: both alerts' live-row deletes succeed, but alertA's
	// history insert is rejected the way an overloaded cluster would
	// reject a write; alertB's insert goes through. The transaction
	// still commits — only alertA's failure is carried into retry.
	mock.ExpectBegin()
	mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 1)) // delete a
	mock.ExpectExec(".+").WillReturnError(fmt.Errorf("pq: too many connections"))
	mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 1)) // delete b
	mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(1, 1)) // insert b history
	mock.ExpectCommit()

	// Attempt 2: only alertA is retried.
	mock.ExpectBegin()
	mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 1)) // delete a
	mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(1, 1)) // insert a history
	mock.ExpectCommit()

	err := s.Save(context.Background(), []*models.Alert{alertA, alertB})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleGormErrorClassifiesConnectionPressureAsTransient(t *testing.T) {
	err := HandleGormError(fmt.Errorf("pq: too many connections for role \"monitorrunner\""))
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err), "a connection-pressure error must be classified transient so Save retries it")
}
