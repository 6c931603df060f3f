package store

import (
	"context"

	"github.com/lib/pq"
	"gorm.io/gorm"

	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/recovery"
)

// DatabaseUtils wraps a *gorm.DB with a retry policy for one-off reads
// that shouldn't fail on a blip but also shouldn't retry forever.
type DatabaseUtils struct {
	db          *gorm.DB
	retryConfig recovery.RetryConfig
}

func NewDatabaseUtils(db *gorm.DB, retryConfig recovery.RetryConfig) *DatabaseUtils {
	return &DatabaseUtils{db: db, retryConfig: retryConfig}
}

// ExecWithRetry runs a single statement against the DB under retry.
func (du *DatabaseUtils) ExecWithRetry(ctx context.Context, operation func(*gorm.DB) error) error {
	return recovery.Retry(ctx, du.retryConfig, func(ctx context.Context) error {
		return HandleGormError(operation(du.db.WithContext(ctx)))
	})
}

// TransactionWithRetry runs fn inside a transaction under retry.
func (du *DatabaseUtils) TransactionWithRetry(ctx context.Context, fn func(*gorm.DB) error) error {
	return recovery.Retry(ctx, du.retryConfig, func(ctx context.Context) error {
		return HandleGormError(du.db.WithContext(ctx).Transaction(fn))
	})
}

// HandleGormError converts gorm/pq errors into the app error taxonomy,
// marking connection-shaped failures transient so retry policies pick
// them up automatically.
func HandleGormError(err error) error {
	if err == nil {
		return nil
	}

	switch err {
	case gorm.ErrRecordNotFound:
		return apperrors.ErrAlertNotFound
	case gorm.ErrInvalidTransaction, gorm.ErrNotImplemented, gorm.ErrUnsupportedRelation,
		gorm.ErrUnsupportedDriver, gorm.ErrRegistered, gorm.ErrDryRunModeUnsupported:
		return apperrors.NewInternalError("database operation failed", err)
	case gorm.ErrMissingWhereClause, gorm.ErrPrimaryKeyRequired, gorm.ErrModelValueRequired,
		gorm.ErrInvalidData, gorm.ErrInvalidField, gorm.ErrEmptySlice:
		return apperrors.NewValidationError("invalid database operation", "query")
	default:
		if pqErr, ok := err.(*pq.Error); ok {
			return apperrors.Wrap(err, "DATABASE_SQL_ERROR", pqErr.Message, 500).Transiently()
		}
		if isConnectionIssue(err) {
			return apperrors.Wrap(err, "DATABASE_CONNECTION_ERROR", "database connection failed", 500).Transiently()
		}
		return apperrors.NewInternalError("database operation failed", err)
	}
}

func isConnectionIssue(err error) bool {
	s := err.Error()
	patterns := []string{"connection refused", "timeout", "too many connections", "EOF", "broken pipe"}
	for _, p := range patterns {
		if containsFold(s, p) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	ls, lsub := toLower(s), toLower(substr)
	for i := 0; i+len(lsub) <= len(ls); i++ {
		if ls[i:i+len(lsub)] == lsub {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
