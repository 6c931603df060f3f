// Package store persists alerts across process restarts. It models
// the two logical indices a real search-engine-backed alerting system
// would use (the live alert index and an append-only history write
// index) as two Postgres tables reached through gorm, since no
// Elasticsearch/OpenSearch client exists anywhere in this module's
// dependency stack.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"monitorrunner/internal/config"
	apperrors "monitorrunner/internal/errors"
	"monitorrunner/internal/recovery"
)

// NewDatabase opens a gorm/postgres connection, retrying the initial
// connect-and-ping under an exponential backoff policy.
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	retryConfig := recovery.NewExponentialPolicy(3, time.Second, 10*time.Second, nil)

	var db *gorm.DB
	var connectionErr error

	err := recovery.Retry(context.Background(), retryConfig, func(ctx context.Context) error {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
			cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode, cfg.TimeZone)

		gormConfig := &gorm.Config{
			Logger:                                   logger.Default.LogMode(logger.Silent),
			PrepareStmt:                              true,
			DisableForeignKeyConstraintWhenMigrating: true,
		}

		var dbErr error
		db, dbErr = gorm.Open(postgres.Open(dsn), gormConfig)
		if dbErr != nil {
			connectionErr = dbErr
			return apperrors.Wrap(dbErr, "DATABASE_CONNECTION_FAILED", "failed to connect to database", 500).Transiently()
		}

		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			connectionErr = dbErr
			return apperrors.Wrap(dbErr, "DATABASE_INIT_FAILED", "failed to get underlying sql.DB", 500).Transiently()
		}

		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if pingErr := sqlDB.PingContext(pingCtx); pingErr != nil {
			connectionErr = pingErr
			return apperrors.Wrap(pingErr, "DATABASE_PING_FAILED", "failed to ping database", 500).Transiently()
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to establish database connection after retries: %w", connectionErr)
	}

	return db, nil
}

// AutoMigrate creates the alerts and alert_history_index tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AlertRow{}, &AlertHistoryRow{})
}
