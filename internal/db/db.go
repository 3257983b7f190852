package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"green-reward/internal/config"
	"green-reward/internal/models"

	_ "github.com/lib/pq"
)

var (
	ErrLedgerNotFound  = errors.New("ledger not found")
	ErrVersionConflict = errors.New("ledger version conflict")
)

// LedgerDB persists one ledger per resident. Writes are guarded by the
// ledger version: a write against a stale version fails with
// ErrVersionConflict and leaves the stored ledger untouched.
type LedgerDB interface {
	Load(ctx context.Context, username string) (models.Ledger, error)
	// Create stores a fresh ledger at version 1. ErrVersionConflict if one exists.
	Create(ctx context.Context, ledger models.Ledger) error
	// Append sets the balance and prepends tx, returning the new version.
	Append(ctx context.Context, username string, expectedVersion int64, points int, tx models.Transaction) (int64, error)
}

func Connect(cfg *config.Config) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s:%s/%s: %w", cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseName, err)
	}
	return db, nil
}
