package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"green-reward/internal/models"
)

type ledgerDBImplementation struct {
	db *sql.DB
}

func NewLedgerDB(dbConn *sql.DB) LedgerDB {
	return &ledgerDBImplementation{
		db: dbConn,
	}
}

// Load reads the balance and the history in one repeatable-read snapshot so
// that points always equal the sum the history implies.
func (l *ledgerDBImplementation) Load(ctx context.Context, username string) (models.Ledger, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return models.Ledger{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ledger := models.Ledger{Username: username}
	err = tx.QueryRowContext(ctx, "SELECT points, version FROM ledgers WHERE username=$1", username).
		Scan(&ledger.Points, &ledger.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ledger{}, ErrLedgerNotFound
	}
	if err != nil {
		return models.Ledger{}, fmt.Errorf("failed to get ledger for %q: %w", username, err)
	}

	rows, err := tx.QueryContext(ctx, `
        SELECT id, description, amount, created_at
        FROM ledger_transactions
        WHERE username=$1
        ORDER BY seq DESC
    `, username)
	if err != nil {
		return models.Ledger{}, fmt.Errorf("failed to query transactions for %q: %w", username, err)
	}
	defer rows.Close()

	ledger.History = []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.Description, &t.Amount, &t.Timestamp); err != nil {
			return models.Ledger{}, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		ledger.History = append(ledger.History, t)
	}
	if err := rows.Err(); err != nil {
		return models.Ledger{}, fmt.Errorf("failed to read transactions for %q: %w", username, err)
	}
	_ = rows.Close()

	if err := tx.Commit(); err != nil {
		return models.Ledger{}, fmt.Errorf("failed to commit ledger read: %w", err)
	}
	return ledger, nil
}

func (l *ledgerDBImplementation) Create(ctx context.Context, ledger models.Ledger) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO ledgers (username, points, version) VALUES ($1, $2, 1) ON CONFLICT (username) DO NOTHING",
		ledger.Username, ledger.Points)
	if err != nil {
		return fmt.Errorf("failed to insert ledger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}

	// oldest first so that seq order matches history order
	for i := len(ledger.History) - 1; i >= 0; i-- {
		if err := insertTransaction(ctx, tx, ledger.Username, ledger.History[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger creation: %w", err)
	}
	return nil
}

func (l *ledgerDBImplementation) Append(ctx context.Context, username string, expectedVersion int64, points int, t models.Transaction) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE ledgers SET points = $1, version = version + 1 WHERE username=$2 AND version=$3",
		points, username, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to update ledger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrVersionConflict
	}

	if err := insertTransaction(ctx, tx, username, t); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ledger update: %w", err)
	}
	return expectedVersion + 1, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, username string, t models.Transaction) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO ledger_transactions (id, username, description, amount, created_at) VALUES ($1, $2, $3, $4, $5)",
		t.ID, username, t.Description, t.Amount, t.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}
