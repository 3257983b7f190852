package db

import (
	"context"
	"sync"

	"green-reward/internal/models"
)

// memoryLedgerDB keeps ledgers in process memory. Every value crossing the
// boundary is cloned so callers cannot mutate stored history.
type memoryLedgerDB struct {
	mu      sync.Mutex
	ledgers map[string]models.Ledger
}

func NewMemoryLedgerDB() LedgerDB {
	return &memoryLedgerDB{
		ledgers: make(map[string]models.Ledger),
	}
}

func (m *memoryLedgerDB) Load(_ context.Context, username string) (models.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[username]
	if !ok {
		return models.Ledger{}, ErrLedgerNotFound
	}
	return l.Clone(), nil
}

func (m *memoryLedgerDB) Create(_ context.Context, ledger models.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ledgers[ledger.Username]; ok {
		return ErrVersionConflict
	}
	stored := ledger.Clone()
	stored.Version = 1
	m.ledgers[ledger.Username] = stored
	return nil
}

func (m *memoryLedgerDB) Append(_ context.Context, username string, expectedVersion int64, points int, tx models.Transaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[username]
	if !ok || l.Version != expectedVersion {
		return 0, ErrVersionConflict
	}
	history := make([]models.Transaction, 0, len(l.History)+1)
	history = append(history, tx)
	history = append(history, l.History...)

	l.Points = points
	l.History = history
	l.Version++
	m.ledgers[username] = l
	return l.Version, nil
}
