package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"green-reward/internal/db"
	"green-reward/internal/models"
	"green-reward/internal/notify"

	"go.uber.org/zap"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, fields ...zap.Field)  {}
func (m *mockLogger) Warn(msg string, fields ...zap.Field)  {}
func (m *mockLogger) Error(msg string, fields ...zap.Field) {}
func (m *mockLogger) Sync() error                           { return nil }

type mockLedgerDB struct {
	LoadFunc   func(ctx context.Context, username string) (models.Ledger, error)
	CreateFunc func(ctx context.Context, ledger models.Ledger) error
	AppendFunc func(ctx context.Context, username string, expectedVersion int64, points int, tx models.Transaction) (int64, error)
}

func (m *mockLedgerDB) Load(ctx context.Context, username string) (models.Ledger, error) {
	return m.LoadFunc(ctx, username)
}

func (m *mockLedgerDB) Create(ctx context.Context, ledger models.Ledger) error {
	return m.CreateFunc(ctx, ledger)
}

func (m *mockLedgerDB) Append(ctx context.Context, username string, expectedVersion int64, points int, tx models.Transaction) (int64, error) {
	return m.AppendFunc(ctx, username, expectedVersion, points, tx)
}

type mockBackend struct {
	GetUserFunc func(ctx context.Context, name string) (UserResponse, error)
	RewardFunc  func(ctx context.Context, req RewardRequest) (BalanceResponse, error)
	RedeemFunc  func(ctx context.Context, req RedeemRequest) (BalanceResponse, error)
}

func (m *mockBackend) GetUser(ctx context.Context, name string) (UserResponse, error) {
	return m.GetUserFunc(ctx, name)
}

func (m *mockBackend) Reward(ctx context.Context, req RewardRequest) (BalanceResponse, error) {
	return m.RewardFunc(ctx, req)
}

func (m *mockBackend) Redeem(ctx context.Context, req RedeemRequest) (BalanceResponse, error) {
	return m.RedeemFunc(ctx, req)
}

type countingAnnouncer struct {
	mu        sync.Mutex
	residents []string
	err       error
}

func (a *countingAnnouncer) Announce(_ context.Context, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.residents = append(a.residents, username)
	return a.err
}

func (a *countingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.residents)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("tx-%d", n)
	}
}

// newTestLedger builds a ledger service over store with deterministic ids and time.
func newTestLedger(store db.LedgerDB, signal notify.Signal, now time.Time) *ledgerService {
	return &ledgerService{
		store:  store,
		signal: signal,
		log:    &mockLogger{},
		now:    func() time.Time { return now },
		newID:  sequentialIDs(),
	}
}

// newTestBackend wires a LocalBackend without latency over an in-memory store.
func newTestBackend(t *testing.T, store db.LedgerDB, signal notify.Signal) (*LocalBackend, *ledgerService) {
	t.Helper()
	ledger := newTestLedger(store, signal, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewLocalBackend(ledger, NewDirectory(DefaultUsers()...), 0, &mockLogger{}), ledger
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
