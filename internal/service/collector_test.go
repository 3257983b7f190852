package service

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"green-reward/internal/db"
	"green-reward/internal/models"
	"green-reward/internal/notify"
)

func TestCollector_HappyPath(t *testing.T) {
	sig := notify.NewMemorySignal()
	backend, ledger := newTestBackend(t, db.NewMemoryLedgerDB(), sig)
	c := NewCollector(backend, ledger, 0, &mockLogger{})

	events, cancel, err := sig.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	snap, err := c.StartScan("Ravi")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if snap.State != StateVerified || !snap.ApproveEnabled {
		t.Fatalf("expected verified with approve enabled, got %+v", snap)
	}

	snap, err = c.Approve(context.Background())
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if snap.State != StateAwaitingConfirmation || snap.NewBalance == nil || *snap.NewBalance != SeedPoints+RewardAmount {
		t.Fatalf("unexpected snapshot after approve: %+v", snap)
	}
	if !snap.ResidentLocked || !snap.PhotoLocked || snap.ApproveEnabled {
		t.Errorf("inputs must stay locked while awaiting confirmation: %+v", snap)
	}

	select {
	case ev := <-events:
		t.Fatalf("signal raised before confirmation: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	snap, err = c.Confirm(context.Background())
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if snap.State != StateIdle || snap.Completed != "Ravi" || snap.Resident != "" {
		t.Errorf("unexpected snapshot after confirm: %+v", snap)
	}

	select {
	case ev := <-events:
		if ev.Resident != "Ravi" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a signal after confirmation")
	}
	select {
	case ev := <-events:
		t.Errorf("expected exactly one raise, got another: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCollector_ScanDelay(t *testing.T) {
	c := NewCollector(&mockBackend{}, &countingAnnouncer{}, 20*time.Millisecond, &mockLogger{})

	snap, err := c.StartScan("Ravi")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if snap.State != StateScanning || snap.ApproveEnabled {
		t.Fatalf("expected scanning, got %+v", snap)
	}
	if _, err := c.Approve(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("approve while scanning should fail, got %v", err)
	}

	waitFor(t, "verification", func() bool { return c.State().State == StateVerified })
	if !c.State().ApproveEnabled {
		t.Errorf("approve should be enabled once verified")
	}
}

func TestCollector_ResetCancelsPendingScan(t *testing.T) {
	c := NewCollector(&mockBackend{}, &countingAnnouncer{}, 20*time.Millisecond, &mockLogger{})

	if _, err := c.StartScan("Ravi"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	snap, err := c.Reset()
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if snap.State != StateIdle {
		t.Fatalf("expected idle, got %s", snap.State)
	}

	time.Sleep(60 * time.Millisecond)
	if got := c.State().State; got != StateIdle {
		t.Errorf("abandoned scan must not verify, got %s", got)
	}
}

func TestCollector_DoubleSubmissionGuard(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	backend := &mockBackend{
		RewardFunc: func(ctx context.Context, req RewardRequest) (BalanceResponse, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return BalanceResponse{NewBalance: 100}, nil
		},
	}
	c := NewCollector(backend, &countingAnnouncer{}, 0, &mockLogger{})
	if _, err := c.StartScan("Ravi"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Approve(context.Background())
		done <- err
	}()
	waitFor(t, "submission", func() bool { return c.State().State == StateSubmitting })

	if _, err := c.Approve(context.Background()); !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight while submitting, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first approve failed: %v", err)
	}
	if _, err := c.Approve(context.Background()); !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight while awaiting confirmation, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly one reward call, got %d", got)
	}
}

func TestCollector_FailedSubmissionAllowsRetry(t *testing.T) {
	base := db.NewMemoryLedgerDB()
	failing := true
	store := &mockLedgerDB{
		LoadFunc:   base.Load,
		CreateFunc: base.Create,
		AppendFunc: func(ctx context.Context, username string, expectedVersion int64, points int, tx models.Transaction) (int64, error) {
			if failing {
				return 0, errors.New("quota exceeded")
			}
			return base.Append(ctx, username, expectedVersion, points, tx)
		},
	}
	announcer := &countingAnnouncer{}
	backend, ledger := newTestBackend(t, store, notify.NewMemorySignal())
	c := NewCollector(backend, announcer, 0, &mockLogger{})

	before := ledger.Read(context.Background(), "Ravi")
	if _, err := c.StartScan("Ravi"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	snap, err := c.Approve(context.Background())
	if err == nil {
		t.Fatalf("expected approve to fail")
	}
	if snap.State != StateVerified || !snap.ApproveEnabled || snap.LastError == "" {
		t.Errorf("expected verified with approve re-enabled and a notice, got %+v", snap)
	}
	if !snap.ResidentLocked || !snap.PhotoLocked {
		t.Errorf("inputs should stay locked after a failed submission: %+v", snap)
	}
	if after := ledger.Read(context.Background(), "Ravi"); !reflect.DeepEqual(before, after) {
		t.Errorf("ledger changed after failed submission")
	}
	if announcer.count() != 0 {
		t.Errorf("failed submission must not announce")
	}

	failing = false
	snap, err = c.Approve(context.Background())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if snap.State != StateAwaitingConfirmation || snap.LastError != "" {
		t.Errorf("unexpected snapshot after retry: %+v", snap)
	}
}

func TestCollector_FailedSubmissionKeepsInputsLocked(t *testing.T) {
	var calls []string
	backend := &mockBackend{
		RewardFunc: func(ctx context.Context, req RewardRequest) (BalanceResponse, error) {
			calls = append(calls, req.ResidentName)
			return BalanceResponse{}, errors.New("quota exceeded")
		},
	}
	c := NewCollector(backend, &countingAnnouncer{}, 0, &mockLogger{})
	ctx := context.Background()

	if _, err := c.StartScan("Ravi"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := c.Approve(ctx); err == nil {
		t.Fatalf("expected approve to fail")
	}

	snap, err := c.Reset()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reset after a failed submission: expected ErrInvalidTransition, got %v", err)
	}
	if snap.State != StateVerified || !snap.ResidentLocked || !snap.PhotoLocked {
		t.Errorf("refused reset must leave the locked state alone: %+v", snap)
	}

	if _, err := c.StartScan("Suresh"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("scan for another resident: expected ErrInvalidTransition, got %v", err)
	}
	if got := c.State(); got.Resident != "Ravi" || !got.ApproveEnabled {
		t.Errorf("expected Ravi's scan still ready to retry, got %+v", got)
	}

	_, _ = c.Approve(ctx)
	if len(calls) != 2 || calls[1] != "Ravi" {
		t.Errorf("retry should reward the original resident, calls=%v", calls)
	}
}

func TestCollector_InvalidTransitions(t *testing.T) {
	announcer := &countingAnnouncer{}
	c := NewCollector(&mockBackend{}, announcer, 0, &mockLogger{})
	ctx := context.Background()

	if _, err := c.StartScan(""); !errors.Is(err, ErrNoResident) {
		t.Errorf("expected ErrNoResident, got %v", err)
	}
	if _, err := c.Approve(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("approve from idle: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := c.Confirm(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirm from idle: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := c.StartScan("Ravi"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := c.StartScan("Ravi"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second scan: expected ErrInvalidTransition, got %v", err)
	}
	if announcer.count() != 0 {
		t.Errorf("no announcement expected, got %d", announcer.count())
	}
}

func TestCollector_AnnounceFailureStillCompletes(t *testing.T) {
	backend := &mockBackend{
		RewardFunc: func(ctx context.Context, req RewardRequest) (BalanceResponse, error) {
			return BalanceResponse{NewBalance: 42}, nil
		},
	}
	announcer := &countingAnnouncer{err: errors.New("broker down")}
	c := NewCollector(backend, announcer, 0, &mockLogger{})
	ctx := context.Background()

	_, _ = c.StartScan("Ravi")
	if _, err := c.Approve(ctx); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	snap, err := c.Confirm(ctx)
	if err != nil {
		t.Fatalf("confirm should not fail on announce error, got %v", err)
	}
	if snap.State != StateIdle || announcer.count() != 1 {
		t.Errorf("unexpected result: %+v, announces=%d", snap, announcer.count())
	}
}

func TestCollectorSessions_PerOperator(t *testing.T) {
	sessions := NewCollectorSessions(&mockBackend{}, &countingAnnouncer{}, 0, &mockLogger{})

	a := sessions.Get("Suresh")
	if a != sessions.Get("Suresh") {
		t.Errorf("expected the same collector for the same operator")
	}
	if a == sessions.Get("Mohan") {
		t.Errorf("expected distinct collectors per operator")
	}
}
