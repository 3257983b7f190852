package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySignal_RaiseDeliversToSubscribers(t *testing.T) {
	sig := NewMemorySignal()
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sig.now = func() time.Time { return fixed }

	ch, cancel, err := sig.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	if _, ok := sig.LastRaised("Ravi"); ok {
		t.Fatalf("slot should not exist before the first raise")
	}
	if err := sig.Raise(context.Background(), "Ravi"); err != nil {
		t.Fatalf("raise failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Resident != "Ravi" || !ev.RaisedAt.Equal(fixed) {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	if at, ok := sig.LastRaised("Ravi"); !ok || !at.Equal(fixed) {
		t.Errorf("slot not written: %v %v", at, ok)
	}
}

func TestMemorySignal_SlotOverwritten(t *testing.T) {
	sig := NewMemorySignal()
	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sig.now = func() time.Time { return first }
	_ = sig.Raise(context.Background(), "Ravi")

	second := first.Add(time.Minute)
	sig.now = func() time.Time { return second }
	_ = sig.Raise(context.Background(), "Ravi")

	if at, _ := sig.LastRaised("Ravi"); !at.Equal(second) {
		t.Errorf("expected slot %v, got %v", second, at)
	}
}

func TestMemorySignal_ObserveStopsOnCancel(t *testing.T) {
	sig := NewMemorySignal()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan LedgerChanged, 1)
	done := make(chan error, 1)
	go func() {
		done <- sig.Observe(ctx, func(ev LedgerChanged) {
			select {
			case got <- ev:
			default:
			}
		})
	}()

	deadline := time.After(2 * time.Second)
	for received := false; !received; {
		_ = sig.Raise(context.Background(), "Ravi")
		select {
		case <-got:
			received = true
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("observer never received a raise")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("observe did not return after cancel")
	}
}

func TestMemorySignal_Close(t *testing.T) {
	sig := NewMemorySignal()
	ch, _, err := sig.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	_ = sig.Close()

	if _, ok := <-ch; ok {
		t.Errorf("subscriber channel should be closed")
	}
	if err := sig.Raise(context.Background(), "Ravi"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := sig.Observe(context.Background(), func(LedgerChanged) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Observe, got %v", err)
	}
}

func TestEventCodec(t *testing.T) {
	ev := LedgerChanged{Resident: "Ravi", RaisedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	data, err := encodeEvent(ev)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeEvent(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Resident != ev.Resident || !decoded.RaisedAt.Equal(ev.RaisedAt) {
		t.Errorf("round trip mismatch: %+v", decoded)
	}

	if _, err := decodeEvent([]byte(`{"raised_at":"2025-03-01T09:00:00Z"}`)); err == nil {
		t.Errorf("expected error for event without resident")
	}
	if _, err := decodeEvent([]byte(`not json`)); err == nil {
		t.Errorf("expected error for malformed payload")
	}
}

func TestSignalKey(t *testing.T) {
	if got := SignalKey("Ravi"); got != "green_reward_ok:Ravi" {
		t.Errorf("unexpected key %q", got)
	}
}
