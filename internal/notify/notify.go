// Package notify carries the "ledger changed" signal between the collector
// that confirms a reward and every view that displays the ledger.
//
// A raise overwrites the per-resident signal slot with the current time and
// publishes a LedgerChanged event. The event carries no balance: observers
// re-read the ledger themselves.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	KeyPrefix = "green_reward_ok"
	Channel   = "green_reward:ledger_changed"
	Topic     = "green_reward.ledger_changed"
)

var ErrClosed = errors.New("signal closed")

type LedgerChanged struct {
	Resident string    `json:"resident"`
	RaisedAt time.Time `json:"raised_at"`
}

type Signal interface {
	Raise(ctx context.Context, resident string) error
	// Observe calls fn for every raise until ctx is done. It returns nil on
	// cancellation and an error if the underlying channel fails.
	Observe(ctx context.Context, fn func(LedgerChanged)) error
	Close() error
}

func SignalKey(resident string) string {
	return KeyPrefix + ":" + resident
}

func encodeEvent(ev LedgerChanged) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger event: %w", err)
	}
	return data, nil
}

func decodeEvent(data []byte) (LedgerChanged, error) {
	var ev LedgerChanged
	if err := json.Unmarshal(data, &ev); err != nil {
		return LedgerChanged{}, fmt.Errorf("failed to decode ledger event: %w", err)
	}
	if ev.Resident == "" {
		return LedgerChanged{}, errors.New("ledger event without resident")
	}
	return ev, nil
}
