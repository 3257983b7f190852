package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"green-reward/internal/db"
	"green-reward/internal/models"
	"green-reward/internal/notify"
	"green-reward/pkg"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SeedPoints = 12450

	maxApplyAttempts = 3
)

var ErrVersionConflict = db.ErrVersionConflict

// LedgerService is the read / read-modify-write surface over one ledger per
// resident. Writing and announcing are separate steps: ApplyDelta never
// raises the notification signal, Announce does.
type LedgerService interface {
	Read(ctx context.Context, username string) models.Ledger
	ApplyDelta(ctx context.Context, username string, amount int, description string) (models.Ledger, error)
	Announce(ctx context.Context, username string) error
}

type Announcer interface {
	Announce(ctx context.Context, username string) error
}

type ledgerService struct {
	store  db.LedgerDB
	signal notify.Signal
	log    pkg.Logger
	now    func() time.Time
	newID  func() string
}

func NewLedgerService(store db.LedgerDB, signal notify.Signal, log pkg.Logger) LedgerService {
	return &ledgerService{
		store:  store,
		signal: signal,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SeedLedger builds the initial ledger every resident starts from.
func SeedLedger(username string, now time.Time, newID func() string) models.Ledger {
	return models.Ledger{
		Username: username,
		Points:   SeedPoints,
		History: []models.Transaction{
			{ID: newID(), Description: "Dry waste scan", Amount: 40, Timestamp: now},
			{ID: newID(), Description: "Marketplace Redemption", Amount: -200, Timestamp: now.Add(-24 * time.Hour)},
		},
	}
}

// timestamps survive a postgres round trip unchanged at microsecond precision
func (s *ledgerService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Read never fails. Storage errors are logged and a fresh seed is returned.
func (s *ledgerService) Read(ctx context.Context, username string) models.Ledger {
	l, err := s.loadOrSeed(ctx, username)
	if err != nil {
		s.log.Error("failed to read ledger, serving seed", zap.String("username", username), zap.Error(err))
		return SeedLedger(username, s.timestamp(), s.newID)
	}
	return l
}

func (s *ledgerService) loadOrSeed(ctx context.Context, username string) (models.Ledger, error) {
	l, err := s.store.Load(ctx, username)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, db.ErrLedgerNotFound) {
		return models.Ledger{}, err
	}

	seed := SeedLedger(username, s.timestamp(), s.newID)
	if err := s.store.Create(ctx, seed); err != nil {
		if errors.Is(err, db.ErrVersionConflict) {
			// seeded concurrently by another caller
			return s.store.Load(ctx, username)
		}
		return models.Ledger{}, fmt.Errorf("failed to persist seed ledger: %w", err)
	}
	s.log.Info("Ledger seeded", zap.String("username", username), zap.Int("points", seed.Points))
	seed.Version = 1
	return seed, nil
}

func (s *ledgerService) ApplyDelta(ctx context.Context, username string, amount int, description string) (models.Ledger, error) {
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		current, err := s.loadOrSeed(ctx, username)
		if err != nil {
			return models.Ledger{}, fmt.Errorf("failed to read ledger for %s: %w", username, err)
		}

		tx := models.Transaction{
			ID:          s.newID(),
			Description: description,
			Amount:      amount,
			Timestamp:   s.timestamp(),
		}
		points := current.Points + amount

		version, err := s.store.Append(ctx, username, current.Version, points, tx)
		if errors.Is(err, db.ErrVersionConflict) {
			s.log.Warn("ledger changed concurrently, retrying",
				zap.String("username", username),
				zap.Int64("version", current.Version),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return models.Ledger{}, fmt.Errorf("failed to persist ledger for %s: %w", username, err)
		}

		updated := current.Clone()
		updated.Points = points
		updated.History = append([]models.Transaction{tx}, updated.History...)
		updated.Version = version
		s.log.Info("Ledger updated",
			zap.String("username", username),
			zap.Int("amount", amount),
			zap.String("description", description),
			zap.Int("points", points))
		return updated, nil
	}
	return models.Ledger{}, fmt.Errorf("failed to apply delta for %s after %d attempts: %w", username, maxApplyAttempts, ErrVersionConflict)
}

func (s *ledgerService) Announce(ctx context.Context, username string) error {
	if err := s.signal.Raise(ctx, username); err != nil {
		return fmt.Errorf("failed to announce ledger change: %w", err)
	}
	return nil
}
