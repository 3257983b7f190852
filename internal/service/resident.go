package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"green-reward/internal/models"
	"green-reward/internal/notify"
	"green-reward/pkg"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = time.Second
	BalanceAnimation    = 700 * time.Millisecond
)

var ErrRedemptionDeclined = errors.New("redemption declined")

type Observer interface {
	Observe(ctx context.Context, fn func(notify.LedgerChanged)) error
}

// Confirmer is the blocking confirmation step before a redemption.
type Confirmer interface {
	Confirm(prompt string) bool
}

type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Animation moves the displayed balance from From to To over Duration.
type Animation struct {
	From     int           `json:"from"`
	To       int           `json:"to"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

func (a Animation) ValueAt(t time.Time) int {
	if a.Duration <= 0 || !t.Before(a.Start.Add(a.Duration)) {
		return a.To
	}
	progress := float64(t.Sub(a.Start)) / float64(a.Duration)
	if progress < 0 {
		progress = 0
	}
	return int(math.Floor(float64(a.From) + float64(a.To-a.From)*progress))
}

type ResidentSnapshot struct {
	Resident  string               `json:"resident"`
	Loaded    bool                 `json:"loaded"`
	Points    int                  `json:"points"`
	Animation *Animation           `json:"animation,omitempty"`
	History   []models.Transaction `json:"history"`
	Renders   int                  `json:"renders"`
	Refreshes int                  `json:"refreshes"`
}

// Displayed is the balance on screen at time t.
func (s ResidentSnapshot) Displayed(t time.Time) int {
	if !s.Loaded {
		return 0
	}
	if s.Animation != nil {
		return s.Animation.ValueAt(t)
	}
	return s.Points
}

func (s ResidentSnapshot) clone() ResidentSnapshot {
	out := s
	if s.Animation != nil {
		a := *s.Animation
		out.Animation = &a
	}
	out.History = append([]models.Transaction(nil), s.History...)
	return out
}

// Resident is the balance and history view of one resident. It re-reads the
// ledger on a ledger-changed signal, on a fallback ticker, and right after
// its own redemptions.
type Resident struct {
	mu       sync.Mutex
	view     ResidentSnapshot
	name     string
	backend  Backend
	observer Observer
	interval time.Duration
	log      pkg.Logger
	now      func() time.Time
	voucher  func() string

	// refreshes are numbered when they start; a result older than the
	// last one applied is dropped
	issued  uint64
	applied uint64
}

func NewResident(name string, backend Backend, observer Observer, interval time.Duration, log pkg.Logger) *Resident {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Resident{
		view:     ResidentSnapshot{Resident: name},
		name:     name,
		backend:  backend,
		observer: observer,
		interval: interval,
		log:      log,
		now:      time.Now,
		voucher:  voucherCode,
	}
}

func voucherCode() string {
	return fmt.Sprintf("GR-%d", rand.Intn(9000)+1000)
}

func (r *Resident) View() ResidentSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.clone()
}

func (r *Resident) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.issued++
	seq := r.issued
	r.mu.Unlock()

	user, err := r.backend.GetUser(ctx, r.name)
	if err != nil {
		r.log.Error("failed to load resident profile", zap.String("resident", r.name), zap.Error(err))
		return fmt.Errorf("failed to refresh %s: %w", r.name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq < r.applied {
		r.log.Info("dropping stale resident refresh", zap.String("resident", r.name), zap.Uint64("seq", seq))
		return nil
	}
	r.applied = seq

	now := r.now()
	r.view.Refreshes++
	if displayed := r.view.Displayed(now); displayed != user.Points {
		r.view.Animation = &Animation{From: displayed, To: user.Points, Start: now, Duration: BalanceAnimation}
	}
	r.view.Points = user.Points

	var shown, newest string
	if len(r.view.History) > 0 {
		shown = r.view.History[0].Description
	}
	if len(user.History) > 0 {
		newest = user.History[0].Description
	}
	if !r.view.Loaded || len(r.view.History) == 0 || shown != newest {
		r.view.History = append([]models.Transaction(nil), user.History...)
		r.view.Renders++
		r.log.Info("Resident history rendered", zap.String("resident", r.name), zap.Int("points", user.Points), zap.String("newest", newest))
	}
	r.view.Loaded = true
	return nil
}

// Redeem spends amount points at shop after confirmation and refreshes the
// view immediately. Without a confirmer the redemption is declined. It
// returns the voucher code handed to the resident.
func (r *Resident) Redeem(ctx context.Context, shop string, amount int, confirm Confirmer) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if shop == "" {
		return "", ErrInvalidShop
	}
	prompt := fmt.Sprintf("Confirm redemption of %d pts for %s?", amount, shop)
	if confirm == nil || !confirm.Confirm(prompt) {
		return "", ErrRedemptionDeclined
	}

	if _, err := r.backend.Redeem(ctx, RedeemRequest{ResidentName: r.name, Amount: amount, ShopName: shop}); err != nil {
		return "", fmt.Errorf("failed to redeem at %s: %w", shop, err)
	}
	code := r.voucher()
	r.log.Info("Redemption completed", zap.String("resident", r.name), zap.String("shop", shop), zap.Int("amount", amount), zap.String("code", code))

	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("refresh after redemption failed", zap.String("resident", r.name), zap.Error(err))
	}
	return code, nil
}

// Run refreshes once, then on every signal for this resident and on every
// tick until ctx is done.
func (r *Resident) Run(ctx context.Context) error {
	_ = r.Refresh(ctx)

	changed := make(chan struct{}, 1)
	if r.observer != nil {
		go func() {
			err := r.observer.Observe(ctx, func(ev notify.LedgerChanged) {
				if ev.Resident != r.name {
					return
				}
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			if err != nil && ctx.Err() == nil {
				r.log.Warn("ledger signal observation stopped, polling only", zap.String("resident", r.name), zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = r.Refresh(ctx)
		case <-changed:
			_ = r.Refresh(ctx)
		}
	}
}
