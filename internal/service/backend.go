package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"green-reward/internal/models"
	"green-reward/pkg"

	"go.uber.org/zap"
)

const (
	RewardAmount      = 10
	RewardDescription = "Dry waste scan • Doorstep"
	DefaultLatency    = 250 * time.Millisecond
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidAmount = errors.New("amount must be > 0")
	ErrInvalidShop   = errors.New("shop name is required")
)

type UserResponse struct {
	Username string               `json:"username"`
	Points   int                  `json:"points"`
	History  []models.Transaction `json:"history"`
}

type RewardRequest struct {
	ResidentName string `json:"resident_name"`
	Amount       int    `json:"amount"`
	Description  string `json:"description"`
}

type RedeemRequest struct {
	ResidentName string `json:"resident_name"`
	Amount       int    `json:"amount"`
	ShopName     string `json:"shop_name"`
}

type BalanceResponse struct {
	NewBalance int `json:"new_balance"`
}

// Backend is the three-operation API both flows talk to.
type Backend interface {
	GetUser(ctx context.Context, name string) (UserResponse, error)
	Reward(ctx context.Context, req RewardRequest) (BalanceResponse, error)
	Redeem(ctx context.Context, req RedeemRequest) (BalanceResponse, error)
}

// LocalBackend serves the API in-process with a simulated network latency.
type LocalBackend struct {
	ledger  LedgerService
	users   Directory
	latency time.Duration
	log     pkg.Logger
}

func NewLocalBackend(ledger LedgerService, users Directory, latency time.Duration, log pkg.Logger) *LocalBackend {
	return &LocalBackend{
		ledger:  ledger,
		users:   users,
		latency: latency,
		log:     log,
	}
}

func (b *LocalBackend) GetUser(ctx context.Context, name string) (UserResponse, error) {
	if err := b.wait(ctx); err != nil {
		return UserResponse{}, err
	}
	if _, ok := b.users.Lookup(name); !ok {
		return UserResponse{}, ErrUserNotFound
	}
	l := b.ledger.Read(ctx, name)
	return UserResponse{Username: name, Points: l.Points, History: l.History}, nil
}

// Reward credits the resident without announcing the change.
func (b *LocalBackend) Reward(ctx context.Context, req RewardRequest) (BalanceResponse, error) {
	if err := b.wait(ctx); err != nil {
		return BalanceResponse{}, err
	}
	if _, ok := b.users.Lookup(req.ResidentName); !ok {
		return BalanceResponse{}, ErrUserNotFound
	}
	if req.Amount <= 0 {
		return BalanceResponse{}, ErrInvalidAmount
	}
	description := req.Description
	if description == "" {
		description = RewardDescription
	}
	l, err := b.ledger.ApplyDelta(ctx, req.ResidentName, req.Amount, description)
	if err != nil {
		b.log.Error("failed to reward points", zap.String("resident", req.ResidentName), zap.Int("amount", req.Amount), zap.Error(err))
		return BalanceResponse{}, err
	}
	return BalanceResponse{NewBalance: l.Points}, nil
}

// Redeem debits the resident. No floor is enforced on the balance.
func (b *LocalBackend) Redeem(ctx context.Context, req RedeemRequest) (BalanceResponse, error) {
	if err := b.wait(ctx); err != nil {
		return BalanceResponse{}, err
	}
	if _, ok := b.users.Lookup(req.ResidentName); !ok {
		return BalanceResponse{}, ErrUserNotFound
	}
	if req.Amount <= 0 {
		return BalanceResponse{}, ErrInvalidAmount
	}
	if req.ShopName == "" {
		return BalanceResponse{}, ErrInvalidShop
	}
	l, err := b.ledger.ApplyDelta(ctx, req.ResidentName, -req.Amount, "Redeemed at "+req.ShopName)
	if err != nil {
		b.log.Error("failed to redeem points", zap.String("resident", req.ResidentName), zap.String("shop", req.ShopName), zap.Error(err))
		return BalanceResponse{}, err
	}
	return BalanceResponse{NewBalance: l.Points}, nil
}

func (b *LocalBackend) wait(ctx context.Context) error {
	if err := sleepCtx(ctx, b.latency); err != nil {
		return fmt.Errorf("request aborted: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
