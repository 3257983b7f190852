package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"green-reward/pkg"

	"go.uber.org/zap"
)

const (
	DefaultScanDelay = 600 * time.Millisecond

	submitFailedNotice = "Something went wrong. Please try again."
)

type CollectorState int

const (
	StateIdle CollectorState = iota
	StateScanning
	StateVerified
	StateSubmitting
	StateAwaitingConfirmation
)

func (s CollectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateVerified:
		return "verified"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s CollectorState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrInvalidTransition  = errors.New("invalid collector state transition")
	ErrSubmissionInFlight = errors.New("reward submission already in flight")
	ErrNoResident         = errors.New("resident is required")
)

// CollectorSnapshot is everything a renderer needs to draw the collector
// screen. It is a copy; mutating it does not affect the flow.
type CollectorSnapshot struct {
	State          CollectorState `json:"state"`
	Resident       string         `json:"resident,omitempty"`
	ResidentLocked bool           `json:"resident_locked"`
	PhotoLocked    bool           `json:"photo_locked"`
	ApproveEnabled bool           `json:"approve_enabled"`
	NewBalance     *int           `json:"new_balance,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	Completed      string         `json:"completed,omitempty"`
}

func (s CollectorSnapshot) clone() CollectorSnapshot {
	out := s
	if s.NewBalance != nil {
		nb := *s.NewBalance
		out.NewBalance = &nb
	}
	return out
}

// Collector is the scan-and-reward flow of one operator. The reward is
// written to the ledger on Approve but only announced on Confirm.
type Collector struct {
	mu        sync.Mutex
	snap      CollectorSnapshot
	cycle     uint64
	backend   Backend
	announcer Announcer
	log       pkg.Logger
	scanDelay time.Duration
}

func NewCollector(backend Backend, announcer Announcer, scanDelay time.Duration, log pkg.Logger) *Collector {
	return &Collector{
		backend:   backend,
		announcer: announcer,
		log:       log,
		scanDelay: scanDelay,
	}
}

func (c *Collector) State() CollectorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// StartScan begins classification of a photo for resident. The flow reaches
// Verified once the classification delay has elapsed.
func (c *Collector) StartScan(resident string) (CollectorSnapshot, error) {
	if resident == "" {
		return c.State(), ErrNoResident
	}

	c.mu.Lock()
	if c.snap.State != StateIdle {
		snap := c.snap.clone()
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: scan from %s", ErrInvalidTransition, snap.State)
	}
	c.cycle++
	cycle := c.cycle
	c.snap = CollectorSnapshot{
		State:     StateScanning,
		Resident:  resident,
		Completed: c.snap.Completed,
	}
	snap := c.snap.clone()
	c.mu.Unlock()

	if c.scanDelay <= 0 {
		c.markVerified(cycle)
		return c.State(), nil
	}
	time.AfterFunc(c.scanDelay, func() { c.markVerified(cycle) })
	return snap, nil
}

func (c *Collector) markVerified(cycle uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cycle != cycle || c.snap.State != StateScanning {
		return
	}
	c.snap.State = StateVerified
	c.snap.ApproveEnabled = true
}

// Approve submits the reward. Inputs stay locked until Confirm; a failed
// submission re-enables only the approve action.
func (c *Collector) Approve(ctx context.Context) (CollectorSnapshot, error) {
	c.mu.Lock()
	switch {
	case c.snap.State == StateSubmitting || c.snap.State == StateAwaitingConfirmation:
		snap := c.snap.clone()
		c.mu.Unlock()
		return snap, ErrSubmissionInFlight
	case c.snap.State != StateVerified || !c.snap.ApproveEnabled:
		snap := c.snap.clone()
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: approve from %s", ErrInvalidTransition, snap.State)
	}
	c.snap.State = StateSubmitting
	c.snap.ResidentLocked = true
	c.snap.PhotoLocked = true
	c.snap.ApproveEnabled = false
	c.snap.LastError = ""
	resident := c.snap.Resident
	c.mu.Unlock()

	res, err := c.backend.Reward(ctx, RewardRequest{
		ResidentName: resident,
		Amount:       RewardAmount,
		Description:  RewardDescription,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Error("failed to submit reward", zap.String("resident", resident), zap.Error(err))
		c.snap.State = StateVerified
		c.snap.ApproveEnabled = true
		c.snap.LastError = submitFailedNotice
		return c.snap.clone(), fmt.Errorf("failed to submit reward: %w", err)
	}
	balance := res.NewBalance
	c.snap.State = StateAwaitingConfirmation
	c.snap.NewBalance = &balance
	c.log.Info("Reward submitted, awaiting confirmation", zap.String("resident", resident), zap.Int("newBalance", balance))
	return c.snap.clone(), nil
}

// Confirm is the operator's "OK". It resets the flow and is the only place
// the ledger change is announced.
func (c *Collector) Confirm(ctx context.Context) (CollectorSnapshot, error) {
	c.mu.Lock()
	if c.snap.State != StateAwaitingConfirmation {
		snap := c.snap.clone()
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, snap.State)
	}
	resident := c.snap.Resident
	c.cycle++
	c.snap = CollectorSnapshot{State: StateIdle, Completed: resident}
	snap := c.snap.clone()
	c.mu.Unlock()

	if err := c.announcer.Announce(ctx, resident); err != nil {
		c.log.Error("failed to announce confirmed reward", zap.String("resident", resident), zap.Error(err))
	}
	return snap, nil
}

// Reset abandons a scan that has not been submitted yet. Once a submission
// was attempted the inputs stay locked and only Approve can move on.
func (c *Collector) Reset() (CollectorSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.ResidentLocked || c.snap.PhotoLocked {
		return c.snap.clone(), fmt.Errorf("%w: reset after submission from %s", ErrInvalidTransition, c.snap.State)
	}
	switch c.snap.State {
	case StateScanning, StateVerified:
		c.cycle++
		c.snap = CollectorSnapshot{State: StateIdle, Completed: c.snap.Completed}
		return c.snap.clone(), nil
	case StateIdle:
		return c.snap.clone(), nil
	default:
		return c.snap.clone(), fmt.Errorf("%w: reset from %s", ErrInvalidTransition, c.snap.State)
	}
}

// CollectorSessions holds one Collector per operator.
type CollectorSessions struct {
	mu        sync.Mutex
	sessions  map[string]*Collector
	backend   Backend
	announcer Announcer
	scanDelay time.Duration
	log       pkg.Logger
}

func NewCollectorSessions(backend Backend, announcer Announcer, scanDelay time.Duration, log pkg.Logger) *CollectorSessions {
	return &CollectorSessions{
		sessions:  make(map[string]*Collector),
		backend:   backend,
		announcer: announcer,
		scanDelay: scanDelay,
		log:       log,
	}
}

func (s *CollectorSessions) Get(operator string) *Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[operator]
	if !ok {
		c = NewCollector(s.backend, s.announcer, s.scanDelay, s.log)
		s.sessions[operator] = c
	}
	return c
}
