package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/domain"
	"charging-kiosk/internal/hardware"
	"charging-kiosk/internal/ledger"
)

var (
	// ErrSessionActive is returned when a start is requested while another
	// session is running.
	ErrSessionActive = errors.New("charging already in progress")
	// ErrInsufficientBalance is returned when a start is requested with a
	// non-positive balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// StopResult describes a completed session so callers can publish the
// corresponding event after the balance commit.
type StopResult struct {
	User       domain.User
	Deducted   float64
	NewBalance float64
}

// Config tunes the coordinator.
type Config struct {
	Rate   float64 // balance deducted per second while charging
	Logger *logrus.Logger
}

// Coordinator owns the single charging session. The relay is commanded only
// here, inside a state transition, so relay state always matches the session.
// The mutex guards session state only and is never held across the ledger's
// store write.
type Coordinator struct {
	ledger *ledger.Ledger
	relay  hardware.Relay
	cfg    Config
	now    func() time.Time

	mu     sync.Mutex
	active *chargingSession
}

type chargingSession struct {
	user         domain.User
	startTime    time.Time
	startBalance float64
}

func New(l *ledger.Ledger, relay hardware.Relay, cfg Config) *Coordinator {
	if cfg.Rate <= 0 {
		cfg.Rate = 0.01
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Coordinator{
		ledger: l,
		relay:  relay,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start begins a session for the user and energizes the relay.
func (c *Coordinator) Start(user domain.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return ErrSessionActive
	}
	if user.Balance <= 0 {
		return ErrInsufficientBalance
	}

	c.active = &chargingSession{
		user:         user,
		startTime:    c.now(),
		startBalance: user.Balance,
	}
	if err := c.relay.Set(true); err != nil {
		c.cfg.Logger.Errorf("relay on: %v", err)
	}
	c.cfg.Logger.Infof("charging started for %s (balance %.2f)", user.Name, user.Balance)
	return nil
}

// Stop ends the active session: relay off, session cleared, and the decayed
// balance committed through the ledger. The commit completes before Stop
// returns, so events published afterwards observe a consistent balance.
// Reports false when no session is active.
func (c *Coordinator) Stop(ctx context.Context) (StopResult, bool) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return StopResult{}, false
	}

	s := c.active
	elapsed := c.now().Sub(s.startTime)
	deduction := elapsed.Seconds() * c.cfg.Rate
	newBalance := s.startBalance - deduction
	if newBalance < 0 {
		newBalance = 0
	}

	if err := c.relay.Set(false); err != nil {
		c.cfg.Logger.Errorf("relay off: %v", err)
	}
	c.active = nil
	c.mu.Unlock()

	if !c.ledger.UpdateBalance(ctx, s.user.ID, newBalance) {
		c.cfg.Logger.Warnf("commit balance for %s: user unknown to ledger", s.user.ID)
	}
	c.cfg.Logger.Infof("charging stopped for %s (deducted %.2f, remaining %.2f)", s.user.Name, deduction, newBalance)

	result := StopResult{
		User:       s.user,
		Deducted:   deduction,
		NewBalance: newBalance,
	}
	result.User.Balance = newBalance
	return result, true
}

// CurrentBalance returns the live decayed balance, or 0 when idle.
func (c *Coordinator) CurrentBalance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBalanceLocked()
}

func (c *Coordinator) currentBalanceLocked() float64 {
	if c.active == nil {
		return 0
	}
	elapsed := c.now().Sub(c.active.startTime)
	balance := c.active.startBalance - elapsed.Seconds()*c.cfg.Rate
	if balance < 0 {
		return 0
	}
	return balance
}

// ActiveUser returns the session's user while charging.
func (c *Coordinator) ActiveUser() (domain.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return domain.User{}, false
	}
	return c.active.user, true
}

// Status snapshots the session for status queries.
func (c *Coordinator) Status() domain.ChargingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return domain.ChargingStatus{}
	}
	user := c.active.user
	start := c.active.startTime
	return domain.ChargingStatus{
		Active:         true,
		User:           &user,
		CurrentBalance: c.currentBalanceLocked(),
		StartTime:      &start,
	}
}

// Tick re-evaluates the live balance and stops the session once it is
// depleted. Reports the stop result when an auto-stop happened.
func (c *Coordinator) Tick(ctx context.Context) (StopResult, bool) {
	c.mu.Lock()
	depleted := c.active != nil && c.currentBalanceLocked() <= 0
	c.mu.Unlock()

	if !depleted {
		return StopResult{}, false
	}
	c.cfg.Logger.Info("balance depleted, stopping charging")
	return c.Stop(ctx)
}

// Shutdown stops any active session and forces the relay off once, as a
// best-effort cleanup during process exit.
func (c *Coordinator) Shutdown(ctx context.Context) {
	if _, stopped := c.Stop(ctx); stopped {
		return
	}
	if err := c.relay.Set(false); err != nil {
		c.cfg.Logger.Errorf("force relay off: %v", err)
	}
}
