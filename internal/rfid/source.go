package rfid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/domain"
	"charging-kiosk/internal/events"
	"charging-kiosk/internal/hardware"
	"charging-kiosk/internal/ledger"
	"charging-kiosk/internal/session"
)

var (
	// ErrUnauthorizedCard indicates the scanned card resolves to no user.
	ErrUnauthorizedCard = errors.New("unauthorized card")
	// ErrChargingConflict indicates another user's session is active.
	ErrChargingConflict = errors.New("charging already in progress")
)

// Config tunes the card event source.
type Config struct {
	Debounce      time.Duration
	Permissive    bool
	AutoProvision bool
	Logger        *logrus.Logger
}

// Source drives the session state machine from card detections: it debounces
// raw reads, resolves cards through the ledger, applies the start/stop
// decision, and publishes the resulting events.
type Source struct {
	reader      hardware.Reader
	ledger      *ledger.Ledger
	coordinator *session.Coordinator
	bus         *events.Bus
	cfg         Config
	now         func() time.Time

	mu       sync.Mutex
	lastCard string
	lastSeen time.Time
}

func New(reader hardware.Reader, l *ledger.Ledger, c *session.Coordinator, bus *events.Bus, cfg Config) *Source {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Source{
		reader:      reader,
		ledger:      l,
		coordinator: c,
		bus:         bus,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Run consumes reads until ctx is cancelled. Read errors are logged and the
// loop continues; they never terminate the source.
func (s *Source) Run(ctx context.Context) {
	s.cfg.Logger.Info("card reader loop started, waiting for cards")
	for {
		res := s.reader.ReadNext(ctx)
		switch res.Kind {
		case hardware.NoCard:
			// nothing in range, poll again
		case hardware.ReadError:
			if ctx.Err() != nil {
				s.cfg.Logger.Info("card reader loop stopped")
				return
			}
			s.cfg.Logger.Errorf("card read: %v", res.Err)
		case hardware.CardDetected:
			s.HandleCard(ctx, res.CardID)
		}
		if ctx.Err() != nil {
			s.cfg.Logger.Info("card reader loop stopped")
			return
		}
	}
}

// HandleCard runs the per-card pipeline for one detection: debounce, resolve,
// decide, publish.
func (s *Source) HandleCard(ctx context.Context, cardID string) {
	if s.debounced(cardID) {
		return
	}
	s.cfg.Logger.Infof("card detected: %s", cardID)

	user, err := s.resolve(ctx, cardID)
	detected := domain.CardEvent{
		Type:      domain.EventCardDetected,
		CardID:    cardID,
		Timestamp: s.now(),
		User:      user,
		Success:   user != nil,
	}
	if user == nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			detected.Error = "Card not registered"
		default:
			s.cfg.Logger.Warnf("resolve card %s: %v", cardID, err)
			detected.Error = "Directory unavailable"
		}
		s.bus.Publish(detected)
		return
	}
	s.bus.Publish(detected)

	if active, charging := s.coordinator.ActiveUser(); charging {
		if active.ID != user.ID {
			// informational only, session untouched
			return
		}
		result, stopped := s.coordinator.Stop(ctx)
		if stopped {
			s.publish(domain.EventChargingStopped, &result.User)
		}
		return
	}

	if user.Balance <= 0 {
		s.publish(domain.EventInsufficientBalance, user)
		return
	}

	switch err := s.coordinator.Start(*user); {
	case err == nil:
		s.publish(domain.EventChargingStarted, user)
	case errors.Is(err, session.ErrSessionActive):
		// lost the race to a concurrent start, detection already published
	default:
		s.cfg.Logger.Warnf("start charging for %s: %v", user.Name, err)
	}
}

// debounced reports whether the card was already accepted inside the
// debounce window, recording the detection otherwise.
func (s *Source) debounced(cardID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cardID == s.lastCard && now.Sub(s.lastSeen) < s.cfg.Debounce {
		return true
	}
	s.lastCard = cardID
	s.lastSeen = now
	return false
}

func (s *Source) resolve(ctx context.Context, cardID string) (*domain.User, error) {
	user, err := s.ledger.Resolve(ctx, cardID, s.cfg.Permissive)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) || !s.cfg.AutoProvision {
		return nil, err
	}

	placeholder := domain.User{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("Unregistered %s", cardID),
		CardID:    cardID,
		Balance:   0,
		CreatedAt: s.now().UTC(),
	}
	if provErr := s.ledger.Provision(ctx, placeholder); provErr != nil {
		s.cfg.Logger.Warnf("auto-provision card %s: %v", cardID, provErr)
		return nil, err
	}
	s.cfg.Logger.Infof("auto-provisioned placeholder user for card %s", cardID)
	return s.ledger.Resolve(ctx, cardID, false)
}

func (s *Source) publish(eventType domain.EventType, user *domain.User) {
	s.bus.Publish(domain.CardEvent{
		Type:      eventType,
		Timestamp: s.now(),
		User:      user,
		Success:   true,
	})
}

// ScanAction labels the session decision taken by a synchronous scan.
type ScanAction string

const (
	ActionStarted ScanAction = "started"
	ActionStopped ScanAction = "stopped"
)

// ScanResult is the outcome of a synchronous single scan.
type ScanResult struct {
	Action ScanAction
	CardID string
	User   *domain.User
}

// ScanOnce blocks for the next card and applies the same per-card decision
// logic as the continuous loop, returning the outcome to the caller instead
// of the event stream.
func (s *Source) ScanOnce(ctx context.Context) (ScanResult, error) {
	var cardID string
	for {
		res := s.reader.ReadNext(ctx)
		if res.Kind == hardware.CardDetected {
			cardID = res.CardID
			break
		}
		if res.Kind == hardware.ReadError {
			if ctx.Err() != nil {
				return ScanResult{}, ctx.Err()
			}
			return ScanResult{}, res.Err
		}
	}

	result := ScanResult{CardID: cardID}
	user, err := s.resolve(ctx, cardID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return result, ErrUnauthorizedCard
		}
		return result, err
	}
	result.User = user

	if active, charging := s.coordinator.ActiveUser(); charging {
		if active.ID != user.ID {
			return result, fmt.Errorf("%w for %s", ErrChargingConflict, active.Name)
		}
		stop, stopped := s.coordinator.Stop(ctx)
		if !stopped {
			return result, fmt.Errorf("stop charging: session already idle")
		}
		result.Action = ActionStopped
		result.User = &stop.User
		return result, nil
	}

	if user.Balance <= 0 {
		return result, session.ErrInsufficientBalance
	}
	if err := s.coordinator.Start(*user); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			return result, ErrChargingConflict
		}
		return result, err
	}
	result.Action = ActionStarted
	return result, nil
}
