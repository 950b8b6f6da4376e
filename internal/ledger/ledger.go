package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/directory"
	"charging-kiosk/internal/domain"
)

var (
	// ErrNotFound indicates no user matched the query.
	ErrNotFound = errors.New("user not found")
	// ErrNoProvisioning indicates the backing store cannot register users.
	ErrNoProvisioning = errors.New("store does not support provisioning")
)

// Config tunes the ledger cache.
type Config struct {
	TTL          time.Duration
	StoreTimeout time.Duration
	Logger       *logrus.Logger
}

// Ledger is the in-process view of the user directory. It caches full
// snapshots from the backing store for a bounded TTL, serializes balance
// mutations, and writes them through best-effort.
type Ledger struct {
	store directory.Store
	cfg   Config
	now   func() time.Time

	mu        sync.Mutex
	snapshot  []domain.User
	fetchedAt time.Time
}

func New(store directory.Store, cfg Config) *Ledger {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Ledger{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// users returns the cached snapshot, refreshing it from the store when the
// cache is absent or older than TTL. The store call is never made while
// holding the lock. On store failure a stale snapshot is served if one
// exists; otherwise the directory is reported unavailable.
func (l *Ledger) users(ctx context.Context) ([]domain.User, error) {
	l.mu.Lock()
	if l.snapshot != nil && l.now().Sub(l.fetchedAt) < l.cfg.TTL {
		users := copyUsers(l.snapshot)
		l.mu.Unlock()
		return users, nil
	}
	l.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	fresh, err := l.store.FetchAll(fetchCtx)
	cancel()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		if l.snapshot != nil {
			l.cfg.Logger.Warnf("directory fetch failed, serving stale cache: %v", err)
			return copyUsers(l.snapshot), nil
		}
		return nil, fmt.Errorf("%w: %v", directory.ErrUnavailable, err)
	}
	if fresh == nil {
		fresh = []domain.User{}
	}
	l.snapshot = fresh
	l.fetchedAt = l.now()
	return copyUsers(l.snapshot), nil
}

// Users lists all known users.
func (l *Ledger) Users(ctx context.Context) ([]domain.User, error) {
	return l.users(ctx)
}

// Lookup finds a user by exact card id.
func (l *Ledger) Lookup(ctx context.Context, cardID string) (*domain.User, error) {
	return l.Resolve(ctx, cardID, false)
}

// Resolve finds a user for a scanned card. With permissive set, a card that
// has no exact match falls back to matching user name tokens; every fuzzy
// match is logged because it is a deliberate relaxation for legacy cards.
func (l *Ledger) Resolve(ctx context.Context, cardID string, permissive bool) (*domain.User, error) {
	users, err := l.users(ctx)
	if err != nil {
		return nil, err
	}

	cardID = strings.TrimSpace(cardID)
	for i := range users {
		if strings.TrimSpace(users[i].CardID) == cardID {
			u := users[i]
			return &u, nil
		}
	}

	if permissive {
		needle := strings.ToLower(cardID)
		for i := range users {
			name := strings.ToLower(users[i].Name)
			tokens := strings.Fields(name)
			if strings.Contains(name, needle) || (len(tokens) > 0 && tokens[0] == needle) {
				u := users[i]
				l.cfg.Logger.Infof("fuzzy-matched card %q to user %q", cardID, u.Name)
				return &u, nil
			}
		}
	}

	return nil, ErrNotFound
}

// GetByID finds a user by id.
func (l *Ledger) GetByID(ctx context.Context, id string) (*domain.User, error) {
	users, err := l.users(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			u := users[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateBalance clamps the new balance to zero, patches the cached entry so
// local reads see the value immediately, and writes through to the backing
// store best-effort. It reports false when the user id is unknown.
func (l *Ledger) UpdateBalance(ctx context.Context, id string, newBalance float64) bool {
	if newBalance < 0 {
		newBalance = 0
	}

	// ensure a snapshot exists so the patch has a target
	if _, err := l.users(ctx); err != nil {
		l.cfg.Logger.Warnf("update balance for %s: %v", id, err)
	}

	l.mu.Lock()
	var cardID string
	found := false
	for i := range l.snapshot {
		if l.snapshot[i].ID == id {
			l.snapshot[i].Balance = newBalance
			cardID = l.snapshot[i].CardID
			found = true
			break
		}
	}
	l.mu.Unlock()

	if !found {
		return false
	}

	writeCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	if err := l.store.WriteBalance(writeCtx, cardID, newBalance); err != nil {
		l.cfg.Logger.Warnf("write-through for user %s failed, local state kept: %v", id, err)
	}
	return true
}

// Provision registers a new user when the store supports it and invalidates
// the cache so the next lookup sees the new row.
func (l *Ledger) Provision(ctx context.Context, user domain.User) error {
	p, ok := l.store.(directory.Provisioner)
	if !ok {
		return ErrNoProvisioning
	}
	provCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()
	if err := p.Provision(provCtx, user); err != nil {
		return err
	}
	l.Invalidate()
	return nil
}

// Invalidate forces the next read to refetch from the store.
func (l *Ledger) Invalidate() {
	l.mu.Lock()
	l.snapshot = nil
	l.fetchedAt = time.Time{}
	l.mu.Unlock()
}

// EvictExpired drops the snapshot once it is older than TTL. It reports
// whether an eviction happened.
func (l *Ledger) EvictExpired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil || l.now().Sub(l.fetchedAt) < l.cfg.TTL {
		return false
	}
	l.snapshot = nil
	l.fetchedAt = time.Time{}
	return true
}

// CacheInfo reports current cache staleness.
func (l *Ledger) CacheInfo() domain.CacheInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := domain.CacheInfo{
		TTLSeconds: l.cfg.TTL.Seconds(),
	}
	if l.snapshot == nil {
		return info
	}
	age := l.now().Sub(l.fetchedAt)
	info.Cached = true
	info.AgeSeconds = age.Seconds()
	info.Valid = age < l.cfg.TTL
	info.Size = len(l.snapshot)
	return info
}

func copyUsers(users []domain.User) []domain.User {
	out := make([]domain.User, len(users))
	copy(out, users)
	return out
}
