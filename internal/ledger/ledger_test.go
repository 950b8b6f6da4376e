package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/directory"
	"charging-kiosk/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	users      []domain.User
	failFetch  bool
	failWrite  bool
	fetchCalls int
	writes     map[string]float64
}

func newFakeStore(users ...domain.User) *fakeStore {
	return &fakeStore{users: users, writes: make(map[string]float64)}
}

func (f *fakeStore) FetchAll(ctx context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.failFetch {
		return nil, fmt.Errorf("store offline")
	}
	out := make([]domain.User, len(f.users))
	copy(out, f.users)
	return out, nil
}

func (f *fakeStore) WriteBalance(ctx context.Context, cardID string, balance float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return fmt.Errorf("store offline")
	}
	f.writes[cardID] = balance
	for i := range f.users {
		if f.users[i].CardID == cardID {
			f.users[i].Balance = balance
			return nil
		}
	}
	return fmt.Errorf("no user with card %s", cardID)
}

func (f *fakeStore) Provision(ctx context.Context, user domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, user)
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testUser() domain.User {
	return domain.User{ID: "1", Name: "Alice Carter", CardID: "CARD001", Balance: 100, PhoneNumber: "+1 555 0001"}
}

func newTestLedger(store *fakeStore, ttl time.Duration) (*Ledger, *fakeClock) {
	l := New(store, Config{TTL: ttl, Logger: quietLogger()})
	clk := newFakeClock()
	l.now = clk.Now
	return l, clk
}

func TestLookupServesFromCacheWithinTTL(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	for i := 0; i < 3; i++ {
		user, err := l.Lookup(context.Background(), "CARD001")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if user.Name != "Alice Carter" {
			t.Fatalf("lookup %d: got %q", i, user.Name)
		}
	}
	if store.fetchCalls != 1 {
		t.Fatalf("expected 1 fetch, got %d", store.fetchCalls)
	}
}

func TestLookupRefreshesAfterTTL(t *testing.T) {
	store := newFakeStore(testUser())
	l, clk := newTestLedger(store, 30*time.Second)

	if _, err := l.Lookup(context.Background(), "CARD001"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(31 * time.Second)
	if _, err := l.Lookup(context.Background(), "CARD001"); err != nil {
		t.Fatal(err)
	}
	if store.fetchCalls != 2 {
		t.Fatalf("expected refetch after TTL, got %d fetches", store.fetchCalls)
	}
}

func TestLookupServesStaleCacheWhenStoreDown(t *testing.T) {
	store := newFakeStore(testUser())
	l, clk := newTestLedger(store, 30*time.Second)

	if _, err := l.Lookup(context.Background(), "CARD001"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	store.failFetch = true

	user, err := l.Lookup(context.Background(), "CARD001")
	if err != nil {
		t.Fatalf("expected stale cache to be served, got %v", err)
	}
	if user.Balance != 100 {
		t.Fatalf("stale balance = %v", user.Balance)
	}
}

func TestLookupUnavailableWithoutCache(t *testing.T) {
	store := newFakeStore(testUser())
	store.failFetch = true
	l, _ := newTestLedger(store, 30*time.Second)

	_, err := l.Lookup(context.Background(), "CARD001")
	if !errors.Is(err, directory.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLookupUnknownCard(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	_, err := l.Lookup(context.Background(), "NOPE")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBalanceReadYourWritesWithStoreDown(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	// warm the cache, then take the store offline
	if _, err := l.Lookup(context.Background(), "CARD001"); err != nil {
		t.Fatal(err)
	}
	store.failFetch = true
	store.failWrite = true

	if !l.UpdateBalance(context.Background(), "1", 42.5) {
		t.Fatal("update balance failed")
	}
	user, err := l.Lookup(context.Background(), "CARD001")
	if err != nil {
		t.Fatal(err)
	}
	if user.Balance != 42.5 {
		t.Fatalf("local read after write = %v, want 42.5", user.Balance)
	}
}

func TestUpdateBalanceClampsNegative(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	if !l.UpdateBalance(context.Background(), "1", -5) {
		t.Fatal("update balance failed")
	}
	if got := store.writes["CARD001"]; got != 0 {
		t.Fatalf("written balance = %v, want 0", got)
	}
	user, err := l.GetByID(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if user.Balance != 0 {
		t.Fatalf("cached balance = %v, want 0", user.Balance)
	}
}

func TestUpdateBalanceUnknownUser(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	if l.UpdateBalance(context.Background(), "999", 10) {
		t.Fatal("expected update for unknown user to fail")
	}
}

func TestResolvePermissiveFuzzyMatch(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	if _, err := l.Resolve(context.Background(), "alice", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("strict mode should not fuzzy match, got %v", err)
	}

	user, err := l.Resolve(context.Background(), "alice", true)
	if err != nil {
		t.Fatalf("permissive resolve: %v", err)
	}
	if user.ID != "1" {
		t.Fatalf("fuzzy matched wrong user %s", user.ID)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	if _, err := l.Users(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Invalidate()
	if _, err := l.Users(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.fetchCalls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d fetches", store.fetchCalls)
	}
}

func TestEvictExpired(t *testing.T) {
	store := newFakeStore(testUser())
	l, clk := newTestLedger(store, 30*time.Second)

	if _, err := l.Users(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.EvictExpired() {
		t.Fatal("fresh cache must not be evicted")
	}
	clk.Advance(31 * time.Second)
	if !l.EvictExpired() {
		t.Fatal("expired cache must be evicted")
	}
	if info := l.CacheInfo(); info.Cached {
		t.Fatalf("cache info after eviction: %+v", info)
	}
}

func TestCacheInfo(t *testing.T) {
	store := newFakeStore(testUser())
	l, clk := newTestLedger(store, 30*time.Second)

	if info := l.CacheInfo(); info.Cached || info.Valid {
		t.Fatalf("empty cache info: %+v", info)
	}

	if _, err := l.Users(context.Background()); err != nil {
		t.Fatal(err)
	}
	clk.Advance(10 * time.Second)

	info := l.CacheInfo()
	if !info.Cached || !info.Valid {
		t.Fatalf("cache info: %+v", info)
	}
	if info.AgeSeconds != 10 {
		t.Fatalf("age = %v, want 10", info.AgeSeconds)
	}
	if info.Size != 1 {
		t.Fatalf("size = %d, want 1", info.Size)
	}

	clk.Advance(25 * time.Second)
	if info := l.CacheInfo(); info.Valid {
		t.Fatalf("cache should be stale: %+v", info)
	}
}

func TestProvisionInvalidatesCache(t *testing.T) {
	store := newFakeStore(testUser())
	l, _ := newTestLedger(store, 30*time.Second)

	if _, err := l.Users(context.Background()); err != nil {
		t.Fatal(err)
	}

	newUser := domain.User{ID: "2", Name: "New User", CardID: "CARD002"}
	if err := l.Provision(context.Background(), newUser); err != nil {
		t.Fatal(err)
	}

	user, err := l.Lookup(context.Background(), "CARD002")
	if err != nil {
		t.Fatalf("lookup after provision: %v", err)
	}
	if user.ID != "2" {
		t.Fatalf("resolved wrong user %s", user.ID)
	}
}
