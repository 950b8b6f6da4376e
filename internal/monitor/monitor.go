// Package monitor hosts the periodic background loops: the decay monitor
// that re-evaluates the live session balance, and the cache sweeper that
// evicts expired directory snapshots. Both are best-effort and never
// terminate the process.
package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/domain"
	"charging-kiosk/internal/events"
	"charging-kiosk/internal/ledger"
	"charging-kiosk/internal/session"
)

// Decay ticks the coordinator so a depleted balance stops the session
// without user action. The auto-stop event is published here, after the
// coordinator has committed the balance.
func Decay(ctx context.Context, interval time.Duration, c *session.Coordinator, bus *events.Bus, logger *logrus.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("decay monitor stopped")
			return
		case <-ticker.C:
			if result, stopped := c.Tick(ctx); stopped {
				user := result.User
				bus.Publish(domain.CardEvent{
					Type:      domain.EventChargingStopped,
					Timestamp: time.Now(),
					User:      &user,
					Success:   true,
				})
			}
		}
	}
}

// CacheSweep proactively evicts directory snapshots older than TTL so cache
// staleness queries reflect reality rather than lazy expiry.
func CacheSweep(ctx context.Context, interval time.Duration, l *ledger.Ledger, logger *logrus.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			if l.EvictExpired() {
				logger.Debug("evicted expired directory cache")
			}
		}
	}
}
