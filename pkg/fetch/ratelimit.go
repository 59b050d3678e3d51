package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests to the same host.
// Each caller reserves the next free slot under the lock, so concurrent workers queue up.
type RateLimiter struct {
	hostNextSlot   map[string]time.Time
	hostNextSlotMu sync.Mutex
	defaultDelay   time.Duration // Used when a call passes minDelay <= 0
	log            *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(defaultDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostNextSlot: make(map[string]time.Time),
		defaultDelay: defaultDelay,
		log:          log,
	}
}

// ApplyDelay reserves the earliest slot at least minDelay (plus up to 10% jitter)
// after the previous one for host, then blocks until it.
// Returns ctx.Err() if the wait is cut short; the slot stays taken.
func (rl *RateLimiter) ApplyDelay(ctx context.Context, host string, minDelay time.Duration) error {
	if minDelay <= 0 {
		minDelay = rl.defaultDelay
	}
	if minDelay <= 0 {
		return nil
	}

	rl.hostNextSlotMu.Lock()
	now := time.Now()
	slot := now
	if last, exists := rl.hostNextSlot[host]; exists {
		gap := minDelay
		if spread := int64(minDelay) / 10; spread > 0 {
			gap += time.Duration(rand.Int63n(spread))
		}
		if next := last.Add(gap); next.After(slot) {
			slot = next
		}
	}
	rl.hostNextSlot[host] = slot
	rl.hostNextSlotMu.Unlock()

	sleep := slot.Sub(now)
	if sleep <= 0 {
		return nil
	}
	rl.log.WithFields(logrus.Fields{
		"host": host, "sleep": sleep, "required_delay": minDelay,
	}).Debug("Rate limit applying sleep")

	return Sleep(ctx, sleep)
}

// UpdateLastRequestTime moves host's last slot to now once a request finishes,
// so the next gap counts from the response. It never moves a reservation backwards.
func (rl *RateLimiter) UpdateLastRequestTime(host string) {
	now := time.Now()
	rl.hostNextSlotMu.Lock()
	if now.After(rl.hostNextSlot[host]) {
		rl.hostNextSlot[host] = now
	}
	rl.hostNextSlotMu.Unlock()
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
