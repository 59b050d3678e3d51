package fetch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_ConcurrentCallersGetSeparateSlots(t *testing.T) {
	const delay = 50 * time.Millisecond
	rl := NewRateLimiter(delay, testLogger())

	var (
		mu       sync.Mutex
		released []time.Time
		wg       sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rl.ApplyDelay(context.Background(), "images.example.com", 0))
			mu.Lock()
			released = append(released, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(released, func(i, j int) bool { return released[i].Before(released[j]) })
	assert.Less(t, released[0].Sub(start), delay/2, "the first caller goes straight through")
	for i := 1; i < len(released); i++ {
		assert.GreaterOrEqual(t, released[i].Sub(released[i-1]), delay-10*time.Millisecond, "caller %d", i)
	}
	assert.GreaterOrEqual(t, released[4].Sub(start), 4*delay)
}

func TestRateLimiter_GapCountsFromLastResponse(t *testing.T) {
	rl := NewRateLimiter(0, testLogger())
	host := "www.example.com"

	require.NoError(t, rl.ApplyDelay(context.Background(), host, 80*time.Millisecond))
	time.Sleep(30 * time.Millisecond) // a slow response
	rl.UpdateLastRequestTime(host)

	start := time.Now()
	require.NoError(t, rl.ApplyDelay(context.Background(), host, 80*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestRateLimiter_UpdateKeepsLaterReservation(t *testing.T) {
	rl := NewRateLimiter(0, testLogger())
	host := "www.example.com"
	reserved := time.Now().Add(time.Hour)

	rl.hostNextSlot[host] = reserved
	rl.UpdateLastRequestTime(host)
	assert.Equal(t, reserved, rl.hostNextSlot[host])

	rl.UpdateLastRequestTime("other.example.com")
	assert.WithinDuration(t, time.Now(), rl.hostNextSlot["other.example.com"], time.Second)
}

func TestRateLimiter_CancelledWait(t *testing.T) {
	rl := NewRateLimiter(0, testLogger())
	host := "www.example.com"
	require.NoError(t, rl.ApplyDelay(context.Background(), host, 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := rl.ApplyDelay(ctx, host, 5*time.Second)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimiter_DelaySources(t *testing.T) {
	tests := []struct {
		name         string
		defaultDelay time.Duration
		minDelay     time.Duration
		wantWait     bool
	}{
		{"disabled", 0, 0, false},
		{"default used", 40 * time.Millisecond, 0, true},
		{"per call overrides default", time.Hour, 40 * time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(tt.defaultDelay, testLogger())
			require.NoError(t, rl.ApplyDelay(context.Background(), "h", tt.minDelay))

			start := time.Now()
			require.NoError(t, rl.ApplyDelay(context.Background(), "h", tt.minDelay))
			elapsed := time.Since(start)
			if tt.wantWait {
				assert.GreaterOrEqual(t, elapsed, 35*time.Millisecond)
				assert.Less(t, elapsed, time.Second)
			} else {
				assert.Less(t, elapsed, 10*time.Millisecond)
			}
		})
	}
}

func TestRateLimiter_HostsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(time.Hour, testLogger())
	require.NoError(t, rl.ApplyDelay(context.Background(), "www.example.com", 0))

	start := time.Now()
	require.NoError(t, rl.ApplyDelay(context.Background(), "res.cloudinary.com", 0))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
