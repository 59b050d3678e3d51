package fetch

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"cover-palette/pkg/config"
	"cover-palette/pkg/utils"
)

// Fetcher issues GET requests with the configured identity, retry policy and per-host pacing.
type Fetcher struct {
	client  *http.Client
	cfg     *config.AppConfig
	limiter *RateLimiter // optional
	robots  *RobotsHandler
	log     *logrus.Entry
}

// NewFetcher creates a Fetcher around a shared client
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// WithRateLimiter paces every Get through rl
func (f *Fetcher) WithRateLimiter(rl *RateLimiter) *Fetcher {
	f.limiter = rl
	return f
}

// WithRobots makes Get refuse URLs disallowed for the configured user agent
func (f *Fetcher) WithRobots(rh *RobotsHandler) *Fetcher {
	f.robots = rh
	return f
}

// Get fetches rawURL with the configured User-Agent.
// On success the caller owns resp.Body. On error the body is already closed.
func (f *Fetcher) Get(ctx context.Context, rawURL string, minDelay time.Duration) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	if f.robots != nil && !f.robots.Allowed(ctx, req.URL) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, rawURL)
	}

	host := req.URL.Hostname()
	if f.limiter != nil {
		if err := f.limiter.ApplyDelay(ctx, host, minDelay); err != nil {
			return nil, err
		}
	}
	resp, err := f.FetchWithRetry(ctx, req)
	if f.limiter != nil {
		f.limiter.UpdateLastRequestTime(host)
	}
	if err != nil {
		if resp != nil {
			drain(resp)
		}
		return nil, err
	}
	return resp, nil
}

// FetchWithRetry performs req under ctx.
// Network errors, 5xx and 429 are retried with exponential backoff and jitter; other 4xx are returned at once.
// A non-nil response returned alongside an error must still be closed by the caller.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.cfg.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) after error: %w", err, lastErr)
			}
			return nil, err
		}

		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		resp, err := f.client.Do(req.WithContext(ctx))
		if err != nil {
			if utils.IsContextError(err) {
				reqLog.Warnf("Context cancelled during request: %v", err)
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", err)
			lastErr = err
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Fetched")
			return resp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %s", utils.ErrServerHTTPError, resp.Status)
			drain(resp)

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %s", utils.ErrClientHTTPError, resp.Status)
			drain(resp)

		case statusCode >= 400:
			resLog.Warn("Client error (4xx), not retrying")
			return resp, fmt.Errorf("%w: status %s", utils.ErrClientHTTPError, resp.Status)

		default:
			resLog.Warnf("Unexpected status: %d", statusCode)
			return resp, fmt.Errorf("%w: status %s", utils.ErrOtherHTTPError, resp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// backoff is initial * 2^(attempt-1), capped at max_retry_delay, with +/-10% jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	maxDelay := f.cfg.MaxRetryDelay
	delay := time.Duration(float64(f.cfg.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	if delay <= 0 {
		return 0
	}
	if spread := int64(delay) / 5; spread > 0 {
		delay += time.Duration(rand.Int63n(spread)) - delay/10
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
