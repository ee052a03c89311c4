package dx

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5

	defaultMaxAttempts = 5
	maxRetryAfter      = time.Minute
)

// RateLimiters keeps track of per-host rate limiting for an arbitrary
// set of hosts.
//
// Use `*RateLimiters.RoundTripper(rt, host)` to obtain a rate limited
// HTTP transport for a host. DNAnexus answers `429 Too Many Requests`
// or `503 Service Unavailable` (with `Retry-After`) when it is
// throttling; the RoundTripper reacts by reducing the limit for that
// host once, waiting, and trying the request again, up to MaxAttempts
// times in total. A request that gets through bumps the limit back up
// towards RPS.
type RateLimiters struct {
	RPS         float64
	Burst       int
	MaxAttempts int
	Logger      log.Logger
	perHost     map[string]*rate.Limiter
	mu          sync.Mutex
	// sleep is swapped out in tests
	sleep func(context.Context, time.Duration) error
}

func (limiters *RateLimiters) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > limiters.RPS {
		return limiters.RPS
	}
	return limit
}

func (limiters *RateLimiters) limiter(host string) *rate.Limiter {
	if limiters.perHost == nil {
		limiters.perHost = map[string]*rate.Limiter{}
	}
	rl, ok := limiters.perHost[host]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(limiters.RPS), limiters.Burst)
		limiters.perHost[host] = rl
	}
	return rl
}

func (limiters *RateLimiters) backOff(host string) {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()

	limiter := limiters.limiter(host)
	oldLimit := float64(limiter.Limit())
	newLimit := limiters.clip(oldLimit / backOffBy)
	if oldLimit != newLimit && limiters.Logger != nil {
		limiters.Logger.Log("info", "reducing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	limiter.SetLimit(rate.Limit(newLimit))
}

// Recover bumps the limit for a host back up again.
func (limiters *RateLimiters) Recover(host string) {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()
	if limiters.perHost == nil {
		return
	}
	if limiter, ok := limiters.perHost[host]; ok {
		oldLimit := float64(limiter.Limit())
		newLimit := limiters.clip(oldLimit * recoverBy)
		if newLimit != oldLimit && limiters.Logger != nil {
			limiters.Logger.Log("info", "increasing rate limit", "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
		}
		limiter.SetLimit(rate.Limit(newLimit))
	}
}

// RoundTripper returns a rate limited RoundTripper for a particular
// host.
func (limiters *RateLimiters) RoundTripper(rt http.RoundTripper, host string) http.RoundTripper {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()

	attempts := limiters.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	sleep := limiters.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &roundTripRateLimiter{
		rl:          limiters.limiter(host),
		tx:          rt,
		maxAttempts: attempts,
		sleep:       sleep,
		slowDown:    func() { limiters.backOff(host) },
		recover:     func() { limiters.Recover(host) },
	}
}

type roundTripRateLimiter struct {
	rl          *rate.Limiter
	tx          http.RoundTripper
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
	slowDown    func()
	recover     func()
}

func (t *roundTripRateLimiter) RoundTrip(r *http.Request) (*http.Response, error) {
	var slowDownOnce sync.Once
	for attempt := 1; ; attempt++ {
		// Wait errors out if the request cannot be processed within
		// the deadline. This is pre-emptive, instead of waiting the
		// entire duration.
		if err := t.rl.Wait(r.Context()); err != nil {
			return nil, errors.Wrap(err, "rate limited")
		}
		resp, err := t.tx.RoundTrip(r)
		if err != nil {
			return nil, err
		}
		if !throttled(resp) {
			t.recover()
			return resp, nil
		}

		throttledRequests.Add(1)
		slowDownOnce.Do(t.slowDown)
		if attempt >= t.maxAttempts || r.GetBody == nil && r.Body != nil {
			return resp, nil
		}
		wait := retryAfter(resp, attempt)
		resp.Body.Close()

		next := r.Clone(r.Context())
		if r.GetBody != nil {
			body, err := r.GetBody()
			if err != nil {
				return nil, errors.Wrap(err, "rewinding request body")
			}
			next.Body = body
		}
		r = next
		if err := t.sleep(r.Context(), wait); err != nil {
			return nil, errors.Wrap(err, "waiting to retry throttled request")
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func throttled(resp *http.Response) bool {
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable
}

// retryAfter reads the Retry-After header (in seconds), falling back
// to a linear backoff.
func retryAfter(resp *http.Response, attempt int) time.Duration {
	wait := time.Duration(attempt) * time.Second
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	return wait
}
