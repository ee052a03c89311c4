// Package await polls for remote things (files closing, jobs
// finishing) with exponential backoff.
package await

import (
	"context"
	"errors"
	"time"
)

var ErrTimeout = errors.New("timeout")

// Backoff polls with exponential backoff: it waits InitialDelay after
// the first try, then Factor times as long after each, up to
// MaxDelay, until Timeout has passed (or forever, if Timeout is 0).
type Backoff struct {
	InitialDelay time.Duration
	Factor       int
	MaxDelay     time.Duration
	Timeout      time.Duration
	// Deadline, if set, ends polling regardless of Timeout; see
	// WithDeadline
	Deadline time.Time

	// Sleep and Now are for tests; the zero values use the clock.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (b Backoff) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// WithDeadline fixes the end of the timeout as from now, so that
// successive Polls with the result share one time limit rather than
// each getting the whole Timeout.
func (b Backoff) WithDeadline() Backoff {
	if b.Timeout > 0 && b.Deadline.IsZero() {
		b.Deadline = b.now().Add(b.Timeout)
	}
	return b
}

// Poll calls f until it says it's done or returns an error, or the
// timeout passes, or the context is cancelled.
func (b Backoff) Poll(ctx context.Context, f func() (bool, error)) error {
	now, sleep := b.now, b.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	factor := time.Duration(b.Factor)
	if factor < 1 {
		factor = 1
	}
	maxDelay := b.MaxDelay
	if maxDelay < b.InitialDelay {
		maxDelay = b.InitialDelay
	}

	var finish time.Time
	if b.Timeout > 0 {
		finish = now().Add(b.Timeout)
	}
	if !b.Deadline.IsZero() && (finish.IsZero() || b.Deadline.Before(finish)) {
		finish = b.Deadline
	}
	for delay := b.InitialDelay; ; delay = min(delay*factor, maxDelay) {
		ok, err := f()
		if ok || err != nil {
			return err
		}
		// If we don't have time to try again, stop
		if !finish.IsZero() && now().Add(delay).After(finish) {
			return ErrTimeout
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func min(t1, t2 time.Duration) time.Duration {
	if t1 < t2 {
		return t1
	}
	return t2
}

// NoSleep is a Sleep that only checks for cancellation.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
