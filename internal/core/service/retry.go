package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

const (
	defaultMaxRetries = 2
	defaultBaseDelay  = time.Second
	defaultTimeout    = 15 * time.Second
)

// RetryPolicy bounds how remote calls are retried. Only transient failures
// are retried; the delay starts at BaseDelay and doubles per attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		Timeout:    defaultTimeout,
	}
}

// Delay returns the wait before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return p.BaseDelay << (n - 1)
}

// Do runs call until it succeeds, fails permanently, or retries run out.
// onRetry is invoked before each wait.
func (p RetryPolicy) Do(ctx context.Context, call func(ctx context.Context) (*domain.Game, error), onRetry func(n int, err error)) (*domain.Game, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return nil, fmt.Errorf("retry wait: %w", err)
			}
		}

		game, err := callWithTimeout(ctx, p.Timeout, call)
		if err == nil {
			return game, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", p.MaxRetries, lastErr)
}

type callResult struct {
	game *domain.Game
	err  error
}

// callWithTimeout races call against a timer so a remote that ignores its
// context still cannot hold the lane past the timeout.
func callWithTimeout(ctx context.Context, timeout time.Duration, call func(ctx context.Context) (*domain.Game, error)) (*domain.Game, error) {
	if timeout <= 0 {
		return call(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		game, err := call(callCtx)
		done <- callResult{game: game, err: err}
	}()

	select {
	case res := <-done:
		return res.game, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("after %s: %w", timeout, domain.ErrTimeout)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
