package app

import (
	"context"
	"time"

	"github.com/rl1809/game-shelf/internal/core/service"
)

// StartPoller refreshes every game in the store at a fixed cadence, starting
// with an immediate pass. It returns immediately; the goroutine stops with ctx.
func StartPoller(ctx context.Context, reconciler *service.Reconciler, store *service.StateStore, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			refresh(ctx, reconciler, store)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}

func refresh(ctx context.Context, reconciler *service.Reconciler, store *service.StateStore) {
	keys := store.Keys()
	if len(keys) == 0 || ctx.Err() != nil {
		return
	}
	reconciler.RefreshMany(ctx, keys, service.RefreshOptions{Immediate: true})
}
