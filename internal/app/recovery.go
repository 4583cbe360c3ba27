package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/core/service"
	"github.com/rl1809/game-shelf/internal/port"
)

// WarmStart fills the store from the mirror. It must run before the
// persister subscribes so the loaded games are not written back.
func WarmStart(ctx context.Context, store *service.StateStore, mirror port.MirrorRepository) (int, error) {
	if mirror == nil {
		return 0, nil
	}
	games, err := mirror.LoadGames(ctx)
	if err != nil {
		return 0, fmt.Errorf("load mirror: %w", err)
	}
	for _, g := range games {
		if err := store.Put(g); err != nil {
			return 0, fmt.Errorf("warm start %s: %w", g.Key, err)
		}
	}
	return len(games), nil
}

// RecoverJournal settles operations a previous run left in flight. Their
// outcome is unknown, so the server record replaces the local one without a
// conflict prompt. Interrupted creates have no server id and are only logged.
func RecoverJournal(ctx context.Context, engine *service.Engine, api port.GameReader, journal port.JournalRepository, logger *slog.Logger) (int, error) {
	if journal == nil {
		return 0, nil
	}
	ops, err := journal.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}

	var keys []domain.Key
	seen := make(map[domain.Key]bool)
	for _, op := range ops {
		if op.Key.IsTemporary() {
			logger.Warn("interrupted create cannot be recovered",
				slog.String("correlation_id", op.CorrelationID),
				slog.Time("started_at", op.StartedAt),
			)
			continue
		}
		if !seen[op.Key] {
			seen[op.Key] = true
			keys = append(keys, op.Key)
		}
	}

	for start := 0; start < len(keys); start += service.DefaultReconcilerConfig().MaxBatchSize {
		end := min(start+service.DefaultReconcilerConfig().MaxBatchSize, len(keys))
		res, err := api.BatchGet(ctx, keys[start:end])
		if err != nil {
			return 0, fmt.Errorf("recover journal: %w", err)
		}
		store := engine.Store()
		engine.Exclusive(func() {
			for _, g := range res.Found {
				if err := store.Put(g); err != nil {
					logger.Error("recover game", slog.String("key", g.Key.String()), slog.Any("error", err))
				}
			}
			for _, key := range res.Missing {
				store.Remove(key)
			}
		})
	}

	for _, op := range ops {
		if err := journal.Clear(ctx, op.CorrelationID); err != nil {
			return 0, fmt.Errorf("clear journal: %w", err)
		}
		logger.Info("recovered interrupted operation",
			slog.String("key", op.Key.String()),
			slog.String("kind", string(op.Kind)),
			slog.String("correlation_id", op.CorrelationID),
		)
	}
	return len(ops), nil
}
