package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

const (
	defaultDebounceDelay    = 2 * time.Second
	defaultMaxBatchSize     = 100
	defaultBatchConcurrency = 2
)

const (
	OutcomeNoop     = "noop"
	OutcomeApplied  = "applied"
	OutcomeConflict = "conflict"
	OutcomeResolved = "resolved"
	OutcomePurged   = "purged"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

type ReconcilerConfig struct {
	DebounceDelay    time.Duration
	MaxBatchSize     int
	BatchConcurrency int
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		DebounceDelay:    defaultDebounceDelay,
		MaxBatchSize:     defaultMaxBatchSize,
		BatchConcurrency: defaultBatchConcurrency,
	}
}

type RefreshOptions struct {
	// Immediate skips the debounce window and waits for the batch to finish.
	Immediate bool
}

// Reconciler pulls authoritative state for games already in the store and
// folds it back in. Non-critical differences are applied silently; critical
// ones go to the conflict presenter and block the entity until answered.
type Reconciler struct {
	engine    *Engine
	store     *StateStore
	api       port.GameReader
	presenter port.ConflictPresenter
	notifier  port.Notifier
	recorder  port.Recorder
	logger    *slog.Logger
	cfg       ReconcilerConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []domain.Key
	queued  map[domain.Key]bool
	timer   *time.Timer
	blocked map[domain.Key]bool
	wg      sync.WaitGroup

	// generation names the armed timer; a callback for an older one is stale.
	generation uint64
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerRecorder(r port.Recorder) ReconcilerOption {
	return func(rc *Reconciler) {
		if r != nil {
			rc.recorder = r
		}
	}
}

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(rc *Reconciler) {
		if l != nil {
			rc.logger = l
		}
	}
}

func NewReconciler(engine *Engine, api port.GameReader, presenter port.ConflictPresenter, notifier port.Notifier, cfg ReconcilerConfig, opts ...ReconcilerOption) *Reconciler {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = defaultDebounceDelay
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		engine:    engine,
		store:     engine.Store(),
		api:       api,
		presenter: presenter,
		notifier:  notifier,
		recorder:  port.NopRecorder{},
		logger:    slog.Default(),
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		queued:    make(map[domain.Key]bool),
		blocked:   make(map[domain.Key]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RefreshOne re-fetches a single game. A game the server no longer knows is
// purged from the store. The returned error only reports a failed fetch and
// never reaches the notifier.
func (r *Reconciler) RefreshOne(ctx context.Context, key domain.Key) error {
	key = r.engine.Resolve(key)
	if reason := r.skipReason(key); reason != "" {
		r.logOutcome(key, OutcomeSkipped, nil, slog.String("reason", reason))
		return nil
	}

	game, err := r.api.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		r.purge(key)
		return nil
	}
	if err != nil {
		r.recorder.Reconciled(OutcomeFailed)
		r.logger.Warn("refresh failed", slog.String("key", key.String()), slog.Any("error", err))
		return fmt.Errorf("refresh %s: %w", key, err)
	}

	r.reconcile(ctx, key, *game)
	return nil
}

// RefreshMany schedules keys for a batched refresh. Keys arriving within the
// debounce window are coalesced into one batch; Immediate runs the batch now.
func (r *Reconciler) RefreshMany(ctx context.Context, keys []domain.Key, opts RefreshOptions) {
	if opts.Immediate {
		r.runBatch(ctx, dedupe(keys))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return
	}
	for _, key := range keys {
		if !r.queued[key] {
			r.queued[key] = true
			r.pending = append(r.pending, key)
		}
	}
	if r.timer != nil && r.timer.Stop() {
		r.wg.Done()
	}
	r.generation++
	gen := r.generation
	r.wg.Add(1)
	r.timer = time.AfterFunc(r.cfg.DebounceDelay, func() { r.fire(gen) })
}

// Flush runs the pending debounced batch without waiting for the window.
func (r *Reconciler) Flush(ctx context.Context) {
	r.mu.Lock()
	var keys []domain.Key
	if r.timer != nil && r.timer.Stop() {
		r.wg.Done()
		r.timer = nil
		keys = r.takePending()
	}
	r.mu.Unlock()

	r.runBatch(ctx, keys)
}

// Close drops the pending batch and waits for running ones.
func (r *Reconciler) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.timer != nil && r.timer.Stop() {
		r.wg.Done()
	}
	r.timer = nil
	r.takePending()
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Blocked reports whether key is waiting on a conflict decision.
func (r *Reconciler) Blocked(key domain.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked[key]
}

func (r *Reconciler) fire(gen uint64) {
	defer r.wg.Done()

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	keys := r.takePending()
	r.mu.Unlock()

	r.runBatch(r.ctx, keys)
}

// takePending empties the debounce buffer. Caller holds r.mu.
func (r *Reconciler) takePending() []domain.Key {
	keys := r.pending
	r.pending = nil
	r.queued = make(map[domain.Key]bool)
	return keys
}

func (r *Reconciler) runBatch(ctx context.Context, keys []domain.Key) {
	eligible := make([]domain.Key, 0, len(keys))
	for _, key := range keys {
		key = r.engine.Resolve(key)
		if key.IsTemporary() {
			continue
		}
		eligible = append(eligible, key)
	}
	if len(eligible) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BatchConcurrency)
	for _, chunk := range chunkKeys(eligible, r.cfg.MaxBatchSize) {
		chunk := chunk
		g.Go(func() error {
			r.refreshChunk(gctx, chunk)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reconciler) refreshChunk(ctx context.Context, keys []domain.Key) {
	res, err := r.api.BatchGet(ctx, keys)
	if err != nil {
		r.recorder.Reconciled(OutcomeFailed)
		r.logger.Warn("batch refresh failed",
			slog.Int("keys", len(keys)),
			slog.Any("error", err),
		)
		return
	}

	r.logger.Debug("batch refreshed",
		slog.Int("found", len(res.Found)),
		slog.Int("missing", len(res.Missing)),
	)
	for _, game := range res.Found {
		if reason := r.skipReason(game.Key); reason != "" {
			r.logOutcome(game.Key, OutcomeSkipped, nil, slog.String("reason", reason))
			continue
		}
		r.reconcile(ctx, game.Key, game)
	}
	for _, key := range res.Missing {
		r.purge(key)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, key domain.Key, remote domain.Game) {
	remote.Key = key

	var (
		conflict *domain.Conflict
		outcome  string
		changes  domain.Changes
	)
	r.engine.Exclusive(func() {
		if reason := r.skipReason(key); reason != "" {
			outcome = OutcomeSkipped
			return
		}
		local, ok := r.store.Get(key)
		if !ok {
			outcome = OutcomeSkipped
			return
		}

		changes = DetectChanges(*local, remote)
		switch {
		case len(changes) == 0:
			outcome = OutcomeNoop
		case HasConflict(changes):
			r.mu.Lock()
			r.blocked[key] = true
			r.mu.Unlock()
			conflict = &domain.Conflict{Key: key, Local: *local, Remote: remote.Clone(), Changes: changes}
			outcome = OutcomeConflict
		default:
			if err := r.store.Put(MergeFields(*local, remote, changes)); err != nil {
				r.logger.Error("apply remote changes", slog.String("key", key.String()), slog.Any("error", err))
				outcome = OutcomeFailed
				return
			}
			outcome = OutcomeApplied
		}
	})

	r.logOutcome(key, outcome, changes)
	if conflict != nil {
		r.resolve(ctx, *conflict)
	}
}

func (r *Reconciler) resolve(ctx context.Context, conflict domain.Conflict) {
	defer func() {
		r.mu.Lock()
		delete(r.blocked, conflict.Key)
		r.mu.Unlock()
	}()

	resolution := domain.ResolutionKeepLocal
	if r.presenter != nil {
		choice, err := r.presenter.PresentConflict(ctx, conflict)
		if err != nil {
			r.logger.Warn("conflict left unresolved",
				slog.String("key", conflict.Key.String()),
				slog.Any("error", err),
			)
			return
		}
		if choice.Valid() {
			resolution = choice
		}
	}

	if resolution == domain.ResolutionAcceptRemote {
		r.engine.Exclusive(func() {
			if r.store.HasOperation(conflict.Key) {
				return
			}
			if _, ok := r.store.Get(conflict.Key); !ok {
				return
			}
			if err := r.store.Put(conflict.Remote); err != nil {
				r.logger.Error("accept remote", slog.String("key", conflict.Key.String()), slog.Any("error", err))
			}
		})
		if r.notifier != nil {
			r.notifier.Info(fmt.Sprintf("Updated %s with the server version", displayName(conflict.Remote)))
		}
	} else if r.notifier != nil {
		r.notifier.Info(fmt.Sprintf("Kept your version of %s", displayName(conflict.Local)))
	}

	r.logOutcome(conflict.Key, OutcomeResolved, conflict.Changes, slog.String("resolution", string(resolution)))
}

func (r *Reconciler) purge(key domain.Key) {
	removed := false
	r.engine.Exclusive(func() {
		if r.store.HasOperation(key) {
			return
		}
		removed = r.store.Remove(key)
	})
	if removed {
		r.logOutcome(key, OutcomePurged, nil)
		return
	}
	r.logOutcome(key, OutcomeSkipped, nil, slog.String("reason", "not purged"))
}

func (r *Reconciler) skipReason(key domain.Key) string {
	switch {
	case key.IsTemporary():
		return "temporary key"
	case r.store.HasOperation(key):
		return "operation in flight"
	case r.Blocked(key):
		return "awaiting conflict decision"
	}
	return ""
}

func (r *Reconciler) logOutcome(key domain.Key, outcome string, changes domain.Changes, attrs ...any) {
	r.recorder.Reconciled(outcome)
	args := []any{
		slog.String("key", key.String()),
		slog.String("outcome", outcome),
	}
	if len(changes) > 0 {
		args = append(args, slog.Any("fields", changes.Fields()))
	}
	args = append(args, attrs...)
	r.logger.Info("reconciled", args...)
}

func chunkKeys(keys []domain.Key, size int) [][]domain.Key {
	var chunks [][]domain.Key
	for len(keys) > size {
		chunks = append(chunks, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		chunks = append(chunks, keys)
	}
	return chunks
}

func dedupe(keys []domain.Key) []domain.Key {
	seen := make(map[domain.Key]bool, len(keys))
	out := make([]domain.Key, 0, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func displayName(g domain.Game) string {
	if g.Name == "" {
		return "game " + g.Key.String()
	}
	return g.Name
}
