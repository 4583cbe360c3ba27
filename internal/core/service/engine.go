package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

// LocalEffect applies the optimistic change. It runs exactly once, before the
// remote call, and must not do I/O.
type LocalEffect func(store *StateStore) error

// RemoteCall confirms the change with the server. key is the entity's current
// key, which differs from the one passed to Apply once a create is confirmed.
type RemoteCall func(ctx context.Context, key domain.Key) (*domain.Game, error)

type Options struct {
	// Rollback undoes side effects of the local effect beyond the store, which
	// the engine restores from the snapshot itself.
	Rollback  func(snapshot *domain.Game)
	OnSuccess func(game *domain.Game)
	OnError   func(err error)

	SuccessMessage string
	ErrorMessage   string

	// Retry overrides the engine policy for this operation.
	Retry *RetryPolicy
}

// Pending is the handle of an applied operation whose remote phase may still
// be running.
type Pending struct {
	mu   sync.Mutex
	key  domain.Key
	kind domain.OperationKind
	done chan struct{}
	game *domain.Game
	err  error
}

func (p *Pending) Key() domain.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

func (p *Pending) Kind() domain.OperationKind {
	return p.kind
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation is confirmed or rolled back.
func (p *Pending) Wait(ctx context.Context) (*domain.Game, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.game, p.err
	}
}

func (p *Pending) setKey(key domain.Key) {
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
}

type task struct {
	key           domain.Key
	kind          domain.OperationKind
	correlationID string
	snapshot      *domain.Game
	remote        RemoteCall
	opts          Options
	ctx           context.Context
	canceled      bool
	pending       *Pending
}

// lane serializes the remote calls of one entity.
type lane struct {
	active *task
	queue  []*task
}

// Engine runs the optimistic update lifecycle. Every entity has one lane:
// a single remote call in flight, successors queued in FIFO order whatever
// their kind.
type Engine struct {
	store    *StateStore
	notifier port.Notifier
	recorder port.Recorder
	logger   *slog.Logger
	retry    RetryPolicy

	// loop stands in for the browser event loop: the synchronous part of
	// apply, settle and cancel never interleave.
	loop    sync.Mutex
	lanes   map[domain.Key]*lane
	aliases map[domain.Key]domain.Key

	wg sync.WaitGroup
}

type EngineOption func(*Engine)

func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = p }
}

func WithRecorder(r port.Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(store *StateStore, notifier port.Notifier, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		recorder: port.NopRecorder{},
		logger:   slog.Default(),
		retry:    DefaultRetryPolicy(),
		lanes:    make(map[domain.Key]*lane),
		aliases:  make(map[domain.Key]domain.Key),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() *StateStore {
	return e.store
}

// Exclusive runs fn without interleaving with any apply, settle or cancel.
func (e *Engine) Exclusive(fn func()) {
	e.loop.Lock()
	defer e.loop.Unlock()
	fn()
}

// Resolve maps a temporary key to its confirmed key once known.
func (e *Engine) Resolve(key domain.Key) domain.Key {
	e.loop.Lock()
	defer e.loop.Unlock()
	return e.resolve(key)
}

// Apply runs local immediately and schedules remote. The returned error only
// covers the synchronous phase; remote failures are rolled back and reported
// through Pending.Wait, Options.OnError and the notifier.
func (e *Engine) Apply(ctx context.Context, key domain.Key, kind domain.OperationKind, local LocalEffect, remote RemoteCall, opts Options) (*Pending, error) {
	if key == "" {
		return nil, domain.Invalid("key", "entity key is required")
	}
	if remote == nil {
		return nil, domain.Invalid("remote", "remote call is required")
	}

	e.loop.Lock()
	key = e.resolve(key)
	current, _ := e.store.Get(key)
	t := &task{
		key:           key,
		kind:          kind,
		correlationID: ulid.Make().String(),
		snapshot:      domain.Snapshot(current),
		remote:        remote,
		opts:          opts,
		ctx:           context.WithoutCancel(ctx),
		pending:       &Pending{key: key, kind: kind, done: make(chan struct{})},
	}

	l := e.lanes[key]
	if l == nil {
		l = &lane{}
		e.lanes[key] = l
	}
	started := l.active == nil
	if started {
		l.active = t
		e.store.MarkOperation(key, kind, t.correlationID)
		e.recorder.OperationStarted(kind)
	} else {
		l.queue = append(l.queue, t)
		e.recorder.OperationQueued(kind)
	}

	if err := runLocal(local, e.store); err != nil {
		next := e.abandon(l, t)
		e.loop.Unlock()

		e.logger.Warn("local effect failed",
			slog.String("key", key.String()),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		e.recorder.OperationSettled(kind, "local_failed")
		t.pending.err = err
		close(t.pending.done)
		if next != nil {
			e.launch(next)
		}
		return nil, fmt.Errorf("local effect: %w", err)
	}
	e.loop.Unlock()

	e.logger.Debug("operation applied",
		slog.String("key", key.String()),
		slog.String("kind", string(kind)),
		slog.String("correlation_id", t.correlationID),
		slog.Bool("queued", !started),
	)
	if started {
		e.launch(t)
	}
	return t.pending, nil
}

// CancelPendingOperations rolls back every queued operation for key now and
// flags the in-flight one so its late result is rolled back too. It returns
// how many operations were affected.
func (e *Engine) CancelPendingOperations(key domain.Key) int {
	e.loop.Lock()
	key = e.resolve(key)
	l := e.lanes[key]
	if l == nil {
		e.loop.Unlock()
		return 0
	}

	queued := l.queue
	l.queue = nil
	// Newest first, so the oldest snapshot is the one left in the store.
	for i := len(queued) - 1; i >= 0; i-- {
		e.restore(queued[i])
	}
	affected := len(queued)
	if l.active != nil && !l.active.canceled {
		l.active.canceled = true
		affected++
	}
	e.loop.Unlock()

	for i := len(queued) - 1; i >= 0; i-- {
		t := queued[i]
		e.recorder.OperationSettled(t.kind, "canceled")
		e.finish(t, nil, domain.ErrCanceled)
	}
	if affected > 0 {
		e.logger.Info("pending operations canceled",
			slog.String("key", key.String()),
			slog.Int("count", affected),
		)
	}
	return affected
}

// Close waits for in-flight remote calls to settle.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) launch(t *task) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(t)
	}()
}

func (e *Engine) run(t *task) {
	policy := e.retry
	if t.opts.Retry != nil {
		policy = *t.opts.Retry
	}

	e.loop.Lock()
	key := t.key
	e.loop.Unlock()

	game, err := policy.Do(t.ctx, func(ctx context.Context) (*domain.Game, error) {
		return t.remote(ctx, key)
	}, func(n int, err error) {
		e.recorder.RetryAttempted(t.kind)
		e.logger.Warn("retrying remote call",
			slog.String("key", key.String()),
			slog.String("kind", string(t.kind)),
			slog.Int("retry", n),
			slog.Any("error", err),
		)
	})

	var dropped []*task
	e.loop.Lock()
	if t.canceled {
		err = domain.ErrCanceled
		game = nil
	}
	if err != nil {
		if t.key.IsTemporary() {
			// The entity never existed on the server; nothing queued behind
			// its create can succeed.
			dropped = e.dropQueue(t)
		}
		e.restore(t)
		e.store.ClearOperation(t.key)
	} else {
		game = e.confirm(t, game)
		e.store.ClearOperation(t.key)
	}
	next := e.advance(t)
	e.loop.Unlock()

	if next != nil {
		e.launch(next)
	}
	for _, d := range dropped {
		e.recorder.OperationSettled(d.kind, "canceled")
		e.finish(d, nil, domain.ErrCanceled)
	}

	switch {
	case err == nil:
		e.recorder.OperationSettled(t.kind, "confirmed")
		e.logger.Info("operation confirmed",
			slog.String("key", t.pending.Key().String()),
			slog.String("kind", string(t.kind)),
			slog.String("correlation_id", t.correlationID),
		)
	case errors.Is(err, domain.ErrCanceled):
		e.recorder.OperationSettled(t.kind, "canceled")
	default:
		e.recorder.OperationSettled(t.kind, "rolled_back")
		e.logger.Error("operation rolled back",
			slog.String("key", t.key.String()),
			slog.String("kind", string(t.kind)),
			slog.String("correlation_id", t.correlationID),
			slog.Any("error", err),
		)
	}
	e.finish(t, game, err)
}

// confirm writes the server record, re-keying a temporary entity. Caller
// holds the loop.
func (e *Engine) confirm(t *task, game *domain.Game) *domain.Game {
	if game == nil {
		return nil
	}
	confirmed := game.Clone()
	if confirmed.Key == "" {
		confirmed.Key = t.key
	}

	if confirmed.Key != t.key && t.key.IsTemporary() {
		from := t.key
		if err := e.store.Rekey(from, confirmed.Key, confirmed); err != nil {
			e.logger.Error("rekey failed", slog.String("key", from.String()), slog.Any("error", err))
			return &confirmed
		}
		e.aliases[from] = confirmed.Key
		if l, ok := e.lanes[from]; ok {
			delete(e.lanes, from)
			e.lanes[confirmed.Key] = l
			for _, queued := range l.queue {
				queued.key = confirmed.Key
				queued.pending.setKey(confirmed.Key)
			}
		}
		t.key = confirmed.Key
		t.pending.setKey(confirmed.Key)
		return &confirmed
	}

	if err := e.store.Put(confirmed); err != nil {
		e.logger.Error("store server record", slog.String("key", t.key.String()), slog.Any("error", err))
	}
	return &confirmed
}

// restore puts the snapshot back. Caller holds the loop.
func (e *Engine) restore(t *task) {
	if t.snapshot == nil {
		e.store.Remove(t.key)
	} else {
		snap := t.snapshot.Clone()
		snap.Key = t.key
		if err := e.store.Put(snap); err != nil {
			e.logger.Error("restore snapshot", slog.String("key", t.key.String()), slog.Any("error", err))
		}
	}
	if t.opts.Rollback != nil {
		safeCall(e.logger, "rollback", func() { t.opts.Rollback(domain.Snapshot(t.snapshot)) })
	}
}

// advance promotes the next queued task of t's lane. Caller holds the loop.
func (e *Engine) advance(t *task) *task {
	l := e.lanes[t.key]
	if l == nil || l.active != t {
		return nil
	}
	if len(l.queue) == 0 {
		l.active = nil
		delete(e.lanes, t.key)
		return nil
	}
	next := l.queue[0]
	l.queue = l.queue[1:]
	l.active = next
	next.key = t.key
	e.store.MarkOperation(next.key, next.kind, next.correlationID)
	e.recorder.OperationStarted(next.kind)
	return next
}

// dropQueue rolls back everything queued behind t, newest first. Caller
// holds the loop.
func (e *Engine) dropQueue(t *task) []*task {
	l := e.lanes[t.key]
	if l == nil || l.active != t {
		return nil
	}
	queued := l.queue
	l.queue = nil
	for i := len(queued) - 1; i >= 0; i-- {
		e.restore(queued[i])
	}
	return queued
}

// abandon undoes a task whose local effect failed. Caller holds the loop.
func (e *Engine) abandon(l *lane, t *task) *task {
	e.restore(t)
	if l.active != t {
		for i, queued := range l.queue {
			if queued == t {
				l.queue = append(l.queue[:i], l.queue[i+1:]...)
				break
			}
		}
		return nil
	}
	e.store.ClearOperation(t.key)
	return e.advance(t)
}

func (e *Engine) finish(t *task, game *domain.Game, err error) {
	if err == nil {
		if t.opts.OnSuccess != nil {
			safeCall(e.logger, "on success", func() { t.opts.OnSuccess(domain.Snapshot(game)) })
		}
		if e.notifier != nil && t.opts.SuccessMessage != "" {
			e.notifier.Success(t.opts.SuccessMessage)
		}
	} else {
		if t.opts.OnError != nil {
			safeCall(e.logger, "on error", func() { t.opts.OnError(err) })
		}
		if e.notifier != nil && !errors.Is(err, domain.ErrCanceled) {
			e.notifier.Error(failureMessage(t.opts.ErrorMessage, err))
		}
	}

	t.pending.mu.Lock()
	t.pending.game = game
	t.pending.err = err
	t.pending.mu.Unlock()
	close(t.pending.done)
}

func (e *Engine) resolve(key domain.Key) domain.Key {
	for i := 0; i < len(e.aliases)+1; i++ {
		next, ok := e.aliases[key]
		if !ok {
			return key
		}
		key = next
	}
	return key
}

func failureMessage(prefix string, err error) string {
	if prefix == "" {
		prefix = "Operation failed"
	}
	var rerr *domain.RemoteError
	if errors.As(err, &rerr) && rerr.Message != "" {
		return prefix + ": " + rerr.Message
	}
	return prefix
}

func runLocal(local LocalEffect, store *StateStore) (err error) {
	if local == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return local(store)
}

func safeCall(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback failed", slog.String("callback", name), slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}
