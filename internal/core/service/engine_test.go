package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

func newTestEngine(t *testing.T, seed ...domain.Game) (*Engine, *mockNotifier) {
	t.Helper()
	store := NewStateStore(nil)
	for _, g := range seed {
		require.NoError(t, store.Put(g))
	}
	notifier := &mockNotifier{}
	engine := NewEngine(store, notifier, WithRetryPolicy(fastRetry()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	return engine, notifier
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func rename(name string) LocalEffect {
	return func(s *StateStore) error {
		g, ok := s.Get("1")
		if !ok {
			return domain.ErrNotFound
		}
		g.Name = name
		return s.Put(*g)
	}
}

func TestEngine_TemporaryKeyReplacedOnConfirmation(t *testing.T) {
	engine, notifier := newTestEngine(t)
	store := engine.Store()

	var seen []domain.Key
	store.Subscribe(func(e domain.StoreEvent) {
		if e.Type == domain.EventAdd || e.Type == domain.EventRemove {
			seen = append(seen, e.Key)
		}
	})

	p, err := engine.Apply(context.Background(), "temp_1", domain.OperationCreate,
		func(s *StateStore) error {
			return s.Put(domain.Game{Key: "temp_1", Name: "Zelda", IsWanted: true})
		},
		func(_ context.Context, key domain.Key) (*domain.Game, error) {
			assert.Equal(t, domain.Key("temp_1"), key)
			return &domain.Game{Key: "42", Name: "Zelda", IsWanted: true}, nil
		},
		Options{SuccessMessage: "Game added to wishlist"},
	)
	require.NoError(t, err)

	_, ok := store.Get("temp_1")
	assert.True(t, ok, "optimistic record visible before confirmation")

	game, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, domain.Key("42"), game.Key)
	assert.Equal(t, domain.Key("42"), p.Key())

	_, ok = store.Get("temp_1")
	assert.False(t, ok)
	confirmed, ok := store.Get("42")
	require.True(t, ok)
	assert.Equal(t, "Zelda", confirmed.Name)
	assert.False(t, store.HasOperation("42"))
	assert.Equal(t, domain.Key("42"), engine.Resolve("temp_1"))
	assert.Equal(t, []domain.Key{"temp_1", "temp_1", "42"}, seen)
	assert.Equal(t, []string{"Game added to wishlist"}, notifier.Successes())
}

func TestEngine_RollbackAfterRetriesExhausted(t *testing.T) {
	original := owned(1, "Zelda")
	engine, notifier := newTestEngine(t, original)

	var attempts, onError, rollbacks atomic.Int32
	p, err := engine.Apply(context.Background(), "1", domain.OperationTransition,
		func(s *StateStore) error {
			g, _ := s.Get("1")
			g.IsLent = true
			g.LentTo = "Sam"
			return s.Put(*g)
		},
		func(context.Context, domain.Key) (*domain.Game, error) {
			attempts.Add(1)
			return nil, &domain.RemoteError{Status: http.StatusInternalServerError, Message: "database is locked"}
		},
		Options{
			OnError:      func(error) { onError.Add(1) },
			Rollback:     func(*domain.Game) { rollbacks.Add(1) },
			ErrorMessage: "Failed to mark game as lent",
		},
	)
	require.NoError(t, err)

	lent, _ := engine.Store().Get("1")
	assert.True(t, lent.IsLent)

	_, err = p.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int32(1), onError.Load())
	assert.Equal(t, int32(1), rollbacks.Load())

	restored, _ := engine.Store().Get("1")
	assert.Equal(t, original, *restored)
	assert.False(t, engine.Store().HasOperation("1"))
	assert.Equal(t, []string{"Failed to mark game as lent: database is locked"}, notifier.Errors())
}

func TestEngine_RejectedIsNotRetried(t *testing.T) {
	original := owned(1, "Zelda")
	engine, _ := newTestEngine(t, original)

	var attempts atomic.Int32
	p, err := engine.Apply(context.Background(), "1", domain.OperationEditField, rename("Link"),
		func(context.Context, domain.Key) (*domain.Game, error) {
			attempts.Add(1)
			return nil, &domain.RemoteError{Status: http.StatusBadRequest, Message: "Name is required"}
		}, Options{})
	require.NoError(t, err)

	_, err = p.Wait(waitCtx(t))
	assert.True(t, domain.IsRejected(err))
	assert.Equal(t, int32(1), attempts.Load())
	restored, _ := engine.Store().Get("1")
	assert.Equal(t, original, *restored)
}

func TestEngine_OneRemoteCallInFlightPerEntity(t *testing.T) {
	engine, _ := newTestEngine(t, owned(1, "Zelda"))

	var (
		inFlight, maxInFlight atomic.Int32
		mu                    sync.Mutex
		order                 []string
	)
	remote := func(name string) RemoteCall {
		return func(context.Context, domain.Key) (*domain.Game, error) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			inFlight.Add(-1)
			g := owned(1, name)
			return &g, nil
		}
	}

	names := []string{"a", "b", "c", "d", "e"}
	var pendings []*Pending
	for _, name := range names {
		p, err := engine.Apply(context.Background(), "1", domain.OperationEditField, rename(name), remote(name), Options{})
		require.NoError(t, err)
		pendings = append(pendings, p)
	}
	for _, p := range pendings {
		_, err := p.Wait(waitCtx(t))
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, names, order)
	final, _ := engine.Store().Get("1")
	assert.Equal(t, "e", final.Name)
	assert.False(t, engine.Store().HasOperation("1"))
}

func TestEngine_CancelPendingOperations(t *testing.T) {
	original := owned(1, "Zelda")
	engine, notifier := newTestEngine(t, original)

	release := make(chan struct{})
	blocking := func(context.Context, domain.Key) (*domain.Game, error) {
		<-release
		g := owned(1, "from server")
		return &g, nil
	}
	first, err := engine.Apply(context.Background(), "1", domain.OperationEditField, rename("a"), blocking, Options{})
	require.NoError(t, err)
	second, err := engine.Apply(context.Background(), "1", domain.OperationEditField, rename("b"), blocking, Options{})
	require.NoError(t, err)
	third, err := engine.Apply(context.Background(), "1", domain.OperationEditField, rename("c"), blocking, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, engine.CancelPendingOperations("1"))

	_, err = second.Wait(waitCtx(t))
	assert.ErrorIs(t, err, domain.ErrCanceled)
	_, err = third.Wait(waitCtx(t))
	assert.ErrorIs(t, err, domain.ErrCanceled)

	// Queued work is undone immediately; the in-flight edit keeps its value.
	current, _ := engine.Store().Get("1")
	assert.Equal(t, "a", current.Name)

	close(release)
	_, err = first.Wait(waitCtx(t))
	assert.ErrorIs(t, err, domain.ErrCanceled)

	restored, _ := engine.Store().Get("1")
	assert.Equal(t, original, *restored)
	assert.Empty(t, notifier.Errors())
	assert.Equal(t, 0, engine.CancelPendingOperations("1"))
}

func TestEngine_LocalEffectFailure(t *testing.T) {
	original := owned(1, "Zelda")
	engine, _ := newTestEngine(t, original)

	called := false
	_, err := engine.Apply(context.Background(), "1", domain.OperationEditField,
		func(s *StateStore) error {
			g, _ := s.Get("1")
			g.Name = "half applied"
			_ = s.Put(*g)
			return domain.Invalid("name", "bad name")
		},
		func(context.Context, domain.Key) (*domain.Game, error) {
			called = true
			return nil, nil
		}, Options{})

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.False(t, called)
	restored, _ := engine.Store().Get("1")
	assert.Equal(t, original, *restored)
	assert.False(t, engine.Store().HasOperation("1"))
}

func TestEngine_FailedCreateDropsQueuedSuccessors(t *testing.T) {
	engine, _ := newTestEngine(t)

	release := make(chan struct{})
	create, err := engine.Apply(context.Background(), "temp_1", domain.OperationCreate,
		func(s *StateStore) error { return s.Put(domain.Game{Key: "temp_1", Name: "Zelda"}) },
		func(context.Context, domain.Key) (*domain.Game, error) {
			<-release
			return nil, &domain.RemoteError{Status: http.StatusBadRequest, Message: "URL is required"}
		}, Options{})
	require.NoError(t, err)

	edit, err := engine.Apply(context.Background(), "temp_1", domain.OperationEditField,
		func(s *StateStore) error {
			g, _ := s.Get("temp_1")
			g.Condition = "loose"
			return s.Put(*g)
		},
		func(context.Context, domain.Key) (*domain.Game, error) {
			t.Error("edit of a never-created game must not reach the server")
			return nil, nil
		}, Options{})
	require.NoError(t, err)

	close(release)
	_, err = create.Wait(waitCtx(t))
	assert.True(t, domain.IsRejected(err))
	_, err = edit.Wait(waitCtx(t))
	assert.ErrorIs(t, err, domain.ErrCanceled)

	assert.Equal(t, 0, engine.Store().Len())
}

func TestEngine_DifferentEntitiesRunConcurrently(t *testing.T) {
	engine, _ := newTestEngine(t, owned(1, "A"), owned(2, "B"))

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	remote := func(id int64) RemoteCall {
		return func(context.Context, domain.Key) (*domain.Game, error) {
			started.Done()
			<-release
			g := owned(id, "ok")
			return &g, nil
		}
	}

	p1, err := engine.Apply(context.Background(), "1", domain.OperationEditField, nil, remote(1), Options{})
	require.NoError(t, err)
	p2, err := engine.Apply(context.Background(), "2", domain.OperationEditField, nil, remote(2), Options{})
	require.NoError(t, err)

	started.Wait()
	close(release)
	_, err = p1.Wait(waitCtx(t))
	require.NoError(t, err)
	_, err = p2.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestEngine_ApplyValidatesArguments(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Apply(context.Background(), "", domain.OperationCreate, nil,
		func(context.Context, domain.Key) (*domain.Game, error) { return nil, nil }, Options{})
	assert.Error(t, err)

	_, err = engine.Apply(context.Background(), "1", domain.OperationCreate, nil, nil, Options{})
	assert.Error(t, err)
}
