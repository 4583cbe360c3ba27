package service

import (
	"context"
	"sync"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

// Mock GameAPI
type mockAPI struct {
	mu sync.Mutex

	getFn        func(ctx context.Context, key domain.Key) (*domain.Game, error)
	batchFn      func(ctx context.Context, keys []domain.Key) (domain.BatchResult, error)
	createFn     func(ctx context.Context, req domain.CreateRequest) (*domain.Game, error)
	deleteFn     func(ctx context.Context, key domain.Key, req domain.DeleteRequest) error
	editFn       func(ctx context.Context, key domain.Key, edit domain.FieldEdit) (*domain.Game, error)
	transitionFn func(ctx context.Context, key domain.Key, t domain.StatusTransition) (*domain.Game, error)
	priceFn      func(ctx context.Context, key domain.Key) (*domain.Game, error)
	historyFn    func(ctx context.Context, key domain.Key) ([]domain.PricePoint, error)

	gets    []domain.Key
	batches [][]domain.Key
	calls   int
}

func (m *mockAPI) Get(ctx context.Context, key domain.Key) (*domain.Game, error) {
	m.mu.Lock()
	m.gets = append(m.gets, key)
	m.calls++
	m.mu.Unlock()
	return m.getFn(ctx, key)
}

func (m *mockAPI) BatchGet(ctx context.Context, keys []domain.Key) (domain.BatchResult, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]domain.Key(nil), keys...))
	m.calls++
	m.mu.Unlock()
	return m.batchFn(ctx, keys)
}

func (m *mockAPI) Create(ctx context.Context, req domain.CreateRequest) (*domain.Game, error) {
	m.count()
	return m.createFn(ctx, req)
}

func (m *mockAPI) Delete(ctx context.Context, key domain.Key, req domain.DeleteRequest) error {
	m.count()
	return m.deleteFn(ctx, key, req)
}

func (m *mockAPI) EditFields(ctx context.Context, key domain.Key, edit domain.FieldEdit) (*domain.Game, error) {
	m.count()
	return m.editFn(ctx, key, edit)
}

func (m *mockAPI) Transition(ctx context.Context, key domain.Key, t domain.StatusTransition) (*domain.Game, error) {
	m.count()
	return m.transitionFn(ctx, key, t)
}

func (m *mockAPI) UpdatePrice(ctx context.Context, key domain.Key) (*domain.Game, error) {
	m.count()
	return m.priceFn(ctx, key)
}

func (m *mockAPI) PriceHistory(ctx context.Context, key domain.Key) ([]domain.PricePoint, error) {
	m.count()
	return m.historyFn(ctx, key)
}

func (m *mockAPI) LastPriceUpdate(ctx context.Context, key domain.Key) (string, error) {
	points, err := m.PriceHistory(ctx, key)
	if err != nil || len(points) == 0 {
		return "", err
	}
	return points[len(points)-1].Date, nil
}

func (m *mockAPI) count() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *mockAPI) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockAPI) Gets() []domain.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Key(nil), m.gets...)
}

func (m *mockAPI) Batches() [][]domain.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]domain.Key(nil), m.batches...)
}

// Mock Notifier
type mockNotifier struct {
	mu       sync.Mutex
	success  []string
	errors   []string
	warnings []string
	infos    []string
}

func (n *mockNotifier) Success(msg string) { n.add(&n.success, msg) }
func (n *mockNotifier) Error(msg string)   { n.add(&n.errors, msg) }
func (n *mockNotifier) Warning(msg string) { n.add(&n.warnings, msg) }
func (n *mockNotifier) Info(msg string)    { n.add(&n.infos, msg) }

func (n *mockNotifier) add(dst *[]string, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	*dst = append(*dst, msg)
}

func (n *mockNotifier) Errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

func (n *mockNotifier) Successes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.success...)
}

func (n *mockNotifier) Infos() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.infos...)
}

// Mock ConflictPresenter
type mockPresenter struct {
	mu        sync.Mutex
	answer    domain.Resolution
	conflicts []domain.Conflict

	// When release is set, PresentConflict signals entered and holds the
	// decision until release is closed.
	entered chan struct{}
	release chan struct{}
}

func (p *mockPresenter) PresentConflict(ctx context.Context, c domain.Conflict) (domain.Resolution, error) {
	p.mu.Lock()
	p.conflicts = append(p.conflicts, c)
	p.mu.Unlock()

	if p.release == nil {
		return p.answer, nil
	}
	p.entered <- struct{}{}
	select {
	case <-p.release:
		return p.answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func blockingPresenter(answer domain.Resolution) *mockPresenter {
	return &mockPresenter{
		answer:  answer,
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (p *mockPresenter) Conflicts() []domain.Conflict {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Conflict(nil), p.conflicts...)
}

func owned(id int64, name string) domain.Game {
	return domain.Game{
		Key:             domain.KeyFromID(id),
		PurchasedGameID: domain.Int(id * 10),
		Name:            name,
		Console:         "Nintendo 64",
		Condition:       "complete",
		PurchasePrice:   domain.Float(40),
		CurrentPrice:    domain.Float(10),
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 0, Timeout: 0}
}
