package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

var _ port.GameAPI = (*MemoryAPI)(nil)

// MemoryAPI is an in-process inventory server used by the load generator and
// tests. It enforces the same rules as the real server.
type MemoryAPI struct {
	mu       sync.Mutex
	games    map[domain.Key]domain.Game
	market   map[domain.Key]float64
	prices   map[domain.Key][]domain.PricePoint
	nextID   int64
	nextPID  int64
	latency  time.Duration
	failures []int
	calls    int
}

func NewMemoryAPI(latency time.Duration, seed ...domain.Game) *MemoryAPI {
	m := &MemoryAPI{
		games:   make(map[domain.Key]domain.Game),
		market:  make(map[domain.Key]float64),
		prices:  make(map[domain.Key][]domain.PricePoint),
		nextID:  1,
		nextPID: 1,
		latency: latency,
	}
	for _, g := range seed {
		if id, ok := g.Key.ID(); ok && id >= m.nextID {
			m.nextID = id + 1
		}
		if g.PurchasedGameID != nil && *g.PurchasedGameID >= m.nextPID {
			m.nextPID = *g.PurchasedGameID + 1
		}
		m.games[g.Key] = g.Clone()
	}
	return m
}

// FailNext makes the next calls fail with the given statuses, in order.
func (m *MemoryAPI) FailNext(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, statuses...)
}

// Set replaces a record server-side, as another client would.
func (m *MemoryAPI) Set(g domain.Game) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.Key] = g.Clone()
}

// SetMarketPrice sets the price the next UpdatePrice of key will observe.
func (m *MemoryAPI) SetMarketPrice(key domain.Key, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.market[key] = price
}

func (m *MemoryAPI) Drop(key domain.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, key)
}

func (m *MemoryAPI) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MemoryAPI) Get(ctx context.Context, key domain.Key) (*domain.Game, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key)
}

func (m *MemoryAPI) BatchGet(ctx context.Context, keys []domain.Key) (domain.BatchResult, error) {
	if len(keys) > maxBatchSize {
		return domain.BatchResult{}, &domain.RemoteError{Status: http.StatusBadRequest, Message: "Maximum 100 games per batch request"}
	}
	if err := m.enter(ctx); err != nil {
		return domain.BatchResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var res domain.BatchResult
	for _, key := range keys {
		if g, ok := m.games[key]; ok {
			res.Found = append(res.Found, g.Clone())
		} else {
			res.Missing = append(res.Missing, key)
		}
	}
	return res, nil
}

func (m *MemoryAPI) Create(ctx context.Context, req domain.CreateRequest) (*domain.Game, error) {
	if req.URL == "" {
		return nil, rejected("URL is required")
	}
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	console, name := domain.ParseProductURL(req.URL)
	g := domain.Game{
		Key:              domain.KeyFromID(m.nextID),
		Name:             name,
		Console:          console,
		Condition:        req.Condition,
		PricechartingURL: req.URL,
		IsWanted:         req.List == domain.ListWishlist,
	}
	m.nextID++
	if req.List == domain.ListCollection {
		g.PurchasedGameID = domain.Int(m.nextPID)
		m.nextPID++
		g.AcquiredOn = req.PurchaseDate
		g.SourceName = req.PurchaseSource
		g.PurchasePrice = req.PurchasePrice
	}
	m.games[g.Key] = g
	dup := g.Clone()
	return &dup, nil
}

func (m *MemoryAPI) Delete(ctx context.Context, key domain.Key, req domain.DeleteRequest) error {
	if err := m.enter(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(key); err != nil {
		return err
	}
	delete(m.games, key)
	return nil
}

func (m *MemoryAPI) EditFields(ctx context.Context, key domain.Key, edit domain.FieldEdit) (*domain.Game, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	if edit.Name != nil {
		if *edit.Name == "" {
			return nil, rejected("Name is required")
		}
		g.Name = *edit.Name
	}
	if edit.Console != nil {
		if *edit.Console == "" {
			return nil, rejected("Console is required")
		}
		g.Console = *edit.Console
	}
	if edit.Condition != nil {
		g.Condition = *edit.Condition
	}
	m.games[key] = g.Clone()
	return g, nil
}

func (m *MemoryAPI) Transition(ctx context.Context, key domain.Key, t domain.StatusTransition) (*domain.Game, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	switch t.Change {
	case domain.StatusLent:
		if g.PurchasedGameID == nil {
			return nil, &domain.RemoteError{Status: http.StatusNotFound, Message: "Game not found or not owned"}
		}
		if g.IsLent {
			return nil, rejected("Game is already lent out")
		}
		g.IsLent, g.LentDate, g.LentTo = true, t.LentDate, t.LentTo
	case domain.StatusReturned:
		g.IsLent, g.LentDate, g.LentTo, g.LentNote = false, "", "", ""
	case domain.StatusForSale:
		if g.PurchasedGameID == nil {
			return nil, &domain.RemoteError{Status: http.StatusNotFound, Message: "Game not found or not owned"}
		}
		g.IsForSale, g.AskingPrice, g.SaleNotes = true, t.AskingPrice, t.Notes
		g.SaleDateMarked = time.Now().Format(time.DateOnly)
	case domain.StatusNotForSale:
		if !g.IsForSale {
			return nil, &domain.RemoteError{Status: http.StatusNotFound, Message: "Game not found in for sale list"}
		}
		g.IsForSale, g.AskingPrice, g.SaleNotes, g.SaleDateMarked = false, nil, "", ""
	case domain.StatusPurchased:
		if g.List() != domain.ListWishlist {
			return nil, &domain.RemoteError{Status: http.StatusNotFound, Message: "Game not found in wishlist"}
		}
		if t.PurchaseDate == "" {
			return nil, rejected("Purchase date is required")
		}
		g.IsWanted = false
		g.PurchasedGameID = domain.Int(m.nextPID)
		m.nextPID++
		g.AcquiredOn, g.SourceName, g.PurchasePrice = t.PurchaseDate, t.PurchaseSource, t.PurchasePrice
	default:
		return nil, rejected("unknown status change")
	}
	m.games[key] = g.Clone()
	return g, nil
}

func (m *MemoryAPI) UpdatePrice(ctx context.Context, key domain.Key) (*domain.Game, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	if g.PricechartingURL == "" {
		return nil, rejected("This game is not linked to PriceCharting and cannot have prices updated.")
	}
	if price, ok := m.market[key]; ok {
		g.CurrentPrice = domain.Float(price)
	}
	m.prices[key] = append(m.prices[key], domain.PricePoint{
		Price: domain.Float(derefPrice(g.CurrentPrice)),
		Date:  time.Now().UTC().Format(time.DateTime),
	})
	m.games[key] = g.Clone()
	return g, nil
}

func (m *MemoryAPI) PriceHistory(ctx context.Context, key domain.Key) ([]domain.PricePoint, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(key); err != nil {
		return nil, err
	}
	return append([]domain.PricePoint(nil), m.prices[key]...), nil
}

func (m *MemoryAPI) LastPriceUpdate(ctx context.Context, key domain.Key) (string, error) {
	if err := m.enter(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.prices[key]
	if len(points) == 0 {
		return "", nil
	}
	return points[len(points)-1].Date, nil
}

// enter simulates latency and pops an injected failure.
func (m *MemoryAPI) enter(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	var status int
	if len(m.failures) > 0 {
		status = m.failures[0]
		m.failures = m.failures[1:]
	}
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return &domain.RemoteError{Message: ctx.Err().Error(), Err: ctx.Err()}
		case <-t.C:
		}
	}
	if status != 0 {
		return &domain.RemoteError{Status: status, Message: http.StatusText(status)}
	}
	return nil
}

// lookup returns a copy of the stored game. Caller holds m.mu.
func (m *MemoryAPI) lookup(key domain.Key) (*domain.Game, error) {
	g, ok := m.games[key]
	if !ok {
		return nil, &domain.RemoteError{Status: http.StatusNotFound, Message: "Game not found"}
	}
	dup := g.Clone()
	return &dup, nil
}

func derefPrice(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func rejected(msg string) error {
	return &domain.RemoteError{Status: http.StatusBadRequest, Message: msg}
}
