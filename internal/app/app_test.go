package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/game-shelf/internal/adapter/remote"
	"github.com/rl1809/game-shelf/internal/adapter/storage"
	"github.com/rl1809/game-shelf/internal/config"
	"github.com/rl1809/game-shelf/internal/core/domain"
)

// In-memory journal
type memJournal struct {
	mu      sync.Mutex
	ops     map[string]domain.Operation
	claimed map[string]bool
	records int
}

func newMemJournal(seed ...domain.Operation) *memJournal {
	j := &memJournal{ops: make(map[string]domain.Operation), claimed: make(map[string]bool)}
	for _, op := range seed {
		j.ops[op.CorrelationID] = op
	}
	return j
}

func (m *memJournal) Record(_ context.Context, op domain.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.CorrelationID] = op
	m.records++
	return nil
}

func (m *memJournal) Clear(_ context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, correlationID)
	return nil
}

func (m *memJournal) Pending(_ context.Context) ([]domain.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Operation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op)
	}
	return out, nil
}

func (m *memJournal) Claim(_ context.Context, correlationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[correlationID] {
		return false, nil
	}
	m.claimed[correlationID] = true
	return true, nil
}

func (m *memJournal) Records() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records
}

func (m *memJournal) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

func ownedGame(id int64, name string) domain.Game {
	return domain.Game{
		Key:             domain.KeyFromID(id),
		PurchasedGameID: domain.Int(id * 10),
		Name:            name,
		Console:         "Nintendo 64",
		Condition:       "complete",
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Engine.MaxRetries = 0
	cfg.Engine.RetryDelay = 0
	cfg.Reconciler.DebounceDelay = 10 * time.Millisecond
	cfg.Server.ConflictTimeout = time.Second
	cfg.Mirror.Workers = 2
	return cfg
}

func openMirror(t *testing.T, path string) *storage.SQLMirror {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := storage.OpenDB(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mirror, err := storage.NewSQLMirror(db, dialect)
	require.NoError(t, err)
	require.NoError(t, mirror.Migrate(ctx))
	return mirror
}

func newTestApp(t *testing.T, deps Deps) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), testConfig(), logger, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a
}

func closeApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestApp_MirrorsConfirmedState(t *testing.T) {
	mirror := openMirror(t, filepath.Join(t.TempDir(), "shelf.db"))
	api := remote.NewMemoryAPI(0, ownedGame(7, "Super Mario 64"))
	journal := newMemJournal()
	require.NoError(t, mirror.SaveGame(context.Background(), ownedGame(7, "Super Mario 64")))

	a := newTestApp(t, Deps{API: api, Journal: journal, Mirror: mirror})

	p, err := a.Inventory.MarkForSale(context.Background(), "7", domain.Float(40), "")
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.NoError(t, err)
	closeApp(t, a)

	games, err := mirror.LoadGames(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.True(t, games[0].IsForSale)
	assert.Equal(t, 40.0, *games[0].AskingPrice)
	assert.Equal(t, 1, journal.Records())
	assert.Equal(t, 0, journal.Len())
}

func TestApp_RolledBackStateIsMirrored(t *testing.T) {
	mirror := openMirror(t, filepath.Join(t.TempDir(), "shelf.db"))
	require.NoError(t, mirror.SaveGame(context.Background(), ownedGame(7, "Super Mario 64")))
	api := remote.NewMemoryAPI(0, ownedGame(7, "Super Mario 64"))
	api.FailNext(500)

	a := newTestApp(t, Deps{API: api, Journal: newMemJournal(), Mirror: mirror})

	p, err := a.Inventory.UpdateCondition(context.Background(), "7", "loose")
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.Error(t, err)
	closeApp(t, a)

	games, err := mirror.LoadGames(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "complete", games[0].Condition)
}

func TestApp_WarmStartAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelf.db")
	api := remote.NewMemoryAPI(0)
	journal := newMemJournal()

	first := newTestApp(t, Deps{API: api, Journal: journal, Mirror: openMirror(t, path)})
	p, err := first.Inventory.AddToCollection(context.Background(), domain.CreateRequest{
		URL: "https://www.pricecharting.com/game/nintendo-64/banjo-kazooie",
	})
	require.NoError(t, err)
	created, err := p.Wait(context.Background())
	require.NoError(t, err)
	closeApp(t, first)

	second := newTestApp(t, Deps{API: api, Journal: journal, Mirror: openMirror(t, path)})

	g, ok := second.Store.Get(created.Key)
	require.True(t, ok)
	assert.Equal(t, "Banjo Kazooie", g.Name)
	assert.Equal(t, 1, second.Store.Len())
}

func TestApp_RecoversInterruptedOperations(t *testing.T) {
	mirror := openMirror(t, filepath.Join(t.TempDir(), "shelf.db"))
	ctx := context.Background()
	require.NoError(t, mirror.SaveGame(ctx, ownedGame(7, "Super Mario 64")))
	require.NoError(t, mirror.SaveGame(ctx, ownedGame(8, "Wave Race 64")))

	lent := ownedGame(7, "Super Mario 64")
	lent.IsLent = true
	lent.LentTo = "Sam"
	api := remote.NewMemoryAPI(0, lent)

	journal := newMemJournal(
		domain.Operation{Key: "7", Kind: domain.OperationTransition, CorrelationID: "op-7"},
		domain.Operation{Key: "8", Kind: domain.OperationRemove, CorrelationID: "op-8"},
		domain.Operation{Key: "temp_1", Kind: domain.OperationCreate, CorrelationID: "op-tmp"},
	)

	a := newTestApp(t, Deps{API: api, Journal: journal, Mirror: mirror})

	g, ok := a.Store.Get("7")
	require.True(t, ok)
	assert.True(t, g.IsLent)
	_, ok = a.Store.Get("8")
	assert.False(t, ok)
	assert.Equal(t, 0, journal.Len())

	closeApp(t, a)
	games, err := mirror.LoadGames(ctx)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.True(t, games[0].IsLent)
}

func TestApp_HandlerServesHealth(t *testing.T) {
	a := newTestApp(t, Deps{
		API:     remote.NewMemoryAPI(0),
		Journal: newMemJournal(),
		Mirror:  openMirror(t, filepath.Join(t.TempDir(), "shelf.db")),
	})

	assert.HTTPSuccess(t, a.Handler().ServeHTTP, "GET", "/health", nil)
	assert.HTTPSuccess(t, a.Handler().ServeHTTP, "GET", "/metrics", nil)
	assert.HTTPBodyContains(t, a.Handler().ServeHTTP, "GET", "/ready", nil, `"mirror":"ok"`)
}
