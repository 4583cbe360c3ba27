package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/game-shelf/internal/adapter/remote"
	"github.com/rl1809/game-shelf/internal/adapter/storage"
	"github.com/rl1809/game-shelf/internal/core/domain"
)

type testEnv struct {
	redis   *redis.Client
	journal *storage.RedisJournal
	mirror  *storage.SQLMirror
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/shelf?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	ctx := context.Background()
	db, dialect, err := storage.OpenDB(ctx, mysqlDSN)
	if err != nil {
		rdb.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	mirror, err := storage.NewSQLMirror(db, dialect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mirror.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.ExecContext(ctx, `DELETE FROM mirrored_games`)

	namespace := "it-" + uuid.New().String()
	return &testEnv{
		redis:   rdb,
		journal: storage.NewRedisJournal(rdb, namespace),
		mirror:  mirror,
		cleanup: func() {
			keys, _ := rdb.Keys(ctx, namespace+":*").Result()
			if len(keys) > 0 {
				rdb.Del(ctx, keys...)
			}
			db.ExecContext(ctx, `DELETE FROM mirrored_games`)
			rdb.Close()
			db.Close()
		},
	}
}

func TestIntegration_RapidEditsSameGame(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	api := remote.NewMemoryAPI(5*time.Millisecond, ownedGame(7, "Super Mario 64"))
	if err := env.mirror.SaveGame(ctx, ownedGame(7, "Super Mario 64")); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(ctx, testConfig(), logger, Deps{API: api, Journal: env.journal, Mirror: env.mirror})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conditions := []string{"loose", "new", "complete", "loose", "new"}
	var wg sync.WaitGroup
	var errCount int
	var mu sync.Mutex
	for _, c := range conditions {
		p, err := a.Inventory.UpdateCondition(ctx, "7", c)
		if err != nil {
			t.Fatalf("update condition: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Wait(ctx); err != nil {
				mu.Lock()
				errCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if errCount != 0 {
		t.Errorf("expected all edits to succeed, got %d failures", errCount)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	remoteGame, _ := api.Get(ctx, "7")
	if remoteGame.Condition != "new" {
		t.Errorf("expected server condition new, got %s", remoteGame.Condition)
	}

	games, err := env.mirror.LoadGames(ctx)
	if err != nil {
		t.Fatalf("load mirror: %v", err)
	}
	if len(games) != 1 || games[0].Condition != "new" {
		t.Errorf("expected mirrored condition new, got %+v", games)
	}

	pending, err := env.journal.Pending(ctx)
	if err != nil {
		t.Fatalf("journal pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty journal, got %d entries", len(pending))
	}
}

func TestIntegration_IdempotencyPreventsDoubleClaim(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	requestID := "request:" + uuid.New().String()

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := env.journal.Claim(ctx, requestID)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Errorf("expected exactly 1 claim, got %d", claimed)
	}
}

func TestIntegration_RestartRecoversJournal(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	if err := env.mirror.SaveGame(ctx, ownedGame(9, "F-Zero X")); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}
	if err := env.journal.Record(ctx, domain.Operation{
		Key:           "9",
		Kind:          domain.OperationEditField,
		StartedAt:     time.Now(),
		CorrelationID: uuid.New().String(),
	}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	server := ownedGame(9, "F-Zero X")
	server.Condition = "loose"
	api := remote.NewMemoryAPI(0, server)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(ctx, testConfig(), logger, Deps{API: api, Journal: env.journal, Mirror: env.mirror})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close(ctx)

	g, ok := a.Store.Get("9")
	if !ok || g.Condition != "loose" {
		t.Errorf("expected recovered condition loose, got %+v", g)
	}
	pending, _ := env.journal.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected journal to be cleared, got %d", len(pending))
	}
}
