package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

var _ port.MirrorRepository = (*SQLMirror)(nil)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

const createMirrorTable = `
CREATE TABLE IF NOT EXISTS mirrored_games (
	game_key   VARCHAR(64) NOT NULL PRIMARY KEY,
	position   BIGINT      NOT NULL,
	list_name  VARCHAR(16) NOT NULL,
	name       VARCHAR(255) NOT NULL,
	console    VARCHAR(255) NOT NULL,
	payload    TEXT        NOT NULL,
	updated_at BIGINT      NOT NULL
)`

var upsertGame = map[Dialect]string{
	DialectMySQL: `
		INSERT INTO mirrored_games (game_key, position, list_name, name, console, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			list_name = VALUES(list_name), name = VALUES(name), console = VALUES(console),
			payload = VALUES(payload), updated_at = VALUES(updated_at)`,
	DialectSQLite: `
		INSERT INTO mirrored_games (game_key, position, list_name, name, console, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_key) DO UPDATE SET
			list_name = excluded.list_name, name = excluded.name, console = excluded.console,
			payload = excluded.payload, updated_at = excluded.updated_at`,
}

// SQLMirror stores the last server-confirmed version of each game so the
// store can be warmed before the first refresh completes.
type SQLMirror struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	last    atomic.Int64
}

func NewSQLMirror(db *sql.DB, dialect Dialect) (*SQLMirror, error) {
	if _, ok := upsertGame[dialect]; !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return &SQLMirror{db: db, dialect: dialect, now: time.Now}, nil
}

func (m *SQLMirror) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMirrorTable); err != nil {
		return fmt.Errorf("create mirror table: %w", err)
	}
	return nil
}

func (m *SQLMirror) SaveGame(ctx context.Context, game domain.Game) error {
	if game.Key == "" || game.Key.IsTemporary() {
		return &domain.ValidationError{Field: "key", Reason: "only confirmed games are mirrored", Err: domain.ErrInvalidRecord}
	}
	payload, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("encode game: %w", err)
	}

	now := m.now()
	_, err = m.db.ExecContext(ctx, upsertGame[m.dialect],
		game.Key.String(), m.nextPosition(now), string(game.List()), game.Name, game.Console,
		string(payload), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert game: %w", err)
	}
	return nil
}

// nextPosition is strictly increasing even when the clock is coarse.
func (m *SQLMirror) nextPosition(now time.Time) int64 {
	for {
		last := m.last.Load()
		pos := max(now.UnixNano(), last+1)
		if m.last.CompareAndSwap(last, pos) {
			return pos
		}
	}
}

func (m *SQLMirror) DeleteGame(ctx context.Context, key domain.Key) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM mirrored_games WHERE game_key = ?`, key.String()); err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}

func (m *SQLMirror) LoadGames(ctx context.Context) ([]domain.Game, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT payload FROM mirrored_games ORDER BY position, game_key`)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		var g domain.Game
		if err := json.Unmarshal([]byte(payload), &g); err != nil {
			return nil, fmt.Errorf("decode game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return games, nil
}

func (m *SQLMirror) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
