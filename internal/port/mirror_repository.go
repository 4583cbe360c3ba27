package port

import (
	"context"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

type MirrorRepository interface {
	// SaveGame upserts the last server-confirmed version of a game
	SaveGame(ctx context.Context, game domain.Game) error

	// DeleteGame drops a game that no longer exists on the server
	DeleteGame(ctx context.Context, key domain.Key) error

	// LoadGames returns every mirrored game in insertion order
	LoadGames(ctx context.Context) ([]domain.Game, error)
}
