package port

import (
	"context"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

type ConflictPresenter interface {
	// PresentConflict shows both versions and blocks until the user picks one
	PresentConflict(ctx context.Context, conflict domain.Conflict) (domain.Resolution, error)
}
