package port

import (
	"context"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

// GameReader is the read side of the remote inventory service.
type GameReader interface {
	// Get fetches one game, domain.ErrNotFound when it no longer exists
	Get(ctx context.Context, key domain.Key) (*domain.Game, error)

	// BatchGet fetches many games in one request and reports the missing keys
	BatchGet(ctx context.Context, keys []domain.Key) (domain.BatchResult, error)
}

// PriceReader exposes the market price log the server keeps per game.
type PriceReader interface {
	// PriceHistory lists observations for the game's condition, oldest first
	PriceHistory(ctx context.Context, key domain.Key) ([]domain.PricePoint, error)

	// LastPriceUpdate returns the newest retrieve time, empty when never priced
	LastPriceUpdate(ctx context.Context, key domain.Key) (string, error)
}

// GameAPI is the remote inventory service. Failures are *domain.RemoteError.
type GameAPI interface {
	GameReader
	PriceReader

	// Create adds a game to the wishlist or collection and returns the stored record
	Create(ctx context.Context, req domain.CreateRequest) (*domain.Game, error)

	// Delete removes a game from its list
	Delete(ctx context.Context, key domain.Key, req domain.DeleteRequest) error

	// EditFields updates name, console or condition and returns the canonical record
	EditFields(ctx context.Context, key domain.Key, edit domain.FieldEdit) (*domain.Game, error)

	// Transition changes lending, sale or purchase status and returns the canonical record
	Transition(ctx context.Context, key domain.Key, t domain.StatusTransition) (*domain.Game, error)

	// UpdatePrice asks the server to scrape a fresh market price and returns the canonical record
	UpdatePrice(ctx context.Context, key domain.Key) (*domain.Game, error)
}
