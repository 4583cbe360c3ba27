package port

import (
	"context"

	"github.com/rl1809/game-shelf/internal/core/domain"
)

type JournalRepository interface {
	// Record stores an in-flight operation so a restart can reconcile it
	Record(ctx context.Context, op domain.Operation) error

	// Clear removes the journal entry for a settled operation
	Clear(ctx context.Context, correlationID string) error

	// Pending lists operations that never settled
	Pending(ctx context.Context) ([]domain.Operation, error)

	// Claim marks a correlation id as seen, returns false if already claimed
	Claim(ctx context.Context, correlationID string) (bool, error)
}
