package port

import "github.com/rl1809/game-shelf/internal/core/domain"

// Recorder receives counters from the engine and reconciler.
type Recorder interface {
	OperationStarted(kind domain.OperationKind)
	OperationQueued(kind domain.OperationKind)
	OperationSettled(kind domain.OperationKind, outcome string)
	RetryAttempted(kind domain.OperationKind)
	Reconciled(outcome string)
}

type NopRecorder struct{}

func (NopRecorder) OperationStarted(domain.OperationKind)         {}
func (NopRecorder) OperationQueued(domain.OperationKind)          {}
func (NopRecorder) OperationSettled(domain.OperationKind, string) {}
func (NopRecorder) RetryAttempted(domain.OperationKind)           {}
func (NopRecorder) Reconciled(string)                             {}
