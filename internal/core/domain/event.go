package domain

type EventType string

const (
	EventAdd              EventType = "add"
	EventUpdate           EventType = "update"
	EventRemove           EventType = "remove"
	EventOperationStarted EventType = "operation-started"
	EventOperationCleared EventType = "operation-cleared"
)

// StoreEvent is emitted for every state store mutation. Game is set for
// add/update/remove, Operation for operation events.
type StoreEvent struct {
	Type      EventType
	Key       Key
	Game      *Game
	Operation *Operation
}
