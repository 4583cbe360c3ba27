package domain

import "time"

type OperationKind string

const (
	OperationCreate     OperationKind = "create"
	OperationRemove     OperationKind = "remove"
	OperationEditField  OperationKind = "edit-field"
	OperationTransition OperationKind = "transition-status"
)

// Operation describes the mutation currently awaiting server confirmation
// for one entity.
type Operation struct {
	Key           Key
	Kind          OperationKind
	StartedAt     time.Time
	CorrelationID string
}

type StatusChange string

const (
	StatusLent       StatusChange = "lent"
	StatusReturned   StatusChange = "returned"
	StatusForSale    StatusChange = "for-sale"
	StatusNotForSale StatusChange = "not-for-sale"
	// StatusPurchased moves a wishlist game into the collection.
	StatusPurchased StatusChange = "purchased"
)

type CreateRequest struct {
	List           List
	URL            string
	Condition      string
	PurchaseDate   string
	PurchasePrice  *float64
	PurchaseSource string
}

type DeleteRequest struct {
	List            List
	PurchasedGameID *int64
}

// FieldEdit carries the fields being edited; nil fields are left alone.
type FieldEdit struct {
	List      List
	Name      *string
	Console   *string
	Condition *string
}

type StatusTransition struct {
	Change      StatusChange
	LentDate    string
	LentTo      string
	AskingPrice *float64
	Notes       string

	PurchaseDate   string
	PurchaseSource string
	PurchasePrice  *float64
}

type BatchResult struct {
	Found   []Game
	Missing []Key
}
