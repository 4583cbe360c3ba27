package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/core/service"
	"github.com/rl1809/game-shelf/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

type Action string

const (
	ActionAddToWishlist        Action = "add_to_wishlist"
	ActionAddToCollection      Action = "add_to_collection"
	ActionRemoveFromWishlist   Action = "remove_from_wishlist"
	ActionRemoveFromCollection Action = "remove_from_collection"
	ActionUpdateDetails        Action = "update_details"
	ActionUpdateCondition      Action = "update_condition"
	ActionMarkForSale          Action = "mark_for_sale"
	ActionUnmarkForSale        Action = "unmark_for_sale"
	ActionMarkAsLent           Action = "mark_as_lent"
	ActionUnmarkAsLent         Action = "unmark_as_lent"
	ActionPurchaseFromWishlist Action = "purchase_from_wishlist"
	ActionUpdatePrice          Action = "update_price"
)

// ActionRequest is the transport-neutral form of a game action.
type ActionRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Action    Action `json:"action"`
	Key       string `json:"key,omitempty"`
	// Wait blocks until the server confirmed or the change was rolled back.
	Wait bool `json:"wait,omitempty"`

	URL            string   `json:"url,omitempty"`
	Condition      string   `json:"condition,omitempty"`
	PurchaseDate   string   `json:"purchase_date,omitempty"`
	PurchaseSource string   `json:"purchase_source,omitempty"`
	PurchasePrice  *float64 `json:"purchase_price,omitempty"`
	Name           string   `json:"name,omitempty"`
	Console        string   `json:"console,omitempty"`
	AskingPrice    *float64 `json:"asking_price,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	LentDate       string   `json:"lent_date,omitempty"`
	LentTo         string   `json:"lent_to,omitempty"`
}

type ActionResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Key     string    `json:"key,omitempty"`
	Pending bool      `json:"pending,omitempty"`
	Game    *GameView `json:"game,omitempty"`
}

type GameView struct {
	Key              string   `json:"key"`
	List             string   `json:"list"`
	PurchasedGameID  *int64   `json:"purchased_game_id,omitempty"`
	Name             string   `json:"name"`
	Console          string   `json:"console"`
	Condition        string   `json:"condition,omitempty"`
	SourceName       string   `json:"source_name,omitempty"`
	PurchasePrice    *float64 `json:"purchase_price,omitempty"`
	CurrentPrice     *float64 `json:"current_price,omitempty"`
	AcquiredOn       string   `json:"date,omitempty"`
	IsLent           bool     `json:"is_lent"`
	LentDate         string   `json:"lent_date,omitempty"`
	LentTo           string   `json:"lent_to,omitempty"`
	LentNote         string   `json:"lent_note,omitempty"`
	IsForSale        bool     `json:"is_for_sale"`
	AskingPrice      *float64 `json:"asking_price,omitempty"`
	SaleNotes        string   `json:"sale_notes,omitempty"`
	PricechartingURL string   `json:"pricecharting_url,omitempty"`
	PendingOperation string   `json:"pending_operation,omitempty"`
}

func newGameView(g domain.Game, op *domain.Operation) *GameView {
	v := &GameView{
		Key:              g.Key.String(),
		List:             string(g.List()),
		PurchasedGameID:  g.PurchasedGameID,
		Name:             g.Name,
		Console:          g.Console,
		Condition:        g.Condition,
		SourceName:       g.SourceName,
		PurchasePrice:    g.PurchasePrice,
		CurrentPrice:     g.CurrentPrice,
		AcquiredOn:       g.AcquiredOn,
		IsLent:           g.IsLent,
		LentDate:         g.LentDate,
		LentTo:           g.LentTo,
		LentNote:         g.LentNote,
		IsForSale:        g.IsForSale,
		AskingPrice:      g.AskingPrice,
		SaleNotes:        g.SaleNotes,
		PricechartingURL: g.PricechartingURL,
	}
	if op != nil {
		v.PendingOperation = string(op.Kind)
	}
	return v
}

// Actions runs ActionRequests against the inventory. It is shared by the
// HTTP and gRPC transports.
type Actions struct {
	inventory *service.Inventory
	journal   port.JournalRepository
}

func NewActions(inventory *service.Inventory, journal port.JournalRepository) *Actions {
	return &Actions{inventory: inventory, journal: journal}
}

func (a *Actions) Run(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	if req.RequestID != "" && a.journal != nil {
		ok, err := a.journal.Claim(ctx, "request:"+req.RequestID)
		if err != nil {
			return ActionResponse{}, err
		}
		if !ok {
			return ActionResponse{}, ErrDuplicateRequest
		}
	}

	pending, err := a.dispatch(ctx, req)
	if err != nil {
		return ActionResponse{}, err
	}

	if !req.Wait {
		return ActionResponse{
			Success: true,
			Message: "accepted",
			Key:     pending.Key().String(),
			Pending: true,
		}, nil
	}

	game, err := pending.Wait(ctx)
	if err != nil {
		return ActionResponse{}, err
	}
	resp := ActionResponse{Success: true, Message: "confirmed", Key: pending.Key().String()}
	if game != nil {
		resp.Game = newGameView(*game, nil)
	}
	return resp, nil
}

func (a *Actions) dispatch(ctx context.Context, req ActionRequest) (*service.Pending, error) {
	inv := a.inventory
	key := domain.Key(req.Key)
	if req.Action != ActionAddToWishlist && req.Action != ActionAddToCollection && key == "" {
		return nil, domain.Invalid("key", "key is required")
	}

	switch req.Action {
	case ActionAddToWishlist, ActionAddToCollection:
		create := domain.CreateRequest{
			URL:            req.URL,
			Condition:      req.Condition,
			PurchaseDate:   req.PurchaseDate,
			PurchasePrice:  req.PurchasePrice,
			PurchaseSource: req.PurchaseSource,
		}
		if req.Action == ActionAddToWishlist {
			return inv.AddToWishlist(ctx, create)
		}
		return inv.AddToCollection(ctx, create)
	case ActionRemoveFromWishlist:
		return inv.RemoveFromWishlist(ctx, key)
	case ActionRemoveFromCollection:
		return inv.RemoveFromCollection(ctx, key)
	case ActionUpdateDetails:
		return inv.UpdateDetails(ctx, key, req.Name, req.Console)
	case ActionUpdateCondition:
		return inv.UpdateCondition(ctx, key, req.Condition)
	case ActionMarkForSale:
		return inv.MarkForSale(ctx, key, req.AskingPrice, req.Notes)
	case ActionUnmarkForSale:
		return inv.UnmarkForSale(ctx, key)
	case ActionMarkAsLent:
		return inv.MarkAsLent(ctx, key, req.LentDate, req.LentTo)
	case ActionUnmarkAsLent:
		return inv.UnmarkAsLent(ctx, key)
	case ActionPurchaseFromWishlist:
		return inv.PurchaseFromWishlist(ctx, key, req.PurchaseDate, req.PurchaseSource, req.PurchasePrice)
	case ActionUpdatePrice:
		return inv.RefreshPrice(ctx, key)
	}
	return nil, domain.Invalid("action", "unknown action "+string(req.Action))
}

// statusFor maps an action error to an HTTP status and a user message.
func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	var rerr *domain.RemoteError
	switch {
	case errors.Is(err, ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.As(err, &verr):
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound, verr.Reason
		}
		return http.StatusBadRequest, verr.Reason
	case errors.Is(err, domain.ErrCanceled):
		return http.StatusConflict, "operation canceled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "timed out waiting for the server"
	case errors.As(err, &rerr):
		if rerr.Status >= 400 && rerr.Status < 500 {
			return rerr.Status, rerr.Message
		}
		return http.StatusBadGateway, "inventory server unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}
