package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

const defaultCondition = "complete"

var validConditions = map[string]bool{
	"complete": true,
	"loose":    true,
	"new":      true,
}

// Inventory exposes the user-facing game actions. Every action validates its
// input, applies the change to the store right away and confirms it through
// the engine.
type Inventory struct {
	engine *Engine
	api    port.GameAPI
	temps  domain.TempKeys
	logger *slog.Logger
}

func NewInventory(engine *Engine, api port.GameAPI, logger *slog.Logger) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{
		engine: engine,
		api:    api,
		logger: logger,
	}
}

func (s *Inventory) Engine() *Engine {
	return s.engine
}

func (s *Inventory) AddToWishlist(ctx context.Context, req domain.CreateRequest) (*Pending, error) {
	req.List = domain.ListWishlist
	return s.add(ctx, req, "Game added to wishlist", "Failed to add game to wishlist")
}

func (s *Inventory) AddToCollection(ctx context.Context, req domain.CreateRequest) (*Pending, error) {
	req.List = domain.ListCollection
	return s.add(ctx, req, "Game added to collection", "Failed to add game to collection")
}

func (s *Inventory) add(ctx context.Context, req domain.CreateRequest, okMsg, errMsg string) (*Pending, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, domain.Invalid("url", "URL is required")
	}
	// The server stores any condition on add; only later edits are checked.
	if req.Condition == "" {
		req.Condition = defaultCondition
	}
	if req.PurchasePrice != nil && *req.PurchasePrice < 0 {
		return nil, domain.Invalid("purchase_price", "price cannot be negative")
	}

	key := s.temps.Next()
	placeholder := placeholderGame(key, req)

	return s.engine.Apply(ctx, key, domain.OperationCreate,
		func(store *StateStore) error {
			return store.Put(placeholder)
		},
		func(ctx context.Context, _ domain.Key) (*domain.Game, error) {
			return s.api.Create(ctx, req)
		},
		Options{SuccessMessage: okMsg, ErrorMessage: errMsg},
	)
}

func (s *Inventory) RemoveFromWishlist(ctx context.Context, key domain.Key) (*Pending, error) {
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}
	if game.List() != domain.ListWishlist {
		return nil, domain.Invalid("key", "game is not on the wishlist")
	}
	return s.remove(ctx, game, domain.DeleteRequest{List: domain.ListWishlist},
		"Game removed from wishlist", "Failed to remove game from wishlist")
}

func (s *Inventory) RemoveFromCollection(ctx context.Context, key domain.Key) (*Pending, error) {
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}
	if game.PurchasedGameID == nil {
		return nil, domain.Invalid("purchased_game_id", "game is not in the collection")
	}
	req := domain.DeleteRequest{List: domain.ListCollection, PurchasedGameID: domain.Int(*game.PurchasedGameID)}
	return s.remove(ctx, game, req,
		"Game removed from collection", "Failed to remove game from collection")
}

func (s *Inventory) remove(ctx context.Context, game *domain.Game, req domain.DeleteRequest, okMsg, errMsg string) (*Pending, error) {
	return s.engine.Apply(ctx, game.Key, domain.OperationRemove,
		func(store *StateStore) error {
			store.Remove(s.engine.resolve(game.Key))
			return nil
		},
		func(ctx context.Context, key domain.Key) (*domain.Game, error) {
			if err := s.api.Delete(ctx, key, req); err != nil {
				return nil, err
			}
			return nil, nil
		},
		Options{SuccessMessage: okMsg, ErrorMessage: errMsg},
	)
}

func (s *Inventory) UpdateDetails(ctx context.Context, key domain.Key, name, console string) (*Pending, error) {
	name = strings.TrimSpace(name)
	console = strings.TrimSpace(console)
	if name == "" {
		return nil, domain.Invalid("name", "name is required")
	}
	if console == "" {
		return nil, domain.Invalid("console", "console is required")
	}
	if _, err := s.current(key); err != nil {
		return nil, err
	}

	edit := domain.FieldEdit{Name: &name, Console: &console}
	return s.edit(ctx, key, edit, func(g *domain.Game) {
		g.Name = name
		g.Console = console
	}, "Game details updated", "Failed to update game details")
}

func (s *Inventory) UpdateCondition(ctx context.Context, key domain.Key, condition string) (*Pending, error) {
	if !validConditions[condition] {
		return nil, domain.Invalid("condition", "must be one of complete, loose, new")
	}
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}

	edit := domain.FieldEdit{List: game.List(), Condition: &condition}
	return s.edit(ctx, key, edit, func(g *domain.Game) {
		g.Condition = condition
	}, "Condition updated", "Failed to update condition")
}

func (s *Inventory) edit(ctx context.Context, key domain.Key, edit domain.FieldEdit, mutate func(*domain.Game), okMsg, errMsg string) (*Pending, error) {
	return s.engine.Apply(ctx, key, domain.OperationEditField,
		s.mutateStored("edit", key, mutate),
		func(ctx context.Context, key domain.Key) (*domain.Game, error) {
			return s.api.EditFields(ctx, key, edit)
		},
		Options{SuccessMessage: okMsg, ErrorMessage: errMsg},
	)
}

func (s *Inventory) MarkForSale(ctx context.Context, key domain.Key, askingPrice *float64, notes string) (*Pending, error) {
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}
	if game.PurchasedGameID == nil {
		return nil, domain.Invalid("purchased_game_id", "only owned games can be marked for sale")
	}
	if askingPrice != nil && *askingPrice < 0 {
		return nil, domain.Invalid("asking_price", "price cannot be negative")
	}

	tr := domain.StatusTransition{Change: domain.StatusForSale, AskingPrice: askingPrice, Notes: notes}
	return s.transition(ctx, key, tr, func(g *domain.Game) {
		g.IsForSale = true
		g.AskingPrice = askingPrice
		g.SaleNotes = notes
	}, "Game marked for sale", "Failed to mark game for sale")
}

func (s *Inventory) UnmarkForSale(ctx context.Context, key domain.Key) (*Pending, error) {
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}
	if game.PurchasedGameID == nil {
		return nil, domain.Invalid("purchased_game_id", "game is not in the collection")
	}

	tr := domain.StatusTransition{Change: domain.StatusNotForSale}
	return s.transition(ctx, key, tr, func(g *domain.Game) {
		g.IsForSale = false
		g.AskingPrice = nil
		g.SaleNotes = ""
		g.SaleDateMarked = ""
	}, "Game removed from sale", "Failed to remove game from sale")
}

func (s *Inventory) MarkAsLent(ctx context.Context, key domain.Key, lentDate, lentTo string) (*Pending, error) {
	lentDate = strings.TrimSpace(lentDate)
	lentTo = strings.TrimSpace(lentTo)
	if lentDate == "" {
		return nil, domain.Invalid("lent_date", "lent date is required")
	}
	if lentTo == "" {
		return nil, domain.Invalid("lent_to", "borrower is required")
	}
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}
	if game.PurchasedGameID == nil {
		return nil, domain.Invalid("purchased_game_id", "only owned games can be lent")
	}
	if game.IsLent {
		return nil, domain.Invalid("is_lent", "game is already lent out")
	}

	tr := domain.StatusTransition{Change: domain.StatusLent, LentDate: lentDate, LentTo: lentTo}
	return s.transition(ctx, key, tr, func(g *domain.Game) {
		g.IsLent = true
		g.LentDate = lentDate
		g.LentTo = lentTo
		g.LentNote = fmt.Sprintf("Lent to %s on %s", lentTo, lentDate)
	}, "Game marked as lent out", "Failed to mark game as lent")
}

func (s *Inventory) UnmarkAsLent(ctx context.Context, key domain.Key) (*Pending, error) {
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}
	if !game.IsLent {
		return nil, domain.Invalid("is_lent", "game is not lent out")
	}

	tr := domain.StatusTransition{Change: domain.StatusReturned}
	return s.transition(ctx, key, tr, func(g *domain.Game) {
		g.IsLent = false
		g.LentDate = ""
		g.LentTo = ""
		g.LentNote = ""
	}, "Game marked as returned", "Failed to mark game as returned")
}

func (s *Inventory) transition(ctx context.Context, key domain.Key, tr domain.StatusTransition, mutate func(*domain.Game), okMsg, errMsg string) (*Pending, error) {
	return s.engine.Apply(ctx, key, domain.OperationTransition,
		s.mutateStored("transition", key, mutate),
		func(ctx context.Context, key domain.Key) (*domain.Game, error) {
			return s.api.Transition(ctx, key, tr)
		},
		Options{SuccessMessage: okMsg, ErrorMessage: errMsg},
	)
}

// PurchaseFromWishlist moves a wishlist game into the collection. The
// purchased-game id is only known once the server confirms.
func (s *Inventory) PurchaseFromWishlist(ctx context.Context, key domain.Key, date, source string, price *float64) (*Pending, error) {
	date = strings.TrimSpace(date)
	source = strings.TrimSpace(source)
	if date == "" {
		return nil, domain.Invalid("purchase_date", "purchase date is required")
	}
	if price != nil && *price < 0 {
		return nil, domain.Invalid("purchase_price", "price cannot be negative")
	}
	game, err := s.current(key)
	if err != nil {
		return nil, err
	}
	if game.List() != domain.ListWishlist {
		return nil, domain.Invalid("key", "game is not on the wishlist")
	}

	tr := domain.StatusTransition{Change: domain.StatusPurchased, PurchaseDate: date, PurchaseSource: source, PurchasePrice: price}
	return s.transition(ctx, key, tr, func(g *domain.Game) {
		g.IsWanted = false
		g.AcquiredOn = date
		g.SourceName = source
		g.PurchasePrice = price
	}, fmt.Sprintf("Purchased %s (%s)", game.Name, game.Console), "Failed to purchase game")
}

// RefreshPrice asks the server for a fresh market price. Nothing changes
// locally until the server answers; the new price then replaces the record.
func (s *Inventory) RefreshPrice(ctx context.Context, key domain.Key) (*Pending, error) {
	if _, err := s.current(key); err != nil {
		return nil, err
	}
	return s.engine.Apply(ctx, key, domain.OperationEditField,
		s.mutateStored("refresh price", key, func(*domain.Game) {}),
		func(ctx context.Context, key domain.Key) (*domain.Game, error) {
			return s.api.UpdatePrice(ctx, key)
		},
		Options{SuccessMessage: "Price updated successfully", ErrorMessage: "Failed to update price"},
	)
}

// PriceHistory returns the server's price log for a game and the time of its
// newest entry.
func (s *Inventory) PriceHistory(ctx context.Context, key domain.Key) ([]domain.PricePoint, string, error) {
	game, err := s.current(key)
	if err != nil {
		return nil, "", err
	}
	if game.Key.IsTemporary() {
		return nil, "", domain.Invalid("key", "game is not saved yet")
	}
	points, err := s.api.PriceHistory(ctx, game.Key)
	if err != nil {
		return nil, "", fmt.Errorf("price history %s: %w", game.Key, err)
	}
	last, err := s.api.LastPriceUpdate(ctx, game.Key)
	if err != nil {
		return nil, "", fmt.Errorf("last price update %s: %w", game.Key, err)
	}
	return points, last, nil
}

// mutateStored edits the stored game in place. Local effects run under the
// engine loop, so the key is resolved there: a temporary key handed out
// before its create confirmed still finds the record.
func (s *Inventory) mutateStored(op string, key domain.Key, mutate func(*domain.Game)) LocalEffect {
	return func(store *StateStore) error {
		key := s.engine.resolve(key)
		g, ok := store.Get(key)
		if !ok {
			return fmt.Errorf("%s %s: %w", op, key, domain.ErrNotFound)
		}
		mutate(g)
		return store.Put(*g)
	}
}

func (s *Inventory) current(key domain.Key) (*domain.Game, error) {
	key = s.engine.Resolve(key)
	game, ok := s.engine.Store().Get(key)
	if !ok {
		return nil, &domain.ValidationError{Field: "key", Reason: "unknown game " + key.String(), Err: domain.ErrNotFound}
	}
	return game, nil
}

// placeholderGame builds the optimistic record shown until the server returns
// the real one. Name and console come from the pricecharting URL slug.
func placeholderGame(key domain.Key, req domain.CreateRequest) domain.Game {
	console, name := domain.ParseProductURL(req.URL)
	g := domain.Game{
		Key:              key,
		Name:             name,
		Console:          console,
		Condition:        req.Condition,
		PricechartingURL: req.URL,
		IsWanted:         req.List == domain.ListWishlist,
	}
	if req.List == domain.ListCollection {
		g.AcquiredOn = req.PurchaseDate
		g.SourceName = req.PurchaseSource
		g.PurchasePrice = req.PurchasePrice
	}
	return g
}
