package remote

import (
	"github.com/rl1809/game-shelf/internal/core/domain"
)

// gameDTO is the record shape returned by the inventory server.
type gameDTO struct {
	ID               int64    `json:"id"`
	PurchasedGameID  *int64   `json:"purchased_game_id"`
	Name             string   `json:"name"`
	Console          string   `json:"console"`
	Condition        *string  `json:"condition"`
	SourceName       *string  `json:"source_name"`
	PurchasePrice    *float64 `json:"purchase_price"`
	CurrentPrice     *float64 `json:"current_price"`
	Date             *string  `json:"date"`
	IsWanted         bool     `json:"is_wanted"`
	IsLent           bool     `json:"is_lent"`
	LentDate         *string  `json:"lent_date"`
	LentTo           *string  `json:"lent_to"`
	LentNote         *string  `json:"lent_note"`
	IsForSale        bool     `json:"is_for_sale"`
	AskingPrice      *float64 `json:"asking_price"`
	SaleNotes        *string  `json:"sale_notes"`
	SaleDateMarked   *string  `json:"sale_date_marked"`
	PricechartingURL *string  `json:"pricecharting_url"`
	PricechartingID  *int64   `json:"pricecharting_id"`
}

func (d gameDTO) toDomain() domain.Game {
	return domain.Game{
		Key:              domain.KeyFromID(d.ID),
		PurchasedGameID:  d.PurchasedGameID,
		Name:             d.Name,
		Console:          d.Console,
		Condition:        str(d.Condition),
		SourceName:       str(d.SourceName),
		PurchasePrice:    d.PurchasePrice,
		CurrentPrice:     d.CurrentPrice,
		AcquiredOn:       str(d.Date),
		IsWanted:         d.IsWanted,
		IsLent:           d.IsLent,
		LentDate:         str(d.LentDate),
		LentTo:           str(d.LentTo),
		LentNote:         str(d.LentNote),
		IsForSale:        d.IsForSale,
		AskingPrice:      d.AskingPrice,
		SaleNotes:        str(d.SaleNotes),
		SaleDateMarked:   str(d.SaleDateMarked),
		PricechartingURL: str(d.PricechartingURL),
		PricechartingID:  d.PricechartingID,
	}
}

func fromDomain(g domain.Game) gameDTO {
	id, _ := g.Key.ID()
	return gameDTO{
		ID:               id,
		PurchasedGameID:  g.PurchasedGameID,
		Name:             g.Name,
		Console:          g.Console,
		Condition:        ptr(g.Condition),
		SourceName:       ptr(g.SourceName),
		PurchasePrice:    g.PurchasePrice,
		CurrentPrice:     g.CurrentPrice,
		Date:             ptr(g.AcquiredOn),
		IsWanted:         g.IsWanted,
		IsLent:           g.IsLent,
		LentDate:         ptr(g.LentDate),
		LentTo:           ptr(g.LentTo),
		LentNote:         ptr(g.LentNote),
		IsForSale:        g.IsForSale,
		AskingPrice:      g.AskingPrice,
		SaleNotes:        ptr(g.SaleNotes),
		SaleDateMarked:   ptr(g.SaleDateMarked),
		PricechartingURL: ptr(g.PricechartingURL),
		PricechartingID:  g.PricechartingID,
	}
}

type gameEnvelope struct {
	Game gameDTO `json:"game"`
}

type batchRequest struct {
	GameIDs []int64 `json:"game_ids"`
}

type batchResponse struct {
	Games          []gameDTO `json:"games"`
	MissingGameIDs []int64   `json:"missing_game_ids"`
	FoundCount     int       `json:"found_count"`
	MissingCount   int       `json:"missing_count"`
}

type createRequest struct {
	URL            string   `json:"url"`
	Condition      string   `json:"condition,omitempty"`
	PurchaseDate   string   `json:"purchase_date,omitempty"`
	PurchaseSource string   `json:"purchase_source,omitempty"`
	PurchasePrice  *float64 `json:"purchase_price,omitempty"`
}

type detailsRequest struct {
	Name    string `json:"name"`
	Console string `json:"console"`
}

type conditionRequest struct {
	Condition string `json:"condition"`
}

type saleRequest struct {
	AskingPrice *float64 `json:"asking_price,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

type lendRequest struct {
	LentDate string `json:"lent_date"`
	LentTo   string `json:"lent_to"`
}

type purchaseRequest struct {
	PurchaseDate   string   `json:"purchase_date"`
	PurchaseSource string   `json:"purchase_source,omitempty"`
	PurchasePrice  *float64 `json:"purchase_price,omitempty"`
}

type pricePointDTO struct {
	Price *float64 `json:"price"`
	Date  string   `json:"date"`
}

type lastUpdateResponse struct {
	Success    bool    `json:"success"`
	LastUpdate *string `json:"last_update"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
