package domain

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// List is the part of the inventory a game belongs to.
type List string

const (
	ListWishlist   List = "wishlist"
	ListCollection List = "collection"
)

type Game struct {
	Key              Key
	PurchasedGameID  *int64
	Name             string
	Console          string
	Condition        string
	SourceName       string
	PurchasePrice    *float64
	CurrentPrice     *float64
	AcquiredOn       string
	IsWanted         bool
	IsLent           bool
	LentDate         string
	LentTo           string
	LentNote         string
	IsForSale        bool
	AskingPrice      *float64
	SaleNotes        string
	SaleDateMarked   string
	PricechartingURL string
	PricechartingID  *int64
}

// List reports whether the game is on the wishlist or owned.
func (g Game) List() List {
	if g.IsWanted && g.PurchasedGameID == nil {
		return ListWishlist
	}
	return ListCollection
}

func (g Game) Owned() bool {
	return g.PurchasedGameID != nil || !g.IsWanted
}

// Clone returns a deep copy; pointer fields never alias the original.
func (g Game) Clone() Game {
	dup := g
	dup.PurchasedGameID = cloneInt(g.PurchasedGameID)
	dup.PurchasePrice = cloneFloat(g.PurchasePrice)
	dup.CurrentPrice = cloneFloat(g.CurrentPrice)
	dup.AskingPrice = cloneFloat(g.AskingPrice)
	dup.PricechartingID = cloneInt(g.PricechartingID)
	return dup
}

// Snapshot captures an immutable copy of a stored game, nil when absent.
func Snapshot(g *Game) *Game {
	if g == nil {
		return nil
	}
	dup := g.Clone()
	return &dup
}

func Float(v float64) *float64 {
	return &v
}

func Int(v int64) *int64 {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	dup := *v
	return &dup
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	dup := *v
	return &dup
}

// ParseProductURL extracts console and title from a pricecharting product URL
// such as /game/nintendo-64/super-mario-64.
func ParseProductURL(raw string) (console, name string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", raw
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "game" {
		return unslug(parts[1]), unslug(parts[2])
	}
	return "", unslug(parts[len(parts)-1])
}

func unslug(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "-", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// PricePoint is one market price observation for a game's condition. Date is
// the server's retrieve time, passed through verbatim.
type PricePoint struct {
	Price *float64
	Date  string
}
