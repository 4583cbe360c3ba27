package domain

type Change struct {
	From any
	To   any
}

// Changes maps a tracked field name to its divergent values.
type Changes map[string]Change

func (c Changes) Fields() []string {
	fields := make([]string, 0, len(c))
	for _, f := range TrackedFields {
		if _, ok := c[f]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

type Conflict struct {
	Key     Key
	Local   Game
	Remote  Game
	Changes Changes
}

type Resolution string

const (
	ResolutionKeepLocal    Resolution = "keep-local"
	ResolutionAcceptRemote Resolution = "accept-remote"
)

func (r Resolution) Valid() bool {
	return r == ResolutionKeepLocal || r == ResolutionAcceptRemote
}

const (
	FieldName          = "name"
	FieldConsole       = "console"
	FieldPurchasePrice = "purchase_price"
	FieldIsLent        = "is_lent"
	FieldCurrentPrice  = "current_price"
	FieldCondition     = "condition"
	FieldIsForSale     = "is_for_sale"
	FieldAskingPrice   = "asking_price"
	FieldSaleNotes     = "sale_notes"
	FieldLentNote      = "lent_note"
)

// TrackedFields is the fixed set compared during reconciliation, in report order.
var TrackedFields = []string{
	FieldName,
	FieldConsole,
	FieldPurchasePrice,
	FieldIsLent,
	FieldCurrentPrice,
	FieldCondition,
	FieldIsForSale,
	FieldAskingPrice,
	FieldSaleNotes,
	FieldLentNote,
}

var criticalFields = map[string]bool{
	FieldName:          true,
	FieldConsole:       true,
	FieldPurchasePrice: true,
	FieldIsLent:        true,
}

func IsCritical(field string) bool {
	return criticalFields[field]
}

// FieldValue returns the comparable value of a tracked field. Nullable
// numbers come back as nil or their dereferenced value.
func (g Game) FieldValue(field string) (any, bool) {
	switch field {
	case FieldName:
		return g.Name, true
	case FieldConsole:
		return g.Console, true
	case FieldPurchasePrice:
		return deref(g.PurchasePrice), true
	case FieldIsLent:
		return g.IsLent, true
	case FieldCurrentPrice:
		return deref(g.CurrentPrice), true
	case FieldCondition:
		return g.Condition, true
	case FieldIsForSale:
		return g.IsForSale, true
	case FieldAskingPrice:
		return deref(g.AskingPrice), true
	case FieldSaleNotes:
		return g.SaleNotes, true
	case FieldLentNote:
		return g.LentNote, true
	}
	return nil, false
}

// CopyField sets field on g to the value src holds for it.
func (g *Game) CopyField(field string, src Game) {
	switch field {
	case FieldName:
		g.Name = src.Name
	case FieldConsole:
		g.Console = src.Console
	case FieldPurchasePrice:
		g.PurchasePrice = cloneFloat(src.PurchasePrice)
	case FieldIsLent:
		g.IsLent = src.IsLent
		g.LentDate = src.LentDate
		g.LentTo = src.LentTo
	case FieldCurrentPrice:
		g.CurrentPrice = cloneFloat(src.CurrentPrice)
	case FieldCondition:
		g.Condition = src.Condition
	case FieldIsForSale:
		g.IsForSale = src.IsForSale
		g.SaleDateMarked = src.SaleDateMarked
	case FieldAskingPrice:
		g.AskingPrice = cloneFloat(src.AskingPrice)
	case FieldSaleNotes:
		g.SaleNotes = src.SaleNotes
	case FieldLentNote:
		g.LentNote = src.LentNote
	}
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
