package vaccine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Vaccine is an inventory item. CurrentStock is only ever changed through
// the Ledger.
type Vaccine struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	CurrentStock int              `json:"current_stock"`
	DosageML     *decimal.Decimal `json:"dosage_ml,omitempty"`
	DoseCount    int              `json:"dose_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (v *Vaccine) InStock() bool {
	return v.CurrentStock > 0
}

// StockMovement is one immutable ledger entry. Quantity is signed.
type StockMovement struct {
	ID           uuid.UUID `json:"id"`
	VaccineID    uuid.UUID `json:"vaccine_id"`
	Quantity     int       `json:"quantity"`
	BalanceAfter int       `json:"balance_after"`
	Reason       string    `json:"reason"`
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"created_at"`
}

// Label renders the quantity as "+5" or "-1".
func (m *StockMovement) Label() string {
	return fmt.Sprintf("%+d", m.Quantity)
}

var validCategories = map[string]bool{
	"routine": true, "supplemental": true, "travel": true, "other": true,
}
