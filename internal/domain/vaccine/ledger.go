package vaccine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/db"
)

// Ledger is the only writer of Vaccine.CurrentStock. Every change locks the
// vaccine row, applies a signed delta and appends a StockMovement in the same
// transaction, so current_stock always equals the sum of its movements.
type Ledger struct {
	vaccines  Repository
	movements MovementRepository
	tx        db.Transactor
}

func NewLedger(vaccines Repository, movements MovementRepository, tx db.Transactor) *Ledger {
	return &Ledger{vaccines: vaccines, movements: movements, tx: tx}
}

// GetVaccine returns the vaccine without locking it.
func (l *Ledger) GetVaccine(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	return l.vaccines.GetByID(ctx, id)
}

// Consume removes qty units. It fails with *apperr.InsufficientStockError
// and changes nothing when fewer than qty are on hand.
func (l *Ledger) Consume(ctx context.Context, vaccineID uuid.UUID, qty int, reason string) (*StockMovement, error) {
	if qty <= 0 {
		return nil, apperr.Validation("quantity", "must be greater than zero")
	}
	return l.apply(ctx, vaccineID, -qty, reason)
}

// Restock adds qty units.
func (l *Ledger) Restock(ctx context.Context, vaccineID uuid.UUID, qty int, reason string) (*StockMovement, error) {
	if qty <= 0 {
		return nil, apperr.Validation("quantity", "must be greater than zero")
	}
	return l.apply(ctx, vaccineID, qty, reason)
}

// Adjust applies a signed correction, e.g. after a physical count or for
// expired and wasted vials.
func (l *Ledger) Adjust(ctx context.Context, vaccineID uuid.UUID, delta int, reason string) (*StockMovement, error) {
	if delta == 0 {
		return nil, apperr.Validation("quantity", "must not be zero")
	}
	return l.apply(ctx, vaccineID, delta, reason)
}

func (l *Ledger) apply(ctx context.Context, vaccineID uuid.UUID, delta int, reason string) (*StockMovement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "is required")
	}

	var mv *StockMovement
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := l.vaccines.GetForUpdate(ctx, vaccineID)
		if err != nil {
			return err
		}
		if v.CurrentStock+delta < 0 {
			return &apperr.InsufficientStockError{
				VaccineID:   v.ID,
				VaccineName: v.Name,
				Available:   v.CurrentStock,
				Requested:   -delta,
			}
		}

		balance, err := l.vaccines.ApplyDelta(ctx, vaccineID, delta)
		if err != nil {
			var ise *apperr.InsufficientStockError
			if errors.As(err, &ise) {
				ise.VaccineID, ise.VaccineName = v.ID, v.Name
			}
			return err
		}

		mv = &StockMovement{
			VaccineID:    vaccineID,
			Quantity:     delta,
			BalanceAfter: balance,
			Reason:       reason,
			Actor:        auth.ActorFromContext(ctx),
		}
		return l.movements.Create(ctx, mv)
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}
