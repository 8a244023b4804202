package vaccine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/db"
)

// DefaultLowStockThreshold is used when the caller does not pass one.
const DefaultLowStockThreshold = 10

type Service struct {
	vaccines  Repository
	movements MovementRepository
	ledger    *Ledger
	tx        db.Transactor
}

func NewService(vaccines Repository, movements MovementRepository, ledger *Ledger, tx db.Transactor) *Service {
	return &Service{vaccines: vaccines, movements: movements, ledger: ledger, tx: tx}
}

func (s *Service) Ledger() *Ledger { return s.ledger }

func validate(v *Vaccine) error {
	var verr apperr.ValidationError
	v.Name = strings.TrimSpace(v.Name)
	if v.Name == "" {
		verr.Add("name", "is required")
	}
	if v.Category == "" {
		verr.Add("category", "is required")
	} else if !validCategories[v.Category] {
		verr.Add("category", "must be one of routine, supplemental, travel, other")
	}
	if v.DoseCount == 0 {
		v.DoseCount = 1
	}
	if v.DoseCount < 1 {
		verr.Add("dose_count", "must be at least 1")
	}
	if v.DosageML != nil && !v.DosageML.IsPositive() {
		verr.Add("dosage_ml", "must be greater than zero")
	}
	return verr.Err()
}

// Create registers a vaccine. A positive initialStock is booked as an
// "Initial stock" movement in the same transaction.
func (s *Service) Create(ctx context.Context, v *Vaccine, initialStock int) error {
	if err := validate(v); err != nil {
		return err
	}
	if initialStock < 0 {
		return apperr.Validation("initial_stock", "must not be negative")
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.vaccines.Create(ctx, v); err != nil {
			return err
		}
		if initialStock == 0 {
			return nil
		}
		mv, err := s.ledger.Restock(ctx, v.ID, initialStock, "Initial stock")
		if err != nil {
			return err
		}
		v.CurrentStock = mv.BalanceAfter
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	return s.vaccines.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, category string, limit, offset int) ([]*Vaccine, int, error) {
	return s.vaccines.List(ctx, category, limit, offset)
}

// Update edits descriptive fields. Stock is not editable here.
func (s *Service) Update(ctx context.Context, v *Vaccine) error {
	if err := validate(v); err != nil {
		return err
	}
	if err := s.vaccines.Update(ctx, v); err != nil {
		return err
	}
	fresh, err := s.vaccines.GetByID(ctx, v.ID)
	if err != nil {
		return err
	}
	*v = *fresh
	return nil
}

// Delete archives a vaccine. It is refused while immunizations still
// reference the vaccine.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.vaccines.Delete(ctx, id)
	})
}

func (s *Service) Restock(ctx context.Context, id uuid.UUID, qty int, reason string) (*StockMovement, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Restock"
	}
	return s.ledger.Restock(ctx, id, qty, reason)
}

func (s *Service) Adjust(ctx context.Context, id uuid.UUID, delta int, reason string) (*StockMovement, error) {
	return s.ledger.Adjust(ctx, id, delta, reason)
}

func (s *Service) Movements(ctx context.Context, id uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	if _, err := s.vaccines.GetByID(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.movements.ListByVaccine(ctx, id, limit, offset)
}

func (s *Service) LowStock(ctx context.Context, threshold int) ([]*Vaccine, error) {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	return s.vaccines.ListLowStock(ctx, threshold)
}
