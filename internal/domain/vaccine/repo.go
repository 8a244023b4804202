package vaccine

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *Vaccine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Vaccine, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Vaccine, error)
	Update(ctx context.Context, v *Vaccine) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, category string, limit, offset int) ([]*Vaccine, int, error)
	ListLowStock(ctx context.Context, threshold int) ([]*Vaccine, error)
	// ApplyDelta adds delta to current_stock and returns the new balance.
	ApplyDelta(ctx context.Context, id uuid.UUID, delta int) (int, error)
}

type MovementRepository interface {
	Create(ctx context.Context, m *StockMovement) error
	ListByVaccine(ctx context.Context, vaccineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error)
}
