package prenatal

import (
	"context"

	"github.com/google/uuid"
)

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, r *Record) error
	// FindActive returns nil when the patient has no open record.
	FindActive(ctx context.Context, patientID uuid.UUID) (*Record, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error)
}

type VisitRepository interface {
	// CreatePending inserts a pending visit unless one already exists for
	// the checkup, and reports whether a row was inserted.
	CreatePending(ctx context.Context, v *Visit) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	ListByCheckup(ctx context.Context, checkupID uuid.UUID) ([]*Visit, error)
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Visit, error)
}
