package checkup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Checkup) error
	GetByID(ctx context.Context, id uuid.UUID) (*Checkup, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Checkup, error)
	Update(ctx context.Context, c *Checkup) error
	Delete(ctx context.Context, id uuid.UUID) error
	// FindUpcoming returns the patient's upcoming checkup, or nil.
	FindUpcoming(ctx context.Context, patientID uuid.UUID) (*Checkup, error)
	FindByPatientDate(ctx context.Context, patientID uuid.UUID, date time.Time, statuses ...string) ([]*Checkup, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Checkup, int, error)
	// ListByPatient returns every checkup of the patient, oldest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Checkup, error)
	// MarkOverdueMissed moves every upcoming checkup dated day to missed in
	// one statement and returns how many rows changed.
	MarkOverdueMissed(ctx context.Context, day, now time.Time, reason string) (int64, error)
	// LockPatient serializes checkup writes for one patient within the
	// current transaction.
	LockPatient(ctx context.Context, patientID uuid.UUID) error
}
