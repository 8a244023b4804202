package checkup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/platform/apperr"
)

// Guard enforces the per-patient appointment invariants before a write:
// at most one upcoming checkup, and at most one completed checkup per date.
// It only reads; callers hold the patient lock so the answer stays true
// until they write.
type Guard struct {
	repo Repository
}

func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo}
}

// CheckUpcoming fails with a ConflictError naming the date of the patient's
// existing upcoming checkup, unless that checkup is excludeID.
func (g *Guard) CheckUpcoming(ctx context.Context, patientID uuid.UUID, date time.Time, excludeID *uuid.UUID) error {
	existing, err := g.repo.FindUpcoming(ctx, patientID)
	if err != nil {
		return err
	}
	if existing == nil || (excludeID != nil && existing.ID == *excludeID) {
		return nil
	}
	return upcomingConflict(existing.Date, date)
}

// upcomingConflict reports an existing upcoming checkup on existing to a
// caller asking for date.
func upcomingConflict(existing, date time.Time) error {
	if sameDay(existing, date) {
		return apperr.Conflict("patient is already scheduled for a checkup on %s", existing.Format(dateLayout))
	}
	return apperr.Conflict("patient already has an upcoming checkup on %s", existing.Format(dateLayout))
}

// CheckCompleted fails when a done checkup already exists for the patient on
// date, other than excludeID. An upcoming checkup on the same date does not
// block; completing the visit fulfils it.
func (g *Guard) CheckCompleted(ctx context.Context, patientID uuid.UUID, date time.Time, excludeID *uuid.UUID) error {
	done, err := g.repo.FindByPatientDate(ctx, patientID, date, StatusDone)
	if err != nil {
		return err
	}
	for _, c := range done {
		if excludeID == nil || c.ID != *excludeID {
			return apperr.Conflict("a completed checkup already exists for this patient on %s", date.Format(dateLayout))
		}
	}
	return nil
}

// CanCreateUpcoming is CheckUpcoming as a yes/no answer.
func (g *Guard) CanCreateUpcoming(ctx context.Context, patientID uuid.UUID, date time.Time) (bool, error) {
	return asBool(g.CheckUpcoming(ctx, patientID, date, nil))
}

// CanCreateCompleted is CheckCompleted as a yes/no answer.
func (g *Guard) CanCreateCompleted(ctx context.Context, patientID uuid.UUID, date time.Time, excludeID *uuid.UUID) (bool, error) {
	return asBool(g.CheckCompleted(ctx, patientID, date, excludeID))
}

func asBool(err error) (bool, error) {
	if errors.Is(err, apperr.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
