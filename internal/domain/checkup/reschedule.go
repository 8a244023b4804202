package checkup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/notification"
)

// Reschedule books a new upcoming checkup for a missed one. The missed row is
// kept as history and gains a forward link to its replacement; the
// replacement links back. A missed checkup can be rescheduled once.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, clock, notes string) (*Checkup, error) {
	var verr apperr.ValidationError
	if date.IsZero() {
		verr.Add("checkup_date", "is required")
	}
	if !validTime(clock) {
		verr.Add("checkup_time", "must be HH:MM")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	today := s.today()
	date = civil(date, today.Location())
	if date.Before(today) {
		return nil, apperr.Validation("checkup_date", "must not be in the past")
	}

	var next *Checkup
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.lockCheckup(ctx, id)
		if err != nil {
			return err
		}
		if src.Status != StatusMissed {
			return apperr.Conflict("only missed checkups can be rescheduled (current status: %s)", src.Status)
		}
		if src.Rescheduled {
			return apperr.Conflict("checkup was already rescheduled")
		}

		taken, err := s.repo.FindByPatientDate(ctx, src.PatientID, date, StatusUpcoming, StatusDone)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return apperr.Conflict("patient already has a %s checkup on %s", taken[0].Status, date.Format(dateLayout))
		}
		if err := s.guard.CheckUpcoming(ctx, src.PatientID, date, nil); err != nil {
			return err
		}

		next = &Checkup{
			PatientID:         src.PatientID,
			PrenatalRecordID:  src.PrenatalRecordID,
			Type:              src.Type,
			Date:              date,
			Time:              clock,
			Status:            StatusUpcoming,
			ConductedBy:       auth.ActorFromContext(ctx),
			Notes:             joinNotes(fmt.Sprintf("Rescheduled from missed checkup on %s", src.Date.Format(dateLayout)), notes),
			RescheduledFromID: &src.ID,
		}
		if err := s.repo.Create(ctx, next); err != nil {
			return err
		}

		src.Rescheduled = true
		src.RescheduledToID = &next.ID
		src.Notes = joinNotes(src.Notes, strings.TrimSpace(fmt.Sprintf("Rescheduled to %s %s", date.Format(dateLayout), clock)))
		return s.repo.Update(ctx, src)
	})
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if p := s.patientFor(ctx, next); p != nil {
			s.publisher.NotifyStaff(ctx, notification.Notification{
				Title:     "Checkup Rescheduled",
				Message:   fmt.Sprintf("%s's missed checkup was rescheduled to %s.", p.FullName(), next.Date.Format("Jan 2, 2006")),
				Severity:  notification.SeverityInfo,
				ActionURL: "/checkups/" + next.ID.String(),
				Metadata:  map[string]string{"checkup_id": next.ID.String(), "rescheduled_from": id.String()},
			})
			s.publisher.SendSMS(ctx, s.sms(p, next, notification.CategoryCheckupRescheduled, notification.TemplateCheckupRescheduled))
		}
	}
	return next, nil
}
