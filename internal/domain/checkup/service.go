package checkup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mchcare/mchcare/internal/domain/patient"
	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/db"
	"github.com/mchcare/mchcare/internal/platform/notification"
)

// PrenatalRecords is the prenatal side of a checkup. CreatePending opens the
// medical record that follows a completed prenatal checkup and runs inside the
// completing transaction.
type PrenatalRecords interface {
	CheckOwner(ctx context.Context, recordID, patientID uuid.UUID) error
	CreatePending(ctx context.Context, checkupID, patientID uuid.UUID, prenatalRecordID *uuid.UUID) error
}

type Service struct {
	repo      Repository
	guard     *Guard
	patients  patient.Directory
	pending   PrenatalRecords
	tx        db.Transactor
	publisher notification.Publisher
	templates *notification.TemplateEngine
	now       func() time.Time
}

// NewService wires the checkup lifecycle. pending and publisher may be nil.
func NewService(repo Repository, patients patient.Directory, pending PrenatalRecords, tx db.Transactor, publisher notification.Publisher) *Service {
	return &Service{
		repo:      repo,
		guard:     NewGuard(repo),
		patients:  patients,
		pending:   pending,
		tx:        tx,
		publisher: publisher,
		templates: notification.NewTemplateEngine(),
		now:       time.Now,
	}
}

// SetClock replaces the time source. The returned time's location decides
// what "today" is.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Guard() *Guard { return s.guard }

func (s *Service) today() time.Time {
	return dateOnly(s.now())
}

// Kind selects which create variant a request is.
type Kind string

const (
	KindSchedule Kind = "schedule"
	KindComplete Kind = "complete"
)

type CreateInput struct {
	Kind             Kind
	PatientID        uuid.UUID
	PrenatalRecordID *uuid.UUID
	Type             string
	Date             time.Time
	Time             string
	Vitals           Vitals
	Notes            string
}

// Changes is a partial update. Nil fields are left alone.
type Changes struct {
	Type   *string
	Date   *time.Time
	Time   *string
	Vitals *Vitals
	Notes  *string
}

func validTime(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

func (s *Service) validateCreate(in *CreateInput) error {
	var verr apperr.ValidationError
	if in.PatientID == uuid.Nil {
		verr.Add("patient_id", "is required")
	}
	if in.Type == "" {
		in.Type = TypePrenatal
	}
	if !validTypes[in.Type] {
		verr.Add("checkup_type", "must be one of prenatal_checkup, postnatal_checkup, general")
	}
	if in.Date.IsZero() {
		verr.Add("checkup_date", "is required")
	}
	if !validTime(in.Time) {
		verr.Add("checkup_time", "must be HH:MM")
	}
	return verr.Err()
}

// Create dispatches on the request kind.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Checkup, error) {
	switch in.Kind {
	case KindSchedule:
		return s.Schedule(ctx, in)
	case KindComplete:
		return s.CompleteVisit(ctx, in)
	default:
		return nil, apperr.Validation("kind", "must be schedule or complete")
	}
}

// Schedule books an upcoming visit.
func (s *Service) Schedule(ctx context.Context, in CreateInput) (*Checkup, error) {
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}
	today := s.today()
	date := civil(in.Date, today.Location())
	if date.Before(today) {
		return nil, apperr.Validation("checkup_date", "must not be in the past")
	}
	if !in.Vitals.Empty() {
		return nil, apperr.Validation("vitals", "observations can only be recorded when completing a visit")
	}

	c := &Checkup{
		PatientID:        in.PatientID,
		PrenatalRecordID: in.PrenatalRecordID,
		Type:             in.Type,
		Date:             date,
		Time:             in.Time,
		Status:           StatusUpcoming,
		Notes:            strings.TrimSpace(in.Notes),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockPatient(ctx, in.PatientID); err != nil {
			return err
		}
		if err := s.checkPatient(ctx, in.PatientID, in.PrenatalRecordID); err != nil {
			return err
		}
		if err := s.guard.CheckUpcoming(ctx, in.PatientID, date, nil); err != nil {
			return err
		}
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CompleteVisit records a visit with its observations. An upcoming checkup
// for the same patient and date is fulfilled in place instead of creating a
// second row.
func (s *Service) CompleteVisit(ctx context.Context, in CreateInput) (*Checkup, error) {
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}
	today := s.today()
	date := civil(in.Date, today.Location())
	if date.After(today) {
		return nil, apperr.Validation("checkup_date", "a completed visit cannot be in the future")
	}
	if in.Vitals.Empty() {
		return nil, apperr.Validation("vitals", "at least one observation is required to complete a visit")
	}

	var c *Checkup
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockPatient(ctx, in.PatientID); err != nil {
			return err
		}
		if err := s.checkPatient(ctx, in.PatientID, in.PrenatalRecordID); err != nil {
			return err
		}
		if err := s.guard.CheckCompleted(ctx, in.PatientID, date, nil); err != nil {
			return err
		}

		upcoming, err := s.repo.FindUpcoming(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if upcoming != nil && sameDay(upcoming.Date, date) {
			c = upcoming
		} else {
			c = &Checkup{PatientID: in.PatientID, Date: date}
		}

		now := s.now()
		c.Type = in.Type
		if in.PrenatalRecordID != nil {
			c.PrenatalRecordID = in.PrenatalRecordID
		}
		if in.Time != "" {
			c.Time = in.Time
		}
		c.Status = StatusDone
		c.Vitals = in.Vitals
		if notes := strings.TrimSpace(in.Notes); notes != "" {
			c.Notes = notes
		}
		c.ConductedBy = auth.ActorFromContext(ctx)
		c.CompletedAt = &now

		if c.ID == uuid.Nil {
			return s.repo.Create(ctx, c)
		}
		return s.repo.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// checkPatient verifies the patient exists and owns the linked prenatal
// record, if one is given.
func (s *Service) checkPatient(ctx context.Context, patientID uuid.UUID, recordID *uuid.UUID) error {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return err
	}
	if recordID == nil || s.pending == nil {
		return nil
	}
	return s.pending.CheckOwner(ctx, *recordID, patientID)
}

// lockCheckup takes the patient lock before the row lock. Every writer
// locks in this order; a checkup never changes patient.
func (s *Service) lockCheckup(ctx context.Context, id uuid.UUID) (*Checkup, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.LockPatient(ctx, c.PatientID); err != nil {
		return nil, err
	}
	return s.repo.GetForUpdate(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Checkup, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Checkup, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Validation("status", "must be one of upcoming, done, missed, cancelled")
	}
	return s.repo.List(ctx, f, limit, offset)
}

// History returns every checkup of the patient in date order, including
// missed rows and the links between them and their replacements.
func (s *Service) History(ctx context.Context, patientID uuid.UUID) ([]*Checkup, error) {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListByPatient(ctx, patientID)
}

// Update edits an upcoming or done checkup. Observations can only be set on
// done checkups.
func (s *Service) Update(ctx context.Context, id uuid.UUID, ch Changes) (*Checkup, error) {
	var verr apperr.ValidationError
	if ch.Type != nil && !validTypes[*ch.Type] {
		verr.Add("checkup_type", "must be one of prenatal_checkup, postnatal_checkup, general")
	}
	if ch.Time != nil && !validTime(*ch.Time) {
		verr.Add("checkup_time", "must be HH:MM")
	}
	if ch.Date != nil && ch.Date.IsZero() {
		verr.Add("checkup_date", "must not be empty")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	var c *Checkup
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.lockCheckup(ctx, id); err != nil {
			return err
		}
		if c.Status != StatusUpcoming && c.Status != StatusDone {
			return apperr.Conflict("a %s checkup cannot be edited", c.Status)
		}

		if ch.Date != nil {
			today := s.today()
			date := civil(*ch.Date, today.Location())
			switch c.Status {
			case StatusUpcoming:
				if date.Before(today) {
					return apperr.Validation("checkup_date", "must not be in the past")
				}
				if err := s.guard.CheckUpcoming(ctx, c.PatientID, date, &c.ID); err != nil {
					return err
				}
			case StatusDone:
				if date.After(today) {
					return apperr.Validation("checkup_date", "a completed visit cannot be in the future")
				}
				if err := s.guard.CheckCompleted(ctx, c.PatientID, date, &c.ID); err != nil {
					return err
				}
			}
			c.Date = date
		}
		if ch.Vitals != nil {
			if c.Status != StatusDone {
				return apperr.Validation("vitals", "observations can only be recorded when completing a visit")
			}
			c.Vitals = *ch.Vitals
		}
		if ch.Type != nil {
			c.Type = *ch.Type
		}
		if ch.Time != nil {
			c.Time = *ch.Time
		}
		if ch.Notes != nil {
			c.Notes = strings.TrimSpace(*ch.Notes)
		}
		return s.repo.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MarkMissed is only legal from upcoming.
func (s *Service) MarkMissed(ctx context.Context, id uuid.UUID, reason string) (*Checkup, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultMissedReason
	}

	var c *Checkup
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.lockCheckup(ctx, id); err != nil {
			return err
		}
		if c.Status != StatusUpcoming {
			return apperr.Conflict("only upcoming checkups can be marked as missed (current status: %s)", c.Status)
		}
		now := s.now()
		c.Status = StatusMissed
		c.MissedDate = &now
		c.MissedReason = reason
		c.AutoMissed = false
		return s.repo.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	if s.publisher == nil {
		return c, nil
	}
	if p := s.patientFor(ctx, c); p != nil {
		s.publisher.NotifyStaff(ctx, notification.Notification{
			Title:     "Checkup Missed",
			Message:   fmt.Sprintf("%s missed the checkup scheduled on %s. Reason: %s", p.FullName(), c.Date.Format("Jan 2, 2006"), reason),
			Severity:  notification.SeverityWarning,
			ActionURL: "/checkups/" + c.ID.String(),
			Metadata:  map[string]string{"checkup_id": c.ID.String(), "patient_id": c.PatientID.String()},
		})
		s.publisher.SendSMS(ctx, s.sms(p, c, notification.CategoryCheckupMissed, notification.TemplateCheckupMissed))
	}
	return c, nil
}

// MarkCompleted is the quick "done" action. Prenatal checkups get a pending
// medical record to be filled in later.
func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*Checkup, error) {
	var c *Checkup
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.lockCheckup(ctx, id); err != nil {
			return err
		}
		switch {
		case c.Status == StatusDone || c.Status == StatusCancelled:
			return apperr.Conflict("checkup is already %s", c.Status)
		case c.Rescheduled:
			return apperr.Conflict("checkup was rescheduled; complete the new checkup instead")
		case civil(c.Date, s.today().Location()).After(s.today()):
			return apperr.Validation("checkup_date", "a checkup dated in the future cannot be completed")
		}
		if err := s.guard.CheckCompleted(ctx, c.PatientID, c.Date, &c.ID); err != nil {
			return err
		}

		now := s.now()
		c.Status = StatusDone
		c.CompletedAt = &now
		c.ConductedBy = auth.ActorFromContext(ctx)
		c.MissedReason, c.MissedDate, c.AutoMissed = "", nil, false
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		if c.Type == TypePrenatal && s.pending != nil {
			return s.pending.CreatePending(ctx, c.ID, c.PatientID, c.PrenatalRecordID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Cancel is only legal from upcoming.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Checkup, error) {
	var c *Checkup
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.lockCheckup(ctx, id); err != nil {
			return err
		}
		if c.Status != StatusUpcoming {
			return apperr.Conflict("only upcoming checkups can be cancelled (current status: %s)", c.Status)
		}
		c.Status = StatusCancelled
		if reason = strings.TrimSpace(reason); reason != "" {
			c.Notes = joinNotes(c.Notes, "Cancelled: "+reason)
		}
		return s.repo.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a checkup in any state.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if s.publisher != nil {
		name := "A patient"
		if p := s.patientFor(ctx, c); p != nil {
			name = p.FullName()
		}
		s.publisher.NotifyStaff(ctx, notification.Notification{
			Title:    "Checkup Deleted",
			Message:  fmt.Sprintf("%s's %s checkup on %s was deleted by %s.", name, c.Status, c.Date.Format("Jan 2, 2006"), auth.ActorFromContext(ctx)),
			Severity: notification.SeverityInfo,
			Metadata: map[string]string{"checkup_id": c.ID.String(), "patient_id": c.PatientID.String()},
		})
	}
	return nil
}

func joinNotes(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func (s *Service) patientFor(ctx context.Context, c *Checkup) *patient.Patient {
	p, err := s.patients.GetPatient(ctx, c.PatientID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("checkup_id", c.ID.String()).
			Msg("checkup: cannot address notification")
		return nil
	}
	return p
}

func (s *Service) sms(p *patient.Patient, c *Checkup, category, template string) notification.SMS {
	return notification.SMS{
		Phone: p.ContactNumber,
		Message: s.templates.Render(template, map[string]string{
			"name":  p.FirstName,
			"visit": typeLabel(c.Type),
			"date":  c.Date.Format("Jan 2, 2006"),
			"time":  c.Time,
		}),
		Category:      category,
		RecipientName: p.FullName(),
		SubjectType:   "checkup",
		SubjectID:     c.ID,
	}
}
