package immunization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mchcare/mchcare/internal/domain/patient"
	"github.com/mchcare/mchcare/internal/domain/vaccine"
	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/db"
	"github.com/mchcare/mchcare/internal/platform/notification"
)

// VaccineStock is the part of the vaccine ledger the scheduler needs.
type VaccineStock interface {
	GetVaccine(ctx context.Context, id uuid.UUID) (*vaccine.Vaccine, error)
	Consume(ctx context.Context, vaccineID uuid.UUID, qty int, reason string) (*vaccine.StockMovement, error)
}

type Service struct {
	repo      Repository
	stock     VaccineStock
	children  patient.Directory
	tx        db.Transactor
	publisher notification.Publisher
	templates *notification.TemplateEngine
	now       func() time.Time
}

func NewService(repo Repository, stock VaccineStock, children patient.Directory, tx db.Transactor, publisher notification.Publisher) *Service {
	return &Service{
		repo:      repo,
		stock:     stock,
		children:  children,
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

// CreateInput schedules a dose. Status defaults to Upcoming; passing Done
// records a walk-in administration and consumes stock.
type CreateInput struct {
	ChildID      uuid.UUID
	VaccineID    uuid.UUID
	Dose         string
	ScheduleDate time.Time
	ScheduleTime string
	Status       string
	Notes        string
}

// Changes is a partial update. Nil fields are left alone.
type Changes struct {
	VaccineID    *uuid.UUID
	Dose         *string
	ScheduleDate *time.Time
	ScheduleTime *string
	Status       *string
	Notes        *string
}

func validTime(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

// outcome is what a committed write needs to tell collaborators.
type outcome struct {
	becameMissed bool
	administered bool
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Immunization, error) {
	var verr apperr.ValidationError
	if in.ChildID == uuid.Nil {
		verr.Add("child_id", "is required")
	}
	if in.VaccineID == uuid.Nil {
		verr.Add("vaccine_id", "is required")
	}
	in.Dose = strings.TrimSpace(in.Dose)
	if in.Dose == "" {
		verr.Add("dose", "is required")
	}
	if in.ScheduleDate.IsZero() {
		verr.Add("schedule_date", "is required")
	}
	if !validTime(in.ScheduleTime) {
		verr.Add("schedule_time", "must be HH:MM")
	}
	if in.Status == "" {
		in.Status = StatusUpcoming
	}
	if !validStatuses[in.Status] {
		verr.Add("status", "must be one of Upcoming, Done, Missed")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	im := &Immunization{
		ChildID:      in.ChildID,
		Dose:         in.Dose,
		ScheduleDate: dateOnly(in.ScheduleDate),
		ScheduleTime: in.ScheduleTime,
		Status:       StatusUpcoming,
		Notes:        strings.TrimSpace(in.Notes),
	}
	var out outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.children.GetChild(ctx, in.ChildID); err != nil {
			return err
		}
		if err := s.assignVaccine(ctx, im, in.VaccineID); err != nil {
			return err
		}
		im.NextDueDate = NextDueDate(im.VaccineName, im.Dose, im.ScheduleDate)

		var err error
		if out, err = s.transition(ctx, im, in.Status); err != nil {
			return err
		}
		return s.repo.Create(ctx, im)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, im, out)
	return im, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Immunization, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Immunization, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Validation("status", "must be one of Upcoming, Done, Missed")
	}
	return s.repo.List(ctx, f, limit, offset)
}

// ListByChild returns the child's whole schedule in date order.
func (s *Service) ListByChild(ctx context.Context, childID uuid.UUID) ([]*Immunization, error) {
	if _, err := s.children.GetChild(ctx, childID); err != nil {
		return nil, err
	}
	items, _, err := s.repo.List(ctx, Filter{ChildID: &childID}, 0, 0)
	return items, err
}

// Update applies field edits and, when Status is set, a status transition.
func (s *Service) Update(ctx context.Context, id uuid.UUID, ch Changes) (*Immunization, error) {
	var verr apperr.ValidationError
	if ch.Dose != nil && strings.TrimSpace(*ch.Dose) == "" {
		verr.Add("dose", "must not be empty")
	}
	if ch.ScheduleTime != nil && !validTime(*ch.ScheduleTime) {
		verr.Add("schedule_time", "must be HH:MM")
	}
	if ch.Status != nil && !validStatuses[*ch.Status] {
		verr.Add("status", "must be one of Upcoming, Done, Missed")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	var im *Immunization
	var out outcome
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if im, err = s.repo.GetForUpdate(ctx, id); err != nil {
			return err
		}

		recompute := false
		if ch.VaccineID != nil && (im.VaccineID == nil || *ch.VaccineID != *im.VaccineID) {
			if im.StockConsumed {
				return apperr.Conflict("cannot change the vaccine of an immunization that was already administered")
			}
			if err := s.assignVaccine(ctx, im, *ch.VaccineID); err != nil {
				return err
			}
			recompute = true
		}
		if ch.Dose != nil {
			im.Dose = strings.TrimSpace(*ch.Dose)
			recompute = true
		}
		if ch.ScheduleDate != nil {
			im.ScheduleDate = dateOnly(*ch.ScheduleDate)
			recompute = true
		}
		if ch.ScheduleTime != nil {
			im.ScheduleTime = *ch.ScheduleTime
		}
		if ch.Notes != nil {
			im.Notes = strings.TrimSpace(*ch.Notes)
		}
		if recompute {
			im.NextDueDate = NextDueDate(im.VaccineName, im.Dose, im.ScheduleDate)
		}
		if ch.Status != nil {
			if out, err = s.transition(ctx, im, *ch.Status); err != nil {
				return err
			}
		}
		return s.repo.Update(ctx, im)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, im, out)
	return im, nil
}

// MarkStatus is the quick status action.
func (s *Service) MarkStatus(ctx context.Context, id uuid.UUID, status string) (*Immunization, error) {
	return s.Update(ctx, id, Changes{Status: &status})
}

// Delete removes a schedule entry. Stock consumed by it stays consumed.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// assignVaccine points im at vaccineID after checking it has stock. Stock is
// not reserved; it is consumed only when the dose is administered.
func (s *Service) assignVaccine(ctx context.Context, im *Immunization, vaccineID uuid.UUID) error {
	v, err := s.stock.GetVaccine(ctx, vaccineID)
	if err != nil {
		return err
	}
	if !v.InStock() {
		return &apperr.InsufficientStockError{VaccineID: v.ID, VaccineName: v.Name, Available: v.CurrentStock, Requested: 1}
	}
	im.VaccineID = &v.ID
	im.VaccineName = v.Name
	return nil
}

// transition is the single place a status changes. Reaching Done consumes
// one unit of stock the first time only; StockConsumed remembers that even if
// the status is later edited away from Done and back.
func (s *Service) transition(ctx context.Context, im *Immunization, target string) (outcome, error) {
	var out outcome
	if !validStatuses[target] {
		return out, apperr.Validation("status", "must be one of Upcoming, Done, Missed")
	}
	if im.Rescheduled() && target != im.Status {
		return out, apperr.Conflict("immunization was rescheduled to another entry; update that entry instead")
	}

	if target == StatusDone && !im.StockConsumed {
		if im.VaccineID == nil {
			return out, apperr.Validation("vaccine_id", "a vaccine must be assigned before the dose is administered")
		}
		reason := fmt.Sprintf("Administered %s (%s)", im.VaccineName, im.Dose)
		if _, err := s.stock.Consume(ctx, *im.VaccineID, 1, reason); err != nil {
			return out, err
		}
		now := s.now()
		im.StockConsumed = true
		im.AdministeredBy = auth.ActorFromContext(ctx)
		im.AdministeredAt = &now
		out.administered = true
	}

	out.becameMissed = target == StatusMissed && im.Status != StatusMissed
	im.Status = target
	return out, nil
}

// Reschedule creates a new Upcoming entry for a missed dose and links the
// missed one to it. The missed entry is otherwise left as it was.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, clock, notes string) (*Immunization, error) {
	var verr apperr.ValidationError
	if date.IsZero() {
		verr.Add("schedule_date", "is required")
	} else if today := dateOnly(s.now()); time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, today.Location()).Before(today) {
		verr.Add("schedule_date", "must not be in the past")
	}
	if !validTime(clock) {
		verr.Add("schedule_time", "must be HH:MM")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	var next *Immunization
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if src.Status != StatusMissed {
			return apperr.Conflict("only missed immunizations can be rescheduled (current status: %s)", src.Status)
		}
		if src.Rescheduled() {
			return apperr.Conflict("immunization was already rescheduled")
		}
		if src.VaccineID == nil {
			return apperr.Validation("vaccine_id", "assign a vaccine before rescheduling")
		}

		next = &Immunization{
			ChildID:      src.ChildID,
			Dose:         src.Dose,
			ScheduleDate: dateOnly(date),
			ScheduleTime: clock,
			Status:       StatusUpcoming,
			Notes:        joinNotes(fmt.Sprintf("Rescheduled from %s", src.ScheduleDate.Format("2006-01-02")), notes),
		}
		if err := s.assignVaccine(ctx, next, *src.VaccineID); err != nil {
			return err
		}
		next.NextDueDate = NextDueDate(next.VaccineName, next.Dose, next.ScheduleDate)
		if err := s.repo.Create(ctx, next); err != nil {
			return err
		}

		src.RescheduledToID = &next.ID
		src.Notes = joinNotes(src.Notes, fmt.Sprintf("Rescheduled to %s", next.ScheduleDate.Format("2006-01-02")))
		return s.repo.Update(ctx, src)
	})
	if err != nil {
		return nil, err
	}
	s.notifyRescheduled(ctx, next)
	return next, nil
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

// -- Collaborators --

func (s *Service) smsData(child *patient.Child, im *Immunization, date time.Time) map[string]string {
	return map[string]string{
		"name":    child.Mother.FirstName,
		"child":   child.FirstName,
		"vaccine": im.VaccineName,
		"dose":    im.Dose,
		"date":    date.Format("Jan 2, 2006"),
		"time":    im.ScheduleTime,
	}
}

func (s *Service) childFor(ctx context.Context, im *Immunization) *patient.Child {
	child, err := s.children.GetChild(ctx, im.ChildID)
	if err != nil || child.Mother == nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("immunization_id", im.ID.String()).
			Msg("immunization: cannot address notification")
		return nil
	}
	return child
}

func (s *Service) sms(child *patient.Child, im *Immunization, category, template string, date time.Time) notification.SMS {
	return notification.SMS{
		Phone:         child.Mother.ContactNumber,
		Message:       s.templates.Render(template, s.smsData(child, im, date)),
		Category:      category,
		RecipientName: child.Mother.FullName(),
		SubjectType:   "immunization",
		SubjectID:     im.ID,
	}
}

func (s *Service) publish(ctx context.Context, im *Immunization, out outcome) {
	if s.publisher == nil || (!out.becameMissed && !(out.administered && im.NextDueDate != nil)) {
		return
	}
	child := s.childFor(ctx, im)
	if child == nil {
		return
	}

	if out.becameMissed {
		s.publisher.NotifyStaff(ctx, notification.Notification{
			Title:     "Immunization Missed",
			Message:   fmt.Sprintf("%s missed %s (%s) scheduled on %s.", child.FullName(), im.VaccineName, im.Dose, im.ScheduleDate.Format("Jan 2, 2006")),
			Severity:  notification.SeverityWarning,
			ActionURL: "/immunizations/" + im.ID.String(),
			Metadata:  map[string]string{"immunization_id": im.ID.String(), "child_id": im.ChildID.String()},
		})
		s.publisher.SendSMS(ctx, s.sms(child, im, notification.CategoryImmunizationMissed, notification.TemplateImmunizationMissed, im.ScheduleDate))
	}
	if out.administered && im.NextDueDate != nil {
		s.publisher.SendSMS(ctx, s.sms(child, im, notification.CategoryImmunizationNextDose, notification.TemplateImmunizationNextDose, *im.NextDueDate))
	}
}

func (s *Service) notifyRescheduled(ctx context.Context, im *Immunization) {
	if s.publisher == nil {
		return
	}
	child := s.childFor(ctx, im)
	if child == nil {
		return
	}
	s.publisher.NotifyStaff(ctx, notification.Notification{
		Title:     "Immunization Rescheduled",
		Message:   fmt.Sprintf("%s's %s (%s) was rescheduled to %s.", child.FullName(), im.VaccineName, im.Dose, im.ScheduleDate.Format("Jan 2, 2006")),
		Severity:  notification.SeverityInfo,
		ActionURL: "/immunizations/" + im.ID.String(),
		Metadata:  map[string]string{"immunization_id": im.ID.String(), "child_id": im.ChildID.String()},
	})
	s.publisher.SendSMS(ctx, s.sms(child, im, notification.CategoryImmunizationRescheduled, notification.TemplateImmunizationRescheduled, im.ScheduleDate))
}
