package prenatal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mchcare/mchcare/internal/domain/patient"
	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/db"
)

type Service struct {
	records  RecordRepository
	visits   VisitRepository
	patients patient.Directory
	tx       db.Transactor
	now      func() time.Time
}

func NewService(records RecordRepository, visits VisitRepository, patients patient.Directory, tx db.Transactor) *Service {
	return &Service{records: records, visits: visits, patients: patients, tx: tx, now: time.Now}
}

// SetClock replaces the time source used for "today".
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) today() time.Time {
	return dateOnly(s.now())
}

// -- Prenatal Record --

type CreateInput struct {
	PatientID           uuid.UUID
	LastMenstrualPeriod time.Time
	Gravida             *int
	Para                *int
	Status              string
	Notes               string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Record, error) {
	var verr apperr.ValidationError
	if in.PatientID == uuid.Nil {
		verr.Add("patient_id", "is required")
	}
	if in.LastMenstrualPeriod.IsZero() {
		verr.Add("last_menstrual_period", "is required")
	}
	if in.Status == "" {
		in.Status = StatusNormal
	}
	if !validStatuses[in.Status] || in.Status == StatusCompleted {
		verr.Add("status", "must be one of normal, monitor, high-risk, due")
	}
	if in.Gravida != nil && *in.Gravida < 0 {
		verr.Add("gravida", "must not be negative")
	}
	if in.Para != nil && *in.Para < 0 {
		verr.Add("para", "must not be negative")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	today := s.today()
	lmp := civil(in.LastMenstrualPeriod, today.Location())
	if lmp.After(today) {
		return nil, apperr.Validation("last_menstrual_period", "must not be in the future")
	}

	rec := &Record{
		PatientID:           in.PatientID,
		LastMenstrualPeriod: lmp,
		ExpectedDueDate:     DueDate(lmp),
		Gravida:             in.Gravida,
		Para:                in.Para,
		Status:              in.Status,
		Notes:               strings.TrimSpace(in.Notes),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetPatient(ctx, in.PatientID); err != nil {
			return err
		}
		active, err := s.records.FindActive(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperr.Conflict("patient already has an active prenatal record (LMP %s)", active.LastMenstrualPeriod.Format("2006-01-02"))
		}
		return s.records.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	rec.Progress = rec.ProgressAt(today)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Progress = rec.ProgressAt(s.today())
	return rec, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error) {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	items, err := s.records.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	today := s.today()
	for _, rec := range items {
		if rec.Active() {
			rec.Progress = rec.ProgressAt(today)
		}
	}
	return items, nil
}

// UpdateStatus moves a record between the risk statuses. Completed is
// terminal.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Record, error) {
	if !validStatuses[status] {
		return nil, apperr.Validation("status", "must be one of normal, monitor, high-risk, due, completed")
	}
	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if rec, err = s.records.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if rec.Status == StatusCompleted {
			return apperr.Conflict("prenatal record is already completed")
		}
		rec.Status = status
		return s.records.Update(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	if rec.Active() {
		rec.Progress = rec.ProgressAt(s.today())
	}
	return rec, nil
}

// CheckOwner fails with a validation error unless recordID is a prenatal
// record of patientID.
func (s *Service) CheckOwner(ctx context.Context, recordID, patientID uuid.UUID) error {
	rec, err := s.records.GetByID(ctx, recordID)
	if apperr.IsNotFound(err) {
		return apperr.Validation("prenatal_record_id", "prenatal record does not exist")
	}
	if err != nil {
		return err
	}
	if rec.PatientID != patientID {
		return apperr.Validation("prenatal_record_id", "belongs to another patient")
	}
	return nil
}

// -- Prenatal Checkup --

// CreatePending opens the medical record for a completed prenatal checkup.
// Without an explicit prenatal record the patient's active one is linked, if
// any. Calling it again for the same checkup does nothing.
func (s *Service) CreatePending(ctx context.Context, checkupID, patientID uuid.UUID, prenatalRecordID *uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		recordID := prenatalRecordID
		if recordID != nil {
			if err := s.CheckOwner(ctx, *recordID, patientID); err != nil {
				return err
			}
		} else {
			active, err := s.records.FindActive(ctx, patientID)
			if err != nil {
				return err
			}
			if active != nil {
				recordID = &active.ID
			}
		}
		_, err := s.visits.CreatePending(ctx, &Visit{
			CheckupID:        checkupID,
			PatientID:        patientID,
			PrenatalRecordID: recordID,
			Status:           VisitPending,
		})
		return err
	})
}

type Observations struct {
	WeightKG         *decimal.Decimal
	BloodPressure    string
	FetalHeartRate   *int
	FundalHeightCM   *decimal.Decimal
	GestationalWeeks *int
	Findings         string
}

func (o Observations) empty() bool {
	return o.WeightKG == nil && o.BloodPressure == "" && o.FetalHeartRate == nil &&
		o.FundalHeightCM == nil && o.GestationalWeeks == nil && strings.TrimSpace(o.Findings) == ""
}

// Record fills in a pending visit and completes it. Gestational weeks default
// to the linked record's age on the day of recording.
func (s *Service) Record(ctx context.Context, visitID uuid.UUID, obs Observations) (*Visit, error) {
	var verr apperr.ValidationError
	if obs.empty() {
		verr.Add("observations", "at least one observation is required")
	}
	if obs.WeightKG != nil && !obs.WeightKG.IsPositive() {
		verr.Add("weight_kg", "must be greater than zero")
	}
	if obs.FundalHeightCM != nil && !obs.FundalHeightCM.IsPositive() {
		verr.Add("fundal_height_cm", "must be greater than zero")
	}
	if obs.FetalHeartRate != nil && *obs.FetalHeartRate <= 0 {
		verr.Add("fetal_heart_rate", "must be greater than zero")
	}
	if obs.GestationalWeeks != nil && (*obs.GestationalWeeks < 0 || *obs.GestationalWeeks > 45) {
		verr.Add("gestational_weeks", "must be between 0 and 45")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	var v *Visit
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if v, err = s.visits.GetForUpdate(ctx, visitID); err != nil {
			return err
		}
		if v.Status == VisitCompleted {
			return apperr.Conflict("prenatal checkup was already recorded")
		}

		now := s.now()
		v.WeightKG = obs.WeightKG
		v.BloodPressure = strings.TrimSpace(obs.BloodPressure)
		v.FetalHeartRate = obs.FetalHeartRate
		v.FundalHeightCM = obs.FundalHeightCM
		v.GestationalWeeks = obs.GestationalWeeks
		v.Findings = strings.TrimSpace(obs.Findings)
		if v.GestationalWeeks == nil && v.PrenatalRecordID != nil {
			rec, err := s.records.GetByID(ctx, *v.PrenatalRecordID)
			if err != nil {
				return err
			}
			w, _ := GestationalAge(rec.LastMenstrualPeriod, now)
			v.GestationalWeeks = &w
		}
		v.Status = VisitCompleted
		v.RecordedBy = auth.ActorFromContext(ctx)
		v.RecordedAt = &now
		return s.visits.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.visits.GetByID(ctx, id)
}

func (s *Service) ListByCheckup(ctx context.Context, checkupID uuid.UUID) ([]*Visit, error) {
	return s.visits.ListByCheckup(ctx, checkupID)
}

func (s *Service) ListVisits(ctx context.Context, recordID uuid.UUID) ([]*Visit, error) {
	if _, err := s.records.GetByID(ctx, recordID); err != nil {
		return nil, err
	}
	return s.visits.ListByRecord(ctx, recordID)
}
