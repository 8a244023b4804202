package prenatal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusNormal    = "normal"
	StatusMonitor   = "monitor"
	StatusHighRisk  = "high-risk"
	StatusDue       = "due"
	StatusCompleted = "completed"
)

var validStatuses = map[string]bool{
	StatusNormal: true, StatusMonitor: true, StatusHighRisk: true, StatusDue: true, StatusCompleted: true,
}

// Visit statuses. A visit is opened pending when its checkup is completed
// and closed once the observations are recorded.
const (
	VisitPending   = "pending"
	VisitCompleted = "completed"
)

// TermDays is the span from the last menstrual period to the expected
// delivery date.
const TermDays = 280

// Record is a pregnancy followed by the clinic. A patient has at most one
// record that is not completed.
type Record struct {
	ID                  uuid.UUID `json:"id"`
	PatientID           uuid.UUID `json:"patient_id"`
	LastMenstrualPeriod time.Time `json:"last_menstrual_period"`
	ExpectedDueDate     time.Time `json:"expected_due_date"`
	Gravida             *int      `json:"gravida,omitempty"`
	Para                *int      `json:"para,omitempty"`
	Status              string    `json:"status"`
	Notes               string    `json:"notes,omitempty"`
	Progress            *Progress `json:"progress,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Active reports whether the record still counts as the patient's current
// pregnancy.
func (r *Record) Active() bool {
	return r.Status != StatusCompleted
}

// Progress is derived from the LMP on the day it is computed. It is never
// stored.
type Progress struct {
	Weeks     int `json:"gestational_weeks"`
	Days      int `json:"gestational_days"`
	Trimester int `json:"trimester"`
}

// Visit is the medical record of one completed prenatal checkup.
type Visit struct {
	ID               uuid.UUID        `json:"id"`
	CheckupID        uuid.UUID        `json:"checkup_id"`
	PatientID        uuid.UUID        `json:"patient_id"`
	PrenatalRecordID *uuid.UUID       `json:"prenatal_record_id,omitempty"`
	Status           string           `json:"status"`
	WeightKG         *decimal.Decimal `json:"weight_kg,omitempty"`
	BloodPressure    string           `json:"blood_pressure,omitempty"`
	FetalHeartRate   *int             `json:"fetal_heart_rate,omitempty"`
	FundalHeightCM   *decimal.Decimal `json:"fundal_height_cm,omitempty"`
	GestationalWeeks *int             `json:"gestational_weeks,omitempty"`
	Findings         string           `json:"findings,omitempty"`
	RecordedBy       string           `json:"recorded_by,omitempty"`
	RecordedAt       *time.Time       `json:"recorded_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DueDate returns LMP + 280 days.
func DueDate(lmp time.Time) time.Time {
	return dateOnly(lmp).AddDate(0, 0, TermDays)
}

// GestationalAge returns completed weeks and remaining days between lmp and
// on. Dates before the LMP yield zero.
func GestationalAge(lmp, on time.Time) (weeks, days int) {
	a, b := dateOnly(lmp), civil(on, lmp.Location())
	if b.Before(a) {
		return 0, 0
	}
	total := int(b.Sub(a).Hours()/24 + 0.5)
	return total / 7, total % 7
}

// Trimester maps completed gestational weeks to 1, 2 or 3.
func Trimester(weeks int) int {
	switch {
	case weeks < 14:
		return 1
	case weeks < 28:
		return 2
	default:
		return 3
	}
}

// ProgressAt computes the record's progress on the given day.
func (r *Record) ProgressAt(on time.Time) *Progress {
	w, d := GestationalAge(r.LastMenstrualPeriod, on)
	return &Progress{Weeks: w, Days: d, Trimester: Trimester(w)}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func civil(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
