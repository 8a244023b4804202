package checkup

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusUpcoming  = "upcoming"
	StatusDone      = "done"
	StatusMissed    = "missed"
	StatusCancelled = "cancelled"
)

const (
	TypePrenatal  = "prenatal_checkup"
	TypePostnatal = "postnatal_checkup"
	TypeGeneral   = "general"
)

var validTypes = map[string]bool{
	TypePrenatal: true, TypePostnatal: true, TypeGeneral: true,
}

// typeLabels name each checkup type in patient-facing text.
var typeLabels = map[string]string{
	TypePrenatal:  "prenatal checkup",
	TypePostnatal: "postnatal checkup",
	TypeGeneral:   "checkup",
}

func typeLabel(t string) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "checkup"
}

var validStatuses = map[string]bool{
	StatusUpcoming: true, StatusDone: true, StatusMissed: true, StatusCancelled: true,
}

const (
	// DefaultMissedReason is used when staff mark a checkup missed without a reason.
	DefaultMissedReason = "Patient did not show up"
	// AutoMissedReason is written by the sweep.
	AutoMissedReason = "Did not show up for upcoming appointment"
)

// Vitals are the observations taken at a visit.
type Vitals struct {
	WeightKG       *decimal.Decimal `json:"weight_kg,omitempty"`
	BloodPressure  string           `json:"blood_pressure,omitempty"`
	FetalHeartRate *int             `json:"fetal_heart_rate,omitempty"`
	FundalHeightCM *decimal.Decimal `json:"fundal_height_cm,omitempty"`
	Symptoms       string           `json:"symptoms,omitempty"`
}

// Empty reports whether no observation was recorded.
func (v Vitals) Empty() bool {
	return v.WeightKG == nil && v.BloodPressure == "" && v.FetalHeartRate == nil &&
		v.FundalHeightCM == nil && v.Symptoms == ""
}

// Checkup is a scheduled or completed visit. A missed checkup that has been
// rescheduled keeps its row; RescheduledToID points at the replacement and
// the replacement's RescheduledFromID points back.
type Checkup struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PrenatalRecordID *uuid.UUID `json:"prenatal_record_id,omitempty"`
	Type             string     `json:"checkup_type"`
	Date             time.Time  `json:"checkup_date"`
	Time             string     `json:"checkup_time,omitempty"`
	Status           string     `json:"status"`
	Vitals
	Notes             string     `json:"notes,omitempty"`
	ConductedBy       string     `json:"conducted_by,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	MissedReason      string     `json:"missed_reason,omitempty"`
	MissedDate        *time.Time `json:"missed_date,omitempty"`
	AutoMissed        bool       `json:"auto_missed"`
	Rescheduled       bool       `json:"rescheduled"`
	RescheduledToID   *uuid.UUID `json:"rescheduled_to_checkup_id,omitempty"`
	RescheduledFromID *uuid.UUID `json:"rescheduled_from_checkup_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	PatientID *uuid.UUID
	Status    string
	Date      *time.Time
	From      *time.Time
	To        *time.Time
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// sameDay compares calendar dates regardless of location.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// civil moves a calendar date into loc without shifting the day.
func civil(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

const dateLayout = "2006-01-02"
