package immunization

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusUpcoming = "Upcoming"
	StatusDone     = "Done"
	StatusMissed   = "Missed"
)

var validStatuses = map[string]bool{
	StatusUpcoming: true, StatusDone: true, StatusMissed: true,
}

// Immunization is one scheduled dose for a child. VaccineID is nil only on
// legacy rows that predate the vaccine inventory; VaccineName is kept for
// those.
type Immunization struct {
	ID              uuid.UUID  `json:"id"`
	ChildID         uuid.UUID  `json:"child_id"`
	VaccineID       *uuid.UUID `json:"vaccine_id,omitempty"`
	VaccineName     string     `json:"vaccine_name"`
	Dose            string     `json:"dose"`
	ScheduleDate    time.Time  `json:"schedule_date"`
	ScheduleTime    string     `json:"schedule_time,omitempty"`
	Status          string     `json:"status"`
	NextDueDate     *time.Time `json:"next_due_date,omitempty"`
	StockConsumed   bool       `json:"stock_consumed"`
	AdministeredBy  string     `json:"administered_by,omitempty"`
	AdministeredAt  *time.Time `json:"administered_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	RescheduledToID *uuid.UUID `json:"rescheduled_to_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Rescheduled reports whether a replacement entry has been created.
func (im *Immunization) Rescheduled() bool {
	return im.RescheduledToID != nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	ChildID   *uuid.UUID
	VaccineID *uuid.UUID
	Status    string
	From      *time.Time
	To        *time.Time
}
