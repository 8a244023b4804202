package patient

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID            uuid.UUID  `json:"id"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	ContactNumber string     `json:"contact_number,omitempty"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Child is a child record linked to its mother.
type Child struct {
	ID        uuid.UUID `json:"id"`
	MotherID  uuid.UUID `json:"mother_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	BirthDate time.Time `json:"birth_date"`
	Mother    *Patient  `json:"mother,omitempty"`
}

func (c *Child) FullName() string {
	return c.FirstName + " " + c.LastName
}
