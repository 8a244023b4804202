package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/db"
)

// Directory is a read-only view of the patient registry used to validate
// references and to address messages.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetChild returns the child with Mother populated.
	GetChild(ctx context.Context, id uuid.UUID) (*Child, error)
}

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

func (d *directoryPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT id, first_name, last_name, birth_date, COALESCE(contact_number, '')
		FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.ContactNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *directoryPG) GetChild(ctx context.Context, id uuid.UUID) (*Child, error) {
	var c Child
	var m Patient
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT c.id, c.mother_id, c.first_name, c.last_name, c.birth_date,
			m.id, m.first_name, m.last_name, m.birth_date, COALESCE(m.contact_number, '')
		FROM child_record c
		JOIN patient m ON m.id = c.mother_id
		WHERE c.id = $1`, id).
		Scan(&c.ID, &c.MotherID, &c.FirstName, &c.LastName, &c.BirthDate,
			&m.ID, &m.FirstName, &m.LastName, &m.BirthDate, &m.ContactNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("child record", id)
	}
	if err != nil {
		return nil, err
	}
	c.Mother = &m
	return &c, nil
}
