package immunization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/db"
)

type immunizationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &immunizationRepoPG{pool: pool}
}

func (r *immunizationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const immCols = `id, child_id, vaccine_id, vaccine_name, dose, schedule_date,
	COALESCE(schedule_time, ''), status, next_due_date, stock_consumed,
	COALESCE(administered_by, ''), administered_at, COALESCE(notes, ''),
	rescheduled_to_id, created_at, updated_at`

func scanImm(row pgx.Row) (*Immunization, error) {
	var im Immunization
	err := row.Scan(&im.ID, &im.ChildID, &im.VaccineID, &im.VaccineName, &im.Dose, &im.ScheduleDate,
		&im.ScheduleTime, &im.Status, &im.NextDueDate, &im.StockConsumed,
		&im.AdministeredBy, &im.AdministeredAt, &im.Notes,
		&im.RescheduledToID, &im.CreatedAt, &im.UpdatedAt)
	return &im, err
}

var immConstraints = map[string]error{
	"immunization_child_id_fkey":   apperr.Validation("child_id", "child record does not exist"),
	"immunization_vaccine_id_fkey": apperr.Validation("vaccine_id", "vaccine does not exist"),
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *immunizationRepoPG) Create(ctx context.Context, im *Immunization) error {
	im.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO immunization (id, child_id, vaccine_id, vaccine_name, dose, schedule_date,
			schedule_time, status, next_due_date, stock_consumed, administered_by, administered_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		im.ID, im.ChildID, im.VaccineID, im.VaccineName, im.Dose, im.ScheduleDate,
		nullable(im.ScheduleTime), im.Status, im.NextDueDate, im.StockConsumed,
		nullable(im.AdministeredBy), im.AdministeredAt, nullable(im.Notes)).
		Scan(&im.CreatedAt, &im.UpdatedAt)
	return db.TranslateConstraint(err, immConstraints)
}

func (r *immunizationRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Immunization, error) {
	im, err := scanImm(r.conn(ctx).QueryRow(ctx, `SELECT `+immCols+` FROM immunization WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("immunization", id)
	}
	return im, err
}

func (r *immunizationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Immunization, error) {
	return r.get(ctx, id, "")
}

func (r *immunizationRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Immunization, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("immunization GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *immunizationRepoPG) Update(ctx context.Context, im *Immunization) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE immunization SET vaccine_id = $2, vaccine_name = $3, dose = $4, schedule_date = $5,
			schedule_time = $6, status = $7, next_due_date = $8, stock_consumed = $9,
			administered_by = $10, administered_at = $11, notes = $12, rescheduled_to_id = $13,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		im.ID, im.VaccineID, im.VaccineName, im.Dose, im.ScheduleDate,
		nullable(im.ScheduleTime), im.Status, im.NextDueDate, im.StockConsumed,
		nullable(im.AdministeredBy), im.AdministeredAt, nullable(im.Notes), im.RescheduledToID).
		Scan(&im.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("immunization", im.ID)
	}
	return db.TranslateConstraint(err, immConstraints)
}

func (r *immunizationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM immunization WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("immunization", id)
	}
	return nil
}

func (r *immunizationRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Immunization, int, error) {
	q := db.NewListQuery("immunization", immCols).OrderBy("schedule_date, created_at")
	if f.ChildID != nil {
		q.Where("child_id = ?", *f.ChildID)
	}
	if f.VaccineID != nil {
		q.Where("vaccine_id = ?", *f.VaccineID)
	}
	if f.Status != "" {
		q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q.Where("schedule_date >= ?", *f.From)
	}
	if f.To != nil {
		q.Where("schedule_date <= ?", *f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Immunization
	for rows.Next() {
		im, err := scanImm(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, im)
	}
	return items, total, rows.Err()
}
