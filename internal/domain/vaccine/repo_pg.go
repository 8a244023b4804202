package vaccine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/db"
)

// =========== Vaccine Repository ===========

type vaccineRepoPG struct{ pool *pgxpool.Pool }

func NewVaccineRepoPG(pool *pgxpool.Pool) Repository {
	return &vaccineRepoPG{pool: pool}
}

func (r *vaccineRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const vaccineCols = `id, name, category, current_stock, dosage_ml, dose_count, created_at, updated_at`

func scanVaccine(row pgx.Row) (*Vaccine, error) {
	var v Vaccine
	var dosage decimal.NullDecimal
	if err := row.Scan(&v.ID, &v.Name, &v.Category, &v.CurrentStock, &dosage, &v.DoseCount, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if dosage.Valid {
		v.DosageML = &dosage.Decimal
	}
	return &v, nil
}

func (r *vaccineRepoPG) translate(err error, name string) error {
	return db.TranslateConstraint(err, map[string]error{
		"vaccine_name_key":                  apperr.Conflict("a vaccine named %q already exists", name),
		"vaccine_current_stock_nonnegative": &apperr.InsufficientStockError{VaccineName: name},
	})
}

func dosageArg(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (r *vaccineRepoPG) Create(ctx context.Context, v *Vaccine) error {
	v.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vaccine (id, name, category, current_stock, dosage_ml, dose_count)
		VALUES ($1, $2, $3, 0, $4, $5)
		RETURNING created_at, updated_at`,
		v.ID, v.Name, v.Category, dosageArg(v.DosageML), v.DoseCount).
		Scan(&v.CreatedAt, &v.UpdatedAt)
	return r.translate(err, v.Name)
}

func (r *vaccineRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Vaccine, error) {
	v, err := scanVaccine(r.conn(ctx).QueryRow(ctx, `SELECT `+vaccineCols+` FROM vaccine
		WHERE id = $1 AND deleted_at IS NULL`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("vaccine", id)
	}
	return v, err
}

func (r *vaccineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	return r.get(ctx, id, "")
}

func (r *vaccineRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("vaccine GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *vaccineRepoPG) Update(ctx context.Context, v *Vaccine) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE vaccine SET name = $2, category = $3, dosage_ml = $4, dose_count = $5, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		v.ID, v.Name, v.Category, dosageArg(v.DosageML), v.DoseCount)
	if err != nil {
		return r.translate(err, v.Name)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("vaccine", v.ID)
	}
	return nil
}

// Delete archives the vaccine. Its stock movements stay as history and the
// name is free for a new entry.
func (r *vaccineRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	var name string
	var referenced bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT name, EXISTS (SELECT 1 FROM immunization WHERE vaccine_id = $1)
		FROM vaccine WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, id).Scan(&name, &referenced)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("vaccine", id)
	}
	if err != nil {
		return err
	}
	if referenced {
		return apperr.Conflict("vaccine %q is referenced by immunization records", name)
	}
	_, err = r.conn(ctx).Exec(ctx, `UPDATE vaccine SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *vaccineRepoPG) List(ctx context.Context, category string, limit, offset int) ([]*Vaccine, int, error) {
	where := `deleted_at IS NULL AND ($1 = '' OR category = $1)`
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM vaccine WHERE `+where, category).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vaccineCols+` FROM vaccine WHERE `+where+`
		ORDER BY name LIMIT $2 OFFSET $3`, category, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Vaccine
	for rows.Next() {
		v, err := scanVaccine(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (r *vaccineRepoPG) ListLowStock(ctx context.Context, threshold int) ([]*Vaccine, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vaccineCols+` FROM vaccine
		WHERE deleted_at IS NULL AND current_stock <= $1
		ORDER BY current_stock, name`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Vaccine
	for rows.Next() {
		v, err := scanVaccine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// ApplyDelta guards the non-negative invariant in the WHERE clause as well as
// with the table's CHECK constraint.
func (r *vaccineRepoPG) ApplyDelta(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var balance int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE vaccine SET current_stock = current_stock + $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND current_stock + $2 >= 0
		RETURNING current_stock`, id, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var available int
		if qerr := r.conn(ctx).QueryRow(ctx, `SELECT current_stock FROM vaccine WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&available); qerr != nil {
			if errors.Is(qerr, pgx.ErrNoRows) {
				return 0, apperr.NotFound("vaccine", id)
			}
			return 0, qerr
		}
		return 0, &apperr.InsufficientStockError{VaccineID: id, Available: available, Requested: -delta}
	}
	if err != nil {
		return 0, r.translate(err, id.String())
	}
	return balance, nil
}

// =========== Stock Movement Repository ===========

type movementRepoPG struct{ pool *pgxpool.Pool }

func NewMovementRepoPG(pool *pgxpool.Pool) MovementRepository {
	return &movementRepoPG{pool: pool}
}

const movementCols = `id, vaccine_id, quantity, balance_after, reason, actor, created_at`

func scanMovement(row pgx.Row) (*StockMovement, error) {
	var m StockMovement
	err := row.Scan(&m.ID, &m.VaccineID, &m.Quantity, &m.BalanceAfter, &m.Reason, &m.Actor, &m.CreatedAt)
	return &m, err
}

func (r *movementRepoPG) Create(ctx context.Context, m *StockMovement) error {
	m.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO stock_movement (id, vaccine_id, quantity, balance_after, reason, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		m.ID, m.VaccineID, m.Quantity, m.BalanceAfter, m.Reason, m.Actor).Scan(&m.CreatedAt)
}

func (r *movementRepoPG) ListByVaccine(ctx context.Context, vaccineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movement WHERE vaccine_id = $1`, vaccineID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+movementCols+` FROM stock_movement WHERE vaccine_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, vaccineID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
