package checkup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/db"
)

// patientLockClass namespaces the per-patient advisory locks.
const patientLockClass = 7_340_212

type checkupRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &checkupRepoPG{pool: pool}
}

func (r *checkupRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const checkupCols = `id, patient_id, prenatal_record_id, checkup_type, checkup_date,
	COALESCE(checkup_time, ''), status, weight_kg, COALESCE(blood_pressure, ''),
	fetal_heart_rate, fundal_height_cm, COALESCE(symptoms, ''), COALESCE(notes, ''),
	COALESCE(conducted_by, ''), completed_at, COALESCE(missed_reason, ''), missed_date,
	auto_missed, rescheduled, rescheduled_to_checkup_id, rescheduled_from_checkup_id,
	created_at, updated_at`

func scanCheckup(row pgx.Row) (*Checkup, error) {
	var c Checkup
	var weight, fundal decimal.NullDecimal
	err := row.Scan(&c.ID, &c.PatientID, &c.PrenatalRecordID, &c.Type, &c.Date,
		&c.Time, &c.Status, &weight, &c.BloodPressure,
		&c.FetalHeartRate, &fundal, &c.Symptoms, &c.Notes,
		&c.ConductedBy, &c.CompletedAt, &c.MissedReason, &c.MissedDate,
		&c.AutoMissed, &c.Rescheduled, &c.RescheduledToID, &c.RescheduledFromID,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if weight.Valid {
		c.WeightKG = &weight.Decimal
	}
	if fundal.Valid {
		c.FundalHeightCM = &fundal.Decimal
	}
	return &c, nil
}

func scanAll(rows pgx.Rows) ([]*Checkup, error) {
	defer rows.Close()
	var items []*Checkup
	for rows.Next() {
		c, err := scanCheckup(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *checkupRepoPG) translate(ctx context.Context, err error, c *Checkup) error {
	if err == nil {
		return nil
	}
	if _, name, ok := db.Constraint(err); ok && name == "checkup_one_upcoming_per_patient" {
		return r.upcomingConflict(ctx, c)
	}
	return db.TranslateConstraint(err, map[string]error{
		"checkup_one_done_per_patient_date":    apperr.Conflict("a completed checkup already exists for this patient on %s", c.Date.Format(dateLayout)),
		"checkup_rescheduled_only_when_missed": apperr.Conflict("only missed checkups can be flagged as rescheduled"),
		"checkup_patient_id_fkey":              apperr.Validation("patient_id", "patient does not exist"),
		"checkup_prenatal_record_id_fkey":      apperr.Validation("prenatal_record_id", "prenatal record does not exist"),
	})
}

// upcomingConflict names the upcoming checkup that holds the index. The
// failed statement aborted the caller's transaction, so the lookup uses the
// pool; the other row is committed by the time the index rejects ours.
func (r *checkupRepoPG) upcomingConflict(ctx context.Context, c *Checkup) error {
	var existing time.Time
	err := r.pool.QueryRow(ctx, `SELECT checkup_date FROM checkup
		WHERE patient_id = $1 AND status = 'upcoming' AND id <> $2
		LIMIT 1`, c.PatientID, c.ID).Scan(&existing)
	if err != nil {
		return apperr.Conflict("patient already has an upcoming checkup")
	}
	return upcomingConflict(existing, c.Date)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decimalArg(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (r *checkupRepoPG) Create(ctx context.Context, c *Checkup) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO checkup (id, patient_id, prenatal_record_id, checkup_type, checkup_date,
			checkup_time, status, weight_kg, blood_pressure, fetal_heart_rate, fundal_height_cm,
			symptoms, notes, conducted_by, completed_at, rescheduled_from_checkup_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.PrenatalRecordID, c.Type, c.Date,
		nullable(c.Time), c.Status, decimalArg(c.WeightKG), nullable(c.BloodPressure),
		c.FetalHeartRate, decimalArg(c.FundalHeightCM),
		nullable(c.Symptoms), nullable(c.Notes), nullable(c.ConductedBy), c.CompletedAt, c.RescheduledFromID).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	return r.translate(ctx, err, c)
}

func (r *checkupRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Checkup, error) {
	c, err := scanCheckup(r.conn(ctx).QueryRow(ctx, `SELECT `+checkupCols+` FROM checkup WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("checkup", id)
	}
	return c, err
}

func (r *checkupRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Checkup, error) {
	return r.get(ctx, id, "")
}

func (r *checkupRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Checkup, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("checkup GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *checkupRepoPG) Update(ctx context.Context, c *Checkup) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE checkup SET prenatal_record_id = $2, checkup_type = $3, checkup_date = $4,
			checkup_time = $5, status = $6, weight_kg = $7, blood_pressure = $8,
			fetal_heart_rate = $9, fundal_height_cm = $10, symptoms = $11, notes = $12,
			conducted_by = $13, completed_at = $14, missed_reason = $15, missed_date = $16,
			auto_missed = $17, rescheduled = $18, rescheduled_to_checkup_id = $19,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.PrenatalRecordID, c.Type, c.Date,
		nullable(c.Time), c.Status, decimalArg(c.WeightKG), nullable(c.BloodPressure),
		c.FetalHeartRate, decimalArg(c.FundalHeightCM), nullable(c.Symptoms), nullable(c.Notes),
		nullable(c.ConductedBy), c.CompletedAt, nullable(c.MissedReason), c.MissedDate,
		c.AutoMissed, c.Rescheduled, c.RescheduledToID).
		Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("checkup", c.ID)
	}
	return r.translate(ctx, err, c)
}

func (r *checkupRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM checkup WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("checkup", id)
	}
	return nil
}

func (r *checkupRepoPG) FindUpcoming(ctx context.Context, patientID uuid.UUID) (*Checkup, error) {
	c, err := scanCheckup(r.conn(ctx).QueryRow(ctx, `SELECT `+checkupCols+` FROM checkup
		WHERE patient_id = $1 AND status = 'upcoming'
		ORDER BY checkup_date LIMIT 1`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *checkupRepoPG) FindByPatientDate(ctx context.Context, patientID uuid.UUID, date time.Time, statuses ...string) ([]*Checkup, error) {
	q := db.NewListQuery("checkup", checkupCols).
		Where("patient_id = ?", patientID).
		Where("checkup_date = ?", date).
		OrderBy("created_at")
	if len(statuses) > 0 {
		q.Where("status = ANY(?)", statuses)
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(0), q.DataArgs(0, 0)...)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (r *checkupRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Checkup, int, error) {
	q := db.NewListQuery("checkup", checkupCols).OrderBy("checkup_date DESC, created_at DESC")
	if f.PatientID != nil {
		q.Where("patient_id = ?", *f.PatientID)
	}
	if f.Status != "" {
		q.Where("status = ?", f.Status)
	}
	if f.Date != nil {
		q.Where("checkup_date = ?", *f.Date)
	}
	if f.From != nil {
		q.Where("checkup_date >= ?", *f.From)
	}
	if f.To != nil {
		q.Where("checkup_date <= ?", *f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := scanAll(rows)
	return items, total, err
}

func (r *checkupRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Checkup, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+checkupCols+` FROM checkup
		WHERE patient_id = $1 ORDER BY checkup_date, created_at`, patientID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

// MarkOverdueMissed is a single UPDATE so concurrent sweeps cannot
// double-transition a row; a second run finds nothing left to change.
func (r *checkupRepoPG) MarkOverdueMissed(ctx context.Context, day, now time.Time, reason string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE checkup SET status = 'missed', auto_missed = TRUE, missed_reason = $3,
			missed_date = $2, updated_at = NOW()
		WHERE status = 'upcoming' AND checkup_date = $1`, day, now, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *checkupRepoPG) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("checkup LockPatient requires a transaction")
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, patientLockClass, patientID.String())
	return err
}
