package prenatal

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

// =========== Record Repository ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recordCols = `id, patient_id, last_menstrual_period, expected_due_date, gravida, para,
	status, COALESCE(notes, ''), created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.LastMenstrualPeriod, &rec.ExpectedDueDate,
		&rec.Gravida, &rec.Para, &rec.Status, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func translateRecord(err error) error {
	return db.TranslateConstraint(err, map[string]error{
		"prenatal_record_one_active_per_patient": apperr.Conflict("patient already has an active prenatal record"),
		"prenatal_record_patient_id_fkey":        apperr.Validation("patient_id", "patient does not exist"),
	})
}

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prenatal_record (id, patient_id, last_menstrual_period, expected_due_date,
			gravida, para, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING created_at, updated_at`,
		rec.ID, rec.PatientID, rec.LastMenstrualPeriod, rec.ExpectedDueDate,
		rec.Gravida, rec.Para, rec.Status, rec.Notes).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	return translateRecord(err)
}

func (r *recordRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM prenatal_record WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("prenatal record", id)
	}
	return rec, err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.get(ctx, id, "")
}

func (r *recordRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("prenatal record GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *recordRepoPG) Update(ctx context.Context, rec *Record) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prenatal_record SET last_menstrual_period = $2, expected_due_date = $3,
			gravida = $4, para = $5, status = $6, notes = NULLIF($7, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, rec.LastMenstrualPeriod, rec.ExpectedDueDate,
		rec.Gravida, rec.Para, rec.Status, rec.Notes).
		Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("prenatal record", rec.ID)
	}
	return translateRecord(err)
}

func (r *recordRepoPG) FindActive(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM prenatal_record
		WHERE patient_id = $1 AND status <> 'completed'`, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+` FROM prenatal_record
		WHERE patient_id = $1 ORDER BY last_menstrual_period DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

// =========== Visit Repository ===========

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{pool: pool}
}

func (r *visitRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitCols = `id, checkup_id, patient_id, prenatal_record_id, status, weight_kg,
	COALESCE(blood_pressure, ''), fetal_heart_rate, fundal_height_cm, gestational_weeks,
	COALESCE(findings, ''), COALESCE(recorded_by, ''), recorded_at, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	var weight, fundal decimal.NullDecimal
	err := row.Scan(&v.ID, &v.CheckupID, &v.PatientID, &v.PrenatalRecordID, &v.Status, &weight,
		&v.BloodPressure, &v.FetalHeartRate, &fundal, &v.GestationalWeeks,
		&v.Findings, &v.RecordedBy, &v.RecordedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if weight.Valid {
		v.WeightKG = &weight.Decimal
	}
	if fundal.Valid {
		v.FundalHeightCM = &fundal.Decimal
	}
	return &v, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (r *visitRepoPG) CreatePending(ctx context.Context, v *Visit) (bool, error) {
	v.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prenatal_checkup (id, checkup_id, patient_id, prenatal_record_id, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (checkup_id) DO NOTHING
		RETURNING created_at, updated_at`,
		v.ID, v.CheckupID, v.PatientID, v.PrenatalRecordID, v.Status).
		Scan(&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, db.TranslateConstraint(err, map[string]error{
			"prenatal_checkup_checkup_id_fkey": apperr.Validation("checkup_id", "checkup does not exist"),
		})
	}
	return true, nil
}

func (r *visitRepoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM prenatal_checkup WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("prenatal checkup", id)
	}
	return v, err
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.get(ctx, id, "")
}

func (r *visitRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("prenatal checkup GetForUpdate requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *visitRepoPG) Update(ctx context.Context, v *Visit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prenatal_checkup SET prenatal_record_id = $2, status = $3, weight_kg = $4,
			blood_pressure = NULLIF($5, ''), fetal_heart_rate = $6, fundal_height_cm = $7,
			gestational_weeks = $8, findings = NULLIF($9, ''), recorded_by = NULLIF($10, ''),
			recorded_at = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.PrenatalRecordID, v.Status, nullDecimal(v.WeightKG),
		v.BloodPressure, v.FetalHeartRate, nullDecimal(v.FundalHeightCM),
		v.GestationalWeeks, v.Findings, v.RecordedBy,
		v.RecordedAt).
		Scan(&v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("prenatal checkup", v.ID)
	}
	return err
}

func (r *visitRepoPG) list(ctx context.Context, where string, arg any) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM prenatal_checkup
		WHERE `+where+` ORDER BY created_at`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *visitRepoPG) ListByCheckup(ctx context.Context, checkupID uuid.UUID) ([]*Visit, error) {
	return r.list(ctx, "checkup_id = $1", checkupID)
}

func (r *visitRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Visit, error) {
	return r.list(ctx, "prenatal_record_id = $1", recordID)
}
