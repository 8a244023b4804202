package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mchcare/mchcare/internal/platform/apperr"
)

// =========== Notification Repository ===========

// Notifications are written after the domain transaction commits, so these
// repositories always use the pool.

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &notificationRepoPG{pool: pool}
}

const notificationCols = `id, user_id, title, message, severity, COALESCE(action_url, ''), metadata, read_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var meta []byte
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Severity, &n.ActionURL, &meta, &n.ReadAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode notification metadata: %w", err)
		}
	}
	return &n, nil
}

func (r *notificationRepoPG) CreateForUsers(ctx context.Context, userIDs []uuid.UUID, n Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode notification metadata: %w", err)
	}
	if n.Metadata == nil {
		meta = []byte("{}")
	}

	batch := &pgx.Batch{}
	for _, uid := range userIDs {
		batch.Queue(`
			INSERT INTO notification (id, user_id, title, message, severity, action_url, metadata)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
			uuid.New(), uid, n.Title, n.Message, n.Severity, n.ActionURL, meta)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *notificationRepoPG) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := `user_id = $1`
	if unreadOnly {
		where += ` AND read_at IS NULL`
	}

	conn := r.pool
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification WHERE `+where, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+notificationCols+` FROM notification WHERE `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification", id)
	}
	return nil
}

// =========== Recipients ===========

type recipientsPG struct{ pool *pgxpool.Pool }

// NewRecipientsPG lists active staff in a clinical role.
func NewRecipientsPG(pool *pgxpool.Pool) RecipientSource {
	return &recipientsPG{pool: pool}
}

func (r *recipientsPG) HealthcareWorkerIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM app_user
		WHERE active AND role IN ('admin', 'midwife', 'nurse', 'healthcare_worker')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// =========== SMS Log ===========

type smsLogRepoPG struct{ pool *pgxpool.Pool }

func NewSMSLogRepoPG(pool *pgxpool.Pool) SMSLogRepository {
	return &smsLogRepoPG{pool: pool}
}

func (r *smsLogRepoPG) Create(ctx context.Context, l *SMSLog) error {
	l.ID = uuid.New()
	var subjectID *uuid.UUID
	if l.SubjectID != uuid.Nil {
		subjectID = &l.SubjectID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sms_log (id, phone_number, message, category, recipient_name, subject_type, subject_id, status, error)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, NULLIF($9, ''))`,
		l.ID, l.PhoneNumber, l.Message, l.Category, l.RecipientName, l.SubjectType, subjectID, l.Status, l.Error)
	return err
}
