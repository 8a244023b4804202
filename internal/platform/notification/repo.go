package notification

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists staff notifications.
type Repository interface {
	CreateForUsers(ctx context.Context, userIDs []uuid.UUID, n Notification) error
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}

// RecipientSource resolves the default audience for staff notifications.
type RecipientSource interface {
	HealthcareWorkerIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SMSStatus is the outcome recorded in sms_log.
type SMSStatus string

const (
	SMSSent    SMSStatus = "sent"
	SMSFailed  SMSStatus = "failed"
	SMSSkipped SMSStatus = "skipped"
)

// SMSLog is one row of the SMS audit trail.
type SMSLog struct {
	ID            uuid.UUID
	PhoneNumber   string
	Message       string
	Category      string
	RecipientName string
	SubjectType   string
	SubjectID     uuid.UUID
	Status        SMSStatus
	Error         string
}

type SMSLogRepository interface {
	Create(ctx context.Context, l *SMSLog) error
}
