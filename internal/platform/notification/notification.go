// Package notification delivers staff notifications and patient SMS for the
// checkup and immunization workflows. Delivery is best-effort: callers hand
// messages to a Dispatcher after their transaction commits and never see a
// delivery failure.
package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Staff Notifications
// ---------------------------------------------------------------------------

// Severity drives how the UI badges a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Notification is an in-app message for one or more staff users. When
// TargetUserIDs is empty it goes to every active healthcare worker.
type Notification struct {
	ID            uuid.UUID         `json:"id"`
	UserID        uuid.UUID         `json:"user_id"`
	TargetUserIDs []uuid.UUID       `json:"-"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	Severity      Severity          `json:"severity"`
	ActionURL     string            `json:"action_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ReadAt        *time.Time        `json:"read_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Sink stores staff notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// ---------------------------------------------------------------------------
// Patient SMS
// ---------------------------------------------------------------------------

// SMS is a text message to a patient or guardian about a specific record.
type SMS struct {
	Phone         string
	Message       string
	Category      string
	RecipientName string
	SubjectType   string
	SubjectID     uuid.UUID
}

// SMS categories.
const (
	CategoryCheckupMissed           = "checkup_missed"
	CategoryCheckupRescheduled      = "checkup_rescheduled"
	CategoryImmunizationMissed      = "immunization_missed"
	CategoryImmunizationRescheduled = "immunization_rescheduled"
	CategoryImmunizationNextDose    = "immunization_next_dose"
)

// SMSSink sends an SMS and records the attempt.
type SMSSink interface {
	Send(ctx context.Context, msg SMS) error
}

// SMSSender is the raw transport to an SMS provider. to is E.164.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

var ErrNoPhoneNumber = errors.New("recipient has no phone number")

// SMSMaxLength is the single-segment budget for a GSM-7 message.
const SMSMaxLength = 160

// ComposeSMS appends " - tag" to body only if the result still fits in one
// segment.
func ComposeSMS(body, tag string) string {
	body = strings.TrimSpace(body)
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return body
	}
	withTag := body + " - " + tag
	if utf8.RuneCountInString(withTag) > SMSMaxLength {
		return body
	}
	return withTag
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template IDs for the built-in SMS bodies.
const (
	TemplateCheckupMissed           = "checkup-missed"
	TemplateCheckupRescheduled      = "checkup-rescheduled"
	TemplateImmunizationMissed      = "immunization-missed"
	TemplateImmunizationRescheduled = "immunization-rescheduled"
	TemplateImmunizationNextDose    = "immunization-next-dose"
)

// Template is an SMS body with {{key}} placeholders.
type Template struct {
	ID   string
	Body string
}

// TemplateEngine holds SMS templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{TemplateCheckupMissed, "Hi {{name}}, you missed your {{visit}} on {{date}}. Please visit the health center to reschedule."},
		{TemplateCheckupRescheduled, "Hi {{name}}, your {{visit}} is rescheduled to {{date}} {{time}}. Please come on time."},
		{TemplateImmunizationMissed, "Hi {{name}}, {{child}} missed the {{vaccine}} {{dose}} on {{date}}. Please visit the health center."},
		{TemplateImmunizationRescheduled, "Hi {{name}}, {{child}}'s {{vaccine}} {{dose}} is rescheduled to {{date}} {{time}}."},
		{TemplateImmunizationNextDose, "Hi {{name}}, {{child}} received {{vaccine}} {{dose}}. Next dose is due on {{date}}."},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
// Unknown template IDs render as "".
func (e *TemplateEngine) Render(templateID string, data map[string]string) string {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return ""
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return strings.Join(strings.Fields(body), " ")
}
