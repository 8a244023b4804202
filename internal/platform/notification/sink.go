package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/nyaruka/phonenumbers"
)

// StaffSink stores a notification once per target user.
type StaffSink struct {
	repo       Repository
	recipients RecipientSource
}

func NewStaffSink(repo Repository, recipients RecipientSource) *StaffSink {
	return &StaffSink{repo: repo, recipients: recipients}
}

func (s *StaffSink) Notify(ctx context.Context, n Notification) error {
	if n.Title == "" || n.Message == "" {
		return errors.New("notification title and message are required")
	}
	targets := n.TargetUserIDs
	if len(targets) == 0 {
		ids, err := s.recipients.HealthcareWorkerIDs(ctx)
		if err != nil {
			return fmt.Errorf("resolve recipients: %w", err)
		}
		targets = ids
	}
	if len(targets) == 0 {
		return nil
	}
	return s.repo.CreateForUsers(ctx, targets, n)
}

// SMSService normalizes the recipient number, hands the message to the
// provider and writes an sms_log row for every attempt. A nil sender records
// the attempt as skipped.
type SMSService struct {
	sender SMSSender
	logs   SMSLogRepository
	region string
}

func NewSMSService(sender SMSSender, logs SMSLogRepository, defaultRegion string) *SMSService {
	return &SMSService{sender: sender, logs: logs, region: defaultRegion}
}

// NormalizePhone parses raw in the default region and returns it in E.164.
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (s *SMSService) Send(ctx context.Context, msg SMS) error {
	entry := &SMSLog{
		PhoneNumber:   msg.Phone,
		Message:       msg.Message,
		Category:      msg.Category,
		RecipientName: msg.RecipientName,
		SubjectType:   msg.SubjectType,
		SubjectID:     msg.SubjectID,
	}

	sendErr := s.deliver(ctx, msg, entry)
	if sendErr != nil && entry.Status == "" {
		entry.Status = SMSFailed
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		return errors.Join(sendErr, fmt.Errorf("write sms log: %w", err))
	}
	return sendErr
}

func (s *SMSService) deliver(ctx context.Context, msg SMS, entry *SMSLog) error {
	if msg.Phone == "" {
		entry.Status = SMSSkipped
		return ErrNoPhoneNumber
	}
	phone, err := NormalizePhone(msg.Phone, s.region)
	if err != nil {
		entry.Status = SMSSkipped
		return err
	}
	entry.PhoneNumber = phone

	if s.sender == nil {
		entry.Status = SMSSkipped
		return nil
	}
	if err := s.sender.SendSMS(ctx, phone, msg.Message); err != nil {
		return err
	}
	entry.Status = SMSSent
	return nil
}
