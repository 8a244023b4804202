package sms

import (
	"context"
	"fmt"
	"strings"

	"github.com/arsmn/go-smsir/smsir"
)

// Config holds the sms.ir credentials and the template used for free-text
// messages. The template must declare a "message" parameter.
type Config struct {
	Enabled    bool
	APIKey     string
	SecretKey  string
	TemplateID string
}

// Client sends SMS through sms.ir.
type Client struct {
	client     *smsir.Client
	templateID string
}

// NewFromConfig returns nil when SMS is disabled so callers record attempts
// as skipped.
func NewFromConfig(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sms.ir API key required when SMS enabled")
	}
	if cfg.TemplateID == "" {
		return nil, fmt.Errorf("sms.ir template ID required when SMS enabled")
	}

	return &Client{
		client:     smsir.NewClient().WithAuthentication(cfg.APIKey, cfg.SecretKey),
		templateID: cfg.TemplateID,
	}, nil
}

// SendSMS delivers body to an E.164 number.
func (c *Client) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return fmt.Errorf("phone number is required")
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message body is required")
	}

	req := &smsir.UltraFastSendRequest{
		Mobile:     strings.TrimPrefix(to, "+"),
		TemplateID: c.templateID,
		Parameters: []smsir.UltraFastParameter{
			{Key: "message", Value: body},
		},
	}

	if _, err := c.client.Verification.UltraFastSend(ctx, req); err != nil {
		return fmt.Errorf("sms.ir send failed: %w", err)
	}
	return nil
}
