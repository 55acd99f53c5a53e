// Package notify provides the outbound notification boundary. Delivery is
// best-effort: callers invoke Send after their own commit and only log
// failures, never roll back.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Template identifiers for lifecycle notifications.
const (
	TemplatePaymentCreated      = "payment_created"
	TemplatePaymentSuccess      = "payment_success"
	TemplatePaymentFailed       = "payment_failed"
	TemplateApplicationCreated  = "application_created"
	TemplateApplicationApproved = "application_approved"
	TemplateApplicationRejected = "application_rejected"
	TemplateApplicationDeleted  = "application_deleted"
)

// Notifier delivers a templated notification to a single recipient.
type Notifier interface {
	Send(ctx context.Context, templateID, recipient string, data map[string]interface{}) error
}

// Noop discards every notification. Useful in tests and when no mailer is
// configured.
type Noop struct{}

// Send implements Notifier.
func (Noop) Send(context.Context, string, string, map[string]interface{}) error { return nil }

// MailerClient posts template emails to the external mailer service.
type MailerClient struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
}

// MailerConfig configures the mailer client.
type MailerConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewMailerClient creates an HTTP-backed notifier.
func NewMailerClient(cfg MailerConfig) *MailerClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &MailerClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		maxRetries: maxRetries,
	}
}

var _ Notifier = (*MailerClient)(nil)

type sendRequest struct {
	ToEmail      string                 `json:"to_email"`
	TemplateID   string                 `json:"template_id"`
	TemplateData map[string]interface{} `json:"template_data"`
}

// Send posts the notification, retrying transient failures.
func (c *MailerClient) Send(ctx context.Context, templateID, recipient string, data map[string]interface{}) error {
	payload, err := json.Marshal(sendRequest{
		ToEmail:      recipient,
		TemplateID:   templateID,
		TemplateData: data,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send_template", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("mailer returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}
