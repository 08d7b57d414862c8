package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/ratelimit"
)

// Mailer sends operator email. Notification failures are logged by
// callers and never fail the operation that triggered them.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

const resendURL = "https://api.resend.com/emails"

// Resend is a Mailer backed by the Resend HTTP API.
type Resend struct {
	APIKey     string
	From       string
	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	Logger     *slog.Logger
}

func (r *Resend) Send(ctx context.Context, to, subject, html string) error {
	if r.APIKey == "" {
		return fmt.Errorf("resend api key not set")
	}
	if r.Limiter != nil {
		ok, retryAfter, err := r.Limiter.Allow(ctx, "resend")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("resend rate limited, retry in %s", retryAfter)
		}
	}
	payload, err := json.Marshal(map[string]any{
		"from":    r.From,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("resend status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// LogMailer logs instead of sending; used when no API key is configured
// and in tests.
type LogMailer struct {
	Logger *slog.Logger
}

func (l LogMailer) Send(_ context.Context, to, subject, _ string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email suppressed", "to", to, "subject", subject)
	return nil
}
