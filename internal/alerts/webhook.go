package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// WebhookSender posts the alert payload to the team's endpoint, signed so the
// receiver can verify origin. The signature covers "<timestamp>.<body>" with
// HMAC-SHA256, carried in X-Leadflow-Signature / X-Leadflow-Timestamp.
type WebhookSender struct {
	secret string
	client *http.Client
	now    func() time.Time
}

func NewWebhookSender(secret string) *WebhookSender {
	return &WebhookSender{
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	if n.Target == "" {
		return fmt.Errorf("no webhook url for alert")
	}

	body, err := json.Marshal(map[string]any{
		"teamId":  n.TeamID.String(),
		"leadId":  n.LeadID.String(),
		"title":   n.Title,
		"body":    n.Body,
		"payload": n.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Leadflow-Timestamp", timestamp)
	req.Header.Set("X-Leadflow-Signature", Sign(s.secret, timestamp, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of "<timestamp>.<body>". Exported so
// receivers in tests (and documentation snippets) can verify against it.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
