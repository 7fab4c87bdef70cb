package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackSender posts an incoming-webhook message. The target is the team's
// webhook URL; an empty target falls back to the globally configured one.
type SlackSender struct {
	fallbackURL string
	client      *http.Client
}

func NewSlackSender(fallbackURL string) *SlackSender {
	return &SlackSender{
		fallbackURL: fallbackURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSender) Send(ctx context.Context, n Notification) error {
	url := n.Target
	if url == "" {
		url = s.fallbackURL
	}
	if url == "" {
		return fmt.Errorf("no slack webhook url configured")
	}

	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", n.Title, n.Body),
	})
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
