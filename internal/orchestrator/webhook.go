package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// webhookRetryDelay separates the two delivery attempts per URL.
const webhookRetryDelay = 500 * time.Millisecond

// Event is the webhook payload posted to every consumer.
type Event struct {
	Event     string    `json:"event"`
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier posts job outcomes to webhook consumers. Delivery is best
// effort: one retry per URL, failures logged and swallowed.
type Notifier struct {
	urls   []string
	client *http.Client
}

// NewNotifier builds a Notifier. The timeout applies per attempt.
func NewNotifier(urls []string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		urls:   urls,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify delivers the event to every configured URL in order.
func (n *Notifier) Notify(ctx context.Context, event Event) {
	if n == nil || len(n.urls) == 0 {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		slog.Warn("webhook_payload_not_encoded", slog.String("error", err.Error()))
		return
	}
	for _, url := range n.urls {
		if err := n.post(ctx, url, body); err != nil {
			slog.Warn("webhook_delivery_failed",
				slog.String("url", url),
				slog.String("event", event.Event),
				slog.String("error", err.Error()))
		}
	}
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(webhookRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return lastErr
}
