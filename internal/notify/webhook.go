package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Webhook POSTs each message as JSON to a fixed URL, retrying transient
// failures.
type Webhook struct {
	url    string
	client *retryablehttp.Client
}

// NewWebhook creates a webhook sink for url.
func NewWebhook(url string) *Webhook {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return &Webhook{url: url, client: c}
}

func (w *Webhook) NotifyFaction(ctx context.Context, factionID, message string) error {
	body, err := json.Marshal(NewMessage(factionID, message))
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}
