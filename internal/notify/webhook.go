package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10 * time.Second

// WebhookAnnouncer posts clip events as JSON to an HTTP endpoint.
type WebhookAnnouncer struct {
	url    string
	client *http.Client
}

// NewWebhookAnnouncer returns an announcer for url.
func NewWebhookAnnouncer(url string) *WebhookAnnouncer {
	return &WebhookAnnouncer{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Name implements Announcer.
func (w *WebhookAnnouncer) Name() string { return "webhook" }

// Announce implements Announcer.
func (w *WebhookAnnouncer) Announce(ctx context.Context, e *ClipEvent) error {
	return w.send(ctx, e)
}

// SendTest sends a test event to the webhook.
func (w *WebhookAnnouncer) SendTest(ctx context.Context) error {
	if !util.IsConfigured(w.url) {
		return fmt.Errorf("webhook URL not configured")
	}
	return w.send(ctx, map[string]string{
		"event":     "test",
		"message":   "This is a test notification from " + AppName,
		"timestamp": timestampUTC(),
	})
}

func (w *WebhookAnnouncer) send(ctx context.Context, payload any) error {
	if !util.IsConfigured(w.url) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeClose(resp.Body, "webhook response body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
