// Package notify delivers best-effort run alerts to an external webhook.
// Notification is a convenience channel, never a correctness dependency: a
// failed delivery is logged at debug level and otherwise swallowed.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"pipeline-engine/pkg/logger"
)

// Webhook posts Slack-style {"text": ...} payloads.
type Webhook struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhook builds a notifier. An empty URL yields a no-op notifier so
// callers never have to branch.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    logger.New("notify"),
	}
}

func (w *Webhook) Notify(text string) error {
	if w.url == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		w.log.Debug().Err(err).Msg("webhook delivery failed")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		w.log.Debug().Err(err).Msg("webhook delivery rejected")
		return err
	}
	return nil
}
