package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// Notifier delivers a confirmed alert to an external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert model.AlertRecord) error
}

// LogNotifier writes confirmed alerts to the structured log. Always on so
// an operator tailing the log sees confirmations even with no webhook
// configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, alert model.AlertRecord) error {
	if n.Logger != nil {
		n.Logger.Warn("fire alert confirmed",
			"alert_id", alert.ID,
			"severity", alert.Severity,
			"confidence", alert.Confidence,
			"image_ref", alert.ImageRef,
		)
	}
	return nil
}

// WebhookNotifier POSTs the alert record as JSON to a configured endpoint.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(cfg config.NotifyConfig) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &WebhookNotifier{client: client, url: cfg.WebhookURL}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, alert model.AlertRecord) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(alert).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
