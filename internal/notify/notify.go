// Package notify delivers risk alerts and operational errors to the operator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paper-exchange/internal/config"
	"paper-exchange/internal/models"
	"paper-exchange/pkg/utils"
)

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Severity  models.AlertSeverity
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationAlert NotificationType = "alert"
	NotificationError NotificationType = "error"
	NotificationInfo  NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll          NotificationLevel = "all"
	LevelCriticalOnly NotificationLevel = "critical_only"
)

// MultiNotifier fans notifications out to every enabled channel. It
// implements risk.Notifier.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	now      func() time.Time
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier from configuration. Terminal
// output goes to out. With notifications disabled it has no channels and
// every send is a no-op.
func NewMultiNotifier(cfg config.NotificationConfig, ui config.UIConfig, out io.Writer, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
		now:      time.Now,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
	if mn.level == "" {
		mn.level = LevelAll
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Terminal && out != nil {
		mn.channels = append(mn.channels, NewTerminalNotifier(out, ui.ColorEnabled, ui.TimeFormat))
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the configured channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	names := make([]string, 0, len(mn.channels))
	for _, ch := range mn.channels {
		names = append(names, ch.Name())
	}
	return names
}

// shouldSend checks if a notification passes the level filter.
func (mn *MultiNotifier) shouldSend(n Notification) bool {
	switch mn.level {
	case LevelCriticalOnly:
		return n.Type == NotificationError || n.Severity == models.SeverityCritical
	default:
		return true
	}
}

// Send sends a notification to all enabled channels. Every channel is
// attempted; failures are joined into one error.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = mn.now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				mn.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("Notification delivery failed")
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Notify sends a portfolio risk alert.
func (mn *MultiNotifier) Notify(ctx context.Context, alert models.RiskAlert) error {
	title := fmt.Sprintf("Risk Alert: %s %s", alert.Kind, alert.AccountID)
	message := fmt.Sprintf(
		"Account: %s\nKind: %s\nSeverity: %s\nValue: %s\nThreshold: %s\n%s",
		alert.AccountID,
		alert.Kind,
		alert.Severity,
		utils.FormatAmount(alert.Value, 4),
		utils.FormatAmount(alert.Threshold, 4),
		alert.Message,
	)

	return mn.Send(ctx, Notification{
		Type:      NotificationAlert,
		Severity:  alert.Severity,
		Title:     title,
		Message:   message,
		Timestamp: alert.At,
		Data: map[string]interface{}{
			"alert_id":   alert.ID,
			"account_id": alert.AccountID,
			"kind":       alert.Kind,
			"severity":   alert.Severity,
			"value":      alert.Value.String(),
			"threshold":  alert.Threshold.String(),
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Type:     NotificationError,
		Severity: models.SeverityCritical,
		Title:    "Error Occurred",
		Message:  fmt.Sprintf("Context: %s\nError: %v", errContext, err),
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Type      NotificationType       `json:"type"`
	Severity  string                 `json:"severity,omitempty"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	body, err := json.Marshal(WebhookPayload{
		Type:      n.Type,
		Severity:  string(n.Severity),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Timestamp: n.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "paperx/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
