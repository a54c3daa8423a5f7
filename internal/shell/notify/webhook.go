// Package notify delivers high-severity deployment events to a configured
// webhook sink. Delivery is best-effort: failures are logged and swallowed.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pakforge/pakd/internal/core/faults"
	"github.com/pakforge/pakd/internal/core/monitoring"
)

// =============================================================================
// Payload
// =============================================================================

// Payload is the document posted to the sink.
type Payload struct {
	ErrorType    string    `json:"error_type"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	SystemHealth string    `json:"system_health"`
	TotalErrors  int64     `json:"total_errors"`
	Version      string    `json:"version"`
}

// NewPayload builds a payload from a classified event and a health snapshot.
func NewPayload(ev faults.Event, health monitoring.Snapshot, version string) Payload {
	return Payload{
		ErrorType:    string(ev.Type),
		Severity:     string(ev.Severity),
		Message:      ev.Message,
		Timestamp:    ev.Timestamp,
		SystemHealth: string(health.State),
		TotalErrors:  health.TotalErrors,
		Version:      version,
	}
}

// =============================================================================
// Notifier Interface
// =============================================================================

// Notifier receives high-severity events.
type Notifier interface {
	Notify(ctx context.Context, payload Payload)
}

// Nop is a notifier that discards all events. Used when no sink is
// configured.
type Nop struct{}

func (Nop) Notify(context.Context, Payload) {}

// =============================================================================
// Webhook Notifier
// =============================================================================

// Config holds webhook notifier configuration.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Webhook posts payloads to a single sink URL. Payloads are signed with
// HMAC-SHA256 when a secret is configured.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg Config, logger *slog.Logger) *Webhook {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "notifier"),
	}
}

// Notify posts the payload to the sink. Errors are logged, never returned:
// notification must not affect deployment outcomes.
func (w *Webhook) Notify(ctx context.Context, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("failed to encode notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("X-Pak-Signature", sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("notification delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Warn("notification sink rejected payload", "status", resp.StatusCode)
		return
	}

	w.logger.Debug("notification delivered", "error_type", payload.ErrorType, "severity", payload.Severity)
}

// sign computes the hex HMAC-SHA256 signature of the payload body.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
