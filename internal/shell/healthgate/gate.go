// Package healthgate performs pre-flight reachability probes against
// platform health endpoints before targets are admitted to a deployment.
package healthgate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pakforge/pakd/internal/core/platform"
)

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 10 * time.Second

// Status is the outcome of one probe.
type Status struct {
	Healthy bool
	Reason  string
}

// Gate probes platform health endpoints. It is stateless; probes never
// mutate shared records.
type Gate struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a health gate with the given probe timeout.
func New(timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger.With("component", "health_gate"),
	}
}

// Check probes the platform's health endpoint. Platforms without a
// configured endpoint are always healthy; any transport error, timeout,
// or non-2xx response is unhealthy.
func (g *Gate) Check(ctx context.Context, cfg platform.Config) Status {
	if cfg.HealthEndpoint == "" {
		return Status{Healthy: true}
	}

	probeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.HealthEndpoint, nil)
	if err != nil {
		return Status{Healthy: false, Reason: fmt.Sprintf("invalid health endpoint: %v", err)}
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("health probe failed",
			"platform", cfg.Name,
			"endpoint", cfg.HealthEndpoint,
			"error", err,
		)
		return Status{Healthy: false, Reason: fmt.Sprintf("health probe failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		g.logger.Warn("health probe returned non-2xx status",
			"platform", cfg.Name,
			"status", resp.StatusCode,
		)
		return Status{Healthy: false, Reason: fmt.Sprintf("health endpoint returned %d", resp.StatusCode)}
	}

	g.logger.Debug("health probe ok",
		"platform", cfg.Name,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)
	return Status{Healthy: true}
}
