package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPartialRate    AlertType = "partial_rate"
	AlertUnresolvedRate AlertType = "unresolved_rate"
	AlertCostOverrun    AlertType = "cost_overrun"
)

// defaultMinAnalyses is the sample size below which rate alerts stay quiet.
const defaultMinAnalyses = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	minAnalyses := a.cfg.MinAnalyses
	if minAnalyses <= 0 {
		minAnalyses = defaultMinAnalyses
	}

	if snap.Total >= minAnalyses && a.cfg.PartialRateThreshold > 0 && snap.PartialRate > a.cfg.PartialRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPartialRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Partial analysis rate %.1f%% exceeds threshold %.1f%% (%d partial / %d in last %dh)",
				snap.PartialRate*100, a.cfg.PartialRateThreshold*100,
				snap.Partial, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"partial_rate": snap.PartialRate,
				"threshold":    a.cfg.PartialRateThreshold,
				"partial":      snap.Partial,
				"total":        snap.Total,
				"failed_steps": snap.FailedStepHits,
			},
			Timestamp: now,
		})
	}

	chained := snap.Resolved + snap.Unresolved
	if chained >= minAnalyses && a.cfg.UnresolvedRateThreshold > 0 && snap.UnresolvedRate > a.cfg.UnresolvedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUnresolvedRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"ABI resolution failed for %.1f%% of calls, threshold %.1f%% (%d / %d in last %dh)",
				snap.UnresolvedRate*100, a.cfg.UnresolvedRateThreshold*100,
				snap.Unresolved, chained, snap.LookbackHours,
			),
			Details: map[string]any{
				"unresolved_rate": snap.UnresolvedRate,
				"threshold":       a.cfg.UnresolvedRateThreshold,
				"source_wins":     snap.SourceWins,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.ExplanationCostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Explanation cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.ExplanationCostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.ExplanationCostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"explained":     snap.Explained,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
