package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		PartialRateThreshold:    0.10,
		UnresolvedRateThreshold: 0.50,
		CostThresholdUSD:        10.0,
	}
}

func TestAlerter_Evaluate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.MonitoringConfig
		snap  MetricsSnapshot
		want  []AlertType
		check func(t *testing.T, alerts []Alert)
	}{
		{
			name: "healthy",
			cfg:  thresholds(),
			snap: MetricsSnapshot{Total: 100, Partial: 5, PartialRate: 0.05, Resolved: 90, Unresolved: 10, UnresolvedRate: 0.1, ExplanationCostUSD: 1},
		},
		{
			name: "partial rate",
			cfg:  thresholds(),
			snap: MetricsSnapshot{Total: 20, Partial: 8, PartialRate: 0.4, LookbackHours: 24},
			want: []AlertType{AlertPartialRate},
			check: func(t *testing.T, alerts []Alert) {
				assert.Equal(t, "high", alerts[0].Severity)
				assert.Contains(t, alerts[0].Message, "40.0%")
				assert.Contains(t, alerts[0].Message, "8 partial / 20")
			},
		},
		{
			name: "partial rate below sample size",
			cfg:  thresholds(),
			snap: MetricsSnapshot{Total: 3, Partial: 2, PartialRate: 0.66},
		},
		{
			name: "custom sample size",
			cfg: func() config.MonitoringConfig {
				c := thresholds()
				c.MinAnalyses = 2
				return c
			}(),
			snap: MetricsSnapshot{Total: 3, Partial: 2, PartialRate: 0.66},
			want: []AlertType{AlertPartialRate},
		},
		{
			name: "unresolved rate",
			cfg:  thresholds(),
			snap: MetricsSnapshot{Total: 10, Resolved: 2, Unresolved: 8, UnresolvedRate: 0.8},
			want: []AlertType{AlertUnresolvedRate},
			check: func(t *testing.T, alerts []Alert) {
				assert.Equal(t, "medium", alerts[0].Severity)
				assert.Contains(t, alerts[0].Message, "80.0%")
			},
		},
		{
			name: "cost overrun",
			cfg:  thresholds(),
			snap: MetricsSnapshot{Total: 1, ExplanationCostUSD: 25, LookbackHours: 24},
			want: []AlertType{AlertCostOverrun},
			check: func(t *testing.T, alerts []Alert) {
				assert.Contains(t, alerts[0].Message, "$25.00")
			},
		},
		{
			name: "zero thresholds disable alerts",
			cfg:  config.MonitoringConfig{},
			snap: MetricsSnapshot{Total: 50, Partial: 50, PartialRate: 1, Unresolved: 50, UnresolvedRate: 1, ExplanationCostUSD: 999},
		},
		{
			name: "all",
			cfg:  thresholds(),
			snap: MetricsSnapshot{Total: 20, Partial: 10, PartialRate: 0.5, Resolved: 5, Unresolved: 15, UnresolvedRate: 0.75, ExplanationCostUSD: 50},
			want: []AlertType{AlertPartialRate, AlertUnresolvedRate, AlertCostOverrun},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := tt.snap
			alerts := NewAlerter(tt.cfg).Evaluate(&snap)
			var got []AlertType
			for _, a := range alerts {
				got = append(got, a.Type)
			}
			assert.Equal(t, tt.want, got)
			if tt.check != nil {
				tt.check(t, alerts)
			}
		})
	}
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertPartialRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCostOverrun, Severity: "high", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_Skipped(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: ""})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertPartialRate}}))

	a = NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPartialRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
