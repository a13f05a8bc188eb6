// Package monitoring aggregates stored analyses into health metrics and
// raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/store"
)

// maxCollected caps the analyses read per snapshot.
const maxCollected = 10000

// MetricsSnapshot holds a point-in-time view of analysis health.
type MetricsSnapshot struct {
	Total       int                     `json:"total"`
	ByKind      map[model.InputKind]int `json:"by_kind"`
	Partial     int                     `json:"partial"`
	PartialRate float64                 `json:"partial_rate"`

	// Resolution metrics count analyses that ran the ABI resolution chain.
	Resolved       int            `json:"resolved"`
	Unresolved     int            `json:"unresolved"`
	UnresolvedRate float64        `json:"unresolved_rate"`
	SourceWins     map[string]int `json:"source_wins"`

	RiskLevels map[model.Severity]int `json:"risk_levels"`

	Explained          int     `json:"explained"`
	ExplanationCostUSD float64 `json:"explanation_cost_usd"`

	AvgDurationMs  float64                 `json:"avg_duration_ms"`
	AvgPhaseMs     map[model.Phase]float64 `json:"avg_phase_ms"`
	FailedStepHits map[string]int          `json:"failed_step_hits"`

	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsStore is the part of store.Store the collector reads.
type StatsStore interface {
	ListAnalyses(ctx context.Context, filter store.AnalysisFilter) ([]model.AnalysisRecord, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store StatsStore
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st StatsStore) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of analysis metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ByKind:         make(map[model.InputKind]int),
		SourceWins:     make(map[string]int),
		RiskLevels:     make(map[model.Severity]int),
		AvgPhaseMs:     make(map[model.Phase]float64),
		FailedStepHits: make(map[string]int),
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	recs, err := c.store.ListAnalyses(ctx, store.AnalysisFilter{
		Since: cutoff,
		Limit: maxCollected,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list analyses")
	}

	var totalDuration int64
	phaseTotals := make(map[model.Phase]int64)
	for _, rec := range recs {
		res := rec.Result
		if res == nil {
			continue
		}
		snap.Total++
		snap.ByKind[rec.Kind]++
		snap.RiskLevels[res.RiskLevel]++
		if res.Partial() {
			snap.Partial++
		}

		diag := res.Diagnostics
		if len(diag.Resolution) > 0 {
			if diag.AbiSource == "" {
				snap.Unresolved++
			} else {
				snap.Resolved++
				snap.SourceWins[diag.AbiSource]++
			}
		}
		for _, name := range diag.FailedSteps {
			snap.FailedStepHits[name]++
		}

		if res.Explanation != nil {
			snap.Explained++
			snap.ExplanationCostUSD += res.Explanation.CostUSD
		}

		totalDuration += diag.TotalDurationMs
		for phase, ms := range diag.PhaseDurations {
			phaseTotals[phase] += ms
		}
	}

	if snap.Total > 0 {
		snap.PartialRate = float64(snap.Partial) / float64(snap.Total)
		snap.AvgDurationMs = float64(totalDuration) / float64(snap.Total)
		for phase, ms := range phaseTotals {
			snap.AvgPhaseMs[phase] = float64(ms) / float64(snap.Total)
		}
	}
	if chained := snap.Resolved + snap.Unresolved; chained > 0 {
		snap.UnresolvedRate = float64(snap.Unresolved) / float64(chained)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
