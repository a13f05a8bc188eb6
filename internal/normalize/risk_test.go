package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/model"
)

func TestDominantSeverity(t *testing.T) {
	flag := func(s model.Severity) model.RiskFlag { return model.RiskFlag{Type: "x", Severity: s} }

	tests := []struct {
		name  string
		flags []model.RiskFlag
		want  model.Severity
	}{
		{"empty", nil, model.SeverityUnknown},
		{"high among low and medium", []model.RiskFlag{flag(model.SeverityLow), flag(model.SeverityHigh), flag(model.SeverityMedium)}, model.SeverityHigh},
		{"critical beats high", []model.RiskFlag{flag(model.SeverityHigh), flag(model.SeverityCritical)}, model.SeverityCritical},
		{"medium only", []model.RiskFlag{flag(model.SeverityMedium), flag(model.SeverityLow)}, model.SeverityMedium},
		{"low only", []model.RiskFlag{flag(model.SeverityLow)}, model.SeverityLow},
		{"unknown flags count as low", []model.RiskFlag{flag(model.SeverityUnknown)}, model.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DominantSeverity(tt.flags))
		})
	}
}

func TestAggregateRisk_ReportedLevelWins(t *testing.T) {
	view := AggregateRisk(RiskSignals{
		ReportedLevel: "Moderate",
		Flags:         []model.RiskFlag{{Type: "unlimited_approval", Severity: model.SeverityHigh, Description: "unlimited"}},
	})

	assert.Equal(t, model.SeverityMedium, view.Level)
	assert.Equal(t, LevelSourceExplanation, view.LevelSource)
}

func TestAggregateRisk_DerivedWhenNotReported(t *testing.T) {
	view := AggregateRisk(RiskSignals{
		ReportedLevel: "spicy",
		Reasons:       []string{"Grants unlimited spending"},
		Flags: []model.RiskFlag{
			{Type: "unlimited_approval", Severity: model.SeverityHigh, Description: "unlimited"},
			{Type: "unverified", Severity: model.SeverityLow, Description: "abi from 4byte"},
		},
	})

	assert.Equal(t, model.SeverityHigh, view.Level)
	assert.Equal(t, LevelSourceDerived, view.LevelSource)
	require.Len(t, view.Flags, 3)
	assert.Equal(t, RiskTypeAIReason, view.Flags[0].Type)
	assert.Equal(t, model.SeverityUnknown, view.Flags[0].Severity)
}

func TestAggregateRisk_Dedup(t *testing.T) {
	view := AggregateRisk(RiskSignals{
		Reasons: []string{"same", "same", "  ", "other"},
		Flags: []model.RiskFlag{
			{Type: "a", Severity: model.SeverityLow, Description: "d"},
			{Type: "a", Severity: model.SeverityHigh, Description: "d"},
			{Type: "b", Description: "d"},
			// Same text as an AI reason but a different type: both survive.
			{Type: "burn", Severity: model.SeverityMedium, Description: "same"},
		},
	})

	require.Len(t, view.Flags, 5)
	assert.Equal(t, model.SeverityLow, view.Flags[2].Severity)
	assert.Equal(t, model.SeverityUnknown, view.Flags[3].Severity)
	assert.Equal(t, model.SeverityMedium, view.Level)
}

func TestAggregateRisk_Empty(t *testing.T) {
	view := AggregateRisk(RiskSignals{})
	assert.Equal(t, model.SeverityUnknown, view.Level)
	assert.NotNil(t, view.Flags)
	assert.Empty(t, view.Flags)
}
