package normalize

import (
	"strings"

	"github.com/sells-group/txlens/internal/model"
)

// RiskTypeAIReason is the flag type given to free-text explanation reasons.
const RiskTypeAIReason = "ai_reason"

// RiskSignals bundles the risk output of the explanation service and the
// calldata decoder.
type RiskSignals struct {
	ReportedLevel string
	Reasons       []string
	Flags         []model.RiskFlag
}

// RiskView is the aggregated risk picture.
type RiskView struct {
	Level       model.Severity   `json:"level"`
	LevelSource string           `json:"level_source"`
	Flags       []model.RiskFlag `json:"flags"`
}

const (
	LevelSourceExplanation = "explanation"
	LevelSourceDerived     = "derived"
)

// AggregateRisk unions the explanation's reasons with the decoder's flags.
// Only exact (type, description) duplicates are dropped; a reason and a flag
// describing the same issue both survive. The overall level is the
// explanation's reported level when it has one, otherwise the dominant
// severity of the merged flags.
func AggregateRisk(in RiskSignals) RiskView {
	view := RiskView{Flags: []model.RiskFlag{}}
	seen := make(map[[2]string]bool)
	add := func(f model.RiskFlag) {
		key := [2]string{f.Type, f.Description}
		if seen[key] {
			return
		}
		seen[key] = true
		view.Flags = append(view.Flags, f)
	}

	for _, r := range in.Reasons {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		add(model.RiskFlag{Type: RiskTypeAIReason, Severity: model.SeverityUnknown, Description: r})
	}
	for _, f := range in.Flags {
		if f.Severity == "" {
			f.Severity = model.SeverityUnknown
		}
		add(f)
	}

	if lvl, ok := model.ParseSeverity(in.ReportedLevel); ok && lvl != model.SeverityUnknown {
		view.Level = lvl
		view.LevelSource = LevelSourceExplanation
		return view
	}
	view.Level = DominantSeverity(view.Flags)
	view.LevelSource = LevelSourceDerived
	return view
}

// DominantSeverity derives an overall level from a flag set: the most severe
// of critical, high and medium present wins, any other flag yields low and
// an empty set is unknown.
func DominantSeverity(flags []model.RiskFlag) model.Severity {
	if len(flags) == 0 {
		return model.SeverityUnknown
	}
	has := make(map[model.Severity]bool, len(flags))
	for _, f := range flags {
		has[f.Severity] = true
	}
	for _, s := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium} {
		if has[s] {
			return s
		}
	}
	return model.SeverityLow
}
