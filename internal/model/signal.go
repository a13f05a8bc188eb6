package model

import "strings"

// Direction of an asset movement relative to the analyzed account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ParseDirection maps loosely-typed producer values onto a Direction.
// Unrecognized values report ok=false.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "incoming", "receive", "received", "inflow":
		return DirectionIn, true
	case "out", "outgoing", "send", "sent", "pay", "outflow":
		return DirectionOut, true
	default:
		return "", false
	}
}

// Provenance records which producer an asset change came from. Producers are
// ranked: simulation beats calldata decoding beats AI explanation.
type Provenance string

const (
	ProvenanceSimulation     Provenance = "simulation"
	ProvenanceCalldataDecode Provenance = "calldata_decode"
	ProvenanceAIExplanation  Provenance = "ai_explanation"
)

// Rank returns the trust rank of the provenance; lower is more trusted.
func (p Provenance) Rank() int {
	switch p {
	case ProvenanceSimulation:
		return 0
	case ProvenanceCalldataDecode:
		return 1
	case ProvenanceAIExplanation:
		return 2
	default:
		return 3
	}
}

// NormalizedAsset is a single asset movement in canonical shape.
type NormalizedAsset struct {
	Token       string     `json:"token"`
	DisplayName string     `json:"display_name,omitempty"`
	Amount      string     `json:"amount"`
	Direction   Direction  `json:"direction"`
	Provenance  Provenance `json:"provenance"`
}

// PredictedAsset is an asset movement predicted from decoded calldata.
type PredictedAsset struct {
	Token       string    `json:"token"`
	DisplayName string    `json:"display_name,omitempty"`
	Amount      string    `json:"amount"`
	Direction   Direction `json:"direction"`
}

// PredictedAssets is the calldata decoder's asset prediction.
type PredictedAssets []PredictedAsset

// AssetView is the reconciled asset list, grouped for display.
type AssetView struct {
	Provenance Provenance        `json:"provenance,omitempty"`
	Assets     []NormalizedAsset `json:"assets"`
	Pay        []NormalizedAsset `json:"pay"`
	Receive    []NormalizedAsset `json:"receive"`
}

// Severity of a risk flag or of the overall analysis.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// ParseSeverity maps loosely-typed producer values onto a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium", "moderate":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "unknown":
		return SeverityUnknown, true
	default:
		return "", false
	}
}

// RiskFlag is a single risk signal.
type RiskFlag struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Evidence    string   `json:"evidence,omitempty"`
}

// RiskFlags is the decoder's structured risk output.
type RiskFlags []RiskFlag

// SimulationAssetChange is an asset change reported by the simulation engine.
type SimulationAssetChange struct {
	Token     string `json:"token"`
	Symbol    string `json:"symbol,omitempty"`
	Amount    any    `json:"amount"`
	Direction string `json:"direction"`
}

// SimulationTransfer is a raw token transfer observed during simulation.
type SimulationTransfer struct {
	Token  string `json:"token"`
	Symbol string `json:"symbol,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Amount any    `json:"amount"`
}

// SimulationResult is the simulation engine's response.
type SimulationResult struct {
	Success        bool                    `json:"success"`
	GasUsed        uint64                  `json:"gas_used,omitempty"`
	Error          string                  `json:"error,omitempty"`
	AssetChanges   []SimulationAssetChange `json:"asset_changes,omitempty"`
	TokenTransfers []SimulationTransfer    `json:"token_transfers,omitempty"`
}

// ExplanationAsset is an asset mentioned by the explanation service.
type ExplanationAsset struct {
	Token     string `json:"token"`
	Amount    any    `json:"amount"`
	Direction string `json:"direction"`
}

// ExplanationAction is a step the explanation service identified.
type ExplanationAction struct {
	Type        string             `json:"type"`
	Description string             `json:"description"`
	Assets      []ExplanationAsset `json:"assets,omitempty"`
}

// Explanation is the AI explanation service's response.
type Explanation struct {
	Summary     string              `json:"summary"`
	RiskLevel   string              `json:"risk_level,omitempty"`
	RiskReasons []string            `json:"risk_reasons,omitempty"`
	Actions     []ExplanationAction `json:"actions,omitempty"`
	Language    string              `json:"language,omitempty"`
	Model       string              `json:"model,omitempty"`
	CostUSD     float64             `json:"cost_usd,omitempty"`
}
