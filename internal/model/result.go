package model

import "time"

// Diagnostics summarizes how an analysis was produced.
type Diagnostics struct {
	AbiSource       string           `json:"abi_source,omitempty"`
	Resolution      []ResolutionStep `json:"resolution,omitempty"`
	PhaseDurations  map[Phase]int64  `json:"phase_durations"`
	TotalDurationMs int64            `json:"total_duration_ms"`
	FailedSteps     []string         `json:"failed_steps,omitempty"`
	Canceled        bool             `json:"canceled,omitempty"`
}

// AnalysisResult is the aggregate produced by one analysis invocation.
type AnalysisResult struct {
	ID              string            `json:"id"`
	InputKind       InputKind         `json:"input_kind"`
	ChainID         int64             `json:"chain_id"`
	Transaction     *RawTx            `json:"transaction,omitempty"`
	Receipt         *RawReceipt       `json:"receipt,omitempty"`
	Decoded         *DecodedCall      `json:"decoded,omitempty"`
	TypedData       *DecodedTypedData `json:"typed_data,omitempty"`
	Behavior        *Behavior         `json:"behavior,omitempty"`
	Trace           []TraceStep       `json:"trace,omitempty"`
	Risk            []RiskFlag        `json:"risk"`
	RiskLevel       Severity          `json:"risk_level"`
	Assets          []NormalizedAsset `json:"assets"`
	Pay             []NormalizedAsset `json:"pay"`
	Receive         []NormalizedAsset `json:"receive"`
	AssetProvenance Provenance        `json:"asset_provenance,omitempty"`
	Explanation     *Explanation      `json:"explanation,omitempty"`
	Diagnostics     Diagnostics       `json:"diagnostics"`
	Error           string            `json:"error,omitempty"`
}

// Partial reports whether any stage of the analysis failed.
func (r *AnalysisResult) Partial() bool {
	return r.Error != ""
}

// AnalysisRecord is a persisted analysis.
type AnalysisRecord struct {
	ID        string          `json:"id"`
	Input     string          `json:"input"`
	ChainID   int64           `json:"chain_id"`
	Kind      InputKind       `json:"kind"`
	Result    *AnalysisResult `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}
