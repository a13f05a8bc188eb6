package model

import (
	"encoding/json"
)

// Phase groups trace steps into coarse stages for timing rollups.
type Phase string

const (
	PhaseDataFetch        Phase = "data_fetch"
	PhaseSourceResolution Phase = "source_resolution"
	PhaseDecode           Phase = "decode"
	PhaseAnalysis         Phase = "analysis"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseDataFetch, PhaseSourceResolution, PhaseDecode, PhaseAnalysis}

// StepStatus represents the state of a resolution or trace step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// ResolutionStep is one attempt within a priority chain.
type ResolutionStep struct {
	SourceID   string     `json:"source_id"`
	Order      int        `json:"order"`
	Status     StepStatus `json:"status"`
	Output     any        `json:"output,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// TraceStep is one recorded unit of work during an analysis.
type TraceStep struct {
	Name       string     `json:"name"`
	Phase      Phase      `json:"phase"`
	Status     StepStatus `json:"status"`
	DurationMs int64      `json:"duration_ms"`
	Input      Payload    `json:"input,omitempty"`
	Output     Payload    `json:"output,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Payload is the closed set of typed step inputs/outputs. Concrete payloads
// live next to the types they carry; RawPayload covers everything else.
type Payload interface {
	payloadKind() string
}

// RawPayload is an opaque structured value for heterogeneous external
// payloads and for payloads decoded back from storage.
type RawPayload map[string]any

func (RawPayload) payloadKind() string { return "raw" }

// ResolutionPayload is the output of a resolution chain step.
type ResolutionPayload struct {
	Target   string           `json:"target,omitempty"`
	Winner   string           `json:"winner,omitempty"`
	Steps    []ResolutionStep `json:"steps,omitempty"`
	Resolved bool             `json:"resolved"`
}

func (ResolutionPayload) payloadKind() string { return "resolution" }

// ClassificationPayload records the input classification.
type ClassificationPayload struct {
	Kind   InputKind `json:"kind"`
	Length int       `json:"length"`
}

func (ClassificationPayload) payloadKind() string { return "classification" }

// LookupPayload carries the identifiers an external lookup was issued for.
type LookupPayload struct {
	ChainID  int64  `json:"chain_id"`
	Hash     string `json:"hash,omitempty"`
	Address  string `json:"address,omitempty"`
	Selector string `json:"selector,omitempty"`
}

func (LookupPayload) payloadKind() string { return "lookup" }

func (*RawTx) payloadKind() string            { return "transaction" }
func (*RawReceipt) payloadKind() string       { return "receipt" }
func (*DecodedCall) payloadKind() string      { return "decoded_call" }
func (*DecodedTypedData) payloadKind() string { return "typed_data" }
func (*Behavior) payloadKind() string         { return "behavior" }
func (RiskFlags) payloadKind() string         { return "risk_flags" }
func (PredictedAssets) payloadKind() string   { return "predicted_assets" }
func (*SimulationResult) payloadKind() string { return "simulation" }
func (*Explanation) payloadKind() string      { return "explanation" }
func (*AssetView) payloadKind() string        { return "asset_view" }
func (*TxContext) payloadKind() string        { return "tx_context" }

// UnmarshalJSON restores payloads as RawPayload since the concrete type is
// not recorded on the wire.
func (s *TraceStep) UnmarshalJSON(data []byte) error {
	type alias TraceStep
	var wire struct {
		alias
		Input  json.RawMessage `json:"input,omitempty"`
		Output json.RawMessage `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = TraceStep(wire.alias)
	s.Input = rawPayload(wire.Input)
	s.Output = rawPayload(wire.Output)
	return nil
}

func rawPayload(data json.RawMessage) Payload {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		return RawPayload(obj)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return RawPayload{"value": v}
}
