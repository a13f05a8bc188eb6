// Package normalize reconciles overlapping signals from the simulation
// engine, the calldata decoder and the AI explanation service into single
// canonical views.
package normalize

import (
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/model"
)

// AssetSignals bundles the asset output of every producer for one analysis.
type AssetSignals struct {
	Simulation  *model.SimulationResult
	Calldata    model.PredictedAssets
	Explanation *model.Explanation
}

type assetProducer struct {
	provenance model.Provenance
	collect    func(AssetSignals) []model.NormalizedAsset
}

// assetProducers is the asset priority order, most trusted first.
var assetProducers = []assetProducer{
	{model.ProvenanceSimulation, fromAssetChanges},
	{model.ProvenanceSimulation, fromTokenTransfers},
	{model.ProvenanceCalldataDecode, fromPredictions},
	{model.ProvenanceAIExplanation, fromExplanation},
}

// ReconcileAssets picks the highest-priority producer that yields at least
// one usable asset and returns its list unchanged apart from field
// normalization. Lower-priority producers are ignored entirely; lists are
// never merged across producers.
func ReconcileAssets(in AssetSignals) model.AssetView {
	for _, p := range assetProducers {
		assets := p.collect(in)
		if len(assets) == 0 {
			continue
		}
		view := model.AssetView{
			Provenance: p.provenance,
			Assets:     assets,
			Pay:        []model.NormalizedAsset{},
			Receive:    []model.NormalizedAsset{},
		}
		for _, a := range assets {
			if a.Direction == model.DirectionOut {
				view.Pay = append(view.Pay, a)
			} else {
				view.Receive = append(view.Receive, a)
			}
		}
		return view
	}
	return model.AssetView{
		Assets:  []model.NormalizedAsset{},
		Pay:     []model.NormalizedAsset{},
		Receive: []model.NormalizedAsset{},
	}
}

func fromAssetChanges(in AssetSignals) []model.NormalizedAsset {
	if in.Simulation == nil {
		return nil
	}
	var out []model.NormalizedAsset
	for _, c := range in.Simulation.AssetChanges {
		dir, ok := model.ParseDirection(c.Direction)
		if !ok {
			// If every entry is dropped here the producer counts as empty
			// and token_transfers takes over.
			zap.L().Debug("normalize: skip asset change with unknown direction",
				zap.String("token", c.Token),
				zap.String("direction", c.Direction),
			)
			continue
		}
		if a, ok := newAsset(c.Token, c.Symbol, c.Amount, dir, model.ProvenanceSimulation); ok {
			out = append(out, a)
		}
	}
	return out
}

// fromTokenTransfers reads raw simulated transfers. They carry no direction,
// so every entry is reported as incoming.
func fromTokenTransfers(in AssetSignals) []model.NormalizedAsset {
	if in.Simulation == nil {
		return nil
	}
	var out []model.NormalizedAsset
	for _, tr := range in.Simulation.TokenTransfers {
		if a, ok := newAsset(tr.Token, tr.Symbol, tr.Amount, model.DirectionIn, model.ProvenanceSimulation); ok {
			out = append(out, a)
		}
	}
	return out
}

func fromPredictions(in AssetSignals) []model.NormalizedAsset {
	var out []model.NormalizedAsset
	for _, p := range in.Calldata {
		if p.Direction != model.DirectionIn && p.Direction != model.DirectionOut {
			continue
		}
		if a, ok := newAsset(p.Token, p.DisplayName, p.Amount, p.Direction, model.ProvenanceCalldataDecode); ok {
			out = append(out, a)
		}
	}
	return out
}

// fromExplanation uses only the first action's assets.
func fromExplanation(in AssetSignals) []model.NormalizedAsset {
	if in.Explanation == nil || len(in.Explanation.Actions) == 0 {
		return nil
	}
	var out []model.NormalizedAsset
	for _, ea := range in.Explanation.Actions[0].Assets {
		dir, ok := model.ParseDirection(ea.Direction)
		if !ok {
			continue
		}
		if a, ok := newAsset(ea.Token, "", ea.Amount, dir, model.ProvenanceAIExplanation); ok {
			out = append(out, a)
		}
	}
	return out
}

func newAsset(token, display string, amount any, dir model.Direction, prov model.Provenance) (model.NormalizedAsset, bool) {
	if token == "" {
		return model.NormalizedAsset{}, false
	}
	amt, ok := DecimalAmount(amount)
	if !ok {
		return model.NormalizedAsset{}, false
	}
	return model.NormalizedAsset{
		Token:       token,
		DisplayName: display,
		Amount:      amt,
		Direction:   dir,
		Provenance:  prov,
	}, true
}
