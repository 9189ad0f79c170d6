package dataprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"deriv-bot/internal/engine"
)

// maxSnapshotAge is how stale an indicator snapshot may be before it is
// rejected and the cycle skipped.
const maxSnapshotAge = 15 * time.Minute

// snapshotFile is the on-disk indicator snapshot written by the analysis
// layer.
type snapshotFile struct {
	GeneratedAt time.Time                           `json:"generated_at"`
	Indicators  map[string]engine.ProductIndicators `json:"indicators"`
	Regime      engine.Regime                       `json:"regime"`
	Macro       *engine.MacroSignal                 `json:"macro,omitempty"`
	FundingBps  map[string]float64                  `json:"funding_bps,omitempty"`
	AI          map[string]engine.AIOpinion         `json:"ai,omitempty"`
}

// InputsProvider builds the per-cycle input bundle. Indicators come from the
// snapshot file the analysis layer maintains; sentiment from the Fear & Greed
// API. Any missing source leaves its field empty and the engine degrades on
// its own terms.
type InputsProvider struct {
	snapshotPath string
	sentiment    *FearGreedClient
	logger       zerolog.Logger
}

// NewInputsProvider creates a provider. sentiment may be nil.
func NewInputsProvider(snapshotPath string, sentiment *FearGreedClient, logger zerolog.Logger) *InputsProvider {
	return &InputsProvider{
		snapshotPath: snapshotPath,
		sentiment:    sentiment,
		logger:       logger.With().Str("component", "inputs").Logger(),
	}
}

// Collect assembles the inputs for one cycle.
func (p *InputsProvider) Collect(ctx context.Context) (engine.CycleInputs, error) {
	snap, err := p.readSnapshot()
	if err != nil {
		return engine.CycleInputs{}, err
	}

	inputs := engine.CycleInputs{
		Indicators: snap.Indicators,
		Regime:     snap.Regime,
		Macro:      snap.Macro,
		FundingBps: snap.FundingBps,
		AI:         snap.AI,
	}

	if p.sentiment != nil {
		idx, err := p.sentiment.GetIndex(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Fear & greed fetch failed, cycle runs without sentiment")
		} else {
			value := idx.Value
			inputs.FearGreed = &value
		}
	}

	return inputs, nil
}

// readSnapshot loads and validates the indicator snapshot.
func (p *InputsProvider) readSnapshot() (*snapshotFile, error) {
	data, err := os.ReadFile(p.snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("reading indicator snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing indicator snapshot: %w", err)
	}

	if age := time.Since(snap.GeneratedAt); age > maxSnapshotAge {
		return nil, fmt.Errorf("indicator snapshot is stale: %v old", age.Round(time.Second))
	}
	if len(snap.Indicators) == 0 {
		return nil, fmt.Errorf("indicator snapshot has no products")
	}
	return &snap, nil
}
