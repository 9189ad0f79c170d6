package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"deriv-bot/config"
	"deriv-bot/internal/venue"
)

// Confidence adjustment factors. Each multiplies the running confidence and
// appends a reasoning fragment when applied.
const (
	regimeOpposedFactor  = 0.7
	regimeVolatileFactor = 0.6
	macroDampenFactor    = 0.8
	macroAmplifyFactor   = 1.15
	fundingPenaltyFactor = 0.85
	fundingBonusFactor   = 1.1
	sentimentBoostFactor = 1.1
	aiAgreeFactor        = 1.15
	aiDisagreeFactor     = 0.75

	extremeFearAt  = 25
	extremeGreedAt = 75

	commodityMaxLeverage = 2
)

// SignalGenerator turns the per-cycle input bundle into directional trade
// proposals. It is stateless; every call starts from the raw inputs.
type SignalGenerator struct {
	strategy config.StrategyConfig
	risk     config.RiskConfig
	logger   zerolog.Logger
}

// NewSignalGenerator creates a signal generator from config.
func NewSignalGenerator(strategy config.StrategyConfig, risk config.RiskConfig, logger zerolog.Logger) *SignalGenerator {
	return &SignalGenerator{
		strategy: strategy,
		risk:     risk,
		logger:   logger.With().Str("component", "signals").Logger(),
	}
}

// GenerateSignals produces one candidate signal per configured product where
// the inputs justify one. HOLD outcomes are dropped. Output order is
// unspecified; the orchestrator sorts by priority.
func (sg *SignalGenerator) GenerateSignals(inputs CycleInputs, portfolio *venue.PortfolioState) []Signal {
	signals := make([]Signal, 0, len(sg.strategy.Products))

	for _, product := range sg.strategy.Products {
		var sig *Signal
		if product.Commodity {
			sig = sg.commoditySignal(product, inputs, portfolio)
		} else {
			sig = sg.perpetualSignal(product, inputs, portfolio)
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}

	return signals
}

// perpetualSignal maps a confluence score to a directional signal with
// confidence adjusted by regime, macro, funding, sentiment and AI concurrence.
func (sg *SignalGenerator) perpetualSignal(product config.ProductConfig, inputs CycleInputs, portfolio *venue.PortfolioState) *Signal {
	ind, ok := inputs.Indicators[product.Symbol]
	if !ok {
		return nil
	}
	score := ind.ConfluenceScore

	var direction Direction
	var urgency Urgency
	s := sg.strategy
	switch {
	case score >= s.StrongBullishThreshold:
		direction, urgency = DirectionLong, UrgencyHigh
	case score >= s.BullishThreshold:
		direction, urgency = DirectionLong, UrgencyMedium
	case score <= -s.StrongBearishThreshold:
		direction, urgency = DirectionShort, UrgencyHigh
	case score <= -s.BearishThreshold:
		direction, urgency = DirectionShort, UrgencyMedium
	case math.Abs(score) < s.NeutralZone:
		direction, urgency = DirectionFlat, UrgencyLow
	default:
		// Between neutral zone and the directional thresholds: no edge.
		return nil
	}

	reasons := []string{fmt.Sprintf("confluence %.1f", score)}

	if direction == DirectionFlat {
		sizeUSD := 0.0
		if pos := portfolio.PositionFor(product.Symbol); pos != nil {
			sizeUSD = math.Abs(pos.NotionalUSD)
		}
		return &Signal{
			Product:    product.Symbol,
			Direction:  DirectionFlat,
			Confidence: clamp(math.Abs(score), 0, 100),
			Leverage:   1,
			SizeUSD:    sizeUSD,
			Reasoning:  "confluence in neutral zone",
			Source:     SourceTechnical,
			Urgency:    UrgencyLow,
		}
	}

	confidence := clamp(math.Abs(score), 0, 100)

	// Regime dampening.
	regimeOpposed := (inputs.Regime == RegimeTrendingDown && direction == DirectionLong) ||
		(inputs.Regime == RegimeTrendingUp && direction == DirectionShort)
	if regimeOpposed {
		confidence *= regimeOpposedFactor
		reasons = append(reasons, fmt.Sprintf("regime %s opposes %s (x%.1f)", inputs.Regime, direction, regimeOpposedFactor))
	}
	if inputs.Regime == RegimeVolatile {
		confidence *= regimeVolatileFactor
		reasons = append(reasons, fmt.Sprintf("volatile regime (x%.1f)", regimeVolatileFactor))
	}

	// Macro overlay: risk-off dampens longs and amplifies shorts, risk-on
	// the reverse.
	if inputs.Macro != nil {
		switch {
		case inputs.Macro.Stance == MacroRiskOff && direction == DirectionLong:
			confidence *= macroDampenFactor
			reasons = append(reasons, fmt.Sprintf("macro risk-off vs long (x%.2f)", macroDampenFactor))
		case inputs.Macro.Stance == MacroRiskOff && direction == DirectionShort:
			confidence *= macroAmplifyFactor
			reasons = append(reasons, fmt.Sprintf("macro risk-off with short (x%.2f)", macroAmplifyFactor))
		case inputs.Macro.Stance == MacroRiskOn && direction == DirectionShort:
			confidence *= macroDampenFactor
			reasons = append(reasons, fmt.Sprintf("macro risk-on vs short (x%.2f)", macroDampenFactor))
		case inputs.Macro.Stance == MacroRiskOn && direction == DirectionLong:
			confidence *= macroAmplifyFactor
			reasons = append(reasons, fmt.Sprintf("macro risk-on with long (x%.2f)", macroAmplifyFactor))
		}
	}

	// Funding bias: longs pay positive funding, shorts pay negative funding.
	if funding, ok := inputs.FundingBps[product.Symbol]; ok {
		max := sg.risk.MaxFundingRateBps
		paying := (direction == DirectionLong && funding > max) ||
			(direction == DirectionShort && funding < -max)
		earning := (direction == DirectionLong && funding < -max) ||
			(direction == DirectionShort && funding > max)
		if paying {
			confidence *= fundingPenaltyFactor
			reasons = append(reasons, fmt.Sprintf("adverse funding %.2fbps (x%.2f)", funding, fundingPenaltyFactor))
		} else if earning {
			confidence *= fundingBonusFactor
			reasons = append(reasons, fmt.Sprintf("favorable funding %.2fbps (x%.1f)", funding, fundingBonusFactor))
		}
	}

	// Contrarian sentiment: extreme fear amplifies longs, extreme greed
	// amplifies shorts.
	if inputs.FearGreed != nil {
		fg := *inputs.FearGreed
		if fg <= extremeFearAt && direction == DirectionLong {
			confidence *= sentimentBoostFactor
			reasons = append(reasons, fmt.Sprintf("extreme fear %d with long (x%.1f)", fg, sentimentBoostFactor))
		} else if fg >= extremeGreedAt && direction == DirectionShort {
			confidence *= sentimentBoostFactor
			reasons = append(reasons, fmt.Sprintf("extreme greed %d with short (x%.1f)", fg, sentimentBoostFactor))
		}
	}

	// AI concurrence.
	if opinion, ok := inputs.AI[product.Symbol]; ok && (opinion.Direction == DirectionLong || opinion.Direction == DirectionShort) {
		if opinion.Direction == direction {
			confidence *= aiAgreeFactor
			reasons = append(reasons, fmt.Sprintf("AI agrees at %.0f%% (x%.2f)", opinion.Confidence, aiAgreeFactor))
		} else {
			confidence *= aiDisagreeFactor
			reasons = append(reasons, fmt.Sprintf("AI disagrees at %.0f%% (x%.2f)", opinion.Confidence, aiDisagreeFactor))
		}
	}

	confidence = clamp(confidence, 0, 100)

	sizeUSD := sg.positionSize(confidence, portfolio)
	leverage := sg.leverageFor(confidence, inputs.Regime)

	sg.logger.Debug().
		Str("product", product.Symbol).
		Str("direction", string(direction)).
		Float64("confluence", score).
		Float64("confidence", confidence).
		Float64("size_usd", sizeUSD).
		Int("leverage", leverage).
		Msg("Signal generated")

	return &Signal{
		Product:    product.Symbol,
		Direction:  direction,
		Confidence: confidence,
		Leverage:   leverage,
		SizeUSD:    sizeUSD,
		Reasoning:  strings.Join(reasons, "; "),
		Source:     SourceTechnical,
		Urgency:    urgency,
	}
}

// commoditySignal maps a precomputed composite macro score to a conservative
// commodity-future signal. Leverage is capped at 2x regardless of confidence.
func (sg *SignalGenerator) commoditySignal(product config.ProductConfig, inputs CycleInputs, portfolio *venue.PortfolioState) *Signal {
	if inputs.Macro == nil {
		return nil
	}
	score, ok := inputs.Macro.CommodityScores[product.Symbol]
	if !ok {
		return nil
	}

	var direction Direction
	switch {
	case score >= sg.strategy.CommodityBullishThreshold:
		direction = DirectionLong
	case score <= -sg.strategy.CommodityBearishThreshold:
		direction = DirectionShort
	default:
		return nil
	}

	confidence := clamp(math.Abs(score)*100, 0, 100)

	leverage := commodityMaxLeverage
	if sg.risk.MaxLeverage < leverage {
		leverage = sg.risk.MaxLeverage
	}

	sizeUSD := sg.positionSize(confidence, portfolio)

	return &Signal{
		Product:    product.Symbol,
		Direction:  direction,
		Confidence: confidence,
		Leverage:   leverage,
		SizeUSD:    sizeUSD,
		Reasoning:  fmt.Sprintf("composite macro score %.2f", score),
		Source:     SourceMacro,
		Urgency:    UrgencyMedium,
	}
}

// positionSize scales the base notional linearly between 0.5x and 1.5x by
// confidence, clamps to the configured bounds, then caps by the portfolio
// limit.
func (sg *SignalGenerator) positionSize(confidence float64, portfolio *venue.PortfolioState) float64 {
	size := sg.risk.BasePositionUSD * (0.5 + confidence/100.0)
	size = clamp(size, sg.risk.MinPositionUSD, sg.risk.MaxPositionUSD)

	if portfolio != nil {
		limit := sg.risk.MaxPositionPercent / 100.0 * portfolio.AvailableBuyingPower
		if size > limit {
			size = limit
		}
	}
	return size
}

// leverageFor steps leverage by confidence band and backs off one step in a
// volatile regime.
func (sg *SignalGenerator) leverageFor(confidence float64, regime Regime) int {
	leverage := 1
	switch {
	case confidence >= 80:
		leverage = 3
	case confidence >= 60:
		leverage = 2
	}
	if regime == RegimeVolatile && leverage > 1 {
		leverage--
	}
	if leverage > sg.risk.MaxLeverage {
		leverage = sg.risk.MaxLeverage
	}
	return leverage
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
