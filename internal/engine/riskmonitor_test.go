package engine

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"deriv-bot/internal/venue"
)

func testMonitor() *RiskMonitor {
	return NewRiskMonitor(testRiskConfig(), zerolog.Nop())
}

func portfolioWith(positions ...venue.Position) *venue.PortfolioState {
	return &venue.PortfolioState{
		AvailableBuyingPower: 1000,
		OpenPositionCount:    len(positions),
		Positions:            positions,
	}
}

// ============================================================================
// TEST: Stop loss
// ============================================================================

func TestRiskMonitor_StopLossFullClose(t *testing.T) {
	rm := testMonitor()

	// -12% on a $500 position against a -10% stop.
	pos := venue.Position{
		Symbol:        "BTC-PERP",
		Side:          venue.SideLong,
		NotionalUSD:   500,
		UnrealizedPnL: -60,
		EntryPrice:    100,
		MarkPrice:     88,
	}
	signals := rm.GenerateRiskSignals(portfolioWith(pos), nil)
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if sig.Direction != DirectionFlat {
		t.Errorf("Expected FLAT, got %s", sig.Direction)
	}
	if sig.Source != SourceRisk {
		t.Errorf("Expected RISK_MANAGEMENT source, got %s", sig.Source)
	}
	if sig.Urgency != UrgencyHigh {
		t.Errorf("Expected HIGH urgency, got %s", sig.Urgency)
	}
	if !floatEquals(sig.SizeUSD, 500, 0.01) {
		t.Errorf("Expected full close of $500, got $%.2f", sig.SizeUSD)
	}
	if !strings.HasPrefix(sig.Reasoning, tagStopLoss) {
		t.Errorf("Expected reasoning tagged %s, got %q", tagStopLoss, sig.Reasoning)
	}
}

func TestRiskMonitor_StopLossExactBoundaryTriggers(t *testing.T) {
	rm := testMonitor()

	// Exactly -10% triggers; the comparison is inclusive.
	pos := venue.Position{Symbol: "ETH-PERP", Side: venue.SideShort, NotionalUSD: 200, UnrealizedPnL: -20}
	signals := rm.GenerateRiskSignals(portfolioWith(pos), nil)
	if len(signals) != 1 {
		t.Fatalf("Expected stop loss at exact boundary, got %d signals", len(signals))
	}
}

// ============================================================================
// TEST: Take profit
// ============================================================================

func TestRiskMonitor_TakeProfitClosesHalf(t *testing.T) {
	rm := testMonitor()

	// +25% against a +20% target banks half.
	pos := venue.Position{Symbol: "SOL-PERP", Side: venue.SideLong, NotionalUSD: 400, UnrealizedPnL: 100}
	signals := rm.GenerateRiskSignals(portfolioWith(pos), nil)
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if !floatEquals(sig.SizeUSD, 200, 0.01) {
		t.Errorf("Expected half close of $200, got $%.2f", sig.SizeUSD)
	}
	if sig.Urgency != UrgencyMedium {
		t.Errorf("Expected MEDIUM urgency, got %s", sig.Urgency)
	}
	if !strings.HasPrefix(sig.Reasoning, tagTakeProfit) {
		t.Errorf("Expected reasoning tagged %s, got %q", tagTakeProfit, sig.Reasoning)
	}
}

// ============================================================================
// TEST: Liquidation buffer
// ============================================================================

func TestRiskMonitor_LiquidationProximityTrimsThird(t *testing.T) {
	rm := testMonitor()

	// Long at mark 100, liquidation 90: 10% away, inside the 15% buffer.
	pos := venue.Position{
		Symbol:           "BTC-PERP",
		Side:             venue.SideLong,
		NotionalUSD:      600,
		UnrealizedPnL:    -30, // -5%, above the stop
		MarkPrice:        100,
		LiquidationPrice: 90,
	}
	signals := rm.GenerateRiskSignals(portfolioWith(pos), nil)
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if !floatEquals(sig.SizeUSD, 600*liquidationCloseFraction, 0.01) {
		t.Errorf("Expected trim of $%.2f, got $%.2f", 600*liquidationCloseFraction, sig.SizeUSD)
	}
	if !strings.HasPrefix(sig.Reasoning, tagLiquidationPrevent) {
		t.Errorf("Expected reasoning tagged %s, got %q", tagLiquidationPrevent, sig.Reasoning)
	}
}

func TestRiskMonitor_ShortLiquidationDistanceIsDirectionAware(t *testing.T) {
	rm := testMonitor()

	// Short at mark 100, liquidation 108: 8% away, inside the buffer.
	pos := venue.Position{
		Symbol:           "ETH-PERP",
		Side:             venue.SideShort,
		NotionalUSD:      300,
		UnrealizedPnL:    -9,
		MarkPrice:        100,
		LiquidationPrice: 108,
	}
	signals := rm.GenerateRiskSignals(portfolioWith(pos), nil)
	if len(signals) != 1 {
		t.Fatalf("Expected liquidation signal for short, got %d", len(signals))
	}
}

// ============================================================================
// TEST: Funding exit
// ============================================================================

func TestRiskMonitor_FundingExitClosesLosingPayer(t *testing.T) {
	rm := testMonitor()

	// Long paying 7 bps against a 6 bps threshold (2x the 3 bps cap), mildly
	// underwater: full close, low urgency.
	pos := venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 500, UnrealizedPnL: -10}
	signals := rm.GenerateRiskSignals(portfolioWith(pos), map[string]float64{"BTC-PERP": 7})
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}

	sig := signals[0]
	if !strings.HasPrefix(sig.Reasoning, tagFundingExit) {
		t.Errorf("Expected reasoning tagged %s, got %q", tagFundingExit, sig.Reasoning)
	}
	if sig.Direction != DirectionFlat {
		t.Errorf("Expected FLAT, got %s", sig.Direction)
	}
	if sig.Urgency != UrgencyLow {
		t.Errorf("Expected LOW urgency, got %s", sig.Urgency)
	}
	if !floatEquals(sig.SizeUSD, 500, 0.01) {
		t.Errorf("Expected full close of $500, got $%.2f", sig.SizeUSD)
	}
}

func TestRiskMonitor_FundingExitIsDirectionAware(t *testing.T) {
	rm := testMonitor()

	// A short with positive funding is being paid, not paying; no exit.
	short := venue.Position{Symbol: "ETH-PERP", Side: venue.SideShort, NotionalUSD: 300, UnrealizedPnL: -5}
	if signals := rm.GenerateRiskSignals(portfolioWith(short), map[string]float64{"ETH-PERP": 7}); len(signals) != 0 {
		t.Errorf("Expected no signal for short earning funding, got %d", len(signals))
	}

	// Negative funding means shorts pay; same threshold applies.
	if signals := rm.GenerateRiskSignals(portfolioWith(short), map[string]float64{"ETH-PERP": -7}); len(signals) != 1 {
		t.Fatalf("Expected funding exit for paying short, got %d signals", len(signals))
	}
}

func TestRiskMonitor_FundingExitSparesProfitablePositions(t *testing.T) {
	rm := testMonitor()

	// In profit, the funding cost rides.
	pos := venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 500, UnrealizedPnL: 50}
	if signals := rm.GenerateRiskSignals(portfolioWith(pos), map[string]float64{"BTC-PERP": 10}); len(signals) != 0 {
		t.Errorf("Expected no funding exit while in profit, got %d signals", len(signals))
	}

	// At or under the threshold, nothing fires.
	flat := venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 500, UnrealizedPnL: -10}
	if signals := rm.GenerateRiskSignals(portfolioWith(flat), map[string]float64{"BTC-PERP": 6}); len(signals) != 0 {
		t.Errorf("Expected no funding exit at the threshold, got %d signals", len(signals))
	}
}

// ============================================================================
// TEST: Precedence and quiet portfolios
// ============================================================================

func TestRiskMonitor_StopLossWinsOverLiquidation(t *testing.T) {
	rm := testMonitor()

	// Breaches both the stop and the liquidation buffer; stop loss wins and
	// the close is full size.
	pos := venue.Position{
		Symbol:           "BTC-PERP",
		Side:             venue.SideLong,
		NotionalUSD:      500,
		UnrealizedPnL:    -75,
		MarkPrice:        85,
		LiquidationPrice: 80,
	}
	signals := rm.GenerateRiskSignals(portfolioWith(pos), nil)
	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}
	if !strings.HasPrefix(signals[0].Reasoning, tagStopLoss) {
		t.Errorf("Expected stop loss to take precedence, got %q", signals[0].Reasoning)
	}
	if !floatEquals(signals[0].SizeUSD, 500, 0.01) {
		t.Errorf("Expected full close, got $%.2f", signals[0].SizeUSD)
	}
}

func TestRiskMonitor_HealthyPositionsProduceNothing(t *testing.T) {
	rm := testMonitor()

	positions := []venue.Position{
		{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 500, UnrealizedPnL: 25, MarkPrice: 100, LiquidationPrice: 50},
		{Symbol: "ETH-PERP", Side: venue.SideShort, NotionalUSD: 300, UnrealizedPnL: -9, MarkPrice: 100, LiquidationPrice: 160},
	}
	if signals := rm.GenerateRiskSignals(portfolioWith(positions...), nil); len(signals) != 0 {
		t.Errorf("Expected no signals for healthy positions, got %d", len(signals))
	}

	if signals := rm.GenerateRiskSignals(nil, nil); signals != nil {
		t.Errorf("Expected nil for nil portfolio, got %v", signals)
	}
}
