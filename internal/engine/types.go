package engine

import (
	"time"

	"deriv-bot/internal/venue"
)

// Direction is the directional intent of a signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
	DirectionHold  Direction = "HOLD"
)

// Source identifies which subsystem produced a signal.
type Source string

const (
	SourceTechnical Source = "TECHNICAL"
	SourceMacro     Source = "MACRO"
	SourceAI        Source = "AI"
	SourceRisk      Source = "RISK_MANAGEMENT"
)

// Urgency orders signals for execution within a cycle.
type Urgency string

const (
	UrgencyHigh   Urgency = "HIGH"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyLow    Urgency = "LOW"
)

// urgencyRank maps urgency to a sortable weight.
func urgencyRank(u Urgency) int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// Signal is a directional trade proposal. Signals are created fresh every
// cycle, never persisted, and immutable once produced.
type Signal struct {
	Product    string    `json:"product"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // 0..100
	Leverage   int       `json:"leverage"`   // >= 1
	SizeUSD    float64   `json:"size_usd"`
	Reasoning  string    `json:"reasoning"`
	Source     Source    `json:"source"`
	Urgency    Urgency   `json:"urgency"`
}

// TradeAction labels what a trade record did.
type TradeAction string

const (
	ActionOpenLong           TradeAction = "OPEN_LONG"
	ActionOpenShort          TradeAction = "OPEN_SHORT"
	ActionCloseLong          TradeAction = "CLOSE_LONG"
	ActionCloseShort         TradeAction = "CLOSE_SHORT"
	ActionAddLong            TradeAction = "ADD_LONG"
	ActionAddShort           TradeAction = "ADD_SHORT"
	ActionReduce             TradeAction = "REDUCE"
	ActionStopLoss           TradeAction = "STOP_LOSS"
	ActionTakeProfit         TradeAction = "TAKE_PROFIT"
	ActionFundingExit        TradeAction = "FUNDING_EXIT"
	ActionLiquidationPrevent TradeAction = "LIQUIDATION_PREVENT"
)

// SignalContext snapshots the market inputs behind a decision, for the audit
// trail.
type SignalContext struct {
	ConfluenceScore float64 `json:"confluence_score"`
	Regime          Regime  `json:"regime,omitempty"`
	MacroStance     string  `json:"macro_stance,omitempty"`
	FundingRateBps  float64 `json:"funding_rate_bps,omitempty"`
	RSI             float64 `json:"rsi,omitempty"`
}

// TradeRecord is an immutable audit entry for one executed (or attempted)
// venue action.
type TradeRecord struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Product     string        `json:"product"`
	Action      TradeAction   `json:"action"`
	SizeUSD     float64       `json:"size_usd"`
	Leverage    int           `json:"leverage"`
	EntryPrice  float64       `json:"entry_price,omitempty"`
	ExitPrice   float64       `json:"exit_price,omitempty"`
	RealizedPnL float64       `json:"realized_pnl,omitempty"`
	OrderID     string        `json:"order_id,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Reasoning   string        `json:"reasoning"`
	Context     SignalContext `json:"context"`
}

// Regime labels the current market regime.
type Regime string

const (
	RegimeTrendingUp   Regime = "TRENDING_UP"
	RegimeTrendingDown Regime = "TRENDING_DOWN"
	RegimeRanging      Regime = "RANGING"
	RegimeVolatile     Regime = "VOLATILE"
)

// MacroStance labels the macro risk environment.
type MacroStance string

const (
	MacroRiskOn  MacroStance = "RISK_ON"
	MacroRiskOff MacroStance = "RISK_OFF"
)

// ProductIndicators carries the technical layer's per-product output. The
// engine consumes these as given and never recomputes them.
type ProductIndicators struct {
	ConfluenceScore float64 `json:"confluence_score"` // -100..+100
	RSI             float64 `json:"rsi"`
	Trend           string  `json:"trend"`
}

// MacroSignal carries the macro layer's output.
type MacroSignal struct {
	Stance          MacroStance        `json:"stance"`
	CommodityScores map[string]float64 `json:"commodity_scores"` // -1..+1 composite per commodity symbol
}

// AIOpinion is an external directional opinion for one product.
type AIOpinion struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // 0..100
}

// CycleInputs is the parameter bundle handed to the engine each tick by the
// technical/macro collaborators. Optional fields are nil when the upstream
// source is unavailable.
type CycleInputs struct {
	Indicators map[string]ProductIndicators `json:"indicators"`
	Regime     Regime                       `json:"regime"`
	Macro      *MacroSignal                 `json:"macro,omitempty"`
	FundingBps map[string]float64           `json:"funding_bps,omitempty"`
	FearGreed  *int                         `json:"fear_greed,omitempty"` // 0..100
	AI         map[string]AIOpinion         `json:"ai,omitempty"`
}

// CycleResult is what one orchestrator pass returns to the outer driver.
type CycleResult struct {
	TradesExecuted   []TradeRecord         `json:"trades_executed"`
	PortfolioState   *venue.PortfolioState `json:"portfolio_state"`
	SignalsGenerated []Signal              `json:"signals_generated"`
}

// Decision is a recent decision event kept for the dashboard.
type Decision struct {
	Timestamp       time.Time `json:"timestamp"`
	Product         string    `json:"product"`
	Direction       Direction `json:"direction"`
	Source          Source    `json:"source"`
	Confidence      float64   `json:"confidence"`
	Approved        bool      `json:"approved"`
	Executed        bool      `json:"executed"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}
