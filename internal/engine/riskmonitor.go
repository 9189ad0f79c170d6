package engine

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"deriv-bot/config"
	"deriv-bot/internal/venue"
)

// Reasoning tags the Risk Monitor prefixes onto its signals. The execution
// engine derives the trade action label from these.
const (
	tagStopLoss           = "STOP_LOSS"
	tagTakeProfit         = "TAKE_PROFIT"
	tagLiquidationPrevent = "LIQUIDATION_PREVENT"
	tagFundingExit        = "FUNDING_EXIT"
)

// Exit sizing fractions per rule.
const (
	takeProfitCloseFraction  = 0.5
	liquidationCloseFraction = 0.3
)

// fundingExitMultiple scales MaxFundingRateBps into the exit threshold: a
// position paying more than this multiple of the cap while underwater is not
// worth carrying to the next funding window.
const fundingExitMultiple = 2.0

// RiskMonitor scans open positions for stop-loss, take-profit,
// liquidation-proximity and funding-cost breaches every cycle, independent of
// the signal generator. Safety signals always carry the RISK_MANAGEMENT
// source.
type RiskMonitor struct {
	risk   config.RiskConfig
	logger zerolog.Logger
}

// NewRiskMonitor creates a risk monitor from config.
func NewRiskMonitor(risk config.RiskConfig, logger zerolog.Logger) *RiskMonitor {
	return &RiskMonitor{
		risk:   risk,
		logger: logger.With().Str("component", "risk_monitor").Logger(),
	}
}

// GenerateRiskSignals is a pure function of the current positions and
// funding rates. Per position the four rules are mutually exclusive:
// stop-loss, then take-profit, then liquidation buffer, then funding cost,
// first match wins. fundingBps may be nil when no market data arrived this
// cycle.
func (rm *RiskMonitor) GenerateRiskSignals(portfolio *venue.PortfolioState, fundingBps map[string]float64) []Signal {
	if portfolio == nil {
		return nil
	}

	signals := make([]Signal, 0)
	for _, pos := range portfolio.Positions {
		if sig := rm.checkPosition(pos, fundingBps); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

func (rm *RiskMonitor) checkPosition(pos venue.Position, fundingBps map[string]float64) *Signal {
	notional := math.Abs(pos.NotionalUSD)
	if notional == 0 {
		return nil
	}
	pnlPercent := pos.UnrealizedPnL / notional * 100

	if pnlPercent <= rm.risk.StopLossPercent {
		rm.logger.Warn().
			Str("product", pos.Symbol).
			Float64("pnl_percent", pnlPercent).
			Float64("stop_loss_percent", rm.risk.StopLossPercent).
			Msg("Stop loss breached")
		return &Signal{
			Product:    pos.Symbol,
			Direction:  DirectionFlat,
			Confidence: 100,
			Leverage:   1,
			SizeUSD:    notional,
			Reasoning:  fmt.Sprintf("%s: pnl %.2f%% breached stop %.2f%%", tagStopLoss, pnlPercent, rm.risk.StopLossPercent),
			Source:     SourceRisk,
			Urgency:    UrgencyHigh,
		}
	}

	if pnlPercent >= rm.risk.TakeProfitPercent {
		rm.logger.Info().
			Str("product", pos.Symbol).
			Float64("pnl_percent", pnlPercent).
			Msg("Take profit level reached")
		return &Signal{
			Product:    pos.Symbol,
			Direction:  DirectionFlat,
			Confidence: 90,
			Leverage:   1,
			SizeUSD:    notional * takeProfitCloseFraction,
			Reasoning:  fmt.Sprintf("%s: pnl %.2f%% above target %.2f%%, banking half", tagTakeProfit, pnlPercent, rm.risk.TakeProfitPercent),
			Source:     SourceRisk,
			Urgency:    UrgencyMedium,
		}
	}

	if pos.LiquidationPrice > 0 && pos.MarkPrice > 0 {
		distance := liquidationDistancePercent(pos)
		if distance < rm.risk.LiquidationBufferPercent {
			rm.logger.Warn().
				Str("product", pos.Symbol).
				Float64("distance_percent", distance).
				Float64("buffer_percent", rm.risk.LiquidationBufferPercent).
				Msg("Position near liquidation")
			return &Signal{
				Product:    pos.Symbol,
				Direction:  DirectionFlat,
				Confidence: 100,
				Leverage:   1,
				SizeUSD:    notional * liquidationCloseFraction,
				Reasoning:  fmt.Sprintf("%s: %.2f%% from liquidation, buffer %.2f%%", tagLiquidationPrevent, distance, rm.risk.LiquidationBufferPercent),
				Source:     SourceRisk,
				Urgency:    UrgencyHigh,
			}
		}
	}

	if bps, ok := fundingBps[pos.Symbol]; ok {
		paid := positionFundingPaid(pos.Side, bps)
		threshold := rm.risk.MaxFundingRateBps * fundingExitMultiple
		if paid > threshold && pos.UnrealizedPnL <= 0 {
			rm.logger.Info().
				Str("product", pos.Symbol).
				Float64("funding_bps", bps).
				Float64("threshold_bps", threshold).
				Msg("Funding cost exceeds exit threshold on losing position")
			return &Signal{
				Product:    pos.Symbol,
				Direction:  DirectionFlat,
				Confidence: 75,
				Leverage:   1,
				SizeUSD:    notional,
				Reasoning:  fmt.Sprintf("%s: paying %.2f bps funding against a %.2f bps threshold while underwater", tagFundingExit, paid, threshold),
				Source:     SourceRisk,
				Urgency:    UrgencyLow,
			}
		}
	}

	return nil
}

// positionFundingPaid returns the funding rate the position pays, in bps.
// Longs pay positive funding, shorts pay negative funding; a position being
// paid yields a non-positive result.
func positionFundingPaid(side venue.PositionSide, bps float64) float64 {
	if side == venue.SideShort {
		return -bps
	}
	return bps
}

// liquidationDistancePercent measures how far the mark price sits from the
// liquidation price, as a percent of mark, direction-aware.
func liquidationDistancePercent(pos venue.Position) float64 {
	if pos.Side == venue.SideLong {
		return (pos.MarkPrice - pos.LiquidationPrice) / pos.MarkPrice * 100
	}
	return (pos.LiquidationPrice - pos.MarkPrice) / pos.MarkPrice * 100
}
