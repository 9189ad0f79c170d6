package engine

import (
	"fmt"
	"time"

	"deriv-bot/config"
	"deriv-bot/internal/venue"
)

// Verdict is the validator's answer for one candidate signal.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func approved() Verdict {
	return Verdict{Approved: true, Reason: "all checks passed"}
}

func rejected(format string, args ...interface{}) Verdict {
	return Verdict{Approved: false, Reason: fmt.Sprintf(format, args...)}
}

// Validator gates every candidate trade through the configured risk
// envelope. It is pure and side-effect free: the same signal, portfolio and
// cooldown state always yield the same verdict.
type Validator struct {
	risk config.RiskConfig
}

// NewValidator creates a validator from config.
func NewValidator(risk config.RiskConfig) *Validator {
	return &Validator{risk: risk}
}

// Validate runs the checks in a fixed order, short-circuiting on the first
// failure. Pass a nil cooldown store to skip the cooldown check; the
// orchestrator does that for RISK_MANAGEMENT signals.
func (v *Validator) Validate(sig Signal, portfolio *venue.PortfolioState, cooldowns *CooldownStore) Verdict {
	// 1. Portfolio state must be loaded.
	if portfolio == nil {
		return rejected("portfolio state not loaded")
	}

	reducing := sig.Direction == DirectionFlat
	existing := portfolio.PositionFor(sig.Product)
	currentExposure := portfolio.TotalExposure()
	totalBuyingPower := portfolio.AvailableBuyingPower + currentExposure

	// 2. Post-trade total exposure. Reducing trades skip this entirely: an
	// account already over the cap must still be able to close positions.
	if !reducing {
		if totalBuyingPower > 0 {
			postExposurePercent := (currentExposure + sig.SizeUSD) / totalBuyingPower * 100
			if postExposurePercent > v.risk.MaxTotalExposurePercent {
				return rejected("total exposure %.1f%% would exceed limit %.1f%%",
					postExposurePercent, v.risk.MaxTotalExposurePercent)
			}
		} else if sig.SizeUSD > 0 {
			return rejected("no buying power available")
		}
	}

	// 3. Single-trade share of buying power, unless the trade reduces an
	// existing position.
	if !reducing && totalBuyingPower > 0 {
		positionPercent := sig.SizeUSD / totalBuyingPower * 100
		if positionPercent > v.risk.MaxPositionPercent {
			return rejected("position size %.1f%% of buying power exceeds limit %.1f%%",
				positionPercent, v.risk.MaxPositionPercent)
		}
	}

	// 4. Open position count, unless closing or trading an already-open
	// product.
	if portfolio.OpenPositionCount >= v.risk.MaxOpenPositions && !reducing && existing == nil {
		return rejected("max open positions reached (%d/%d)",
			portfolio.OpenPositionCount, v.risk.MaxOpenPositions)
	}

	// 5. Cooldown.
	if cooldowns != nil {
		if active, remaining := cooldowns.Active(sig.Product); active {
			return rejected("%s in cooldown, %s remaining", sig.Product, remaining.Round(time.Second))
		}
	}

	// 6. Minimum size for entries.
	if !reducing && sig.SizeUSD < v.risk.MinPositionUSD {
		return rejected("size $%.2f below minimum $%.2f", sig.SizeUSD, v.risk.MinPositionUSD)
	}

	// 7. Leverage bound.
	if sig.Leverage > v.risk.MaxLeverage {
		return rejected("leverage %dx exceeds maximum %dx", sig.Leverage, v.risk.MaxLeverage)
	}

	// 8. Entries must fit in available buying power.
	if !reducing && sig.SizeUSD > portfolio.AvailableBuyingPower {
		return rejected("size $%.2f exceeds available buying power $%.2f",
			sig.SizeUSD, portfolio.AvailableBuyingPower)
	}

	return approved()
}
