// Package circuit implements the trading circuit breaker. Realized losses
// and trade counts are tracked over rolling windows; past a limit, new
// strategy trades are halted until the cooldown and a winning probe trade.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deriv-bot/config"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Trading halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// EventBroadcaster receives breaker state changes. Implemented by the event
// bus.
type EventBroadcaster interface {
	Publish(eventType string, payload interface{})
}

// EventBreakerTripped is published on trips, resets and recoveries.
const EventBreakerTripped = "BREAKER_TRIPPED"

// Breaker halts strategy trading after sustained losses. Risk management
// closes bypass it entirely; it only gates new exposure.
type Breaker struct {
	cfg               config.BreakerConfig
	state             BreakerState
	consecutiveLosses int
	hourlyLossUSD     float64
	dailyLossUSD      float64
	tradesLastMinute  int
	dailyTrades       int
	lastTripTime      time.Time
	hourlyResetTime   time.Time
	dailyResetTime    time.Time
	minuteResetTime   time.Time
	tripReason        string
	mu                sync.RWMutex
	broadcaster       EventBroadcaster
	logger            zerolog.Logger
}

// New creates a breaker. broadcaster may be nil.
func New(cfg config.BreakerConfig, broadcaster EventBroadcaster, logger zerolog.Logger) *Breaker {
	now := time.Now()
	return &Breaker{
		cfg:             cfg,
		state:           StateClosed,
		hourlyResetTime: now.Add(time.Hour),
		dailyResetTime:  now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		minuteResetTime: now.Add(time.Minute),
		broadcaster:     broadcaster,
		logger:          logger.With().Str("component", "breaker").Logger(),
	}
}

// CanTrade checks if strategy trading is allowed.
func (b *Breaker) CanTrade() (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetCountersIfNeeded()

	if b.state == StateOpen {
		elapsed := time.Since(b.lastTripTime)
		cooldown := time.Duration(b.cfg.CooldownMinutes) * time.Minute

		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), b.tripReason)
		}

		// Cooldown passed, try half-open
		b.state = StateHalfOpen
	}

	if b.hourlyLossUSD >= b.cfg.MaxLossPerHour {
		return false, fmt.Sprintf("hourly loss limit reached: $%.2f >= $%.2f",
			b.hourlyLossUSD, b.cfg.MaxLossPerHour)
	}

	if b.dailyLossUSD >= b.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: $%.2f >= $%.2f",
			b.dailyLossUSD, b.cfg.MaxDailyLoss)
	}

	if b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d",
			b.consecutiveLosses)
	}

	if b.tradesLastMinute >= b.cfg.MaxTradesPerMinute {
		return false, fmt.Sprintf("rate limit reached: %d trades/minute",
			b.tradesLastMinute)
	}

	if b.dailyTrades >= b.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached: %d trades",
			b.dailyTrades)
	}

	return true, ""
}

// RecordTradeResult records a closed trade's realized PnL in USD.
func (b *Breaker) RecordTradeResult(realizedPnL float64) {
	if !b.cfg.Enabled {
		return
	}
	if math.IsNaN(realizedPnL) || math.IsInf(realizedPnL, 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetCountersIfNeeded()

	b.tradesLastMinute++
	b.dailyTrades++

	if realizedPnL < 0 {
		b.consecutiveLosses++
		b.hourlyLossUSD += -realizedPnL
		b.dailyLossUSD += -realizedPnL
		b.checkAndTrip()
		return
	}

	// Winning trade resets the loss streak
	b.consecutiveLosses = 0

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.logger.Info().Msg("Circuit breaker recovered after winning trade")
		b.broadcast(map[string]interface{}{
			"state":  string(StateClosed),
			"action": "recovered",
		})
	}
}

// checkAndTrip trips the breaker once a limit is crossed. Caller holds the
// lock.
func (b *Breaker) checkAndTrip() {
	var reason string

	switch {
	case b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		reason = fmt.Sprintf("consecutive losses: %d", b.consecutiveLosses)
	case b.hourlyLossUSD >= b.cfg.MaxLossPerHour:
		reason = fmt.Sprintf("hourly loss: $%.2f", b.hourlyLossUSD)
	case b.dailyLossUSD >= b.cfg.MaxDailyLoss:
		reason = fmt.Sprintf("daily loss: $%.2f", b.dailyLossUSD)
	default:
		return
	}

	b.state = StateOpen
	b.lastTripTime = time.Now()
	b.tripReason = reason

	b.logger.Warn().Str("reason", reason).Msg("Circuit breaker tripped")
	b.broadcast(map[string]interface{}{
		"state":              string(StateOpen),
		"action":             "tripped",
		"reason":             reason,
		"consecutive_losses": b.consecutiveLosses,
		"hourly_loss_usd":    b.hourlyLossUSD,
		"daily_loss_usd":     b.dailyLossUSD,
	})
}

// resetCountersIfNeeded resets time-based counters.
func (b *Breaker) resetCountersIfNeeded() {
	now := time.Now()

	if now.After(b.minuteResetTime) {
		b.tradesLastMinute = 0
		b.minuteResetTime = now.Add(time.Minute)
	}

	if now.After(b.hourlyResetTime) {
		b.hourlyLossUSD = 0
		b.hourlyResetTime = now.Add(time.Hour)
	}

	if now.After(b.dailyResetTime) {
		b.dailyLossUSD = 0
		b.dailyTrades = 0
		b.dailyResetTime = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// ForceReset manually resets the circuit breaker.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveLosses = 0
	b.tripReason = ""
	b.mu.Unlock()

	b.logger.Info().Msg("Circuit breaker manually reset")
	b.broadcast(map[string]interface{}{
		"state":  string(StateClosed),
		"action": "reset",
	})
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns current statistics for the dashboard.
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return map[string]interface{}{
		"enabled":            b.cfg.Enabled,
		"state":              string(b.state),
		"consecutive_losses": b.consecutiveLosses,
		"hourly_loss_usd":    b.hourlyLossUSD,
		"daily_loss_usd":     b.dailyLossUSD,
		"trades_last_minute": b.tradesLastMinute,
		"daily_trades":       b.dailyTrades,
		"trip_reason":        b.tripReason,
		"last_trip_time":     b.lastTripTime,
	}
}

func (b *Breaker) broadcast(payload map[string]interface{}) {
	if b.broadcaster != nil {
		b.broadcaster.Publish(EventBreakerTripped, payload)
	}
}
