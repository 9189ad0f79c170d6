// Package engine implements the strategy and risk engine: signal generation,
// position risk monitoring, trade validation, and execution, driven by a
// single orchestrated cycle.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deriv-bot/config"
	"deriv-bot/internal/venue"
)

// Event types published by the engine during a cycle.
const (
	EventSignalGenerated = "SIGNAL_GENERATED"
	EventTradeExecuted   = "TRADE_EXECUTED"
	EventTradeRejected   = "TRADE_REJECTED"
	EventRiskTriggered   = "RISK_TRIGGERED"
	EventCycleCompleted  = "CYCLE_COMPLETED"
)

// recentDecisionLimit caps the dashboard decision ring.
const recentDecisionLimit = 50

// TradeGate approves or blocks new strategy trades. Risk management closes
// are never gated. Implemented by the circuit breaker.
type TradeGate interface {
	CanTrade() (bool, string)
	RecordTradeResult(realizedPnL float64)
}

// EventPublisher fans engine events out to subscribers. Implemented by the
// event bus.
type EventPublisher interface {
	Publish(eventType string, payload interface{})
}

// RecordStore is the ledger surface the engine needs: append on execution,
// read back for the history API.
type RecordStore interface {
	RecordSink
	Records() []TradeRecord
}

// CooldownSaver persists the cooldown map after each cycle.
type CooldownSaver interface {
	SaveCooldowns(entries map[string]time.Time)
}

// Engine orchestrates one trading cycle at a time: risk scan first, then
// strategy signals in urgency order, each validated before it reaches the
// venue.
type Engine struct {
	mu sync.RWMutex

	cfg       *config.Config
	client    venue.Client
	generator *SignalGenerator
	monitor   *RiskMonitor
	validator *Validator
	executor  *Executor
	cooldowns *CooldownStore
	store     RecordStore
	gate      TradeGate
	publisher EventPublisher
	saver     CooldownSaver
	logger    zerolog.Logger

	enabled    bool
	lastState  *venue.PortfolioState
	lastCycle  time.Time
	cycleCount int64
	decisions  []Decision
}

// New wires an engine from its collaborators. gate, publisher, archiver and
// saver may be nil.
func New(cfg *config.Config, client venue.Client, store RecordStore, gate TradeGate, publisher EventPublisher, archiver TradeArchiver, saver CooldownSaver, logger zerolog.Logger) *Engine {
	log := logger.With().Str("component", "engine").Logger()
	cooldowns := NewCooldownStore(time.Duration(cfg.Risk.PositionCooldownMinutes) * time.Minute)

	return &Engine{
		cfg:       cfg,
		client:    client,
		generator: NewSignalGenerator(cfg.Strategy, cfg.Risk, logger),
		monitor:   NewRiskMonitor(cfg.Risk, logger),
		validator: NewValidator(cfg.Risk),
		executor:  NewExecutor(cfg, client, store, cooldowns, archiver, logger),
		cooldowns: cooldowns,
		store:     store,
		gate:      gate,
		publisher: publisher,
		saver:     saver,
		logger:    log,
		enabled:   cfg.Strategy.Enabled,
	}
}

// RunCycle executes one full pass: refresh portfolio state, act on risk
// signals, then generate, validate and execute strategy signals. A panic
// anywhere in the cycle is recovered and surfaced as an error; no position
// is ever force-closed on failure.
func (e *Engine) RunCycle(ctx context.Context, inputs CycleInputs) (result *CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Cycle panicked, leaving positions untouched")
			result = nil
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	if !e.IsEnabled() {
		return &CycleResult{}, nil
	}

	started := time.Now()
	state, err := e.fetchState(ctx)
	if err != nil {
		return nil, err
	}

	result = &CycleResult{}
	stateFresh := true

	// Risk scan runs before anything else and is never gated by the breaker
	// or cooldowns.
	riskSignals := e.monitor.GenerateRiskSignals(state, inputs.FundingBps)
	for _, sig := range riskSignals {
		e.publish(EventRiskTriggered, sig)
		result.SignalsGenerated = append(result.SignalsGenerated, sig)

		verdict := e.validator.Validate(sig, state, nil)
		if !verdict.Approved {
			e.noteDecision(sig, false, false, verdict.Reason)
			e.publish(EventTradeRejected, map[string]interface{}{"signal": sig, "reason": verdict.Reason})
			continue
		}

		records := e.executor.Execute(ctx, sig, state, e.signalContext(sig.Product, inputs))
		result.TradesExecuted = append(result.TradesExecuted, records...)
		e.noteDecision(sig, true, executed(records), failureOf(records))
		e.publishTrades(records)
		e.settleRecords(records)

		var refreshErr error
		if state, refreshErr = e.refreshState(ctx, state); refreshErr != nil {
			e.logger.Error().Err(refreshErr).Msg("Portfolio refresh failed after risk close, stopping cycle early")
			stateFresh = false
			break
		}
	}

	if stateFresh {
		if ok, reason := e.canTrade(); !ok {
			e.logger.Warn().Str("reason", reason).Msg("Trading halted by circuit breaker, strategy signals skipped")
		} else {
			state = e.runStrategy(ctx, inputs, state, result)
		}
	}

	e.mu.Lock()
	e.lastState = state
	e.lastCycle = time.Now()
	e.cycleCount++
	e.mu.Unlock()

	if e.saver != nil {
		e.saver.SaveCooldowns(e.cooldowns.Entries())
	}

	result.PortfolioState = state
	e.publish(EventCycleCompleted, result)
	e.logger.Info().
		Int("signals", len(result.SignalsGenerated)).
		Int("trades", len(result.TradesExecuted)).
		Dur("took", time.Since(started)).
		Msg("Cycle completed")
	return result, nil
}

// runStrategy generates, prioritizes, validates and executes strategy
// signals, refreshing state after each execution so every validation sees
// current exposure.
func (e *Engine) runStrategy(ctx context.Context, inputs CycleInputs, state *venue.PortfolioState, result *CycleResult) *venue.PortfolioState {
	signals := e.generator.GenerateSignals(inputs, state)

	// A FLAT signal for a product with no position is a no-op; drop it
	// before validation so it never shows up as a rejection.
	actionable := signals[:0]
	for _, sig := range signals {
		if sig.Direction == DirectionFlat && state.PositionFor(sig.Product) == nil {
			continue
		}
		actionable = append(actionable, sig)
	}

	sort.SliceStable(actionable, func(i, j int) bool {
		if a, b := urgencyRank(actionable[i].Urgency), urgencyRank(actionable[j].Urgency); a != b {
			return a > b
		}
		return actionable[i].Confidence > actionable[j].Confidence
	})

	for _, sig := range actionable {
		e.publish(EventSignalGenerated, sig)
		result.SignalsGenerated = append(result.SignalsGenerated, sig)

		verdict := e.validator.Validate(sig, state, e.cooldowns)
		if !verdict.Approved {
			e.logger.Debug().Str("product", sig.Product).Str("reason", verdict.Reason).Msg("Signal rejected")
			e.noteDecision(sig, false, false, verdict.Reason)
			e.publish(EventTradeRejected, map[string]interface{}{"signal": sig, "reason": verdict.Reason})
			continue
		}

		records := e.executor.Execute(ctx, sig, state, e.signalContext(sig.Product, inputs))
		result.TradesExecuted = append(result.TradesExecuted, records...)
		e.noteDecision(sig, true, executed(records), failureOf(records))
		e.publishTrades(records)
		e.settleRecords(records)

		if len(records) == 0 {
			continue
		}
		fresh, err := e.refreshState(ctx, state)
		if err != nil {
			e.logger.Error().Err(err).Msg("Portfolio refresh failed mid-cycle, stopping strategy execution")
			break
		}
		state = fresh
	}
	return state
}

// fetchState gets the current portfolio, falling back to the last known
// state when the venue is unreachable. With no cached state the cycle
// aborts.
func (e *Engine) fetchState(ctx context.Context) (*venue.PortfolioState, error) {
	state, err := e.client.GetPortfolioState(ctx)
	if err == nil {
		return state, nil
	}

	e.mu.RLock()
	cached := e.lastState
	e.mu.RUnlock()
	if cached == nil {
		return nil, fmt.Errorf("fetching portfolio state: %w", err)
	}
	e.logger.Warn().Err(err).Msg("Portfolio fetch failed, using cached state")
	return cached, nil
}

// refreshState re-fetches after an execution; on failure the stale state is
// kept and the error reported so the caller can stop executing.
func (e *Engine) refreshState(ctx context.Context, stale *venue.PortfolioState) (*venue.PortfolioState, error) {
	fresh, err := e.client.GetPortfolioState(ctx)
	if err != nil {
		return stale, err
	}
	return fresh, nil
}

// publishTrades emits one trade event per record, failures included.
func (e *Engine) publishTrades(records []TradeRecord) {
	for _, rec := range records {
		e.publish(EventTradeExecuted, rec)
	}
}

// settleRecords reports realized PnL from closes to the circuit breaker.
func (e *Engine) settleRecords(records []TradeRecord) {
	if e.gate == nil {
		return
	}
	for _, rec := range records {
		if rec.Success && rec.RealizedPnL != 0 {
			e.gate.RecordTradeResult(rec.RealizedPnL)
		}
	}
}

func (e *Engine) canTrade() (bool, string) {
	if e.gate == nil {
		return true, ""
	}
	return e.gate.CanTrade()
}

// signalContext snapshots the cycle inputs for one product into the audit
// trail.
func (e *Engine) signalContext(product string, inputs CycleInputs) SignalContext {
	sc := SignalContext{Regime: inputs.Regime}
	if ind, ok := inputs.Indicators[product]; ok {
		sc.ConfluenceScore = ind.ConfluenceScore
		sc.RSI = ind.RSI
	}
	if inputs.Macro != nil {
		sc.MacroStance = string(inputs.Macro.Stance)
	}
	if bps, ok := inputs.FundingBps[product]; ok {
		sc.FundingRateBps = bps
	}
	return sc
}

// noteDecision appends to the dashboard decision ring.
func (e *Engine) noteDecision(sig Signal, approvedSig, executedSig bool, reason string) {
	d := Decision{
		Timestamp:       time.Now().UTC(),
		Product:         sig.Product,
		Direction:       sig.Direction,
		Source:          sig.Source,
		Confidence:      sig.Confidence,
		Approved:        approvedSig,
		Executed:        executedSig,
		RejectionReason: reason,
	}

	e.mu.Lock()
	e.decisions = append(e.decisions, d)
	if len(e.decisions) > recentDecisionLimit {
		e.decisions = e.decisions[len(e.decisions)-recentDecisionLimit:]
	}
	e.mu.Unlock()
}

func (e *Engine) publish(eventType string, payload interface{}) {
	if e.publisher != nil {
		e.publisher.Publish(eventType, payload)
	}
}

// executed reports whether all records in a batch succeeded and at least one
// venue call was made.
func executed(records []TradeRecord) bool {
	if len(records) == 0 {
		return false
	}
	for _, rec := range records {
		if !rec.Success {
			return false
		}
	}
	return true
}

// failureOf returns the first error in a batch, empty when all succeeded.
func failureOf(records []TradeRecord) string {
	for _, rec := range records {
		if !rec.Success {
			return rec.Error
		}
	}
	return ""
}

// ==================== ACCESSORS ====================

// IsEnabled reports whether cycles act.
func (e *Engine) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetEnabled toggles trading. A disabled engine no-ops every cycle.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	e.logger.Info().Bool("enabled", enabled).Msg("Engine enabled state changed")
}

// State returns the last known portfolio state, nil before the first cycle.
func (e *Engine) State() *venue.PortfolioState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastState
}

// TradeHistory returns the ledger contents, oldest first.
func (e *Engine) TradeHistory() []TradeRecord {
	return e.store.Records()
}

// RecentDecisions returns the latest decision events, oldest first.
func (e *Engine) RecentDecisions() []Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Decision, len(e.decisions))
	copy(out, e.decisions)
	return out
}

// Cooldowns exposes the cooldown store for startup restoration.
func (e *Engine) Cooldowns() *CooldownStore {
	return e.cooldowns
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Status summarizes the engine for the dashboard.
func (e *Engine) Status() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := map[string]interface{}{
		"enabled":     e.enabled,
		"cycle_count": e.cycleCount,
		"last_cycle":  e.lastCycle,
		"products":    len(e.cfg.Strategy.Products),
	}
	if e.lastState != nil {
		status["open_positions"] = e.lastState.OpenPositionCount
		status["total_exposure_usd"] = e.lastState.TotalExposure()
		status["buying_power_usd"] = e.lastState.AvailableBuyingPower
		status["unrealized_pnl_usd"] = e.lastState.TotalUnrealizedPnL
	}
	if e.gate != nil {
		ok, reason := e.gate.CanTrade()
		status["trading_allowed"] = ok
		if reason != "" {
			status["halt_reason"] = reason
		}
	}
	return status
}
