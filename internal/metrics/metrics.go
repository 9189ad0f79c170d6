// Package metrics exposes Prometheus counters and gauges for the engine.
// Collectors are package-level and registered once at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"deriv-bot/internal/engine"
)

var (
	cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "derivbot_cycles_total", Help: "Completed trading cycles"})
	cycleFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "derivbot_cycle_failures_total", Help: "Cycles aborted by error or panic"})
	signalsGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "derivbot_signals_total", Help: "Signals generated, by source"},
		[]string{"source"})
	tradesExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "derivbot_trades_total", Help: "Venue actions attempted, by action and outcome"},
		[]string{"action", "outcome"})
	realizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "derivbot_realized_pnl_usd_total", Help: "Cumulative realized PnL in USD (losses subtract)"})
	openPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "derivbot_open_positions", Help: "Open positions after the last cycle"})
	totalExposure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "derivbot_total_exposure_usd", Help: "Gross notional exposure in USD"})
	buyingPower = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "derivbot_buying_power_usd", Help: "Available buying power in USD"})
	unrealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "derivbot_unrealized_pnl_usd", Help: "Unrealized PnL across open positions in USD"})
	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "derivbot_cycle_duration_seconds",
		Help:    "Wall time of one trading cycle",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		cyclesTotal, cycleFailures, signalsGenerated, tradesExecuted,
		realizedPnL, openPositions, totalExposure, buyingPower,
		unrealizedPnL, cycleDuration,
	)
}

// ObserveCycle records one completed cycle.
func ObserveCycle(result *engine.CycleResult, seconds float64) {
	cyclesTotal.Inc()
	cycleDuration.Observe(seconds)

	for _, sig := range result.SignalsGenerated {
		signalsGenerated.WithLabelValues(string(sig.Source)).Inc()
	}
	for _, rec := range result.TradesExecuted {
		outcome := "success"
		if !rec.Success {
			outcome = "failure"
		}
		tradesExecuted.WithLabelValues(string(rec.Action), outcome).Inc()
		if rec.Success {
			realizedPnL.Add(rec.RealizedPnL)
		}
	}

	if state := result.PortfolioState; state != nil {
		openPositions.Set(float64(state.OpenPositionCount))
		totalExposure.Set(state.TotalExposure())
		buyingPower.Set(state.AvailableBuyingPower)
		unrealizedPnL.Set(state.TotalUnrealizedPnL)
	}
}

// ObserveCycleFailure records an aborted cycle.
func ObserveCycleFailure() {
	cycleFailures.Inc()
}
