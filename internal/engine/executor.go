package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deriv-bot/config"
	"deriv-bot/internal/venue"
)

// maxErrorLen bounds venue error text stored in trade records.
const maxErrorLen = 200

// RecordSink receives completed trade records. Implemented by the ledger.
type RecordSink interface {
	Append(record TradeRecord)
}

// TradeArchiver mirrors trade records to long-term storage. Archival failures
// are logged and never affect the trade itself.
type TradeArchiver interface {
	ArchiveTrade(ctx context.Context, record TradeRecord) error
}

// Executor turns an approved signal into venue orders and audit records. It
// owns the open/add/close/flip state machine; all sizing and approval
// decisions happen upstream.
type Executor struct {
	cfg       *config.Config
	client    venue.Client
	sink      RecordSink
	cooldowns *CooldownStore
	archiver  TradeArchiver
	logger    zerolog.Logger
}

// NewExecutor creates an executor. archiver may be nil.
func NewExecutor(cfg *config.Config, client venue.Client, sink RecordSink, cooldowns *CooldownStore, archiver TradeArchiver, logger zerolog.Logger) *Executor {
	return &Executor{
		cfg:       cfg,
		client:    client,
		sink:      sink,
		cooldowns: cooldowns,
		archiver:  archiver,
		logger:    logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs one approved signal against the venue and returns the trade
// records produced. A flip produces two records (the close leg, then the open
// leg); everything else produces one. A FLAT signal against a product with no
// position produces none and touches the venue not at all.
func (e *Executor) Execute(ctx context.Context, sig Signal, state *venue.PortfolioState, sigCtx SignalContext) []TradeRecord {
	existing := state.PositionFor(sig.Product)

	switch sig.Direction {
	case DirectionFlat:
		if existing == nil {
			return nil
		}
		return []TradeRecord{e.closePosition(ctx, sig, existing, sigCtx)}

	case DirectionLong, DirectionShort:
		want := venue.SideLong
		if sig.Direction == DirectionShort {
			want = venue.SideShort
		}
		if existing != nil && existing.Side != want {
			return e.flip(ctx, sig, existing, want, sigCtx)
		}
		return []TradeRecord{e.openOrAdd(ctx, sig, existing, want, sigCtx)}
	}

	// HOLD and anything unrecognized never reach the venue.
	return nil
}

// openOrAdd places an open or add order. existing is nil on a fresh open and
// must be same-side on an add.
func (e *Executor) openOrAdd(ctx context.Context, sig Signal, existing *venue.Position, side venue.PositionSide, sigCtx SignalContext) TradeRecord {
	rec := e.newRecord(sig, openAction(side, existing != nil), sigCtx)

	req := venue.OrderRequest{
		Symbol:   sig.Product,
		Side:     side,
		Leverage: sig.Leverage,
	}
	if p := e.cfg.Product(sig.Product); p != nil && p.Commodity {
		contracts := int(math.Floor(sig.SizeUSD / p.ContractUnitUSD))
		if contracts < 1 {
			contracts = 1
		}
		req.Contracts = contracts
		rec.SizeUSD = float64(contracts) * p.ContractUnitUSD
	} else {
		req.SizeUSD = sig.SizeUSD
	}

	result, err := e.client.OpenOrAddPosition(ctx, req)
	e.finishRecord(&rec, result, err)
	if rec.Success {
		rec.EntryPrice = result.FillPrice
		e.cooldowns.MarkTraded(sig.Product)
	}

	e.record(ctx, rec)
	return rec
}

// closePosition reduces or closes an existing position. sig.SizeUSD below the
// full notional is a partial close; at or above it, a full close.
func (e *Executor) closePosition(ctx context.Context, sig Signal, existing *venue.Position, sigCtx SignalContext) TradeRecord {
	notional := math.Abs(existing.NotionalUSD)
	closeUSD := sig.SizeUSD
	full := closeUSD <= 0 || closeUSD >= notional
	if full {
		closeUSD = 0 // venue treats zero as full close
	}

	rec := e.newRecord(sig, closeAction(sig, existing, full), sigCtx)
	if full {
		rec.SizeUSD = notional
	}

	result, err := e.client.ClosePosition(ctx, sig.Product, closeUSD)
	e.finishRecord(&rec, result, err)
	if rec.Success {
		rec.ExitPrice = result.FillPrice
		rec.RealizedPnL = result.RealizedPnL
		e.cooldowns.MarkTraded(sig.Product)
	}

	e.record(ctx, rec)
	return rec
}

// flip closes the opposite-side position in full, re-checks the venue, and
// opens the new side only once the product is confirmed flat. A failed or
// unconfirmed close leaves the close-leg record as the whole story.
func (e *Executor) flip(ctx context.Context, sig Signal, existing *venue.Position, side venue.PositionSide, sigCtx SignalContext) []TradeRecord {
	closeSig := sig
	closeSig.SizeUSD = math.Abs(existing.NotionalUSD)
	closeSig.Reasoning = fmt.Sprintf("Flip to %s: %s", sig.Direction, sig.Reasoning)

	closeRec := e.newRecord(closeSig, closeAction(closeSig, existing, true), sigCtx)
	result, err := e.client.ClosePosition(ctx, sig.Product, 0)
	e.finishRecord(&closeRec, result, err)
	if closeRec.Success {
		closeRec.ExitPrice = result.FillPrice
		closeRec.RealizedPnL = result.RealizedPnL
		e.cooldowns.MarkTraded(sig.Product)
	}
	e.record(ctx, closeRec)

	if !closeRec.Success {
		return []TradeRecord{closeRec}
	}

	fresh, err := e.client.GetPortfolioState(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("product", sig.Product).
			Msg("Portfolio re-check failed after flip close, skipping open leg")
		return []TradeRecord{closeRec}
	}
	if fresh.PositionFor(sig.Product) != nil {
		e.logger.Warn().Str("product", sig.Product).
			Msg("Position still open after flip close, skipping open leg")
		return []TradeRecord{closeRec}
	}

	openRec := e.openOrAdd(ctx, sig, nil, side, sigCtx)
	return []TradeRecord{closeRec, openRec}
}

// newRecord builds the base trade record for a signal.
func (e *Executor) newRecord(sig Signal, action TradeAction, sigCtx SignalContext) TradeRecord {
	return TradeRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Product:   sig.Product,
		Action:    action,
		SizeUSD:   sig.SizeUSD,
		Leverage:  sig.Leverage,
		Reasoning: sig.Reasoning,
		Context:   sigCtx,
	}
}

// finishRecord folds the venue response into the record.
func (e *Executor) finishRecord(rec *TradeRecord, result *venue.OrderResult, err error) {
	switch {
	case err != nil:
		rec.Success = false
		rec.Error = truncate(err.Error(), maxErrorLen)
	case !result.Success:
		rec.Success = false
		rec.Error = truncate(result.FailureReason, maxErrorLen)
	default:
		rec.Success = true
		rec.OrderID = result.OrderID
	}
}

// record appends to the ledger and mirrors to the archive.
func (e *Executor) record(ctx context.Context, rec TradeRecord) {
	evt := e.logger.Info()
	if !rec.Success {
		evt = e.logger.Warn()
	}
	evt.Str("product", rec.Product).
		Str("action", string(rec.Action)).
		Float64("size_usd", rec.SizeUSD).
		Bool("success", rec.Success).
		Str("error", rec.Error).
		Msg("Trade executed")

	if e.sink != nil {
		e.sink.Append(rec)
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveTrade(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Str("trade_id", rec.ID).Msg("Failed to archive trade record")
		}
	}
}

// openAction labels an open or add for the given side.
func openAction(side venue.PositionSide, add bool) TradeAction {
	switch {
	case side == venue.SideLong && add:
		return ActionAddLong
	case side == venue.SideLong:
		return ActionOpenLong
	case add:
		return ActionAddShort
	default:
		return ActionOpenShort
	}
}

// closeAction labels a close, preferring the risk tag embedded in the signal
// reasoning so stop losses and liquidation prevention stay visible in the
// ledger.
func closeAction(sig Signal, existing *venue.Position, full bool) TradeAction {
	if sig.Source == SourceRisk {
		switch {
		case strings.HasPrefix(sig.Reasoning, tagStopLoss):
			return ActionStopLoss
		case strings.HasPrefix(sig.Reasoning, tagTakeProfit):
			return ActionTakeProfit
		case strings.HasPrefix(sig.Reasoning, tagLiquidationPrevent):
			return ActionLiquidationPrevent
		case strings.HasPrefix(sig.Reasoning, tagFundingExit):
			return ActionFundingExit
		}
	}
	if !full {
		return ActionReduce
	}
	if existing.Side == venue.SideLong {
		return ActionCloseLong
	}
	return ActionCloseShort
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
