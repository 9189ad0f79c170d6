package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deriv-bot/config"
	"deriv-bot/internal/venue"
)

// mockVenueClient is a scripted venue for executor tests. Every call is
// recorded; responses come from the scripted fields.
type mockVenueClient struct {
	openCalls  []venue.OrderRequest
	closeCalls []struct {
		Symbol  string
		SizeUSD float64
	}
	stateCalls int

	openResult  *venue.OrderResult
	openErr     error
	closeResult *venue.OrderResult
	closeErr    error
	state       *venue.PortfolioState
	stateErr    error
}

func (m *mockVenueClient) GetPortfolioState(ctx context.Context) (*venue.PortfolioState, error) {
	m.stateCalls++
	if m.stateErr != nil {
		return nil, m.stateErr
	}
	return m.state, nil
}

func (m *mockVenueClient) OpenOrAddPosition(ctx context.Context, req venue.OrderRequest) (*venue.OrderResult, error) {
	m.openCalls = append(m.openCalls, req)
	return m.openResult, m.openErr
}

func (m *mockVenueClient) ClosePosition(ctx context.Context, symbol string, sizeUSD float64) (*venue.OrderResult, error) {
	m.closeCalls = append(m.closeCalls, struct {
		Symbol  string
		SizeUSD float64
	}{symbol, sizeUSD})
	return m.closeResult, m.closeErr
}

// memorySink collects appended records.
type memorySink struct {
	records []TradeRecord
}

func (s *memorySink) Append(rec TradeRecord) {
	s.records = append(s.records, rec)
}

func (s *memorySink) Records() []TradeRecord {
	return s.records
}

func testExecutorConfig() *config.Config {
	cfg := config.Default()
	cfg.Strategy = testStrategyConfig()
	cfg.Risk = testRiskConfig()
	return cfg
}

func newTestExecutor(client venue.Client, sink RecordSink) (*Executor, *CooldownStore) {
	cooldowns := NewCooldownStore(time.Hour)
	return NewExecutor(testExecutorConfig(), client, sink, cooldowns, nil, zerolog.Nop()), cooldowns
}

func okOrder(id string) *venue.OrderResult {
	return &venue.OrderResult{OrderID: id, Success: true, FillPrice: 100}
}

// ============================================================================
// TEST: Open, add, and the flat no-op
// ============================================================================

func TestExecutor_FlatWithNoPositionTouchesNothing(t *testing.T) {
	client := &mockVenueClient{}
	sink := &memorySink{}
	ex, _ := newTestExecutor(client, sink)

	sig := Signal{Product: "BTC-PERP", Direction: DirectionFlat, SizeUSD: 0, Leverage: 1}
	records := ex.Execute(context.Background(), sig, flatPortfolio(1000), SignalContext{})

	if len(records) != 0 {
		t.Fatalf("Expected no records, got %d", len(records))
	}
	if len(client.openCalls)+len(client.closeCalls)+client.stateCalls != 0 {
		t.Error("Expected zero venue calls for flat-on-flat")
	}
	if len(sink.records) != 0 {
		t.Error("Expected nothing in the ledger")
	}
}

func TestExecutor_OpenLong(t *testing.T) {
	client := &mockVenueClient{openResult: okOrder("ord-1")}
	sink := &memorySink{}
	ex, cooldowns := newTestExecutor(client, sink)

	sig := Signal{Product: "BTC-PERP", Direction: DirectionLong, SizeUSD: 100, Leverage: 2, Reasoning: "confluence 50"}
	records := ex.Execute(context.Background(), sig, flatPortfolio(1000), SignalContext{ConfluenceScore: 50})

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Action != ActionOpenLong {
		t.Errorf("Expected OPEN_LONG, got %s", rec.Action)
	}
	if !rec.Success || rec.OrderID != "ord-1" {
		t.Errorf("Expected successful record with order id, got %+v", rec)
	}
	if rec.EntryPrice != 100 {
		t.Errorf("Expected fill price 100, got %.2f", rec.EntryPrice)
	}
	if rec.ID == "" {
		t.Error("Expected a record ID")
	}
	if rec.Context.ConfluenceScore != 50 {
		t.Errorf("Expected signal context carried through, got %+v", rec.Context)
	}

	if len(client.openCalls) != 1 {
		t.Fatalf("Expected 1 open call, got %d", len(client.openCalls))
	}
	req := client.openCalls[0]
	if req.Side != venue.SideLong || req.SizeUSD != 100 || req.Leverage != 2 {
		t.Errorf("Unexpected order request: %+v", req)
	}

	if active, _ := cooldowns.Active("BTC-PERP"); !active {
		t.Error("Expected cooldown marked after entry")
	}
	if len(sink.records) != 1 {
		t.Errorf("Expected 1 ledger record, got %d", len(sink.records))
	}
}

func TestExecutor_AddToSameSide(t *testing.T) {
	client := &mockVenueClient{openResult: okOrder("ord-2")}
	ex, _ := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideShort, NotionalUSD: 200})
	sig := Signal{Product: "BTC-PERP", Direction: DirectionShort, SizeUSD: 50, Leverage: 1}
	records := ex.Execute(context.Background(), sig, state, SignalContext{})

	if len(records) != 1 || records[0].Action != ActionAddShort {
		t.Fatalf("Expected single ADD_SHORT record, got %+v", records)
	}
}

// ============================================================================
// TEST: Commodity contract sizing
// ============================================================================

func TestExecutor_CommodityContractSizing(t *testing.T) {
	client := &mockVenueClient{openResult: okOrder("ord-3")}
	ex, _ := newTestExecutor(client, &memorySink{})

	// $250 at $100/contract floors to 2 contracts.
	sig := Signal{Product: "GC-FUT", Direction: DirectionLong, SizeUSD: 250, Leverage: 2}
	records := ex.Execute(context.Background(), sig, flatPortfolio(10000), SignalContext{})

	req := client.openCalls[0]
	if req.Contracts != 2 || req.SizeUSD != 0 {
		t.Errorf("Expected 2 contracts and no USD sizing, got %+v", req)
	}
	if !floatEquals(records[0].SizeUSD, 200, 0.01) {
		t.Errorf("Expected record size $200 (2 contracts), got $%.2f", records[0].SizeUSD)
	}
}

func TestExecutor_CommoditySizeBelowOneContractRoundsUp(t *testing.T) {
	client := &mockVenueClient{openResult: okOrder("ord-4")}
	ex, _ := newTestExecutor(client, &memorySink{})

	sig := Signal{Product: "GC-FUT", Direction: DirectionShort, SizeUSD: 40, Leverage: 1}
	ex.Execute(context.Background(), sig, flatPortfolio(10000), SignalContext{})

	if client.openCalls[0].Contracts != 1 {
		t.Errorf("Expected minimum 1 contract, got %d", client.openCalls[0].Contracts)
	}
}

// ============================================================================
// TEST: Closes and action labeling
// ============================================================================

func TestExecutor_StopLossCloseKeepsRiskTag(t *testing.T) {
	client := &mockVenueClient{closeResult: &venue.OrderResult{OrderID: "ord-5", Success: true, FillPrice: 88, RealizedPnL: -60}}
	ex, _ := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 500, UnrealizedPnL: -60})
	sig := Signal{
		Product:   "BTC-PERP",
		Direction: DirectionFlat,
		SizeUSD:   500,
		Leverage:  1,
		Reasoning: tagStopLoss + ": pnl -12.00% breached stop -10.00%",
		Source:    SourceRisk,
	}
	records := ex.Execute(context.Background(), sig, state, SignalContext{})

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Action != ActionStopLoss {
		t.Errorf("Expected STOP_LOSS action, got %s", rec.Action)
	}
	if rec.RealizedPnL != -60 || rec.ExitPrice != 88 {
		t.Errorf("Expected realized pnl and exit price from fill, got %+v", rec)
	}

	// Full close passes zero to the venue.
	if client.closeCalls[0].SizeUSD != 0 {
		t.Errorf("Expected full close (size 0), got %.2f", client.closeCalls[0].SizeUSD)
	}
}

func TestExecutor_CloseStartsCooldown(t *testing.T) {
	client := &mockVenueClient{closeResult: &venue.OrderResult{OrderID: "ord-10", Success: true, FillPrice: 88, RealizedPnL: -24}}
	ex, cooldowns := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 200, UnrealizedPnL: -24})
	sig := Signal{
		Product:   "BTC-PERP",
		Direction: DirectionFlat,
		SizeUSD:   200,
		Leverage:  1,
		Reasoning: tagStopLoss + ": pnl -12.00% breached stop -10.00%",
		Source:    SourceRisk,
	}
	ex.Execute(context.Background(), sig, state, SignalContext{})

	// A product closed this cycle must not be re-entered next tick.
	if active, _ := cooldowns.Active("BTC-PERP"); !active {
		t.Error("Expected cooldown marked after close")
	}
}

func TestExecutor_FailedCloseLeavesCooldownUntouched(t *testing.T) {
	client := &mockVenueClient{closeResult: &venue.OrderResult{Success: false, FailureReason: "venue rejected"}}
	ex, cooldowns := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 200})
	sig := Signal{Product: "BTC-PERP", Direction: DirectionFlat, SizeUSD: 200, Leverage: 1, Source: SourceRisk}
	ex.Execute(context.Background(), sig, state, SignalContext{})

	if active, _ := cooldowns.Active("BTC-PERP"); active {
		t.Error("Failed close must not start a cooldown")
	}
}

func TestExecutor_PartialCloseIsReduce(t *testing.T) {
	client := &mockVenueClient{closeResult: okOrder("ord-6")}
	ex, _ := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "ETH-PERP", Side: venue.SideShort, NotionalUSD: 400})
	sig := Signal{Product: "ETH-PERP", Direction: DirectionFlat, SizeUSD: 150, Leverage: 1, Source: SourceTechnical}
	records := ex.Execute(context.Background(), sig, state, SignalContext{})

	if records[0].Action != ActionReduce {
		t.Errorf("Expected REDUCE, got %s", records[0].Action)
	}
	if client.closeCalls[0].SizeUSD != 150 {
		t.Errorf("Expected partial close of 150, got %.2f", client.closeCalls[0].SizeUSD)
	}
}

// ============================================================================
// TEST: Flip
// ============================================================================

func TestExecutor_FlipClosesThenOpens(t *testing.T) {
	client := &mockVenueClient{
		closeResult: &venue.OrderResult{OrderID: "ord-7", Success: true, FillPrice: 90, RealizedPnL: 20},
		openResult:  okOrder("ord-8"),
		state:       flatPortfolio(1000), // re-check sees the product flat
	}
	ex, _ := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 300})
	sig := Signal{Product: "BTC-PERP", Direction: DirectionShort, SizeUSD: 100, Leverage: 2, Reasoning: "confluence -50"}
	records := ex.Execute(context.Background(), sig, state, SignalContext{})

	if len(records) != 2 {
		t.Fatalf("Expected close and open records, got %d", len(records))
	}
	if records[0].Action != ActionCloseLong {
		t.Errorf("Expected CLOSE_LONG leg, got %s", records[0].Action)
	}
	if !strings.HasPrefix(records[0].Reasoning, "Flip to SHORT") {
		t.Errorf("Expected flip reasoning on close leg, got %q", records[0].Reasoning)
	}
	if records[1].Action != ActionOpenShort {
		t.Errorf("Expected OPEN_SHORT leg, got %s", records[1].Action)
	}
	if client.stateCalls != 1 {
		t.Errorf("Expected one portfolio re-check between legs, got %d", client.stateCalls)
	}
}

func TestExecutor_FlipSkipsOpenWhenCloseFails(t *testing.T) {
	client := &mockVenueClient{
		closeResult: &venue.OrderResult{Success: false, FailureReason: "venue rejected"},
	}
	ex, _ := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 300})
	sig := Signal{Product: "BTC-PERP", Direction: DirectionShort, SizeUSD: 100, Leverage: 1}
	records := ex.Execute(context.Background(), sig, state, SignalContext{})

	if len(records) != 1 {
		t.Fatalf("Expected only the failed close leg, got %d records", len(records))
	}
	if records[0].Success {
		t.Error("Expected close leg marked failed")
	}
	if len(client.openCalls) != 0 {
		t.Error("Expected no open leg after failed close")
	}
}

func TestExecutor_FlipSkipsOpenWhenStillNotFlat(t *testing.T) {
	client := &mockVenueClient{
		closeResult: okOrder("ord-9"),
		// Re-check still shows the position open.
		state: portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 300}),
	}
	ex, _ := newTestExecutor(client, &memorySink{})

	state := portfolioWith(venue.Position{Symbol: "BTC-PERP", Side: venue.SideLong, NotionalUSD: 300})
	sig := Signal{Product: "BTC-PERP", Direction: DirectionShort, SizeUSD: 100, Leverage: 1}
	records := ex.Execute(context.Background(), sig, state, SignalContext{})

	if len(records) != 1 {
		t.Fatalf("Expected only the close leg, got %d records", len(records))
	}
	if len(client.openCalls) != 0 {
		t.Error("Expected open leg refused while position persists")
	}
	// The close leg executed, so the cooldown starts even without an open leg.
	if active, _ := ex.cooldowns.Active("BTC-PERP"); !active {
		t.Error("Expected cooldown marked by the close leg")
	}
}

// ============================================================================
// TEST: Venue failures
// ============================================================================

func TestExecutor_VenueErrorProducesFailedRecord(t *testing.T) {
	client := &mockVenueClient{openErr: errors.New("connection reset")}
	sink := &memorySink{}
	ex, cooldowns := newTestExecutor(client, sink)

	sig := Signal{Product: "BTC-PERP", Direction: DirectionLong, SizeUSD: 100, Leverage: 1}
	records := ex.Execute(context.Background(), sig, flatPortfolio(1000), SignalContext{})

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Success {
		t.Error("Expected failed record")
	}
	if records[0].Error != "connection reset" {
		t.Errorf("Expected error text, got %q", records[0].Error)
	}
	if active, _ := cooldowns.Active("BTC-PERP"); active {
		t.Error("Failed entry must not start a cooldown")
	}
	// Failures still reach the ledger.
	if len(sink.records) != 1 {
		t.Errorf("Expected failed record in ledger, got %d", len(sink.records))
	}
}

func TestExecutor_LongErrorTextTruncated(t *testing.T) {
	client := &mockVenueClient{openErr: errors.New(strings.Repeat("x", 500))}
	ex, _ := newTestExecutor(client, &memorySink{})

	sig := Signal{Product: "BTC-PERP", Direction: DirectionLong, SizeUSD: 100, Leverage: 1}
	records := ex.Execute(context.Background(), sig, flatPortfolio(1000), SignalContext{})

	if len(records[0].Error) != maxErrorLen {
		t.Errorf("Expected error truncated to %d chars, got %d", maxErrorLen, len(records[0].Error))
	}
}

func TestExecutor_HoldNeverReachesVenue(t *testing.T) {
	client := &mockVenueClient{}
	ex, _ := newTestExecutor(client, &memorySink{})

	sig := Signal{Product: "BTC-PERP", Direction: DirectionHold, SizeUSD: 100, Leverage: 1}
	records := ex.Execute(context.Background(), sig, flatPortfolio(1000), SignalContext{})

	if len(records) != 0 || len(client.openCalls) != 0 || len(client.closeCalls) != 0 {
		t.Error("HOLD must be a no-op")
	}
}
