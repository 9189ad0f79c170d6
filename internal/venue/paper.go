package venue

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// PaperClient implements the Client interface in-memory for paper trading and
// tests. Fills are immediate at the provided mark price; margin accounting is
// simplified to notional/leverage.
type PaperClient struct {
	mu            sync.RWMutex
	positions     map[string]*Position
	buyingPower   float64
	nextOrderID   int64
	priceProvider func(symbol string) float64
}

// NewPaperClient creates a paper venue with an initial buying power. The
// price provider supplies mark prices; nil falls back to a flat $100 tape.
func NewPaperClient(initialBuyingPower float64, priceProvider func(symbol string) float64) *PaperClient {
	if priceProvider == nil {
		priceProvider = func(string) float64 { return 100 }
	}
	return &PaperClient{
		positions:     make(map[string]*Position),
		buyingPower:   initialBuyingPower,
		nextOrderID:   1000,
		priceProvider: priceProvider,
	}
}

// SetPriceProvider swaps the mark price source. Intended for tests that need
// to move the tape.
func (c *PaperClient) SetPriceProvider(p func(symbol string) float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priceProvider = p
}

func (c *PaperClient) GetPortfolioState(ctx context.Context) (*PortfolioState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make([]Position, 0, len(c.positions))
	marginUsed := 0.0
	totalUPnL := 0.0
	for _, pos := range c.positions {
		mark := c.priceProvider(pos.Symbol)
		pos.MarkPrice = mark
		qty := pos.NotionalUSD / pos.EntryPrice
		if pos.Side == SideLong {
			pos.UnrealizedPnL = (mark - pos.EntryPrice) * qty
		} else {
			pos.UnrealizedPnL = (pos.EntryPrice - mark) * qty
		}
		marginUsed += pos.NotionalUSD / float64(pos.Leverage)
		totalUPnL += pos.UnrealizedPnL
		positions = append(positions, *pos)
	}

	return &PortfolioState{
		AvailableBuyingPower: c.buyingPower,
		TotalMarginUsed:      marginUsed,
		TotalUnrealizedPnL:   totalUPnL,
		OpenPositionCount:    len(positions),
		Positions:            positions,
		FetchedAt:            time.Now(),
	}, nil
}

func (c *PaperClient) OpenOrAddPosition(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Leverage < 1 {
		req.Leverage = 1
	}
	mark := c.priceProvider(req.Symbol)

	notional := req.SizeUSD
	if req.Contracts > 0 {
		// Commodity future sized in contracts; approximate one contract as
		// one unit of mark price worth of notional.
		notional = float64(req.Contracts) * mark
	}
	if notional <= 0 {
		return &OrderResult{Success: false, FailureReason: "order size must be positive"}, nil
	}

	margin := notional / float64(req.Leverage)
	if margin > c.buyingPower {
		return &OrderResult{Success: false, FailureReason: ErrInsufficientFunds.Error()}, nil
	}

	existing, ok := c.positions[req.Symbol]
	if ok && existing.Side != req.Side {
		return &OrderResult{Success: false, FailureReason: "opposite position open, close it first"}, nil
	}

	if ok {
		// Weighted average entry on adds.
		oldQty := existing.NotionalUSD / existing.EntryPrice
		addQty := notional / mark
		existing.EntryPrice = (existing.EntryPrice*oldQty + mark*addQty) / (oldQty + addQty)
		existing.NotionalUSD += notional
		existing.Leverage = req.Leverage
	} else {
		liq := liquidationEstimate(req.Side, mark, req.Leverage)
		c.positions[req.Symbol] = &Position{
			Symbol:           req.Symbol,
			Side:             req.Side,
			EntryPrice:       mark,
			MarkPrice:        mark,
			LiquidationPrice: liq,
			NotionalUSD:      notional,
			Leverage:         req.Leverage,
			SubVenue:         subVenueFor(req.Symbol),
		}
	}
	c.buyingPower -= margin

	c.nextOrderID++
	return &OrderResult{
		OrderID:   fmt.Sprintf("paper-%d", c.nextOrderID),
		Success:   true,
		FillPrice: mark,
	}, nil
}

func (c *PaperClient) ClosePosition(ctx context.Context, symbol string, sizeUSD float64) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[symbol]
	if !ok {
		return nil, ErrNoPosition
	}

	mark := c.priceProvider(symbol)
	closeNotional := pos.NotionalUSD
	if sizeUSD > 0 && sizeUSD < pos.NotionalUSD {
		closeNotional = sizeUSD
	}

	qty := closeNotional / pos.EntryPrice
	var pnl float64
	if pos.Side == SideLong {
		pnl = (mark - pos.EntryPrice) * qty
	} else {
		pnl = (pos.EntryPrice - mark) * qty
	}

	// Release margin plus realized pnl.
	c.buyingPower += closeNotional/float64(pos.Leverage) + pnl

	if closeNotional >= pos.NotionalUSD {
		delete(c.positions, symbol)
	} else {
		pos.NotionalUSD -= closeNotional
	}

	c.nextOrderID++
	return &OrderResult{
		OrderID:     fmt.Sprintf("paper-%d", c.nextOrderID),
		Success:     true,
		FillPrice:   mark,
		RealizedPnL: pnl,
	}, nil
}

// liquidationEstimate is a rough cross-margin liquidation price, good enough
// for buffer checks in paper mode.
func liquidationEstimate(side PositionSide, entry float64, leverage int) float64 {
	if leverage <= 1 {
		return 0
	}
	move := entry / float64(leverage)
	if side == SideLong {
		return math.Max(entry-move*0.95, 0)
	}
	return entry + move*0.95
}

func subVenueFor(symbol string) SubVenue {
	if strings.HasSuffix(symbol, "-FUT") {
		return SubVenueFutures
	}
	return SubVenuePerps
}

var _ Client = (*PaperClient)(nil)
