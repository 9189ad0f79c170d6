package venue

import "time"

// PositionSide represents the direction of an open position
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// SubVenue identifies which sub-venue a position lives on. Regulated futures
// and international perpetuals settle separately but are merged into one
// portfolio snapshot.
type SubVenue string

const (
	SubVenueFutures SubVenue = "FUTURES"
	SubVenuePerps   SubVenue = "PERPS"
)

// Position is a venue-owned open position. It is read-only to the engine:
// it changes only through successful order execution on the venue side and
// is re-fetched, never mutated locally.
type Position struct {
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	EntryPrice       float64      `json:"entry_price"`
	MarkPrice        float64      `json:"mark_price"`
	LiquidationPrice float64      `json:"liquidation_price"` // 0 when the venue does not report one
	NotionalUSD      float64      `json:"notional_usd"`
	UnrealizedPnL    float64      `json:"unrealized_pnl"`
	Leverage         int          `json:"leverage"`
	SubVenue         SubVenue     `json:"sub_venue"`
}

// PortfolioState is an aggregate snapshot of the account, merged across
// sub-venues. It is rebuilt from scratch on every refresh and never
// partially patched.
type PortfolioState struct {
	AvailableBuyingPower float64    `json:"available_buying_power"`
	TotalMarginUsed      float64    `json:"total_margin_used"`
	TotalUnrealizedPnL   float64    `json:"total_unrealized_pnl"`
	OpenPositionCount    int        `json:"open_position_count"`
	Positions            []Position `json:"positions"`
	FetchedAt            time.Time  `json:"fetched_at"`
}

// PositionFor returns the open position for a symbol, or nil.
func (ps *PortfolioState) PositionFor(symbol string) *Position {
	if ps == nil {
		return nil
	}
	for i := range ps.Positions {
		if ps.Positions[i].Symbol == symbol {
			return &ps.Positions[i]
		}
	}
	return nil
}

// TotalExposure returns the sum of absolute position notionals.
func (ps *PortfolioState) TotalExposure() float64 {
	if ps == nil {
		return 0
	}
	total := 0.0
	for _, p := range ps.Positions {
		n := p.NotionalUSD
		if n < 0 {
			n = -n
		}
		total += n
	}
	return total
}

// OrderRequest describes an open-or-add order. Perpetuals are sized by USD
// notional; commodity futures by whole contract count.
type OrderRequest struct {
	Symbol    string       `json:"symbol"`
	Side      PositionSide `json:"side"`
	SizeUSD   float64      `json:"size_usd,omitempty"`
	Contracts int          `json:"contracts,omitempty"`
	Leverage  int          `json:"leverage"`
}

// OrderResult is the venue's response to an order call.
type OrderResult struct {
	OrderID       string  `json:"order_id"`
	Success       bool    `json:"success"`
	FailureReason string  `json:"failure_reason,omitempty"`
	FillPrice     float64 `json:"fill_price,omitempty"`
	RealizedPnL   float64 `json:"realized_pnl,omitempty"` // Set on closes
}
