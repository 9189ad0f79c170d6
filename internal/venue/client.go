package venue

import (
	"context"
	"errors"
)

// Client is the venue-facing surface the engine depends on. The engine treats
// every call as an atomic request/response: retry and backoff live inside the
// implementation, never in the engine.
type Client interface {
	// GetPortfolioState fetches the full account snapshot, merged across
	// sub-venues.
	GetPortfolioState(ctx context.Context) (*PortfolioState, error)

	// OpenOrAddPosition opens a new position or adds to an existing one on
	// the same side.
	OpenOrAddPosition(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// ClosePosition reduces or closes the position for a symbol. sizeUSD of 0
	// closes the full position.
	ClosePosition(ctx context.Context, symbol string, sizeUSD float64) (*OrderResult, error)
}

var (
	// ErrNoPosition is returned by ClosePosition when the symbol has no open
	// position on the venue.
	ErrNoPosition = errors.New("venue: no open position for symbol")

	// ErrInsufficientFunds is returned when the venue rejects an order for
	// lack of buying power.
	ErrInsufficientFunds = errors.New("venue: insufficient buying power")
)
