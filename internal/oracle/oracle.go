// Package oracle defines the swap route/price oracle consumed by the trade
// executor and the position monitor, and its Jupiter implementation.
package oracle

import (
	"context"
	"errors"

	"solana-sniper/internal/domain"
)

// Execution errors surfaced by oracle implementations. The executor decides
// retryability from these: ErrNoRoute, ErrSlippageExceeded and
// ErrInsufficientBalance are final, everything else is eligible for retry.
var (
	// ErrNoRoute means no viable swap path exists for the token.
	ErrNoRoute = errors.New("no viable route")

	// ErrStaleQuote means the route expired before submission. Retryable
	// with a fresh quote.
	ErrStaleQuote = errors.New("stale quote")

	// ErrSlippageExceeded means the fill would violate the slippage bound.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrInsufficientBalance means the wallet cannot cover the order.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// IsRetryable reports whether an execution error is transient. Timeouts,
// network failures and stale quotes are retryable; validation and economic
// failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoRoute) ||
		errors.Is(err, ErrSlippageExceeded) ||
		errors.Is(err, ErrInsufficientBalance) {
		return false
	}
	return true
}

// Route is an externally-supplied execution path and expected price for a
// swap. Payload carries the raw quote for submission; the parsed fields are
// what the executor reasons about.
type Route struct {
	Address     string      // token mint address
	Side        domain.Side // BUY or SELL
	InAmount    float64     // SOL for BUY, token quantity for SELL
	OutAmount   float64     // expected token quantity for BUY, SOL for SELL
	Price       float64     // expected SOL per token
	SlippageBps int
	Payload     []byte // raw quote response, opaque to callers
}

// Fill is the confirmed result of a submitted route.
type Fill struct {
	TxSignature string
	Quantity    float64 // token quantity bought or sold
	AmountSOL   float64 // SOL spent (BUY) or received (SELL)
	Price       float64 // SOL per token actually paid
}

// SwapOracle quotes routes, submits orders and reports current prices.
// Implementations must honor context cancellation on every call.
type SwapOracle interface {
	// Quote returns a route for swapping amount (SOL for BUY, token
	// quantity for SELL) against the token. Returns ErrNoRoute when no
	// path exists.
	Quote(ctx context.Context, address string, amount float64, side domain.Side, slippageBps int) (*Route, error)

	// Submit executes a previously quoted route and returns the fill.
	Submit(ctx context.Context, route *Route) (*Fill, error)

	// PriceOf returns the current price of the token in SOL.
	PriceOf(ctx context.Context, address string) (float64, error)
}
