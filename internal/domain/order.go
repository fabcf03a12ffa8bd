package domain

// Side is the direction of a trade order.
type Side string

// Order sides.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeOrder is an immutable swap request. Every execution attempt gets its
// own order value; retries create new attempt records, never mutations.
type TradeOrder struct {
	OrderID         string  // unique per attempt (UUID)
	Address         string  // token mint address
	Side            Side    // BUY or SELL
	RequestedAmount float64 // SOL for BUY, token quantity for SELL
	MaxSlippageBps  int     // slippage bound in basis points
	CreatedAt       int64   // Unix timestamp in milliseconds
}
