package domain

// TradeEvent is an append-only audit record of position lifecycle activity.
// Corresponds to the trade_events table in ClickHouse.
type TradeEvent struct {
	EventID     string  // unique event identifier (UUID)
	Address     string  // token mint address
	EventType   string  // see TradeEvent* constants
	Side        Side    // BUY or SELL, empty for non-trade events
	Quantity    float64 // token quantity bought or sold
	Price       float64 // SOL per token at fill
	AmountSOL   float64 // SOL spent (buy) or received (sell)
	RuleIndex   *int    // take-profit rule that triggered a sell (nullable)
	TxSignature string  // on-chain transaction signature, empty on failure
	Reason      string  // failure reason for TRADE_FAILED events
	OccurredAt  int64   // Unix timestamp in milliseconds
}

// Trade event types.
const (
	TradeEventPositionOpened = "POSITION_OPENED"
	TradeEventPartialSell    = "PARTIAL_SELL"
	TradeEventPositionClosed = "POSITION_CLOSED"
	TradeEventTradeFailed    = "TRADE_FAILED"
)
