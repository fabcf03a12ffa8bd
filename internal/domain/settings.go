package domain

// Settings holds the read-mostly trading parameters. The monitor and the
// ingestion pipeline read a snapshot each cycle; changes take effect on the
// next evaluation cycle, never retroactively.
type Settings struct {
	InvestmentSOL   float64          `json:"investment_sol"`    // SOL spent per buy
	MaxSlippageBps  int              `json:"max_slippage_bps"`  // slippage bound in basis points
	TakeProfitRules []TakeProfitRule `json:"take_profit_rules"` // sorted ascending by threshold
	DedupWindowMs   int64            `json:"dedup_window_ms"`   // repeat-sighting suppression window
	MonitorMs       int64            `json:"monitor_ms"`        // take-profit polling interval
	RetryFailedTP   bool             `json:"retry_failed_tp"`   // re-arm a rule whose sell failed
}
