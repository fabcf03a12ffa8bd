package domain

import "sort"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

// Position lifecycle states. OPEN transitions to CLOSED exactly once, when
// remaining quantity reaches zero or the position is force-closed.
const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// TakeProfitRule is a (profit threshold, sell fraction) pair applied at most
// once over a position's lifetime.
type TakeProfitRule struct {
	ProfitThresholdPct float64 `json:"profit_threshold_pct"` // trigger when profit reaches this percentage
	SellFraction       float64 `json:"sell_fraction"`        // fraction of remaining quantity to sell, in (0, 1]
}

// Position is the record of an open or closed holding resulting from a buy.
// Corresponds to the positions table in PostgreSQL. Positions are never
// deleted, only marked CLOSED, so the table doubles as an audit history.
type Position struct {
	PositionID        string           // unique identifier (UUID)
	Address           string           // token mint address, unique among OPEN positions
	OpenedAt          int64            // Unix timestamp in milliseconds
	ClosedAt          *int64           // set when status becomes CLOSED
	EntryPrice        float64          // SOL per token at fill
	TotalCost         float64          // SOL spent, monotonically non-decreasing
	InitialQuantity   float64          // token quantity from the buy fill
	RemainingQuantity float64          // never negative, non-increasing after open
	RealizedProceeds  float64          // SOL received from sells, non-decreasing
	TakeProfitRules   []TakeProfitRule // sorted ascending by threshold
	TriggeredRules    []int            // rule indices already triggered, sorted
	Status            PositionStatus
	SourceChannel     string // channel that produced the candidate
	EntryTxSignature  string // transaction signature of the buy fill
}

// RuleTriggered reports whether the rule at index i has already fired.
func (p *Position) RuleTriggered(i int) bool {
	for _, idx := range p.TriggeredRules {
		if idx == i {
			return true
		}
	}
	return false
}

// MarkRuleTriggered records that the rule at index i has fired.
// Idempotent: marking an already-triggered index is a no-op.
func (p *Position) MarkRuleTriggered(i int) {
	if p.RuleTriggered(i) {
		return
	}
	p.TriggeredRules = append(p.TriggeredRules, i)
	sort.Ints(p.TriggeredRules)
}

// RemainingCostBasis returns the cost attributable to the remaining quantity.
// Returns zero when the position never held anything.
func (p *Position) RemainingCostBasis() float64 {
	if p.InitialQuantity <= 0 {
		return 0
	}
	return p.TotalCost * (p.RemainingQuantity / p.InitialQuantity)
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate owned state.
func (p *Position) Clone() *Position {
	c := *p
	if p.ClosedAt != nil {
		closedAt := *p.ClosedAt
		c.ClosedAt = &closedAt
	}
	c.TakeProfitRules = append([]TakeProfitRule(nil), p.TakeProfitRules...)
	c.TriggeredRules = append([]int(nil), p.TriggeredRules...)
	return &c
}

// SortTakeProfitRules orders rules ascending by profit threshold, the order
// the monitor evaluates them in.
func SortTakeProfitRules(rules []TakeProfitRule) {
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].ProfitThresholdPct < rules[j].ProfitThresholdPct
	})
}
