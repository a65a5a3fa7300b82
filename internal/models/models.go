package models

import (
	"errors"
	"strconv"
	"time"
)

// Goal lifecycle states.
const (
	GoalStatusActive   = "active"
	GoalStatusResolved = "resolved"
)

// Resolution outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PayoutAmount is what one success token pays when a goal resolves to
// success. Fixed for every goal.
const PayoutAmount = 100.0

var (
	ErrAlreadyResolved = errors.New("goal already resolved")
	ErrInvalidOutcome  = errors.New("outcome must be success or failure")
)

// Goal is a user-declared objective that agents trade success tokens on.
type Goal struct {
	ID          int       `json:"id"`
	Description string    `json:"description"`
	TargetDate  string    `json:"target_date"` // ISO calendar date
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
	Outcome     string    `json:"outcome,omitempty"`
	Payout      float64   `json:"payout"`
	// BasePrice is the last discovered market price, nil until the
	// first auction produces trades.
	BasePrice *float64 `json:"base_price,omitempty"`
}

// Resolved reports whether the goal has been resolved.
func (g *Goal) Resolved() bool {
	return g.Status == GoalStatusResolved
}

// Resolve marks the goal resolved with the given outcome.
func (g *Goal) Resolve(outcome string) error {
	if g.Resolved() {
		return ErrAlreadyResolved
	}
	if outcome != OutcomeSuccess && outcome != OutcomeFailure {
		return ErrInvalidOutcome
	}
	g.Status = GoalStatusResolved
	g.Outcome = outcome
	return nil
}

// GoalUpdate is a user progress report against an active goal.
type GoalUpdate struct {
	ID        int       `json:"id"`
	GoalID    int       `json:"goal_id"`
	Content   string    `json:"content"`
	Date      string    `json:"date"` // reporting date, YYYY-MM-DD
	CreatedAt time.Time `json:"created_at"`
}

// Agent is an autonomous market participant. Token holdings are keyed
// by the decimal string form of the goal id so that stored records stay
// compatible with the JSON-object serialization of older dumps.
type Agent struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	CashBalance float64 `json:"cash_balance"`
	// TokenHoldings maps goal id (as string) to a signed token count:
	// positive = long, negative = short.
	TokenHoldings map[string]float64 `json:"token_holdings"`
	// AnalysisMemos maps goal id (as string) to the agent's latest
	// free-text opinion on that goal.
	AnalysisMemos map[string]string `json:"analysis_memos,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Holding returns the agent's signed token position on a goal.
func (a *Agent) Holding(goalID int) float64 {
	if a.TokenHoldings == nil {
		return 0
	}
	return a.TokenHoldings[strconv.Itoa(goalID)]
}

// SetHolding sets the agent's position on a goal, pruning zeroes.
func (a *Agent) SetHolding(goalID int, tokens float64) {
	key := strconv.Itoa(goalID)
	if tokens == 0 {
		delete(a.TokenHoldings, key)
		return
	}
	if a.TokenHoldings == nil {
		a.TokenHoldings = make(map[string]float64)
	}
	a.TokenHoldings[key] = tokens
}

// AddHolding adjusts the agent's position on a goal by delta.
func (a *Agent) AddHolding(goalID int, delta float64) {
	a.SetHolding(goalID, a.Holding(goalID)+delta)
}

// Memo returns the agent's stored analysis for a goal, if any.
func (a *Agent) Memo(goalID int) string {
	if a.AnalysisMemos == nil {
		return ""
	}
	return a.AnalysisMemos[strconv.Itoa(goalID)]
}

// SetMemo stores the agent's latest analysis for a goal.
func (a *Agent) SetMemo(goalID int, memo string) {
	if a.AnalysisMemos == nil {
		a.AnalysisMemos = make(map[string]string)
	}
	a.AnalysisMemos[strconv.Itoa(goalID)] = memo
}

// NetWorth values the portfolio: cash plus long positions marked at the
// full payout, minus short liabilities at the full payout.
func (a *Agent) NetWorth() float64 {
	worth := a.CashBalance
	for _, tokens := range a.TokenHoldings {
		worth += tokens * PayoutAmount
	}
	return worth
}

// DebateMessage is one agent's contribution to a market event debate.
// UpdateID 0 denotes the initial goal-creation auction.
type DebateMessage struct {
	GoalID    int       `json:"goal_id"`
	UpdateID  int       `json:"update_id"`
	AgentID   int       `json:"agent_id"`
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentSpread is an agent's quoted maximum buy and minimum sell price
// for one market event. SellPrice is unused in initial auctions.
type AgentSpread struct {
	AgentID   int     `json:"agent_id"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
}

// Trade records a transfer of tokens from seller to buyer at a price.
type Trade struct {
	ID            int       `json:"id"`
	GoalID        int       `json:"goal_id"`
	UpdateID      int       `json:"update_id"`
	BuyerAgentID  int       `json:"buyer_agent_id"`
	SellerAgentID int       `json:"seller_agent_id"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	CreatedAt     time.Time `json:"created_at"`
}

// AgentHistoryEntry captures an agent's quote for one event alongside
// the market price the event discovered (nil when nothing traded).
type AgentHistoryEntry struct {
	GoalID      int       `json:"goal_id"`
	UpdateID    int       `json:"update_id"`
	BuyPrice    float64   `json:"buy_price"`
	SellPrice   float64   `json:"sell_price"`
	MarketPrice *float64  `json:"market_price,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
