package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"goalmarket/internal/metrics"
	"goalmarket/internal/models"
	"goalmarket/internal/store"
)

// agentLocks hands out one mutex per agent id. Settlement holds an
// agent's lock for the duration of its load-modify-save so that
// concurrent auctions on different goals cannot interleave writes to a
// shared agent.
type agentLocks struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func newAgentLocks() *agentLocks {
	return &agentLocks{locks: make(map[int]*sync.Mutex)}
}

func (l *agentLocks) get(agentID int) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[agentID] = lock
	}
	return lock
}

// lockPair acquires both parties' locks in id order to avoid deadlock
// between concurrent settlements. A self-match locks once.
func (l *agentLocks) lockPair(a, b int) func() {
	if a == b {
		lock := l.get(a)
		lock.Lock()
		return lock.Unlock
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	firstLock, secondLock := l.get(first), l.get(second)
	firstLock.Lock()
	secondLock.Lock()
	return func() {
		secondLock.Unlock()
		firstLock.Unlock()
	}
}

// Settler applies matched trades to agent balances and records the
// event's audit trail. It is the only mutator of agent cash and
// holdings during trading.
type Settler struct {
	store store.Store
	locks *agentLocks
}

// NewSettler creates a settler sharing the given lock registry.
func NewSettler(st store.Store, locks *agentLocks) *Settler {
	return &Settler{store: st, locks: locks}
}

// SettleEvent settles the matched trades in emission order, marks the
// goal with the mean trade price, refreshes the goal's informational
// token supply, and appends one history entry per stored spread. It
// returns the recorded trades and the discovered market price (nil
// when nothing traded).
func (s *Settler) SettleEvent(ctx context.Context, goalID, updateID int, matches []MatchedTrade, spreads []models.AgentSpread) ([]*models.Trade, *float64, error) {
	trades := make([]*models.Trade, 0, len(matches))

	for _, match := range matches {
		trade, err := s.settleTrade(ctx, goalID, updateID, match)
		if err != nil {
			return trades, nil, err
		}
		trades = append(trades, trade)
		metrics.TradesTotal.Inc()
		metrics.TradePriceDollars.Observe(trade.Price)
	}

	var marketPrice *float64
	if len(trades) > 0 {
		sum := 0.0
		for _, t := range trades {
			sum += t.Price
		}
		mean := sum / float64(len(trades))
		marketPrice = &mean

		goal, err := s.store.GetGoal(ctx, goalID)
		if err != nil {
			return trades, nil, fmt.Errorf("failed to load goal %d for price mark: %w", goalID, err)
		}
		goal.BasePrice = &mean
		if err := s.store.SaveGoal(ctx, goal); err != nil {
			return trades, nil, err
		}

		if err := s.refreshTokenSupply(ctx, goalID); err != nil {
			// Informational only; log and continue.
			log.Warn().Err(err).Int("goal_id", goalID).Msg("Failed to refresh token supply")
		}

		log.Info().
			Int("goal_id", goalID).
			Int("update_id", updateID).
			Int("trades", len(trades)).
			Float64("market_price", mean).
			Msg("Event settled")
	}

	// Every quoted spread enters the agent's prediction history,
	// whether or not it traded.
	now := time.Now().UTC()
	for _, spread := range spreads {
		entry := &models.AgentHistoryEntry{
			GoalID:      goalID,
			UpdateID:    updateID,
			BuyPrice:    spread.BuyPrice,
			SellPrice:   spread.SellPrice,
			MarketPrice: marketPrice,
			CreatedAt:   now,
		}
		if err := s.store.AppendAgentHistory(ctx, spread.AgentID, entry); err != nil {
			return trades, marketPrice, err
		}
	}

	return trades, marketPrice, nil
}

// settleTrade performs the four-step settlement for one match inside
// the parties' critical section: debit/credit cash, transfer tokens,
// save both agents, then record the trade.
func (s *Settler) settleTrade(ctx context.Context, goalID, updateID int, match MatchedTrade) (*models.Trade, error) {
	unlock := s.locks.lockPair(match.BuyerAgentID, match.SellerAgentID)
	defer unlock()

	buyer, err := s.store.GetAgent(ctx, match.BuyerAgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer %d: %w", match.BuyerAgentID, err)
	}

	seller := buyer
	if match.SellerAgentID != match.BuyerAgentID {
		seller, err = s.store.GetAgent(ctx, match.SellerAgentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load seller %d: %w", match.SellerAgentID, err)
		}
	}

	cost := match.Price * match.Quantity
	buyer.CashBalance -= cost
	seller.CashBalance += cost
	buyer.AddHolding(goalID, match.Quantity)
	seller.AddHolding(goalID, -match.Quantity)

	if err := s.store.SaveAgent(ctx, buyer); err != nil {
		return nil, err
	}
	if seller != buyer {
		if err := s.store.SaveAgent(ctx, seller); err != nil {
			return nil, err
		}
	}

	id, err := s.store.NextID(ctx, "trade")
	if err != nil {
		return nil, err
	}

	trade := &models.Trade{
		ID:            id,
		GoalID:        goalID,
		UpdateID:      updateID,
		BuyerAgentID:  match.BuyerAgentID,
		SellerAgentID: match.SellerAgentID,
		Price:         match.Price,
		Quantity:      match.Quantity,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.AppendTrade(ctx, trade); err != nil {
		return nil, err
	}

	log.Debug().
		Int("trade_id", id).
		Int("buyer", match.BuyerAgentID).
		Int("seller", match.SellerAgentID).
		Float64("price", match.Price).
		Msg("Trade settled")

	return trade, nil
}

// refreshTokenSupply stores the goal's gross long interest. The value
// is informational and never enforced as a cap.
func (s *Settler) refreshTokenSupply(ctx context.Context, goalID int) error {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return err
	}
	supply := 0.0
	for _, agent := range agents {
		if pos := agent.Holding(goalID); pos > 0 {
			supply += pos
		}
	}
	return s.store.SetTokenSupply(ctx, goalID, int(supply))
}
