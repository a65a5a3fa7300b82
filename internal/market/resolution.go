package market

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"goalmarket/internal/metrics"
	"goalmarket/internal/models"
	"goalmarket/internal/store"
)

// Resolver pays out open positions when a goal resolves. It is the
// only mutator of agent balances during resolution.
type Resolver struct {
	store store.Store
	locks *agentLocks
}

// NewResolver creates a resolver sharing the settlement lock registry.
func NewResolver(st store.Store, locks *agentLocks) *Resolver {
	return &Resolver{store: st, locks: locks}
}

// Resolve marks the goal resolved with the outcome and settles every
// open position against the fixed payout: on success longs receive
// payout per token and shorts pay it; on failure the transfer runs the
// other way. Positions are zeroed. Resolving an already-resolved goal
// or passing an unknown outcome fails without touching any balance.
func (r *Resolver) Resolve(ctx context.Context, goalID int, outcome string) (*models.Goal, error) {
	goal, err := r.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}

	if err := goal.Resolve(outcome); err != nil {
		return nil, err
	}

	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		if err := r.payout(ctx, agent.ID, goalID, outcome); err != nil {
			return nil, err
		}
	}

	if err := r.store.SaveGoal(ctx, goal); err != nil {
		return nil, err
	}

	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	log.Info().
		Int("goal_id", goalID).
		Str("outcome", outcome).
		Msg("Goal resolved")

	return goal, nil
}

// payout settles one agent's position inside its critical section.
// The agent is re-read under the lock so a concurrent trading
// settlement on another goal cannot be lost.
func (r *Resolver) payout(ctx context.Context, agentID, goalID int, outcome string) error {
	lock := r.locks.get(agentID)
	lock.Lock()
	defer lock.Unlock()

	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("failed to load agent %d for payout: %w", agentID, err)
	}

	pos := agent.Holding(goalID)
	if pos == 0 {
		return nil
	}

	delta := pos * models.PayoutAmount
	if outcome == models.OutcomeFailure {
		delta = -delta
	}
	agent.CashBalance += delta
	agent.SetHolding(goalID, 0)

	if err := r.store.SaveAgent(ctx, agent); err != nil {
		return err
	}

	log.Debug().
		Int("agent_id", agentID).
		Int("goal_id", goalID).
		Float64("position", pos).
		Float64("payout", delta).
		Msg("Position paid out")

	return nil
}
