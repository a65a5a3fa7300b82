package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"goalmarket/internal/config"
	"goalmarket/internal/metrics"
	"goalmarket/internal/models"
	"goalmarket/internal/store"
)

// defaultRoster names the agents auto-seeded on first auction.
var defaultRoster = []string{"Alice", "Bob", "Charlie", "Diana", "Eve"}

// Engine is the market event dispatcher. Intake operations persist the
// entity and enqueue a background auction; auctions for the same goal
// are serialized, auctions for distinct goals run concurrently.
type Engine struct {
	store    store.Store
	cfg      config.MarketConfig
	locks    *agentLocks
	debater  *Debater
	settler  *Settler
	resolver *Resolver

	mu        sync.Mutex
	goalLocks map[int]*sync.Mutex
	wg        sync.WaitGroup
}

// NewEngine wires the market pipeline.
func NewEngine(st store.Store, orc Oracle, cfg config.MarketConfig) *Engine {
	if cfg.NumAgents <= 0 {
		cfg.NumAgents = 3
	}
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = 1000
	}

	locks := newAgentLocks()
	prompts := NewPromptBuilder(cfg.MemoMaxRunes)

	return &Engine{
		store:     st,
		cfg:       cfg,
		locks:     locks,
		debater:   NewDebater(st, orc, prompts, locks),
		settler:   NewSettler(st, locks),
		resolver:  NewResolver(st, locks),
		goalLocks: make(map[int]*sync.Mutex),
	}
}

// CreateGoal persists a new goal and enqueues its opening auction.
// targetDate is an ISO calendar date.
func (e *Engine) CreateGoal(ctx context.Context, description, measurement, targetDate string) (*models.Goal, error) {
	id, err := e.store.NextID(ctx, "goal")
	if err != nil {
		return nil, err
	}

	if measurement != "" {
		description = fmt.Sprintf("%s. Success is measured by: %s", description, measurement)
	}

	goal := &models.Goal{
		ID:          id,
		Description: description,
		TargetDate:  targetDate,
		CreatedAt:   time.Now().UTC(),
		Status:      models.GoalStatusActive,
		Payout:      models.PayoutAmount,
	}
	if err := e.store.SaveGoal(ctx, goal); err != nil {
		return nil, err
	}

	e.EnqueueAuction(goal.ID, 0)
	return goal, nil
}

// CreateUpdate persists a progress update against an active goal and
// enqueues a trading round.
func (e *Engine) CreateUpdate(ctx context.Context, goalID int, content, date string) (*models.GoalUpdate, error) {
	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.Resolved() {
		return nil, models.ErrAlreadyResolved
	}

	id, err := e.store.NextID(ctx, "update")
	if err != nil {
		return nil, err
	}

	update := &models.GoalUpdate{
		ID:        id,
		GoalID:    goalID,
		Content:   content,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveUpdate(ctx, update); err != nil {
		return nil, err
	}

	e.EnqueueAuction(goalID, update.ID)
	return update, nil
}

// ResolveGoal resolves the goal synchronously. Resolution must be
// visible to the caller, so it never runs in the background.
func (e *Engine) ResolveGoal(ctx context.Context, goalID int, outcome string) (*models.Goal, error) {
	return e.resolver.Resolve(ctx, goalID, outcome)
}

// CreateAgent registers a market participant. A zero cash balance
// takes the configured starting cash.
func (e *Engine) CreateAgent(ctx context.Context, name string, cashBalance float64) (*models.Agent, error) {
	id, err := e.store.NextID(ctx, "agent")
	if err != nil {
		return nil, err
	}
	if cashBalance == 0 {
		cashBalance = e.cfg.StartingCash
	}
	agent := &models.Agent{
		ID:          id,
		Name:        name,
		CashBalance: cashBalance,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// EnqueueAuction starts the auction for (goalID, updateID) in the
// background. The HTTP response does not wait for it, and request
// cancellation does not cancel it.
func (e *Engine) EnqueueAuction(goalID, updateID int) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.RunAuction(context.Background(), goalID, updateID); err != nil {
			log.Error().
				Err(err).
				Int("goal_id", goalID).
				Int("update_id", updateID).
				Msg("Auction failed")
		}
	}()
}

// Wait blocks until all enqueued auctions have completed. Used during
// shutdown and by tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// goalLock returns the serialization lock for one goal's auctions.
func (e *Engine) goalLock(goalID int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.goalLocks[goalID]
	if !ok {
		lock = &sync.Mutex{}
		e.goalLocks[goalID] = lock
	}
	return lock
}

// RunAuction executes one full market event: roster check, parallel
// debate, matching, settlement. An event with zero spreads concludes
// with no trades and no price update. Best-effort: failures are logged
// by the caller and never retried.
func (e *Engine) RunAuction(ctx context.Context, goalID, updateID int) error {
	lock := e.goalLock(goalID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		metrics.AuctionDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal.Resolved() {
		log.Warn().Int("goal_id", goalID).Msg("Skipping auction for resolved goal")
		return nil
	}

	if err := e.ensureRoster(ctx); err != nil {
		return err
	}

	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return err
	}

	var update *models.GoalUpdate
	var history []*models.GoalUpdate
	if updateID != 0 {
		update, err = e.store.GetUpdate(ctx, updateID)
		if err != nil {
			return err
		}
		history, err = e.store.ListUpdatesByGoal(ctx, goalID)
		if err != nil {
			return err
		}
	}

	_, spreads, err := e.debater.Run(ctx, goal, update, history, agents)
	if err != nil {
		return err
	}

	mode := metrics.ModeTrading
	if updateID == 0 {
		mode = metrics.ModeInitial
	}
	defer metrics.AuctionsTotal.WithLabelValues(mode).Inc()

	if len(spreads) == 0 {
		log.Warn().
			Int("goal_id", goalID).
			Int("update_id", updateID).
			Msg("Auction empty, no spreads collected")
		return nil
	}

	matches := MatchSpreads(spreads, updateID == 0)
	_, _, err = e.settler.SettleEvent(ctx, goalID, updateID, matches, spreads)
	return err
}

// ensureRoster seeds named agents with starting cash until the
// configured roster size is reached.
func (e *Engine) ensureRoster(ctx context.Context) error {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return err
	}
	for i := len(agents); i < e.cfg.NumAgents && i < len(defaultRoster); i++ {
		agent, err := e.CreateAgent(ctx, defaultRoster[i], e.cfg.StartingCash)
		if err != nil {
			return err
		}
		log.Info().
			Int("agent_id", agent.ID).
			Str("name", agent.Name).
			Float64("cash", agent.CashBalance).
			Msg("Seeded agent")
	}
	return nil
}
