package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"goalmarket/internal/metrics"
	"goalmarket/internal/models"
	"goalmarket/internal/oracle"
	"goalmarket/internal/store"
)

// Oracle is the reasoning backend the debate consults. Any error means
// the agent abstains from the current event.
type Oracle interface {
	Ask(ctx context.Context, messages []oracle.Message, opts *oracle.AskOptions) (string, error)
}

// Debater runs the single concurrent debate round of a market event:
// one oracle call per agent, transcripts and spreads persisted as they
// arrive.
type Debater struct {
	store   store.Store
	oracle  Oracle
	prompts *PromptBuilder
	locks   *agentLocks
}

// NewDebater creates a debate orchestrator.
func NewDebater(st store.Store, orc Oracle, prompts *PromptBuilder, locks *agentLocks) *Debater {
	return &Debater{store: st, oracle: orc, prompts: prompts, locks: locks}
}

// Run fans the event prompt out to all agents in parallel and collects
// their contributions. update is nil for the initial auction. The
// returned slices may be shorter than the agent roster: oracle
// failures and unparseable replies drop that agent from the round.
// The surviving spreads vector is persisted under (goal, update).
func (d *Debater) Run(ctx context.Context, goal *models.Goal, update *models.GoalUpdate, history []*models.GoalUpdate, agents []*models.Agent) ([]*models.DebateMessage, []models.AgentSpread, error) {
	updateID := 0
	if update != nil {
		updateID = update.ID
	}

	var (
		mu       sync.Mutex
		messages []*models.DebateMessage
		spreads  []models.AgentSpread
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, agent := range agents {
		g.Go(func() error {
			var msgs []oracle.Message
			if update == nil {
				msgs = d.prompts.BuildAuctionPrompt(goal, agent)
			} else {
				msgs = d.prompts.BuildTradingPrompt(goal, update, history, agent)
			}

			text, err := d.oracle.Ask(gctx, msgs, nil)
			if err != nil {
				metrics.OracleFailuresTotal.Inc()
				log.Warn().
					Err(err).
					Int("agent_id", agent.ID).
					Int("goal_id", goal.ID).
					Int("update_id", updateID).
					Msg("Oracle call failed, agent abstains")
				return nil
			}

			debateMsg := &models.DebateMessage{
				GoalID:    goal.ID,
				UpdateID:  updateID,
				AgentID:   agent.ID,
				Round:     1,
				Content:   text,
				CreatedAt: time.Now().UTC(),
			}
			if err := d.store.AppendDebateMessage(gctx, debateMsg); err != nil {
				return err
			}

			parsed, parseErr := ParseAgentResponse(text, agent, update != nil)

			memo := text
			if parseErr == nil && parsed.Analysis != "" {
				memo = parsed.Analysis
			}
			if err := d.updateMemo(gctx, agent.ID, goal.ID, memo); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			messages = append(messages, debateMsg)
			if parseErr != nil {
				metrics.OracleFailuresTotal.Inc()
				log.Warn().
					Err(parseErr).
					Int("agent_id", agent.ID).
					Int("goal_id", goal.ID).
					Msg("Unparseable oracle reply, no spread emitted")
				return nil
			}
			spreads = append(spreads, parsed.Spread)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return messages, spreads, err
	}

	if err := d.store.StoreSpreads(ctx, goal.ID, updateID, spreads); err != nil {
		return messages, spreads, err
	}

	log.Info().
		Int("goal_id", goal.ID).
		Int("update_id", updateID).
		Int("agents", len(agents)).
		Int("spreads", len(spreads)).
		Msg("Debate round complete")

	return messages, spreads, nil
}

// updateMemo rewrites the agent's analysis memo under its settlement
// lock so the read-modify-write cannot clobber a concurrent trade on
// another goal.
func (d *Debater) updateMemo(ctx context.Context, agentID, goalID int, memo string) error {
	lock := d.locks.get(agentID)
	lock.Lock()
	defer lock.Unlock()

	agent, err := d.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	agent.SetMemo(goalID, truncateRunes(memo, d.prompts.memoMaxRunes))
	return d.store.SaveAgent(ctx, agent)
}
