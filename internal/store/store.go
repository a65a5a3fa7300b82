// Package store implements the persistence gateway for goals, agents,
// market events and their audit trail, backed by Redis.
package store

import (
	"context"
	"errors"

	"goalmarket/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract the market engine consumes. All
// list operations return stable orderings: by id for goals, agents and
// trades, by creation time (newest first) for updates. Save operations
// fully overwrite the stored record. Failures surface to the caller;
// there are no hidden retries.
type Store interface {
	NextID(ctx context.Context, namespace string) (int, error)

	GetGoal(ctx context.Context, id int) (*models.Goal, error)
	SaveGoal(ctx context.Context, goal *models.Goal) error
	ListGoals(ctx context.Context) ([]*models.Goal, error)

	GetUpdate(ctx context.Context, id int) (*models.GoalUpdate, error)
	SaveUpdate(ctx context.Context, update *models.GoalUpdate) error
	ListUpdatesByGoal(ctx context.Context, goalID int) ([]*models.GoalUpdate, error)

	GetAgent(ctx context.Context, id int) (*models.Agent, error)
	SaveAgent(ctx context.Context, agent *models.Agent) error
	ListAgents(ctx context.Context) ([]*models.Agent, error)

	AppendDebateMessage(ctx context.Context, msg *models.DebateMessage) error
	ListDebate(ctx context.Context, goalID, updateID int) ([]*models.DebateMessage, error)
	ListDebateRound(ctx context.Context, goalID, updateID, round int) ([]*models.DebateMessage, error)

	StoreSpreads(ctx context.Context, goalID, updateID int, spreads []models.AgentSpread) error
	GetSpreads(ctx context.Context, goalID, updateID int) ([]models.AgentSpread, error)

	AppendTrade(ctx context.Context, trade *models.Trade) error
	ListTradesForEvent(ctx context.Context, goalID, updateID int) ([]*models.Trade, error)
	ListTradesForGoal(ctx context.Context, goalID int) ([]*models.Trade, error)

	AppendAgentHistory(ctx context.Context, agentID int, entry *models.AgentHistoryEntry) error
	TailAgentHistory(ctx context.Context, agentID, n int) ([]*models.AgentHistoryEntry, error)

	GetTokenSupply(ctx context.Context, goalID int) (int, error)
	SetTokenSupply(ctx context.Context, goalID, supply int) error
}
