package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"goalmarket/internal/models"
)

// Key shapes. Entity records live under typed keys, membership under
// sets, append-only streams under lists, id counters under plain
// integer keys bumped with INCR.
const (
	keyGoal        = "goal:%d"
	keyGoalsAll    = "goals:all"
	keyUpdate      = "update:%d"
	keyGoalUpdates = "goal:%d:updates"
	keyAgent       = "agent:%d"
	keyAgentsAll   = "agents:all"
	keyDebate      = "debate:%d:%d"
	keySpreads     = "spreads:%d:%d"
	keyTrade       = "trade:%d"
	keyGoalTrades  = "goal:%d:trades"
	keyEventTrades = "goal:%d:update:%d:trades"
	keyHistory     = "agent:%d:history"
	keyTokenSupply = "goal:%d:token_supply"
	keyCounter     = "%s:id"
)

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	client *redis.Client
}

// Config contains Redis connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Store initialized")

	return &RedisStore{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the underlying connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// NextID atomically allocates the next id in a namespace.
func (s *RedisStore) NextID(ctx context.Context, namespace string) (int, error) {
	id, err := s.client.Incr(ctx, fmt.Sprintf(keyCounter, namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", namespace, err)
	}
	return int(id), nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, target interface{}) error {
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), target); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// memberIDs reads a set of integer ids sorted ascending.
func (s *RedisStore) memberIDs(ctx context.Context, key string) ([]int, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", key, err)
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		var id int
		if _, err := fmt.Sscanf(m, "%d", &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// GetGoal fetches one goal.
func (s *RedisStore) GetGoal(ctx context.Context, id int) (*models.Goal, error) {
	var goal models.Goal
	if err := s.getJSON(ctx, fmt.Sprintf(keyGoal, id), &goal); err != nil {
		return nil, err
	}
	return &goal, nil
}

// SaveGoal overwrites the goal record and registers its id.
func (s *RedisStore) SaveGoal(ctx context.Context, goal *models.Goal) error {
	if err := s.setJSON(ctx, fmt.Sprintf(keyGoal, goal.ID), goal); err != nil {
		return err
	}
	return s.client.SAdd(ctx, keyGoalsAll, goal.ID).Err()
}

// ListGoals returns all goals sorted by id.
func (s *RedisStore) ListGoals(ctx context.Context) ([]*models.Goal, error) {
	ids, err := s.memberIDs(ctx, keyGoalsAll)
	if err != nil {
		return nil, err
	}
	goals := make([]*models.Goal, 0, len(ids))
	for _, id := range ids {
		goal, err := s.GetGoal(ctx, id)
		if err != nil {
			return nil, err
		}
		goals = append(goals, goal)
	}
	return goals, nil
}

// GetUpdate fetches one goal update.
func (s *RedisStore) GetUpdate(ctx context.Context, id int) (*models.GoalUpdate, error) {
	var update models.GoalUpdate
	if err := s.getJSON(ctx, fmt.Sprintf(keyUpdate, id), &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// SaveUpdate overwrites the update record and indexes it on its goal.
func (s *RedisStore) SaveUpdate(ctx context.Context, update *models.GoalUpdate) error {
	if err := s.setJSON(ctx, fmt.Sprintf(keyUpdate, update.ID), update); err != nil {
		return err
	}
	return s.client.SAdd(ctx, fmt.Sprintf(keyGoalUpdates, update.GoalID), update.ID).Err()
}

// ListUpdatesByGoal returns a goal's updates sorted by creation time,
// newest first.
func (s *RedisStore) ListUpdatesByGoal(ctx context.Context, goalID int) ([]*models.GoalUpdate, error) {
	ids, err := s.memberIDs(ctx, fmt.Sprintf(keyGoalUpdates, goalID))
	if err != nil {
		return nil, err
	}
	updates := make([]*models.GoalUpdate, 0, len(ids))
	for _, id := range ids {
		update, err := s.GetUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}
	sort.Slice(updates, func(i, j int) bool {
		if updates[i].CreatedAt.Equal(updates[j].CreatedAt) {
			return updates[i].ID > updates[j].ID
		}
		return updates[i].CreatedAt.After(updates[j].CreatedAt)
	})
	return updates, nil
}

// GetAgent fetches one agent.
func (s *RedisStore) GetAgent(ctx context.Context, id int) (*models.Agent, error) {
	var agent models.Agent
	if err := s.getJSON(ctx, fmt.Sprintf(keyAgent, id), &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// SaveAgent overwrites the agent record and registers its id.
func (s *RedisStore) SaveAgent(ctx context.Context, agent *models.Agent) error {
	if err := s.setJSON(ctx, fmt.Sprintf(keyAgent, agent.ID), agent); err != nil {
		return err
	}
	return s.client.SAdd(ctx, keyAgentsAll, agent.ID).Err()
}

// ListAgents returns all agents sorted by id.
func (s *RedisStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	ids, err := s.memberIDs(ctx, keyAgentsAll)
	if err != nil {
		return nil, err
	}
	agents := make([]*models.Agent, 0, len(ids))
	for _, id := range ids {
		agent, err := s.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// AppendDebateMessage appends a message to the event's transcript.
// Append order is preserved.
func (s *RedisStore) AppendDebateMessage(ctx context.Context, msg *models.DebateMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal debate message: %w", err)
	}
	key := fmt.Sprintf(keyDebate, msg.GoalID, msg.UpdateID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append debate message: %w", err)
	}
	return nil
}

// ListDebate returns the event's transcript in append order.
func (s *RedisStore) ListDebate(ctx context.Context, goalID, updateID int) ([]*models.DebateMessage, error) {
	key := fmt.Sprintf(keyDebate, goalID, updateID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read debate %s: %w", key, err)
	}
	messages := make([]*models.DebateMessage, 0, len(raw))
	for _, data := range raw {
		var msg models.DebateMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping malformed debate message")
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// ListDebateRound returns one round of an event's debate, in append
// order.
func (s *RedisStore) ListDebateRound(ctx context.Context, goalID, updateID, round int) ([]*models.DebateMessage, error) {
	messages, err := s.ListDebate(ctx, goalID, updateID)
	if err != nil {
		return nil, err
	}
	filtered := make([]*models.DebateMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Round == round {
			filtered = append(filtered, msg)
		}
	}
	return filtered, nil
}

// StoreSpreads stores the full spreads vector for an event.
func (s *RedisStore) StoreSpreads(ctx context.Context, goalID, updateID int, spreads []models.AgentSpread) error {
	return s.setJSON(ctx, fmt.Sprintf(keySpreads, goalID, updateID), spreads)
}

// GetSpreads returns the spreads vector for an event, empty if none
// was stored.
func (s *RedisStore) GetSpreads(ctx context.Context, goalID, updateID int) ([]models.AgentSpread, error) {
	var spreads []models.AgentSpread
	err := s.getJSON(ctx, fmt.Sprintf(keySpreads, goalID, updateID), &spreads)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return spreads, nil
}

// AppendTrade stores the trade record and indexes it under its goal
// and its (goal, update) event.
func (s *RedisStore) AppendTrade(ctx context.Context, trade *models.Trade) error {
	if err := s.setJSON(ctx, fmt.Sprintf(keyTrade, trade.ID), trade); err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, fmt.Sprintf(keyGoalTrades, trade.GoalID), trade.ID)
	pipe.SAdd(ctx, fmt.Sprintf(keyEventTrades, trade.GoalID, trade.UpdateID), trade.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index trade %d: %w", trade.ID, err)
	}
	return nil
}

func (s *RedisStore) tradesByIndex(ctx context.Context, key string) ([]*models.Trade, error) {
	ids, err := s.memberIDs(ctx, key)
	if err != nil {
		return nil, err
	}
	trades := make([]*models.Trade, 0, len(ids))
	for _, id := range ids {
		var trade models.Trade
		if err := s.getJSON(ctx, fmt.Sprintf(keyTrade, id), &trade); err != nil {
			return nil, err
		}
		trades = append(trades, &trade)
	}
	return trades, nil
}

// ListTradesForEvent returns an event's trades sorted by id.
func (s *RedisStore) ListTradesForEvent(ctx context.Context, goalID, updateID int) ([]*models.Trade, error) {
	return s.tradesByIndex(ctx, fmt.Sprintf(keyEventTrades, goalID, updateID))
}

// ListTradesForGoal returns a goal's trades sorted by id.
func (s *RedisStore) ListTradesForGoal(ctx context.Context, goalID int) ([]*models.Trade, error) {
	return s.tradesByIndex(ctx, fmt.Sprintf(keyGoalTrades, goalID))
}

// AppendAgentHistory appends an entry to the agent's prediction
// history.
func (s *RedisStore) AppendAgentHistory(ctx context.Context, agentID int, entry *models.AgentHistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	key := fmt.Sprintf(keyHistory, agentID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append history for agent %d: %w", agentID, err)
	}
	return nil
}

// TailAgentHistory returns the agent's n most recent history entries,
// oldest first.
func (s *RedisStore) TailAgentHistory(ctx context.Context, agentID, n int) ([]*models.AgentHistoryEntry, error) {
	key := fmt.Sprintf(keyHistory, agentID)
	raw, err := s.client.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for agent %d: %w", agentID, err)
	}
	entries := make([]*models.AgentHistoryEntry, 0, len(raw))
	for _, data := range raw {
		var entry models.AgentHistoryEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			log.Warn().Err(err).Int("agent_id", agentID).Msg("Skipping malformed history entry")
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// GetTokenSupply returns the informational token supply for a goal,
// zero when unset.
func (s *RedisStore) GetTokenSupply(ctx context.Context, goalID int) (int, error) {
	supply, err := s.client.Get(ctx, fmt.Sprintf(keyTokenSupply, goalID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read token supply for goal %d: %w", goalID, err)
	}
	return supply, nil
}

// SetTokenSupply stores the informational token supply for a goal.
func (s *RedisStore) SetTokenSupply(ctx context.Context, goalID, supply int) error {
	if err := s.client.Set(ctx, fmt.Sprintf(keyTokenSupply, goalID), supply, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token supply for goal %d: %w", goalID, err)
	}
	return nil
}
