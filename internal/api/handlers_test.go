package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalmarket/internal/config"
	"goalmarket/internal/market"
	"goalmarket/internal/models"
	"goalmarket/internal/oracle"
	"goalmarket/internal/store"
)

// silentOracle fails every call, so background auctions conclude with
// no spreads and the HTTP contract can be tested in isolation.
type silentOracle struct{}

func (silentOracle) Ask(ctx context.Context, messages []oracle.Message, opts *oracle.AskOptions) (string, error) {
	return "", errors.New("oracle offline")
}

type testServer struct {
	*Server
	store  *store.RedisStore
	engine *market.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.NewWithClient(client)
	engine := market.NewEngine(st, silentOracle{}, config.MarketConfig{
		NumAgents:    3,
		StartingCash: 1000,
		MemoMaxRunes: 2000,
	})
	t.Cleanup(engine.Wait)

	srv := NewServer(Config{
		Host:   "127.0.0.1",
		Port:   0,
		Engine: engine,
		Store:  st,
	})
	return &testServer{Server: srv, store: st, engine: engine}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goalmarket")

	rec = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateGoalContract(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/goals", goalBody("run a marathon", "finisher medal", "01/11/2026"))
	require.Equal(t, http.StatusOK, rec.Code)
	ts.engine.Wait()

	goal := decode[models.Goal](t, rec)
	assert.Equal(t, 1, goal.ID)
	assert.Contains(t, goal.Description, "run a marathon")
	assert.Contains(t, goal.Description, "Success is measured by: finisher medal")
	assert.Equal(t, "2026-11-01", goal.TargetDate)
	assert.Equal(t, models.GoalStatusActive, goal.Status)
	assert.Equal(t, models.PayoutAmount, goal.Payout)

	rec = ts.do(t, http.MethodGet, "/goals/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/goals", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	goals := decode[[]models.Goal](t, rec)
	require.Len(t, goals, 1)
}

func goalBody(goal, measurement, date string) map[string]any {
	return map[string]any{"goal": goal, "measurement": measurement, "date": date}
}

func TestCreateGoalRejectsBadDate(t *testing.T) {
	ts := newTestServer(t)

	for _, date := range []string{"2026-11-01", "32/01/2026", "not a date", ""} {
		rec := ts.do(t, http.MethodPost, "/goals", goalBody("g", "", date))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "date %q", date)
	}
}

func TestGetGoalNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/goals/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/goals/not-a-number", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/goals", goalBody("read 20 books", "", "31/12/2026"))
	require.Equal(t, http.StatusOK, rec.Code)
	ts.engine.Wait()

	rec = ts.do(t, http.MethodPost, "/goals/1/updates", map[string]any{
		"content": "finished book five",
		"date":    "2026-03-01",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	ts.engine.Wait()
	first := decode[models.GoalUpdate](t, rec)
	assert.Equal(t, 1, first.GoalID)

	rec = ts.do(t, http.MethodPost, "/goals/1/updates", map[string]any{
		"content": "finished book nine",
		"date":    "2026-05-01",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	ts.engine.Wait()

	// Newest first.
	rec = ts.do(t, http.MethodGet, "/goals/1/updates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	updates := decode[[]models.GoalUpdate](t, rec)
	require.Len(t, updates, 2)
	assert.Equal(t, "finished book nine", updates[0].Content)
	assert.Equal(t, "finished book five", updates[1].Content)

	// Unknown goal and malformed dates.
	rec = ts.do(t, http.MethodPost, "/goals/42/updates", map[string]any{"content": "x", "date": "2026-01-01"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/goals/42/updates", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodPost, "/goals/1/updates", map[string]any{"content": "x", "date": "01/05/2026"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestResolveContract(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/goals", goalBody("quit sugar", "", "01/07/2026"))
	require.Equal(t, http.StatusOK, rec.Code)
	ts.engine.Wait()

	rec = ts.do(t, http.MethodPatch, "/goals/1/resolve", map[string]any{"outcome": "success"})
	require.Equal(t, http.StatusOK, rec.Code)
	goal := decode[models.Goal](t, rec)
	assert.Equal(t, models.GoalStatusResolved, goal.Status)
	assert.Equal(t, models.OutcomeSuccess, goal.Outcome)

	// Second resolution and updates after resolution are rejected.
	rec = ts.do(t, http.MethodPatch, "/goals/1/resolve", map[string]any{"outcome": "failure"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/goals/1/updates", map[string]any{"content": "x", "date": "2026-07-02"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/goals/99/resolve", map[string]any{"outcome": "success"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveInvalidOutcome(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/goals", goalBody("g", "", "01/07/2026"))
	require.Equal(t, http.StatusOK, rec.Code)
	ts.engine.Wait()

	rec = ts.do(t, http.MethodPatch, "/goals/1/resolve", map[string]any{"outcome": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketAnalysisView(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// Seed a goal, an update and a fully settled event directly.
	goal := &models.Goal{ID: 1, Description: "g", TargetDate: "2026-12-31", Status: models.GoalStatusActive, Payout: models.PayoutAmount}
	require.NoError(t, ts.store.SaveGoal(ctx, goal))
	update := &models.GoalUpdate{ID: 5, GoalID: 1, Content: "halfway there", Date: "2026-06-01", CreatedAt: time.Now().UTC()}
	require.NoError(t, ts.store.SaveUpdate(ctx, update))

	require.NoError(t, ts.store.AppendDebateMessage(ctx, &models.DebateMessage{
		GoalID: 1, UpdateID: 5, AgentID: 1, Round: 1, Content: "bullish", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, ts.store.StoreSpreads(ctx, 1, 5, []models.AgentSpread{
		{AgentID: 1, BuyPrice: 70, SellPrice: 95},
		{AgentID: 2, BuyPrice: 40, SellPrice: 60},
	}))
	for i, price := range []float64{60, 70} {
		require.NoError(t, ts.store.AppendTrade(ctx, &models.Trade{
			ID: i + 1, GoalID: 1, UpdateID: 5, BuyerAgentID: 1, SellerAgentID: 2,
			Price: price, Quantity: 1, CreatedAt: time.Now().UTC(),
		}))
	}

	rec := ts.do(t, http.MethodGet, "/goals/1/updates/5/market-analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	analysis := decode[marketAnalysisResponse](t, rec)
	assert.Equal(t, 5, analysis.UpdateID)
	assert.Equal(t, "halfway there", analysis.UpdateContent)
	assert.Equal(t, "2026-06-01", analysis.UpdateDate)
	assert.Len(t, analysis.DebateMessages, 1)
	assert.Len(t, analysis.AgentSpreads, 2)
	assert.Len(t, analysis.Trades, 2)
	require.NotNil(t, analysis.MarketPrice)
	assert.Equal(t, 65.0, *analysis.MarketPrice)

	// The update must belong to the goal in the path.
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/goals/%d/updates/5/market-analysis", 2), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/goals/1/updates/77/market-analysis", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketAnalysisNoTrades(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.store.SaveGoal(ctx, &models.Goal{ID: 1, Description: "g", Status: models.GoalStatusActive}))
	require.NoError(t, ts.store.SaveUpdate(ctx, &models.GoalUpdate{ID: 2, GoalID: 1, Content: "quiet week", Date: "2026-04-01"}))

	rec := ts.do(t, http.MethodGet, "/goals/1/updates/2/market-analysis", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	analysis := decode[marketAnalysisResponse](t, rec)
	assert.Nil(t, analysis.MarketPrice)
	assert.Empty(t, analysis.Trades)
}

func TestAgentEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/agents", map[string]any{"name": "Mallory"})
	require.Equal(t, http.StatusCreated, rec.Code)
	agent := decode[models.Agent](t, rec)
	assert.Equal(t, "Mallory", agent.Name)
	assert.Equal(t, 1000.0, agent.CashBalance)

	rec = ts.do(t, http.MethodPost, "/agents", map[string]any{"name": "Trent", "cash_balance": 2500.0})
	require.Equal(t, http.StatusCreated, rec.Code)
	rich := decode[models.Agent](t, rec)
	assert.Equal(t, 2500.0, rich.CashBalance)

	rec = ts.do(t, http.MethodGet, "/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	agents := decode[[]models.Agent](t, rec)
	require.Len(t, agents, 2)
	assert.Equal(t, "Mallory", agents[0].Name)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/agents/%d", rich.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/agents/404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/agents", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	out := httptest.NewRecorder()
	ts.Router().ServeHTTP(out, req)
	assert.Equal(t, "abc-123", out.Header().Get("X-Request-ID"))
}
