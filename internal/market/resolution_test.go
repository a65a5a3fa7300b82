package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalmarket/internal/models"
)

func TestResolveSuccessPaysLongsFromShorts(t *testing.T) {
	st := newMarketStore(t)
	ctx := context.Background()
	seedGoal(t, st, 1)

	// Positions as left by two trades at $70: A long 2, B short 2.
	alice := &models.Agent{ID: 1, Name: "Alice", CashBalance: 860}
	alice.SetHolding(1, 2)
	bob := &models.Agent{ID: 2, Name: "Bob", CashBalance: 1140}
	bob.SetHolding(1, -2)
	require.NoError(t, st.SaveAgent(ctx, alice))
	require.NoError(t, st.SaveAgent(ctx, bob))

	resolver := NewResolver(st, newAgentLocks())
	goal, err := resolver.Resolve(ctx, 1, models.OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusResolved, goal.Status)
	assert.Equal(t, models.OutcomeSuccess, goal.Outcome)

	alice, err = st.GetAgent(ctx, 1)
	require.NoError(t, err)
	bob, err = st.GetAgent(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, 1060.0, alice.CashBalance)
	assert.Equal(t, 940.0, bob.CashBalance)
	assert.Equal(t, 0.0, alice.Holding(1))
	assert.Equal(t, 0.0, bob.Holding(1))
	// Total cash is unchanged across resolution.
	assert.Equal(t, 2000.0, alice.CashBalance+bob.CashBalance)
}

func TestResolveFailurePaysShortsFromLongs(t *testing.T) {
	st := newMarketStore(t)
	ctx := context.Background()
	seedGoal(t, st, 1)

	alice := &models.Agent{ID: 1, Name: "Alice", CashBalance: 900}
	alice.SetHolding(1, 1)
	bob := &models.Agent{ID: 2, Name: "Bob", CashBalance: 1100}
	bob.SetHolding(1, -1)
	require.NoError(t, st.SaveAgent(ctx, alice))
	require.NoError(t, st.SaveAgent(ctx, bob))

	resolver := NewResolver(st, newAgentLocks())
	_, err := resolver.Resolve(ctx, 1, models.OutcomeFailure)
	require.NoError(t, err)

	alice, err = st.GetAgent(ctx, 1)
	require.NoError(t, err)
	bob, err = st.GetAgent(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, 800.0, alice.CashBalance)
	assert.Equal(t, 1200.0, bob.CashBalance)
}

func TestResolveSkipsFlatAgentsAndOtherGoals(t *testing.T) {
	st := newMarketStore(t)
	ctx := context.Background()
	seedGoal(t, st, 1)

	carol := &models.Agent{ID: 3, Name: "Charlie", CashBalance: 500}
	carol.SetHolding(2, 4) // position on another goal
	require.NoError(t, st.SaveAgent(ctx, carol))

	resolver := NewResolver(st, newAgentLocks())
	_, err := resolver.Resolve(ctx, 1, models.OutcomeSuccess)
	require.NoError(t, err)

	carol, err = st.GetAgent(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 500.0, carol.CashBalance)
	assert.Equal(t, 4.0, carol.Holding(2))
}

func TestResolveTwiceRejected(t *testing.T) {
	st := newMarketStore(t)
	ctx := context.Background()
	seedGoal(t, st, 1)

	alice := &models.Agent{ID: 1, Name: "Alice", CashBalance: 1000}
	alice.SetHolding(1, 1)
	require.NoError(t, st.SaveAgent(ctx, alice))

	resolver := NewResolver(st, newAgentLocks())
	_, err := resolver.Resolve(ctx, 1, models.OutcomeSuccess)
	require.NoError(t, err)

	cashAfterFirst := 1100.0
	agent, err := st.GetAgent(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, cashAfterFirst, agent.CashBalance)

	_, err = resolver.Resolve(ctx, 1, models.OutcomeFailure)
	assert.ErrorIs(t, err, models.ErrAlreadyResolved)

	// No balance or holding deltas from the rejected call.
	agent, err = st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, cashAfterFirst, agent.CashBalance)
	assert.Equal(t, 0.0, agent.Holding(1))
}

func TestResolveInvalidOutcome(t *testing.T) {
	st := newMarketStore(t)
	seedGoal(t, st, 1)

	resolver := NewResolver(st, newAgentLocks())
	_, err := resolver.Resolve(context.Background(), 1, "maybe")
	assert.ErrorIs(t, err, models.ErrInvalidOutcome)
}
