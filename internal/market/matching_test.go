package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goalmarket/internal/models"
)

func TestContinuousAuctionWithOverlap(t *testing.T) {
	// A buys high and C sells low; exactly one pair crosses.
	spreads := []models.AgentSpread{
		{AgentID: 1, BuyPrice: 70, SellPrice: 95},
		{AgentID: 2, BuyPrice: 60, SellPrice: 80},
		{AgentID: 3, BuyPrice: 50, SellPrice: 65},
	}

	trades := MatchSpreads(spreads, true)
	require.Len(t, trades, 1)
	assert.Equal(t, 1, trades[0].BuyerAgentID)
	assert.Equal(t, 3, trades[0].SellerAgentID)
	assert.Equal(t, 65.0, trades[0].Price)
	assert.Equal(t, 1.0, trades[0].Quantity)
}

func TestContinuousAuctionTradesAtAsk(t *testing.T) {
	spreads := []models.AgentSpread{
		{AgentID: 1, BuyPrice: 90, SellPrice: 95},
		{AgentID: 2, BuyPrice: 80, SellPrice: 85},
		{AgentID: 3, BuyPrice: 20, SellPrice: 70},
		{AgentID: 4, BuyPrice: 10, SellPrice: 75},
	}

	trades := MatchSpreads(spreads, false)
	require.Len(t, trades, 2)
	// Best bid (90) pairs with best ask (70) and clears at the ask.
	assert.Equal(t, 1, trades[0].BuyerAgentID)
	assert.Equal(t, 3, trades[0].SellerAgentID)
	assert.Equal(t, 70.0, trades[0].Price)
	// Second pair: bid 80 vs ask 75.
	assert.Equal(t, 2, trades[1].BuyerAgentID)
	assert.Equal(t, 4, trades[1].SellerAgentID)
	assert.Equal(t, 75.0, trades[1].Price)

	for _, trade := range trades {
		assert.GreaterOrEqual(t, spreadBuyPrice(spreads, trade.BuyerAgentID), trade.Price)
	}
}

func TestContinuousAuctionTieBreaksByAgentID(t *testing.T) {
	spreads := []models.AgentSpread{
		{AgentID: 5, BuyPrice: 60, SellPrice: 50},
		{AgentID: 2, BuyPrice: 60, SellPrice: 50},
	}

	trades := MatchSpreads(spreads, false)
	require.NotEmpty(t, trades)
	// Equal quotes resolve to the lower agent id on both books.
	assert.Equal(t, 2, trades[0].BuyerAgentID)
	assert.Equal(t, 2, trades[0].SellerAgentID)
}

func TestContinuousAuctionPermitsSelfMatch(t *testing.T) {
	// The same agent holds the best bid and the best ask.
	spreads := []models.AgentSpread{
		{AgentID: 1, BuyPrice: 80, SellPrice: 60},
		{AgentID: 2, BuyPrice: 50, SellPrice: 90},
	}

	trades := MatchSpreads(spreads, false)
	require.Len(t, trades, 1)
	assert.Equal(t, 1, trades[0].BuyerAgentID)
	assert.Equal(t, 1, trades[0].SellerAgentID)
	assert.Equal(t, 60.0, trades[0].Price)
}

func TestUniformPriceFallbackOnInitialEvent(t *testing.T) {
	// No spread crosses; the scan from the lowest ask (70) down finds
	// its first positive volume at the highest bid (40).
	spreads := []models.AgentSpread{
		{AgentID: 1, BuyPrice: 40, SellPrice: 90},
		{AgentID: 2, BuyPrice: 30, SellPrice: 80},
		{AgentID: 3, BuyPrice: 20, SellPrice: 70},
	}

	trades := MatchSpreads(spreads, true)
	require.Len(t, trades, 1)
	assert.Equal(t, 1, trades[0].BuyerAgentID)
	assert.Equal(t, 3, trades[0].SellerAgentID)
	assert.Equal(t, 40.0, trades[0].Price)
	assert.Equal(t, 1.0, trades[0].Quantity)
}

func TestUniformPriceClearsAtSinglePrice(t *testing.T) {
	spreads := []models.AgentSpread{
		{AgentID: 1, BuyPrice: 55, SellPrice: 90},
		{AgentID: 2, BuyPrice: 50, SellPrice: 60},
		{AgentID: 3, BuyPrice: 45, SellPrice: 58},
	}

	trades := MatchSpreads(spreads, true)
	require.NotEmpty(t, trades)
	price := trades[0].Price
	for _, trade := range trades {
		assert.Equal(t, price, trade.Price)
		assert.GreaterOrEqual(t, spreadBuyPrice(spreads, trade.BuyerAgentID), price)
	}
}

func TestNoFallbackOnTradingEvents(t *testing.T) {
	spreads := []models.AgentSpread{
		{AgentID: 1, BuyPrice: 40, SellPrice: 90},
		{AgentID: 2, BuyPrice: 30, SellPrice: 80},
	}

	assert.Empty(t, MatchSpreads(spreads, false))
}

func TestZeroSellQuotesAreNotAsks(t *testing.T) {
	// Initial-auction spreads often carry no sell quote at all; a zero
	// ask must not clear the whole market at $0.
	spreads := []models.AgentSpread{
		{AgentID: 1, BuyPrice: 70},
		{AgentID: 2, BuyPrice: 60},
	}

	assert.Empty(t, MatchSpreads(spreads, true))
}

func TestMatchEmptyInput(t *testing.T) {
	assert.Empty(t, MatchSpreads(nil, true))
	assert.Empty(t, MatchSpreads([]models.AgentSpread{}, false))
}

func spreadBuyPrice(spreads []models.AgentSpread, agentID int) float64 {
	for _, s := range spreads {
		if s.AgentID == agentID {
			return s.BuyPrice
		}
	}
	return -1
}
