package market

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"goalmarket/internal/models"
)

// uniformPriceStep is the candidate-price granularity of the
// uniform-price fallback scan.
const uniformPriceStep = 0.05

// MatchedTrade is a single clearing produced by the matching engine,
// before settlement assigns it an id and timestamps it.
type MatchedTrade struct {
	BuyerAgentID  int
	SellerAgentID int
	Price         float64
	Quantity      float64
}

// MatchSpreads clears the event's spreads. Stage 1 is a continuous
// double auction; when it produces nothing and the event is the
// initial auction for the goal, Stage 2 searches for a single
// uniform clearing price that maximizes crossed volume.
//
// Spreads with a non-positive sell price participate only as buyers:
// an agent that quoted no ask is not offering tokens.
func MatchSpreads(spreads []models.AgentSpread, initialAuction bool) []MatchedTrade {
	trades := matchContinuous(spreads)
	if len(trades) == 0 && initialAuction {
		trades = matchUniformPrice(spreads)
	}
	return trades
}

// matchContinuous walks the sorted buy and sell books, pairing the
// best remaining bid with the best remaining ask while they cross.
// Each match clears one token at the ask. Self-matches are permitted
// and act as a no-op transfer.
func matchContinuous(spreads []models.AgentSpread) []MatchedTrade {
	buys := sortedBuyers(spreads)
	sells := sortedSellers(spreads)

	var trades []MatchedTrade
	for i, j := 0, 0; i < len(buys) && j < len(sells); i, j = i+1, j+1 {
		if buys[i].BuyPrice < sells[j].SellPrice {
			break
		}
		trades = append(trades, MatchedTrade{
			BuyerAgentID:  buys[i].AgentID,
			SellerAgentID: sells[j].AgentID,
			Price:         sells[j].SellPrice,
			Quantity:      1.0,
		})
	}
	return trades
}

// matchUniformPrice scans candidate prices from the lowest ask down to
// just below the highest bid and clears min(buyers, sellers) trades at
// the volume-maximizing price. Ties pick the highest candidate.
//
// A seller counts as willing at any candidate at or below its ask:
// the fallback exists to seed a price into a market whose quotes do
// not overlap, so the most-willing sellers are drafted at the price
// the buyers can actually bear.
func matchUniformPrice(spreads []models.AgentSpread) []MatchedTrade {
	sells := sortedSellers(spreads)
	if len(sells) == 0 || len(spreads) == 0 {
		return nil
	}

	highestBuy := spreads[0].BuyPrice
	for _, s := range spreads[1:] {
		if s.BuyPrice > highestBuy {
			highestBuy = s.BuyPrice
		}
	}
	lowestSell := sells[0].SellPrice

	if highestBuy >= lowestSell {
		// Stage 1 should have matched already.
		return nil
	}

	bestPrice := 0.0
	bestVolume := 0
	for p := lowestSell; p >= highestBuy-0.01; p = math.Round((p-uniformPriceStep)*100) / 100 {
		buyers := 0
		sellers := 0
		for _, s := range spreads {
			if s.BuyPrice >= p {
				buyers++
			}
		}
		for _, s := range sells {
			if s.SellPrice >= p {
				sellers++
			}
		}
		volume := buyers
		if sellers < volume {
			volume = sellers
		}
		// First maximum wins, so ties resolve to the highest price.
		if volume > bestVolume {
			bestVolume = volume
			bestPrice = p
		}
	}

	if bestVolume == 0 {
		return nil
	}

	log.Debug().
		Float64("clearing_price", bestPrice).
		Int("volume", bestVolume).
		Msg("Uniform-price auction cleared")

	buys := sortedBuyers(spreads)
	trades := make([]MatchedTrade, 0, bestVolume)
	for k := 0; k < bestVolume; k++ {
		trades = append(trades, MatchedTrade{
			BuyerAgentID:  buys[k].AgentID,
			SellerAgentID: sells[k].AgentID,
			Price:         bestPrice,
			Quantity:      1.0,
		})
	}
	return trades
}

// sortedBuyers orders all spreads by buy price descending, agent id
// ascending on ties.
func sortedBuyers(spreads []models.AgentSpread) []models.AgentSpread {
	buys := make([]models.AgentSpread, len(spreads))
	copy(buys, spreads)
	sort.SliceStable(buys, func(i, j int) bool {
		if buys[i].BuyPrice != buys[j].BuyPrice {
			return buys[i].BuyPrice > buys[j].BuyPrice
		}
		return buys[i].AgentID < buys[j].AgentID
	})
	return buys
}

// sortedSellers orders the spreads that quoted an ask by sell price
// ascending, agent id ascending on ties.
func sortedSellers(spreads []models.AgentSpread) []models.AgentSpread {
	sells := make([]models.AgentSpread, 0, len(spreads))
	for _, s := range spreads {
		if s.SellPrice > 0 {
			sells = append(sells, s)
		}
	}
	sort.SliceStable(sells, func(i, j int) bool {
		if sells[i].SellPrice != sells[j].SellPrice {
			return sells[i].SellPrice < sells[j].SellPrice
		}
		return sells[i].AgentID < sells[j].AgentID
	})
	return sells
}
