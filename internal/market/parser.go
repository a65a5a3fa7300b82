package market

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"goalmarket/internal/models"
)

var (
	buyTagRe   = regexp.MustCompile(`<buy>\s*\$?([0-9.]+)\s*</buy>`)
	sellTagRe  = regexp.MustCompile(`<sell>\s*\$?([0-9.]+)\s*</sell>`)
	priceTagRe = regexp.MustCompile(`<price>\s*\$?([0-9.]+)\s*</price>`)

	// ErrNoBuyTag means the response carried no parseable buy quote;
	// the agent's contribution is discarded.
	ErrNoBuyTag = errors.New("response has no buy tag")
	// ErrNoSellTag means a trading-mode response lacked a sell quote.
	ErrNoSellTag = errors.New("response has no sell tag")
)

// ParsedResponse is the structured form of an agent's oracle reply.
type ParsedResponse struct {
	// Analysis is the free text preceding the first buy tag, trimmed.
	Analysis string
	Spread   models.AgentSpread
}

// ParseAgentResponse extracts the analysis prefix and the quoted
// spread from the oracle text. In trading mode both tags are required.
// The buy price is clamped to the agent's cash balance; a quote above
// cash is capped rather than discarded.
func ParseAgentResponse(text string, agent *models.Agent, trading bool) (*ParsedResponse, error) {
	buyMatch := buyTagRe.FindStringSubmatchIndex(text)
	if buyMatch == nil {
		return nil, ErrNoBuyTag
	}

	buyPrice, err := strconv.ParseFloat(text[buyMatch[2]:buyMatch[3]], 64)
	if err != nil {
		return nil, ErrNoBuyTag
	}

	analysis := strings.TrimSpace(text[:buyMatch[0]])

	// The sell quote is mandatory in trading mode. Opening auctions do
	// not request one, but a volunteered ask still enters the spread.
	var sellPrice float64
	sellMatch := sellTagRe.FindStringSubmatch(text)
	if sellMatch != nil {
		sellPrice, err = strconv.ParseFloat(sellMatch[1], 64)
		if err != nil && trading {
			return nil, ErrNoSellTag
		}
	} else if trading {
		return nil, ErrNoSellTag
	}

	if buyPrice > agent.CashBalance {
		log.Warn().
			Int("agent_id", agent.ID).
			Float64("quoted_buy", buyPrice).
			Float64("cash", agent.CashBalance).
			Msg("Buy quote exceeds cash balance, capping")
		buyPrice = agent.CashBalance
	}
	if buyPrice < 0 {
		buyPrice = 0
	}

	return &ParsedResponse{
		Analysis: analysis,
		Spread: models.AgentSpread{
			AgentID:   agent.ID,
			BuyPrice:  buyPrice,
			SellPrice: sellPrice,
		},
	}, nil
}

// parsePriceTag extracts a <price> tag value. Used only by the legacy
// base-price estimator.
func parsePriceTag(text string) (float64, bool) {
	match := priceTagRe.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return price, true
}
