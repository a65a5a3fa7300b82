package market

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"goalmarket/internal/oracle"
)

const basePriceSamples = 3

const basePricePrompt = `What would be a fair base price in USD for an accountability agent service that helps track goals and predictions?
Consider the value provided and market rates.
Reply with ONLY an XML tag with the price like this: <price>X.XX</price>`

// EstimateBasePrice samples the oracle a few times with a pinned
// provider and averages the quoted prices.
//
// Deprecated: the auction's discovered market price supersedes this
// estimator. It is retained for the admin tooling only and is not part
// of the event pipeline.
func EstimateBasePrice(ctx context.Context, orc Oracle) (float64, error) {
	opts := &oracle.AskOptions{
		Provider: &oracle.Provider{
			Order:          []string{"openai"},
			AllowFallbacks: false,
		},
	}

	sum := 0.0
	count := 0
	for i := 0; i < basePriceSamples; i++ {
		text, err := orc.Ask(ctx, []oracle.Message{
			{Role: "user", Content: basePricePrompt},
		}, opts)
		if err != nil {
			log.Warn().Err(err).Int("sample", i+1).Msg("Base price sample failed")
			continue
		}
		price, ok := parsePriceTag(text)
		if !ok {
			log.Warn().Int("sample", i+1).Msg("Base price sample has no price tag")
			continue
		}
		sum += price
		count++
	}

	if count == 0 {
		return 0, fmt.Errorf("no valid base price samples out of %d", basePriceSamples)
	}
	return sum / float64(count), nil
}
