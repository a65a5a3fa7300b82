// Package market implements the prediction-market core: prompt
// assembly, the agent debate round, two-stage clearing, settlement,
// and resolution.
package market

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"goalmarket/internal/models"
	"goalmarket/internal/oracle"
)

const systemPrompt = `You are %s, an autonomous trader in a prediction market for personal goals.
Each success token pays $%.0f if the goal is achieved by its target date and $0 otherwise.
You trade with your own cash. Be decisive and price according to your honest probability estimate.`

// PromptBuilder assembles agent-specific oracle prompts for market
// events.
type PromptBuilder struct {
	// memoMaxRunes caps the prior-analysis excerpt included in
	// trading-mode prompts.
	memoMaxRunes int
}

// NewPromptBuilder creates a prompt builder.
func NewPromptBuilder(memoMaxRunes int) *PromptBuilder {
	if memoMaxRunes <= 0 {
		memoMaxRunes = 2000
	}
	return &PromptBuilder{memoMaxRunes: memoMaxRunes}
}

// BuildAuctionPrompt builds the initial price-discovery prompt for a
// freshly created goal. The agent is asked for an analysis paragraph
// followed by a single buy quote; no sell quote is requested.
func (pb *PromptBuilder) BuildAuctionPrompt(goal *models.Goal, agent *models.Agent) []oracle.Message {
	var b strings.Builder

	today := time.Now().UTC().Format("2006-01-02")
	fmt.Fprintf(&b, "Today is %s.\n\n", today)
	fmt.Fprintf(&b, "A new goal has been declared:\n")
	fmt.Fprintf(&b, "Goal: %s\n", goal.Description)
	fmt.Fprintf(&b, "Target date: %s\n\n", goal.TargetDate)
	b.WriteString("No progress updates have been posted yet.\n\n")

	pb.writePortfolio(&b, agent, goal.ID)

	fmt.Fprintf(&b, `This is the opening auction for this goal's success tokens (payout $%.0f on success, $0 on failure).

Write a short analysis of how likely this goal is to be achieved, then state the maximum price you are willing to pay for one success token.

End your reply with exactly one tag in this format:
<buy>$X.XX</buy>`, goal.Payout)

	return []oracle.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, agent.Name, goal.Payout)},
		{Role: "user", Content: b.String()},
	}
}

// BuildTradingPrompt builds the prompt for a trading round triggered
// by a user progress update. The agent reasons as of the update's
// reporting date and must quote both sides.
func (pb *PromptBuilder) BuildTradingPrompt(goal *models.Goal, update *models.GoalUpdate, history []*models.GoalUpdate, agent *models.Agent) []oracle.Message {
	var b strings.Builder

	fmt.Fprintf(&b, "Today is %s.\n\n", update.Date)
	fmt.Fprintf(&b, "Goal: %s\n", goal.Description)
	fmt.Fprintf(&b, "Target date: %s\n\n", goal.TargetDate)

	b.WriteString("Progress updates so far (oldest first):\n")
	chronological := make([]*models.GoalUpdate, len(history))
	copy(chronological, history)
	sort.Slice(chronological, func(i, j int) bool {
		if chronological[i].CreatedAt.Equal(chronological[j].CreatedAt) {
			return chronological[i].ID < chronological[j].ID
		}
		return chronological[i].CreatedAt.Before(chronological[j].CreatedAt)
	})
	for _, u := range chronological {
		fmt.Fprintf(&b, "- [%s] %s\n", u.Date, u.Content)
	}
	b.WriteString("\n")

	if goal.BasePrice != nil {
		fmt.Fprintf(&b, "Current market price: $%.2f\n\n", *goal.BasePrice)
	} else {
		b.WriteString("No market price has been discovered yet.\n\n")
	}

	if memo := agent.Memo(goal.ID); memo != "" {
		fmt.Fprintf(&b, "Your previous analysis of this goal:\n%s\n\n", truncateRunes(memo, pb.memoMaxRunes))
	}

	pb.writePortfolio(&b, agent, goal.ID)

	fmt.Fprintf(&b, `A trading round is now open for this goal's success tokens (payout $%.0f on success, $0 on failure).

Write a short updated analysis, then quote your spread: the maximum price you would pay to buy one token, and the minimum price you would accept to sell one token.

End your reply with exactly these two tags in this order:
<buy>$X.XX</buy>
<sell>$Y.YY</sell>`, goal.Payout)

	return []oracle.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, agent.Name, goal.Payout)},
		{Role: "user", Content: b.String()},
	}
}

// writePortfolio summarizes the agent's cash, open positions and net
// worth, plus its current position on the goal being traded.
func (pb *PromptBuilder) writePortfolio(b *strings.Builder, agent *models.Agent, goalID int) {
	fmt.Fprintf(b, "Your portfolio:\n")
	fmt.Fprintf(b, "Cash: $%.2f\n", agent.CashBalance)

	assets := 0.0
	liabilities := 0.0

	goalIDs := make([]int, 0, len(agent.TokenHoldings))
	for key := range agent.TokenHoldings {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		goalIDs = append(goalIDs, id)
	}
	sort.Ints(goalIDs)

	for _, id := range goalIDs {
		tokens := agent.Holding(id)
		if tokens > 0 {
			value := tokens * models.PayoutAmount
			assets += value
			fmt.Fprintf(b, "Long %.1f tokens on goal %d (max value $%.2f)\n", tokens, id, value)
		} else if tokens < 0 {
			liability := -tokens * models.PayoutAmount
			liabilities += liability
			fmt.Fprintf(b, "Short %.1f tokens on goal %d (liability $%.2f)\n", -tokens, id, liability)
		}
	}

	fmt.Fprintf(b, "Net worth: $%.2f\n", agent.CashBalance+assets-liabilities)
	fmt.Fprintf(b, "Your position on this goal: %.1f tokens\n\n", agent.Holding(goalID))
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
