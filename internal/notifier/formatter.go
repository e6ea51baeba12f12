package notifier

import (
	"fmt"
	"html"
	"math"
	"strings"

	"GoalSentinel/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// FormatNotification renders a notification as a Telegram HTML message.
func FormatNotification(n model.Notification) string {
	var b strings.Builder
	switch n.Kind {
	case model.KindLowProbability:
		b.WriteString("🚨 ")
	case model.KindRebalanced:
		b.WriteString("⚖️ ")
	}
	b.WriteString(fmt.Sprintf("<b>%s</b>\n\n", html.EscapeString(n.Title)))
	b.WriteString(html.EscapeString(n.Message))
	return b.String()
}

// RebalancedNotice tells the user their goal was moved to a lower risk tier.
func RebalancedNotice(goal model.Goal, from, to model.RiskTier, probability, threshold float64) model.Notification {
	return model.Notification{
		Kind:  model.KindRebalanced,
		Title: "Risk automatically rebalanced",
		Message: fmt.Sprintf(
			"Goal %s had a projected success probability of %s, below your minimum of %s. "+
				"We automatically reduced its risk from %s to %s.",
			goalLabel(goal), percent(probability), percent(threshold), from, to),
	}
}

// LowProbabilityNotice warns the user that their goal is unlikely to be reached.
func LowProbabilityNotice(goal model.Goal, tier model.RiskTier, probability, threshold, shortfall float64) model.Notification {
	return model.Notification{
		Kind:  model.KindLowProbability,
		Title: "Urgent: goal at risk",
		Message: fmt.Sprintf(
			"Goal %s (target %s) has only a %s projected chance of success on the %s tier, "+
				"below your minimum of %s. In the worst outcomes you would fall %s short. "+
				"Consider increasing your monthly contribution of %s.",
			goalLabel(goal), moneyAmount(goal.TargetAmount), percent(probability), tier,
			percent(threshold), money(shortfall), moneyAmount(goal.MonthlyContribution)),
	}
}

// FormatResult renders one simulation result for the operator chat.
func FormatResult(r model.SimulationResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s | %s | %d paths | %d months\n",
		r.CreatedAt.Format("2006-01-02 15:04"), r.RiskTier, r.Iterations, r.HorizonMonths))
	b.WriteString(fmt.Sprintf("  success %s, shortfall %s\n", percent(r.SuccessProbability), money(r.ExpectedShortfall)))
	b.WriteString(fmt.Sprintf("  p10 %s | p50 %s | p90 %s\n", money(r.P10), money(r.P50), money(r.P90)))
	return b.String()
}

func goalLabel(g model.Goal) string {
	if g.Name != "" {
		return fmt.Sprintf("%q", g.Name)
	}
	return g.ID
}

func percent(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}

func money(v float64) string {
	return "$" + humanize.Comma(int64(math.Round(v)))
}

func moneyAmount(d decimal.Decimal) string {
	return "$" + humanize.CommafWithDigits(d.Round(2).InexactFloat64(), 2)
}
