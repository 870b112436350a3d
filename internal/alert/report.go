package alert

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"portfolio-telegram-bot/internal/database"
	"portfolio-telegram-bot/internal/valuation"
	"portfolio-telegram-bot/lib/helpers"
	"portfolio-telegram-bot/lib/translation"
)

// BuildReport renders a user's full portfolio report: a cost/value/
// pnl summary followed by one block per position. Returned text is
// MarkdownV2.
func (s *Service) BuildReport(ctx context.Context, userID int64) (string, error) {
	holdings, err := database.GetPortfolio(userID)
	if err != nil {
		return "", err
	}
	if len(holdings) == 0 {
		return helpers.EscapeMarkdownV2(translation.Translate("Your portfolio is currently empty.")), nil
	}

	quotes := s.quotes.FetchQuotes(ctx, quoteRequests(holdings))
	v := valuation.ValuePortfolio(holdingViews(holdings), quotes)

	var b strings.Builder

	totalIcon := "🟢"
	if v.TotalPnL.IsNegative() {
		totalIcon = "🔴"
	}
	b.WriteString(fmt.Sprintf(
		translation.Translate("*📊 Portfolio Summary*\n\n▪️ Invested: %s\n▪️ Current value: %s\n%s Total profit/loss:\n%s %s\n\n*Details*\n"),
		helpers.EscapeMarkdownV2(helpers.FormatPrice(v.TotalCost)),
		helpers.EscapeMarkdownV2(helpers.FormatPrice(v.TotalValue)),
		totalIcon,
		helpers.EscapeMarkdownV2(helpers.FormatPrice(v.TotalPnL)),
		helpers.EscapeMarkdownV2("("+helpers.FormatSignedPercent(v.TotalPct)+")"),
	))

	for i, p := range v.Positions {
		b.WriteString(fmt.Sprintf(
			"\n*%d\\.* 🆔 %d \\| *%s* \\| %s\n",
			i+1, p.Holding.ID,
			helpers.EscapeMarkdownV2(p.Holding.Symbol),
			helpers.EscapeMarkdownV2(helpers.Capitalize(p.Holding.Market)),
		))
		b.WriteString(fmt.Sprintf(
			translation.Translate("Quantity: %s\nBuy price: %s \\(cost: %s\\)\n"),
			helpers.EscapeMarkdownV2(helpers.FormatQuantity(p.Holding.Quantity)),
			helpers.EscapeMarkdownV2(helpers.FormatPrice(p.Holding.AvgPrice)),
			helpers.EscapeMarkdownV2(helpers.FormatPrice(p.Cost)),
		))
		if p.Priced {
			icon := "📈"
			if p.PnL.IsNegative() {
				icon = "📉"
			}
			b.WriteString(fmt.Sprintf(
				translation.Translate("Current price: %s \\(value: %s\\)\n%s Profit/loss: %s %s\n"),
				helpers.EscapeMarkdownV2(helpers.FormatPrice(p.CurrentPrice)),
				helpers.EscapeMarkdownV2(helpers.FormatPrice(p.Value)),
				icon,
				helpers.EscapeMarkdownV2(helpers.FormatPrice(p.PnL)),
				helpers.EscapeMarkdownV2("("+helpers.FormatSignedPercent(p.PnLPercent)+")"),
			))
		} else {
			b.WriteString(helpers.EscapeMarkdownV2(translation.Translate("Current price: unavailable\n📉 Profit/loss: unavailable\n")))
		}
	}

	return b.String(), nil
}

// SendDailyReports delivers the full report to every user holding
// anything. A failed render or send for one user never blocks the
// rest.
func (s *Service) SendDailyReports(ctx context.Context) {
	userIDs, err := database.GetUsersWithHoldings()
	if err != nil {
		log.Errorf("Failed to fetch users for daily report: %v", err)
		return
	}

	for _, userID := range userIDs {
		report, err := s.BuildReport(ctx, userID)
		if err != nil {
			log.Errorf("Failed to build daily report for user %d: %v", userID, err)
			continue
		}

		text := fmt.Sprintf("%s\n\n%s",
			translation.Translate("*🗓 Your daily portfolio report*"), report)
		if err := s.dispatch(userID, text); err != nil {
			log.Errorf("Failed to send daily report to user %d: %v", userID, err)
		}
	}
}
