package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"portfolio-telegram-bot/internal/database"
	"portfolio-telegram-bot/internal/price"
	"portfolio-telegram-bot/internal/valuation"
	"portfolio-telegram-bot/lib/helpers"
	"portfolio-telegram-bot/lib/translation"
)

// Notifier delivers one rendered message to one user. Dispatch
// failures are the recipient's problem alone: the engine logs and
// moves on.
type Notifier interface {
	Notify(userID int64, text string) error
}

// Config wires the alert engine. RecheckInterval > 0 gates each
// user's global evaluation to at most once per interval; zero means
// evaluate on every tick.
type Config struct {
	Quotes          *price.Aggregator
	Notifier        Notifier
	DispatchDelay   time.Duration
	RecheckInterval time.Duration
	FiredCounter    prometheus.Counter
}

// Service periodically re-evaluates global and per-asset thresholds
// against the recorded baselines. An alert that fires always rewrites
// its baseline in the same evaluation, so a sustained deviation can
// never fire twice.
type Service struct {
	quotes          *price.Aggregator
	notifier        Notifier
	dispatchDelay   time.Duration
	recheckInterval time.Duration
	fired           prometheus.Counter
}

func NewService(c Config) *Service {
	return &Service{
		quotes:          c.Quotes,
		notifier:        c.Notifier,
		dispatchDelay:   c.DispatchDelay,
		recheckInterval: c.RecheckInterval,
		fired:           c.FiredCounter,
	}
}

// CheckAlerts runs one tick: every enabled user's portfolio
// threshold, then every configured per-asset threshold. Failures are
// contained to the unit they occur in.
func (s *Service) CheckAlerts(ctx context.Context) {
	log.Debug("Checking alerts...")
	s.checkGlobalAlerts(ctx)
	s.checkHoldingAlerts(ctx)
	log.Debug("Alert check completed.")
}

func (s *Service) checkGlobalAlerts(ctx context.Context) {
	users, err := database.GetUsersForAlertCheck()
	if err != nil {
		log.Errorf("Failed to fetch users for alert check: %v", err)
		return
	}

	for _, user := range users {
		if err := s.checkUserPortfolio(ctx, user); err != nil {
			log.Errorf("Portfolio alert check failed for user %d: %v", user.UserID, err)
		}
	}
}

func (s *Service) checkUserPortfolio(ctx context.Context, user database.UserSettings) error {
	if s.recheckInterval > 0 && user.LastCheckTime != nil && time.Since(*user.LastCheckTime) < s.recheckInterval {
		return nil
	}

	// No baseline yet: record the first observation and stop. The
	// very first look at a portfolio cannot be a "change".
	if user.LastPortfolioValue == nil || user.LastCheckTime == nil {
		current, err := s.PortfolioValue(ctx, user.UserID)
		if err != nil {
			return err
		}
		return database.UpdateLastPortfolioValue(user.UserID, current)
	}

	baseline := *user.LastPortfolioValue
	if baseline.IsZero() {
		// Percentage change from zero is undefined; leave the state
		// untouched until a real baseline is recorded.
		return nil
	}

	current, err := s.PortfolioValue(ctx, user.UserID)
	if err != nil {
		return err
	}

	change := percentChange(current, baseline)
	if change.LessThan(decimal.NewFromFloat(user.GlobalThreshold)) {
		return database.TouchLastCheck(user.UserID)
	}

	direction, icon := directionOf(current, baseline)
	text := fmt.Sprintf(
		translation.Translate("🚨 *Portfolio Movement Alert* %s\n\nYour total portfolio value went *%s* by *%s*\\.\n\n▪️ Previous value: %s\n▪️ Current value: %s"),
		icon,
		direction,
		helpers.EscapeMarkdownV2(helpers.FormatPercent(change)),
		helpers.EscapeMarkdownV2(helpers.FormatPrice(baseline)),
		helpers.EscapeMarkdownV2(helpers.FormatPrice(current)),
	)

	if err := s.dispatch(user.UserID, text); err != nil {
		return err
	}
	return database.UpdateLastPortfolioValue(user.UserID, current)
}

func (s *Service) checkHoldingAlerts(ctx context.Context) {
	holdings, err := database.GetHoldingsForAlertCheck()
	if err != nil {
		log.Errorf("Failed to fetch holdings for alert check: %v", err)
		return
	}

	for _, h := range holdings {
		if err := s.checkHolding(ctx, h); err != nil {
			log.Errorf("Price alert check failed for %s (user %d): %v", h.Symbol, h.UserID, err)
		}
	}
}

func (s *Service) checkHolding(ctx context.Context, h database.Holding) error {
	current, err := s.quotes.FetchQuote(ctx, h.Market, h.Symbol)
	if err != nil {
		return err
	}

	if h.AlertBaseline == nil {
		return database.SetHoldingBaseline(h.ID, current)
	}

	baseline := *h.AlertBaseline
	if baseline.IsZero() {
		return nil
	}

	change := percentChange(current, baseline)
	if h.AlertThreshold == nil || change.LessThan(decimal.NewFromFloat(*h.AlertThreshold)) {
		return nil
	}

	direction, icon := directionOf(current, baseline)
	text := fmt.Sprintf(
		translation.Translate("🔔 *%s Price Alert* %s\n\nThe price went *%s* by *%s*\\.\n\n▪️ Previous price: %s\n▪️ Current price: %s"),
		helpers.EscapeMarkdownV2(h.Symbol),
		icon,
		direction,
		helpers.EscapeMarkdownV2(helpers.FormatPercent(change)),
		helpers.EscapeMarkdownV2(helpers.FormatPrice(baseline)),
		helpers.EscapeMarkdownV2(helpers.FormatPrice(current)),
	)

	if err := s.dispatch(h.UserID, text); err != nil {
		return err
	}
	return database.SetHoldingBaseline(h.ID, current)
}

// PortfolioValue prices the user's holdings and returns the total
// current value, falling back to cost for unpriced positions.
func (s *Service) PortfolioValue(ctx context.Context, userID int64) (decimal.Decimal, error) {
	holdings, err := database.GetPortfolio(userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(holdings) == 0 {
		return decimal.Zero, nil
	}

	v := valuation.ValuePortfolio(holdingViews(holdings), s.quotes.FetchQuotes(ctx, quoteRequests(holdings)))
	return v.TotalValue, nil
}

// dispatch sends one notification and then sleeps briefly so a tick
// with many recipients stays inside the channel's rate limits.
func (s *Service) dispatch(userID int64, text string) error {
	if err := s.notifier.Notify(userID, text); err != nil {
		return err
	}
	if s.fired != nil {
		s.fired.Inc()
	}
	if s.dispatchDelay > 0 {
		time.Sleep(s.dispatchDelay)
	}
	return nil
}

func percentChange(current, baseline decimal.Decimal) decimal.Decimal {
	return current.Sub(baseline).Abs().Div(baseline).Mul(decimal.NewFromInt(100))
}

func directionOf(current, baseline decimal.Decimal) (string, string) {
	if current.GreaterThan(baseline) {
		return translation.Translate("up"), "📈"
	}
	return translation.Translate("down"), "📉"
}

func quoteRequests(holdings []database.Holding) []price.Request {
	requests := make([]price.Request, len(holdings))
	for i, h := range holdings {
		requests[i] = price.Request{Market: h.Market, Symbol: h.Symbol}
	}
	return requests
}

func holdingViews(holdings []database.Holding) []valuation.Holding {
	views := make([]valuation.Holding, len(holdings))
	for i, h := range holdings {
		views[i] = h.View()
	}
	return views
}
