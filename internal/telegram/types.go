package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"portfolio-telegram-bot/internal/market"
	"portfolio-telegram-bot/internal/price"
)

// BotConfig configuration of the bot
type BotConfig struct {
	Token          string
	Debug          bool
	UpdatesTimeout int
}

// Reporter renders portfolio state for display. The alert engine
// satisfies it.
type Reporter interface {
	BuildReport(ctx context.Context, userID int64) (string, error)
	PortfolioValue(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Bot telegram interaction client. It owns the per-chat conversation
// state that the step-by-step flows walk through.
type Bot struct {
	Bot      *tgbotapi.BotAPI
	Config   BotConfig
	registry *market.Registry
	quotes   *price.Aggregator
	reporter Reporter

	mu            sync.Mutex
	conversations map[int64]*conversation
}

// Message a telegram message struct
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
}
