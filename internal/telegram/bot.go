package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"portfolio-telegram-bot/internal/database"
	"portfolio-telegram-bot/internal/market"
	"portfolio-telegram-bot/internal/price"
	"portfolio-telegram-bot/lib/translation"
)

const reportTimeout = 30 * time.Second

// NewBot creates new telegram bot
func NewBot(c BotConfig, registry *market.Registry, quotes *price.Aggregator) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:           bot,
		Config:        c,
		registry:      registry,
		quotes:        quotes,
		conversations: make(map[int64]*conversation),
	}, nil
}

// SetReporter wires the portfolio reporter in after construction; the
// alert engine needs the bot as its notifier, so the two are created
// in sequence.
func (b *Bot) SetReporter(r Reporter) {
	b.reporter = r
}

// GetUpdatesChannel gets new updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.Bot.GetUpdatesChan(updatesConfig), nil
}

// SendMessage sends a MarkdownV2 telegram message.
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"
	_, err := b.Bot.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// Notify implements the alert engine's notifier over this chat.
func (b *Bot) Notify(userID int64, text string) error {
	return b.SendMessage(Message{ChatID: userID, Text: text})
}

// reply sends plain conversational text, optionally with a keyboard.
func (b *Bot) reply(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.Bot.Send(msg); err != nil {
		log.Errorf("Failed to send reply to chat %d: %v", chatID, err)
	}
}

// HandleUpdate routes one update into the command handlers or the
// active conversation for that chat.
func (b *Bot) HandleUpdate(u tgbotapi.Update) {
	if u.CallbackQuery != nil {
		b.handleCallbackQuery(u.CallbackQuery)
		return
	}
	if u.Message == nil {
		return
	}

	chatID := u.Message.Chat.ID
	userID := chatID // private chats only: the chat is the user

	if u.Message.IsCommand() {
		switch u.Message.Command() {
		case "start":
			b.handleStart(chatID, userID, u.Message.From)
		case "help":
			b.handleHelp(chatID)
		case "cancel":
			b.cancelConversation(chatID)
		default:
			b.reply(chatID, translation.Translate("Unknown command. Use the keyboard below."), mainKeyboard())
		}
		return
	}

	text := u.Message.Text
	if text == "" {
		log.Debug("Received non-text message")
		return
	}

	if conv := b.activeConversation(chatID); conv != nil {
		b.continueConversation(chatID, userID, conv, text)
		return
	}

	switch text {
	case buttonPortfolio:
		b.handlePortfolio(chatID, userID)
	case buttonAdd:
		b.startAdd(chatID)
	case buttonRemove:
		b.startRemove(chatID)
	case buttonEdit:
		b.startEdit(chatID)
	case buttonImport:
		b.startImport(chatID)
	case buttonSettings:
		b.startSettings(chatID, userID)
	case buttonHelp:
		b.handleHelp(chatID)
	default:
		log.Debugf("Unhandled message in chat %d", chatID)
	}
}

func (b *Bot) handleStart(chatID, userID int64, from *tgbotapi.User) {
	if _, err := database.GetOrCreateSettings(userID); err != nil {
		log.Errorf("Failed to create settings for user %d: %v", userID, err)
	}

	name := ""
	if from != nil {
		name = from.FirstName
	}
	b.reply(chatID, fmt.Sprintf(translation.Translate("Welcome, %s! Use the keyboard below to manage your portfolio."), name), mainKeyboard())
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, translation.Translate("Use the buttons below to manage your portfolio."), mainKeyboard())
}

func (b *Bot) handlePortfolio(chatID, userID int64) {
	b.reply(chatID, translation.Translate("⏳ Preparing your report..."), nil)

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	report, err := b.reporter.BuildReport(ctx, userID)
	if err != nil {
		log.Errorf("Failed to build report for user %d: %v", userID, err)
		b.reply(chatID, translation.Translate("Something went wrong building your report. Please try again."), mainKeyboard())
		return
	}

	if err := b.SendMessage(Message{ChatID: chatID, Text: report}); err != nil {
		log.Errorf("Failed to send report to chat %d: %v", chatID, err)
	}
}
