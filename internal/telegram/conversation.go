package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"portfolio-telegram-bot/internal/database"
	"portfolio-telegram-bot/lib/helpers"
	"portfolio-telegram-bot/lib/translation"
)

// Main keyboard labels double as routing keys; incoming text is
// matched against the exact button captions.
const (
	buttonPortfolio = "📊 Portfolio"
	buttonAdd       = "➕ Add Coin"
	buttonRemove    = "🗑 Remove Coin"
	buttonEdit      = "✏️ Edit Coin"
	buttonImport    = "📥 Import Portfolio"
	buttonSettings  = "⚙️ Settings"
	buttonHelp      = "❓ Help"
	buttonBack      = "🔙 Back to Main Menu"
)

const (
	callbackEditQuantity   = "edit_quantity"
	callbackEditPrice      = "edit_price"
	callbackPrefixSetAlert = "setalert_"
)

type convState int

const (
	stateAddMarket convState = iota
	stateAddSymbol
	stateAddQuantity
	stateAddPrice
	stateRemoveID
	stateEditID
	stateEditChooseField
	stateEditQuantity
	stateEditPrice
	stateSettings
	stateGlobalThreshold
	stateCoinThreshold
	stateImport
)

// conversation is the in-progress multi-step flow for one chat.
type conversation struct {
	state          convState
	market         string
	symbol         string
	quantity       decimal.Decimal
	editHoldingID  int64
	alertHoldingID int64
}

func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonPortfolio)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonAdd), tgbotapi.NewKeyboardButton(buttonRemove)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonEdit), tgbotapi.NewKeyboardButton(buttonImport)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonSettings), tgbotapi.NewKeyboardButton(buttonHelp)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func (b *Bot) activeConversation(chatID int64) *conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[chatID]
}

func (b *Bot) setConversation(chatID int64, conv *conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[chatID] = conv
}

func (b *Bot) clearConversation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, chatID)
}

func (b *Bot) cancelConversation(chatID int64) {
	b.clearConversation(chatID)
	b.reply(chatID, translation.Translate("Operation cancelled."), mainKeyboard())
}

func (b *Bot) continueConversation(chatID, userID int64, conv *conversation, text string) {
	if text == buttonBack {
		b.cancelConversation(chatID)
		return
	}

	switch conv.state {
	case stateAddMarket:
		b.receivedMarket(chatID, conv, text)
	case stateAddSymbol:
		b.receivedSymbol(chatID, conv, text)
	case stateAddQuantity:
		b.receivedQuantity(chatID, conv, text)
	case stateAddPrice:
		b.receivedPrice(chatID, userID, conv, text)
	case stateRemoveID:
		b.receivedRemoveID(chatID, userID, text)
	case stateEditID:
		b.receivedEditID(chatID, userID, conv, text)
	case stateEditQuantity:
		b.receivedNewQuantity(chatID, userID, conv, text)
	case stateEditPrice:
		b.receivedNewPrice(chatID, userID, conv, text)
	case stateSettings:
		b.receivedSettingsChoice(chatID, userID, conv, text)
	case stateGlobalThreshold:
		b.receivedGlobalThreshold(chatID, userID, text)
	case stateCoinThreshold:
		b.receivedCoinThreshold(chatID, userID, conv, text)
	case stateImport:
		b.receivedImport(chatID, userID, text)
	default:
		b.cancelConversation(chatID)
	}
}

// --- Add coin flow ---

func (b *Bot) startAdd(chatID int64) {
	names := b.registry.Names()
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(names); i += 3 {
		end := i + 3
		if end > len(names) {
			end = len(names)
		}
		var row []tgbotapi.KeyboardButton
		for _, name := range names[i:end] {
			row = append(row, tgbotapi.NewKeyboardButton(name))
		}
		rows = append(rows, row)
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true

	b.setConversation(chatID, &conversation{state: stateAddMarket})
	b.reply(chatID, translation.Translate("Step 1 of 4: choose the market you bought on."), kb)
}

func (b *Bot) receivedMarket(chatID int64, conv *conversation, text string) {
	name := strings.ToLower(strings.TrimSpace(text))
	if _, ok := b.registry.Get(name); !ok {
		b.reply(chatID, translation.Translate("Unsupported market. Please choose one from the keyboard."), nil)
		return
	}
	conv.market = name
	conv.state = stateAddSymbol
	b.reply(chatID, translation.Translate("Step 2 of 4: enter the coin symbol (e.g. BTC)."), tgbotapi.NewRemoveKeyboard(false))
}

func (b *Bot) receivedSymbol(chatID int64, conv *conversation, text string) {
	symbol := strings.ToUpper(strings.TrimSpace(text))
	if symbol == "" {
		b.reply(chatID, translation.Translate("Please enter a coin symbol."), nil)
		return
	}
	if !strings.Contains(symbol, "/") {
		symbol += "/USDT"
	}
	conv.symbol = symbol
	conv.state = stateAddQuantity
	b.reply(chatID, fmt.Sprintf(translation.Translate("Selected: %s\n\nStep 3 of 4: what quantity?"), symbol), nil)
}

func (b *Bot) receivedQuantity(chatID int64, conv *conversation, text string) {
	qty, err := parsePositiveDecimal(text)
	if err != nil {
		b.reply(chatID, translation.Translate("Invalid value. Please enter the quantity as a positive number."), nil)
		return
	}
	conv.quantity = qty
	conv.state = stateAddPrice
	b.reply(chatID, translation.Translate("Step 4 of 4: what was the average buy price per coin?"), nil)
}

func (b *Bot) receivedPrice(chatID, userID int64, conv *conversation, text string) {
	buyPrice, err := parsePositiveDecimal(text)
	if err != nil {
		b.reply(chatID, translation.Translate("Invalid value. Please enter the price as a positive number."), nil)
		return
	}

	if err := database.UpsertBuy(userID, conv.symbol, conv.market, conv.quantity, buyPrice); err != nil {
		log.Errorf("Failed to record buy for user %d: %v", userID, err)
		b.reply(chatID, translation.Translate("Something went wrong saving the coin. Please try again."), mainKeyboard())
		b.clearConversation(chatID)
		return
	}

	b.refreshPortfolioBaseline(userID)
	b.reply(chatID, fmt.Sprintf(translation.Translate("✅ %s added/updated successfully!"), conv.symbol), mainKeyboard())
	b.clearConversation(chatID)
}

// refreshPortfolioBaseline recomputes the global alert baseline after
// a mutation so the next tick doesn't report the deposit itself as a
// price move.
func (b *Bot) refreshPortfolioBaseline(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	value, err := b.reporter.PortfolioValue(ctx, userID)
	if err != nil {
		log.Warnf("Could not refresh portfolio baseline for user %d: %v", userID, err)
		return
	}
	if err := database.UpdateLastPortfolioValue(userID, value); err != nil {
		log.Warnf("Could not store portfolio baseline for user %d: %v", userID, err)
	}
}

// --- Remove coin flow ---

func (b *Bot) startRemove(chatID int64) {
	b.setConversation(chatID, &conversation{state: stateRemoveID})
	b.reply(chatID, translation.Translate("To remove a position, send its ID number."), tgbotapi.NewRemoveKeyboard(false))
}

func (b *Bot) receivedRemoveID(chatID, userID int64, text string) {
	defer b.clearConversation(chatID)

	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		b.reply(chatID, translation.Translate("Invalid input. Send a number only."), mainKeyboard())
		return
	}

	removed, err := database.RemoveHolding(id, userID)
	if err != nil {
		log.Errorf("Failed to remove holding %d for user %d: %v", id, userID, err)
		b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
		return
	}
	if !removed {
		b.reply(chatID, fmt.Sprintf(translation.Translate("No position found with ID %d."), id), mainKeyboard())
		return
	}
	b.reply(chatID, fmt.Sprintf(translation.Translate("✅ Position %d removed."), id), mainKeyboard())
}

// --- Edit coin flow ---

func (b *Bot) startEdit(chatID int64) {
	b.setConversation(chatID, &conversation{state: stateEditID})
	b.reply(chatID, translation.Translate("To edit a coin, send its ID number."), tgbotapi.NewRemoveKeyboard(false))
}

func (b *Bot) receivedEditID(chatID, userID int64, conv *conversation, text string) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		b.reply(chatID, translation.Translate("Invalid input. Send a valid ID number."), mainKeyboard())
		b.clearConversation(chatID)
		return
	}

	holding, err := database.GetHoldingByID(id, userID)
	if err != nil {
		log.Errorf("Failed to load holding %d for user %d: %v", id, userID, err)
		b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
		b.clearConversation(chatID)
		return
	}
	if holding == nil {
		b.reply(chatID, fmt.Sprintf(translation.Translate("No coin found with ID %d."), id), mainKeyboard())
		b.clearConversation(chatID)
		return
	}

	conv.editHoldingID = id
	conv.state = stateEditChooseField

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		translation.Translate("Selected coin: %s\nCurrent quantity: %s\nCurrent buy price: %s\n\nWhat would you like to edit?"),
		holding.Symbol,
		helpers.FormatQuantity(holding.Quantity),
		helpers.FormatPrice(holding.AvgPrice),
	))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(translation.Translate("✏️ Edit quantity"), callbackEditQuantity)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(translation.Translate("💰 Edit price"), callbackEditPrice)),
	)
	if _, err := b.Bot.Send(msg); err != nil {
		log.Errorf("Failed to send edit keyboard to chat %d: %v", chatID, err)
	}
}

func (b *Bot) receivedNewQuantity(chatID, userID int64, conv *conversation, text string) {
	qty, err := parsePositiveDecimal(text)
	if err != nil {
		b.reply(chatID, translation.Translate("Invalid value. Please enter the quantity as a positive number."), nil)
		return
	}

	updated, err := database.UpdateHoldingQuantity(conv.editHoldingID, userID, qty)
	b.finishEdit(chatID, updated, err)
}

func (b *Bot) receivedNewPrice(chatID, userID int64, conv *conversation, text string) {
	newPrice, err := parsePositiveDecimal(text)
	if err != nil {
		b.reply(chatID, translation.Translate("Invalid value. Please enter the price as a positive number."), nil)
		return
	}

	updated, err := database.UpdateHoldingAvgPrice(conv.editHoldingID, userID, newPrice)
	b.finishEdit(chatID, updated, err)
}

func (b *Bot) finishEdit(chatID int64, updated bool, err error) {
	defer b.clearConversation(chatID)
	if err != nil {
		log.Errorf("Failed to update holding: %v", err)
		b.reply(chatID, translation.Translate("❌ Update failed."), mainKeyboard())
		return
	}
	if !updated {
		b.reply(chatID, translation.Translate("❌ Update failed."), mainKeyboard())
		return
	}
	b.reply(chatID, translation.Translate("✅ Updated successfully."), mainKeyboard())
}

// --- Settings flow ---

func (b *Bot) startSettings(chatID, userID int64) {
	settings, err := database.GetOrCreateSettings(userID)
	if err != nil {
		log.Errorf("Failed to load settings for user %d: %v", userID, err)
		b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
		return
	}

	status := translation.Translate("🔕 disabled")
	if settings.AlertsEnabled {
		status = translation.Translate("🔔 enabled")
	}

	lastCheck := translation.Translate("never")
	if settings.LastCheckTime != nil {
		lastCheck = helpers.FormatRelativeTime(*settings.LastCheckTime)
	}

	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(fmt.Sprintf(translation.Translate("Toggle alerts (currently: %s)"), status))),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(fmt.Sprintf(translation.Translate("Portfolio alert threshold (current: %g%%)"), settings.GlobalThreshold))),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(translation.Translate("⚙️ Per-coin alerts"))),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonBack)),
	)
	kb.ResizeKeyboard = true

	b.setConversation(chatID, &conversation{state: stateSettings})
	b.reply(chatID, fmt.Sprintf(translation.Translate("⚙️ Settings\nLast alert check: %s"), lastCheck), kb)
}

func (b *Bot) receivedSettingsChoice(chatID, userID int64, conv *conversation, text string) {
	switch {
	case strings.HasPrefix(text, translation.Translate("Toggle alerts")):
		settings, err := database.GetOrCreateSettings(userID)
		if err == nil {
			err = database.UpdateAlertSettings(userID, !settings.AlertsEnabled, settings.GlobalThreshold)
		}
		if err != nil {
			log.Errorf("Failed to toggle alerts for user %d: %v", userID, err)
			b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
			b.clearConversation(chatID)
			return
		}
		b.reply(chatID, translation.Translate("✅ Alert status updated."), nil)
		b.startSettings(chatID, userID)

	case strings.HasPrefix(text, translation.Translate("Portfolio alert threshold")):
		conv.state = stateGlobalThreshold
		b.reply(chatID, translation.Translate("Send the new percentage for the whole-portfolio alert (1-100)."), tgbotapi.NewRemoveKeyboard(false))

	case text == translation.Translate("⚙️ Per-coin alerts"):
		b.startCoinAlerts(chatID, userID)

	default:
		b.reply(chatID, translation.Translate("Please choose an option from the keyboard."), nil)
	}
}

func (b *Bot) receivedGlobalThreshold(chatID, userID int64, text string) {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || threshold <= 0 || threshold > 100 {
		b.reply(chatID, translation.Translate("Invalid value. Please enter a number between 1 and 100."), nil)
		return
	}

	defer b.clearConversation(chatID)
	settings, err := database.GetOrCreateSettings(userID)
	if err == nil {
		err = database.UpdateAlertSettings(userID, settings.AlertsEnabled, threshold)
	}
	if err != nil {
		log.Errorf("Failed to update global threshold for user %d: %v", userID, err)
		b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
		return
	}
	b.reply(chatID, fmt.Sprintf(translation.Translate("✅ Portfolio alert threshold set to %g%%."), threshold), mainKeyboard())
}

func (b *Bot) startCoinAlerts(chatID, userID int64) {
	holdings, err := database.GetPortfolio(userID)
	if err != nil {
		log.Errorf("Failed to load portfolio for user %d: %v", userID, err)
		b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
		b.clearConversation(chatID)
		return
	}
	if len(holdings) == 0 {
		b.reply(chatID, translation.Translate("Your portfolio is empty. Add coins first."), mainKeyboard())
		b.clearConversation(chatID)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, h := range holdings {
		label := fmt.Sprintf("%s (%s)", h.Symbol, translation.Translate("off"))
		if h.AlertThreshold != nil {
			label = fmt.Sprintf("%s (%g%%)", h.Symbol, *h.AlertThreshold)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s%d", callbackPrefixSetAlert, h.ID)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, translation.Translate("Choose the coin to configure a custom alert for:"))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.Bot.Send(msg); err != nil {
		log.Errorf("Failed to send coin alert keyboard to chat %d: %v", chatID, err)
	}
}

func (b *Bot) receivedCoinThreshold(chatID, userID int64, conv *conversation, text string) {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || threshold < 0 || threshold > 100 {
		b.reply(chatID, translation.Translate("Invalid value. Please enter a number between 0 and 100."), nil)
		return
	}

	defer b.clearConversation(chatID)

	holding, err := database.GetHoldingByID(conv.alertHoldingID, userID)
	if err != nil || holding == nil {
		log.Errorf("Failed to load holding %d for user %d: %v", conv.alertHoldingID, userID, err)
		b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
		return
	}

	// Today's price becomes the alert baseline; on a fetch failure no
	// baseline is stored and the engine seeds one on its first
	// successful look.
	baseline := decimal.Zero
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	if current, err := b.quotes.FetchQuote(ctx, holding.Market, holding.Symbol); err == nil {
		baseline = current
	}
	cancel()

	if err := database.SetHoldingAlert(conv.alertHoldingID, userID, threshold, baseline); err != nil {
		log.Errorf("Failed to set alert for holding %d: %v", conv.alertHoldingID, err)
		b.reply(chatID, translation.Translate("Something went wrong. Please try again."), mainKeyboard())
		return
	}

	if threshold == 0 {
		b.reply(chatID, translation.Translate("✅ Coin alert disabled."), mainKeyboard())
		return
	}
	b.reply(chatID, translation.Translate("✅ Coin alert updated successfully."), mainKeyboard())
}

// --- Bulk import flow ---

func (b *Bot) startImport(chatID int64) {
	b.setConversation(chatID, &conversation{state: stateImport})
	b.reply(chatID, translation.Translate(
		"📥 Bulk portfolio import\n\n"+
			"Paste your coin list here, one coin per line:\n"+
			"market,symbol,quantity,average buy price\n\n"+
			"Example:\n"+
			"gateio,BITBOARD/USDT,18967,0.0009069\n"+
			"bybit,COOKIE/USDT,96.78,0.66\n"+
			"kucoin,POLC/USDT,1976,0.002095"),
		tgbotapi.NewRemoveKeyboard(false))
}

func (b *Bot) receivedImport(chatID, userID int64, text string) {
	defer b.clearConversation(chatID)

	var succeeded, failed int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := b.importLine(userID, line); err != nil {
			failed++
			log.Warnf("Failed to import line %q: %v", line, err)
			continue
		}
		succeeded++
	}

	b.refreshPortfolioBaseline(userID)
	b.reply(chatID, fmt.Sprintf(
		translation.Translate("✅ Import complete.\n\nProcessed %d coins successfully.\nFailed to process %d coins."),
		succeeded, failed), mainKeyboard())
}

func (b *Bot) importLine(userID int64, line string) error {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return fmt.Errorf("expected 4 fields, got %d", len(parts))
	}

	marketName := strings.ToLower(strings.TrimSpace(parts[0]))
	symbol := strings.ToUpper(strings.TrimSpace(parts[1]))
	if !strings.Contains(symbol, "/") {
		symbol += "/USDT"
	}
	if _, ok := b.registry.Get(marketName); !ok {
		return fmt.Errorf("unsupported market: %s", marketName)
	}

	qty, err := parsePositiveDecimal(parts[2])
	if err != nil {
		return err
	}
	buyPrice, err := parsePositiveDecimal(parts[3])
	if err != nil {
		return err
	}

	return database.UpsertBuy(userID, symbol, marketName, qty, buyPrice)
}

// --- Callback queries ---

func (b *Bot) handleCallbackQuery(q *tgbotapi.CallbackQuery) {
	if q.Message == nil {
		return
	}
	chatID := q.Message.Chat.ID

	if _, err := b.Bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Debugf("Failed to answer callback query: %v", err)
	}

	switch {
	case q.Data == callbackEditQuantity:
		if conv := b.activeConversation(chatID); conv != nil && conv.state == stateEditChooseField {
			conv.state = stateEditQuantity
			b.reply(chatID, translation.Translate("Send the new quantity."), nil)
		}
	case q.Data == callbackEditPrice:
		if conv := b.activeConversation(chatID); conv != nil && conv.state == stateEditChooseField {
			conv.state = stateEditPrice
			b.reply(chatID, translation.Translate("Send the new average buy price."), nil)
		}
	case strings.HasPrefix(q.Data, callbackPrefixSetAlert):
		id, err := strconv.ParseInt(strings.TrimPrefix(q.Data, callbackPrefixSetAlert), 10, 64)
		if err != nil {
			log.Warnf("Invalid alert callback data %q", q.Data)
			return
		}
		b.setConversation(chatID, &conversation{state: stateCoinThreshold, alertHoldingID: id})
		b.reply(chatID, translation.Translate("Send the new alert percentage for this coin (e.g. 10).\nSend 0 to disable the alert."), nil)
	default:
		log.Debugf("Unknown callback data %q", q.Data)
	}
}

func parsePositiveDecimal(text string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("value must be positive, got %s", d)
	}
	return d, nil
}
