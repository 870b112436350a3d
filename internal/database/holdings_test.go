package database

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func TestUpsertBuyCreatesAndMerges(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, UpsertBuy(7, "btc/usdt", "Binance", d(t, "1"), d(t, "50000")))

	holdings, err := GetPortfolio(7)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "BTC/USDT", holdings[0].Symbol)
	assert.Equal(t, "binance", holdings[0].Market)
	assert.True(t, holdings[0].Quantity.Equal(d(t, "1")))
	assert.True(t, holdings[0].AvgPrice.Equal(d(t, "50000")))

	// A second buy of the same pair merges instead of duplicating.
	require.NoError(t, UpsertBuy(7, "BTC/USDT", "binance", d(t, "1"), d(t, "60000")))

	holdings, err = GetPortfolio(7)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Quantity.Equal(d(t, "2")))
	assert.True(t, holdings[0].AvgPrice.Equal(d(t, "55000")))
}

func TestUpsertBuySeparatesMarkets(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, UpsertBuy(7, "BTC/USDT", "binance", d(t, "1"), d(t, "50000")))
	require.NoError(t, UpsertBuy(7, "BTC/USDT", "okx", d(t, "1"), d(t, "50100")))

	holdings, err := GetPortfolio(7)
	require.NoError(t, err)
	assert.Len(t, holdings, 2)
}

func TestUpsertBuyRejectsNonPositiveInput(t *testing.T) {
	setupTestDB(t)

	assert.Error(t, UpsertBuy(7, "BTC/USDT", "binance", d(t, "0"), d(t, "50000")))
	assert.Error(t, UpsertBuy(7, "BTC/USDT", "binance", d(t, "1"), d(t, "-5")))

	holdings, err := GetPortfolio(7)
	require.NoError(t, err)
	assert.Empty(t, holdings)
}

func TestHoldingAccessIsUserScoped(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, UpsertBuy(7, "BTC/USDT", "binance", d(t, "1"), d(t, "50000")))
	holdings, err := GetPortfolio(7)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	id := holdings[0].ID

	// Another user cannot read, edit or delete the holding.
	h, err := GetHoldingByID(id, 8)
	require.NoError(t, err)
	assert.Nil(t, h)

	changed, err := UpdateHoldingQuantity(id, 8, d(t, "99"))
	require.NoError(t, err)
	assert.False(t, changed)

	removed, err := RemoveHolding(id, 8)
	require.NoError(t, err)
	assert.False(t, removed)

	// The owner can.
	h, err = GetHoldingByID(id, 7)
	require.NoError(t, err)
	require.NotNil(t, h)

	changed, err = UpdateHoldingQuantity(id, 7, d(t, "3"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = UpdateHoldingAvgPrice(id, 7, d(t, "48000"))
	require.NoError(t, err)
	assert.True(t, changed)

	h, err = GetHoldingByID(id, 7)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d(t, "3")))
	assert.True(t, h.AvgPrice.Equal(d(t, "48000")))

	removed, err = RemoveHolding(id, 7)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestSetHoldingAlertZeroDisables(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, UpsertBuy(7, "BTC/USDT", "binance", d(t, "1"), d(t, "50000")))
	holdings, err := GetPortfolio(7)
	require.NoError(t, err)
	id := holdings[0].ID

	require.NoError(t, SetHoldingAlert(id, 7, 5, d(t, "50000")))
	h, err := GetHoldingByID(id, 7)
	require.NoError(t, err)
	require.NotNil(t, h.AlertThreshold)
	assert.Equal(t, 5.0, *h.AlertThreshold)
	require.NotNil(t, h.AlertBaseline)
	assert.True(t, h.AlertBaseline.Equal(d(t, "50000")))

	// Zero clears both the threshold and the baseline.
	require.NoError(t, SetHoldingAlert(id, 7, 0, decimal.Zero))
	h, err = GetHoldingByID(id, 7)
	require.NoError(t, err)
	assert.Nil(t, h.AlertThreshold)
	assert.Nil(t, h.AlertBaseline)
}

func TestSetHoldingAlertZeroBaselineStoresNull(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, UpsertBuy(7, "BTC/USDT", "binance", d(t, "1"), d(t, "50000")))
	holdings, err := GetPortfolio(7)
	require.NoError(t, err)
	id := holdings[0].ID

	// No reference price known at configuration time: the threshold is
	// kept but the baseline stays absent.
	require.NoError(t, SetHoldingAlert(id, 7, 5, decimal.Zero))
	h, err := GetHoldingByID(id, 7)
	require.NoError(t, err)
	require.NotNil(t, h.AlertThreshold)
	assert.Equal(t, 5.0, *h.AlertThreshold)
	assert.Nil(t, h.AlertBaseline)
}

func TestGetHoldingsForAlertCheckFilters(t *testing.T) {
	setupTestDB(t)

	// user 1: alerts on, holding with threshold -> included
	require.NoError(t, UpsertBuy(1, "BTC/USDT", "binance", d(t, "1"), d(t, "50000")))
	// user 1: second holding without threshold -> excluded
	require.NoError(t, UpsertBuy(1, "ETH/USDT", "binance", d(t, "1"), d(t, "3000")))
	// user 2: alerts off, holding with threshold -> excluded
	require.NoError(t, UpsertBuy(2, "BTC/USDT", "okx", d(t, "1"), d(t, "50000")))

	_, err := GetOrCreateSettings(1)
	require.NoError(t, err)
	require.NoError(t, UpdateAlertSettings(1, true, 5))
	_, err = GetOrCreateSettings(2)
	require.NoError(t, err)

	h1, err := GetPortfolio(1)
	require.NoError(t, err)
	h2, err := GetPortfolio(2)
	require.NoError(t, err)
	require.NoError(t, SetHoldingAlert(h1[0].ID, 1, 5, d(t, "50000")))
	require.NoError(t, SetHoldingAlert(h2[0].ID, 2, 5, d(t, "50000")))

	due, err := GetHoldingsForAlertCheck()
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].UserID)
	assert.Equal(t, "BTC/USDT", due[0].Symbol)
}

func TestGetUsersWithHoldings(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, UpsertBuy(1, "BTC/USDT", "binance", d(t, "1"), d(t, "50000")))
	require.NoError(t, UpsertBuy(1, "ETH/USDT", "binance", d(t, "1"), d(t, "3000")))
	require.NoError(t, UpsertBuy(2, "BTC/USDT", "okx", d(t, "1"), d(t, "50000")))

	users, err := GetUsersWithHoldings()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, users)
}

func TestGetOrCreateSettingsDefaults(t *testing.T) {
	setupTestDB(t)

	s, err := GetOrCreateSettings(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.UserID)
	assert.False(t, s.AlertsEnabled)
	assert.Equal(t, 5.0, s.GlobalThreshold)
	assert.Nil(t, s.LastPortfolioValue)
	assert.Nil(t, s.LastCheckTime)

	// Second call returns the same row, not a reset one.
	require.NoError(t, UpdateAlertSettings(7, true, 10))
	s, err = GetOrCreateSettings(7)
	require.NoError(t, err)
	assert.True(t, s.AlertsEnabled)
	assert.Equal(t, 10.0, s.GlobalThreshold)
}

func TestUpdateLastPortfolioValue(t *testing.T) {
	setupTestDB(t)

	_, err := GetOrCreateSettings(7)
	require.NoError(t, err)

	require.NoError(t, UpdateLastPortfolioValue(7, d(t, "12345.678901234567890123")))

	s, err := GetOrCreateSettings(7)
	require.NoError(t, err)
	require.NotNil(t, s.LastPortfolioValue)
	assert.True(t, s.LastPortfolioValue.Equal(d(t, "12345.678901234567890123")))
	require.NotNil(t, s.LastCheckTime)
	assert.False(t, s.LastCheckTime.IsZero())
}

func TestTouchLastCheckKeepsBaseline(t *testing.T) {
	setupTestDB(t)

	_, err := GetOrCreateSettings(7)
	require.NoError(t, err)
	require.NoError(t, UpdateLastPortfolioValue(7, d(t, "100")))

	s, err := GetOrCreateSettings(7)
	require.NoError(t, err)
	require.NotNil(t, s.LastCheckTime)
	before := *s.LastCheckTime

	require.NoError(t, TouchLastCheck(7))

	s, err = GetOrCreateSettings(7)
	require.NoError(t, err)
	assert.True(t, s.LastPortfolioValue.Equal(d(t, "100")), "baseline must survive a touch")
	assert.False(t, s.LastCheckTime.Before(before))
}

func TestGetUsersForAlertCheck(t *testing.T) {
	setupTestDB(t)

	_, err := GetOrCreateSettings(1)
	require.NoError(t, err)
	_, err = GetOrCreateSettings(2)
	require.NoError(t, err)
	require.NoError(t, UpdateAlertSettings(2, true, 7.5))

	users, err := GetUsersForAlertCheck()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(2), users[0].UserID)
	assert.Equal(t, 7.5, users[0].GlobalThreshold)
}
