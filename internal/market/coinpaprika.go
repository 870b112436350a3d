package market

import (
	"context"
	"strings"
	"sync"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// paprikaAdapter quotes through the CoinPaprika aggregate API rather
// than a single exchange. Symbols resolve by base currency, so the
// normalized spelling of BTC/USDT is just BTC, quoted in USD.
type paprikaAdapter struct {
	client  *coinpaprika.Client
	mu      sync.RWMutex
	coinIDs map[string]string
}

// NewCoinpaprika builds the CoinPaprika adapter. apiKey may be empty,
// which uses the free API tier.
func NewCoinpaprika(apiKey string) Adapter {
	var client *coinpaprika.Client
	if apiKey != "" {
		client = coinpaprika.NewClient(nil, coinpaprika.WithAPIKey(apiKey))
	} else {
		client = coinpaprika.NewClient(nil)
	}
	return &paprikaAdapter{
		client:  client,
		coinIDs: make(map[string]string),
	}
}

func (a *paprikaAdapter) Name() string { return "coinpaprika" }

func (a *paprikaAdapter) NormalizeSymbol(pair string) string {
	base, _, found := strings.Cut(pair, "/")
	if !found {
		base = pair
	}
	return strings.ToUpper(base)
}

func (a *paprikaAdapter) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, err
	}

	coinID, err := a.resolveCoinID(symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}

	ticker, err := a.client.Tickers.GetByID(coinID, &coinpaprika.TickersOptions{Quotes: "USD"})
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "coinpaprika: could not fetch ticker for %s", coinID)
	}

	usd, ok := ticker.Quotes["USD"]
	if !ok || usd.Price == nil {
		return decimal.Decimal{}, errors.Errorf("coinpaprika: no USD quote for %s", coinID)
	}
	return decimal.NewFromFloat(*usd.Price), nil
}

// resolveCoinID maps a base currency symbol to a CoinPaprika coin id,
// caching hits so the per-tick cost is one ticker call per holding.
func (a *paprikaAdapter) resolveCoinID(symbol string) (string, error) {
	base := a.NormalizeSymbol(symbol)

	a.mu.RLock()
	id, ok := a.coinIDs[base]
	a.mu.RUnlock()
	if ok {
		return id, nil
	}

	result, err := a.client.Search.Search(&coinpaprika.SearchOptions{
		Query:      base,
		Categories: "currencies",
		Modifier:   "symbol_search",
	})
	if err != nil || len(result.Currencies) == 0 {
		return "", errors.Errorf("coinpaprika: no coin found for symbol %s", base)
	}

	coin := result.Currencies[0]
	if coin.ID == nil {
		return "", errors.Errorf("coinpaprika: search result for %s has no id", base)
	}

	a.mu.Lock()
	a.coinIDs[base] = *coin.ID
	a.mu.Unlock()

	log.Debugf("coinpaprika: resolved %s to %s", base, *coin.ID)
	return *coin.ID, nil
}
