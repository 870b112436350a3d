package market

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Options configures a market adapter the way the underlying clients
// expect: an optional built-in request throttle and a fixed deadline
// per call.
type Options struct {
	RateLimit   bool
	MinInterval time.Duration
	Timeout     time.Duration
}

func (o Options) minInterval() time.Duration {
	if o.MinInterval > 0 {
		return o.MinInterval
	}
	return 250 * time.Millisecond
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 10 * time.Second
}

// throttle spaces requests at least minInterval apart. The corpus of
// exchange clients ships per-client limiters like this one; nothing
// heavier is needed for one request per holding per tick.
type throttle struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

func (t *throttle) wait() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if sleep := t.interval - time.Since(t.last); sleep > 0 {
		time.Sleep(sleep)
	}
	t.last = time.Now()
}

// restAdapter is a spot-ticker client for one exchange's public REST
// API. makeURL spells the request for a market-native symbol and
// parse extracts the last trade price from the response body.
type restAdapter struct {
	name      string
	separator string
	makeURL   func(symbol string) string
	parse     func(body []byte) (string, error)
	client    *http.Client
	limiter   *throttle
}

func newRESTAdapter(name, separator string, makeURL func(string) string, parse func([]byte) (string, error), opts Options) *restAdapter {
	a := &restAdapter{
		name:      name,
		separator: separator,
		makeURL:   makeURL,
		parse:     parse,
		client:    &http.Client{Timeout: opts.timeout()},
	}
	if opts.RateLimit {
		a.limiter = &throttle{interval: opts.minInterval()}
	}
	return a
}

func (a *restAdapter) Name() string { return a.name }

func (a *restAdapter) NormalizeSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", a.separator))
}

func (a *restAdapter) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	a.limiter.wait()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.makeURL(symbol), nil)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "%s: could not build ticker request", a.name)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "%s: ticker request failed", a.name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "%s: could not read ticker response", a.name)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, errors.Errorf("%s: ticker request for %s returned status %d", a.name, symbol, resp.StatusCode)
	}

	raw, err := a.parse(body)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "%s: could not parse ticker for %s", a.name, symbol)
	}

	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "%s: invalid price %q for %s", a.name, raw, symbol)
	}
	return p, nil
}

// NewExchange builds the adapter for one of the supported spot
// exchanges. baseURL overrides the production endpoint and exists for
// tests; pass "" for the real API.
func NewExchange(name, baseURL string, opts Options) (Adapter, error) {
	switch name {
	case "binance":
		return newBinanceStyle(name, pick(baseURL, "https://api.binance.com"), opts), nil
	case "mexc":
		return newBinanceStyle(name, pick(baseURL, "https://api.mexc.com"), opts), nil
	case "bybit":
		return newBybit(pick(baseURL, "https://api.bybit.com"), opts), nil
	case "okx":
		return newOKX(pick(baseURL, "https://www.okx.com"), opts), nil
	case "kucoin":
		return newKuCoin(pick(baseURL, "https://api.kucoin.com"), opts), nil
	case "gateio":
		return newGateIO(pick(baseURL, "https://api.gateio.ws"), opts), nil
	default:
		return nil, errors.Errorf("unsupported market: %s", name)
	}
}

func pick(override, production string) string {
	if override != "" {
		return override
	}
	return production
}

// binance and mexc share API shape: concatenated symbols and a flat
// {"symbol","price"} ticker payload.
func newBinanceStyle(name, baseURL string, opts Options) *restAdapter {
	return newRESTAdapter(name, "",
		func(symbol string) string {
			return baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)
		},
		func(body []byte) (string, error) {
			var t struct {
				Price string `json:"price"`
			}
			if err := json.Unmarshal(body, &t); err != nil {
				return "", err
			}
			if t.Price == "" {
				return "", errors.New("empty price in response")
			}
			return t.Price, nil
		}, opts)
}

func newBybit(baseURL string, opts Options) *restAdapter {
	return newRESTAdapter("bybit", "",
		func(symbol string) string {
			return baseURL + "/v5/market/tickers?category=spot&symbol=" + url.QueryEscape(symbol)
		},
		func(body []byte) (string, error) {
			var t struct {
				RetCode int `json:"retCode"`
				Result  struct {
					List []struct {
						LastPrice string `json:"lastPrice"`
					} `json:"list"`
				} `json:"result"`
			}
			if err := json.Unmarshal(body, &t); err != nil {
				return "", err
			}
			if t.RetCode != 0 || len(t.Result.List) == 0 || t.Result.List[0].LastPrice == "" {
				return "", errors.Errorf("no ticker in response (retCode=%d)", t.RetCode)
			}
			return t.Result.List[0].LastPrice, nil
		}, opts)
}

func newOKX(baseURL string, opts Options) *restAdapter {
	return newRESTAdapter("okx", "-",
		func(symbol string) string {
			return baseURL + "/api/v5/market/ticker?instId=" + url.QueryEscape(symbol)
		},
		func(body []byte) (string, error) {
			var t struct {
				Code string `json:"code"`
				Data []struct {
					Last string `json:"last"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &t); err != nil {
				return "", err
			}
			if t.Code != "0" || len(t.Data) == 0 || t.Data[0].Last == "" {
				return "", errors.Errorf("no ticker in response (code=%s)", t.Code)
			}
			return t.Data[0].Last, nil
		}, opts)
}

func newKuCoin(baseURL string, opts Options) *restAdapter {
	return newRESTAdapter("kucoin", "-",
		func(symbol string) string {
			return baseURL + "/api/v1/market/orderbook/level1?symbol=" + url.QueryEscape(symbol)
		},
		func(body []byte) (string, error) {
			var t struct {
				Code string `json:"code"`
				Data struct {
					Price string `json:"price"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &t); err != nil {
				return "", err
			}
			if t.Code != "200000" || t.Data.Price == "" {
				return "", errors.Errorf("no ticker in response (code=%s)", t.Code)
			}
			return t.Data.Price, nil
		}, opts)
}

func newGateIO(baseURL string, opts Options) *restAdapter {
	return newRESTAdapter("gateio", "_",
		func(symbol string) string {
			return baseURL + "/api/v4/spot/tickers?currency_pair=" + url.QueryEscape(symbol)
		},
		func(body []byte) (string, error) {
			var t []struct {
				Last string `json:"last"`
			}
			if err := json.Unmarshal(body, &t); err != nil {
				return "", err
			}
			if len(t) == 0 || t[0].Last == "" {
				return "", errors.New("no ticker in response")
			}
			return t[0].Last, nil
		}, opts)
}
