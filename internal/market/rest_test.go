package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		market string
		pair   string
		want   string
	}{
		{"binance", "BTC/USDT", "BTCUSDT"},
		{"mexc", "btc/usdt", "BTCUSDT"},
		{"bybit", "BTC/USDT", "BTCUSDT"},
		{"okx", "BTC/USDT", "BTC-USDT"},
		{"kucoin", "eth/usdt", "ETH-USDT"},
		{"gateio", "BTC/USDT", "BTC_USDT"},
	}

	for _, tt := range tests {
		t.Run(tt.market, func(t *testing.T) {
			a, err := NewExchange(tt.market, "", Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.NormalizeSymbol(tt.pair))
			assert.Equal(t, tt.market, a.Name())
		})
	}
}

func TestNewExchangeUnknownMarket(t *testing.T) {
	_, err := NewExchange("hyperliquid", "", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported market")
}

func TestLastPriceParsing(t *testing.T) {
	tests := []struct {
		market  string
		symbol  string
		path    string
		query   string
		body    string
		want    string
		wantErr bool
	}{
		{
			market: "binance", symbol: "BTCUSDT",
			path: "/api/v3/ticker/price", query: "symbol=BTCUSDT",
			body: `{"symbol":"BTCUSDT","price":"69420.10000000"}`,
			want: "69420.1",
		},
		{
			market: "bybit", symbol: "BTCUSDT",
			path: "/v5/market/tickers", query: "category=spot&symbol=BTCUSDT",
			body: `{"retCode":0,"result":{"category":"spot","list":[{"symbol":"BTCUSDT","lastPrice":"69421.5"}]}}`,
			want: "69421.5",
		},
		{
			market: "okx", symbol: "BTC-USDT",
			path: "/api/v5/market/ticker", query: "instId=BTC-USDT",
			body: `{"code":"0","data":[{"instId":"BTC-USDT","last":"69419.9"}]}`,
			want: "69419.9",
		},
		{
			market: "kucoin", symbol: "BTC-USDT",
			path: "/api/v1/market/orderbook/level1", query: "symbol=BTC-USDT",
			body: `{"code":"200000","data":{"price":"69418.2"}}`,
			want: "69418.2",
		},
		{
			market: "gateio", symbol: "BTC_USDT",
			path: "/api/v4/spot/tickers", query: "currency_pair=BTC_USDT",
			body: `[{"currency_pair":"BTC_USDT","last":"69417.0"}]`,
			want: "69417",
		},
		{
			market: "bybit", symbol: "NOPEUSDT",
			path: "/v5/market/tickers", query: "category=spot&symbol=NOPEUSDT",
			body:    `{"retCode":10001,"result":{}}`,
			wantErr: true,
		},
		{
			market: "okx", symbol: "NOPE-USDT",
			path: "/api/v5/market/ticker", query: "instId=NOPE-USDT",
			body:    `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`,
			wantErr: true,
		},
		{
			market: "binance", symbol: "BTCUSDT",
			path: "/api/v3/ticker/price", query: "symbol=BTCUSDT",
			body:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.market+"/"+tt.symbol, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, tt.query, r.URL.RawQuery)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			a, err := NewExchange(tt.market, srv.URL, Options{})
			require.NoError(t, err)

			p, err := a.LastPrice(context.Background(), tt.symbol)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			want, err := decimal.NewFromString(tt.want)
			require.NoError(t, err)
			assert.True(t, want.Equal(p), "want %s, got %s", tt.want, p)
		})
	}
}

func TestLastPriceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a, err := NewExchange("binance", srv.URL, Options{})
	require.NoError(t, err)

	_, err = a.LastPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestLastPriceHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	a, err := NewExchange("binance", srv.URL, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = a.LastPrice(ctx, "BTCUSDT")
	require.Error(t, err)
}

func TestThrottleSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"price":"1"}`))
	}))
	defer srv.Close()

	a, err := NewExchange("binance", srv.URL, Options{RateLimit: true, MinInterval: 60 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := a.LastPrice(context.Background(), "BTCUSDT")
		require.NoError(t, err)
	}
	// Three calls with a 60ms floor between them need at least 120ms.
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	okx, err := NewExchange("okx", "", Options{})
	require.NoError(t, err)
	binance, err := NewExchange("binance", "", Options{})
	require.NoError(t, err)
	r.Register(okx)
	r.Register(binance)

	got, ok := r.Get("okx")
	assert.True(t, ok)
	assert.Equal(t, "okx", got.Name())

	_, ok = r.Get("ghost")
	assert.False(t, ok)

	assert.Equal(t, []string{"binance", "okx"}, r.Names())
}
