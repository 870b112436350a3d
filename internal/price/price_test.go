package price

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-telegram-bot/internal/market"
)

// fakeAdapter answers from a fixed table, keyed by the exact symbol
// spelling it is asked for.
type fakeAdapter struct {
	name      string
	separator string
	prices    map[string]decimal.Decimal
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) NormalizeSymbol(pair string) string {
	return strings.ReplaceAll(strings.ToUpper(pair), "/", f.separator)
}

func (f *fakeAdapter) LastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return decimal.Decimal{}, errors.Errorf("symbol %s not found", symbol)
	}
	return p, nil
}

func newTestRegistry(adapters ...market.Adapter) *market.Registry {
	r := market.NewRegistry()
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func TestFetchQuotesPreservesOrder(t *testing.T) {
	registry := newTestRegistry(
		&fakeAdapter{name: "binance", prices: map[string]decimal.Decimal{
			"BTC/USDT": decimal.NewFromInt(70000),
			"ETH/USDT": decimal.NewFromInt(3500),
		}},
		&fakeAdapter{name: "okx", separator: "-", prices: map[string]decimal.Decimal{
			"SOL/USDT": decimal.NewFromInt(150),
		}},
	)
	agg := NewAggregator(registry, time.Second)

	requests := []Request{
		{Market: "okx", Symbol: "SOL/USDT"},
		{Market: "binance", Symbol: "BTC/USDT"},
		{Market: "binance", Symbol: "ETH/USDT"},
	}
	quotes := agg.FetchQuotes(context.Background(), requests)

	require.Len(t, quotes, 3)
	for i, q := range quotes {
		assert.Equal(t, requests[i].Market, q.Market)
		assert.Equal(t, requests[i].Symbol, q.Symbol)
		require.NoError(t, q.Err)
	}
	assert.True(t, quotes[0].Price.Equal(decimal.NewFromInt(150)))
	assert.True(t, quotes[1].Price.Equal(decimal.NewFromInt(70000)))
	assert.True(t, quotes[2].Price.Equal(decimal.NewFromInt(3500)))
}

func TestFetchQuotesPartialFailure(t *testing.T) {
	registry := newTestRegistry(
		&fakeAdapter{name: "binance", prices: map[string]decimal.Decimal{
			"BTC/USDT": decimal.NewFromInt(70000),
		}},
	)
	agg := NewAggregator(registry, time.Second)

	quotes := agg.FetchQuotes(context.Background(), []Request{
		{Market: "binance", Symbol: "BTC/USDT"},
		{Market: "binance", Symbol: "NOPE/USDT"},
		{Market: "ghost", Symbol: "BTC/USDT"},
	})

	require.Len(t, quotes, 3)
	assert.NoError(t, quotes[0].Err)
	assert.Error(t, quotes[1].Err)
	assert.Error(t, quotes[2].Err)
	assert.Contains(t, quotes[2].Err.Error(), "not initialized")
}

func TestFetchQuoteFallsBackToNativeSpelling(t *testing.T) {
	// The adapter only knows the separator-free spelling; the canonical
	// one fails first and the native variant is retried.
	registry := newTestRegistry(
		&fakeAdapter{name: "binance", prices: map[string]decimal.Decimal{
			"BTCUSDT": decimal.NewFromInt(70000),
		}},
	)
	agg := NewAggregator(registry, time.Second)

	p, err := agg.FetchQuote(context.Background(), "binance", "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(70000)))
}

func TestFetchQuoteAllVariantsFail(t *testing.T) {
	registry := newTestRegistry(&fakeAdapter{name: "binance"})
	agg := NewAggregator(registry, time.Second)

	_, err := agg.FetchQuote(context.Background(), "binance", "BTC/USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after trying all spellings")
}

// barrierAdapter blocks every lookup until all expected lookups are in
// flight at once. Sequential fetching would deadlock here, so the test
// passing proves the batch truly fans out.
type barrierAdapter struct {
	name    string
	barrier *sync.WaitGroup
}

func (b *barrierAdapter) Name() string { return b.name }

func (b *barrierAdapter) NormalizeSymbol(pair string) string { return pair }

func (b *barrierAdapter) LastPrice(ctx context.Context, _ string) (decimal.Decimal, error) {
	b.barrier.Done()
	done := make(chan struct{})
	go func() {
		b.barrier.Wait()
		close(done)
	}()
	select {
	case <-done:
		return decimal.NewFromInt(1), nil
	case <-ctx.Done():
		return decimal.Decimal{}, ctx.Err()
	}
}

func TestFetchQuotesRunConcurrently(t *testing.T) {
	const n = 5
	var barrier sync.WaitGroup
	barrier.Add(n)

	registry := newTestRegistry(&barrierAdapter{name: "binance", barrier: &barrier})
	agg := NewAggregator(registry, 2*time.Second)

	requests := make([]Request, n)
	for i := range requests {
		requests[i] = Request{Market: "binance", Symbol: "BTC/USDT"}
	}

	quotes := agg.FetchQuotes(context.Background(), requests)
	for _, q := range quotes {
		require.NoError(t, q.Err, "lookups did not overlap in time")
	}
}
