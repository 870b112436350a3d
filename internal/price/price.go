package price

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"portfolio-telegram-bot/internal/market"
)

// Request names one (market, symbol) lookup. Symbol is the canonical
// BASE/QUOTE spelling.
type Request struct {
	Market string
	Symbol string
}

// Quote is one price observation, or its failure. Quotes are produced
// fresh on every call and never cached.
type Quote struct {
	Market string
	Symbol string
	Price  decimal.Decimal
	Err    error
}

// Aggregator fans quote lookups out across the registered market
// adapters. Each lookup either yields a price or a per-item error; a
// batch never fails as a whole.
type Aggregator struct {
	registry *market.Registry
	timeout  time.Duration
	failures *prometheus.CounterVec
}

func NewAggregator(registry *market.Registry, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Aggregator{registry: registry, timeout: timeout}
}

// SetFailureCounter wires a per-market counter incremented on every
// failed lookup.
func (a *Aggregator) SetFailureCounter(c *prometheus.CounterVec) {
	a.failures = c
}

// FetchQuotes resolves all requests concurrently and returns one
// quote per request, in request order. Total latency is bounded by
// the slowest single lookup, not the sum.
func (a *Aggregator) FetchQuotes(ctx context.Context, requests []Request) []Quote {
	quotes := make([]Quote, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			p, err := a.FetchQuote(ctx, req.Market, req.Symbol)
			quotes[i] = Quote{Market: req.Market, Symbol: req.Symbol, Price: p, Err: err}
		}(i, req)
	}
	wg.Wait()

	return quotes
}

// FetchQuote resolves a single lookup. Markets disagree on symbol
// separators, so the canonical spelling is tried first and then the
// market-native one; the first variant that yields a price wins.
func (a *Aggregator) FetchQuote(ctx context.Context, marketName, symbol string) (decimal.Decimal, error) {
	adapter, ok := a.registry.Get(marketName)
	if !ok {
		if a.failures != nil {
			a.failures.WithLabelValues(marketName).Inc()
		}
		return decimal.Decimal{}, errors.Errorf("market %s not initialized", marketName)
	}

	var lastErr error
	for _, variant := range symbolVariants(symbol, adapter) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		p, err := adapter.LastPrice(callCtx, variant)
		cancel()
		if err == nil {
			return p, nil
		}
		lastErr = err
		log.Warnf("Could not fetch ticker for %s on %s: %v", variant, marketName, err)
	}

	if a.failures != nil {
		a.failures.WithLabelValues(marketName).Inc()
	}
	return decimal.Decimal{}, errors.Wrapf(lastErr, "no price for %s on %s after trying all spellings", symbol, marketName)
}

func symbolVariants(symbol string, adapter market.Adapter) []string {
	variants := []string{symbol}
	if normalized := adapter.NormalizeSymbol(symbol); normalized != symbol {
		variants = append(variants, normalized)
	}
	return variants
}
