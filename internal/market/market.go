package market

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Adapter wraps one external market and answers "last trade price for
// this symbol". Symbols arrive exactly as spelled by the caller; the
// aggregator decides which spellings to try.
type Adapter interface {
	Name() string
	// NormalizeSymbol converts the canonical BASE/QUOTE pair into the
	// market-native spelling (separator removed or substituted).
	NormalizeSymbol(pair string) string
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Registry holds the active adapters for this process, keyed by
// market name. It is constructed once at startup and passed to the
// components that need it, so tests can run against fake adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	log.Infof("Registered market adapter: %s", a.Name())
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered market names sorted for stable display.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
