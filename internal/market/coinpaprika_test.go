package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoinpaprikaNormalizeSymbol(t *testing.T) {
	a := NewCoinpaprika("")

	assert.Equal(t, "coinpaprika", a.Name())
	assert.Equal(t, "BTC", a.NormalizeSymbol("BTC/USDT"))
	assert.Equal(t, "ETH", a.NormalizeSymbol("eth/usdt"))
	assert.Equal(t, "SOL", a.NormalizeSymbol("sol"))
}
