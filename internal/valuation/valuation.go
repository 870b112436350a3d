package valuation

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"portfolio-telegram-bot/internal/price"
)

var hundred = decimal.NewFromInt(100)

// Holding is the view of a stored position the engine values. ID is
// the storage row id, carried through for display.
type Holding struct {
	ID       int64
	Symbol   string
	Market   string
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
}

// MergeBuy folds one buy into an existing position and returns the new
// quantity and quantity-weighted average price. A fresh position is
// expressed as zero oldQty, in which case the result is simply the
// buy itself. The merge is commutative and associative over a
// sequence of buys, so import order never changes the final average.
func MergeBuy(oldQty, oldAvg, qty, buyPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, errors.Errorf("quantity must be positive, got %s", qty)
	}
	if !buyPrice.IsPositive() {
		return decimal.Decimal{}, decimal.Decimal{}, errors.Errorf("price must be positive, got %s", buyPrice)
	}
	if oldQty.IsNegative() {
		return decimal.Decimal{}, decimal.Decimal{}, errors.Errorf("existing quantity must not be negative, got %s", oldQty)
	}

	if oldQty.IsZero() {
		return qty, buyPrice, nil
	}

	newQty := oldQty.Add(qty)
	newAvg := oldQty.Mul(oldAvg).Add(qty.Mul(buyPrice)).Div(newQty)
	return newQty, newAvg, nil
}

// Position is one holding valued against its current quote.
type Position struct {
	Holding      Holding
	CurrentPrice decimal.Decimal
	Priced       bool
	Cost         decimal.Decimal
	Value        decimal.Decimal
	PnL          decimal.Decimal
	PnLPercent   decimal.Decimal
}

// Valuation is a full portfolio valued at one instant. Totals are the
// exact sums of the per-position figures.
type Valuation struct {
	Positions  []Position
	TotalCost  decimal.Decimal
	TotalValue decimal.Decimal
	TotalPnL   decimal.Decimal
	TotalPct   decimal.Decimal
}

// ValuePortfolio computes position-level and portfolio-level cost,
// value and profit/loss. quotes must be parallel to holdings, as
// returned by the aggregator. A holding whose quote failed is valued
// at cost, so a partial market outage shows the asset flat rather
// than dropping it from the totals.
func ValuePortfolio(holdings []Holding, quotes []price.Quote) Valuation {
	v := Valuation{Positions: make([]Position, 0, len(holdings))}

	for i, h := range holdings {
		p := Position{
			Holding: h,
			Cost:    h.Quantity.Mul(h.AvgPrice),
		}
		if i < len(quotes) && quotes[i].Err == nil {
			p.Priced = true
			p.CurrentPrice = quotes[i].Price
			p.Value = h.Quantity.Mul(quotes[i].Price)
		} else {
			p.Value = p.Cost
		}
		p.PnL = p.Value.Sub(p.Cost)
		p.PnLPercent = pctOfCost(p.PnL, p.Cost)

		v.TotalCost = v.TotalCost.Add(p.Cost)
		v.TotalValue = v.TotalValue.Add(p.Value)
		v.Positions = append(v.Positions, p)
	}

	v.TotalPnL = v.TotalValue.Sub(v.TotalCost)
	v.TotalPct = pctOfCost(v.TotalPnL, v.TotalCost)
	return v
}

func pctOfCost(pnl, cost decimal.Decimal) decimal.Decimal {
	if cost.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(cost).Mul(hundred)
}
