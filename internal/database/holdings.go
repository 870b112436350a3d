package database

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"portfolio-telegram-bot/internal/valuation"
)

// UpsertBuy records one buy for (userID, symbol, market). The first
// buy creates the holding; later buys of the same triple merge into
// it using the weighted-average cost basis, inside a single
// transaction so the merge either fully applies or not at all.
func UpsertBuy(userID int64, symbol, market string, qty, buyPrice decimal.Decimal) error {
	symbol = strings.ToUpper(symbol)
	market = strings.ToLower(market)

	tx, err := DB.Begin()
	if err != nil {
		return errors.Wrap(err, "could not begin buy transaction")
	}
	defer tx.Rollback()

	var oldQtyStr, oldAvgStr string
	row := tx.QueryRow(`SELECT quantity, avg_price FROM holdings WHERE user_id = ? AND symbol = ? AND market = ?;`,
		userID, symbol, market)
	err = row.Scan(&oldQtyStr, &oldAvgStr)

	switch {
	case err == sql.ErrNoRows:
		newQty, newAvg, mergeErr := valuation.MergeBuy(decimal.Zero, decimal.Zero, qty, buyPrice)
		if mergeErr != nil {
			return mergeErr
		}
		if _, err := tx.Exec(`INSERT INTO holdings (user_id, symbol, market, quantity, avg_price) VALUES (?, ?, ?, ?, ?);`,
			userID, symbol, market, newQty.String(), newAvg.String()); err != nil {
			return errors.Wrap(err, "could not insert holding")
		}
	case err != nil:
		return errors.Wrap(err, "could not read existing holding")
	default:
		oldQty, parseErr := parseDecimal(oldQtyStr)
		if parseErr != nil {
			return parseErr
		}
		oldAvg, parseErr := parseDecimal(oldAvgStr)
		if parseErr != nil {
			return parseErr
		}
		newQty, newAvg, mergeErr := valuation.MergeBuy(oldQty, oldAvg, qty, buyPrice)
		if mergeErr != nil {
			return mergeErr
		}
		if _, err := tx.Exec(`UPDATE holdings SET quantity = ?, avg_price = ? WHERE user_id = ? AND symbol = ? AND market = ?;`,
			newQty.String(), newAvg.String(), userID, symbol, market); err != nil {
			return errors.Wrap(err, "could not update holding")
		}
	}

	return errors.Wrap(tx.Commit(), "could not commit buy")
}

// GetPortfolio returns the user's holdings ordered by symbol.
func GetPortfolio(userID int64) ([]Holding, error) {
	rows, err := DB.Query(`SELECT id, user_id, symbol, market, quantity, avg_price, alert_threshold, alert_baseline_price
		FROM holdings WHERE user_id = ? ORDER BY symbol;`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "could not query portfolio")
	}
	defer rows.Close()
	return scanHoldings(rows)
}

// GetHoldingByID fetches one holding scoped to its owning user.
func GetHoldingByID(id, userID int64) (*Holding, error) {
	row := DB.QueryRow(`SELECT id, user_id, symbol, market, quantity, avg_price, alert_threshold, alert_baseline_price
		FROM holdings WHERE id = ? AND user_id = ?;`, id, userID)
	h, err := scanHolding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read holding")
	}
	return &h, nil
}

// UpdateHoldingQuantity overwrites the stored quantity. Returns false
// when no row matched (wrong id or foreign user).
func UpdateHoldingQuantity(id, userID int64, qty decimal.Decimal) (bool, error) {
	if !qty.IsPositive() {
		return false, errors.Errorf("quantity must be positive, got %s", qty)
	}
	res, err := DB.Exec(`UPDATE holdings SET quantity = ? WHERE id = ? AND user_id = ?;`, qty.String(), id, userID)
	if err != nil {
		return false, errors.Wrap(err, "could not update quantity")
	}
	return rowsChanged(res), nil
}

// UpdateHoldingAvgPrice overwrites the stored average price.
func UpdateHoldingAvgPrice(id, userID int64, avg decimal.Decimal) (bool, error) {
	if !avg.IsPositive() {
		return false, errors.Errorf("price must be positive, got %s", avg)
	}
	res, err := DB.Exec(`UPDATE holdings SET avg_price = ? WHERE id = ? AND user_id = ?;`, avg.String(), id, userID)
	if err != nil {
		return false, errors.Wrap(err, "could not update avg price")
	}
	return rowsChanged(res), nil
}

// RemoveHolding deletes one holding scoped to its owning user.
func RemoveHolding(id, userID int64) (bool, error) {
	res, err := DB.Exec(`DELETE FROM holdings WHERE id = ? AND user_id = ?;`, id, userID)
	if err != nil {
		return false, errors.Wrap(err, "could not remove holding")
	}
	return rowsChanged(res), nil
}

// SetHoldingAlert configures the per-asset alert. A threshold of zero
// disables: the stored threshold becomes NULL and the baseline is
// cleared. Otherwise the supplied price becomes the new baseline; a
// zero price stores NULL instead, so the alert engine seeds the
// baseline from its first successful quote.
func SetHoldingAlert(id, userID int64, threshold float64, baseline decimal.Decimal) error {
	if threshold <= 0 {
		_, err := DB.Exec(`UPDATE holdings SET alert_threshold = NULL, alert_baseline_price = NULL WHERE id = ? AND user_id = ?;`, id, userID)
		return errors.Wrap(err, "could not clear holding alert")
	}
	if baseline.IsZero() {
		_, err := DB.Exec(`UPDATE holdings SET alert_threshold = ?, alert_baseline_price = NULL WHERE id = ? AND user_id = ?;`,
			threshold, id, userID)
		return errors.Wrap(err, "could not set holding alert")
	}
	_, err := DB.Exec(`UPDATE holdings SET alert_threshold = ?, alert_baseline_price = ? WHERE id = ? AND user_id = ?;`,
		threshold, baseline.String(), id, userID)
	return errors.Wrap(err, "could not set holding alert")
}

// SetHoldingBaseline rewrites only the alert baseline price. The
// alert engine calls this when an alert fires, and to seed the first
// baseline.
func SetHoldingBaseline(id int64, baseline decimal.Decimal) error {
	_, err := DB.Exec(`UPDATE holdings SET alert_baseline_price = ? WHERE id = ?;`, baseline.String(), id)
	return errors.Wrap(err, "could not update holding baseline")
}

// GetHoldingsForAlertCheck returns every holding with a configured
// threshold whose owner has alerts enabled.
func GetHoldingsForAlertCheck() ([]Holding, error) {
	rows, err := DB.Query(`SELECT h.id, h.user_id, h.symbol, h.market, h.quantity, h.avg_price, h.alert_threshold, h.alert_baseline_price
		FROM holdings h JOIN user_settings s ON h.user_id = s.user_id
		WHERE s.alerts_enabled = 1 AND h.alert_threshold IS NOT NULL;`)
	if err != nil {
		return nil, errors.Wrap(err, "could not query holdings for alert check")
	}
	defer rows.Close()
	return scanHoldings(rows)
}

// GetUsersWithHoldings lists the users eligible for the daily report.
func GetUsersWithHoldings() ([]int64, error) {
	rows, err := DB.Query(`SELECT DISTINCT user_id FROM holdings;`)
	if err != nil {
		return nil, errors.Wrap(err, "could not query users with holdings")
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "could not scan user id")
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHolding(row rowScanner) (Holding, error) {
	var h Holding
	var qtyStr, avgStr string
	var threshold sql.NullFloat64
	var baseline sql.NullString

	if err := row.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Market, &qtyStr, &avgStr, &threshold, &baseline); err != nil {
		return Holding{}, err
	}

	var err error
	if h.Quantity, err = parseDecimal(qtyStr); err != nil {
		return Holding{}, err
	}
	if h.AvgPrice, err = parseDecimal(avgStr); err != nil {
		return Holding{}, err
	}
	if threshold.Valid {
		h.AlertThreshold = &threshold.Float64
	}
	if h.AlertBaseline, err = nullDecimal(baseline); err != nil {
		return Holding{}, err
	}
	return h, nil
}

func scanHoldings(rows *sql.Rows) ([]Holding, error) {
	var holdings []Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, errors.Wrap(err, "could not scan holding row")
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func rowsChanged(res sql.Result) bool {
	n, err := res.RowsAffected()
	if err != nil {
		log.Warnf("Could not read affected row count: %v", err)
		return false
	}
	return n > 0
}

// View converts a stored holding into the valuation engine's input.
func (h Holding) View() valuation.Holding {
	return valuation.Holding{
		ID:       h.ID,
		Symbol:   h.Symbol,
		Market:   h.Market,
		Quantity: h.Quantity,
		AvgPrice: h.AvgPrice,
	}
}
