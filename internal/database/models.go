package database

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Holding is a user's aggregated position in one asset on one market.
// Quantity and average price are stored as text decimals so repeated
// merges never accumulate binary floating-point drift.
type Holding struct {
	ID             int64
	UserID         int64
	Symbol         string
	Market         string
	Quantity       decimal.Decimal
	AvgPrice       decimal.Decimal
	AlertThreshold *float64
	AlertBaseline  *decimal.Decimal
}

// UserSettings carries per-user alerting state. LastPortfolioValue is
// the baseline the global alert measures deviation against.
type UserSettings struct {
	UserID             int64
	AlertsEnabled      bool
	GlobalThreshold    float64
	LastPortfolioValue *decimal.Decimal
	LastCheckTime      *time.Time
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "invalid stored decimal %q", s)
	}
	return d, nil
}

func nullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := parseDecimal(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid stored timestamp %q", ns.String)
	}
	return &t, nil
}
