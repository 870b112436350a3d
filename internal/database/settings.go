package database

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// GetOrCreateSettings returns the user's alert settings, creating the
// row with defaults on first interaction.
func GetOrCreateSettings(userID int64) (UserSettings, error) {
	if _, err := DB.Exec(`INSERT OR IGNORE INTO user_settings (user_id) VALUES (?);`, userID); err != nil {
		return UserSettings{}, errors.Wrap(err, "could not create user settings")
	}

	row := DB.QueryRow(`SELECT user_id, alerts_enabled, global_alert_threshold, last_portfolio_value, last_check_time
		FROM user_settings WHERE user_id = ?;`, userID)
	return scanSettings(row)
}

// UpdateAlertSettings rewrites the alerts-enabled flag and the global
// portfolio threshold.
func UpdateAlertSettings(userID int64, enabled bool, threshold float64) error {
	_, err := DB.Exec(`UPDATE user_settings SET alerts_enabled = ?, global_alert_threshold = ? WHERE user_id = ?;`,
		enabled, threshold, userID)
	return errors.Wrap(err, "could not update alert settings")
}

// UpdateLastPortfolioValue rewrites the global alert baseline and its
// timestamp.
func UpdateLastPortfolioValue(userID int64, value decimal.Decimal) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := DB.Exec(`UPDATE user_settings SET last_portfolio_value = ?, last_check_time = ? WHERE user_id = ?;`,
		value.String(), now, userID)
	return errors.Wrap(err, "could not update last portfolio value")
}

// TouchLastCheck rewrites only the evaluation timestamp, leaving the
// baseline untouched. The alert engine calls this after an evaluation
// that did not fire, so the recheck window re-arms either way.
func TouchLastCheck(userID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := DB.Exec(`UPDATE user_settings SET last_check_time = ? WHERE user_id = ?;`, now, userID)
	return errors.Wrap(err, "could not update last check time")
}

// GetUsersForAlertCheck returns settings for every user with alerts
// enabled.
func GetUsersForAlertCheck() ([]UserSettings, error) {
	rows, err := DB.Query(`SELECT user_id, alerts_enabled, global_alert_threshold, last_portfolio_value, last_check_time
		FROM user_settings WHERE alerts_enabled = 1;`)
	if err != nil {
		return nil, errors.Wrap(err, "could not query users for alert check")
	}
	defer rows.Close()

	var users []UserSettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, s)
	}
	return users, rows.Err()
}

func scanSettings(row rowScanner) (UserSettings, error) {
	var s UserSettings
	var lastValue, lastCheck sql.NullString

	if err := row.Scan(&s.UserID, &s.AlertsEnabled, &s.GlobalThreshold, &lastValue, &lastCheck); err != nil {
		return UserSettings{}, errors.Wrap(err, "could not scan user settings")
	}

	var err error
	if s.LastPortfolioValue, err = nullDecimal(lastValue); err != nil {
		return UserSettings{}, err
	}
	if s.LastCheckTime, err = nullTime(lastCheck); err != nil {
		return UserSettings{}, err
	}
	return s, nil
}
