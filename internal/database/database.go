package database

import (
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// dsn opens transactions in immediate mode so the write lock is taken
// at BEGIN, and gives competing processes a busy timeout to wait it
// out: a concurrent writer from another process blocks briefly
// instead of failing with SQLITE_BUSY mid-transaction.
func dsn(dbPath string) string {
	return dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)"
}

func InitDB(dbPath string) error {
	var err error
	DB, err = sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite allows a single writer; serializing on one connection
	// keeps row-level read-modify-write transactions free of
	// SQLITE_BUSY errors within this process.
	DB.SetMaxOpenConns(1)

	createHoldingsTable := `
	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		market TEXT NOT NULL,
		quantity TEXT NOT NULL,
		avg_price TEXT NOT NULL,
		alert_threshold REAL,
		alert_baseline_price TEXT,
		UNIQUE(user_id, symbol, market)
	);`
	if _, err = DB.Exec(createHoldingsTable); err != nil {
		return fmt.Errorf("failed to create holdings table: %w", err)
	}

	createSettingsTable := `
	CREATE TABLE IF NOT EXISTS user_settings (
		user_id INTEGER PRIMARY KEY,
		alerts_enabled INTEGER NOT NULL DEFAULT 0,
		global_alert_threshold REAL NOT NULL DEFAULT 5.0,
		last_portfolio_value TEXT,
		last_check_time TEXT
	);`
	if _, err = DB.Exec(createSettingsTable); err != nil {
		return fmt.Errorf("failed to create user_settings table: %w", err)
	}

	createLockTable := `
	CREATE TABLE IF NOT EXISTS bot_lock (
		id INTEGER PRIMARY KEY,
		is_locked INTEGER NOT NULL DEFAULT 0,
		locked_at TEXT,
		owner_id TEXT
	);`
	if _, err = DB.Exec(createLockTable); err != nil {
		return fmt.Errorf("failed to create bot_lock table: %w", err)
	}

	insertLockRow := `INSERT OR IGNORE INTO bot_lock (id, is_locked) VALUES (?, 0);`
	if _, err = DB.Exec(insertLockRow, lockID); err != nil {
		return fmt.Errorf("failed to insert lock row: %w", err)
	}

	createMetricsTable := `
	CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT NOT NULL,
		label_key TEXT DEFAULT NULL,
		label_value TEXT DEFAULT NULL,
		metric_value REAL NOT NULL,
		PRIMARY KEY (metric_name, label_key, label_value)
	);`
	if _, err = DB.Exec(createMetricsTable); err != nil {
		return fmt.Errorf("failed to create metrics table: %w", err)
	}

	log.Info("Database initialized successfully.")
	return nil
}

func CloseDB() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
