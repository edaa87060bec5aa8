// Package db persists engine state (open positions, sell journal,
// candle snapshots) in sqlite.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite handle.
type Store struct {
	DB *sql.DB
}

// Open creates the database file (and parent directory) if needed and
// applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; serialize access at the pool level.
	handle.SetMaxOpenConns(1)

	s := &Store{DB: handle}
	if err := s.migrate(); err != nil {
		handle.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS open_positions (
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			avg_price REAL NOT NULL,
			max_price REAL NOT NULL,
			last_price REAL NOT NULL,
			stop_price REAL NOT NULL DEFAULT 0,
			take_price REAL NOT NULL DEFAULT 0,
			price_decrease_factor REAL NOT NULL DEFAULT 0,
			rocket_candidate INTEGER NOT NULL DEFAULT 0,
			last_deal_time TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (symbol, strategy)
		)`,
		`CREATE TABLE IF NOT EXISTS sell_journal (
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			sell_time TIMESTAMP NOT NULL,
			PRIMARY KEY (symbol, strategy)
		)`,
		`CREATE TABLE IF NOT EXISTS candle_snapshots (
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			quote_volume REAL NOT NULL DEFAULT 0,
			num_trades INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, strategy)
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_instances (
			id TEXT PRIMARY KEY,
			variant TEXT NOT NULL,
			interval TEXT NOT NULL,
			quote_budget REAL NOT NULL,
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sell_journal_time ON sell_journal(sell_time)`,
	}

	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
