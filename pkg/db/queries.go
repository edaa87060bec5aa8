package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Position is an open-position row.
type Position struct {
	Symbol              string
	Strategy            string
	Side                string
	Qty                 float64
	AvgPrice            float64
	MaxPrice            float64
	LastPrice           float64
	StopPrice           float64
	TakePrice           float64
	PriceDecreaseFactor float64
	RocketCandidate     bool
	LastDealTime        time.Time
	UpdatedAt           time.Time
}

// SellRecord is a sell-journal row.
type SellRecord struct {
	Symbol   string
	Strategy string
	SellTime time.Time
}

// CandleSnapshot stores the most recent pre-open candle per symbol for
// cold-start indicator continuity.
type CandleSnapshot struct {
	Symbol      string
	Strategy    string
	OpenTime    int64
	CloseTime   int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
	NumTrades   int64
}

// FindOpenPositions returns all persisted positions for a strategy.
func (s *Store) FindOpenPositions(ctx context.Context, strategy string) ([]Position, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT symbol, strategy, side, qty, avg_price, max_price, last_price,
		       stop_price, take_price, price_decrease_factor, rocket_candidate,
		       COALESCE(last_deal_time, CURRENT_TIMESTAMP), updated_at
		FROM open_positions
		WHERE strategy = ?
	`, strategy)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Strategy, &p.Side, &p.Qty, &p.AvgPrice,
			&p.MaxPrice, &p.LastPrice, &p.StopPrice, &p.TakePrice,
			&p.PriceDecreaseFactor, &p.RocketCandidate, &p.LastDealTime, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveOpenPositions replaces the persisted position set for a strategy
// in one transaction, so the stored state always matches one ledger
// snapshot.
func (s *Store) SaveOpenPositions(ctx context.Context, strategy string, positions []Position) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM open_positions WHERE strategy = ?`, strategy); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO open_positions (
			symbol, strategy, side, qty, avg_price, max_price, last_price,
			stop_price, take_price, price_decrease_factor, rocket_candidate,
			last_deal_time, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range positions {
		if _, err := stmt.ExecContext(ctx, p.Symbol, p.Strategy, p.Side, p.Qty,
			p.AvgPrice, p.MaxPrice, p.LastPrice, p.StopPrice, p.TakePrice,
			p.PriceDecreaseFactor, p.RocketCandidate, p.LastDealTime); err != nil {
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}
	return tx.Commit()
}

// FindSellJournal returns persisted sell records for a strategy.
func (s *Store) FindSellJournal(ctx context.Context, strategy string) ([]SellRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT symbol, strategy, sell_time FROM sell_journal WHERE strategy = ?
	`, strategy)
	if err != nil {
		return nil, fmt.Errorf("query sell journal: %w", err)
	}
	defer rows.Close()

	var out []SellRecord
	for rows.Next() {
		var r SellRecord
		if err := rows.Scan(&r.Symbol, &r.Strategy, &r.SellTime); err != nil {
			return nil, fmt.Errorf("scan sell record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveSellJournal replaces the persisted journal for a strategy.
func (s *Store) SaveSellJournal(ctx context.Context, strategy string, records []SellRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sell_journal WHERE strategy = ?`, strategy); err != nil {
		return fmt.Errorf("clear sell journal: %w", err)
	}
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sell_journal (symbol, strategy, sell_time) VALUES (?, ?, ?)
		`, r.Symbol, r.Strategy, r.SellTime); err != nil {
			return fmt.Errorf("insert sell record %s: %w", r.Symbol, err)
		}
	}
	return tx.Commit()
}

// DeleteSellJournal removes specific records, e.g. after they expired.
func (s *Store) DeleteSellJournal(ctx context.Context, records []SellRecord) error {
	for _, r := range records {
		if _, err := s.DB.ExecContext(ctx, `
			DELETE FROM sell_journal WHERE symbol = ? AND strategy = ?
		`, r.Symbol, r.Strategy); err != nil {
			return fmt.Errorf("delete sell record %s: %w", r.Symbol, err)
		}
	}
	return nil
}

// SaveCandleSnapshot upserts the latest pre-open candle for a symbol.
func (s *Store) SaveCandleSnapshot(ctx context.Context, c CandleSnapshot) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO candle_snapshots (
			symbol, strategy, open_time, close_time, open, high, low, close,
			volume, quote_volume, num_trades
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, strategy) DO UPDATE SET
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			quote_volume = excluded.quote_volume,
			num_trades = excluded.num_trades
	`, c.Symbol, c.Strategy, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low,
		c.Close, c.Volume, c.QuoteVolume, c.NumTrades)
	return err
}

// UpsertInstance records a strategy instance seen at startup.
func (s *Store) UpsertInstance(ctx context.Context, id, variant, interval string, quoteBudget float64) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO strategy_instances (id, variant, interval, quote_budget, started_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			variant = excluded.variant,
			interval = excluded.interval,
			quote_budget = excluded.quote_budget,
			started_at = excluded.started_at
	`, id, variant, interval, quoteBudget)
	return err
}

// FindCandleSnapshot returns the stored pre-open candle for a symbol.
func (s *Store) FindCandleSnapshot(ctx context.Context, strategy, symbol string) (CandleSnapshot, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT symbol, strategy, open_time, close_time, open, high, low, close,
		       volume, quote_volume, num_trades
		FROM candle_snapshots
		WHERE strategy = ? AND symbol = ?
	`, strategy, symbol)

	var c CandleSnapshot
	err := row.Scan(&c.Symbol, &c.Strategy, &c.OpenTime, &c.CloseTime, &c.Open,
		&c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume, &c.NumTrades)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CandleSnapshot{}, false, nil
		}
		return CandleSnapshot{}, false, err
	}
	return c, true, nil
}
