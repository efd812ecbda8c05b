// Package store implements the embedded historical data store: funding
// rates, OHLCV candles, per-(symbol,type) fetch cursors, and the tracked
// pair roster. Batch inserts run in explicit transactions; cursor and
// roster upserts are single statements. WAL mode lets readers proceed
// concurrently.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"fundingarb/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS funding_rates (
	symbol         TEXT NOT NULL,
	timestamp_ms   INTEGER NOT NULL,
	rate           TEXT NOT NULL,
	interval_hours INTEGER NOT NULL,
	PRIMARY KEY (symbol, timestamp_ms)
);
CREATE INDEX IF NOT EXISTS idx_funding_rates_symbol_ts ON funding_rates(symbol, timestamp_ms);

CREATE TABLE IF NOT EXISTS ohlcv_candles (
	symbol       TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	open         TEXT NOT NULL,
	high         TEXT NOT NULL,
	low          TEXT NOT NULL,
	close        TEXT NOT NULL,
	volume       TEXT NOT NULL,
	PRIMARY KEY (symbol, timestamp_ms)
);
CREATE INDEX IF NOT EXISTS idx_ohlcv_candles_symbol_ts ON ohlcv_candles(symbol, timestamp_ms);

CREATE TABLE IF NOT EXISTS fetch_state (
	symbol             TEXT NOT NULL,
	data_type          TEXT NOT NULL,
	earliest_ms        INTEGER NOT NULL,
	latest_ms          INTEGER NOT NULL,
	last_fetched_at_ms INTEGER NOT NULL,
	PRIMARY KEY (symbol, data_type)
);

CREATE TABLE IF NOT EXISTS tracked_pairs (
	symbol          TEXT PRIMARY KEY,
	added_at_ms     INTEGER NOT NULL,
	last_volume_24h TEXT NOT NULL,
	active          INTEGER NOT NULL
);
`

// SQLiteStore implements core.HistoricalStore over an embedded SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if absent) and migrates the store at path, enabling WAL
// journal mode for concurrent readers with a single serialized writer.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveFundingRates inserts rates, ignoring rows that already exist on the
// (symbol, timestamp_ms) primary key -- the store's sole dedup mechanism.
func (s *SQLiteStore) SaveFundingRates(ctx context.Context, rates []core.HistoricalFundingRate) error {
	if len(rates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO funding_rates (symbol, timestamp_ms, rate, interval_hours) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rates {
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.TimestampMs, r.Rate.String(), r.IntervalHours); err != nil {
			return fmt.Errorf("insert funding rate: %w", err)
		}
	}
	return tx.Commit()
}

// GetFundingRates returns rows for symbol in [startMs, untilMs) ordered
// ascending. untilMs == 0 means unbounded at the top end.
func (s *SQLiteStore) GetFundingRates(ctx context.Context, symbol string, startMs, untilMs int64) ([]core.HistoricalFundingRate, error) {
	query := `SELECT symbol, timestamp_ms, rate, interval_hours FROM funding_rates WHERE symbol = ? AND timestamp_ms >= ?`
	args := []interface{}{symbol, startMs}
	if untilMs > 0 {
		query += ` AND timestamp_ms < ?`
		args = append(args, untilMs)
	}
	query += ` ORDER BY timestamp_ms ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query funding rates: %w", err)
	}
	defer rows.Close()

	var out []core.HistoricalFundingRate
	for rows.Next() {
		var r core.HistoricalFundingRate
		var rateStr string
		if err := rows.Scan(&r.Symbol, &r.TimestampMs, &rateStr, &r.IntervalHours); err != nil {
			return nil, fmt.Errorf("scan funding rate: %w", err)
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, fmt.Errorf("parse stored rate: %w", err)
		}
		r.Rate = rate
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCandles inserts candles, ignoring duplicates on (symbol, timestamp_ms).
func (s *SQLiteStore) SaveCandles(ctx context.Context, candles []core.OHLCVCandle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO ohlcv_candles (symbol, timestamp_ms, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.TimestampMs, c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String()); err != nil {
			return fmt.Errorf("insert candle: %w", err)
		}
	}
	return tx.Commit()
}

// GetCandles returns rows for symbol in [startMs, untilMs) ordered ascending.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol string, startMs, untilMs int64) ([]core.OHLCVCandle, error) {
	query := `SELECT symbol, timestamp_ms, open, high, low, close, volume FROM ohlcv_candles WHERE symbol = ? AND timestamp_ms >= ?`
	args := []interface{}{symbol, startMs}
	if untilMs > 0 {
		query += ` AND timestamp_ms < ?`
		args = append(args, untilMs)
	}
	query += ` ORDER BY timestamp_ms ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []core.OHLCVCandle
	for rows.Next() {
		var c core.OHLCVCandle
		var openStr, highStr, lowStr, closeStr, volStr string
		if err := rows.Scan(&c.Symbol, &c.TimestampMs, &openStr, &highStr, &lowStr, &closeStr, &volStr); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		var perr error
		if c.Open, perr = decimal.NewFromString(openStr); perr != nil {
			return nil, perr
		}
		if c.High, perr = decimal.NewFromString(highStr); perr != nil {
			return nil, perr
		}
		if c.Low, perr = decimal.NewFromString(lowStr); perr != nil {
			return nil, perr
		}
		if c.Close, perr = decimal.NewFromString(closeStr); perr != nil {
			return nil, perr
		}
		if c.Volume, perr = decimal.NewFromString(volStr); perr != nil {
			return nil, perr
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetFetchState returns the cursor for (symbol, dataType), ok=false if absent.
func (s *SQLiteStore) GetFetchState(ctx context.Context, symbol string, dataType core.DataType) (core.FetchState, bool, error) {
	query := `SELECT earliest_ms, latest_ms, last_fetched_at_ms FROM fetch_state WHERE symbol = ? AND data_type = ?`
	var fs core.FetchState
	fs.Symbol = symbol
	fs.DataType = dataType
	err := s.db.QueryRowContext(ctx, query, symbol, string(dataType)).Scan(&fs.EarliestMs, &fs.LatestMs, &fs.LastFetchedAtMs)
	if err == sql.ErrNoRows {
		return core.FetchState{}, false, nil
	}
	if err != nil {
		return core.FetchState{}, false, fmt.Errorf("query fetch state: %w", err)
	}
	return fs, true, nil
}

// SaveFetchState upserts the cursor for (symbol, dataType).
func (s *SQLiteStore) SaveFetchState(ctx context.Context, state core.FetchState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_state (symbol, data_type, earliest_ms, latest_ms, last_fetched_at_ms) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(symbol, data_type) DO UPDATE SET earliest_ms=excluded.earliest_ms, latest_ms=excluded.latest_ms, last_fetched_at_ms=excluded.last_fetched_at_ms`,
		state.Symbol, string(state.DataType), state.EarliestMs, state.LatestMs, state.LastFetchedAtMs)
	if err != nil {
		return fmt.Errorf("upsert fetch state: %w", err)
	}
	return nil
}

// AddTrackedPair upserts a symbol in the tracked-pair roster.
func (s *SQLiteStore) AddTrackedPair(ctx context.Context, pair core.TrackedPair) error {
	active := 0
	if pair.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_pairs (symbol, added_at_ms, last_volume_24h, active) VALUES (?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET last_volume_24h=excluded.last_volume_24h, active=excluded.active`,
		pair.Symbol, pair.AddedAtMs, pair.LastVolume24h.String(), active)
	if err != nil {
		return fmt.Errorf("upsert tracked pair: %w", err)
	}
	return nil
}

// GetTrackedPairs returns the full roster.
func (s *SQLiteStore) GetTrackedPairs(ctx context.Context) ([]core.TrackedPair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, added_at_ms, last_volume_24h, active FROM tracked_pairs`)
	if err != nil {
		return nil, fmt.Errorf("query tracked pairs: %w", err)
	}
	defer rows.Close()

	var out []core.TrackedPair
	for rows.Next() {
		var p core.TrackedPair
		var volStr string
		var active int
		if err := rows.Scan(&p.Symbol, &p.AddedAtMs, &volStr, &active); err != nil {
			return nil, fmt.Errorf("scan tracked pair: %w", err)
		}
		vol, err := decimal.NewFromString(volStr)
		if err != nil {
			return nil, err
		}
		p.LastVolume24h = vol
		p.Active = active != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetDataStatus returns an aggregate view over the whole store.
func (s *SQLiteStore) GetDataStatus(ctx context.Context) (core.DataStatus, error) {
	var status core.DataStatus

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_pairs`).Scan(&status.PairCount); err != nil {
		return core.DataStatus{}, fmt.Errorf("count tracked pairs: %w", err)
	}

	var fundingCount, candleCount int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM funding_rates`).Scan(&fundingCount); err != nil {
		return core.DataStatus{}, fmt.Errorf("count funding rates: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ohlcv_candles`).Scan(&candleCount); err != nil {
		return core.DataStatus{}, fmt.Errorf("count candles: %w", err)
	}
	status.TotalRecords = fundingCount + candleCount

	var earliest, latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(timestamp_ms), MAX(timestamp_ms) FROM funding_rates`).Scan(&earliest, &latest); err != nil {
		return core.DataStatus{}, fmt.Errorf("range funding rates: %w", err)
	}
	status.EarliestMs = earliest.Int64
	status.LatestMs = latest.Int64

	var lastSync sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(last_fetched_at_ms) FROM fetch_state`).Scan(&lastSync); err != nil {
		return core.DataStatus{}, fmt.Errorf("last sync: %w", err)
	}
	status.LastSyncMs = lastSync.Int64

	return status, nil
}

var _ core.HistoricalStore = (*SQLiteStore)(nil)
