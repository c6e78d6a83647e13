package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/riskengine/internal/domain"
)

// monthLayout is the canonical month key format.
const monthLayout = "2006-01"

const schema = `
CREATE TABLE IF NOT EXISTS monthly_prices (
	ticker TEXT NOT NULL,
	month  TEXT NOT NULL,
	close  REAL NOT NULL,
	PRIMARY KEY (ticker, month)
);
CREATE INDEX IF NOT EXISTS idx_monthly_prices_ticker ON monthly_prices(ticker);
`

// PriceBar is one month-end closing price for a ticker.
type PriceBar struct {
	Ticker string    `json:"ticker"`
	Month  time.Time `json:"month"` // first day of the month, UTC
	Close  float64   `json:"close"`
}

// HistoryStore persists monthly closing prices and derives the monthly
// return series the engine consumes.
type HistoryStore struct {
	db  *DB
	log zerolog.Logger
}

// NewHistoryStore creates a store over an open history database and applies
// the schema.
func NewHistoryStore(db *DB, log zerolog.Logger) (*HistoryStore, error) {
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &HistoryStore{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
	}, nil
}

// UpsertPrices inserts or replaces monthly closing prices in one transaction.
func (s *HistoryStore) UpsertPrices(ctx context.Context, bars []PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	err := WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO monthly_prices (ticker, month, close)
			VALUES (?, ?, ?)
			ON CONFLICT (ticker, month) DO UPDATE SET close = excluded.close`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, bar := range bars {
			if bar.Ticker == "" {
				return fmt.Errorf("price bar has empty ticker")
			}
			if bar.Close <= 0 {
				return fmt.Errorf("price bar for %s has non-positive close %f", bar.Ticker, bar.Close)
			}
			if _, err := stmt.ExecContext(ctx, bar.Ticker, bar.Month.UTC().Format(monthLayout), bar.Close); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug().Int("bars", len(bars)).Msg("Upserted monthly prices")
	return nil
}

// Prices returns the stored monthly closes for a ticker in chronological
// order.
func (s *HistoryStore) Prices(ctx context.Context, ticker string) ([]PriceBar, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT month, close FROM monthly_prices WHERE ticker = ? ORDER BY month ASC`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []PriceBar
	for rows.Next() {
		var monthStr string
		var closePrice float64
		if err := rows.Scan(&monthStr, &closePrice); err != nil {
			return nil, fmt.Errorf("failed to scan price row for %s: %w", ticker, err)
		}
		month, err := time.ParseInLocation(monthLayout, monthStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("malformed month key %q for %s: %w", monthStr, ticker, err)
		}
		bars = append(bars, PriceBar{Ticker: ticker, Month: month, Close: closePrice})
	}
	return bars, rows.Err()
}

// ReturnSeriesFor derives monthly return series for the given tickers.
// Each return is dated at the month it covers: the later month of each
// consecutive price pair. Tickers with no stored prices are simply absent
// from the result; coverage enforcement stays with the engine.
func (s *HistoryStore) ReturnSeriesFor(ctx context.Context, tickers []string) (map[string]domain.ReturnSeries, error) {
	unique := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}
	sort.Strings(unique)

	out := make(map[string]domain.ReturnSeries, len(unique))
	for _, ticker := range unique {
		bars, err := s.Prices(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if len(bars) < 2 {
			continue
		}

		points := make([]domain.ReturnPoint, 0, len(bars)-1)
		for i := 1; i < len(bars); i++ {
			if bars[i-1].Close <= 0 {
				continue
			}
			points = append(points, domain.ReturnPoint{
				Date:   bars[i].Month,
				Return: (bars[i].Close - bars[i-1].Close) / bars[i-1].Close,
			})
		}
		if len(points) == 0 {
			continue
		}
		out[ticker] = domain.ReturnSeries{Ticker: ticker, Points: points}
	}
	return out, nil
}

// Tickers lists every ticker with stored prices.
func (s *HistoryStore) Tickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT DISTINCT ticker FROM monthly_prices ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}
