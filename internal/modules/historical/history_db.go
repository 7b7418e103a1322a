// Package historical stores daily closes and market capitalizations and serves them to the
// optimizer as aligned return series and capitalization weights.
package historical

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/database"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/pkg/formulas"
)

const dateLayout = "2006-01-02"

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// DailyPrice is one daily close. AdjustedClose, when present, is used for returns.
type DailyPrice struct {
	Date          string   `json:"date" validate:"required,datetime=2006-01-02"`
	Close         float64  `json:"close" validate:"gt=0"`
	AdjustedClose *float64 `json:"adjusted_close,omitempty" validate:"omitempty,gt=0"`
}

func (p DailyPrice) returnBasis() float64 {
	if p.AdjustedClose != nil {
		return *p.AdjustedClose
	}
	return p.Close
}

// SyncHistoricalPrices upserts daily closes for one asset
func (h *HistoryDB) SyncHistoricalPrices(asset string, prices []DailyPrice) error {
	now := time.Now().Unix()

	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO daily_prices
			(asset, date, close, adjusted_close, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, price := range prices {
			date, err := time.Parse(dateLayout, price.Date)
			if err != nil {
				return fmt.Errorf("failed to parse date %s: %w", price.Date, err)
			}
			if !(price.Close > 0) || !formulas.IsFinite(price.Close) {
				return fmt.Errorf("invalid close %v for %s on %s", price.Close, asset, price.Date)
			}

			adjusted := sql.NullFloat64{}
			if price.AdjustedClose != nil {
				if !(*price.AdjustedClose > 0) || !formulas.IsFinite(*price.AdjustedClose) {
					return fmt.Errorf("invalid adjusted close %v for %s on %s", *price.AdjustedClose, asset, price.Date)
				}
				adjusted = sql.NullFloat64{Float64: *price.AdjustedClose, Valid: true}
			}

			if _, err := stmt.Exec(asset, date.Format(dateLayout), price.Close, adjusted, now); err != nil {
				return fmt.Errorf("failed to insert daily price for %s: %w", price.Date, err)
			}
		}

		_, err = tx.Exec(`
			INSERT INTO price_revisions (asset, revision) VALUES (?, 1)
			ON CONFLICT(asset) DO UPDATE SET revision = revision + 1
		`, asset)
		if err != nil {
			return fmt.Errorf("failed to bump price revision for %s: %w", asset, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.log.Info().
		Str("asset", asset).
		Int("count", len(prices)).
		Msg("Synced historical prices")

	return nil
}

// DataVersion returns the total number of price syncs across the assets. It changes
// whenever any of their closes is written, so estimates derived from older data are
// never served under the new version.
func (h *HistoryDB) DataVersion(ctx context.Context, assets []string) (int64, error) {
	var version int64
	for _, asset := range assets {
		var revision int64
		err := h.db.QueryRowContext(ctx, "SELECT revision FROM price_revisions WHERE asset = ?", asset).Scan(&revision)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to query price revision for %s: %w", asset, err)
		}
		version += revision
	}
	return version, nil
}

// GetDailyPrices fetches closes for an asset within [start, end], oldest first
func (h *HistoryDB) GetDailyPrices(ctx context.Context, asset string, start, end time.Time) ([]DailyPrice, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT date, close, adjusted_close
		FROM daily_prices
		WHERE asset = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, asset, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var adjusted sql.NullFloat64
		if err := rows.Scan(&p.Date, &p.Close, &adjusted); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		if adjusted.Valid {
			v := adjusted.Float64
			p.AdjustedClose = &v
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}

// GetHistoricalReturns builds simple daily returns over the dates every asset has a close
// for. An asset with fewer than two closes in range, or a universe whose common dates
// number fewer than two, yields an InsufficientDataError.
func (h *HistoryDB) GetHistoricalReturns(ctx context.Context, assets []string, start, end time.Time) (optimization.ReturnSeries, error) {
	closes := make(map[string]map[string]float64, len(assets))
	var common map[string]bool

	for _, asset := range assets {
		prices, err := h.GetDailyPrices(ctx, asset, start, end)
		if err != nil {
			return optimization.ReturnSeries{}, fmt.Errorf("failed to load prices for %s: %w", asset, err)
		}
		if len(prices) < 2 {
			return optimization.ReturnSeries{}, &optimization.InsufficientDataError{Asset: asset, Observations: len(prices)}
		}

		byDate := make(map[string]float64, len(prices))
		for _, p := range prices {
			byDate[p.Date] = p.returnBasis()
		}
		closes[asset] = byDate

		if common == nil {
			common = make(map[string]bool, len(byDate))
			for d := range byDate {
				common[d] = true
			}
			continue
		}
		for d := range common {
			if _, ok := byDate[d]; !ok {
				delete(common, d)
			}
		}
	}

	dates := make([]string, 0, len(common))
	for d := range common {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	if len(dates) < 2 && len(assets) > 0 {
		return optimization.ReturnSeries{}, &optimization.InsufficientDataError{Asset: assets[0], Observations: len(dates)}
	}

	series := optimization.ReturnSeries{
		Frequency: optimization.FrequencyDaily,
		Returns:   make(map[string][]float64, len(assets)),
	}
	for _, asset := range assets {
		aligned := make([]float64, len(dates))
		for i, d := range dates {
			aligned[i] = closes[asset][d]
		}
		series.Returns[asset] = formulas.CalculateReturns(aligned)
	}

	h.log.Debug().
		Int("assets", len(assets)).
		Int("observations", len(dates)-1).
		Msg("Built aligned return series")

	return series, nil
}

// UpsertMarketCaps stores capitalizations as of the given date
func (h *HistoryDB) UpsertMarketCaps(caps map[string]float64, asOf time.Time) error {
	now := time.Now().Unix()

	return database.WithTransaction(h.db, func(tx *sql.Tx) error {
		for asset, marketCap := range caps {
			if !(marketCap > 0) || !formulas.IsFinite(marketCap) {
				return fmt.Errorf("invalid market cap %v for %s", marketCap, asset)
			}
			_, err := tx.Exec(`
				INSERT OR REPLACE INTO market_caps (asset, market_cap, as_of, updated_at)
				VALUES (?, ?, ?, ?)
			`, asset, marketCap, asOf.Format(dateLayout), now)
			if err != nil {
				return fmt.Errorf("failed to upsert market cap for %s: %w", asset, err)
			}
		}
		return nil
	})
}

// GetMarketCapWeights returns capitalization weights normalized over the requested assets.
// Every asset must have a stored cap; the optimizer falls back to equal weights otherwise.
func (h *HistoryDB) GetMarketCapWeights(ctx context.Context, assets []string) (map[string]float64, error) {
	weights := make(map[string]float64, len(assets))
	total := 0.0

	for _, asset := range assets {
		var marketCap float64
		err := h.db.QueryRowContext(ctx, "SELECT market_cap FROM market_caps WHERE asset = ?", asset).Scan(&marketCap)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no market cap stored for %s", asset)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query market cap for %s: %w", asset, err)
		}
		weights[asset] = marketCap
		total += marketCap
	}

	for asset := range weights {
		weights[asset] /= total
	}
	return weights, nil
}
