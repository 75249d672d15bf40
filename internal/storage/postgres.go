package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"replaycore/internal/artifact"
	"replaycore/internal/canonical"
)

const (
	getRunSQL = `SELECT run_id, account_id, mode, base_currency, initial_cash, created_at
    FROM runs WHERE run_id = $1;`

	insertRunSQL = `INSERT INTO runs (run_id, account_id, mode, base_currency, initial_cash, created_at)
    VALUES ($1,$2,$3,$4,$5,$6);`

	listAssetsSQL = `SELECT symbol, cluster FROM assets ORDER BY symbol;`

	upsertAssetSQL = `INSERT INTO assets (symbol, cluster) VALUES ($1,$2)
    ON CONFLICT (symbol) DO UPDATE SET cluster = EXCLUDED.cluster;`

	listCandlesSQL = `SELECT symbol, hour_ts, open, high, low, close, volume
    FROM market_candles
    WHERE hour_ts >= $1 AND hour_ts <= $2
    ORDER BY symbol, hour_ts;`

	upsertCandleSQL = `INSERT INTO market_candles (symbol, hour_ts, open, high, low, close, volume)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (symbol, hour_ts) DO UPDATE
    SET open = EXCLUDED.open,
        high = EXCLUDED.high,
        low = EXCLUDED.low,
        close = EXCLUDED.close,
        volume = EXCLUDED.volume;`

	latestCandleHourSQL = `SELECT max(hour_ts) FROM market_candles;`

	insertManifestSQL = `INSERT INTO replay_manifests
    (run_id, account_id, hour_ts, root_hash, authoritative_row_count, tables)
    VALUES ($1,$2,$3,$4,$5,$6);`

	getManifestSQL = `SELECT root_hash, authoritative_row_count, tables
    FROM replay_manifests
    WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3;`

	listManifestTargetsSQL = `SELECT m.run_id, m.account_id, m.hour_ts
    FROM replay_manifests m
    JOIN runs r ON r.run_id = m.run_id
    WHERE m.account_id = $1 AND r.mode = $2 AND m.hour_ts >= $3 AND m.hour_ts <= $4
    ORDER BY m.hour_ts, m.run_id;`

	listAllManifestTargetsSQL = `SELECT run_id, account_id, hour_ts
    FROM replay_manifests
    ORDER BY hour_ts, run_id;`

	listRecentManifestsSQL = `SELECT run_id, account_id, hour_ts, root_hash, authoritative_row_count, tables
    FROM replay_manifests
    ORDER BY hour_ts DESC
    LIMIT $1;`

	latestExecutedHourSQL = `SELECT max(hour_ts) FROM replay_manifests
    WHERE run_id = $1 AND account_id = $2;`

	listPortfolioStatesSQL = `SELECT currency, cash, position_value, equity, realized_pnl, unrealized_pnl, hour_ts
    FROM portfolio_hourly_states
    WHERE run_id = $1 AND account_id = $2 AND hour_ts >= $3 AND hour_ts <= $4
    ORDER BY hour_ts, currency;`
)

// pgxRepo binds the Repository capability set to one in-flight transaction.
type pgxRepo struct {
	tx pgx.Tx
}

func (r *pgxRepo) GetRun(ctx context.Context, runID uuid.UUID) (artifact.Run, error) {
	var run artifact.Run
	var mode, cashStr string
	err := r.tx.QueryRow(ctx, getRunSQL, runID).Scan(
		&run.RunID, &run.AccountID, &mode, &run.BaseCurrency, &cashStr, &run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return artifact.Run{}, ErrRunNotFound
	}
	if err != nil {
		return artifact.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Mode = artifact.RunMode(mode)
	if run.InitialCash, err = decimal.NewFromString(cashStr); err != nil {
		return artifact.Run{}, fmt.Errorf("parse initial cash: %w", err)
	}
	return run, nil
}

func (r *pgxRepo) InsertRun(ctx context.Context, run artifact.Run) error {
	_, err := r.tx.Exec(ctx, insertRunSQL,
		run.RunID, run.AccountID, string(run.Mode), run.BaseCurrency,
		run.InitialCash.String(), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *pgxRepo) ListAssets(ctx context.Context) ([]artifact.Asset, error) {
	rows, err := r.tx.Query(ctx, listAssetsSQL)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets := make([]artifact.Asset, 0)
	for rows.Next() {
		var a artifact.Asset
		if err := rows.Scan(&a.Symbol, &a.Cluster); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *pgxRepo) UpsertAsset(ctx context.Context, asset artifact.Asset) error {
	if _, err := r.tx.Exec(ctx, upsertAssetSQL, asset.Symbol, asset.Cluster); err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

func (r *pgxRepo) ListCandles(ctx context.Context, from, to time.Time) ([]artifact.Candle, error) {
	rows, err := r.tx.Query(ctx, listCandlesSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list candles: %w", err)
	}
	defer rows.Close()

	candles := make([]artifact.Candle, 0)
	for rows.Next() {
		var c artifact.Candle
		var open, high, low, closePx, volume string
		if err := rows.Scan(&c.Symbol, &c.HourTS, &open, &high, &low, &closePx, &volume); err != nil {
			return nil, err
		}
		if c.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("parse open: %w", err)
		}
		if c.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		if c.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		if c.Close, err = decimal.NewFromString(closePx); err != nil {
			return nil, fmt.Errorf("parse close: %w", err)
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (r *pgxRepo) UpsertCandle(ctx context.Context, c artifact.Candle) error {
	_, err := r.tx.Exec(ctx, upsertCandleSQL,
		c.Symbol, c.HourTS,
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

func (r *pgxRepo) LatestCandleHour(ctx context.Context) (time.Time, bool, error) {
	var latest *time.Time
	if err := r.tx.QueryRow(ctx, latestCandleHourSQL).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest candle hour: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

func (r *pgxRepo) InsertManifest(ctx context.Context, m canonical.Manifest) error {
	tablesJSON, err := json.Marshal(m.Tables)
	if err != nil {
		return fmt.Errorf("marshal manifest tables: %w", err)
	}
	_, err = r.tx.Exec(ctx, insertManifestSQL,
		m.RunID, m.AccountID, m.HourTS, m.RootHash, m.AuthoritativeRowCount, tablesJSON,
	)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

func (r *pgxRepo) GetManifest(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (canonical.Manifest, bool, error) {
	m := canonical.Manifest{RunID: runID, AccountID: accountID, HourTS: hourTS.UTC()}
	var tablesJSON []byte
	err := r.tx.QueryRow(ctx, getManifestSQL, runID, accountID, hourTS).Scan(
		&m.RootHash, &m.AuthoritativeRowCount, &tablesJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return canonical.Manifest{}, false, nil
	}
	if err != nil {
		return canonical.Manifest{}, false, fmt.Errorf("get manifest: %w", err)
	}
	if err := json.Unmarshal(tablesJSON, &m.Tables); err != nil {
		return canonical.Manifest{}, false, fmt.Errorf("unmarshal manifest tables: %w", err)
	}
	return m, true, nil
}

func (r *pgxRepo) ListManifestTargets(ctx context.Context, accountID int64, mode artifact.RunMode, from, to time.Time) ([]ManifestKey, error) {
	rows, err := r.tx.Query(ctx, listManifestTargetsSQL, accountID, string(mode), from, to)
	if err != nil {
		return nil, fmt.Errorf("list manifest targets: %w", err)
	}
	defer rows.Close()
	return scanManifestKeys(rows)
}

func (r *pgxRepo) ListAllManifestTargets(ctx context.Context) ([]ManifestKey, error) {
	rows, err := r.tx.Query(ctx, listAllManifestTargetsSQL)
	if err != nil {
		return nil, fmt.Errorf("list all manifest targets: %w", err)
	}
	defer rows.Close()
	return scanManifestKeys(rows)
}

func scanManifestKeys(rows pgx.Rows) ([]ManifestKey, error) {
	keys := make([]ManifestKey, 0)
	for rows.Next() {
		var k ManifestKey
		if err := rows.Scan(&k.RunID, &k.AccountID, &k.HourTS); err != nil {
			return nil, err
		}
		k.HourTS = k.HourTS.UTC()
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *pgxRepo) ListRecentManifests(ctx context.Context, limit int) ([]canonical.Manifest, error) {
	rows, err := r.tx.Query(ctx, listRecentManifestsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent manifests: %w", err)
	}
	defer rows.Close()

	manifests := make([]canonical.Manifest, 0, limit)
	for rows.Next() {
		var m canonical.Manifest
		var tablesJSON []byte
		if err := rows.Scan(&m.RunID, &m.AccountID, &m.HourTS, &m.RootHash, &m.AuthoritativeRowCount, &tablesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(tablesJSON, &m.Tables); err != nil {
			return nil, fmt.Errorf("unmarshal manifest tables: %w", err)
		}
		m.HourTS = m.HourTS.UTC()
		manifests = append(manifests, m)
	}
	return manifests, rows.Err()
}

func (r *pgxRepo) LatestExecutedHour(ctx context.Context, runID uuid.UUID, accountID int64) (time.Time, bool, error) {
	var latest *time.Time
	if err := r.tx.QueryRow(ctx, latestExecutedHourSQL, runID, accountID).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest executed hour: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

func (r *pgxRepo) ListPortfolioStates(ctx context.Context, runID uuid.UUID, accountID int64, from, to time.Time) ([]artifact.PortfolioHourlyState, error) {
	rows, err := r.tx.Query(ctx, listPortfolioStatesSQL, runID, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list portfolio states: %w", err)
	}
	defer rows.Close()

	states := make([]artifact.PortfolioHourlyState, 0)
	for rows.Next() {
		s := artifact.PortfolioHourlyState{RunID: runID, AccountID: accountID}
		var cash, posVal, equity, realized, unrealized string
		if err := rows.Scan(&s.Currency, &cash, &posVal, &equity, &realized, &unrealized, &s.HourTS); err != nil {
			return nil, err
		}
		if s.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("parse cash: %w", err)
		}
		if s.PositionValue, err = decimal.NewFromString(posVal); err != nil {
			return nil, fmt.Errorf("parse position value: %w", err)
		}
		if s.Equity, err = decimal.NewFromString(equity); err != nil {
			return nil, fmt.Errorf("parse equity: %w", err)
		}
		if s.RealizedPnl, err = decimal.NewFromString(realized); err != nil {
			return nil, fmt.Errorf("parse realized pnl: %w", err)
		}
		if s.UnrealizedPnl, err = decimal.NewFromString(unrealized); err != nil {
			return nil, fmt.Errorf("parse unrealized pnl: %w", err)
		}
		s.HourTS = s.HourTS.UTC()
		states = append(states, s)
	}
	return states, rows.Err()
}

var _ Repository = (*pgxRepo)(nil)
