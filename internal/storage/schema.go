package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL bootstraps every table the core reads or writes. Artifact tables
// are keyed by (run_id, account_id, hour_ts, natural key); the manifest
// primary key is what makes a second execution of the same hour fail instead
// of double-writing.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS runs (
        run_id        UUID PRIMARY KEY,
        account_id    BIGINT NOT NULL,
        mode          TEXT NOT NULL,
        base_currency TEXT NOT NULL,
        initial_cash  NUMERIC NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS assets (
        symbol  TEXT PRIMARY KEY,
        cluster TEXT NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS market_candles (
        symbol  TEXT NOT NULL,
        hour_ts TIMESTAMPTZ NOT NULL,
        open    NUMERIC NOT NULL,
        high    NUMERIC NOT NULL,
        low     NUMERIC NOT NULL,
        close   NUMERIC NOT NULL,
        volume  NUMERIC NOT NULL,
        PRIMARY KEY (symbol, hour_ts)
    );`,
	`CREATE TABLE IF NOT EXISTS trade_signals (
        run_id     UUID NOT NULL,
        account_id BIGINT NOT NULL,
        hour_ts    TIMESTAMPTZ NOT NULL,
        seq        INT NOT NULL,
        symbol     TEXT NOT NULL,
        kind       TEXT NOT NULL,
        momentum   NUMERIC NOT NULL,
        close      NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, seq)
    );`,
	`CREATE TABLE IF NOT EXISTS order_requests (
        run_id     UUID NOT NULL,
        account_id BIGINT NOT NULL,
        hour_ts    TIMESTAMPTZ NOT NULL,
        seq        INT NOT NULL,
        signal_seq INT NOT NULL,
        symbol     TEXT NOT NULL,
        side       TEXT NOT NULL,
        qty        NUMERIC NOT NULL,
        price      NUMERIC NOT NULL,
        notional   NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, seq)
    );`,
	`CREATE TABLE IF NOT EXISTS order_fills (
        run_id     UUID NOT NULL,
        account_id BIGINT NOT NULL,
        hour_ts    TIMESTAMPTZ NOT NULL,
        seq        INT NOT NULL,
        order_seq  INT NOT NULL,
        symbol     TEXT NOT NULL,
        side       TEXT NOT NULL,
        qty        NUMERIC NOT NULL,
        price      NUMERIC NOT NULL,
        fee        NUMERIC NOT NULL,
        notional   NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, seq)
    );`,
	`CREATE TABLE IF NOT EXISTS position_lots (
        run_id        UUID NOT NULL,
        account_id    BIGINT NOT NULL,
        hour_ts       TIMESTAMPTZ NOT NULL,
        symbol        TEXT NOT NULL,
        opened_hour   TIMESTAMPTZ NOT NULL,
        lot_seq       INT NOT NULL,
        open_qty      NUMERIC NOT NULL,
        remaining_qty NUMERIC NOT NULL,
        cost_basis    NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, symbol, opened_hour, lot_seq)
    );`,
	`CREATE TABLE IF NOT EXISTS executed_trades (
        run_id       UUID NOT NULL,
        account_id   BIGINT NOT NULL,
        hour_ts      TIMESTAMPTZ NOT NULL,
        seq          INT NOT NULL,
        fill_seq     INT NOT NULL,
        symbol       TEXT NOT NULL,
        qty          NUMERIC NOT NULL,
        price        NUMERIC NOT NULL,
        proceeds     NUMERIC NOT NULL,
        cost_basis   NUMERIC NOT NULL,
        fee          NUMERIC NOT NULL,
        realized_pnl NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, seq)
    );`,
	`CREATE TABLE IF NOT EXISTS risk_events (
        run_id     UUID NOT NULL,
        account_id BIGINT NOT NULL,
        hour_ts    TIMESTAMPTZ NOT NULL,
        seq        INT NOT NULL,
        code       TEXT NOT NULL,
        severity   TEXT NOT NULL,
        symbol     TEXT NOT NULL,
        observed   NUMERIC NOT NULL,
        lim        NUMERIC NOT NULL,
        detail     TEXT NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, seq)
    );`,
	`CREATE TABLE IF NOT EXISTS cash_ledger_rows (
        run_id     UUID NOT NULL,
        account_id BIGINT NOT NULL,
        hour_ts    TIMESTAMPTZ NOT NULL,
        seq        INT NOT NULL,
        kind       TEXT NOT NULL,
        symbol     TEXT NOT NULL,
        currency   TEXT NOT NULL,
        amount     NUMERIC NOT NULL,
        balance    NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, seq)
    );`,
	`CREATE TABLE IF NOT EXISTS portfolio_hourly_states (
        run_id         UUID NOT NULL,
        account_id     BIGINT NOT NULL,
        hour_ts        TIMESTAMPTZ NOT NULL,
        currency       TEXT NOT NULL,
        cash           NUMERIC NOT NULL,
        position_value NUMERIC NOT NULL,
        equity         NUMERIC NOT NULL,
        realized_pnl   NUMERIC NOT NULL,
        unrealized_pnl NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, currency)
    );`,
	`CREATE TABLE IF NOT EXISTS cluster_exposure_hourly_states (
        run_id         UUID NOT NULL,
        account_id     BIGINT NOT NULL,
        hour_ts        TIMESTAMPTZ NOT NULL,
        cluster        TEXT NOT NULL,
        gross_notional NUMERIC NOT NULL,
        exposure_pct   NUMERIC NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts, cluster)
    );`,
	`CREATE TABLE IF NOT EXISTS risk_hourly_states (
        run_id             UUID NOT NULL,
        account_id         BIGINT NOT NULL,
        hour_ts            TIMESTAMPTZ NOT NULL,
        gross_exposure_pct NUMERIC NOT NULL,
        risk_event_count   BIGINT NOT NULL,
        throttled          BOOLEAN NOT NULL,
        PRIMARY KEY (run_id, account_id, hour_ts)
    );`,
	`CREATE TABLE IF NOT EXISTS replay_manifests (
        run_id                  UUID NOT NULL,
        account_id              BIGINT NOT NULL,
        hour_ts                 TIMESTAMPTZ NOT NULL,
        root_hash               TEXT NOT NULL,
        authoritative_row_count BIGINT NOT NULL,
        tables                  JSONB NOT NULL,
        created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (run_id, account_id, hour_ts)
    );`,
	`CREATE INDEX IF NOT EXISTS idx_replay_manifests_account_hour
        ON replay_manifests (account_id, hour_ts);`,
}

// InitSchema applies the embedded DDL. Statements are idempotent so repeated
// init-db invocations are safe.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
