package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"replaycore/internal/artifact"
)

const (
	insertSignalSQL = `INSERT INTO trade_signals
    (run_id, account_id, hour_ts, seq, symbol, kind, momentum, close)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	insertOrderSQL = `INSERT INTO order_requests
    (run_id, account_id, hour_ts, seq, signal_seq, symbol, side, qty, price, notional)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	insertFillSQL = `INSERT INTO order_fills
    (run_id, account_id, hour_ts, seq, order_seq, symbol, side, qty, price, fee, notional)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	insertLotSQL = `INSERT INTO position_lots
    (run_id, account_id, hour_ts, symbol, opened_hour, lot_seq, open_qty, remaining_qty, cost_basis)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	insertTradeSQL = `INSERT INTO executed_trades
    (run_id, account_id, hour_ts, seq, fill_seq, symbol, qty, price, proceeds, cost_basis, fee, realized_pnl)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	insertRiskEventSQL = `INSERT INTO risk_events
    (run_id, account_id, hour_ts, seq, code, severity, symbol, observed, lim, detail)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	insertLedgerSQL = `INSERT INTO cash_ledger_rows
    (run_id, account_id, hour_ts, seq, kind, symbol, currency, amount, balance)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	insertPortfolioSQL = `INSERT INTO portfolio_hourly_states
    (run_id, account_id, hour_ts, currency, cash, position_value, equity, realized_pnl, unrealized_pnl)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`

	insertClusterSQL = `INSERT INTO cluster_exposure_hourly_states
    (run_id, account_id, hour_ts, cluster, gross_notional, exposure_pct)
    VALUES ($1,$2,$3,$4,$5,$6);`

	insertRiskStateSQL = `INSERT INTO risk_hourly_states
    (run_id, account_id, hour_ts, gross_exposure_pct, risk_event_count, throttled)
    VALUES ($1,$2,$3,$4,$5,$6);`

	selectSignalsSQL = `SELECT seq, symbol, kind, momentum, close
    FROM trade_signals WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY seq;`

	selectOrdersSQL = `SELECT seq, signal_seq, symbol, side, qty, price, notional
    FROM order_requests WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY seq;`

	selectFillsSQL = `SELECT seq, order_seq, symbol, side, qty, price, fee, notional
    FROM order_fills WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY seq;`

	selectLotsSQL = `SELECT symbol, opened_hour, lot_seq, open_qty, remaining_qty, cost_basis
    FROM position_lots WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3
    ORDER BY symbol, opened_hour, lot_seq;`

	selectTradesSQL = `SELECT seq, fill_seq, symbol, qty, price, proceeds, cost_basis, fee, realized_pnl
    FROM executed_trades WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY seq;`

	selectRiskEventsSQL = `SELECT seq, code, severity, symbol, observed, lim, detail
    FROM risk_events WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY seq;`

	selectLedgerSQL = `SELECT seq, kind, symbol, currency, amount, balance
    FROM cash_ledger_rows WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY seq;`

	selectPortfolioSQL = `SELECT currency, cash, position_value, equity, realized_pnl, unrealized_pnl
    FROM portfolio_hourly_states WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY currency;`

	selectClusterSQL = `SELECT cluster, gross_notional, exposure_pct
    FROM cluster_exposure_hourly_states WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3 ORDER BY cluster;`

	selectRiskStateSQL = `SELECT gross_exposure_pct, risk_event_count, throttled
    FROM risk_hourly_states WHERE run_id = $1 AND account_id = $2 AND hour_ts = $3;`
)

// InsertArtifacts writes the full artifact set of one hour. Runs inside the
// caller's serializable transaction; either everything lands or nothing does.
func (r *pgxRepo) InsertArtifacts(ctx context.Context, set *artifact.Set) error {
	for _, s := range set.Signals {
		if _, err := r.tx.Exec(ctx, insertSignalSQL,
			s.RunID, s.AccountID, s.HourTS, s.Seq, s.Symbol, s.Kind,
			s.Momentum.String(), s.Close.String()); err != nil {
			return fmt.Errorf("insert trade signal: %w", err)
		}
	}
	for _, o := range set.Orders {
		if _, err := r.tx.Exec(ctx, insertOrderSQL,
			o.RunID, o.AccountID, o.HourTS, o.Seq, o.SignalSeq, o.Symbol, o.Side,
			o.Qty.String(), o.Price.String(), o.Notional.String()); err != nil {
			return fmt.Errorf("insert order request: %w", err)
		}
	}
	for _, f := range set.Fills {
		if _, err := r.tx.Exec(ctx, insertFillSQL,
			f.RunID, f.AccountID, f.HourTS, f.Seq, f.OrderSeq, f.Symbol, f.Side,
			f.Qty.String(), f.Price.String(), f.Fee.String(), f.Notional.String()); err != nil {
			return fmt.Errorf("insert order fill: %w", err)
		}
	}
	for _, l := range set.Lots {
		if _, err := r.tx.Exec(ctx, insertLotSQL,
			l.RunID, l.AccountID, l.HourTS, l.Symbol, l.OpenedHour, l.LotSeq,
			l.OpenQty.String(), l.Remaining.String(), l.CostBasis.String()); err != nil {
			return fmt.Errorf("insert position lot: %w", err)
		}
	}
	for _, t := range set.Trades {
		if _, err := r.tx.Exec(ctx, insertTradeSQL,
			t.RunID, t.AccountID, t.HourTS, t.Seq, t.FillSeq, t.Symbol,
			t.Qty.String(), t.Price.String(), t.Proceeds.String(),
			t.CostBasis.String(), t.Fee.String(), t.RealizedPnl.String()); err != nil {
			return fmt.Errorf("insert executed trade: %w", err)
		}
	}
	for _, e := range set.RiskEvents {
		if _, err := r.tx.Exec(ctx, insertRiskEventSQL,
			e.RunID, e.AccountID, e.HourTS, e.Seq, e.Code, e.Severity, e.Symbol,
			e.Observed.String(), e.Limit.String(), e.Detail); err != nil {
			return fmt.Errorf("insert risk event: %w", err)
		}
	}
	for _, row := range set.Ledger {
		if _, err := r.tx.Exec(ctx, insertLedgerSQL,
			row.RunID, row.AccountID, row.HourTS, row.Seq, row.Kind, row.Symbol, row.Currency,
			row.Amount.String(), row.Balance.String()); err != nil {
			return fmt.Errorf("insert cash ledger row: %w", err)
		}
	}
	for _, p := range set.Portfolio {
		if _, err := r.tx.Exec(ctx, insertPortfolioSQL,
			p.RunID, p.AccountID, p.HourTS, p.Currency,
			p.Cash.String(), p.PositionValue.String(), p.Equity.String(),
			p.RealizedPnl.String(), p.UnrealizedPnl.String()); err != nil {
			return fmt.Errorf("insert portfolio state: %w", err)
		}
	}
	for _, c := range set.ClusterExposures {
		if _, err := r.tx.Exec(ctx, insertClusterSQL,
			c.RunID, c.AccountID, c.HourTS, c.Cluster,
			c.GrossNotional.String(), c.ExposurePct.String()); err != nil {
			return fmt.Errorf("insert cluster exposure: %w", err)
		}
	}
	for _, rs := range set.RiskStates {
		if _, err := r.tx.Exec(ctx, insertRiskStateSQL,
			rs.RunID, rs.AccountID, rs.HourTS,
			rs.GrossExposurePct.String(), rs.RiskEventCount, rs.Throttled); err != nil {
			return fmt.Errorf("insert risk state: %w", err)
		}
	}
	return nil
}

// LoadArtifacts reads back the complete authoritative artifact set of one hour.
func (r *pgxRepo) LoadArtifacts(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (*artifact.Set, error) {
	set := &artifact.Set{}
	hourTS = hourTS.UTC()

	if err := r.loadSignals(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadOrders(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadFills(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadLots(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadTrades(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadRiskEvents(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadLedger(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadPortfolio(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadClusters(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	if err := r.loadRiskState(ctx, set, runID, accountID, hourTS); err != nil {
		return nil, err
	}
	return set, nil
}

func parseDec(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func (r *pgxRepo) loadSignals(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectSignalsSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load trade signals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		s := artifact.TradeSignal{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var momentum, closePx string
		if err := rows.Scan(&s.Seq, &s.Symbol, &s.Kind, &momentum, &closePx); err != nil {
			return err
		}
		if s.Momentum, err = parseDec("momentum", momentum); err != nil {
			return err
		}
		if s.Close, err = parseDec("close", closePx); err != nil {
			return err
		}
		set.Signals = append(set.Signals, s)
	}
	return rows.Err()
}

func (r *pgxRepo) loadOrders(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectOrdersSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load order requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		o := artifact.OrderRequest{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var qty, price, notional string
		if err := rows.Scan(&o.Seq, &o.SignalSeq, &o.Symbol, &o.Side, &qty, &price, &notional); err != nil {
			return err
		}
		if o.Qty, err = parseDec("qty", qty); err != nil {
			return err
		}
		if o.Price, err = parseDec("price", price); err != nil {
			return err
		}
		if o.Notional, err = parseDec("notional", notional); err != nil {
			return err
		}
		set.Orders = append(set.Orders, o)
	}
	return rows.Err()
}

func (r *pgxRepo) loadFills(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectFillsSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load order fills: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		f := artifact.OrderFill{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var qty, price, fee, notional string
		if err := rows.Scan(&f.Seq, &f.OrderSeq, &f.Symbol, &f.Side, &qty, &price, &fee, &notional); err != nil {
			return err
		}
		if f.Qty, err = parseDec("qty", qty); err != nil {
			return err
		}
		if f.Price, err = parseDec("price", price); err != nil {
			return err
		}
		if f.Fee, err = parseDec("fee", fee); err != nil {
			return err
		}
		if f.Notional, err = parseDec("notional", notional); err != nil {
			return err
		}
		set.Fills = append(set.Fills, f)
	}
	return rows.Err()
}

func (r *pgxRepo) loadLots(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectLotsSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load position lots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		l := artifact.PositionLot{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var openQty, remaining, basis string
		if err := rows.Scan(&l.Symbol, &l.OpenedHour, &l.LotSeq, &openQty, &remaining, &basis); err != nil {
			return err
		}
		l.OpenedHour = l.OpenedHour.UTC()
		if l.OpenQty, err = parseDec("open_qty", openQty); err != nil {
			return err
		}
		if l.Remaining, err = parseDec("remaining_qty", remaining); err != nil {
			return err
		}
		if l.CostBasis, err = parseDec("cost_basis", basis); err != nil {
			return err
		}
		set.Lots = append(set.Lots, l)
	}
	return rows.Err()
}

func (r *pgxRepo) loadTrades(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectTradesSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load executed trades: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t := artifact.ExecutedTrade{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var qty, price, proceeds, basis, fee, pnl string
		if err := rows.Scan(&t.Seq, &t.FillSeq, &t.Symbol, &qty, &price, &proceeds, &basis, &fee, &pnl); err != nil {
			return err
		}
		if t.Qty, err = parseDec("qty", qty); err != nil {
			return err
		}
		if t.Price, err = parseDec("price", price); err != nil {
			return err
		}
		if t.Proceeds, err = parseDec("proceeds", proceeds); err != nil {
			return err
		}
		if t.CostBasis, err = parseDec("cost_basis", basis); err != nil {
			return err
		}
		if t.Fee, err = parseDec("fee", fee); err != nil {
			return err
		}
		if t.RealizedPnl, err = parseDec("realized_pnl", pnl); err != nil {
			return err
		}
		set.Trades = append(set.Trades, t)
	}
	return rows.Err()
}

func (r *pgxRepo) loadRiskEvents(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectRiskEventsSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load risk events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e := artifact.RiskEvent{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var observed, limit string
		if err := rows.Scan(&e.Seq, &e.Code, &e.Severity, &e.Symbol, &observed, &limit, &e.Detail); err != nil {
			return err
		}
		if e.Observed, err = parseDec("observed", observed); err != nil {
			return err
		}
		if e.Limit, err = parseDec("limit", limit); err != nil {
			return err
		}
		set.RiskEvents = append(set.RiskEvents, e)
	}
	return rows.Err()
}

func (r *pgxRepo) loadLedger(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectLedgerSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load cash ledger: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		row := artifact.CashLedgerRow{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var amount, balance string
		if err := rows.Scan(&row.Seq, &row.Kind, &row.Symbol, &row.Currency, &amount, &balance); err != nil {
			return err
		}
		if row.Amount, err = parseDec("amount", amount); err != nil {
			return err
		}
		if row.Balance, err = parseDec("balance", balance); err != nil {
			return err
		}
		set.Ledger = append(set.Ledger, row)
	}
	return rows.Err()
}

func (r *pgxRepo) loadPortfolio(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectPortfolioSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load portfolio state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p := artifact.PortfolioHourlyState{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var cash, posVal, equity, realized, unrealized string
		if err := rows.Scan(&p.Currency, &cash, &posVal, &equity, &realized, &unrealized); err != nil {
			return err
		}
		if p.Cash, err = parseDec("cash", cash); err != nil {
			return err
		}
		if p.PositionValue, err = parseDec("position_value", posVal); err != nil {
			return err
		}
		if p.Equity, err = parseDec("equity", equity); err != nil {
			return err
		}
		if p.RealizedPnl, err = parseDec("realized_pnl", realized); err != nil {
			return err
		}
		if p.UnrealizedPnl, err = parseDec("unrealized_pnl", unrealized); err != nil {
			return err
		}
		set.Portfolio = append(set.Portfolio, p)
	}
	return rows.Err()
}

func (r *pgxRepo) loadClusters(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectClusterSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load cluster exposures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c := artifact.ClusterExposureHourlyState{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var gross, pct string
		if err := rows.Scan(&c.Cluster, &gross, &pct); err != nil {
			return err
		}
		if c.GrossNotional, err = parseDec("gross_notional", gross); err != nil {
			return err
		}
		if c.ExposurePct, err = parseDec("exposure_pct", pct); err != nil {
			return err
		}
		set.ClusterExposures = append(set.ClusterExposures, c)
	}
	return rows.Err()
}

func (r *pgxRepo) loadRiskState(ctx context.Context, set *artifact.Set, runID uuid.UUID, accountID int64, hourTS time.Time) error {
	rows, err := r.tx.Query(ctx, selectRiskStateSQL, runID, accountID, hourTS)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rs := artifact.RiskHourlyState{RunID: runID, AccountID: accountID, HourTS: hourTS}
		var exposure string
		if err := rows.Scan(&exposure, &rs.RiskEventCount, &rs.Throttled); err != nil {
			return err
		}
		if rs.GrossExposurePct, err = parseDec("gross_exposure_pct", exposure); err != nil {
			return err
		}
		set.RiskStates = append(set.RiskStates, rs)
	}
	return rows.Err()
}
