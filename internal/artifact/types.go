package artifact

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunMode distinguishes live from paper execution identities.
type RunMode string

const (
	ModeLive  RunMode = "LIVE"
	ModePaper RunMode = "PAPER"
)

// ParseRunMode validates a mode string supplied at the boundary.
func ParseRunMode(s string) (RunMode, bool) {
	switch RunMode(s) {
	case ModeLive, ModePaper:
		return RunMode(s), true
	default:
		return "", false
	}
}

// RunContext is the identity triple scoping every artifact of an hour.
type RunContext struct {
	RunID     uuid.UUID
	AccountID int64
	Mode      RunMode
}

// Run is the persisted run row behind a RunContext.
type Run struct {
	RunID        uuid.UUID
	AccountID    int64
	Mode         RunMode
	BaseCurrency string
	InitialCash  decimal.Decimal
	CreatedAt    time.Time
}

// Candle is an upstream hourly market observation for one asset.
type Candle struct {
	Symbol string
	HourTS time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Asset is upstream universe metadata.
type Asset struct {
	Symbol  string
	Cluster string
}

// Field is one canonical (name, value) pair of a row. Values are already in
// canonical textual form: decimals at fixed 8 dp, times as UTC RFC3339.
type Field struct {
	Name  string
	Value string
}

// Row is implemented by every artifact type. Table and Key identify a row
// inside an hour; Fields lists every business field in a fixed order and is
// the sole input to canonicalization, hashing, and field-level diffing.
type Row interface {
	Table() string
	Key() string
	Fields() []Field
}

// DecimalPlaces is the fixed scale used for every canonical decimal value.
const DecimalPlaces int32 = 8

func dec(d decimal.Decimal) string { return d.StringFixed(DecimalPlaces) }
func ts(t time.Time) string        { return t.UTC().Format(time.RFC3339) }
func seq(n int32) string           { return strconv.FormatInt(int64(n), 10) }

// seqKey zero-pads sequence numbers so lexicographic key order matches
// numeric order. Keys feed sorting only; canonical field bytes use seq.
func seqKey(n int32) string { return fmt.Sprintf("%010d", n) }
func boolVal(b bool) string        { return strconv.FormatBool(b) }
func intVal(n int64) string        { return strconv.FormatInt(n, 10) }

// Table name constants, also the fixed manifest fold order.
const (
	TableTradeSignal     = "trade_signal"
	TableOrderRequest    = "order_request"
	TableOrderFill       = "order_fill"
	TablePositionLot     = "position_lot"
	TableExecutedTrade   = "executed_trade"
	TableRiskEvent       = "risk_event"
	TableCashLedgerRow   = "cash_ledger_row"
	TablePortfolioState  = "portfolio_hourly_state"
	TableClusterExposure = "cluster_exposure_hourly_state"
	TableRiskState       = "risk_hourly_state"
)

// TableOrder is the documented fold order for the manifest root hash.
var TableOrder = []string{
	TableTradeSignal,
	TableOrderRequest,
	TableOrderFill,
	TablePositionLot,
	TableExecutedTrade,
	TableRiskEvent,
	TableCashLedgerRow,
	TablePortfolioState,
	TableClusterExposure,
	TableRiskState,
}

// Signal kinds.
const (
	SignalEntryLong = "ENTRY_LONG"
	SignalExitLong  = "EXIT_LONG"
)

// TradeSignal is the derived trading intent for an asset in an hour.
type TradeSignal struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
	Seq       int32
	Symbol    string
	Kind      string
	Momentum  decimal.Decimal
	Close     decimal.Decimal
}

func (s TradeSignal) Table() string { return TableTradeSignal }
func (s TradeSignal) Key() string   { return seqKey(s.Seq) }
func (s TradeSignal) Fields() []Field {
	return []Field{
		{"seq", seq(s.Seq)},
		{"symbol", s.Symbol},
		{"kind", s.Kind},
		{"momentum", dec(s.Momentum)},
		{"close", dec(s.Close)},
	}
}

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// OrderRequest is an order the engine decided to place.
type OrderRequest struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
	Seq       int32
	SignalSeq int32
	Symbol    string
	Side      string
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Notional  decimal.Decimal
}

func (o OrderRequest) Table() string { return TableOrderRequest }
func (o OrderRequest) Key() string   { return seqKey(o.Seq) }
func (o OrderRequest) Fields() []Field {
	return []Field{
		{"seq", seq(o.Seq)},
		{"signal_seq", seq(o.SignalSeq)},
		{"symbol", o.Symbol},
		{"side", o.Side},
		{"qty", dec(o.Qty)},
		{"price", dec(o.Price)},
		{"notional", dec(o.Notional)},
	}
}

// OrderFill is the execution result of an OrderRequest.
type OrderFill struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
	Seq       int32
	OrderSeq  int32
	Symbol    string
	Side      string
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Notional  decimal.Decimal
}

func (f OrderFill) Table() string { return TableOrderFill }
func (f OrderFill) Key() string   { return seqKey(f.Seq) }
func (f OrderFill) Fields() []Field {
	return []Field{
		{"seq", seq(f.Seq)},
		{"order_seq", seq(f.OrderSeq)},
		{"symbol", f.Symbol},
		{"side", f.Side},
		{"qty", dec(f.Qty)},
		{"price", dec(f.Price)},
		{"fee", dec(f.Fee)},
		{"notional", dec(f.Notional)},
	}
}

// PositionLot is one open lot in the end-of-hour snapshot. The full open-lot
// set is persisted every hour so that each hour derives from the previous
// hour's snapshot alone.
type PositionLot struct {
	RunID      uuid.UUID
	AccountID  int64
	HourTS     time.Time
	Symbol     string
	OpenedHour time.Time
	LotSeq     int32
	OpenQty    decimal.Decimal
	Remaining  decimal.Decimal
	CostBasis  decimal.Decimal
}

func (l PositionLot) Table() string { return TablePositionLot }
func (l PositionLot) Key() string   { return l.Symbol + "|" + ts(l.OpenedHour) + "|" + seqKey(l.LotSeq) }
func (l PositionLot) Fields() []Field {
	return []Field{
		{"symbol", l.Symbol},
		{"opened_hour", ts(l.OpenedHour)},
		{"lot_seq", seq(l.LotSeq)},
		{"open_qty", dec(l.OpenQty)},
		{"remaining_qty", dec(l.Remaining)},
		{"cost_basis", dec(l.CostBasis)},
	}
}

// ExecutedTrade is a realized trade reconciling sell fills into position changes.
type ExecutedTrade struct {
	RunID       uuid.UUID
	AccountID   int64
	HourTS      time.Time
	Seq         int32
	FillSeq     int32
	Symbol      string
	Qty         decimal.Decimal
	Price       decimal.Decimal
	Proceeds    decimal.Decimal
	CostBasis   decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnl decimal.Decimal
}

func (t ExecutedTrade) Table() string { return TableExecutedTrade }
func (t ExecutedTrade) Key() string   { return seqKey(t.Seq) }
func (t ExecutedTrade) Fields() []Field {
	return []Field{
		{"seq", seq(t.Seq)},
		{"fill_seq", seq(t.FillSeq)},
		{"symbol", t.Symbol},
		{"qty", dec(t.Qty)},
		{"price", dec(t.Price)},
		{"proceeds", dec(t.Proceeds)},
		{"cost_basis", dec(t.CostBasis)},
		{"fee", dec(t.Fee)},
		{"realized_pnl", dec(t.RealizedPnl)},
	}
}

// Risk event codes and severities.
const (
	RiskInsufficientCash = "INSUFFICIENT_CASH"
	RiskExposureBreach   = "EXPOSURE_BREACH"

	RiskSeverityWarning  = "WARNING"
	RiskSeverityCritical = "CRITICAL"
)

// RiskEvent is a triggered risk condition.
type RiskEvent struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
	Seq       int32
	Code      string
	Severity  string
	Symbol    string
	Observed  decimal.Decimal
	Limit     decimal.Decimal
	Detail    string
}

func (e RiskEvent) Table() string { return TableRiskEvent }
func (e RiskEvent) Key() string   { return seqKey(e.Seq) }
func (e RiskEvent) Fields() []Field {
	return []Field{
		{"seq", seq(e.Seq)},
		{"code", e.Code},
		{"severity", e.Severity},
		{"symbol", e.Symbol},
		{"observed", dec(e.Observed)},
		{"limit", dec(e.Limit)},
		{"detail", e.Detail},
	}
}

// Cash ledger posting kinds.
const (
	LedgerFillBuy  = "FILL_BUY"
	LedgerFillSell = "FILL_SELL"
	LedgerFee      = "FEE"
)

// CashLedgerRow is a posting affecting the cash balance.
type CashLedgerRow struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
	Seq       int32
	Kind      string
	Symbol    string
	Currency  string
	Amount    decimal.Decimal
	Balance   decimal.Decimal
}

func (r CashLedgerRow) Table() string { return TableCashLedgerRow }
func (r CashLedgerRow) Key() string   { return seqKey(r.Seq) }
func (r CashLedgerRow) Fields() []Field {
	return []Field{
		{"seq", seq(r.Seq)},
		{"kind", r.Kind},
		{"symbol", r.Symbol},
		{"currency", r.Currency},
		{"amount", dec(r.Amount)},
		{"balance", dec(r.Balance)},
	}
}

// PortfolioHourlyState is the end-of-hour portfolio rollup, one row per hour.
type PortfolioHourlyState struct {
	RunID         uuid.UUID
	AccountID     int64
	HourTS        time.Time
	Currency      string
	Cash          decimal.Decimal
	PositionValue decimal.Decimal
	Equity        decimal.Decimal
	RealizedPnl   decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

func (p PortfolioHourlyState) Table() string { return TablePortfolioState }
func (p PortfolioHourlyState) Key() string   { return p.Currency }
func (p PortfolioHourlyState) Fields() []Field {
	return []Field{
		{"currency", p.Currency},
		{"cash", dec(p.Cash)},
		{"position_value", dec(p.PositionValue)},
		{"equity", dec(p.Equity)},
		{"realized_pnl", dec(p.RealizedPnl)},
		{"unrealized_pnl", dec(p.UnrealizedPnl)},
	}
}

// ClusterExposureHourlyState is the end-of-hour exposure rollup per asset cluster.
type ClusterExposureHourlyState struct {
	RunID         uuid.UUID
	AccountID     int64
	HourTS        time.Time
	Cluster       string
	GrossNotional decimal.Decimal
	ExposurePct   decimal.Decimal
}

func (c ClusterExposureHourlyState) Table() string { return TableClusterExposure }
func (c ClusterExposureHourlyState) Key() string   { return c.Cluster }
func (c ClusterExposureHourlyState) Fields() []Field {
	return []Field{
		{"cluster", c.Cluster},
		{"gross_notional", dec(c.GrossNotional)},
		{"exposure_pct", dec(c.ExposurePct)},
	}
}

// RiskHourlyState is the end-of-hour risk rollup, one row per hour.
type RiskHourlyState struct {
	RunID            uuid.UUID
	AccountID        int64
	HourTS           time.Time
	GrossExposurePct decimal.Decimal
	RiskEventCount   int64
	Throttled        bool
}

func (r RiskHourlyState) Table() string { return TableRiskState }
func (r RiskHourlyState) Key() string   { return "risk" }
func (r RiskHourlyState) Fields() []Field {
	return []Field{
		{"gross_exposure_pct", dec(r.GrossExposurePct)},
		{"risk_event_count", intVal(r.RiskEventCount)},
		{"throttled", boolVal(r.Throttled)},
	}
}
