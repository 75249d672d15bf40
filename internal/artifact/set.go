package artifact

import "sort"

// Set is the complete artifact output of one executed hour.
type Set struct {
	Signals          []TradeSignal
	Orders           []OrderRequest
	Fills            []OrderFill
	Lots             []PositionLot
	Trades           []ExecutedTrade
	RiskEvents       []RiskEvent
	Ledger           []CashLedgerRow
	Portfolio        []PortfolioHourlyState
	ClusterExposures []ClusterExposureHourlyState
	RiskStates       []RiskHourlyState
}

// Rows returns the rows of one table, sorted by natural key ascending. The
// physical slice order never leaks into hashing or comparison.
func (s *Set) Rows(table string) []Row {
	var rows []Row
	switch table {
	case TableTradeSignal:
		for _, r := range s.Signals {
			rows = append(rows, r)
		}
	case TableOrderRequest:
		for _, r := range s.Orders {
			rows = append(rows, r)
		}
	case TableOrderFill:
		for _, r := range s.Fills {
			rows = append(rows, r)
		}
	case TablePositionLot:
		for _, r := range s.Lots {
			rows = append(rows, r)
		}
	case TableExecutedTrade:
		for _, r := range s.Trades {
			rows = append(rows, r)
		}
	case TableRiskEvent:
		for _, r := range s.RiskEvents {
			rows = append(rows, r)
		}
	case TableCashLedgerRow:
		for _, r := range s.Ledger {
			rows = append(rows, r)
		}
	case TablePortfolioState:
		for _, r := range s.Portfolio {
			rows = append(rows, r)
		}
	case TableClusterExposure:
		for _, r := range s.ClusterExposures {
			rows = append(rows, r)
		}
	case TableRiskState:
		for _, r := range s.RiskStates {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	return rows
}

// Counts returns per-table row counts keyed by table name.
func (s *Set) Counts() map[string]int64 {
	return map[string]int64{
		TableTradeSignal:     int64(len(s.Signals)),
		TableOrderRequest:    int64(len(s.Orders)),
		TableOrderFill:       int64(len(s.Fills)),
		TablePositionLot:     int64(len(s.Lots)),
		TableExecutedTrade:   int64(len(s.Trades)),
		TableRiskEvent:       int64(len(s.RiskEvents)),
		TableCashLedgerRow:   int64(len(s.Ledger)),
		TablePortfolioState:  int64(len(s.Portfolio)),
		TableClusterExposure: int64(len(s.ClusterExposures)),
		TableRiskState:       int64(len(s.RiskStates)),
	}
}

// TotalRows sums row counts across every table.
func (s *Set) TotalRows() int64 {
	var total int64
	for _, n := range s.Counts() {
		total += n
	}
	return total
}

// FieldDiff is one discrepant field between two rows sharing a key.
type FieldDiff struct {
	Field    string
	Expected string
	Actual   string
}

// DiffRows compares two rows of the same table field-by-field. Expected is the
// persisted row, actual the recomputed one. Rows of the same type always carry
// identical field lists, so the walk is positional.
func DiffRows(expected, actual Row) []FieldDiff {
	ef, af := expected.Fields(), actual.Fields()
	var diffs []FieldDiff
	for i := range ef {
		if ef[i].Value != af[i].Value {
			diffs = append(diffs, FieldDiff{Field: ef[i].Name, Expected: ef[i].Value, Actual: af[i].Value})
		}
	}
	return diffs
}
