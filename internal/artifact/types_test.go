package artifact

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSeqKeysSortNumerically(t *testing.T) {
	keys := []string{
		CashLedgerRow{Seq: 10}.Key(),
		CashLedgerRow{Seq: 2}.Key(),
		CashLedgerRow{Seq: 1}.Key(),
	}
	sort.Strings(keys)

	assert.Equal(t, CashLedgerRow{Seq: 1}.Key(), keys[0])
	assert.Equal(t, CashLedgerRow{Seq: 2}.Key(), keys[1])
	assert.Equal(t, CashLedgerRow{Seq: 10}.Key(), keys[2], "seq 10 must not sort before seq 2")
}

func TestLotKeyOrdersBySymbolHourThenSeq(t *testing.T) {
	opened := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	a := PositionLot{Symbol: "ETH-USD", OpenedHour: opened, LotSeq: 2}
	b := PositionLot{Symbol: "ETH-USD", OpenedHour: opened, LotSeq: 11}

	assert.Less(t, a.Key(), b.Key())
}

func TestCanonicalFieldsKeepPlainSeq(t *testing.T) {
	row := TradeSignal{
		Seq: 10, Symbol: "BTC-USD", Kind: SignalEntryLong,
		Momentum: decimal.NewFromFloat(0.01), Close: decimal.NewFromInt(100),
	}

	fields := row.Fields()
	assert.Equal(t, "seq", fields[0].Name)
	assert.Equal(t, "10", fields[0].Value, "padding belongs to sort keys, never to hashed bytes")
}
