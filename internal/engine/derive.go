package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"replaycore/internal/artifact"
	"replaycore/internal/storage"
)

var (
	one         = decimal.NewFromInt(1)
	hundred     = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)
)

func r8(d decimal.Decimal) decimal.Decimal { return d.Round(artifact.DecimalPlaces) }

// lotState tracks one open lot during derivation, FIFO per symbol.
type lotState struct {
	symbol     string
	openedHour time.Time
	lotSeq     int32
	openQty    decimal.Decimal
	remaining  decimal.Decimal
	costBasis  decimal.Decimal
}

// DeriveHour computes the complete artifact set of one hour from persisted
// inputs only: candles as-of the hour, the run row, and the previous hour's
// authoritative artifacts. No wall clock, no randomness, no network. The same
// function serves the write path (ExecuteHour) and the replay path.
func DeriveHour(ctx context.Context, repo storage.Repository, run artifact.Run, hourTS time.Time, p Params) (*artifact.Set, error) {
	hourTS = hourTS.UTC()
	rc := artifact.RunContext{RunID: run.RunID, AccountID: run.AccountID, Mode: run.Mode}

	assets, err := repo.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	clusterOf := make(map[string]string, len(assets))
	for _, a := range assets {
		clusterOf[a.Symbol] = a.Cluster
	}

	from := hourTS.Add(-time.Duration(p.LookbackHours) * time.Hour)
	candles, err := repo.ListCandles(ctx, from, hourTS)
	if err != nil {
		return nil, err
	}
	bySymbol := make(map[string][]artifact.Candle)
	lastClose := make(map[string]decimal.Decimal)
	currentClose := make(map[string]decimal.Decimal)
	for _, c := range candles {
		bySymbol[c.Symbol] = append(bySymbol[c.Symbol], c)
		lastClose[c.Symbol] = c.Close
		if c.HourTS.Equal(hourTS) {
			currentClose[c.Symbol] = c.Close
		}
	}

	prevSet, err := repo.LoadArtifacts(ctx, run.RunID, run.AccountID, hourTS.Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	openingCash := run.InitialCash
	prevRealized := decimal.Zero
	if len(prevSet.Portfolio) > 0 {
		openingCash = prevSet.Portfolio[0].Cash
		prevRealized = prevSet.Portfolio[0].RealizedPnl
	}

	lots := carriedLots(prevSet.Lots)

	// Mark value of a symbol: latest close at or before the hour; a lot whose
	// symbol printed no candle inside the lookback window is valued at cost.
	markPrice := func(l *lotState) decimal.Decimal {
		if px, ok := lastClose[l.symbol]; ok {
			return px
		}
		return l.costBasis
	}

	equity0 := openingCash
	grossOpen := decimal.Zero
	for _, l := range lots {
		v := r8(l.remaining.Mul(markPrice(l)))
		equity0 = equity0.Add(v)
		grossOpen = grossOpen.Add(v)
	}
	exposureLimit := r8(p.MaxExposurePct.Div(hundred).Mul(equity0))

	set := &artifact.Set{}

	// Signals, in symbol-ascending order so sequence assignment is stable.
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		symbols = append(symbols, a.Symbol)
	}
	sort.Strings(symbols)

	var signalSeq int32
	for _, symbol := range symbols {
		closePx, ok := currentClose[symbol]
		if !ok {
			continue
		}
		var priorCloses []decimal.Decimal
		for _, c := range bySymbol[symbol] {
			if c.HourTS.Before(hourTS) {
				priorCloses = append(priorCloses, c.Close)
			}
		}
		if len(priorCloses) < p.LookbackHours {
			continue
		}
		sma := decimal.Zero
		window := priorCloses[len(priorCloses)-p.LookbackHours:]
		for _, px := range window {
			sma = sma.Add(px)
		}
		sma = sma.Div(decimal.NewFromInt(int64(p.LookbackHours)))
		if sma.IsZero() {
			continue
		}
		momentum := r8(closePx.Div(sma).Sub(one))

		var kind string
		switch {
		case momentum.GreaterThanOrEqual(p.EntryThreshold):
			kind = artifact.SignalEntryLong
		case momentum.LessThanOrEqual(p.ExitThreshold.Neg()) && openQty(lots, symbol).IsPositive():
			kind = artifact.SignalExitLong
		default:
			continue
		}

		signalSeq++
		set.Signals = append(set.Signals, artifact.TradeSignal{
			RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
			Seq: signalSeq, Symbol: symbol, Kind: kind,
			Momentum: momentum, Close: r8(closePx),
		})
	}

	// Orders, fills, lots, trades, risk events, and ledger rows are derived
	// sequentially in signal order so cash and exposure accounting is a fold.
	cash := openingCash
	hourRealized := decimal.Zero
	throttled := false
	entriesBlocked := false
	var orderSeq, fillSeq, tradeSeq, riskSeq, ledgerSeq int32
	var nextLotSeq int32

	addLedger := func(kind, symbol string, amount decimal.Decimal) {
		ledgerSeq++
		cash = r8(cash.Add(amount))
		set.Ledger = append(set.Ledger, artifact.CashLedgerRow{
			RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
			Seq: ledgerSeq, Kind: kind, Symbol: symbol, Currency: run.BaseCurrency,
			Amount: amount, Balance: cash,
		})
	}
	addRisk := func(code, severity, symbol string, observed, limit decimal.Decimal, detail string) {
		riskSeq++
		set.RiskEvents = append(set.RiskEvents, artifact.RiskEvent{
			RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
			Seq: riskSeq, Code: code, Severity: severity, Symbol: symbol,
			Observed: observed, Limit: limit, Detail: detail,
		})
	}

	for _, sig := range set.Signals {
		closePx := currentClose[sig.Symbol]

		switch sig.Kind {
		case artifact.SignalEntryLong:
			if entriesBlocked {
				continue
			}
			fillPrice := r8(closePx.Mul(one.Add(p.SlippageBps.Div(tenThousand))))
			qty := r8(p.TargetNotional.Div(closePx))
			if !qty.IsPositive() {
				continue
			}
			notional := r8(qty.Mul(fillPrice))
			fee := r8(notional.Mul(p.FeeBps.Div(tenThousand)))
			cost := notional.Add(fee)

			if cash.LessThan(cost) {
				addRisk(artifact.RiskInsufficientCash, artifact.RiskSeverityWarning, sig.Symbol,
					cash, cost, "cash below projected entry cost")
				throttled = true
				continue
			}
			if grossOpen.Add(notional).GreaterThan(exposureLimit) {
				addRisk(artifact.RiskExposureBreach, artifact.RiskSeverityCritical, sig.Symbol,
					r8(grossOpen.Add(notional)), exposureLimit, "gross exposure above limit")
				throttled = true
				// A breach closes the entry window for the rest of the hour;
				// exits keep flowing.
				entriesBlocked = true
				continue
			}

			orderSeq++
			set.Orders = append(set.Orders, artifact.OrderRequest{
				RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
				Seq: orderSeq, SignalSeq: sig.Seq, Symbol: sig.Symbol, Side: artifact.SideBuy,
				Qty: qty, Price: r8(closePx), Notional: notional,
			})
			fillSeq++
			set.Fills = append(set.Fills, artifact.OrderFill{
				RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
				Seq: fillSeq, OrderSeq: orderSeq, Symbol: sig.Symbol, Side: artifact.SideBuy,
				Qty: qty, Price: fillPrice, Fee: fee, Notional: notional,
			})

			nextLotSeq++
			lots = append(lots, &lotState{
				symbol: sig.Symbol, openedHour: hourTS, lotSeq: nextLotSeq,
				openQty: qty, remaining: qty,
				costBasis: r8(cost.Div(qty)),
			})
			grossOpen = grossOpen.Add(notional)

			addLedger(artifact.LedgerFillBuy, sig.Symbol, notional.Neg())
			addLedger(artifact.LedgerFee, sig.Symbol, fee.Neg())

		case artifact.SignalExitLong:
			qty := openQty(lots, sig.Symbol)
			if !qty.IsPositive() {
				continue
			}
			fillPrice := r8(closePx.Mul(one.Sub(p.SlippageBps.Div(tenThousand))))
			notional := r8(qty.Mul(fillPrice))
			fee := r8(notional.Mul(p.FeeBps.Div(tenThousand)))

			orderSeq++
			set.Orders = append(set.Orders, artifact.OrderRequest{
				RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
				Seq: orderSeq, SignalSeq: sig.Seq, Symbol: sig.Symbol, Side: artifact.SideSell,
				Qty: qty, Price: r8(closePx), Notional: notional,
			})
			fillSeq++
			set.Fills = append(set.Fills, artifact.OrderFill{
				RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
				Seq: fillSeq, OrderSeq: orderSeq, Symbol: sig.Symbol, Side: artifact.SideSell,
				Qty: qty, Price: fillPrice, Fee: fee, Notional: notional,
			})

			consumedBasis := consumeFIFO(lots, sig.Symbol, qty)
			grossOpen = grossOpen.Sub(notional)
			if grossOpen.IsNegative() {
				grossOpen = decimal.Zero
			}

			realized := r8(notional.Sub(consumedBasis).Sub(fee))
			hourRealized = hourRealized.Add(realized)

			tradeSeq++
			set.Trades = append(set.Trades, artifact.ExecutedTrade{
				RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
				Seq: tradeSeq, FillSeq: fillSeq, Symbol: sig.Symbol,
				Qty: qty, Price: fillPrice, Proceeds: notional,
				CostBasis: consumedBasis, Fee: fee, RealizedPnl: realized,
			})

			addLedger(artifact.LedgerFillSell, sig.Symbol, notional)
			addLedger(artifact.LedgerFee, sig.Symbol, fee.Neg())
		}
	}

	// End-of-hour open-lot snapshot, the carry-forward input of hour+1.
	for _, l := range lots {
		if !l.remaining.IsPositive() {
			continue
		}
		set.Lots = append(set.Lots, artifact.PositionLot{
			RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
			Symbol: l.symbol, OpenedHour: l.openedHour, LotSeq: l.lotSeq,
			OpenQty: l.openQty, Remaining: l.remaining, CostBasis: l.costBasis,
		})
	}

	// Hourly rollups.
	positionValue := decimal.Zero
	unrealized := decimal.Zero
	clusterGross := make(map[string]decimal.Decimal)
	for _, l := range lots {
		if !l.remaining.IsPositive() {
			continue
		}
		mark := markPrice(l)
		value := r8(l.remaining.Mul(mark))
		positionValue = positionValue.Add(value)
		unrealized = unrealized.Add(r8(l.remaining.Mul(mark.Sub(l.costBasis))))
		cluster := clusterOf[l.symbol]
		clusterGross[cluster] = clusterGross[cluster].Add(value)
	}

	equity := r8(cash.Add(positionValue))
	set.Portfolio = append(set.Portfolio, artifact.PortfolioHourlyState{
		RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
		Currency: run.BaseCurrency,
		Cash:     cash, PositionValue: positionValue, Equity: equity,
		RealizedPnl: r8(prevRealized.Add(hourRealized)), UnrealizedPnl: unrealized,
	})

	clusters := make([]string, 0, len(clusterGross))
	for c := range clusterGross {
		clusters = append(clusters, c)
	}
	sort.Strings(clusters)
	for _, cluster := range clusters {
		gross := clusterGross[cluster]
		pct := decimal.Zero
		if equity.IsPositive() {
			pct = r8(gross.Div(equity).Mul(hundred))
		}
		set.ClusterExposures = append(set.ClusterExposures, artifact.ClusterExposureHourlyState{
			RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
			Cluster: cluster, GrossNotional: gross, ExposurePct: pct,
		})
	}

	exposurePct := decimal.Zero
	if equity.IsPositive() {
		exposurePct = r8(positionValue.Div(equity).Mul(hundred))
	}
	set.RiskStates = append(set.RiskStates, artifact.RiskHourlyState{
		RunID: rc.RunID, AccountID: rc.AccountID, HourTS: hourTS,
		GrossExposurePct: exposurePct,
		RiskEventCount:   int64(len(set.RiskEvents)),
		Throttled:        throttled,
	})

	if err := verifyReferences(set); err != nil {
		return nil, err
	}
	return set, nil
}

// carriedLots rebuilds the FIFO lot state from the previous hour's snapshot.
func carriedLots(prev []artifact.PositionLot) []*lotState {
	lots := make([]*lotState, 0, len(prev))
	for _, l := range prev {
		if !l.Remaining.IsPositive() {
			continue
		}
		lots = append(lots, &lotState{
			symbol: l.Symbol, openedHour: l.OpenedHour.UTC(), lotSeq: l.LotSeq,
			openQty: l.OpenQty, remaining: l.Remaining, costBasis: l.CostBasis,
		})
	}
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].symbol != lots[j].symbol {
			return lots[i].symbol < lots[j].symbol
		}
		if !lots[i].openedHour.Equal(lots[j].openedHour) {
			return lots[i].openedHour.Before(lots[j].openedHour)
		}
		return lots[i].lotSeq < lots[j].lotSeq
	})
	return lots
}

func openQty(lots []*lotState, symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		if l.symbol == symbol {
			total = total.Add(l.remaining)
		}
	}
	return total
}

// consumeFIFO reduces lots of one symbol oldest-first and returns the cost
// basis consumed, rounded to canonical scale.
func consumeFIFO(lots []*lotState, symbol string, qty decimal.Decimal) decimal.Decimal {
	remaining := qty
	basis := decimal.Zero
	for _, l := range lots {
		if l.symbol != symbol || !l.remaining.IsPositive() || !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(l.remaining, remaining)
		basis = basis.Add(take.Mul(l.costBasis))
		l.remaining = l.remaining.Sub(take)
		remaining = remaining.Sub(take)
	}
	return r8(basis)
}

// verifyReferences enforces data-integrity invariants before anything is
// persisted: every order points at a signal of the same hour, every fill at
// an order, every trade at a fill.
func verifyReferences(set *artifact.Set) error {
	signals := make(map[int32]struct{}, len(set.Signals))
	for _, s := range set.Signals {
		signals[s.Seq] = struct{}{}
	}
	orders := make(map[int32]struct{}, len(set.Orders))
	for _, o := range set.Orders {
		if _, ok := signals[o.SignalSeq]; !ok {
			return fmt.Errorf("engine: order %d references unknown signal %d", o.Seq, o.SignalSeq)
		}
		orders[o.Seq] = struct{}{}
	}
	fills := make(map[int32]struct{}, len(set.Fills))
	for _, f := range set.Fills {
		if _, ok := orders[f.OrderSeq]; !ok {
			return fmt.Errorf("engine: fill %d references unknown order %d", f.Seq, f.OrderSeq)
		}
		fills[f.Seq] = struct{}{}
	}
	for _, t := range set.Trades {
		if _, ok := fills[t.FillSeq]; !ok {
			return fmt.Errorf("engine: trade %d references unknown fill %d", t.Seq, t.FillSeq)
		}
	}
	return nil
}
