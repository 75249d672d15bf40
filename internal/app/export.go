package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"replaycore/internal/artifact"
	"replaycore/internal/storage"
)

// Export renders a run's hourly equity curve as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC().Truncate(time.Hour)
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	var states []artifact.PortfolioHourlyState
	err = store.WithReadTx(ctx, func(repo storage.Repository) error {
		var err error
		states, err = repo.ListPortfolioStates(ctx, opts.RunID, opts.AccountID, from, to)
		return err
	})
	if err != nil {
		return err
	}
	if len(states) == 0 {
		a.Logger.Info().Msg("no portfolio states found for export window")
		return nil
	}

	downsampled := downsampleStates(states, opts.MaxPoints)
	a.Logger.Info().Int("total", len(states)).Int("exported", len(downsampled)).Msg("exporting equity curve")

	if opts.CSVPath != "" {
		if err := writeStatesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeStatesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleStates(states []artifact.PortfolioHourlyState, max int) []artifact.PortfolioHourlyState {
	if max <= 0 || len(states) <= max {
		return states
	}

	result := make([]artifact.PortfolioHourlyState, 0, max)
	step := float64(len(states)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(states) {
			idx = len(states) - 1
		}
		result = append(result, states[idx])
	}
	return result
}

func writeStatesCSV(path string, states []artifact.PortfolioHourlyState) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"hour_ts", "currency", "cash", "position_value", "equity", "realized_pnl", "unrealized_pnl"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, state := range states {
		record := []string{
			state.HourTS.UTC().Format(time.RFC3339),
			state.Currency,
			state.Cash.StringFixed(artifact.DecimalPlaces),
			state.PositionValue.StringFixed(artifact.DecimalPlaces),
			state.Equity.StringFixed(artifact.DecimalPlaces),
			state.RealizedPnl.StringFixed(artifact.DecimalPlaces),
			state.UnrealizedPnl.StringFixed(artifact.DecimalPlaces),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeStatesPNG(path string, states []artifact.PortfolioHourlyState) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(states))
	equity := make([]float64, len(states))
	cash := make([]float64, len(states))
	realized := make([]float64, len(states))

	for i, state := range states {
		x[i] = state.HourTS
		equity[i] = state.Equity.InexactFloat64()
		cash[i] = state.Cash.InexactFloat64()
		realized[i] = state.RealizedPnl.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Equity",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Realized PnL",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Equity",
				XValues: x,
				YValues: equity,
			},
			chart.TimeSeries{
				Name:    "Cash",
				XValues: x,
				YValues: cash,
			},
			chart.TimeSeries{
				Name:    "Realized PnL",
				XValues: x,
				YValues: realized,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
