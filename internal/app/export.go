package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"cove-indexer/internal/bucket"
	"cove-indexer/internal/entity"
	"cove-indexer/internal/storage"
)

// Export renders pool rollup buckets as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Interval == "" {
		opts.Interval = "hour"
	}
	kind, err := entity.StatusKind(opts.Interval)
	if err != nil {
		return err
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	width := time.Duration(bucket.Hour) * time.Second
	if kind == entity.KindDailyPoolStatus {
		width = time.Duration(bucket.Day) * time.Second
	}
	from := to.Add(-time.Duration(opts.MaxPoints) * width)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	statuses, err := storage.ListPoolStatuses(ctx, backend, kind, storage.ListOptions{From: from.Unix(), To: to.Unix()})
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		a.Logger.Info().Msg("no buckets found for export window")
		return nil
	}

	downsampled := downsampleStatuses(statuses, opts.MaxPoints)
	a.Logger.Info().Int("total", len(statuses)).Int("exported", len(downsampled)).Msg("exporting buckets")

	if opts.CSVPath != "" {
		if err := writeStatusesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeStatusesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleStatuses(statuses []entity.PoolStatus, max int) []entity.PoolStatus {
	if max <= 0 || len(statuses) <= max {
		return statuses
	}
	if max == 1 {
		return statuses[len(statuses)-1:]
	}

	result := make([]entity.PoolStatus, 0, max)
	step := float64(len(statuses)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		result = append(result, statuses[idx])
	}
	return result
}

func writeStatusesCSV(path string, statuses []entity.PoolStatus) error {
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

	header := []string{"from", "to", "pool", "tx_count", "volume_usd", "avg_trade"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, st := range statuses {
		record := []string{
			time.Unix(st.From, 0).UTC().Format(time.RFC3339),
			time.Unix(st.To, 0).UTC().Format(time.RFC3339),
			st.Pool,
			strconv.FormatInt(st.TxCount, 10),
			st.VolumeUSD.String(),
			st.AvgTrade.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeStatusesPNG(path string, statuses []entity.PoolStatus) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(statuses))
	volume := make([]float64, len(statuses))
	avg := make([]float64, len(statuses))
	count := make([]float64, len(statuses))

	for i, st := range statuses {
		x[i] = time.Unix(st.From, 0).UTC()
		volume[i] = st.VolumeUSD.InexactFloat64()
		avg[i] = st.AvgTrade.InexactFloat64()
		count[i] = float64(st.TxCount)
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "USD",
			ValueFormatter: usdFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Swaps",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Volume USD",
				XValues: x,
				YValues: volume,
			},
			chart.TimeSeries{
				Name:    "Avg trade USD",
				XValues: x,
				YValues: avg,
			},
			chart.TimeSeries{
				Name:    "Tx count",
				XValues: x,
				YValues: count,
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
