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

	"fx-risk-alerts/internal/storage"
)

// Export renders the archived alert event history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := archive.ListEventsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no alert events found for export window")
		return nil
	}

	downsampled := downsampleEvents(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting alert events")

	if opts.CSVPath != "" {
		if err := writeEventsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeEventsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEvents(events []storage.EventRecord, max int) []storage.EventRecord {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]storage.EventRecord, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeEventsCSV(path string, events []storage.EventRecord) error {
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

	header := []string{"event_ts", "event_type", "alert_id", "alert_type", "currency", "severity", "state", "occurrence_count"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, ev := range events {
		record := []string{
			ev.EventTS.Format(time.RFC3339),
			ev.EventType,
			ev.AlertID,
			string(ev.AlertType),
			ev.Currency,
			string(ev.Severity),
			string(ev.State),
			strconv.Itoa(ev.OccurrenceCount),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeEventsPNG(path string, events []storage.EventRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	severityRank := make([]float64, len(events))
	cumulative := make([]float64, len(events))

	for i, ev := range events {
		x[i] = ev.EventTS
		severityRank[i] = float64(ev.Severity.Rank())
		cumulative[i] = float64(i + 1)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Severity (1=info 2=warning 3=critical)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Cumulative events",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Severity",
				XValues: x,
				YValues: severityRank,
			},
			chart.TimeSeries{
				Name:    "Cumulative",
				XValues: x,
				YValues: cumulative,
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
