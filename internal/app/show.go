package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent alert events from the audit archive.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		return errors.New("database not configured; cannot show alert events")
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	events, err := archive.ListRecentEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no alert events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tEvent\tType\tCurrency\tSeverity\tState\tOccurrences\tAlert ID")

	for _, ev := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			ev.EventTS.UTC().Format(time.RFC3339),
			ev.EventType,
			ev.AlertType,
			ev.Currency,
			ev.Severity,
			ev.State,
			ev.OccurrenceCount,
			shortID(ev.AlertID),
		)
	}

	writer.Flush()
	return nil
}

func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	return id
}
