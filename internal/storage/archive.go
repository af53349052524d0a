// Package storage provides the optional Postgres audit archive. The
// canonical alert state lives in memory; this archive only records the
// event stream for history tooling and post-incident review.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fx-risk-alerts/internal/risk"
	"fx-risk-alerts/internal/risk/store"
)

// ErrNotConfigured indicates the archive pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertEventSQL = `INSERT INTO alert_events (
        event_type,
        alert_id,
        alert_type,
        currency,
        severity,
        state,
        occurrence_count,
        payload,
        event_ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listRecentEventsSQL = `SELECT
        id,
        event_type,
        alert_id,
        alert_type,
        currency,
        severity,
        state,
        occurrence_count,
        payload,
        event_ts
    FROM alert_events
    ORDER BY event_ts DESC
    LIMIT $1;`

	listEventsBetweenSQL = `SELECT
        id,
        event_type,
        alert_id,
        alert_type,
        currency,
        severity,
        state,
        occurrence_count,
        payload,
        event_ts
    FROM alert_events
    WHERE event_ts >= $1
      AND event_ts < $2
    ORDER BY event_ts;`

	deleteEventsBeforeSQL = `DELETE FROM alert_events WHERE event_ts < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EventRecord is a persisted audit row.
type EventRecord struct {
	ID              int64
	EventType       string
	AlertID         string
	AlertType       risk.AlertType
	Currency        string
	Severity        risk.Severity
	State           risk.State
	OccurrenceCount int
	Payload         json.RawMessage
	EventTS         time.Time
}

// Archive persists alert events to Postgres.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wires a pgx pool into an Archive.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

func (a *Archive) getPool() (*pgxpool.Pool, error) {
	if a == nil || a.pool == nil {
		return nil, ErrNotConfigured
	}
	return a.pool, nil
}

// Record persists one store event. Satisfies store.Archiver.
func (a *Archive) Record(ctx context.Context, ev store.Event) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(ev.Alert)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	_, execErr := pool.Exec(ctx, insertEventSQL,
		ev.Type,
		ev.Alert.ID,
		string(ev.Alert.Type),
		ev.Alert.Currency,
		string(ev.Alert.Severity),
		string(ev.Alert.State),
		ev.Alert.OccurrenceCount,
		payload,
		ev.At,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert event: %w", execErr)
	}
	return nil
}

// ListRecentEvents lists the most recent events, newest first.
func (a *Archive) ListRecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	return scanEvents(rows, limit)
}

// ListEventsBetween lists events within a time window, oldest first.
func (a *Archive) ListEventsBetween(ctx context.Context, from, to time.Time) ([]EventRecord, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list events between: %w", queryErr)
	}
	defer rows.Close()

	return scanEvents(rows, 0)
}

// DeleteEventsBefore trims historical events for retention.
func (a *Archive) DeleteEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete events before: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts a postgres advisory lock so only one replica
// runs the evaluation sweep. Returns a release func on success.
func (a *Archive) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func scanEvents(rows pgx.Rows, sizeHint int) ([]EventRecord, error) {
	events := make([]EventRecord, 0, sizeHint)
	for rows.Next() {
		var (
			rec       EventRecord
			alertType string
			severity  string
			state     string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.EventType,
			&rec.AlertID,
			&alertType,
			&rec.Currency,
			&severity,
			&state,
			&rec.OccurrenceCount,
			&rec.Payload,
			&rec.EventTS,
		); err != nil {
			return nil, err
		}
		rec.AlertType = risk.AlertType(alertType)
		rec.Severity = risk.Severity(severity)
		rec.State = risk.State(state)
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

var _ store.Archiver = (*Archive)(nil)
