// Package store owns the canonical alert set and its lifecycle. It is the
// only component allowed to mutate alert state or occurrence counts.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-risk-alerts/internal/risk"
)

// Outcome classifies what an upsert did.
type Outcome string

const (
	// OutcomeTriggered means a genuinely new alert record was created.
	OutcomeTriggered Outcome = "triggered"
	// OutcomeNoChange means an active alert under the same dedup key
	// absorbed the re-trigger without a severity change.
	OutcomeNoChange Outcome = "no_change"
	// OutcomeEscalated means the re-trigger carried a strictly higher
	// severity and the stored alert was escalated in place.
	OutcomeEscalated Outcome = "escalated"
)

// Event is an audit record emitted on every mutation.
type Event struct {
	Type  string    // created / reoccurred / escalated / acknowledged / resolved / snoozed / reopened
	At    time.Time
	Alert risk.Alert
}

// Archiver receives audit events. Archive failures never fail the mutation
// that produced them.
type Archiver interface {
	Record(ctx context.Context, ev Event) error
}

// Store is the single writer over the alert map. A single mutex serialises
// all mutations; trigger volume is low and the dedup check-then-act must
// be atomic. No I/O happens while the lock is held: audit events are
// flushed to the archiver after unlock.
type Store struct {
	mu     sync.Mutex
	alerts map[string]*risk.Alert
	active map[string]string // dedup key -> alert id, active states only

	archiver Archiver
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs an empty store. archiver may be nil.
func New(archiver Archiver, logger zerolog.Logger) *Store {
	return &Store{
		alerts:   make(map[string]*risk.Alert),
		active:   make(map[string]string),
		archiver: archiver,
		logger:   logger.With().Str("component", "alert_store").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Upsert applies a factory-built candidate. If no active alert matches the
// candidate's dedup key a new record is created; otherwise the existing
// record absorbs the re-trigger, escalating in place when the candidate
// carries a strictly higher severity. Severity never silently downgrades.
func (s *Store) Upsert(ctx context.Context, candidate risk.Alert) (Outcome, risk.Alert) {
	s.mu.Lock()

	var events []Event
	outcome := OutcomeTriggered

	id, matched := s.active[candidate.DedupKey]
	if matched {
		existing := s.alerts[id]
		events = append(events, s.expireLocked(existing)...)

		existing.OccurrenceCount++
		if candidate.Severity.Rank() > existing.Severity.Rank() {
			// Magnitude materially changed: regenerate the derived fields
			// from the fresh candidate, keep identity and lifecycle.
			existing.Severity = candidate.Severity
			existing.Title = candidate.Title
			existing.Message = candidate.Message
			existing.Metrics = candidate.Metrics
			existing.Context = candidate.Context
			existing.SuggestedAction = candidate.SuggestedAction
			existing.PortfolioContext = candidate.PortfolioContext
			outcome = OutcomeEscalated
			events = append(events, Event{Type: "escalated", At: s.now(), Alert: *existing})
		} else {
			outcome = OutcomeNoChange
			events = append(events, Event{Type: "reoccurred", At: s.now(), Alert: *existing})
		}

		result := *existing
		s.mu.Unlock()
		s.archive(ctx, events)
		return outcome, result
	}

	stored := candidate
	stored.State = risk.StateOpen
	stored.OccurrenceCount = 1
	s.alerts[stored.ID] = &stored
	s.active[stored.DedupKey] = stored.ID
	events = append(events, Event{Type: "created", At: s.now(), Alert: stored})

	result := stored
	s.mu.Unlock()
	s.archive(ctx, events)
	return outcome, result
}

// Acknowledge transitions open -> acknowledged. Acknowledging an already
// acknowledged alert is a no-op, not an error.
func (s *Store) Acknowledge(ctx context.Context, id, user string) (risk.Alert, error) {
	s.mu.Lock()

	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return risk.Alert{}, risk.ErrNotFound
	}

	events := s.expireLocked(a)

	switch a.State {
	case risk.StateAcknowledged:
		result := *a
		s.mu.Unlock()
		s.archive(ctx, events)
		return result, nil
	case risk.StateOpen:
		now := s.now()
		a.State = risk.StateAcknowledged
		a.AcknowledgedBy = user
		a.AcknowledgedAt = &now
		events = append(events, Event{Type: "acknowledged", At: now, Alert: *a})
		result := *a
		s.mu.Unlock()
		s.archive(ctx, events)
		return result, nil
	default:
		s.mu.Unlock()
		s.archive(ctx, events)
		return risk.Alert{}, risk.ErrInvalidTransition
	}
}

// Resolve transitions any non-terminal state to resolved. Resolving an
// already resolved alert succeeds without effect.
func (s *Store) Resolve(ctx context.Context, id string) (risk.Alert, error) {
	s.mu.Lock()

	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return risk.Alert{}, risk.ErrNotFound
	}

	if a.State == risk.StateResolved {
		result := *a
		s.mu.Unlock()
		return result, nil
	}

	now := s.now()
	a.State = risk.StateResolved
	a.ResolvedAt = &now
	a.ExpiresAt = nil
	delete(s.active, a.DedupKey)
	ev := Event{Type: "resolved", At: now, Alert: *a}

	result := *a
	s.mu.Unlock()
	s.archive(ctx, []Event{ev})
	return result, nil
}

// Snooze transitions open/acknowledged to snoozed with an expiry. The
// alert re-surfaces as open on the first read past expiry.
func (s *Store) Snooze(ctx context.Context, id string, d time.Duration) (risk.Alert, error) {
	if d <= 0 {
		return risk.Alert{}, risk.ErrInvalidThreshold
	}

	s.mu.Lock()

	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return risk.Alert{}, risk.ErrNotFound
	}

	events := s.expireLocked(a)

	if a.State != risk.StateOpen && a.State != risk.StateAcknowledged {
		s.mu.Unlock()
		s.archive(ctx, events)
		return risk.Alert{}, risk.ErrInvalidTransition
	}

	now := s.now()
	until := now.Add(d)
	a.State = risk.StateSnoozed
	a.ExpiresAt = &until
	events = append(events, Event{Type: "snoozed", At: now, Alert: *a})

	result := *a
	s.mu.Unlock()
	s.archive(ctx, events)
	return result, nil
}

// Get returns a single alert, rolling over an elapsed snooze first.
func (s *Store) Get(ctx context.Context, id string) (risk.Alert, error) {
	s.mu.Lock()

	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return risk.Alert{}, risk.ErrNotFound
	}

	events := s.expireLocked(a)
	result := *a
	s.mu.Unlock()
	s.archive(ctx, events)
	return result, nil
}

// Active lists alerts in open/acknowledged/snoozed state, optionally
// filtered by currency, newest first. Elapsed snoozes are rolled back to
// open before the list is built.
func (s *Store) Active(ctx context.Context, currency string) []risk.Alert {
	currency = strings.ToUpper(currency)

	s.mu.Lock()

	var events []Event
	out := make([]risk.Alert, 0)
	for _, a := range s.alerts {
		events = append(events, s.expireLocked(a)...)
		if !a.State.Active() {
			continue
		}
		if currency != "" && a.Currency != currency {
			continue
		}
		out = append(out, *a)
	}
	s.mu.Unlock()
	s.archive(ctx, events)

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// History lists all alerts including resolved ones, newest first, capped
// at limit when positive.
func (s *Store) History(ctx context.Context, limit int) []risk.Alert {
	s.mu.Lock()

	var events []Event
	out := make([]risk.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		events = append(events, s.expireLocked(a)...)
		out = append(out, *a)
	}
	s.mu.Unlock()
	s.archive(ctx, events)

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// LastByType returns the most recent alert of a given type and currency in
// any state. The regime evaluator reads its previous regime through this.
func (s *Store) LastByType(t risk.AlertType, currency string) (risk.Alert, bool) {
	currency = strings.ToUpper(currency)

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *risk.Alert
	for _, a := range s.alerts {
		if a.Type != t || a.Currency != currency {
			continue
		}
		if best == nil || a.CreatedAt.After(best.CreatedAt) {
			best = a
		}
	}
	if best == nil {
		return risk.Alert{}, false
	}
	return *best, true
}

// expireLocked rolls a snoozed alert whose expiry elapsed back to open.
// Caller holds the lock; returned events must be archived after unlock.
func (s *Store) expireLocked(a *risk.Alert) []Event {
	if a.State != risk.StateSnoozed || a.ExpiresAt == nil {
		return nil
	}
	if a.ExpiresAt.After(s.now()) {
		return nil
	}

	a.State = risk.StateOpen
	a.ExpiresAt = nil
	return []Event{{Type: "reopened", At: s.now(), Alert: *a}}
}

// archive flushes audit events best-effort. Never called under the lock.
func (s *Store) archive(ctx context.Context, events []Event) {
	if s.archiver == nil || len(events) == 0 {
		return
	}
	for _, ev := range events {
		if err := s.archiver.Record(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("event", ev.Type).Str("alert_id", ev.Alert.ID).Msg("failed to archive alert event")
		}
	}
}
