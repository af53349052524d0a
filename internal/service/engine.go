// Package service orchestrates the trigger pipeline: fetch metrics,
// evaluate, build the alert, apply it to the store, dispatch.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/metrics"
	"fx-risk-alerts/internal/notify"
	"fx-risk-alerts/internal/risk"
	"fx-risk-alerts/internal/risk/evaluate"
	"fx-risk-alerts/internal/risk/factory"
	"fx-risk-alerts/internal/risk/store"
)

// Trigger statuses reported to callers. Trigger endpoints always return a
// status, even when nothing happened.
const (
	StatusTriggered  = "triggered"
	StatusEscalated  = "escalated"
	StatusNoChange   = "no_change"
	StatusNoAlert    = "no_alert"
	StatusSuppressed = "suppressed"
)

// TriggerResult is the outcome of one trigger evaluation.
type TriggerResult struct {
	Status      string
	Alert       *risk.Alert
	SentToSlack bool
	DispatchErr error
}

// Options configure the engine.
type Options struct {
	Currencies      []string // watched currency pairs
	Muted           []string // evaluated but never alerted
	Thresholds      evaluate.Thresholds
	Confidence      decimal.Decimal // default VaR confidence
	DispatchTimeout time.Duration
}

// Engine evaluates triggers and owns the pipeline around the alert store.
type Engine struct {
	fetcher   metrics.Fetcher
	store     *store.Store
	factory   *factory.Factory
	notifier  notify.Notifier
	exposures *risk.ExposureBook
	logger    zerolog.Logger

	watched         map[string]bool
	muted           map[string]bool
	currencies      []string
	thresholds      evaluate.Thresholds
	confidence      decimal.Decimal
	dispatchTimeout time.Duration
}

// New constructs the engine. notifier may be nil (dispatch disabled).
func New(fetcher metrics.Fetcher, st *store.Store, fac *factory.Factory, notifier notify.Notifier, exposures *risk.ExposureBook, opts Options, logger zerolog.Logger) *Engine {
	watched := make(map[string]bool, len(opts.Currencies))
	currencies := make([]string, 0, len(opts.Currencies))
	for _, c := range opts.Currencies {
		c = strings.ToUpper(c)
		watched[c] = true
		currencies = append(currencies, c)
	}

	muted := make(map[string]bool, len(opts.Muted))
	for _, c := range opts.Muted {
		muted[strings.ToUpper(c)] = true
	}

	confidence := opts.Confidence
	if confidence.IsZero() {
		confidence = decimal.NewFromFloat(0.95)
	}

	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Engine{
		fetcher:         fetcher,
		store:           st,
		factory:         fac,
		notifier:        notifier,
		exposures:       exposures,
		logger:          logger.With().Str("component", "engine").Logger(),
		watched:         watched,
		muted:           muted,
		currencies:      currencies,
		thresholds:      opts.Thresholds,
		confidence:      confidence,
		dispatchTimeout: timeout,
	}
}

// Currencies returns the watched pair list.
func (e *Engine) Currencies() []string {
	return append([]string(nil), e.currencies...)
}

// Store exposes the read-only views of the alert store.
func (e *Engine) Store() *store.Store {
	return e.store
}

func (e *Engine) checkCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || !e.watched[currency] {
		return "", fmt.Errorf("%q: %w", currency, risk.ErrUnknownCurrency)
	}
	return currency, nil
}

// TriggerVolatility runs the volatility evaluator for one currency.
func (e *Engine) TriggerVolatility(ctx context.Context, currency string) (TriggerResult, error) {
	currency, err := e.checkCurrency(currency)
	if err != nil {
		return TriggerResult{}, err
	}

	snap, err := e.fetcher.Fetch(ctx, currency, e.confidence)
	if err != nil {
		return TriggerResult{}, err
	}

	sig := evaluate.Volatility(currency, snap, e.thresholds)
	return e.process(ctx, sig), nil
}

// TriggerVaR runs the VaR evaluator at the given confidence; when VaR
// holds it falls through to the expected-shortfall check.
func (e *Engine) TriggerVaR(ctx context.Context, currency string, confidence decimal.Decimal) (TriggerResult, error) {
	currency, err := e.checkCurrency(currency)
	if err != nil {
		return TriggerResult{}, err
	}

	if confidence.IsZero() {
		confidence = e.confidence
	}
	if confidence.LessThanOrEqual(decimal.NewFromFloat(0.5)) || confidence.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return TriggerResult{}, fmt.Errorf("confidence %s out of range (0.5, 1): %w", confidence, risk.ErrInvalidThreshold)
	}

	snap, err := e.fetcher.Fetch(ctx, currency, confidence)
	if err != nil {
		return TriggerResult{}, err
	}
	if snap.Confidence.IsZero() {
		snap.Confidence = confidence
	}

	sig := evaluate.VaR(currency, snap, e.thresholds)
	if sig == nil {
		sig = evaluate.CVaR(currency, snap, e.thresholds)
	}
	return e.process(ctx, sig), nil
}

// RegimeStatus carries the regime reading alongside the trigger result.
type RegimeStatus struct {
	TriggerResult
	CurrentRegime string
	Confidence    decimal.Decimal
}

// TriggerRegime runs the regime evaluator. The previous regime is read
// through the store's history for the regime_change dedup lineage, not a
// hidden side channel.
func (e *Engine) TriggerRegime(ctx context.Context, currency string) (RegimeStatus, error) {
	currency, err := e.checkCurrency(currency)
	if err != nil {
		return RegimeStatus{}, err
	}

	snap, err := e.fetcher.Fetch(ctx, currency, e.confidence)
	if err != nil {
		return RegimeStatus{}, err
	}

	previous := ""
	if last, ok := e.store.LastByType(risk.AlertRegimeChange, currency); ok {
		if to, ok := last.Metrics["to_regime"].(string); ok {
			previous = to
		}
	}

	var res TriggerResult
	if previous == "" && snap.Regime != "" {
		// First observation establishes the baseline as an informational
		// alert; the next regime read has something to compare against.
		res = e.process(ctx, baselineRegimeSignal(currency, snap))
	} else {
		res = e.process(ctx, evaluate.Regime(currency, snap, previous))
	}

	return RegimeStatus{
		TriggerResult: res,
		CurrentRegime: snap.Regime,
		Confidence:    snap.RegimeConfidence,
	}, nil
}

// baselineRegimeSignal records the first observed regime for a currency.
// Ratio 1 lands in the informational band.
func baselineRegimeSignal(currency string, snap metrics.Snapshot) *risk.Signal {
	return &risk.Signal{
		Type:      risk.AlertRegimeChange,
		Currency:  strings.ToUpper(currency),
		Value:     snap.RegimeConfidence,
		Threshold: decimal.Zero,
		Ratio:     decimal.NewFromInt(1),
		Metrics: map[string]any{
			"from_regime":       "unobserved",
			"to_regime":         strings.ToLower(snap.Regime),
			"regime_confidence": snap.RegimeConfidence.String(),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}

// process converts a signal into a store mutation plus dispatch. A nil
// signal reports no_alert; a muted currency reports suppressed without
// touching the store.
func (e *Engine) process(ctx context.Context, sig *risk.Signal) TriggerResult {
	if sig == nil {
		return TriggerResult{Status: StatusNoAlert}
	}
	if e.muted[sig.Currency] {
		e.logger.Debug().Str("currency", sig.Currency).Str("type", string(sig.Type)).Msg("breach suppressed for muted currency")
		return TriggerResult{Status: StatusSuppressed}
	}

	candidate := e.factory.Build(*sig)
	outcome, alert := e.store.Upsert(ctx, candidate)

	result := TriggerResult{Alert: &alert}
	switch outcome {
	case store.OutcomeTriggered:
		result.Status = StatusTriggered
	case store.OutcomeEscalated:
		result.Status = StatusEscalated
	default:
		result.Status = StatusNoChange
	}

	if result.Status == StatusNoChange {
		return result
	}

	if e.notifier != nil {
		dispatchCtx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
		defer cancel()
		if err := e.notifier.Notify(dispatchCtx, alert); err != nil {
			// Dispatch failure never rolls back the alert.
			e.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to dispatch alert")
			result.DispatchErr = err
		} else {
			result.SentToSlack = true
		}
	}

	return result
}

// Acknowledge transitions an alert to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, id, user string) (risk.Alert, error) {
	return e.store.Acknowledge(ctx, id, user)
}

// Resolve transitions an alert to resolved.
func (e *Engine) Resolve(ctx context.Context, id string) (risk.Alert, error) {
	return e.store.Resolve(ctx, id)
}

// Snooze snoozes an alert for a number of hours.
func (e *Engine) Snooze(ctx context.Context, id string, hours float64) (risk.Alert, error) {
	if hours <= 0 {
		return risk.Alert{}, fmt.Errorf("hours must be positive: %w", risk.ErrInvalidThreshold)
	}
	return e.store.Snooze(ctx, id, time.Duration(hours*float64(time.Hour)))
}

// ActiveAlerts lists active alerts, optionally filtered by currency.
func (e *Engine) ActiveAlerts(ctx context.Context, currency string) ([]risk.Alert, error) {
	if currency != "" {
		checked, err := e.checkCurrency(currency)
		if err != nil {
			return nil, err
		}
		currency = checked
	}
	return e.store.Active(ctx, currency), nil
}

// History lists all alerts including resolved ones.
func (e *Engine) History(ctx context.Context, limit int) []risk.Alert {
	return e.store.History(ctx, limit)
}

// RegisterExposure records a portfolio exposure used for alert context.
func (e *Engine) RegisterExposure(currency string, amount decimal.Decimal, direction string) error {
	currency, err := e.checkCurrency(currency)
	if err != nil {
		return err
	}
	return e.exposures.Register(risk.Exposure{Currency: currency, Amount: amount, Direction: direction})
}

// Summary pushes all outstanding (open + acknowledged) alerts to the
// notification channel.
func (e *Engine) Summary(ctx context.Context) error {
	if e.notifier == nil {
		return fmt.Errorf("no notification channel configured: %w", risk.ErrUpstreamUnavailable)
	}

	outstanding := make([]risk.Alert, 0)
	for _, alert := range e.store.Active(ctx, "") {
		if alert.State == risk.StateOpen || alert.State == risk.StateAcknowledged {
			outstanding = append(outstanding, alert)
		}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	defer cancel()
	return e.notifier.NotifySummary(dispatchCtx, outstanding)
}

// Sweep runs every evaluator for every watched currency. Evaluation
// failures for one currency never abort the rest of the sweep.
func (e *Engine) Sweep(ctx context.Context) error {
	var firstErr error
	for _, currency := range e.currencies {
		if err := e.sweepCurrency(ctx, currency); err != nil {
			e.logger.Error().Err(err).Str("currency", currency).Msg("sweep evaluation failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) sweepCurrency(ctx context.Context, currency string) error {
	snap, err := e.fetcher.Fetch(ctx, currency, e.confidence)
	if err != nil {
		return err
	}

	signals := []*risk.Signal{
		evaluate.Volatility(currency, snap, e.thresholds),
		evaluate.VaR(currency, snap, e.thresholds),
		evaluate.CVaR(currency, snap, e.thresholds),
		evaluate.ForecastReversal(currency, snap, e.thresholds),
		evaluate.ConfidenceDrop(currency, snap, e.thresholds),
		evaluate.CorrelationShift(currency, snap, e.thresholds),
	}

	previous := ""
	if last, ok := e.store.LastByType(risk.AlertRegimeChange, currency); ok {
		if to, ok := last.Metrics["to_regime"].(string); ok {
			previous = to
		}
	}
	if previous == "" && snap.Regime != "" {
		signals = append(signals, baselineRegimeSignal(currency, snap))
	} else {
		signals = append(signals, evaluate.Regime(currency, snap, previous))
	}

	for _, sig := range signals {
		if sig == nil {
			continue
		}
		res := e.process(ctx, sig)
		e.logger.Info().
			Str("currency", currency).
			Str("type", string(sig.Type)).
			Str("status", res.Status).
			Msg("sweep trigger evaluated")
	}
	return nil
}
