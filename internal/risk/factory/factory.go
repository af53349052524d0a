// Package factory turns evaluator signals into fully formed alerts. All
// derived text is template-filled from the signal metrics so that the same
// inputs always produce the same alert.
package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/risk"
)

// Options tune factory behaviour.
type Options struct {
	// NegligibleExposure caps urgency at this_week for currencies whose
	// registered exposure is below this amount.
	NegligibleExposure decimal.Decimal
}

// Factory builds alerts from signals.
type Factory struct {
	exposures *risk.ExposureBook
	opts      Options
	now       func() time.Time
}

// New constructs a factory over the given exposure book.
func New(exposures *risk.ExposureBook, opts Options) *Factory {
	if opts.NegligibleExposure.IsZero() {
		opts.NegligibleExposure = decimal.NewFromInt(10_000)
	}
	return &Factory{
		exposures: exposures,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Build derives a candidate alert from a signal. The store decides whether
// the candidate becomes a new record or collapses into an existing one.
func (f *Factory) Build(sig risk.Signal) risk.Alert {
	severity := severityFor(sig.Type, sig.Ratio)

	exposure, hasExposure := f.exposures.Lookup(sig.Currency)

	alert := risk.Alert{
		ID:              uuid.NewString(),
		Type:            sig.Type,
		Severity:        severity,
		Currency:        strings.ToUpper(sig.Currency),
		CreatedAt:       f.now(),
		Title:           titleFor(sig, severity),
		Message:         messageFor(sig, severity),
		Metrics:         snapshotMetrics(sig),
		Context:         contextFor(sig, severity),
		ModelName:       sig.ModelName,
		ModelConfidence: sig.ModelConfidence,
		State:           risk.StateOpen,
		DedupKey:        risk.DedupKeyFor(sig.Type, sig.Currency, severity),
		OccurrenceCount: 1,
	}

	if hasExposure {
		alert.PortfolioContext = portfolioContextFor(sig, severity, exposure)
	}
	alert.SuggestedAction = f.actionFor(sig, severity, exposure, hasExposure)

	return alert
}

// severityFor is the deterministic banding from breach ratio to severity.
// The switch is exhaustive over the closed alert type set.
func severityFor(t risk.AlertType, ratio decimal.Decimal) risk.Severity {
	bands := func(critical, warning float64) risk.Severity {
		switch {
		case ratio.GreaterThanOrEqual(decimal.NewFromFloat(critical)):
			return risk.SeverityCritical
		case ratio.GreaterThanOrEqual(decimal.NewFromFloat(warning)):
			return risk.SeverityWarning
		default:
			return risk.SeverityInfo
		}
	}

	switch t {
	case risk.AlertVolatilitySpike:
		return bands(3.0, 2.0)
	case risk.AlertVaRBreach, risk.AlertCVaRBreach:
		return bands(2.0, 1.5)
	case risk.AlertRegimeChange:
		// Ratio carries the rank of the regime being entered.
		return bands(3.0, 2.0)
	case risk.AlertForecastReversal:
		return bands(2.5, 1.5)
	case risk.AlertModelConfidenceDrop:
		return bands(2.0, 1.25)
	case risk.AlertCorrelationShift:
		return bands(2.0, 1.4)
	case risk.AlertPortfolioImpact:
		return bands(2.0, 1.2)
	case risk.AlertAnomalyDetected:
		return bands(3.0, 1.5)
	case risk.AlertThresholdBreach:
		return bands(2.0, 1.5)
	}
	// Unreachable for valid types; treat malformed input as informational.
	return risk.SeverityInfo
}

func titleFor(sig risk.Signal, severity risk.Severity) string {
	label := map[risk.Severity]string{
		risk.SeverityInfo:     "Notice",
		risk.SeverityWarning:  "Warning",
		risk.SeverityCritical: "Critical",
	}[severity]

	switch sig.Type {
	case risk.AlertVolatilitySpike:
		return fmt.Sprintf("%s: %s volatility spike (%sx historical mean)", label, sig.Currency, sig.Ratio.StringFixed(1))
	case risk.AlertVaRBreach:
		return fmt.Sprintf("%s: %s VaR breach at %s%% of notional", label, sig.Currency, sig.Value.StringFixed(2))
	case risk.AlertCVaRBreach:
		return fmt.Sprintf("%s: %s expected shortfall at %s%% of notional", label, sig.Currency, sig.Value.StringFixed(2))
	case risk.AlertForecastReversal:
		return fmt.Sprintf("%s: %s forecast reversed to %s", label, sig.Currency, sig.Direction)
	case risk.AlertModelConfidenceDrop:
		return fmt.Sprintf("%s: %s model confidence dropped to %s", label, sig.Currency, sig.Value.StringFixed(2))
	case risk.AlertRegimeChange:
		return fmt.Sprintf("%s: %s regime change to %v", label, sig.Currency, sig.Metrics["to_regime"])
	case risk.AlertCorrelationShift:
		return fmt.Sprintf("%s: %s correlation structure shifted", label, sig.Currency)
	case risk.AlertPortfolioImpact:
		return fmt.Sprintf("%s: material portfolio impact on %s", label, sig.Currency)
	case risk.AlertAnomalyDetected:
		return fmt.Sprintf("%s: %s price action anomaly", label, sig.Currency)
	case risk.AlertThresholdBreach:
		return fmt.Sprintf("%s: %s risk threshold breached", label, sig.Currency)
	}
	return fmt.Sprintf("%s: %s alert", label, sig.Currency)
}

func messageFor(sig risk.Signal, severity risk.Severity) string {
	base := fmt.Sprintf("%s observed %s against a threshold of %s (%sx)",
		sig.Currency, sig.Value.StringFixed(4), sig.Threshold.StringFixed(4), sig.Ratio.StringFixed(2))

	switch severity {
	case risk.SeverityCritical:
		return base + ". Breach magnitude is in the top band; review hedging immediately."
	case risk.SeverityWarning:
		return base + ". Breach magnitude warrants attention within the day."
	default:
		return base + ". Informational; no action required."
	}
}

func contextFor(sig risk.Signal, severity risk.Severity) risk.AlertContext {
	drivers := make([]string, 0, len(sig.Metrics))
	for k := range sig.Metrics {
		drivers = append(drivers, k)
	}
	sort.Strings(drivers)

	ctx := risk.AlertContext{
		Rationale:  fmt.Sprintf("%s evaluated at %s vs threshold %s", sig.Type, sig.Value.StringFixed(4), sig.Threshold.StringFixed(4)),
		KeyDrivers: drivers,
	}

	switch sig.Type {
	case risk.AlertVolatilitySpike:
		ctx.Interpretation = fmt.Sprintf("Rolling volatility for %s is %s times its historical mean.", sig.Currency, sig.Ratio.StringFixed(1))
		ctx.BusinessImpact = "Wider expected swings in converted cash flows; hedging costs rise with realised volatility."
		ctx.UncertaintyChange = "increased"
	case risk.AlertVaRBreach, risk.AlertCVaRBreach:
		ctx.Interpretation = fmt.Sprintf("Tail loss estimate for %s crossed the acceptable fraction of notional.", sig.Currency)
		ctx.BusinessImpact = "Potential loss at the configured confidence level exceeds the risk budget."
		ctx.UncertaintyChange = "increased"
	case risk.AlertRegimeChange:
		ctx.Interpretation = fmt.Sprintf("Market regime for %s moved from %v to %v.", sig.Currency, sig.Metrics["from_regime"], sig.Metrics["to_regime"])
		ctx.BusinessImpact = "Historic correlations and volatility assumptions may no longer hold under the new regime."
		if sig.Direction == "improvement" {
			ctx.UncertaintyChange = "decreased"
		} else {
			ctx.UncertaintyChange = "increased"
		}
	case risk.AlertForecastReversal:
		ctx.Interpretation = fmt.Sprintf("The model forecast for %s flipped to %s.", sig.Currency, sig.Direction)
		ctx.BusinessImpact = "Positions sized on the prior forecast direction carry reversed expected P&L."
		ctx.UncertaintyChange = "increased"
	case risk.AlertModelConfidenceDrop:
		ctx.Interpretation = fmt.Sprintf("Model confidence for %s fell to %s.", sig.Currency, sig.Value.StringFixed(2))
		ctx.BusinessImpact = "Forecast-driven decisions should be discounted until confidence recovers."
		ctx.UncertaintyChange = "increased"
	case risk.AlertCorrelationShift:
		ctx.Interpretation = fmt.Sprintf("Cross-pair correlations involving %s shifted materially.", sig.Currency)
		ctx.BusinessImpact = "Natural hedges across the portfolio may be weaker than assumed."
		ctx.UncertaintyChange = "increased"
	case risk.AlertPortfolioImpact:
		ctx.Interpretation = fmt.Sprintf("Estimated monetary impact on the %s exposure is material.", sig.Currency)
		ctx.BusinessImpact = "Unhedged exposure translates the observed move directly into P&L."
		ctx.UncertaintyChange = "unchanged"
	case risk.AlertAnomalyDetected:
		ctx.Interpretation = fmt.Sprintf("Price action for %s deviates from the model's learned distribution.", sig.Currency)
		ctx.BusinessImpact = "Unmodelled behaviour; statistical risk figures may understate true risk."
		ctx.UncertaintyChange = "increased"
	case risk.AlertThresholdBreach:
		ctx.Interpretation = fmt.Sprintf("A configured risk threshold for %s was crossed.", sig.Currency)
		ctx.BusinessImpact = "Risk appetite as configured by the desk is exceeded."
		ctx.UncertaintyChange = "unchanged"
	}

	return ctx
}

func (f *Factory) actionFor(sig risk.Signal, severity risk.Severity, exposure risk.Exposure, hasExposure bool) risk.SuggestedAction {
	action := risk.SuggestedAction{
		Action:  risk.ActionNoAction,
		Urgency: risk.UrgencyNone,
	}

	switch severity {
	case risk.SeverityCritical:
		action.Action = risk.ActionHedge
		action.Urgency = risk.UrgencyImmediate
		action.Instruments = []string{"forward", "option"}
	case risk.SeverityWarning:
		action.Action = risk.ActionMonitor
		action.Urgency = risk.UrgencyToday
		action.Instruments = []string{"forward"}
	}

	// Model-health alerts ask for escalation rather than hedging: there is
	// no market instrument against a broken model.
	if sig.Type == risk.AlertModelConfidenceDrop || sig.Type == risk.AlertAnomalyDetected {
		if severity != risk.SeverityInfo {
			action.Action = risk.ActionEscalate
			action.Instruments = nil
		}
	}

	// Negligible exposure caps urgency: nothing meaningful to protect.
	if hasExposure && exposure.Amount.Abs().LessThan(f.opts.NegligibleExposure) {
		if action.Urgency == risk.UrgencyImmediate || action.Urgency == risk.UrgencyToday {
			action.Urgency = risk.UrgencyThisWeek
		}
	}

	action.CoverageSuggestion = coverageFor(sig, severity, exposure, hasExposure)
	return action
}

// coverageFor scales the suggested hedge fraction with severity, nudged by
// how the exposure direction lines up with the breach direction. A
// depreciation alert on a long exposure suggests more coverage than the
// same alert on a short exposure.
func coverageFor(sig risk.Signal, severity risk.Severity, exposure risk.Exposure, hasExposure bool) decimal.Decimal {
	var base decimal.Decimal
	switch severity {
	case risk.SeverityCritical:
		base = decimal.NewFromFloat(0.75)
	case risk.SeverityWarning:
		base = decimal.NewFromFloat(0.50)
	default:
		base = decimal.NewFromFloat(0.20)
	}

	if hasExposure && sig.Direction != "" {
		adverse := (exposure.Direction == "long" && sig.Direction == "depreciation") ||
			(exposure.Direction == "short" && sig.Direction == "appreciation")
		if adverse {
			base = base.Add(decimal.NewFromFloat(0.15))
		} else {
			base = base.Sub(decimal.NewFromFloat(0.15))
		}
	}

	if base.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if base.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return base
}

func portfolioContextFor(sig risk.Signal, severity risk.Severity, exposure risk.Exposure) *risk.PortfolioContext {
	// Impact proxy: half a percent of exposure per unit of breach ratio,
	// capped at five units so a runaway ratio cannot dominate.
	ratio := sig.Ratio
	if ratio.GreaterThan(decimal.NewFromInt(5)) {
		ratio = decimal.NewFromInt(5)
	}
	impact := exposure.Amount.Abs().Mul(ratio).Mul(decimal.NewFromFloat(0.005))

	efficiency := map[risk.Severity]decimal.Decimal{
		risk.SeverityCritical: decimal.NewFromFloat(0.85),
		risk.SeverityWarning:  decimal.NewFromFloat(0.90),
		risk.SeverityInfo:     decimal.NewFromFloat(0.95),
	}[severity]

	pc := &risk.PortfolioContext{
		ExposureAmount:  exposure.Amount,
		Direction:       exposure.Direction,
		EstimatedImpact: impact.Round(2),
		HedgeEfficiency: efficiency,
	}

	if sig.Type == risk.AlertCorrelationShift {
		pc.NaturalHedges = []string{"review offsetting receivables; correlation assumptions changed"}
	}

	return pc
}

func snapshotMetrics(sig risk.Signal) map[string]any {
	out := make(map[string]any, len(sig.Metrics)+3)
	for k, v := range sig.Metrics {
		out[k] = v
	}
	out["value"] = sig.Value.String()
	out["threshold"] = sig.Threshold.String()
	out["breach_ratio"] = sig.Ratio.StringFixed(4)
	return out
}
