// Package evaluate holds the pure trigger evaluators. Each evaluator maps
// (currency, metric snapshot, thresholds) onto a risk.Signal, or nil when
// no breach exists. Evaluators never touch the alert store.
package evaluate

import (
	"strings"

	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/metrics"
	"fx-risk-alerts/internal/risk"
)

// Thresholds configure the breach boundaries for every evaluator.
type Thresholds struct {
	// VolatilityMultiple: breach when current vol exceeds this multiple of
	// its historical mean.
	VolatilityMultiple decimal.Decimal

	// VaRBasePct / CVaRBasePct: percentage-of-notional boundary at 95%
	// confidence. Higher confidence scales the boundary up.
	VaRBasePct  decimal.Decimal
	CVaRBasePct decimal.Decimal

	// ForecastChangePct: minimum absolute forecast change for a reversal
	// to count as a breach.
	ForecastChangePct decimal.Decimal

	// ConfidenceFloor / ConfidenceDrop: model confidence below the floor,
	// or a drop from baseline beyond ConfidenceDrop, is a breach.
	ConfidenceFloor decimal.Decimal
	ConfidenceDrop  decimal.Decimal

	// CorrelationShift: minimum absolute shift in correlation structure.
	CorrelationShift decimal.Decimal
}

// Defaults returns the threshold set used when configuration supplies
// nothing. Values mirror the ones the risk desk runs in production.
func Defaults() Thresholds {
	return Thresholds{
		VolatilityMultiple: decimal.NewFromFloat(1.5),
		VaRBasePct:         decimal.NewFromFloat(2.0),
		CVaRBasePct:        decimal.NewFromFloat(2.8),
		ForecastChangePct:  decimal.NewFromFloat(1.0),
		ConfidenceFloor:    decimal.NewFromFloat(0.5),
		ConfidenceDrop:     decimal.NewFromFloat(0.2),
		CorrelationShift:   decimal.NewFromFloat(0.3),
	}
}

// Volatility fires when the current rolling volatility exceeds the
// configured multiple of its historical mean.
func Volatility(currency string, snap metrics.Snapshot, th Thresholds) *risk.Signal {
	if snap.MeanVolatility.IsZero() {
		return nil
	}

	ratio := snap.CurrentVolatility.Div(snap.MeanVolatility)
	if ratio.LessThan(th.VolatilityMultiple) {
		return nil
	}

	return &risk.Signal{
		Type:      risk.AlertVolatilitySpike,
		Currency:  strings.ToUpper(currency),
		Value:     snap.CurrentVolatility,
		Threshold: snap.MeanVolatility.Mul(th.VolatilityMultiple),
		Ratio:     ratio,
		Direction: "depreciation",
		Metrics: map[string]any{
			"current_volatility": snap.CurrentVolatility.String(),
			"historical_mean":    snap.MeanVolatility.String(),
			"vol_ratio":          ratio.StringFixed(4),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}

// varBoundary scales the base percentage boundary with the confidence
// level: 2.0% at 95% grows to ~3.6% at 99%.
func varBoundary(base, confidence decimal.Decimal) decimal.Decimal {
	if confidence.IsZero() {
		confidence = decimal.NewFromFloat(0.95)
	}
	scale := decimal.NewFromInt(1).Add(
		confidence.Sub(decimal.NewFromFloat(0.95)).Mul(decimal.NewFromInt(20)),
	)
	if scale.LessThan(decimal.NewFromInt(1)) {
		scale = decimal.NewFromInt(1)
	}
	return base.Mul(scale)
}

// VaR fires when VaR as a percentage of notional crosses the
// confidence-dependent boundary.
func VaR(currency string, snap metrics.Snapshot, th Thresholds) *risk.Signal {
	boundary := varBoundary(th.VaRBasePct, snap.Confidence)
	if boundary.IsZero() || snap.VaRPct.LessThan(boundary) {
		return nil
	}

	ratio := snap.VaRPct.Div(boundary)
	return &risk.Signal{
		Type:      risk.AlertVaRBreach,
		Currency:  strings.ToUpper(currency),
		Value:     snap.VaRPct,
		Threshold: boundary,
		Ratio:     ratio,
		Direction: "depreciation",
		Metrics: map[string]any{
			"var_pct":    snap.VaRPct.String(),
			"boundary":   boundary.StringFixed(4),
			"confidence": snap.Confidence.String(),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}

// CVaR fires when expected shortfall crosses its confidence-dependent
// boundary. Evaluated after VaR; tail risk can breach even when VaR holds.
func CVaR(currency string, snap metrics.Snapshot, th Thresholds) *risk.Signal {
	boundary := varBoundary(th.CVaRBasePct, snap.Confidence)
	if boundary.IsZero() || snap.CVaRPct.LessThan(boundary) {
		return nil
	}

	ratio := snap.CVaRPct.Div(boundary)
	return &risk.Signal{
		Type:      risk.AlertCVaRBreach,
		Currency:  strings.ToUpper(currency),
		Value:     snap.CVaRPct,
		Threshold: boundary,
		Ratio:     ratio,
		Direction: "depreciation",
		Metrics: map[string]any{
			"cvar_pct":   snap.CVaRPct.String(),
			"boundary":   boundary.StringFixed(4),
			"confidence": snap.Confidence.String(),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}

// regimeRank orders regimes for severity scaling.
func regimeRank(regime string) int {
	switch strings.ToLower(regime) {
	case "crisis":
		return 3
	case "elevated":
		return 2
	case "calm":
		return 1
	default:
		return 0
	}
}

// Regime fires when the classified market regime changed since the last
// observation. The previous regime is read through the store's history by
// the caller; an empty previous means there is nothing to compare against.
func Regime(currency string, snap metrics.Snapshot, previous string) *risk.Signal {
	current := strings.ToLower(snap.Regime)
	previous = strings.ToLower(previous)
	if current == "" || previous == "" || current == previous {
		return nil
	}

	// Ratio doubles as the severity driver: entering crisis maps to the
	// top band, elevated to the middle, calming down to info.
	ratio := decimal.NewFromInt(int64(regimeRank(current)))

	return &risk.Signal{
		Type:      risk.AlertRegimeChange,
		Currency:  strings.ToUpper(currency),
		Value:     snap.RegimeConfidence,
		Threshold: decimal.Zero,
		Ratio:     ratio,
		Direction: regimeDirection(previous, current),
		Metrics: map[string]any{
			"from_regime":       previous,
			"to_regime":         current,
			"regime_confidence": snap.RegimeConfidence.String(),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}

func regimeDirection(previous, current string) string {
	if regimeRank(current) > regimeRank(previous) {
		return "deterioration"
	}
	return "improvement"
}

// ForecastReversal fires when the forecast direction flips against the
// prior forecast with a material change.
func ForecastReversal(currency string, snap metrics.Snapshot, th Thresholds) *risk.Signal {
	if snap.ForecastDirection == "" || snap.PriorForecastDirection == "" {
		return nil
	}
	if snap.ForecastDirection == snap.PriorForecastDirection {
		return nil
	}

	change := snap.ForecastChangePct.Abs()
	if change.LessThan(th.ForecastChangePct) {
		return nil
	}

	return &risk.Signal{
		Type:      risk.AlertForecastReversal,
		Currency:  strings.ToUpper(currency),
		Value:     snap.ForecastChangePct,
		Threshold: th.ForecastChangePct,
		Ratio:     change.Div(th.ForecastChangePct),
		Direction: snap.ForecastDirection,
		Metrics: map[string]any{
			"prior_direction":     snap.PriorForecastDirection,
			"new_direction":       snap.ForecastDirection,
			"forecast_change_pct": snap.ForecastChangePct.String(),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}

// ConfidenceDrop fires when model confidence falls below the floor or
// drops materially from its baseline.
func ConfidenceDrop(currency string, snap metrics.Snapshot, th Thresholds) *risk.Signal {
	if snap.ModelConfidence.IsZero() && snap.BaselineConfidence.IsZero() {
		return nil
	}

	drop := snap.BaselineConfidence.Sub(snap.ModelConfidence)
	belowFloor := snap.ModelConfidence.LessThan(th.ConfidenceFloor)
	if !belowFloor && drop.LessThan(th.ConfidenceDrop) {
		return nil
	}

	ratio := decimal.NewFromInt(1)
	if !th.ConfidenceDrop.IsZero() && drop.GreaterThan(decimal.Zero) {
		ratio = drop.Div(th.ConfidenceDrop)
	}
	if belowFloor && ratio.LessThan(decimal.NewFromInt(2)) {
		ratio = decimal.NewFromInt(2)
	}

	return &risk.Signal{
		Type:      risk.AlertModelConfidenceDrop,
		Currency:  strings.ToUpper(currency),
		Value:     snap.ModelConfidence,
		Threshold: th.ConfidenceFloor,
		Ratio:     ratio,
		Metrics: map[string]any{
			"model_confidence":    snap.ModelConfidence.String(),
			"baseline_confidence": snap.BaselineConfidence.String(),
			"confidence_drop":     drop.StringFixed(4),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}

// CorrelationShift fires when the correlation structure moved beyond the
// configured shift threshold.
func CorrelationShift(currency string, snap metrics.Snapshot, th Thresholds) *risk.Signal {
	shift := snap.CorrelationShift.Abs()
	if th.CorrelationShift.IsZero() || shift.LessThan(th.CorrelationShift) {
		return nil
	}

	return &risk.Signal{
		Type:      risk.AlertCorrelationShift,
		Currency:  strings.ToUpper(currency),
		Value:     snap.CorrelationShift,
		Threshold: th.CorrelationShift,
		Ratio:     shift.Div(th.CorrelationShift),
		Metrics: map[string]any{
			"correlation_shift": snap.CorrelationShift.String(),
		},
		ModelName:       snap.ModelName,
		ModelConfidence: snap.ModelConfidence,
		Observed:        snap.AsOf,
	}
}
