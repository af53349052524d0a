package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType is the closed set of trigger categories the engine understands.
// Every type has a defined severity banding and action template in the
// factory; there is no catch-all.
type AlertType string

const (
	AlertVolatilitySpike     AlertType = "volatility_spike"
	AlertVaRBreach           AlertType = "var_breach"
	AlertCVaRBreach          AlertType = "cvar_breach"
	AlertForecastReversal    AlertType = "forecast_reversal"
	AlertModelConfidenceDrop AlertType = "model_confidence_drop"
	AlertRegimeChange        AlertType = "regime_change"
	AlertCorrelationShift    AlertType = "correlation_shift"
	AlertPortfolioImpact     AlertType = "portfolio_impact"
	AlertAnomalyDetected     AlertType = "anomaly_detected"
	AlertThresholdBreach     AlertType = "threshold_breach"
)

// AlertTypes lists every known alert type.
var AlertTypes = []AlertType{
	AlertVolatilitySpike,
	AlertVaRBreach,
	AlertCVaRBreach,
	AlertForecastReversal,
	AlertModelConfidenceDrop,
	AlertRegimeChange,
	AlertCorrelationShift,
	AlertPortfolioImpact,
	AlertAnomalyDetected,
	AlertThresholdBreach,
}

// Valid reports whether t belongs to the closed set.
func (t AlertType) Valid() bool {
	for _, known := range AlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is derived from breach magnitude, never user-set.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for escalation comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// State is the alert lifecycle state.
type State string

const (
	StateOpen         State = "open"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
	StateSnoozed      State = "snoozed"
)

// Active reports whether the state blocks creation of another alert under
// the same dedup key.
func (s State) Active() bool {
	return s == StateOpen || s == StateAcknowledged || s == StateSnoozed
}

// ActionType classifies the suggested response.
type ActionType string

const (
	ActionHedge    ActionType = "hedge"
	ActionMonitor  ActionType = "monitor"
	ActionNoAction ActionType = "no_action"
	ActionEscalate ActionType = "escalate"
)

// Urgency expresses how quickly the suggested action should happen.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyToday     Urgency = "today"
	UrgencyThisWeek  Urgency = "this_week"
	UrgencyNone      Urgency = "none"
)

// Signal is the ephemeral output of a trigger evaluator. It is consumed
// immediately by the alert factory and never persisted.
type Signal struct {
	Type            AlertType
	Currency        string
	Value           decimal.Decimal
	Threshold       decimal.Decimal
	Ratio           decimal.Decimal // breach magnitude relative to threshold
	Direction       string          // depreciation / appreciation / "" when not directional
	Metrics         map[string]any
	ModelName       string
	ModelConfidence decimal.Decimal
	Observed        time.Time
}

// AlertContext carries the derived interpretation of a signal. All fields
// are template-filled from the signal metrics and reproducible from the
// same inputs.
type AlertContext struct {
	Interpretation    string   `json:"interpretation"`
	BusinessImpact    string   `json:"business_impact"`
	Rationale         string   `json:"rationale"`
	KeyDrivers        []string `json:"key_drivers"`
	UncertaintyChange string   `json:"uncertainty_change"`
}

// SuggestedAction is the engine's recommended response to an alert.
type SuggestedAction struct {
	Action             ActionType      `json:"action_type"`
	Urgency            Urgency         `json:"urgency"`
	Instruments        []string        `json:"instruments"`
	CoverageSuggestion decimal.Decimal `json:"coverage_suggestion"` // 0..1 fraction
}

// PortfolioContext is populated only when an exposure has been registered
// for the alert currency.
type PortfolioContext struct {
	ExposureAmount  decimal.Decimal `json:"exposure_amount"`
	Direction       string          `json:"direction"` // long / short
	EstimatedImpact decimal.Decimal `json:"estimated_impact"`
	NaturalHedges   []string        `json:"natural_hedges,omitempty"`
	HedgeEfficiency decimal.Decimal `json:"hedge_efficiency"`
}

// Exposure is a caller-registered position in a currency, consumed by the
// factory when building portfolio context.
type Exposure struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"` // long / short
}

// Alert is the durable unit owned by the store. Only `state` and
// `occurrence_count` (plus the escalation copy of severity, context,
// action, and metrics) mutate after creation; everything else is set once.
type Alert struct {
	ID               string            `json:"alert_id"`
	Type             AlertType         `json:"alert_type"`
	Severity         Severity          `json:"severity"`
	Currency         string            `json:"currency"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	Title            string            `json:"title"`
	Message          string            `json:"message"`
	Metrics          map[string]any    `json:"metrics"`
	Context          AlertContext      `json:"context"`
	SuggestedAction  SuggestedAction   `json:"suggested_action"`
	PortfolioContext *PortfolioContext `json:"portfolio_context,omitempty"`
	ModelName        string            `json:"model_name"`
	ModelConfidence  decimal.Decimal   `json:"model_confidence"`
	State            State             `json:"state"`
	DedupKey         string            `json:"dedup_key"`
	OccurrenceCount  int               `json:"occurrence_count"`
	AcknowledgedBy   string            `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
}

// severityBucket collapses warning and critical into one band so that an
// escalation lands on the same dedup key instead of spawning a second
// alert for the same condition.
func severityBucket(s Severity) string {
	if s == SeverityInfo {
		return "info"
	}
	return "actionable"
}

// DedupKeyFor derives the deterministic key that collapses repeat breaches
// of the same condition into one alert record.
func DedupKeyFor(t AlertType, currency string, sev Severity) string {
	raw := fmt.Sprintf("%s|%s|%s", t, strings.ToUpper(currency), severityBucket(sev))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}
