package metrics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the per-currency risk picture supplied by the external
// numeric service. The engine consumes these figures; it never computes
// them.
type Snapshot struct {
	Currency string `json:"currency"`

	CurrentVolatility decimal.Decimal `json:"current_volatility"`
	MeanVolatility    decimal.Decimal `json:"historical_mean_volatility"`

	Confidence decimal.Decimal `json:"confidence"`
	VaRPct     decimal.Decimal `json:"var_pct"`  // VaR as % of notional at Confidence
	CVaRPct    decimal.Decimal `json:"cvar_pct"` // expected shortfall as % of notional

	Regime           string          `json:"regime"` // calm / elevated / crisis
	RegimeConfidence decimal.Decimal `json:"regime_confidence"`

	ForecastDirection      string          `json:"forecast_direction"` // appreciation / depreciation
	PriorForecastDirection string          `json:"prior_forecast_direction"`
	ForecastChangePct      decimal.Decimal `json:"forecast_change_pct"`

	CorrelationShift decimal.Decimal `json:"correlation_shift"`

	ModelName          string          `json:"model_name"`
	ModelConfidence    decimal.Decimal `json:"model_confidence"`
	BaselineConfidence decimal.Decimal `json:"baseline_confidence"`

	AsOf time.Time `json:"as_of"`
}

// Fetcher retrieves the current risk snapshot for a currency pair at a
// given VaR confidence level.
type Fetcher interface {
	Fetch(ctx context.Context, currency string, confidence decimal.Decimal) (Snapshot, error)
}
