package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/metrics"
)

// Simulate 通过给定的指标快照模拟一次触发流程。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Currency == "" {
		return errors.New("currency is required")
	}
	if opts.MeanVol <= 0 {
		return errors.New("mean volatility must be positive")
	}

	static := &staticFetcher{snapshot: metrics.Snapshot{
		Currency:          strings.ToUpper(opts.Currency),
		CurrentVolatility: decimal.NewFromFloat(opts.Volatility),
		MeanVolatility:    decimal.NewFromFloat(opts.MeanVol),
		VaRPct:            decimal.NewFromFloat(opts.VaRPct),
		Regime:            opts.Regime,
		ModelName:         "simulated",
		ModelConfidence:   decimal.NewFromFloat(0.9),
		AsOf:              time.Now().UTC(),
	}}

	engine := a.newEngine(static, nil, a.newNotifier())

	res, err := engine.TriggerVolatility(ctx, opts.Currency)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(map[string]any{
		"status":        res.Status,
		"alert":         res.Alert,
		"sent_to_slack": res.SentToSlack,
	}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, string(encoded))
	return nil
}

type staticFetcher struct {
	snapshot metrics.Snapshot
}

func (s *staticFetcher) Fetch(ctx context.Context, currency string, confidence decimal.Decimal) (metrics.Snapshot, error) {
	return s.snapshot, nil
}

var _ metrics.Fetcher = (*staticFetcher)(nil)
