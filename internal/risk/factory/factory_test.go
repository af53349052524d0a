package factory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/risk"
)

func newTestFactory(t *testing.T, exposures ...risk.Exposure) *Factory {
	t.Helper()
	book := risk.NewExposureBook()
	for _, exp := range exposures {
		if err := book.Register(exp); err != nil {
			t.Fatalf("注册敞口失败: %v", err)
		}
	}
	f := New(book, Options{})
	f.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return f
}

func volSignal(ratio float64) risk.Signal {
	return risk.Signal{
		Type:      risk.AlertVolatilitySpike,
		Currency:  "EUR",
		Value:     decimal.NewFromFloat(0.024),
		Threshold: decimal.NewFromFloat(0.012),
		Ratio:     decimal.NewFromFloat(ratio),
		Direction: "depreciation",
		Metrics:   map[string]any{"current_volatility": "0.024"},
		ModelName: "garch-v2",
		Observed:  time.Now().UTC(),
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		alertType risk.AlertType
		ratio     float64
		want      risk.Severity
	}{
		{risk.AlertVolatilitySpike, 3.2, risk.SeverityCritical},
		{risk.AlertVolatilitySpike, 2.1, risk.SeverityWarning},
		{risk.AlertVolatilitySpike, 1.6, risk.SeverityInfo},
		{risk.AlertVaRBreach, 2.0, risk.SeverityCritical},
		{risk.AlertVaRBreach, 1.5, risk.SeverityWarning},
		{risk.AlertVaRBreach, 1.1, risk.SeverityInfo},
		{risk.AlertRegimeChange, 3, risk.SeverityCritical},
		{risk.AlertRegimeChange, 2, risk.SeverityWarning},
		{risk.AlertRegimeChange, 1, risk.SeverityInfo},
		{risk.AlertModelConfidenceDrop, 1.3, risk.SeverityWarning},
		{risk.AlertAnomalyDetected, 3.5, risk.SeverityCritical},
	}

	for _, tc := range cases {
		got := severityFor(tc.alertType, decimal.NewFromFloat(tc.ratio))
		if got != tc.want {
			t.Fatalf("%s ratio %.1f: 期望 %s, 实际 %s", tc.alertType, tc.ratio, tc.want, got)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	f := newTestFactory(t)

	a := f.Build(volSignal(3.2))
	b := f.Build(volSignal(3.2))

	if a.ID == b.ID {
		t.Fatal("每次构建应生成新 ID")
	}
	if a.DedupKey != b.DedupKey {
		t.Fatalf("相同信号去重键应一致: %s vs %s", a.DedupKey, b.DedupKey)
	}
	if a.Title != b.Title || a.Message != b.Message {
		t.Fatal("相同输入派生文本应一致")
	}
	if a.Severity != risk.SeverityCritical {
		t.Fatalf("比率 3.2 应为 critical, 实际 %s", a.Severity)
	}
	if a.State != risk.StateOpen || a.OccurrenceCount != 1 {
		t.Fatalf("新告警初始状态错误: %s x%d", a.State, a.OccurrenceCount)
	}
}

func TestCriticalActionHedgeImmediate(t *testing.T) {
	f := newTestFactory(t)

	alert := f.Build(volSignal(3.2))
	if alert.SuggestedAction.Action != risk.ActionHedge {
		t.Fatalf("critical 应建议对冲, 实际 %s", alert.SuggestedAction.Action)
	}
	if alert.SuggestedAction.Urgency != risk.UrgencyImmediate {
		t.Fatalf("critical 紧急度应为 immediate, 实际 %s", alert.SuggestedAction.Urgency)
	}
	if len(alert.SuggestedAction.Instruments) == 0 {
		t.Fatal("对冲建议应列出可用工具")
	}
}

func TestModelHealthEscalates(t *testing.T) {
	f := newTestFactory(t)

	sig := volSignal(3.2)
	sig.Type = risk.AlertModelConfidenceDrop

	alert := f.Build(sig)
	if alert.SuggestedAction.Action != risk.ActionEscalate {
		t.Fatalf("模型健康告警应建议升级, 实际 %s", alert.SuggestedAction.Action)
	}
	if alert.SuggestedAction.Instruments != nil {
		t.Fatal("升级建议不应附带市场工具")
	}
}

func TestNegligibleExposureCapsUrgency(t *testing.T) {
	f := newTestFactory(t, risk.Exposure{
		Currency:  "EUR",
		Amount:    decimal.NewFromInt(5_000),
		Direction: "long",
	})

	alert := f.Build(volSignal(3.2))
	if alert.SuggestedAction.Urgency != risk.UrgencyThisWeek {
		t.Fatalf("微小敞口应压低紧急度至 this_week, 实际 %s", alert.SuggestedAction.Urgency)
	}
}

func TestCoverageDirectionality(t *testing.T) {
	longBook := newTestFactory(t, risk.Exposure{
		Currency: "EUR", Amount: decimal.NewFromInt(1_000_000), Direction: "long",
	})
	shortBook := newTestFactory(t, risk.Exposure{
		Currency: "EUR", Amount: decimal.NewFromInt(1_000_000), Direction: "short",
	})

	// depreciation 对多头不利, 对空头有利
	long := longBook.Build(volSignal(3.2))
	short := shortBook.Build(volSignal(3.2))

	if !long.SuggestedAction.CoverageSuggestion.GreaterThan(short.SuggestedAction.CoverageSuggestion) {
		t.Fatalf("不利方向覆盖率应更高: long %s vs short %s",
			long.SuggestedAction.CoverageSuggestion, short.SuggestedAction.CoverageSuggestion)
	}
	if long.SuggestedAction.CoverageSuggestion.GreaterThan(decimal.NewFromInt(1)) {
		t.Fatal("覆盖率不应超过 1")
	}
}

func TestPortfolioContextOnlyWithExposure(t *testing.T) {
	bare := newTestFactory(t)
	if alert := bare.Build(volSignal(3.2)); alert.PortfolioContext != nil {
		t.Fatal("未注册敞口不应生成组合上下文")
	}

	seeded := newTestFactory(t, risk.Exposure{
		Currency: "EUR", Amount: decimal.NewFromInt(2_000_000), Direction: "long",
	})
	alert := seeded.Build(volSignal(3.2))
	if alert.PortfolioContext == nil {
		t.Fatal("已注册敞口应生成组合上下文")
	}
	if !alert.PortfolioContext.EstimatedImpact.GreaterThan(decimal.Zero) {
		t.Fatalf("估算影响应为正, 实际 %s", alert.PortfolioContext.EstimatedImpact)
	}
	if alert.PortfolioContext.Direction != "long" {
		t.Fatalf("敞口方向应透传, 实际 %s", alert.PortfolioContext.Direction)
	}
}

func TestSnapshotMetricsIncludeBreachFigures(t *testing.T) {
	f := newTestFactory(t)

	alert := f.Build(volSignal(3.2))
	for _, key := range []string{"value", "threshold", "breach_ratio", "current_volatility"} {
		if _, ok := alert.Metrics[key]; !ok {
			t.Fatalf("指标缺少 %s: %#v", key, alert.Metrics)
		}
	}
}
