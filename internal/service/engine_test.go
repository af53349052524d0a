package service

import (
	"context"
	"errors"
	"testing"
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

type stubFetcher struct {
	snap metrics.Snapshot
	err  error
}

func (f *stubFetcher) Fetch(_ context.Context, currency string, confidence decimal.Decimal) (metrics.Snapshot, error) {
	if f.err != nil {
		return metrics.Snapshot{}, f.err
	}
	snap := f.snap
	snap.Currency = currency
	if snap.Confidence.IsZero() {
		snap.Confidence = confidence
	}
	return snap, nil
}

type stubNotifier struct {
	sent      []risk.Alert
	summaries int
	err       error
}

func (n *stubNotifier) Notify(_ context.Context, alert risk.Alert) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, alert)
	return nil
}

func (n *stubNotifier) NotifySummary(_ context.Context, alerts []risk.Alert) error {
	if n.err != nil {
		return n.err
	}
	n.summaries++
	return nil
}

func calmSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		CurrentVolatility: decimal.NewFromFloat(0.008),
		MeanVolatility:    decimal.NewFromFloat(0.008),
		Confidence:        decimal.NewFromFloat(0.95),
		Regime:            "calm",
		RegimeConfidence:  decimal.NewFromFloat(0.9),
		ModelName:         "garch-v2",
		ModelConfidence:   decimal.NewFromFloat(0.9),
		AsOf:              time.Now().UTC(),
	}
}

func newTestEngine(fetcher metrics.Fetcher, notifier *stubNotifier, muted ...string) *Engine {
	exposures := risk.NewExposureBook()
	fac := factory.New(exposures, factory.Options{})
	st := store.New(nil, zerolog.Nop())

	// typed-nil guard: a nil *stubNotifier must become a nil interface
	var n notify.Notifier
	if notifier != nil {
		n = notifier
	}

	return New(fetcher, st, fac, n, exposures, Options{
		Currencies: []string{"EUR", "GBP", "JPY"},
		Muted:      muted,
		Thresholds: evaluate.Defaults(),
	}, zerolog.Nop())
}

func TestTriggerUnknownCurrency(t *testing.T) {
	e := newTestEngine(&stubFetcher{snap: calmSnapshot()}, nil)

	_, err := e.TriggerVolatility(context.Background(), "XXX")
	if !errors.Is(err, risk.ErrUnknownCurrency) {
		t.Fatalf("未知货币应报 ErrUnknownCurrency: %v", err)
	}
}

func TestTriggerVolatilityNoAlert(t *testing.T) {
	e := newTestEngine(&stubFetcher{snap: calmSnapshot()}, nil)

	res, err := e.TriggerVolatility(context.Background(), "eur")
	if err != nil {
		t.Fatalf("平静行情不应报错: %v", err)
	}
	if res.Status != StatusNoAlert {
		t.Fatalf("期望 no_alert, 实际 %s", res.Status)
	}
	if res.Alert != nil {
		t.Fatal("no_alert 不应携带告警")
	}
}

func TestTriggerVolatilityThenNoChange(t *testing.T) {
	snap := calmSnapshot()
	snap.CurrentVolatility = decimal.NewFromFloat(0.0256) // 3.2x
	notifier := &stubNotifier{}
	e := newTestEngine(&stubFetcher{snap: snap}, notifier)

	first, err := e.TriggerVolatility(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("触发失败: %v", err)
	}
	if first.Status != StatusTriggered {
		t.Fatalf("期望 triggered, 实际 %s", first.Status)
	}
	if !first.SentToSlack {
		t.Fatal("新告警应推送")
	}

	second, err := e.TriggerVolatility(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("重触发失败: %v", err)
	}
	if second.Status != StatusNoChange {
		t.Fatalf("期望 no_change, 实际 %s", second.Status)
	}
	if second.Alert.ID != first.Alert.ID {
		t.Fatal("重触发应返回同一告警")
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("no_change 不应重复推送, 推送次数 %d", len(notifier.sent))
	}
}

func TestMutedCurrencySuppressed(t *testing.T) {
	snap := calmSnapshot()
	snap.CurrentVolatility = decimal.NewFromFloat(0.0256)
	notifier := &stubNotifier{}
	e := newTestEngine(&stubFetcher{snap: snap}, notifier, "JPY")

	res, err := e.TriggerVolatility(context.Background(), "JPY")
	if err != nil {
		t.Fatalf("静默货币评估不应报错: %v", err)
	}
	if res.Status != StatusSuppressed {
		t.Fatalf("期望 suppressed, 实际 %s", res.Status)
	}
	if res.Alert != nil {
		t.Fatal("suppressed 不应落库")
	}
	if alerts, _ := e.ActiveAlerts(context.Background(), ""); len(alerts) != 0 {
		t.Fatalf("静默货币不应产生告警: %d", len(alerts))
	}
}

func TestDispatchFailureKeepsAlert(t *testing.T) {
	snap := calmSnapshot()
	snap.CurrentVolatility = decimal.NewFromFloat(0.0256)
	notifier := &stubNotifier{err: errors.New("slack down")}
	e := newTestEngine(&stubFetcher{snap: snap}, notifier)

	res, err := e.TriggerVolatility(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("推送失败不应使触发报错: %v", err)
	}
	if res.Status != StatusTriggered {
		t.Fatalf("期望 triggered, 实际 %s", res.Status)
	}
	if res.SentToSlack {
		t.Fatal("推送失败 sent_to_slack 应为 false")
	}
	if res.DispatchErr == nil {
		t.Fatal("应携带推送错误")
	}

	alerts, err := e.ActiveAlerts(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("告警应已落库: %d", len(alerts))
	}
}

func TestTriggerVaRConfidenceValidation(t *testing.T) {
	e := newTestEngine(&stubFetcher{snap: calmSnapshot()}, nil)

	for _, bad := range []float64{0.5, 0.3, 1.0, 1.2} {
		_, err := e.TriggerVaR(context.Background(), "EUR", decimal.NewFromFloat(bad))
		if !errors.Is(err, risk.ErrInvalidThreshold) {
			t.Fatalf("置信度 %v 应被拒绝: %v", bad, err)
		}
	}
}

func TestTriggerVaRFallsThroughToCVaR(t *testing.T) {
	snap := calmSnapshot()
	snap.VaRPct = decimal.NewFromFloat(1.5)
	snap.CVaRPct = decimal.NewFromFloat(3.5)
	e := newTestEngine(&stubFetcher{snap: snap}, nil)

	res, err := e.TriggerVaR(context.Background(), "EUR", decimal.NewFromFloat(0.95))
	if err != nil {
		t.Fatalf("触发失败: %v", err)
	}
	if res.Status != StatusTriggered {
		t.Fatalf("期望 triggered, 实际 %s", res.Status)
	}
	if res.Alert.Type != risk.AlertCVaRBreach {
		t.Fatalf("应落到 cvar_breach, 实际 %s", res.Alert.Type)
	}
}

func TestTriggerRegimeBaselineThenChange(t *testing.T) {
	fetcher := &stubFetcher{snap: calmSnapshot()}
	e := newTestEngine(fetcher, nil)

	// 首次观察: 建立基线
	first, err := e.TriggerRegime(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("首次观察失败: %v", err)
	}
	if first.Status != StatusTriggered {
		t.Fatalf("基线应落库, 实际 %s", first.Status)
	}
	if first.Alert.Severity != risk.SeverityInfo {
		t.Fatalf("基线应为 info, 实际 %s", first.Alert.Severity)
	}
	if first.CurrentRegime != "calm" {
		t.Fatalf("当前 regime 错误: %s", first.CurrentRegime)
	}

	// 状态未变: 不再触发
	second, err := e.TriggerRegime(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("二次观察失败: %v", err)
	}
	if second.Status != StatusNoAlert {
		t.Fatalf("状态未变应为 no_alert, 实际 %s", second.Status)
	}

	// 恶化到 crisis: 新告警
	fetcher.snap.Regime = "crisis"
	third, err := e.TriggerRegime(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("三次观察失败: %v", err)
	}
	if third.Status != StatusTriggered {
		t.Fatalf("calm -> crisis 应触发, 实际 %s", third.Status)
	}
	if third.Alert.Severity != risk.SeverityCritical {
		t.Fatalf("进入 crisis 应为 critical, 实际 %s", third.Alert.Severity)
	}
	if third.Alert.Metrics["from_regime"] != "calm" {
		t.Fatalf("迁移来源错误: %#v", third.Alert.Metrics)
	}
}

func TestEscalationRegeneratesAction(t *testing.T) {
	snap := calmSnapshot()
	snap.CurrentVolatility = decimal.NewFromFloat(0.017) // 2.125x -> warning
	fetcher := &stubFetcher{snap: snap}
	e := newTestEngine(fetcher, nil)

	first, err := e.TriggerVolatility(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("触发失败: %v", err)
	}
	if first.Alert.Severity != risk.SeverityWarning {
		t.Fatalf("2.1x 应为 warning, 实际 %s", first.Alert.Severity)
	}

	fetcher.snap.CurrentVolatility = decimal.NewFromFloat(0.028) // 3.5x -> critical
	second, err := e.TriggerVolatility(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("升级触发失败: %v", err)
	}
	if second.Status != StatusEscalated {
		t.Fatalf("期望 escalated, 实际 %s", second.Status)
	}
	if second.Alert.ID != first.Alert.ID {
		t.Fatal("升级应保持同一告警")
	}
	if second.Alert.SuggestedAction.Urgency != risk.UrgencyImmediate {
		t.Fatalf("升级后建议动作应重新生成, 实际 %s", second.Alert.SuggestedAction.Urgency)
	}
}

func TestSnoozeHoursValidation(t *testing.T) {
	e := newTestEngine(&stubFetcher{snap: calmSnapshot()}, nil)

	_, err := e.Snooze(context.Background(), "any", -1)
	if !errors.Is(err, risk.ErrInvalidThreshold) {
		t.Fatalf("负数小时应被拒绝: %v", err)
	}
}

func TestSummaryRequiresNotifier(t *testing.T) {
	e := newTestEngine(&stubFetcher{snap: calmSnapshot()}, nil)
	if err := e.Summary(context.Background()); err == nil {
		t.Fatal("未配置通知渠道应报错")
	}

	notifier := &stubNotifier{}
	e = newTestEngine(&stubFetcher{snap: calmSnapshot()}, notifier)
	if err := e.Summary(context.Background()); err != nil {
		t.Fatalf("摘要推送失败: %v", err)
	}
	if notifier.summaries != 1 {
		t.Fatalf("应推送一次摘要, 实际 %d", notifier.summaries)
	}
}

func TestSweepEvaluatesAllWatched(t *testing.T) {
	snap := calmSnapshot()
	snap.CurrentVolatility = decimal.NewFromFloat(0.0256)
	e := newTestEngine(&stubFetcher{snap: snap}, nil)

	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("巡检失败: %v", err)
	}

	alerts, err := e.ActiveAlerts(context.Background(), "")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	// 每个货币: 波动率告警 + regime 基线
	if len(alerts) != 6 {
		t.Fatalf("三个货币应各产生两条告警, 实际 %d", len(alerts))
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	e := newTestEngine(&stubFetcher{err: risk.ErrUpstreamUnavailable}, nil)

	err := e.Sweep(context.Background())
	if !errors.Is(err, risk.ErrUpstreamUnavailable) {
		t.Fatalf("巡检应上报首个错误: %v", err)
	}
}
