package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-risk-alerts/internal/metrics"
	"fx-risk-alerts/internal/risk"
	"fx-risk-alerts/internal/risk/evaluate"
	"fx-risk-alerts/internal/risk/factory"
	"fx-risk-alerts/internal/risk/store"
	"fx-risk-alerts/internal/service"
)

type fixedFetcher struct {
	snap metrics.Snapshot
}

func (f *fixedFetcher) Fetch(_ context.Context, currency string, confidence decimal.Decimal) (metrics.Snapshot, error) {
	snap := f.snap
	snap.Currency = currency
	if snap.Confidence.IsZero() {
		snap.Confidence = confidence
	}
	return snap, nil
}

func newTestRouter(snap metrics.Snapshot) *gin.Engine {
	exposures := risk.NewExposureBook()
	fac := factory.New(exposures, factory.Options{})
	st := store.New(nil, zerolog.Nop())

	engine := service.New(&fixedFetcher{snap: snap}, st, fac, nil, exposures, service.Options{
		Currencies: []string{"EUR", "GBP"},
		Thresholds: evaluate.Defaults(),
	}, zerolog.Nop())

	return New(engine, Options{}, zerolog.Nop()).Router()
}

func spikySnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		CurrentVolatility: decimal.NewFromFloat(0.0256),
		MeanVolatility:    decimal.NewFromFloat(0.008),
		Confidence:        decimal.NewFromFloat(0.95),
		Regime:            "elevated",
		RegimeConfidence:  decimal.NewFromFloat(0.85),
		ModelName:         "garch-v2",
		ModelConfidence:   decimal.NewFromFloat(0.9),
		AsOf:              time.Now().UTC(),
	}
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	body := make(map[string]any)
	if len(rec.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(spikySnapshot())
	rec, body := doRequest(t, router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestTriggerVolatilityEndpoint(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/trigger/volatility?currency=EUR")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "triggered", body["status"])
	require.NotNil(t, body["alert"])
	assert.Equal(t, false, body["sent_to_slack"], "无通知渠道时 sent_to_slack 应为 false")

	// 重触发: no_change 不携带 sent_to_slack
	rec, body = doRequest(t, router, http.MethodPost, "/api/alerts/trigger/volatility?currency=EUR")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_change", body["status"])
	_, present := body["sent_to_slack"]
	assert.False(t, present)
}

func TestTriggerUnknownCurrencyReturns400(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/trigger/volatility?currency=XXX")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", body["error"])
}

func TestTriggerVaRConfidenceRejected(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/trigger/var?currency=EUR&confidence=1.5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", body["error"])

	rec, _ = doRequest(t, router, http.MethodPost, "/api/alerts/trigger/var?currency=EUR&confidence=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRegimeEndpoint(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/trigger/regime?currency=GBP")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "triggered", body["status"], "首次观察应记录基线")
	assert.Equal(t, "elevated", body["current_regime"])
}

func TestLifecycleEndpoints(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	_, body := doRequest(t, router, http.MethodPost, "/api/alerts/trigger/volatility?currency=EUR")
	alert := body["alert"].(map[string]any)
	id := alert["alert_id"].(string)

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/"+id+"/acknowledge?user=trader")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acknowledged", body["status"])

	rec, body = doRequest(t, router, http.MethodPost, "/api/alerts/"+id+"/snooze?hours=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "snoozed", body["status"])
	assert.NotEmpty(t, body["expires_at"])

	rec, body = doRequest(t, router, http.MethodPost, "/api/alerts/"+id+"/resolve")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resolved", body["status"])

	// 已解决后确认: 409
	rec, body = doRequest(t, router, http.MethodPost, "/api/alerts/"+id+"/acknowledge")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", body["error"])
}

func TestLifecycleUnknownID(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/nope/resolve")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestSnoozeHoursValidation(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/any/snooze?hours=-3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", body["error"])
}

func TestListActiveAndHistory(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	doRequest(t, router, http.MethodPost, "/api/alerts/trigger/volatility?currency=EUR")
	doRequest(t, router, http.MethodPost, "/api/alerts/trigger/volatility?currency=GBP")

	rec, body := doRequest(t, router, http.MethodGet, "/api/alerts/active")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = doRequest(t, router, http.MethodGet, "/api/alerts/active?currency=GBP")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = doRequest(t, router, http.MethodGet, "/api/alerts/history?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = doRequest(t, router, http.MethodGet, "/api/alerts/history?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestRegisterPortfolio(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, _ := doRequest(t, router, http.MethodPost, "/api/alerts/portfolio?currency=EUR&amount=1000000&direction=long")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPost, "/api/alerts/portfolio?currency=EUR&amount=abc&direction=long")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, router, http.MethodPost, "/api/alerts/portfolio?currency=EUR&amount=1000&direction=sideways")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 注册后再触发: 告警应带组合上下文
	_, body := doRequest(t, router, http.MethodPost, "/api/alerts/trigger/volatility?currency=EUR")
	alert := body["alert"].(map[string]any)
	require.NotNil(t, alert["portfolio_context"])
}

func TestSummaryWithoutNotifier(t *testing.T) {
	router := newTestRouter(spikySnapshot())

	rec, body := doRequest(t, router, http.MethodPost, "/api/alerts/summary")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", body["error"])
}
