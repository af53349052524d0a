package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fx-risk-alerts/internal/risk"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, alert risk.Alert) error
	NotifySummary(ctx context.Context, alerts []risk.Alert) error
}

// SlackNotifier pushes alert text to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier 构造 Slack 告警器。
func NewSlackNotifier(webhookURL string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify posts a single alert. The caller treats failure as a dispatch
// warning; store state is never rolled back on notification failure.
func (n *SlackNotifier) Notify(ctx context.Context, alert risk.Alert) error {
	if err := n.post(ctx, renderAlert(alert)); err != nil {
		return err
	}

	n.logger.Info().
		Str("alert_id", alert.ID).
		Str("alert_type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Msg("alert dispatched to slack")
	return nil
}

// NotifySummary posts one message covering all outstanding alerts.
func (n *SlackNotifier) NotifySummary(ctx context.Context, alerts []risk.Alert) error {
	if err := n.post(ctx, renderSummary(alerts)); err != nil {
		return err
	}

	n.logger.Info().Int("alerts", len(alerts)).Msg("summary dispatched to slack")
	return nil
}

func (n *SlackNotifier) post(ctx context.Context, text string) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack webhook url not configured: %w", risk.ErrUpstreamUnavailable)
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %v: %w", err, risk.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack 响应码异常: %d: %w", resp.StatusCode, risk.ErrUpstreamUnavailable)
	}
	return nil
}

var severityIcon = map[risk.Severity]string{
	risk.SeverityInfo:     ":information_source:",
	risk.SeverityWarning:  ":warning:",
	risk.SeverityCritical: ":rotating_light:",
}

func renderAlert(alert risk.Alert) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s *%s*\n", severityIcon[alert.Severity], alert.Title))
	builder.WriteString(alert.Message + "\n")
	builder.WriteString(fmt.Sprintf("Currency: %s | Severity: %s | Occurrences: %d\n", alert.Currency, alert.Severity, alert.OccurrenceCount))
	if alert.SuggestedAction.Action != risk.ActionNoAction {
		builder.WriteString(fmt.Sprintf("Suggested: %s (%s), coverage %s\n",
			alert.SuggestedAction.Action, alert.SuggestedAction.Urgency,
			alert.SuggestedAction.CoverageSuggestion.StringFixed(2)))
	}
	if alert.PortfolioContext != nil {
		builder.WriteString(fmt.Sprintf("Exposure: %s %s, est. impact %s\n",
			alert.PortfolioContext.Direction,
			alert.PortfolioContext.ExposureAmount.String(),
			alert.PortfolioContext.EstimatedImpact.String()))
	}
	builder.WriteString(fmt.Sprintf("Alert ID: %s", alert.ID))
	return builder.String()
}

func renderSummary(alerts []risk.Alert) string {
	if len(alerts) == 0 {
		return "*FX Risk Summary*\nNo outstanding alerts."
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("*FX Risk Summary* - %d outstanding\n", len(alerts)))
	for _, alert := range alerts {
		builder.WriteString(fmt.Sprintf("%s %s [%s] %s (x%d)\n",
			severityIcon[alert.Severity], alert.Currency, alert.Severity, alert.Title, alert.OccurrenceCount))
	}
	return builder.String()
}

var _ Notifier = (*SlackNotifier)(nil)
