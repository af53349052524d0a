package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/risk"
)

const snapshotPath = "/v1/risk/snapshot"

// ClientOptions parameterise the metric source client.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches risk snapshots from the external numeric service.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a metric source client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "metric_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Fetch retrieves the snapshot for one currency pair. Any transport or
// non-2xx failure maps onto risk.ErrUpstreamUnavailable so the trigger
// path can abort before touching the store.
func (c *Client) Fetch(ctx context.Context, currency string, confidence decimal.Decimal) (Snapshot, error) {
	if c.baseURL == "" {
		return Snapshot{}, fmt.Errorf("metric source base url not configured: %w", risk.ErrUpstreamUnavailable)
	}

	params := url.Values{}
	params.Set("currency", strings.ToUpper(currency))
	if !confidence.IsZero() {
		params.Set("confidence", confidence.String())
	}

	endpoint := c.baseURL + snapshotPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "fxwatcher/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch snapshot: %v: %w", err, risk.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot body: %v: %w", err, risk.ErrUpstreamUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, parseAPIError(resp.StatusCode, payload)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	if snap.Currency == "" {
		snap.Currency = strings.ToUpper(currency)
	}
	if snap.AsOf.IsZero() {
		snap.AsOf = time.Now().UTC()
	}

	if snap.MeanVolatility.IsZero() && snap.CurrentVolatility.IsZero() {
		return Snapshot{}, errors.New("snapshot carries no volatility data")
	}

	c.logger.Debug().
		Str("currency", snap.Currency).
		Str("regime", snap.Regime).
		Str("current_vol", snap.CurrentVolatility.String()).
		Msg("snapshot fetched")

	return snap, nil
}

type apiError struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseAPIError(status int, payload []byte) error {
	var decoded apiError
	if err := json.Unmarshal(payload, &decoded); err == nil {
		if decoded.Description != "" {
			return fmt.Errorf("metric source error (%d): %s: %w", status, decoded.Description, risk.ErrUpstreamUnavailable)
		}
		if decoded.Message != "" {
			return fmt.Errorf("metric source error (%d): %s: %w", status, decoded.Message, risk.ErrUpstreamUnavailable)
		}
	}
	return fmt.Errorf("metric source error (%d): %w", status, risk.ErrUpstreamUnavailable)
}

var _ Fetcher = (*Client)(nil)
