package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-risk-alerts/internal/config"
	"fx-risk-alerts/internal/metrics"
	"fx-risk-alerts/internal/notify"
	"fx-risk-alerts/internal/risk"
	"fx-risk-alerts/internal/risk/evaluate"
	"fx-risk-alerts/internal/risk/factory"
	"fx-risk-alerts/internal/risk/store"
	"fx-risk-alerts/internal/service"
	"fx-risk-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// ExportOptions hold parameters for exporting the alert event history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions feed a synthetic snapshot through the trigger pipeline.
type SimulateOptions struct {
	Currency   string
	Volatility float64
	MeanVol    float64
	VaRPct     float64
	Regime     string
}

func (a *App) newFetcher() metrics.Fetcher {
	return metrics.NewClient(metrics.ClientOptions{
		BaseURL:   a.Config.Metrics.BaseURL,
		Timeout:   a.Config.Metrics.RequestTimeout,
		UserAgent: a.Config.Metrics.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Alerting.Slack.Enabled {
		return notify.NewSlackNotifier(a.Config.Alerting.Slack.WebhookURL, a.Config.Alerting.DispatchTimeout, a.Logger)
	}
	return nil
}

func (a *App) openArchive(ctx context.Context) (*storage.Archive, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database.DSN, a.Config.Database.MaxOpenConns, a.Config.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}

	archive := storage.NewArchive(pool)
	return archive, archive.Close, nil
}

func (a *App) thresholds() evaluate.Thresholds {
	th := evaluate.Defaults()
	cfg := a.Config.Alerting.Thresholds

	if cfg.VolatilityMultiple > 0 {
		th.VolatilityMultiple = decimal.NewFromFloat(cfg.VolatilityMultiple)
	}
	if cfg.VaRBasePct > 0 {
		th.VaRBasePct = decimal.NewFromFloat(cfg.VaRBasePct)
	}
	if cfg.CVaRBasePct > 0 {
		th.CVaRBasePct = decimal.NewFromFloat(cfg.CVaRBasePct)
	}
	if cfg.ForecastChangePct > 0 {
		th.ForecastChangePct = decimal.NewFromFloat(cfg.ForecastChangePct)
	}
	if cfg.ConfidenceFloor > 0 {
		th.ConfidenceFloor = decimal.NewFromFloat(cfg.ConfidenceFloor)
	}
	if cfg.ConfidenceDrop > 0 {
		th.ConfidenceDrop = decimal.NewFromFloat(cfg.ConfidenceDrop)
	}
	if cfg.CorrelationShift > 0 {
		th.CorrelationShift = decimal.NewFromFloat(cfg.CorrelationShift)
	}
	return th
}

// newEngine assembles the full trigger pipeline. archive may be nil.
func (a *App) newEngine(fetcher metrics.Fetcher, archive *storage.Archive, notifier notify.Notifier) *service.Engine {
	exposures := risk.NewExposureBook()
	for _, seed := range a.Config.Portfolio {
		exp := risk.Exposure{
			Currency:  seed.Currency,
			Amount:    decimal.NewFromFloat(seed.Amount),
			Direction: seed.Direction,
		}
		if err := exposures.Register(exp); err != nil {
			a.Logger.Warn().Err(err).Str("currency", seed.Currency).Msg("skipping invalid portfolio seed")
		}
	}

	fac := factory.New(exposures, factory.Options{
		NegligibleExposure: decimal.NewFromFloat(a.Config.Alerting.NegligibleExposure),
	})

	var archiver store.Archiver
	if archive != nil {
		archiver = archive
	}
	st := store.New(archiver, a.Logger)

	return service.New(fetcher, st, fac, notifier, exposures, service.Options{
		Currencies:      a.Config.Alerting.Currencies,
		Muted:           a.Config.Alerting.Muted,
		Thresholds:      a.thresholds(),
		Confidence:      decimal.NewFromFloat(a.Config.Metrics.Confidence),
		DispatchTimeout: a.Config.Alerting.DispatchTimeout,
	}, a.Logger)
}
