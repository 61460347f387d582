package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/taskhub/internal/ledger"
	"github.com/osvaldoandrade/taskhub/internal/metrics"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
	"github.com/osvaldoandrade/taskhub/internal/providers"
	"github.com/osvaldoandrade/taskhub/internal/ratelimit"
	"github.com/osvaldoandrade/taskhub/internal/services"
	"github.com/osvaldoandrade/taskhub/internal/tracing"
	"github.com/osvaldoandrade/taskhub/pkg/auth"
	"github.com/osvaldoandrade/taskhub/pkg/config"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
	redisplugin "github.com/osvaldoandrade/taskhub/pkg/persistence/redis"

	"github.com/gin-gonic/gin"
)

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	Logger          *slog.Logger
	TZ              *time.Location
	Store           persistence.PluginPersistence
	Ledger          ledger.Client
	Lifecycle       services.LifecycleService
	Settlement      services.SettlementService
	Reconcile       services.ReconcileService
	AdminValidator  auth.Validator
	RateLimiter     ratelimit.Limiter
	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithStore sets a custom persistence store
func WithStore(store persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Store = store
		return nil
	}
}

// WithLedgerClient sets a custom ledger gateway client
func WithLedgerClient(client ledger.Client) ApplicationOption {
	return func(app *Application) error {
		app.Ledger = client
		return nil
	}
}

// WithAdminValidator sets a custom admin token validator
func WithAdminValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.AdminValidator = validator
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	redisClient := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	limiter := ratelimit.NewTokenBucketLimiter(redisClient)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}

	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "taskhub", "env", cfg.Env)
	slog.SetDefault(logger)

	metrics.RegisterRedisCollector(redisClient, logger)

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware(logger))

	app := &Application{
		Config:      cfg,
		Engine:      engine,
		Logger:      logger,
		TZ:          loc,
		RateLimiter: limiter,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Store == nil {
		if cfg.PersistenceProvider == "redis" && len(cfg.PersistenceConfig) == 0 {
			// Share one connection pool between the store and the rate limiter.
			app.Store = redisplugin.NewPluginWithClient(redisClient, loc)
		} else {
			raw, err := cfg.PersistenceConfigJSON()
			if err != nil {
				return nil, err
			}
			store, err := persistence.NewPersistence(
				persistence.ProviderConfig{Type: cfg.PersistenceProvider, Config: raw},
				persistence.PluginConfig{Timezone: loc},
			)
			if err != nil {
				return nil, err
			}
			app.Store = store
		}
	}

	if app.Ledger == nil {
		app.Ledger = ledger.NewHTTPClient(ledger.HTTPClientConfig{
			BaseURL:               cfg.LedgerGatewayURL,
			BearerToken:           cfg.LedgerGatewayToken,
			RequestTimeoutSeconds: cfg.LedgerRequestTimeoutSeconds,
			ConfirmTimeoutSeconds: cfg.ConfirmTimeoutSeconds,
			PollPolicy:            cfg.BackoffPolicy,
			PollBaseSeconds:       cfg.ConfirmPollBaseSeconds,
			PollMaxSeconds:        cfg.ConfirmPollMaxSeconds,
		}, logger)
	}

	// Create default validator from config if not provided
	if app.AdminValidator == nil && cfg.AdminAuthProvider != "" {
		authCfg, err := cfg.AdminAuthConfigJSON()
		if err != nil {
			return nil, err
		}
		validator, err := auth.NewValidator(auth.ProviderConfig{
			Type:   cfg.AdminAuthProvider,
			Config: authCfg,
		})
		if err != nil {
			return nil, err
		}
		app.AdminValidator = validator
	}

	settlement := services.NewSettlementService(
		app.Store.AgentStorage(),
		app.Store.PayoutStorage(),
		app.Ledger,
		ledger.NewAccountLocks(),
		cfg.FeeRecipientAddress,
		cfg.FeeRateBps,
		logger,
		time.Now,
	)
	app.Settlement = settlement
	app.Lifecycle = services.NewLifecycleService(app.Store.TaskStorage(), settlement, time.Now, loc)
	app.Reconcile = services.NewReconcileService(app.Store.TaskStorage(), app.Store.PayoutStorage(), settlement, logger, time.Now)

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown
	if cfg.Tracing.Enabled {
		engine.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))
	}

	return app, nil
}
