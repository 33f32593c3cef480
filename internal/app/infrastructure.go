package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prperemyshlev/auth-lifecycle/internal/config"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository/migrations"
	"github.com/prperemyshlev/auth-lifecycle/pkg/database"
	"github.com/prperemyshlev/auth-lifecycle/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const serviceName = "auth-lifecycle"

// Infrastructure owns the pooled clients and telemetry shared by the app
type Infrastructure interface {
	Postgres() *database.Postgres
	Redis() *database.Redis
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider

	Shutdown(ctx context.Context) error
}

type infrastructure struct {
	postgres       *database.Postgres
	redis          *database.Redis
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
}

var _ Infrastructure = &infrastructure{}

// NewInfrastructure connects to Postgres and Redis, applies pending schema
// migrations when enabled and sets up logging and metrics
func NewInfrastructure(ctx context.Context, cfg config.Config) (*infrastructure, error) {
	i := &infrastructure{}

	logger, err := observability.InitLogger(cfg.Env, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	i.logger = logger

	postgres, err := database.NewPostgres(ctx, cfg.Postgres.DSN(), database.WithMaxOpenConns(cfg.Postgres.MaxOpenConns))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	i.postgres = postgres

	if cfg.Postgres.RunMigrations {
		version, err := postgres.Migrate(migrations.FS)
		if err != nil {
			_ = i.postgres.Close()
			return nil, err
		}
		logger.Info("Database schema is up to date", zap.Uint("version", version))
	}

	redis, err := database.NewRedis(ctx, cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB,
		database.WithPoolSize(cfg.Redis.PoolSize),
		database.WithTimeouts(0, cfg.Redis.CommandTimeout.Duration),
	)
	if err != nil {
		_ = i.postgres.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	i.redis = redis

	meterProvider, metricsHandler, err := observability.InitTelemetry(serviceName)
	if err != nil {
		_ = i.postgres.Close()
		_ = i.redis.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.meterProvider = meterProvider
	i.metricsHandler = metricsHandler

	return i, nil
}

func (i *infrastructure) Postgres() *database.Postgres {
	return i.postgres
}

func (i *infrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

// Shutdown releases the pools, then flushes metrics and the logger
func (i *infrastructure) Shutdown(ctx context.Context) error {
	errs := make(chan error, 2)

	go func() { errs <- i.postgres.Close() }()
	go func() { errs <- i.redis.Close() }()

	closeErr := errors.Join(<-errs, <-errs)

	return errors.Join(closeErr, observability.Shutdown(ctx, i.meterProvider, i.logger))
}
