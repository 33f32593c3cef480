package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/auth-lifecycle/internal/config"
	"github.com/prperemyshlev/auth-lifecycle/internal/google"
	"github.com/prperemyshlev/auth-lifecycle/internal/handler"
	"github.com/prperemyshlev/auth-lifecycle/internal/imagehost"
	"github.com/prperemyshlev/auth-lifecycle/internal/mailer"
	"github.com/prperemyshlev/auth-lifecycle/internal/repository"
	"github.com/prperemyshlev/auth-lifecycle/internal/service"
	"github.com/prperemyshlev/auth-lifecycle/internal/utils"
	"github.com/prperemyshlev/auth-lifecycle/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	apiPrefix       = "/api/v1/app"
)

type App struct {
	infra   Infrastructure
	config  *config.Config
	router  *gin.Engine
	server  *http.Server
	mailer  *mailer.Mailer
	sweeper *service.TokenSweeper
}

// NewApp wires the services and the HTTP router on top of infra
func NewApp(ctx context.Context, infra Infrastructure, cfg *config.Config) (*App, error) {
	logger := infra.Logger()
	repos := repository.NewRepositories(infra.Postgres())

	jwtManager := utils.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry.Duration,
		cfg.JWT.RefreshTokenExpiry.Duration,
	)

	metrics, err := observability.NewAuthMetrics(infra.MeterProvider().Meter(serviceName))
	if err != nil {
		return nil, err
	}

	transport, err := mailer.NewTransport(cfg.Mail, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail transport: %w", err)
	}
	mail := mailer.New(transport, cfg.Mail.From, cfg.Mail.Timeout.Duration, logger)

	uploader, err := imagehost.New(ctx, cfg.Image)
	if err != nil {
		_ = mail.Close()
		return nil, fmt.Errorf("failed to create image uploader: %w", err)
	}

	userCache := service.NewRedisUserCache(infra.Redis(), cfg.Cache.UserTTL.Duration)
	tokenCache := service.NewRedisTokenCache(infra.Redis())

	verification := service.NewOneTimeTokenService(
		service.EmailVerificationPolicy(cfg.Tokens.EmailVerificationTTL.Duration),
		repos.Token, tokenCache, cfg.Frontend, logger,
	)
	reset := service.NewOneTimeTokenService(
		service.PasswordResetPolicy(cfg.Tokens.PasswordResetTTL.Duration),
		repos.Token, tokenCache, cfg.Frontend, logger,
	)

	authService := service.NewAuthService(
		repos.User,
		userCache,
		jwtManager,
		verification,
		reset,
		google.NewVerifier(cfg.Google.ClientID, cfg.Google.VerifyTimeout.Duration),
		mail,
		metrics,
		logger,
		cfg.Security.BCryptCost,
	)
	profileService := service.NewProfileService(
		repos.User,
		userCache,
		uploader,
		metrics,
		logger,
		cfg.Image.UploadTimeout.Duration,
		cfg.Image.MaxBytes,
	)

	rateLimit := handler.NewRateLimit(service.NewRateLimiter(infra.Redis()), cfg.Security.RateLimitEnabled, logger)
	healthChecker := NewHealthChecker(infra)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS))

	router.GET("/metrics", observability.PrometheusHandler(infra.MetricsHandler()))
	router.GET("/health", healthChecker.Handler)

	handler.RegisterRoutes(router.Group(apiPrefix), handler.Routes{
		Auth:         handler.NewAuthHandler(authService, logger),
		Profile:      handler.NewProfileHandler(profileService, logger, cfg.Image.MaxBytes),
		Authenticate: handler.AuthMiddleware(authService, logger),
		RateLimit:    rateLimit,
		Limits:       cfg.Security,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:   infra,
		config:  cfg,
		router:  router,
		server:  srv,
		mailer:  mail,
		sweeper: service.NewTokenSweeper(repos.Token, cfg.Tokens.SweepInterval.Duration, logger),
	}, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	a.sweeper.Start()

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
		)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	if err := a.Shutdown(); err != nil {
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

// Shutdown drains the HTTP server and the sweeper before closing the mail
// transport and the infrastructure they use
func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := make(chan error, 2)

	go func() {
		errs <- a.server.Shutdown(ctx)
	}()

	go func() {
		errs <- a.sweeper.Stop(ctx)
	}()

	drainErr := errors.Join(<-errs, <-errs)

	go func() {
		errs <- a.mailer.Close()
	}()

	go func() {
		errs <- a.infra.Shutdown(ctx)
	}()

	err := errors.Join(drainErr, <-errs, <-errs)
	if err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
