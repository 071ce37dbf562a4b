// Package main provides the entry point for the phishing awareness training service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/phishschool/app/handlers"
	applogger "github.com/amirphl/phishschool/app/logger"
	"github.com/amirphl/phishschool/app/middleware"
	"github.com/amirphl/phishschool/app/router"
	"github.com/amirphl/phishschool/app/scheduler"
	"github.com/amirphl/phishschool/app/services"
	businessflow "github.com/amirphl/phishschool/business_flow"
	"github.com/amirphl/phishschool/config"
	"github.com/amirphl/phishschool/repository"
	"github.com/amirphl/phishschool/utils"
	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	logger    *zap.Logger
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := applogger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := initializeSentry(cfg); err != nil {
		logger.Warn("Sentry disabled", zap.Error(err))
	}
	defer sentry.Flush(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Background workers first so no sweep runs against a closing pool
	cancel()
	for i := len(app.stopFuncs) - 1; i >= 0; i-- {
		app.stopFuncs[i]()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func initializeSentry(cfg *config.ProductionConfig) error {
	if cfg.Sentry.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Deployment.Environment,
		Release:          cfg.Deployment.Version,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
	})
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if !cfg.SlowQueryLog {
		logLevel = gormlogger.Error
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: utils.UTCNow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}

// initializeCache returns nil when caching is disabled
func initializeCache(cfg config.CacheConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

func initializeGenerator(cfg config.GeneratorConfig, logger *zap.Logger) (services.ContentGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return services.NewOpenAIGenerator(services.OpenAIGeneratorConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: float32(cfg.Temperature),
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, logger)
	default:
		logger.Warn("Using mock content generator")
		return services.NewMockGenerator(), nil
	}
}

func initializeTransport(cfg config.EmailConfig, logger *zap.Logger) (services.MailTransport, error) {
	switch cfg.Provider {
	case "sendgrid":
		return services.NewSendGridTransport(cfg.SendGridAPIKey, logger)
	default:
		logger.Warn("Using mock mail transport; emails are logged, not delivered")
		return services.NewMockTransport(logger), nil
	}
}

// initializeApplication initializes the main application components
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, logger *zap.Logger) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	var (
		cache     services.AnalyticsCache = services.NoopAnalyticsCache{}
		sweepLock services.SweepLock      = services.NewLocalSweepLock()
	)
	if rc != nil {
		cache = services.NewRedisAnalyticsCache(rc, cfg.Cache.RedisPrefix, cfg.Cache.DefaultTTL, logger)
		sweepLock = services.NewRedisSweepLock(rc, cfg.Cache.RedisPrefix)
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
	}

	generator, err := initializeGenerator(cfg.Generator, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content generator: %w", err)
	}
	transport, err := initializeTransport(cfg.Email, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mail transport: %w", err)
	}

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	prefsRepo := repository.NewUserEmailPreferencesRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	emailRepo := repository.NewCampaignEmailRepository(db)
	trackingRepo := repository.NewEmailTrackingRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	tx := repository.NewTransactor(db)

	clock := utils.SystemClock()

	// Flows
	orchestrator := businessflow.NewContentOrchestrator(emailRepo, generator, businessflow.GenerationPolicy{
		Attempts:    cfg.Generator.Attempts,
		BaseBackoff: cfg.Generator.BackoffBase,
		MaxBackoff:  cfg.Generator.BackoffMax,
	}, clock, logger)

	dispatcher := businessflow.NewDispatcher(campaignRepo, emailRepo, userRepo, orchestrator, transport, cache,
		businessflow.DispatcherConfig{
			BatchSize:          cfg.Dispatcher.BatchSize,
			MaxAttempts:        cfg.Dispatcher.MaxAttempts,
			ClaimLease:         cfg.Dispatcher.ClaimLease,
			ReplenishLimit:     cfg.Dispatcher.ReplenishLimit,
			TrackingBaseURL:    cfg.Tracking.BaseURL,
			FromEmail:          cfg.Email.FromEmail,
			FromName:           cfg.Email.FromName,
			LegitimateFraction: cfg.Schedule.LegitimateFraction,
		}, clock, logger)

	campaignFlow := businessflow.NewCampaignFlow(campaignRepo, emailRepo, userRepo, prefsRepo, orchestrator, dispatcher, tx, cache,
		businessflow.CampaignFlowConfig{
			LegitimateFraction:  cfg.Schedule.LegitimateFraction,
			DefaultEmailCount:   cfg.Schedule.DefaultEmailCount,
			DefaultDurationDays: cfg.Schedule.DefaultDurationDays,
		}, clock, logger)

	preferencesFlow := businessflow.NewPreferencesFlow(prefsRepo, campaignRepo, campaignFlow, cache, logger)
	trackingFlow := businessflow.NewTrackingFlow(emailRepo, trackingRepo, campaignRepo, userRepo, tx, cache, clock, logger)
	analyticsFlow := businessflow.NewAnalyticsFlow(campaignRepo, emailRepo, cache, logger)
	learnFlow := businessflow.NewLearnFlow(scoreRepo, orchestrator, logger)
	userFlow := businessflow.NewUserFlow(userRepo)

	// Background dispatcher
	if cfg.Dispatcher.Enabled {
		sched := scheduler.NewDispatchScheduler(cfg.Dispatcher.CronSpec, dispatcher, sweepLock, cfg.Dispatcher.LockTTL, logger)
		stop, err := sched.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start dispatch scheduler: %w", err)
		}
		stopFuncs = append(stopFuncs, stop)
	} else {
		logger.Warn("Dispatcher disabled; scheduled emails will not be sent by this instance")
	}

	trackLimiter := middleware.NewRateLimiter(cfg.Tracking.RatePerSecond, cfg.Tracking.Burst)
	trackLimiter.StartCleanup(ctx)

	healthChecks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rc != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	h := router.Handlers{
		Campaign: handlers.NewCampaignHandler(campaignFlow, logger),
		Tracking: handlers.NewTrackingHandler(trackingFlow, handlers.TrackingPages{
			WarningURL:    cfg.Tracking.WarningPageURL,
			LegitimateURL: cfg.Tracking.LegitimatePageURL,
			ErrorURL:      cfg.Tracking.ErrorPageURL,
		}, logger),
		Preferences: handlers.NewPreferencesHandler(preferencesFlow, logger),
		Analytics:   handlers.NewAnalyticsHandler(analyticsFlow, logger),
		Learn:       handlers.NewLearnHandler(learnFlow, logger),
		Health:      handlers.NewHealthHandler(cfg.Deployment.Version, healthChecks, logger),
	}

	r := router.NewFiberRouter(cfg, h, middleware.NewAuthMiddleware(tokenService, userFlow, logger), trackLimiter, logger)

	logger.Info("Application initialized",
		zap.String("environment", cfg.Deployment.Environment),
		zap.String("generator", cfg.Generator.Provider),
		zap.String("mail_transport", cfg.Email.Provider),
		zap.Bool("dispatcher", cfg.Dispatcher.Enabled))

	return &Application{
		router:    r,
		config:    cfg,
		logger:    logger,
		stopFuncs: stopFuncs,
	}, nil
}
