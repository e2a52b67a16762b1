package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/port"
	"github.com/lumenauth/magiclink-service/internal/infra/config"
	"github.com/lumenauth/magiclink-service/internal/infra/database"
	kafkainfra "github.com/lumenauth/magiclink-service/internal/infra/kafka"
	"github.com/lumenauth/magiclink-service/internal/infra/logger"
	redisinfra "github.com/lumenauth/magiclink-service/internal/infra/redis"
	"github.com/lumenauth/magiclink-service/internal/infra/security"
	"github.com/lumenauth/magiclink-service/internal/infra/smtp"
	"github.com/lumenauth/magiclink-service/internal/infra/telemetry"
	postgresrepo "github.com/lumenauth/magiclink-service/internal/repository/postgres"
	redisrepo "github.com/lumenauth/magiclink-service/internal/repository/redis"
	"github.com/lumenauth/magiclink-service/internal/transport/http/middleware"
	"github.com/lumenauth/magiclink-service/internal/transport/http/routes"
	"github.com/lumenauth/magiclink-service/internal/usecase"
)

const totpSkewSteps = 1

type Application struct {
	cfg         *config.AppConfig
	engine      *gin.Engine
	logger      *zap.Logger
	pool        *pgxpool.Pool
	redis       *redisinfra.Client
	maintenance *usecase.MaintenanceService
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if _, err := telemetry.Attach(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	hasher, err := security.NewTokenHasher(cfg.Auth.ServerSecret)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init token hasher: %w", err)
	}

	signer, err := security.NewReferenceSigner(cfg.Auth.ServerSecret, cfg.TwoFactor.Issuer)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init reference signer: %w", err)
	}

	totpEngine := security.NewTOTPEngine(cfg.TwoFactor.Issuer, totpSkewSteps)

	repos := postgresrepo.NewRepositories(pool)

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	auditor := usecase.NewAuditor(repos.Audit, eventPublisher, log)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: "magic:rate-limit",
		TTL:       rateLimitWindow * 2,
	})

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	lockoutStore := redisrepo.NewLockoutRepository(redisClient.Client(), cfg.Redis.LockoutPrefix)
	replayGuard := redisrepo.NewReplayGuardRepository(redisClient.Client(), cfg.Redis.ReplayGuardPrefix)
	pendingStore := redisrepo.NewPendingLoginRepository(redisClient.Client(), cfg.Redis.PendingLoginPrefix)
	sessions := redisrepo.NewSessionRepository(redisClient.Client(), cfg.Redis.SessionPrefix, cfg.Redis.SessionTTL)

	mailer := smtp.NewMailer(cfg.SMTP, log)

	lockout := usecase.NewLockoutGuard(lockoutStore, cfg.TwoFactor.MaxAttempts, cfg.TwoFactor.LockoutDuration, log)

	tokenService := usecase.NewTokenService(cfg, repos.Tokens, repos.Users, mailer, hasher, rateLimitStore, auditor, log)
	twoFactorService := usecase.NewTwoFactorService(repos.TwoFactor, repos.Users, totpEngine, replayGuard, lockout, pendingStore, auditor, log)
	loginService := usecase.NewLoginService(cfg, tokenService, twoFactorService, lockout, repos.Users, pendingStore, signer, sessions, auditor, log)
	maintenanceService := usecase.NewMaintenanceService(repos.Tokens, cfg.Maintenance.Interval, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		log.Warn("failed to init http metrics", zap.Error(err))
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     httpMetrics,
		Sessions:    sessions,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Tokens:    tokenService,
			Login:     loginService,
			TwoFactor: twoFactorService,
		},
	})

	return &Application{
		cfg:         cfg,
		engine:      engine,
		logger:      log,
		pool:        pool,
		redis:       redisClient,
		maintenance: maintenanceService,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()

	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	defer stopMaintenance()
	if a.maintenance != nil {
		go a.maintenance.Run(maintenanceCtx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting magic-link API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
