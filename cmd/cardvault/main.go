package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cardvault/cardvault/pkg/api"
	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/config"
	"github.com/cardvault/cardvault/pkg/httputil"
	"github.com/cardvault/cardvault/pkg/middleware"
	"github.com/cardvault/cardvault/pkg/observability"
	"github.com/cardvault/cardvault/pkg/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cardvault: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting cardvault")

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// PostgreSQL
	db, err := postgres.Connect(cfg.Storage)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	store := postgres.NewStore(db)

	migrateCtx, cancel := context.WithTimeout(context.Background(), cfg.Storage.PostgresTimeout)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("Database ready")

	// Redis
	redisOpts, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis URL: %w", err)
	}
	if cfg.Storage.RedisPassword != "" {
		redisOpts.Password = cfg.Storage.RedisPassword
	}
	redisOpts.DB = cfg.Storage.RedisDB
	redisOpts.PoolSize = cfg.Storage.RedisPoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	// Auth plumbing
	codec := auth.NewTokenCodec(
		[]byte(cfg.Auth.HeaderTokenSecret),
		[]byte(cfg.Auth.CookieTokenSecret),
		cfg.Auth.SessionTTL,
	)
	tracker := auth.NewFailureTracker(redisClient, cfg.Auth.FailureWindow)
	persistent := auth.NewPersistentTokenManager(
		store,
		[]byte(cfg.Auth.RememberMeSecret),
		cfg.Auth.RememberMeDays,
		cfg.Auth.RememberMeCookieName,
		cfg.Auth.CookieDomain,
	)
	issuer := auth.NewIssuer(store, codec, tracker, persistent, auth.IssuerConfig{
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  cfg.Auth.LockoutDuration,
	}, metrics, logger)

	guard := middleware.NewAuthGuard(codec, issuer, middleware.GuardConfig{
		HeaderName:        cfg.Auth.HeaderName,
		SessionCookieName: cfg.Auth.SessionCookieName,
		CookieDomain:      cfg.Auth.CookieDomain,
	})

	// Front-end log sink
	frontLog, closeFrontLog, err := newFrontEndLogger(cfg.Observability.FrontEndLogFile)
	if err != nil {
		return fmt.Errorf("opening front-end log sink: %w", err)
	}
	defer closeFrontLog()

	server, err := api.NewServer(store, store, store, issuer, codec, guard, db, api.ServerConfig{
		AuthHeaderName:        cfg.Auth.HeaderName,
		SessionCookieName:     cfg.Auth.SessionCookieName,
		CookieDomain:          cfg.Auth.CookieDomain,
		RegistrationCacheSize: cfg.Auth.RegistrationCacheSize,
		MetricsEnabled:        cfg.Observability.MetricsEnabled,
	}, metrics, logger, frontLog)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(server)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Expired remember-me entries are dead on arrival but still take up
	// space in user records; sweep them on a schedule.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Auth.TokenPurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.PostgresTimeout)
		defer cancel()

		n, err := store.PurgeExpiredTokens(ctx, time.Now())
		if err != nil {
			logger.WithError(err).Error("Expired token purge failed")
			return
		}
		if n > 0 {
			logger.Infof("Purged expired remember-me tokens from %d users", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling token purge: %w", err)
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return redisClient.Close()
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return db.Close()
	})

	var g errgroup.Group
	g.Go(func() error {
		logger.Infof("Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}

// newFrontEndLogger builds the logrus sink for client-side log lines.
// With no file configured, lines go to stdout alongside the service log.
func newFrontEndLogger(path string) (*logrus.Logger, func(), error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)

	if path == "" {
		log.SetOutput(os.Stdout)
		return log, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	log.SetOutput(f)
	return log, func() { f.Close() }, nil
}
