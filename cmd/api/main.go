package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/outpostd/outpost/internal/app/migrate"
	httpx "github.com/outpostd/outpost/internal/http"
	"github.com/outpostd/outpost/internal/pubsub"
	"github.com/outpostd/outpost/internal/runner"
	"github.com/outpostd/outpost/internal/runner/dockerrunner"
	"github.com/outpostd/outpost/internal/runner/httprunner"
	"github.com/outpostd/outpost/internal/service/dispatch"
	"github.com/outpostd/outpost/internal/service/identity"
	"github.com/outpostd/outpost/internal/service/ledger"
	"github.com/outpostd/outpost/internal/service/notify"
	"github.com/outpostd/outpost/internal/service/registry"
	"github.com/outpostd/outpost/internal/service/stats"
	"github.com/outpostd/outpost/internal/service/status"
	"github.com/outpostd/outpost/internal/store"
	"github.com/outpostd/outpost/internal/store/memory"
	"github.com/outpostd/outpost/internal/store/postgres"
	redisstore "github.com/outpostd/outpost/internal/store/redis"
	"github.com/outpostd/outpost/internal/ws"
	"github.com/outpostd/outpost/pkg/config"
	"github.com/outpostd/outpost/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		modules      store.ModuleStore
		environments store.EnvironmentStore
		events       store.EventStore
		feed         store.ChangeFeed
		dbHealth     func(context.Context) error
		redisClient  *redis.Client
	)

	switch cfg.StorageBackend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		migrator, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer migrator.Close()
		if err := migrator.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := migrator.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		st := postgres.New(pool)
		modules, environments, events = st, st, st
		feed = postgres.NewFeed(pool, cfg.NotifyChannel, log)
		dbHealth = pool.Ping
	case "redis":
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		st := redisstore.New(redisClient, cfg.EventStreamName)
		modules, environments, events = st, st, st
		feed = redisstore.NewFeed(redisClient, cfg.EventStreamName, log)
		dbHealth = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	case "memory":
		st := memory.New()
		modules, environments, events = st, st, st
		feed = st
		log.Warn("using in-memory storage, state is lost on restart")
	default:
		log.Error("unsupported storage backend", "backend", cfg.StorageBackend)
		os.Exit(1)
	}

	var (
		jobRunner runner.Runner
		logSource status.LogFetcher
	)
	switch cfg.RunnerMode {
	case "http":
		jobRunner = httprunner.New(cfg.RunnerURL, cfg.RunnerTimeout, log)
	case "docker":
		dockerRun, err := dockerrunner.New(ctx, cfg.DockerHost, cfg.RunnerImage, cfg.RunnerContainer, log)
		if err != nil {
			log.Error("failed to connect to docker", "error", err)
			os.Exit(1)
		}
		defer dockerRun.Close()
		jobRunner = dockerRun
		logSource = dockerRun
	default:
		log.Error("unsupported runner mode", "mode", cfg.RunnerMode)
		os.Exit(1)
	}

	registrySvc := registry.New(modules, environments, log)
	identitySvc := identity.New(events, log)
	ledgerSvc := ledger.New(events, log)
	dispatchSvc := dispatch.New(registrySvc, identitySvc, ledgerSvc, jobRunner, log)
	statusSvc := status.New(events, logSource, log)
	statsSvc := stats.New(events)

	hub := ws.NewHub()
	publishers := []notify.Publisher{pubsub.NewHubPublisher(hub)}
	if redisClient == nil && strings.TrimSpace(cfg.RedisAddr) != "" && cfg.StorageBackend == "postgres" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, skipping channel notifications", "addr", cfg.RedisAddr, "error", err)
			client.Close()
		} else {
			defer client.Close()
			redisClient = client
		}
	}
	if redisClient != nil {
		publishers = append(publishers, pubsub.NewRedisPublisher(redisClient, cfg.NotifyChannel))
	}

	notifySvc := notify.New(feed, log, publishers...)
	go notifySvc.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, registrySvc, dispatchSvc, ledgerSvc, statusSvc, statsSvc, hub, limiter, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "backend", cfg.StorageBackend, "runner", cfg.RunnerMode)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
