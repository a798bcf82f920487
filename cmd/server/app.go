package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	goredis "github.com/redis/go-redis/v9"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/audit"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/config"
	"github.com/taskpulse/taskpulse/internal/outbox"
	"github.com/taskpulse/taskpulse/internal/platform/logger"
	"github.com/taskpulse/taskpulse/internal/platform/metrics"
	"github.com/taskpulse/taskpulse/internal/platform/postgres"
	redisplatform "github.com/taskpulse/taskpulse/internal/platform/redis"
	"github.com/taskpulse/taskpulse/internal/recurring"
	"github.com/taskpulse/taskpulse/internal/scheduler"
	"github.com/taskpulse/taskpulse/internal/service"
	"github.com/taskpulse/taskpulse/internal/store"
	"github.com/taskpulse/taskpulse/migrations"
)

const shutdownTimeout = 15 * time.Second

// run wires the application together and blocks until ctx is cancelled or
// the HTTP server fails.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(logger.Config{Level: cfg.Server.LogLevel})
	log.Info("starting taskpulse server",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel))

	db, err := openDatabase(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(db); err != nil {
		return err
	}

	m := metrics.New()

	eventBus, kv, closeInfra, err := buildMessaging(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeInfra()

	taskStore := postgres.NewPostgresTaskStore(db, log)
	reminderStore := postgres.NewPostgresReminderStore(db, log)
	outboxStore := postgres.NewPostgresOutboxStore(db, log)
	auditStore := postgres.NewPostgresAuditStore(db, log)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.LeadTime = cfg.Reminders.Lead
	timer := scheduler.NewTimerPool(log)
	reminderScheduler := scheduler.NewReminderScheduler(reminderStore, timer, eventBus, m, schedCfg, log)

	runTx := service.TxRunner(func(ctx context.Context, fn store.TxFn) error {
		return store.RunInTransaction(ctx, db, fn)
	})
	coordinator := service.NewTaskCoordinator(taskStore, outboxStore, reminderScheduler, runTx, log)

	relayCfg := outbox.DefaultConfig()
	relayCfg.PollInterval = cfg.Outbox.PollInterval
	relayCfg.BatchSize = cfg.Outbox.BatchSize
	relayCfg.MaxAttempts = cfg.Outbox.MaxAttempts
	relay := outbox.NewRelay(outboxStore, eventBus, m, relayCfg, log)

	engine := recurring.NewEngine(eventBus, kv, coordinator, nil, m, recurring.DefaultConfig(), log)

	auditCfg := audit.DefaultConfig()
	auditCfg.Retention = cfg.Audit.Retention
	auditCfg.SweepInterval = cfg.Audit.SweepInterval
	auditLog := audit.NewLog(eventBus, auditStore, m, auditCfg, log)

	// Consumers subscribe before the relay starts draining, so no event is
	// published without a consumer group in place to receive it.
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start recurring engine: %w", err)
	}
	defer engine.Stop()

	if err := auditLog.Start(ctx); err != nil {
		return fmt.Errorf("failed to start audit log: %w", err)
	}
	defer auditLog.Stop()

	if err := reminderScheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to recover reminders: %w", err)
	}
	defer reminderScheduler.Stop()

	relay.Start()
	defer relay.Stop()

	router := api.NewRouter(api.RouterDeps{
		Tasks:   api.NewTaskHandler(coordinator, log),
		Audit:   api.NewAuditHandler(auditLog, log),
		Health:  api.NewHealthHandler(db, log),
		Metrics: m,
	})

	return serveHTTP(ctx, cfg.Server.Port, router, log)
}

func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// buildMessaging selects the event bus and KV store implementations. A
// configured Redis address selects Redis Streams and Redis keys; otherwise
// the in-process implementations are used.
func buildMessaging(
	ctx context.Context,
	cfg config.RedisConfig,
	log *slog.Logger,
) (bus.EventBus, store.KV, func(), error) {
	if cfg.Addr == "" {
		log.Info("using in-process event bus and state store")
		memBus := bus.NewMemoryBus(log)
		return memBus, store.NewMemoryKV(), func() { memBus.Close() }, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("using redis event bus and state store", slog.String("addr", cfg.Addr))
	streamBus := redisplatform.NewStreamBus(client, log)
	kv := redisplatform.NewKV(client, cfg.KeyPrefix)

	// StreamBus.Close closes the shared client.
	return streamBus, kv, func() { streamBus.Close() }, nil
}

func serveHTTP(ctx context.Context, port int, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	return nil
}
