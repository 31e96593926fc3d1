package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safar/rewear-store/internal/auth"
	"github.com/safar/rewear-store/internal/badges"
	"github.com/safar/rewear-store/internal/config"
	"github.com/safar/rewear-store/internal/database"
	"github.com/safar/rewear-store/internal/events"
	"github.com/safar/rewear-store/internal/httpx"
	"github.com/safar/rewear-store/internal/idempotency"
	"github.com/safar/rewear-store/internal/logging"
	"github.com/safar/rewear-store/internal/orders"
	"github.com/safar/rewear-store/internal/store"
)

const eventBuffer = 1024

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rewear-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := store.NewRepository(db, database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     cfg.Orders.TxMaxRetries,
		Timeout:        cfg.Orders.TxTimeout,
	})

	var (
		createdHooks []orders.CreatedHook
		statusHooks  []orders.StatusHook
	)
	if rules := badges.RulesFromConfig(cfg.Badges); len(rules) > 0 {
		createdHooks = append(createdHooks, badges.NewAwarder(repo, logger, rules...))
	}

	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(events.NewKafkaWriter(cfg.Kafka, logger), logger, eventBuffer)
		producer.Start()
		publisher := events.NewPublisher(producer, cfg.Kafka.ClientID)
		createdHooks = append(createdHooks, publisher)
		statusHooks = append(statusHooks, publisher)
		logger.Info("event publishing enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	svc := orders.NewService(repo, logger,
		orders.WithHookTimeout(cfg.Orders.HookTimeout),
		orders.WithCreatedHooks(createdHooks...),
		orders.WithStatusHooks(statusHooks...),
	)

	checks := []func(context.Context) error{repo.Ping}
	deps := httpx.Deps{
		Orders:         svc,
		Catalog:        repo,
		Profiles:       repo,
		Authenticate:   auth.NewAuthenticator(cfg.Auth.JWTSecret, repo, logger).Require,
		Logger:         logger,
		Production:     cfg.IsProduction(),
		RequestTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Redis.Addr != "" {
		rdb := idempotency.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		idem := idempotency.NewRedisStore(rdb, cfg.Redis.IdempotencyTTL)
		deps.Idempotency = idem
		checks = append(checks, idem.Ping)
		logger.Info("idempotency keys enabled", zap.String("redis", cfg.Redis.Addr))
	}
	deps.Ready = httpx.ReadyAll(checks...)

	srv := httpx.NewServer(cfg.Server, httpx.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		err = errors.Join(err, svc.Close(shutdownCtx))
		if producer != nil {
			// after the server stops no new events can be published
			err = errors.Join(err, producer.Close(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}
