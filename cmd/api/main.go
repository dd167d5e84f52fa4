package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/campus-helpdesk/internal/api/http"
	"github.com/spec-kit/campus-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/notify"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/persistence"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	"github.com/spec-kit/campus-helpdesk/internal/service"
	"github.com/spec-kit/campus-helpdesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	clock := clockwork.NewRealClock()
	store := repository.NewStore(pg.PoolHandle())

	registry := notify.NewRegistry(cfg.Escalation.DefaultChannel)
	registry.Register(notify.NewWebhookSender(cfg.Notify.WebhookURL, logger))
	registry.Register(notify.NewEmailSender(cfg.Notify.SMTPAddr, cfg.Notify.EmailFrom, logger))

	lifecycleService := service.NewLifecycleService(store, clock, cfg.SLA, logger)
	tatService := service.NewTATService(store, clock, cfg.SLA, logger)
	escalationService := service.NewEscalationService(store, clock, cfg.Escalation, logger)
	dispatcher := service.NewOutboxDispatcher(store, registry, clock, cfg.Outbox, logger)

	escalationRunner := worker.NewRunner("escalation-scanner",
		cfg.Escalation.Interval(), cfg.Escalation.RunTimeout(),
		worker.NewMutex(redis.Client, "helpdesk:lock:escalation"),
		func(ctx context.Context) error {
			_, err := escalationService.RunScan(ctx)
			return err
		},
		logger)
	outboxRunner := worker.NewRunner("outbox-dispatcher",
		cfg.Outbox.Interval(), cfg.Outbox.RunTimeout(),
		worker.NewMutex(redis.Client, "helpdesk:lock:outbox"),
		func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			if !ok {
				deadline = clock.Now().Add(cfg.Outbox.RunTimeout())
			}
			_, err := dispatcher.Flush(ctx, cfg.Outbox.BatchSize, deadline)
			return err
		},
		logger)
	escalationRunner.Start(ctx)
	outboxRunner.Start(ctx)
	defer outboxRunner.Stop()
	defer escalationRunner.Stop()

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(pg, redis),
		Tickets:        handlers.NewTicketsHandler(lifecycleService, tatService),
		Ops:            handlers.NewOpsHandler(escalationService, dispatcher, clock, cfg.Outbox),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
