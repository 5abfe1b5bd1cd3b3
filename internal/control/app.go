package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/regbridge/subtrack/internal/api"
	"github.com/regbridge/subtrack/internal/classify"
	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/core/domain"
	"github.com/regbridge/subtrack/internal/core/events"
	"github.com/regbridge/subtrack/internal/delivery"
	"github.com/regbridge/subtrack/internal/dispatch/callback"
	"github.com/regbridge/subtrack/internal/dispatch/notify"
	redisclient "github.com/regbridge/subtrack/internal/infra/redis"
	"github.com/regbridge/subtrack/internal/infra/storage"
	"github.com/regbridge/subtrack/internal/infra/storage/memory"
	"github.com/regbridge/subtrack/internal/infra/storage/postgres"
	"github.com/regbridge/subtrack/internal/monitor"
	"github.com/regbridge/subtrack/internal/process"
	"github.com/regbridge/subtrack/internal/registry"
	"github.com/regbridge/subtrack/migrations"
)

// Config holds the application configuration.
type Config struct {
	Port          int
	Database      postgres.Config
	Redis         redisclient.Config
	Registry      config.RegistryConfig
	Delivery      config.DeliveryConfig
	Notifications config.NotificationsConfig
	RulesDir      string
}

// App is the main application struct that owns the service lifecycle.
type App struct {
	cfg Config

	registry *registry.Registry
	bus      *events.Bus
	engine   *delivery.Engine
	monitor  *monitor.Monitor
	server   *api.Server

	callbacks     *callback.Dispatcher
	notifications *notify.Dispatcher

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewApp creates the application with all dependencies initialized.
func NewApp(cfg Config) (*App, error) {
	ctx := context.Background()

	// 1. Storage
	var (
		subRepo       storage.SubmissionRepository
		deliveryRepo  storage.DeliveryRepository
		endpointRepo  storage.EndpointRepository
		recipientRepo storage.RecipientRepository
		db            *postgres.DB
	)

	if cfg.Database.URL != "" {
		// Transient connect failures at boot (database still coming up)
		// are retried with exponential backoff.
		backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var err error
			db, err = postgres.NewDB(ctx, cfg.Database)
			if err != nil {
				slog.Warn("Database not ready, retrying", "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		goose.SetBaseFS(migrations.FS)
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "."); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		subRepo = postgres.NewSubmissionRepo(db)
		deliveryRepo = postgres.NewDeliveryRepo(db)
		endpointRepo = postgres.NewEndpointRepo(db)
		recipientRepo = postgres.NewRecipientRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		subRepo = memory.NewSubmissionRepo(store)
		deliveryRepo = memory.NewDeliveryRepo(store)
		endpointRepo = memory.NewEndpointRepo(store)
		recipientRepo = memory.NewRecipientRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Redis (dead letters + notification frequency caps)
	var (
		redisClient *redisclient.Client
		deadStore   *redisclient.DeadLetterStore
		freqCounter *redisclient.FrequencyCounter
	)
	if cfg.Redis.URL != "" {
		backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var err error
			redisClient, err = redisclient.NewClient(cfg.Redis)
			if err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			slog.Warn("Failed to connect to Redis, dead letters and frequency caps disabled", "error", err)
			redisClient = nil
		} else {
			deadStore = redisclient.NewDeadLetterStore(redisClient)
			freqCounter = redisclient.NewFrequencyCounter(redisClient)
		}
	}

	// 3. Classification engine (built-in families + optional rule files)
	classifier := classify.NewEngine()
	if cfg.RulesDir != "" {
		rules, err := classify.LoadDir(cfg.RulesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load classification rules: %w", err)
		}
		if err := classifier.AddRules(rules); err != nil {
			return nil, fmt.Errorf("failed to install classification rules: %w", err)
		}
		slog.Info("Loaded classification rules", "dir", cfg.RulesDir, "count", len(rules))
	}

	// 4. Delivery engine with the shared HTTP transport
	var deadSink delivery.DeadLetterSink
	if deadStore != nil {
		deadSink = deadStore
	}
	engine := delivery.NewEngine(deliveryRepo, deadSink, cfg.Delivery)
	httpSender := callback.NewHTTPSender(&http.Client{Timeout: cfg.Delivery.RequestTimeout})
	engine.RegisterSender(domain.DeliveryKindWebhook, httpSender)
	engine.RegisterSender(domain.DeliveryKindNotification, httpSender)

	// 5. Registry, processors, dispatchers
	bus := events.NewBus()
	reg := registry.NewRegistry(subRepo, bus, cfg.Registry)

	errProc := process.NewErrorProcessor(reg, classifier)
	ackProc := process.NewAckProcessor(reg, classifier, errProc)

	callbacks := callback.NewDispatcher(endpointRepo, engine, cfg.Delivery.UserAgent)

	var limiter notify.FrequencyLimiter
	if freqCounter != nil {
		limiter = freqCounter
	}
	notifications := notify.NewDispatcher(recipientRepo, engine, cfg.Notifications, limiter)

	mon := monitor.NewMonitor(reg, engine, cfg.Registry)

	// 6. REST API
	handlers := &api.Handlers{
		Registry:    reg,
		Submissions: subRepo,
		Endpoints:   endpointRepo,
		Recipients:  recipientRepo,
		Engine:      engine,
		AckProc:     ackProc,
		ErrProc:     errProc,
	}
	if deadStore != nil {
		handlers.DeadLetters = deadStore
	}
	if db != nil {
		handlers.DB = db
	}
	if redisClient != nil {
		handlers.RedisPing = redisClient.Ping
	}
	server := api.NewServer(handlers, cfg.Port)

	return &App{
		cfg:           cfg,
		registry:      reg,
		bus:           bus,
		engine:        engine,
		monitor:       mon,
		server:        server,
		callbacks:     callbacks,
		notifications: notifications,
		db:            db,
		redisClient:   redisClient,
		log:           slog.Default(),
	}, nil
}

// Start recovers persisted state and launches all background loops. It must
// complete before the process is considered ready.
func (a *App) Start(ctx context.Context) error {
	// Crash recovery first: rebuild the hot set and re-arm in-flight
	// deliveries before any loop can hand out work.
	if err := a.monitor.Recover(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	a.engine.Start(ctx)
	a.monitor.Start(ctx)

	buffer := a.cfg.Registry.EventBufferSize
	webhookEvents := a.bus.Subscribe("webhooks", buffer)
	notifyEvents := a.bus.Subscribe("notifications", buffer)
	go a.callbacks.Run(ctx, webhookEvents)
	go a.notifications.Run(ctx, notifyEvents)

	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("API server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the application down: stop accepting requests, close the event
// bus, then drain in-flight deliveries within the ctx deadline.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping subtrack...")

	if err := a.server.Stop(ctx); err != nil {
		a.log.Warn("Failed to stop API server", "error", err)
	}

	a.bus.Close()

	if err := a.engine.Wait(ctx); err != nil {
		a.log.Warn("Timed out draining deliveries", "error", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	return nil
}
