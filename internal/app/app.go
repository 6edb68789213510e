// Package app assembles the challenge orchestrator from configuration: stores, the
// messaging client, the notification dispatcher, the approval provider and telemetry.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"stepup-challenge/internal/approval"
	approvalrepo "stepup-challenge/internal/approval/repository"
	"stepup-challenge/internal/challenge/service"
	"stepup-challenge/internal/clock"
	"stepup-challenge/internal/config"
	"stepup-challenge/internal/db"
	"stepup-challenge/internal/db/migrate"
	"stepup-challenge/internal/ledger"
	ledgerrepo "stepup-challenge/internal/ledger/repository"
	"stepup-challenge/internal/notify"
	"stepup-challenge/internal/telegram"
	"stepup-challenge/internal/telemetry"
	otelsetup "stepup-challenge/internal/telemetry/otel"
	"stepup-challenge/internal/telemetry/producer"
)

// App is the assembled orchestrator. Close releases everything New opened.
type App struct {
	Config     *config.Config
	Manager    *service.Manager
	Dispatcher *notify.Dispatcher
	// Local is set when no messaging service is configured; decisions are injected through it.
	Local *approval.Local
	// DB is nil for the memory store.
	DB        *sql.DB
	Emitter   telemetry.EventEmitter
	Providers *otelsetup.Providers

	producer producer.Producer
}

// New builds the App. clk may be nil for the real clock.
func New(ctx context.Context, cfg *config.Config, clk clock.Clock) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTelServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("app: otel: %w", err)
	}
	a.Providers = providers
	providers.SetGlobal()

	metrics, err := otelsetup.NewMetrics(providers.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider), metrics}
	kp, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("app: kafka: %w", err)
	}
	if kp != nil {
		a.producer = kp
		emitters = append(emitters, kp)
		log.Printf("app: emitting challenge events to kafka topic %s", kp.Topic())
	}
	a.Emitter = telemetry.Multi(emitters...)

	conn, records, cursors, err := OpenStores(cfg)
	if err != nil {
		return nil, err
	}
	a.DB = conn

	var sink notify.Sink = notify.LogSink{}
	var client *telegram.Client
	if cfg.BotConfigured() {
		client = telegram.New(cfg.BotAPIBaseURL, cfg.BotToken, cfg.BotHTTPTimeout)
		sink = notify.NewTelegramSink(client, cfg.BotChatID)
	}
	a.Dispatcher = notify.NewDispatcher(sink, a.Emitter, cfg.NotifyQueueSize)

	var approvals approval.Provider
	if client != nil {
		approvals = approval.NewBot(client, a.Dispatcher, cursors, cfg.ApprovalChannelName(), a.Emitter)
	} else {
		a.Local = approval.NewLocal(a.Dispatcher)
		approvals = a.Local
		log.Printf("app: BOT_TOKEN not set; notifications go to the log and approvals are local")
	}

	keyFunc := service.KeyByLastFour
	if cfg.LedgerKeyMode == config.KeyModeToken {
		keyFunc = service.KeyByToken
	}
	m, err := service.NewManager(service.Deps{
		Clock:     clk,
		Ledger:    ledger.New(records),
		Notifier:  a.Dispatcher,
		Approvals: approvals,
		Emitter:   a.Emitter,
		KeyFunc:   keyFunc,
		Timings: service.Timings{
			PreloadDelay:   cfg.PreloadDelay,
			ResendCooldown: cfg.ResendCooldown,
			PollInterval:   cfg.ApprovalPollInterval,
		},
	})
	if err != nil {
		return nil, err
	}
	a.Manager = m
	ok = true
	return a, nil
}

// OpenStores opens the attempt record and cursor stores for cfg.StoreDriver, running
// migrations for SQL drivers. The returned *sql.DB is nil for the memory store.
func OpenStores(cfg *config.Config) (*sql.DB, ledgerrepo.Repository, approvalrepo.CursorStore, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if err := runMigrations(db.SQLiteMigrateURL(cfg.SQLitePath)); err != nil {
			return nil, nil, nil, err
		}
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("app: sqlite: %w", err)
		}
		return conn, ledgerrepo.NewSQLiteRepository(conn), approvalrepo.NewSQLiteStore(conn), nil
	case config.StorePostgres:
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, nil, err
		}
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("app: postgres: %w", err)
		}
		return conn, ledgerrepo.NewPostgresRepository(conn), approvalrepo.NewPostgresStore(conn), nil
	default:
		return nil, ledgerrepo.NewMemoryRepository(), approvalrepo.NewMemoryStore(), nil
	}
}

func runMigrations(dsn string) error {
	if err := migrate.Run(dsn, "up"); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("app: migrate: %w", err)
	}
	return nil
}

// Close stops the active session, drains notifications and shuts down telemetry and the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Manager != nil {
		a.Manager.Shutdown()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if a.Providers != nil {
		if err := a.Providers.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("otel: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db: %w", err))
		}
	}
	return errors.Join(errs...)
}
