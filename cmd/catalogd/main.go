package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/command"
	"github.com/eshop/catalog/internal/config"
	"github.com/eshop/catalog/internal/outbox"
	"github.com/eshop/catalog/internal/storage/sqlstore"
	"github.com/eshop/catalog/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.Logger.Level, Encoding: cfg.Logger.Encoding})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("Starting catalog service",
		zap.String("app", cfg.AppName),
		zap.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", cfg.Database.DSN)
	if err != nil {
		zlog.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		zlog.Fatal("Failed to ping database", zap.Error(err))
	}

	store := sqlstore.NewSQLStore(db, zlog)
	if err := store.EnsureTables(ctx); err != nil {
		zlog.Fatal("Failed to ensure tables", zap.Error(err))
	}

	// Command side: every Handle() call runs in a single transaction managed
	// here, covering the aggregate write, the outbox insert and the
	// idempotency record.
	trManager := manager.Must(trmsql.NewDefaultFactory(db))
	dispatcher := command.NewDispatcher(store, trManager, zlog)
	command.NewItemHandlers(store, zlog).RegisterAll(dispatcher)
	zlog.Info("Command dispatcher ready", zap.Strings("commands", dispatcher.RegisteredTypes()))

	publisher := newPublisher(cfg, zlog)
	defer publisher.Close()

	metrics := outbox.NewOpenTelemetryMetricsCollector()

	relay := outbox.NewRelay(store, publisher, zlog,
		outbox.WithRelayBatchSize(cfg.Relay.BatchSize),
		outbox.WithRelayMetrics(metrics),
		outbox.WithRelayBackoffStrategy(&outbox.ExponentialBackoff{
			BaseDelay:    cfg.Relay.BackoffBase,
			MaxDelay:     cfg.Relay.BackoffMax,
			JitterFactor: cfg.Relay.JitterFactor,
		}),
	)

	workers := []outbox.Worker{
		outbox.NewBaseWorker("outbox_relay", cfg.Relay.Interval, zlog, relay.ProcessEvents),
	}
	if cfg.Retention.Enabled {
		retention := outbox.NewRetentionService(store, zlog, metrics, cfg.Retention.KeepPublished)
		workers = append(workers,
			outbox.NewBaseWorker("outbox_retention", cfg.Retention.Interval, zlog, retention.Sweep))
	}

	runner := outbox.NewRunner(zlog, workers...)
	runner.Start(ctx)

	zlog.Info("Catalog service shut down")
}

// newPublisher returns the Kafka publisher, or a no-op one when no brokers
// are configured so the service can run locally without a broker.
func newPublisher(cfg *config.Config, zlog *zap.Logger) outbox.Publisher {
	if cfg.Kafka.BootstrapServers == "" {
		zlog.Warn("No Kafka brokers configured, events will not leave the outbox")
		return outbox.NewNopPublisher()
	}

	publisher, err := outbox.NewKafkaPublisher(zlog,
		outbox.WithKafkaProducerProps(kafka.ConfigMap{
			"bootstrap.servers": cfg.Kafka.BootstrapServers,
		}),
	)
	if err != nil {
		zlog.Fatal("Failed to create Kafka publisher", zap.Error(err))
	}
	return publisher
}
