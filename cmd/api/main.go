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

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/backoffice"
	"github.com/safar/go-marketplace/internal/checkout"
	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/events"
	"github.com/safar/go-marketplace/internal/httpapi"
	"github.com/safar/go-marketplace/internal/inventory"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/orders"
	"github.com/safar/go-marketplace/internal/payment"
	"github.com/safar/go-marketplace/internal/payout"
	"github.com/safar/go-marketplace/internal/settlement"
	"github.com/safar/go-marketplace/internal/store"
)

const shutdownTimeout = 10 * time.Second

func setupLogger(cfg config.LogConfig) {
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("level", cfg.Level).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("server stopped with error")
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to database")

	strategy, err := inventory.ParseStrategy(cfg.Engine.StockStrategy)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	guard := inventory.NewGuard(strategy, cfg.Engine.StockMaxRetries, m)
	settler := settlement.NewService(db, m, cfg.Engine.TxMaxRetries)

	router := httpapi.NewRouter(httpapi.Services{
		Directory:  store.NewDirectory(db),
		Checkout:   checkout.NewService(db, guard, m, cfg.Engine.TxMaxRetries),
		Orders:     orders.NewService(db, guard, m, cfg.Engine.TxMaxRetries),
		Settlement: settler,
		Payouts:    payout.NewService(db, m, cfg.Engine.Currency, cfg.Engine.TxMaxRetries),
		Backoffice: backoffice.NewService(db, cfg.Engine.DefaultCommissionRate),
		Health:     db,
		Payments: payment.NewRecorder(db, payment.NewSimulatedGateway(), settler, m, payment.Options{
			Currency:     cfg.Engine.Currency,
			AutoApprove:  cfg.Engine.AutoApprovePayments,
			TxMaxRetries: cfg.Engine.TxMaxRetries,
		}),
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		defer producer.Close()

		worker := events.NewWorker(
			store.NewOutboxRepository(db),
			events.NewTopicPublisher(producer, cfg.Kafka.Topic),
			events.WithMetrics(m),
			events.WithPollInterval(cfg.Outbox.PollInterval),
			events.WithBatchSize(cfg.Outbox.BatchSize),
		)
		go worker.Run(ctx)
		log.WithFields(log.Fields{
			"brokers": cfg.Kafka.Brokers,
			"topic":   cfg.Kafka.Topic,
		}).Info("outbox relay started")
	} else {
		log.Warn("KAFKA_BROKERS is empty, outbox events stay in the database")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown with error")
	}
	return ctx.Err()
}
