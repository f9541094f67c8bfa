// Package main runs the presale ledger service:
// - HTTP API for contributions, claims, refunds and authority operations
// - WebSocket event stream and optional RabbitMQ fan-out
// - scheduled finalization of sales past their end time
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"presale-ledger/internal/api"
	"presale-ledger/internal/config"
	"presale-ledger/internal/custody"
	"presale-ledger/internal/events"
	"presale-ledger/internal/observability"
	"presale-ledger/internal/sale"
	"presale-ledger/internal/storage"
	chstore "presale-ledger/internal/storage/clickhouse"
	"presale-ledger/internal/storage/memory"
	"presale-ledger/internal/storage/migrations"
	pgstore "presale-ledger/internal/storage/postgres"
	redisstore "presale-ledger/internal/storage/redis"
	"presale-ledger/internal/valuation"
)

const shutdownTimeout = 30 * time.Second

// stores holds the storage backends selected by configuration.
type stores struct {
	sales    storage.SaleStore
	eventLog storage.EventStore
	nonces   storage.NonceStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure logger")
	}
	log := logger.WithField("component", "server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create stores")
	}
	defer cleanup()

	hub := events.NewHub(logger)

	sinks := []events.Sink{events.NewStoreSink(st.eventLog), hub}
	if cfg.AMQP.URL != "" {
		publisher, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect event publisher")
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		log.WithField("queue", cfg.AMQP.Queue).Info("Publishing events to RabbitMQ")
	}

	// The in-process bank stands in for the chain's transfer primitives.
	bank := custody.NewBank()
	cust, err := custody.New(custody.Options{
		Native:    bank,
		Tokens:    bank,
		Balances:  bank,
		ProgramID: cfg.Program(),
		Logger:    logger,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create custody")
	}

	var feed valuation.FeedSource
	if cfg.PriceFeed.URL != "" {
		feed = valuation.NewHTTPFeed(cfg.PriceFeed.URL, cfg.PriceFeed.Timeout)
		log.WithField("url", cfg.PriceFeed.URL).Info("Pricing native payments from feed")
	} else {
		log.Warn("PRICE_FEED_URL is not set, native payments require an attestation")
	}

	svc, err := sale.NewService(sale.Options{
		Store:    st.sales,
		Custody:  cust,
		Events:   events.Multi(sinks...),
		EventLog: st.eventLog,
		Nonces:   st.nonces,
		NonceTTL: cfg.NonceTTL,
		Feed:     feed,
		Logger:   logger,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create sale service")
	}

	if err := bootstrapSale(ctx, cfg, svc, log); err != nil {
		log.WithError(err).Fatal("Failed to bootstrap sale")
	}

	scheduler, err := sale.NewScheduler(svc, cfg.FinalizeSchedule, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to create scheduler")
	}
	scheduler.Start()

	router, err := api.NewRouter(api.Options{
		Service:    svc,
		Hub:        hub,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to create router")
	}
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is not set, authority routes are disabled")
	}

	apiServer := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	metricsServer := newMetricsServer(cfg.MetricsAddr)

	errCh := make(chan error, 2)
	go serve(apiServer, "API", log, errCh)
	go serve(metricsServer, "metrics", log, errCh)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Received signal, initiating graceful shutdown")
	case err := <-errCh:
		log.WithError(err).Error("HTTP server failed, shutting down")
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	// Wait for second signal for immediate shutdown
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Warn("Received second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-shutdownCtx.Done():
		}
	}()

	scheduler.Stop(shutdownCtx)
	hub.Close()
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).WithField("addr", srv.Addr).Warn("Server shutdown incomplete")
		}
	}

	log.Info("Shutdown complete")
}

// createStores creates the storage backends and returns a cleanup function.
func createStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*stores, func(), error) {
	if cfg.UseMemory {
		log.Info("Using in-memory storage")
		return &stores{
			sales:    memory.NewSaleStore(),
			eventLog: memory.NewEventStore(),
			nonces:   memory.NewNonceStore(),
		}, func() {}, nil
	}

	log.Info("Running PostgreSQL migrations")
	if err := migrations.RunPostgresMigrations(cfg.PostgresDSN); err != nil {
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	log.Info("Running ClickHouse migrations")
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	cleanup := func() {
		pool.Close()
		_ = chConn.Close()
	}

	st := &stores{
		sales:    pgstore.NewSaleStore(pool),
		eventLog: chstore.NewEventStore(chConn),
		nonces:   memory.NewNonceStore(),
	}

	if cfg.Redis.Addr != "" {
		client, err := redisstore.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		st.nonces = redisstore.NewNonceStore(client)
		prev := cleanup
		cleanup = func() {
			_ = client.Close()
			prev()
		}
	} else {
		log.Warn("REDIS_ADDR is not set, attestation nonces are tracked in memory")
	}

	return st, cleanup, nil
}

// bootstrapSale creates the sale described by SALE_* variables, if any.
// An existing sale with the same id is left untouched.
func bootstrapSale(ctx context.Context, cfg *config.Config, svc *sale.Service, log logrus.FieldLogger) error {
	saleCfg, err := cfg.BootstrapSale()
	if err != nil || saleCfg == nil {
		return err
	}
	_, err = svc.CreateSale(ctx, *saleCfg)
	switch {
	case err == nil:
		log.WithField("sale", saleCfg.SaleID).Info("Created sale from environment")
	case errors.Is(err, storage.ErrDuplicateKey):
		log.WithField("sale", saleCfg.SaleID).Info("Sale already exists")
	default:
		return err
	}
	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	return &http.Server{Addr: addr, Handler: mux}
}

func serve(srv *http.Server, name string, log logrus.FieldLogger, errCh chan<- error) {
	log.WithField("addr", srv.Addr).Infof("Starting %s server", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}
