package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xtrntr/rwaexchange/internal/api"
	"github.com/xtrntr/rwaexchange/internal/assets"
	"github.com/xtrntr/rwaexchange/internal/auth"
	"github.com/xtrntr/rwaexchange/internal/config"
	"github.com/xtrntr/rwaexchange/internal/db"
	"github.com/xtrntr/rwaexchange/internal/events"
	"github.com/xtrntr/rwaexchange/internal/exchange"
	"github.com/xtrntr/rwaexchange/internal/memstore"
	"github.com/xtrntr/rwaexchange/internal/metrics"
	"github.com/xtrntr/rwaexchange/internal/scheduler"
	"github.com/xtrntr/rwaexchange/internal/seed"
	"github.com/xtrntr/rwaexchange/internal/settlement"
	"github.com/xtrntr/rwaexchange/migrations"
)

const shutdownTimeout = 10 * time.Second

// backend is everything the server needs from a store
type backend interface {
	exchange.Store
	exchange.Ledger
	api.Store
	scheduler.Store
	auth.UserStore
	assets.Source
	seed.Target
}

// Main entry point: wires the store, coordinator, scheduler and HTTP server
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open store")
	}
	defer closeStore()

	m := metrics.New()
	authService := auth.NewAuthService(store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	if cfg.Store.Driver == config.StoreMemory {
		if _, err := seed.Run(ctx, store, authService, log); err != nil {
			log.WithError(err).Fatal("Failed to seed memory store")
		}
	}

	cache, closeCache := assetCache(ctx, cfg, log)
	defer closeCache()
	registry := assets.NewRegistry(store, cache, log)

	hub := events.NewHub(log, nil)
	sinks := []events.Sink{hub, events.NewLogSink(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.WithField("topic", cfg.Kafka.Topic).Info("Publishing events to Kafka")
	}
	dispatcher := events.NewDispatcher(sinks,
		events.WithBuffer(cfg.Kafka.EventBuffer),
		events.WithLogger(log),
		events.WithMetrics(m))

	var settler exchange.Settler = &settlement.Simulator{}
	if cfg.Settlement.URL != "" {
		settler = settlement.NewHTTPExecutor(cfg.Settlement.URL, cfg.Settlement.APIKey, cfg.Settlement.Timeout)
	} else {
		log.Warn("SETTLEMENT_URL not set, trades settle through the simulator")
	}

	ex := exchange.NewExchange(store, store, registry, settler, dispatcher,
		exchange.Config{FeeRate: cfg.Fees.Rate, SettlementTimeout: cfg.Settlement.Timeout},
		exchange.WithLogger(log),
		exchange.WithMetrics(m))

	sched := scheduler.New(store, ex, scheduler.Config{
		PendingInterval: cfg.Scheduler.PendingInterval,
		RestingInterval: cfg.Scheduler.RestingInterval,
		ExpiryInterval:  cfg.Scheduler.ExpiryInterval,
	}, log, m)

	handler := api.NewHandler(store, ex, authService, registry, cfg.Auth.OperatorToken, log)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           api.NewRouter(handler, api.RouterOptions{Events: hub, Metrics: m.Handler()}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
	log.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (backend, func(), error) {
	if cfg.Store.Driver == config.StoreMemory {
		log.Warn("Using the in-memory store, state is lost on restart")
		return memstore.New(), func() {}, nil
	}

	database, err := db.NewDB(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	scripts, err := migrations.Scripts()
	if err != nil {
		database.Close(ctx)
		return nil, nil, err
	}
	for _, script := range scripts {
		if err := database.Migrate(ctx, script); err != nil {
			database.Close(ctx)
			return nil, nil, err
		}
	}
	return database, func() { database.Close(context.Background()) }, nil
}

func assetCache(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (assets.Cache, func()) {
	if cfg.Redis.Addr == "" {
		return assets.NewMemoryCache(cfg.Redis.AssetTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable, asset lookups fall through to the store")
	}
	return assets.NewRedisCache(client, cfg.Redis.AssetTTL), func() { _ = client.Close() }
}
