package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oms-gateway/internal/api"
	"oms-gateway/internal/bus"
	"oms-gateway/internal/credstore"
	"oms-gateway/internal/events"
	"oms-gateway/internal/gateway"
	"oms-gateway/internal/monitor"
	"oms-gateway/internal/router"
	"oms-gateway/internal/session"
	"oms-gateway/internal/stream"
	"oms-gateway/pkg/config"
	"oms-gateway/pkg/crypto"
	"oms-gateway/pkg/db"
	"oms-gateway/pkg/logging"
	"oms-gateway/pkg/nodeid"
	"oms-gateway/pkg/venue/kite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "oms-gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	node := nodeid.Get()
	logger = logger.With(zap.String("node", node))
	logger.Info("starting",
		zap.String("bus", cfg.BusDriver),
		zap.String("credential_store", cfg.CredentialStore),
		zap.Bool("dry_run", cfg.DryRun))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.New(reg)

	// Credential store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close credential store", zap.Error(err))
		}
	}()
	if cfg.TenantsFile != "" {
		n, err := credstore.Seed(ctx, store, cfg.TenantsFile)
		if err != nil {
			return fmt.Errorf("seed tenants: %w", err)
		}
		logger.Info("tenants seeded", zap.Int("count", n), zap.String("file", cfg.TenantsFile))
	}

	// Bus
	b, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("close bus", zap.Error(err))
		}
	}()

	hub := events.NewHub()
	pub := events.NewPublisher(b, hub)

	// Sessions
	venues := gateway.DefaultVenues(kite.Config{
		APIURL:    cfg.KiteAPIURL,
		LoginURL:  cfg.KiteLoginURL,
		WSURL:     cfg.KiteWSURL,
		RateLimit: cfg.VenueRateLimit,
		Burst:     cfg.VenueRateBurst,
		Logger:    logger.Named("kite"),
	})
	if cfg.DryRun {
		logger.Warn("dry run: every venue is simulated in memory", zap.Strings("venues", cfg.DryRunVenues))
		venues = gateway.DryRunVenues(cfg.DryRunVenues...)
	}
	registry := gateway.NewRegistry(venues, session.Options{
		Publisher: pub,
		Sink:      store,
		Stream: stream.Config{
			Node:           node,
			EventChannel:   cfg.ResponseChannel,
			ReconnectDelay: cfg.ReconnectDelay,
		},
		RawChannel: cfg.RawChannel,
		Logger:     logger,
		Metrics:    metrics,
	})
	defer registry.Close()
	preload(ctx, store, registry, logger)

	rt := router.New(router.Config{
		RequestChannel:  cfg.RequestChannel,
		ResponseChannel: cfg.ResponseChannel,
	}, b, pub, registry, store, logger, metrics)

	server := api.NewServer(registry, hub, api.Options{
		JWTSecret:         cfg.JWTSecret,
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
		Ready:             rt.Ready,
		Gatherer:          reg,
		Logger:            logger,
		Metrics:           metrics,
	})
	health := api.NewHealth(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, cfg.HTTPAddr) })
	g.Go(func() error { return health.ListenAndServe(gctx, cfg.GRPCAddr) })
	g.Go(func() error {
		health.Track(gctx, rt.Ready, time.Second)
		return nil
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("stopped with error", zap.Error(runErr))
	}
	logger.Info("shutting down; draining in-flight commands")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Wait(drainCtx); err != nil {
		logger.Warn("in-flight commands did not finish", zap.Error(err))
	}
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (credstore.Store, error) {
	switch cfg.CredentialStore {
	case "redis":
		client, err := bus.NewRedisClient(ctx, bus.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
		return credstore.NewRedis(client, logger), nil
	case "sqlite", "":
		keys, err := crypto.LoadKeyring()
		if errors.Is(err, crypto.ErrNoKeys) {
			keys = nil
		} else if err != nil {
			return nil, fmt.Errorf("load encryption keys: %w", err)
		}
		database, err := db.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
		}
		return credstore.NewSQLite(database, keys, logger), nil
	default:
		return nil, fmt.Errorf("unknown CREDENTIAL_STORE %q", cfg.CredentialStore)
	}
}

func openBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (bus.Bus, error) {
	switch cfg.BusDriver {
	case "redis", "":
		client, err := bus.NewRedisClient(ctx, bus.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, fmt.Errorf("bus: %w", err)
		}
		return bus.NewRedis(client, logger), nil
	case "kafka":
		return bus.NewKafka(bus.KafkaConfig{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID}, logger), nil
	case "memory":
		logger.Warn("memory bus: commands are only accepted from inside this process")
		return bus.NewMemory(1024), nil
	default:
		return nil, fmt.Errorf("unknown BUS_DRIVER %q", cfg.BusDriver)
	}
}

// preload creates a session for every stored tenant so stored access tokens
// resume streaming without waiting for the first command.
func preload(ctx context.Context, store credstore.Store, registry *gateway.Registry, logger *zap.Logger) {
	tenants, err := store.List(ctx)
	if err != nil {
		logger.Error("list stored tenants", zap.Error(err))
		return
	}
	for _, t := range tenants {
		creds := t.Credentials
		if _, err := registry.GetOrCreate(t.Key, &creds); err != nil {
			logger.Warn("preload tenant", zap.String("tenant", t.Key.String()), zap.Error(err))
		}
	}
	logger.Info("sessions preloaded", zap.Int("count", registry.Len()))
}
