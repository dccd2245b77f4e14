package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/wbgt/internal/api"
	"example.com/wbgt/internal/auth"
	"example.com/wbgt/internal/broadcast"
	"example.com/wbgt/internal/cache"
	"example.com/wbgt/internal/clock"
	"example.com/wbgt/internal/config"
	"example.com/wbgt/internal/consumer"
	"example.com/wbgt/internal/cutoff"
	"example.com/wbgt/internal/domain"
	"example.com/wbgt/internal/outbox"
	"example.com/wbgt/internal/persistence/memory"
	"example.com/wbgt/internal/persistence/postgres"
	"example.com/wbgt/internal/sweeper"
	httptransport "example.com/wbgt/internal/transport/http"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk, err := clock.NewCivil(cfg.Timezone)
	if err != nil {
		fatal(logger, "invalid timezone", err)
	}

	router := outbox.Router{Topic: cfg.BroadcastTopic}
	var (
		store  domain.Store
		source outbox.Source
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			fatal(logger, "failed to connect to postgres", err)
		}
		defer pool.Close()

		pgSource := outbox.NewPostgresSource(pool)
		if released, err := pgSource.ReleaseStale(ctx, "5 minutes"); err != nil {
			logger.Warn("release stale outbox claims", slog.Any("error", err))
		} else if released > 0 {
			logger.Info("released stale outbox claims", slog.Int64("rows", released))
		}
		store = postgres.NewRepository(pool, router)
		source = pgSource
	case config.BackendMemory:
		memStore := memory.NewStore(router)
		store = memStore
		source = memStore
	default:
		fatal(logger, "unknown store backend", errors.New(cfg.StoreBackend))
	}

	reads := cache.NewTTL[domain.Participant](cfg.ReadCacheTTL)
	service := domain.NewService(store, clk, cutoff.NewRegistry(),
		domain.WithLogger(logger.With(slog.String("component", "engine"))),
		domain.WithInvalidator(reads),
		domain.WithMandatoryRest(cfg.MandatoryRest),
		domain.WithSupervisorJoinCode(cfg.SupervisorJoinCode),
	)

	hub := broadcast.NewHub(broadcast.WithLogger(logger.With(slog.String("component", "broadcast"))))
	relay := consumer.NewBroadcastHandler(hub)

	var (
		writer outbox.Writer
		wg     sync.WaitGroup
	)
	if cfg.Brokerless() {
		logger.Info("no kafka brokers configured, broadcasting in-process")
		writer = consumer.NewLoopback(relay)
	} else {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		writer = producer

		// Every instance reads the whole topic so its own subscribers see
		// every conduct's events.
		groupID := cfg.ConsumerGroupID + "-" + uuid.NewString()
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.KafkaBrokers,
			GroupID:        groupID,
			Topic:          cfg.BroadcastTopic,
			StartOffset:    kafka.LastOffset,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        250 * time.Millisecond,
			CommitInterval: time.Second,
		})
		proc := consumer.NewProcessor(reader, relay, consumer.WithLogger(logger.With(slog.String("component", "relay"))))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()
			logger.Info("broadcast relay started", slog.String("topic", cfg.BroadcastTopic), slog.String("group", groupID))
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("broadcast relay stopped", slog.Any("error", err))
			}
		}()
	}

	dispatchOpts := []outbox.Option{outbox.WithLogger(logger.With(slog.String("component", "outbox")))}
	if cfg.SchemaRegistryURL != "" {
		dispatchOpts = append(dispatchOpts, outbox.WithSchemaRegistry(outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)))
	}
	dispatcher := outbox.NewDispatcher(source, writer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, dispatchOpts...)
	if err := dispatcher.WarmSchemas(ctx, cfg.BroadcastTopic); err != nil {
		logger.Warn("schema registry warm-up incomplete", slog.Any("error", err))
	}
	go dispatcher.Start(ctx)

	sweep := sweeper.New(service,
		sweeper.WithLogger(logger.With(slog.String("component", "sweeper"))),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithConductSweepEvery(cfg.InactivitySweepEvery),
		sweeper.WithInactivityThreshold(cfg.InactivityThreshold),
	)
	go sweep.Start(ctx)

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	handler := api.NewHandler(service, authCfg,
		api.WithLogger(logger.With(slog.String("component", "api"))),
		api.WithHub(hub),
		api.WithReadCache(reads),
		api.WithTokenTTL(cfg.TokenTTL),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(auth.NewMiddleware(authCfg).Wrap(mux),
		httptransport.CORS(cfg.CORSOrigin),
		httptransport.AccessLog(logger.With(slog.String("component", "http"))),
		httptransport.Recover(logger),
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("wbgt api listening", slog.String("address", cfg.HTTPAddress), slog.String("backend", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server error", err)
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}

	sweep.Wait()
	dispatcher.Wait()
	wg.Wait()
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
