package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/api"
	"github.com/souravs72/broadflix/internal/cache"
	"github.com/souravs72/broadflix/internal/capability"
	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/clickhouse"
	"github.com/souravs72/broadflix/internal/config"
	"github.com/souravs72/broadflix/internal/elasticsearch"
	"github.com/souravs72/broadflix/internal/engine"
	"github.com/souravs72/broadflix/internal/firestore"
	"github.com/souravs72/broadflix/internal/indexing"
	"github.com/souravs72/broadflix/internal/kafka"
	"github.com/souravs72/broadflix/internal/observability"
	"github.com/souravs72/broadflix/internal/orchestrator"
	"github.com/souravs72/broadflix/internal/refresh"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file exported before the config is expanded")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting catalog service",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("source", cfg.Catalog.Source),
	)

	tracerShutdown := observability.InitTracer(cfg.Observability.ServiceName, cfg.Observability.TraceSampleRatio)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog store, seeded so the service can answer before the first
	// remote refresh completes.
	seed, err := catalog.LoadSeed(cfg.Catalog.SeedFile)
	if err != nil {
		return fmt.Errorf("loading seed catalog: %w", err)
	}
	store, err := catalog.NewStore(seed)
	if err != nil {
		return fmt.Errorf("building catalog store: %w", err)
	}
	observability.SnapshotRecords.Set(float64(store.Len()))
	observability.SnapshotVersion.Set(float64(store.Version()))
	logger.Info("catalog store seeded", zap.Int("records", store.Len()))

	vocab, err := cfg.Vocabulary()
	if err != nil {
		return fmt.Errorf("building facet vocabulary: %w", err)
	}
	eng := engine.New(vocab, engine.WithParallelism(cfg.Catalog.Parallelism, cfg.Catalog.ParallelThreshold))

	pageCache, err := cache.NewPageCache(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("initializing redis: %w", err)
	}
	defer pageCache.Close()

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.Register("catalog", store)
	if pageCache.Enabled() {
		healthHandler.Register("redis", pageCache)
	}

	var chClient *clickhouse.Client
	if cfg.ClickHouse.Enabled {
		chClient, err = clickhouse.NewClient(cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("clickhouse initialization failed, analytics will be unavailable", zap.Error(err))
		} else {
			defer chClient.Close()
			if err := chClient.EnsureTables(ctx); err != nil {
				logger.Warn("clickhouse table creation failed", zap.Error(err))
			}
			healthHandler.Register("clickhouse", chClient)
			logger.Info("clickhouse client initialized")
		}
	}

	var esSource *elasticsearch.Source
	if cfg.Catalog.Source == config.SourceElasticsearch || cfg.Elasticsearch.Mirror {
		esSource, err = elasticsearch.NewSource(cfg.Elasticsearch, cfg.Search, logger)
		if err != nil {
			if cfg.Catalog.Source == config.SourceElasticsearch {
				return fmt.Errorf("initializing elasticsearch: %w", err)
			}
			logger.Warn("elasticsearch initialization failed, mirror disabled", zap.Error(err))
		} else {
			defer esSource.Close()
			healthHandler.Register("elasticsearch", esSource)
		}
	}

	var fsSource *firestore.Source
	if cfg.Catalog.Source == config.SourceFirestore {
		fsSource, err = firestore.NewSource(ctx, cfg.Firestore, logger)
		if err != nil {
			return fmt.Errorf("initializing firestore: %w", err)
		}
		defer fsSource.Close()
		healthHandler.Register("firestore", fsSource)
	}

	// Analytics sinks. Interfaces stay nil unless the client exists.
	var (
		analyticsWriter observability.AnalyticsWriter
		eventRecorder   indexing.EventRecorder
		mirror          indexing.BulkIndexer
	)
	if chClient != nil {
		analyticsWriter = chClient
		eventRecorder = chClient
	}
	if esSource != nil && cfg.Elasticsearch.Mirror && cfg.Catalog.Source != config.SourceElasticsearch {
		mirror = esSource
	}

	slowQueryDetector := observability.NewSlowQueryDetector(
		cfg.Search.SlowQuery.WarningThreshold,
		cfg.Search.SlowQuery.CriticalThreshold,
		logger,
		analyticsWriter,
	)

	streamProcessor := indexing.NewStreamProcessor(store, pageCache, eventRecorder, mirror, cfg.Elasticsearch, logger)
	defer streamProcessor.Stop()

	// Remote source refresh.
	var remote catalog.Source
	switch {
	case esSource != nil && cfg.Catalog.Source == config.SourceElasticsearch:
		remote = esSource
	case fsSource != nil:
		remote = fsSource
	}
	if remote != nil {
		refresher := refresh.New(remote, store, cfg.Catalog.RefreshSchedule, cfg.Catalog.RefreshTimeout, logger)
		if err := refresher.Start(ctx); err != nil {
			return fmt.Errorf("starting catalog refresher: %w", err)
		}
		defer refresher.Stop()
	}

	var background sync.WaitGroup
	defer background.Wait()

	if fsSource != nil && cfg.Firestore.Listen {
		listener := fsSource.NewChangeListener(streamProcessor.HandleEvent)
		background.Add(1)
		go func() {
			defer background.Done()
			if err := listener.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("firestore change listener stopped", zap.Error(err))
			}
		}()
		logger.Info("firestore change listener started")
	}

	// Change events: through Kafka when enabled, otherwise applied in process.
	var (
		events api.EventPublisher = api.PublisherFunc(streamProcessor.HandleEvent)
		queued bool
	)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		events = producer
		queued = true

		consumer := kafka.NewConsumer(cfg.Kafka, streamProcessor.HandleEvent, logger)
		if err := consumer.Start(ctx); err != nil {
			logger.Warn("kafka consumer start failed, indexing pipeline will be unavailable", zap.Error(err))
		} else {
			defer consumer.Stop()
			healthHandler.Register("kafka", consumer)
		}
	}

	orch := orchestrator.New(eng, store, store, pageCache, slowQueryDetector, cfg.Search, logger)
	orch.SetStaticFallback(seed)

	share := capability.WithFallback(capability.LogShare{Logger: logger}, capability.NoopShare{})
	handler := api.NewHandler(orch, events, queued, share, cfg.Server.PublicURL, logger)
	router := api.NewRouter(handler, healthHandler, cfg.Server, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		cancel()
		return err
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new requests
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	// Cancel background operations; deferred Stop/Close calls run after.
	cancel()

	if err := tracerShutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
