package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/siopa/stock-service/internal/application/ingest"
	appinventory "github.com/siopa/stock-service/internal/application/inventory"
	"github.com/siopa/stock-service/internal/config"
	domain "github.com/siopa/stock-service/internal/domain/product"
	"github.com/siopa/stock-service/internal/infrastructure/bus"
	"github.com/siopa/stock-service/internal/infrastructure/id"
	kafkaconsumer "github.com/siopa/stock-service/internal/infrastructure/kafka"
	"github.com/siopa/stock-service/internal/infrastructure/memory"
	obsprovider "github.com/siopa/stock-service/internal/infrastructure/observability"
	"github.com/siopa/stock-service/internal/infrastructure/observability/oteltrace"
	"github.com/siopa/stock-service/internal/infrastructure/observability/prometrics"
	"github.com/siopa/stock-service/internal/infrastructure/observability/zaplogger"
	redisstore "github.com/siopa/stock-service/internal/infrastructure/redis"
	"github.com/siopa/stock-service/internal/infrastructure/worker"
	"github.com/siopa/stock-service/internal/observability"
	httppresentation "github.com/siopa/stock-service/internal/presentation/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	logger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)

	registry := prometrics.New("stock")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(string(observability.MUsecaseRequests),
			"Total number of inventory use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests: registry.Counter(string(observability.MHTTPRequests),
			"Total number of HTTP requests.", "method", "route", "status"),
		observability.MIngestEvents: registry.Counter(string(observability.MIngestEvents),
			"Fulfillment events by ingestion outcome.", "outcome"),
		observability.MCASConflicts: registry.Counter(string(observability.MCASConflicts),
			"Conditional updates rejected on version mismatch.", "operation"),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(string(observability.MUsecaseDuration),
			"Duration of inventory use case execution in seconds.", nil, "use_case"),
		observability.MHTTPRequestDuration: registry.Histogram(string(observability.MHTTPRequestDuration),
			"Duration of HTTP requests in seconds.", nil, "method", "route"),
	}
	tel := obsprovider.New(oteltrace.New(cfg.ServiceName), logger, counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo domain.Repository
	var applied ingest.AppliedStore
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		repo = redisstore.NewProductRepository(client)
		applied = redisstore.NewAppliedStore(client)
		logger.Info("store_backend_selected",
			observability.F("backend", cfg.StoreBackend),
			observability.F("redis_addr", cfg.RedisAddr),
		)
	default:
		repo = memory.NewProductRepository()
		applied = memory.NewAppliedStore()
		logger.Info("store_backend_selected",
			observability.F("backend", config.BackendMemory),
		)
	}

	eventBus := bus.New(logger)
	eventBus.Start(ctx)
	defer eventBus.Stop(context.Background())

	inventoryService := appinventory.NewService(repo, id.NewUUIDGenerator(), tel, cfg.MutationRetryLimit)
	ingestor := ingest.New(inventoryService, applied, eventBus, tel, ingest.Config{
		RetryLimit:   cfg.IngestRetryLimit,
		RetryBackoff: cfg.IngestRetryBackoff,
	})

	worker.NewIngestWorker(eventBus, ingestor, logger).Start()
	worker.NewDeadLetterLogger(eventBus, logger).Start()

	if len(cfg.KafkaBrokers) > 0 {
		consumer := kafkaconsumer.NewConsumer(kafkaconsumer.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, ingestor, logger)
		defer func() { _ = consumer.Close() }()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka_consumer_error",
					observability.F("error", err.Error()),
				)
			}
		}()
	}

	handler := httppresentation.NewHandler(inventoryService, logger, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		logger.Info("http_server_stopped")
	}
}
