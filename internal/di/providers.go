package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"PredServe/internal/domain/repository"
	"PredServe/internal/handler/api"
	mid "PredServe/internal/middleware"
	internalrepo "PredServe/internal/repository"
	"PredServe/internal/service/artifact"
	"PredServe/internal/service/featurestore"
	"PredServe/internal/service/feed"
	"PredServe/internal/service/modelcache"
	"PredServe/internal/service/optimizer"
	"PredServe/internal/service/workerpool"
	"PredServe/internal/usecase"
	pkgcache "PredServe/pkg/cache"
	pkgch "PredServe/pkg/clickhouse"
	"PredServe/pkg/config"
	pkghttp "PredServe/pkg/http"
	pkgkafka "PredServe/pkg/kafka"
	applogger "PredServe/pkg/logger"
	"PredServe/pkg/metrics"
	"PredServe/pkg/queue"
	"PredServe/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates the ClickHouse client and ensures the
// feature table exists.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS predserve",
		`CREATE TABLE IF NOT EXISTS predserve.feature_values (
			symbol String, feature String, value Float64,
			ts DateTime64(3), confidence Float64, quality Float64, provider String
		) ENGINE=MergeTree ORDER BY (symbol, ts, feature)`,
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideFeatureRepo creates the durable feature store repository.
func ProvideFeatureRepo(chClient *pkgch.Client, cfg *config.Config, l *applogger.Logger) *internalrepo.CHFeatureStore {
	store := internalrepo.NewCHFeatureStore(chClient, cfg.ClickHouse.Database+".feature_values")
	store.SetLogger(l)
	return store
}

// ProvidePostgresPool creates the registry's connection pool.
func ProvidePostgresPool(cfg *config.Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		pc.MaxConns = int32(cfg.Postgres.MaxConns)
	}
	if cfg.Postgres.ConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.Postgres.ConnLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	return pool, nil
}

// ProvideHTTPClient creates the outbound HTTP client for artifact fetch.
func ProvideHTTPClient() *pkghttp.Client {
	return pkghttp.NewClient(pkghttp.WithTimeout(30 * time.Second))
}

// ProvideArtifactStore creates the artifact store.
func ProvideArtifactStore(cfg *config.Config, client *pkghttp.Client, l *applogger.Logger) *artifact.Store {
	s := artifact.NewStore(cfg.ModelCache.ArtifactDir, client)
	s.SetLogger(l)
	return s
}

// ProvideModelRegistry creates the Postgres model registry.
func ProvideModelRegistry(pool *pgxpool.Pool, store *artifact.Store, cfg *config.Config, l *applogger.Logger) (repository.ModelRegistry, error) {
	reg := internalrepo.NewPGModelRegistry(pool, store, cfg.Registry.ValidationFloor, cfg.Registry.MaxArtifactBytes)
	reg.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.InitSchema(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

// ProvideResultCache creates the shared cache service: memory-fronted
// Redis when enabled, in-memory only otherwise.
func ProvideResultCache(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(), nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port: %w", err)
	}
	redisCache, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, err
	}
	return pkgcache.NewLayeredCache(redisCache), nil
}

// ProvideModelCache creates the LRU predictor cache.
func ProvideModelCache(store *artifact.Store, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *modelcache.Cache {
	c := modelcache.New(cfg.ModelCache.Capacity, store, artifact.Deserialize, m)
	c.SetLogger(l)
	return c
}

// ProvideOptimizer creates the inference input optimizer.
func ProvideOptimizer(m repository.Metrics) *optimizer.Optimizer {
	return optimizer.New(m)
}

// ProvideWorkerPool creates the inference worker pool.
func ProvideWorkerPool(m repository.Metrics, cfg *config.Config, l *applogger.Logger) *workerpool.Pool {
	p := workerpool.New(m,
		workerpool.WithWorkers(cfg.WorkerPool.Workers),
		workerpool.WithQueueCap(cfg.WorkerPool.QueueCap),
		workerpool.WithTaskTimeout(cfg.WorkerPool.TaskTimeout),
	)
	p.SetLogger(l)
	return p
}

// ProvideKafkaProducer creates a Kafka producer, nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePredictionPublisher creates the Kafka prediction publisher, nil
// when Kafka is off.
func ProvidePredictionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.PredictionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.PredictionsTopic)
}

// ProvideKafkaConsumer creates the feature-ingest consumer, nil when
// Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideFeatureStore creates the cached feature store service.
func ProvideFeatureStore(repo *internalrepo.CHFeatureStore, cache pkgcache.Service, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *featurestore.Store {
	s := featurestore.New(repo, repo, cache, m, featurestore.WithTTL(cfg.Serving.FeatureCacheTTL))
	s.SetLogger(l)
	return s
}

// ProvideIngestPipeline creates the validation/throttle/buffer stage in
// front of the feature store.
func ProvideIngestPipeline(store *featurestore.Store, m repository.Metrics) *mid.IngestPipeline {
	return mid.NewIngestPipeline(store, m,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
}

// ProvideFeatureIngestHandler registers the Kafka handler for the
// features topic.
func ProvideFeatureIngestHandler(pipe *mid.IngestPipeline, m repository.Metrics, cfg *config.Config) *usecase.FeatureIngestHandler {
	return usecase.NewFeatureIngestHandler(cfg.Kafka.FeaturesTopic, pipe, m)
}

// ProvideFeedStream creates the live WebSocket feed, nil when disabled.
func ProvideFeedStream(cfg *config.Config) repository.FeatureStream {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.New(cfg.Feed.URL, cfg.Feed.Symbols, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval)
}

// ProvideFeedCollector creates the stream-to-pipeline collector, nil
// when the feed is disabled.
func ProvideFeedCollector(stream repository.FeatureStream, pipe *mid.IngestPipeline, m repository.Metrics) *usecase.FeedCollector {
	if stream == nil {
		return nil
	}
	return usecase.NewFeedCollector(stream, pipe, m)
}

// ProvideWeightCalculator creates the ensemble weight calculator.
func ProvideWeightCalculator(cfg *config.Config, l *applogger.Logger) *usecase.WeightCalculator {
	w := usecase.NewWeightCalculator(nil, cfg.Ensemble.Window, cfg.Ensemble.MinWeight, cfg.Ensemble.RecomputeInterval)
	w.SetLogger(l)
	return w
}

// ProvideEngine creates the prediction engine.
func ProvideEngine(
	features *featurestore.Store,
	registry repository.ModelRegistry,
	cacheSvc pkgcache.Service,
	modelCache *modelcache.Cache,
	opt *optimizer.Optimizer,
	pool *workerpool.Pool,
	publisher repository.PredictionPublisher,
	weights *usecase.WeightCalculator,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.Engine {
	e := usecase.NewEngine(features, registry, cacheSvc, modelCache, opt, pool, publisher, weights, m, usecase.EngineConfig{
		Objective:           cfg.Serving.Objective,
		NeutralBand:         cfg.Serving.NeutralBand,
		ConfidenceThreshold: cfg.Serving.ConfidenceThreshold,
		CachedBudget:        cfg.Serving.CachedBudget,
		UncachedBudget:      cfg.Serving.UncachedBudget,
		ResultTTL:           cfg.Serving.ResultCacheTTL,
		BatchChunkSize:      cfg.Serving.BatchChunkSize,
		BatchParallelism:    cfg.Serving.BatchParallelism,
	})
	e.SetLogger(l)
	return e
}

// ProvideEnsembleService creates the ensemble aggregator.
func ProvideEnsembleService(engine *usecase.Engine, weights *usecase.WeightCalculator, pool *workerpool.Pool, m repository.Metrics, l *applogger.Logger) *usecase.EnsembleService {
	s := usecase.NewEnsembleService(engine, weights, pool, m)
	s.SetLogger(l)
	return s
}

// ProvideOutcomeQueue creates the Redis outcome queue consumer, nil
// when Redis is off.
func ProvideOutcomeQueue(cacheSvc pkgcache.Service, weights *usecase.WeightCalculator, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *queue.RedisQueue {
	var rc *pkgcache.RedisCache
	switch c := cacheSvc.(type) {
	case *pkgcache.RedisCache:
		rc = c
	case *pkgcache.LayeredCache:
		rc = c.Redis()
	default:
		return nil
	}
	job := usecase.NewOutcomeJob(weights, m)
	return queue.NewRedisConsumer(l, &queue.QueueConfig{
		Workers:    2,
		RetryLimit: 3,
		RetryDelay: 10 * time.Second,
	}, rc.Client(), []queue.Job{job}, queue.WithKeyPrefix("predserve:outcomes"))
}

// ProvideRouter combines the HTTP handlers.
func ProvideRouter(l *applogger.Logger, engine *usecase.Engine, ensemble *usecase.EnsembleService, registry repository.ModelRegistry, mc *modelcache.Cache, cacheSvc pkgcache.Service) *api.Router {
	pred := api.NewPredictionsEchoHandler(l, engine, ensemble)
	reg := api.NewRegistryEchoHandler(l, registry, mc, cacheSvc)
	return api.NewRouter(pred, reg)
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	router *api.Router,
	engine *usecase.Engine,
	weights *usecase.WeightCalculator,
	pool *workerpool.Pool,
	pipe *mid.IngestPipeline,
	collector *usecase.FeedCollector,
	consumer *pkgkafka.Consumer,
	ingest *usecase.FeatureIngestHandler,
	outcomes *queue.RedisQueue,
	chClient *pkgch.Client,
	pgPool *pgxpool.Pool,
	producer *pkgkafka.Producer,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      kafkaLogPublisher{producer},
		})
	}
	return server.New(cfg, l, router, engine, weights, pool, pipe, collector, consumer, ingest, outcomes, chClient, pgPool, producer)
}

// kafkaLogPublisher adapts the Kafka producer to the log collector's
// publisher interface.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}
