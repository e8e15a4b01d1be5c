package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	mid "PredServe/internal/middleware"
	"PredServe/internal/service/workerpool"
	"PredServe/internal/usecase"
	pkgch "PredServe/pkg/clickhouse"
	"PredServe/pkg/config"
	xhttp "PredServe/pkg/http"
	pkgkafka "PredServe/pkg/kafka"
	applogger "PredServe/pkg/logger"
	"PredServe/pkg/queue"
)

// App encapsulates the entire application lifecycle: worker pool,
// weight recompute loop, ingest paths (feed and Kafka), outcome queue
// and the HTTP surface.
type App struct {
	cfg       *config.Config
	l         *applogger.Logger
	handler   xhttp.Handler
	engine    *usecase.Engine
	weights   *usecase.WeightCalculator
	pool      *workerpool.Pool
	pipe      *mid.IngestPipeline
	collector *usecase.FeedCollector
	consumer  *pkgkafka.Consumer
	ingest    *usecase.FeatureIngestHandler
	outcomes  *queue.RedisQueue
	chClient  *pkgch.Client
	pgPool    *pgxpool.Pool
	producer  *pkgkafka.Producer

	httpServer *xhttp.Server
}

// New creates an App with all dependencies. Nil feed collector, Kafka
// pieces and outcome queue are tolerated; the app simply runs without
// them.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	handler xhttp.Handler,
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
) *App {
	return &App{
		cfg:       cfg,
		l:         l,
		handler:   handler,
		engine:    engine,
		weights:   weights,
		pool:      pool,
		pipe:      pipe,
		collector: collector,
		consumer:  consumer,
		ingest:    ingest,
		outcomes:  outcomes,
		chClient:  chClient,
		pgPool:    pgPool,
		producer:  producer,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.pool.Start()
	go a.weights.Run(ctx)
	a.pipe.Start(ctx)

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.l.Error("feed collector error", applogger.Error(err))
			}
		}()
		a.l.Info("feed collector started", applogger.Strings("symbols", a.cfg.Feed.Symbols))
	}

	if a.consumer != nil && a.ingest != nil {
		a.consumer.RegisterHandler(a.ingest)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.l.Info("kafka consumer started", applogger.String("topic", a.ingest.Topic()))
	}

	if a.outcomes != nil {
		if err := a.outcomes.Start(); err != nil {
			a.l.Error("outcome queue start error", applogger.Error(err))
		}
	}

	// Cold-start mitigation: resolve and load the champion before the
	// first request. Failure is not fatal; the first request retries.
	if err := a.engine.Warm(ctx, ""); err != nil {
		a.l.Warn("engine warmup skipped", applogger.Error(err))
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}
	a.l.Info("serving", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services: intake first, then the
// drains, then the clients.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.collector != nil {
		if err := a.collector.Shutdown(shutdownCtx); err != nil {
			a.l.Warn("feed collector stop error", applogger.Error(err))
		}
	} else {
		a.pipe.Stop()
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.outcomes != nil {
		if err := a.outcomes.Stop(shutdownCtx); err != nil {
			a.l.Warn("outcome queue stop error", applogger.Error(err))
		}
	}

	if err := a.pool.Shutdown(shutdownCtx); err != nil {
		a.l.Warn("worker pool drain error", applogger.Error(err))
	}
	a.weights.Close()

	// Final flush of aggregated logs before the producer goes away.
	a.l.RemoveCollector()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}

	a.l.Info("shutdown complete")
	return nil
}
