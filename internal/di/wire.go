//go:build wireinject
// +build wireinject

package di

import (
	"PredServe/pkg/config"
	"PredServe/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvidePostgresPool,
		ProvideHTTPClient,
		ProvideResultCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideFeatureRepo,
		ProvideArtifactStore,
		ProvideModelRegistry,
		ProvidePredictionPublisher,

		// Services
		ProvideFeatureStore,
		ProvideModelCache,
		ProvideOptimizer,
		ProvideWorkerPool,
		ProvideIngestPipeline,
		ProvideFeedStream,

		// Use cases
		ProvideWeightCalculator,
		ProvideEngine,
		ProvideEnsembleService,
		ProvideFeatureIngestHandler,
		ProvideFeedCollector,
		ProvideOutcomeQueue,

		// HTTP surface and application server
		ProvideRouter,
		ProvideApp,
	)
	return &server.App{}, nil
}
