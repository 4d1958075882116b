//go:build wireinject
// +build wireinject

package di

import (
	"PriceCast/pkg/config"
	"PriceCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideArtifactStore,
		ProvideCatalog,
		ProvideDatasetStore,
		ProvideJobStore,
		ProvideEventPublisher,

		// Training
		ProvidePipeline,
		ProvideTrainer,
		ProvideTuner,

		// Use cases
		ProvideLifecycleService,
		ProvideJobManager,
		ProvideDatasetService,

		// Transport and application
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
