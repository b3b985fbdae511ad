// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/aristath/marketcore/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Build the data source layer
// 3. Initialize repositories
// 4. Register workers (not started)
// 5. Register maintenance jobs (scheduler not started)
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	InitializeDataSources(container, cfg, log)
	InitializeRepositories(container, log)
	RegisterWorkers(container, cfg, log)

	if err := RegisterJobs(container, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}
