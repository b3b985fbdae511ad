package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/marketcore/internal/config"
	"github.com/aristath/marketcore/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens core.db and client_data.db and applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. core.db - module state
	coreDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "core.db"),
		Profile: database.ProfileStandard,
		Name:    database.NameCore,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core database: %w", err)
	}
	container.CoreDB = coreDB

	// 2. client_data.db - stale fallback store, rebuilt from upstream if lost
	clientDataDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "client_data.db"),
		Profile: database.ProfileCache,
		Name:    database.NameClientData,
	})
	if err != nil {
		coreDB.Close()
		return nil, fmt.Errorf("failed to initialize client data database: %w", err)
	}
	container.ClientDataDB = clientDataDB

	for _, db := range []*database.DB{coreDB, clientDataDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
