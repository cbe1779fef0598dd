// File: internal/storage/factory.go
package storage

import (
	"strings"

	"github.com/Cassini-chris/chroma/internal/config"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// NewStore creates a new store instance based on configuration
func NewStore(cfg *config.StorageConfig) (Store, error) {
	storeConfig := &StoreConfig{
		Type:             cfg.Type,
		ConnectionString: cfg.ConnectionString,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
	}

	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStore(storeConfig), nil
	case "postgres", "postgresql":
		return NewPostgresStore(storeConfig), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}

	if cfg.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}

	if cfg.MaxConnections <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive", "")
	}

	supportedTypes := []string{"sqlite", "postgres", "postgresql"}
	supported := false
	for _, t := range supportedTypes {
		if strings.ToLower(cfg.Type) == t {
			supported = true
			break
		}
	}

	if !supported {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			"Supported types: "+strings.Join(supportedTypes, ", "))
	}

	return nil
}
