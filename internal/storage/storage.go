// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/Cassini-chris/chroma/internal/models"
)

// Store defines the interface for record log and collection storage
type Store interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Collection operations
	CreateCollection(ctx context.Context, collection *models.Collection) error
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	ListCollections(ctx context.Context, filter models.CollectionFilter) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, id string) error
	UpdateCollectionLogPosition(ctx context.Context, id string, position int64) error

	// Record log operations
	PushLogs(ctx context.Context, collectionID string, records [][]byte) (int, error)
	PullLogs(ctx context.Context, filter models.LogFilter) ([]*models.RecordLog, error)
	GetAllCollectionsToCompact(ctx context.Context) ([]*models.CompactionCandidate, error)
	PurgeLogs(ctx context.Context, collectionID string) (int64, error)
	PurgeAllLogs(ctx context.Context) (int64, error)

	// Statistics and monitoring
	GetStats() (*StoreStats, error)
	GetHealth() *StoreHealth
}

// StoreStats provides storage statistics
type StoreStats struct {
	TotalCollections int64  `json:"total_collections"`
	TotalRecords     int64  `json:"total_records"`
	OldestRecord     *int64 `json:"oldest_record,omitempty"` // unix nanos
	LatestRecord     *int64 `json:"latest_record,omitempty"` // unix nanos
}

// StoreHealth reports storage health
type StoreHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StoreConfig holds storage configuration
type StoreConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
