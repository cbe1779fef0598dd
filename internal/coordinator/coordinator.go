// File: internal/coordinator/coordinator.go
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Cassini-chris/chroma/internal/metrics"
	"github.com/Cassini-chris/chroma/internal/models"
	"github.com/Cassini-chris/chroma/internal/storage"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// Config holds coordinator configuration
type Config struct {
	DefaultTenant   string
	DefaultDatabase string
}

// Stats tracks coordinator counters
type Stats struct {
	CollectionsCreated int64 `json:"collections_created"`
	CollectionsDeleted int64 `json:"collections_deleted"`
	CompactionFlushes  int64 `json:"compaction_flushes"`
}

// Health reports coordinator health
type Health struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// CreateCollectionRequest carries the caller-supplied collection fields
type CreateCollectionRequest struct {
	ID        string `json:"id,omitempty"` // generated when empty
	Name      string `json:"name"`
	Tenant    string `json:"tenant,omitempty"`
	Database  string `json:"database,omitempty"`
	Dimension *int32 `json:"dimension,omitempty"`
}

// Coordinator is the collection control plane: it owns collection
// metadata and the compacted log position of each collection.
type Coordinator struct {
	config         *Config
	store          storage.Store
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	mu    sync.Mutex
	stats Stats
}

// NewCoordinator creates a new coordinator
func NewCoordinator(config *Config, store storage.Store, metricsManager *metrics.Manager) *Coordinator {
	if config.DefaultTenant == "" {
		config.DefaultTenant = models.DefaultTenant
	}
	if config.DefaultDatabase == "" {
		config.DefaultDatabase = models.DefaultDatabase
	}

	return &Coordinator{
		config:         config,
		store:          store,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("coordinator"),
	}
}

// CreateCollection registers a new collection. A missing ID is generated;
// a supplied ID must be a well-formed uuid.
func (c *Coordinator) CreateCollection(ctx context.Context, req *CreateCollectionRequest) (*models.Collection, error) {
	if req.Name == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Collection name is required", "")
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid collection ID", id)
	}

	tenant := req.Tenant
	if tenant == "" {
		tenant = c.config.DefaultTenant
	}
	database := req.Database
	if database == "" {
		database = c.config.DefaultDatabase
	}

	now := time.Now()
	collection := &models.Collection{
		ID:        id,
		Name:      req.Name,
		Tenant:    tenant,
		Database:  database,
		Dimension: req.Dimension,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.store.CreateCollection(ctx, collection); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.stats.CollectionsCreated++
	c.mu.Unlock()
	c.updateCollectionsGauge(ctx)

	c.logger.WithFields(logrus.Fields{
		"collection_id": collection.ID,
		"name":          collection.Name,
		"tenant":        collection.Tenant,
		"database":      collection.Database,
	}).Info("Collection created")

	return collection, nil
}

// GetCollection retrieves a collection by ID
func (c *Coordinator) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid collection ID", id)
	}

	collection, err := c.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Collection not found", id)
	}

	return collection, nil
}

// ListCollections retrieves collections matching the filter
func (c *Coordinator) ListCollections(ctx context.Context, filter models.CollectionFilter) ([]*models.Collection, error) {
	return c.store.ListCollections(ctx, filter)
}

// DeleteCollection removes a collection and all of its logs
func (c *Coordinator) DeleteCollection(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid collection ID", id)
	}

	if err := c.store.DeleteCollection(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	c.stats.CollectionsDeleted++
	c.mu.Unlock()
	c.updateCollectionsGauge(ctx)

	c.logger.WithField("collection_id", id).Info("Collection deleted")
	return nil
}

// FlushCompaction advances a collection's compacted log position after a
// compaction run. The position never moves backwards.
func (c *Coordinator) FlushCompaction(ctx context.Context, id string, logPosition int64) error {
	if _, err := uuid.Parse(id); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid collection ID", id)
	}
	if logPosition < 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Log position must not be negative", "")
	}

	if err := c.store.UpdateCollectionLogPosition(ctx, id, logPosition); err != nil {
		if c.metricsManager != nil {
			c.metricsManager.GetPrometheusMetrics().RecordLogPositionUpdate("error")
		}
		return err
	}

	c.mu.Lock()
	c.stats.CompactionFlushes++
	c.mu.Unlock()

	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().RecordLogPositionUpdate("success")
	}

	c.logger.WithFields(logrus.Fields{
		"collection_id": id,
		"log_position":  logPosition,
	}).Debug("Compaction flushed")

	return nil
}

// GetStats returns coordinator statistics
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// GetHealth reports coordinator health
func (c *Coordinator) GetHealth() *Health {
	if err := c.store.Ping(); err != nil {
		return &Health{Healthy: false, Reason: err.Error()}
	}
	return &Health{Healthy: true}
}

func (c *Coordinator) updateCollectionsGauge(ctx context.Context) {
	if c.metricsManager == nil {
		return
	}
	collections, err := c.store.ListCollections(ctx, models.CollectionFilter{})
	if err != nil {
		return
	}
	c.metricsManager.GetPrometheusMetrics().CollectionsTotal.Set(float64(len(collections)))
}
