// File: internal/logservice/service.go
package logservice

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Cassini-chris/chroma/internal/metrics"
	"github.com/Cassini-chris/chroma/internal/models"
	"github.com/Cassini-chris/chroma/internal/storage"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// ServiceConfig holds log service configuration
type ServiceConfig struct {
	MaxPushBatchSize int
	MaxPullBatchSize int
	PurgeSchedule    string
	EnablePurge      bool
}

// ServiceStats tracks log service counters
type ServiceStats struct {
	RecordsPushed int64      `json:"records_pushed"`
	RecordsPulled int64      `json:"records_pulled"`
	RecordsPurged int64      `json:"records_purged"`
	PurgeRuns     int64      `json:"purge_runs"`
	LastPurgeAt   *time.Time `json:"last_purge_at,omitempty"`
}

// ServiceHealth reports log service health
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// LogService manages the per-collection record log
type LogService struct {
	config         *ServiceConfig
	store          storage.Store
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	cron    *cron.Cron
	running bool
	mu      sync.RWMutex
	stats   ServiceStats
}

// NewLogService creates a new log service
func NewLogService(config *ServiceConfig, store storage.Store, metricsManager *metrics.Manager) (*LogService, error) {
	if config.MaxPushBatchSize <= 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Max push batch size must be positive", "")
	}
	if config.MaxPullBatchSize <= 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Max pull batch size must be positive", "")
	}

	return &LogService{
		config:         config,
		store:          store,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("logservice"),
	}, nil
}

// Start starts the log service and its purge scheduler
func (s *LogService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.config.EnablePurge {
		s.cron = cron.New()
		_, err := s.cron.AddFunc(s.config.PurgeSchedule, func() {
			s.runPurge(context.Background(), "scheduled")
		})
		if err != nil {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid purge schedule", err.Error())
		}
		s.cron.Start()
		s.logger.WithField("schedule", s.config.PurgeSchedule).Info("Purge scheduler started")
	}

	s.running = true
	s.logger.Info("Log service started")
	return nil
}

// Stop stops the log service
func (s *LogService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		// Wait for an in-flight purge to finish before declaring stopped.
		<-stopCtx.Done()
		s.cron = nil
	}

	s.running = false
	s.logger.Info("Log service stopped")
	return nil
}

// IsRunning reports whether the service has been started
func (s *LogService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Push appends a batch of records to a collection's log
func (s *LogService) Push(ctx context.Context, collectionID string, records [][]byte) (int, error) {
	start := time.Now()

	if err := validateCollectionID(collectionID); err != nil {
		return 0, err
	}
	if len(records) > s.config.MaxPushBatchSize {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Push batch too large",
			"max batch size is "+strconv.Itoa(s.config.MaxPushBatchSize))
	}
	for _, record := range records {
		if len(record) == 0 {
			return 0, utils.NewAppError(utils.ErrCodeValidation, "Record payload must not be empty", collectionID)
		}
	}

	count, err := s.store.PushLogs(ctx, collectionID, records)
	if err != nil {
		s.recordPush(collectionID, "error", 0, time.Since(start))
		return 0, err
	}

	s.mu.Lock()
	s.stats.RecordsPushed += int64(count)
	s.mu.Unlock()

	s.recordPush(collectionID, "success", count, time.Since(start))
	return count, nil
}

// Pull reads a window of a collection's log in offset order
func (s *LogService) Pull(ctx context.Context, filter models.LogFilter) ([]*models.RecordLog, error) {
	start := time.Now()

	if err := validateCollectionID(filter.CollectionID); err != nil {
		return nil, err
	}
	if filter.StartOffset < 0 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Start offset must not be negative", "")
	}
	if filter.BatchSize <= 0 || filter.BatchSize > s.config.MaxPullBatchSize {
		filter.BatchSize = s.config.MaxPullBatchSize
	}

	logs, err := s.store.PullLogs(ctx, filter)
	if err != nil {
		s.recordPull(filter.CollectionID, "error", 0, time.Since(start))
		return nil, err
	}

	s.mu.Lock()
	s.stats.RecordsPulled += int64(len(logs))
	s.mu.Unlock()

	s.recordPull(filter.CollectionID, "success", len(logs), time.Since(start))
	return logs, nil
}

// CollectionsToCompact lists collections with uncompacted logs, oldest first
func (s *LogService) CollectionsToCompact(ctx context.Context) ([]*models.CompactionCandidate, error) {
	candidates, err := s.store.GetAllCollectionsToCompact(ctx)
	if err != nil {
		return nil, err
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().CompactionCandidates.Set(float64(len(candidates)))
	}

	return candidates, nil
}

// Purge deletes one collection's compacted logs
func (s *LogService) Purge(ctx context.Context, collectionID string) (int64, error) {
	if err := validateCollectionID(collectionID); err != nil {
		return 0, err
	}

	purged, err := s.store.PurgeLogs(ctx, collectionID)
	if err != nil {
		if s.metricsManager != nil {
			s.metricsManager.GetPrometheusMetrics().RecordPurge("manual", "error", 0)
		}
		return 0, err
	}

	s.notePurge(purged)
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordPurge("manual", "success", purged)
	}

	return purged, nil
}

// PurgeAll deletes compacted logs across every collection
func (s *LogService) PurgeAll(ctx context.Context) (int64, error) {
	return s.runPurge(ctx, "manual")
}

// runPurge executes one purge sweep
func (s *LogService) runPurge(ctx context.Context, trigger string) (int64, error) {
	purged, err := s.store.PurgeAllLogs(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Purge sweep failed")
		if s.metricsManager != nil {
			s.metricsManager.GetPrometheusMetrics().RecordPurge(trigger, "error", 0)
		}
		return 0, err
	}

	s.notePurge(purged)
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordPurge(trigger, "success", purged)
	}

	if purged > 0 {
		s.logger.WithFields(logrus.Fields{
			"purged":  purged,
			"trigger": trigger,
		}).Info("Purged compacted records")
	}

	return purged, nil
}

func (s *LogService) notePurge(purged int64) {
	now := time.Now()
	s.mu.Lock()
	s.stats.RecordsPurged += purged
	s.stats.PurgeRuns++
	s.stats.LastPurgeAt = &now
	s.mu.Unlock()
}

// GetStats returns log service statistics
func (s *LogService) GetStats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// GetHealth reports log service health
func (s *LogService) GetHealth() *ServiceHealth {
	if !s.IsRunning() {
		return &ServiceHealth{Healthy: false, Reason: "not running"}
	}
	if err := s.store.Ping(); err != nil {
		return &ServiceHealth{Healthy: false, Reason: err.Error()}
	}
	return &ServiceHealth{Healthy: true}
}

func (s *LogService) recordPush(collectionID, status string, count int, duration time.Duration) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordPush(collectionID, status, count, duration)
	}
}

func (s *LogService) recordPull(collectionID, status string, count int, duration time.Duration) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordPull(collectionID, status, count, duration)
	}
}

// validateCollectionID requires a well-formed uuid
func validateCollectionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid collection ID", id)
	}
	return nil
}
