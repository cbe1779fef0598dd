// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Cassini-chris/chroma/internal/metrics"
	"github.com/Cassini-chris/chroma/internal/models"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db         *sql.DB
	config     *StoreConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(config *StoreConfig) *SQLiteStore {
	return &SQLiteStore{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager attaches a metrics manager for database operation metrics
func (s *SQLiteStore) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes database connection
func (s *SQLiteStore) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	if _, err := s.db.Exec(migrationTableSQL); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migration table", err.Error())
	}

	for _, migration := range s.migrations {
		applied, err := s.migrationApplied(migration)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}

		_, err = s.db.Exec(
			"INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES (?, ?, ?, ?)",
			migration.Version, migration.Description, migration.Checksum(), time.Now())
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// migrationApplied checks whether a migration was already applied and,
// if so, that its script has not changed since.
func (s *SQLiteStore) migrationApplied(migration *Migration) (bool, error) {
	var checksum string
	err := s.db.QueryRow("SELECT checksum FROM schema_migrations WHERE version = ?", migration.Version).Scan(&checksum)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read migration state", err.Error())
	}
	if checksum != migration.Checksum() {
		return false, utils.NewAppError(utils.ErrCodeDatabase,
			fmt.Sprintf("Migration %s checksum mismatch", migration.Version),
			"migration script changed after being applied")
	}
	return true, nil
}

// CreateCollection creates a new collection
func (s *SQLiteStore) CreateCollection(ctx context.Context, collection *models.Collection) error {
	start := time.Now()

	if collection.Tenant == "" {
		collection.Tenant = models.DefaultTenant
	}
	if collection.Database == "" {
		collection.Database = models.DefaultDatabase
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM collections WHERE id = ? OR (tenant = ? AND db_name = ? AND name = ?)",
		collection.ID, collection.Tenant, collection.Database, collection.Name).Scan(&exists)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to check collection existence", err.Error())
	}
	if exists > 0 {
		return utils.NewAppError(utils.ErrCodeConflict, "Collection already exists", collection.ID)
	}

	query := `
		INSERT INTO collections (id, name, tenant, db_name, dimension, log_position, record_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		collection.ID, collection.Name, collection.Tenant, collection.Database,
		collection.Dimension, collection.LogPosition, collection.RecordCount,
		collection.CreatedAt, collection.UpdatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create collection", err.Error())
	}

	s.recordOperation("insert", "collections", time.Since(start))
	return nil
}

// GetCollection retrieves a collection by ID
func (s *SQLiteStore) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	query := `
		SELECT id, name, tenant, db_name, dimension, log_position, record_count, created_at, updated_at
		FROM collections WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)

	var collection models.Collection
	var dimension sql.NullInt32

	err := row.Scan(&collection.ID, &collection.Name, &collection.Tenant, &collection.Database,
		&dimension, &collection.LogPosition, &collection.RecordCount,
		&collection.CreatedAt, &collection.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get collection", err.Error())
	}

	if dimension.Valid {
		collection.Dimension = &dimension.Int32
	}

	return &collection, nil
}

// ListCollections retrieves collections matching the filter
func (s *SQLiteStore) ListCollections(ctx context.Context, filter models.CollectionFilter) ([]*models.Collection, error) {
	query := `
		SELECT id, name, tenant, db_name, dimension, log_position, record_count, created_at, updated_at
		FROM collections WHERE 1=1
	`
	args := []interface{}{}

	if filter.Tenant != nil {
		query += " AND tenant = ?"
		args = append(args, *filter.Tenant)
	}
	if filter.Database != nil {
		query += " AND db_name = ?"
		args = append(args, *filter.Database)
	}
	if filter.Name != nil {
		query += " AND name = ?"
		args = append(args, *filter.Name)
	}

	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query collections", err.Error())
	}
	defer rows.Close()

	var collections []*models.Collection
	for rows.Next() {
		var collection models.Collection
		var dimension sql.NullInt32

		err := rows.Scan(&collection.ID, &collection.Name, &collection.Tenant, &collection.Database,
			&dimension, &collection.LogPosition, &collection.RecordCount,
			&collection.CreatedAt, &collection.UpdatedAt)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan collection", err.Error())
		}

		if dimension.Valid {
			collection.Dimension = &dimension.Int32
		}

		collections = append(collections, &collection)
	}

	return collections, nil
}

// DeleteCollection deletes a collection and its logs
func (s *SQLiteStore) DeleteCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM record_logs WHERE collection_id = ?", id); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete collection logs", err.Error())
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete collection", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Collection not found", id)
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	return nil
}

// UpdateCollectionLogPosition advances a collection's compacted log position.
// The position may never move backwards.
func (s *SQLiteStore) UpdateCollectionLogPosition(ctx context.Context, id string, position int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT log_position FROM collections WHERE id = ?", id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return utils.NewAppError(utils.ErrCodeNotFound, "Collection not found", id)
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read log position", err.Error())
	}

	if position < current {
		return utils.NewAppError(utils.ErrCodeValidation, "Log position cannot move backwards",
			fmt.Sprintf("current=%d requested=%d", current, position))
	}

	_, err = tx.ExecContext(ctx, "UPDATE collections SET log_position = ?, updated_at = ? WHERE id = ?",
		position, time.Now(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update log position", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	return nil
}

// PushLogs appends records to a collection's log at consecutive offsets.
// The whole batch is committed or nothing is.
func (s *SQLiteStore) PushLogs(ctx context.Context, collectionID string, records [][]byte) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var logPosition int64
	err = tx.QueryRowContext(ctx, "SELECT log_position FROM collections WHERE id = ?", collectionID).Scan(&logPosition)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, utils.NewAppError(utils.ErrCodeNotFound, "Collection not found", collectionID)
		}
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read collection", err.Error())
	}

	var maxOffset int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(log_offset), 0) FROM record_logs WHERE collection_id = ?",
		collectionID).Scan(&maxOffset)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read max offset", err.Error())
	}

	// Purged logs leave log_position ahead of the stored maximum; the
	// next offset continues from whichever is higher.
	next := maxOffset
	if logPosition > next {
		next = logPosition
	}
	next++

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO record_logs (collection_id, log_offset, timestamp, record, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to prepare statement", err.Error())
	}
	defer stmt.Close()

	now := time.Now()
	ts := now.UnixNano()
	for i, record := range records {
		if _, err := stmt.ExecContext(ctx, collectionID, next+int64(i), ts, record, now); err != nil {
			return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert record", err.Error())
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE collections SET record_count = record_count + ?, updated_at = ? WHERE id = ?",
		len(records), now, collectionID)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to update record count", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	s.recordOperation("insert", "record_logs", time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"collection_id": collectionID,
		"count":         len(records),
		"first_offset":  next,
	}).Debug("Pushed records")

	return len(records), nil
}

// PullLogs reads records in ascending offset order
func (s *SQLiteStore) PullLogs(ctx context.Context, filter models.LogFilter) ([]*models.RecordLog, error) {
	start := time.Now()

	query := `
		SELECT collection_id, log_offset, timestamp, record, created_at
		FROM record_logs
		WHERE collection_id = ? AND log_offset >= ?
	`
	args := []interface{}{filter.CollectionID, filter.StartOffset}

	if filter.EndTimestamp > 0 {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTimestamp)
	}

	query += " ORDER BY log_offset ASC"

	if filter.BatchSize > 0 {
		query += " LIMIT ?"
		args = append(args, filter.BatchSize)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query records", err.Error())
	}
	defer rows.Close()

	var logs []*models.RecordLog
	for rows.Next() {
		var log models.RecordLog
		if err := rows.Scan(&log.CollectionID, &log.Offset, &log.Timestamp, &log.Record, &log.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan record", err.Error())
		}
		logs = append(logs, &log)
	}

	s.recordOperation("select", "record_logs", time.Since(start))
	return logs, nil
}

// GetAllCollectionsToCompact returns collections with logs past their
// compacted position, oldest first
func (s *SQLiteStore) GetAllCollectionsToCompact(ctx context.Context) ([]*models.CompactionCandidate, error) {
	query := `
		SELECT r.collection_id, r.log_offset, r.timestamp
		FROM record_logs r
		JOIN collections c ON r.collection_id = c.id
		WHERE r.log_offset > c.log_position
		AND r.log_offset = (
			SELECT MIN(r2.log_offset) FROM record_logs r2
			WHERE r2.collection_id = r.collection_id AND r2.log_offset > c.log_position
		)
		ORDER BY r.timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query compaction candidates", err.Error())
	}
	defer rows.Close()

	var candidates []*models.CompactionCandidate
	for rows.Next() {
		var candidate models.CompactionCandidate
		if err := rows.Scan(&candidate.CollectionID, &candidate.FirstUncompactedOffset, &candidate.FirstUncompactedTimestamp); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan compaction candidate", err.Error())
		}
		candidates = append(candidates, &candidate)
	}

	return candidates, nil
}

// PurgeLogs deletes a collection's logs at or below its compacted position
func (s *SQLiteStore) PurgeLogs(ctx context.Context, collectionID string) (int64, error) {
	collection, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, err
	}
	if collection == nil {
		return 0, utils.NewAppError(utils.ErrCodeNotFound, "Collection not found", collectionID)
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM record_logs WHERE collection_id = ? AND log_offset <= ?",
		collectionID, collection.LogPosition)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to purge logs", err.Error())
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	return count, nil
}

// PurgeAllLogs purges compacted logs across all collections
func (s *SQLiteStore) PurgeAllLogs(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM record_logs WHERE EXISTS (
			SELECT 1 FROM collections c
			WHERE c.id = record_logs.collection_id
			AND record_logs.log_offset <= c.log_position
		)
	`)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to purge logs", err.Error())
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}

	return count, nil
}

// GetStats returns storage statistics
func (s *SQLiteStore) GetStats() (*StoreStats, error) {
	stats := &StoreStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM collections").Scan(&stats.TotalCollections); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count collections", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM record_logs").Scan(&stats.TotalRecords); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count records", err.Error())
	}

	var oldest, latest sql.NullInt64
	if err := s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM record_logs").Scan(&oldest, &latest); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read record timestamps", err.Error())
	}
	if oldest.Valid {
		stats.OldestRecord = &oldest.Int64
	}
	if latest.Valid {
		stats.LatestRecord = &latest.Int64
	}

	return stats, nil
}

// GetHealth reports storage health
func (s *SQLiteStore) GetHealth() *StoreHealth {
	return &StoreHealth{
		StorageType: "SQLite",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"connection_string": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}

// recordOperation records database operation metrics when a manager is attached
func (s *SQLiteStore) recordOperation(operation, table string, duration time.Duration) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, "success", duration)
	}
}
