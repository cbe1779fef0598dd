// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/Cassini-chris/chroma/internal/metrics"
	"github.com/Cassini-chris/chroma/internal/models"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db         *sql.DB
	config     *StoreConfig
	logger     *logrus.Logger
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgresStore creates a new PostgreSQL store instance
func NewPostgresStore(config *StoreConfig) *PostgresStore {
	return &PostgresStore{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager attaches a metrics manager for database operation metrics
func (p *PostgresStore) SetMetricsManager(m *metrics.Manager) {
	p.metricsManager = m
}

// Connect establishes database connection
func (p *PostgresStore) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgresStore) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresStore) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgresStore) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting database migrations")

	if _, err := p.db.Exec(migrationTableSQL); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migration table", err.Error())
	}

	for _, migration := range p.migrations {
		applied, err := p.migrationApplied(migration)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		p.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}

		_, err = p.db.Exec(
			"INSERT INTO schema_migrations (version, description, checksum, applied_at) VALUES ($1, $2, $3, $4)",
			migration.Version, migration.Description, migration.Checksum(), time.Now())
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
	}

	p.logger.Info("Database migrations completed")
	return nil
}

func (p *PostgresStore) migrationApplied(migration *Migration) (bool, error) {
	var checksum string
	err := p.db.QueryRow("SELECT checksum FROM schema_migrations WHERE version = $1", migration.Version).Scan(&checksum)
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
func (p *PostgresStore) CreateCollection(ctx context.Context, collection *models.Collection) error {
	start := time.Now()

	if collection.Tenant == "" {
		collection.Tenant = models.DefaultTenant
	}
	if collection.Database == "" {
		collection.Database = models.DefaultDatabase
	}

	var exists int
	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM collections WHERE id = $1 OR (tenant = $2 AND db_name = $3 AND name = $4)",
		collection.ID, collection.Tenant, collection.Database, collection.Name).Scan(&exists)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to check collection existence", err.Error())
	}
	if exists > 0 {
		return utils.NewAppError(utils.ErrCodeConflict, "Collection already exists", collection.ID)
	}

	query := `
		INSERT INTO collections (id, name, tenant, db_name, dimension, log_position, record_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = p.db.ExecContext(ctx, query,
		collection.ID, collection.Name, collection.Tenant, collection.Database,
		collection.Dimension, collection.LogPosition, collection.RecordCount,
		collection.CreatedAt, collection.UpdatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create collection", err.Error())
	}

	p.recordOperation("insert", "collections", time.Since(start))
	return nil
}

// GetCollection retrieves a collection by ID
func (p *PostgresStore) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	query := `
		SELECT id, name, tenant, db_name, dimension, log_position, record_count, created_at, updated_at
		FROM collections WHERE id = $1
	`

	row := p.db.QueryRowContext(ctx, query, id)

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
func (p *PostgresStore) ListCollections(ctx context.Context, filter models.CollectionFilter) ([]*models.Collection, error) {
	query := `
		SELECT id, name, tenant, db_name, dimension, log_position, record_count, created_at, updated_at
		FROM collections WHERE 1=1
	`
	args := []interface{}{}
	argIndex := 1

	if filter.Tenant != nil {
		query += fmt.Sprintf(" AND tenant = $%d", argIndex)
		args = append(args, *filter.Tenant)
		argIndex++
	}
	if filter.Database != nil {
		query += fmt.Sprintf(" AND db_name = $%d", argIndex)
		args = append(args, *filter.Database)
		argIndex++
	}
	if filter.Name != nil {
		query += fmt.Sprintf(" AND name = $%d", argIndex)
		args = append(args, *filter.Name)
		argIndex++
	}

	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
		argIndex++
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgresStore) DeleteCollection(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM record_logs WHERE collection_id = $1", id); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete collection logs", err.Error())
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE id = $1", id)
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
func (p *PostgresStore) UpdateCollectionLogPosition(ctx context.Context, id string, position int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT log_position FROM collections WHERE id = $1 FOR UPDATE", id).Scan(&current)
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

	_, err = tx.ExecContext(ctx, "UPDATE collections SET log_position = $1, updated_at = $2 WHERE id = $3",
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
func (p *PostgresStore) PushLogs(ctx context.Context, collectionID string, records [][]byte) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	// Lock the collection row so concurrent pushes serialize on offset
	// allocation.
	var logPosition int64
	err = tx.QueryRowContext(ctx, "SELECT log_position FROM collections WHERE id = $1 FOR UPDATE", collectionID).Scan(&logPosition)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, utils.NewAppError(utils.ErrCodeNotFound, "Collection not found", collectionID)
		}
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read collection", err.Error())
	}

	var maxOffset int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(log_offset), 0) FROM record_logs WHERE collection_id = $1",
		collectionID).Scan(&maxOffset)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read max offset", err.Error())
	}

	next := maxOffset
	if logPosition > next {
		next = logPosition
	}
	next++

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO record_logs (collection_id, log_offset, timestamp, record, created_at) VALUES ($1, $2, $3, $4, $5)")
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
		"UPDATE collections SET record_count = record_count + $1, updated_at = $2 WHERE id = $3",
		len(records), now, collectionID)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to update record count", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}

	p.recordOperation("insert", "record_logs", time.Since(start))
	return len(records), nil
}

// PullLogs reads records in ascending offset order
func (p *PostgresStore) PullLogs(ctx context.Context, filter models.LogFilter) ([]*models.RecordLog, error) {
	start := time.Now()

	query := `
		SELECT collection_id, log_offset, timestamp, record, created_at
		FROM record_logs
		WHERE collection_id = $1 AND log_offset >= $2
	`
	args := []interface{}{filter.CollectionID, filter.StartOffset}
	argIndex := 3

	if filter.EndTimestamp > 0 {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, filter.EndTimestamp)
		argIndex++
	}

	query += " ORDER BY log_offset ASC"

	if filter.BatchSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.BatchSize)
		argIndex++
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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

	p.recordOperation("select", "record_logs", time.Since(start))
	return logs, nil
}

// GetAllCollectionsToCompact returns collections with logs past their
// compacted position, oldest first
func (p *PostgresStore) GetAllCollectionsToCompact(ctx context.Context) ([]*models.CompactionCandidate, error) {
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

	rows, err := p.db.QueryContext(ctx, query)
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
func (p *PostgresStore) PurgeLogs(ctx context.Context, collectionID string) (int64, error) {
	collection, err := p.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, err
	}
	if collection == nil {
		return 0, utils.NewAppError(utils.ErrCodeNotFound, "Collection not found", collectionID)
	}

	result, err := p.db.ExecContext(ctx,
		"DELETE FROM record_logs WHERE collection_id = $1 AND log_offset <= $2",
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
func (p *PostgresStore) PurgeAllLogs(ctx context.Context) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
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
func (p *PostgresStore) GetStats() (*StoreStats, error) {
	stats := &StoreStats{}

	if err := p.db.QueryRow("SELECT COUNT(*) FROM collections").Scan(&stats.TotalCollections); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count collections", err.Error())
	}
	if err := p.db.QueryRow("SELECT COUNT(*) FROM record_logs").Scan(&stats.TotalRecords); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count records", err.Error())
	}

	var oldest, latest sql.NullInt64
	if err := p.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM record_logs").Scan(&oldest, &latest); err != nil {
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
func (p *PostgresStore) GetHealth() *StoreHealth {
	return &StoreHealth{
		StorageType: "PostgreSQL",
		Healthy:     p.Ping() == nil,
		LastPing:    time.Now(),
	}
}

func (p *PostgresStore) recordOperation(operation, table string, duration time.Duration) {
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, "success", duration)
	}
}
