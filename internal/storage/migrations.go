package storage

import (
	"time"

	"github.com/Cassini-chris/chroma/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// Checksum fingerprints the migration script
func (m *Migration) Checksum() string {
	return utils.Checksum(m.SQL)
}

// migrationTableSQL creates the migration bookkeeping table; the same
// statement is valid in SQLite and PostgreSQL.
const migrationTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	);
`

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create collections table",
			SQL: `
				CREATE TABLE IF NOT EXISTS collections (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					tenant TEXT NOT NULL,
					db_name TEXT NOT NULL,
					dimension INTEGER,
					log_position INTEGER NOT NULL DEFAULT 0,
					record_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_placement
					ON collections(tenant, db_name, name);
				CREATE INDEX IF NOT EXISTS idx_collections_tenant ON collections(tenant);
			`,
		},
		{
			Version:     "002",
			Description: "Create record_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS record_logs (
					collection_id TEXT NOT NULL,
					log_offset INTEGER NOT NULL,
					timestamp INTEGER NOT NULL,
					record BLOB NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (collection_id, log_offset),
					FOREIGN KEY (collection_id) REFERENCES collections (id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_record_logs_timestamp ON record_logs(timestamp);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create collections table",
			SQL: `
				CREATE TABLE IF NOT EXISTS collections (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					tenant TEXT NOT NULL,
					db_name TEXT NOT NULL,
					dimension INTEGER,
					log_position BIGINT NOT NULL DEFAULT 0,
					record_count BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_placement
					ON collections(tenant, db_name, name);
				CREATE INDEX IF NOT EXISTS idx_collections_tenant ON collections(tenant);
			`,
		},
		{
			Version:     "002",
			Description: "Create record_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS record_logs (
					collection_id TEXT NOT NULL,
					log_offset BIGINT NOT NULL,
					timestamp BIGINT NOT NULL,
					record BYTEA NOT NULL,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					PRIMARY KEY (collection_id, log_offset),
					FOREIGN KEY (collection_id) REFERENCES collections (id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_record_logs_timestamp ON record_logs(timestamp);
			`,
		},
	}
}
