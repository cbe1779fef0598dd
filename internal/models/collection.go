package models

import "time"

// Collection is the coordinator-side metadata for one log stream
type Collection struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Tenant      string    `json:"tenant" db:"tenant"`
	Database    string    `json:"database" db:"database"`
	Dimension   *int32    `json:"dimension,omitempty" db:"dimension"`
	LogPosition int64     `json:"log_position" db:"log_position"` // highest compacted offset, 0 when none
	RecordCount int64     `json:"record_count" db:"record_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CollectionFilter narrows collection listings
type CollectionFilter struct {
	Tenant   *string `json:"tenant,omitempty"`
	Database *string `json:"database,omitempty"`
	Name     *string `json:"name,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

// DefaultTenant and DefaultDatabase are applied when a collection is
// created without explicit placement.
const (
	DefaultTenant   = "default_tenant"
	DefaultDatabase = "default_database"
)
