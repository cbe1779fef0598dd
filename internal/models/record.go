package models

import "time"

// RecordLog is a single appended record in a collection's log.
// Offsets are per-collection, monotonically increasing, and start at 1.
type RecordLog struct {
	CollectionID string    `json:"collection_id" db:"collection_id"`
	Offset       int64     `json:"offset" db:"offset"`
	Timestamp    int64     `json:"timestamp" db:"timestamp"` // unix nanos at append time
	Record       []byte    `json:"record" db:"record"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// LogFilter selects a window of a collection's log
type LogFilter struct {
	CollectionID string `json:"collection_id"`
	StartOffset  int64  `json:"start_offset"`
	BatchSize    int    `json:"batch_size"`
	EndTimestamp int64  `json:"end_timestamp,omitempty"` // 0 means unbounded
}

// CompactionCandidate identifies a collection with logs past its
// compacted position
type CompactionCandidate struct {
	CollectionID              string `json:"collection_id"`
	FirstUncompactedOffset    int64  `json:"first_uncompacted_offset"`
	FirstUncompactedTimestamp int64  `json:"first_uncompacted_timestamp"`
}
