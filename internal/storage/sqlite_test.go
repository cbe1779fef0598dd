package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Cassini-chris/chroma/internal/config"
	"github.com/Cassini-chris/chroma/internal/models"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	cfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "logstore.db"),
		MaxConnections:   10,
		MaxIdleTime:      time.Minute * 15,
	}

	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Connect(); err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate store: %v", err)
	}
	// Migrations are idempotent
	if err := store.Migrate(); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
	if err := store.Ping(); err != nil {
		t.Fatalf("Failed to ping store: %v", err)
	}

	t.Cleanup(func() { store.Close() })
	return store
}

func createTestCollection(t *testing.T, store Store, name string) *models.Collection {
	t.Helper()

	now := time.Now()
	collection := &models.Collection{
		ID:        uuid.NewString(),
		Name:      name,
		Tenant:    models.DefaultTenant,
		Database:  models.DefaultDatabase,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateCollection(context.Background(), collection); err != nil {
		t.Fatalf("Failed to create collection: %v", err)
	}
	return collection
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)

	t.Run("Collection Operations", func(t *testing.T) { testCollectionOperations(t, store) })
	t.Run("Push And Pull", func(t *testing.T) { testPushAndPull(t, store) })
	t.Run("Compaction Candidates", func(t *testing.T) { testCompactionCandidates(t, store) })
	t.Run("Log Position", func(t *testing.T) { testLogPosition(t, store) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, store) })
	t.Run("Statistics", func(t *testing.T) { testStatistics(t, store) })
}

func testCollectionOperations(t *testing.T, store Store) {
	ctx := context.Background()

	collection := createTestCollection(t, store, "test-collection")

	// Duplicate ID is a conflict
	err := store.CreateCollection(ctx, collection)
	if !utils.IsCode(err, utils.ErrCodeConflict) {
		t.Fatalf("Expected conflict error for duplicate ID, got %v", err)
	}

	retrieved, err := store.GetCollection(ctx, collection.ID)
	if err != nil {
		t.Fatalf("Failed to get collection: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Collection not found")
	}
	if retrieved.Name != collection.Name {
		t.Errorf("Expected name %s, got %s", collection.Name, retrieved.Name)
	}
	if retrieved.LogPosition != 0 {
		t.Errorf("Expected log position 0 for new collection, got %d", retrieved.LogPosition)
	}

	// Missing collection returns nil, not an error
	missing, err := store.GetCollection(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("Unexpected error for missing collection: %v", err)
	}
	if missing != nil {
		t.Fatal("Expected nil for missing collection")
	}

	// List with a tenant filter
	tenant := models.DefaultTenant
	collections, err := store.ListCollections(ctx, models.CollectionFilter{Tenant: &tenant})
	if err != nil {
		t.Fatalf("Failed to list collections: %v", err)
	}
	if len(collections) == 0 {
		t.Fatal("Expected at least one collection")
	}
	t.Logf("✓ Collection operations successful: %d collections", len(collections))
}

func testPushAndPull(t *testing.T, store Store) {
	ctx := context.Background()
	collection := createTestCollection(t, store, "push-pull")

	// Empty push is a no-op
	count, err := store.PushLogs(ctx, collection.ID, nil)
	if err != nil {
		t.Fatalf("Empty push failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 for empty push, got %d", count)
	}

	// Push to a missing collection is not-found
	_, err = store.PushLogs(ctx, uuid.NewString(), [][]byte{[]byte("x")})
	if !utils.IsCode(err, utils.ErrCodeNotFound) {
		t.Fatalf("Expected not-found error, got %v", err)
	}

	// First batch gets offsets 1..3
	count, err = store.PushLogs(ctx, collection.ID, [][]byte{
		[]byte("record-1"), []byte("record-2"), []byte("record-3"),
	})
	if err != nil {
		t.Fatalf("Failed to push logs: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 pushed records, got %d", count)
	}

	// Second batch continues from offset 4
	if _, err := store.PushLogs(ctx, collection.ID, [][]byte{[]byte("record-4")}); err != nil {
		t.Fatalf("Failed to push second batch: %v", err)
	}

	logs, err := store.PullLogs(ctx, models.LogFilter{CollectionID: collection.ID, StartOffset: 1})
	if err != nil {
		t.Fatalf("Failed to pull logs: %v", err)
	}
	if len(logs) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(logs))
	}
	for i, record := range logs {
		if record.Offset != int64(i+1) {
			t.Errorf("Expected offset %d, got %d", i+1, record.Offset)
		}
	}
	if string(logs[3].Record) != "record-4" {
		t.Errorf("Expected record-4 payload, got %s", logs[3].Record)
	}

	// Offset window and batch size
	logs, err = store.PullLogs(ctx, models.LogFilter{CollectionID: collection.ID, StartOffset: 2, BatchSize: 2})
	if err != nil {
		t.Fatalf("Failed to pull windowed logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Offset != 2 || logs[1].Offset != 3 {
		t.Fatalf("Expected offsets [2 3], got %+v", logs)
	}

	// End timestamp in the past excludes everything
	logs, err = store.PullLogs(ctx, models.LogFilter{CollectionID: collection.ID, StartOffset: 1, EndTimestamp: 1})
	if err != nil {
		t.Fatalf("Failed to pull with end timestamp: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("Expected no records before timestamp 1, got %d", len(logs))
	}

	// Pull from a missing collection is empty, not an error
	logs, err = store.PullLogs(ctx, models.LogFilter{CollectionID: uuid.NewString(), StartOffset: 1})
	if err != nil {
		t.Fatalf("Unexpected error for missing collection pull: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("Expected empty pull, got %d records", len(logs))
	}

	// Record count tracked on the collection
	updated, err := store.GetCollection(ctx, collection.ID)
	if err != nil {
		t.Fatalf("Failed to get collection: %v", err)
	}
	if updated.RecordCount != 4 {
		t.Errorf("Expected record count 4, got %d", updated.RecordCount)
	}

	t.Logf("✓ Push and pull successful")
}

func testCompactionCandidates(t *testing.T, store Store) {
	ctx := context.Background()

	compacted := createTestCollection(t, store, "fully-compacted")
	behind := createTestCollection(t, store, "behind")

	for _, c := range []*models.Collection{compacted, behind} {
		if _, err := store.PushLogs(ctx, c.ID, [][]byte{[]byte("a"), []byte("b")}); err != nil {
			t.Fatalf("Failed to push logs: %v", err)
		}
	}

	if err := store.UpdateCollectionLogPosition(ctx, compacted.ID, 2); err != nil {
		t.Fatalf("Failed to update log position: %v", err)
	}

	candidates, err := store.GetAllCollectionsToCompact(ctx)
	if err != nil {
		t.Fatalf("Failed to get compaction candidates: %v", err)
	}

	found := map[string]*models.CompactionCandidate{}
	for _, candidate := range candidates {
		found[candidate.CollectionID] = candidate
	}

	if _, ok := found[compacted.ID]; ok {
		t.Error("Fully compacted collection should not be a candidate")
	}
	candidate, ok := found[behind.ID]
	if !ok {
		t.Fatal("Collection with uncompacted logs missing from candidates")
	}
	if candidate.FirstUncompactedOffset != 1 {
		t.Errorf("Expected first uncompacted offset 1, got %d", candidate.FirstUncompactedOffset)
	}
	t.Logf("✓ Compaction candidates successful: %d candidates", len(candidates))
}

func testLogPosition(t *testing.T, store Store) {
	ctx := context.Background()
	collection := createTestCollection(t, store, "positions")

	if _, err := store.PushLogs(ctx, collection.ID, [][]byte{[]byte("a"), []byte("b"), []byte("c")}); err != nil {
		t.Fatalf("Failed to push logs: %v", err)
	}

	if err := store.UpdateCollectionLogPosition(ctx, collection.ID, 2); err != nil {
		t.Fatalf("Failed to advance log position: %v", err)
	}

	// Equal position is allowed
	if err := store.UpdateCollectionLogPosition(ctx, collection.ID, 2); err != nil {
		t.Fatalf("Equal log position rejected: %v", err)
	}

	// Regression is rejected
	err := store.UpdateCollectionLogPosition(ctx, collection.ID, 1)
	if !utils.IsCode(err, utils.ErrCodeValidation) {
		t.Fatalf("Expected validation error for position regression, got %v", err)
	}

	// Missing collection is not-found
	err = store.UpdateCollectionLogPosition(ctx, uuid.NewString(), 1)
	if !utils.IsCode(err, utils.ErrCodeNotFound) {
		t.Fatalf("Expected not-found error, got %v", err)
	}

	updated, err := store.GetCollection(ctx, collection.ID)
	if err != nil {
		t.Fatalf("Failed to get collection: %v", err)
	}
	if updated.LogPosition != 2 {
		t.Errorf("Expected log position 2, got %d", updated.LogPosition)
	}
	t.Logf("✓ Log position successful")
}

func testPurge(t *testing.T, store Store) {
	ctx := context.Background()
	collection := createTestCollection(t, store, "purge")

	if _, err := store.PushLogs(ctx, collection.ID, [][]byte{
		[]byte("a"), []byte("b"), []byte("c"), []byte("d"),
	}); err != nil {
		t.Fatalf("Failed to push logs: %v", err)
	}
	if err := store.UpdateCollectionLogPosition(ctx, collection.ID, 3); err != nil {
		t.Fatalf("Failed to update log position: %v", err)
	}

	purged, err := store.PurgeLogs(ctx, collection.ID)
	if err != nil {
		t.Fatalf("Failed to purge logs: %v", err)
	}
	if purged != 3 {
		t.Fatalf("Expected 3 purged records, got %d", purged)
	}

	logs, err := store.PullLogs(ctx, models.LogFilter{CollectionID: collection.ID, StartOffset: 1})
	if err != nil {
		t.Fatalf("Failed to pull after purge: %v", err)
	}
	if len(logs) != 1 || logs[0].Offset != 4 {
		t.Fatalf("Expected only offset 4 to survive the purge, got %+v", logs)
	}

	// Offsets continue past the purge, not from the stored maximum
	if _, err := store.PushLogs(ctx, collection.ID, [][]byte{[]byte("e")}); err != nil {
		t.Fatalf("Failed to push after purge: %v", err)
	}
	logs, err = store.PullLogs(ctx, models.LogFilter{CollectionID: collection.ID, StartOffset: 5})
	if err != nil {
		t.Fatalf("Failed to pull new record: %v", err)
	}
	if len(logs) != 1 || logs[0].Offset != 5 {
		t.Fatalf("Expected offset 5 after purge, got %+v", logs)
	}

	// Purging a missing collection is not-found
	if _, err := store.PurgeLogs(ctx, uuid.NewString()); !utils.IsCode(err, utils.ErrCodeNotFound) {
		t.Fatalf("Expected not-found error, got %v", err)
	}

	// Sweep across every collection
	if _, err := store.PurgeAllLogs(ctx); err != nil {
		t.Fatalf("Failed to purge all logs: %v", err)
	}
	t.Logf("✓ Purge successful")
}

func testStatistics(t *testing.T, store Store) {
	ctx := context.Background()
	collection := createTestCollection(t, store, "stats")

	if _, err := store.PushLogs(ctx, collection.ID, [][]byte{[]byte("a")}); err != nil {
		t.Fatalf("Failed to push logs: %v", err)
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalCollections == 0 {
		t.Error("Expected at least one collection in stats")
	}
	if stats.TotalRecords == 0 {
		t.Error("Expected at least one record in stats")
	}

	health := store.GetHealth()
	if !health.Healthy {
		t.Errorf("Expected healthy store, got %+v", health)
	}

	// Delete cascades logs
	if err := store.DeleteCollection(ctx, collection.ID); err != nil {
		t.Fatalf("Failed to delete collection: %v", err)
	}
	logs, err := store.PullLogs(ctx, models.LogFilter{CollectionID: collection.ID, StartOffset: 1})
	if err != nil {
		t.Fatalf("Failed to pull after delete: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("Expected logs to cascade on delete, got %d", len(logs))
	}
	t.Logf("✓ Statistics successful")
}
