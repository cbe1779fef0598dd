package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cassini-chris/chroma/internal/config"
	"github.com/Cassini-chris/chroma/internal/models"
	"github.com/Cassini-chris/chroma/internal/storage"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

func newTestCoordinator(t *testing.T) (*Coordinator, storage.Store) {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	store, err := storage.NewStore(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "coordinator.db"),
		MaxConnections:   10,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return NewCoordinator(&Config{}, store, nil), store
}

func TestCreateCollection(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	collection, err := coord.CreateCollection(ctx, &CreateCollectionRequest{Name: "embeddings"})
	require.NoError(t, err)

	// Missing fields are generated or defaulted
	_, err = uuid.Parse(collection.ID)
	assert.NoError(t, err, "generated ID is a uuid")
	assert.Equal(t, models.DefaultTenant, collection.Tenant)
	assert.Equal(t, models.DefaultDatabase, collection.Database)
	assert.Equal(t, int64(0), collection.LogPosition)

	// Supplied ID is kept
	id := uuid.NewString()
	created, err := coord.CreateCollection(ctx, &CreateCollectionRequest{ID: id, Name: "explicit"})
	require.NoError(t, err)
	assert.Equal(t, id, created.ID)

	// Duplicate ID is a conflict
	_, err = coord.CreateCollection(ctx, &CreateCollectionRequest{ID: id, Name: "other"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConflict))

	// Validation failures
	_, err = coord.CreateCollection(ctx, &CreateCollectionRequest{Name: ""})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	_, err = coord.CreateCollection(ctx, &CreateCollectionRequest{ID: "not-a-uuid", Name: "bad"})
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	stats := coord.GetStats()
	assert.Equal(t, int64(2), stats.CollectionsCreated)
}

func TestGetAndListCollections(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	created, err := coord.CreateCollection(ctx, &CreateCollectionRequest{Name: "lookup"})
	require.NoError(t, err)

	got, err := coord.GetCollection(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)

	_, err = coord.GetCollection(ctx, uuid.NewString())
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

	_, err = coord.GetCollection(ctx, "not-a-uuid")
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	collections, err := coord.ListCollections(ctx, models.CollectionFilter{})
	require.NoError(t, err)
	assert.Len(t, collections, 1)
}

func TestDeleteCollection(t *testing.T) {
	coord, store := newTestCoordinator(t)
	ctx := context.Background()

	created, err := coord.CreateCollection(ctx, &CreateCollectionRequest{Name: "doomed"})
	require.NoError(t, err)

	_, err = store.PushLogs(ctx, created.ID, [][]byte{[]byte("a")})
	require.NoError(t, err)

	require.NoError(t, coord.DeleteCollection(ctx, created.ID))

	_, err = coord.GetCollection(ctx, created.ID)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

	// Logs went with the collection
	logs, err := store.PullLogs(ctx, models.LogFilter{CollectionID: created.ID, StartOffset: 1})
	require.NoError(t, err)
	assert.Empty(t, logs)

	err = coord.DeleteCollection(ctx, uuid.NewString())
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))
}

func TestFlushCompaction(t *testing.T) {
	coord, store := newTestCoordinator(t)
	ctx := context.Background()

	created, err := coord.CreateCollection(ctx, &CreateCollectionRequest{Name: "compacted"})
	require.NoError(t, err)

	_, err = store.PushLogs(ctx, created.ID, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)

	require.NoError(t, coord.FlushCompaction(ctx, created.ID, 2))

	got, err := coord.GetCollection(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.LogPosition)

	// The position never moves backwards
	err = coord.FlushCompaction(ctx, created.ID, 1)
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	err = coord.FlushCompaction(ctx, created.ID, -1)
	assert.True(t, utils.IsCode(err, utils.ErrCodeValidation))

	err = coord.FlushCompaction(ctx, uuid.NewString(), 1)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

	stats := coord.GetStats()
	assert.Equal(t, int64(1), stats.CompactionFlushes)
}

func TestCoordinatorHealth(t *testing.T) {
	coord, store := newTestCoordinator(t)

	health := coord.GetHealth()
	assert.True(t, health.Healthy)

	store.Close()
	health = coord.GetHealth()
	assert.False(t, health.Healthy)
}
