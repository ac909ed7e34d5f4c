package healer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/blobstore"
	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/syncqueue"
)

type fixture struct {
	source *blobstore.MemoryStore
	target *blobstore.MemoryStore
	queue  *syncqueue.MemoryQueue
	healer *Healer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		source: blobstore.NewMemoryStore(),
		target: blobstore.NewMemoryStore(),
		queue:  syncqueue.NewMemoryQueue(),
	}
	cfg.Queue = f.queue
	cfg.Stores = map[model.StoreID]blobstore.Store{
		0: f.source,
		1: f.target,
	}
	cfg.Logger = zap.NewNop()
	f.healer = New(cfg)
	t.Cleanup(f.healer.Stop)
	return f
}

func (f *fixture) addGap(t *testing.T, key string, storeID model.StoreID) *model.SyncEntry {
	t.Helper()
	entry := model.NewSyncEntry(key, storeID, 1, model.NewOperationKey(), 2)
	require.NoError(t, f.queue.Add(context.Background(), entry))
	return entry
}

func TestRunOnceHealsRecordedGap(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.source.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))
	f.addGap(t, "k1", 1)

	require.NoError(t, f.healer.RunOnce(context.Background()))

	got, err := f.target.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got, "gap target must receive the blob")
	assert.Equal(t, []byte("v1"), got.Data)
	assert.Equal(t, 0, f.queue.Len(), "healed entry is retired")
}

func TestRunOnceRetiresAlreadyPresentEntry(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.source.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))
	require.NoError(t, f.target.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))
	f.addGap(t, "k1", 1)

	require.NoError(t, f.healer.RunOnce(context.Background()))
	assert.Equal(t, 0, f.queue.Len())
}

func TestRunOnceKeepsEntryWithoutSource(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGap(t, "k1", 1)

	require.NoError(t, f.healer.RunOnce(context.Background()))

	assert.Equal(t, 1, f.queue.Len(), "unhealable entry stays for the next pass")
	present, err := f.target.IsPresent(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRunOnceRetiresEntryForUnknownStore(t *testing.T) {
	f := newFixture(t, Config{})
	f.addGap(t, "k1", 99)

	require.NoError(t, f.healer.RunOnce(context.Background()))
	assert.Equal(t, 0, f.queue.Len())
}

func TestRunOnceDropsExpiredEntries(t *testing.T) {
	f := newFixture(t, Config{EntryTTL: time.Hour})
	require.NoError(t, f.source.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))

	stale := model.NewSyncEntry("k1", 1, 1, model.NewOperationKey(), 2)
	stale.Timestamp = time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.queue.Add(context.Background(), stale))

	require.NoError(t, f.healer.RunOnce(context.Background()))

	assert.Equal(t, 0, f.queue.Len(), "expired entry is dropped without healing")
	present, err := f.target.IsPresent(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRunOnceHealsMultipleKeysAndStores(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	require.NoError(t, f.source.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))
	require.NoError(t, f.target.Put(context.Background(), "k2", model.NewBlobValue([]byte("v2"))))
	f.addGap(t, "k1", 1)
	f.addGap(t, "k2", 0)

	require.NoError(t, f.healer.RunOnce(context.Background()))

	assert.Equal(t, 0, f.queue.Len())
	got, err := f.target.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	got, err = f.source.Get(context.Background(), "k2")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestStartDrainsQueuePeriodically(t *testing.T) {
	f := newFixture(t, Config{Interval: 20 * time.Millisecond})
	require.NoError(t, f.source.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))
	f.addGap(t, "k1", 1)

	f.healer.Start()

	require.Eventually(t, func() bool {
		return f.queue.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
