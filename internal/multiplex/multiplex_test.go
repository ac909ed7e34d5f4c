package multiplex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobmux/blobmux/internal/blobstore"
	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/session"
	"github.com/blobmux/blobmux/internal/syncqueue"
)

var errStoreDown = errors.New("store down")

// failStore fails every operation.
type failStore struct{}

func (s *failStore) Get(context.Context, string) (*model.BlobValue, error) {
	return nil, errStoreDown
}

func (s *failStore) Put(context.Context, string, model.BlobValue) error {
	return errStoreDown
}

func (s *failStore) PutWithBehaviour(context.Context, string, model.BlobValue, model.PutBehaviour) (model.OverwriteStatus, error) {
	return model.OverwriteNotChecked, errStoreDown
}

func (s *failStore) IsPresent(context.Context, string) (bool, error) {
	return false, errStoreDown
}

// slowStore delays every operation before delegating.
type slowStore struct {
	inner blobstore.Store
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, key string) (*model.BlobValue, error) {
	time.Sleep(s.delay)
	return s.inner.Get(ctx, key)
}

func (s *slowStore) Put(ctx context.Context, key string, value model.BlobValue) error {
	time.Sleep(s.delay)
	return s.inner.Put(ctx, key, value)
}

func (s *slowStore) PutWithBehaviour(ctx context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error) {
	time.Sleep(s.delay)
	return s.inner.PutWithBehaviour(ctx, key, value, behaviour)
}

func (s *slowStore) IsPresent(ctx context.Context, key string) (bool, error) {
	time.Sleep(s.delay)
	return s.inner.IsPresent(ctx, key)
}

// absentThenPresentStore reports the key absent a fixed number of times
// before delegating.
type absentThenPresentStore struct {
	inner   blobstore.Store
	mu      sync.Mutex
	remains int
}

func (s *absentThenPresentStore) Get(ctx context.Context, key string) (*model.BlobValue, error) {
	s.mu.Lock()
	if s.remains > 0 {
		s.remains--
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()
	return s.inner.Get(ctx, key)
}

func (s *absentThenPresentStore) Put(ctx context.Context, key string, value model.BlobValue) error {
	return s.inner.Put(ctx, key, value)
}

func (s *absentThenPresentStore) PutWithBehaviour(ctx context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error) {
	return s.inner.PutWithBehaviour(ctx, key, value, behaviour)
}

func (s *absentThenPresentStore) IsPresent(ctx context.Context, key string) (bool, error) {
	return s.inner.IsPresent(ctx, key)
}

// recordingHandler records per-store put notifications and can fail
// selected stores.
type recordingHandler struct {
	mu      sync.Mutex
	calls   []model.StoreID
	opKeys  map[model.OperationKey]bool
	failFor map[model.StoreID]error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opKeys:  make(map[model.OperationKey]bool),
		failFor: make(map[model.StoreID]error),
	}
}

func (h *recordingHandler) OnPut(_ context.Context, storeID model.StoreID, _ model.MultiplexID, opKey model.OperationKey, _ string, _ uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, storeID)
	h.opKeys[opKey] = true
	return h.failFor[storeID]
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// failingQueue fails writes while delegating reads.
type failingQueue struct {
	*syncqueue.MemoryQueue
	addErr error
}

func (q *failingQueue) Add(ctx context.Context, entry *model.SyncEntry) error {
	if q.addErr != nil {
		return q.addErr
	}
	return q.MemoryQueue.Add(ctx, entry)
}

func (q *failingQueue) AddMany(ctx context.Context, entries []*model.SyncEntry) error {
	if q.addErr != nil {
		return q.addErr
	}
	return q.MemoryQueue.AddMany(ctx, entries)
}

func entries(stores []blobstore.Store) []StoreEntry {
	out := make([]StoreEntry, len(stores))
	for i, store := range stores {
		out[i] = StoreEntry{ID: model.StoreID(i), Store: store}
	}
	return out
}

func wmEntries(offset int, stores []blobstore.Store) []StoreEntry {
	out := make([]StoreEntry, len(stores))
	for i, store := range stores {
		out[i] = StoreEntry{ID: model.StoreID(offset + i), Store: store}
	}
	return out
}

func newTestMux(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.MultiplexID == 0 {
		cfg.MultiplexID = 1
	}
	if cfg.Queue == nil {
		cfg.Queue = syncqueue.NewMemoryQueue()
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func bgCtx() context.Context {
	return session.NewContext(context.Background(), session.Session{Class: session.ClassBackground})
}

func TestNewValidation(t *testing.T) {
	mains := entries([]blobstore.Store{blobstore.NewMemoryStore(), blobstore.NewMemoryStore()})
	queue := syncqueue.NewMemoryQueue()

	_, err := New(Config{Main: nil, MinSuccessfulWrites: 1, NotPresentReadQuorum: 1, Queue: queue})
	assert.Error(t, err, "no main stores")

	_, err = New(Config{Main: mains, MinSuccessfulWrites: 0, NotPresentReadQuorum: 1, Queue: queue})
	assert.Error(t, err, "zero write quorum")

	_, err = New(Config{Main: mains, MinSuccessfulWrites: 3, NotPresentReadQuorum: 1, Queue: queue})
	assert.Error(t, err, "write quorum above main count")

	_, err = New(Config{Main: mains, MinSuccessfulWrites: 1, NotPresentReadQuorum: 0, Queue: queue})
	assert.Error(t, err, "zero read quorum")

	_, err = New(Config{Main: mains, MinSuccessfulWrites: 1, NotPresentReadQuorum: 3, Queue: queue})
	assert.Error(t, err, "read quorum above main count")

	_, err = New(Config{Main: mains, MinSuccessfulWrites: 1, NotPresentReadQuorum: 1})
	assert.Error(t, err, "nil queue")

	// Write-mostly stores do not raise the write quorum ceiling, and
	// store IDs must be unique across tiers.
	wm := wmEntries(0, []blobstore.Store{blobstore.NewMemoryStore()})
	_, err = New(Config{Main: mains, WriteMostly: wm, MinSuccessfulWrites: 1, NotPresentReadQuorum: 1, Queue: queue})
	assert.Error(t, err, "duplicate store id")

	wm = wmEntries(2, []blobstore.Store{blobstore.NewMemoryStore()})
	m, err := New(Config{Main: mains, WriteMostly: wm, MinSuccessfulWrites: 2, NotPresentReadQuorum: 2, Queue: queue})
	require.NoError(t, err)
	assert.Equal(t, model.MultiplexID(0), m.MultiplexID())
}

func TestPutReachesEveryStore(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	bs1 := blobstore.NewMemoryStore()
	wm := blobstore.NewMemoryStore()
	queue := syncqueue.NewMemoryQueue()

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, bs1}),
		WriteMostly:          wmEntries(2, []blobstore.Store{wm}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
		Queue:                queue,
	})

	require.NoError(t, m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))))

	for _, store := range []*blobstore.MemoryStore{bs0, bs1, wm} {
		got, err := store.Get(context.Background(), "k1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []byte("v1"), got.Data)
	}
	assert.Equal(t, 0, queue.Len(), "clean put leaves no queue entries")
}

func TestPutQuorumWithFailedStore(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	bs1 := blobstore.NewMemoryStore()
	queue := syncqueue.NewMemoryQueue()

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, bs1, &failStore{}}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
		Queue:                queue,
	})

	require.NoError(t, m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))))

	recorded, err := queue.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, model.StoreID(2), recorded[0].BlobstoreID)
	assert.Equal(t, "k1", recorded[0].BlobstoreKey)
	assert.False(t, recorded[0].OperationKey.IsNull())
}

func TestPutAllStoresFail(t *testing.T) {
	queue := syncqueue.NewMemoryQueue()
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{&failStore{}, &failStore{}}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 1,
		Queue:                queue,
	})

	err := m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1")))
	require.Error(t, err)

	var putErr *PutQuorumError
	require.ErrorAs(t, err, &putErr)
	assert.Equal(t, 0, putErr.Confirmed)
	assert.Len(t, putErr.Errors, 2)
	assert.Equal(t, 0, queue.Len(), "no replica holds the bytes, nothing to heal")
}

func TestPutUnderQuorumFallsBackToQueue(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	queue := syncqueue.NewMemoryQueue()

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, &failStore{}, &failStore{}}),
		MinSuccessfulWrites:  3,
		NotPresentReadQuorum: 1,
		Queue:                queue,
	})

	require.NoError(t, m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))))

	recorded, err := queue.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, recorded[0].OperationKey, recorded[1].OperationKey,
		"gaps from one put share an operation key")
	assert.False(t, recorded[0].OperationKey.IsNull())
	assert.ElementsMatch(t,
		[]model.StoreID{recorded[0].BlobstoreID, recorded[1].BlobstoreID},
		[]model.StoreID{1, 2})
}

func TestPutUnderQuorumQueueFailureFailsPut(t *testing.T) {
	queue := &failingQueue{MemoryQueue: syncqueue.NewMemoryQueue(), addErr: errors.New("queue down")}

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), &failStore{}, &failStore{}}),
		MinSuccessfulWrites:  3,
		NotPresentReadQuorum: 1,
		Queue:                queue,
	})

	err := m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1")))
	var putErr *PutQuorumError
	require.ErrorAs(t, err, &putErr)
}

func TestPutHandlersSkippedWhenEveryStoreSucceeds(t *testing.T) {
	handler := newRecordingHandler()
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), blobstore.NewMemoryStore()}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
		Handler:              handler,
	})

	require.NoError(t, m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))))
	assert.Equal(t, 0, handler.callCount())
}

func TestPutHandlersInvokedWhenAStoreFails(t *testing.T) {
	handler := newRecordingHandler()
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), blobstore.NewMemoryStore(), &failStore{}}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
		Handler:              handler,
	})

	require.NoError(t, m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))))

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.ElementsMatch(t, []model.StoreID{0, 1}, handler.calls)
	assert.Len(t, handler.opKeys, 1, "both notifications carry the same operation key")
}

func TestPutHandlerFailureCountsAgainstQuorum(t *testing.T) {
	handler := newRecordingHandler()
	handler.failFor[1] = errors.New("handler down")
	queue := syncqueue.NewMemoryQueue()

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{&failStore{}, blobstore.NewMemoryStore(), blobstore.NewMemoryStore()}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
		Handler:              handler,
		Queue:                queue,
	})

	// Confirmed stores: only store 2 (store 0 failed its put, store 1
	// its handler). Under quorum, but the bytes exist and the gaps are
	// queued, so the put still succeeds.
	require.NoError(t, m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))))

	recorded, err := queue.Get(context.Background(), "k1")
	require.NoError(t, err)
	ids := make([]model.StoreID, 0, len(recorded))
	for _, entry := range recorded {
		ids = append(ids, entry.BlobstoreID)
	}
	assert.ElementsMatch(t, []model.StoreID{0, 1}, ids)

	// With the queue down the same put must fail.
	badQueue := &failingQueue{MemoryQueue: syncqueue.NewMemoryQueue(), addErr: errors.New("queue down")}
	handler2 := newRecordingHandler()
	handler2.failFor[1] = errors.New("handler down")
	m2 := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{&failStore{}, blobstore.NewMemoryStore(), blobstore.NewMemoryStore()}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
		Handler:              handler2,
		Queue:                badQueue,
	})
	var putErr *PutQuorumError
	require.ErrorAs(t, m2.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))), &putErr)
}

func TestPutIfAbsentReportsPrevented(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	bs1 := blobstore.NewMemoryStore()
	require.NoError(t, bs0.Put(context.Background(), "k1", model.NewBlobValue([]byte("old"))))
	require.NoError(t, bs1.Put(context.Background(), "k1", model.NewBlobValue([]byte("old"))))

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, bs1}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
	})

	status, err := m.PutWithBehaviour(bgCtx(), "k1", model.NewBlobValue([]byte("new")), model.PutIfAbsent)
	require.NoError(t, err)
	assert.Equal(t, model.OverwritePrevented, status)

	got, err := bs0.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got.Data)
}

func TestGetShortCircuitsOnFirstValue(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	require.NoError(t, bs0.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, &failStore{}, &slowStore{inner: blobstore.NewMemoryStore(), delay: 50 * time.Millisecond}}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 3,
	})

	got, err := m.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v1"), got.Data)
}

func TestGetCleanAbsent(t *testing.T) {
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), blobstore.NewMemoryStore()}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
	})

	got, err := m.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetErrorIsNeverReportedAsAbsent(t *testing.T) {
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), &failStore{}}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
	})

	_, err := m.Get(context.Background(), "missing")
	require.Error(t, err)

	var getErr *GetQuorumError
	require.ErrorAs(t, err, &getErr)
	assert.Contains(t, getErr.Errors, model.StoreID(1))
}

func TestGetFallsBackToWriteMostly(t *testing.T) {
	wm := blobstore.NewMemoryStore()
	require.NoError(t, wm.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), blobstore.NewMemoryStore()}),
		WriteMostly:          wmEntries(2, []blobstore.Store{wm}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
	})

	got, err := m.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v1"), got.Data)
}

func TestWriteMostlyFailureDoesNotPoisonCleanAbsent(t *testing.T) {
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), blobstore.NewMemoryStore()}),
		WriteMostly:          wmEntries(2, []blobstore.Store{&failStore{}}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
	})

	got, err := m.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetQueueLookupEmptyQueueTrustsAbsent(t *testing.T) {
	queue := syncqueue.NewMemoryQueue()
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), &failStore{}}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
		Queue:                queue,
	})

	ctx := session.NewContext(context.Background(), session.Session{QueueLookupOnGet: true})
	got, err := m.Get(ctx, "missing")
	require.NoError(t, err, "empty queue proves no write is racing this read")
	assert.Nil(t, got)
}

func TestGetQueueLookupEntriesTriggerRetry(t *testing.T) {
	inner := blobstore.NewMemoryStore()
	require.NoError(t, inner.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))
	store := &absentThenPresentStore{inner: inner, remains: 1}

	queue := syncqueue.NewMemoryQueue()
	require.NoError(t, queue.Add(context.Background(),
		model.NewSyncEntry("k1", 0, 1, model.NewOperationKey(), 2)))

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{store}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 1,
		Queue:                queue,
	})

	ctx := session.NewContext(context.Background(), session.Session{QueueLookupOnGet: true})
	got, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got, "pending queue entry buys the in-flight write one retry")
	assert.Equal(t, []byte("v1"), got.Data)
}

func TestIsPresentStates(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	require.NoError(t, bs0.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))

	present := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, blobstore.NewMemoryStore()}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 2,
	})
	p, err := present.IsPresent(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, model.PresentState, p.State)
	assert.True(t, p.Present())

	p, err = present.IsPresent(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, model.AbsentState, p.State)
	assert.True(t, p.AssumeNotFoundIfUnsure())

	degraded := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), &failStore{}}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 2,
	})
	p, err = degraded.IsPresent(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, model.ProbablyNotPresentState, p.State)
	assert.Error(t, p.Reason)
	assert.True(t, p.AssumeNotFoundIfUnsure())

	dead := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{&failStore{}, &failStore{}}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 2,
	})
	_, err = dead.IsPresent(context.Background(), "missing")
	assert.Error(t, err, "every store failed, there is no answer to degrade to")
}

func TestIsPresentConsultsWriteMostly(t *testing.T) {
	wm := blobstore.NewMemoryStore()
	require.NoError(t, wm.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore()}),
		WriteMostly:          wmEntries(1, []blobstore.Store{wm}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 1,
	})

	p, err := m.IsPresent(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, model.PresentState, p.State)
}

func TestIsPresentWriteMostlyOverridesDegradedMains(t *testing.T) {
	wm := blobstore.NewMemoryStore()
	require.NoError(t, wm.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))

	// One main is empty and one is down; the write-mostly store still
	// holds a definite answer, exactly as it does for Get.
	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore(), &failStore{}}),
		WriteMostly:          wmEntries(2, []blobstore.Store{wm}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
	})

	got, err := m.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)

	p, err := m.IsPresent(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, model.PresentState, p.State)

	// Even with every main down the write-mostly answer wins.
	dead := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{&failStore{}, &failStore{}}),
		WriteMostly:          wmEntries(2, []blobstore.Store{wm}),
		MinSuccessfulWrites:  2,
		NotPresentReadQuorum: 2,
	})
	p, err = dead.IsPresent(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, model.PresentState, p.State)
}

func TestPutWriteMostlySuccessCountsTowardQuorum(t *testing.T) {
	wm := blobstore.NewMemoryStore()
	queue := syncqueue.NewMemoryQueue()

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{&failStore{}}),
		WriteMostly:          wmEntries(1, []blobstore.Store{wm}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 1,
		Queue:                queue,
	})

	require.NoError(t, m.Put(bgCtx(), "k1", model.NewBlobValue([]byte("v1"))),
		"a write-mostly confirmation satisfies the write quorum")

	got, err := m.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v1"), got.Data)

	recorded, err := queue.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, model.StoreID(0), recorded[0].BlobstoreID)
}

func TestIsPresentQueueLookupFlagsPendingWrites(t *testing.T) {
	queue := syncqueue.NewMemoryQueue()
	require.NoError(t, queue.Add(context.Background(),
		model.NewSyncEntry("k1", 0, 1, model.NewOperationKey(), 2)))

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{blobstore.NewMemoryStore()}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 1,
		Queue:                queue,
	})

	ctx := session.NewContext(context.Background(), session.Session{QueueLookupOnIsPresent: true})
	p, err := m.IsPresent(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, model.ProbablyNotPresentState, p.State)
	assert.Error(t, p.Reason)

	// Without the flag the same state reads as a clean absence.
	p, err = m.IsPresent(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, model.AbsentState, p.State)
}

func TestBackgroundUnlessTooSlowDetachesStragglers(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	slowInner := blobstore.NewMemoryStore()
	slow := &slowStore{inner: slowInner, delay: 300 * time.Millisecond}

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, slow}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 1,
	})

	ctx := session.NewContext(context.Background(), session.Session{
		Class:             session.ClassBackgroundUnlessTooSlow,
		BackgroundTimeout: 30 * time.Millisecond,
	})

	start := time.Now()
	require.NoError(t, m.Put(ctx, "k1", model.NewBlobValue([]byte("v1"))))
	assert.Less(t, time.Since(start), 250*time.Millisecond,
		"put must detach from the slow store after the bounded wait")

	// The detached write still lands.
	require.Eventually(t, func() bool {
		present, err := slowInner.IsPresent(context.Background(), "k1")
		return err == nil && present
	}, 2*time.Second, 10*time.Millisecond)
}

func TestForegroundResolvesAtQuorum(t *testing.T) {
	bs0 := blobstore.NewMemoryStore()
	slowInner := blobstore.NewMemoryStore()
	slow := &slowStore{inner: slowInner, delay: 300 * time.Millisecond}

	m := newTestMux(t, Config{
		Main:                 entries([]blobstore.Store{bs0, slow}),
		MinSuccessfulWrites:  1,
		NotPresentReadQuorum: 1,
	})

	start := time.Now()
	require.NoError(t, m.Put(context.Background(), "k1", model.NewBlobValue([]byte("v1"))))
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	require.Eventually(t, func() bool {
		present, err := slowInner.IsPresent(context.Background(), "k1")
		return err == nil && present
	}, 2*time.Second, 10*time.Millisecond)
}

func TestErrorMapRendersSorted(t *testing.T) {
	m := ErrorMap{
		model.StoreID(2): errors.New("two"),
		model.StoreID(0): errors.New("zero"),
		model.StoreID(1): errors.New("one"),
	}
	assert.Equal(t, "store-0: zero; store-1: one; store-2: two", m.Error())
	assert.Error(t, m.Combined())
}
