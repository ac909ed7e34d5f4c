// Package multiplex fans blob operations out across a set of backing
// stores and resolves them by quorum. Writes that cannot reach every
// store leave durable gap entries in the sync queue for the healer to
// repair later.
package multiplex

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/blobstore"
	"github.com/blobmux/blobmux/internal/metrics"
	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/syncqueue"
)

// StoreEntry binds a backing store to its configured identity.
type StoreEntry struct {
	ID    model.StoreID
	Store blobstore.Store
}

// Config describes one multiplex: its stores, quorum numbers, and
// supporting services.
type Config struct {
	MultiplexID model.MultiplexID

	// Main stores serve ordinary reads. WriteMostly stores receive
	// every put but are read only as a fallback or during scrubbing.
	Main        []StoreEntry
	WriteMostly []StoreEntry

	// MinSuccessfulWrites is the number of stores that must confirm a
	// put before it resolves. Write-mostly confirmations count.
	MinSuccessfulWrites int
	// NotPresentReadQuorum is the number of main stores that must
	// report a key absent before a read trusts the absence.
	NotPresentReadQuorum int

	Queue   syncqueue.Queue
	Handler PutHandler
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Store is the quorum-multiplexed blobstore. It implements
// blobstore.Store over the configured set of backing stores.
type Store struct {
	multiplexID model.MultiplexID
	main        []StoreEntry
	writeMostly []StoreEntry
	all         []tierEntry

	minSuccessfulWrites  int
	notPresentReadQuorum int

	queue   syncqueue.Queue
	handler PutHandler
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type tierEntry struct {
	StoreEntry
	tier model.Tier
}

// New validates the configuration and builds the multiplex.
func New(cfg Config) (*Store, error) {
	if len(cfg.Main) == 0 {
		return nil, fmt.Errorf("multiplex %s: at least one main store is required", cfg.MultiplexID)
	}
	if cfg.MinSuccessfulWrites < 1 || cfg.MinSuccessfulWrites > len(cfg.Main) {
		return nil, fmt.Errorf("multiplex %s: minimum successful writes %d must be between 1 and %d",
			cfg.MultiplexID, cfg.MinSuccessfulWrites, len(cfg.Main))
	}
	if cfg.NotPresentReadQuorum < 1 || cfg.NotPresentReadQuorum > len(cfg.Main) {
		return nil, fmt.Errorf("multiplex %s: not-present read quorum %d must be between 1 and %d",
			cfg.MultiplexID, cfg.NotPresentReadQuorum, len(cfg.Main))
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("multiplex %s: sync queue is required", cfg.MultiplexID)
	}

	seen := make(map[model.StoreID]struct{}, len(cfg.Main)+len(cfg.WriteMostly))
	all := make([]tierEntry, 0, len(cfg.Main)+len(cfg.WriteMostly))
	for _, entry := range cfg.Main {
		if _, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("multiplex %s: duplicate store id %s", cfg.MultiplexID, entry.ID)
		}
		seen[entry.ID] = struct{}{}
		all = append(all, tierEntry{StoreEntry: entry, tier: model.TierMain})
	}
	for _, entry := range cfg.WriteMostly {
		if _, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("multiplex %s: duplicate store id %s", cfg.MultiplexID, entry.ID)
		}
		seen[entry.ID] = struct{}{}
		all = append(all, tierEntry{StoreEntry: entry, tier: model.TierWriteMostly})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		multiplexID:          cfg.MultiplexID,
		main:                 cfg.Main,
		writeMostly:          cfg.WriteMostly,
		all:                  all,
		minSuccessfulWrites:  cfg.MinSuccessfulWrites,
		notPresentReadQuorum: cfg.NotPresentReadQuorum,
		queue:                cfg.Queue,
		handler:              cfg.Handler,
		logger:               logger,
		metrics:              cfg.Metrics,
	}, nil
}

// MultiplexID returns the configured multiplex identity.
func (m *Store) MultiplexID() model.MultiplexID { return m.multiplexID }

func (m *Store) storeByID(id model.StoreID) blobstore.Store {
	for _, entry := range m.all {
		if entry.ID == id {
			return entry.Store
		}
	}
	return nil
}

func (m *Store) countStoreFailure(id model.StoreID, operation string) {
	if m.metrics != nil {
		m.metrics.StoreFailures.WithLabelValues(id.String(), operation).Inc()
	}
}

func (m *Store) countQuorumFailure(operation string) {
	if m.metrics != nil {
		m.metrics.QuorumFailures.WithLabelValues(operation).Inc()
	}
}
