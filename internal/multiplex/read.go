package multiplex

import (
	"context"
	"fmt"

	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/session"
)

type readResult struct {
	storeID model.StoreID
	value   *model.BlobValue
	present bool
	err     error
}

// Get reads the key, racing every main store and short-circuiting on
// the first value. A key is only reported absent when enough main
// stores confirm the absence without any of them failing; otherwise the
// read fails rather than risk a false absent.
func (m *Store) Get(ctx context.Context, key string) (*model.BlobValue, error) {
	sess := session.FromContext(ctx)
	if sess.QueueLookupOnGet {
		return m.getWithQueueLookup(ctx, key)
	}
	return m.getStrict(ctx, key)
}

func (m *Store) getStrict(ctx context.Context, key string) (*model.BlobValue, error) {
	value, _, errs := m.raceMainGets(ctx, key)
	if value != nil {
		return value, nil
	}

	// Main stores did not have it. Write-mostly stores are the last
	// chance before declaring absence.
	wmValue, wmErrs := m.readWriteMostly(ctx, key)
	if wmValue != nil {
		return wmValue, nil
	}

	if len(errs) == 0 {
		// Clean absent quorum. Write-mostly failures cannot turn a
		// confirmed absence into an error.
		return nil, nil
	}

	all := errs.clone()
	for id, err := range wmErrs {
		all[id] = err
	}
	m.countQuorumFailure("get")
	return nil, &GetQuorumError{Key: key, Errors: all}
}

// getWithQueueLookup trusts the sync queue to reveal in-flight writes.
// An empty queue means no write can be racing this read, so an absent
// answer is safe even when some stores failed. Entries mean a write may
// still be landing, so the read is retried once before the strict rules
// apply.
func (m *Store) getWithQueueLookup(ctx context.Context, key string) (*model.BlobValue, error) {
	entries, err := m.queue.Get(ctx, key)
	if err != nil {
		// Queue unavailable; fall back to the strict rules.
		return m.getStrict(ctx, key)
	}

	if len(entries) == 0 {
		value, absents, errs := m.raceMainGets(ctx, key)
		if value != nil {
			return value, nil
		}
		if wmValue, _ := m.readWriteMostly(ctx, key); wmValue != nil {
			return wmValue, nil
		}
		if absents > 0 {
			return nil, nil
		}
		m.countQuorumFailure("get")
		return nil, &GetQuorumError{Key: key, Errors: errs}
	}

	value, err := m.getStrict(ctx, key)
	if err != nil || value != nil {
		return value, err
	}
	// Entries exist, so a write was in flight; give it one more round
	// to land before trusting the absence.
	return m.getStrict(ctx, key)
}

// IsPresent checks for the key like Get does, racing the main stores
// and falling back to the write-mostly tier, but degrades to a
// "probably not present" answer instead of failing when some stores
// cannot be reached. It only returns an error when every main store
// failed and no write-mostly store holds the key.
func (m *Store) IsPresent(ctx context.Context, key string) (model.Presence, error) {
	sess := session.FromContext(ctx)

	present, absents, errs := m.raceMainPresence(ctx, key)
	if present {
		return model.Presence{State: model.PresentState}, nil
	}

	// Main stores did not have it; a write-mostly store holding the
	// blob is a definite answer no main-tier failure can override.
	if m.writeMostlyHas(ctx, key) {
		return model.Presence{State: model.PresentState}, nil
	}

	if len(errs) == len(m.main) {
		return model.Presence{}, errs
	}

	if len(errs) == 0 && absents >= m.notPresentReadQuorum {
		if sess.QueueLookupOnIsPresent {
			if p, pending := m.pendingWrites(ctx, key); pending {
				return p, nil
			}
		}
		return model.Presence{State: model.AbsentState}, nil
	}

	return model.Presence{State: model.ProbablyNotPresentState, Reason: errs}, nil
}

// pendingWrites reports whether the sync queue holds entries for the
// key, meaning a write is still being replicated and absence cannot be
// trusted yet.
func (m *Store) pendingWrites(ctx context.Context, key string) (model.Presence, bool) {
	entries, err := m.queue.Get(ctx, key)
	if err != nil {
		return model.Presence{
			State:  model.ProbablyNotPresentState,
			Reason: fmt.Errorf("sync queue lookup failed: %w", err),
		}, true
	}
	if len(entries) > 0 {
		return model.Presence{
			State:  model.ProbablyNotPresentState,
			Reason: fmt.Errorf("%d sync queue entries pending for key", len(entries)),
		}, true
	}
	return model.Presence{}, false
}

// raceMainGets fans a get out to every main store. It returns as soon
// as a value arrives, or as soon as enough stores cleanly confirm the
// absence, whichever happens first.
func (m *Store) raceMainGets(ctx context.Context, key string) (*model.BlobValue, int, ErrorMap) {
	results := make(chan readResult, len(m.main))
	for _, entry := range m.main {
		go func(entry StoreEntry) {
			value, err := entry.Store.Get(ctx, key)
			results <- readResult{storeID: entry.ID, value: value, err: err}
		}(entry)
	}

	absents := 0
	errs := make(ErrorMap)
	for range m.main {
		r := <-results
		if r.err != nil {
			errs[r.storeID] = r.err
			m.countStoreFailure(r.storeID, "get")
			continue
		}
		if r.value != nil {
			return r.value, absents, errs
		}
		absents++
		if absents >= m.notPresentReadQuorum && len(errs) == 0 {
			return nil, absents, errs
		}
	}
	return nil, absents, errs
}

func (m *Store) raceMainPresence(ctx context.Context, key string) (bool, int, ErrorMap) {
	results := make(chan readResult, len(m.main))
	for _, entry := range m.main {
		go func(entry StoreEntry) {
			present, err := entry.Store.IsPresent(ctx, key)
			results <- readResult{storeID: entry.ID, present: present, err: err}
		}(entry)
	}

	absents := 0
	errs := make(ErrorMap)
	for range m.main {
		r := <-results
		if r.err != nil {
			errs[r.storeID] = r.err
			m.countStoreFailure(r.storeID, "is_present")
			continue
		}
		if r.present {
			return true, absents, errs
		}
		absents++
		if absents >= m.notPresentReadQuorum && len(errs) == 0 {
			return false, absents, errs
		}
	}
	return false, absents, errs
}

// readWriteMostly races the write-mostly stores for a value. Their
// failures are reported separately so a clean main-tier absence is not
// poisoned by an unreachable fallback store.
func (m *Store) readWriteMostly(ctx context.Context, key string) (*model.BlobValue, ErrorMap) {
	if len(m.writeMostly) == 0 {
		return nil, nil
	}

	results := make(chan readResult, len(m.writeMostly))
	for _, entry := range m.writeMostly {
		go func(entry StoreEntry) {
			value, err := entry.Store.Get(ctx, key)
			results <- readResult{storeID: entry.ID, value: value, err: err}
		}(entry)
	}

	errs := make(ErrorMap)
	for range m.writeMostly {
		r := <-results
		if r.err != nil {
			errs[r.storeID] = r.err
			m.countStoreFailure(r.storeID, "get")
			continue
		}
		if r.value != nil {
			return r.value, errs
		}
	}
	return nil, errs
}

func (m *Store) writeMostlyHas(ctx context.Context, key string) bool {
	if len(m.writeMostly) == 0 {
		return false
	}

	results := make(chan readResult, len(m.writeMostly))
	for _, entry := range m.writeMostly {
		go func(entry StoreEntry) {
			present, err := entry.Store.IsPresent(ctx, key)
			results <- readResult{storeID: entry.ID, present: present, err: err}
		}(entry)
	}

	for range m.writeMostly {
		r := <-results
		if r.err == nil && r.present {
			return true
		}
	}
	return false
}
